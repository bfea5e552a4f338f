package analysis

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/model"
)

const boundTolerance = 1e-9

// RunAnalyzer validates raw against a's input alphabet, invokes it, and
// materializes the candidates as features attributed to id.
func RunAnalyzer(ctx context.Context, id string, a Analyzer, raw, seqID string, tolerance float64) ([]model.GenomicFeature, error) {
	d := a.Describe()
	if err := ValidateDescriptor(d); err != nil {
		return nil, eris.Wrapf(err, "analyzer %s", id)
	}

	seq, err := Validator{Alphabet: AlphabetFor(d.InputScale), Tolerance: tolerance}.Validate(raw, seqID)
	if err != nil {
		return nil, eris.Wrapf(err, "analyzer %s", id)
	}

	cands, err := a.Analyze(ctx, seq)
	if err != nil {
		return nil, eris.Wrapf(err, "analyzer %s", id)
	}
	if len(cands) == 0 {
		return []model.GenomicFeature{}, nil
	}

	prov, err := model.NewProvenance(id, d.Version, a.Parameters(), nil, d.References)
	if err != nil {
		return nil, eris.Wrapf(err, "analyzer %s", id)
	}

	out := make([]model.GenomicFeature, 0, len(cands))
	for i, c := range cands {
		if len(c.Inputs) > 0 || len(c.Priors) > 0 {
			return nil, eris.Wrapf(model.ErrContractViolation, "analyzer %s: candidate %d declares upstream inputs", id, i)
		}
		if c.Confidence.IsZero() {
			return nil, eris.Wrapf(model.ErrContractViolation, "analyzer %s: candidate %d has no confidence", id, i)
		}
		if c.End > seq.Len() {
			return nil, eris.Wrapf(model.ErrContractViolation, "analyzer %s: candidate %d ends at %d beyond sequence length %d", id, i, c.End, seq.Len())
		}
		f, err := model.NewFeature(model.FeatureSpec{
			Start:       c.Start,
			End:         c.End,
			Strand:      c.Strand,
			FeatureType: c.FeatureType,
			Scale:       d.OutputScale,
			Confidence:  c.Confidence,
			Attributes:  c.Attributes,
			Provenance:  prov,
			SequenceID:  seq.ID(),
		})
		if err != nil {
			return nil, eris.Wrapf(err, "analyzer %s: candidate %d", id, i)
		}
		out = append(out, f)
	}
	return out, nil
}

// FilterEvidence keeps only the declared input scales and only features on
// seqID or unscoped. Every declared scale is present in the result, empty if
// nothing was produced there.
func FilterEvidence(seqID string, byScale map[model.Scale][]model.GenomicFeature, inputs []model.Scale) Evidence {
	ev := Evidence{SequenceID: seqID, ByScale: make(map[model.Scale][]model.GenomicFeature, len(inputs))}
	for _, s := range inputs {
		kept := make([]model.GenomicFeature, 0, len(byScale[s]))
		for _, f := range byScale[s] {
			if f.SequenceID() == "" || f.SequenceID() == seqID {
				kept = append(kept, f)
			}
		}
		ev.ByScale[s] = kept
	}
	return ev
}

// RunBridge filters the evidence, invokes b, and materializes each candidate
// with dependencies set to exactly the producers of the features it consumed.
func RunBridge(ctx context.Context, id string, b Bridge, seqID string, byScale map[model.Scale][]model.GenomicFeature) ([]model.GenomicFeature, error) {
	d := b.Describe()
	if err := ValidateBridgeDescriptor(d); err != nil {
		return nil, eris.Wrapf(err, "bridge %s", id)
	}

	ev := FilterEvidence(seqID, byScale, d.InputScales)

	supplied := make(map[string]bool)
	for _, fs := range ev.ByScale {
		for _, f := range fs {
			supplied[f.Provenance().Producer()] = true
		}
	}

	cands, err := b.Bridge(ctx, ev)
	if err != nil {
		return nil, eris.Wrapf(err, "bridge %s", id)
	}

	params := b.Parameters()
	out := make([]model.GenomicFeature, 0, len(cands))
	for i, c := range cands {
		deps, err := checkBridgeCandidate(c, ev, supplied)
		if err != nil {
			return nil, eris.Wrapf(err, "bridge %s: candidate %d", id, i)
		}
		prov, err := model.NewProvenance(id, d.Version, params, deps, d.References)
		if err != nil {
			return nil, eris.Wrapf(err, "bridge %s", id)
		}
		f, err := model.NewFeature(model.FeatureSpec{
			Start:       c.Start,
			End:         c.End,
			Strand:      c.Strand,
			FeatureType: c.FeatureType,
			Scale:       d.OutputScale,
			Confidence:  c.Confidence,
			Attributes:  c.Attributes,
			Provenance:  prov,
			SequenceID:  seqID,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "bridge %s: candidate %d", id, i)
		}
		out = append(out, f)
	}
	return out, nil
}

// checkBridgeCandidate enforces the bridge contract and returns the sorted
// producer identifiers of the candidate's inputs.
func checkBridgeCandidate(c Candidate, ev Evidence, supplied map[string]bool) ([]string, error) {
	if len(c.Inputs) == 0 {
		return nil, eris.Wrap(model.ErrContractViolation, "candidate consumes no input features")
	}
	if c.Confidence.IsZero() {
		return nil, eris.Wrap(model.ErrContractViolation, "candidate has no confidence")
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	seen := make(map[string]bool)
	var deps []string
	for _, in := range c.Inputs {
		producer := in.Provenance().Producer()
		if !supplied[producer] {
			return nil, eris.Wrapf(model.ErrContractViolation, "input from %q was not supplied to this bridge", producer)
		}
		if _, ok := ev.ByScale[in.Scale()]; !ok {
			return nil, eris.Wrapf(model.ErrContractViolation, "input at scale %s is not a declared input scale", in.Scale())
		}
		if in.SequenceID() != "" && in.SequenceID() != ev.SequenceID {
			return nil, eris.Wrapf(model.ErrContractViolation, "input on sequence %q, bridging %q", in.SequenceID(), ev.SequenceID)
		}
		if !seen[producer] {
			seen[producer] = true
			deps = append(deps, producer)
		}
		s := in.Confidence().Score()
		lo, hi = math.Min(lo, s), math.Max(hi, s)
	}
	for _, p := range c.Priors {
		s := p.Score()
		lo, hi = math.Min(lo, s), math.Max(hi, s)
	}

	score := c.Confidence.Score()
	if score < lo-boundTolerance || score > hi+boundTolerance {
		return nil, eris.Wrapf(model.ErrContractViolation,
			"confidence %.4f is outside the [%.4f, %.4f] range of its evidence", score, lo, hi)
	}

	sort.Strings(deps)
	return deps, nil
}
