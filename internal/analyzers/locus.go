package analyzers

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/analysis"
	"github.com/sells-group/genomesim/internal/model"
)

// LocusID is the registry identifier of the gene locus bridge.
const LocusID = "locus.gene"

// Locus proposes a gene locus for every regulatory region, extended over
// GC-rich regions lying within flank bases of it. Compositional support is
// blended into the region's confidence with weight 1-domainWeight; without
// support an absence penalty takes its place.
type Locus struct {
	flank         int
	domainWeight  float64
	absentPenalty float64
}

// NewLocus builds a Locus from options flank (200), domain_weight (0.7) and
// absent_penalty (0.3).
func NewLocus(opts analysis.Options) (analysis.Bridge, error) {
	flank, err := optInt(opts, "flank", 200)
	if err != nil {
		return nil, err
	}
	domainWeight, err := optFloat(opts, "domain_weight", 0.7)
	if err != nil {
		return nil, err
	}
	absentPenalty, err := optFloat(opts, "absent_penalty", 0.3)
	if err != nil {
		return nil, err
	}
	if flank < 0 {
		return nil, eris.Wrapf(model.ErrValidation, "flank must not be negative, got %d", flank)
	}
	if err := inUnit("domain_weight", domainWeight); err != nil {
		return nil, err
	}
	if err := inUnit("absent_penalty", absentPenalty); err != nil {
		return nil, err
	}
	return &Locus{flank: flank, domainWeight: domainWeight, absentPenalty: absentPenalty}, nil
}

func (l *Locus) Describe() analysis.BridgeDescriptor {
	return analysis.BridgeDescriptor{
		InputScales: []model.Scale{model.ScaleNucleotide, model.ScaleDomain},
		OutputScale: model.ScaleGene,
		Version:     "1.0.0",
	}
}

func (l *Locus) Parameters() map[string]any {
	return map[string]any{"flank": l.flank, "domain_weight": l.domainWeight, "absent_penalty": l.absentPenalty}
}

func (l *Locus) Bridge(ctx context.Context, ev analysis.Evidence) ([]analysis.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "locus: bridge")
	}
	domains := sortedByPosition(ev.At(model.ScaleDomain))
	regions := sortedByPosition(ev.At(model.ScaleNucleotide))

	out := make([]analysis.Candidate, 0, len(domains))
	for i, d := range domains {
		cand, err := l.candidate(i, d, regions)
		if err != nil {
			return nil, err
		}
		out = append(out, cand)
	}
	return out, nil
}

func (l *Locus) candidate(i int, d model.GenomicFeature, regions []model.GenomicFeature) (analysis.Candidate, error) {
	lo, hi := d.Start()-l.flank, d.End()+l.flank
	start, end := d.Start(), d.End()

	inputs := []model.GenomicFeature{d}
	var support []model.Confidence
	for k, r := range regions {
		if r.End() <= lo || r.Start() >= hi {
			continue
		}
		inputs = append(inputs, r)
		support = append(support, r.Confidence().Qualify(fmt.Sprintf("%s.%d", r.Provenance().Producer(), k)))
		if r.Start() < start {
			start = r.Start()
		}
		if r.End() > end {
			end = r.End()
		}
	}

	domainConf := d.Confidence().Qualify(fmt.Sprintf("%s.%d", d.Provenance().Producer(), i))

	var other model.Confidence
	var priors []model.Confidence
	if len(support) > 0 {
		agg, err := model.Aggregate(support, model.WeightedAverage, nil)
		if err != nil {
			return analysis.Candidate{}, eris.Wrap(err, "locus: aggregate support")
		}
		other = agg
	} else {
		penalty, err := model.NewConfidence(l.absentPenalty, "absent_evidence", []string{"no_compositional_support"}, nil)
		if err != nil {
			return analysis.Candidate{}, eris.Wrap(err, "locus: penalty")
		}
		other = penalty
		priors = append(priors, penalty)
	}

	conf, err := domainConf.Combine(other, model.WeightedAverage, l.domainWeight)
	if err != nil {
		return analysis.Candidate{}, eris.Wrap(err, "locus: combine")
	}

	return analysis.Candidate{
		Start:       start,
		End:         end,
		Strand:      d.Strand(),
		FeatureType: "gene",
		Confidence:  conf,
		Attributes: map[string]any{
			"ID":      fmt.Sprintf("locus_%d", i+1),
			"support": len(support),
		},
		Inputs: inputs,
		Priors: priors,
	}, nil
}
