package analyzers

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/analysis"
	"github.com/sells-group/genomesim/internal/model"
)

// CompositionID is the registry identifier of the GC window analyzer.
const CompositionID = "composition.gc"

// Composition reports GC-rich regions. Windows of Window bases, advanced by
// Step, whose GC fraction over called bases reaches MinGC are merged into
// contiguous regions.
type Composition struct {
	window int
	step   int
	minGC  float64
}

// NewComposition builds a Composition from options window (100), step
// (window) and min_gc (0.6).
func NewComposition(opts analysis.Options) (analysis.Analyzer, error) {
	window, err := optInt(opts, "window", 100)
	if err != nil {
		return nil, err
	}
	step, err := optInt(opts, "step", window)
	if err != nil {
		return nil, err
	}
	minGC, err := optFloat(opts, "min_gc", 0.6)
	if err != nil {
		return nil, err
	}
	if window <= 0 || step <= 0 {
		return nil, eris.Wrapf(model.ErrValidation, "window and step must be positive, got %d/%d", window, step)
	}
	if err := inUnit("min_gc", minGC); err != nil {
		return nil, err
	}
	return &Composition{window: window, step: step, minGC: minGC}, nil
}

func (c *Composition) Describe() analysis.Descriptor {
	return analysis.Descriptor{
		AnalysisType: model.AnalysisCompositional,
		InputScale:   model.ScaleNucleotide,
		OutputScale:  model.ScaleNucleotide,
		Version:      "1.0.0",
	}
}

func (c *Composition) Parameters() map[string]any {
	return map[string]any{"window": c.window, "step": c.step, "min_gc": c.minGC}
}

func (c *Composition) Analyze(ctx context.Context, seq analysis.Sequence) ([]analysis.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "composition: analyze")
	}
	res := seq.Residues()
	n := len(res)

	window := c.window
	if window > n {
		window = n
	}

	var regions [][2]int
	for start := 0; start+window <= n; start += c.step {
		gc, calledBases := gcCount(res[start : start+window])
		if calledBases == 0 || float64(gc)/float64(calledBases) < c.minGC {
			continue
		}
		end := start + window
		if last := len(regions) - 1; last >= 0 && start <= regions[last][1] {
			regions[last][1] = end
			continue
		}
		regions = append(regions, [2]int{start, end})
	}

	out := make([]analysis.Candidate, 0, len(regions))
	for _, r := range regions {
		cand, err := c.candidate(seq, r[0], r[1])
		if err != nil {
			return nil, err
		}
		out = append(out, cand)
	}
	return out, nil
}

func (c *Composition) candidate(seq analysis.Sequence, start, end int) (analysis.Candidate, error) {
	gc, calledBases := gcCount(seq.Residues()[start:end])
	length := end - start
	gcFrac := float64(gc) / float64(calledBases)
	calledFrac := seq.Window(start, end).CalledFraction()

	margin := 1.0
	if c.minGC < 1 {
		margin = (gcFrac - c.minGC) / (1 - c.minGC)
	}
	margin = clamp01(margin)

	// Ambiguous bases scale the score down; how far the region clears the
	// threshold lifts it from 0.5 toward 1.
	score := calledFrac * (0.5 + 0.5*margin)

	conf, err := model.NewConfidence(score, "gc_window", []string{"gc_fraction", "called_fraction"}, map[string]any{
		"gc_fraction":     gcFrac,
		"called_fraction": calledFrac,
		"length":          length,
	})
	if err != nil {
		return analysis.Candidate{}, eris.Wrap(err, "composition: confidence")
	}
	return analysis.Candidate{
		Start:       start,
		End:         end,
		Strand:      model.StrandUnknown,
		FeatureType: "gc_rich_region",
		Confidence:  conf,
		Attributes:  map[string]any{"gc_fraction": gcFrac},
	}, nil
}

// gcCount counts G/C and all unambiguous bases. U counts as called.
func gcCount(s string) (gc, calledBases int) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'G', 'C':
			gc++
			calledBases++
		case 'A', 'T', 'U':
			calledBases++
		}
	}
	return gc, calledBases
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
