package analyzers

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/analysis"
	"github.com/sells-group/genomesim/internal/model"
)

// MotifID is the registry identifier of the IUPAC motif scanner.
const MotifID = "motif.iupac"

// DefaultMotifs are scanned when no motifs option is given.
var DefaultMotifs = map[string]string{
	"tata_box": "TATAWAW",
	"caat_box": "CCAAT",
	"gc_box":   "GGGCGG",
}

type motifPattern struct {
	name    string
	forward string
	reverse string
}

// Motif scans a sequence for IUPAC consensus patterns on both strands.
type Motif struct {
	patterns      []motifPattern
	maxMismatches int
	bothStrands   bool
}

// NewMotif builds a Motif from options motifs (name → IUPAC pattern),
// max_mismatches (0) and both_strands (true).
func NewMotif(opts analysis.Options) (analysis.Analyzer, error) {
	motifs, err := optStringMap(opts, "motifs", DefaultMotifs)
	if err != nil {
		return nil, err
	}
	maxMismatches, err := optInt(opts, "max_mismatches", 0)
	if err != nil {
		return nil, err
	}
	bothStrands, err := optBool(opts, "both_strands", true)
	if err != nil {
		return nil, err
	}
	if len(motifs) == 0 {
		return nil, eris.Wrap(model.ErrValidation, "at least one motif is required")
	}
	if maxMismatches < 0 {
		return nil, eris.Wrapf(model.ErrValidation, "max_mismatches must not be negative, got %d", maxMismatches)
	}

	m := &Motif{maxMismatches: maxMismatches, bothStrands: bothStrands}
	for name, raw := range motifs {
		p, err := normalizePattern(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "motif %s", name)
		}
		if maxMismatches >= len(p) {
			return nil, eris.Wrapf(model.ErrValidation, "max_mismatches %d allows any match for motif %s", maxMismatches, name)
		}
		m.patterns = append(m.patterns, motifPattern{name: name, forward: p, reverse: revComp(p)})
	}
	sort.Slice(m.patterns, func(i, j int) bool { return m.patterns[i].name < m.patterns[j].name })
	return m, nil
}

func (m *Motif) Describe() analysis.Descriptor {
	return analysis.Descriptor{
		AnalysisType: model.AnalysisRegulatory,
		InputScale:   model.ScaleNucleotide,
		OutputScale:  model.ScaleMotif,
		Version:      "1.0.0",
	}
}

func (m *Motif) Parameters() map[string]any {
	motifs := make(map[string]any, len(m.patterns))
	for _, p := range m.patterns {
		motifs[p.name] = p.forward
	}
	return map[string]any{
		"motifs":         motifs,
		"max_mismatches": m.maxMismatches,
		"both_strands":   m.bothStrands,
	}
}

type motifHit struct {
	start      int
	strand     model.Strand
	pattern    motifPattern
	matched    int
	mismatches int
	uncertain  int
}

func (m *Motif) Analyze(ctx context.Context, seq analysis.Sequence) ([]analysis.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "motif: analyze")
	}
	res := strings.ReplaceAll(seq.Residues(), "U", "T")

	var hits []motifHit
	for _, p := range m.patterns {
		hits = append(hits, m.scan(res, p, p.forward, model.StrandForward)...)
		if m.bothStrands && p.reverse != p.forward {
			hits = append(hits, m.scan(res, p, p.reverse, model.StrandReverse)...)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].start != hits[j].start {
			return hits[i].start < hits[j].start
		}
		if hits[i].pattern.name != hits[j].pattern.name {
			return hits[i].pattern.name < hits[j].pattern.name
		}
		return hits[i].strand < hits[j].strand
	})

	out := make([]analysis.Candidate, 0, len(hits))
	for _, h := range hits {
		length := len(h.pattern.forward)
		conf, err := model.NewConfidence(float64(h.matched)/float64(length), "iupac_scan",
			[]string{"pattern_identity"},
			map[string]any{
				"matched":    h.matched,
				"mismatches": h.mismatches,
				"uncertain":  h.uncertain,
				"length":     length,
			})
		if err != nil {
			return nil, eris.Wrap(err, "motif: confidence")
		}
		out = append(out, analysis.Candidate{
			Start:       h.start,
			End:         h.start + length,
			Strand:      h.strand,
			FeatureType: "motif",
			Confidence:  conf,
			Attributes: map[string]any{
				"Name":    h.pattern.name,
				"motif":   h.pattern.name,
				"pattern": h.pattern.forward,
			},
		})
	}
	return out, nil
}

// scan slides pattern along res. Ambiguous genomic bases are neither
// matches nor mismatches; a hit may have at most half its positions
// uncertain.
func (m *Motif) scan(res string, p motifPattern, pattern string, strand model.Strand) []motifHit {
	l := len(pattern)
	var hits []motifHit
	for i := 0; i+l <= len(res); i++ {
		h := motifHit{start: i, strand: strand, pattern: p}
		for j := 0; j < l; j++ {
			g := res[i+j]
			switch {
			case !called(g):
				h.uncertain++
			case baseMatch(g, pattern[j]):
				h.matched++
			default:
				h.mismatches++
			}
			if h.mismatches > m.maxMismatches {
				break
			}
		}
		if h.mismatches <= m.maxMismatches && 2*h.uncertain <= l {
			hits = append(hits, h)
		}
	}
	return hits
}
