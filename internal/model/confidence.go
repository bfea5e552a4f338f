package model

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/rotisserie/eris"
)

// scoreTolerance absorbs floating point drift when checking weight sums and
// score bounds.
const scoreTolerance = 1e-9

// CombineMode selects how two confidences are merged.
type CombineMode string

const (
	// WeightedAverage blends scores linearly by weight.
	WeightedAverage CombineMode = "weighted_average"
	// Minimum lets the weakest evidence win.
	Minimum CombineMode = "minimum"
	// GeometricMean penalizes any low input more than arithmetic averaging.
	GeometricMean CombineMode = "geometric_mean"
)

// Valid reports whether m is a supported mode.
func (m CombineMode) Valid() bool {
	switch m {
	case WeightedAverage, Minimum, GeometricMean:
		return true
	}
	return false
}

// ParseCombineMode parses a mode name.
func ParseCombineMode(s string) (CombineMode, error) {
	m := CombineMode(s)
	if !m.Valid() {
		return "", eris.Wrapf(ErrValidation, "unknown combine mode %q", s)
	}
	return m, nil
}

// Level is a coarse human-facing bucket of a confidence score.
type Level string

const (
	LevelVeryLow  Level = "very_low"
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelVeryHigh Level = "very_high"
)

// levelBreakpoints are the lower bounds of low, moderate, high, very_high.
var levelBreakpoints = [4]float64{0.2, 0.4, 0.6, 0.8}

// Label returns the display form of the level ("Very high").
func (l Level) Label() string {
	switch l {
	case LevelVeryLow:
		return "Very low"
	case LevelLow:
		return "Low"
	case LevelModerate:
		return "Moderate"
	case LevelHigh:
		return "High"
	case LevelVeryHigh:
		return "Very high"
	}
	return string(l)
}

// Confidence is an immutable, evidenced uncertainty value in [0, 1].
// The zero value is not a valid confidence; use NewConfidence.
type Confidence struct {
	score    float64
	method   string
	sources  []string
	evidence map[string]any
}

// NewConfidence validates and builds a Confidence. The sources slice and
// evidence map are copied so later caller mutation cannot leak in.
func NewConfidence(score float64, method string, sources []string, evidence map[string]any) (Confidence, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return Confidence{}, eris.Wrapf(ErrValidation, "confidence score must be in [0, 1], got %v", score)
	}
	if method == "" {
		return Confidence{}, eris.Wrap(ErrValidation, "confidence method is required")
	}
	if len(sources) == 0 {
		return Confidence{}, eris.Wrap(ErrValidation, "confidence must have at least one source")
	}
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if s == "" {
			return Confidence{}, eris.Wrap(ErrValidation, "confidence source must not be empty")
		}
		if _, dup := seen[s]; dup {
			return Confidence{}, eris.Wrapf(ErrValidation, "duplicate confidence source %q", s)
		}
		seen[s] = struct{}{}
	}
	return Confidence{
		score:    score,
		method:   method,
		sources:  append([]string(nil), sources...),
		evidence: copyMap(evidence),
	}, nil
}

// MustConfidence is NewConfidence for literals known to be valid. It panics
// on error.
func MustConfidence(score float64, method string, sources []string, evidence map[string]any) Confidence {
	c, err := NewConfidence(score, method, sources, evidence)
	if err != nil {
		panic(err)
	}
	return c
}

// Score returns the numeric confidence.
func (c Confidence) Score() float64 { return c.score }

// Method names how the score was computed.
func (c Confidence) Method() string { return c.method }

// Sources returns a copy of the contributing evidence channels.
func (c Confidence) Sources() []string { return append([]string(nil), c.sources...) }

// SupportingEvidence returns a shallow copy of the evidence payloads.
func (c Confidence) SupportingEvidence() map[string]any { return copyMap(c.evidence) }

// IsZero reports whether c was never constructed.
func (c Confidence) IsZero() bool { return c.method == "" && len(c.sources) == 0 }

// Level maps the score onto its bucket.
func (c Confidence) Level() Level {
	switch {
	case c.score >= levelBreakpoints[3]:
		return LevelVeryHigh
	case c.score >= levelBreakpoints[2]:
		return LevelHigh
	case c.score >= levelBreakpoints[1]:
		return LevelModerate
	case c.score >= levelBreakpoints[0]:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

func (c Confidence) String() string {
	return fmt.Sprintf("Confidence: %.3f (%s) via %s", c.score, c.Level().Label(), c.method)
}

// Combine merges c with other into a new Confidence. weightSelf is only used
// by WeightedAverage and must lie in [0, 1]. Sources are unioned preserving
// order (c first); evidence maps are merged and fail with
// ErrEvidenceConflict when the same key carries different values.
func (c Confidence) Combine(other Confidence, mode CombineMode, weightSelf float64) (Confidence, error) {
	if mode != WeightedAverage {
		weightSelf = 0.5
	}
	return c.combine(other, mode, weightSelf)
}

func (c Confidence) combine(other Confidence, mode CombineMode, weightSelf float64) (Confidence, error) {
	if c.IsZero() || other.IsZero() {
		return Confidence{}, eris.Wrap(ErrValidation, "cannot combine an unset confidence")
	}
	if math.IsNaN(weightSelf) || weightSelf < 0 || weightSelf > 1 {
		return Confidence{}, eris.Wrapf(ErrValidation, "weightSelf must be in [0, 1], got %v", weightSelf)
	}

	var score float64
	switch mode {
	case WeightedAverage:
		score = weightSelf*c.score + (1-weightSelf)*other.score
	case Minimum:
		score = math.Min(c.score, other.score)
	case GeometricMean:
		if weightSelf == 0.5 {
			score = math.Sqrt(c.score * other.score)
		} else {
			score = math.Pow(c.score, weightSelf) * math.Pow(other.score, 1-weightSelf)
		}
	default:
		return Confidence{}, eris.Wrapf(ErrValidation, "unknown combine mode %q", mode)
	}
	score = clampUnit(score)

	evidence, err := mergeEvidence(c.evidence, other.evidence)
	if err != nil {
		return Confidence{}, err
	}

	return Confidence{
		score:    score,
		method:   fmt.Sprintf("combined(%s,%s,%s)", c.method, other.method, mode),
		sources:  unionOrdered(c.sources, other.sources),
		evidence: evidence,
	}, nil
}

// Aggregate folds confs left to right in input order with pairwise Combine.
//
// For WeightedAverage and GeometricMean, weights pair positionally with confs
// and must sum to 1; nil weights mean equal weights. Each fold step weights
// the accumulator by the cumulative weight seen so far, so the result equals
// the closed form sum(w_i*s_i) (or prod(s_i^w_i)) exactly up to rounding.
// Minimum ignores weights.
func Aggregate(confs []Confidence, mode CombineMode, weights []float64) (Confidence, error) {
	if len(confs) == 0 {
		return Confidence{}, eris.Wrap(ErrValidation, "aggregate requires at least one confidence")
	}
	if !mode.Valid() {
		return Confidence{}, eris.Wrapf(ErrValidation, "unknown combine mode %q", mode)
	}

	if mode == Minimum {
		acc := confs[0]
		for _, next := range confs[1:] {
			var err error
			if acc, err = acc.combine(next, Minimum, 0.5); err != nil {
				return Confidence{}, err
			}
		}
		return acc, nil
	}

	w, err := normalizeWeights(weights, len(confs))
	if err != nil {
		return Confidence{}, err
	}

	acc := confs[0]
	cum := w[0]
	for i, next := range confs[1:] {
		wi := w[i+1]
		total := cum + wi
		ws := 1.0
		if total > 0 {
			ws = cum / total
		}
		if acc, err = acc.combine(next, mode, ws); err != nil {
			return Confidence{}, eris.Wrapf(err, "aggregate step %d", i+1)
		}
		cum = total
	}
	return acc, nil
}

// Qualify returns a copy of c whose sources and evidence keys are prefixed
// with "prefix/". Bridges use it to keep evidence from distinct features
// apart before aggregating.
func (c Confidence) Qualify(prefix string) Confidence {
	if prefix == "" || c.IsZero() {
		return c
	}
	sources := make([]string, len(c.sources))
	for i, s := range c.sources {
		sources[i] = prefix + "/" + s
	}
	var evidence map[string]any
	if len(c.evidence) > 0 {
		evidence = make(map[string]any, len(c.evidence))
		for k, v := range c.evidence {
			evidence[prefix+"/"+k] = v
		}
	}
	return Confidence{score: c.score, method: c.method, sources: sources, evidence: evidence}
}

type confidenceJSON struct {
	Score              float64        `json:"score"`
	Method             string         `json:"method"`
	Sources            []string       `json:"sources"`
	SupportingEvidence map[string]any `json:"supporting_evidence,omitempty"`
}

// MarshalJSON encodes the confidence as a flat object.
func (c Confidence) MarshalJSON() ([]byte, error) {
	return json.Marshal(confidenceJSON{
		Score:              c.score,
		Method:             c.method,
		Sources:            c.sources,
		SupportingEvidence: c.evidence,
	})
}

// UnmarshalJSON decodes and re-validates a confidence.
func (c *Confidence) UnmarshalJSON(b []byte) error {
	var raw confidenceJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return eris.Wrap(err, "confidence: decode")
	}
	parsed, err := NewConfidence(raw.Score, raw.Method, raw.Sources, raw.SupportingEvidence)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func normalizeWeights(weights []float64, n int) ([]float64, error) {
	if weights == nil {
		w := make([]float64, n)
		for i := range w {
			w[i] = 1 / float64(n)
		}
		return w, nil
	}
	if len(weights) != n {
		return nil, eris.Wrapf(ErrValidation, "weights length (%d) must match confidences length (%d)", len(weights), n)
	}
	var sum float64
	for i, w := range weights {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return nil, eris.Wrapf(ErrValidation, "weight %d must be in [0, 1], got %v", i, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > scoreTolerance {
		return nil, eris.Wrapf(ErrValidation, "weights must sum to 1.0, got %v", sum)
	}
	return append([]float64(nil), weights...), nil
}

func mergeEvidence(a, b map[string]any) (map[string]any, error) {
	if len(a) == 0 && len(b) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, ok := out[k]; ok && !reflect.DeepEqual(existing, v) {
			return nil, eris.Wrapf(ErrEvidenceConflict, "evidence key %q has conflicting values", k)
		}
		out[k] = v
	}
	return out, nil
}

func unionOrdered(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
