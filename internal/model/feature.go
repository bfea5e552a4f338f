package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Strand is the DNA strand a feature lies on.
type Strand string

const (
	StrandForward Strand = "+"
	StrandReverse Strand = "-"
	StrandUnknown Strand = "."
)

// Valid reports whether s is a known strand.
func (s Strand) Valid() bool {
	switch s {
	case StrandForward, StrandReverse, StrandUnknown:
		return true
	}
	return false
}

// ParseStrand accepts "+", "-", "." and the words forward, reverse, unknown.
func ParseStrand(s string) (Strand, error) {
	switch s {
	case "+", "forward":
		return StrandForward, nil
	case "-", "reverse":
		return StrandReverse, nil
	case ".", "unknown", "":
		return StrandUnknown, nil
	}
	return "", eris.Wrapf(ErrValidation, "unknown strand %q", s)
}

// FeatureSpec holds the inputs to NewFeature.
type FeatureSpec struct {
	Start       int
	End         int
	Strand      Strand
	FeatureType string
	Scale       Scale
	Confidence  Confidence
	Attributes  map[string]any
	Provenance  Provenance
	SequenceID  string
}

// GenomicFeature is an immutable half-open interval [start, end) with a
// scale tag, confidence and provenance.
type GenomicFeature struct {
	start       int
	end         int
	strand      Strand
	featureType string
	scale       Scale
	confidence  Confidence
	attributes  map[string]any
	provenance  Provenance
	sequenceID  string
}

// NewFeature validates spec and builds a feature.
func NewFeature(spec FeatureSpec) (GenomicFeature, error) {
	if spec.Start < 0 {
		return GenomicFeature{}, eris.Wrapf(ErrValidation, "feature start must be non-negative, got %d", spec.Start)
	}
	if spec.End <= spec.Start {
		return GenomicFeature{}, eris.Wrapf(ErrValidation, "feature end must be greater than start, got start=%d end=%d", spec.Start, spec.End)
	}
	strand := spec.Strand
	if strand == "" {
		strand = StrandUnknown
	}
	if !strand.Valid() {
		return GenomicFeature{}, eris.Wrapf(ErrValidation, "unknown strand %q", spec.Strand)
	}
	if spec.FeatureType == "" {
		return GenomicFeature{}, eris.Wrap(ErrValidation, "feature type is required")
	}
	if !spec.Scale.Valid() {
		return GenomicFeature{}, eris.Wrapf(ErrValidation, "invalid scale %d", int(spec.Scale))
	}
	if spec.Confidence.IsZero() {
		return GenomicFeature{}, eris.Wrap(ErrValidation, "feature confidence is required")
	}
	if spec.Provenance.IsZero() {
		return GenomicFeature{}, eris.Wrap(ErrValidation, "feature provenance is required")
	}
	return GenomicFeature{
		start:       spec.Start,
		end:         spec.End,
		strand:      strand,
		featureType: spec.FeatureType,
		scale:       spec.Scale,
		confidence:  spec.Confidence,
		attributes:  copyMap(spec.Attributes),
		provenance:  spec.Provenance,
		sequenceID:  spec.SequenceID,
	}, nil
}

func (f GenomicFeature) Start() int                 { return f.start }
func (f GenomicFeature) End() int                   { return f.end }
func (f GenomicFeature) Strand() Strand             { return f.strand }
func (f GenomicFeature) FeatureType() string        { return f.featureType }
func (f GenomicFeature) Scale() Scale               { return f.scale }
func (f GenomicFeature) Confidence() Confidence     { return f.confidence }
func (f GenomicFeature) Provenance() Provenance     { return f.provenance }
func (f GenomicFeature) SequenceID() string         { return f.sequenceID }
func (f GenomicFeature) Attributes() map[string]any { return copyMap(f.attributes) }

// Attribute returns a single attribute value.
func (f GenomicFeature) Attribute(key string) (any, bool) {
	v, ok := f.attributes[key]
	return v, ok
}

// Length is end - start.
func (f GenomicFeature) Length() int { return f.end - f.start }

// SameSequence reports whether both features carry the same sequence id,
// treating two unset ids as equal.
func (f GenomicFeature) SameSequence(other GenomicFeature) bool {
	return f.sequenceID == other.sequenceID
}

// Overlaps reports whether the intervals intersect on the same sequence.
func (f GenomicFeature) Overlaps(other GenomicFeature) bool {
	return f.SameSequence(other) && f.intersects(other)
}

// Contains reports whether other lies entirely within f on the same sequence.
func (f GenomicFeature) Contains(other GenomicFeature) bool {
	return f.SameSequence(other) && f.start <= other.start && other.end <= f.end
}

// DistanceTo returns 0 for intersecting intervals and otherwise the gap
// between the nearest edges. Features on two different set sequence ids are
// incomparable.
func (f GenomicFeature) DistanceTo(other GenomicFeature) (int, error) {
	if f.sequenceID != "" && other.sequenceID != "" && f.sequenceID != other.sequenceID {
		return 0, eris.Wrapf(ErrIncomparableFeature, "sequence %q vs %q", f.sequenceID, other.sequenceID)
	}
	if f.intersects(other) {
		return 0, nil
	}
	if f.end <= other.start {
		return other.start - f.end, nil
	}
	return f.start - other.end, nil
}

func (f GenomicFeature) intersects(other GenomicFeature) bool {
	return f.start < other.end && other.start < f.end
}

func (f GenomicFeature) String() string {
	seqID := f.sequenceID
	if seqID == "" {
		seqID = "?"
	}
	return fmt.Sprintf("%s at %s:%d-%d (%s) [confidence: %.3f]",
		f.featureType, seqID, f.start, f.end, f.strand, f.confidence.score)
}

// InterchangeRecord is the flat export form of a feature. Field names are
// stable; encoders (GFF3, JSONL, XLSX, SQL) work from this record only.
type InterchangeRecord struct {
	SequenceID         string         `json:"sequence_id,omitempty"`
	Start              int            `json:"start"`
	End                int            `json:"end"`
	Strand             Strand         `json:"strand"`
	FeatureType        string         `json:"feature_type"`
	Scale              Scale          `json:"scale"`
	ConfidenceScore    float64        `json:"confidence_score"`
	ConfidenceLevel    Level          `json:"confidence_level"`
	ConfidenceMethod   string         `json:"confidence_method"`
	ConfidenceSources  []string       `json:"confidence_sources"`
	SupportingEvidence map[string]any `json:"supporting_evidence,omitempty"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	Producer           string         `json:"producer"`
	ProducerVersion    string         `json:"producer_version"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	Dependencies       []string       `json:"dependencies,omitempty"`
	References         []string       `json:"references,omitempty"`
}

// ToInterchangeRecord flattens the feature.
func (f GenomicFeature) ToInterchangeRecord() InterchangeRecord {
	return InterchangeRecord{
		SequenceID:         f.sequenceID,
		Start:              f.start,
		End:                f.end,
		Strand:             f.strand,
		FeatureType:        f.featureType,
		Scale:              f.scale,
		ConfidenceScore:    f.confidence.score,
		ConfidenceLevel:    f.confidence.Level(),
		ConfidenceMethod:   f.confidence.method,
		ConfidenceSources:  f.confidence.Sources(),
		SupportingEvidence: f.confidence.SupportingEvidence(),
		Attributes:         f.Attributes(),
		Producer:           f.provenance.producer,
		ProducerVersion:    f.provenance.version,
		Parameters:         f.provenance.Parameters(),
		Timestamp:          f.provenance.timestamp,
		Dependencies:       f.provenance.Dependencies(),
		References:         f.provenance.References(),
	}
}

// FeatureFromRecord rebuilds a feature from its interchange record,
// re-validating every invariant and preserving the provenance timestamp.
func FeatureFromRecord(rec InterchangeRecord) (GenomicFeature, error) {
	conf, err := NewConfidence(rec.ConfidenceScore, rec.ConfidenceMethod, rec.ConfidenceSources, rec.SupportingEvidence)
	if err != nil {
		return GenomicFeature{}, eris.Wrap(err, "feature record: confidence")
	}
	prov, err := restoreProvenance(provenanceJSON{
		Producer:     rec.Producer,
		Version:      rec.ProducerVersion,
		Parameters:   rec.Parameters,
		Timestamp:    rec.Timestamp,
		Dependencies: rec.Dependencies,
		References:   rec.References,
	})
	if err != nil {
		return GenomicFeature{}, eris.Wrap(err, "feature record: provenance")
	}
	return NewFeature(FeatureSpec{
		Start:       rec.Start,
		End:         rec.End,
		Strand:      rec.Strand,
		FeatureType: rec.FeatureType,
		Scale:       rec.Scale,
		Confidence:  conf,
		Attributes:  rec.Attributes,
		Provenance:  prov,
		SequenceID:  rec.SequenceID,
	})
}

// MarshalJSON encodes the feature as its interchange record.
func (f GenomicFeature) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToInterchangeRecord())
}

// UnmarshalJSON decodes an interchange record.
func (f *GenomicFeature) UnmarshalJSON(b []byte) error {
	var rec InterchangeRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return eris.Wrap(err, "feature: decode")
	}
	parsed, err := FeatureFromRecord(rec)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
