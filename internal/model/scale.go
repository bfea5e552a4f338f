package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Scale is a structural level of genomic organization. Scales form a total
// order from NUCLEOTIDE (finest) to GENOME (coarsest).
type Scale int

const (
	ScaleNucleotide Scale = iota
	ScaleMotif
	ScaleDomain
	ScaleGene
	ScaleOperon
	ScaleChromosome
	ScaleGenome
)

var scaleNames = [...]string{
	ScaleNucleotide: "nucleotide",
	ScaleMotif:      "motif",
	ScaleDomain:     "domain",
	ScaleGene:       "gene",
	ScaleOperon:     "operon",
	ScaleChromosome: "chromosome",
	ScaleGenome:     "genome",
}

// Scales returns every scale in ascending order.
func Scales() []Scale {
	out := make([]Scale, len(scaleNames))
	for i := range scaleNames {
		out[i] = Scale(i)
	}
	return out
}

// Valid reports whether s is one of the seven defined scales.
func (s Scale) Valid() bool {
	return s >= ScaleNucleotide && s <= ScaleGenome
}

func (s Scale) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return scaleNames[s]
}

// Compare returns -1, 0 or 1 when s is below, equal to or above other.
func (s Scale) Compare(other Scale) int {
	switch {
	case s < other:
		return -1
	case s > other:
		return 1
	default:
		return 0
	}
}

// Less reports whether s is a finer scale than other.
func (s Scale) Less(other Scale) bool { return s < other }

// Greater reports whether s is a coarser scale than other.
func (s Scale) Greater(other Scale) bool { return s > other }

// AdjacentAbove returns the next coarser scale. ok is false for GENOME.
func (s Scale) AdjacentAbove() (Scale, bool) {
	if !s.Valid() || s == ScaleGenome {
		return s, false
	}
	return s + 1, true
}

// AdjacentBelow returns the next finer scale. ok is false for NUCLEOTIDE.
func (s Scale) AdjacentBelow() (Scale, bool) {
	if !s.Valid() || s == ScaleNucleotide {
		return s, false
	}
	return s - 1, true
}

// ParseScale parses a scale name (case-insensitive).
func ParseScale(name string) (Scale, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, sn := range scaleNames {
		if sn == n {
			return Scale(i), nil
		}
	}
	return 0, eris.Wrapf(ErrValidation, "unknown scale %q", name)
}

// MarshalText encodes the scale by name.
func (s Scale) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, eris.Wrapf(ErrValidation, "invalid scale %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a scale name.
func (s *Scale) UnmarshalText(b []byte) error {
	parsed, err := ParseScale(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AnalysisType categorizes what question an analyzer answers.
type AnalysisType string

const (
	AnalysisStructural    AnalysisType = "structural"
	AnalysisCompositional AnalysisType = "compositional"
	AnalysisFunctional    AnalysisType = "functional"
	AnalysisEvolutionary  AnalysisType = "evolutionary"
	AnalysisRegulatory    AnalysisType = "regulatory"
)

// Valid reports whether t is a known analysis type.
func (t AnalysisType) Valid() bool {
	switch t {
	case AnalysisStructural, AnalysisCompositional, AnalysisFunctional,
		AnalysisEvolutionary, AnalysisRegulatory:
		return true
	}
	return false
}
