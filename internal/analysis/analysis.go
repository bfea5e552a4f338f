// Package analysis defines the contracts analyzers and bridges satisfy and
// the helpers that turn their output into validated genomic features.
//
// Producers never build GenomicFeature values themselves. They return
// Candidates; RunAnalyzer and RunBridge stamp scale, sequence id and
// provenance onto them so lineage is always populated by the framework.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/model"
)

// Options is the configuration handed to a producer factory. Producers must
// copy what they keep; options are immutable after construction.
type Options map[string]any

// Descriptor identifies an analyzer's scales and analysis type.
type Descriptor struct {
	AnalysisType model.AnalysisType
	InputScale   model.Scale
	OutputScale  model.Scale
	Version      string
	References   []string
}

// BridgeDescriptor identifies a bridge's input scales and output scale.
type BridgeDescriptor struct {
	InputScales []model.Scale
	OutputScale model.Scale
	Version     string
	References  []string
}

// Analyzer produces features at one scale from a raw sequence.
//
// Implementations must be safe for concurrent Analyze calls; all
// configuration is fixed at construction.
type Analyzer interface {
	Describe() Descriptor
	Analyze(ctx context.Context, seq Sequence) ([]Candidate, error)
	// Parameters returns the serializable configuration recorded in provenance.
	Parameters() map[string]any
}

// Bridge aggregates lower-scale features into features at a strictly higher
// scale.
type Bridge interface {
	Describe() BridgeDescriptor
	Bridge(ctx context.Context, ev Evidence) ([]Candidate, error)
	Parameters() map[string]any
}

// Candidate is a producer's proposal for one output feature.
type Candidate struct {
	Start       int
	End         int
	Strand      model.Strand
	FeatureType string
	Attributes  map[string]any
	// Confidence must be computed from inspectable evidence. For bridges it
	// must be derived with the confidence algebra from the Inputs (and any
	// Priors) it aggregates.
	Confidence model.Confidence
	// Inputs are the features a bridge consumed for this candidate. Analyzers
	// leave it empty.
	Inputs []model.GenomicFeature
	// Priors are non-feature confidences a bridge folded in, such as a
	// penalty for a scale that supplied no evidence.
	Priors []model.Confidence
}

// Evidence is the bridge input: features grouped by scale, all scoped to
// SequenceID or unscoped.
type Evidence struct {
	SequenceID string
	ByScale    map[model.Scale][]model.GenomicFeature
}

// At returns the features at scale s. A scale that was required but produced
// nothing yields an empty, non-nil slice.
func (e Evidence) At(s model.Scale) []model.GenomicFeature {
	return e.ByScale[s]
}

// ValidateDescriptor checks an analyzer's declared scales.
func ValidateDescriptor(d Descriptor) error {
	if !d.InputScale.Valid() || !d.OutputScale.Valid() {
		return eris.Wrap(model.ErrValidation, "analyzer declares an unknown scale")
	}
	if d.OutputScale.Less(d.InputScale) {
		return eris.Wrapf(model.ErrValidation, "analyzer output scale %s is below input scale %s", d.OutputScale, d.InputScale)
	}
	if d.AnalysisType != "" && !d.AnalysisType.Valid() {
		return eris.Wrapf(model.ErrValidation, "unknown analysis type %q", d.AnalysisType)
	}
	return nil
}

// ValidateBridgeDescriptor checks a bridge's declared scales.
func ValidateBridgeDescriptor(d BridgeDescriptor) error {
	if len(d.InputScales) == 0 {
		return eris.Wrap(model.ErrValidation, "bridge declares no input scales")
	}
	if !d.OutputScale.Valid() {
		return eris.Wrap(model.ErrValidation, "bridge declares an unknown output scale")
	}
	seen := make(map[model.Scale]bool, len(d.InputScales))
	for _, in := range d.InputScales {
		if !in.Valid() {
			return eris.Wrap(model.ErrValidation, "bridge declares an unknown input scale")
		}
		if seen[in] {
			return eris.Wrapf(model.ErrValidation, "bridge declares input scale %s twice", in)
		}
		seen[in] = true
		if !d.OutputScale.Greater(in) {
			return eris.Wrapf(model.ErrValidation, "bridge output scale %s must be above input scale %s", d.OutputScale, in)
		}
	}
	return nil
}

// DescribeAnalyzer renders "id (type) [in → out]".
func DescribeAnalyzer(id string, a Analyzer) string {
	d := a.Describe()
	return fmt.Sprintf("%s (%s) [%s → %s]", id, d.AnalysisType, d.InputScale, d.OutputScale)
}

// DescribeBridge renders "id [in,in → out]".
func DescribeBridge(id string, b Bridge) string {
	d := b.Describe()
	ins := make([]string, len(d.InputScales))
	for i, s := range d.InputScales {
		ins[i] = s.String()
	}
	return fmt.Sprintf("%s [%s → %s]", id, strings.Join(ins, ","), d.OutputScale)
}
