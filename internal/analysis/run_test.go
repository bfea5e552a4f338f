package analysis

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/genomesim/internal/model"
)

type stubAnalyzer struct {
	desc  Descriptor
	cands func(seq Sequence) []Candidate
	err   error
}

func (s *stubAnalyzer) Describe() Descriptor       { return s.desc }
func (s *stubAnalyzer) Parameters() map[string]any { return map[string]any{"k": 3} }
func (s *stubAnalyzer) Analyze(_ context.Context, seq Sequence) ([]Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.cands(seq), nil
}

type stubBridge struct {
	desc  BridgeDescriptor
	build func(ev Evidence) []Candidate
	saw   Evidence
}

func (s *stubBridge) Describe() BridgeDescriptor { return s.desc }
func (s *stubBridge) Parameters() map[string]any { return nil }
func (s *stubBridge) Bridge(_ context.Context, ev Evidence) ([]Candidate, error) {
	s.saw = ev
	return s.build(ev), nil
}

func conf(score float64, src string) model.Confidence {
	return model.MustConfidence(score, "test", []string{src}, nil)
}

func motifAnalyzer() *stubAnalyzer {
	return &stubAnalyzer{
		desc: Descriptor{AnalysisType: model.AnalysisRegulatory, InputScale: model.ScaleNucleotide, OutputScale: model.ScaleMotif, Version: "1.0"},
		cands: func(seq Sequence) []Candidate {
			return []Candidate{{Start: 0, End: 4, Strand: model.StrandForward, FeatureType: "motif", Confidence: conf(0.9, "identity")}}
		},
	}
}

func motifFeatures(t *testing.T, id, seqID string) []model.GenomicFeature {
	t.Helper()
	fs, err := RunAnalyzer(context.Background(), id, motifAnalyzer(), "ACGTACGT", seqID, 0)
	require.NoError(t, err)
	return fs
}

func TestRunAnalyzer_StampsScaleAndProvenance(t *testing.T) {
	t.Parallel()

	fs := motifFeatures(t, "motif.tata", "chr1")
	require.Len(t, fs, 1)

	f := fs[0]
	assert.Equal(t, model.ScaleMotif, f.Scale())
	assert.Equal(t, "chr1", f.SequenceID())
	assert.Equal(t, "motif.tata", f.Provenance().Producer())
	assert.Equal(t, "1.0", f.Provenance().Version())
	assert.Empty(t, f.Provenance().Dependencies())
	assert.InDelta(t, 3, f.Provenance().Parameters()["k"], 0.001)
}

func TestRunAnalyzer_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := RunAnalyzer(ctx, "a", motifAnalyzer(), "", "", 0)
	assert.ErrorIs(t, err, model.ErrInvalidSequence)

	bad := motifAnalyzer()
	bad.desc.OutputScale = model.ScaleNucleotide
	bad.desc.InputScale = model.ScaleMotif
	_, err = RunAnalyzer(ctx, "a", bad, "ACGT", "", 0)
	assert.ErrorIs(t, err, model.ErrValidation)

	boom := motifAnalyzer()
	boom.err = eris.New("boom")
	_, err = RunAnalyzer(ctx, "a", boom, "ACGT", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	overrun := motifAnalyzer()
	overrun.cands = func(seq Sequence) []Candidate {
		return []Candidate{{Start: 0, End: seq.Len() + 1, FeatureType: "motif", Confidence: conf(0.5, "x")}}
	}
	_, err = RunAnalyzer(ctx, "a", overrun, "ACGT", "", 0)
	assert.ErrorIs(t, err, model.ErrContractViolation)

	withInputs := motifAnalyzer()
	withInputs.cands = func(seq Sequence) []Candidate {
		return []Candidate{{Start: 0, End: 2, FeatureType: "motif", Confidence: conf(0.5, "x"), Priors: []model.Confidence{conf(0.1, "y")}}}
	}
	_, err = RunAnalyzer(ctx, "a", withInputs, "ACGT", "", 0)
	assert.ErrorIs(t, err, model.ErrContractViolation)

	noConf := motifAnalyzer()
	noConf.cands = func(seq Sequence) []Candidate {
		return []Candidate{{Start: 0, End: 2, FeatureType: "motif"}}
	}
	_, err = RunAnalyzer(ctx, "a", noConf, "ACGT", "", 0)
	assert.ErrorIs(t, err, model.ErrContractViolation)
}

func TestRunAnalyzer_NoCandidates(t *testing.T) {
	t.Parallel()

	a := motifAnalyzer()
	a.cands = func(Sequence) []Candidate { return nil }
	fs, err := RunAnalyzer(context.Background(), "a", a, "ACGT", "", 0)
	require.NoError(t, err)
	assert.NotNil(t, fs)
	assert.Empty(t, fs)
}

func mergeBridge(inputs ...model.Scale) *stubBridge {
	return &stubBridge{
		desc: BridgeDescriptor{InputScales: inputs, OutputScale: model.ScaleGene, Version: "2.0"},
		build: func(ev Evidence) []Candidate {
			var in []model.GenomicFeature
			var confs []model.Confidence
			for _, s := range inputs {
				for i, f := range ev.At(s) {
					in = append(in, f)
					confs = append(confs, f.Confidence().Qualify(f.Provenance().Producer()+"#"+string(rune('0'+i))))
				}
			}
			if len(in) == 0 {
				return nil
			}
			c, err := model.Aggregate(confs, model.WeightedAverage, nil)
			if err != nil {
				panic(err)
			}
			return []Candidate{{Start: 0, End: 8, FeatureType: "gene", Confidence: c, Inputs: in}}
		},
	}
}

func TestRunBridge_DependenciesAreConsumedProducers(t *testing.T) {
	t.Parallel()

	byScale := map[model.Scale][]model.GenomicFeature{
		model.ScaleMotif: append(motifFeatures(t, "z.motif", "chr1"), motifFeatures(t, "a.motif", "chr1")...),
	}

	fs, err := RunBridge(context.Background(), "genes", mergeBridge(model.ScaleMotif), "chr1", byScale)
	require.NoError(t, err)
	require.Len(t, fs, 1)

	f := fs[0]
	assert.Equal(t, model.ScaleGene, f.Scale())
	assert.Equal(t, "chr1", f.SequenceID())
	assert.Equal(t, "genes", f.Provenance().Producer())
	assert.Equal(t, []string{"a.motif", "z.motif"}, f.Provenance().Dependencies())
}

func TestRunBridge_FiltersOtherSequences(t *testing.T) {
	t.Parallel()

	b := mergeBridge(model.ScaleMotif)
	byScale := map[model.Scale][]model.GenomicFeature{
		model.ScaleMotif: append(motifFeatures(t, "m1", "chr1"), append(motifFeatures(t, "m2", "chr2"), motifFeatures(t, "m3", "")...)...),
	}

	fs, err := RunBridge(context.Background(), "genes", b, "chr1", byScale)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Len(t, b.saw.At(model.ScaleMotif), 2)
	assert.Equal(t, []string{"m1", "m3"}, fs[0].Provenance().Dependencies())
}

func TestRunBridge_EmptyRequiredScaleIsValid(t *testing.T) {
	t.Parallel()

	b := mergeBridge(model.ScaleMotif, model.ScaleDomain)
	byScale := map[model.Scale][]model.GenomicFeature{
		model.ScaleMotif: motifFeatures(t, "m1", ""),
	}

	fs, err := RunBridge(context.Background(), "genes", b, "", byScale)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	require.Contains(t, b.saw.ByScale, model.ScaleDomain)
	assert.NotNil(t, b.saw.At(model.ScaleDomain))
	assert.Empty(t, b.saw.At(model.ScaleDomain))
}

func TestRunBridge_ContractViolations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	motifs := motifFeatures(t, "m1", "")
	byScale := map[model.Scale][]model.GenomicFeature{model.ScaleMotif: motifs}
	foreign := motifFeatures(t, "other", "")

	tests := []struct {
		name string
		cand Candidate
	}{
		{"no inputs", Candidate{Start: 0, End: 4, FeatureType: "gene", Confidence: conf(0.9, "x")}},
		{"constant confidence", Candidate{Start: 0, End: 4, FeatureType: "gene", Confidence: conf(0.1, "x"), Inputs: motifs}},
		{"input not supplied", Candidate{Start: 0, End: 4, FeatureType: "gene", Confidence: conf(0.9, "x"), Inputs: foreign}},
		{"missing confidence", Candidate{Start: 0, End: 4, FeatureType: "gene", Inputs: motifs}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &stubBridge{
				desc:  BridgeDescriptor{InputScales: []model.Scale{model.ScaleMotif}, OutputScale: model.ScaleGene},
				build: func(Evidence) []Candidate { return []Candidate{tt.cand} },
			}
			_, err := RunBridge(ctx, "b", b, "", byScale)
			assert.ErrorIs(t, err, model.ErrContractViolation)
		})
	}
}

func TestRunBridge_PriorsWidenConfidenceBounds(t *testing.T) {
	t.Parallel()

	motifs := motifFeatures(t, "m1", "")
	penalty := conf(0.3, "no_domain_evidence")
	combined, err := motifs[0].Confidence().Combine(penalty, model.Minimum, 0.5)
	require.NoError(t, err)

	b := &stubBridge{
		desc: BridgeDescriptor{InputScales: []model.Scale{model.ScaleMotif}, OutputScale: model.ScaleGene},
		build: func(Evidence) []Candidate {
			return []Candidate{{Start: 0, End: 4, FeatureType: "gene", Confidence: combined, Inputs: motifs, Priors: []model.Confidence{penalty}}}
		},
	}
	fs, err := RunBridge(context.Background(), "b", b, "", map[model.Scale][]model.GenomicFeature{model.ScaleMotif: motifs})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, fs[0].Confidence().Score(), 1e-12)
}

func TestValidateBridgeDescriptor(t *testing.T) {
	t.Parallel()

	ok := BridgeDescriptor{InputScales: []model.Scale{model.ScaleMotif, model.ScaleDomain}, OutputScale: model.ScaleGene}
	require.NoError(t, ValidateBridgeDescriptor(ok))

	for _, d := range []BridgeDescriptor{
		{OutputScale: model.ScaleGene},
		{InputScales: []model.Scale{model.ScaleGene}, OutputScale: model.ScaleGene},
		{InputScales: []model.Scale{model.ScaleOperon}, OutputScale: model.ScaleGene},
		{InputScales: []model.Scale{model.ScaleMotif, model.ScaleMotif}, OutputScale: model.ScaleGene},
	} {
		assert.ErrorIs(t, ValidateBridgeDescriptor(d), model.ErrValidation)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "motif.tata (regulatory) [nucleotide → motif]", DescribeAnalyzer("motif.tata", motifAnalyzer()))
	assert.Equal(t, "genes [motif,domain → gene]", DescribeBridge("genes", mergeBridge(model.ScaleMotif, model.ScaleDomain)))
}
