package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/genomesim/internal/analysis"
	"github.com/sells-group/genomesim/internal/model"
	"github.com/sells-group/genomesim/internal/registry"
)

// countingAnalyzer emits one feature per call at its output scale.
type countingAnalyzer struct {
	out   model.Scale
	score float64
	emit  bool
	calls *atomic.Int32
	err   error
	hook  func()
}

func (a *countingAnalyzer) Describe() analysis.Descriptor {
	return analysis.Descriptor{AnalysisType: model.AnalysisStructural, InputScale: model.ScaleNucleotide, OutputScale: a.out, Version: "test"}
}

func (a *countingAnalyzer) Parameters() map[string]any { return map[string]any{"score": a.score} }

func (a *countingAnalyzer) Analyze(_ context.Context, seq analysis.Sequence) ([]analysis.Candidate, error) {
	if a.calls != nil {
		a.calls.Add(1)
	}
	if a.hook != nil {
		a.hook()
	}
	if a.err != nil {
		return nil, a.err
	}
	if !a.emit {
		return nil, nil
	}
	c := model.MustConfidence(a.score, "fixture", []string{"window"}, map[string]any{"length": seq.Len()})
	return []analysis.Candidate{{Start: 0, End: seq.Len(), Strand: model.StrandForward, FeatureType: a.out.String(), Confidence: c}}, nil
}

// meanBridge emits one feature spanning all inputs with the weighted average
// of their confidences, penalized when a declared scale supplied nothing.
type meanBridge struct {
	in    []model.Scale
	out   model.Scale
	calls *atomic.Int32
}

func (b *meanBridge) Describe() analysis.BridgeDescriptor {
	return analysis.BridgeDescriptor{InputScales: b.in, OutputScale: b.out, Version: "test"}
}

func (b *meanBridge) Parameters() map[string]any { return nil }

func (b *meanBridge) Bridge(_ context.Context, ev analysis.Evidence) ([]analysis.Candidate, error) {
	if b.calls != nil {
		b.calls.Add(1)
	}
	var inputs []model.GenomicFeature
	var confs []model.Confidence
	var priors []model.Confidence
	for _, s := range b.in {
		fs := ev.At(s)
		if len(fs) == 0 {
			p := model.MustConfidence(0.2, "absent", []string{"no_" + s.String()}, nil)
			priors = append(priors, p)
			confs = append(confs, p)
			continue
		}
		for _, f := range fs {
			inputs = append(inputs, f)
			confs = append(confs, f.Confidence().Qualify(f.Provenance().Producer()))
		}
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	c, err := model.Aggregate(confs, model.WeightedAverage, nil)
	if err != nil {
		return nil, err
	}
	end := 0
	for _, f := range inputs {
		if f.End() > end {
			end = f.End()
		}
	}
	return []analysis.Candidate{{Start: 0, End: end, FeatureType: b.out.String(), Confidence: c, Inputs: inputs, Priors: priors}}, nil
}

func addAnalyzer(t *testing.T, r *registry.Registry, id string, a *countingAnalyzer) {
	t.Helper()
	require.NoError(t, r.RegisterAnalyzer(id, func(analysis.Options) (analysis.Analyzer, error) { return a, nil }))
}

func addBridge(t *testing.T, r *registry.Registry, id string, b *meanBridge) {
	t.Helper()
	require.NoError(t, r.RegisterBridge(id, func(analysis.Options) (analysis.Bridge, error) { return b, nil }))
}

const testSeq = "ACGTACGTNNACGTACGTAC"

func TestEngine_SingleAnalyzer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := registry.New()
	addAnalyzer(t, r, "motif", &countingAnalyzer{out: model.ScaleMotif, score: 0.7, emit: true, calls: &calls})

	res, err := New(r, Config{}).Run(context.Background(), Request{Sequence: testSeq, SequenceID: "chr1", Target: model.ScaleMotif})
	require.NoError(t, err)
	assert.Len(t, res.Plan.Stages, 1)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, res.Features, 1)
	assert.Equal(t, model.ScaleMotif, res.Features[0].Scale())
	assert.Equal(t, "chr1", res.Features[0].SequenceID())
	assert.Empty(t, res.Features[0].Provenance().Dependencies())
}

func TestEngine_BridgeDependsOnBothAnalyzers(t *testing.T) {
	t.Parallel()

	var bridgeCalls atomic.Int32
	r := registry.New()
	addAnalyzer(t, r, "motif.tata", &countingAnalyzer{out: model.ScaleMotif, score: 0.9, emit: true})
	addAnalyzer(t, r, "motif.caat", &countingAnalyzer{out: model.ScaleMotif, score: 0.5, emit: true})
	addBridge(t, r, "genes", &meanBridge{in: []model.Scale{model.ScaleMotif}, out: model.ScaleGene, calls: &bridgeCalls})

	res, err := New(r, Config{MaxWorkers: 2}).Run(context.Background(), Request{Sequence: testSeq, SequenceID: "chr1", Target: model.ScaleGene})
	require.NoError(t, err)
	assert.Equal(t, []string{"motif.caat", "motif.tata", "genes"}, res.Plan.IDs())
	assert.Equal(t, int32(1), bridgeCalls.Load())

	require.Len(t, res.Features, 1)
	gene := res.Features[0]
	assert.Equal(t, model.ScaleGene, gene.Scale())
	assert.Equal(t, []string{"motif.caat", "motif.tata"}, gene.Provenance().Dependencies())
	assert.InDelta(t, 0.7, gene.Confidence().Score(), 1e-9)
	assert.Len(t, res.All, 3)
}

func TestEngine_UnsatisfiableTarget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := registry.New()
	addAnalyzer(t, r, "motif", &countingAnalyzer{out: model.ScaleMotif, score: 0.7, emit: true, calls: &calls})

	res, err := New(r, Config{}).Run(context.Background(), Request{Sequence: testSeq, Target: model.ScaleOperon})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, model.ErrUnsatisfiableTarget)
	assert.Equal(t, int32(0), calls.Load())
}

func TestEngine_EmptyScaleIsValidBridgeInput(t *testing.T) {
	t.Parallel()

	r := registry.New()
	addAnalyzer(t, r, "motif", &countingAnalyzer{out: model.ScaleMotif, score: 0.8, emit: true})
	addAnalyzer(t, r, "domain", &countingAnalyzer{out: model.ScaleDomain, score: 0.8})
	addBridge(t, r, "genes", &meanBridge{in: []model.Scale{model.ScaleMotif, model.ScaleDomain}, out: model.ScaleGene})

	res, err := New(r, Config{}).Run(context.Background(), Request{Sequence: testSeq, Target: model.ScaleGene})
	require.NoError(t, err)
	require.Len(t, res.Features, 1)

	gene := res.Features[0]
	assert.Equal(t, []string{"motif"}, gene.Provenance().Dependencies())
	assert.InDelta(t, 0.5, gene.Confidence().Score(), 1e-9)
	assert.Contains(t, gene.Confidence().Sources(), "no_domain")
}

func TestEngine_Deterministic(t *testing.T) {
	t.Parallel()

	build := func() *Engine {
		r := registry.New()
		addAnalyzer(t, r, "m3", &countingAnalyzer{out: model.ScaleMotif, score: 0.3, emit: true, hook: func() { time.Sleep(time.Millisecond) }})
		addAnalyzer(t, r, "m1", &countingAnalyzer{out: model.ScaleMotif, score: 0.6, emit: true, hook: func() { time.Sleep(3 * time.Millisecond) }})
		addAnalyzer(t, r, "m2", &countingAnalyzer{out: model.ScaleMotif, score: 0.9, emit: true})
		addBridge(t, r, "genes", &meanBridge{in: []model.Scale{model.ScaleMotif}, out: model.ScaleGene})
		return New(r, Config{MaxWorkers: 3})
	}

	summarize := func(fs []model.GenomicFeature) []string {
		out := make([]string, len(fs))
		for i, f := range fs {
			out[i] = f.String() + " " + f.Provenance().Producer() + " " + f.Confidence().Method()
		}
		return out
	}

	req := Request{Sequence: testSeq, SequenceID: "chr2", Target: model.ScaleGene}
	first, err := build().Run(context.Background(), req)
	require.NoError(t, err)
	second, err := build().Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, summarize(first.All), summarize(second.All))
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{
		first.All[0].Provenance().Producer(),
		first.All[1].Provenance().Producer(),
		first.All[2].Provenance().Producer(),
	})
}

func TestEngine_StageFailure(t *testing.T) {
	t.Parallel()

	var bridgeCalls atomic.Int32
	r := registry.New()
	addAnalyzer(t, r, "good", &countingAnalyzer{out: model.ScaleMotif, score: 0.8, emit: true})
	addAnalyzer(t, r, "bad", &countingAnalyzer{out: model.ScaleMotif, err: eris.Wrap(model.ErrValidation, "bad window")})
	addBridge(t, r, "genes", &meanBridge{in: []model.Scale{model.ScaleMotif}, out: model.ScaleGene, calls: &bridgeCalls})

	res, err := New(r, Config{}).Run(context.Background(), Request{Sequence: testSeq, Target: model.ScaleGene})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, model.ErrValidation)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "bad", re.Producer)
	assert.Contains(t, re.Failures, "bad")
	require.Len(t, re.Partial, 1)
	assert.Equal(t, "good", re.Partial[0].Provenance().Producer())
	assert.Equal(t, int32(0), bridgeCalls.Load())
	assert.Contains(t, err.Error(), `"bad"`)
}

func TestEngine_MultipleFailuresCombined(t *testing.T) {
	t.Parallel()

	r := registry.New()
	addAnalyzer(t, r, "b", &countingAnalyzer{out: model.ScaleMotif, err: eris.New("second")})
	addAnalyzer(t, r, "a", &countingAnalyzer{out: model.ScaleMotif, err: eris.New("first")})

	_, err := New(r, Config{}).Run(context.Background(), Request{Sequence: testSeq, Target: model.ScaleMotif})
	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "a", re.Producer)
	assert.Len(t, re.Failures, 2)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
}

func TestEngine_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := registry.New()
	addAnalyzer(t, r, "motif", &countingAnalyzer{out: model.ScaleMotif, score: 0.7, emit: true, calls: &calls})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(r, Config{}).Run(ctx, Request{Sequence: testSeq, Target: model.ScaleMotif})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, model.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestEngine_CancelledMidRunDiscardsResults(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var analyzerCalls, bridgeCalls atomic.Int32
	r := registry.New()
	addAnalyzer(t, r, "motif", &countingAnalyzer{out: model.ScaleMotif, score: 0.7, emit: true, calls: &analyzerCalls, hook: cancel})
	addBridge(t, r, "genes", &meanBridge{in: []model.Scale{model.ScaleMotif}, out: model.ScaleGene, calls: &bridgeCalls})

	res, err := New(r, Config{}).Run(ctx, Request{Sequence: testSeq, Target: model.ScaleGene})
	assert.Nil(t, res)
	require.ErrorIs(t, err, model.ErrCancelled)

	var ce *CancelledError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"motif"}, ce.Completed)
	assert.Equal(t, int32(1), analyzerCalls.Load())
	assert.Equal(t, int32(0), bridgeCalls.Load())
}

func TestEngine_InvalidSequence(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := registry.New()
	addAnalyzer(t, r, "motif", &countingAnalyzer{out: model.ScaleMotif, score: 0.7, emit: true, calls: &calls})

	_, err := New(r, Config{}).Run(context.Background(), Request{Sequence: "", Target: model.ScaleMotif})
	assert.ErrorIs(t, err, model.ErrInvalidSequence)

	_, err = New(r, Config{}).Run(context.Background(), Request{Sequence: "ACGT!!", Target: model.ScaleMotif})
	assert.ErrorIs(t, err, model.ErrInvalidSequence)
	assert.Equal(t, int32(0), calls.Load())
}

func TestEngine_RespectsMaxWorkers(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	hook := func() {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
	}

	r := registry.New()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		addAnalyzer(t, r, id, &countingAnalyzer{out: model.ScaleMotif, score: 0.5, emit: true, hook: hook})
	}

	res, err := New(r, Config{MaxWorkers: 2}).Run(context.Background(), Request{Sequence: testSeq, Target: model.ScaleMotif})
	require.NoError(t, err)
	assert.Len(t, res.Features, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEngine_Plan(t *testing.T) {
	t.Parallel()

	r := registry.New()
	addAnalyzer(t, r, "motif", &countingAnalyzer{out: model.ScaleMotif})
	addBridge(t, r, "genes", &meanBridge{in: []model.Scale{model.ScaleMotif}, out: model.ScaleGene})

	plan, err := New(r, Config{}).Plan(model.ScaleGene, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"motif", "genes"}, plan.IDs())
}

func TestEngine_OptionsForUnregisteredProducer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := registry.New()
	addAnalyzer(t, r, "motif.iupac", &countingAnalyzer{out: model.ScaleMotif, emit: true, score: 0.5, calls: &calls})

	_, err := New(r, Config{}).Run(context.Background(), Request{
		Sequence: testSeq,
		Target:   model.ScaleMotif,
		Options:  map[string]analysis.Options{"motif.iupak": {"max_mismatches": 3}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "motif.iupak")
	assert.Zero(t, calls.Load())

	_, err = New(r, Config{}).Plan(model.ScaleMotif, map[string]analysis.Options{"motif.iupac": {}})
	require.NoError(t, err)
}

func TestEngine_InvalidDescriptor(t *testing.T) {
	t.Parallel()

	r := registry.New()
	addBridge(t, r, "flat", &meanBridge{in: []model.Scale{model.ScaleGene}, out: model.ScaleGene})

	_, err := New(r, Config{}).Plan(model.ScaleGene, nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestFeatureStore_PlanOrderIndependentOfAppendOrder(t *testing.T) {
	t.Parallel()

	plan := Plan{Stages: []Stage{{Node: analyzerNode("a", model.ScaleMotif)}, {Node: analyzerNode("b", model.ScaleMotif)}}}
	fa := mustFeature(t, "a")
	fb := mustFeature(t, "b")

	s := NewFeatureStore(plan)
	s.Append("b", model.ScaleMotif, []model.GenomicFeature{fb})
	s.Append("a", model.ScaleMotif, []model.GenomicFeature{fa})

	got := s.Scale(model.ScaleMotif)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Provenance().Producer())
	assert.Equal(t, "b", got[1].Provenance().Producer())
	assert.Equal(t, 2, s.Len())

	snap := s.Snapshot([]model.Scale{model.ScaleMotif, model.ScaleDomain})
	assert.Len(t, snap[model.ScaleMotif], 2)
	assert.NotNil(t, snap[model.ScaleDomain])
	assert.Empty(t, snap[model.ScaleDomain])
}

func mustFeature(t *testing.T, producer string) model.GenomicFeature {
	t.Helper()
	prov, err := model.NewProvenance(producer, "1", nil, nil, nil)
	require.NoError(t, err)
	f, err := model.NewFeature(model.FeatureSpec{
		Start: 0, End: 4, FeatureType: "motif", Scale: model.ScaleMotif,
		Confidence: model.MustConfidence(0.5, "m", []string{"s"}, nil),
		Provenance: prov,
	})
	require.NoError(t, err)
	return f
}
