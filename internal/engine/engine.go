// Package engine resolves and executes producer plans against a registry.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/genomesim/internal/analysis"
	"github.com/sells-group/genomesim/internal/model"
	"github.com/sells-group/genomesim/internal/registry"
)

const defaultMaxWorkers = 4

// Config controls engine execution.
type Config struct {
	// MaxWorkers bounds the number of stages running at once within a level.
	MaxWorkers int
	// Tolerance is the fraction of disallowed sequence characters accepted
	// before validation fails.
	Tolerance float64
}

// Request is one pipeline invocation.
type Request struct {
	Sequence   string
	SequenceID string
	Target     model.Scale
	// Options holds per-producer construction options keyed by identifier.
	Options map[string]analysis.Options
}

// Result is a completed run.
type Result struct {
	Plan Plan
	// Features are the features at the target scale in plan order.
	Features []model.GenomicFeature
	// All holds every feature produced, ordered by scale then plan order.
	All []model.GenomicFeature
}

// RunError reports stage failures. Producer is the first failed stage in
// plan order.
type RunError struct {
	Producer string
	Failures map[string]error
	// Partial holds the features of stages that completed before the run
	// stopped. They were not integrated into any downstream bridge output.
	Partial []model.GenomicFeature
	err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed at producer %q: %v", e.Producer, e.err)
}

// Unwrap exposes the combined stage errors.
func (e *RunError) Unwrap() error { return e.err }

// CancelledError reports a run stopped by context cancellation. All results
// were discarded.
type CancelledError struct {
	Completed []string
	Cause     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run cancelled after %d stages: %v", len(e.Completed), e.Cause)
}

// Is matches model.ErrCancelled.
func (e *CancelledError) Is(target error) bool { return target == model.ErrCancelled }

// Unwrap exposes the context error.
func (e *CancelledError) Unwrap() error { return e.Cause }

// Engine executes plans built from a registry.
type Engine struct {
	reg *registry.Registry
	cfg Config
}

// New creates an engine over reg.
func New(reg *registry.Registry, cfg Config) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	return &Engine{reg: reg, cfg: cfg}
}

// Instantiate creates a fresh instance of every registered producer. Options
// keyed by an identifier that is not registered fail with ErrNotFound.
func (e *Engine) Instantiate(opts map[string]analysis.Options) (map[string]registry.Producer, []Node, error) {
	configured := make([]string, 0, len(opts))
	for id := range opts {
		configured = append(configured, id)
	}
	sort.Strings(configured)
	for _, id := range configured {
		if _, err := e.reg.Kind(id); err != nil {
			return nil, nil, eris.Wrap(err, "engine: options for unregistered producer")
		}
	}

	ids := e.reg.List()
	producers := make(map[string]registry.Producer, len(ids))
	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		p, err := e.reg.Create(id, opts[id])
		if err != nil {
			return nil, nil, eris.Wrap(err, "engine: instantiate")
		}
		n := Node{ID: id, Kind: p.Kind}
		switch p.Kind {
		case registry.KindAnalyzer:
			d := p.Analyzer.Describe()
			if err := analysis.ValidateDescriptor(d); err != nil {
				return nil, nil, eris.Wrapf(err, "engine: producer %q", id)
			}
			n.Output = d.OutputScale
		case registry.KindBridge:
			d := p.Bridge.Describe()
			if err := analysis.ValidateBridgeDescriptor(d); err != nil {
				return nil, nil, eris.Wrapf(err, "engine: producer %q", id)
			}
			n.Inputs = append([]model.Scale(nil), d.InputScales...)
			n.Output = d.OutputScale
		}
		producers[id] = p
		nodes = append(nodes, n)
	}
	return producers, nodes, nil
}

// Plan resolves the plan for target without running it.
func (e *Engine) Plan(target model.Scale, opts map[string]analysis.Options) (Plan, error) {
	_, nodes, err := e.Instantiate(opts)
	if err != nil {
		return Plan{}, err
	}
	return Resolve(target, nodes)
}

// Run resolves and executes a plan for req. It returns either a complete
// result or an error; a failed or cancelled run never yields features
// through Result.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	log := zap.L().With(
		zap.String("sequence_id", req.SequenceID),
		zap.Stringer("target", req.Target),
	)

	if err := ctx.Err(); err != nil {
		return nil, &CancelledError{Cause: err}
	}

	if _, err := (analysis.Validator{Tolerance: e.cfg.Tolerance}).Validate(req.Sequence, req.SequenceID); err != nil {
		return nil, eris.Wrap(err, "engine: validate sequence")
	}

	producers, nodes, err := e.Instantiate(req.Options)
	if err != nil {
		return nil, err
	}
	plan, err := Resolve(req.Target, nodes)
	if err != nil {
		log.Warn("engine: plan resolution failed", zap.Error(err))
		return nil, err
	}
	log.Debug("engine: plan resolved", zap.Strings("plan", plan.IDs()))

	store := NewFeatureStore(plan)
	var completed []string

	for level, stages := range plan.Levels() {
		if err := ctx.Err(); err != nil {
			log.Warn("engine: run cancelled", zap.Int("level", level), zap.Int("completed", len(completed)))
			return nil, &CancelledError{Completed: completed, Cause: err}
		}

		var (
			mu       sync.Mutex
			failures = make(map[string]error)
			done     []string
		)
		g := new(errgroup.Group)
		g.SetLimit(e.cfg.MaxWorkers)
		for _, st := range stages {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				start := time.Now()
				fs, runErr := e.runStage(ctx, st, producers[st.ID], req, store)
				duration := time.Since(start).Milliseconds()

				mu.Lock()
				defer mu.Unlock()
				if runErr != nil {
					failures[st.ID] = runErr
					log.Error("engine: stage failed",
						zap.String("producer", st.ID),
						zap.Int("level", st.Level),
						zap.Int64("duration_ms", duration),
						zap.Error(runErr),
					)
					return nil
				}
				store.Append(st.ID, st.Output, fs)
				done = append(done, st.ID)
				log.Info("engine: stage complete",
					zap.String("producer", st.ID),
					zap.Int("level", st.Level),
					zap.Int("features", len(fs)),
					zap.Int64("duration_ms", duration),
				)
				return nil
			})
		}
		_ = g.Wait()

		completed = append(completed, inPlanOrder(stages, done)...)

		if err := ctx.Err(); err != nil {
			log.Warn("engine: run cancelled", zap.Int("level", level), zap.Int("completed", len(completed)))
			return nil, &CancelledError{Completed: completed, Cause: err}
		}
		if len(failures) > 0 {
			return nil, newRunError(plan, failures, store)
		}
	}

	res := &Result{
		Plan:     plan,
		Features: store.Scale(plan.Target),
		All:      store.All(),
	}
	log.Info("engine: run complete",
		zap.Int("stages", len(plan.Stages)),
		zap.Int("features", len(res.Features)),
	)
	return res, nil
}

func (e *Engine) runStage(ctx context.Context, st Stage, p registry.Producer, req Request, store *FeatureStore) ([]model.GenomicFeature, error) {
	switch st.Kind {
	case registry.KindBridge:
		return analysis.RunBridge(ctx, st.ID, p.Bridge, req.SequenceID, store.Snapshot(st.Inputs))
	default:
		return analysis.RunAnalyzer(ctx, st.ID, p.Analyzer, req.Sequence, req.SequenceID, e.cfg.Tolerance)
	}
}

func newRunError(plan Plan, failures map[string]error, store *FeatureStore) *RunError {
	re := &RunError{Failures: failures, Partial: store.All()}
	for _, id := range plan.IDs() {
		err, ok := failures[id]
		if !ok {
			continue
		}
		if re.Producer == "" {
			re.Producer = id
		}
		re.err = multierr.Append(re.err, eris.Wrapf(err, "producer %s", id))
	}
	return re
}

func inPlanOrder(stages []Stage, ids []string) []string {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	var out []string
	for _, s := range stages {
		if set[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}
