// Package registry maps producer identifiers to analyzer and bridge
// factories.
//
// A Registry is populated at startup and frozen by the first Create call.
// After that it is read-only and safe to share between pipeline runs.
package registry

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/genomesim/internal/analysis"
	"github.com/sells-group/genomesim/internal/model"
)

// Kind distinguishes analyzers from bridges.
type Kind int

const (
	KindAnalyzer Kind = iota + 1
	KindBridge
)

func (k Kind) String() string {
	switch k {
	case KindAnalyzer:
		return "analyzer"
	case KindBridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// AnalyzerFactory builds a freshly configured analyzer.
type AnalyzerFactory func(opts analysis.Options) (analysis.Analyzer, error)

// BridgeFactory builds a freshly configured bridge.
type BridgeFactory func(opts analysis.Options) (analysis.Bridge, error)

// Producer is the result of Create: exactly one of Analyzer or Bridge is set.
type Producer struct {
	ID       string
	Kind     Kind
	Analyzer analysis.Analyzer
	Bridge   analysis.Bridge
}

// Describe renders the producer's human-readable summary.
func (p Producer) Describe() string {
	if p.Kind == KindBridge {
		return analysis.DescribeBridge(p.ID, p.Bridge)
	}
	return analysis.DescribeAnalyzer(p.ID, p.Analyzer)
}

// Option configures a registration.
type Option func(*registerConfig)

type registerConfig struct {
	overwrite bool
}

// Overwrite replaces an existing registration instead of failing.
func Overwrite() Option {
	return func(c *registerConfig) { c.overwrite = true }
}

type entry struct {
	kind     Kind
	analyzer AnalyzerFactory
	bridge   BridgeFactory
}

// Registry holds producer factories keyed by identifier.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	frozen  bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// RegisterAnalyzer adds an analyzer factory under id.
func (r *Registry) RegisterAnalyzer(id string, f AnalyzerFactory, opts ...Option) error {
	if f == nil {
		return eris.Wrapf(model.ErrValidation, "registry: nil analyzer factory for %q", id)
	}
	return r.register(id, entry{kind: KindAnalyzer, analyzer: f}, opts)
}

// RegisterBridge adds a bridge factory under id.
func (r *Registry) RegisterBridge(id string, f BridgeFactory, opts ...Option) error {
	if f == nil {
		return eris.Wrapf(model.ErrValidation, "registry: nil bridge factory for %q", id)
	}
	return r.register(id, entry{kind: KindBridge, bridge: f}, opts)
}

func (r *Registry) register(id string, e entry, opts []Option) error {
	if id == "" {
		return eris.Wrap(model.ErrValidation, "registry: identifier is required")
	}
	var cfg registerConfig
	for _, o := range opts {
		o(&cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return eris.Wrapf(model.ErrRegistryFrozen, "registry: register %q", id)
	}
	if _, ok := r.entries[id]; ok && !cfg.overwrite {
		return eris.Wrapf(model.ErrDuplicateRegistration, "registry: %q", id)
	}
	r.entries[id] = e
	return nil
}

// Create builds a new producer instance from the factory registered under
// id. The first call freezes the registry.
func (r *Registry) Create(id string, opts analysis.Options) (Producer, error) {
	r.mu.Lock()
	r.frozen = true
	e, ok := r.entries[id]
	r.mu.Unlock()

	if !ok {
		return Producer{}, eris.Wrapf(model.ErrNotFound, "registry: producer %q", id)
	}

	frozen := copyOptions(opts)
	p := Producer{ID: id, Kind: e.kind}
	switch e.kind {
	case KindAnalyzer:
		a, err := e.analyzer(frozen)
		if err != nil {
			return Producer{}, eris.Wrapf(err, "registry: create analyzer %q", id)
		}
		if a == nil {
			return Producer{}, eris.Wrapf(model.ErrContractViolation, "registry: factory for %q returned nil", id)
		}
		p.Analyzer = a
	case KindBridge:
		b, err := e.bridge(frozen)
		if err != nil {
			return Producer{}, eris.Wrapf(err, "registry: create bridge %q", id)
		}
		if b == nil {
			return Producer{}, eris.Wrapf(model.ErrContractViolation, "registry: factory for %q returned nil", id)
		}
		p.Bridge = b
	}
	return p, nil
}

// Kind returns the kind registered under id.
func (r *Registry) Kind(id string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return 0, eris.Wrapf(model.ErrNotFound, "registry: producer %q", id)
	}
	return e.kind, nil
}

// List returns all registered identifiers in lexicographic order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Frozen reports whether Create has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// copyOptions deep-copies nested maps and slices so a factory never shares
// state with the caller's configuration.
func copyOptions(opts analysis.Options) analysis.Options {
	out := make(analysis.Options, len(opts))
	for k, v := range opts {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = copyValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = copyValue(vv)
		}
		return s
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
