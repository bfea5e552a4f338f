package engine

import (
	"sort"
	"sync"

	"github.com/sells-group/genomesim/internal/model"
)

// FeatureStore is the scale-indexed feature collection of a single run.
//
// Each scale bucket is an append-only collection with its own lock, so
// producers writing different scales never contend and a bridge can read a
// finished scale while analyzers are still writing others. Reads return
// features grouped by producer in plan order, independent of completion
// order.
type FeatureStore struct {
	rank    map[string]int
	buckets map[model.Scale]*bucket
}

type bucket struct {
	mu       sync.Mutex
	segments map[int][]model.GenomicFeature
}

// NewFeatureStore creates an empty store for plan.
func NewFeatureStore(plan Plan) *FeatureStore {
	s := &FeatureStore{
		rank:    make(map[string]int, len(plan.Stages)),
		buckets: make(map[model.Scale]*bucket),
	}
	for i, st := range plan.Stages {
		s.rank[st.ID] = i
	}
	for _, sc := range model.Scales() {
		s.buckets[sc] = &bucket{segments: make(map[int][]model.GenomicFeature)}
	}
	return s
}

// Append adds features emitted by producer at scale.
func (s *FeatureStore) Append(producer string, scale model.Scale, fs []model.GenomicFeature) {
	b, ok := s.buckets[scale]
	if !ok || len(fs) == 0 {
		return
	}
	r, ok := s.rank[producer]
	if !ok {
		r = len(s.rank)
	}
	b.mu.Lock()
	b.segments[r] = append(b.segments[r], fs...)
	b.mu.Unlock()
}

// Scale returns a copy of the features at sc in plan order.
func (s *FeatureStore) Scale(sc model.Scale) []model.GenomicFeature {
	b, ok := s.buckets[sc]
	if !ok {
		return []model.GenomicFeature{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ranks := make([]int, 0, len(b.segments))
	n := 0
	for r, seg := range b.segments {
		ranks = append(ranks, r)
		n += len(seg)
	}
	sort.Ints(ranks)

	out := make([]model.GenomicFeature, 0, n)
	for _, r := range ranks {
		out = append(out, b.segments[r]...)
	}
	return out
}

// Snapshot returns the features at each of scales. Every requested scale is
// present, empty when nothing was produced there.
func (s *FeatureStore) Snapshot(scales []model.Scale) map[model.Scale][]model.GenomicFeature {
	out := make(map[model.Scale][]model.GenomicFeature, len(scales))
	for _, sc := range scales {
		out[sc] = s.Scale(sc)
	}
	return out
}

// All returns every stored feature ordered by scale, then plan order.
func (s *FeatureStore) All() []model.GenomicFeature {
	var out []model.GenomicFeature
	for _, sc := range model.Scales() {
		out = append(out, s.Scale(sc)...)
	}
	return out
}

// Len is the total number of stored features.
func (s *FeatureStore) Len() int {
	n := 0
	for _, b := range s.buckets {
		b.mu.Lock()
		for _, seg := range b.segments {
			n += len(seg)
		}
		b.mu.Unlock()
	}
	return n
}
