package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/genomesim/internal/model"
	"github.com/sells-group/genomesim/internal/registry"
)

// Node is a producer as seen by the planner.
type Node struct {
	ID   string
	Kind registry.Kind
	// Inputs are the scales a bridge consumes. Analyzers read the raw
	// sequence and leave it empty.
	Inputs []model.Scale
	Output model.Scale
}

// Stage is one scheduled producer invocation.
type Stage struct {
	Node
	// Level groups stages that may run concurrently. Every stage at level n
	// completes before any stage at level n+1 starts.
	Level int
}

// Plan is a topologically ordered list of stages reaching Target.
type Plan struct {
	Target model.Scale
	Stages []Stage
}

// IDs returns the stage producers in plan order.
func (p Plan) IDs() []string {
	ids := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		ids[i] = s.ID
	}
	return ids
}

// Levels groups stages by level, each group in plan order.
func (p Plan) Levels() [][]Stage {
	var out [][]Stage
	for _, s := range p.Stages {
		for len(out) <= s.Level {
			out = append(out, nil)
		}
		out[s.Level] = append(out[s.Level], s)
	}
	return out
}

// UnsatisfiableTargetError reports that no producer chain reaches Target or
// that the relevant dependency graph is cyclic. Partial is the part of the
// plan that could be ordered, for diagnosis.
type UnsatisfiableTargetError struct {
	Target  model.Scale
	Reason  string
	Partial []string
}

func (e *UnsatisfiableTargetError) Error() string {
	msg := fmt.Sprintf("unsatisfiable target %s: %s", e.Target, e.Reason)
	if len(e.Partial) > 0 {
		msg += fmt.Sprintf(" (partial plan: %s)", strings.Join(e.Partial, ", "))
	}
	return msg
}

// Is matches model.ErrUnsatisfiableTarget.
func (e *UnsatisfiableTargetError) Is(target error) bool {
	return target == model.ErrUnsatisfiableTarget
}

// Resolve builds the plan for target from the registered producer nodes.
//
// Edges run from a producer to every bridge consuming its output scale. Only
// producers on some path to target are planned. Ties between ready nodes are
// broken by lexicographic identifier, so the order is reproducible.
func Resolve(target model.Scale, nodes []Node) (Plan, error) {
	if !target.Valid() {
		return Plan{}, &UnsatisfiableTargetError{Target: target, Reason: "unknown scale"}
	}

	sorted := append([]Node(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	relevant := closure(target, sorted, nil)
	if len(relevant) == 0 {
		return Plan{}, &UnsatisfiableTargetError{Target: target, Reason: "no registered producer outputs this scale"}
	}

	if order, ok := kahn(relevant); !ok {
		return Plan{}, &UnsatisfiableTargetError{
			Target:  target,
			Reason:  "dependency cycle among " + strings.Join(remaining(relevant, order), ", "),
			Partial: order,
		}
	}

	runnable := runnableSet(relevant)
	needed := closure(target, relevant, runnable)
	if len(needed) == 0 {
		var partial []string
		for _, n := range relevant {
			if runnable[n.ID] {
				partial = append(partial, n.ID)
			}
		}
		return Plan{}, &UnsatisfiableTargetError{
			Target:  target,
			Reason:  "no producer chain supplies every required input scale",
			Partial: partial,
		}
	}

	order, _ := kahn(needed)
	return Plan{Target: target, Stages: assignLevels(order, needed)}, nil
}

// closure returns the nodes on a path to target, walking backward from the
// producers of target through each bridge's input scales. When allowed is
// non-nil only those nodes are considered. The result keeps input order.
func closure(target model.Scale, nodes []Node, allowed map[string]bool) []Node {
	byOutput := make(map[model.Scale][]Node)
	for _, n := range nodes {
		if allowed != nil && !allowed[n.ID] {
			continue
		}
		byOutput[n.Output] = append(byOutput[n.Output], n)
	}

	in := make(map[string]bool)
	queue := append([]Node(nil), byOutput[target]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if in[n.ID] {
			continue
		}
		in[n.ID] = true
		for _, s := range n.Inputs {
			queue = append(queue, byOutput[s]...)
		}
	}

	var out []Node
	for _, n := range nodes {
		if in[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// runnableSet is the fixpoint of producers whose every input scale is
// produced by an already runnable producer. Analyzers are always runnable.
func runnableSet(nodes []Node) map[string]bool {
	runnable := make(map[string]bool)
	produced := make(map[model.Scale]bool)
	for changed := true; changed; {
		changed = false
		for _, n := range nodes {
			if runnable[n.ID] {
				continue
			}
			ok := true
			for _, s := range n.Inputs {
				if !produced[s] {
					ok = false
					break
				}
			}
			if ok {
				runnable[n.ID] = true
				produced[n.Output] = true
				changed = true
			}
		}
	}
	return runnable
}

// feeders returns, for each node, the nodes producing one of its inputs.
func feeders(nodes []Node) map[string][]string {
	out := make(map[string][]string, len(nodes))
	for _, consumer := range nodes {
		for _, producer := range nodes {
			for _, s := range consumer.Inputs {
				if producer.Output == s {
					out[consumer.ID] = append(out[consumer.ID], producer.ID)
					break
				}
			}
		}
	}
	return out
}

// kahn topologically sorts nodes, always taking the lexicographically
// smallest ready identifier. ok is false if a cycle prevents ordering every
// node; order then holds the nodes that could be placed.
func kahn(nodes []Node) (order []string, ok bool) {
	feed := feeders(nodes)
	indegree := make(map[string]int, len(nodes))
	consumers := make(map[string][]string)
	for _, n := range nodes {
		indegree[n.ID] = len(feed[n.ID])
		for _, p := range feed[n.ID] {
			consumers[p] = append(consumers[p], n.ID)
		}
	}

	var ready []string
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, c := range consumers[id] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	return order, len(order) == len(nodes)
}

func remaining(nodes []Node, placed []string) []string {
	done := make(map[string]bool, len(placed))
	for _, id := range placed {
		done[id] = true
	}
	var out []string
	for _, n := range nodes {
		if !done[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

func assignLevels(order []string, nodes []Node) []Stage {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	feed := feeders(nodes)

	level := make(map[string]int, len(order))
	stages := make([]Stage, 0, len(order))
	for _, id := range order {
		l := 0
		for _, p := range feed[id] {
			if level[p]+1 > l {
				l = level[p] + 1
			}
		}
		level[id] = l
		stages = append(stages, Stage{Node: byID[id], Level: l})
	}

	// Plan order is level-major so each level is a contiguous run; within a
	// level the topological order is kept.
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Level < stages[j].Level })
	return stages
}
