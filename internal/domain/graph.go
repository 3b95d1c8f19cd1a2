package domain

import (
	"fmt"
	"slices"
)

// Graph is the static edge table of the lifecycle: for every known state, the
// states reachable from it in one transition. It holds data only; validation
// is performed by a StateGraph built from it.
type Graph struct {
	initial State
	states  []State
	edges   map[State][]State
}

// NewGraph builds a graph from an explicit adjacency table. Every state named
// in edges must be listed in states, and initial must be one of them.
func NewGraph(initial State, states []State, edges map[State][]State) (Graph, error) {
	if len(states) == 0 {
		return Graph{}, fmt.Errorf("graph has no states")
	}
	known := make(map[State]bool, len(states))
	for _, s := range states {
		if s == "" {
			return Graph{}, fmt.Errorf("graph contains an empty state name")
		}
		if known[s] {
			return Graph{}, fmt.Errorf("state %q declared twice", s)
		}
		known[s] = true
	}
	if !known[initial] {
		return Graph{}, fmt.Errorf("initial state %q is not declared", initial)
	}

	g := Graph{
		initial: initial,
		states:  slices.Clone(states),
		edges:   make(map[State][]State, len(states)),
	}
	for src, dsts := range edges {
		if !known[src] {
			return Graph{}, fmt.Errorf("edge source %q is not declared", src)
		}
		for _, dst := range dsts {
			if !known[dst] {
				return Graph{}, fmt.Errorf("edge %q -> %q targets an undeclared state", src, dst)
			}
			if dst == src {
				return Graph{}, fmt.Errorf("self-loop on %q is not allowed", src)
			}
		}
		g.edges[src] = g.ordered(dsts)
	}
	return g, nil
}

// NewReturnlessGraph builds the default rule: every state may reach every
// other state except the initial one, and nothing returns to the initial state.
func NewReturnlessGraph(initial State, states ...State) (Graph, error) {
	edges := make(map[State][]State, len(states))
	for _, src := range states {
		for _, dst := range states {
			if dst == src || dst == initial {
				continue
			}
			edges[src] = append(edges[src], dst)
		}
	}
	return NewGraph(initial, states, edges)
}

// DefaultGraph returns the returnless graph over DefaultStates.
func DefaultGraph() Graph {
	g, err := NewReturnlessGraph(StateNew, DefaultStates...)
	if err != nil {
		panic(err)
	}
	return g
}

// Initial returns the state every customer starts in.
func (g Graph) Initial() State { return g.initial }

// States returns the declared states in declaration order.
func (g Graph) States() []State { return slices.Clone(g.states) }

// Knows reports whether s is a declared state.
func (g Graph) Knows(s State) bool { return slices.Contains(g.states, s) }

// Successors returns the states reachable from s, in declaration order.
func (g Graph) Successors(s State) []State { return slices.Clone(g.edges[s]) }

// ordered returns dsts deduplicated and sorted by declaration order.
func (g Graph) ordered(dsts []State) []State {
	out := make([]State, 0, len(dsts))
	for _, s := range g.states {
		if slices.Contains(dsts, s) {
			out = append(out, s)
		}
	}
	return out
}
