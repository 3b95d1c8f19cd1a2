package fsm

import (
	"fmt"
	"strings"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// Compile-time check: Graph implements domain.StateGraph.
var _ domain.StateGraph = (*Graph)(nil)

// Graph implements domain.StateGraph using looplab/fsm. The edge table is
// compiled once into one event per target state ("to:CERTIFIED" with every
// state that may reach CERTIFIED as a source). Each query runs against a
// short-lived FSM seeded with the source state, since looplab/fsm tracks the
// current state internally.
type Graph struct {
	table  domain.Graph
	events []loopfsm.EventDesc
}

// New compiles the given edge table.
func New(table domain.Graph) *Graph {
	return &Graph{table: table, events: buildEvents(table)}
}

func buildEvents(table domain.Graph) []loopfsm.EventDesc {
	sources := make(map[domain.State][]string)
	for _, src := range table.States() {
		for _, dst := range table.Successors(src) {
			sources[dst] = append(sources[dst], string(src))
		}
	}

	out := make([]loopfsm.EventDesc, 0, len(sources))
	for _, dst := range table.States() {
		if len(sources[dst]) == 0 {
			continue
		}
		out = append(out, loopfsm.EventDesc{
			Name: eventName(dst),
			Src:  sources[dst],
			Dst:  string(dst),
		})
	}
	return out
}

func eventName(to domain.State) string {
	return "to:" + string(to)
}

func (g *Graph) machine(from domain.State) *loopfsm.FSM {
	return loopfsm.NewFSM(string(from), g.events, nil)
}

// IsValidTransition reports whether the edge from -> to exists. Same-state
// requests and unknown states are never valid.
func (g *Graph) IsValidTransition(from, to domain.State) bool {
	if from == to || !g.table.Knows(from) || !g.table.Knows(to) {
		return false
	}
	return g.machine(from).Can(eventName(to))
}

// ValidTargets returns the successors of from in declaration order. It is
// empty for terminal and unknown states.
func (g *Graph) ValidTargets(from domain.State) []domain.State {
	if !g.table.Knows(from) {
		return []domain.State{}
	}

	available := make(map[string]bool)
	for _, name := range g.machine(from).AvailableTransitions() {
		available[name] = true
	}

	out := make([]domain.State, 0, len(available))
	for _, s := range g.table.States() {
		if available[eventName(s)] {
			out = append(out, s)
		}
	}
	return out
}

// Explain describes why from -> to is or is not allowed. The wording is
// stable and meant for error surfaces only.
func (g *Graph) Explain(from, to domain.State) string {
	switch {
	case !g.table.Knows(from):
		return fmt.Sprintf("unknown state %q", from)
	case !g.table.Knows(to):
		return fmt.Sprintf("unknown target state %q", to)
	case from == to:
		return fmt.Sprintf("customer is already in %q", from)
	case g.IsValidTransition(from, to):
		return fmt.Sprintf("transition from %q to %q is allowed", from, to)
	}

	targets := g.ValidTargets(from)
	if len(targets) == 0 {
		return fmt.Sprintf("state %q is terminal; no transitions leave it", from)
	}
	if to == g.table.Initial() {
		return fmt.Sprintf("cannot return to %q; valid targets: %s", to, joinStates(targets))
	}
	return fmt.Sprintf("%q is not reachable from %q; valid targets: %s", to, from, joinStates(targets))
}

func joinStates(states []domain.State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
