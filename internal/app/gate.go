package app

import "sync"

// CountGate orders counted transitions against reconciliation passes in one
// process. A counted transition holds it shared from its history write until
// its increments have landed; a pass holds it exclusively, so the recount
// and the counters it compares are never split by an in-flight increment.
type CountGate struct {
	mu sync.RWMutex
}

// NewCountGate returns a gate to share between a LifecycleService and the
// Reconciler that repairs its counters.
func NewCountGate() *CountGate {
	return &CountGate{}
}

func (g *CountGate) shared() (release func()) {
	g.mu.RLock()
	return g.mu.RUnlock
}

func (g *CountGate) exclusive() (release func()) {
	g.mu.Lock()
	return g.mu.Unlock
}
