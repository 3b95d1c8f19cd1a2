package domain

import (
	"context"
	"time"
)

// CustomerRepository is the entity store. It owns the current-state record.
type CustomerRepository interface {
	// Create stores a new customer and, when genesis is non-nil, its
	// creation record in the same unit of work.
	Create(ctx context.Context, customer Customer, genesis *TransitionRecord) error
	Get(ctx context.Context, id string, scope LookupScope) (Customer, error)
	// ApplyTransition sets customer.State, advances the version from
	// customer.Version and appends rec atomically. It returns ErrConflict
	// when the stored version no longer matches customer.Version.
	ApplyTransition(ctx context.Context, customer Customer, rec TransitionRecord) (Customer, TransitionRecord, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// AuditTrail is the append-only per-customer history.
type AuditTrail interface {
	Append(ctx context.Context, rec TransitionRecord) (TransitionRecord, error)
	// History returns records most recent first.
	History(ctx context.Context, customerID string) ([]TransitionRecord, error)
	Latest(ctx context.Context, customerID string) (TransitionRecord, bool, error)
	// CountCounted recomputes bucket counts from history for an inclusive
	// period range, including the unscoped bucket.
	CountCounted(ctx context.Context, startPeriod, endPeriod string) ([]CounterBucket, error)
}

// CounterStore holds aggregate counters. Increment and Add are atomic
// upserts; no caller can set or decrease a count.
type CounterStore interface {
	Increment(ctx context.Context, key CounterKey) (int64, error)
	Add(ctx context.Context, key CounterKey, delta int64) (int64, error)
	Get(ctx context.Context, key CounterKey) (int64, error)
	ListByPeriodRange(ctx context.Context, startPeriod, endPeriod string) ([]CounterBucket, error)
}

// StateGraph answers transition validity queries. Implementations are
// stateless and safe for concurrent use.
type StateGraph interface {
	IsValidTransition(from, to State) bool
	ValidTargets(from State) []State
	Explain(from, to State) string
}

// ReconcileQueue schedules a recount of counters for a period range.
type ReconcileQueue interface {
	EnqueueReconcile(ctx context.Context, startPeriod, endPeriod string) error
}
