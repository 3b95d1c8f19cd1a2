package domain

import "time"

// State is one member of the closed set of lifecycle states a customer may occupy.
type State string

const (
	StateNew       State = "NEW"
	StateNotified  State = "NOTIFIED"
	StateAborted   State = "ABORTED"
	StateSubmitted State = "SUBMITTED"
	StateCertified State = "CERTIFIED"
)

// DefaultStates lists the built-in states in declaration order. StateNew is the initial state.
var DefaultStates = []State{StateNew, StateNotified, StateAborted, StateSubmitted, StateCertified}

func (s State) String() string { return string(s) }

// Customer is the tracked entity. State is only changed through the lifecycle
// service; Version guards it against concurrent writers.
type Customer struct {
	ID             string
	Name           string
	Category       string
	State          State
	Version        int64
	StateChangedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// NewCustomer creates a customer in the given initial state.
func NewCustomer(id, name, category string, initial State, now time.Time) Customer {
	now = now.UTC()
	return Customer{
		ID:             id,
		Name:           name,
		Category:       category,
		State:          initial,
		Version:        1,
		StateChangedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Deleted reports whether the customer has been soft-deleted.
func (c Customer) Deleted() bool {
	return c.DeletedAt != nil
}

// LookupScope selects whether soft-deleted customers are visible to a read.
type LookupScope int

const (
	// ExcludeDeleted hides soft-deleted customers. Default for all callers.
	ExcludeDeleted LookupScope = iota
	// IncludeDeleted is reserved for administrative flows.
	IncludeDeleted
)
