package domain

import "time"

// TransitionRecord is one immutable entry in a customer's history.
// From is nil only for the record written when the customer is created.
// Period and Category carry the counter attribution and are empty when To
// is not a counted state.
type TransitionRecord struct {
	Seq        int64
	CustomerID string
	From       *State
	To         State
	Reason     string
	OccurredAt time.Time
	Period     string
	Category   string
}

// Counted reports whether the record contributed to aggregate counters.
func (r TransitionRecord) Counted() bool {
	return r.Period != ""
}

// Clock supplies the current time. Injected so tests and backdated
// corrections can control period derivation.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
