package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrCustomerExists   = errors.New("customer already exists")

	// ErrConflict means a concurrent transition on the same customer changed
	// its state between read and write.
	ErrConflict = errors.New("concurrent transition conflict")

	// ErrStorageUnavailable means nothing was committed; the call is safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrInvalidDelta       = errors.New("counter delta must be positive")
	ErrInvalidPeriodRange = errors.New("invalid period range")
)

// TransitionError is returned when the requested edge does not exist.
type TransitionError struct {
	From         State
	To           State
	Explanation  string
	ValidTargets []State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition from %q to %q rejected: %s", e.From, e.To, e.Explanation)
}

// CounterDegradedError reports that a transition committed but one or more
// aggregate counter increments failed. The transition result accompanying it
// is valid.
type CounterDegradedError struct {
	Keys []CounterKey
	Err  error
}

func (e *CounterDegradedError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = k.String()
	}
	return fmt.Sprintf("transition committed but counters %s not updated: %v", strings.Join(keys, ", "), e.Err)
}

func (e *CounterDegradedError) Unwrap() error { return e.Err }
