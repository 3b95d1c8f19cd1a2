package domain

import (
	"fmt"
	"time"
)

// DefaultPeriodLayout buckets counters by calendar month. Periods formatted
// with it sort lexicographically in time order.
const DefaultPeriodLayout = "2006-01"

// AllCategories is the category of the unscoped bucket.
const AllCategories = ""

// CounterKey identifies one aggregate bucket.
type CounterKey struct {
	Period   string
	Category string
}

func (k CounterKey) String() string {
	if k.Category == AllCategories {
		return k.Period
	}
	return k.Period + "/" + k.Category
}

// CounterBucket is a counter key with its current count.
type CounterBucket struct {
	Key   CounterKey
	Count int64
}

// CountingPolicy decides which transitions bump aggregate counters and
// under which keys.
type CountingPolicy struct {
	States       []State
	PeriodLayout string
}

// Counts reports whether arriving in s is counted.
func (p CountingPolicy) Counts(s State) bool {
	for _, c := range p.States {
		if c == s {
			return true
		}
	}
	return false
}

// Period formats t in UTC with the policy layout.
func (p CountingPolicy) Period(t time.Time) string {
	layout := p.PeriodLayout
	if layout == "" {
		layout = DefaultPeriodLayout
	}
	return t.UTC().Format(layout)
}

// Keys returns the buckets a counted transition increments: the unscoped
// bucket and, when the customer carries a category, the category bucket.
func (p CountingPolicy) Keys(period, category string) []CounterKey {
	keys := []CounterKey{{Period: period, Category: AllCategories}}
	if category != AllCategories {
		keys = append(keys, CounterKey{Period: period, Category: category})
	}
	return keys
}

// ValidatePeriodRange rejects inverted or empty ranges.
func ValidatePeriodRange(start, end string) error {
	if start == "" || end == "" {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidPeriodRange)
	}
	if start > end {
		return fmt.Errorf("%w: start %q is after end %q", ErrInvalidPeriodRange, start, end)
	}
	return nil
}
