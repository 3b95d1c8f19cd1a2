package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neomorfeo/customeriq/internal/app"
	"github.com/neomorfeo/customeriq/internal/domain"
)

// --- Mocks ---

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// mockStore plays customer repository and audit trail, sharing one lock the
// way a database transaction would.
type mockStore struct {
	mu        sync.Mutex
	customers map[string]domain.Customer
	history   map[string][]domain.TransitionRecord
	seq       int64

	// conflicts makes the next N ApplyTransition calls fail with ErrConflict.
	conflicts int
	// beforeApply runs, unlocked, at the start of ApplyTransition.
	beforeApply func()
	// afterGet runs, unlocked, once after the next Get returns its result.
	afterGet func()
	applyErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		customers: make(map[string]domain.Customer),
		history:   make(map[string][]domain.TransitionRecord),
	}
}

func (m *mockStore) Create(_ context.Context, c domain.Customer, genesis *domain.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.ID]; ok {
		return domain.ErrCustomerExists
	}
	m.customers[c.ID] = c
	if genesis != nil {
		m.appendLocked(*genesis)
	}
	return nil
}

func (m *mockStore) Get(_ context.Context, id string, scope domain.LookupScope) (domain.Customer, error) {
	m.mu.Lock()
	c, ok := m.customers[id]
	hook := m.afterGet
	m.afterGet = nil
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok || (c.Deleted() && scope != domain.IncludeDeleted) {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c, nil
}

func (m *mockStore) ApplyTransition(_ context.Context, c domain.Customer, rec domain.TransitionRecord) (domain.Customer, domain.TransitionRecord, error) {
	if hook := m.takeHook(); hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applyErr != nil {
		return domain.Customer{}, domain.TransitionRecord{}, m.applyErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return domain.Customer{}, domain.TransitionRecord{}, domain.ErrConflict
	}

	stored, ok := m.customers[c.ID]
	if !ok {
		return domain.Customer{}, domain.TransitionRecord{}, domain.ErrCustomerNotFound
	}
	if stored.Version != c.Version {
		return domain.Customer{}, domain.TransitionRecord{}, fmt.Errorf("version %d: %w", stored.Version, domain.ErrConflict)
	}

	c.Version++
	c.StateChangedAt = rec.OccurredAt
	c.UpdatedAt = rec.OccurredAt
	m.customers[c.ID] = c
	return c, m.appendLocked(rec), nil
}

func (m *mockStore) takeHook() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	hook := m.beforeApply
	m.beforeApply = nil
	return hook
}

func (m *mockStore) SoftDelete(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return domain.ErrCustomerNotFound
	}
	if c.DeletedAt == nil {
		c.DeletedAt = &at
		m.customers[id] = c
	}
	return nil
}

// force overwrites a customer's state as if another writer had committed.
func (m *mockStore) force(id string, to domain.State, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.customers[id]
	from := c.State
	c.State = to
	c.Version++
	c.StateChangedAt = at
	m.customers[id] = c
	m.appendLocked(domain.TransitionRecord{CustomerID: id, From: &from, To: to, OccurredAt: at})
}

func (m *mockStore) Append(_ context.Context, rec domain.TransitionRecord) (domain.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(rec), nil
}

func (m *mockStore) appendLocked(rec domain.TransitionRecord) domain.TransitionRecord {
	m.seq++
	rec.Seq = m.seq
	m.history[rec.CustomerID] = append(m.history[rec.CustomerID], rec)
	return rec
}

func (m *mockStore) History(_ context.Context, id string) ([]domain.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.history[id]
	out := make([]domain.TransitionRecord, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = rec
	}
	return out, nil
}

func (m *mockStore) Latest(ctx context.Context, id string) (domain.TransitionRecord, bool, error) {
	records, _ := m.History(ctx, id)
	if len(records) == 0 {
		return domain.TransitionRecord{}, false, nil
	}
	return records[0], true, nil
}

func (m *mockStore) CountCounted(_ context.Context, start, end string) ([]domain.CounterBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.CounterKey]int64)
	for _, records := range m.history {
		for _, rec := range records {
			if !rec.Counted() || rec.Period < start || rec.Period > end {
				continue
			}
			counts[domain.CounterKey{Period: rec.Period}]++
			if rec.Category != "" {
				counts[domain.CounterKey{Period: rec.Period, Category: rec.Category}]++
			}
		}
	}
	out := make([]domain.CounterBucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, domain.CounterBucket{Key: k, Count: n})
	}
	return out, nil
}

type mockCounters struct {
	mu     sync.Mutex
	counts map[domain.CounterKey]int64
	// failFor makes increments of matching categories fail.
	failFor map[string]bool
}

func newMockCounters() *mockCounters {
	return &mockCounters{counts: make(map[domain.CounterKey]int64), failFor: make(map[string]bool)}
}

var errCounterDown = errors.New("counter backend down")

func (m *mockCounters) Increment(ctx context.Context, key domain.CounterKey) (int64, error) {
	return m.Add(ctx, key, 1)
}

func (m *mockCounters) Add(_ context.Context, key domain.CounterKey, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delta <= 0 {
		return 0, domain.ErrInvalidDelta
	}
	if m.failFor[key.Category] {
		return 0, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, errCounterDown)
	}
	m.counts[key] += delta
	return m.counts[key], nil
}

func (m *mockCounters) Get(_ context.Context, key domain.CounterKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key], nil
}

func (m *mockCounters) ListByPeriodRange(_ context.Context, start, end string) ([]domain.CounterBucket, error) {
	if err := domain.ValidatePeriodRange(start, end); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CounterBucket
	for k, n := range m.counts {
		if k.Period >= start && k.Period <= end {
			out = append(out, domain.CounterBucket{Key: k, Count: n})
		}
	}
	return out, nil
}

type mockQueue struct {
	mu      sync.Mutex
	periods [][2]string
}

func (q *mockQueue) EnqueueReconcile(_ context.Context, start, end string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.periods = append(q.periods, [2]string{start, end})
	return nil
}

type mockObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *mockObserver) ObserveTransition(_ context.Context, from, to domain.State, outcome app.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, fmt.Sprintf("%s->%s:%s", from, to, outcome))
}
