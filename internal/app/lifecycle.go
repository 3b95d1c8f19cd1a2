package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// DefaultMaxAttempts bounds internal retries of a conflicting transition.
const DefaultMaxAttempts = 3

// LifecycleConfig holds the policy knobs of the lifecycle service.
type LifecycleConfig struct {
	InitialState domain.State
	Counting     domain.CountingPolicy
	// MaxAttempts is the number of read-validate-write rounds tried before a
	// conflict is surfaced. Values below 1 mean DefaultMaxAttempts.
	MaxAttempts int
	// RecordCreation writes a history record with a nil From when a customer
	// is created.
	RecordCreation bool
}

// Outcome labels a transition attempt for observers.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeRejected Outcome = "rejected"
	OutcomeConflict Outcome = "conflict"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// TransitionObserver is notified of every transition outcome.
type TransitionObserver interface {
	ObserveTransition(ctx context.Context, from, to domain.State, outcome Outcome)
}

// TransitionRequest asks for a customer to be moved to Target.
type TransitionRequest struct {
	CustomerID string
	Target     domain.State
	Reason     string
	// CountedAt overrides the wall clock for period derivation, e.g. a
	// certification date entered after the fact.
	CountedAt *time.Time
	// IncludeDeleted allows administrative callers to transition soft-deleted customers.
	IncludeDeleted bool
}

// TransitionResult is the outcome of an accepted transition. Record is nil
// and Changed is false when the customer already was in the target state.
type TransitionResult struct {
	Customer domain.Customer
	Record   *domain.TransitionRecord
	Changed  bool
	Counts   map[domain.CounterKey]int64
}

// LifecycleService orchestrates customer lifecycle operations. It is the only
// writer of a customer's state.
type LifecycleService struct {
	repo     domain.CustomerRepository
	audit    domain.AuditTrail
	counters domain.CounterStore
	graph    domain.StateGraph
	cfg      LifecycleConfig

	clock    domain.Clock
	queue    domain.ReconcileQueue
	observer TransitionObserver
	gate     *CountGate
}

// Option customises a LifecycleService.
type Option func(*LifecycleService)

// WithClock replaces the system clock.
func WithClock(c domain.Clock) Option {
	return func(s *LifecycleService) { s.clock = c }
}

// WithReconcileQueue schedules a recount whenever counters degrade.
func WithReconcileQueue(q domain.ReconcileQueue) Option {
	return func(s *LifecycleService) { s.queue = q }
}

// WithCountGate shares g with a Reconciler so that its passes never
// interleave with counted transitions.
func WithCountGate(g *CountGate) Option {
	return func(s *LifecycleService) { s.gate = g }
}

// WithObserver reports transition outcomes, e.g. to metrics.
func WithObserver(o TransitionObserver) Option {
	return func(s *LifecycleService) { s.observer = o }
}

// NewLifecycleService creates a service with the given adapters.
func NewLifecycleService(
	repo domain.CustomerRepository,
	audit domain.AuditTrail,
	counters domain.CounterStore,
	graph domain.StateGraph,
	cfg LifecycleConfig,
	opts ...Option,
) *LifecycleService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialState == "" {
		cfg.InitialState = domain.StateNew
	}

	s := &LifecycleService{
		repo:     repo,
		audit:    audit,
		counters: counters,
		graph:    graph,
		cfg:      cfg,
		clock:    domain.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = NewCountGate()
	}
	return s
}

// Create persists a new customer in the initial state.
func (s *LifecycleService) Create(ctx context.Context, name, category string) (domain.Customer, error) {
	now := s.clock.Now()
	customer := domain.NewCustomer(generateID(), name, category, s.cfg.InitialState, now)

	var genesis *domain.TransitionRecord
	if s.cfg.RecordCreation {
		genesis = &domain.TransitionRecord{
			CustomerID: customer.ID,
			To:         customer.State,
			Reason:     "created",
			OccurredAt: customer.CreatedAt,
		}
	}

	if err := s.repo.Create(ctx, customer, genesis); err != nil {
		return domain.Customer{}, fmt.Errorf("creating customer: %w", storageFault(err))
	}
	return customer, nil
}

// Get returns a customer. Soft-deleted customers are only returned when includeDeleted is set.
func (s *LifecycleService) Get(ctx context.Context, id string, includeDeleted bool) (domain.Customer, error) {
	customer, err := s.repo.Get(ctx, id, scopeOf(includeDeleted))
	if err != nil {
		return domain.Customer{}, storageFault(err)
	}
	return customer, nil
}

// SoftDelete hides a customer from default lookups. Its history is kept.
func (s *LifecycleService) SoftDelete(ctx context.Context, id string) error {
	if err := s.repo.SoftDelete(ctx, id, s.clock.Now()); err != nil {
		return storageFault(err)
	}
	return nil
}

// History returns the customer's transition records, most recent first.
// Soft-deleted customers keep their history.
func (s *LifecycleService) History(ctx context.Context, id string) ([]domain.TransitionRecord, error) {
	if _, err := s.repo.Get(ctx, id, domain.IncludeDeleted); err != nil {
		return nil, storageFault(err)
	}
	records, err := s.audit.History(ctx, id)
	if err != nil {
		return nil, storageFault(err)
	}
	return records, nil
}

// ValidTargets lists the states the customer may move to from where it is now.
func (s *LifecycleService) ValidTargets(ctx context.Context, id string) ([]domain.State, error) {
	_, targets, err := s.CurrentTargets(ctx, id)
	return targets, err
}

// CurrentTargets returns the customer's state together with the states it
// may move to, both taken from a single read.
func (s *LifecycleService) CurrentTargets(ctx context.Context, id string) (domain.State, []domain.State, error) {
	customer, err := s.repo.Get(ctx, id, domain.ExcludeDeleted)
	if err != nil {
		return "", nil, storageFault(err)
	}
	return customer.State, s.graph.ValidTargets(customer.State), nil
}

// CanTransition reports whether the customer may move to target now.
func (s *LifecycleService) CanTransition(ctx context.Context, id string, target domain.State) (bool, error) {
	customer, err := s.repo.Get(ctx, id, domain.ExcludeDeleted)
	if err != nil {
		return false, storageFault(err)
	}
	return s.graph.IsValidTransition(customer.State, target), nil
}

// Counters lists aggregate buckets for an inclusive period range.
func (s *LifecycleService) Counters(ctx context.Context, startPeriod, endPeriod string) ([]domain.CounterBucket, error) {
	buckets, err := s.counters.ListByPeriodRange(ctx, startPeriod, endPeriod)
	if err != nil {
		return nil, storageFault(err)
	}
	return buckets, nil
}

// Transition moves a customer to req.Target.
//
// Requesting the state the customer is already in returns it unchanged
// without a history record. This deliberately overrides the graph's
// no-self-loop rule for caller convenience.
//
// The state change and its history record commit together. A concurrent
// transition on the same customer causes a re-read and re-validation, up to
// MaxAttempts rounds, before domain.ErrConflict is returned. Counter
// increments follow the commit; if any fails the committed result is still
// returned, together with a *domain.CounterDegradedError. A reconciliation
// pass sharing the service's CountGate waits for those increments.
func (s *LifecycleService) Transition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	var lastConflict error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		customer, err := s.repo.Get(ctx, req.CustomerID, scopeOf(req.IncludeDeleted))
		if err != nil {
			s.observe(ctx, "", req.Target, OutcomeFailed)
			return TransitionResult{}, storageFault(err)
		}
		from := customer.State

		if from == req.Target {
			s.observe(ctx, from, req.Target, OutcomeNoop)
			return TransitionResult{Customer: customer}, nil
		}

		if !s.graph.IsValidTransition(from, req.Target) {
			s.observe(ctx, from, req.Target, OutcomeRejected)
			return TransitionResult{}, &domain.TransitionError{
				From:         from,
				To:           req.Target,
				Explanation:  s.graph.Explain(from, req.Target),
				ValidTargets: s.graph.ValidTargets(from),
			}
		}

		rec := s.newRecord(customer, req)
		customer.State = req.Target

		result, err := s.commit(ctx, customer, rec)
		var degraded *domain.CounterDegradedError
		switch {
		case errors.As(err, &degraded):
			s.observe(ctx, from, req.Target, OutcomeDegraded)
			return result, err
		case errors.Is(err, domain.ErrConflict):
			s.observe(ctx, from, req.Target, OutcomeConflict)
			lastConflict = err
			continue
		case err != nil:
			s.observe(ctx, from, req.Target, OutcomeFailed)
			return TransitionResult{}, storageFault(err)
		}

		s.observe(ctx, from, req.Target, OutcomeApplied)
		return result, nil
	}

	return TransitionResult{}, fmt.Errorf("transitioning customer %s after %d attempts: %w",
		req.CustomerID, s.cfg.MaxAttempts, lastConflict)
}

// commit applies the transition and bumps the counters of a counted record.
// Counted commits hold the count gate until their increments have landed.
func (s *LifecycleService) commit(ctx context.Context, customer domain.Customer, rec domain.TransitionRecord) (TransitionResult, error) {
	if rec.Counted() {
		defer s.gate.shared()()
	}

	updated, rec, err := s.repo.ApplyTransition(ctx, customer, rec)
	if err != nil {
		return TransitionResult{}, err
	}

	result := TransitionResult{Customer: updated, Record: &rec, Changed: true}
	if !rec.Counted() {
		return result, nil
	}
	counts, err := s.bumpCounters(ctx, rec)
	result.Counts = counts
	return result, err
}

// newRecord prepares the history entry for moving customer to req.Target.
// OccurredAt never precedes the customer's previous state change, so a
// customer's records stay in non-decreasing time order.
func (s *LifecycleService) newRecord(customer domain.Customer, req TransitionRequest) domain.TransitionRecord {
	now := s.clock.Now().UTC()
	occurredAt := now
	if occurredAt.Before(customer.StateChangedAt) {
		occurredAt = customer.StateChangedAt
	}

	from := customer.State
	rec := domain.TransitionRecord{
		CustomerID: customer.ID,
		From:       &from,
		To:         req.Target,
		Reason:     req.Reason,
		OccurredAt: occurredAt,
	}

	if s.cfg.Counting.Counts(req.Target) {
		countedAt := now
		if req.CountedAt != nil {
			countedAt = *req.CountedAt
		}
		rec.Period = s.cfg.Counting.Period(countedAt)
		rec.Category = customer.Category
	}
	return rec
}

// bumpCounters increments every bucket the record contributes to. Failures
// do not stop the remaining increments.
func (s *LifecycleService) bumpCounters(ctx context.Context, rec domain.TransitionRecord) (map[domain.CounterKey]int64, error) {
	keys := s.cfg.Counting.Keys(rec.Period, rec.Category)
	counts := make(map[domain.CounterKey]int64, len(keys))

	var failed []domain.CounterKey
	var errs []error
	for _, key := range keys {
		n, err := s.counters.Increment(ctx, key)
		if err != nil {
			failed = append(failed, key)
			errs = append(errs, err)
			continue
		}
		counts[key] = n
	}
	if len(failed) == 0 {
		return counts, nil
	}

	if s.queue != nil {
		if err := s.queue.EnqueueReconcile(ctx, rec.Period, rec.Period); err != nil {
			errs = append(errs, fmt.Errorf("scheduling reconciliation: %w", err))
		}
	}
	return counts, &domain.CounterDegradedError{Keys: failed, Err: errors.Join(errs...)}
}

func (s *LifecycleService) observe(ctx context.Context, from, to domain.State, outcome Outcome) {
	if s.observer != nil {
		s.observer.ObserveTransition(ctx, from, to, outcome)
	}
}

func scopeOf(includeDeleted bool) domain.LookupScope {
	if includeDeleted {
		return domain.IncludeDeleted
	}
	return domain.ExcludeDeleted
}

// storageFault classifies adapter errors that are not part of the domain
// taxonomy as storage faults, so callers only ever see typed errors.
func storageFault(err error) error {
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrCustomerExists),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, domain.ErrInvalidPeriodRange),
		errors.Is(err, domain.ErrInvalidDelta),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}
