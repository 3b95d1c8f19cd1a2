package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// Drift is a bucket whose stored count disagrees with the audit trail.
type Drift struct {
	Key      domain.CounterKey
	Expected int64
	Actual   int64
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	StartPeriod string
	EndPeriod   string
	Checked     int
	// Repaired buckets were behind the audit trail and have been topped up.
	Repaired []Drift
	// Overcounted buckets are ahead of the audit trail. Counters never
	// decrease, so these are reported only.
	Overcounted []Drift
}

// Reconciler recomputes aggregate counts from the audit trail and repairs
// buckets that missed increments, typically after a degraded transition.
// Passes hold the count gate exclusively, so they are safe to run while the
// service sharing that gate keeps accepting transitions.
type Reconciler struct {
	audit    domain.AuditTrail
	counters domain.CounterStore
	gate     *CountGate
	logger   *slog.Logger
}

// NewReconciler creates a reconciler. gate must be the one given to the
// LifecycleService writing the same counters; a nil gate only orders passes
// among themselves. A nil logger uses slog.Default().
func NewReconciler(audit domain.AuditTrail, counters domain.CounterStore, gate *CountGate, logger *slog.Logger) *Reconciler {
	if gate == nil {
		gate = NewCountGate()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{audit: audit, counters: counters, gate: gate, logger: logger}
}

// Reconcile compares every bucket in the inclusive period range.
func (r *Reconciler) Reconcile(ctx context.Context, startPeriod, endPeriod string) (ReconcileReport, error) {
	report := ReconcileReport{StartPeriod: startPeriod, EndPeriod: endPeriod}

	defer r.gate.exclusive()()

	expected, err := r.audit.CountCounted(ctx, startPeriod, endPeriod)
	if err != nil {
		return report, fmt.Errorf("recounting audit trail: %w", storageFault(err))
	}
	actual, err := r.counters.ListByPeriodRange(ctx, startPeriod, endPeriod)
	if err != nil {
		return report, fmt.Errorf("listing counters: %w", storageFault(err))
	}

	want := make(map[domain.CounterKey]int64, len(expected))
	for _, b := range expected {
		want[b.Key] = b.Count
	}
	have := make(map[domain.CounterKey]int64, len(actual))
	for _, b := range actual {
		have[b.Key] = b.Count
	}

	keys := make([]domain.CounterKey, 0, len(want)+len(have))
	for k := range want {
		keys = append(keys, k)
	}
	for k := range have {
		if _, ok := want[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Period != keys[j].Period {
			return keys[i].Period < keys[j].Period
		}
		return keys[i].Category < keys[j].Category
	})

	for _, key := range keys {
		report.Checked++
		d := Drift{Key: key, Expected: want[key], Actual: have[key]}

		switch {
		case d.Actual < d.Expected:
			if _, err := r.counters.Add(ctx, key, d.Expected-d.Actual); err != nil {
				return report, fmt.Errorf("repairing counter %s: %w", key, storageFault(err))
			}
			report.Repaired = append(report.Repaired, d)
			r.logger.WarnContext(ctx, "counter repaired",
				"bucket", key.String(),
				"expected", d.Expected,
				"actual", d.Actual,
			)
		case d.Actual > d.Expected:
			report.Overcounted = append(report.Overcounted, d)
			r.logger.ErrorContext(ctx, "counter ahead of audit trail",
				"bucket", key.String(),
				"expected", d.Expected,
				"actual", d.Actual,
			)
		}
	}

	r.logger.InfoContext(ctx, "counters reconciled",
		"start_period", startPeriod,
		"end_period", endPeriod,
		"checked", report.Checked,
		"repaired", len(report.Repaired),
		"overcounted", len(report.Overcounted),
	)
	return report, nil
}
