package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/neomorfeo/customeriq/internal/app"
	"github.com/neomorfeo/customeriq/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcile_RepairsMissedIncrements(t *testing.T) {
	h := newHarness(t, app.LifecycleConfig{})
	a := h.create(t, "retail")
	b := h.create(t, "retail")

	h.move(t, a.ID, domain.StateCertified)
	h.counters.failFor["retail"] = true
	_, err := h.svc.Transition(context.Background(), app.TransitionRequest{CustomerID: b.ID, Target: domain.StateCertified})
	var degraded *domain.CounterDegradedError
	if !errors.As(err, &degraded) {
		t.Fatalf("expected CounterDegradedError, got %v", err)
	}
	h.counters.failFor["retail"] = false

	rec := app.NewReconciler(h.store, h.counters, nil, quietLogger())
	report, err := rec.Reconcile(context.Background(), "2026-10", "2026-10")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if report.Checked != 2 {
		t.Errorf("Checked = %d, want 2", report.Checked)
	}
	if len(report.Repaired) != 1 {
		t.Fatalf("Repaired = %v, want the retail bucket", report.Repaired)
	}
	d := report.Repaired[0]
	if d.Key != (domain.CounterKey{Period: "2026-10", Category: "retail"}) || d.Expected != 2 || d.Actual != 1 {
		t.Errorf("drift = %+v", d)
	}

	n, _ := h.counters.Get(context.Background(), d.Key)
	if n != 2 {
		t.Errorf("retail counter = %d, want 2", n)
	}

	// A second pass finds nothing to do.
	report, err = rec.Reconcile(context.Background(), "2026-10", "2026-10")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(report.Repaired) != 0 || len(report.Overcounted) != 0 {
		t.Errorf("expected a clean report, got %+v", report)
	}
}

func TestReconcile_ReportsOvercount(t *testing.T) {
	h := newHarness(t, app.LifecycleConfig{})
	c := h.create(t, "")
	h.move(t, c.ID, domain.StateCertified)

	key := domain.CounterKey{Period: "2026-10"}
	if _, err := h.counters.Add(context.Background(), key, 4); err != nil {
		t.Fatalf("add: %v", err)
	}

	report, err := app.NewReconciler(h.store, h.counters, nil, quietLogger()).
		Reconcile(context.Background(), "2026-10", "2026-10")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.Overcounted) != 1 || report.Overcounted[0].Actual != 5 || report.Overcounted[0].Expected != 1 {
		t.Errorf("Overcounted = %+v", report.Overcounted)
	}

	n, _ := h.counters.Get(context.Background(), key)
	if n != 5 {
		t.Errorf("counter = %d, want it left at 5", n)
	}
}

func TestReconcile_InvalidRange(t *testing.T) {
	h := newHarness(t, app.LifecycleConfig{})

	_, err := app.NewReconciler(h.store, h.counters, nil, nil).Reconcile(context.Background(), "2026-11", "2026-10")
	if !errors.Is(err, domain.ErrInvalidPeriodRange) {
		t.Errorf("expected ErrInvalidPeriodRange, got %v", err)
	}
}
