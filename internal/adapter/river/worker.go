package river

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/customeriq/internal/app"
	"github.com/neomorfeo/customeriq/internal/domain"
)

// Reconciler is the part of app.Reconciler the worker needs.
type Reconciler interface {
	Reconcile(ctx context.Context, startPeriod, endPeriod string) (app.ReconcileReport, error)
}

// ReconcileWorker processes reconcile.periods jobs. A failed pass is
// returned to River, which retries it with backoff.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]

	reconciler Reconciler
	logger     *slog.Logger
}

// NewReconcileWorker creates a worker around the given reconciler.
func NewReconcileWorker(reconciler Reconciler, logger *slog.Logger) *ReconcileWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileWorker{reconciler: reconciler, logger: logger}
}

// Work runs a single reconciliation pass.
func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileArgs]) error {
	report, err := w.reconciler.Reconcile(ctx, job.Args.StartPeriod, job.Args.EndPeriod)
	if err != nil {
		w.logger.ErrorContext(ctx, "reconciliation failed",
			"start_period", job.Args.StartPeriod,
			"end_period", job.Args.EndPeriod,
			"job_id", job.ID,
			"attempt", job.Attempt,
			"error", err,
		)
		return fmt.Errorf("reconciling %s..%s: %w", job.Args.StartPeriod, job.Args.EndPeriod, err)
	}

	w.logger.InfoContext(ctx, "processed reconcile job",
		"start_period", report.StartPeriod,
		"end_period", report.EndPeriod,
		"repaired", len(report.Repaired),
		"overcounted", len(report.Overcounted),
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}

// ReconcileWindow returns the period range a periodic pass covers: from the
// period containing now-lookback up to the period containing now.
func ReconcileWindow(policy domain.CountingPolicy, now time.Time, lookback time.Duration) ReconcileArgs {
	return ReconcileArgs{
		StartPeriod: policy.Period(now.Add(-lookback)),
		EndPeriod:   policy.Period(now),
	}
}
