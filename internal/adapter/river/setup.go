package river

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// DefaultLookback makes a periodic pass cover the previous month as well as
// the current one.
const DefaultLookback = 31 * 24 * time.Hour

// Config wires the reconciliation jobs.
type Config struct {
	Reconciler Reconciler
	Counting   domain.CountingPolicy
	// Interval schedules a periodic pass. Zero disables it.
	Interval time.Duration
	Lookback time.Duration
	Logger   *slog.Logger
	// Now is the clock used for periodic windows; defaults to time.Now.
	Now func() time.Time
}

// Setup creates a River client with the reconcile worker registered and runs
// River's internal migrations. The caller must call client.Start() to begin
// processing jobs and client.Stop() for graceful shutdown.
func Setup(ctx context.Context, db *sql.DB, cfg Config) (*Client, error) {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	driver := riversqlite.New(db)

	// River's own tables (river_job, river_leader, ...) are migrated
	// separately from the application schema.
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewReconcileWorker(cfg.Reconciler, cfg.Logger))

	var periodic []*river.PeriodicJob
	if cfg.Interval > 0 {
		periodic = append(periodic, river.NewPeriodicJob(
			river.PeriodicInterval(cfg.Interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ReconcileWindow(cfg.Counting, cfg.Now(), cfg.Lookback), nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueReconcile: {MaxWorkers: 1},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}
