package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// QueueReconcile runs reconciliation jobs one at a time, so two passes never
// top up the same bucket concurrently.
const QueueReconcile = "reconcile"

var _ domain.ReconcileQueue = (*Queue)(nil)

// ReconcileArgs asks for the counters of an inclusive period range to be
// recomputed from the audit trail. River serializes it as JSON into its job
// queue table.
type ReconcileArgs struct {
	StartPeriod string `json:"start_period"`
	EndPeriod   string `json:"end_period"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (ReconcileArgs) Kind() string { return "reconcile.periods" }

// InsertOpts routes every reconciliation to the serial queue.
func (ReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueReconcile}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Queue implements domain.ReconcileQueue by enqueuing River jobs.
type Queue struct {
	client *Client
}

// NewQueue creates a reconcile queue backed by the given River client.
func NewQueue(client *Client) *Queue {
	return &Queue{client: client}
}

// EnqueueReconcile schedules a reconciliation of the given period range.
func (q *Queue) EnqueueReconcile(ctx context.Context, startPeriod, endPeriod string) error {
	if err := domain.ValidatePeriodRange(startPeriod, endPeriod); err != nil {
		return err
	}
	_, err := q.client.Insert(ctx, ReconcileArgs{StartPeriod: startPeriod, EndPeriod: endPeriod}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing reconcile job: %w", err)
	}
	return nil
}
