package river_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	goriver "github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	riveradapter "github.com/neomorfeo/customeriq/internal/adapter/river"
	"github.com/neomorfeo/customeriq/internal/adapter/sqlite"
	"github.com/neomorfeo/customeriq/internal/app"
	"github.com/neomorfeo/customeriq/internal/domain"
)

var october = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

var monthly = domain.CountingPolicy{States: []domain.State{domain.StateCertified}}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(t.TempDir() + "/river_test.db")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// startClient sets up and starts River and subscribes to completed jobs
// before the first one can run.
func startClient(t *testing.T, store *sqlite.Store, cfg riveradapter.Config) (*riveradapter.Client, <-chan *goriver.Event) {
	t.Helper()
	ctx := context.Background()

	cfg.Logger = quietLogger()
	client, err := riveradapter.Setup(ctx, store.DB(), cfg)
	if err != nil {
		t.Fatalf("river setup: %v", err)
	}

	completed, cancel := client.Subscribe(goriver.EventKindJobCompleted)
	t.Cleanup(cancel)

	if err := client.Start(ctx); err != nil {
		t.Fatalf("river start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			t.Errorf("river stop: %v", err)
		}
	})
	return client, completed
}

func waitCompleted(t *testing.T, completed <-chan *goriver.Event) *goriver.Event {
	t.Helper()
	select {
	case event := <-completed:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
		return nil
	}
}

// seedUncounted appends a counted record without bumping its counter, as a
// degraded transition would leave it.
func seedUncounted(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	ctx := context.Background()
	if err := store.Customers().Create(ctx, domain.NewCustomer(id, "Acme", "", domain.StateNew, october), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	from := domain.StateNew
	if _, err := store.Audit().Append(ctx, domain.TransitionRecord{
		CustomerID: id,
		From:       &from,
		To:         domain.StateCertified,
		OccurredAt: october,
		Period:     "2026-10",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestQueue_EnqueueReconcile_RepairsCounter(t *testing.T) {
	store := setupTestStore(t)
	seedUncounted(t, store, "c-1")

	reconciler := app.NewReconciler(store.Audit(), store.Counters(), nil, quietLogger())
	client, completed := startClient(t, store, riveradapter.Config{Reconciler: reconciler, Counting: monthly})

	ctx := context.Background()
	if err := riveradapter.NewQueue(client).EnqueueReconcile(ctx, "2026-10", "2026-10"); err != nil {
		t.Fatalf("EnqueueReconcile failed: %v", err)
	}

	event := waitCompleted(t, completed)
	if event.Job.Kind != "reconcile.periods" {
		t.Errorf("job kind = %q, want %q", event.Job.Kind, "reconcile.periods")
	}
	if event.Job.Queue != riveradapter.QueueReconcile {
		t.Errorf("queue = %q, want %q", event.Job.Queue, riveradapter.QueueReconcile)
	}

	n, err := store.Counters().Get(ctx, domain.CounterKey{Period: "2026-10"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != 1 {
		t.Errorf("counter = %d, want 1", n)
	}
}

func TestQueue_EnqueueReconcile_RejectsInvertedRange(t *testing.T) {
	err := riveradapter.NewQueue(nil).EnqueueReconcile(context.Background(), "2026-10", "2026-09")
	if !errors.Is(err, domain.ErrInvalidPeriodRange) {
		t.Errorf("expected ErrInvalidPeriodRange, got %v", err)
	}
}

func TestSetup_PeriodicJobCoversPreviousPeriod(t *testing.T) {
	store := setupTestStore(t)
	reconciler := app.NewReconciler(store.Audit(), store.Counters(), nil, quietLogger())

	_, completed := startClient(t, store, riveradapter.Config{
		Reconciler: reconciler,
		Counting:   monthly,
		Interval:   time.Hour,
		Now:        func() time.Time { return october },
	})

	event := waitCompleted(t, completed)
	args := string(event.Job.EncodedArgs)
	for _, want := range []string{`"start_period":"2026-09"`, `"end_period":"2026-10"`} {
		if !strings.Contains(args, want) {
			t.Errorf("encoded args missing %s, got: %s", want, args)
		}
	}
}

func TestReconcileWindow(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want riveradapter.ReconcileArgs
	}{
		{"mid month", october, riveradapter.ReconcileArgs{StartPeriod: "2026-09", EndPeriod: "2026-10"}},
		{"end of march", time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC), riveradapter.ReconcileArgs{StartPeriod: "2026-02", EndPeriod: "2026-03"}},
		{"new year", time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC), riveradapter.ReconcileArgs{StartPeriod: "2026-12", EndPeriod: "2027-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := riveradapter.ReconcileWindow(monthly, tt.now, riveradapter.DefaultLookback)
			if got != tt.want {
				t.Errorf("ReconcileWindow = %+v, want %+v", got, tt.want)
			}
		})
	}
}

type failingReconciler struct{}

func (failingReconciler) Reconcile(_ context.Context, start, end string) (app.ReconcileReport, error) {
	return app.ReconcileReport{StartPeriod: start, EndPeriod: end}, domain.ErrStorageUnavailable
}

func TestReconcileWorker_ReturnsFailure(t *testing.T) {
	w := riveradapter.NewReconcileWorker(failingReconciler{}, quietLogger())

	err := w.Work(context.Background(), &goriver.Job[riveradapter.ReconcileArgs]{
		JobRow: &rivertype.JobRow{ID: 1, Attempt: 1},
		Args:   riveradapter.ReconcileArgs{StartPeriod: "2026-10", EndPeriod: "2026-10"},
	})
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}
