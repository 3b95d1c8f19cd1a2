package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neomorfeo/customeriq/internal/adapter/sqlite"
	"github.com/neomorfeo/customeriq/internal/domain"
)

func mustAppend(t *testing.T, store *sqlite.Store, rec domain.TransitionRecord) domain.TransitionRecord {
	t.Helper()
	out, err := store.Audit().Append(context.Background(), rec)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	return out
}

func TestAudit_HistoryMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, store, domain.NewCustomer("c-1", "Acme", "", domain.StateNew, baseTime))

	mustAppend(t, store, domain.TransitionRecord{CustomerID: "c-1", From: statePtr(domain.StateNew), To: domain.StateNotified, OccurredAt: baseTime})
	mustAppend(t, store, domain.TransitionRecord{CustomerID: "c-1", From: statePtr(domain.StateNotified), To: domain.StateSubmitted, OccurredAt: baseTime.Add(time.Minute)})
	mustAppend(t, store, domain.TransitionRecord{CustomerID: "c-1", From: statePtr(domain.StateSubmitted), To: domain.StateCertified, OccurredAt: baseTime.Add(2 * time.Minute)})

	history, err := store.Audit().History(ctx, "c-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d records, want 3", len(history))
	}

	want := []domain.State{domain.StateCertified, domain.StateSubmitted, domain.StateNotified}
	for i, rec := range history {
		if rec.To != want[i] {
			t.Errorf("history[%d].To = %q, want %q", i, rec.To, want[i])
		}
		if i > 0 && *history[i-1].From != rec.To {
			t.Errorf("history not contiguous at %d: %q != %q", i, *history[i-1].From, rec.To)
		}
	}

	// Re-reading returns the same data.
	again, _ := store.Audit().History(ctx, "c-1")
	for i := range history {
		if again[i].Seq != history[i].Seq {
			t.Errorf("re-read differs at %d", i)
		}
	}
}

func TestAudit_LatestEmpty(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Audit().Latest(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if ok {
		t.Error("expected no record")
	}
}

func TestAudit_RecordsAreImmutable(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, domain.NewCustomer("c-1", "Acme", "", domain.StateNew, baseTime))
	mustAppend(t, store, domain.TransitionRecord{CustomerID: "c-1", From: statePtr(domain.StateNew), To: domain.StateNotified, OccurredAt: baseTime})

	if _, err := store.DB().Exec(`UPDATE customer_transitions SET reason = 'rewritten'`); err == nil {
		t.Error("expected update to be rejected")
	}
	if _, err := store.DB().Exec(`DELETE FROM customer_transitions`); err == nil {
		t.Error("expected delete to be rejected")
	}
}

func TestAudit_CountCounted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, store, domain.NewCustomer("c-1", "A", "retail", domain.StateNew, baseTime))
	mustCreate(t, store, domain.NewCustomer("c-2", "B", "", domain.StateNew, baseTime))

	from := statePtr(domain.StateNew)
	mustAppend(t, store, domain.TransitionRecord{CustomerID: "c-1", From: from, To: domain.StateCertified, OccurredAt: baseTime, Period: "2026-10", Category: "retail"})
	mustAppend(t, store, domain.TransitionRecord{CustomerID: "c-2", From: from, To: domain.StateCertified, OccurredAt: baseTime, Period: "2026-10"})
	mustAppend(t, store, domain.TransitionRecord{CustomerID: "c-2", From: from, To: domain.StateNotified, OccurredAt: baseTime})
	mustAppend(t, store, domain.TransitionRecord{CustomerID: "c-1", From: from, To: domain.StateCertified, OccurredAt: baseTime, Period: "2026-12", Category: "retail"})

	got, err := store.Audit().CountCounted(ctx, "2026-10", "2026-11")
	if err != nil {
		t.Fatalf("CountCounted failed: %v", err)
	}

	want := []domain.CounterBucket{
		{Key: domain.CounterKey{Period: "2026-10"}, Count: 2},
		{Key: domain.CounterKey{Period: "2026-10", Category: "retail"}, Count: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAudit_HistoryMalformedTimestamp(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, domain.NewCustomer("c-1", "Acme", "", domain.StateNew, baseTime))
	mustExec(t, store, `INSERT INTO customer_transitions (customer_id, from_state, to_state, occurred_at)
		VALUES ('c-1', 'NEW', 'NOTIFIED', '15/10/2026')`)

	_, err := store.Audit().History(context.Background(), "c-1")
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("History: expected ErrStorageUnavailable, got %v", err)
	}
	_, _, err = store.Audit().Latest(context.Background(), "c-1")
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("Latest: expected ErrStorageUnavailable, got %v", err)
	}
}
