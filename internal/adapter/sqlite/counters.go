package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// Compile-time check: CounterStore implements domain.CounterStore.
var _ domain.CounterStore = (*CounterStore)(nil)

// CounterStore implements domain.CounterStore. Every mutation is a single
// INSERT ... ON CONFLICT DO UPDATE statement, so concurrent increments of the
// same bucket accumulate inside SQLite rather than in application memory.
type CounterStore struct {
	db *sql.DB
}

func (s *CounterStore) Increment(ctx context.Context, key domain.CounterKey) (int64, error) {
	return s.Add(ctx, key, 1)
}

// Add increases a bucket by delta, creating it when absent.
func (s *CounterStore) Add(ctx context.Context, key domain.CounterKey, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("adding %d to %s: %w", delta, key, domain.ErrInvalidDelta)
	}
	if key.Period == "" {
		return 0, fmt.Errorf("counter key %+v has no period", key)
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counter_buckets (period, category, count) VALUES (?, ?, ?)
		 ON CONFLICT (period, category) DO UPDATE SET count = count + excluded.count
		 RETURNING count`,
		key.Period, key.Category, delta,
	).Scan(&count)
	if err != nil {
		return 0, unavailable("incrementing counter "+key.String(), err)
	}
	return count, nil
}

func (s *CounterStore) Get(ctx context.Context, key domain.CounterKey) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM counter_buckets WHERE period = ? AND category = ?`,
		key.Period, key.Category,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("reading counter "+key.String(), err)
	}
	return count, nil
}

func (s *CounterStore) ListByPeriodRange(ctx context.Context, startPeriod, endPeriod string) ([]domain.CounterBucket, error) {
	if err := domain.ValidatePeriodRange(startPeriod, endPeriod); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT period, category, count FROM counter_buckets
		 WHERE period BETWEEN ? AND ?
		 ORDER BY period, category`,
		startPeriod, endPeriod,
	)
	if err != nil {
		return nil, unavailable("listing counters", err)
	}
	defer rows.Close()

	var out []domain.CounterBucket
	for rows.Next() {
		var b domain.CounterBucket
		if err := rows.Scan(&b.Key.Period, &b.Key.Category, &b.Count); err != nil {
			return nil, unavailable("scanning counter", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating counters", err)
	}
	return out, nil
}
