package sqlite

import (
	"context"
	"database/sql"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// Compile-time check: AuditTrail implements domain.AuditTrail.
var _ domain.AuditTrail = (*AuditTrail)(nil)

// AuditTrail implements domain.AuditTrail on the customer_transitions table.
// Rows are never updated or deleted; triggers in the schema enforce it.
type AuditTrail struct {
	db *sql.DB
}

const transitionColumns = `seq, customer_id, from_state, to_state, reason, occurred_at, period, category`

// Append writes a record outside of any state change. Transitions use the
// transactional path in CustomerRepository.ApplyTransition instead.
func (a *AuditTrail) Append(ctx context.Context, rec domain.TransitionRecord) (domain.TransitionRecord, error) {
	return insertTransition(ctx, a.db, rec)
}

func (a *AuditTrail) History(ctx context.Context, customerID string) ([]domain.TransitionRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+transitionColumns+` FROM customer_transitions
		 WHERE customer_id = ? ORDER BY seq DESC`, customerID,
	)
	if err != nil {
		return nil, unavailable("listing transitions", err)
	}
	defer rows.Close()

	var out []domain.TransitionRecord
	for rows.Next() {
		rec, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating transitions", err)
	}
	return out, nil
}

func (a *AuditTrail) Latest(ctx context.Context, customerID string) (domain.TransitionRecord, bool, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+transitionColumns+` FROM customer_transitions
		 WHERE customer_id = ? ORDER BY seq DESC LIMIT 1`, customerID,
	)
	if err != nil {
		return domain.TransitionRecord{}, false, unavailable("reading latest transition", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.TransitionRecord{}, false, unavailable("reading latest transition", err)
		}
		return domain.TransitionRecord{}, false, nil
	}
	rec, err := scanTransition(rows)
	if err != nil {
		return domain.TransitionRecord{}, false, err
	}
	return rec, true, nil
}

// CountCounted recounts counted records per bucket. Uncategorised records
// only contribute to the unscoped bucket, mirroring how they were incremented.
func (a *AuditTrail) CountCounted(ctx context.Context, startPeriod, endPeriod string) ([]domain.CounterBucket, error) {
	if err := domain.ValidatePeriodRange(startPeriod, endPeriod); err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT period, '' AS category, COUNT(*) FROM customer_transitions
		 WHERE period <> '' AND period BETWEEN ? AND ?
		 GROUP BY period
		 UNION ALL
		 SELECT period, category, COUNT(*) FROM customer_transitions
		 WHERE period <> '' AND category <> '' AND period BETWEEN ? AND ?
		 GROUP BY period, category
		 ORDER BY 1, 2`,
		startPeriod, endPeriod, startPeriod, endPeriod,
	)
	if err != nil {
		return nil, unavailable("counting transitions", err)
	}
	defer rows.Close()

	var out []domain.CounterBucket
	for rows.Next() {
		var b domain.CounterBucket
		if err := rows.Scan(&b.Key.Period, &b.Key.Category, &b.Count); err != nil {
			return nil, unavailable("scanning transition count", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating transition counts", err)
	}
	return out, nil
}

func insertTransition(ctx context.Context, q queryer, rec domain.TransitionRecord) (domain.TransitionRecord, error) {
	var from sql.NullString
	if rec.From != nil {
		from = sql.NullString{String: string(*rec.From), Valid: true}
	}

	err := q.QueryRowContext(ctx,
		`INSERT INTO customer_transitions (customer_id, from_state, to_state, reason, occurred_at, period, category)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 RETURNING seq`,
		rec.CustomerID, from, string(rec.To), rec.Reason, formatTime(rec.OccurredAt), rec.Period, rec.Category,
	).Scan(&rec.Seq)
	if err != nil {
		return domain.TransitionRecord{}, unavailable("appending transition", err)
	}
	rec.OccurredAt = rec.OccurredAt.UTC()
	return rec, nil
}

func scanTransition(rows *sql.Rows) (domain.TransitionRecord, error) {
	var rec domain.TransitionRecord
	var from sql.NullString
	var to, occurredAt string

	err := rows.Scan(&rec.Seq, &rec.CustomerID, &from, &to, &rec.Reason, &occurredAt, &rec.Period, &rec.Category)
	if err != nil {
		return domain.TransitionRecord{}, unavailable("scanning transition", err)
	}

	if from.Valid {
		s := domain.State(from.String)
		rec.From = &s
	}
	rec.To = domain.State(to)
	if rec.OccurredAt, err = parseTime("occurred_at", occurredAt); err != nil {
		return domain.TransitionRecord{}, err
	}
	return rec, nil
}
