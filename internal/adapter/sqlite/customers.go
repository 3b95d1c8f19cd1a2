package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// Compile-time check: CustomerRepository implements domain.CustomerRepository.
var _ domain.CustomerRepository = (*CustomerRepository)(nil)

// CustomerRepository implements domain.CustomerRepository using SQLite.
// Transitions are guarded by an optimistic version check and write the
// state change and its history record in one transaction.
type CustomerRepository struct {
	db *sql.DB
}

const customerColumns = `id, name, category, state, version, state_changed_at, created_at, updated_at, deleted_at`

func (r *CustomerRepository) Create(ctx context.Context, c domain.Customer, genesis *domain.TransitionRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("beginning create", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO customers (`+customerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		c.ID, c.Name, c.Category, string(c.State), c.Version,
		formatTime(c.StateChangedAt), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("customer %s: %w", c.ID, domain.ErrCustomerExists)
		}
		return unavailable("inserting customer", err)
	}

	if genesis != nil {
		if _, err := insertTransition(ctx, tx, *genesis); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("committing create", err)
	}
	return nil
}

func (r *CustomerRepository) Get(ctx context.Context, id string, scope domain.LookupScope) (domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = ?`
	if scope != domain.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	return scanCustomer(r.db.QueryRowContext(ctx, query, id))
}

// ApplyTransition moves the customer from the version it was loaded at to
// c.State and appends rec. Either both writes commit or neither does.
func (r *CustomerRepository) ApplyTransition(ctx context.Context, c domain.Customer, rec domain.TransitionRecord) (domain.Customer, domain.TransitionRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Customer{}, domain.TransitionRecord{}, unavailable("beginning transition", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := rec.OccurredAt
	result, err := tx.ExecContext(ctx,
		`UPDATE customers SET state = ?, version = version + 1, state_changed_at = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(c.State), formatTime(now), formatTime(now), c.ID, c.Version,
	)
	if err != nil {
		return domain.Customer{}, domain.TransitionRecord{}, unavailable("updating customer state", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Customer{}, domain.TransitionRecord{}, unavailable("checking rows affected", err)
	}
	if rows == 0 {
		return domain.Customer{}, domain.TransitionRecord{}, r.missOrConflict(ctx, tx, c.ID)
	}

	rec, err = insertTransition(ctx, tx, rec)
	if err != nil {
		return domain.Customer{}, domain.TransitionRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Customer{}, domain.TransitionRecord{}, unavailable("committing transition", err)
	}

	c.Version++
	c.StateChangedAt = now.UTC()
	c.UpdatedAt = now.UTC()
	return c, rec, nil
}

// missOrConflict explains a version-checked update that touched no rows.
func (r *CustomerRepository) missOrConflict(ctx context.Context, tx *sql.Tx, id string) error {
	var version int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM customers WHERE id = ?`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrCustomerNotFound
	}
	if err != nil {
		return unavailable("reading customer version", err)
	}
	return fmt.Errorf("customer %s is at version %d: %w", id, version, domain.ErrConflict)
}

// SoftDelete hides the customer from default lookups. History is untouched.
// Deleting an already deleted customer is a no-op.
func (r *CustomerRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE customers SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(at), formatTime(at), id,
	)
	if err != nil {
		return unavailable("soft-deleting customer", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("checking rows affected", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := r.Get(ctx, id, domain.IncludeDeleted); err != nil {
		return err
	}
	return nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanCustomer(row *sql.Row) (domain.Customer, error) {
	var c domain.Customer
	var state, stateChangedAt, createdAt, updatedAt string
	var deletedAt sql.NullString

	err := row.Scan(&c.ID, &c.Name, &c.Category, &state, &c.Version,
		&stateChangedAt, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, unavailable("scanning customer", err)
	}

	c.State = domain.State(state)
	for _, ts := range []struct {
		column string
		raw    string
		dst    *time.Time
	}{
		{"state_changed_at", stateChangedAt, &c.StateChangedAt},
		{"created_at", createdAt, &c.CreatedAt},
		{"updated_at", updatedAt, &c.UpdatedAt},
	} {
		if *ts.dst, err = parseTime(ts.column, ts.raw); err != nil {
			return domain.Customer{}, err
		}
	}
	if deletedAt.Valid {
		t, err := parseTime("deleted_at", deletedAt.String)
		if err != nil {
			return domain.Customer{}, err
		}
		c.DeletedAt = &t
	}

	return c, nil
}
