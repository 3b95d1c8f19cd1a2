package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/neomorfeo/customeriq/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Fixed-width UTC timestamps so stored values sort lexicographically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store owns the SQLite connection shared by the customer repository, the
// audit trail and the counter store.
type Store struct {
	db        *sql.DB
	customers *CustomerRepository
	audit     *AuditTrail
	counters  *CounterStore
}

// New opens a SQLite database, runs migrations, and returns a ready store.
func New(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes statements in the driver and keeps
	// ":memory:" databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	if err := Configure(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewFromDB(db)
}

// Configure applies the pragmas the store relies on.
func Configure(db *sql.DB) error {
	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("setting busy timeout: %w", err)
	}
	return nil
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready store.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Store{
		db:        db,
		customers: &CustomerRepository{db: db},
		audit:     &AuditTrail{db: db},
		counters:  &CounterStore{db: db},
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Customers returns the entity store.
func (s *Store) Customers() *CustomerRepository { return s.customers }

// Audit returns the transition history.
func (s *Store) Audit() *AuditTrail { return s.audit }

// Counters returns the aggregate counter store.
func (s *Store) Counters() *CounterStore { return s.counters }

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// unavailable marks a failed statement as a storage fault. Context
// cancellation is passed through unchanged so callers can tell a timeout
// from a broken database.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime reads a stored timestamp. A malformed value is a storage fault:
// callers order records and clamp new ones by these times.
func parseTime(column, s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed %s %q: %w", domain.ErrStorageUnavailable, column, s, err)
	}
	return t, nil
}
