/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the hours bank using SQLite.
  It is the default backend; store/postgres can take over the ledger and
  snapshots when several replicas share one database.

INTERFACES IMPLEMENTED:
  generic.TxStore:            Ledger entries + balance snapshots
  attendance.ScheduleStore:   Weekly schedules
  attendance.RecordStore:     Daily attendance records
  attendance.LeaveStore:      Leave requests
  attendance.RecoveryStore:   Hour recoveries
  attendance.UserDirectory:   Users

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on ledger_entries
  - No DELETE statements on ledger_entries
  - UNIQUE(user_id, category, year, seq) rejects a racing append
  - Corrections via compensating adjustments only

KEY TABLES:
  ledger_entries:     Immutable ledger with running balance per scope
  balance_snapshots:  Cached balance per (user, category, year)
  daily_records:      One row per user and date
  work_schedules:     One row per user and weekday
  leave_requests, recovery_requests, users
  job_runs:           Batch runs, one per job and run key

DECIMALS:
  Hours are stored as TEXT decimal strings, never REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction, so the views it hands out never lock again.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery
  ":memory:" databases are pinned to one connection, otherwise every
  pooled connection would see its own empty database.

USAGE:
  store, err := sqlite.New("./data/hours.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store, lock.NewLocal())

SEE ALSO:
  - generic/store.go: Ledger interface definitions
  - attendance/store.go: Domain interface definitions
  - generic/store/memory.go: In-memory ledger store for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/hoursbank/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		contract_type TEXT NOT NULL DEFAULT 'full_time',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- One row per user and weekday (0 = Sunday). NULL means absent, never a default.
	CREATE TABLE IF NOT EXISTS work_schedules (
		user_id TEXT NOT NULL REFERENCES users(id),
		weekday INTEGER NOT NULL CHECK (weekday BETWEEN 0 AND 6),
		is_working_day BOOLEAN NOT NULL,
		start_time TEXT,
		end_time TEXT,
		break_duration INTEGER,
		break_start_time TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, weekday)
	);

	CREATE TABLE IF NOT EXISTS daily_records (
		user_id TEXT NOT NULL REFERENCES users(id),
		date TEXT NOT NULL,
		expected_hours TEXT NOT NULL,
		actual_hours TEXT NOT NULL,
		balance_hours TEXT NOT NULL,
		credit_hours TEXT NOT NULL DEFAULT '0',
		manual_credit_hours TEXT NOT NULL DEFAULT '0',
		credit_refs TEXT NOT NULL DEFAULT '',
		notes TEXT,
		origin TEXT NOT NULL,
		law104 BOOLEAN NOT NULL DEFAULT FALSE,
		permission_applied BOOLEAN NOT NULL DEFAULT FALSE,
		finalized BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, date)
	);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		year INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		transaction_date TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		hours TEXT NOT NULL,
		running_balance TEXT NOT NULL,
		reference_type TEXT,
		reference_id TEXT,
		description TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, category, year, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_user_date
		ON ledger_entries(user_id, transaction_date);
	CREATE INDEX IF NOT EXISTS idx_ledger_reference
		ON ledger_entries(user_id, reference_type, reference_id) WHERE reference_id IS NOT NULL;

	-- Snapshots (cache, rebuildable from ledger_entries)
	CREATE TABLE IF NOT EXISTS balance_snapshots (
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		year INTEGER NOT NULL,
		current_balance TEXT NOT NULL,
		total_accrued TEXT NOT NULL,
		last_transaction_date TEXT,
		last_seq INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, category, year)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		kind TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		entry_time TEXT,
		exit_time TEXT,
		hours TEXT,
		full_day BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'pending',
		approved_by TEXT,
		approved_at TEXT,
		decided_by TEXT,
		reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_user_status
		ON leave_requests(user_id, status, start_date, end_date);

	CREATE TABLE IF NOT EXISTS recovery_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		hours TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		balance_added BOOLEAN NOT NULL DEFAULT FALSE,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recovery_unbooked
		ON recovery_requests(balance_added, status);

	-- Job runs (scheduler bookkeeping)
	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		run_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		processed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		UNIQUE (job, run_key)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset drops every row. Used by tests and the demo seeder.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"ledger_entries", "balance_snapshots", "daily_records", "leave_requests",
		"recovery_requests", "work_schedules", "job_runs", "users",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullClock(c *generic.ClockTime) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: c.String(), Valid: true}
}

func parseNullClock(ns sql.NullString) (*generic.ClockTime, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	c, err := generic.ParseClock(ns.String)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func formatNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isIdempotencyKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "idempotency_key")
}
