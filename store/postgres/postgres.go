/*
Package postgres provides a PostgreSQL ledger and snapshot store.

PURPOSE:
  Shared ledger for several API replicas. Implements generic.TxStore; its
  transactional view also implements generic.ScopeLocker with
  pg_advisory_xact_lock, so appends to one scope are serialized by the
  database even without the Redis locker.

SCHEMA:
  hours_ledger_entries     append-only, NUMERIC(6,2) hours and balances
  hours_balance_snapshots  cache, one row per (user, category, year)

  Domain tables (schedules, records, leave) stay in store/sqlite or the
  HR system of record; only the ledger moves here.

CONNECTION:
  pool, err := postgres.Connect(ctx, os.Getenv("DATABASE_URL"))
  store := postgres.New(pool)
  if err := store.Migrate(ctx); err != nil { ... }
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/hoursbank/generic"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool with the service defaults and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS hours_ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		year INTEGER NOT NULL,
		seq BIGINT NOT NULL,
		transaction_date DATE NOT NULL,
		entry_type TEXT NOT NULL,
		hours NUMERIC(6,2) NOT NULL,
		running_balance NUMERIC(6,2) NOT NULL,
		reference_type TEXT,
		reference_id TEXT,
		description TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, category, year, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_hours_ledger_user_date
		ON hours_ledger_entries(user_id, transaction_date);

	CREATE TABLE IF NOT EXISTS hours_balance_snapshots (
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		year INTEGER NOT NULL,
		current_balance NUMERIC(6,2) NOT NULL,
		total_accrued NUMERIC(8,2) NOT NULL,
		last_transaction_date DATE,
		last_seq BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, category, year)
	);`)
	if err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction. The view passed to fn can lock scopes.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&txView{views: views{q: tx}}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback error: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Store methods run directly on the pool.

func (s *Store) InsertEntry(ctx context.Context, e generic.LedgerEntry) error {
	return s.v().InsertEntry(ctx, e)
}

func (s *Store) LastEntry(ctx context.Context, scope generic.Scope) (*generic.LedgerEntry, error) {
	return s.v().LastEntry(ctx, scope)
}

func (s *Store) Entries(ctx context.Context, scope generic.Scope) ([]generic.LedgerEntry, error) {
	return s.v().Entries(ctx, scope)
}

func (s *Store) EntriesForUser(ctx context.Context, userID generic.UserID, f generic.EntryFilter) ([]generic.LedgerEntry, error) {
	return s.v().EntriesForUser(ctx, userID, f)
}

func (s *Store) EntriesByReference(ctx context.Context, userID generic.UserID, ref generic.Reference) ([]generic.LedgerEntry, error) {
	return s.v().EntriesByReference(ctx, userID, ref)
}

func (s *Store) Scopes(ctx context.Context) ([]generic.Scope, error) { return s.v().Scopes(ctx) }

func (s *Store) Exists(ctx context.Context, key string) (bool, error) { return s.v().Exists(ctx, key) }

func (s *Store) GetSnapshot(ctx context.Context, scope generic.Scope) (*generic.BalanceSnapshot, error) {
	return s.v().GetSnapshot(ctx, scope)
}

func (s *Store) ListSnapshots(ctx context.Context, userID generic.UserID) ([]generic.BalanceSnapshot, error) {
	return s.v().ListSnapshots(ctx, userID)
}

func (s *Store) UpsertSnapshot(ctx context.Context, snap generic.BalanceSnapshot) error {
	return s.v().UpsertSnapshot(ctx, snap)
}

func (s *Store) v() views { return views{q: s.pool} }

// =============================================================================
// QUERIES - shared by the pool and the transaction
// =============================================================================

type views struct {
	q Querier
}

// txView adds scope locking, which only makes sense inside a transaction.
type txView struct {
	views
}

// LockScope takes a transaction-scoped advisory lock on the scope key.
func (t *txView) LockScope(ctx context.Context, scope generic.Scope) error {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope.Key()); err != nil {
		return fmt.Errorf("failed to lock scope %s: %w", scope, err)
	}
	return nil
}

const entryColumns = `id, user_id, category, year, seq, transaction_date, entry_type, hours::text,
	running_balance::text, COALESCE(reference_type, ''), COALESCE(reference_id, ''),
	COALESCE(description, ''), COALESCE(idempotency_key, ''), created_at`

func (v views) InsertEntry(ctx context.Context, e generic.LedgerEntry) error {
	_, err := v.q.Exec(ctx, `
		INSERT INTO hours_ledger_entries (id, user_id, category, year, seq, transaction_date,
			entry_type, hours, running_balance, reference_type, reference_id, description,
			idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, NULLIF($10, ''), NULLIF($11, ''),
			NULLIF($12, ''), NULLIF($13, ''), $14)`,
		string(e.ID), string(e.UserID), string(e.Category), e.TransactionDate.Year(), e.Seq,
		e.TransactionDate.Time, string(e.Type), e.Hours.String(), e.RunningBalance.String(),
		e.Reference.Type, e.Reference.ID, e.Description, e.IdempotencyKey, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			if pgErr.ConstraintName == "hours_ledger_entries_idempotency_key_key" {
				return generic.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("%w: seq %d already taken in %s", generic.ErrConcurrentModification, e.Seq, e.Scope())
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (v views) LastEntry(ctx context.Context, scope generic.Scope) (*generic.LedgerEntry, error) {
	entries, err := v.query(ctx, `SELECT `+entryColumns+` FROM hours_ledger_entries
		WHERE user_id = $1 AND category = $2 AND year = $3 ORDER BY seq DESC LIMIT 1`,
		string(scope.UserID), string(scope.Category), scope.Year)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (v views) Entries(ctx context.Context, scope generic.Scope) ([]generic.LedgerEntry, error) {
	return v.query(ctx, `SELECT `+entryColumns+` FROM hours_ledger_entries
		WHERE user_id = $1 AND category = $2 AND year = $3 ORDER BY seq ASC`,
		string(scope.UserID), string(scope.Category), scope.Year)
}

func (v views) EntriesForUser(ctx context.Context, userID generic.UserID, f generic.EntryFilter) ([]generic.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM hours_ledger_entries WHERE user_id = $1`
	args := []any{string(userID)}
	add := func(cond string, arg any) {
		args = append(args, arg)
		query += fmt.Sprintf(" AND %s $%d", cond, len(args))
	}
	if f.Category != "" {
		add("category =", string(f.Category))
	}
	if f.Type != "" {
		add("entry_type =", string(f.Type))
	}
	if f.ReferenceType != "" {
		add("reference_type =", f.ReferenceType)
	}
	if f.From != nil {
		add("transaction_date >=", f.From.Time)
	}
	if f.To != nil {
		add("transaction_date <=", f.To.Time)
	}
	query += ` ORDER BY transaction_date ASC, category ASC, seq ASC`
	return v.query(ctx, query, args...)
}

func (v views) EntriesByReference(ctx context.Context, userID generic.UserID, ref generic.Reference) ([]generic.LedgerEntry, error) {
	return v.query(ctx, `SELECT `+entryColumns+` FROM hours_ledger_entries
		WHERE user_id = $1 AND reference_type = $2 AND reference_id = $3
		ORDER BY transaction_date ASC, seq ASC`, string(userID), ref.Type, ref.ID)
}

func (v views) Scopes(ctx context.Context) ([]generic.Scope, error) {
	rows, err := v.q.Query(ctx, `SELECT DISTINCT user_id, category, year FROM hours_ledger_entries
		ORDER BY user_id, category, year`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []generic.Scope
	for rows.Next() {
		var user, cat string
		var year int
		if err := rows.Scan(&user, &cat, &year); err != nil {
			return nil, err
		}
		scopes = append(scopes, generic.Scope{UserID: generic.UserID(user), Category: generic.Category(cat), Year: year})
	}
	return scopes, rows.Err()
}

func (v views) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := v.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM hours_ledger_entries WHERE idempotency_key = $1)`, key,
	).Scan(&exists)
	return exists, err
}

func (v views) query(ctx context.Context, sql string, args ...any) ([]generic.LedgerEntry, error) {
	rows, err := v.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []generic.LedgerEntry
	for rows.Next() {
		var e generic.LedgerEntry
		var id, user, cat, typ, hours, running string
		var year int
		var date time.Time
		if err := rows.Scan(&id, &user, &cat, &year, &e.Seq, &date, &typ, &hours, &running,
			&e.Reference.Type, &e.Reference.ID, &e.Description, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.ID = generic.EntryID(id)
		e.UserID = generic.UserID(user)
		e.Category = generic.Category(cat)
		e.Type = generic.EntryType(typ)
		e.TransactionDate = generic.DateOf(date, time.UTC)
		e.Hours = generic.MustParseDecimal(hours)
		e.RunningBalance = generic.MustParseDecimal(running)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (v views) GetSnapshot(ctx context.Context, scope generic.Scope) (*generic.BalanceSnapshot, error) {
	snaps, err := v.snapshots(ctx, `WHERE user_id = $1 AND category = $2 AND year = $3`,
		string(scope.UserID), string(scope.Category), scope.Year)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

func (v views) ListSnapshots(ctx context.Context, userID generic.UserID) ([]generic.BalanceSnapshot, error) {
	return v.snapshots(ctx, `WHERE user_id = $1 ORDER BY year, category`, string(userID))
}

func (v views) UpsertSnapshot(ctx context.Context, snap generic.BalanceSnapshot) error {
	var lastDate *time.Time
	if !snap.LastTransactionDate.IsZero() {
		d := snap.LastTransactionDate.Time
		lastDate = &d
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := v.q.Exec(ctx, `
		INSERT INTO hours_balance_snapshots (user_id, category, year, current_balance, total_accrued,
			last_transaction_date, last_seq, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
		ON CONFLICT (user_id, category, year) DO UPDATE SET
			current_balance = EXCLUDED.current_balance,
			total_accrued = EXCLUDED.total_accrued,
			last_transaction_date = EXCLUDED.last_transaction_date,
			last_seq = EXCLUDED.last_seq,
			updated_at = EXCLUDED.updated_at`,
		string(snap.Scope.UserID), string(snap.Scope.Category), snap.Scope.Year,
		snap.CurrentBalance.String(), snap.TotalAccrued.String(), lastDate, snap.LastSeq, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (v views) snapshots(ctx context.Context, where string, args ...any) ([]generic.BalanceSnapshot, error) {
	rows, err := v.q.Query(ctx, `SELECT user_id, category, year, current_balance::text, total_accrued::text,
		last_transaction_date, last_seq, updated_at FROM hours_balance_snapshots `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []generic.BalanceSnapshot
	for rows.Next() {
		var snap generic.BalanceSnapshot
		var user, cat, current, accrued string
		var lastDate *time.Time
		if err := rows.Scan(&user, &cat, &snap.Scope.Year, &current, &accrued, &lastDate,
			&snap.LastSeq, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Scope.UserID = generic.UserID(user)
		snap.Scope.Category = generic.Category(cat)
		snap.CurrentBalance = generic.MustParseDecimal(current)
		snap.TotalAccrued = generic.MustParseDecimal(accrued)
		if lastDate != nil {
			snap.LastTransactionDate = generic.DateOf(*lastDate, time.UTC)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
