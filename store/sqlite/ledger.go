package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// LEDGER ENTRIES (generic.EntryStore interface)
// =============================================================================

const entryColumns = `id, user_id, category, year, seq, transaction_date, entry_type, hours,
	running_balance, reference_type, reference_id, description, idempotency_key, created_at`

// InsertEntry adds an entry to the ledger.
func (s *Store) InsertEntry(ctx context.Context, entry generic.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEntry(ctx, s.db, entry)
}

func insertEntry(ctx context.Context, q querier, e generic.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.Category,
		e.TransactionDate.Year(),
		e.Seq,
		e.TransactionDate.String(),
		e.Type,
		e.Hours.String(),
		e.RunningBalance.String(),
		nullString(e.Reference.Type),
		nullString(e.Reference.ID),
		nullString(e.Description),
		nullString(e.IdempotencyKey),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if isIdempotencyKeyError(err) {
				return generic.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("%w: seq %d already taken in %s", generic.ErrConcurrentModification, e.Seq, e.Scope())
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (s *Store) LastEntry(ctx context.Context, scope generic.Scope) (*generic.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastEntry(ctx, s.db, scope)
}

func lastEntry(ctx context.Context, q querier, scope generic.Scope) (*generic.LedgerEntry, error) {
	entries, err := queryEntries(ctx, q, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE user_id = ? AND category = ? AND year = ?
		ORDER BY seq DESC LIMIT 1`, scope.UserID, scope.Category, scope.Year)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Store) Entries(ctx context.Context, scope generic.Scope) ([]generic.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scopeEntries(ctx, s.db, scope)
}

func scopeEntries(ctx context.Context, q querier, scope generic.Scope) ([]generic.LedgerEntry, error) {
	return queryEntries(ctx, q, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE user_id = ? AND category = ? AND year = ?
		ORDER BY seq ASC`, scope.UserID, scope.Category, scope.Year)
}

func (s *Store) EntriesForUser(ctx context.Context, userID generic.UserID, filter generic.EntryFilter) ([]generic.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return userEntries(ctx, s.db, userID, filter)
}

func userEntries(ctx context.Context, q querier, userID generic.UserID, f generic.EntryFilter) ([]generic.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE user_id = ?`
	args := []any{userID}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Type != "" {
		query += ` AND entry_type = ?`
		args = append(args, f.Type)
	}
	if f.ReferenceType != "" {
		query += ` AND reference_type = ?`
		args = append(args, f.ReferenceType)
	}
	if f.From != nil {
		query += ` AND transaction_date >= ?`
		args = append(args, f.From.String())
	}
	if f.To != nil {
		query += ` AND transaction_date <= ?`
		args = append(args, f.To.String())
	}
	query += ` ORDER BY transaction_date ASC, category ASC, seq ASC`
	return queryEntries(ctx, q, query, args...)
}

func (s *Store) EntriesByReference(ctx context.Context, userID generic.UserID, ref generic.Reference) ([]generic.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return referenceEntries(ctx, s.db, userID, ref)
}

func referenceEntries(ctx context.Context, q querier, userID generic.UserID, ref generic.Reference) ([]generic.LedgerEntry, error) {
	return queryEntries(ctx, q, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE user_id = ? AND reference_type = ? AND reference_id = ?
		ORDER BY transaction_date ASC, seq ASC`, userID, ref.Type, ref.ID)
}

func (s *Store) Scopes(ctx context.Context) ([]generic.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listScopes(ctx, s.db)
}

func listScopes(ctx context.Context, q querier) ([]generic.Scope, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT user_id, category, year FROM ledger_entries
		ORDER BY user_id, category, year`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []generic.Scope
	for rows.Next() {
		var sc generic.Scope
		if err := rows.Scan(&sc.UserID, &sc.Category, &sc.Year); err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return keyExists(ctx, s.db, idempotencyKey)
}

func keyExists(ctx context.Context, q querier, key string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, err
}

// AllEntries returns the most recent entries across users, newest first.
func (s *Store) AllEntries(ctx context.Context, limit int) ([]generic.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db, `SELECT `+entryColumns+` FROM ledger_entries
		ORDER BY created_at DESC, seq DESC LIMIT ?`, limit)
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]generic.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []generic.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (generic.LedgerEntry, error) {
	var e generic.LedgerEntry
	var year int
	var date, hours, running, createdAt string
	var refType, refID, description, key sql.NullString

	if err := rows.Scan(&e.ID, &e.UserID, &e.Category, &year, &e.Seq, &date, &e.Type, &hours,
		&running, &refType, &refID, &description, &key, &createdAt); err != nil {
		return generic.LedgerEntry{}, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	d, err := generic.ParseDate(date)
	if err != nil {
		return generic.LedgerEntry{}, err
	}
	e.TransactionDate = d
	e.Hours = generic.MustParseDecimal(hours)
	e.RunningBalance = generic.MustParseDecimal(running)
	e.Reference = generic.Reference{Type: refType.String, ID: refID.String}
	e.Description = description.String
	e.IdempotencyKey = key.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// SNAPSHOTS (generic.SnapshotStore interface)
// =============================================================================

const snapshotColumns = `user_id, category, year, current_balance, total_accrued,
	last_transaction_date, last_seq, updated_at`

func (s *Store) GetSnapshot(ctx context.Context, scope generic.Scope) (*generic.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSnapshot(ctx, s.db, scope)
}

func getSnapshot(ctx context.Context, q querier, scope generic.Scope) (*generic.BalanceSnapshot, error) {
	snaps, err := querySnapshots(ctx, q, `SELECT `+snapshotColumns+` FROM balance_snapshots
		WHERE user_id = ? AND category = ? AND year = ?`, scope.UserID, scope.Category, scope.Year)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

func (s *Store) ListSnapshots(ctx context.Context, userID generic.UserID) ([]generic.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return querySnapshots(ctx, s.db, `SELECT `+snapshotColumns+` FROM balance_snapshots
		WHERE user_id = ? ORDER BY year, category`, userID)
}

func (s *Store) UpsertSnapshot(ctx context.Context, snap generic.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertSnapshot(ctx, s.db, snap)
}

func upsertSnapshot(ctx context.Context, q querier, snap generic.BalanceSnapshot) error {
	lastDate := ""
	if !snap.LastTransactionDate.IsZero() {
		lastDate = snap.LastTransactionDate.String()
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO balance_snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category, year) DO UPDATE SET
			current_balance = excluded.current_balance,
			total_accrued = excluded.total_accrued,
			last_transaction_date = excluded.last_transaction_date,
			last_seq = excluded.last_seq,
			updated_at = excluded.updated_at`,
		snap.Scope.UserID, snap.Scope.Category, snap.Scope.Year,
		snap.CurrentBalance.String(), snap.TotalAccrued.String(),
		nullString(lastDate), snap.LastSeq, updatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func querySnapshots(ctx context.Context, q querier, query string, args ...any) ([]generic.BalanceSnapshot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []generic.BalanceSnapshot
	for rows.Next() {
		var snap generic.BalanceSnapshot
		var current, accrued, updatedAt string
		var lastDate sql.NullString
		if err := rows.Scan(&snap.Scope.UserID, &snap.Scope.Category, &snap.Scope.Year,
			&current, &accrued, &lastDate, &snap.LastSeq, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.CurrentBalance = generic.MustParseDecimal(current)
		snap.TotalAccrued = generic.MustParseDecimal(accrued)
		if lastDate.Valid {
			if d, err := generic.ParseDate(lastDate.String); err == nil {
				snap.LastTransactionDate = d
			}
		}
		snap.UpdatedAt = parseTime(updatedAt)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txStore runs under the parent's write lock and never locks itself.
type txStore struct {
	q querier
}

func (ts *txStore) InsertEntry(ctx context.Context, e generic.LedgerEntry) error {
	return insertEntry(ctx, ts.q, e)
}

func (ts *txStore) LastEntry(ctx context.Context, scope generic.Scope) (*generic.LedgerEntry, error) {
	return lastEntry(ctx, ts.q, scope)
}

func (ts *txStore) Entries(ctx context.Context, scope generic.Scope) ([]generic.LedgerEntry, error) {
	return scopeEntries(ctx, ts.q, scope)
}

func (ts *txStore) EntriesForUser(ctx context.Context, userID generic.UserID, f generic.EntryFilter) ([]generic.LedgerEntry, error) {
	return userEntries(ctx, ts.q, userID, f)
}

func (ts *txStore) EntriesByReference(ctx context.Context, userID generic.UserID, ref generic.Reference) ([]generic.LedgerEntry, error) {
	return referenceEntries(ctx, ts.q, userID, ref)
}

func (ts *txStore) Scopes(ctx context.Context) ([]generic.Scope, error) {
	return listScopes(ctx, ts.q)
}

func (ts *txStore) Exists(ctx context.Context, key string) (bool, error) {
	return keyExists(ctx, ts.q, key)
}

func (ts *txStore) GetSnapshot(ctx context.Context, scope generic.Scope) (*generic.BalanceSnapshot, error) {
	return getSnapshot(ctx, ts.q, scope)
}

func (ts *txStore) ListSnapshots(ctx context.Context, userID generic.UserID) ([]generic.BalanceSnapshot, error) {
	return querySnapshots(ctx, ts.q, `SELECT `+snapshotColumns+` FROM balance_snapshots
		WHERE user_id = ? ORDER BY year, category`, userID)
}

func (ts *txStore) UpsertSnapshot(ctx context.Context, snap generic.BalanceSnapshot) error {
	return upsertSnapshot(ctx, ts.q, snap)
}
