/*
store.go - Persistence interfaces for ledger entries and snapshots

PURPOSE:
  Defines the interface between the ledger logic and the database.
  The Store keeps append-only semantics for entries; the only mutable row
  is the balance snapshot, which is a cache.

KEY INTERFACES:
  EntryReader:    Read-only ledger access (reconciler, reports)
  EntryStore:     EntryReader + Insert
  SnapshotReader: Read-only snapshot access
  SnapshotStore:  SnapshotReader + Upsert
  Store:          EntryStore + SnapshotStore
  TxStore:        Store with atomic multi-write support
  ScopeLocker:    Optional, database-level per-scope serialization

APPEND-ONLY CONTRACT:
  - InsertEntry(): the only entry write
  - NO Update() or Delete() for entries
  - UpsertSnapshot() only from the ledger append path and rebuild

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL with advisory locks
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Append path using these interfaces
  - snapshot.go: Verify and rebuild
*/
package generic

import "context"

// =============================================================================
// ENTRIES - Append-only
// =============================================================================

// EntryFilter narrows EntriesForUser. Zero values mean "any".
type EntryFilter struct {
	Category      Category
	Type          EntryType
	ReferenceType string
	From          *TimePoint
	To            *TimePoint
}

func (f EntryFilter) Match(e LedgerEntry) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.ReferenceType != "" && e.Reference.Type != f.ReferenceType {
		return false
	}
	if f.From != nil && e.TransactionDate.Before(*f.From) {
		return false
	}
	if f.To != nil && e.TransactionDate.After(*f.To) {
		return false
	}
	return true
}

type EntryReader interface {
	// LastEntry returns the highest-seq entry of the scope, nil if none.
	LastEntry(ctx context.Context, scope Scope) (*LedgerEntry, error)

	// Entries returns the scope's entries ordered by seq.
	Entries(ctx context.Context, scope Scope) ([]LedgerEntry, error)

	// EntriesForUser returns matching entries across scopes, ordered by
	// transaction date then seq.
	EntriesForUser(ctx context.Context, userID UserID, filter EntryFilter) ([]LedgerEntry, error)

	// EntriesByReference finds entries created for a given event.
	EntriesByReference(ctx context.Context, userID UserID, ref Reference) ([]LedgerEntry, error)

	// Scopes lists every scope that has at least one entry.
	Scopes(ctx context.Context) ([]Scope, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

type EntryStore interface {
	EntryReader

	// InsertEntry persists an entry. Returns ErrDuplicateIdempotencyKey if
	// the key exists. This is the ONLY entry write operation.
	InsertEntry(ctx context.Context, entry LedgerEntry) error
}

// =============================================================================
// SNAPSHOTS - Cache, rebuildable
// =============================================================================

type SnapshotReader interface {
	// GetSnapshot returns nil when the scope has no snapshot.
	GetSnapshot(ctx context.Context, scope Scope) (*BalanceSnapshot, error)
	ListSnapshots(ctx context.Context, userID UserID) ([]BalanceSnapshot, error)
}

type SnapshotStore interface {
	SnapshotReader
	UpsertSnapshot(ctx context.Context, snapshot BalanceSnapshot) error
}

// Store is everything the ledger needs.
type Store interface {
	EntryStore
	SnapshotStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ScopeLocker is implemented by transactional views that can serialize a
// scope inside the current transaction (e.g. pg_advisory_xact_lock).
type ScopeLocker interface {
	LockScope(ctx context.Context, scope Scope) error
}

// =============================================================================
// LOCKER - Process or cluster level mutual exclusion
// =============================================================================

// Locker serializes work on a key. Unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
