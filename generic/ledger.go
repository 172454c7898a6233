/*
ledger.go - Append-only hours ledger with running balance

PURPOSE:
  The Ledger is the immutable source of truth for every hours balance.
  Accruals, debits, expirations and adjustments are recorded here, each
  carrying the running balance of its scope (user, category, year).

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. CHAINED: runningBalance[i] == runningBalance[i-1] + signedHours[i]
     within a scope, ordered by seq.
  3. BOUNDED: a running balance outside [-9999.99, 9999.99] is rejected
     with RangeOverflowError. Never clamped.
  4. SERIALIZED: appends for one scope never interleave. The Locker
     serializes across goroutines (and replicas with Redis); stores that
     implement ScopeLocker also lock inside the database transaction.

APPEND FLOW:
  1. Lock scope
  2. Read last running balance (0 if none)
  3. newBalance = last + signed; reject if out of range
  4. Insert entry with seq = last.seq + 1
  5. Upsert snapshot (totalAccrued += hours for accruals)

  On a TxStore steps 2-5 commit together. On a plain Store a failure in
  step 5 leaves the entry durable and returns ErrSnapshotStale; the next
  append or a rebuild repairs the snapshot.

CORRECTIONS:
  Never edit an entry. Append a compensating adjustment instead.

SEE ALSO:
  - store.go: Low-level persistence interface
  - snapshot.go: Balance view, verification and rebuild
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AppendInput describes one ledger movement.
type AppendInput struct {
	UserID         UserID
	Category       Category
	Date           TimePoint
	Type           EntryType
	Hours          decimal.Decimal
	Reference      Reference
	Description    string
	IdempotencyKey string

	// NoOverdraft rejects the append with InsufficientBalanceError when the
	// running balance would go below zero. Checked under the scope lock.
	NoOverdraft bool
}

func (in AppendInput) validate() error {
	if in.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if in.Category == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: transaction date is required", ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", ErrInvalidInput, in.Type)
	}
	if in.Hours.IsZero() {
		return fmt.Errorf("%w: hours must be non-zero", ErrInvalidInput)
	}
	if in.Type != EntryAdjustment && in.Hours.IsNegative() {
		return fmt.Errorf("%w: %s hours must be positive", ErrInvalidInput, in.Type)
	}
	return nil
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store  Store
	Locker Locker
	Now    func() time.Time
}

// NewLedger builds a ledger. A nil locker means the caller serializes.
func NewLedger(store Store, locker Locker) *DefaultLedger {
	return &DefaultLedger{Store: store, Locker: locker, Now: time.Now}
}

// Append records one movement and returns the written entry.
func (l *DefaultLedger) Append(ctx context.Context, in AppendInput) (LedgerEntry, error) {
	if err := in.validate(); err != nil {
		return LedgerEntry{}, err
	}
	in.Hours = Round2(in.Hours)
	scope := ScopeFor(in.UserID, in.Category, in.Date)

	if l.Locker != nil {
		unlock, err := l.Locker.Lock(ctx, scope.Key())
		if err != nil {
			return LedgerEntry{}, err
		}
		defer unlock()
	}

	if txs, ok := l.Store.(TxStore); ok {
		var written LedgerEntry
		err := txs.WithTx(ctx, func(s Store) error {
			e, err := l.appendIn(ctx, s, scope, in, true)
			written = e
			return err
		})
		if err != nil {
			return LedgerEntry{}, err
		}
		return written, nil
	}
	return l.appendIn(ctx, l.Store, scope, in, false)
}

func (l *DefaultLedger) appendIn(ctx context.Context, s Store, scope Scope, in AppendInput, atomic bool) (LedgerEntry, error) {
	if sl, ok := s.(ScopeLocker); ok {
		if err := sl.LockScope(ctx, scope); err != nil {
			return LedgerEntry{}, err
		}
	}

	if in.IdempotencyKey != "" {
		exists, err := s.Exists(ctx, in.IdempotencyKey)
		if err != nil {
			return LedgerEntry{}, err
		}
		if exists {
			return LedgerEntry{}, ErrDuplicateIdempotencyKey
		}
	}

	last, err := s.LastEntry(ctx, scope)
	if err != nil {
		return LedgerEntry{}, err
	}
	previous, prevSeq := decimal.Zero, int64(0)
	if last != nil {
		previous, prevSeq = last.RunningBalance, last.Seq
	}

	delta := SignedHours(in.Type, in.Hours)
	next := previous.Add(delta)
	if in.NoOverdraft && next.IsNegative() {
		return LedgerEntry{}, &InsufficientBalanceError{Scope: scope, Available: previous, Requested: in.Hours}
	}
	if !InRange(next) {
		return LedgerEntry{}, &RangeOverflowError{Scope: scope, Previous: previous, Delta: delta, Attempted: next}
	}

	entry := LedgerEntry{
		ID:              EntryID(uuid.NewString()),
		UserID:          in.UserID,
		Category:        in.Category,
		TransactionDate: in.Date,
		Type:            in.Type,
		Hours:           in.Hours,
		RunningBalance:  next,
		Reference:       in.Reference,
		Description:     in.Description,
		IdempotencyKey:  in.IdempotencyKey,
		Seq:             prevSeq + 1,
		CreatedAt:       l.now(),
	}
	if err := s.InsertEntry(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}

	if err := l.refreshSnapshot(ctx, s, scope, entry); err != nil {
		if atomic {
			return LedgerEntry{}, err
		}
		return entry, fmt.Errorf("%w: %s: %v", ErrSnapshotStale, scope, err)
	}
	return entry, nil
}

// refreshSnapshot folds the entry into the snapshot when the snapshot is
// current, and rebuilds it from the ledger otherwise.
func (l *DefaultLedger) refreshSnapshot(ctx context.Context, s Store, scope Scope, entry LedgerEntry) error {
	snap, err := s.GetSnapshot(ctx, scope)
	if err != nil {
		return err
	}

	var next BalanceSnapshot
	switch {
	case snap == nil && entry.Seq == 1:
		next = BalanceSnapshot{}.Apply(entry)
	case snap != nil && snap.LastSeq == entry.Seq-1:
		next = snap.Apply(entry)
	default:
		entries, err := s.Entries(ctx, scope)
		if err != nil {
			return err
		}
		rebuilt, err := ReplayEntries(scope, entries)
		if err != nil {
			return err
		}
		next = rebuilt
	}
	next.UpdatedAt = l.now()
	return s.UpsertSnapshot(ctx, next)
}

// Entries returns the scope's history in append order.
func (l *DefaultLedger) Entries(ctx context.Context, scope Scope) ([]LedgerEntry, error) {
	return l.Store.Entries(ctx, scope)
}

func (l *DefaultLedger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}
