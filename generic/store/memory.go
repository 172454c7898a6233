// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[generic.Scope][]generic.LedgerEntry
	snapshots   map[generic.Scope]generic.BalanceSnapshot
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[generic.Scope][]generic.LedgerEntry),
		snapshots:   make(map[generic.Scope]generic.BalanceSnapshot),
		idempotency: make(map[string]bool),
	}
}

// InsertEntry adds a single entry. Append-only.
func (m *Memory) InsertEntry(_ context.Context, entry generic.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(entry)
}

func (m *Memory) insertLocked(entry generic.LedgerEntry) error {
	if entry.IdempotencyKey != "" && m.idempotency[entry.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	scope := entry.Scope()
	txs := m.entries[scope]
	if len(txs) > 0 && txs[len(txs)-1].Seq >= entry.Seq {
		return generic.ErrConcurrentModification
	}
	m.entries[scope] = append(txs, entry)
	if entry.IdempotencyKey != "" {
		m.idempotency[entry.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) LastEntry(_ context.Context, scope generic.Scope) (*generic.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastLocked(scope), nil
}

func (m *Memory) lastLocked(scope generic.Scope) *generic.LedgerEntry {
	txs := m.entries[scope]
	if len(txs) == 0 {
		return nil
	}
	last := txs[len(txs)-1]
	return &last
}

func (m *Memory) Entries(_ context.Context, scope generic.Scope) ([]generic.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(scope), nil
}

func (m *Memory) entriesLocked(scope generic.Scope) []generic.LedgerEntry {
	result := make([]generic.LedgerEntry, len(m.entries[scope]))
	copy(result, m.entries[scope])
	return result
}

func (m *Memory) EntriesForUser(_ context.Context, userID generic.UserID, filter generic.EntryFilter) ([]generic.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userEntriesLocked(userID, filter), nil
}

func (m *Memory) userEntriesLocked(userID generic.UserID, filter generic.EntryFilter) []generic.LedgerEntry {
	var result []generic.LedgerEntry
	for scope, txs := range m.entries {
		if scope.UserID != userID {
			continue
		}
		for _, e := range txs {
			if filter.Match(e) {
				result = append(result, e)
			}
		}
	}
	sortEntries(result)
	return result
}

func (m *Memory) EntriesByReference(_ context.Context, userID generic.UserID, ref generic.Reference) ([]generic.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byReferenceLocked(userID, ref), nil
}

func (m *Memory) byReferenceLocked(userID generic.UserID, ref generic.Reference) []generic.LedgerEntry {
	var result []generic.LedgerEntry
	for scope, txs := range m.entries {
		if scope.UserID != userID {
			continue
		}
		for _, e := range txs {
			if e.Reference == ref {
				result = append(result, e)
			}
		}
	}
	sortEntries(result)
	return result
}

func (m *Memory) Scopes(_ context.Context) ([]generic.Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scopesLocked(), nil
}

func (m *Memory) scopesLocked() []generic.Scope {
	result := make([]generic.Scope, 0, len(m.entries))
	for scope, txs := range m.entries {
		if len(txs) > 0 {
			result = append(result, scope)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].String() < result[j].String() })
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) GetSnapshot(_ context.Context, scope generic.Scope) (*generic.BalanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(scope), nil
}

func (m *Memory) snapshotLocked(scope generic.Scope) *generic.BalanceSnapshot {
	snap, ok := m.snapshots[scope]
	if !ok {
		return nil
	}
	return &snap
}

func (m *Memory) ListSnapshots(_ context.Context, userID generic.UserID) ([]generic.BalanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSnapshotsLocked(userID), nil
}

func (m *Memory) listSnapshotsLocked(userID generic.UserID) []generic.BalanceSnapshot {
	var result []generic.BalanceSnapshot
	for scope, snap := range m.snapshots {
		if scope.UserID == userID {
			result = append(result, snap)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Scope.String() < result[j].Scope.String() })
	return result
}

func (m *Memory) UpsertSnapshot(_ context.Context, snapshot generic.BalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.Scope] = snapshot
	return nil
}

// PutSnapshot overwrites a snapshot without any checks. Tests use it to
// simulate a drifted cache.
func (m *Memory) PutSnapshot(snapshot generic.BalanceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.Scope] = snapshot
}

func sortEntries(entries []generic.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.TransactionDate.Equal(b.TransactionDate) {
			return a.TransactionDate.Before(b.TransactionDate)
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Seq < b.Seq
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	saved := tm.save()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(saved)
		return err
	}
	return nil
}

type memoryState struct {
	entries     map[generic.Scope][]generic.LedgerEntry
	snapshots   map[generic.Scope]generic.BalanceSnapshot
	idempotency map[string]bool
}

func (tm *TxMemory) save() memoryState {
	s := memoryState{
		entries:     make(map[generic.Scope][]generic.LedgerEntry, len(tm.entries)),
		snapshots:   make(map[generic.Scope]generic.BalanceSnapshot, len(tm.snapshots)),
		idempotency: make(map[string]bool, len(tm.idempotency)),
	}
	for k, v := range tm.entries {
		s.entries[k] = append([]generic.LedgerEntry{}, v...)
	}
	for k, v := range tm.snapshots {
		s.snapshots[k] = v
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memoryState) {
	tm.entries = s.entries
	tm.snapshots = s.snapshots
	tm.idempotency = s.idempotency
}

// txMemoryView runs under the parent's write lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) InsertEntry(_ context.Context, entry generic.LedgerEntry) error {
	return tv.parent.insertLocked(entry)
}

func (tv *txMemoryView) LastEntry(_ context.Context, scope generic.Scope) (*generic.LedgerEntry, error) {
	return tv.parent.lastLocked(scope), nil
}

func (tv *txMemoryView) Entries(_ context.Context, scope generic.Scope) ([]generic.LedgerEntry, error) {
	return tv.parent.entriesLocked(scope), nil
}

func (tv *txMemoryView) EntriesForUser(_ context.Context, userID generic.UserID, filter generic.EntryFilter) ([]generic.LedgerEntry, error) {
	return tv.parent.userEntriesLocked(userID, filter), nil
}

func (tv *txMemoryView) EntriesByReference(_ context.Context, userID generic.UserID, ref generic.Reference) ([]generic.LedgerEntry, error) {
	return tv.parent.byReferenceLocked(userID, ref), nil
}

func (tv *txMemoryView) Scopes(_ context.Context) ([]generic.Scope, error) {
	return tv.parent.scopesLocked(), nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}

func (tv *txMemoryView) GetSnapshot(_ context.Context, scope generic.Scope) (*generic.BalanceSnapshot, error) {
	return tv.parent.snapshotLocked(scope), nil
}

func (tv *txMemoryView) ListSnapshots(_ context.Context, userID generic.UserID) ([]generic.BalanceSnapshot, error) {
	return tv.parent.listSnapshotsLocked(userID), nil
}

func (tv *txMemoryView) UpsertSnapshot(_ context.Context, snapshot generic.BalanceSnapshot) error {
	tv.parent.snapshots[snapshot.Scope] = snapshot
	return nil
}
