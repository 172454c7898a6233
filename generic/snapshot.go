package generic

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SNAPSHOT - Rebuildable balance cache
// =============================================================================

// ConsistencyEpsilon is the largest tolerated snapshot/ledger difference.
var ConsistencyEpsilon = decimal.RequireFromString("0.005")

// ReplayEntries recomputes a scope's snapshot from its entries, checking the
// running balance chain on the way. Entries must be ordered by seq.
func ReplayEntries(scope Scope, entries []LedgerEntry) (BalanceSnapshot, error) {
	snap := BalanceSnapshot{Scope: scope, CurrentBalance: decimal.Zero, TotalAccrued: decimal.Zero}
	running := decimal.Zero
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			return BalanceSnapshot{}, &LedgerConsistencyError{
				Scope: scope, Seq: e.Seq, Reason: fmt.Sprintf("expected seq %d", i+1),
			}
		}
		running = running.Add(e.SignedHours())
		if !running.Equal(e.RunningBalance) {
			return BalanceSnapshot{}, &LedgerConsistencyError{
				Scope: scope, Seq: e.Seq, Ledger: running, Snapshot: e.RunningBalance,
				Reason: fmt.Sprintf("running balance %s, replay gives %s", e.RunningBalance, running),
			}
		}
		snap = snap.Apply(e)
	}
	return snap, nil
}

// BalanceView is what callers display for one scope. When
// NeedsReconciliation is set, Balance holds the ledger figure and the
// snapshot must not be shown.
type BalanceView struct {
	Scope               Scope
	Balance             decimal.Decimal
	TotalAccrued        decimal.Decimal
	SnapshotBalance     *decimal.Decimal
	EntryCount          int64
	NeedsReconciliation bool
}

// Balance reads the snapshot and checks it against the ledger tail.
// A divergence returns the view together with a LedgerConsistencyError.
func (l *DefaultLedger) Balance(ctx context.Context, scope Scope) (BalanceView, error) {
	last, err := l.Store.LastEntry(ctx, scope)
	if err != nil {
		return BalanceView{}, err
	}
	snap, err := l.Store.GetSnapshot(ctx, scope)
	if err != nil {
		return BalanceView{}, err
	}

	view := BalanceView{Scope: scope, Balance: decimal.Zero, TotalAccrued: decimal.Zero}
	ledgerBalance := decimal.Zero
	if last != nil {
		ledgerBalance = last.RunningBalance
		view.EntryCount = last.Seq
	}
	view.Balance = ledgerBalance

	if snap == nil {
		if last == nil {
			return view, nil
		}
		view.NeedsReconciliation = true
		return view, &LedgerConsistencyError{Scope: scope, Ledger: ledgerBalance, Reason: "snapshot missing"}
	}

	current := snap.CurrentBalance
	view.SnapshotBalance = &current
	view.TotalAccrued = snap.TotalAccrued
	if current.Sub(ledgerBalance).Abs().GreaterThan(ConsistencyEpsilon) || (last != nil && snap.LastSeq != last.Seq) {
		view.NeedsReconciliation = true
		return view, &LedgerConsistencyError{Scope: scope, Snapshot: current, Ledger: ledgerBalance}
	}
	return view, nil
}

// Rebuild recomputes the scope's snapshot from the ledger alone and stores it.
func (l *DefaultLedger) Rebuild(ctx context.Context, scope Scope) (BalanceSnapshot, error) {
	if l.Locker != nil {
		unlock, err := l.Locker.Lock(ctx, scope.Key())
		if err != nil {
			return BalanceSnapshot{}, err
		}
		defer unlock()
	}

	entries, err := l.Store.Entries(ctx, scope)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	snap, err := ReplayEntries(scope, entries)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	snap.UpdatedAt = l.now()
	if err := l.Store.UpsertSnapshot(ctx, snap); err != nil {
		return BalanceSnapshot{}, fmt.Errorf("failed to store rebuilt snapshot for %s: %w", scope, err)
	}
	return snap, nil
}

// RebuildReport summarizes a full verification pass.
type RebuildReport struct {
	Checked  int
	Drifted  []Scope
	Repaired int
	Broken   []error
}

// VerifyAll checks every scope and, when repair is set, rebuilds the ones
// whose snapshot drifted. Broken chains are reported, never rewritten.
func (l *DefaultLedger) VerifyAll(ctx context.Context, repair bool) (RebuildReport, error) {
	scopes, err := l.Store.Scopes(ctx)
	if err != nil {
		return RebuildReport{}, err
	}

	var report RebuildReport
	for _, scope := range scopes {
		report.Checked++
		entries, err := l.Store.Entries(ctx, scope)
		if err != nil {
			return report, err
		}
		if _, err := ReplayEntries(scope, entries); err != nil {
			report.Broken = append(report.Broken, err)
			continue
		}
		if _, err := l.Balance(ctx, scope); err == nil {
			continue
		}
		report.Drifted = append(report.Drifted, scope)
		if !repair {
			continue
		}
		if _, err := l.Rebuild(ctx, scope); err != nil {
			report.Broken = append(report.Broken, err)
			continue
		}
		report.Repaired++
	}
	return report, nil
}
