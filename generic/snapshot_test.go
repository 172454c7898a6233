package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/generic"
)

func TestBalance_ConsistentSnapshot(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Append(ctx, accrual(march(1), "4"))
	require.NoError(t, err)
	_, err = ledger.Append(ctx, debit(march(2), "1.5"))
	require.NoError(t, err)

	view, err := ledger.Balance(ctx, scope2025())
	require.NoError(t, err)
	assertHours(t, "2.5", view.Balance)
	assertHours(t, "4", view.TotalAccrued)
	require.NotNil(t, view.SnapshotBalance)
	assertHours(t, "2.5", *view.SnapshotBalance)
	assert.False(t, view.NeedsReconciliation)
}

func TestBalance_EmptyScope(t *testing.T) {
	ledger, _ := newTestLedger()
	view, err := ledger.Balance(context.Background(), scope2025())
	require.NoError(t, err)
	assertHours(t, "0", view.Balance)
	assert.Nil(t, view.SnapshotBalance)
}

func TestBalance_DriftedSnapshot_FlagsReconciliation(t *testing.T) {
	// GIVEN: A snapshot that was hand-edited to 50h while the ledger says 4h
	// WHEN: Reading the balance
	// THEN: The view carries the ledger figure, is flagged, and a
	//       LedgerConsistencyError is returned

	ledger, mem := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Append(ctx, accrual(march(1), "4"))
	require.NoError(t, err)

	snap, err := mem.GetSnapshot(ctx, scope2025())
	require.NoError(t, err)
	snap.CurrentBalance = hours("50")
	mem.PutSnapshot(*snap)

	view, err := ledger.Balance(ctx, scope2025())
	require.Error(t, err)
	var consistency *generic.LedgerConsistencyError
	require.ErrorAs(t, err, &consistency)
	assertHours(t, "50", consistency.Snapshot)
	assertHours(t, "4", consistency.Ledger)

	assert.True(t, view.NeedsReconciliation)
	assertHours(t, "4", view.Balance)
}

func TestBalance_WithinEpsilon_NotFlagged(t *testing.T) {
	ledger, mem := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Append(ctx, accrual(march(1), "4"))
	require.NoError(t, err)
	snap, err := mem.GetSnapshot(ctx, scope2025())
	require.NoError(t, err)
	snap.CurrentBalance = hours("4.004")
	mem.PutSnapshot(*snap)

	_, err = ledger.Balance(ctx, scope2025())
	assert.NoError(t, err)
}

func TestRebuild_ReproducesLastRunningBalance(t *testing.T) {
	// GIVEN: A drifted snapshot
	// WHEN: Rebuilding from the ledger
	// THEN: currentBalance == last runningBalance and totalAccrued == sum of accruals

	ledger, mem := newTestLedger()
	ctx := context.Background()

	for _, in := range []generic.AppendInput{
		accrual(march(1), "3"), debit(march(2), "1"), accrual(march(3), "2.25"),
	} {
		_, err := ledger.Append(ctx, in)
		require.NoError(t, err)
	}
	mem.PutSnapshot(generic.BalanceSnapshot{Scope: scope2025(), CurrentBalance: hours("-7"), LastSeq: 1})

	snap, err := ledger.Rebuild(ctx, scope2025())
	require.NoError(t, err)

	entries, err := ledger.Entries(ctx, scope2025())
	require.NoError(t, err)
	assertHours(t, entries[len(entries)-1].RunningBalance.String(), snap.CurrentBalance)
	assertHours(t, "5.25", snap.TotalAccrued)
	assert.Equal(t, int64(3), snap.LastSeq)
	assert.True(t, march(3).Equal(snap.LastTransactionDate))

	_, err = ledger.Balance(ctx, scope2025())
	assert.NoError(t, err)
}

func TestReplayEntries_BrokenChain(t *testing.T) {
	// GIVEN: A second entry whose running balance skips 1 hour
	// WHEN: Replaying
	// THEN: LedgerConsistencyError naming seq 2

	scope := scope2025()
	entries := []generic.LedgerEntry{
		{UserID: "emp-1", Category: testCategory, TransactionDate: march(1), Type: generic.EntryAccrual, Hours: hours("2"), RunningBalance: hours("2"), Seq: 1},
		{UserID: "emp-1", Category: testCategory, TransactionDate: march(2), Type: generic.EntryAccrual, Hours: hours("1"), RunningBalance: hours("4"), Seq: 2},
	}

	_, err := generic.ReplayEntries(scope, entries)
	var consistency *generic.LedgerConsistencyError
	require.ErrorAs(t, err, &consistency)
	assert.Equal(t, int64(2), consistency.Seq)
}

func TestReplayEntries_SeqGap(t *testing.T) {
	entries := []generic.LedgerEntry{
		{UserID: "emp-1", Category: testCategory, TransactionDate: march(1), Type: generic.EntryAccrual, Hours: hours("2"), RunningBalance: hours("2"), Seq: 2},
	}
	_, err := generic.ReplayEntries(scope2025(), entries)
	assert.ErrorIs(t, err, generic.ErrLedgerConsistency)
}

func TestVerifyAll_RepairsDriftedScopes(t *testing.T) {
	// GIVEN: Two scopes, one with a drifted snapshot
	// WHEN: VerifyAll without repair, then with repair
	// THEN: The drifted scope is reported, then fixed

	ledger, mem := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Append(ctx, accrual(march(1), "1"))
	require.NoError(t, err)
	other := accrual(generic.NewTimePoint(2024, time.June, 1), "2")
	_, err = ledger.Append(ctx, other)
	require.NoError(t, err)

	mem.PutSnapshot(generic.BalanceSnapshot{Scope: scope2025(), CurrentBalance: hours("9"), LastSeq: 1})

	report, err := ledger.VerifyAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, []generic.Scope{scope2025()}, report.Drifted)
	assert.Zero(t, report.Repaired)

	report, err = ledger.VerifyAll(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.Empty(t, report.Broken)

	report, err = ledger.VerifyAll(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Drifted)
}
