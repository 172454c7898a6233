package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
	"github.com/warp/hoursbank/lock"
	"github.com/warp/hoursbank/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *sqlite.Store, id generic.UserID) {
	t.Helper()
	require.NoError(t, store.PutUser(context.Background(), attendance.User{
		ID: id, Name: string(id), ContractType: "full_time", Active: true,
	}))
}

func march(day int) generic.TimePoint { return generic.NewTimePoint(2025, time.March, day) }

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_AppendAndReadBack(t *testing.T) {
	store := newStore(t)
	ledger := generic.NewLedger(store, lock.NewLocal())
	ctx := context.Background()

	// GIVEN two appends in one scope
	_, err := ledger.Append(ctx, generic.AppendInput{
		UserID: "alice", Category: attendance.CategoryOvertimeBank, Date: march(3),
		Type: generic.EntryAccrual, Hours: decimal.RequireFromString("2.5"),
		Reference: generic.Reference{Type: attendance.RefManualCredit, ID: "c1"},
	})
	require.NoError(t, err)
	_, err = ledger.Append(ctx, generic.AppendInput{
		UserID: "alice", Category: attendance.CategoryOvertimeBank, Date: march(4),
		Type: generic.EntryDebit, Hours: decimal.RequireFromString("1"),
	})
	require.NoError(t, err)

	scope := generic.Scope{UserID: "alice", Category: attendance.CategoryOvertimeBank, Year: 2025}

	// WHEN reading entries back
	entries, err := store.Entries(ctx, scope)
	require.NoError(t, err)

	// THEN seq, running balance and reference survive the round trip
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.True(t, entries[0].RunningBalance.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "c1", entries[0].Reference.ID)
	assert.True(t, entries[1].RunningBalance.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, entries[1].TransactionDate.Equal(march(4)))

	snap, err := store.GetSnapshot(ctx, scope)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.CurrentBalance.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, int64(2), snap.LastSeq)
	assert.True(t, snap.LastTransactionDate.Equal(march(4)))
}

func TestLedger_DuplicateIdempotencyKey(t *testing.T) {
	store := newStore(t)
	ledger := generic.NewLedger(store, lock.NewLocal())
	ctx := context.Background()

	in := generic.AppendInput{
		UserID: "alice", Category: attendance.CategoryVacation, Date: march(1),
		Type: generic.EntryAccrual, Hours: decimal.RequireFromString("17.33"),
		IdempotencyKey: "accrual:alice:vacation:2025-03",
	}
	_, err := ledger.Append(ctx, in)
	require.NoError(t, err)

	// WHEN the same key is appended again
	_, err = ledger.Append(ctx, in)

	// THEN the store rejects it and nothing else is written
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	entries, err := store.Entries(ctx, generic.Scope{UserID: "alice", Category: attendance.CategoryVacation, Year: 2025})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInsertEntry_SeqCollision(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	entry := generic.LedgerEntry{
		ID: "e1", UserID: "alice", Category: attendance.CategoryOvertime, TransactionDate: march(3),
		Type: generic.EntryAccrual, Hours: decimal.NewFromInt(1), RunningBalance: decimal.NewFromInt(1),
		Seq: 1, CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertEntry(ctx, entry))

	// GIVEN a racing writer that computed the same seq
	entry.ID = "e2"
	err := store.InsertEntry(ctx, entry)

	// THEN it is reported as a concurrent modification, not a duplicate key
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.False(t, errors.Is(err, generic.ErrDuplicateIdempotencyKey))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	scope := generic.Scope{UserID: "alice", Category: attendance.CategoryOvertime, Year: 2025}

	// WHEN the transaction body fails after an insert
	err := store.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.InsertEntry(ctx, generic.LedgerEntry{
			ID: "e1", UserID: "alice", Category: attendance.CategoryOvertime, TransactionDate: march(3),
			Type: generic.EntryAccrual, Hours: decimal.NewFromInt(1), RunningBalance: decimal.NewFromInt(1),
			Seq: 1, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		last, err := tx.LastEntry(ctx, scope)
		require.NoError(t, err)
		require.NotNil(t, last)
		return errors.New("boom")
	})
	require.Error(t, err)

	// THEN nothing is visible afterwards
	entries, err := store.Entries(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEntriesForUser_Filter(t *testing.T) {
	store := newStore(t)
	ledger := generic.NewLedger(store, lock.NewLocal())
	ctx := context.Background()

	for i, cat := range []generic.Category{attendance.CategoryOvertimeBank, attendance.CategoryVacation} {
		_, err := ledger.Append(ctx, generic.AppendInput{
			UserID: "alice", Category: cat, Date: march(i + 1),
			Type: generic.EntryAccrual, Hours: decimal.NewFromInt(2),
			Reference: generic.Reference{Type: attendance.RefManualCredit, ID: "x"},
		})
		require.NoError(t, err)
	}

	from := march(2)
	entries, err := store.EntriesForUser(ctx, "alice", generic.EntryFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, attendance.CategoryVacation, entries[0].Category)

	byRef, err := store.EntriesByReference(ctx, "alice", generic.Reference{Type: attendance.RefManualCredit, ID: "x"})
	require.NoError(t, err)
	assert.Len(t, byRef, 2)

	scopes, err := store.Scopes(ctx)
	require.NoError(t, err)
	assert.Len(t, scopes, 2)
}

// =============================================================================
// SCHEDULES & RECORDS
// =============================================================================

func TestSchedule_RoundTripKeepsNulls(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice")

	// GIVEN Monday with a break and Tuesday with a NULL break
	var w attendance.WeeklySchedule
	w.UserID = "alice"
	w.Days[time.Monday] = attendance.WorkingDay("09:00", "17:00", 60)
	w.Days[time.Tuesday] = attendance.WorkingDay("09:00", "13:00", -1)
	bs := generic.MustParseClock("12:30")
	w.Days[time.Monday].BreakStart = &bs
	require.NoError(t, store.PutSchedule(ctx, w))

	got, err := store.GetSchedule(ctx, "alice")
	require.NoError(t, err)

	mon := got.Day(time.Monday)
	require.NotNil(t, mon.BreakMinutes)
	assert.Equal(t, 60, *mon.BreakMinutes)
	require.NotNil(t, mon.BreakStart)
	assert.Equal(t, "12:30", mon.BreakStart.String())

	tue := got.Day(time.Tuesday)
	assert.True(t, tue.IsWorkingDay)
	assert.Nil(t, tue.BreakMinutes)

	sun := got.Day(time.Sunday)
	assert.False(t, sun.IsWorkingDay)
	assert.Nil(t, sun.Start)
}

func TestSchedule_Missing(t *testing.T) {
	store := newStore(t)
	_, err := store.GetSchedule(context.Background(), "nobody")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestRecord_UpsertAndList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice")

	rec := attendance.DailyAttendanceRecord{
		UserID: "alice", Date: march(3),
		ExpectedHours: decimal.RequireFromString("7"), ActualHours: decimal.RequireFromString("6"),
		BalanceHours: decimal.RequireFromString("-1"), Origin: attendance.OriginFinalizer, Finalized: true,
	}
	require.NoError(t, store.UpsertRecord(ctx, rec))

	// WHEN the same day is written again
	rec.ActualHours = decimal.RequireFromString("7")
	rec.BalanceHours = decimal.Zero
	rec.CreditHours = decimal.RequireFromString("1")
	rec.ManualCreditHours = decimal.RequireFromString("1")
	rec.CreditRefs = []string{"manual_credit:c1"}
	require.NoError(t, store.UpsertRecord(ctx, rec))

	// THEN there is still one row, with the latest values
	records, err := store.ListRecords(ctx, "alice", generic.Period{Start: march(1), End: march(31)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].BalanceHours.IsZero())
	assert.True(t, records[0].Finalized)
	assert.Equal(t, "1", records[0].ManualCreditHours.String())
	assert.Equal(t, []string{"manual_credit:c1"}, records[0].CreditRefs)

	missing, err := store.GetRecord(ctx, "alice", march(4))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// LEAVE, RECOVERY, JOB RUNS
// =============================================================================

func TestLeave_ApprovedOverlapQuery(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice")

	entry := generic.MustParseClock("10:00")
	approvedAt := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	admin := "admin"
	require.NoError(t, store.CreateLeave(ctx, attendance.LeaveRequest{
		ID: "l1", UserID: "alice", Kind: attendance.LeaveHourlyPermission,
		StartDate: march(3), EndDate: march(3), EntryTime: &entry,
		Status: attendance.LeaveApproved, ApprovedBy: &admin, ApprovedAt: &approvedAt,
	}))
	hours := decimal.RequireFromString("8")
	require.NoError(t, store.CreateLeave(ctx, attendance.LeaveRequest{
		ID: "l2", UserID: "alice", Kind: attendance.LeaveVacation,
		StartDate: march(10), EndDate: march(14), Hours: &hours, Status: attendance.LeavePending,
	}))

	got, err := store.ListApprovedLeave(ctx, "alice", generic.Period{Start: march(1), End: march(31)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "l1", got[0].ID)
	require.NotNil(t, got[0].EntryTime)
	assert.Equal(t, "10:00", got[0].EntryTime.String())
	assert.Nil(t, got[0].ExitTime)
	require.NotNil(t, got[0].ApprovedAt)
	assert.True(t, got[0].ApprovedAt.Equal(approvedAt))

	pending, err := store.GetLeave(ctx, "l2")
	require.NoError(t, err)
	require.NotNil(t, pending.Hours)
	assert.True(t, pending.Hours.Equal(hours))

	_, err = store.GetLeave(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestRecovery_Unbooked(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice")

	rec := attendance.RecoveryRequest{
		ID: "r1", UserID: "alice", Date: march(8),
		StartTime: generic.MustParseClock("09:00"), EndTime: generic.MustParseClock("11:00"),
		Hours: decimal.NewFromInt(2), Status: attendance.RecoveryApproved,
	}
	require.NoError(t, store.CreateRecovery(ctx, rec))

	due, err := store.ListUnbookedRecoveries(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "11:00", due[0].EndTime.String())

	rec.BalanceAdded = true
	rec.Status = attendance.RecoveryCompleted
	require.NoError(t, store.UpdateRecovery(ctx, rec))

	due, err = store.ListUnbookedRecoveries(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestJobRuns_ClaimOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	ok, err := store.BeginJobRun(ctx, "run-1", "monthly_accrual", "2025-03")
	require.NoError(t, err)
	assert.True(t, ok)

	// WHEN a second scheduler tick tries the same key
	ok, err = store.BeginJobRun(ctx, "run-2", "monthly_accrual", "2025-03")
	require.NoError(t, err)
	assert.False(t, ok)

	// AND the first run failed, the key can be claimed again
	require.NoError(t, store.FinishJobRun(ctx, "monthly_accrual", "2025-03", 0, 0, 1, errors.New("db down")))
	ok, err = store.BeginJobRun(ctx, "run-3", "monthly_accrual", "2025-03")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.FinishJobRun(ctx, "monthly_accrual", "2025-03", 2, 0, 0, nil))
	runs, err := store.ListJobRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.JobCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Processed)
}
