package attendance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
	"github.com/warp/hoursbank/lock"
	"github.com/warp/hoursbank/store/sqlite"
)

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	svc   *attendance.Service
	store *sqlite.Store
	logs  *test.Hook
	now   time.Time
}

func (f *fixture) at(t time.Time) { f.now = t }

func newFixture(t *testing.T, opts attendance.Options) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{store: store, logs: hook, now: time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC)}
	opts.Now = func() time.Time { return f.now }
	f.svc = attendance.NewService(attendance.Stores{
		Schedules:  store,
		Records:    store,
		Leaves:     store,
		Recoveries: store,
		Users:      store,
		Entries:    store,
	}, generic.NewLedger(store, lock.NewLocal()), opts, logger)

	f.addUser(t, "alice")
	return f
}

// addUser creates a full-time user working Monday to Friday 09:00-17:00
// with a 60 minute break.
func (f *fixture) addUser(t *testing.T, id generic.UserID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.PutUser(ctx, attendance.User{ID: id, Name: string(id), ContractType: "full_time", Active: true}))

	w := attendance.WeeklySchedule{UserID: id}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		w.Days[wd] = nineToFive()
	}
	require.NoError(t, f.svc.PutSchedule(ctx, w))
}

// approve stores an approved request with an explicit approval time.
func (f *fixture) approve(t *testing.T, req attendance.LeaveRequest, approvedAt time.Time) {
	t.Helper()
	admin := "boss"
	req.Status = attendance.LeaveApproved
	req.ApprovedBy, req.ApprovedAt = &admin, &approvedAt
	if req.UserID == "" {
		req.UserID = "alice"
	}
	if req.EndDate.IsZero() {
		req.EndDate = req.StartDate
	}
	require.NoError(t, f.store.CreateLeave(context.Background(), req))
}

func balanceOf(t *testing.T, f *fixture, cat generic.Category, year int) generic.BalanceView {
	t.Helper()
	view, err := f.svc.GetCurrentBalance(context.Background(), generic.Scope{UserID: "alice", Category: cat, Year: year})
	require.NoError(t, err)
	return view
}

func atUTC(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

// =============================================================================
// LIVE HOURS & DAILY RECORDS
// =============================================================================

func TestComputeRealTimeHours_MidMorning(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()

	at := atUTC(3, 10, 20)
	view, err := f.svc.ComputeRealTimeHours(ctx, "alice", march(3), at)
	require.NoError(t, err)

	assert.Equal(t, attendance.StatusWorking, view.Result.Status)
	assert.Equal(t, 80, view.Result.ActualMinutes)
	assertHours(t, "1.3", view.Result.ActualHours, "actual")
}

func TestComputeRealTimeHours_PastDayIsClosed(t *testing.T) {
	f := newFixture(t, attendance.Options{})

	view, err := f.svc.ComputeRealTimeHours(context.Background(), "alice", march(3), atUTC(4, 8, 0))
	require.NoError(t, err)

	assert.Equal(t, attendance.StatusCompleted, view.Result.Status)
	assertHours(t, "7", view.Result.ActualHours, "actual")
}

func TestComputeRealTimeHours_MissingSchedule(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	require.NoError(t, f.store.PutUser(context.Background(), attendance.User{ID: "bob", Name: "bob", Active: true}))

	_, err := f.svc.ComputeRealTimeHours(context.Background(), "bob", march(3), atUTC(3, 10, 0))

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestFinalizeDay_LateEntryPermission(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()
	f.approve(t, attendance.LeaveRequest{
		ID: "l1", Kind: attendance.LeaveHourlyPermission, StartDate: march(3), EntryTime: clockPtr("10:00"),
	}, atUTC(1, 9, 0))

	res, err := f.svc.FinalizeDay(ctx, "alice", march(3))
	require.NoError(t, err)

	rec := res.Record
	assertHours(t, "6", rec.ActualHours, "actual")
	assertHours(t, "7", rec.ExpectedHours, "expected")
	assertHours(t, "-1", rec.BalanceHours, "balance")
	assert.True(t, rec.PermissionApplied)
	assert.True(t, rec.Finalized)
	assert.Equal(t, attendance.OriginFinalizer, rec.Origin)

	// a second run leaves the finalized record alone
	again, err := f.svc.FinalizeDay(ctx, "alice", march(3))
	require.NoError(t, err)
	assert.True(t, again.Skipped)
}

func TestFinalizeDay_Law104IsNeutral(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()
	f.approve(t, attendance.LeaveRequest{
		ID: "l1", Kind: attendance.LeaveLaw104, StartDate: march(3), EntryTime: clockPtr("11:00"),
	}, atUTC(1, 9, 0))

	res, err := f.svc.FinalizeDay(ctx, "alice", march(3))
	require.NoError(t, err)

	assert.True(t, res.Record.Law104)
	assert.True(t, res.Record.BalanceHours.IsZero())
	assertHours(t, "5", res.Record.ActualHours, "actual")

	b, err := f.svc.ReconcileTotalBalance(ctx, "alice", march(4))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Law104Skipped)
	assert.True(t, b.Total.IsZero())
}

func TestFinalizeDay_OverlappingPermissionsCountOnce(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()

	// GIVEN a late entry approved first and a 2h permission approved later
	f.approve(t, attendance.LeaveRequest{
		ID: "l-entry", Kind: attendance.LeaveHourlyPermission, StartDate: march(3), EntryTime: clockPtr("10:00"),
	}, atUTC(1, 9, 0))
	f.approve(t, attendance.LeaveRequest{
		ID: "l-flat", Kind: attendance.LeaveHourlyPermission, StartDate: march(3), Hours: decPtr("2"),
	}, atUTC(1, 10, 0))

	// WHEN the live view is computed
	view, err := f.svc.ComputeRealTimeHours(ctx, "alice", march(3), atUTC(3, 18, 0))

	// THEN the overlap is reported and only the later request applies
	assert.ErrorIs(t, err, generic.ErrAmbiguousAdjustment)
	require.NotNil(t, view.Adjustment)
	assert.Equal(t, "l-flat", view.Adjustment.RequestID)
	assertHours(t, "-2", view.Result.BalanceHours, "balance")

	// AND the finalized day carries a single deficit
	res, err := f.svc.FinalizeDay(ctx, "alice", march(3))
	require.NoError(t, err)
	assertHours(t, "-2", res.Record.BalanceHours, "record balance")
	assert.NotEmpty(t, f.logs.AllEntries(), "the overlap is logged")
}

func TestFinalizeAll_CountsFailures(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()
	require.NoError(t, f.store.PutUser(ctx, attendance.User{ID: "bob", Name: "bob", Active: true}))

	sum, err := f.svc.FinalizeAll(ctx, march(3))

	// THEN alice is closed and the batch reports bob
	assert.ErrorIs(t, err, generic.ErrBatchIncomplete)
	assert.ErrorContains(t, err, "1 of 2 users")
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Failed, "bob has no schedule")

	// AND a rerun skips alice and still fails on bob
	sum, err = f.svc.FinalizeAll(ctx, march(3))
	assert.ErrorIs(t, err, generic.ErrBatchIncomplete)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)
}

func TestFinalizeAll_AllClosed(t *testing.T) {
	f := newFixture(t, attendance.Options{})

	sum, err := f.svc.FinalizeAll(context.Background(), march(3))

	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Zero(t, sum.Failed)
}

func TestDailyRecord_Lazy(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()
	f.at(atUTC(4, 12, 0))

	// a closed day without a record is computed and stored
	rec, err := f.svc.DailyRecord(ctx, "alice", march(3))
	require.NoError(t, err)
	assert.Equal(t, attendance.OriginLazy, rec.Origin)
	stored, err := f.store.GetRecord(ctx, "alice", march(3))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Finalized)

	// today is returned live and not stored
	live, err := f.svc.DailyRecord(ctx, "alice", march(4))
	require.NoError(t, err)
	assertHours(t, "3", live.ActualHours, "live actual")
	none, err := f.store.GetRecord(ctx, "alice", march(4))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCorrectRecord_RederivesBalance(t *testing.T) {
	f := newFixture(t, attendance.Options{})

	rec, err := f.svc.CorrectRecord(context.Background(), attendance.DailyAttendanceRecord{
		UserID: "alice", Date: march(3), ExpectedHours: dec("7"), ActualHours: dec("7.46"),
		BalanceHours: dec("100"),
	})
	require.NoError(t, err)

	assertHours(t, "0.5", rec.BalanceHours, "balance")
	assert.Equal(t, attendance.OriginCorrection, rec.Origin)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconcile_TodayRules(t *testing.T) {
	ctx := context.Background()
	seed := func(t *testing.T, f *fixture) {
		_, err := f.svc.CorrectRecord(ctx, attendance.DailyAttendanceRecord{
			UserID: "alice", Date: march(3), ExpectedHours: dec("7"), ActualHours: dec("6"),
		})
		require.NoError(t, err)
		_, err = f.svc.CorrectRecord(ctx, attendance.DailyAttendanceRecord{
			UserID: "alice", Date: march(4), ExpectedHours: dec("7"), ActualHours: dec("7.5"),
		})
		require.NoError(t, err)
	}

	t.Run("exclude always", func(t *testing.T) {
		f := newFixture(t, attendance.Options{TodayRule: attendance.TodayExcludeAlways})
		seed(t, f)

		b, err := f.svc.ReconcileTotalBalance(ctx, "alice", march(4))
		require.NoError(t, err)
		assert.False(t, b.TodayCounted)
		assertHours(t, "-1", b.Total, "total")
	})

	t.Run("exclude unless justified", func(t *testing.T) {
		f := newFixture(t, attendance.Options{TodayRule: attendance.TodayExcludeUnlessJustified})
		seed(t, f)

		b, err := f.svc.ReconcileTotalBalance(ctx, "alice", march(4))
		require.NoError(t, err)
		assert.True(t, b.TodayCounted)
		assertHours(t, "-0.5", b.Total, "total")
	})
}

func TestReconcile_TodayPermissionDeficit(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()
	f.approve(t, attendance.LeaveRequest{
		ID: "l1", Kind: attendance.LeaveHourlyPermission, StartDate: march(4), Hours: decPtr("2"),
	}, atUTC(1, 9, 0))

	b, err := f.svc.ReconcileTotalBalance(ctx, "alice", march(4))
	require.NoError(t, err)

	assertHours(t, "2", b.TodayDeficit, "today deficit")
	assertHours(t, "-2", b.Total, "total")
}

func TestReconcile_ManualCreditNotCountedTwice(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()

	// GIVEN two manual credits, each booked as a day record and a ledger row
	_, err := f.svc.AddManualCredit(ctx, "alice", march(8), dec("2"), "saturday shift")
	require.NoError(t, err)
	_, err = f.svc.AddManualCredit(ctx, "alice", march(9), dec("1.5"), "sunday call")
	require.NoError(t, err)

	day, err := f.store.GetRecord(ctx, "alice", march(8))
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, attendance.OriginManualCredit, day.Origin)
	assertHours(t, "2", day.ManualCreditHours, "manual part")

	// WHEN reconciling
	b, err := f.svc.ReconcileTotalBalance(ctx, "alice", march(10))
	require.NoError(t, err)

	// THEN each credit counts once
	assertHours(t, "3.5", b.DaysBalance, "days")
	assertHours(t, "3.5", b.ManualCredits, "credits")
	assertHours(t, "3.5", b.AlreadyCounted, "already counted")
	assertHours(t, "3.5", b.Total, "total")
}

func TestReconcile_RecoveryAndManualCreditSameDay(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()

	// GIVEN a 2h recovery booked on Saturday
	submitApprovedRecovery(t, f, march(8), "09:00", "11:00")
	f.at(atUTC(10, 7, 0))
	_, err := f.svc.SweepRecoveries(ctx)
	require.NoError(t, err)

	// AND a separate 2h manual credit for the same day
	_, err = f.svc.AddManualCredit(ctx, "alice", march(8), dec("2"), "on call")
	require.NoError(t, err)

	// WHEN reconciling
	b, err := f.svc.ReconcileTotalBalance(ctx, "alice", march(9))
	require.NoError(t, err)

	// THEN the recovery does not absorb the manual credit
	assertHours(t, "4", b.DaysBalance, "days")
	assertHours(t, "2", b.ManualCredits, "credits")
	assertHours(t, "2", b.AlreadyCounted, "already counted")
	assertHours(t, "4", b.Total, "total")

	day, err := f.store.GetRecord(ctx, "alice", march(8))
	require.NoError(t, err)
	assertHours(t, "4", day.CreditHours, "record credit")
	assertHours(t, "2", day.ManualCreditHours, "manual part")
	assert.Len(t, day.CreditRefs, 2)
}

func TestReconcile_IsReadOnly(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()
	_, err := f.svc.FinalizeDay(ctx, "alice", march(3))
	require.NoError(t, err)

	first, err := f.svc.ReconcileTotalBalance(ctx, "alice", march(4))
	require.NoError(t, err)
	second, err := f.svc.ReconcileTotalBalance(ctx, "alice", march(4))
	require.NoError(t, err)

	assert.True(t, first.Total.Equal(second.Total))
	entries, err := f.store.EntriesForUser(ctx, "alice", generic.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	records, err := f.store.ListRecords(ctx, "alice", attendance.UpTo(march(31)))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReconcile_UnknownUser(t *testing.T) {
	f := newFixture(t, attendance.Options{})

	_, err := f.svc.ReconcileTotalBalance(context.Background(), "ghost", march(4))

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

func TestAppendLedgerEntry_UnknownCategory(t *testing.T) {
	f := newFixture(t, attendance.Options{})

	_, err := f.svc.AppendLedgerEntry(context.Background(), generic.AppendInput{
		UserID: "alice", Category: "parking", Date: march(3), Type: generic.EntryAccrual, Hours: dec("1"),
	})

	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestGetCurrentBalance_DriftedSnapshot(t *testing.T) {
	ctx := context.Background()
	corrupt := func(t *testing.T, f *fixture) generic.Scope {
		_, err := f.svc.AddOvertime(ctx, "alice", march(3), dec("3"), generic.Reference{}, "late release")
		require.NoError(t, err)
		scope := generic.Scope{UserID: "alice", Category: attendance.CategoryOvertimeBank, Year: 2025}
		snap, err := f.store.GetSnapshot(ctx, scope)
		require.NoError(t, err)
		snap.CurrentBalance = dec("42")
		require.NoError(t, f.store.UpsertSnapshot(ctx, *snap))
		return scope
	}

	t.Run("flagged without auto repair", func(t *testing.T) {
		f := newFixture(t, attendance.Options{})
		scope := corrupt(t, f)

		view, err := f.svc.GetCurrentBalance(ctx, scope)
		assert.ErrorIs(t, err, generic.ErrLedgerConsistency)
		assert.True(t, view.NeedsReconciliation)
		assertHours(t, "3", view.Balance, "ledger balance")
	})

	t.Run("repaired with auto repair", func(t *testing.T) {
		f := newFixture(t, attendance.Options{AutoRepair: true})
		scope := corrupt(t, f)

		view, err := f.svc.GetCurrentBalance(ctx, scope)
		require.NoError(t, err)
		assert.False(t, view.NeedsReconciliation)
		require.NotNil(t, view.SnapshotBalance)
		assertHours(t, "3", *view.SnapshotBalance, "snapshot")
	})
}

func TestVerifyAll_RepairsDrift(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()
	_, err := f.svc.AddOvertime(ctx, "alice", march(3), dec("3"), generic.Reference{}, "")
	require.NoError(t, err)
	scope := generic.Scope{UserID: "alice", Category: attendance.CategoryOvertimeBank, Year: 2025}
	snap, err := f.store.GetSnapshot(ctx, scope)
	require.NoError(t, err)
	snap.CurrentBalance = dec("1")
	require.NoError(t, f.store.UpsertSnapshot(ctx, *snap))

	report, err := f.svc.VerifyAll(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Repaired)
	assertHours(t, "3", balanceOf(t, f, attendance.CategoryOvertimeBank, 2025).Balance, "balance")
}

func TestUseOvertime_InsufficientBalance(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()
	_, err := f.svc.AddOvertime(ctx, "alice", march(3), dec("2"), generic.Reference{}, "")
	require.NoError(t, err)

	_, err = f.svc.UseOvertime(ctx, "alice", march(4), dec("3"), generic.Reference{}, "")
	var insufficient *generic.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assertHours(t, "2", insufficient.Available, "available")

	entry, err := f.svc.UseOvertime(ctx, "alice", march(4), dec("1.5"), generic.Reference{}, "")
	require.NoError(t, err)
	assertHours(t, "0.5", entry.RunningBalance, "running")
	assert.Equal(t, attendance.RefOvertime, entry.Reference.Type)
}

// =============================================================================
// LEAVE LIFECYCLE
// =============================================================================

func TestLeaveLifecycle(t *testing.T) {
	f := newFixture(t, attendance.Options{})
	ctx := context.Background()
	admin := attendance.Actor{ID: "boss", Admin: true}

	req, err := f.svc.SubmitLeave(ctx, attendance.LeaveRequest{
		UserID: "alice", Kind: attendance.LeaveHourlyPermission, StartDate: march(5), EndDate: march(5),
		ExitTime: clockPtr("15:00"),
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.LeavePending, req.Status)
	assert.NotEmpty(t, req.ID)

	// pending requests do not change the day
	view, err := f.svc.ComputeRealTimeHours(ctx, "alice", march(5), atUTC(6, 9, 0))
	require.NoError(t, err)
	assert.Nil(t, view.Adjustment)

	approved, err := f.svc.ApproveLeave(ctx, req.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, attendance.LeaveApproved, approved.Status)

	view, err = f.svc.ComputeRealTimeHours(ctx, "alice", march(5), atUTC(6, 9, 0))
	require.NoError(t, err)
	require.NotNil(t, view.Adjustment)
	assertHours(t, "-2", view.Result.BalanceHours, "balance")

	_, err = f.svc.RejectLeave(ctx, req.ID, admin)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = f.svc.CancelLeave(ctx, req.ID, attendance.Actor{ID: "alice"})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	cancelled, err := f.svc.CancelLeave(ctx, req.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, attendance.LeaveCancelled, cancelled.Status)

	stored, err := f.svc.GetLeave(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.LeaveCancelled, stored.Status)
}

func TestSubmitLeave_Invalid(t *testing.T) {
	f := newFixture(t, attendance.Options{})

	_, err := f.svc.SubmitLeave(context.Background(), attendance.LeaveRequest{
		UserID: "alice", Kind: attendance.LeaveVacation, StartDate: march(5), EndDate: march(5),
		EntryTime: clockPtr("10:00"),
	})

	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}
