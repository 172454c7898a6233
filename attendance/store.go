package attendance

import (
	"context"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// STORE INTERFACES - Persistence contracts for the hours domain
// =============================================================================
//
// Readers are split from writers so the reconciler can be handed read-only
// views. store/sqlite implements all of them.

type ScheduleReader interface {
	// GetSchedule returns ErrNotFound when the user has no schedule.
	GetSchedule(ctx context.Context, userID generic.UserID) (WeeklySchedule, error)
}

type ScheduleStore interface {
	ScheduleReader
	PutSchedule(ctx context.Context, schedule WeeklySchedule) error
}

type RecordReader interface {
	// GetRecord returns nil when there is no record for the date.
	GetRecord(ctx context.Context, userID generic.UserID, date generic.TimePoint) (*DailyAttendanceRecord, error)

	// ListRecords returns records in the period ordered by date.
	ListRecords(ctx context.Context, userID generic.UserID, period generic.Period) ([]DailyAttendanceRecord, error)
}

type RecordStore interface {
	RecordReader
	UpsertRecord(ctx context.Context, record DailyAttendanceRecord) error
}

type LeaveReader interface {
	// ListApprovedLeave returns approved requests overlapping the period.
	ListApprovedLeave(ctx context.Context, userID generic.UserID, period generic.Period) ([]LeaveRequest, error)
}

type LeaveStore interface {
	LeaveReader
	CreateLeave(ctx context.Context, req LeaveRequest) error
	GetLeave(ctx context.Context, id string) (LeaveRequest, error)
	UpdateLeave(ctx context.Context, req LeaveRequest) error
	ListLeave(ctx context.Context, userID generic.UserID) ([]LeaveRequest, error)
}

type RecoveryStore interface {
	CreateRecovery(ctx context.Context, rec RecoveryRequest) error
	GetRecovery(ctx context.Context, id string) (RecoveryRequest, error)
	UpdateRecovery(ctx context.Context, rec RecoveryRequest) error

	// ListUnbookedRecoveries returns approved or completed recoveries whose
	// hours were not yet added to the balance.
	ListUnbookedRecoveries(ctx context.Context) ([]RecoveryRequest, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, id generic.UserID) (User, error)
	ListActiveUsers(ctx context.Context) ([]User, error)
}

// Ledger is what the domain needs from generic.DefaultLedger.
type Ledger interface {
	Append(ctx context.Context, in generic.AppendInput) (generic.LedgerEntry, error)
	Balance(ctx context.Context, scope generic.Scope) (generic.BalanceView, error)
	Rebuild(ctx context.Context, scope generic.Scope) (generic.BalanceSnapshot, error)
	VerifyAll(ctx context.Context, repair bool) (generic.RebuildReport, error)
	Entries(ctx context.Context, scope generic.Scope) ([]generic.LedgerEntry, error)
}

// UpTo is every date from the beginning of time through asOf.
func UpTo(asOf generic.TimePoint) generic.Period {
	return generic.Period{Start: generic.NewTimePoint(1, 1, 1), End: asOf}
}
