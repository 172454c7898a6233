/*
Package attendance implements the hours bank on top of the generic ledger.

PURPOSE:
  Turns weekly schedules, breaks and approved leave into expected and
  actual hours for a day, persists the result as a daily attendance
  record, and books discrete events (manual credits, recoveries,
  accruals, overtime) into the ledger. The reconciler merges records
  and ledger into the single figure shown to the user.

KEY CONCEPTS IN THIS FILE (types.go):
  - Categories and reference types used in ledger entries
  - WeeklySchedule / DaySchedule: per-weekday shift definition
  - LeaveRequest / LeaveAdjustment: approved leave restricted to one date
  - DailyAttendanceRecord: the persisted day
  - RecoveryRequest, User, ContractType

HOURS:
  Calculations run in whole minutes. Hours are decimals rounded to one
  place for display and records, two places in the ledger.

SEE ALSO:
  - schedule.go, breaks.go, realtime.go: the pure calculators
  - leave.go: state machine and overlap resolution
  - reconcile.go: total balance
  - service.go: the facade used by the API, the scheduler and the CLI
*/
package attendance

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// CATEGORIES & REFERENCES
// =============================================================================

const (
	// CategoryOvertime counts raw overtime worked, informational.
	CategoryOvertime generic.Category = "overtime"

	// CategoryOvertimeBank is the hours bank: manual credits, recoveries
	// and overtime usage.
	CategoryOvertimeBank generic.Category = "overtime_bank"

	CategoryVacation   generic.Category = "vacation"
	CategoryPermission generic.Category = "permission"
	CategorySickLeave  generic.Category = "sick_leave"
)

func init() {
	for _, c := range []generic.Category{
		CategoryOvertime, CategoryOvertimeBank, CategoryVacation, CategoryPermission, CategorySickLeave,
	} {
		generic.RegisterCategory(c)
	}
}

// Reference types on ledger entries.
const (
	RefManualCredit    = "manual_credit"
	RefRecoveryRequest = "recovery_request"
	RefLeaveRequest    = "leave_request"
	RefMonthlyAccrual  = "monthly_accrual"
	RefCorrection      = "correction"
	RefOvertime        = "overtime"
)

// =============================================================================
// SCHEDULE
// =============================================================================

// DaySchedule is one weekday of a weekly schedule. Nil fields are absent
// data, never defaults: a nil BreakMinutes means no break.
type DaySchedule struct {
	Weekday      time.Weekday
	IsWorkingDay bool
	Start        *generic.ClockTime
	End          *generic.ClockTime
	BreakMinutes *int
	BreakStart   *generic.ClockTime
}

// WeeklySchedule holds the seven days, indexed by time.Weekday (0 = Sunday).
type WeeklySchedule struct {
	UserID generic.UserID
	Days   [7]DaySchedule
}

// Day returns the schedule for a weekday. Unset days are non-working.
func (w WeeklySchedule) Day(wd time.Weekday) DaySchedule {
	d := w.Days[wd]
	d.Weekday = wd
	return d
}

// For returns the schedule that applies to date.
func (w WeeklySchedule) For(date generic.TimePoint) DaySchedule {
	return w.Day(date.Weekday())
}

// WorkingDay is a helper for building schedules in code and tests.
// breakMinutes < 0 means no break configured.
func WorkingDay(start, end string, breakMinutes int) DaySchedule {
	s, e := generic.MustParseClock(start), generic.MustParseClock(end)
	d := DaySchedule{IsWorkingDay: true, Start: &s, End: &e}
	if breakMinutes >= 0 {
		d.BreakMinutes = &breakMinutes
	}
	return d
}

// =============================================================================
// LEAVE
// =============================================================================

type LeaveKind string

const (
	LeaveHourlyPermission LeaveKind = "hourly_permission"
	LeaveLaw104           LeaveKind = "law104_permission"
	LeaveVacation         LeaveKind = "vacation"
	LeaveSick             LeaveKind = "sick_leave"
	LeaveRecovery         LeaveKind = "recovery"
)

func (k LeaveKind) Valid() bool {
	switch k {
	case LeaveHourlyPermission, LeaveLaw104, LeaveVacation, LeaveSick, LeaveRecovery:
		return true
	}
	return false
}

// AllowsWindow reports whether the kind may shift the shift boundaries.
func (k LeaveKind) AllowsWindow() bool {
	return k == LeaveHourlyPermission || k == LeaveLaw104
}

type LeaveStatus string

const (
	LeavePending   LeaveStatus = "pending"
	LeaveApproved  LeaveStatus = "approved"
	LeaveRejected  LeaveStatus = "rejected"
	LeaveCancelled LeaveStatus = "cancelled"
)

type LeaveRequest struct {
	ID        string
	UserID    generic.UserID
	Kind      LeaveKind
	StartDate generic.TimePoint
	EndDate   generic.TimePoint

	// Exactly one shape: a window (EntryTime and/or ExitTime), flat Hours,
	// or FullDay.
	EntryTime *generic.ClockTime
	ExitTime  *generic.ClockTime
	Hours     *decimal.Decimal
	FullDay   bool

	Status     LeaveStatus
	ApprovedBy *string
	ApprovedAt *time.Time
	DecidedBy  *string
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r LeaveRequest) Period() generic.Period {
	return generic.Period{Start: r.StartDate, End: r.EndDate}
}

// Covers reports whether date falls in the request's range.
func (r LeaveRequest) Covers(date generic.TimePoint) bool {
	return r.Period().Contains(date)
}

// LeaveAdjustment is an approved request restricted to one date.
type LeaveAdjustment struct {
	RequestID string
	Kind      LeaveKind
	Date      generic.TimePoint
	EntryTime *generic.ClockTime
	ExitTime  *generic.ClockTime
	Hours     *decimal.Decimal
	FullDay   bool
}

// IsCredit is true for recovery: flat hours are added, not deducted.
func (a LeaveAdjustment) IsCredit() bool { return a.Kind == LeaveRecovery }

// HasWindow reports whether the adjustment moves the shift boundaries.
func (a LeaveAdjustment) HasWindow() bool {
	return !a.FullDay && a.Hours == nil && (a.EntryTime != nil || a.ExitTime != nil)
}

// Actor is whoever drives a state transition.
type Actor struct {
	ID    string
	Admin bool
}

// =============================================================================
// DAILY RECORD
// =============================================================================

type DayStatus string

const (
	StatusNotStarted    DayStatus = "not_started"
	StatusWorking       DayStatus = "working"
	StatusOnBreak       DayStatus = "on_break"
	StatusCompleted     DayStatus = "completed"
	StatusNonWorkingDay DayStatus = "non_working_day"
)

type RecordOrigin string

const (
	OriginFinalizer    RecordOrigin = "finalizer"
	OriginLazy         RecordOrigin = "lazy"
	OriginRecovery     RecordOrigin = "recovery"
	OriginManualCredit RecordOrigin = "manual_credit"
	OriginCorrection   RecordOrigin = "correction"
)

func (o RecordOrigin) Valid() bool {
	switch o {
	case OriginFinalizer, OriginLazy, OriginRecovery, OriginManualCredit, OriginCorrection:
		return true
	}
	return false
}

// DailyAttendanceRecord is one closed (or lazily computed) day.
// BalanceHours == ActualHours - ExpectedHours, except on law-104 days
// where it is 0.
type DailyAttendanceRecord struct {
	UserID        generic.UserID
	Date          generic.TimePoint
	ExpectedHours decimal.Decimal
	ActualHours   decimal.Decimal
	BalanceHours  decimal.Decimal

	// CreditHours is the part of ActualHours booked by recoveries and
	// manual credits. It survives re-finalization of the day.
	CreditHours decimal.Decimal

	// ManualCreditHours is the part of CreditHours booked by manual
	// credits, which also live in the ledger.
	ManualCreditHours decimal.Decimal

	// CreditRefs lists the credits already folded in, as "type:id".
	CreditRefs []string

	Notes             string
	Origin            RecordOrigin
	Law104            bool
	PermissionApplied bool
	Finalized         bool
	UpdatedAt         time.Time
}

// IsCredit reports whether the record carries recovered or credited hours.
func (r DailyAttendanceRecord) IsCredit() bool {
	return r.Origin == OriginRecovery || r.Origin == OriginManualCredit || r.CreditHours.IsPositive()
}

// HasCredit reports whether the credit for ref was already folded in.
func (r DailyAttendanceRecord) HasCredit(ref generic.Reference) bool {
	return slices.Contains(r.CreditRefs, creditKey(ref))
}

func creditKey(ref generic.Reference) string { return ref.Type + ":" + ref.ID }

// =============================================================================
// RECOVERY
// =============================================================================

type RecoveryStatus string

const (
	RecoveryPending   RecoveryStatus = "pending"
	RecoveryApproved  RecoveryStatus = "approved"
	RecoveryCompleted RecoveryStatus = "completed"
	RecoveryRejected  RecoveryStatus = "rejected"
)

// RecoveryRequest is extra time worked to pay back a deficit.
type RecoveryRequest struct {
	ID           string
	UserID       generic.UserID
	Date         generic.TimePoint
	StartTime    generic.ClockTime
	EndTime      generic.ClockTime
	Hours        decimal.Decimal
	Status       RecoveryStatus
	BalanceAdded bool
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// =============================================================================
// USERS & CONTRACTS
// =============================================================================

type User struct {
	ID           generic.UserID
	Name         string
	Email        string
	ContractType string
	Active       bool
}

type ContractType struct {
	Name                  string
	AnnualVacationHours   decimal.Decimal
	AnnualPermissionHours decimal.Decimal
	MaxCarryoverHours     decimal.Decimal
}

var contracts = map[string]ContractType{
	"full_time": {
		Name:                  "full_time",
		AnnualVacationHours:   decimal.NewFromInt(208),
		AnnualPermissionHours: decimal.NewFromInt(104),
		MaxCarryoverHours:     decimal.NewFromInt(104),
	},
	"part_time": {
		Name:                  "part_time",
		AnnualVacationHours:   decimal.NewFromInt(104),
		AnnualPermissionHours: decimal.NewFromInt(52),
		MaxCarryoverHours:     decimal.NewFromInt(52),
	},
}

// LookupContract returns a built-in contract type. An empty name is full_time.
func LookupContract(name string) (ContractType, bool) {
	if name == "" {
		name = "full_time"
	}
	c, ok := contracts[name]
	return c, ok
}
