/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  attendance and generic types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry `validate` tags checked by go-playground/validator
  before the handler touches them. Field names in validation errors are
  the JSON names. Semantic checks (leave shape, schedule consistency) stay
  in the domain.

HOURS:
  Hours are decimal strings on the wire in both directions ("1.5"), so no
  value goes through float64.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse and status mapping
*/
package api

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
)

const dateLayout = "2006-01-02"

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// REQUESTS
// =============================================================================

type CreateUserRequest struct {
	ID           string `json:"id" validate:"required,max=64"`
	Name         string `json:"name" validate:"required"`
	Email        string `json:"email" validate:"omitempty,email"`
	ContractType string `json:"contract_type" validate:"omitempty,oneof=full_time part_time"`
	Active       *bool  `json:"active"`
}

type ScheduleDayRequest struct {
	Weekday      int     `json:"weekday" validate:"min=0,max=6"`
	IsWorkingDay bool    `json:"is_working_day"`
	Start        *string `json:"start" validate:"omitempty,datetime=15:04"`
	End          *string `json:"end" validate:"omitempty,datetime=15:04"`
	BreakMinutes *int    `json:"break_minutes" validate:"omitempty,min=0,max=480"`
	BreakStart   *string `json:"break_start" validate:"omitempty,datetime=15:04"`
}

type PutScheduleRequest struct {
	Days []ScheduleDayRequest `json:"days" validate:"required,min=1,max=7,dive"`
}

type SubmitLeaveRequest struct {
	Kind      string  `json:"kind" validate:"required,oneof=hourly_permission law104_permission vacation sick_leave recovery"`
	StartDate string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string  `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	EntryTime *string `json:"entry_time" validate:"omitempty,datetime=15:04"`
	ExitTime  *string `json:"exit_time" validate:"omitempty,datetime=15:04"`
	Hours     *string `json:"hours" validate:"omitempty,numeric"`
	FullDay   bool    `json:"full_day"`
	Reason    string  `json:"reason" validate:"max=500"`
}

// DecisionRequest identifies who approves, rejects or cancels.
type DecisionRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Admin   bool   `json:"admin"`
}

type AppendEntryRequest struct {
	Category       string `json:"category" validate:"required"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	Type           string `json:"type" validate:"required,oneof=accrual debit expiration adjustment"`
	Hours          string `json:"hours" validate:"required,numeric"`
	ReferenceType  string `json:"reference_type"`
	ReferenceID    string `json:"reference_id"`
	Description    string `json:"description" validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=200"`
}

type ManualCreditRequest struct {
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Hours       string `json:"hours" validate:"required,numeric"`
	Description string `json:"description" validate:"max=500"`
}

type OvertimeRequest struct {
	Action      string `json:"action" validate:"required,oneof=add use"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Hours       string `json:"hours" validate:"required,numeric"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description" validate:"max=500"`
}

type CorrectRecordRequest struct {
	ExpectedHours string `json:"expected_hours" validate:"required,numeric"`
	ActualHours   string `json:"actual_hours" validate:"required,numeric"`
	Law104        bool   `json:"law104"`
	Notes         string `json:"notes" validate:"max=500"`
}

type SubmitRecoveryRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
	Hours     string `json:"hours" validate:"omitempty,numeric"`
}

type RecoveryDecisionRequest struct {
	Approve bool `json:"approve"`
}

type FinalizeRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type AccrualRequest struct {
	Year  int `json:"year" validate:"required,min=2000,max=2100"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

type CarryoverRequest struct {
	Year int `json:"year" validate:"required,min=2000,max=2100"`
}

type RebuildRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Category string `json:"category" validate:"required"`
	Year     int    `json:"year" validate:"required,min=2000,max=2100"`
}

type VerifyRequest struct {
	Repair bool `json:"repair"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type UserDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	ContractType string `json:"contract_type"`
	Active       bool   `json:"active"`
}

type ScheduleDayDTO struct {
	Weekday      int     `json:"weekday"`
	IsWorkingDay bool    `json:"is_working_day"`
	Start        *string `json:"start,omitempty"`
	End          *string `json:"end,omitempty"`
	BreakMinutes *int    `json:"break_minutes,omitempty"`
	BreakStart   *string `json:"break_start,omitempty"`
}

type ScheduleDTO struct {
	UserID string           `json:"user_id"`
	Days   []ScheduleDayDTO `json:"days"`
}

// HoursDTO is the live view of a day.
type HoursDTO struct {
	UserID          string          `json:"user_id"`
	Date            string          `json:"date"`
	Status          string          `json:"status"`
	ActualHours     decimal.Decimal `json:"actual_hours"`
	ExpectedHours   decimal.Decimal `json:"expected_hours"`
	ContractHours   decimal.Decimal `json:"contract_hours"`
	BalanceHours    decimal.Decimal `json:"balance_hours"`
	RemainingHours  decimal.Decimal `json:"remaining_hours"`
	ActualMinutes   int             `json:"actual_minutes"`
	ExpectedMinutes int             `json:"expected_minutes"`
	EffectiveStart  *string         `json:"effective_start,omitempty"`
	EffectiveEnd    *string         `json:"effective_end,omitempty"`
	Break           *string         `json:"break,omitempty"`
	AdjustmentID    string          `json:"adjustment_id,omitempty"`
	AdjustmentKind  string          `json:"adjustment_kind,omitempty"`
	Law104          bool            `json:"law104"`
}

type RecordDTO struct {
	UserID            string          `json:"user_id"`
	Date              string          `json:"date"`
	ExpectedHours     decimal.Decimal `json:"expected_hours"`
	ActualHours       decimal.Decimal `json:"actual_hours"`
	BalanceHours      decimal.Decimal `json:"balance_hours"`
	CreditHours       decimal.Decimal `json:"credit_hours"`
	Notes             string          `json:"notes,omitempty"`
	Origin            string          `json:"origin"`
	Law104            bool            `json:"law104"`
	PermissionApplied bool            `json:"permission_applied"`
	Finalized         bool            `json:"finalized"`
	UpdatedAt         string          `json:"updated_at,omitempty"`
}

type EntryDTO struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Category        string          `json:"category"`
	TransactionDate string          `json:"transaction_date"`
	Type            string          `json:"type"`
	Hours           decimal.Decimal `json:"hours"`
	RunningBalance  decimal.Decimal `json:"running_balance"`
	ReferenceType   string          `json:"reference_type,omitempty"`
	ReferenceID     string          `json:"reference_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Seq             int64           `json:"seq"`
	CreatedAt       string          `json:"created_at"`
}

// AppendResultDTO flags an entry whose snapshot could not be updated.
type AppendResultDTO struct {
	Entry               EntryDTO `json:"entry"`
	NeedsReconciliation bool     `json:"needs_reconciliation"`
}

type BalanceDTO struct {
	UserID              string           `json:"user_id"`
	Category            string           `json:"category"`
	Year                int              `json:"year"`
	Balance             decimal.Decimal  `json:"balance"`
	TotalAccrued        decimal.Decimal  `json:"total_accrued"`
	SnapshotBalance     *decimal.Decimal `json:"snapshot_balance,omitempty"`
	EntryCount          int64            `json:"entry_count"`
	NeedsReconciliation bool             `json:"needs_reconciliation"`
}

type TotalBalanceDTO struct {
	UserID         string          `json:"user_id"`
	AsOf           string          `json:"as_of"`
	Total          decimal.Decimal `json:"total"`
	DaysBalance    decimal.Decimal `json:"days_balance"`
	DaysCounted    int             `json:"days_counted"`
	Law104Skipped  int             `json:"law104_skipped"`
	TodayCounted   bool            `json:"today_counted"`
	ManualCredits  decimal.Decimal `json:"manual_credits"`
	AlreadyCounted decimal.Decimal `json:"already_counted"`
	TodayDeficit   decimal.Decimal `json:"today_deficit"`
	Ambiguous      *ErrorResponse  `json:"ambiguous,omitempty"`
}

type LeaveDTO struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Kind       string           `json:"kind"`
	StartDate  string           `json:"start_date"`
	EndDate    string           `json:"end_date"`
	EntryTime  *string          `json:"entry_time,omitempty"`
	ExitTime   *string          `json:"exit_time,omitempty"`
	Hours      *decimal.Decimal `json:"hours,omitempty"`
	FullDay    bool             `json:"full_day"`
	Status     string           `json:"status"`
	ApprovedBy *string          `json:"approved_by,omitempty"`
	ApprovedAt *string          `json:"approved_at,omitempty"`
	DecidedBy  *string          `json:"decided_by,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  string           `json:"created_at"`
}

type RecoveryDTO struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Date         string          `json:"date"`
	StartTime    string          `json:"start_time"`
	EndTime      string          `json:"end_time"`
	Hours        decimal.Decimal `json:"hours"`
	Status       string          `json:"status"`
	BalanceAdded bool            `json:"balance_added"`
	CompletedAt  *string         `json:"completed_at,omitempty"`
}

type BatchDTO struct {
	Processed   int              `json:"processed"`
	Skipped     int              `json:"skipped"`
	Failed      int              `json:"failed"`
	CarriedOver *decimal.Decimal `json:"carried_over,omitempty"`
	Expired     *decimal.Decimal `json:"expired,omitempty"`
}

type VerifyDTO struct {
	Checked  int      `json:"checked"`
	Drifted  []string `json:"drifted"`
	Repaired int      `json:"repaired"`
	Broken   []string `json:"broken"`
}

type SnapshotDTO struct {
	UserID              string          `json:"user_id"`
	Category            string          `json:"category"`
	Year                int             `json:"year"`
	CurrentBalance      decimal.Decimal `json:"current_balance"`
	TotalAccrued        decimal.Decimal `json:"total_accrued"`
	LastTransactionDate string          `json:"last_transaction_date,omitempty"`
	LastSeq             int64           `json:"last_seq"`
}

type JobRunDTO struct {
	Job         string  `json:"job"`
	RunKey      string  `json:"run_key"`
	Status      string  `json:"status"`
	Processed   int     `json:"processed"`
	Skipped     int     `json:"skipped"`
	Failed      int     `json:"failed"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func parseHours(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", generic.ErrInvalidInput, field, err)
	}
	return d, nil
}

func parseDate(field, s string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, fmt.Errorf("%w: %s: %v", generic.ErrInvalidInput, field, err)
	}
	return tp, nil
}

func parseClockPtr(field string, s *string) (*generic.ClockTime, error) {
	if s == nil {
		return nil, nil
	}
	c, err := generic.ParseClock(*s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", generic.ErrInvalidInput, field, err)
	}
	return &c, nil
}

func clockString(c *generic.ClockTime) *string {
	if c == nil {
		return nil
	}
	s := c.String()
	return &s
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func (r PutScheduleRequest) toSchedule(userID generic.UserID) (attendance.WeeklySchedule, error) {
	schedule := attendance.WeeklySchedule{UserID: userID}
	seen := make(map[int]bool, len(r.Days))
	for _, d := range r.Days {
		if seen[d.Weekday] {
			return schedule, fmt.Errorf("%w: weekday %d given twice", generic.ErrInvalidInput, d.Weekday)
		}
		seen[d.Weekday] = true

		start, err := parseClockPtr("start", d.Start)
		if err != nil {
			return schedule, err
		}
		end, err := parseClockPtr("end", d.End)
		if err != nil {
			return schedule, err
		}
		breakStart, err := parseClockPtr("break_start", d.BreakStart)
		if err != nil {
			return schedule, err
		}
		schedule.Days[d.Weekday] = attendance.DaySchedule{
			Weekday:      time.Weekday(d.Weekday),
			IsWorkingDay: d.IsWorkingDay,
			Start:        start,
			End:          end,
			BreakMinutes: d.BreakMinutes,
			BreakStart:   breakStart,
		}
	}
	return schedule, nil
}

func (r SubmitLeaveRequest) toLeave(userID generic.UserID) (attendance.LeaveRequest, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return attendance.LeaveRequest{}, err
	}
	end := start
	if r.EndDate != "" {
		if end, err = parseDate("end_date", r.EndDate); err != nil {
			return attendance.LeaveRequest{}, err
		}
	}
	entry, err := parseClockPtr("entry_time", r.EntryTime)
	if err != nil {
		return attendance.LeaveRequest{}, err
	}
	exit, err := parseClockPtr("exit_time", r.ExitTime)
	if err != nil {
		return attendance.LeaveRequest{}, err
	}
	req := attendance.LeaveRequest{
		UserID:    userID,
		Kind:      attendance.LeaveKind(r.Kind),
		StartDate: start,
		EndDate:   end,
		EntryTime: entry,
		ExitTime:  exit,
		FullDay:   r.FullDay,
		Reason:    r.Reason,
	}
	if r.Hours != nil {
		h, err := parseHours("hours", *r.Hours)
		if err != nil {
			return attendance.LeaveRequest{}, err
		}
		req.Hours = &h
	}
	return req, nil
}

func toUserDTO(u attendance.User) UserDTO {
	return UserDTO{
		ID:           string(u.ID),
		Name:         u.Name,
		Email:        u.Email,
		ContractType: u.ContractType,
		Active:       u.Active,
	}
}

func toScheduleDTO(s attendance.WeeklySchedule) ScheduleDTO {
	dto := ScheduleDTO{UserID: string(s.UserID), Days: make([]ScheduleDayDTO, 0, 7)}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		d := s.Day(wd)
		dto.Days = append(dto.Days, ScheduleDayDTO{
			Weekday:      int(wd),
			IsWorkingDay: d.IsWorkingDay,
			Start:        clockString(d.Start),
			End:          clockString(d.End),
			BreakMinutes: d.BreakMinutes,
			BreakStart:   clockString(d.BreakStart),
		})
	}
	return dto
}

func toHoursDTO(v attendance.DayView) HoursDTO {
	res := v.Result
	dto := HoursDTO{
		UserID:          string(v.UserID),
		Date:            v.Date.String(),
		Status:          string(res.Status),
		ActualHours:     res.ActualHours,
		ExpectedHours:   res.ExpectedHours,
		ContractHours:   res.ContractHours,
		BalanceHours:    res.BalanceHours,
		RemainingHours:  res.RemainingHours,
		ActualMinutes:   res.ActualMinutes,
		ExpectedMinutes: res.ExpectedMinutes,
		EffectiveStart:  clockString(res.EffectiveStart),
		EffectiveEnd:    clockString(res.EffectiveEnd),
		Law104:          v.Law104,
	}
	if res.Break != nil {
		b := res.Break.String()
		dto.Break = &b
	}
	if v.Adjustment != nil {
		dto.AdjustmentID = v.Adjustment.RequestID
		dto.AdjustmentKind = string(v.Adjustment.Kind)
	}
	return dto
}

func toRecordDTO(r attendance.DailyAttendanceRecord) RecordDTO {
	dto := RecordDTO{
		UserID:            string(r.UserID),
		Date:              r.Date.String(),
		ExpectedHours:     r.ExpectedHours,
		ActualHours:       r.ActualHours,
		BalanceHours:      r.BalanceHours,
		CreditHours:       r.CreditHours,
		Notes:             r.Notes,
		Origin:            string(r.Origin),
		Law104:            r.Law104,
		PermissionApplied: r.PermissionApplied,
		Finalized:         r.Finalized,
	}
	if !r.UpdatedAt.IsZero() {
		dto.UpdatedAt = r.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toRecordDTOs(records []attendance.DailyAttendanceRecord) []RecordDTO {
	dtos := make([]RecordDTO, len(records))
	for i, r := range records {
		dtos[i] = toRecordDTO(r)
	}
	return dtos
}

func toEntryDTO(e generic.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:              string(e.ID),
		UserID:          string(e.UserID),
		Category:        string(e.Category),
		TransactionDate: e.TransactionDate.String(),
		Type:            string(e.Type),
		Hours:           e.Hours,
		RunningBalance:  e.RunningBalance,
		ReferenceType:   e.Reference.Type,
		ReferenceID:     e.Reference.ID,
		Description:     e.Description,
		IdempotencyKey:  e.IdempotencyKey,
		Seq:             e.Seq,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []generic.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toBalanceDTO(v generic.BalanceView) BalanceDTO {
	return BalanceDTO{
		UserID:              string(v.Scope.UserID),
		Category:            string(v.Scope.Category),
		Year:                v.Scope.Year,
		Balance:             v.Balance,
		TotalAccrued:        v.TotalAccrued,
		SnapshotBalance:     v.SnapshotBalance,
		EntryCount:          v.EntryCount,
		NeedsReconciliation: v.NeedsReconciliation,
	}
}

func toTotalBalanceDTO(b attendance.Breakdown) TotalBalanceDTO {
	return TotalBalanceDTO{
		UserID:         string(b.UserID),
		AsOf:           b.AsOf.String(),
		Total:          b.Total,
		DaysBalance:    b.DaysBalance,
		DaysCounted:    b.DaysCounted,
		Law104Skipped:  b.Law104Skipped,
		TodayCounted:   b.TodayCounted,
		ManualCredits:  b.ManualCredits,
		AlreadyCounted: b.AlreadyCounted,
		TodayDeficit:   b.TodayDeficit,
	}
}

func toLeaveDTO(r attendance.LeaveRequest) LeaveDTO {
	return LeaveDTO{
		ID:         r.ID,
		UserID:     string(r.UserID),
		Kind:       string(r.Kind),
		StartDate:  r.StartDate.String(),
		EndDate:    r.EndDate.String(),
		EntryTime:  clockString(r.EntryTime),
		ExitTime:   clockString(r.ExitTime),
		Hours:      r.Hours,
		FullDay:    r.FullDay,
		Status:     string(r.Status),
		ApprovedBy: r.ApprovedBy,
		ApprovedAt: timeString(r.ApprovedAt),
		DecidedBy:  r.DecidedBy,
		Reason:     r.Reason,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
	}
}

func toRecoveryDTO(r attendance.RecoveryRequest) RecoveryDTO {
	return RecoveryDTO{
		ID:           r.ID,
		UserID:       string(r.UserID),
		Date:         r.Date.String(),
		StartTime:    r.StartTime.String(),
		EndTime:      r.EndTime.String(),
		Hours:        r.Hours,
		Status:       string(r.Status),
		BalanceAdded: r.BalanceAdded,
		CompletedAt:  timeString(r.CompletedAt),
	}
}

func toBatchDTO(s attendance.BatchSummary) BatchDTO {
	return BatchDTO{Processed: s.Processed, Skipped: s.Skipped, Failed: s.Failed}
}

func toVerifyDTO(r generic.RebuildReport) VerifyDTO {
	dto := VerifyDTO{Checked: r.Checked, Repaired: r.Repaired, Drifted: []string{}, Broken: []string{}}
	for _, s := range r.Drifted {
		dto.Drifted = append(dto.Drifted, s.String())
	}
	for _, err := range r.Broken {
		dto.Broken = append(dto.Broken, err.Error())
	}
	return dto
}

func toSnapshotDTO(s generic.BalanceSnapshot) SnapshotDTO {
	dto := SnapshotDTO{
		UserID:         string(s.Scope.UserID),
		Category:       string(s.Scope.Category),
		Year:           s.Scope.Year,
		CurrentBalance: s.CurrentBalance,
		TotalAccrued:   s.TotalAccrued,
		LastSeq:        s.LastSeq,
	}
	if !s.LastTransactionDate.IsZero() {
		dto.LastTransactionDate = s.LastTransactionDate.String()
	}
	return dto
}
