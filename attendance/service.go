/*
service.go - Hours bank facade

PURPOSE:
  Wires stores, the ledger and the calculators together. Every caller
  (HTTP handlers, the job scheduler, hoursctl) goes through Service, so
  hours arithmetic exists exactly once.

OPERATIONS:
  Live:       ComputeRealTimeHours, DailyRecord
  Day close:  FinalizeDay, FinalizeAll                       (daily.go)
  Ledger:     AppendLedgerEntry, GetCurrentBalance,
              RebuildSnapshot, VerifyAll, AddManualCredit
  Balance:    ReconcileTotalBalance
  Leave:      SubmitLeave, ApproveLeave, RejectLeave, CancelLeave
  Batches:    SweepRecoveries                                (recovery.go)
              RunMonthlyAccrual, RunCarryover                (accrual.go)
  Overtime:   AddOvertime, UseOvertime                       (overtime.go)
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/hoursbank/generic"
)

const moduleName = "attendance"

type Stores struct {
	Schedules  ScheduleStore
	Records    RecordStore
	Leaves     LeaveStore
	Recoveries RecoveryStore
	Users      UserDirectory
	Entries    generic.EntryReader
}

type Options struct {
	Placement  Placement
	TodayRule  TodayRule
	Location   *time.Location
	AutoRepair bool
	Now        func() time.Time
}

type Service struct {
	stores     Stores
	ledger     Ledger
	calc       Calculator
	reconciler *Reconciler
	opts       Options
	logger     logrus.FieldLogger
}

func NewService(stores Stores, ledger Ledger, opts Options, logger logrus.FieldLogger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Placement == "" {
		opts.Placement = PlacementMidpointStart
	}
	if opts.TodayRule == "" {
		opts.TodayRule = TodayExcludeAlways
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	calc := NewCalculator(opts.Placement)
	return &Service{
		stores: stores,
		ledger: ledger,
		calc:   calc,
		reconciler: &Reconciler{
			Records:   stores.Records,
			Leaves:    stores.Leaves,
			Entries:   stores.Entries,
			Schedules: stores.Schedules,
			Calc:      calc,
			Rule:      opts.TodayRule,
		},
		opts:   opts,
		logger: logger,
	}
}

func (s *Service) now() time.Time { return s.opts.Now().In(s.opts.Location) }

// Now is the service clock in the configured location.
func (s *Service) Now() time.Time { return s.now() }

// Today is the current calendar date in the configured location.
func (s *Service) Today() generic.TimePoint { return generic.DateOf(s.opts.Now(), s.opts.Location) }

func (s *Service) Location() *time.Location { return s.opts.Location }

func (s *Service) logError(funcName, context string, data any, err error) {
	fields := logrus.Fields{"module": moduleName, "funcName": funcName, "context": context}
	if data != nil {
		fields["data"] = data
	}
	s.logger.WithFields(fields).Error(err.Error())
}

// =============================================================================
// LIVE HOURS
// =============================================================================

// DayView is the live state of one user's day.
type DayView struct {
	UserID     generic.UserID
	Date       generic.TimePoint
	Result     Result
	Adjustment *LeaveAdjustment
	Law104     bool
}

// clockFor maps an instant onto date: end of day for past dates, start of
// day for future ones.
func (s *Service) clockFor(date generic.TimePoint, at time.Time) generic.ClockTime {
	today := generic.DateOf(at, s.opts.Location)
	switch {
	case date.Before(today):
		return generic.EndOfDay
	case date.After(today):
		return 0
	default:
		return generic.ClockOf(at, s.opts.Location)
	}
}

// ComputeRealTimeHours evaluates date as of at. An AmbiguousAdjustmentError
// is returned together with a usable view.
func (s *Service) ComputeRealTimeHours(ctx context.Context, userID generic.UserID, date generic.TimePoint, at time.Time) (DayView, error) {
	return s.computeDay(ctx, userID, date, s.clockFor(date, at))
}

func (s *Service) computeDay(ctx context.Context, userID generic.UserID, date generic.TimePoint, now generic.ClockTime) (DayView, error) {
	schedule, err := s.stores.Schedules.GetSchedule(ctx, userID)
	if err != nil {
		return DayView{}, err
	}
	leaves, err := s.stores.Leaves.ListApprovedLeave(ctx, userID, generic.Period{Start: date, End: date})
	if err != nil {
		return DayView{}, fmt.Errorf("failed to list approved leave: %w", err)
	}
	adj, ambiguity := ResolveAdjustment(userID, leaves, date)

	day := schedule.For(date)
	result, err := s.calc.Compute(day, adj, now)
	if err != nil {
		var cfg *generic.ConfigurationError
		if errors.As(err, &cfg) {
			cfg.UserID = userID
		}
		return DayView{}, err
	}
	return DayView{
		UserID:     userID,
		Date:       date,
		Result:     result,
		Adjustment: adj,
		Law104:     HasLaw104(leaves, date),
	}, ambiguity
}

// =============================================================================
// LEDGER
// =============================================================================

// AppendLedgerEntry validates the category and appends. On a stale snapshot
// the entry is still returned, and repaired right away when AutoRepair is on.
func (s *Service) AppendLedgerEntry(ctx context.Context, in generic.AppendInput) (generic.LedgerEntry, error) {
	if _, ok := generic.LookupCategory(string(in.Category)); !ok {
		return generic.LedgerEntry{}, fmt.Errorf("%w: unknown category %q", generic.ErrInvalidInput, in.Category)
	}
	entry, err := s.ledger.Append(ctx, in)
	if errors.Is(err, generic.ErrSnapshotStale) {
		s.logError("AppendLedgerEntry", "snapshot update failed", entry.Scope().String(), err)
		if s.opts.AutoRepair {
			if _, rerr := s.ledger.Rebuild(ctx, entry.Scope()); rerr == nil {
				return entry, nil
			}
		}
	}
	return entry, err
}

// GetCurrentBalance returns the scope's balance view. A detected drift is
// repaired when AutoRepair is on; otherwise the flagged view is returned
// with the LedgerConsistencyError.
func (s *Service) GetCurrentBalance(ctx context.Context, scope generic.Scope) (generic.BalanceView, error) {
	view, err := s.ledger.Balance(ctx, scope)
	if err == nil || !errors.Is(err, generic.ErrLedgerConsistency) {
		return view, err
	}
	s.logError("GetCurrentBalance", "snapshot diverges from ledger", scope.String(), err)
	if !s.opts.AutoRepair {
		return view, err
	}
	if _, rerr := s.ledger.Rebuild(ctx, scope); rerr != nil {
		s.logError("GetCurrentBalance", "snapshot rebuild failed", scope.String(), rerr)
		return view, err
	}
	return s.ledger.Balance(ctx, scope)
}

// ListBalances returns the view of every scope the user has in year.
func (s *Service) ListBalances(ctx context.Context, userID generic.UserID, year int) ([]generic.BalanceView, error) {
	var views []generic.BalanceView
	for _, cat := range generic.ListCategories() {
		view, err := s.GetCurrentBalance(ctx, generic.Scope{UserID: userID, Category: cat, Year: year})
		if err != nil && !errors.Is(err, generic.ErrLedgerConsistency) {
			return nil, err
		}
		if view.EntryCount == 0 && view.SnapshotBalance == nil {
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) RebuildSnapshot(ctx context.Context, scope generic.Scope) (generic.BalanceSnapshot, error) {
	return s.ledger.Rebuild(ctx, scope)
}

func (s *Service) VerifyAll(ctx context.Context, repair bool) (generic.RebuildReport, error) {
	report, err := s.ledger.VerifyAll(ctx, repair)
	for _, broken := range report.Broken {
		s.logError("VerifyAll", "ledger chain broken", nil, broken)
	}
	return report, err
}

func (s *Service) Entries(ctx context.Context, userID generic.UserID, filter generic.EntryFilter) ([]generic.LedgerEntry, error) {
	return s.stores.Entries.EntriesForUser(ctx, userID, filter)
}

// AddManualCredit books an operator credit into the hours bank and onto
// the day's record. The reconciler counts the pair once.
func (s *Service) AddManualCredit(ctx context.Context, userID generic.UserID, date generic.TimePoint, hours decimal.Decimal, description string) (generic.LedgerEntry, error) {
	ref := generic.Reference{Type: RefManualCredit, ID: uuid.NewString()}
	entry, err := s.AppendLedgerEntry(ctx, generic.AppendInput{
		UserID:      userID,
		Category:    CategoryOvertimeBank,
		Date:        date,
		Type:        generic.EntryAccrual,
		Hours:       hours,
		Reference:   ref,
		Description: description,
	})
	if err != nil {
		return entry, err
	}
	if err := s.creditDay(ctx, userID, date, ref, hours, OriginManualCredit); err != nil {
		// The ledger row alone still counts in full toward the total.
		s.logError("AddManualCredit", "failed to credit day record", ref.ID, err)
	}
	return entry, nil
}

// =============================================================================
// BALANCE
// =============================================================================

// ReconcileTotalBalance is read-only. See reconcile.go.
func (s *Service) ReconcileTotalBalance(ctx context.Context, userID generic.UserID, asOf generic.TimePoint) (Breakdown, error) {
	if _, err := s.stores.Users.GetUser(ctx, userID); err != nil {
		return Breakdown{}, err
	}
	return s.reconciler.Reconcile(ctx, userID, asOf)
}

// =============================================================================
// SCHEDULES
// =============================================================================

func (s *Service) GetSchedule(ctx context.Context, userID generic.UserID) (WeeklySchedule, error) {
	return s.stores.Schedules.GetSchedule(ctx, userID)
}

// PutSchedule refuses a schedule with any invalid day.
func (s *Service) PutSchedule(ctx context.Context, schedule WeeklySchedule) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}
	return s.stores.Schedules.PutSchedule(ctx, schedule)
}

// =============================================================================
// LEAVE
// =============================================================================

func (s *Service) SubmitLeave(ctx context.Context, req LeaveRequest) (LeaveRequest, error) {
	if err := req.Validate(); err != nil {
		return LeaveRequest{}, err
	}
	if _, err := s.stores.Users.GetUser(ctx, req.UserID); err != nil {
		return LeaveRequest{}, err
	}
	now := s.now()
	req.ID = uuid.NewString()
	req.Status = LeavePending
	req.ApprovedBy, req.ApprovedAt, req.DecidedBy = nil, nil, nil
	req.CreatedAt, req.UpdatedAt = now, now
	if err := s.stores.Leaves.CreateLeave(ctx, req); err != nil {
		return LeaveRequest{}, err
	}
	return req, nil
}

func (s *Service) GetLeave(ctx context.Context, id string) (LeaveRequest, error) {
	return s.stores.Leaves.GetLeave(ctx, id)
}

func (s *Service) ListLeave(ctx context.Context, userID generic.UserID) ([]LeaveRequest, error) {
	return s.stores.Leaves.ListLeave(ctx, userID)
}

func (s *Service) ApproveLeave(ctx context.Context, id string, actor Actor) (LeaveRequest, error) {
	return s.transitionLeave(ctx, id, func(r *LeaveRequest) error { return r.Approve(actor, s.now()) })
}

func (s *Service) RejectLeave(ctx context.Context, id string, actor Actor) (LeaveRequest, error) {
	return s.transitionLeave(ctx, id, func(r *LeaveRequest) error { return r.Reject(actor, s.now()) })
}

func (s *Service) CancelLeave(ctx context.Context, id string, actor Actor) (LeaveRequest, error) {
	return s.transitionLeave(ctx, id, func(r *LeaveRequest) error { return r.Cancel(actor, s.now()) })
}

func (s *Service) transitionLeave(ctx context.Context, id string, move func(*LeaveRequest) error) (LeaveRequest, error) {
	req, err := s.stores.Leaves.GetLeave(ctx, id)
	if err != nil {
		return LeaveRequest{}, err
	}
	if err := move(&req); err != nil {
		return LeaveRequest{}, err
	}
	if err := s.stores.Leaves.UpdateLeave(ctx, req); err != nil {
		return LeaveRequest{}, err
	}
	return req, nil
}
