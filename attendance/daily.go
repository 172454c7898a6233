package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// DAILY RECORD - Build, finalize, lazy load
// =============================================================================

// BuildRecord turns a computed day into a record. Expected is the contract,
// never the permission-reduced expectation. Law-104 days are neutral.
func BuildRecord(view DayView, origin RecordOrigin, at time.Time) DailyAttendanceRecord {
	rec := DailyAttendanceRecord{
		UserID:        view.UserID,
		Date:          view.Date,
		ExpectedHours: view.Result.ContractHours,
		ActualHours:   view.Result.ActualHours,
		BalanceHours:  view.Result.BalanceHours,
		CreditHours:   decimal.Zero,
		Origin:        origin,
		Law104:        view.Law104,
		UpdatedAt:     at,
	}
	if view.Adjustment != nil {
		rec.PermissionApplied = !view.Adjustment.IsCredit()
		rec.Notes = fmt.Sprintf("%s %s", view.Adjustment.Kind, view.Adjustment.RequestID)
	}
	if rec.Law104 {
		rec.BalanceHours = decimal.Zero
	}
	return rec
}

// withCredit folds credited hours into a record.
func withCredit(rec DailyAttendanceRecord, hours decimal.Decimal) DailyAttendanceRecord {
	rec.CreditHours = rec.CreditHours.Add(hours)
	rec.ActualHours = rec.ActualHours.Add(hours)
	if !rec.Law104 {
		rec.BalanceHours = rec.ActualHours.Sub(rec.ExpectedHours)
	}
	return rec
}

// creditDay folds the credit for ref into the user's record for date,
// creating the record when the day has none. It runs after the ledger
// append and is a no-op when ref is already on the record, so a retry
// never credits twice.
func (s *Service) creditDay(ctx context.Context, userID generic.UserID, date generic.TimePoint, ref generic.Reference, hours decimal.Decimal, origin RecordOrigin) error {
	existing, err := s.stores.Records.GetRecord(ctx, userID, date)
	if err != nil {
		return err
	}
	day := DailyAttendanceRecord{UserID: userID, Date: date, Origin: origin}
	if existing != nil {
		day = *existing
	}
	if day.HasCredit(ref) {
		return nil
	}
	day = withCredit(day, hours)
	if ref.Type == RefManualCredit {
		day.ManualCreditHours = day.ManualCreditHours.Add(hours)
	}
	day.CreditRefs = append(day.CreditRefs, creditKey(ref))
	day.UpdatedAt = s.now()
	return s.stores.Records.UpsertRecord(ctx, day)
}

type FinalizeResult struct {
	Record  DailyAttendanceRecord
	Skipped bool
}

// FinalizeDay computes date as completed and stores it. An already
// finalized record is left alone. Credits booked earlier on an open
// record are kept.
func (s *Service) FinalizeDay(ctx context.Context, userID generic.UserID, date generic.TimePoint) (FinalizeResult, error) {
	existing, err := s.stores.Records.GetRecord(ctx, userID, date)
	if err != nil {
		return FinalizeResult{}, err
	}
	if existing != nil && existing.Finalized {
		return FinalizeResult{Record: *existing, Skipped: true}, nil
	}

	view, err := s.computeDay(ctx, userID, date, generic.EndOfDay)
	if err != nil && !errors.Is(err, generic.ErrAmbiguousAdjustment) {
		return FinalizeResult{}, err
	}
	if err != nil {
		s.logError("FinalizeDay", "ambiguous leave adjustment", userID, err)
	}

	rec := BuildRecord(view, OriginFinalizer, s.now())
	if existing != nil {
		if existing.CreditHours.IsPositive() {
			rec = withCredit(rec, existing.CreditHours)
		}
		rec.ManualCreditHours = existing.ManualCreditHours
		rec.CreditRefs = existing.CreditRefs
		if existing.Origin == OriginRecovery || existing.Origin == OriginManualCredit {
			rec.Origin = existing.Origin
		}
	}
	rec.Finalized = true
	if err := s.stores.Records.UpsertRecord(ctx, rec); err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult{Record: rec}, nil
}

type BatchSummary struct {
	Processed int
	Skipped   int
	Failed    int
}

// FinalizeAll finalizes date for every active user. Failures are logged
// and counted; they never stop the batch, but any failure makes it return
// ErrBatchIncomplete so the run is retried.
func (s *Service) FinalizeAll(ctx context.Context, date generic.TimePoint) (BatchSummary, error) {
	users, err := s.stores.Users.ListActiveUsers(ctx)
	if err != nil {
		return BatchSummary{}, err
	}
	var sum BatchSummary
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := s.FinalizeDay(ctx, u.ID, date)
		switch {
		case err != nil:
			sum.Failed++
			s.logError("FinalizeAll", "finalize day failed", map[string]string{"user": string(u.ID), "date": date.String()}, err)
		case res.Skipped:
			sum.Skipped++
		default:
			sum.Processed++
		}
	}
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%w: %d of %d users failed to finalize %s", generic.ErrBatchIncomplete, sum.Failed, len(users), date)
	}
	return sum, nil
}

// Yesterday is the default finalize target.
func (s *Service) Yesterday() generic.TimePoint { return s.Today().AddDays(-1) }

// DailyRecord returns the stored record. For a closed day without one it
// computes, stores and returns it; for today or later it returns the live
// figures without storing them.
func (s *Service) DailyRecord(ctx context.Context, userID generic.UserID, date generic.TimePoint) (DailyAttendanceRecord, error) {
	existing, err := s.stores.Records.GetRecord(ctx, userID, date)
	if err != nil {
		return DailyAttendanceRecord{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	at := s.now()
	view, err := s.computeDay(ctx, userID, date, s.clockFor(date, at))
	if err != nil && !errors.Is(err, generic.ErrAmbiguousAdjustment) {
		return DailyAttendanceRecord{}, err
	}
	rec := BuildRecord(view, OriginLazy, at)
	if !date.Before(s.Today()) {
		return rec, nil
	}
	rec.Finalized = true
	if err := s.stores.Records.UpsertRecord(ctx, rec); err != nil {
		return DailyAttendanceRecord{}, err
	}
	return rec, nil
}

// CorrectRecord is the admin repair path. The balance invariant is
// re-derived from the given actual and expected hours.
func (s *Service) CorrectRecord(ctx context.Context, rec DailyAttendanceRecord) (DailyAttendanceRecord, error) {
	if rec.UserID == "" || rec.Date.IsZero() {
		return DailyAttendanceRecord{}, fmt.Errorf("%w: user and date are required", generic.ErrInvalidInput)
	}
	rec.ExpectedHours = generic.Round1(rec.ExpectedHours)
	rec.ActualHours = generic.Round1(rec.ActualHours)
	rec.BalanceHours = rec.ActualHours.Sub(rec.ExpectedHours)
	if rec.Law104 {
		rec.BalanceHours = decimal.Zero
	}
	existing, err := s.stores.Records.GetRecord(ctx, rec.UserID, rec.Date)
	if err != nil {
		return DailyAttendanceRecord{}, err
	}
	if existing != nil {
		// Credits stay booked; a correction states the hours they are part of.
		rec.CreditHours = existing.CreditHours
		rec.ManualCreditHours = existing.ManualCreditHours
		rec.CreditRefs = existing.CreditRefs
	}
	rec.Origin = OriginCorrection
	rec.Finalized = true
	rec.UpdatedAt = s.now()
	if err := s.stores.Records.UpsertRecord(ctx, rec); err != nil {
		return DailyAttendanceRecord{}, err
	}
	return rec, nil
}

func (s *Service) ListRecords(ctx context.Context, userID generic.UserID, period generic.Period) ([]DailyAttendanceRecord, error) {
	return s.stores.Records.ListRecords(ctx, userID, period)
}
