/*
reconcile.go - Total hours balance from daily records and the ledger

PURPOSE:
  Recomputes the figure shown to the user from its sources. Read-only
  and idempotent: it only takes reader interfaces.

ALGORITHM (asOf = the in-progress day):
  1. Sum BalanceHours of records dated <= asOf
       - skip law-104 days (approved law-104 leave or the record flag)
       - asOf itself follows the TodayRule
  2. Add manual_credit accruals dated <= asOf, minus the part a counted
     record on the same date already carries as ManualCreditHours:
       alreadyCounted = min(manual credit left on the record, credit)
     Recovery credits on the record never offset a manual credit.
  3. If asOf was not counted, subtract its approved permission deficit
     so the live figure still shows today's known shortfall.

  Overlapping approved leave on asOf is resolved to one adjustment and
  the AmbiguousAdjustmentError is returned with the usable breakdown.
*/
package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/generic"
)

// TodayRule decides whether the in-progress day contributes to the total.
type TodayRule string

const (
	// TodayExcludeAlways never counts asOf.
	TodayExcludeAlways TodayRule = "exclude_always"

	// TodayExcludeUnlessJustified counts asOf only when its record has a
	// positive balance, is a credit record, or carries an applied permission.
	TodayExcludeUnlessJustified TodayRule = "exclude_unless_justified"
)

func ParseTodayRule(s string) (TodayRule, error) {
	switch TodayRule(s) {
	case "":
		return TodayExcludeAlways, nil
	case TodayExcludeAlways, TodayExcludeUnlessJustified:
		return TodayRule(s), nil
	}
	return "", fmt.Errorf("unknown today rule %q", s)
}

// Breakdown explains a reconciled total.
type Breakdown struct {
	UserID generic.UserID
	AsOf   generic.TimePoint

	DaysBalance   decimal.Decimal
	DaysCounted   int
	Law104Skipped int
	TodayCounted  bool

	ManualCredits  decimal.Decimal
	AlreadyCounted decimal.Decimal
	TodayDeficit   decimal.Decimal

	Total decimal.Decimal
}

type Reconciler struct {
	Records   RecordReader
	Leaves    LeaveReader
	Entries   generic.EntryReader
	Schedules ScheduleReader
	Calc      Calculator
	Rule      TodayRule
}

// Reconcile computes the user's total as of asOf. A returned
// AmbiguousAdjustmentError comes with a complete Breakdown.
func (r *Reconciler) Reconcile(ctx context.Context, userID generic.UserID, asOf generic.TimePoint) (Breakdown, error) {
	b := Breakdown{
		UserID: userID, AsOf: asOf,
		DaysBalance: decimal.Zero, ManualCredits: decimal.Zero,
		AlreadyCounted: decimal.Zero, TodayDeficit: decimal.Zero, Total: decimal.Zero,
	}

	period := UpTo(asOf)
	records, err := r.Records.ListRecords(ctx, userID, period)
	if err != nil {
		return Breakdown{}, fmt.Errorf("failed to list records: %w", err)
	}
	leaves, err := r.Leaves.ListApprovedLeave(ctx, userID, period)
	if err != nil {
		return Breakdown{}, fmt.Errorf("failed to list approved leave: %w", err)
	}

	// manual credit hours per date already inside a counted record
	creditLeft := make(map[string]decimal.Decimal)
	for _, rec := range records {
		if rec.Date.After(asOf) {
			continue
		}
		if rec.Law104 || HasLaw104(leaves, rec.Date) {
			b.Law104Skipped++
			continue
		}
		if rec.Date.Equal(asOf) {
			if !r.countsToday(rec) {
				continue
			}
			b.TodayCounted = true
		}
		b.DaysBalance = b.DaysBalance.Add(rec.BalanceHours)
		b.DaysCounted++
		if rec.ManualCreditHours.IsPositive() {
			creditLeft[rec.Date.String()] = rec.ManualCreditHours
		}
	}

	credits, err := r.Entries.EntriesForUser(ctx, userID, generic.EntryFilter{
		Type:          generic.EntryAccrual,
		ReferenceType: RefManualCredit,
		To:            &asOf,
	})
	if err != nil {
		return Breakdown{}, fmt.Errorf("failed to list manual credits: %w", err)
	}
	for _, e := range credits {
		credit := e.Hours.Abs()
		b.ManualCredits = b.ManualCredits.Add(credit)
		day := e.TransactionDate.String()
		if left, ok := creditLeft[day]; ok {
			counted := decimal.Min(left, credit)
			b.AlreadyCounted = b.AlreadyCounted.Add(counted)
			creditLeft[day] = left.Sub(counted)
		}
	}

	var ambiguity error
	if !b.TodayCounted && !HasLaw104(leaves, asOf) {
		deficit, err := r.todayDeficit(ctx, userID, leaves, asOf)
		if err != nil && !errors.Is(err, generic.ErrAmbiguousAdjustment) {
			return Breakdown{}, err
		}
		ambiguity = err
		b.TodayDeficit = deficit
	}

	b.Total = generic.Round2(b.DaysBalance.Add(b.ManualCredits).Sub(b.AlreadyCounted).Sub(b.TodayDeficit))
	return b, ambiguity
}

func (r *Reconciler) countsToday(rec DailyAttendanceRecord) bool {
	if r.Rule != TodayExcludeUnlessJustified {
		return false
	}
	return rec.BalanceHours.IsPositive() || rec.IsCredit() || rec.PermissionApplied
}

func (r *Reconciler) todayDeficit(ctx context.Context, userID generic.UserID, leaves []LeaveRequest, asOf generic.TimePoint) (decimal.Decimal, error) {
	adj, ambiguity := ResolveAdjustment(userID, leaves, asOf)
	if adj == nil || adj.IsCredit() {
		return decimal.Zero, ambiguity
	}
	schedule, err := r.Schedules.GetSchedule(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load schedule: %w", err)
	}
	deficit, err := r.Calc.PermissionHours(schedule.For(asOf), adj)
	if err != nil {
		return decimal.Zero, err
	}
	return deficit, ambiguity
}
