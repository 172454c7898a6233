/*
realtime.go - Actual, expected and balance hours while a day is in progress

PURPOSE:
  Single source of truth for day arithmetic. The live dashboard, the
  nightly finalizer and the repair CLI all call Calculator.Compute.

RULES:
  contract   = expected minutes of the UNMODIFIED schedule. The balance is
               always measured against it, so a late-entry permission
               changes what was worked, not what was owed.
  effective  = schedule shift with EntryTime/ExitTime of a window
               adjustment applied. Drives expected progress and actual.
  actual     = now < start : 0, not_started
               in shift    : elapsed - break elapsed, working/on_break
               now > end   : shift - break in shift, completed
  balance    = round1(round1(actual) - round1(contract))
  remaining  = max(0, round1(expected - actual))

  Full day and flat-hour adjustments skip the window arithmetic:
    full day       actual = 0
    flat deficit   actual = max(0, contract - hours)
    flat credit    actual = contract + hours   (recovery)

  Law-104 neutrality is applied by the daily record, not here.

SEE ALSO:
  - breaks.go: break window placement
  - daily.go: record building and day finalization
*/
package attendance

import (
	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/generic"
)

// Result is the computed state of one day at an instant.
type Result struct {
	ActualHours    decimal.Decimal
	ExpectedHours  decimal.Decimal
	ContractHours  decimal.Decimal
	BalanceHours   decimal.Decimal
	RemainingHours decimal.Decimal
	Status         DayStatus

	ActualMinutes   int
	ExpectedMinutes int
	ContractMinutes int

	EffectiveStart *generic.ClockTime
	EffectiveEnd   *generic.ClockTime
	Break          *Window
}

type Calculator struct {
	Breaks BreakCalculator
}

func NewCalculator(p Placement) Calculator {
	return Calculator{Breaks: BreakCalculator{Placement: p}}
}

// Compute evaluates day at now. adj may be nil. Pass generic.EndOfDay for a
// closed day.
func (c Calculator) Compute(day DaySchedule, adj *LeaveAdjustment, now generic.ClockTime) (Result, error) {
	contractMin, err := ResolveExpected(day)
	if err != nil {
		return Result{}, err
	}
	if !day.IsWorkingDay {
		return Result{
			ActualHours: decimal.Zero, ExpectedHours: decimal.Zero, ContractHours: decimal.Zero,
			BalanceHours: decimal.Zero, RemainingHours: decimal.Zero, Status: StatusNonWorkingDay,
		}, nil
	}
	contractRaw := generic.HoursFromMinutes(contractMin)

	if adj != nil && !adj.HasWindow() {
		return c.flat(day, adj, contractMin, contractRaw, now), nil
	}

	start, end := *day.Start, *day.End
	if adj != nil {
		if adj.EntryTime != nil {
			start = *adj.EntryTime
		}
		if adj.ExitTime != nil {
			end = *adj.ExitTime
		}
	}

	if end <= start {
		contract := generic.Round1(contractRaw)
		return Result{
			ActualHours:     decimal.Zero,
			ExpectedHours:   decimal.Zero,
			ContractHours:   contract,
			BalanceHours:    contract.Neg(),
			RemainingHours:  contract,
			Status:          StatusNotStarted,
			ContractMinutes: contractMin,
			EffectiveStart:  &start,
			EffectiveEnd:    &end,
		}, nil
	}

	brk := c.Breaks.Window(start, end, day.BreakMinutes, day.BreakStart)
	shiftMin := end.Minutes() - start.Minutes()
	expectedMin := max(shiftMin-OverlapMinutes(brk, start, end), 0)

	var actualMin int
	var status DayStatus
	switch {
	case now < start:
		actualMin, status = 0, StatusNotStarted
	case now <= end:
		actualMin = max(now.Minutes()-start.Minutes()-OverlapMinutes(brk, start, now), 0)
		status = StatusWorking
		if brk != nil && brk.Contains(now) {
			status = StatusOnBreak
		}
	default:
		actualMin, status = expectedMin, StatusCompleted
	}

	r := c.finish(generic.HoursFromMinutes(actualMin), generic.HoursFromMinutes(expectedMin), contractRaw)
	r.Status = status
	r.ActualMinutes, r.ExpectedMinutes, r.ContractMinutes = actualMin, expectedMin, contractMin
	r.EffectiveStart, r.EffectiveEnd, r.Break = &start, &end, brk
	return r, nil
}

// flat handles full-day and flat-hours adjustments.
func (c Calculator) flat(day DaySchedule, adj *LeaveAdjustment, contractMin int, contractRaw decimal.Decimal, now generic.ClockTime) Result {
	var actualRaw decimal.Decimal
	switch {
	case adj.FullDay || adj.Hours == nil:
		actualRaw = decimal.Zero
	case adj.IsCredit():
		actualRaw = contractRaw.Add(adj.Hours.Abs())
	default:
		actualRaw = decimal.Max(decimal.Zero, contractRaw.Sub(adj.Hours.Abs()))
	}

	status := StatusWorking
	switch {
	case now < *day.Start:
		status = StatusNotStarted
	case now > *day.End:
		status = StatusCompleted
	}

	r := c.finish(actualRaw, actualRaw, contractRaw)
	r.Status = status
	r.ContractMinutes = contractMin
	r.ActualMinutes = minutesOf(actualRaw)
	r.ExpectedMinutes = r.ActualMinutes
	r.Break = c.Breaks.Window(*day.Start, *day.End, day.BreakMinutes, day.BreakStart)
	return r
}

func (c Calculator) finish(actualRaw, expectedRaw, contractRaw decimal.Decimal) Result {
	actual := generic.Round1(actualRaw)
	contract := generic.Round1(contractRaw)
	return Result{
		ActualHours:    actual,
		ExpectedHours:  generic.Round1(expectedRaw),
		ContractHours:  contract,
		BalanceHours:   generic.Round1(actual.Sub(contract)),
		RemainingHours: decimal.Max(decimal.Zero, generic.Round1(expectedRaw.Sub(actualRaw))),
	}
}

func minutesOf(hours decimal.Decimal) int {
	return int(hours.Mul(decimal.NewFromInt(60)).Round(0).IntPart())
}
