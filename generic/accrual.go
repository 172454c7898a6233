package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCRUAL SCHEDULE - How hours accumulate over a year
// =============================================================================

// AccrualSchedule generates accrual events for a time range.
type AccrualSchedule interface {
	// GenerateAccruals returns accrual events in [from, to].
	GenerateAccruals(from, to TimePoint) []AccrualEvent
}

// AccrualEvent represents a single accrual occurrence.
type AccrualEvent struct {
	At     TimePoint
	Hours  decimal.Decimal
	Reason string
}

// =============================================================================
// MONTHLY ACCRUAL - Annual entitlement spread evenly over twelve months
// =============================================================================

// MonthlyAccrual books AnnualHours/12 on the first day of every month.
// Amounts are rounded to the storage precision; the rounding remainder
// is not redistributed.
type MonthlyAccrual struct {
	AnnualHours decimal.Decimal
}

var monthsPerYear = decimal.NewFromInt(12)

// PerMonth is the amount booked each month.
func (m MonthlyAccrual) PerMonth() decimal.Decimal {
	return Round2(m.AnnualHours.Div(monthsPerYear))
}

func (m MonthlyAccrual) GenerateAccruals(from, to TimePoint) []AccrualEvent {
	perMonth := m.PerMonth()
	if !perMonth.IsPositive() {
		return nil
	}

	var events []AccrualEvent
	current := StartOfMonth(from.Year(), from.Month())
	if current.Before(from) {
		current = current.AddMonths(1)
	}
	for current.BeforeOrEqual(to) {
		events = append(events, AccrualEvent{
			At:     current,
			Hours:  perMonth,
			Reason: fmt.Sprintf("monthly accrual %s", MonthKey(current.Year(), current.Month())),
		})
		current = current.AddMonths(1)
	}
	return events
}

// MonthKey formats a month as yyyy-mm.
func MonthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}
