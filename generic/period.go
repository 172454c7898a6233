package generic

import "time"

// =============================================================================
// PERIOD - Closed date range
// =============================================================================

// Period is the closed range [Start, End]. Ledger balances are yearly, so
// most periods are calendar years; leave requests use arbitrary ranges.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// YearPeriod is January 1 through December 31 of year.
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// MonthPeriod is one calendar month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// Valid reports whether End is not before Start.
func (p Period) Valid() bool { return !p.End.Before(p.Start) }

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps reports whether the two closed ranges share at least one day.
func (p Period) Overlaps(o Period) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// NextPeriod returns the period of equal length starting the day after End.
// For a calendar year this is the following year.
func (p Period) NextPeriod() Period {
	if p.Start.Month() == 1 && p.Start.Day() == 1 && p.End.Month() == 12 && p.End.Day() == 31 && p.Start.Year() == p.End.Year() {
		return YearPeriod(p.Start.Year() + 1)
	}
	length := DaysBetween(p.Start, p.End)
	start := p.End.AddDays(1)
	return Period{Start: start, End: start.AddDays(length)}
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}
