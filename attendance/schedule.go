package attendance

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// SCHEDULE RESOLVER - Expected minutes for a weekday
// =============================================================================

// ValidateDay checks a day definition. A working day needs start < end and a
// non-negative break; a non-working day carries no times at all.
func ValidateDay(day DaySchedule) error {
	wd := int(day.Weekday)
	if !day.IsWorkingDay {
		if day.Start != nil || day.End != nil || day.BreakStart != nil {
			return &generic.ConfigurationError{Weekday: wd, Field: "start_time", Reason: "set on a non-working day"}
		}
		return nil
	}
	if day.Start == nil {
		return &generic.ConfigurationError{Weekday: wd, Field: "start_time", Reason: "missing on a working day"}
	}
	if day.End == nil {
		return &generic.ConfigurationError{Weekday: wd, Field: "end_time", Reason: "missing on a working day"}
	}
	if *day.End <= *day.Start {
		return &generic.ConfigurationError{
			Weekday: wd, Field: "end_time",
			Reason: fmt.Sprintf("%s is not after start %s", *day.End, *day.Start),
		}
	}
	if day.BreakMinutes != nil && *day.BreakMinutes < 0 {
		return &generic.ConfigurationError{Weekday: wd, Field: "break_duration", Reason: "is negative"}
	}
	return nil
}

// ValidateSchedule checks every day and joins the failures.
func ValidateSchedule(w WeeklySchedule) error {
	var errs []error
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if err := ValidateDay(w.Day(wd)); err != nil {
			var cfg *generic.ConfigurationError
			if errors.As(err, &cfg) {
				cfg.UserID = w.UserID
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExpectedMinutes is the unvalidated form: missing data yields 0 and the
// result is clamped at 0. Use ResolveExpected where the data is untrusted.
func ExpectedMinutes(day DaySchedule) int {
	if !day.IsWorkingDay || day.Start == nil || day.End == nil {
		return 0
	}
	worked := day.End.Minutes() - day.Start.Minutes() - breakMinutes(day)
	return max(worked, 0)
}

// ResolveExpected validates the day and returns its contracted minutes.
func ResolveExpected(day DaySchedule) (int, error) {
	if err := ValidateDay(day); err != nil {
		return 0, err
	}
	return ExpectedMinutes(day), nil
}

// ExpectedHours is ResolveExpected in hours, one decimal.
func ExpectedHours(day DaySchedule) (decimal.Decimal, error) {
	minutes, err := ResolveExpected(day)
	if err != nil {
		return decimal.Zero, err
	}
	return generic.Round1(generic.HoursFromMinutes(minutes)), nil
}

// breakMinutes treats an absent duration as no break.
func breakMinutes(day DaySchedule) int {
	if day.BreakMinutes == nil || *day.BreakMinutes < 0 {
		return 0
	}
	return *day.BreakMinutes
}
