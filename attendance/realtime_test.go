package attendance_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
)

func clock(s string) generic.ClockTime { return generic.MustParseClock(s) }

func clockPtr(s string) *generic.ClockTime {
	c := generic.MustParseClock(s)
	return &c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func assertHours(t *testing.T, want string, got decimal.Decimal, what string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %v", what, want, got)
}

// nineToFive is 09:00-17:00 with a 60 minute break: 7.0 contracted hours.
func nineToFive() attendance.DaySchedule { return attendance.WorkingDay("09:00", "17:00", 60) }

// =============================================================================
// SCHEDULE RESOLVER
// =============================================================================

func TestExpectedHours(t *testing.T) {
	tests := []struct {
		name string
		day  attendance.DaySchedule
		want string
	}{
		{"full day with break", nineToFive(), "7"},
		{"null break means no break", attendance.WorkingDay("09:00", "13:00", -1), "4"},
		{"zero break", attendance.WorkingDay("08:30", "12:45", 0), "4.3"},
		{"break longer than shift clamps at zero", attendance.WorkingDay("09:00", "09:30", 60), "0"},
		{"non-working day", attendance.DaySchedule{}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := attendance.ExpectedHours(tt.day)
			require.NoError(t, err)
			assertHours(t, tt.want, got, "expected")
		})
	}
}

func TestValidateDay_ConfigurationErrors(t *testing.T) {
	start := clockPtr("09:00")
	negative := -5
	tests := []struct {
		name  string
		day   attendance.DaySchedule
		field string
	}{
		{"missing end", attendance.DaySchedule{IsWorkingDay: true, Start: start}, "end_time"},
		{"missing start", attendance.DaySchedule{IsWorkingDay: true, End: start}, "start_time"},
		{"end before start", attendance.DaySchedule{IsWorkingDay: true, Start: clockPtr("17:00"), End: clockPtr("09:00")}, "end_time"},
		{"negative break", attendance.DaySchedule{IsWorkingDay: true, Start: start, End: clockPtr("17:00"), BreakMinutes: &negative}, "break_duration"},
		{"times on a day off", attendance.DaySchedule{Start: start}, "start_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := attendance.ValidateDay(tt.day)
			require.ErrorIs(t, err, generic.ErrConfiguration)

			var cfg *generic.ConfigurationError
			require.True(t, errors.As(err, &cfg))
			assert.Equal(t, tt.field, cfg.Field)
		})
	}
}

func TestValidateSchedule_NamesUser(t *testing.T) {
	var w attendance.WeeklySchedule
	w.UserID = "alice"
	w.Days[time.Monday] = attendance.DaySchedule{IsWorkingDay: true, Start: clockPtr("09:00")}

	err := attendance.ValidateSchedule(w)

	var cfg *generic.ConfigurationError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, generic.UserID("alice"), cfg.UserID)
	assert.Equal(t, int(time.Monday), cfg.Weekday)
}

// =============================================================================
// BREAK CALCULATOR
// =============================================================================

func TestBreakWindow_Placement(t *testing.T) {
	sixty := 60
	tests := []struct {
		name      string
		placement attendance.Placement
		start     string
		end       string
		explicit  *generic.ClockTime
		want      string
	}{
		{"midpoint start", attendance.PlacementMidpointStart, "09:00", "17:00", nil, "13:00-14:00"},
		{"centered", attendance.PlacementCentered, "09:00", "17:00", nil, "12:30-13:30"},
		{"explicit start wins", attendance.PlacementCentered, "09:00", "17:00", clockPtr("12:00"), "12:00-13:00"},
		{"midpoint pulled inside a short shift", attendance.PlacementMidpointStart, "09:00", "10:30", nil, "09:30-10:30"},
		{"late entry moves the midpoint", attendance.PlacementMidpointStart, "10:00", "17:00", nil, "13:30-14:30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := attendance.BreakCalculator{Placement: tt.placement}
			w := calc.Window(clock(tt.start), clock(tt.end), &sixty, tt.explicit)
			require.NotNil(t, w)
			assert.Equal(t, tt.want, w.String())
			assert.Equal(t, 60, w.Minutes())
		})
	}
}

func TestBreakWindow_None(t *testing.T) {
	calc := attendance.BreakCalculator{Placement: attendance.PlacementMidpointStart}
	sixty, zero := 60, 0

	assert.Nil(t, calc.Window(clock("09:00"), clock("17:00"), nil, nil), "null duration")
	assert.Nil(t, calc.Window(clock("09:00"), clock("17:00"), &zero, nil), "zero duration")
	assert.Nil(t, calc.Window(clock("09:00"), clock("10:00"), &sixty, nil), "shift not longer than break")
}

func TestParsePlacement(t *testing.T) {
	p, err := attendance.ParsePlacement("")
	require.NoError(t, err)
	assert.Equal(t, attendance.PlacementMidpointStart, p)

	_, err = attendance.ParsePlacement("random")
	assert.Error(t, err)
}

// =============================================================================
// REAL-TIME HOURS
// =============================================================================

func TestCompute_InProgress(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)

	// GIVEN 09:00-17:00 with 60 minutes, break at 13:00-14:00
	// WHEN it is 10:20
	r, err := calc.Compute(nineToFive(), nil, clock("10:20"))
	require.NoError(t, err)

	// THEN 80 minutes were worked
	assert.Equal(t, attendance.StatusWorking, r.Status)
	assert.Equal(t, 80, r.ActualMinutes)
	assertHours(t, "1.3", r.ActualHours, "actual")
	assertHours(t, "7", r.ContractHours, "contract")
	assertHours(t, "7", r.ExpectedHours, "expected")
	assertHours(t, "-5.7", r.BalanceHours, "balance")
	assertHours(t, "5.7", r.RemainingHours, "remaining")
}

func TestCompute_OnBreak(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)

	r, err := calc.Compute(nineToFive(), nil, clock("13:30"))
	require.NoError(t, err)

	assert.Equal(t, attendance.StatusOnBreak, r.Status)
	assert.Equal(t, 240, r.ActualMinutes)
	assertHours(t, "4", r.ActualHours, "actual")
	require.NotNil(t, r.Break)
	assert.Equal(t, "13:00-14:00", r.Break.String())
}

func TestCompute_CenteredBreakIsHalfOpen(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementCentered)

	// 13:30 is the end of a 12:30-13:30 break: already back at work
	r, err := calc.Compute(nineToFive(), nil, clock("13:30"))
	require.NoError(t, err)

	assert.Equal(t, attendance.StatusWorking, r.Status)
	assert.Equal(t, 210, r.ActualMinutes)
}

func TestCompute_Boundaries(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)

	before, err := calc.Compute(nineToFive(), nil, clock("08:00"))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusNotStarted, before.Status)
	assert.True(t, before.ActualHours.IsZero())

	after, err := calc.Compute(nineToFive(), nil, generic.EndOfDay)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusCompleted, after.Status)
	assertHours(t, "7", after.ActualHours, "actual")
	assert.True(t, after.BalanceHours.IsZero())
	assert.True(t, after.RemainingHours.IsZero())
}

func TestCompute_NullBreak(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)

	r, err := calc.Compute(attendance.WorkingDay("09:00", "13:00", -1), nil, generic.EndOfDay)
	require.NoError(t, err)

	assert.Nil(t, r.Break)
	assertHours(t, "4", r.ActualHours, "actual")
	assert.True(t, r.BalanceHours.IsZero())
}

func TestCompute_NonWorkingDay(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)

	r, err := calc.Compute(attendance.DaySchedule{Weekday: time.Sunday}, nil, clock("10:00"))
	require.NoError(t, err)

	assert.Equal(t, attendance.StatusNonWorkingDay, r.Status)
	assert.True(t, r.ActualHours.IsZero())
	assert.True(t, r.BalanceHours.IsZero())
}

func TestCompute_ConfigurationError(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)

	_, err := calc.Compute(attendance.DaySchedule{IsWorkingDay: true, Start: clockPtr("09:00")}, nil, clock("10:00"))

	assert.ErrorIs(t, err, generic.ErrConfiguration)
}

// =============================================================================
// LEAVE ADJUSTMENTS
// =============================================================================

func TestCompute_LateEntryPermission(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)
	adj := &attendance.LeaveAdjustment{Kind: attendance.LeaveHourlyPermission, EntryTime: clockPtr("10:00")}

	// GIVEN entry moved to 10:00, WHEN the day is over (18:00)
	r, err := calc.Compute(nineToFive(), adj, clock("18:00"))
	require.NoError(t, err)

	// THEN the worked hours shrink but the contract does not
	assert.Equal(t, attendance.StatusCompleted, r.Status)
	assertHours(t, "6", r.ActualHours, "actual")
	assertHours(t, "6", r.ExpectedHours, "expected")
	assertHours(t, "7", r.ContractHours, "contract")
	assertHours(t, "-1", r.BalanceHours, "balance")
	assert.Equal(t, "10:00", r.EffectiveStart.String())
	assert.Equal(t, "13:30-14:30", r.Break.String())
}

func TestCompute_EarlyExitPermission(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)
	adj := &attendance.LeaveAdjustment{Kind: attendance.LeaveHourlyPermission, ExitTime: clockPtr("15:00")}

	r, err := calc.Compute(nineToFive(), adj, generic.EndOfDay)
	require.NoError(t, err)

	assertHours(t, "5", r.ActualHours, "actual")
	assertHours(t, "-2", r.BalanceHours, "balance")
}

func TestCompute_FlatAdjustments(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)
	tests := []struct {
		name    string
		adj     attendance.LeaveAdjustment
		actual  string
		balance string
	}{
		{"full day", attendance.LeaveAdjustment{Kind: attendance.LeaveVacation, FullDay: true}, "0", "-7"},
		{"two hours", attendance.LeaveAdjustment{Kind: attendance.LeaveHourlyPermission, Hours: decPtr("2")}, "5", "-2"},
		{"more hours than the contract", attendance.LeaveAdjustment{Kind: attendance.LeaveVacation, Hours: decPtr("10")}, "0", "-7"},
		{"recovery credit", attendance.LeaveAdjustment{Kind: attendance.LeaveRecovery, Hours: decPtr("1.5")}, "8.5", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj := tt.adj
			r, err := calc.Compute(nineToFive(), &adj, generic.EndOfDay)
			require.NoError(t, err)

			assert.Equal(t, attendance.StatusCompleted, r.Status)
			assertHours(t, tt.actual, r.ActualHours, "actual")
			assertHours(t, tt.balance, r.BalanceHours, "balance")
			assert.True(t, r.RemainingHours.IsZero())
		})
	}
}

func TestPermissionHours(t *testing.T) {
	calc := attendance.NewCalculator(attendance.PlacementMidpointStart)
	tests := []struct {
		name string
		adj  *attendance.LeaveAdjustment
		want string
	}{
		{"none", nil, "0"},
		{"late entry", &attendance.LeaveAdjustment{Kind: attendance.LeaveHourlyPermission, EntryTime: clockPtr("10:00")}, "1"},
		{"flat hours", &attendance.LeaveAdjustment{Kind: attendance.LeaveHourlyPermission, Hours: decPtr("2")}, "2"},
		{"full day", &attendance.LeaveAdjustment{Kind: attendance.LeaveSick, FullDay: true}, "7"},
		{"recovery is no deficit", &attendance.LeaveAdjustment{Kind: attendance.LeaveRecovery, Hours: decPtr("2")}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.PermissionHours(nineToFive(), tt.adj)
			require.NoError(t, err)
			assertHours(t, tt.want, got, "permission")
		})
	}
}
