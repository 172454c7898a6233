package attendance_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
)

func march(day int) generic.TimePoint { return generic.NewTimePoint(2025, time.March, day) }

func approvedLeave(id string, kind attendance.LeaveKind, date generic.TimePoint, approvedAt time.Time) attendance.LeaveRequest {
	return attendance.LeaveRequest{
		ID: id, UserID: "alice", Kind: kind, StartDate: date, EndDate: date,
		Status: attendance.LeaveApproved, ApprovedAt: &approvedAt,
	}
}

func TestLeaveRequest_Validate(t *testing.T) {
	base := attendance.LeaveRequest{UserID: "alice", StartDate: march(3), EndDate: march(3)}

	tests := []struct {
		name  string
		mut   func(*attendance.LeaveRequest)
		valid bool
	}{
		{"late entry permission", func(r *attendance.LeaveRequest) {
			r.Kind, r.EntryTime = attendance.LeaveHourlyPermission, clockPtr("10:00")
		}, true},
		{"full day vacation", func(r *attendance.LeaveRequest) {
			r.Kind, r.FullDay = attendance.LeaveVacation, true
		}, true},
		{"vacation without shape covers the day", func(r *attendance.LeaveRequest) {
			r.Kind = attendance.LeaveVacation
		}, true},
		{"unknown kind", func(r *attendance.LeaveRequest) { r.Kind = "holiday" }, false},
		{"two shapes", func(r *attendance.LeaveRequest) {
			r.Kind, r.EntryTime, r.Hours = attendance.LeaveHourlyPermission, clockPtr("10:00"), decPtr("2")
		}, false},
		{"window on vacation", func(r *attendance.LeaveRequest) {
			r.Kind, r.ExitTime = attendance.LeaveVacation, clockPtr("15:00")
		}, false},
		{"exit before entry", func(r *attendance.LeaveRequest) {
			r.Kind, r.EntryTime, r.ExitTime = attendance.LeaveLaw104, clockPtr("15:00"), clockPtr("10:00")
		}, false},
		{"negative hours", func(r *attendance.LeaveRequest) {
			r.Kind, r.Hours = attendance.LeaveHourlyPermission, decPtr("-1")
		}, false},
		{"recovery without hours", func(r *attendance.LeaveRequest) { r.Kind = attendance.LeaveRecovery }, false},
		{"end before start", func(r *attendance.LeaveRequest) {
			r.Kind, r.FullDay, r.EndDate = attendance.LeaveSick, true, march(1)
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mut(&r)
			err := r.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, generic.ErrInvalidInput)
			}
		})
	}
}

func TestLeaveRequest_StateMachine(t *testing.T) {
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	admin := attendance.Actor{ID: "boss", Admin: true}
	employee := attendance.Actor{ID: "alice"}

	r := attendance.LeaveRequest{ID: "l1", Status: attendance.LeavePending}

	// pending -> approved
	require.NoError(t, r.Approve(admin, now))
	assert.Equal(t, attendance.LeaveApproved, r.Status)
	require.NotNil(t, r.ApprovedAt)
	assert.Equal(t, "boss", *r.ApprovedBy)

	// approved -> approved is rejected
	var te *generic.TransitionError
	err := r.Approve(admin, now)
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "approved", te.From)

	// approved -> rejected is not a move
	assert.ErrorIs(t, r.Reject(admin, now), generic.ErrInvalidTransition)

	// only an admin may cancel
	assert.ErrorIs(t, r.Cancel(employee, now), generic.ErrForbidden)
	require.NoError(t, r.Cancel(admin, now))
	assert.Equal(t, attendance.LeaveCancelled, r.Status)

	// cancelled is terminal
	assert.ErrorIs(t, r.Cancel(admin, now), generic.ErrInvalidTransition)
}

func TestAdjustmentFor(t *testing.T) {
	req := approvedLeave("l1", attendance.LeaveVacation, march(3), time.Now())
	req.EndDate = march(5)

	adj, ok := attendance.AdjustmentFor(req, march(4))
	require.True(t, ok)
	assert.True(t, adj.FullDay, "no shape means the whole day")
	assert.True(t, adj.Date.Equal(march(4)))

	_, ok = attendance.AdjustmentFor(req, march(6))
	assert.False(t, ok)

	req.Status = attendance.LeavePending
	_, ok = attendance.AdjustmentFor(req, march(4))
	assert.False(t, ok)
}

func TestResolveAdjustment_Overlap(t *testing.T) {
	early := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	entry := approvedLeave("l-entry", attendance.LeaveHourlyPermission, march(3), early)
	entry.EntryTime = clockPtr("10:00")
	flat := approvedLeave("l-flat", attendance.LeaveHourlyPermission, march(3), late)
	flat.Hours = decPtr("2")

	// WHEN two approved requests cover the same day
	adj, err := attendance.ResolveAdjustment("alice", []attendance.LeaveRequest{entry, flat}, march(3))

	// THEN the most recently approved is used, and the overlap is reported
	require.NotNil(t, adj)
	assert.Equal(t, "l-flat", adj.RequestID)

	var amb *generic.AmbiguousAdjustmentError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, "l-flat", amb.ChosenID)
	assert.ElementsMatch(t, []string{"l-entry", "l-flat"}, amb.Candidates)
}

func TestResolveAdjustment_TieBreakByID(t *testing.T) {
	at := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	a := approvedLeave("a", attendance.LeaveSick, march(3), at)
	b := approvedLeave("b", attendance.LeaveSick, march(3), at)

	adj, err := attendance.ResolveAdjustment("alice", []attendance.LeaveRequest{a, b}, march(3))

	assert.ErrorIs(t, err, generic.ErrAmbiguousAdjustment)
	assert.Equal(t, "b", adj.RequestID)
}

func TestResolveAdjustment_Single(t *testing.T) {
	req := approvedLeave("l1", attendance.LeaveSick, march(3), time.Now())

	adj, err := attendance.ResolveAdjustment("alice", []attendance.LeaveRequest{req}, march(3))
	require.NoError(t, err)
	require.NotNil(t, adj)

	none, err := attendance.ResolveAdjustment("alice", []attendance.LeaveRequest{req}, march(4))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestHasLaw104(t *testing.T) {
	law := approvedLeave("l1", attendance.LeaveLaw104, march(3), time.Now())
	law.EntryTime = clockPtr("11:00")

	assert.True(t, attendance.HasLaw104([]attendance.LeaveRequest{law}, march(3)))
	assert.False(t, attendance.HasLaw104([]attendance.LeaveRequest{law}, march(4)))
}
