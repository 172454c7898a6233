/*
leave.go - Leave request lifecycle and per-date adjustment resolution

STATE MACHINE:
  pending ──▶ approved ──▶ cancelled   (admin only)
     │
     └────▶ rejected

  Any other move is ErrInvalidTransition; a non-admin cancel is
  ErrForbidden.

OVERLAP POLICY:
  Only approved requests covering the date count. When more than one
  does, the most recently approved wins (ties: larger id) and an
  AmbiguousAdjustmentError is returned WITH the chosen adjustment.
  Deficits are never summed.
*/
package attendance

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the request shape before it is stored.
func (r LeaveRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", generic.ErrInvalidInput)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown leave kind %q", generic.ErrInvalidInput, r.Kind)
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() || r.EndDate.Before(r.StartDate) {
		return fmt.Errorf("%w: invalid date range %s", generic.ErrInvalidInput, r.Period())
	}

	window := r.EntryTime != nil || r.ExitTime != nil
	shapes := 0
	for _, set := range []bool{window, r.Hours != nil, r.FullDay} {
		if set {
			shapes++
		}
	}
	if shapes > 1 {
		return fmt.Errorf("%w: use one of entry/exit time, hours or full day", generic.ErrInvalidInput)
	}
	if window {
		if !r.Kind.AllowsWindow() {
			return fmt.Errorf("%w: %s cannot carry entry/exit times", generic.ErrInvalidInput, r.Kind)
		}
		if r.EntryTime != nil && r.ExitTime != nil && *r.ExitTime <= *r.EntryTime {
			return fmt.Errorf("%w: exit time must be after entry time", generic.ErrInvalidInput)
		}
	}
	if r.Hours != nil && !r.Hours.IsPositive() {
		return fmt.Errorf("%w: hours must be positive", generic.ErrInvalidInput)
	}
	if shapes == 0 && r.Kind == LeaveRecovery {
		return fmt.Errorf("%w: recovery needs hours", generic.ErrInvalidInput)
	}
	return nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (r *LeaveRequest) Approve(actor Actor, at time.Time) error {
	if r.Status != LeavePending {
		return &generic.TransitionError{ID: r.ID, From: string(r.Status), To: string(LeaveApproved)}
	}
	id := actor.ID
	r.Status = LeaveApproved
	r.ApprovedBy, r.DecidedBy = &id, &id
	r.ApprovedAt = &at
	r.UpdatedAt = at
	return nil
}

func (r *LeaveRequest) Reject(actor Actor, at time.Time) error {
	if r.Status != LeavePending {
		return &generic.TransitionError{ID: r.ID, From: string(r.Status), To: string(LeaveRejected)}
	}
	id := actor.ID
	r.Status = LeaveRejected
	r.DecidedBy = &id
	r.UpdatedAt = at
	return nil
}

// Cancel withdraws an approved request. Admin only.
func (r *LeaveRequest) Cancel(actor Actor, at time.Time) error {
	if r.Status != LeaveApproved {
		return &generic.TransitionError{ID: r.ID, From: string(r.Status), To: string(LeaveCancelled)}
	}
	if !actor.Admin {
		return fmt.Errorf("%w: %s cannot cancel an approved request", generic.ErrForbidden, actor.ID)
	}
	id := actor.ID
	r.Status = LeaveCancelled
	r.DecidedBy = &id
	r.UpdatedAt = at
	return nil
}

// =============================================================================
// RESOLUTION
// =============================================================================

// AdjustmentFor restricts an approved request to date. ok is false when the
// request is not approved or does not cover the date.
func AdjustmentFor(r LeaveRequest, date generic.TimePoint) (LeaveAdjustment, bool) {
	if r.Status != LeaveApproved || !r.Covers(date) {
		return LeaveAdjustment{}, false
	}
	adj := LeaveAdjustment{
		RequestID: r.ID,
		Kind:      r.Kind,
		Date:      date,
		EntryTime: r.EntryTime,
		ExitTime:  r.ExitTime,
		Hours:     r.Hours,
		FullDay:   r.FullDay,
	}
	if !adj.FullDay && adj.Hours == nil && !adj.HasWindow() {
		adj.FullDay = true
	}
	return adj, true
}

// ResolveAdjustment picks the one adjustment that applies to date. With
// several candidates it returns the winner and an AmbiguousAdjustmentError.
func ResolveAdjustment(userID generic.UserID, requests []LeaveRequest, date generic.TimePoint) (*LeaveAdjustment, error) {
	var candidates []LeaveRequest
	for _, r := range requests {
		if _, ok := AdjustmentFor(r, date); ok {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ai, aj := approvedAt(candidates[i]), approvedAt(candidates[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return candidates[i].ID > candidates[j].ID
	})
	chosen, _ := AdjustmentFor(candidates[0], date)
	if len(candidates) == 1 {
		return &chosen, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return &chosen, &generic.AmbiguousAdjustmentError{
		UserID: userID, Date: date, ChosenID: chosen.RequestID, Candidates: ids,
	}
}

func approvedAt(r LeaveRequest) time.Time {
	if r.ApprovedAt == nil {
		return r.UpdatedAt
	}
	return *r.ApprovedAt
}

// HasLaw104 reports whether any approved law-104 request covers date,
// whichever adjustment won the overlap.
func HasLaw104(requests []LeaveRequest, date generic.TimePoint) bool {
	for _, r := range requests {
		if r.Kind == LeaveLaw104 && r.Status == LeaveApproved && r.Covers(date) {
			return true
		}
	}
	return false
}

// PermissionHours is the deficit an adjustment represents on day: the flat
// hours, the whole contract for a full day, or the contract minus the
// windowed expectation. Credits represent no deficit.
func (c Calculator) PermissionHours(day DaySchedule, adj *LeaveAdjustment) (decimal.Decimal, error) {
	if adj == nil || adj.IsCredit() {
		return decimal.Zero, nil
	}
	contract, err := ExpectedHours(day)
	if err != nil {
		return decimal.Zero, err
	}
	switch {
	case adj.Hours != nil && !adj.FullDay:
		return decimal.Min(generic.Round1(adj.Hours.Abs()), contract), nil
	case !adj.HasWindow():
		return contract, nil
	}
	r, err := c.Compute(day, adj, generic.EndOfDay)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Max(decimal.Zero, contract.Sub(r.ExpectedHours)), nil
}
