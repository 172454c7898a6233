package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// RECOVERY SWEEP - Book recovered hours exactly once
// =============================================================================
//
// A recovery is due when its hours were not added yet and it is either
// completed, or approved with its slot already over. Booking means:
//   1. accrue the hours on overtime_bank, referencing the recovery
//   2. credit the day's record (creating one with expected 0 if needed)
//   3. mark the recovery completed with balanceAdded
// A ledger entry for the recovery means 1 already happened. Step 2 is
// skipped when the record already lists the recovery.

// SubmitRecovery stores a new recovery request.
func (s *Service) SubmitRecovery(ctx context.Context, rec RecoveryRequest) (RecoveryRequest, error) {
	if rec.UserID == "" || rec.Date.IsZero() {
		return RecoveryRequest{}, fmt.Errorf("%w: user and date are required", generic.ErrInvalidInput)
	}
	if rec.EndTime <= rec.StartTime {
		return RecoveryRequest{}, fmt.Errorf("%w: end time must be after start time", generic.ErrInvalidInput)
	}
	if rec.Hours.IsZero() {
		rec.Hours = generic.Round2(generic.HoursFromMinutes(rec.EndTime.Minutes() - rec.StartTime.Minutes()))
	}
	if !rec.Hours.IsPositive() {
		return RecoveryRequest{}, fmt.Errorf("%w: hours must be positive", generic.ErrInvalidInput)
	}
	if _, err := s.stores.Users.GetUser(ctx, rec.UserID); err != nil {
		return RecoveryRequest{}, err
	}
	rec.ID = uuid.NewString()
	rec.Status = RecoveryPending
	rec.BalanceAdded = false
	rec.CompletedAt = nil
	rec.CreatedAt = s.now()
	if err := s.stores.Recoveries.CreateRecovery(ctx, rec); err != nil {
		return RecoveryRequest{}, err
	}
	return rec, nil
}

// DecideRecovery approves or rejects a pending recovery.
func (s *Service) DecideRecovery(ctx context.Context, id string, approve bool) (RecoveryRequest, error) {
	rec, err := s.stores.Recoveries.GetRecovery(ctx, id)
	if err != nil {
		return RecoveryRequest{}, err
	}
	to := RecoveryRejected
	if approve {
		to = RecoveryApproved
	}
	if rec.Status != RecoveryPending {
		return RecoveryRequest{}, &generic.TransitionError{ID: id, From: string(rec.Status), To: string(to)}
	}
	rec.Status = to
	if err := s.stores.Recoveries.UpdateRecovery(ctx, rec); err != nil {
		return RecoveryRequest{}, err
	}
	return rec, nil
}

// recoveryDue reports whether the recovery's slot is over at now.
func (s *Service) recoveryDue(rec RecoveryRequest, now time.Time) bool {
	if rec.BalanceAdded {
		return false
	}
	switch rec.Status {
	case RecoveryCompleted:
		return true
	case RecoveryApproved:
		today := generic.DateOf(now, s.opts.Location)
		if rec.Date.Before(today) {
			return true
		}
		return rec.Date.Equal(today) && rec.EndTime <= generic.ClockOf(now, s.opts.Location)
	}
	return false
}

// SweepRecoveries books every due recovery. Safe to re-run.
func (s *Service) SweepRecoveries(ctx context.Context) (BatchSummary, error) {
	recoveries, err := s.stores.Recoveries.ListUnbookedRecoveries(ctx)
	if err != nil {
		return BatchSummary{}, err
	}
	now := s.now()
	var sum BatchSummary
	for _, rec := range recoveries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !s.recoveryDue(rec, now) {
			continue
		}
		booked, err := s.bookRecovery(ctx, rec, now)
		switch {
		case err != nil:
			sum.Failed++
			s.logError("SweepRecoveries", "book recovery failed", rec.ID, err)
		case booked:
			sum.Processed++
		default:
			sum.Skipped++
		}
	}
	return sum, nil
}

// bookRecovery returns false when the ledger already had the recovery.
// The ledger append comes first: a failed append leaves nothing behind,
// and the record credit that follows is idempotent on the reference.
func (s *Service) bookRecovery(ctx context.Context, rec RecoveryRequest, now time.Time) (bool, error) {
	ref := generic.Reference{Type: RefRecoveryRequest, ID: rec.ID}
	existing, err := s.stores.Entries.EntriesByReference(ctx, rec.UserID, ref)
	if err != nil {
		return false, err
	}

	booked := false
	if len(existing) == 0 {
		_, err := s.AppendLedgerEntry(ctx, generic.AppendInput{
			UserID:         rec.UserID,
			Category:       CategoryOvertimeBank,
			Date:           rec.Date,
			Type:           generic.EntryAccrual,
			Hours:          rec.Hours,
			Reference:      ref,
			Description:    fmt.Sprintf("recovery %s-%s", rec.StartTime, rec.EndTime),
			IdempotencyKey: "recovery:" + rec.ID,
		})
		if err != nil {
			return false, err
		}
		booked = true
	}
	if err := s.creditDay(ctx, rec.UserID, rec.Date, ref, rec.Hours, OriginRecovery); err != nil {
		return booked, err
	}

	rec.Status = RecoveryCompleted
	rec.BalanceAdded = true
	rec.CompletedAt = &now
	if err := s.stores.Recoveries.UpdateRecovery(ctx, rec); err != nil {
		return booked, err
	}
	return booked, nil
}
