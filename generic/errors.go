/*
errors.go - Centralized error types for the hours engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Configuration errors - schedule data missing or invalid for a working day
  2. Adjustment errors - overlapping approved leave for one date
  3. Ledger errors - overflow, snapshot divergence, idempotency
  4. Workflow errors - invalid state transitions, forbidden actors

USAGE:
  if errors.Is(err, generic.ErrLedgerConsistency) {
      // show "needs reconciliation", schedule a rebuild
  }

  var overflow *generic.RangeOverflowError
  if errors.As(err, &overflow) {
      log.Printf("balance would reach %s", overflow.Attempted)
  }

SEE ALSO:
  - ledger.go: RangeOverflowError, ErrDuplicateIdempotencyKey
  - snapshot.go: LedgerConsistencyError
  - attendance/schedule.go: ConfigurationError
  - attendance/leave.go: AmbiguousAdjustmentError
*/
package generic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is returned when a working day lacks required schedule
	// fields. Never defaulted; surfaced to the admin.
	ErrConfiguration = errors.New("schedule configuration error")

	// ErrAmbiguousAdjustment is returned when more than one approved leave
	// request covers the same date. A single adjustment is still chosen.
	ErrAmbiguousAdjustment = errors.New("ambiguous leave adjustment")

	// ErrLedgerConsistency is returned when a snapshot diverges from the
	// ledger or the running balance chain is broken.
	ErrLedgerConsistency = errors.New("ledger consistency error")

	// ErrRangeOverflow is returned when a running balance would leave the
	// representable range. Nothing is written.
	ErrRangeOverflow = errors.New("running balance out of range")

	// ErrSnapshotStale is returned when an entry was written but the
	// snapshot update failed. The entry is durable.
	ErrSnapshotStale = errors.New("balance snapshot is stale")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrentModification is returned when a scope lock cannot be
	// obtained in time.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrBatchIncomplete is returned by a batch that ran to the end with at
	// least one failed item. The summary still counts every item.
	ErrBatchIncomplete = errors.New("batch finished with failures")

	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("action not allowed for actor")
	ErrInvalidInput      = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError names the schedule field that is missing or invalid.
type ConfigurationError struct {
	UserID  UserID
	Weekday int
	Field   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("schedule configuration error for %s weekday %d: %s %s",
			e.UserID, e.Weekday, e.Field, e.Reason)
	}
	return fmt.Sprintf("schedule configuration error weekday %d: %s %s", e.Weekday, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// AmbiguousAdjustmentError lists every approved request covering Date and
// the one that was chosen.
type AmbiguousAdjustmentError struct {
	UserID     UserID
	Date       TimePoint
	ChosenID   string
	Candidates []string
}

func (e *AmbiguousAdjustmentError) Error() string {
	return fmt.Sprintf("ambiguous leave adjustment on %s: %d approved requests [%s], using %s",
		e.Date, len(e.Candidates), strings.Join(e.Candidates, ", "), e.ChosenID)
}

func (e *AmbiguousAdjustmentError) Unwrap() error { return ErrAmbiguousAdjustment }

// LedgerConsistencyError reports a snapshot or chain divergence for a scope.
type LedgerConsistencyError struct {
	Scope    Scope
	Snapshot decimal.Decimal
	Ledger   decimal.Decimal
	Seq      int64 // first entry with a broken chain, 0 for snapshot drift
	Reason   string
}

func (e *LedgerConsistencyError) Error() string {
	if e.Seq > 0 {
		return fmt.Sprintf("ledger chain broken for %s at seq %d: %s", e.Scope, e.Seq, e.Reason)
	}
	return fmt.Sprintf("snapshot for %s diverges from ledger: snapshot %s, ledger %s",
		e.Scope, e.Snapshot, e.Ledger)
}

func (e *LedgerConsistencyError) Unwrap() error { return ErrLedgerConsistency }

// RangeOverflowError is returned instead of clamping.
type RangeOverflowError struct {
	Scope     Scope
	Previous  decimal.Decimal
	Delta     decimal.Decimal
	Attempted decimal.Decimal
}

func (e *RangeOverflowError) Error() string {
	return fmt.Sprintf("running balance for %s would be %s (previous %s, delta %s), outside [%s, %s]",
		e.Scope, e.Attempted, e.Previous, e.Delta, MinBalance, MaxBalance)
}

func (e *RangeOverflowError) Unwrap() error { return ErrRangeOverflow }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Scope     Scope
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in %s: available %s, requested %s, shortfall %s",
		e.Scope, e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// TransitionError reports a rejected status change.
type TransitionError struct {
	ID   string
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrRangeOverflow) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrConfiguration)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
