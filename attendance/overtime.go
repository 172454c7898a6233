package attendance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// OVERTIME BANK
// =============================================================================

// AddOvertime accrues hours in the bank.
func (s *Service) AddOvertime(ctx context.Context, userID generic.UserID, date generic.TimePoint, hours decimal.Decimal, ref generic.Reference, description string) (generic.LedgerEntry, error) {
	if ref.Type == "" {
		ref.Type = RefOvertime
	}
	return s.AppendLedgerEntry(ctx, generic.AppendInput{
		UserID:      userID,
		Category:    CategoryOvertimeBank,
		Date:        date,
		Type:        generic.EntryAccrual,
		Hours:       hours,
		Reference:   ref,
		Description: description,
	})
}

// UseOvertime debits the bank. The balance check runs under the scope lock,
// so concurrent uses cannot overdraw.
func (s *Service) UseOvertime(ctx context.Context, userID generic.UserID, date generic.TimePoint, hours decimal.Decimal, ref generic.Reference, description string) (generic.LedgerEntry, error) {
	if !hours.IsPositive() {
		return generic.LedgerEntry{}, fmt.Errorf("%w: hours must be positive", generic.ErrInvalidInput)
	}
	if ref.Type == "" {
		ref.Type = RefOvertime
	}
	return s.AppendLedgerEntry(ctx, generic.AppendInput{
		UserID:      userID,
		Category:    CategoryOvertimeBank,
		Date:        date,
		Type:        generic.EntryDebit,
		Hours:       hours,
		Reference:   ref,
		Description: description,
		NoOverdraft: true,
	})
}
