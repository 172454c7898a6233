package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// MONTHLY ACCRUAL & YEAR-END CARRYOVER
// =============================================================================

// accrualPlan is the monthly accrual of each category for a contract.
func accrualPlan(c ContractType) map[generic.Category]generic.MonthlyAccrual {
	return map[generic.Category]generic.MonthlyAccrual{
		CategoryVacation:   {AnnualHours: c.AnnualVacationHours},
		CategoryPermission: {AnnualHours: c.AnnualPermissionHours},
	}
}

// RunMonthlyAccrual books the month's vacation and permission hours for
// every active user. Re-running a month only produces duplicates, which
// are counted as skipped.
func (s *Service) RunMonthlyAccrual(ctx context.Context, year int, month time.Month) (BatchSummary, error) {
	users, err := s.stores.Users.ListActiveUsers(ctx)
	if err != nil {
		return BatchSummary{}, err
	}
	period := generic.MonthPeriod(year, month)
	monthKey := generic.MonthKey(year, month)

	var sum BatchSummary
	for _, u := range users {
		contract, ok := LookupContract(u.ContractType)
		if !ok {
			sum.Failed++
			s.logError("RunMonthlyAccrual", "unknown contract type", u.ID, fmt.Errorf("%w: contract %q", generic.ErrInvalidInput, u.ContractType))
			continue
		}
		for _, cat := range []generic.Category{CategoryVacation, CategoryPermission} {
			for _, ev := range accrualPlan(contract)[cat].GenerateAccruals(period.Start, period.End) {
				_, err := s.AppendLedgerEntry(ctx, generic.AppendInput{
					UserID:         u.ID,
					Category:       cat,
					Date:           ev.At,
					Type:           generic.EntryAccrual,
					Hours:          ev.Hours,
					Reference:      generic.Reference{Type: RefMonthlyAccrual, ID: monthKey},
					Description:    ev.Reason,
					IdempotencyKey: fmt.Sprintf("accrual:%s:%s:%s", u.ID, cat, monthKey),
				})
				switch {
				case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
					sum.Skipped++
				case err != nil:
					sum.Failed++
					s.logError("RunMonthlyAccrual", "append accrual failed", u.ID, err)
				default:
					sum.Processed++
				}
			}
		}
	}
	return sum, nil
}

type CarryoverSummary struct {
	BatchSummary
	CarriedOver decimal.Decimal
	Expired     decimal.Decimal
}

// RunCarryover closes year for every active user's vacation and permission
// balances: up to the contract's max carries into year+1, the rest expires.
func (s *Service) RunCarryover(ctx context.Context, year int) (CarryoverSummary, error) {
	users, err := s.stores.Users.ListActiveUsers(ctx)
	if err != nil {
		return CarryoverSummary{}, err
	}
	sum := CarryoverSummary{CarriedOver: decimal.Zero, Expired: decimal.Zero}
	engine := &generic.ReconciliationEngine{}

	for _, u := range users {
		contract, ok := LookupContract(u.ContractType)
		if !ok {
			sum.Failed++
			continue
		}
		for _, cat := range []generic.Category{CategoryVacation, CategoryPermission} {
			scope := generic.Scope{UserID: u.ID, Category: cat, Year: year}
			view, err := s.GetCurrentBalance(ctx, scope)
			if err != nil && !errors.Is(err, generic.ErrLedgerConsistency) {
				sum.Failed++
				s.logError("RunCarryover", "read balance failed", scope.String(), err)
				continue
			}

			out, err := engine.Process(generic.ReconciliationInput{
				UserID:         u.ID,
				Policy:         generic.CarryoverPolicy(cat, contract.MaxCarryoverHours),
				CurrentBalance: view.Balance,
				EndingPeriod:   generic.YearPeriod(year),
			})
			if err != nil {
				return sum, err
			}
			if len(out.Entries) == 0 {
				sum.Skipped++
				continue
			}
			if s.appendAll(ctx, "RunCarryover", out.Entries) {
				sum.Processed++
				sum.CarriedOver = sum.CarriedOver.Add(out.Summary.CarriedOver)
				sum.Expired = sum.Expired.Add(out.Summary.Expired)
			} else {
				sum.Skipped++
			}
		}
	}
	return sum, nil
}

// appendAll appends planned entries in order, ignoring duplicates. It
// reports whether at least one entry was new.
func (s *Service) appendAll(ctx context.Context, funcName string, entries []generic.AppendInput) bool {
	wrote := false
	for _, in := range entries {
		_, err := s.AppendLedgerEntry(ctx, in)
		switch {
		case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		case err != nil:
			s.logError(funcName, "append failed", in.IdempotencyKey, err)
		default:
			wrote = true
		}
	}
	return wrote
}
