/*
policy.go - Balance policies and year-end reconciliation

PURPOSE:
  Defines what happens to a scope's balance when its year closes: how
  much carries into the next year, what expires, and the optional cap.
  The engine only PLANS ledger movements; the caller appends them.

RECONCILIATION:
  At period end (December 31), the engine processes actions in order:
  1. Carryover: min(balance, MaxCarryover) moves to the next year
     (an adjustment out of year Y, an adjustment into year Y+1 on Jan 1)
  2. Expire: whatever did not carry is expired on Dec 31
  3. Cap: optional, trims a balance above MaxBalance without carrying

  Only positive balances move. A negative balance stays in its year for
  an operator to settle with a correction.

EXAMPLE:
  policy := Policy{
      Category: "vacation",
      Actions: []ReconciliationAction{
          {Type: ActionCarryover, MaxCarryover: &max},
          {Type: ActionExpire},
      },
  }
  out := (&ReconciliationEngine{}).Process(ReconciliationInput{...})
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY - Rules governing a category's balance across years
// =============================================================================

type Policy struct {
	Category Category

	// MaxBalance, when set, is enforced by ActionCap.
	MaxBalance *decimal.Decimal

	Actions []ReconciliationAction
}

type ReconciliationAction struct {
	Type         ActionType
	MaxCarryover *decimal.Decimal
}

type ActionType string

const (
	ActionCarryover ActionType = "carryover" // Move balance to next period
	ActionExpire    ActionType = "expire"    // Remove unused balance
	ActionCap       ActionType = "cap"       // Enforce max balance
)

// CarryoverPolicy is the common carry-then-expire rule.
func CarryoverPolicy(category Category, maxCarryover decimal.Decimal) Policy {
	return Policy{
		Category: category,
		Actions: []ReconciliationAction{
			{Type: ActionCarryover, MaxCarryover: &maxCarryover},
			{Type: ActionExpire},
		},
	}
}

// =============================================================================
// RECONCILIATION ENGINE
// =============================================================================

// Reference types written by the engine.
const (
	RefCarryover  = "carryover"
	RefExpiration = "expiration"
)

type ReconciliationInput struct {
	UserID         UserID
	Policy         Policy
	CurrentBalance decimal.Decimal // balance of the ending year
	EndingPeriod   Period
}

type ReconciliationOutput struct {
	Entries []AppendInput
	Summary ReconciliationSummary
}

type ReconciliationSummary struct {
	CarriedOver decimal.Decimal
	Expired     decimal.Decimal
}

type ReconciliationEngine struct{}

func (re *ReconciliationEngine) Process(input ReconciliationInput) (*ReconciliationOutput, error) {
	if !input.EndingPeriod.Valid() {
		return nil, fmt.Errorf("%w: invalid period %s", ErrInvalidInput, input.EndingPeriod)
	}
	out := &ReconciliationOutput{
		Summary: ReconciliationSummary{CarriedOver: decimal.Zero, Expired: decimal.Zero},
	}
	remaining := Round2(input.CurrentBalance)
	for _, action := range input.Policy.Actions {
		var entries []AppendInput
		entries, remaining = re.applyAction(action, input, remaining, &out.Summary)
		out.Entries = append(out.Entries, entries...)
	}
	return out, nil
}

// applyAction returns the planned entries and what is left of the balance
// for the following actions.
func (re *ReconciliationEngine) applyAction(action ReconciliationAction, input ReconciliationInput, remaining decimal.Decimal, summary *ReconciliationSummary) ([]AppendInput, decimal.Decimal) {
	if !remaining.IsPositive() {
		return nil, remaining
	}
	switch action.Type {
	case ActionCarryover:
		return re.carryover(action, input, remaining, summary)
	case ActionExpire:
		return re.expire(input, remaining, summary), decimal.Zero
	case ActionCap:
		return re.cap(input, remaining, summary)
	default:
		return nil, remaining
	}
}

func (re *ReconciliationEngine) carryover(action ReconciliationAction, input ReconciliationInput, remaining decimal.Decimal, summary *ReconciliationSummary) ([]AppendInput, decimal.Decimal) {
	carry := remaining
	if action.MaxCarryover != nil && carry.GreaterThan(*action.MaxCarryover) {
		carry = *action.MaxCarryover
	}
	if !carry.IsPositive() {
		return nil, remaining
	}
	summary.CarriedOver = summary.CarriedOver.Add(carry)

	year := input.EndingPeriod.End.Year()
	next := input.EndingPeriod.NextPeriod()
	ref := Reference{Type: RefCarryover, ID: fmt.Sprintf("%d", year)}
	cat := input.Policy.Category
	return []AppendInput{
		{
			UserID:         input.UserID,
			Category:       cat,
			Date:           input.EndingPeriod.End,
			Type:           EntryAdjustment,
			Hours:          carry.Neg(),
			Reference:      ref,
			Description:    fmt.Sprintf("carryover to %d", next.Start.Year()),
			IdempotencyKey: fmt.Sprintf("carryover-out:%s:%s:%d", input.UserID, cat, year),
		},
		{
			UserID:         input.UserID,
			Category:       cat,
			Date:           next.Start,
			Type:           EntryAdjustment,
			Hours:          carry,
			Reference:      ref,
			Description:    fmt.Sprintf("carryover from %d", year),
			IdempotencyKey: fmt.Sprintf("carryover-in:%s:%s:%d", input.UserID, cat, year),
		},
	}, remaining.Sub(carry)
}

func (re *ReconciliationEngine) expire(input ReconciliationInput, remaining decimal.Decimal, summary *ReconciliationSummary) []AppendInput {
	summary.Expired = summary.Expired.Add(remaining)
	year := input.EndingPeriod.End.Year()
	return []AppendInput{{
		UserID:         input.UserID,
		Category:       input.Policy.Category,
		Date:           input.EndingPeriod.End,
		Type:           EntryExpiration,
		Hours:          remaining,
		Reference:      Reference{Type: RefExpiration, ID: fmt.Sprintf("%d", year)},
		Description:    "balance expired at period end",
		IdempotencyKey: fmt.Sprintf("expire:%s:%s:%d", input.UserID, input.Policy.Category, year),
	}}
}

func (re *ReconciliationEngine) cap(input ReconciliationInput, remaining decimal.Decimal, summary *ReconciliationSummary) ([]AppendInput, decimal.Decimal) {
	if input.Policy.MaxBalance == nil || !remaining.GreaterThan(*input.Policy.MaxBalance) {
		return nil, remaining
	}
	excess := remaining.Sub(*input.Policy.MaxBalance)
	summary.Expired = summary.Expired.Add(excess)
	year := input.EndingPeriod.End.Year()
	return []AppendInput{{
		UserID:         input.UserID,
		Category:       input.Policy.Category,
		Date:           input.EndingPeriod.End,
		Type:           EntryExpiration,
		Hours:          excess,
		Reference:      Reference{Type: RefExpiration, ID: fmt.Sprintf("%d", year)},
		Description:    "balance capped at maximum",
		IdempotencyKey: fmt.Sprintf("cap:%s:%s:%d", input.UserID, input.Policy.Category, year),
	}}, *input.Policy.MaxBalance
}
