/*
Package generic provides the core hours ledger engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for keeping an
  hours bank: an append-only ledger of accruals and debits per user,
  category and year, a running balance on every entry, and a rebuildable
  balance snapshot. The attendance package builds schedules, breaks and
  daily records on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Hours: decimal quantities, never float64
  - Scope: (user, category, year), the unit of serialization and balance
  - LedgerEntry: an immutable ledger row with its running balance
  - BalanceSnapshot: the cached balance for one scope

DESIGN PRINCIPLES:
  1. Immutability: entries are never modified, only compensated
  2. Precision: decimal.Decimal for every hour value
  3. Bounded: running balances live in [-9999.99, 9999.99]
  4. Auditability: every entry has a reference and an optional idempotency key

USAGE:
  entry, err := ledger.Append(ctx, generic.AppendInput{
      UserID:   "usr-1",
      Category: "overtime_bank",
      Date:     generic.NewTimePoint(2025, time.March, 3),
      Type:     generic.EntryAccrual,
      Hours:    decimal.RequireFromString("1.5"),
  })

SEE ALSO:
  - ledger.go: append path and running balance
  - snapshot.go: snapshot verification and rebuild
  - errors.go: error taxonomy
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HOURS - Decimal helpers
// =============================================================================

var (
	// MaxBalance and MinBalance bound every running balance and snapshot.
	// The storage column is numeric(6,2).
	MaxBalance = decimal.RequireFromString("9999.99")
	MinBalance = MaxBalance.Neg()

	minutesPerHour = decimal.NewFromInt(60)
)

// HoursFromMinutes converts whole minutes to unrounded hours.
func HoursFromMinutes(minutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).Div(minutesPerHour)
}

// Round1 rounds to one decimal place (6-minute resolution).
func Round1(d decimal.Decimal) decimal.Decimal { return d.Round(1) }

// Round2 rounds to the storage precision.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// InRange reports whether d fits the representable balance range.
func InRange(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(MinBalance) && d.LessThanOrEqual(MaxBalance)
}

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EntryID string

// Scope is one balance: a user, a category and a calendar year.
// Ledger appends are serialized per scope.
type Scope struct {
	UserID   UserID
	Category Category
	Year     int
}

func ScopeFor(userID UserID, category Category, date TimePoint) Scope {
	return Scope{UserID: userID, Category: category, Year: date.Year()}
}

// Key is the stable lock and cache key for the scope.
func (s Scope) Key() string {
	return fmt.Sprintf("hours:%s:%s:%d", s.UserID, s.Category, s.Year)
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s/%d", s.UserID, s.Category, s.Year)
}

// =============================================================================
// LEDGER ENTRY - Immutable row with running balance
// =============================================================================

type EntryType string

const (
	EntryAccrual    EntryType = "accrual"    // +hours
	EntryDebit      EntryType = "debit"      // -hours
	EntryExpiration EntryType = "expiration" // -hours, year-end excess
	EntryAdjustment EntryType = "adjustment" // signed hours, corrections and carryover
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryAccrual, EntryDebit, EntryExpiration, EntryAdjustment:
		return true
	}
	return false
}

// Reference ties an entry to the event that caused it.
type Reference struct {
	Type string
	ID   string
}

type LedgerEntry struct {
	ID              EntryID
	UserID          UserID
	Category        Category
	TransactionDate TimePoint
	Type            EntryType
	Hours           decimal.Decimal // magnitude for accrual/debit/expiration, signed for adjustment
	RunningBalance  decimal.Decimal
	Reference       Reference
	Description     string
	IdempotencyKey  string

	// Seq orders entries within a scope. Starts at 1.
	Seq       int64
	CreatedAt time.Time
}

func (e LedgerEntry) Scope() Scope {
	return ScopeFor(e.UserID, e.Category, e.TransactionDate)
}

// SignedHours returns the entry's effect on the running balance.
func (e LedgerEntry) SignedHours() decimal.Decimal {
	return SignedHours(e.Type, e.Hours)
}

func SignedHours(t EntryType, hours decimal.Decimal) decimal.Decimal {
	switch t {
	case EntryAccrual:
		return hours.Abs()
	case EntryDebit, EntryExpiration:
		return hours.Abs().Neg()
	default:
		return hours
	}
}

// =============================================================================
// BALANCE SNAPSHOT - Cached balance per scope
// =============================================================================

// BalanceSnapshot is a cache of the ledger for one scope. It is never the
// source of truth and can always be rebuilt from entries.
type BalanceSnapshot struct {
	Scope               Scope
	CurrentBalance      decimal.Decimal
	TotalAccrued        decimal.Decimal
	LastTransactionDate TimePoint
	LastSeq             int64
	UpdatedAt           time.Time
}

// Apply folds one freshly appended entry into the snapshot.
func (s BalanceSnapshot) Apply(e LedgerEntry) BalanceSnapshot {
	s.Scope = e.Scope()
	s.CurrentBalance = e.RunningBalance
	if e.Type == EntryAccrual {
		s.TotalAccrued = s.TotalAccrued.Add(e.Hours.Abs())
	}
	if s.LastTransactionDate.IsZero() || e.TransactionDate.After(s.LastTransactionDate) {
		s.LastTransactionDate = e.TransactionDate
	}
	s.LastSeq = e.Seq
	return s
}
