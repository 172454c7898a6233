package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/generic"
)

func processCarryover(t *testing.T, balance, maxCarry string) *generic.ReconciliationOutput {
	t.Helper()
	engine := &generic.ReconciliationEngine{}
	out, err := engine.Process(generic.ReconciliationInput{
		UserID:         "emp-1",
		Policy:         generic.CarryoverPolicy("vacation", hours(maxCarry)),
		CurrentBalance: hours(balance),
		EndingPeriod:   generic.YearPeriod(2025),
	})
	require.NoError(t, err)
	return out
}

func TestReconciliation_CarryoverCappedAndExcessExpired(t *testing.T) {
	// GIVEN: 130h left at year end, max carryover 104h
	// WHEN: Processing the carry-then-expire policy
	// THEN: 104h carried, 26h expired

	out := processCarryover(t, "130", "104")

	assertHours(t, "104", out.Summary.CarriedOver)
	assertHours(t, "26", out.Summary.Expired)
	require.Len(t, out.Entries, 3)

	carryOut, carryIn, expire := out.Entries[0], out.Entries[1], out.Entries[2]
	assert.Equal(t, generic.EntryAdjustment, carryOut.Type)
	assertHours(t, "-104", carryOut.Hours)
	assert.True(t, generic.EndOfYear(2025).Equal(carryOut.Date))

	assert.Equal(t, generic.EntryAdjustment, carryIn.Type)
	assertHours(t, "104", carryIn.Hours)
	assert.True(t, generic.StartOfYear(2026).Equal(carryIn.Date))

	assert.Equal(t, generic.EntryExpiration, expire.Type)
	assertHours(t, "26", expire.Hours)
	assert.True(t, generic.EndOfYear(2025).Equal(expire.Date))
}

func TestReconciliation_UnderCap_NothingExpires(t *testing.T) {
	out := processCarryover(t, "40", "104")
	assertHours(t, "40", out.Summary.CarriedOver)
	assertHours(t, "0", out.Summary.Expired)
	assert.Len(t, out.Entries, 2)
}

func TestReconciliation_NonPositiveBalance_NoEntries(t *testing.T) {
	for _, balance := range []string{"0", "-12"} {
		out := processCarryover(t, balance, "104")
		assert.Empty(t, out.Entries, "balance %s", balance)
	}
}

func TestReconciliation_Cap(t *testing.T) {
	max := hours("50")
	out, err := (&generic.ReconciliationEngine{}).Process(generic.ReconciliationInput{
		UserID: "emp-1",
		Policy: generic.Policy{
			Category:   "overtime_bank",
			MaxBalance: &max,
			Actions:    []generic.ReconciliationAction{{Type: generic.ActionCap}},
		},
		CurrentBalance: hours("62.5"),
		EndingPeriod:   generic.YearPeriod(2025),
	})
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	assertHours(t, "12.5", out.Entries[0].Hours)
}

func TestReconciliation_AppliedToLedger_ConservesHours(t *testing.T) {
	// GIVEN: 130h vacation in 2025 and the planned entries appended
	// WHEN: Reading both years
	// THEN: 2025 closes at 0, 2026 opens at 104, and 104 + 26 == 130

	ledger, _ := newTestLedger()
	ctx := context.Background()

	in := accrual(generic.NewTimePoint(2025, time.December, 1), "130")
	in.Category = "vacation"
	_, err := ledger.Append(ctx, in)
	require.NoError(t, err)

	out := processCarryover(t, "130", "104")
	for _, e := range out.Entries {
		_, err := ledger.Append(ctx, e)
		require.NoError(t, err)
	}

	closing, err := ledger.Balance(ctx, generic.Scope{UserID: "emp-1", Category: "vacation", Year: 2025})
	require.NoError(t, err)
	assertHours(t, "0", closing.Balance)

	opening, err := ledger.Balance(ctx, generic.Scope{UserID: "emp-1", Category: "vacation", Year: 2026})
	require.NoError(t, err)
	assertHours(t, "104", opening.Balance)

	assertHours(t, "130", out.Summary.CarriedOver.Add(out.Summary.Expired))

	// re-running is a no-op thanks to the idempotency keys
	for _, e := range out.Entries {
		_, err := ledger.Append(ctx, e)
		assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	}
}
