package report_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
	"github.com/warp/hoursbank/report"
)

type fakeSource struct {
	entries []generic.LedgerEntry
	records []attendance.DailyAttendanceRecord
	err     error

	gotFilter generic.EntryFilter
	gotPeriod generic.Period
}

func (f *fakeSource) Entries(_ context.Context, _ generic.UserID, filter generic.EntryFilter) ([]generic.LedgerEntry, error) {
	f.gotFilter = filter
	return f.entries, f.err
}

func (f *fakeSource) ListRecords(_ context.Context, _ generic.UserID, period generic.Period) ([]attendance.DailyAttendanceRecord, error) {
	f.gotPeriod = period
	return f.records, nil
}

func TestExportYear_WritesBothSheets(t *testing.T) {
	// GIVEN one ledger entry and one daily record
	src := &fakeSource{
		entries: []generic.LedgerEntry{{
			UserID: "alice", Category: attendance.CategoryOvertimeBank,
			TransactionDate: generic.NewTimePoint(2025, time.March, 3),
			Type:            generic.EntryAccrual, Hours: decimal.NewFromInt(2), RunningBalance: decimal.NewFromInt(2),
			Reference:   generic.Reference{Type: attendance.RefManualCredit, ID: "mc-1"},
			Description: "manual credit", Seq: 1,
		}},
		records: []attendance.DailyAttendanceRecord{{
			UserID: "alice", Date: generic.NewTimePoint(2025, time.March, 3),
			ExpectedHours: decimal.NewFromInt(7), ActualHours: decimal.NewFromInt(6),
			BalanceHours: decimal.NewFromInt(-1), Origin: attendance.OriginFinalizer, Finalized: true,
		}},
	}

	// WHEN exporting 2025
	wb, err := report.ExportYear(context.Background(), src, "alice", 2025)
	require.NoError(t, err)
	defer wb.Close()

	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))

	// THEN the year bounds were used and the rows read back
	assert.Equal(t, generic.YearPeriod(2025), src.gotPeriod)
	require.NotNil(t, src.gotFilter.From)
	assert.Equal(t, "2025-01-01", src.gotFilter.From.String())

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	ledger, err := f.GetRows(report.SheetLedger)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, "Date", ledger[0][0])
	assert.Equal(t, []string{"2025-03-03", "overtime_bank", "accrual", "2", "2", "manual_credit", "mc-1", "manual credit", "1"}, ledger[1])

	records, err := f.GetRows(report.SheetRecords)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2025-03-03", records[1][0])
	assert.Equal(t, "-1", records[1][3])
	assert.Equal(t, "finalizer", records[1][5])
}

func TestExportYear_EmptyYearHasHeaders(t *testing.T) {
	wb, err := report.ExportYear(context.Background(), &fakeSource{}, "bob", 2024)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.File().GetRows(report.SheetRecords)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Notes", rows[0][len(rows[0])-1])
}

func TestExportYear_SourceError(t *testing.T) {
	_, err := report.ExportYear(context.Background(), &fakeSource{err: errors.New("db down")}, "bob", 2024)
	assert.ErrorContains(t, err, "read entries")
}
