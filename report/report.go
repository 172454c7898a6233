/*
report.go - Spreadsheet export of the hours bank

PURPOSE:
  Writes a user's ledger entries and daily attendance records for a year
  into an .xlsx workbook, one sheet each. Used by the API export endpoint
  and by `hoursctl export`.

SHEETS:
  Ledger        one row per entry, ordered as stored (scope, seq)
  Daily records one row per record in the year, ordered by date

Hours are written as numbers so the sheet can be summed; dates as
YYYY-MM-DD text.

SEE ALSO:
  - attendance/service.go: Entries, ListRecords
*/
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
)

const (
	SheetLedger  = "Ledger"
	SheetRecords = "Daily records"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	ledgerHeader = []any{
		"Date", "Category", "Type", "Hours", "Running balance",
		"Reference type", "Reference ID", "Description", "Seq",
	}
	recordHeader = []any{
		"Date", "Expected", "Actual", "Balance", "Credit",
		"Origin", "Law 104", "Permission", "Finalized", "Notes",
	}
)

// Source is what an export reads. attendance.Service satisfies it.
type Source interface {
	Entries(ctx context.Context, userID generic.UserID, filter generic.EntryFilter) ([]generic.LedgerEntry, error)
	ListRecords(ctx context.Context, userID generic.UserID, period generic.Period) ([]attendance.DailyAttendanceRecord, error)
}

// Workbook wraps an excelize file with the two export sheets.
type Workbook struct {
	f      *excelize.File
	header int
}

func NewWorkbook() (*Workbook, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetLedger); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetRecords); err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	return &Workbook{f: f, header: header}, nil
}

// ExportYear builds the workbook for one user and calendar year.
func ExportYear(ctx context.Context, src Source, userID generic.UserID, year int) (*Workbook, error) {
	period := generic.YearPeriod(year)
	entries, err := src.Entries(ctx, userID, generic.EntryFilter{From: &period.Start, To: &period.End})
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	records, err := src.ListRecords(ctx, userID, period)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	wb, err := NewWorkbook()
	if err != nil {
		return nil, err
	}
	if err := wb.WriteLedger(entries); err != nil {
		wb.Close()
		return nil, err
	}
	if err := wb.WriteRecords(records); err != nil {
		wb.Close()
		return nil, err
	}
	return wb, nil
}

func (w *Workbook) WriteLedger(entries []generic.LedgerEntry) error {
	if err := w.writeHeader(SheetLedger, ledgerHeader); err != nil {
		return err
	}
	for i, e := range entries {
		row := []any{
			e.TransactionDate.String(),
			string(e.Category),
			string(e.Type),
			number(e.Hours),
			number(e.RunningBalance),
			e.Reference.Type,
			e.Reference.ID,
			e.Description,
			e.Seq,
		}
		if err := w.writeRow(SheetLedger, i+2, row); err != nil {
			return err
		}
	}
	return w.f.SetColWidth(SheetLedger, "A", "H", 16)
}

func (w *Workbook) WriteRecords(records []attendance.DailyAttendanceRecord) error {
	if err := w.writeHeader(SheetRecords, recordHeader); err != nil {
		return err
	}
	for i, r := range records {
		row := []any{
			r.Date.String(),
			number(r.ExpectedHours),
			number(r.ActualHours),
			number(r.BalanceHours),
			number(r.CreditHours),
			string(r.Origin),
			r.Law104,
			r.PermissionApplied,
			r.Finalized,
			r.Notes,
		}
		if err := w.writeRow(SheetRecords, i+2, row); err != nil {
			return err
		}
	}
	return w.f.SetColWidth(SheetRecords, "A", "J", 14)
}

func (w *Workbook) writeHeader(sheet string, header []any) error {
	if err := w.writeRow(sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	return w.f.SetCellStyle(sheet, "A1", last, w.header)
}

func (w *Workbook) writeRow(sheet string, rowNo int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNo)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, rowNo, err)
	}
	return nil
}

func (w *Workbook) Write(out io.Writer) error { return w.f.Write(out) }

func (w *Workbook) SaveAs(path string) error { return w.f.SaveAs(path) }

func (w *Workbook) Close() error { return w.f.Close() }

// File exposes the underlying workbook for callers that add sheets.
func (w *Workbook) File() *excelize.File { return w.f }

func number(d decimal.Decimal) float64 { return d.InexactFloat64() }
