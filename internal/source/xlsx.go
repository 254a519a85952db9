package source

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/gyeh/rx-netting/internal/claims"
)

// ReadXLSX reads a claim table from a workbook sheet. Row 1 is the header.
// Cells come back as displayed in Excel. Fill dates are parsed from the raw
// cell value instead, so any date number format yields the same date.
func ReadXLSX(path, sheet string) (*claims.Block, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, claims.ErrEmptyTable
	}

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading raw cells of %q: %w", sheet, err)
	}
	return claims.FromTableWithDates(rows[0], rows[1:], dateColumn(rows[0], raw))
}

// dateColumn returns the raw fill date of each data row, or nil when the
// header has no fill date column.
func dateColumn(header []string, raw [][]string) []string {
	col := -1
	for i, h := range header {
		if claims.CanonicalColumn(h) == claims.ColDateFilled {
			col = i
			break
		}
	}
	if col < 0 || len(raw) < 2 {
		return nil
	}
	dates := make([]string, len(raw)-1)
	for i, row := range raw[1:] {
		if col < len(row) {
			dates[i] = row[col]
		}
	}
	return dates
}
