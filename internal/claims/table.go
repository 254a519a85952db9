package claims

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FromTable builds a block from a header row and string cells, the shape
// every reader produces. Missing required columns are not an error here:
// the engine owns that check. A RowID column in the input is dropped.
//
// Unparsable fill dates become unknown dates. A non-numeric quantity is an
// error, since nothing sensible can be done with the row.
func FromTable(header []string, rows [][]string) (*Block, error) {
	return fromTable(header, rows, nil)
}

// FromTableWithDates is FromTable with a second, row-aligned set of fill
// date cells. A date that parses there wins over the displayed cell, which
// is still kept as the row's date text. Workbook readers pass the raw cell
// values so formatted date cells arrive as Excel serials.
func FromTableWithDates(header []string, rows [][]string, dates []string) (*Block, error) {
	return fromTable(header, rows, dates)
}

func fromTable(header []string, rows [][]string, dates []string) (*Block, error) {
	if len(header) == 0 {
		return nil, ErrEmptyTable
	}

	cols := make([]string, len(header))
	keep := make([]bool, len(header))
	var columns []string
	for i, h := range header {
		cols[i] = CanonicalColumn(h)
		if cols[i] == ColRowID {
			continue
		}
		keep[i] = true
		columns = append(columns, cols[i])
	}

	b := &Block{Columns: columns, Records: make([]Record, 0, len(rows))}
	for n, row := range rows {
		if isBlankRow(row) {
			continue
		}
		rec := Record{RowID: len(b.Records)}
		for i, col := range cols {
			if !keep[i] {
				continue
			}
			var cell string
			if i < len(row) {
				cell = row[i]
			}
			if err := rec.set(col, cell); err != nil {
				return nil, &RowError{Row: n + 1, Column: col, Err: err}
			}
		}
		if n < len(dates) {
			if d, ok := ParseDate(dates[n]); ok {
				rec.DateFilled = d
			}
		}
		b.Records = append(b.Records, rec)
	}
	return b, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func (r *Record) set(col, cell string) error {
	switch col {
	case ColQuantity:
		q, err := ParseQuantity(cell)
		if err != nil {
			return err
		}
		r.Quantity = q
		r.RawQuantity = cell
	case ColDrugCode:
		r.DrugCode = strings.TrimSpace(cell)
	case ColSubjectID:
		r.SubjectID = strings.TrimSpace(cell)
	case ColDateFilled:
		r.DateFilled, _ = ParseDate(cell)
		r.RawDate = cell
	case ColStatus:
		r.Status = cell
	case ColSourceRecordID:
		r.SourceRecordID = cell
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[col] = cell
	}
	return nil
}

// ParseQuantity parses a QUANTITY cell. Blank cells are zero, which
// classifies the row as neither claim nor reversal. Thousands separators
// and accounting parentheses are accepted.
func ParseQuantity(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, ",", "")
	q, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
	}
	if neg {
		q = q.Neg()
	}
	return q, nil
}

// Table renders b back into a header and string cells in column order.
func (b *Block) Table() (header []string, rows [][]string) {
	header = append([]string(nil), b.Columns...)
	rows = make([][]string, len(b.Records))
	for i := range b.Records {
		row := make([]string, len(header))
		for j, col := range header {
			row[j] = b.Records[i].Value(col)
		}
		rows[i] = row
	}
	return header, rows
}
