package claims

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingColumn is wrapped by SchemaError; match it with errors.Is.
	ErrMissingColumn = errors.New("missing required column")

	// ErrEmptyTable is returned when a source holds a header but no rows,
	// or nothing at all.
	ErrEmptyTable = errors.New("claim table is empty")

	// ErrInvalidQuantity is returned when a QUANTITY cell is not numeric.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrIncomparableDates is returned when two fill dates cannot be
	// subtracted, e.g. one carries a UTC offset and the other does not.
	ErrIncomparableDates = errors.New("fill dates are not comparable")
)

// SchemaError reports required columns absent from a block. The whole block
// is rejected; no rows are processed.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingColumn, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error {
	return ErrMissingColumn
}

// CheckSchema returns a *SchemaError naming every required column b lacks.
func CheckSchema(b *Block) error {
	var missing []string
	for _, col := range RequiredColumns {
		if !b.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// RowError ties a parse failure to a 1-based data row.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d, column %s: %v", e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}
