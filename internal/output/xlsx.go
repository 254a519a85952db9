package output

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/gyeh/rx-netting/internal/claims"
)

// SheetName is the worksheet the netted claim detail is written to.
const SheetName = "Claims"

// WriteXLSX writes the ordered table to a single-sheet workbook. Quantities
// are written as numbers; every other cell keeps its source text.
func WriteXLSX(path string, b *claims.Block) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("creating stream writer: %w", err)
	}

	header := make([]any, len(b.Columns))
	for i, col := range b.Columns {
		header[i] = col
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	row := make([]any, len(b.Columns))
	for i := range b.Records {
		r := &b.Records[i]
		for j, col := range b.Columns {
			row[j] = cellValue(r, col)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flushing sheet: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func cellValue(r *claims.Record, col string) any {
	if col == claims.ColQuantity {
		if r.RawQuantity == "" {
			return nil
		}
		return r.Quantity.InexactFloat64()
	}
	return r.Value(col)
}
