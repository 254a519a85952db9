package output

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/rx-netting/internal/claims"
)

// ClaimRow is the parquet layout of a netted claim. Columns outside the
// claim schema travel as one JSON object so the file schema stays fixed.
type ClaimRow struct {
	SourceRecordID string  `parquet:"source_record_id"`
	MemberID       string  `parquet:"member_id"`
	NDC            string  `parquet:"ndc"`
	DateFilled     string  `parquet:"date_filled"`
	Quantity       string  `parquet:"quantity"`
	QuantityValue  float64 `parquet:"quantity_value"`
	Logic          string  `parquet:"logic"`
	Extra          string  `parquet:"extra"`
}

const parquetFlushInterval = 100_000

func toClaimRow(r *claims.Record) (ClaimRow, error) {
	row := ClaimRow{
		SourceRecordID: r.SourceRecordID,
		MemberID:       r.SubjectID,
		NDC:            r.DrugCode,
		DateFilled:     r.DateText(),
		Quantity:       r.QuantityText(),
		QuantityValue:  r.Quantity.InexactFloat64(),
		Logic:          r.Status,
	}
	if len(r.Extra) > 0 {
		b, err := json.Marshal(r.Extra)
		if err != nil {
			return row, err
		}
		row.Extra = string(b)
	}
	return row, nil
}

// WriteParquet writes the ordered table as Snappy-compressed parquet.
func WriteParquet(path string, b *claims.Block) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewGenericWriter[ClaimRow](file,
		parquet.Compression(&parquet.Snappy),
	)

	for i := range b.Records {
		row, err := toClaimRow(&b.Records[i])
		if err != nil {
			return fmt.Errorf("encoding row %d: %w", i, err)
		}
		if _, err := writer.Write([]ClaimRow{row}); err != nil {
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
		// Flush row group periodically to bound memory usage
		if (i+1)%parquetFlushInterval == 0 {
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("failed to flush parquet row group: %w", err)
			}
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return file.Close()
}
