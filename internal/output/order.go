package output

import (
	"strings"

	"github.com/gyeh/rx-netting/internal/claims"
)

// Order arranges a netted table the way the reports expect it: every row not
// marked "OR" first, then the "OR" rows, each group in its existing order.
// Rows whose output cells are all identical to an earlier row are dropped.
func Order(b *claims.Block) *claims.Block {
	records := make([]claims.Record, 0, len(b.Records))
	seen := make(map[string]struct{}, len(b.Records))

	add := func(r claims.Record) {
		key := rowKey(b.Columns, &r)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		records = append(records, r)
	}

	for _, r := range b.Records {
		if !r.IsOffset() {
			add(r)
		}
	}
	for _, r := range b.Records {
		if r.IsOffset() {
			add(r)
		}
	}
	return b.WithRecords(records)
}

func rowKey(columns []string, r *claims.Record) string {
	var sb strings.Builder
	for i, col := range columns {
		if i > 0 {
			sb.WriteByte(0x1f)
		}
		sb.WriteString(r.Value(col))
	}
	return sb.String()
}

// SheetRows maps the RowIDs in ids to 1-based worksheet row numbers in the
// ordered table, counting the header as row 1. RowIDs that were dropped as
// duplicates are skipped. The result follows worksheet order.
func SheetRows(ordered *claims.Block, ids []int) []int {
	want := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var rows []int
	for i, r := range ordered.Records {
		if _, ok := want[r.RowID]; ok {
			rows = append(rows, i+2)
		}
	}
	return rows
}
