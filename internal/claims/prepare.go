package claims

import (
	"sort"
	"time"
)

// Placeholders used only as sort keys for rows lacking a value.
var (
	unknownDateSortKey = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
	unknownIDSortKey   = "UNKNOWN_ID"
)

// Prepare readies a freshly loaded table for netting and returns a new block:
//
//   - adds an empty Logic column when the source had none,
//   - stable-sorts by fill date, then SOURCERECORDID when present,
//   - renumbers RowID from 0 in the sorted order.
//
// Rows with no fill date sort as 1900-01-01 and rows with no source record id
// as "UNKNOWN_ID"; the placeholders are never written back.
func Prepare(b *Block) *Block {
	out := b.Clone()
	if !out.HasColumn(ColStatus) {
		out.Columns = append(out.Columns, ColStatus)
	}

	byDate := out.HasColumn(ColDateFilled)
	byID := out.HasColumn(ColSourceRecordID)
	if byDate || byID {
		sort.SliceStable(out.Records, func(i, j int) bool {
			a, c := &out.Records[i], &out.Records[j]
			if byDate {
				ta, tc := dateSortKey(a.DateFilled), dateSortKey(c.DateFilled)
				if !ta.Equal(tc) {
					return ta.Before(tc)
				}
			}
			if byID {
				return idSortKey(a.SourceRecordID) < idSortKey(c.SourceRecordID)
			}
			return false
		})
	}

	for i := range out.Records {
		out.Records[i].RowID = i
	}
	return out
}

func dateSortKey(d Date) time.Time {
	if !d.Valid() {
		return unknownDateSortKey
	}
	return d.Time()
}

func idSortKey(id string) string {
	if id == "" {
		return unknownIDSortKey
	}
	return id
}
