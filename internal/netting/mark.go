package netting

import "github.com/gyeh/rx-netting/internal/claims"

// marker writes the offset status, at most once per row per pass.
type marker struct {
	records []claims.Record
	marked  []bool
}

func newMarker(records []claims.Record) *marker {
	return &marker{records: records, marked: make([]bool, len(records))}
}

// mark sets row i to "OR" and reports whether this call wrote it.
func (m *marker) mark(i int) bool {
	if m.marked[i] {
		return false
	}
	m.marked[i] = true
	m.records[i].Status = claims.StatusOffset
	return true
}
