package netting

import (
	"log/slog"

	"github.com/gyeh/rx-netting/internal/claims"
)

// candidate is a claim that satisfies a reversal's match constraints.
type candidate struct {
	index int
	days  int
	known bool // days is meaningful
}

// matcher compares one reversal at a time against a fixed claim pool.
// The pool is never depleted: a claim may be the best match for several
// reversals.
type matcher struct {
	records []claims.Record
	pool    []int
	window  int
	logger  *slog.Logger
}

// candidates returns the pool members with the reversal's drug code,
// subject and absolute quantity whose fill date lies within the window.
//
// Day distances are computed against the whole pool first. If any pair is
// not comparable the date window is dropped for this entire call and
// matching falls back to identity and quantity alone; degraded reports that.
// Unknown dates are not a failure: those rows just never fall in the window.
func (m *matcher) candidates(rev int) (out []candidate, degraded bool) {
	r := &m.records[rev]

	dists := make([]candidate, len(m.pool))
	var cmpErr error
	for k, ci := range m.pool {
		days, ok, err := claims.DaysBetween(m.records[ci].DateFilled, r.DateFilled)
		if err != nil {
			if cmpErr == nil {
				cmpErr = err
			}
			dists[k] = candidate{index: ci}
			continue
		}
		dists[k] = candidate{index: ci, days: days, known: ok}
	}

	if cmpErr != nil {
		degraded = true
		m.logger.Warn("date filtering failed, matching without date window",
			slog.Int("reversal_row", r.RowID),
			slog.String("ndc", r.DrugCode),
			slog.String("error", cmpErr.Error()),
		)
	}

	absQty := r.Quantity.Abs()
	for k, ci := range m.pool {
		c := &m.records[ci]
		if c.DrugCode != r.DrugCode || c.SubjectID != r.SubjectID {
			continue
		}
		if !c.Quantity.Abs().Equal(absQty) {
			continue
		}
		if !degraded && (!dists[k].known || dists[k].days > m.window) {
			continue
		}
		out = append(out, dists[k])
	}
	return out, degraded
}
