// Package netting flags pharmacy claim reversals and the claims they cancel.
//
// For each reversal (negative QUANTITY) in a block, the engine looks for the
// original dispensing claim: same NDC, same MemberID, same absolute quantity,
// filled within WindowDays. The closest fill date wins and the earlier row
// breaks ties. The reversal and its match get Logic = "OR"; a reversal with no
// match is marked on its own. Downstream reporting drops "OR" rows from
// utilization totals.
//
// Matching only ever sees one block. Callers that split a table must keep a
// reversal and its claim in the same block (see worker.PartitionGrouped), or
// accept that the reversal is marked unmatched and the claim is left alone.
package netting

import (
	"log/slog"

	"github.com/gyeh/rx-netting/internal/claims"
)

// DefaultWindowDays is the inclusive fill-date window for a match.
const DefaultWindowDays = 30

// Engine nets one block at a time. The zero value is ready to use and holds
// no state between calls, so one Engine may serve concurrent blocks.
type Engine struct {
	// WindowDays overrides DefaultWindowDays when positive.
	WindowDays int

	// Logger receives date-comparison degradation warnings. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// OnReversal, if set, is called after each reversal is resolved.
	OnReversal func(done, total int)
}

// Pair is a reversal and the claim it was netted against, as row indices
// into the block.
type Pair struct {
	Reversal int
	Claim    int
	Days     int
	// DateKnown is false when the match was made without a usable distance.
	DateKnown bool
}

// Stats summarises one netting pass.
type Stats struct {
	Records       int `json:"records"`
	Claims        int `json:"claims"`
	Reversals     int `json:"reversals"`
	Matched       int `json:"matched_reversals"`
	Unmatched     int `json:"unmatched_reversals"`
	ClaimsNetted  int `json:"claims_netted"`
	DegradedCalls int `json:"degraded_date_comparisons"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Records += o.Records
	s.Claims += o.Claims
	s.Reversals += o.Reversals
	s.Matched += o.Matched
	s.Unmatched += o.Unmatched
	s.ClaimsNetted += o.ClaimsNetted
	s.DegradedCalls += o.DegradedCalls
}

// Result is the outcome of netting one block.
type Result struct {
	Block     *claims.Block
	Pairs     []Pair
	Unmatched []int // reversal row indices with no match
	Stats     Stats
}

// Process nets b with a default Engine and returns the netted copy.
func Process(b *claims.Block) (*claims.Block, error) {
	res, err := (&Engine{}).Run(b)
	if err != nil {
		return nil, err
	}
	return res.Block, nil
}

// Run nets b. The input is never modified; the returned block has the same
// columns and rows and differs only in Logic values. A block missing any
// required column fails with *claims.SchemaError before any row is looked at.
func (e *Engine) Run(b *claims.Block) (*Result, error) {
	if err := claims.CheckSchema(b); err != nil {
		return nil, err
	}

	out := b.Clone()
	cls := Classify(out.Records)
	res := &Result{
		Block: out,
		Stats: Stats{
			Records:   out.Len(),
			Claims:    len(cls.Claims),
			Reversals: len(cls.Reversals),
		},
	}
	if len(cls.Reversals) == 0 {
		return res, nil
	}

	m := &matcher{
		records: out.Records,
		pool:    cls.Claims,
		window:  e.window(),
		logger:  e.logger(),
	}
	mk := newMarker(out.Records)

	for n, rev := range cls.Reversals {
		var cands []candidate
		if len(m.pool) > 0 {
			var degraded bool
			cands, degraded = m.candidates(rev)
			if degraded {
				res.Stats.DegradedCalls++
			}
		}

		if len(cands) == 0 {
			mk.mark(rev)
			res.Unmatched = append(res.Unmatched, rev)
			res.Stats.Unmatched++
		} else {
			best := selectBest(cands)
			mk.mark(rev)
			if mk.mark(best.index) {
				res.Stats.ClaimsNetted++
			}
			res.Pairs = append(res.Pairs, Pair{
				Reversal:  rev,
				Claim:     best.index,
				Days:      best.days,
				DateKnown: best.known,
			})
			res.Stats.Matched++
		}

		if e.OnReversal != nil {
			e.OnReversal(n+1, len(cls.Reversals))
		}
	}

	return res, nil
}

func (e *Engine) window() int {
	if e.WindowDays > 0 {
		return e.WindowDays
	}
	return DefaultWindowDays
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
