package netting

// selectBest picks the candidate closest in fill date. Candidates arrive in
// row order, so the first of several equally close ones wins. Candidates
// without a usable distance (degraded calls, unknown dates) rank after every
// candidate that has one. cands must be non-empty.
func selectBest(cands []candidate) candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		switch {
		case !c.known:
		case !best.known:
			best = c
		case c.days < best.days:
			best = c
		}
	}
	return best
}
