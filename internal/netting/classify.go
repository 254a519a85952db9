package netting

import "github.com/gyeh/rx-netting/internal/claims"

// Classification splits a block's row indices by the sign of QUANTITY.
// Zero-quantity rows appear in neither slice.
type Classification struct {
	Reversals []int
	Claims    []int
}

// Classify partitions records into reversals (quantity < 0) and claims
// (quantity > 0). Both slices are in ascending row order.
func Classify(records []claims.Record) Classification {
	var c Classification
	for i := range records {
		switch records[i].Kind() {
		case claims.KindReversal:
			c.Reversals = append(c.Reversals, i)
		case claims.KindClaim:
			c.Claims = append(c.Claims, i)
		}
	}
	return c
}
