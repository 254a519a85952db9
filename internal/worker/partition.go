package worker

import (
	"fmt"
	"runtime"

	"github.com/cespare/xxhash/v2"

	"github.com/gyeh/rx-netting/internal/claims"
)

// Strategy selects how a prepared table is split into blocks.
type Strategy string

const (
	// PartitionContiguous cuts the table into n consecutive slices whose
	// sizes differ by at most one. A reversal whose original claim lands in
	// another slice is marked unmatched and the claim is left alone.
	PartitionContiguous Strategy = "contiguous"

	// PartitionGrouped hashes (MemberID, NDC) onto n shards, keeping row
	// order within each shard, so every reversal shares a block with every
	// claim it could match.
	PartitionGrouped Strategy = "grouped"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case PartitionContiguous, PartitionGrouped:
		return Strategy(s), nil
	case "":
		return PartitionContiguous, nil
	}
	return "", fmt.Errorf("unknown partition strategy %q (want %s or %s)", s, PartitionContiguous, PartitionGrouped)
}

// DefaultWorkers is min(4, max(1, NumCPU/2)).
func DefaultWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

// Partition splits b into at most n blocks. Every block shares b's columns.
// Empty blocks are dropped, so fewer than n may come back. Records are
// copied by value; the engine clones again before writing.
func Partition(b *claims.Block, n int, strategy Strategy) []*claims.Block {
	if n < 1 {
		n = 1
	}
	if b.Len() == 0 {
		return nil
	}

	var shards [][]claims.Record
	switch strategy {
	case PartitionGrouped:
		shards = groupedShards(b.Records, n)
	default:
		shards = contiguousShards(b.Records, n)
	}

	blocks := make([]*claims.Block, 0, len(shards))
	for _, s := range shards {
		if len(s) == 0 {
			continue
		}
		blocks = append(blocks, b.WithRecords(s))
	}
	return blocks
}

// contiguousShards cuts n consecutive slices; the first len%n get one
// extra row.
func contiguousShards(records []claims.Record, n int) [][]claims.Record {
	size, extra := len(records)/n, len(records)%n
	shards := make([][]claims.Record, n)
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		shards[i] = append([]claims.Record(nil), records[start:end]...)
		start = end
	}
	return shards
}

func groupedShards(records []claims.Record, n int) [][]claims.Record {
	shards := make([][]claims.Record, n)
	for _, r := range records {
		i := int(xxhash.Sum64String(r.SubjectID+"\x00"+r.DrugCode) % uint64(n))
		shards[i] = append(shards[i], r)
	}
	return shards
}
