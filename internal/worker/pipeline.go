package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gyeh/rx-netting/internal/claims"
	"github.com/gyeh/rx-netting/internal/netting"
	"github.com/gyeh/rx-netting/internal/progress"
)

// BlockResult holds the outcome of netting a single block.
type BlockResult struct {
	Index  int
	Result *netting.Result
	Err    error
}

// RunBlock nets one block, reporting through tracker. A canceled context is
// honoured before the block starts; once started the engine runs to the end.
func RunBlock(
	ctx context.Context,
	idx int,
	b *claims.Block,
	engine *netting.Engine,
	tracker progress.Tracker,
) *BlockResult {
	result := &BlockResult{Index: idx}

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	// Copy so the progress hook and logger are per block and the shared
	// Engine stays untouched.
	var eng netting.Engine
	if engine != nil {
		eng = *engine
	}
	logger := eng.Logger
	if logger == nil {
		logger = slog.Default()
	}
	eng.Logger = logger.With(slog.Int("block", idx+1))
	eng.OnReversal = func(done, total int) {
		tracker.SetProgress(int64(done), int64(total))
	}

	tracker.SetStage("Netting")
	res, err := eng.Run(b)
	if err != nil {
		result.Err = fmt.Errorf("block %d: %w", idx+1, err)
		return result
	}
	result.Result = res

	tracker.SetCounter("reversals", int64(res.Stats.Reversals))
	if res.Stats.DegradedCalls > 0 {
		tracker.LogWarning(fmt.Sprintf("%d reversals matched without a date window", res.Stats.DegradedCalls))
	}
	tracker.SetStage(fmt.Sprintf("Done (%d matched, %d unmatched)", res.Stats.Matched, res.Stats.Unmatched))

	return result
}

// Netted is the reassembled table after every block has been processed.
// Pairs and Unmatched refer to RowIDs, not block positions.
type Netted struct {
	Block     *claims.Block
	Pairs     []netting.Pair
	Unmatched []int
	Stats     netting.Stats
	Blocks    int
}

// Merge stitches block results back into one table ordered by RowID. Any
// failed block fails the merge; every block error is reported.
func Merge(columns []string, results []BlockResult) (*Netted, error) {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	out := &Netted{
		Block:  &claims.Block{Columns: append([]string(nil), columns...)},
		Blocks: len(results),
	}
	for _, r := range results {
		res := r.Result
		rows := res.Block.Records
		out.Block.Records = append(out.Block.Records, rows...)
		for _, p := range res.Pairs {
			out.Pairs = append(out.Pairs, netting.Pair{
				Reversal:  rows[p.Reversal].RowID,
				Claim:     rows[p.Claim].RowID,
				Days:      p.Days,
				DateKnown: p.DateKnown,
			})
		}
		for _, u := range res.Unmatched {
			out.Unmatched = append(out.Unmatched, rows[u].RowID)
		}
		out.Stats.Add(res.Stats)
	}

	sort.SliceStable(out.Block.Records, func(i, j int) bool {
		return out.Block.Records[i].RowID < out.Block.Records[j].RowID
	})
	sort.Ints(out.Unmatched)
	sort.SliceStable(out.Pairs, func(i, j int) bool {
		return out.Pairs[i].Reversal < out.Pairs[j].Reversal
	})
	return out, nil
}

// Options configures a full netting run over a prepared table.
type Options struct {
	Workers  int
	Strategy Strategy
	Engine   *netting.Engine
	Progress progress.Manager
}

// NetTable partitions a prepared table, nets the blocks concurrently and
// reassembles the result.
func NetTable(ctx context.Context, b *claims.Block, opts Options) (*Netted, error) {
	if err := claims.CheckSchema(b); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers()
	}

	blocks := Partition(b, workers, opts.Strategy)
	pool := &Pool{
		Workers:  workers,
		Engine:   opts.Engine,
		Progress: opts.Progress,
	}
	results := pool.Run(ctx, blocks)
	if opts.Progress != nil {
		opts.Progress.Wait()
	}

	return Merge(b.Columns, results)
}
