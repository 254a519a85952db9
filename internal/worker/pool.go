package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/gyeh/rx-netting/internal/claims"
	"github.com/gyeh/rx-netting/internal/netting"
	"github.com/gyeh/rx-netting/internal/progress"
)

// Pool nets blocks concurrently. Blocks share nothing, so the only
// coordination is the semaphore bounding how many run at once.
type Pool struct {
	Workers  int
	Engine   *netting.Engine
	Progress progress.Manager
}

// Run nets every block and returns one result per block, in input order.
func (p *Pool) Run(ctx context.Context, blocks []*claims.Block) []BlockResult {
	results := make([]BlockResult, len(blocks))

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	mgr := p.Progress
	if mgr == nil {
		mgr = &progress.NoopManager{}
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, b := range blocks {
		wg.Add(1)
		go func(idx int, blk *claims.Block) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = BlockResult{Index: idx, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			tracker := mgr.NewTracker(idx, len(blocks), fmt.Sprintf("block %d (%d rows)", idx+1, blk.Len()))
			results[idx] = *RunBlock(ctx, idx, blk, p.Engine, tracker)
			tracker.Done()
		}(i, b)
	}

	wg.Wait()
	return results
}
