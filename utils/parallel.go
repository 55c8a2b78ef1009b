package utils

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// BlockWorkFunc runs for a single block of work.
type BlockWorkFunc func(blockNum int)

// ParallelForEachBlock calls work once for every block in [0, numBlocks). At most
// ParallelFactor blocks run at the same time. A panic inside work is returned as an
// error and stops the scheduling of blocks that have not started yet.
func ParallelForEachBlock(ctx context.Context, numBlocks int, work BlockWorkFunc) error {
	if numBlocks <= 0 {
		return nil
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(ParallelFactor)
	for blockNum := 0; blockNum < numBlocks; blockNum++ {
		if groupCtx.Err() != nil {
			break
		}
		blockNumCopy := blockNum
		group.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = fmt.Errorf("got panic running block %d: %v", blockNumCopy, thePanic)
				}
			}()
			work(blockNumCopy)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
