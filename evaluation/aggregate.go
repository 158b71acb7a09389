package evaluation

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ImageFunc produces the counts of image i of a split.
type ImageFunc func(ctx context.Context, i int) (Counts, error)

// Aggregate folds the counts of n images in parallel.
//
// Images are dispatched to at most workers goroutines; the order in which they
// complete does not affect the totals. The first error cancels the remaining work.
//
// Arguments:
//   - ctx: Cancels dispatch of further images.
//   - n: Number of images.
//   - workers: Maximum concurrency. Zero or less means GOMAXPROCS.
//   - fn: Per-image counter.
//
// Returns:
//   - Counts: The split totals.
//   - error: The first per-image error, or the context error.
//
// @example
//
//	total, err := Aggregate(ctx, split.Len(), 4, func(ctx context.Context, i int) (Counts, error) {
//		return MatchImage(gt[i], pred[i], 0.5)
//	})
func Aggregate(ctx context.Context, n, workers int, fn ImageFunc) (Counts, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var (
		mu    sync.Mutex
		total Counts
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := fn(gctx, i)
			if err != nil {
				return err
			}
			mu.Lock()
			total = total.Add(c)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Counts{}, err
	}
	if err := ctx.Err(); err != nil {
		return Counts{}, err
	}
	return total, nil
}

// Fold sums already computed counts sequentially.
func Fold(parts ...Counts) Counts {
	var total Counts
	for _, p := range parts {
		total = total.Add(p)
	}
	return total
}
