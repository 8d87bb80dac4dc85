package localization

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one observation in a batch.
type BatchResult struct {
	Index    int
	Estimate Estimate
	Err      error
}

// LocalizeBatch solves observations concurrently with at most workers solves
// in flight (GOMAXPROCS when workers <= 0). Per-observation failures are
// reported in the results, which keep the input order. The only error
// returned is the context's, in which case unfinished results are left zero.
func LocalizeBatch(ctx context.Context, s *Solver, observations [][]float64, workers int) ([]BatchResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	defer s.metrics.BatchStarted()()

	results := make([]BatchResult, len(observations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, obs := range observations {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			est, err := s.Solve(obs)
			results[i] = BatchResult{Index: i, Estimate: est, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
