package validation

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentwarden/agentwarden/internal/config"
)

// ValidateBatch validates each configuration independently and concurrently.
// Fan-out width is bounded by opts.WorkerCount, defaulting to
// min(4, GOMAXPROCS); configurations share nothing but the caches, which
// serialize their own access.
func (e *Engine) ValidateBatch(ctx context.Context, id string, configs []*config.PermissionConfig, opts Options) BatchResult {
	start := time.Now()
	results := make([]Result, len(configs))

	workers := opts.WorkerCount
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
		if workers > 4 {
			workers = 4
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, cfg := range configs {
		i, cfg := i, cfg
		g.Go(func() error {
			results[i] = e.Validate(ctx, cfg, opts)
			return nil
		})
	}
	// Workers never return errors: Validate encodes all failure in results.
	_ = g.Wait()

	batch := BatchResult{
		ID:          id,
		Results:     results,
		TotalTimeMs: elapsedMs(start),
	}
	for _, r := range results {
		if r.IsValid {
			batch.SuccessCount++
		} else {
			batch.FailureCount++
		}
	}
	log.Info("batch %s: %d configs in %.1fms (%d valid, %d invalid)",
		id, len(configs), batch.TotalTimeMs, batch.SuccessCount, batch.FailureCount)
	return batch
}
