// Package worker provides a bounded pool for running independent tasks
// concurrently. Tasks are addressed by index so callers collect results
// into a pre-sized slice without locking.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs tasks with a fixed concurrency level.
type Pool struct {
	workers int
}

// NewPool creates a pool. A worker count below one falls back to one.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers}
}

// Workers returns the concurrency level.
func (p *Pool) Workers() int { return p.workers }

// Run executes fn for every index in [0, count). At most Workers tasks run
// at once. The first error cancels the tasks that have not started yet and
// is returned after the running ones finish.
func (p *Pool) Run(ctx context.Context, count int, fn func(ctx context.Context, index int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := 0; i < count; i++ {
		index := i
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fn(ctx, index)
		})
	}
	return g.Wait()
}
