package concurrency

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Cooperative runs handlers as goroutines and CPU-bound work on a bounded
// pool.
type Cooperative struct {
	workers int64
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewCooperative creates a cooperative strategy with a pool of workers
// (default GOMAXPROCS).
func NewCooperative(workers int) *Cooperative {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Cooperative{
		workers: int64(workers),
		sem:     semaphore.NewWeighted(int64(workers)),
	}
}

// Name returns "cooperative".
func (c *Cooperative) Name() string { return NameCooperative }

// Workers returns the offload pool size.
func (c *Cooperative) Workers() int { return int(c.workers) }

// Go starts fn in a tracked goroutine.
func (c *Cooperative) Go(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Offload waits for a pool slot, runs fn on it and suspends the caller
// until fn returns or ctx is done. A canceled caller does not cancel fn;
// the slot is released when fn finishes.
func (c *Cooperative) Offload(ctx context.Context, fn func() error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer c.sem.Release(1)
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further offloads and waits for goroutines started by Go.
func (c *Cooperative) Close() error {
	c.closed.Store(true)
	c.wg.Wait()
	return nil
}

var _ Strategy = (*Cooperative)(nil)
