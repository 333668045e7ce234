package concurrency

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// ThreadPerConn gives every handler its own OS thread and runs offloaded
// work inline.
type ThreadPerConn struct {
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewThreadPerConn creates a thread-per-connection strategy.
func NewThreadPerConn() *ThreadPerConn {
	return &ThreadPerConn{}
}

// Name returns "thread".
func (t *ThreadPerConn) Name() string { return NameThreadPerConn }

// Go starts fn on a goroutine locked to its own OS thread.
func (t *ThreadPerConn) Go(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		fn()
	}()
}

// Offload runs fn on the calling thread.
func (t *ThreadPerConn) Offload(ctx context.Context, fn func() error) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// Close rejects further offloads and waits for handlers started by Go.
func (t *ThreadPerConn) Close() error {
	t.closed.Store(true)
	t.wg.Wait()
	return nil
}

var _ Strategy = (*ThreadPerConn)(nil)
