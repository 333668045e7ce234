package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestConsumeConservation(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Rate: 2, Capacity: 10, Now: clock.Now})

	assert.Equal(t, 10.0, l.Available("peer"))

	require.True(t, l.Consume("peer", 3))
	assert.Equal(t, 7.0, l.Available("peer"))

	require.True(t, l.Consume("peer", 7))
	assert.Equal(t, 0.0, l.Available("peer"))

	assert.False(t, l.Consume("peer", 1))
	assert.Equal(t, 0.0, l.Available("peer"), "denied consume has no side effect")
}

func TestRefillByElapsedTime(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Rate: 2, Capacity: 10, Now: clock.Now})

	require.True(t, l.Consume("peer", 10))

	clock.Advance(1500 * time.Millisecond)
	assert.InDelta(t, 3.0, l.Available("peer"), 1e-9)

	clock.Advance(time.Hour - time.Minute)
	assert.Equal(t, 10.0, l.Available("peer"), "refill capped at capacity")
}

func TestTokensStayInBounds(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Rate: 1000, Capacity: 5, Now: clock.Now})

	for i := 0; i < 100; i++ {
		l.Consume("p", float64(i%7))
		clock.Advance(time.Duration(i) * time.Millisecond)
		avail := l.Available("p")
		assert.GreaterOrEqual(t, avail, 0.0)
		assert.LessOrEqual(t, avail, 5.0)
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	l := New(Config{Rate: 1, Capacity: 2, Now: newFakeClock().Now})

	require.True(t, l.Consume("a", 2))
	assert.False(t, l.Consume("a", 1))
	assert.True(t, l.Consume("b", 2))
	assert.Equal(t, 2, l.Len())
}

func TestResetRemoveStatus(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Rate: 1, Capacity: 4, Now: clock.Now})

	_, ok := l.Status("x")
	assert.False(t, ok)

	require.True(t, l.Consume("x", 4))
	st, ok := l.Status("x")
	require.True(t, ok)
	assert.Equal(t, Status{Tokens: 0, Capacity: 4, Rate: 1, LastRefill: clock.Now()}, st)

	l.Reset("x")
	assert.Equal(t, 4.0, l.Available("x"))

	l.Remove("x")
	assert.Equal(t, 0, l.Len())
	_, ok = l.Status("x")
	assert.False(t, ok)
}

func TestIdleEviction(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{
		Rate:            1,
		Capacity:        1,
		IdleTimeout:     time.Minute,
		CleanupInterval: 10 * time.Minute,
		Now:             clock.Now,
	})

	l.Consume("old", 1)
	clock.Advance(5 * time.Minute)
	l.Consume("recent", 1)
	assert.Equal(t, 2, l.Len(), "no sweep before the interval elapses")

	clock.Advance(5 * time.Minute)
	l.Consume("recent", 0)
	assert.Equal(t, 1, l.Len())
	_, ok := l.Status("old")
	assert.False(t, ok, "idle bucket evicted")
	_, ok = l.Status("recent")
	assert.True(t, ok)
}

func TestWaitForTokens(t *testing.T) {
	l := New(Config{Rate: 50, Capacity: 1})
	require.True(t, l.Consume("w", 1))

	start := time.Now()
	ok := l.WaitForTokens(context.Background(), "w", 1, time.Second)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitForTokensTimeout(t *testing.T) {
	l := New(Config{Rate: 0.01, Capacity: 1})
	require.True(t, l.Consume("w", 1))

	start := time.Now()
	ok := l.WaitForTokens(context.Background(), "w", 1, 150*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWaitForTokensContext(t *testing.T) {
	l := New(Config{Rate: 0, Capacity: 1})
	require.True(t, l.Consume("w", 1))

	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	go func() {
		l.WaitForTokens(ctx, "w", 1, 0)
		done.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, done.Load())
	cancel()
	assert.Eventually(t, done.Load, time.Second, 10*time.Millisecond)
}

func TestConcurrentConsumeNeverOverdraws(t *testing.T) {
	l := New(Config{Rate: 0, Capacity: 100})

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Consume("shared", 1) {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), granted.Load())
	assert.Equal(t, 0.0, l.Available("shared"))
}
