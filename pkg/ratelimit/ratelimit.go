// Package ratelimit implements per-identity token buckets.
//
// A bucket refills continuously at Rate tokens per second up to Capacity.
// Consume never blocks; WaitForTokens polls until enough tokens accumulate
// or the timeout passes. Buckets idle longer than IdleTimeout are evicted,
// checked at most once per CleanupInterval from inside normal calls.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults.
const (
	DefaultIdleTimeout     = time.Hour
	DefaultCleanupInterval = 5 * time.Minute

	// maxPollInterval caps the WaitForTokens sleep.
	maxPollInterval = 100 * time.Millisecond
)

// Config configures a Limiter.
type Config struct {
	// Rate is the refill rate in tokens per second.
	Rate float64

	// Capacity is the bucket size. New buckets start full.
	Capacity float64

	// IdleTimeout evicts buckets unused for this long (default 1h).
	IdleTimeout time.Duration

	// CleanupInterval is the minimum time between eviction sweeps (default 5m).
	CleanupInterval time.Duration

	// Now is the clock (default time.Now).
	Now func() time.Time
}

// Status is a snapshot of one bucket.
type Status struct {
	Tokens     float64
	Capacity   float64
	Rate       float64
	LastRefill time.Time
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Limiter is a set of token buckets keyed by identity.
type Limiter struct {
	cfg Config

	mu          sync.Mutex
	buckets     map[string]*bucket
	lastCleanup time.Time
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		cfg:         cfg,
		buckets:     make(map[string]*bucket),
		lastCleanup: cfg.Now(),
	}
}

// Consume takes n tokens from id's bucket after refilling it. It returns
// false, leaving the bucket untouched apart from the refill, when fewer than
// n tokens are available.
func (l *Limiter) Consume(id string, n float64) bool {
	now := l.cfg.Now()
	b := l.bucket(id, now)

	b.mu.Lock()
	defer b.mu.Unlock()
	l.refill(b, now)
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// WaitForTokens retries Consume until it succeeds, ctx is done, or timeout
// passes (0 waits indefinitely). Between attempts it sleeps for the time the
// shortfall needs to refill, at most 100ms.
func (l *Limiter) WaitForTokens(ctx context.Context, id string, n float64, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if l.Consume(id, n) {
			return true
		}

		wait := maxPollInterval
		if l.cfg.Rate > 0 {
			shortfall := n - l.Available(id)
			if d := time.Duration(shortfall / l.cfg.Rate * float64(time.Second)); d > 0 && d < wait {
				wait = d
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case <-time.After(wait):
		}
	}
}

// Available returns the tokens id could consume right now.
func (l *Limiter) Available(id string) float64 {
	now := l.cfg.Now()
	b := l.bucket(id, now)

	b.mu.Lock()
	defer b.mu.Unlock()
	l.refill(b, now)
	return b.tokens
}

// Reset refills id's bucket to capacity.
func (l *Limiter) Reset(id string) {
	now := l.cfg.Now()
	b := l.bucket(id, now)

	b.mu.Lock()
	b.tokens = l.cfg.Capacity
	b.lastRefill = now
	b.mu.Unlock()
}

// Remove drops id's bucket. A later call starts a fresh, full bucket.
func (l *Limiter) Remove(id string) {
	l.mu.Lock()
	delete(l.buckets, id)
	l.mu.Unlock()
}

// Status returns a snapshot of id's bucket, and false when it has none.
func (l *Limiter) Status(id string) (Status, bool) {
	l.mu.Lock()
	b, ok := l.buckets[id]
	l.mu.Unlock()
	if !ok {
		return Status{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	l.refill(b, l.cfg.Now())
	return Status{
		Tokens:     b.tokens,
		Capacity:   l.cfg.Capacity,
		Rate:       l.cfg.Rate,
		LastRefill: b.lastRefill,
	}, true
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// bucket returns id's bucket, creating a full one if needed, and runs an
// eviction sweep when one is due.
func (l *Limiter) bucket(id string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.cfg.CleanupInterval {
		l.evictIdle(now)
		l.lastCleanup = now
	}

	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{tokens: l.cfg.Capacity, lastRefill: now}
		l.buckets[id] = b
	}
	return b
}

// evictIdle removes idle buckets. Caller holds l.mu.
func (l *Limiter) evictIdle(now time.Time) {
	for id, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill)
		b.mu.Unlock()
		if idle > l.cfg.IdleTimeout {
			delete(l.buckets, id)
		}
	}
}

// refill adds elapsed*rate tokens, capped at capacity. Caller holds b.mu.
func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(l.cfg.Capacity, b.tokens+elapsed*l.cfg.Rate)
	b.lastRefill = now
}
