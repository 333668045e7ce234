package service

import (
	"net"
	"sync"
	"time"
)

// connTracker tracks accepted connections that have not reached Ready yet.
// The sweep task closes the ones stuck in the handshake or auth exchange
// for longer than the stale timeout.
type connTracker struct {
	mu    sync.Mutex
	conns map[net.Conn]time.Time
	now   func() time.Time
}

func newConnTracker() *connTracker {
	return &connTracker{
		conns: make(map[net.Conn]time.Time),
		now:   time.Now,
	}
}

// Add registers conn with the current time.
func (ct *connTracker) Add(conn net.Conn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.conns[conn] = ct.now()
}

// Remove deregisters conn. Safe to call on absent connections.
func (ct *connTracker) Remove(conn net.Conn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.conns, conn)
}

// CloseStale closes and removes every connection tracked for longer than
// maxAge and returns their peer addresses.
func (ct *connTracker) CloseStale(maxAge time.Duration) []string {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	cutoff := ct.now().Add(-maxAge)
	var closed []string
	for conn, added := range ct.conns {
		if !added.Before(cutoff) {
			continue
		}
		_ = conn.Close()
		delete(ct.conns, conn)
		addr := ""
		if ra := conn.RemoteAddr(); ra != nil {
			addr = ra.String()
		}
		closed = append(closed, addr)
	}
	return closed
}

// Len returns the number of tracked connections.
func (ct *connTracker) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.conns)
}
