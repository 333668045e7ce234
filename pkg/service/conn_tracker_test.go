package service

import (
	"net"
	"sync"
	"testing"
	"time"
)

// trackerConn implements net.Conn for tracker tests. Only Close and
// RemoteAddr are meaningful.
type trackerConn struct {
	net.Conn
	addr string

	mu     sync.Mutex
	closed bool
}

func (c *trackerConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(c.addr), Port: 4000}
}

func (c *trackerConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *trackerConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestConnTracker_AddAndRemove(t *testing.T) {
	ct := newConnTracker()
	conn := &trackerConn{addr: "10.0.0.1"}

	ct.Add(conn)
	if ct.Len() != 1 {
		t.Errorf("Len after Add: expected 1, got %d", ct.Len())
	}

	ct.Remove(conn)
	ct.Remove(conn)
	if ct.Len() != 0 {
		t.Errorf("Len after Remove: expected 0, got %d", ct.Len())
	}
}

func TestConnTracker_CloseStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ct := newConnTracker()
	ct.now = func() time.Time { return now }

	stale := &trackerConn{addr: "10.0.0.1"}
	ct.Add(stale)

	now = now.Add(2 * time.Minute)
	fresh := &trackerConn{addr: "10.0.0.2"}
	ct.Add(fresh)

	closed := ct.CloseStale(time.Minute)
	if len(closed) != 1 || closed[0] != "10.0.0.1:4000" {
		t.Errorf("CloseStale: got %v, want the stale peer only", closed)
	}
	if !stale.isClosed() {
		t.Error("stale conn should be closed")
	}
	if fresh.isClosed() {
		t.Error("fresh conn should not be closed")
	}
	if ct.Len() != 1 {
		t.Errorf("Len after CloseStale: expected 1, got %d", ct.Len())
	}

	if got := ct.CloseStale(time.Minute); len(got) != 0 {
		t.Errorf("second sweep closed %v", got)
	}
}
