package testutil

import (
	"net"
	"testing"
	"time"
)

// TCPPair returns both ends of a loopback TCP connection. Both are closed
// when the test ends.
func TCPPair(t testing.TB) (client, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	client, err = net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case server = <-accepted:
	case err := <-acceptErr:
		client.Close()
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		client.Close()
		t.Fatal("accept timed out")
	}

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// Eventually polls cond every 10ms until it returns true or timeout passes.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
