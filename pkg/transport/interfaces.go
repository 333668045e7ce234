package transport

import (
	"context"
	"net"
)

// Listener is an accept loop that can be started and stopped.
// Implemented by Server.
type Listener interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and every live connection.
	Stop() error

	// Addr returns the listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of live connections.
	ConnectionCount() int
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads one frame.
	ReadFrame(mode Mode) ([]byte, error)

	// WriteFrame writes one frame.
	WriteFrame(data []byte, mode Mode) error
}

// Compile-time interface satisfaction checks.
var (
	_ Listener        = (*Server)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
