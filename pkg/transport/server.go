package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// Server errors.
var (
	ErrServerRunning    = errors.New("server already running")
	ErrServerNotRunning = errors.New("server not running")
)

// ServerConfig configures a stream-socket accept loop.
type ServerConfig struct {
	// Endpoint to listen on.
	Endpoint Endpoint

	// TLSConfig wraps every accepted socket with TLS when non-nil.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the TLS handshake (default 10s).
	HandshakeTimeout time.Duration

	// Spawn runs a connection handler. Defaults to a plain goroutine.
	Spawn func(fn func())

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// OnConnect is called for each accepted (and TLS-wrapped) connection.
	// The handler owns conn; the server closes it after OnConnect returns
	// and on Stop.
	OnConnect func(ctx context.Context, conn net.Conn)

	// OnError is called for accept and TLS handshake failures.
	// A failure never stops the accept loop.
	OnError func(err error)
}

// Server accepts connections and hands each one to OnConnect.
type Server struct {
	config   ServerConfig
	listener net.Listener

	// Active connections
	conns   map[net.Conn]struct{}
	connsMu sync.RWMutex

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new accept-loop server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.OnConnect == nil {
		return nil, errs.Configurationf("server: OnConnect is required")
	}
	if err := config.Endpoint.Validate(); err != nil {
		return nil, err
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Spawn == nil {
		config.Spawn = func(fn func()) { go fn() }
	}

	return &Server{
		config: config,
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Start opens the listener and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}

	listener, err := Listen(s.config.Endpoint)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.debugLog("listening", "addr", listener.Addr().String(), "tls", s.config.TLSConfig != nil)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener, then every tracked connection, and waits for
// handlers to return.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	err := s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errs.Transport("close listener", err)
	}
	return nil
}

// Running reports whether the accept loop is active.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// acceptLoop accepts incoming connections until Stop.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var delay time.Duration
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(errs.Transport("accept", err))

			// Back off on repeated accept failures (e.g. EMFILE).
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(delay*2, time.Second)
			}
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		delay = 0

		s.track(conn)
		s.wg.Add(1)
		s.config.Spawn(func() { s.handleConnection(conn) })
	}
}

// handleConnection wraps conn with TLS if configured and runs OnConnect.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	if s.config.TLSConfig != nil {
		tlsConn := tls.Server(conn, s.config.TLSConfig)
		ctx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
		err := tlsConn.HandshakeContext(ctx)
		cancel()
		if err != nil {
			conn.Close()
			s.reportError(errs.Transport("TLS handshake", fmt.Errorf("%s: %w", conn.RemoteAddr(), err)))
			return
		}

		s.swap(conn, tlsConn)
		conn = tlsConn
	}

	s.config.OnConnect(s.ctx, conn)
	conn.Close()
}

func (s *Server) track(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

// untrack removes conn and, for TLS, whatever it was swapped to.
func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
	for c := range s.conns {
		if tc, ok := c.(*tls.Conn); ok && tc.NetConn() == conn {
			delete(s.conns, c)
		}
	}
}

// swap replaces the raw socket with its TLS wrapper so Stop closes the
// wrapper (sending close_notify).
func (s *Server) swap(raw net.Conn, wrapped net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, raw)
	s.conns[wrapped] = struct{}{}
}

func (s *Server) reportError(err error) {
	s.debugLog("server error", "error", err)
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
