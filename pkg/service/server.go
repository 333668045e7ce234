package service

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/concurrency"
	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/event"
	"github.com/sockcomm/sockcomm-go/pkg/log"
	"github.com/sockcomm/sockcomm-go/pkg/ratelimit"
	"github.com/sockcomm/sockcomm-go/pkg/registry"
	"github.com/sockcomm/sockcomm-go/pkg/session"
	"github.com/sockcomm/sockcomm-go/pkg/task"
	"github.com/sockcomm/sockcomm-go/pkg/transport"
)

// MessageHandler handles one message received on a registered session.
type MessageHandler func(ctx context.Context, s *session.Session, msg []byte)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Endpoint to listen on.
	Endpoint transport.Endpoint

	// TLSConfig wraps accepted sockets with TLS when non-nil.
	TLSConfig *tls.Config

	// Session is the template for every accepted session. Role, Router
	// and Strategy are set by the server.
	Session session.Config

	// Strategy runs connection handlers, event handlers, tasks and cipher
	// work. Nil creates a cooperative strategy owned by the server.
	Strategy concurrency.Strategy

	// RateLimiter limits inbound messages per session. Nil disables.
	RateLimiter *ratelimit.Limiter

	// RatePolicy decides what happens to a message over the limit.
	RatePolicy RatePolicy

	// RateWait bounds the wait of RateWait policy (default 1s).
	RateWait time.Duration

	// StaleTimeout closes connections that have not finished handshake
	// and auth in time (default 30s, negative disables).
	StaleTimeout time.Duration

	// IdleTimeout closes Ready sessions without traffic for this long
	// (0 disables).
	IdleTimeout time.Duration

	// SweepInterval is the period of the stale and idle sweep (default 5s).
	SweepInterval time.Duration

	// OnSession, when set, is handed every Ready session instead of the
	// built-in receive loop. The session is closed when it returns.
	OnSession func(ctx context.Context, s *session.Session)

	// OnMessage is called for every message the receive loop accepts.
	OnMessage MessageHandler

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger receives protocol events (optional).
	ProtocolLogger log.Logger
}

// Server accepts connections and serves the sessions established on them.
type Server struct {
	config       ServerConfig
	strategy     concurrency.Strategy
	ownsStrategy bool
	plog         log.Logger

	router    *event.Router
	registry  *registry.Registry
	pending   *connTracker
	scheduler *task.Scheduler
	listener  transport.Listener

	mu      sync.RWMutex
	state   ServiceState
	cancel  context.CancelFunc
	sweepID string
}

// NewServer validates config and creates a server. Unknown cipher, key
// exchange or auth settings are reported here, before any network activity.
func NewServer(config ServerConfig) (*Server, error) {
	if config.OnSession == nil && config.OnMessage == nil {
		return nil, errs.Configurationf("server: OnSession or OnMessage is required")
	}
	if config.RateWait <= 0 {
		config.RateWait = DefaultRateWait
	}
	if config.StaleTimeout == 0 {
		config.StaleTimeout = DefaultStaleTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}

	strategy := config.Strategy
	ownsStrategy := false
	if strategy == nil {
		strategy = concurrency.NewCooperative(0)
		ownsStrategy = true
	}

	s := &Server{
		config:       config,
		strategy:     strategy,
		ownsStrategy: ownsStrategy,
		plog:         log.OrNoop(config.ProtocolLogger),
		registry:     registry.New(),
		pending:      newConnTracker(),
		scheduler:    task.NewScheduler(strategy.Go, config.Logger),
	}

	s.router = config.Session.Router
	if s.router == nil {
		s.router = event.NewRouter(strategy.Go, config.Logger)
	}

	sc := &s.config.Session
	sc.Role = log.RoleResponder
	sc.Router = s.router
	sc.Strategy = strategy
	if sc.Logger == nil {
		sc.Logger = config.Logger
	}
	if sc.ProtocolLogger == nil {
		sc.ProtocolLogger = config.ProtocolLogger
	}
	if _, err := session.New(*sc); err != nil {
		return nil, err
	}

	listener, err := transport.NewServer(transport.ServerConfig{
		Endpoint:  config.Endpoint,
		TLSConfig: config.TLSConfig,
		Spawn:     strategy.Go,
		Logger:    config.Logger,
		OnConnect: s.handleConn,
		OnError: func(err error) {
			s.warnLog("accept failed", "error", err)
		},
	})
	if err != nil {
		return nil, err
	}
	s.listener = listener
	return s, nil
}

// Start opens the listener and starts the sweep task.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.setStateLocked(StateStarting, "")
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	if err := s.listener.Start(ctx); err != nil {
		cancel()
		s.mu.Lock()
		s.setStateLocked(StateStopped, err.Error())
		s.mu.Unlock()
		return err
	}

	var sweepID string
	if s.config.StaleTimeout > 0 || s.config.IdleTimeout > 0 {
		sweepID = s.scheduler.Register(&task.Task{
			Name:     "session-sweep",
			Fn:       s.sweep,
			Interval: s.config.SweepInterval,
		})
	}
	s.scheduler.RunAll(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.sweepID = sweepID
	s.setStateLocked(StateRunning, "")
	s.mu.Unlock()

	s.infoLog("server started", "addr", s.Addr().String(), "strategy", s.strategy.Name())
	return nil
}

// Stop disconnects every registered session, closes the listener and waits
// for handlers and tasks to return. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateStopping, "")
	cancel := s.cancel
	sweepID := s.sweepID
	s.sweepID = ""
	s.mu.Unlock()

	if err := s.registry.CloseAll(); err != nil {
		s.debugLog("closing sessions", "error", err)
	}
	err := s.listener.Stop()

	s.scheduler.StopAll()
	cancel()
	s.scheduler.Wait()
	if sweepID != "" {
		_ = s.scheduler.Remove(sweepID)
	}

	s.mu.Lock()
	s.setStateLocked(StateStopped, "")
	s.mu.Unlock()

	s.infoLog("server stopped")
	return err
}

// Close stops the server and releases a strategy it created. A closed
// server cannot be started again.
func (s *Server) Close() error {
	err := s.Stop()
	if s.ownsStrategy {
		err = errors.Join(err, s.strategy.Close())
	}
	return err
}

// State returns the service state.
func (s *Server) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Router returns the event router every session dispatches to.
func (s *Server) Router() *event.Router { return s.router }

// Tasks returns the scheduler running the server's background tasks.
func (s *Server) Tasks() *task.Scheduler { return s.scheduler }

// Session returns the registered session with id. An empty id returns and
// unregisters the only session when exactly one is registered.
func (s *Server) Session(id string) (*session.Session, bool) {
	m, ok := s.registry.Get(id)
	if !ok {
		return nil, false
	}
	sess, ok := m.(*session.Session)
	return sess, ok
}

// Sessions returns the registered sessions in registration order.
func (s *Server) Sessions() []*session.Session {
	members := s.registry.Members()
	out := make([]*session.Session, 0, len(members))
	for _, m := range members {
		if sess, ok := m.(*session.Session); ok {
			out = append(out, sess)
		}
	}
	return out
}

// SessionCount returns the number of registered sessions.
func (s *Server) SessionCount() int { return s.registry.Len() }

// PendingCount returns the number of connections still in handshake or
// auth.
func (s *Server) PendingCount() int { return s.pending.Len() }

// Broadcast sends msg to every registered session. Every session is
// attempted; the failures are joined in the result.
func (s *Server) Broadcast(ctx context.Context, msg []byte) error {
	return s.registry.Broadcast(ctx, msg)
}

// handleConn runs one accepted connection from handshake to close.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sess, err := session.New(s.config.Session)
	if err != nil {
		s.warnLog("session setup failed", "error", err)
		return
	}

	s.pending.Add(conn)
	err = sess.Establish(ctx, conn)
	s.pending.Remove(conn)
	if err != nil {
		s.infoLog("session rejected", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	s.register(sess)
	defer sess.Close()

	if s.config.OnSession != nil {
		s.config.OnSession(ctx, sess)
		return
	}
	s.serve(ctx, sess)
}

func (s *Server) register(sess *session.Session) {
	s.registry.Add(sess)
	sess.OnClose(func(closed *session.Session, cause error) {
		s.registry.Remove(closed)
		if s.config.RateLimiter != nil {
			s.config.RateLimiter.Remove(closed.ID())
		}
		s.debugLog("session unregistered", "session", closed.ID(), "cause", cause)
	})
	s.infoLog("session ready",
		"session", sess.ID(),
		"remote", sess.RemoteAddr().String(),
		"crypto", sess.CryptoState(),
		"sessions", s.registry.Len())
}

// serve is the built-in receive loop.
func (s *Server) serve(ctx context.Context, sess *session.Session) {
	for {
		msg, err := sess.Receive(ctx)
		if err != nil {
			if err == io.EOF || ctx.Err() != nil || sess.State() != session.StateReady {
				return
			}
			s.warnLog("receive failed", "session", sess.ID(), "error", err)
			continue
		}
		if !s.allow(ctx, sess) {
			continue
		}
		s.config.OnMessage(ctx, sess, msg)
	}
}

// allow applies the rate limit to one inbound message.
func (s *Server) allow(ctx context.Context, sess *session.Session) bool {
	limiter := s.config.RateLimiter
	if limiter == nil {
		return true
	}

	ok := limiter.Consume(sess.ID(), 1)
	if !ok && s.config.RatePolicy == RateWait {
		ok = limiter.WaitForTokens(ctx, sess.ID(), 1, s.config.RateWait)
	}
	if ok {
		return true
	}

	s.warnLog("rate limit exceeded, message dropped", "session", sess.ID())
	if err := sess.Send(ctx, RateLimitNotice); err != nil {
		s.debugLog("rate limit notice failed", "session", sess.ID(), "error", err)
	}
	return false
}

// sweep closes stuck connections and idle sessions.
func (s *Server) sweep(context.Context) error {
	if s.config.StaleTimeout > 0 {
		for _, addr := range s.pending.CloseStale(s.config.StaleTimeout) {
			s.infoLog("closed stale connection", "remote", addr)
		}
	}
	if s.config.IdleTimeout > 0 {
		cutoff := time.Now().Add(-s.config.IdleTimeout)
		for _, sess := range s.Sessions() {
			if sess.LastActivity().Before(cutoff) {
				s.infoLog("closing idle session", "session", sess.ID())
				sess.Close()
			}
		}
	}
	return nil
}

// setStateLocked records a state change. Caller holds s.mu.
func (s *Server) setStateLocked(to ServiceState, reason string) {
	from := s.state
	s.state = to
	s.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		LocalRole: log.RoleResponder,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityService,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

func (s *Server) infoLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, args...)
	}
}

func (s *Server) warnLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Warn(msg, args...)
	}
}
