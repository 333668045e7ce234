// Package session drives one peer connection through key exchange,
// authentication and message exchange.
//
// A session moves through
//
//	Disconnected -> Connecting -> Handshaking -> Authenticating -> Ready -> Closing -> Closed
//
// and only a Ready session sends and receives application messages. A
// transport or framing failure in any state closes the session at once and
// runs its close hooks.
package session

import (
	"bufio"
	"context"
	"crypto/rsa"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sockcomm/sockcomm-go/pkg/crypt"
	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/log"
	"github.com/sockcomm/sockcomm-go/pkg/registry"
	"github.com/sockcomm/sockcomm-go/pkg/transport"
)

// CloseHook is called once when a session closes. cause is nil for a local
// Close, io.EOF for an orderly peer close, and the fatal error otherwise.
type CloseHook func(s *Session, cause error)

// Stats counts the traffic of a session.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	DecryptFailures  uint64
	EventsDispatched uint64
}

// Session is one end of a peer connection.
type Session struct {
	id        string
	config    Config
	createdAt time.Time
	logger    *slog.Logger
	plog      log.Logger

	cipher    crypt.Cipher
	exchanger crypt.Exchanger

	state        atomic.Int32
	cryptoState  atomic.Int32
	lastActivity atomic.Int64

	mu             sync.RWMutex
	conn           net.Conn
	reader         *bufio.Reader
	framer         transport.FrameReadWriter
	presentedToken string

	sendMu sync.Mutex
	recvMu sync.Mutex

	closeOnce sync.Once
	hooksMu   sync.Mutex
	hooks     []CloseHook
	closed    bool
	cause     error

	sent            atomic.Uint64
	received        atomic.Uint64
	decryptFailures atomic.Uint64
	dispatched      atomic.Uint64
}

// New creates a disconnected session. Unknown cipher or exchanger names and
// invalid keys are configuration errors, reported before any I/O.
func New(config Config) (*Session, error) {
	config = config.withDefaults()

	exchanger, err := crypt.NewExchanger(config.Exchanger)
	if err != nil {
		return nil, err
	}
	if config.KeyPair != nil {
		if err := installKeyPair(exchanger, config.KeyPair); err != nil {
			return nil, err
		}
	}

	var cipher crypt.Cipher
	if config.Cipher != "" {
		if cipher, err = crypt.NewCipher(config.Cipher, config.Key); err != nil {
			return nil, err
		}
	}

	s := &Session{
		id:        uuid.NewString(),
		config:    config,
		createdAt: time.Now(),
		plog:      log.OrNoop(config.ProtocolLogger),
		cipher:    cipher,
		exchanger: exchanger,
	}
	if config.Logger != nil {
		s.logger = config.Logger.With("session", s.id)
	}
	s.state.Store(int32(StateDisconnected))
	s.cryptoState.Store(int32(NoCrypto))
	return s, nil
}

func installKeyPair(x crypt.Exchanger, priv *rsa.PrivateKey) error {
	rx, ok := x.(*crypt.RSAExchanger)
	if !ok {
		return errs.Configurationf("keypair: %s key exchange does not take an RSA keypair", x.Name())
	}
	if err := priv.Validate(); err != nil {
		return errs.Configuration("keypair", err)
	}
	rx.SetPrivateKey(priv)
	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Role returns the handshake side of the session.
func (s *Session) Role() log.Role { return s.config.Role }

// State returns the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// CryptoState returns whether messages are encrypted.
func (s *Session) CryptoState() CryptoState { return CryptoState(s.cryptoState.Load()) }

// CipherName returns the cipher in use, or "" in plaintext mode.
func (s *Session) CipherName() string {
	if c := s.activeCipher(); c != nil {
		return c.Name()
	}
	return ""
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns when the last message was sent or received, or the
// creation time when none was.
func (s *Session) LastActivity() time.Time {
	if ns := s.lastActivity.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return s.createdAt
}

// RemoteAddr returns the peer address, or nil before a connection is
// attached.
func (s *Session) RemoteAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// PresentedToken returns the token the peer presented during auth.
func (s *Session) PresentedToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presentedToken
}

// Stats returns the traffic counters.
func (s *Session) Stats() Stats {
	return Stats{
		MessagesSent:     s.sent.Load(),
		MessagesReceived: s.received.Load(),
		DecryptFailures:  s.decryptFailures.Load(),
		EventsDispatched: s.dispatched.Load(),
	}
}

// OnClose registers a hook run when the session closes. On a session that
// is already closed the hook runs immediately.
func (s *Session) OnClose(hook CloseHook) {
	s.hooksMu.Lock()
	if !s.closed {
		s.hooks = append(s.hooks, hook)
		s.hooksMu.Unlock()
		return
	}
	cause := s.cause
	s.hooksMu.Unlock()
	hook(s, cause)
}

// Connect dials with dial and establishes the session over the result.
func (s *Session) Connect(ctx context.Context, dial func(ctx context.Context) (net.Conn, error)) error {
	if !s.transition(StateDisconnected, StateConnecting, "connect") {
		return ErrAlreadyConnected
	}

	conn, err := dial(ctx)
	if err != nil {
		if errs.KindOf(err) == 0 {
			err = errs.Transport("connect", err)
		}
		s.shutdown(err)
		return err
	}
	return s.establish(ctx, conn)
}

// Establish runs the handshake and the auth exchange over conn, which the
// session owns from then on. It returns once the session is Ready or closed.
func (s *Session) Establish(ctx context.Context, conn net.Conn) error {
	if !s.transition(StateDisconnected, StateConnecting, "establish") {
		return ErrAlreadyConnected
	}
	return s.establish(ctx, conn)
}

func (s *Session) establish(ctx context.Context, conn net.Conn) error {
	s.attach(conn)

	if !s.transition(StateConnecting, StateHandshaking, "") {
		return ErrSessionClosed
	}
	if err := s.handshake(ctx); err != nil {
		s.failEstablish(err)
		return err
	}

	if !s.transition(StateHandshaking, StateAuthenticating, s.CryptoState().String()) {
		return ErrSessionClosed
	}
	if err := s.authenticate(ctx); err != nil {
		s.failEstablish(err)
		return err
	}

	if !s.transition(StateAuthenticating, StateReady, "") {
		return ErrSessionClosed
	}
	s.touch()
	return nil
}

func (s *Session) attach(conn net.Conn) {
	reader := bufio.NewReader(conn)
	framer := transport.NewFramerSplit(reader, conn, s.config.Frame)
	framer.SetLogger(s.config.ProtocolLogger, s.id, s.config.Role)

	s.mu.Lock()
	s.conn = conn
	s.reader = reader
	s.framer = framer
	s.mu.Unlock()
}

// failEstablish closes a session whose handshake or auth failed.
func (s *Session) failEstablish(err error) {
	s.logError("establish", err)
	s.shutdown(err)
}

// Send sends msg as a chunked frame.
func (s *Session) Send(ctx context.Context, msg []byte) error {
	return s.send(ctx, msg, transport.ModeChunked)
}

// SendBlock sends msg as a frame written in a single write.
func (s *Session) SendBlock(ctx context.Context, msg []byte) error {
	return s.send(ctx, msg, transport.ModeBlock)
}

// Receive reads the next message, reading the payload in chunks.
//
// It returns io.EOF when the peer closed between frames; the session is
// closed then. The ctx deadline bounds the wait; a deadline that passes
// before the next frame starts returns ctx.Err() and keeps the session.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	return s.receive(ctx, transport.ModeChunked)
}

// ReceiveBlock reads the next message with a single payload read.
func (s *Session) ReceiveBlock(ctx context.Context) ([]byte, error) {
	return s.receive(ctx, transport.ModeBlock)
}

func (s *Session) send(ctx context.Context, msg []byte, mode transport.Mode) error {
	if s.State() != StateReady {
		return ErrNotReady
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	payload, err := s.seal(ctx, msg)
	if err != nil {
		return err
	}

	release := bindDeadline(ctx, s.conn.SetWriteDeadline)
	err = s.framer.WriteFrame(payload, mode)
	release()
	if err != nil {
		return s.fatal(err)
	}

	s.sent.Add(1)
	s.touch()
	s.logMessage(log.DirectionOut, len(msg), false, 0)
	return nil
}

func (s *Session) receive(ctx context.Context, mode transport.Mode) ([]byte, error) {
	if s.State() != StateReady {
		return nil, ErrNotReady
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	release := bindDeadline(ctx, s.conn.SetReadDeadline)
	raw, err := s.framer.ReadFrame(mode)
	release()
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrReadTimeout):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, context.DeadlineExceeded
		case err == io.EOF:
			s.debugLog("peer closed session")
			s.shutdown(io.EOF)
			return nil, io.EOF
		default:
			return nil, s.fatal(err)
		}
	}

	msg, fallback, err := s.open(ctx, raw)
	if err != nil {
		return nil, err
	}

	dispatched := 0
	if s.config.Router != nil {
		dispatched = s.config.Router.Scan(msg)
		s.dispatched.Add(uint64(dispatched))
	}

	s.received.Add(1)
	s.touch()
	s.logMessage(log.DirectionIn, len(msg), fallback, dispatched)
	return msg, nil
}

// seal encrypts msg when a session key is established.
func (s *Session) seal(ctx context.Context, msg []byte) ([]byte, error) {
	c := s.activeCipher()
	if c == nil {
		return msg, nil
	}
	var out []byte
	err := s.config.Strategy.Offload(ctx, func() error {
		var err error
		out, err = c.Encrypt(msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// open decrypts raw according to the decrypt policy. fallback reports that
// raw was delivered undecrypted.
func (s *Session) open(ctx context.Context, raw []byte) (msg []byte, fallback bool, err error) {
	c := s.activeCipher()
	if c == nil {
		return raw, false, nil
	}
	var out []byte
	err = s.config.Strategy.Offload(ctx, func() error {
		var err error
		out, err = c.Decrypt(raw)
		return err
	})
	if err == nil {
		return out, false, nil
	}
	if errs.KindOf(err) != errs.KindCrypto || s.config.DecryptPolicy == Strict {
		return nil, false, err
	}

	s.decryptFailures.Add(1)
	s.warnLog("decrypt failed, delivering raw payload", "size", len(raw), "error", err)
	s.logError("decrypt", err)
	return raw, true, nil
}

func (s *Session) activeCipher() crypt.Cipher {
	if s.CryptoState() != SessionKeyEstablished {
		return nil
	}
	return s.cipher
}

// Close closes the session gracefully. Closing a closed session is a no-op.
func (s *Session) Close() error {
	return s.close(nil, true)
}

// fatal closes the session for a transport or framing error and returns
// err. Other errors are returned unchanged.
func (s *Session) fatal(err error) error {
	if errs.IsFatal(err) {
		s.logError("io", err)
		s.shutdown(err)
	}
	return err
}

// shutdown moves straight to Closed.
func (s *Session) shutdown(cause error) {
	s.close(cause, false)
}

func (s *Session) close(cause error, graceful bool) error {
	var closeErr error
	ran := false
	s.closeOnce.Do(func() {
		ran = true
		reason := "closed locally"
		if cause != nil {
			reason = cause.Error()
		}

		old := State(s.state.Load())
		if graceful && old != StateDisconnected {
			s.state.Store(int32(StateClosing))
			s.notifyState(old, StateClosing, reason)
			old = StateClosing
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn != nil {
			if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				closeErr = errs.Transport("close", err)
			}
		}

		s.state.Store(int32(StateClosed))
		s.notifyState(old, StateClosed, reason)
	})
	if ran {
		s.runHooks(cause)
	}
	return closeErr
}

func (s *Session) runHooks(cause error) {
	s.hooksMu.Lock()
	s.closed = true
	s.cause = cause
	hooks := s.hooks
	s.hooks = nil
	s.hooksMu.Unlock()

	for _, hook := range hooks {
		hook(s, cause)
	}
}

// transition moves from one state to another and reports whether the
// session was in from.
func (s *Session) transition(from, to State, reason string) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.notifyState(from, to, reason)
	return true
}

func (s *Session) setCryptoState(to CryptoState, reason string) {
	old := CryptoState(s.cryptoState.Swap(int32(to)))
	if old == to {
		return
	}
	s.debugLog("crypto state changed", "from", old, "to", to, "reason", reason)
	s.plog.Log(s.event(log.LayerSession, log.CategoryState, func(e *log.Event) {
		e.StateChange = &log.StateChangeEvent{
			Entity:   log.StateEntityCrypto,
			OldState: old.String(),
			NewState: to.String(),
			Reason:   reason,
		}
	}))
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// aLongTimeAgo is a deadline that has always passed.
var aLongTimeAgo = time.Unix(1, 0)

// bindDeadline applies ctx to a connection deadline: the ctx deadline
// becomes the conn deadline and cancellation unblocks pending I/O. The
// returned func clears the deadline again.
func bindDeadline(ctx context.Context, set func(time.Time) error) func() {
	if d, ok := ctx.Deadline(); ok {
		set(d)
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		set(aLongTimeAgo)
	})
	return func() {
		if !stop() {
			<-done
		}
		set(time.Time{})
	}
}

// Compile-time interface satisfaction checks.
var (
	_ registry.Member = (*Session)(nil)
)
