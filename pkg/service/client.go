package service

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/concurrency"
	"github.com/sockcomm/sockcomm-go/pkg/connection"
	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/event"
	"github.com/sockcomm/sockcomm-go/pkg/log"
	"github.com/sockcomm/sockcomm-go/pkg/session"
	"github.com/sockcomm/sockcomm-go/pkg/transport"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Endpoint of the server.
	Endpoint transport.Endpoint

	// TLSConfig wraps the socket with TLS when non-nil.
	TLSConfig *tls.Config

	// ConnectTimeout bounds the dial when ctx has no deadline.
	ConnectTimeout time.Duration

	// Session is the template for every session the client opens. Role is
	// set to initiator.
	Session session.Config

	// Strategy runs event handlers and cipher work. Nil starts a goroutine
	// per handler and runs cipher work inline.
	Strategy concurrency.Strategy

	// Retry configures ConnectWithRetry.
	Retry connection.RetryConfig

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger receives protocol events (optional).
	ProtocolLogger log.Logger
}

// Client holds at most one session to a server.
type Client struct {
	config       ClientConfig
	router       *event.Router
	ownsStrategy bool

	connectMu sync.Mutex

	mu      sync.RWMutex
	session *session.Session
}

// NewClient validates config and creates a client. Nothing is dialed until
// Connect.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Endpoint.Validate(); err != nil {
		return nil, err
	}

	strategy := config.Strategy
	ownsStrategy := false
	if strategy == nil {
		strategy = concurrency.NewThreadPerConn()
		ownsStrategy = true
	}

	router := config.Session.Router
	if router == nil {
		router = event.NewRouter(strategy.Go, config.Logger)
	}

	sc := &config.Session
	sc.Role = log.RoleInitiator
	sc.Router = router
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

	return &Client{config: config, router: router, ownsStrategy: ownsStrategy}, nil
}

// Connect dials the server and runs handshake and auth. It fails with
// session.ErrAlreadyConnected while a session is open.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.Running() {
		return session.ErrAlreadyConnected
	}

	sess, err := session.New(c.config.Session)
	if err != nil {
		return err
	}
	sess.OnClose(c.release)
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	dialCfg := transport.DialConfig{
		TLSConfig:      c.config.TLSConfig,
		ConnectTimeout: c.config.ConnectTimeout,
	}
	err = sess.Connect(ctx, func(ctx context.Context) (net.Conn, error) {
		return transport.Dial(ctx, c.config.Endpoint, dialCfg)
	})
	if err != nil {
		c.mu.Lock()
		if c.session == sess {
			c.session = nil
		}
		c.mu.Unlock()
		c.infoLog("connect failed", "endpoint", c.config.Endpoint.String(), "error", err)
		return err
	}

	c.infoLog("connected",
		"endpoint", c.config.Endpoint.String(),
		"session", sess.ID(),
		"crypto", sess.CryptoState())
	return nil
}

// EnsureConnected connects unless a session is already open.
func (c *Client) EnsureConnected(ctx context.Context) error {
	if c.Running() {
		return nil
	}
	err := c.Connect(ctx)
	if errors.Is(err, session.ErrAlreadyConnected) {
		return nil
	}
	return err
}

// ConnectWithRetry connects, retrying transport and handshake failures with
// backoff. Auth and configuration failures are returned at once.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	cfg := c.config.Retry
	if cfg.Retryable == nil {
		cfg.Retryable = retryableConnect
	}
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.infoLog("connect retry", "attempt", attempt, "delay", delay, "error", err)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	return connection.Retry(ctx, cfg, c.EnsureConnected)
}

func retryableConnect(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindAuth, errs.KindConfiguration:
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Disconnect closes the open session, if any.
func (c *Client) Disconnect() error {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// Close disconnects and releases a strategy the client created.
func (c *Client) Close() error {
	err := c.Disconnect()
	if c.ownsStrategy {
		err = errors.Join(err, c.config.Session.Strategy.Close())
	}
	return err
}

// Running reports whether a session is open or connecting.
func (c *Client) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// Session returns the open session, or nil.
func (c *Client) Session() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Router returns the event router of the client's sessions.
func (c *Client) Router() *event.Router { return c.router }

// Send sends a message on the open session.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	return sess.Send(ctx, msg)
}

// SendBlock sends msg as one block frame.
func (c *Client) SendBlock(ctx context.Context, msg []byte) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	return sess.SendBlock(ctx, msg)
}

// Receive reads the next message from the open session.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	return sess.Receive(ctx)
}

// ReceiveBlock reads one block frame.
func (c *Client) ReceiveBlock(ctx context.Context) ([]byte, error) {
	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	return sess.ReceiveBlock(ctx)
}

func (c *Client) current() (*session.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

// release forgets a closed session.
func (c *Client) release(sess *session.Session, cause error) {
	c.mu.Lock()
	if c.session == sess {
		c.session = nil
	}
	c.mu.Unlock()
	c.debugLog("session closed", "session", sess.ID(), "cause", cause)
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}

func (c *Client) infoLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Info(msg, args...)
	}
}
