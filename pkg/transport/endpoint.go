package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// Supported networks.
const (
	NetworkTCP  = "tcp"
	NetworkTCP4 = "tcp4"
	NetworkTCP6 = "tcp6"
)

// DefaultPort is the default listen/dial port.
const DefaultPort = 8080

// ErrUnsupportedNetwork indicates a network other than tcp/tcp4/tcp6.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// Endpoint is a stream-socket address.
type Endpoint struct {
	// Network is tcp, tcp4 or tcp6 (default tcp).
	Network string

	// Host is a hostname or IP literal; empty listens on all interfaces.
	Host string

	// Port is the TCP port; 0 listens on an ephemeral port.
	Port int
}

// Validate checks the endpoint and fills the default network.
func (e *Endpoint) Validate() error {
	switch e.Network {
	case "":
		e.Network = NetworkTCP
	case NetworkTCP, NetworkTCP4, NetworkTCP6:
	default:
		return errs.Configuration("endpoint", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, e.Network))
	}
	if e.Port < 0 || e.Port > 65535 {
		return errs.Configurationf("endpoint: port %d out of range", e.Port)
	}
	return nil
}

// Address returns host:port, bracketing IPv6 literals.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns network://host:port.
func (e Endpoint) String() string {
	network := e.Network
	if network == "" {
		network = NetworkTCP
	}
	return network + "://" + e.Address()
}

// DialConfig configures outbound connections.
type DialConfig struct {
	// TLSConfig wraps the socket with TLS when non-nil.
	TLSConfig *tls.Config

	// ConnectTimeout applies when ctx has no deadline (default 30s).
	ConnectTimeout time.Duration

	// KeepAlive is the TCP keep-alive period (0 = OS default, <0 disabled).
	KeepAlive time.Duration
}

// Dial connects to ep, performing the TLS handshake when configured.
// Failures are transport errors.
func Dial(ctx context.Context, ep Endpoint, cfg DialConfig) (net.Conn, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{KeepAlive: cfg.KeepAlive}
	conn, err := dialer.DialContext(ctx, ep.Network, ep.Address())
	if err != nil {
		return nil, errs.Transport("dial "+ep.String(), err)
	}

	if cfg.TLSConfig == nil {
		return conn, nil
	}

	tlsConf := cfg.TLSConfig
	if tlsConf.ServerName == "" && !tlsConf.InsecureSkipVerify {
		tlsConf = tlsConf.Clone()
		tlsConf.ServerName = ep.Host
	}

	tlsConn := tls.Client(conn, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, errs.Transport("TLS handshake", err)
	}
	return tlsConn, nil
}

// Listen opens a listening socket on ep. TLS is applied per connection by
// Server, inside the connection's own goroutine.
func Listen(ep Endpoint) (net.Listener, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	ln, err := net.Listen(ep.Network, ep.Address())
	if err != nil {
		return nil, errs.Transport("listen "+ep.String(), err)
	}
	return ln, nil
}
