package session

import (
	"crypto/rsa"
	"log/slog"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/auth"
	"github.com/sockcomm/sockcomm-go/pkg/concurrency"
	"github.com/sockcomm/sockcomm-go/pkg/crypt"
	"github.com/sockcomm/sockcomm-go/pkg/event"
	"github.com/sockcomm/sockcomm-go/pkg/log"
	"github.com/sockcomm/sockcomm-go/pkg/transport"
)

// DefaultHandshakeTimeout bounds each read of the handshake and the auth
// exchange.
const DefaultHandshakeTimeout = 5 * time.Second

// Config configures a session.
type Config struct {
	// Role selects the handshake side. The initiator sends its public key
	// and its token; the responder answers.
	Role log.Role

	// Cipher is the cipher name. Empty means plaintext.
	Cipher string

	// Key is a pre-shared cipher key. When set the key exchange is skipped
	// and both peers must hold the same key.
	Key []byte

	// Exchanger is the key exchange name (default "rsa").
	Exchanger string

	// KeyPair is an external keypair for the key exchange. The initiator
	// sends its public half instead of generating a fresh keypair.
	KeyPair *rsa.PrivateKey

	// StrictHandshake turns a failed key exchange into a crypto error that
	// closes the session instead of degrading to plaintext.
	StrictHandshake bool

	// HandshakeTimeout bounds each handshake and auth read (default 5s).
	HandshakeTimeout time.Duration

	// Auth validates the peer (responder) or supplies the token to present
	// (initiator). Nil accepts everybody and presents an empty token.
	Auth auth.Provider

	// DecryptPolicy decides what happens to undecryptable payloads.
	DecryptPolicy DecryptPolicy

	// Strategy runs cipher and key exchange work. Nil runs it on the
	// calling goroutine.
	Strategy concurrency.Strategy

	// Router receives every delivered message for event dispatch.
	// Nil disables dispatch.
	Router *event.Router

	// Frame configures the framing codec.
	Frame transport.FrameConfig

	// Logger receives operational logs. Nil is silent.
	Logger *slog.Logger

	// ProtocolLogger receives protocol events. Nil disables capture.
	ProtocolLogger log.Logger
}

func (c Config) withDefaults() Config {
	if c.Exchanger == "" {
		c.Exchanger = crypt.ExchangerRSA
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Auth == nil {
		c.Auth = auth.AllowAll{}
	}
	if c.Strategy == nil {
		c.Strategy = concurrency.NewThreadPerConn()
	}
	return c
}
