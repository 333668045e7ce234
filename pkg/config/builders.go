package config

import (
	"crypto/rsa"
	"crypto/tls"
	"encoding/base64"
	"log/slog"
	"os"
	"strings"

	"github.com/sockcomm/sockcomm-go/pkg/auth"
	"github.com/sockcomm/sockcomm-go/pkg/concurrency"
	"github.com/sockcomm/sockcomm-go/pkg/connection"
	"github.com/sockcomm/sockcomm-go/pkg/crypt"
	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/ratelimit"
	"github.com/sockcomm/sockcomm-go/pkg/service"
	"github.com/sockcomm/sockcomm-go/pkg/session"
	"github.com/sockcomm/sockcomm-go/pkg/transport"
)

// ServerEndpoint returns the listen endpoint.
func (c *Config) ServerEndpoint() transport.Endpoint {
	return transport.Endpoint{Network: c.Server.Network, Host: c.Server.Host, Port: c.Server.Port}
}

// ClientEndpoint returns the dial endpoint.
func (c *Config) ClientEndpoint() transport.Endpoint {
	return transport.Endpoint{Network: c.Client.Network, Host: c.Client.Host, Port: c.Client.Port}
}

// PreSharedKey returns the configured cipher key, or nil when the key is
// to be exchanged during the handshake.
func (c *Config) PreSharedKey() ([]byte, error) {
	enc := c.Encryption
	switch {
	case enc.Key != "":
		key, err := base64.StdEncoding.DecodeString(enc.Key)
		if err != nil {
			return nil, errs.Configuration("encryption.key", err)
		}
		return key, nil
	case enc.Passphrase != "":
		return crypt.DeriveCipherKey(enc.Cipher, []byte(enc.Passphrase), []byte(enc.Salt))
	default:
		return nil, nil
	}
}

// Cipher builds the configured cipher, or returns nil when encryption is
// off.
func (c *Config) Cipher() (crypt.Cipher, error) {
	if c.Encryption.Cipher == "" {
		return nil, nil
	}
	key, err := c.PreSharedKey()
	if err != nil {
		return nil, err
	}
	return crypt.NewCipher(c.Encryption.Cipher, key)
}

// KeyPair loads the configured external keypair, or returns nil when the
// keypair is generated per session.
func (c *Config) KeyPair() (*rsa.PrivateKey, error) {
	if c.Encryption.PrivateKeyFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Encryption.PrivateKeyFile)
	if err != nil {
		return nil, errs.Configuration("encryption.private_key_file", err)
	}
	priv, err := crypt.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, errs.Configuration("encryption.private_key_file", err)
	}
	return priv, nil
}

// AuthProvider builds the configured auth policy.
func (c *Config) AuthProvider() (auth.Provider, error) {
	opts := make(map[string]string, len(c.Auth.Options)+1)
	for k, v := range c.Auth.Options {
		opts[k] = v
	}
	if c.Auth.Token != "" {
		opts[auth.KeyToken] = c.Auth.Token
	}
	return auth.New(c.Auth.Method, opts)
}

// Strategy builds the configured scheduling strategy. The caller closes it.
func (c *Config) Strategy() (concurrency.Strategy, error) {
	return concurrency.New(c.Concurrency.Strategy, c.Concurrency.Workers)
}

// RateLimiter builds the per-session inbound limiter, or nil when rate
// limiting is disabled.
func (c *Config) RateLimiter() *ratelimit.Limiter {
	if !c.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(ratelimit.Config{
		Rate:            c.RateLimit.Rate,
		Capacity:        c.RateLimit.Capacity,
		IdleTimeout:     c.RateLimit.IdleTimeout,
		CleanupInterval: c.RateLimit.CleanupInterval,
	})
}

// TLSServerConfig builds the listener TLS configuration, or nil when TLS is
// disabled.
func (c *Config) TLSServerConfig() (*tls.Config, error) {
	if !c.TLS.Enabled {
		return nil, nil
	}
	return transport.NewServerTLSConfig(&c.TLS.Files)
}

// TLSClientConfig builds the dialer TLS configuration, or nil when TLS is
// disabled.
func (c *Config) TLSClientConfig() (*tls.Config, error) {
	if !c.TLS.Enabled {
		return nil, nil
	}
	return transport.NewClientTLSConfig(&c.TLS.Files)
}

// SlogLevel returns the configured log level. Unknown names yield Info.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Logging.Level)
	return level
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// SessionConfig builds the session template shared by both roles.
func (c *Config) SessionConfig() (session.Config, error) {
	provider, err := c.AuthProvider()
	if err != nil {
		return session.Config{}, err
	}
	policy, ok := session.ParseDecryptPolicy(c.Encryption.DecryptPolicy)
	if !ok {
		return session.Config{}, errs.Configurationf("encryption.decrypt_policy: unknown policy %q", c.Encryption.DecryptPolicy)
	}

	sc := session.Config{
		Cipher:           c.Encryption.Cipher,
		Exchanger:        c.Encryption.Exchanger,
		StrictHandshake:  c.Encryption.StrictHandshake,
		HandshakeTimeout: c.Encryption.HandshakeTimeout,
		Auth:             provider,
		DecryptPolicy:    policy,
	}
	if sc.Cipher != "" {
		if sc.Key, err = c.PreSharedKey(); err != nil {
			return session.Config{}, err
		}
	}
	return sc, nil
}

// BuildServer assembles a service.ServerConfig. Handlers, loggers and the
// strategy are left for the caller.
func (c *Config) BuildServer() (service.ServerConfig, error) {
	sc, err := c.SessionConfig()
	if err != nil {
		return service.ServerConfig{}, err
	}
	tlsConfig, err := c.TLSServerConfig()
	if err != nil {
		return service.ServerConfig{}, err
	}
	policy, ok := service.ParseRatePolicy(c.RateLimit.Policy)
	if !ok {
		return service.ServerConfig{}, errs.Configurationf("rate_limit.policy: unknown policy %q", c.RateLimit.Policy)
	}

	return service.ServerConfig{
		Endpoint:      c.ServerEndpoint(),
		TLSConfig:     tlsConfig,
		Session:       sc,
		RateLimiter:   c.RateLimiter(),
		RatePolicy:    policy,
		RateWait:      c.RateLimit.Wait,
		StaleTimeout:  c.Server.StaleTimeout,
		IdleTimeout:   c.Server.IdleTimeout,
		SweepInterval: c.Server.SweepInterval,
	}, nil
}

// BuildClient assembles a service.ClientConfig. Loggers and the strategy
// are left for the caller.
func (c *Config) BuildClient() (service.ClientConfig, error) {
	sc, err := c.SessionConfig()
	if err != nil {
		return service.ClientConfig{}, err
	}
	if sc.Cipher != "" && sc.Key == nil {
		if sc.KeyPair, err = c.KeyPair(); err != nil {
			return service.ClientConfig{}, err
		}
	}
	tlsConfig, err := c.TLSClientConfig()
	if err != nil {
		return service.ClientConfig{}, err
	}

	return service.ClientConfig{
		Endpoint:       c.ClientEndpoint(),
		TLSConfig:      tlsConfig,
		ConnectTimeout: c.Client.ConnectTimeout,
		Session:        sc,
		Retry: connection.RetryConfig{
			Attempts: c.Client.RetryAttempts,
			Backoff:  c.Client.Backoff,
		},
	}, nil
}
