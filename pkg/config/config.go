// Package config loads server and client settings from a YAML file and the
// environment, validates them and builds the runtime objects they describe.
//
// Settings are applied in three layers: built-in defaults, then the file,
// then environment variables of the form SOCKCOMM_<SECTION>__<FIELD>
// (nested structs and maps add further __-separated segments):
//
//	SOCKCOMM_SERVER__PORT=9000
//	SOCKCOMM_ENCRYPTION__CIPHER=fernet
//	SOCKCOMM_CLIENT__BACKOFF__INITIAL=250ms
//	SOCKCOMM_AUTH__OPTIONS__TOKEN=secret
//
// Validate reports every problem as a configuration error before any
// network activity takes place.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sockcomm/sockcomm-go/pkg/auth"
	"github.com/sockcomm/sockcomm-go/pkg/concurrency"
	"github.com/sockcomm/sockcomm-go/pkg/connection"
	"github.com/sockcomm/sockcomm-go/pkg/crypt"
	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/service"
	"github.com/sockcomm/sockcomm-go/pkg/session"
	"github.com/sockcomm/sockcomm-go/pkg/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOCKCOMM"

// Config is the complete configuration of a server or client process.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Client      ClientConfig      `yaml:"client"`
	Auth        AuthConfig        `yaml:"auth"`
	TLS         TLSConfig         `yaml:"tls"`
	Encryption  EncryptionConfig  `yaml:"encryption"`
	Logging     LoggingConfig     `yaml:"logging"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
}

// ServerConfig holds the listening side settings.
type ServerConfig struct {
	Network       string        `yaml:"network"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	StaleTimeout  time.Duration `yaml:"stale_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ClientConfig holds the connecting side settings.
type ClientConfig struct {
	Network        string                   `yaml:"network"`
	Host           string                   `yaml:"host"`
	Port           int                      `yaml:"port"`
	ConnectTimeout time.Duration            `yaml:"connect_timeout"`
	RetryAttempts  int                      `yaml:"retry_attempts"`
	Backoff        connection.BackoffConfig `yaml:"backoff"`
}

// AuthConfig selects the auth policy. Token is shorthand for
// Options["token"].
type AuthConfig struct {
	Method  string            `yaml:"method"`
	Token   string            `yaml:"token"`
	Options map[string]string `yaml:"options"`
}

// TLSConfig wraps sockets with TLS when Enabled.
type TLSConfig struct {
	Enabled bool               `yaml:"enabled"`
	Files   transport.TLSFiles `yaml:",inline"`
}

// EncryptionConfig selects the message cipher and the handshake. Key (base64)
// or Passphrase configures a pre-shared key; otherwise the session key is
// exchanged during the handshake. PrivateKeyFile names a PEM RSA key the
// client offers instead of generating a keypair per session.
type EncryptionConfig struct {
	Cipher           string        `yaml:"cipher"`
	Key              string        `yaml:"key"`
	Passphrase       string        `yaml:"passphrase"`
	Salt             string        `yaml:"salt"`
	Exchanger        string        `yaml:"exchanger"`
	PrivateKeyFile   string        `yaml:"private_key_file"`
	StrictHandshake  bool          `yaml:"strict_handshake"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	DecryptPolicy    string        `yaml:"decrypt_policy"`
}

// LoggingConfig sets the log level and the optional protocol log file.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	ProtocolLog string `yaml:"protocol_log"`
}

// RateLimitConfig configures server-side inbound rate limiting per session.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"`
	Capacity        float64       `yaml:"capacity"`
	Policy          string        `yaml:"policy"`
	Wait            time.Duration `yaml:"wait"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ConcurrencyConfig selects the scheduling strategy.
type ConcurrencyConfig struct {
	Strategy string `yaml:"strategy"`
	Workers  int    `yaml:"workers"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Network:       transport.NetworkTCP,
			Host:          "127.0.0.1",
			Port:          transport.DefaultPort,
			StaleTimeout:  service.DefaultStaleTimeout,
			SweepInterval: service.DefaultSweepInterval,
		},
		Client: ClientConfig{
			Network:        transport.NetworkTCP,
			Host:           "127.0.0.1",
			Port:           transport.DefaultPort,
			ConnectTimeout: 10 * time.Second,
			RetryAttempts:  5,
			Backoff: connection.BackoffConfig{
				Initial:    connection.InitialBackoff,
				Max:        connection.MaxBackoff,
				Multiplier: connection.BackoffMultiplier,
				Jitter:     connection.JitterFactor,
			},
		},
		Auth: AuthConfig{
			Method: auth.MethodNone,
		},
		Encryption: EncryptionConfig{
			Exchanger:        crypt.ExchangerRSA,
			HandshakeTimeout: session.DefaultHandshakeTimeout,
			DecryptPolicy:    session.FailSoft.String(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			Rate:     2,
			Capacity: 5,
			Policy:   service.RateDrop.String(),
			Wait:     service.DefaultRateWait,
		},
		Concurrency: ConcurrencyConfig{
			Strategy: concurrency.NameCooperative,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Configuration("config: read "+path, err)
		}
		if err := cfg.Decode(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.Environ()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges YAML data into c. Unknown keys are errors.
func (c *Config) Decode(data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return errs.Configuration("config: parse", err)
	}
	return nil
}

// Validate checks every setting without touching the network or the file
// system. All problems are joined in one configuration error.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	for _, ep := range []struct {
		name string
		ep   transport.Endpoint
	}{
		{"server", c.ServerEndpoint()},
		{"client", c.ClientEndpoint()},
	} {
		if err := ep.ep.Validate(); err != nil {
			add("%s: %w", ep.name, err)
		}
	}

	if c.Encryption.Key != "" && c.Encryption.Passphrase != "" {
		add("encryption: key and passphrase are mutually exclusive")
	} else if c.Encryption.Cipher != "" {
		if _, err := c.Cipher(); err != nil {
			add("encryption: %w", err)
		}
	} else if c.Encryption.Key != "" || c.Encryption.Passphrase != "" {
		add("encryption: key or passphrase set without a cipher")
	}
	if _, err := crypt.NewExchanger(c.Encryption.Exchanger); err != nil {
		add("encryption.exchanger: %w", err)
	}
	if _, ok := session.ParseDecryptPolicy(c.Encryption.DecryptPolicy); !ok {
		add("encryption.decrypt_policy: unknown policy %q", c.Encryption.DecryptPolicy)
	}
	if c.Encryption.PrivateKeyFile != "" && c.Encryption.Exchanger != crypt.ExchangerRSA {
		add("encryption.private_key_file: only the rsa key exchange takes a keypair")
	}
	if c.Encryption.HandshakeTimeout < 0 {
		add("encryption.handshake_timeout: must not be negative")
	}

	if _, err := c.AuthProvider(); err != nil {
		add("auth: %w", err)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			add("rate_limit.rate: must be positive, got %v", c.RateLimit.Rate)
		}
		if c.RateLimit.Capacity < 1 {
			add("rate_limit.capacity: must be at least 1, got %v", c.RateLimit.Capacity)
		}
	}
	if _, ok := service.ParseRatePolicy(c.RateLimit.Policy); !ok {
		add("rate_limit.policy: unknown policy %q", c.RateLimit.Policy)
	}

	if strategy, err := concurrency.New(c.Concurrency.Strategy, c.Concurrency.Workers); err != nil {
		add("concurrency.strategy: %w", err)
	} else {
		strategy.Close()
	}
	if c.Concurrency.Workers < 0 {
		add("concurrency.workers: must not be negative")
	}

	if _, ok := parseLevel(c.Logging.Level); !ok {
		add("logging.level: unknown level %q", c.Logging.Level)
	}

	if c.TLS.Enabled && c.TLS.Files.CertFile == "" && c.TLS.Files.CAFile == "" {
		add("tls: enabled without cert_file or ca_file")
	}

	if len(problems) == 0 {
		return nil
	}
	return errs.Configuration("config", errors.Join(problems...))
}
