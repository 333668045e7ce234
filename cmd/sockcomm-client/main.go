// Command sockcomm-client is an interactive sockcomm client.
//
// Settings come from an optional YAML file, SOCKCOMM_* environment
// variables and finally the command-line flags below.
//
// Usage:
//
//	sockcomm-client [flags]
//
// Flags:
//
//	-config string        Configuration file path
//	-host string          Server host (overrides config)
//	-port int             Server port (overrides config)
//	-token string         Shared token; selects token auth
//	-key-file string      PEM RSA private key for the key exchange
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Write protocol events to this file (.sclog)
//
// Examples:
//
//	# Connect to a local server
//	sockcomm-client -port 8080
//
//	# Token auth against a fernet server
//	SOCKCOMM_ENCRYPTION__CIPHER=fernet sockcomm-client -token 's3cret'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sockcomm/sockcomm-go/cmd/sockcomm-client/interactive"
	"github.com/sockcomm/sockcomm-go/pkg/auth"
	"github.com/sockcomm/sockcomm-go/pkg/config"
	"github.com/sockcomm/sockcomm-go/pkg/log"
	"github.com/sockcomm/sockcomm-go/pkg/service"
)

// Flags holds the command-line overrides.
type Flags struct {
	ConfigFile  string
	Host        string
	Port        int
	Token       string
	KeyFile     string
	LogLevel    string
	ProtocolLog string
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Host, "host", "", "Server host (overrides config)")
	flag.IntVar(&flags.Port, "port", -1, "Server port (overrides config)")
	flag.StringVar(&flags.Token, "token", "", "Shared token; selects token auth")
	flag.StringVar(&flags.KeyFile, "key-file", "", "PEM RSA private key for the key exchange")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fatal("Invalid configuration", err)
	}

	cc, err := cfg.BuildClient()
	if err != nil {
		fatal("Failed to build client configuration", err)
	}

	strategy, err := cfg.Strategy()
	if err != nil {
		fatal("Failed to create strategy", err)
	}
	defer strategy.Close()

	var protocolLogger *log.FileLogger
	if cfg.Logging.ProtocolLog != "" {
		protocolLogger, err = log.NewFileLogger(cfg.Logging.ProtocolLog)
		if err != nil {
			fatal("Failed to open protocol log", err)
		}
		defer protocolLogger.Close()
		cc.ProtocolLogger = protocolLogger
	}

	shell, err := interactive.New()
	if err != nil {
		fatal("Failed to start shell", err)
	}

	logger := slog.New(slog.NewTextHandler(shell.Stdout(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	cc.Logger = logger
	cc.Strategy = strategy

	client, err := service.NewClient(cc)
	if err != nil {
		fatal("Failed to create client", err)
	}
	defer client.Close()
	shell.SetClient(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("connecting", "endpoint", cc.Endpoint.String(), "cipher", cfg.Encryption.Cipher, "auth", cfg.Auth.Method)
	if err := client.ConnectWithRetry(ctx); err != nil {
		logger.Error("connect failed, use 'connect' to retry", "error", err)
	}

	shell.Run(ctx, cancel)

	if err := client.Disconnect(); err != nil {
		logger.Debug("disconnect", "error", err)
	}
}

func applyFlags(cfg *config.Config) {
	if flags.Host != "" {
		cfg.Client.Host = flags.Host
	}
	if flags.Port >= 0 {
		cfg.Client.Port = flags.Port
	}
	if flags.Token != "" {
		cfg.Auth.Method = auth.MethodToken
		cfg.Auth.Token = flags.Token
	}
	if flags.KeyFile != "" {
		cfg.Encryption.PrivateKeyFile = flags.KeyFile
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}
	if flags.ProtocolLog != "" {
		cfg.Logging.ProtocolLog = flags.ProtocolLog
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
