// Command sockcomm-server runs a sockcomm server.
//
// Settings come from an optional YAML file, SOCKCOMM_* environment
// variables and finally the command-line flags below.
//
// Usage:
//
//	sockcomm-server [flags]
//
// Flags:
//
//	-config string        Configuration file path
//	-host string          Listen host (overrides config)
//	-port int             Listen port (overrides config)
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Write protocol events to this file (.sclog)
//	-echo                 Echo every message back to its sender
//	-gen-token            Switch to token auth with a freshly generated token
//
// Examples:
//
//	# Echo server with fernet and key exchange
//	SOCKCOMM_ENCRYPTION__CIPHER=fernet sockcomm-server -echo
//
//	# Token auth with a freshly generated token
//	sockcomm-server -gen-token
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sockcomm/sockcomm-go/pkg/auth"
	"github.com/sockcomm/sockcomm-go/pkg/config"
	"github.com/sockcomm/sockcomm-go/pkg/log"
	"github.com/sockcomm/sockcomm-go/pkg/service"
	"github.com/sockcomm/sockcomm-go/pkg/session"
)

// Flags holds the command-line overrides.
type Flags struct {
	ConfigFile  string
	Host        string
	Port        int
	LogLevel    string
	ProtocolLog string
	Echo        bool
	GenToken    bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Host, "host", "", "Listen host (overrides config)")
	flag.IntVar(&flags.Port, "port", -1, "Listen port (overrides config)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
	flag.BoolVar(&flags.Echo, "echo", false, "Echo every message back to its sender")
	flag.BoolVar(&flags.GenToken, "gen-token", false, "Switch to token auth with a freshly generated token")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	applyFlags(cfg)
	if flags.GenToken {
		token, err := auth.RandomToken(auth.DefaultTokenLength)
		if err != nil {
			fatal("Failed to generate token", err)
		}
		cfg.Auth.Method = auth.MethodToken
		cfg.Auth.Token = token
		fmt.Printf("Shared token: %s\n", token)
	}
	if err := cfg.Validate(); err != nil {
		fatal("Invalid configuration", err)
	}

	logger := setupLogging(cfg.SlogLevel())

	sc, err := cfg.BuildServer()
	if err != nil {
		fatal("Failed to build server configuration", err)
	}

	strategy, err := cfg.Strategy()
	if err != nil {
		fatal("Failed to create strategy", err)
	}
	defer strategy.Close()

	protocolLogger, closeLog := setupProtocolLog(cfg.Logging.ProtocolLog, logger)
	defer closeLog()

	sc.Strategy = strategy
	sc.Logger = logger
	sc.ProtocolLogger = protocolLogger
	sc.OnMessage = handleMessage(logger, flags.Echo)

	srv, err := service.NewServer(sc)
	if err != nil {
		fatal("Failed to create server", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		fatal("Failed to start server", err)
	}
	logger.Info("server started",
		"addr", srv.Addr().String(),
		"cipher", cfg.Encryption.Cipher,
		"auth", cfg.Auth.Method,
		"strategy", strategy.Name(),
		"echo", flags.Echo)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String(), "sessions", srv.SessionCount())
	if err := srv.Stop(); err != nil {
		logger.Error("error stopping server", "error", err)
	}
}

func applyFlags(cfg *config.Config) {
	if flags.Host != "" {
		cfg.Server.Host = flags.Host
	}
	if flags.Port >= 0 {
		cfg.Server.Port = flags.Port
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}
	if flags.ProtocolLog != "" {
		cfg.Logging.ProtocolLog = flags.ProtocolLog
	}
}

func setupLogging(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// setupProtocolLog opens the protocol log file. At debug level protocol
// events are mirrored into the operational log as well.
func setupProtocolLog(path string, logger *slog.Logger) (log.Logger, func()) {
	var loggers []log.Logger
	closeFn := func() {}

	if path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			fatal("Failed to open protocol log", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() {
			written, dropped := fl.Stats()
			if err := fl.Close(); err != nil {
				logger.Error("failed to close protocol log", "error", err)
			}
			logger.Info("protocol log closed", "path", path, "written", written, "dropped", dropped)
		}
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	switch len(loggers) {
	case 0:
		return nil, closeFn
	case 1:
		return loggers[0], closeFn
	default:
		return log.NewMultiLogger(loggers...), closeFn
	}
}

func handleMessage(logger *slog.Logger, echo bool) service.MessageHandler {
	return func(ctx context.Context, s *session.Session, msg []byte) {
		logger.Info("message", "session", s.ID(), "size", len(msg), "text", string(msg))
		if !echo {
			return
		}
		if err := s.Send(ctx, msg); err != nil {
			logger.Warn("echo failed", "session", s.ID(), "error", err)
		}
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
