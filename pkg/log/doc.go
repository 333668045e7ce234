// Package log provides protocol event capture for sockcomm sessions.
//
// It is separate from operational logging (slog): operational logs tell an
// operator what the process is doing, protocol capture records what went
// over the wire so a session can be reconstructed afterwards.
//
// # Basic Usage
//
//	// Console, during development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary file, for later analysis with sockcomm-log
//	fl, _ := log.NewFileLogger("/var/log/sockcomm/server.sclog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - Transport: frames as written to or read from the socket (FrameEvent)
//   - Session: handshake steps, auth verdicts, decrypted messages
//   - Service: server and client lifecycle (StateChangeEvent)
//
// Errors at any layer are recorded as ErrorEventData.
//
// # File Format
//
// Files are a plain sequence of CBOR-encoded events with integer keys,
// conventionally named *.sclog.
package log
