// Package transport provides the sockcomm wire layer.
//
// The transport layer handles:
//   - Length-prefixed message framing (8-byte big-endian length)
//   - Chunked and block payload transfer
//   - Optional TLS wrapping of TCP sockets
//   - The accept loop used by servers
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Application bytes            │
//	├────────────────────────────────┤
//	│   Session cipher (optional)    │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (8B)   │
//	├────────────────────────────────┤
//	│   TLS (optional)               │
//	├────────────────────────────────┤
//	│   TCP (v4 or v6)               │
//	└────────────────────────────────┘
//
// # Frames
//
// A frame is a uint64 big-endian length followed by that many payload
// bytes. The length counts the bytes on the wire, after encryption. A
// reader that sees the peer close after the first prefix byte but before
// the last payload byte reports ErrConnectionInterrupted; it never returns
// a truncated payload. A close before any prefix byte is io.EOF.
//
// For interoperability with peers that transmit the length as text, a
// prefix made only of ASCII digits (optionally space padded) is parsed as
// a decimal number.
//
// # Timeouts
//
// ReadFrame has no timeout of its own. Callers set a read deadline on the
// connection (sessions do this from the context deadline).
package transport
