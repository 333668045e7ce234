package session

import "errors"

// MaxHandshakeSize caps the unframed public key a responder accepts.
const MaxHandshakeSize = 2048

// Session errors.
var (
	ErrNotReady            = errors.New("session not ready")
	ErrAlreadyConnected    = errors.New("session already connected")
	ErrSessionClosed       = errors.New("session closed")
	ErrAuthRejected        = errors.New("authentication rejected by peer")
	ErrHandshakeTooLarge   = errors.New("handshake payload exceeds 2048 bytes")
	ErrKeyExchangeDeclined = errors.New("peer declined key exchange")
)
