package log

import (
	"time"
)

// Event is one protocol event captured by a session, server or client.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole tells whether the capturing side initiated the connection.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Handshake   *HandshakeEvent   `cbor:"13,keyasint,omitempty"`
	Auth        *AuthEvent        `cbor:"14,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the stack captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes on the wire).
	LayerTransport Layer = 0
	// LayerSession is the handshake/auth/cipher layer.
	LayerSession Layer = 1
	// LayerService is the server/client orchestration layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSession:
		return "SESSION"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a frame or application message.
	CategoryMessage Category = 0
	// CategoryHandshake indicates a key exchange step.
	CategoryHandshake Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
	// CategoryAuth indicates an authentication verdict.
	CategoryAuth Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryAuth:
		return "AUTH"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which end of the connection captured the event.
type Role uint8

const (
	// RoleResponder is the accepting (server) side.
	RoleResponder Role = 0
	// RoleInitiator is the connecting (client) side.
	RoleInitiator Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleResponder:
		return "RESPONDER"
	case RoleInitiator:
		return "INITIATOR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including the length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the payload (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Block is set when the frame was sent or read in a single write/read.
	Block bool `cbor:"4,keyasint,omitempty"`
}

// MessageEvent captures an application message after the cipher layer.
type MessageEvent struct {
	// Size is the plaintext size in bytes.
	Size int `cbor:"1,keyasint"`

	// Cipher is the cipher name, empty in plaintext mode.
	Cipher string `cbor:"2,keyasint,omitempty"`

	// DecryptFallback is set when decryption failed and raw bytes were
	// delivered instead.
	DecryptFallback bool `cbor:"3,keyasint,omitempty"`

	// EventsDispatched is the number of embedded event handlers started.
	EventsDispatched int `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures session and service lifecycle changes.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySession indicates a session lifecycle change.
	StateEntitySession StateEntity = 0
	// StateEntityCrypto indicates a session crypto state change.
	StateEntityCrypto StateEntity = 1
	// StateEntityService indicates a server or client state change.
	StateEntityService StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityCrypto:
		return "CRYPTO"
	case StateEntityService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// HandshakeEvent captures one step of the key exchange.
type HandshakeEvent struct {
	// Step is the handshake step.
	Step HandshakeStep `cbor:"1,keyasint"`

	// Size is the number of bytes sent or received in this step.
	Size int `cbor:"2,keyasint,omitempty"`

	// Cipher is the negotiated cipher name.
	Cipher string `cbor:"3,keyasint,omitempty"`
}

// HandshakeStep identifies a key exchange step.
type HandshakeStep uint8

const (
	// HandshakePublicKey is the public key transfer.
	HandshakePublicKey HandshakeStep = 0
	// HandshakeSessionKey is the encrypted session key transfer.
	HandshakeSessionKey HandshakeStep = 1
	// HandshakeEstablished marks an installed session key.
	HandshakeEstablished HandshakeStep = 2
	// HandshakeFallback marks a degradation to plaintext.
	HandshakeFallback HandshakeStep = 3
	// HandshakePreShared marks use of a configured key without exchange.
	HandshakePreShared HandshakeStep = 4
)

// String returns the step name.
func (h HandshakeStep) String() string {
	switch h {
	case HandshakePublicKey:
		return "PUBLIC_KEY"
	case HandshakeSessionKey:
		return "SESSION_KEY"
	case HandshakeEstablished:
		return "ESTABLISHED"
	case HandshakeFallback:
		return "FALLBACK"
	case HandshakePreShared:
		return "PRE_SHARED"
	default:
		return "UNKNOWN"
	}
}

// AuthEvent captures the authentication verdict for a session.
type AuthEvent struct {
	// Method is the auth provider name.
	Method string `cbor:"1,keyasint"`

	// Accepted is the verdict.
	Accepted bool `cbor:"2,keyasint"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Kind is the error category name (transport, framing, ...).
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
