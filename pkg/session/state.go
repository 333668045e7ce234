package session

// State is the lifecycle state of a session.
type State int32

const (
	// StateDisconnected is a session that has not been attached to a
	// connection yet.
	StateDisconnected State = iota

	// StateConnecting is set while the transport is being opened.
	StateConnecting

	// StateHandshaking is set during the key exchange.
	StateHandshaking

	// StateAuthenticating is set during the auth exchange.
	StateAuthenticating

	// StateReady is the only state application messages flow in.
	StateReady

	// StateClosing is set during a graceful close.
	StateClosing

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateReady:
		return "READY"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// CryptoState tells whether messages of a session are encrypted.
type CryptoState int32

const (
	// NoCrypto sends messages in plaintext.
	NoCrypto CryptoState = iota

	// KeyExchangeInFlight is set while the session key is negotiated.
	KeyExchangeInFlight

	// SessionKeyEstablished encrypts every message with the session key.
	SessionKeyEstablished
)

// String returns the crypto state name.
func (c CryptoState) String() string {
	switch c {
	case NoCrypto:
		return "NO_CRYPTO"
	case KeyExchangeInFlight:
		return "KEY_EXCHANGE"
	case SessionKeyEstablished:
		return "ESTABLISHED"
	default:
		return "UNKNOWN"
	}
}

// DecryptPolicy decides what Receive does with a payload that fails to
// decrypt.
type DecryptPolicy int

const (
	// FailSoft delivers the raw payload, counts the failure and logs it.
	FailSoft DecryptPolicy = iota

	// Strict returns a crypto error and drops the payload.
	Strict
)

// String returns the policy name.
func (p DecryptPolicy) String() string {
	switch p {
	case FailSoft:
		return "fail-soft"
	case Strict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseDecryptPolicy parses a policy name as written by String.
// The empty string selects FailSoft.
func ParseDecryptPolicy(s string) (DecryptPolicy, bool) {
	switch s {
	case "", "fail-soft":
		return FailSoft, true
	case "strict":
		return Strict, true
	default:
		return FailSoft, false
	}
}
