// Package errs defines the error taxonomy shared by every sockcomm package.
//
// Errors carry a Kind so callers can branch on the category without knowing
// which package produced them:
//
//	if errors.Is(err, errs.ErrFraming) {
//	    // peer vanished mid-frame, session is gone
//	}
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind uint8

const (
	// KindTransport covers connect, accept and socket I/O failures.
	KindTransport Kind = iota + 1

	// KindFraming covers short or closed reads in the middle of a frame.
	KindFraming

	// KindCrypto covers handshake and cipher failures.
	KindCrypto

	// KindAuth covers missing or invalid credentials.
	KindAuth

	// KindConfiguration covers unknown cipher/auth names and invalid keys.
	KindConfiguration
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFraming:
		return "framing"
	case KindCrypto:
		return "crypto"
	case KindAuth:
		return "auth"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Kind sentinels for errors.Is matching.
var (
	ErrTransport     = &Error{Kind: KindTransport}
	ErrFraming       = &Error{Kind: KindFraming}
	ErrCrypto        = &Error{Kind: KindCrypto}
	ErrAuth          = &Error{Kind: KindAuth}
	ErrConfiguration = &Error{Kind: KindConfiguration}
)

// Error is a categorized error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error returns the error text.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	default:
		return e.Kind.String() + " error"
	}
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a kind sentinel with the same Kind.
// Only bare sentinels (no Op, no Err) match by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

// E builds a categorized error. A nil err with an empty op still
// yields a valid error of the given kind.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transport wraps err as a transport error.
func Transport(op string, err error) error { return E(KindTransport, op, err) }

// Framing wraps err as a framing error.
func Framing(op string, err error) error { return E(KindFraming, op, err) }

// Crypto wraps err as a crypto error.
func Crypto(op string, err error) error { return E(KindCrypto, op, err) }

// Auth wraps err as an auth error.
func Auth(op string, err error) error { return E(KindAuth, op, err) }

// Configuration wraps err as a configuration error.
func Configuration(op string, err error) error { return E(KindConfiguration, op, err) }

// Configurationf builds a configuration error from a format string.
func Configurationf(format string, args ...any) error {
	return E(KindConfiguration, "", fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the first categorized error in err's chain,
// or 0 when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsFatal reports whether err should terminate a session.
// Transport and framing errors are fatal; the rest are per-call.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindFraming:
		return true
	default:
		return false
	}
}
