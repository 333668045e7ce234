package auth

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// Method names.
const (
	MethodNone  = "none"
	MethodToken = "token"
)

// Factory configuration keys.
const (
	KeyToken       = "token"
	KeyTokenLength = "token_length"
)

// Peer is the view of a session an auth policy sees.
type Peer interface {
	// ID returns the session identifier.
	ID() string

	// PresentedToken returns the credential the peer sent during the auth
	// exchange, or "" when none was sent.
	PresentedToken() string
}

// Provider decides whether a peer may proceed past authentication.
type Provider interface {
	// Method returns the registry name of the policy.
	Method() string

	// Validate reports whether peer is accepted.
	Validate(peer Peer) bool

	// GenerateToken returns a fresh random token. It does not install it.
	GenerateToken() (string, error)

	// Token returns the credential this side presents or expects.
	Token() string

	// SetToken replaces the credential.
	SetToken(token string)
}

var factories = map[string]func(cfg map[string]string) (Provider, error){
	MethodNone: func(map[string]string) (Provider, error) {
		return AllowAll{}, nil
	},
	MethodToken: newSharedTokenFromConfig,
}

// New creates the provider registered under method. An unknown method or a
// missing required key is a configuration error.
func New(method string, cfg map[string]string) (Provider, error) {
	if method == "" {
		method = MethodNone
	}
	factory, ok := factories[method]
	if !ok {
		return nil, errs.Configuration("auth", fmt.Errorf("unknown auth method %q", method))
	}
	return factory(cfg)
}

// Methods returns the registered method names in sorted order.
func Methods() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newSharedTokenFromConfig(cfg map[string]string) (Provider, error) {
	token, ok := cfg[KeyToken]
	if !ok {
		return nil, errs.Configurationf("auth: method %q requires %q", MethodToken, KeyToken)
	}

	p := NewSharedToken(token)
	if s, ok := cfg[KeyTokenLength]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, errs.Configurationf("auth: invalid %s %q", KeyTokenLength, s)
		}
		p.length = n
	}
	return p, nil
}
