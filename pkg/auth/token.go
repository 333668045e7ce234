package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"sync"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// DefaultTokenLength is the length of generated tokens.
const DefaultTokenLength = 32

// tokenAlphabet is printable ASCII without space.
const tokenAlphabet = "!\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~"

// AllowAll accepts every peer.
type AllowAll struct{}

// Method returns "none".
func (AllowAll) Method() string { return MethodNone }

// Validate always returns true.
func (AllowAll) Validate(Peer) bool { return true }

// GenerateToken returns "".
func (AllowAll) GenerateToken() (string, error) { return "", nil }

// Token returns "".
func (AllowAll) Token() string { return "" }

// SetToken is a no-op.
func (AllowAll) SetToken(string) {}

// SharedToken accepts peers presenting the configured token.
type SharedToken struct {
	mu     sync.RWMutex
	token  string
	length int
}

// NewSharedToken creates a provider expecting token.
func NewSharedToken(token string) *SharedToken {
	return &SharedToken{token: token, length: DefaultTokenLength}
}

// Method returns "token".
func (p *SharedToken) Method() string { return MethodToken }

// Validate compares the presented token in constant time. An empty
// expected token never validates.
func (p *SharedToken) Validate(peer Peer) bool {
	if peer == nil {
		return false
	}
	p.mu.RLock()
	expected := p.token
	p.mu.RUnlock()
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(peer.PresentedToken()), []byte(expected)) == 1
}

// GenerateToken returns a random printable token of the configured length.
func (p *SharedToken) GenerateToken() (string, error) {
	p.mu.RLock()
	n := p.length
	p.mu.RUnlock()
	return RandomToken(n)
}

// Token returns the expected token.
func (p *SharedToken) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// SetToken replaces the expected token.
func (p *SharedToken) SetToken(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
}

// SetTokenLength changes the length of generated tokens.
func (p *SharedToken) SetTokenLength(n int) {
	if n <= 0 {
		n = DefaultTokenLength
	}
	p.mu.Lock()
	p.length = n
	p.mu.Unlock()
}

// RandomToken returns n characters drawn uniformly from printable ASCII
// (excluding space) using crypto/rand.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenLength
	}
	limit := big.NewInt(int64(len(tokenAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", errs.Auth("generate token", err)
		}
		out[i] = tokenAlphabet[idx.Int64()]
	}
	return string(out), nil
}

var (
	_ Provider = AllowAll{}
	_ Provider = (*SharedToken)(nil)
)
