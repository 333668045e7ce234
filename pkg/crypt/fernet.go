package crypt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// FernetKeySize is the raw size of a fernet key.
const FernetKeySize = 32

// ErrInvalidToken indicates a fernet token that failed verification.
var ErrInvalidToken = errors.New("invalid or expired token")

// FernetCipher produces authenticated, timestamped, versioned fernet tokens.
type FernetCipher struct {
	mu  sync.RWMutex
	key *fernet.Key
	ttl time.Duration
}

// NewFernetCipher creates a fernet cipher with no key installed. A positive
// ttl rejects tokens older than ttl on decrypt.
func NewFernetCipher(ttl time.Duration) *FernetCipher {
	return &FernetCipher{ttl: ttl}
}

// Name returns "fernet".
func (c *FernetCipher) Name() string { return CipherFernet }

// SetTTL changes the token lifetime accepted by Decrypt (0 disables it).
func (c *FernetCipher) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// SetKey installs a key given either as 32 raw bytes or as its URL-safe
// base64 text form.
func (c *FernetCipher) SetKey(key []byte) error {
	var k *fernet.Key
	if len(key) == FernetKeySize {
		k = new(fernet.Key)
		copy(k[:], key)
	} else {
		decoded, err := fernet.DecodeKey(string(key))
		if err != nil {
			return errs.Configuration("fernet: set key", fmt.Errorf("%w: %v", ErrInvalidKeySize, err))
		}
		k = decoded
	}

	c.mu.Lock()
	c.key = k
	c.mu.Unlock()
	return nil
}

// Key returns the base64 text form of the key.
func (c *FernetCipher) Key() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.key == nil {
		return nil
	}
	return []byte(c.key.Encode())
}

// GenerateKey installs a random key and returns its text form. Fernet keys
// have a fixed size, so size must be 0 or FernetKeySize.
func (c *FernetCipher) GenerateKey(size int) ([]byte, error) {
	if size != 0 && size != FernetKeySize {
		return nil, errs.Configuration("fernet: generate key", fmt.Errorf("%w: %d bytes (want %d)", ErrInvalidKeySize, size, FernetKeySize))
	}

	k := new(fernet.Key)
	if err := k.Generate(); err != nil {
		return nil, errs.Crypto("fernet: generate key", err)
	}

	c.mu.Lock()
	c.key = k
	c.mu.Unlock()
	return []byte(k.Encode()), nil
}

// Encrypt returns a fernet token for plaintext.
func (c *FernetCipher) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.RLock()
	k := c.key
	c.mu.RUnlock()
	if k == nil {
		return nil, errs.Crypto("fernet: encrypt", ErrNoKey)
	}

	tok, err := fernet.EncryptAndSign(plaintext, k)
	if err != nil {
		return nil, errs.Crypto("fernet: encrypt", err)
	}
	return tok, nil
}

// Decrypt verifies and decrypts a fernet token.
func (c *FernetCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.RLock()
	k, ttl := c.key, c.ttl
	c.mu.RUnlock()
	if k == nil {
		return nil, errs.Crypto("fernet: decrypt", ErrNoKey)
	}
	msg := fernet.VerifyAndDecrypt(ciphertext, ttl, []*fernet.Key{k})
	if msg == nil {
		return nil, errs.Crypto("fernet: decrypt", ErrInvalidToken)
	}
	return msg, nil
}

var _ Cipher = (*FernetCipher)(nil)
