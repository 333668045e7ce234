package crypt

import (
	"fmt"
	"sort"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// Cipher names.
const (
	CipherFernet = "fernet"
	CipherAES    = "aes"
)

// Cipher is a symmetric message cipher whose key can be replaced after
// construction, so a session can install its negotiated key in place.
type Cipher interface {
	// Name returns the registry name of the cipher.
	Name() string

	// Encrypt returns the ciphertext of plaintext.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt reverses Encrypt. Tampered or expired input is a crypto error.
	Decrypt(ciphertext []byte) ([]byte, error)

	// GenerateKey creates and installs a fresh key of size bytes
	// (0 selects the cipher default) and returns it.
	GenerateKey(size int) ([]byte, error)

	// Key returns a copy of the current key in its transmissible form.
	Key() []byte

	// SetKey installs key. An invalid key is a configuration error and
	// leaves the current key unchanged.
	SetKey(key []byte) error
}

var cipherFactories = map[string]func() Cipher{
	CipherFernet: func() Cipher { return NewFernetCipher(0) },
	CipherAES:    func() Cipher { return NewAESCipher() },
}

// NewCipher creates the cipher registered under name. A nil key generates a
// fresh default-size key; otherwise key is installed via SetKey.
func NewCipher(name string, key []byte) (Cipher, error) {
	factory, ok := cipherFactories[name]
	if !ok {
		return nil, errs.Configuration("cipher", fmt.Errorf("unknown cipher %q", name))
	}

	c := factory()
	if key == nil {
		if _, err := c.GenerateKey(0); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err := c.SetKey(key); err != nil {
		return nil, err
	}
	return c, nil
}

// CipherNames returns the registered cipher names in sorted order.
func CipherNames() []string {
	names := make([]string, 0, len(cipherFactories))
	for name := range cipherFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
