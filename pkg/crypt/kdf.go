package crypt

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// kdfInfo binds derived keys to this protocol.
var kdfInfo = []byte("sockcomm cipher key v1")

// DeriveKey stretches a passphrase or shared secret into size bytes of key
// material with HKDF-SHA256. The same secret and salt always yield the same
// key, so two peers configured with one passphrase share a cipher key.
func DeriveKey(secret, salt []byte, size int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errs.Configurationf("derive key: empty secret")
	}
	if size <= 0 {
		return nil, errs.Configurationf("derive key: invalid size %d", size)
	}

	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, kdfInfo), key); err != nil {
		return nil, errs.Crypto("derive key", err)
	}
	return key, nil
}

// DeriveCipherKey derives a key sized for the named cipher.
func DeriveCipherKey(cipherName string, secret, salt []byte) ([]byte, error) {
	size := DefaultAESKeySize
	if cipherName == CipherFernet {
		size = FernetKeySize
	}
	return DeriveKey(secret, salt, size)
}
