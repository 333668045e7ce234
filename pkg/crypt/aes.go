package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// DefaultAESKeySize is the key size used when none is requested.
const DefaultAESKeySize = 32

// AES errors.
var (
	ErrInvalidKeySize = errors.New("invalid key size")
	ErrNoKey          = errors.New("no key installed")
	ErrMalformed      = errors.New("malformed ciphertext")
	ErrBadPadding     = errors.New("bad padding")
)

// AESCipher is AES-CBC with PKCS#7 padding. Each message gets a fresh random
// IV and is emitted as base64(iv || ciphertext).
type AESCipher struct {
	mu    sync.RWMutex
	key   []byte
	block cipher.Block
}

// NewAESCipher creates an AES cipher with no key installed.
func NewAESCipher() *AESCipher {
	return &AESCipher{}
}

// Name returns "aes".
func (c *AESCipher) Name() string { return CipherAES }

// SetKey installs a 16, 24 or 32 byte key.
func (c *AESCipher) SetKey(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
	default:
		return errs.Configuration("aes: set key", fmt.Errorf("%w: %d bytes (want 16, 24 or 32)", ErrInvalidKeySize, len(key)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return errs.Configuration("aes: set key", err)
	}

	c.mu.Lock()
	c.key = bytes.Clone(key)
	c.block = block
	c.mu.Unlock()
	return nil
}

// Key returns a copy of the raw key.
func (c *AESCipher) Key() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return bytes.Clone(c.key)
}

// GenerateKey installs a random key of size bytes (0 = DefaultAESKeySize).
func (c *AESCipher) GenerateKey(size int) ([]byte, error) {
	if size == 0 {
		size = DefaultAESKeySize
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, errs.Crypto("aes: generate key", err)
	}
	if err := c.SetKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt pads plaintext and encrypts it under a fresh IV.
func (c *AESCipher) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.RLock()
	block := c.block
	c.mu.RUnlock()
	if block == nil {
		return nil, errs.Crypto("aes: encrypt", ErrNoKey)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	raw := make([]byte, aes.BlockSize+len(padded))
	iv := raw[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, errs.Crypto("aes: generate IV", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(raw[aes.BlockSize:], padded)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// Decrypt reverses Encrypt.
func (c *AESCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.RLock()
	block := c.block
	c.mu.RUnlock()
	if block == nil {
		return nil, errs.Crypto("aes: decrypt", ErrNoKey)
	}

	raw := make([]byte, base64.StdEncoding.DecodedLen(len(ciphertext)))
	n, err := base64.StdEncoding.Decode(raw, ciphertext)
	if err != nil {
		return nil, errs.Crypto("aes: decode", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	raw = raw[:n]

	// IV plus at least one block, block aligned.
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, errs.Crypto("aes: decrypt", fmt.Errorf("%w: %d bytes", ErrMalformed, len(raw)))
	}

	iv, body := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, errs.Crypto("aes: decrypt", err)
	}
	return unpadded, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}

var _ Cipher = (*AESCipher)(nil)
