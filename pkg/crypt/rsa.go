package crypt

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// Exchanger names.
const (
	ExchangerRSA = "rsa"
)

// DefaultRSABits is the modulus size of generated keypairs.
const DefaultRSABits = 2048

// PEM block types.
const (
	pemPublicKeyType    = "PUBLIC KEY"
	pemPKCS1PrivateType = "RSA PRIVATE KEY"
	pemPKCS8PrivateType = "PRIVATE KEY"
)

// Key exchange errors.
var (
	ErrNoKeyPair       = errors.New("no keypair")
	ErrPayloadTooLarge = errors.New("payload exceeds asymmetric block limit")
	ErrNotRSAKey       = errors.New("not an RSA key")
)

// Exchanger is an asymmetric scheme used only to move a symmetric key
// during the handshake.
type Exchanger interface {
	// Name returns the registry name of the scheme.
	Name() string

	// GenerateKeyPair creates a fresh keypair, replacing any existing one.
	GenerateKeyPair() error

	// HasKeyPair reports whether a keypair is installed.
	HasKeyPair() bool

	// PublicKeyBytes returns the public half in its transmissible form.
	PublicKeyBytes() ([]byte, error)

	// LoadPublicKey decodes a peer public key produced by PublicKeyBytes.
	LoadPublicKey(data []byte) (crypto.PublicKey, error)

	// EncryptWithPublicKey encrypts a small payload for the holder of pub.
	EncryptWithPublicKey(data []byte, pub crypto.PublicKey) ([]byte, error)

	// DecryptWithPrivateKey decrypts a payload encrypted for this keypair.
	DecryptWithPrivateKey(data []byte) ([]byte, error)

	// CiphertextSize returns the size of one encrypted block for this
	// keypair, or 0 when no keypair exists.
	CiphertextSize() int
}

var exchangerFactories = map[string]func() Exchanger{
	ExchangerRSA: func() Exchanger { return NewRSAExchanger(DefaultRSABits) },
}

// NewExchanger creates the key exchanger registered under name.
func NewExchanger(name string) (Exchanger, error) {
	factory, ok := exchangerFactories[name]
	if !ok {
		return nil, errs.Configuration("exchanger", fmt.Errorf("unknown key exchange %q", name))
	}
	return factory(), nil
}

// RSAExchanger implements Exchanger with RSA-OAEP (SHA-256) and PEM SPKI
// public keys.
type RSAExchanger struct {
	mu   sync.RWMutex
	bits int
	priv *rsa.PrivateKey
}

// NewRSAExchanger creates an exchanger that generates keys of bits size.
// No keypair exists until GenerateKeyPair or SetPrivateKey.
func NewRSAExchanger(bits int) *RSAExchanger {
	if bits <= 0 {
		bits = DefaultRSABits
	}
	return &RSAExchanger{bits: bits}
}

// Name returns "rsa".
func (x *RSAExchanger) Name() string { return ExchangerRSA }

// GenerateKeyPair creates a fresh keypair.
func (x *RSAExchanger) GenerateKeyPair() error {
	priv, err := rsa.GenerateKey(rand.Reader, x.bits)
	if err != nil {
		return errs.Crypto("rsa: generate keypair", err)
	}
	x.mu.Lock()
	x.priv = priv
	x.mu.Unlock()
	return nil
}

// SetPrivateKey installs an externally supplied keypair.
func (x *RSAExchanger) SetPrivateKey(priv *rsa.PrivateKey) {
	x.mu.Lock()
	x.priv = priv
	x.mu.Unlock()
}

// HasKeyPair reports whether a keypair is installed.
func (x *RSAExchanger) HasKeyPair() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.priv != nil
}

// PublicKeyBytes returns the PEM-encoded SubjectPublicKeyInfo.
func (x *RSAExchanger) PublicKeyBytes() ([]byte, error) {
	x.mu.RLock()
	priv := x.priv
	x.mu.RUnlock()
	if priv == nil {
		return nil, errs.Crypto("rsa: public key", ErrNoKeyPair)
	}

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, errs.Crypto("rsa: marshal public key", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKeyType, Bytes: der}), nil
}

// LoadPublicKey decodes a PEM SPKI RSA public key.
func (x *RSAExchanger) LoadPublicKey(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPublicKeyType {
		return nil, errs.Crypto("rsa: load public key", errors.New("no PEM public key block"))
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errs.Crypto("rsa: load public key", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errs.Crypto("rsa: load public key", fmt.Errorf("%w: %T", ErrNotRSAKey, pub))
	}
	return rsaPub, nil
}

// EncryptWithPublicKey encrypts data with OAEP. data must fit in one block:
// at most k - 2*32 - 2 bytes for a k-byte modulus.
func (x *RSAExchanger) EncryptWithPublicKey(data []byte, pub crypto.PublicKey) ([]byte, error) {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok || rsaPub == nil {
		return nil, errs.Crypto("rsa: encrypt", fmt.Errorf("%w: %T", ErrNotRSAKey, pub))
	}
	if limit := MaxOAEPPayload(rsaPub); len(data) > limit {
		return nil, errs.Crypto("rsa: encrypt", fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), limit))
	}

	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, data, nil)
	if err != nil {
		return nil, errs.Crypto("rsa: encrypt", err)
	}
	return out, nil
}

// DecryptWithPrivateKey decrypts an OAEP block with the installed keypair.
func (x *RSAExchanger) DecryptWithPrivateKey(data []byte) ([]byte, error) {
	x.mu.RLock()
	priv := x.priv
	x.mu.RUnlock()
	if priv == nil {
		return nil, errs.Crypto("rsa: decrypt", ErrNoKeyPair)
	}

	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, data, nil)
	if err != nil {
		return nil, errs.Crypto("rsa: decrypt", err)
	}
	return out, nil
}

// CiphertextSize returns the modulus size in bytes.
func (x *RSAExchanger) CiphertextSize() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.priv == nil {
		return 0
	}
	return x.priv.Size()
}

// ParsePrivateKeyPEM decodes an RSA private key in PKCS#1 or PKCS#8 PEM
// form.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errs.Crypto("rsa: load private key", errors.New("no PEM block"))
	}

	switch block.Type {
	case pemPKCS1PrivateType:
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, errs.Crypto("rsa: load private key", err)
		}
		return priv, nil
	case pemPKCS8PrivateType:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errs.Crypto("rsa: load private key", err)
		}
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errs.Crypto("rsa: load private key", fmt.Errorf("%w: %T", ErrNotRSAKey, key))
		}
		return priv, nil
	default:
		return nil, errs.Crypto("rsa: load private key", fmt.Errorf("unexpected PEM block %q", block.Type))
	}
}

// MaxOAEPPayload returns the largest plaintext OAEP-SHA256 accepts for pub.
func MaxOAEPPayload(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

var _ Exchanger = (*RSAExchanger)(nil)
