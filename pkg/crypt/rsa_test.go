package crypt

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

var (
	sharedExchanger     *RSAExchanger
	sharedExchangerOnce sync.Once
)

// testExchanger returns a package-wide exchanger so RSA keygen runs once.
func testExchanger(t *testing.T) *RSAExchanger {
	t.Helper()
	sharedExchangerOnce.Do(func() {
		x := NewRSAExchanger(DefaultRSABits)
		if err := x.GenerateKeyPair(); err != nil {
			t.Fatalf("GenerateKeyPair failed: %v", err)
		}
		sharedExchanger = x
	})
	require.NotNil(t, sharedExchanger)
	return sharedExchanger
}

func TestRSAExchangeSessionKey(t *testing.T) {
	initiator := testExchanger(t)
	responder := NewRSAExchanger(0)

	pemBytes, err := initiator.PublicKeyBytes()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pemBytes, []byte("-----BEGIN PUBLIC KEY-----")))
	assert.LessOrEqual(t, len(pemBytes), 2048)

	pub, err := responder.LoadPublicKey(pemBytes)
	require.NoError(t, err)

	sessionCipher, err := NewCipher(CipherFernet, nil)
	require.NoError(t, err)

	wrapped, err := responder.EncryptWithPublicKey(sessionCipher.Key(), pub)
	require.NoError(t, err)
	assert.Len(t, wrapped, initiator.CiphertextSize())

	unwrapped, err := initiator.DecryptWithPrivateKey(wrapped)
	require.NoError(t, err)
	assert.Equal(t, sessionCipher.Key(), unwrapped)
}

func TestRSABlockLimit(t *testing.T) {
	x := testExchanger(t)
	pemBytes, err := x.PublicKeyBytes()
	require.NoError(t, err)
	pub, err := x.LoadPublicKey(pemBytes)
	require.NoError(t, err)

	limit := x.CiphertextSize() - 2*32 - 2
	assert.Equal(t, 190, limit)

	_, err = x.EncryptWithPublicKey(make([]byte, limit), pub)
	assert.NoError(t, err)

	_, err = x.EncryptWithPublicKey(make([]byte, limit+1), pub)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.ErrorIs(t, err, errs.ErrCrypto)
}

func TestRSAWithoutKeyPair(t *testing.T) {
	x := NewRSAExchanger(DefaultRSABits)
	assert.False(t, x.HasKeyPair())
	assert.Zero(t, x.CiphertextSize())

	_, err := x.PublicKeyBytes()
	assert.ErrorIs(t, err, ErrNoKeyPair)
	_, err = x.DecryptWithPrivateKey([]byte("x"))
	assert.ErrorIs(t, err, ErrNoKeyPair)
	assert.ErrorIs(t, err, errs.ErrCrypto)

	x.SetPrivateKey(testExchanger(t).priv)
	assert.True(t, x.HasKeyPair())
}

func TestRSALoadPublicKeyErrors(t *testing.T) {
	x := NewRSAExchanger(0)

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&ecKey.PublicKey)
	require.NoError(t, err)
	ecPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	tests := map[string][]byte{
		"empty":        nil,
		"garbage":      []byte("not a key"),
		"wrong block":  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		"corrupt body": pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1, 2, 3}}),
		"not rsa":      ecPEM,
	}
	for name, input := range tests {
		_, err := x.LoadPublicKey(input)
		assert.ErrorIs(t, err, errs.ErrCrypto, name)
	}

	_, err = x.EncryptWithPublicKey([]byte("k"), &ecKey.PublicKey)
	assert.ErrorIs(t, err, ErrNotRSAKey)
}

func TestParsePrivateKeyPEM(t *testing.T) {
	priv := testExchanger(t).priv

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	encodings := map[string][]byte{
		"pkcs1": pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}),
		"pkcs8": pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}),
	}
	for name, data := range encodings {
		got, err := ParsePrivateKeyPEM(data)
		require.NoError(t, err, name)
		assert.True(t, priv.Equal(got), name)
	}

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecDER, err := x509.MarshalPKCS8PrivateKey(ecKey)
	require.NoError(t, err)

	bad := map[string][]byte{
		"garbage":     []byte("not a key"),
		"public key":  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1}}),
		"corrupt":     pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte{1, 2, 3}}),
		"ecdsa pkcs8": pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: ecDER}),
	}
	for name, data := range bad {
		_, err := ParsePrivateKeyPEM(data)
		assert.ErrorIs(t, err, errs.ErrCrypto, name)
	}
}

func TestRSADecryptForeignBlock(t *testing.T) {
	x := testExchanger(t)
	_, err := x.DecryptWithPrivateKey(make([]byte, x.CiphertextSize()))
	assert.ErrorIs(t, err, errs.ErrCrypto)
}

func TestNewExchanger(t *testing.T) {
	x, err := NewExchanger("rsa")
	require.NoError(t, err)
	assert.Equal(t, "rsa", x.Name())

	_, err = NewExchanger("dh")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}
