package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/crypt"
	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/log"
)

// pemMarker is the first byte of a PEM public key. A responder that peeks
// anything else skips the key exchange.
const pemMarker = '-'

var pemEndLine = []byte("-----END")

// errNoCipher marks a key exchange declined because no cipher is
// configured locally. It degrades to plaintext even in strict mode.
var errNoCipher = errors.New("no cipher configured")

// handshake negotiates the session key. Failures of the exchange itself
// degrade to NoCrypto unless StrictHandshake is set; only a canceled ctx or
// a broken connection end the session here.
func (s *Session) handshake(ctx context.Context) error {
	release := bindDeadline(ctx, s.conn.SetDeadline)
	defer release()

	var err error
	if s.config.Role == log.RoleInitiator {
		err = s.initiatorHandshake(ctx)
	} else {
		err = s.responderHandshake(ctx)
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errs.IsFatal(err) {
		return err
	}
	return s.handshakeFailed(err)
}

func (s *Session) handshakeFailed(err error) error {
	s.setCryptoState(NoCrypto, err.Error())
	s.logHandshake(log.HandshakeFallback, log.DirectionIn, 0)

	if s.config.StrictHandshake && !errors.Is(err, errNoCipher) {
		if errs.KindOf(err) != errs.KindCrypto {
			err = errs.Crypto("handshake", err)
		}
		return err
	}
	s.warnLog("key exchange failed, continuing in plaintext", "error", err)
	return nil
}

func (s *Session) initiatorHandshake(ctx context.Context) error {
	switch {
	case s.cipher == nil:
		s.debugLog("no cipher configured, plaintext session")
		return nil
	case s.config.Key != nil:
		s.setCryptoState(SessionKeyEstablished, "pre-shared key")
		s.logHandshake(log.HandshakePreShared, log.DirectionOut, 0)
		return nil
	}

	s.setCryptoState(KeyExchangeInFlight, "")

	var pemKey []byte
	err := s.config.Strategy.Offload(ctx, func() error {
		if !s.exchanger.HasKeyPair() {
			if err := s.exchanger.GenerateKeyPair(); err != nil {
				return err
			}
		}
		var err error
		pemKey, err = s.exchanger.PublicKeyBytes()
		return err
	})
	if err != nil {
		return err
	}
	if len(pemKey) > MaxHandshakeSize {
		return errs.Crypto("handshake", ErrHandshakeTooLarge)
	}

	s.stepDeadline(ctx)
	if _, err := s.conn.Write(pemKey); err != nil {
		return errs.Transport("handshake: send public key", err)
	}
	s.logHandshake(log.HandshakePublicKey, log.DirectionOut, len(pemKey))

	block := make([]byte, s.exchanger.CiphertextSize())
	s.stepDeadline(ctx)
	if n, err := io.ReadFull(s.reader, block); err != nil {
		if n == 0 && err == io.EOF {
			return errs.Transport("handshake: read session key", io.EOF)
		}
		return errs.Crypto("handshake: read session key", err)
	}
	s.logHandshake(log.HandshakeSessionKey, log.DirectionIn, len(block))

	if isZero(block) {
		return ErrKeyExchangeDeclined
	}

	var key []byte
	err = s.config.Strategy.Offload(ctx, func() error {
		var err error
		key, err = s.exchanger.DecryptWithPrivateKey(block)
		return err
	})
	if err != nil {
		return err
	}
	if err := s.cipher.SetKey(key); err != nil {
		return err
	}

	s.setCryptoState(SessionKeyEstablished, "key exchange")
	s.logHandshake(log.HandshakeEstablished, log.DirectionIn, 0)
	return nil
}

func (s *Session) responderHandshake(ctx context.Context) error {
	s.stepDeadline(ctx)
	first, err := s.reader.Peek(1)
	switch {
	case err == nil && first[0] == pemMarker:
		return s.answerKeyExchange(ctx)
	case err == nil, isTimeout(err):
	case errors.Is(err, io.EOF):
		return errs.Transport("handshake: peek", io.EOF)
	default:
		return errs.Transport("handshake: peek", err)
	}

	if s.cipher != nil && s.config.Key != nil {
		s.setCryptoState(SessionKeyEstablished, "pre-shared key")
		s.logHandshake(log.HandshakePreShared, log.DirectionIn, 0)
		return nil
	}
	s.debugLog("no key exchange requested, plaintext session")
	return nil
}

// answerKeyExchange reads the peer's public key and replies with the session
// key encrypted under it. When no key can be sent a zero block of the same
// size is written, so the initiator is not left waiting.
func (s *Session) answerKeyExchange(ctx context.Context) error {
	s.setCryptoState(KeyExchangeInFlight, "")

	pemKey, err := readPEM(s.reader)
	if err != nil {
		if errors.Is(err, io.EOF) && len(pemKey) == 0 {
			return errs.Transport("handshake: read public key", io.EOF)
		}
		return errs.Crypto("handshake: read public key", err)
	}
	s.logHandshake(log.HandshakePublicKey, log.DirectionIn, len(pemKey))

	pub, err := s.exchanger.LoadPublicKey(pemKey)
	if err != nil {
		s.decline(ctx, crypt.DefaultRSABits/8)
		return err
	}
	blockSize := crypt.DefaultRSABits / 8
	if sized, ok := pub.(interface{ Size() int }); ok {
		blockSize = sized.Size()
	}

	if s.cipher == nil {
		s.decline(ctx, blockSize)
		return errNoCipher
	}

	var block []byte
	err = s.config.Strategy.Offload(ctx, func() error {
		key, err := s.cipher.GenerateKey(0)
		if err != nil {
			return err
		}
		block, err = s.exchanger.EncryptWithPublicKey(key, pub)
		return err
	})
	if err != nil {
		s.decline(ctx, blockSize)
		return err
	}

	s.stepDeadline(ctx)
	if _, err := s.conn.Write(block); err != nil {
		return errs.Transport("handshake: send session key", err)
	}
	s.logHandshake(log.HandshakeSessionKey, log.DirectionOut, len(block))

	s.setCryptoState(SessionKeyEstablished, "key exchange")
	s.logHandshake(log.HandshakeEstablished, log.DirectionOut, 0)
	return nil
}

// decline writes a zero block, telling the initiator no key follows.
func (s *Session) decline(ctx context.Context, size int) {
	s.stepDeadline(ctx)
	if _, err := s.conn.Write(make([]byte, size)); err != nil {
		s.debugLog("failed to decline key exchange", "error", err)
	}
}

// stepDeadline bounds the next handshake I/O by HandshakeTimeout and by the
// ctx deadline, whichever is earlier.
func (s *Session) stepDeadline(ctx context.Context) {
	deadline := time.Now().Add(s.config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if ctx.Err() != nil {
		deadline = aLongTimeAgo
	}
	s.conn.SetDeadline(deadline)
}

// readPEM reads one PEM block line by line, up to its END line. More than
// MaxHandshakeSize bytes is an error.
func readPEM(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		line, err := r.ReadSlice('\n')
		buf = append(buf, line...)
		if len(buf) > MaxHandshakeSize {
			return nil, fmt.Errorf("%w: read %d bytes", ErrHandshakeTooLarge, len(buf))
		}
		if bytes.HasPrefix(bytes.TrimSpace(line), pemEndLine) {
			return buf, nil
		}
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			return buf, err
		}
	}
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
