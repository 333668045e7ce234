package session

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sockcomm/sockcomm-go/internal/testutil"
	"github.com/sockcomm/sockcomm-go/pkg/auth"
	"github.com/sockcomm/sockcomm-go/pkg/auth/mocks"
	"github.com/sockcomm/sockcomm-go/pkg/concurrency"
	"github.com/sockcomm/sockcomm-go/pkg/crypt"
	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/event"
	"github.com/sockcomm/sockcomm-go/pkg/log"
	"github.com/sockcomm/sockcomm-go/pkg/transport"
)

// eventLog collects protocol events.
type eventLog struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *eventLog) Log(e log.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) handshakeSteps() []log.HandshakeStep {
	l.mu.Lock()
	defer l.mu.Unlock()
	var steps []log.HandshakeStep
	for _, e := range l.events {
		if e.Handshake != nil {
			steps = append(steps, e.Handshake.Step)
		}
	}
	return steps
}

func (l *eventLog) outgoingFrames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	var frames [][]byte
	for _, e := range l.events {
		if e.Frame != nil && e.Direction == log.DirectionOut {
			frames = append(frames, e.Frame.Data)
		}
	}
	return frames
}

type result struct {
	client, server       *Session
	clientErr, serverErr error
}

// establish runs both ends of a session over loopback TCP.
func establish(t *testing.T, client, server Config) result {
	t.Helper()

	cc, sc := testutil.TCPPair(t)
	client.Role = log.RoleInitiator
	server.Role = log.RoleResponder

	cs, err := New(client)
	require.NoError(t, err)
	ss, err := New(server)
	require.NoError(t, err)
	t.Cleanup(func() {
		cs.Close()
		ss.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() { serverErr <- ss.Establish(ctx, sc) }()
	clientErr := cs.Establish(ctx, cc)

	return result{client: cs, server: ss, clientErr: clientErr, serverErr: <-serverErr}
}

func ready(t *testing.T, client, server Config) (*Session, *Session) {
	t.Helper()
	r := establish(t, client, server)
	require.NoError(t, r.clientErr)
	require.NoError(t, r.serverErr)
	require.Equal(t, StateReady, r.client.State())
	require.Equal(t, StateReady, r.server.State())
	return r.client, r.server
}

func exchange(t *testing.T, from, to *Session, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, from.Send(ctx, []byte(msg)))
	got, err := to.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg, string(got))
}

func TestPlaintextSession(t *testing.T) {
	client, server := ready(t, Config{}, Config{})

	assert.Equal(t, NoCrypto, client.CryptoState())
	assert.Equal(t, NoCrypto, server.CryptoState())
	assert.Empty(t, client.CipherName())

	exchange(t, client, server, "hello server")
	exchange(t, server, client, "hello client")

	ctx := context.Background()
	require.NoError(t, client.SendBlock(ctx, []byte("block")))
	got, err := server.ReceiveBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, "block", string(got))

	assert.Equal(t, uint64(2), client.Stats().MessagesSent)
	assert.Equal(t, uint64(1), client.Stats().MessagesReceived)
	assert.NotEqual(t, client.ID(), server.ID())
}

func TestKeyExchange(t *testing.T) {
	for _, name := range crypt.CipherNames() {
		t.Run(name, func(t *testing.T) {
			wire := &eventLog{}
			client, server := ready(t,
				Config{Cipher: name, ProtocolLogger: wire},
				Config{Cipher: name},
			)

			assert.Equal(t, SessionKeyEstablished, client.CryptoState())
			assert.Equal(t, SessionKeyEstablished, server.CryptoState())
			assert.Equal(t, name, client.CipherName())
			assert.Equal(t, client.cipher.Key(), server.cipher.Key(), "both ends share the session key")

			exchange(t, client, server, "secret payload")
			exchange(t, server, client, "secret reply")

			for _, frame := range wire.outgoingFrames() {
				assert.NotContains(t, string(frame), "secret payload")
			}
			assert.Equal(t,
				[]log.HandshakeStep{log.HandshakePublicKey, log.HandshakeSessionKey, log.HandshakeEstablished},
				wire.handshakeSteps())
		})
	}
}

func TestSessionKeysAreFreshPerSession(t *testing.T) {
	c1, s1 := ready(t, Config{Cipher: crypt.CipherAES}, Config{Cipher: crypt.CipherAES})
	c2, _ := ready(t, Config{Cipher: crypt.CipherAES}, Config{Cipher: crypt.CipherAES})

	assert.Equal(t, c1.cipher.Key(), s1.cipher.Key())
	assert.NotEqual(t, c1.cipher.Key(), c2.cipher.Key())
}

func TestExternalKeyPair(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, crypt.DefaultRSABits)
	require.NoError(t, err)
	x := crypt.NewRSAExchanger(0)
	x.SetPrivateKey(priv)
	wantPEM, err := x.PublicKeyBytes()
	require.NoError(t, err)

	t.Run("public half is sent", func(t *testing.T) {
		cc, sc := testutil.TCPPair(t)
		cs, err := New(Config{Role: log.RoleInitiator, Cipher: crypt.CipherAES, KeyPair: priv})
		require.NoError(t, err)
		t.Cleanup(func() { cs.Close() })

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- cs.Establish(ctx, cc) }()

		got, err := readPEM(bufio.NewReader(sc))
		require.NoError(t, err)
		assert.Equal(t, wantPEM, got)

		sc.Close()
		<-done
	})

	t.Run("session key is wrapped for it", func(t *testing.T) {
		client, server := ready(t,
			Config{Cipher: crypt.CipherFernet, KeyPair: priv},
			Config{Cipher: crypt.CipherFernet},
		)
		assert.Equal(t, SessionKeyEstablished, client.CryptoState())
		exchange(t, client, server, "wrapped for a supplied key")

		got, err := client.exchanger.PublicKeyBytes()
		require.NoError(t, err)
		assert.Equal(t, wantPEM, got, "no fresh keypair replaces the supplied one")
	})
}

func TestPreSharedKey(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	wire := &eventLog{}
	client, server := ready(t,
		Config{Cipher: crypt.CipherAES, Key: key, ProtocolLogger: wire},
		Config{Cipher: crypt.CipherAES, Key: key},
	)

	assert.Equal(t, SessionKeyEstablished, client.CryptoState())
	assert.Equal(t, SessionKeyEstablished, server.CryptoState())
	assert.Equal(t, []log.HandshakeStep{log.HandshakePreShared}, wire.handshakeSteps())

	exchange(t, client, server, "pre-shared")
}

func TestResponderWithoutCipherDeclines(t *testing.T) {
	client, server := ready(t, Config{Cipher: crypt.CipherFernet}, Config{})

	assert.Equal(t, NoCrypto, client.CryptoState())
	assert.Equal(t, NoCrypto, server.CryptoState())
	exchange(t, client, server, "plain after decline")
	exchange(t, server, client, "plain reply")
}

func TestStrictHandshakeClosesOnDecline(t *testing.T) {
	var hookCause error
	hookCalled := make(chan struct{})

	r := establish(t, Config{Cipher: crypt.CipherAES, StrictHandshake: true}, Config{})
	r.client.OnClose(func(_ *Session, cause error) {
		hookCause = cause
		close(hookCalled)
	})

	require.Error(t, r.clientErr)
	assert.ErrorIs(t, r.clientErr, errs.ErrCrypto)
	assert.ErrorIs(t, r.clientErr, ErrKeyExchangeDeclined)
	assert.Equal(t, StateClosed, r.client.State())

	<-hookCalled
	assert.ErrorIs(t, hookCause, ErrKeyExchangeDeclined, "hook registered after close still runs")

	assert.Error(t, r.serverErr, "server sees the initiator vanish before auth")
	assert.Equal(t, StateClosed, r.server.State())
}

func TestInitiatorWithoutCipher(t *testing.T) {
	client, server := ready(t, Config{}, Config{Cipher: crypt.CipherAES})

	assert.Equal(t, NoCrypto, client.CryptoState())
	assert.Equal(t, NoCrypto, server.CryptoState())
	exchange(t, client, server, "plain")
}

func TestCooperativeStrategy(t *testing.T) {
	strategy := concurrency.NewCooperative(2)
	defer strategy.Close()

	client, server := ready(t,
		Config{Cipher: crypt.CipherFernet, Strategy: strategy},
		Config{Cipher: crypt.CipherFernet, Strategy: strategy},
	)
	exchange(t, client, server, "offloaded")
}

func TestTokenAuth(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		client, server := ready(t,
			Config{Auth: auth.NewSharedToken("s3cret")},
			Config{Auth: auth.NewSharedToken("s3cret")},
		)
		assert.Equal(t, "s3cret", server.PresentedToken())
		exchange(t, client, server, "authorized")
	})

	t.Run("encrypted token", func(t *testing.T) {
		_, server := ready(t,
			Config{Cipher: crypt.CipherAES, Auth: auth.NewSharedToken("s3cret")},
			Config{Cipher: crypt.CipherAES, Auth: auth.NewSharedToken("s3cret")},
		)
		assert.Equal(t, "s3cret", server.PresentedToken())
		assert.Zero(t, server.Stats().DecryptFailures)
	})

	t.Run("rejected", func(t *testing.T) {
		r := establish(t,
			Config{Auth: auth.NewSharedToken("wrong")},
			Config{Auth: auth.NewSharedToken("s3cret")},
		)
		assert.ErrorIs(t, r.clientErr, ErrAuthRejected)
		assert.ErrorIs(t, r.clientErr, errs.ErrAuth)
		assert.ErrorIs(t, r.serverErr, errs.ErrAuth)
		assert.Equal(t, StateClosed, r.client.State())
		assert.Equal(t, StateClosed, r.server.State())
	})

	t.Run("missing token", func(t *testing.T) {
		r := establish(t, Config{}, Config{Auth: auth.NewSharedToken("s3cret")})
		assert.ErrorIs(t, r.clientErr, ErrAuthRejected)
		assert.ErrorIs(t, r.serverErr, errs.ErrAuth)
	})
}

func TestAuthProviderSeesPeer(t *testing.T) {
	provider := mocks.NewMockProvider(t)
	provider.EXPECT().Method().Return("mock").Maybe()
	provider.EXPECT().Validate(mock.Anything).RunAndReturn(func(p auth.Peer) bool {
		return p.PresentedToken() == "from-client" && p.ID() != ""
	}).Once()

	client, server := ready(t, Config{Auth: auth.NewSharedToken("from-client")}, Config{Auth: provider})
	exchange(t, client, server, "ok")
}

func TestNotReady(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, s.Send(ctx, []byte("x")), ErrNotReady)
	_, err = s.Receive(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Nil(t, s.RemoteAddr())
}

func TestAlreadyConnected(t *testing.T) {
	client, _ := ready(t, Config{}, Config{})

	conn, _ := testutil.TCPPair(t)
	assert.ErrorIs(t, client.Establish(context.Background(), conn), ErrAlreadyConnected)
	err := client.Connect(context.Background(), func(context.Context) (net.Conn, error) {
		t.Fatal("dial must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, StateReady, client.State())
}

func TestConnectDialFailure(t *testing.T) {
	s, err := New(Config{Role: log.RoleInitiator})
	require.NoError(t, err)

	var cause error
	s.OnClose(func(_ *Session, c error) { cause = c })

	err = s.Connect(context.Background(), func(context.Context) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})
	assert.ErrorIs(t, err, errs.ErrTransport)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, cause, errs.ErrTransport)
}

func TestNewConfigurationErrors(t *testing.T) {
	tests := []Config{
		{Cipher: "rot13"},
		{Cipher: crypt.CipherAES, Key: []byte("short")},
		{Exchanger: "dh"},
		{Cipher: crypt.CipherAES, KeyPair: &rsa.PrivateKey{}},
	}
	for _, cfg := range tests {
		_, err := New(cfg)
		assert.ErrorIs(t, err, errs.ErrConfiguration, "%+v", cfg)
	}
}

func TestDecryptPolicy(t *testing.T) {
	keyA := bytes.Repeat([]byte{1}, 32)
	keyB := bytes.Repeat([]byte{2}, 32)

	t.Run("fail-soft delivers raw bytes", func(t *testing.T) {
		client, server := ready(t,
			Config{Cipher: crypt.CipherFernet, Key: keyA},
			Config{Cipher: crypt.CipherFernet, Key: keyB},
		)
		assert.Equal(t, uint64(1), server.Stats().DecryptFailures, "token frame")

		ctx := context.Background()
		require.NoError(t, client.Send(ctx, []byte("mismatched")))
		got, err := server.Receive(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, "mismatched", string(got))
		assert.NotEmpty(t, got)
		assert.Equal(t, uint64(2), server.Stats().DecryptFailures)
		assert.Equal(t, StateReady, server.State())
	})

	t.Run("strict fails auth", func(t *testing.T) {
		r := establish(t,
			Config{Cipher: crypt.CipherFernet, Key: keyA},
			Config{Cipher: crypt.CipherFernet, Key: keyB, DecryptPolicy: Strict},
		)
		assert.ErrorIs(t, r.serverErr, errs.ErrCrypto)
		assert.Equal(t, StateClosed, r.server.State())
	})

	t.Run("strict drops one message", func(t *testing.T) {
		client, server := ready(t,
			Config{Cipher: crypt.CipherFernet, Key: keyA},
			Config{Cipher: crypt.CipherFernet, Key: keyA, DecryptPolicy: Strict},
		)
		require.NoError(t, client.framer.WriteFrame([]byte("not a ciphertext"), transport.ModeChunked))

		_, err := server.Receive(context.Background())
		assert.ErrorIs(t, err, errs.ErrCrypto)
		assert.Equal(t, StateReady, server.State(), "decrypt failure is not fatal")

		exchange(t, client, server, "next message is fine")
	})
}

func TestEventDispatch(t *testing.T) {
	got := make(chan []string, 1)
	router := event.NewRouter(nil, nil)
	router.On("ping", func(args []string) error {
		got <- args
		return nil
	})

	client, server := ready(t, Config{Cipher: crypt.CipherAES}, Config{Cipher: crypt.CipherAES, Router: router})
	exchange(t, client, server, "text "+event.Format("ping", "1", "2")+" more")

	select {
	case args := <-got:
		assert.Equal(t, []string{"1", "2"}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	assert.Equal(t, uint64(1), server.Stats().EventsDispatched)
}

func TestPeerCloseRunsHooks(t *testing.T) {
	client, server := ready(t, Config{}, Config{})

	causes := make(chan error, 2)
	server.OnClose(func(s *Session, cause error) {
		assert.Same(t, server, s)
		causes <- cause
	})

	require.NoError(t, client.Close())
	assert.Equal(t, StateClosed, client.State())
	require.NoError(t, client.Close(), "second close is a no-op")

	_, err := server.Receive(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, StateClosed, server.State())
	assert.Equal(t, io.EOF, <-causes)

	assert.ErrorIs(t, server.Send(context.Background(), []byte("late")), ErrNotReady)
}

func TestShortReadIsFatal(t *testing.T) {
	client, server := ready(t, Config{}, Config{})

	causes := make(chan error, 1)
	server.OnClose(func(_ *Session, cause error) { causes <- cause })

	prefix := transport.EncodeLength(10)
	_, err := client.conn.Write(append(prefix[:], "abc"...))
	require.NoError(t, err)
	client.conn.Close()

	_, err = server.Receive(context.Background())
	assert.ErrorIs(t, err, errs.ErrFraming)
	assert.ErrorIs(t, err, transport.ErrConnectionInterrupted)
	assert.Equal(t, StateClosed, server.State())
	assert.ErrorIs(t, <-causes, errs.ErrFraming)
}

func TestReceiveDeadlineKeepsSession(t *testing.T) {
	client, server := ready(t, Config{}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := server.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateReady, server.State())

	exchange(t, client, server, "after timeout")
}

func TestReceiveCancel(t *testing.T) {
	client, server := ready(t, Config{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := server.Receive(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive not unblocked by cancel")
	}

	exchange(t, client, server, "still alive")
}

func TestConcurrentSendsKeepFramesIntact(t *testing.T) {
	client, server := ready(t, Config{Cipher: crypt.CipherAES}, Config{Cipher: crypt.CipherAES})

	const senders, perSender = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				msg := fmt.Sprintf("%d:%d:%s", i, j, strings.Repeat("x", 3000))
				assert.NoError(t, client.Send(context.Background(), []byte(msg)))
			}
		}(i)
	}

	seen := make(map[string]bool)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for len(seen) < senders*perSender {
		msg, err := server.Receive(ctx)
		require.NoError(t, err)
		parts := strings.SplitN(string(msg), ":", 3)
		require.Len(t, parts, 3)
		require.Len(t, parts[2], 3000)
		seen[parts[0]+":"+parts[1]] = true
	}
	wg.Wait()
}

func TestReadPEM(t *testing.T) {
	x := crypt.NewRSAExchanger(crypt.DefaultRSABits)
	require.NoError(t, x.GenerateKeyPair())
	pemKey, err := x.PublicKeyBytes()
	require.NoError(t, err)

	r := bufio.NewReader(io.MultiReader(bytes.NewReader(pemKey), strings.NewReader("trailing")))
	got, err := readPEM(r)
	require.NoError(t, err)
	assert.Equal(t, pemKey, got)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "trailing", string(rest), "bytes after the END line stay unread")

	oversized := "-----BEGIN PUBLIC KEY-----\n" + strings.Repeat(strings.Repeat("A", 64)+"\n", 40)
	_, err = readPEM(bufio.NewReader(strings.NewReader(oversized)))
	assert.ErrorIs(t, err, ErrHandshakeTooLarge)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "READY", StateReady.String())
	assert.Equal(t, "ESTABLISHED", SessionKeyEstablished.String())
	assert.Equal(t, "strict", Strict.String())

	p, ok := ParseDecryptPolicy("")
	assert.True(t, ok)
	assert.Equal(t, FailSoft, p)
	_, ok = ParseDecryptPolicy("lenient")
	assert.False(t, ok)
}
