package event

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncSpawn runs handlers inline so tests can assert without waiting.
func syncSpawn(fn func()) { fn() }

func TestScanDispatchesHandler(t *testing.T) {
	r := NewRouter(syncSpawn, nil)

	var got [][]string
	r.On("ping", func(args []string) error {
		got = append(got, args)
		return nil
	})

	n := r.Scan([]byte("hello !{ping}:{1,2}! world"))
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"1", "2"}, got[0])
}

func TestScanNoMatch(t *testing.T) {
	r := NewRouter(syncSpawn, nil)
	called := false
	r.On("ping", func([]string) error {
		called = true
		return nil
	})

	for _, text := range []string{
		"plain text",
		"{ping}:{1,2}",
		"!{ping}:{1,2}",
		"!{ping}{1,2}!",
		"",
	} {
		assert.Zero(t, r.Scan([]byte(text)), text)
	}
	assert.False(t, called)
}

func TestScanUnboundFlag(t *testing.T) {
	r := NewRouter(syncSpawn, nil)
	r.On("known", func([]string) error { return nil })

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, r.Scan([]byte("!{unknown}:{x}!")))
	})
	assert.Equal(t, 1, r.Scan([]byte("!{unknown}:{x}! and !{known}:{y}!")))
}

func TestScanWithoutBindings(t *testing.T) {
	r := NewRouter(func(func()) { t.Fatal("nothing should be spawned") }, nil)
	assert.Equal(t, 0, r.Scan([]byte("!{ping}:{1}!")))
}

func TestMultipleTokensAndLastRegistrationWins(t *testing.T) {
	r := NewRouter(syncSpawn, nil)

	var calls []string
	r.On("a", func(args []string) error {
		calls = append(calls, "first:"+args[0])
		return nil
	})
	r.On("a", func(args []string) error {
		calls = append(calls, "second:"+args[0])
		return nil
	})
	r.On("b", func(args []string) error {
		calls = append(calls, "b:"+args[0])
		return nil
	})
	assert.Equal(t, 2, r.Len())

	n := r.Scan([]byte("!{a}:{1}!!{b}:{2}! then !{a}:{3}!"))
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"second:1", "b:2", "second:3"}, calls)

	r.Off("a")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 0, r.Scan([]byte("!{a}:{1}!")))
}

func TestHandlerFailuresAreContained(t *testing.T) {
	r := NewRouter(nil, nil)

	var wg sync.WaitGroup
	wg.Add(3)
	r.On("err", func([]string) error {
		defer wg.Done()
		return errors.New("handler failed")
	})
	r.On("panic", func([]string) error {
		defer wg.Done()
		panic("handler panicked")
	})
	r.On("ok", func([]string) error {
		defer wg.Done()
		return nil
	})

	n := r.Scan([]byte("!{err}:{}! !{panic}:{}! !{ok}:{}!"))
	assert.Equal(t, 3, n)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not all run")
	}
}

func TestSlowHandlerDoesNotBlockScan(t *testing.T) {
	r := NewRouter(nil, nil)
	release := make(chan struct{})
	defer close(release)
	r.On("slow", func([]string) error {
		<-release
		return nil
	})

	start := time.Now()
	r.Scan([]byte("!{slow}:{}!"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestParseAndFormat(t *testing.T) {
	tokens := Parse([]byte("x !{move}:{10,-5, 3}! y !{reset}:{}!"))
	require.Len(t, tokens, 2)
	assert.Equal(t, Token{Flag: "move", Args: []string{"10", "-5", " 3"}}, tokens[0])
	assert.Equal(t, Token{Flag: "reset", Args: []string{""}}, tokens[1])

	assert.Equal(t, "!{ping}:{1,2}!", Format("ping", "1", "2"))
	round := Parse([]byte(Format("ping", "a", "b")))
	require.Len(t, round, 1)
	assert.Equal(t, []string{"a", "b"}, round[0].Args)

	assert.Nil(t, Parse([]byte("nothing here")))
}
