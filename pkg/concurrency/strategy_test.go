package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

func strategies() map[string]Strategy {
	return map[string]Strategy{
		NameCooperative:   NewCooperative(2),
		NameThreadPerConn: NewThreadPerConn(),
	}
}

func TestNew(t *testing.T) {
	s, err := New("", 0)
	require.NoError(t, err)
	assert.Equal(t, NameCooperative, s.Name())

	s, err = New(NameThreadPerConn, 0)
	require.NoError(t, err)
	assert.Equal(t, NameThreadPerConn, s.Name())

	_, err = New("fibers", 0)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestStrategyOffloadReturnsResult(t *testing.T) {
	for name, s := range strategies() {
		t.Run(name, func(t *testing.T) {
			var got int
			err := s.Offload(context.Background(), func() error {
				got = 42
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 42, got)

			boom := errors.New("boom")
			err = s.Offload(context.Background(), func() error { return boom })
			assert.ErrorIs(t, err, boom)

			require.NoError(t, s.Close())
			err = s.Offload(context.Background(), func() error { return nil })
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestStrategyGoAndClose(t *testing.T) {
	for name, s := range strategies() {
		t.Run(name, func(t *testing.T) {
			var ran atomic.Int32
			release := make(chan struct{})
			for i := 0; i < 5; i++ {
				s.Go(func() {
					<-release
					ran.Add(1)
				})
			}

			closed := make(chan struct{})
			go func() {
				s.Close()
				close(closed)
			}()

			select {
			case <-closed:
				t.Fatal("Close returned before handlers finished")
			case <-time.After(50 * time.Millisecond):
			}

			close(release)
			select {
			case <-closed:
			case <-time.After(2 * time.Second):
				t.Fatal("Close did not return")
			}
			assert.Equal(t, int32(5), ran.Load())
		})
	}
}

func TestCooperativePoolBound(t *testing.T) {
	c := NewCooperative(2)
	defer c.Close()
	assert.Equal(t, 2, c.Workers())

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Offload(context.Background(), func() error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
}

func TestCooperativeOffloadCanceled(t *testing.T) {
	c := NewCooperative(1)
	defer c.Close()

	block := make(chan struct{})
	go c.Offload(context.Background(), func() error {
		<-block
		return nil
	})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Offload(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
}

func TestThreadPerConnOffloadInline(t *testing.T) {
	s := NewThreadPerConn()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Offload(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
