package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	s := NewScheduler(nil, nil)

	id := s.Register(&Task{Name: "sweep", Fn: func(context.Context) error { return nil }})
	assert.NotEmpty(t, id)

	fixed := s.Register(&Task{ID: "fixed", Name: "named", Fn: func(context.Context) error { return nil }})
	assert.Equal(t, "fixed", fixed)
	assert.Equal(t, 2, s.Len())

	task, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "sweep", task.Name)
	assert.Equal(t, StateIdle, task.State())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestRunAllLoopsUntilStopped(t *testing.T) {
	s := NewScheduler(nil, nil)

	var calls atomic.Int32
	id := s.Register(&Task{
		Name:     "ticker",
		Interval: 5 * time.Millisecond,
		Fn: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	})

	s.RunAll(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	task, _ := s.Get(id)
	assert.True(t, task.Running())

	require.NoError(t, s.Stop(id))
	s.Wait()
	assert.Equal(t, StateStopped, task.State())

	stoppedAt := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stoppedAt, calls.Load(), "stopped task never runs again")

	// RunAll does not restart a stopped task.
	s.RunAll(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stoppedAt, calls.Load())
	assert.Equal(t, int64(stoppedAt), task.Runs())
}

func TestStopUnknown(t *testing.T) {
	s := NewScheduler(nil, nil)
	assert.ErrorIs(t, s.Stop("nope"), ErrTaskNotFound)
}

func TestRemove(t *testing.T) {
	s := NewScheduler(nil, nil)
	keep := s.Register(&Task{Name: "keep", Fn: func(context.Context) error { return nil }})
	drop := s.Register(&Task{Name: "drop", Interval: time.Millisecond, Fn: func(context.Context) error { return nil }})
	s.RunAll(context.Background())

	task, _ := s.Get(drop)
	require.NoError(t, s.Remove(drop))
	assert.Equal(t, StateStopped, task.State())
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get(drop)
	assert.False(t, ok)
	_, ok = s.Get(keep)
	assert.True(t, ok)

	assert.ErrorIs(t, s.Remove(drop), ErrTaskNotFound)
	s.StopAll()
	s.Wait()
}

func TestStopIsCooperative(t *testing.T) {
	s := NewScheduler(nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	id := s.Register(&Task{
		Name: "slow",
		Fn: func(context.Context) error {
			select {
			case <-entered:
			default:
				close(entered)
			}
			<-release
			finished.Store(true)
			return nil
		},
	})

	s.RunAll(context.Background())
	<-entered
	require.NoError(t, s.Stop(id))

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Wait returned while the call was still in progress")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	<-done
	assert.True(t, finished.Load(), "in-progress call completes")
	task, _ := s.Get(id)
	assert.Equal(t, int64(1), task.Runs())
}

func TestStopAllAndContext(t *testing.T) {
	s := NewScheduler(nil, nil)
	for i := 0; i < 3; i++ {
		s.Register(&Task{Interval: time.Hour, Fn: func(context.Context) error { return nil }})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.RunAll(ctx)
	time.Sleep(10 * time.Millisecond)

	cancel()
	s.Wait()

	s2 := NewScheduler(nil, nil)
	s2.Register(&Task{Interval: time.Hour, Fn: func(context.Context) error { return nil }})
	s2.RunAll(context.Background())
	s2.StopAll()
	s2.Wait()
}

func TestErrorsDoNotStopLoop(t *testing.T) {
	s := NewScheduler(nil, nil)
	var calls atomic.Int32
	id := s.Register(&Task{
		Interval: time.Millisecond,
		Fn: func(context.Context) error {
			calls.Add(1)
			return errors.New("transient")
		},
	})

	s.RunAll(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(id))
	s.Wait()
}

func TestSpawnHookUsed(t *testing.T) {
	var spawned atomic.Int32
	s := NewScheduler(func(fn func()) {
		spawned.Add(1)
		go fn()
	}, nil)

	s.Register(&Task{Interval: time.Hour, Fn: func(context.Context) error { return nil }})
	s.Register(&Task{Interval: time.Hour, Fn: func(context.Context) error { return nil }})
	s.RunAll(context.Background())
	s.RunAll(context.Background())

	assert.Equal(t, int32(2), spawned.Load(), "each task starts once")
	s.StopAll()
	s.Wait()
}
