// Package task runs named, cancellable background jobs.
//
// A registered Task loops calling its Func while it is running, sleeping
// Interval between calls. Stopping is cooperative: the flag is checked
// before every call and wakes an interval sleep, but a call in progress is
// never interrupted. A stopped task is never started again.
package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned for an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// Func is the body of a task. A returned error is logged and the loop
// continues.
type Func func(ctx context.Context) error

// State is the lifecycle state of a task.
type State uint32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Task is a recurring job.
type Task struct {
	// ID is assigned by Register when empty.
	ID string

	// Name is a label for logs.
	Name string

	// Fn is called repeatedly while the task runs.
	Fn Func

	// Interval is the pause between calls. Zero loops without pausing.
	Interval time.Duration

	state atomic.Uint32
	runs  atomic.Int64
	stop  chan struct{}
	once  sync.Once
}

// State returns the task state.
func (t *Task) State() State { return State(t.state.Load()) }

// Running reports whether the task loop is active.
func (t *Task) Running() bool { return t.State() == StateRunning }

// Runs returns how many times Fn has been called.
func (t *Task) Runs() int64 { return t.runs.Load() }

func (t *Task) halt() {
	t.state.Store(uint32(StateStopped))
	t.once.Do(func() { close(t.stop) })
}

// Scheduler owns a set of tasks.
type Scheduler struct {
	spawn  func(func())
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
	order []string

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler that starts tasks through spawn
// (typically a concurrency strategy's Go). A nil spawn uses goroutines.
func NewScheduler(spawn func(func()), logger *slog.Logger) *Scheduler {
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	return &Scheduler{
		spawn:  spawn,
		logger: logger,
		tasks:  make(map[string]*Task),
	}
}

// Register adds t and returns its id. Registering does not start it.
func (s *Scheduler) Register(t *Task) string {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.stop == nil {
		t.stop = make(chan struct{})
	}

	s.mu.Lock()
	if _, exists := s.tasks[t.ID]; !exists {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return t.ID
}

// RunAll starts every idle task. Tasks stop when ctx is done.
func (s *Scheduler) RunAll(ctx context.Context) {
	s.mu.Lock()
	var start []*Task
	for _, id := range s.order {
		t := s.tasks[id]
		if t.state.CompareAndSwap(uint32(StateIdle), uint32(StateRunning)) {
			start = append(start, t)
		}
	}
	s.mu.Unlock()

	for _, t := range start {
		s.wg.Add(1)
		s.debugLog("task started", "task", t.Name, "id", t.ID)
		t := t
		s.spawn(func() { s.loop(ctx, t) })
	}
}

// Get returns the task with id.
func (s *Scheduler) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Stop signals the task to exit after its current call.
func (s *Scheduler) Stop(id string) error {
	t, ok := s.Get(id)
	if !ok {
		return ErrTaskNotFound
	}
	t.halt()
	return nil
}

// Remove stops the task with id and forgets it.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return ErrTaskNotFound
	}
	t.halt()
	return nil
}

// StopAll signals every task to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.halt()
	}
}

// Wait blocks until every started task loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) loop(ctx context.Context, t *Task) {
	defer s.wg.Done()
	defer s.debugLog("task stopped", "task", t.Name, "id", t.ID)

	for t.Running() {
		if ctx.Err() != nil {
			t.halt()
			return
		}

		t.runs.Add(1)
		if err := t.Fn(ctx); err != nil {
			s.warnLog("task failed", "task", t.Name, "id", t.ID, "error", err)
		}

		if t.Interval > 0 {
			timer := time.NewTimer(t.Interval)
			select {
			case <-timer.C:
			case <-t.stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				t.halt()
				return
			}
		}
	}
}

func (s *Scheduler) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Scheduler) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
