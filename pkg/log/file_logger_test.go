package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeTestLog(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sclog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, e)
	}
}

func TestFileLoggerWriteAndRead(t *testing.T) {
	now := time.Now()
	events := []Event{
		{Timestamp: now, SessionID: "s-1", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryMessage,
			Frame: &FrameEvent{Size: 13, Data: []byte("hello")}},
		{Timestamp: now, SessionID: "s-1", Layer: LayerSession, Category: CategoryAuth,
			Auth: &AuthEvent{Method: "token", Accepted: false}},
		{Timestamp: now, SessionID: "s-2", Layer: LayerService, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntitySession, OldState: "READY", NewState: "CLOSED"}},
	}

	path := writeTestLog(t, events)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	got := readAll(t, r)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Frame == nil || string(got[0].Frame.Data) != "hello" {
		t.Errorf("frame payload lost: %+v", got[0].Frame)
	}
	if got[1].Auth == nil || got[1].Auth.Accepted {
		t.Errorf("auth verdict lost: %+v", got[1].Auth)
	}
	if got[2].StateChange.NewState != "CLOSED" {
		t.Errorf("NewState = %q", got[2].StateChange.NewState)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := writeTestLog(t, []Event{{SessionID: "first"}})

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	logger.Log(Event{SessionID: "second"})
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got := readAll(t, r)
	if len(got) != 2 || got[1].SessionID != "second" {
		t.Errorf("got %+v", got)
	}
}

func TestFileLoggerFlushMakesEventsVisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flush.sclog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	logger.Log(Event{SessionID: "s"})
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("file empty after Flush")
	}
}

func TestFileLoggerCloseIdempotent(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "c.sclog"))
	if err != nil {
		t.Fatal(err)
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	logger.Log(Event{SessionID: "ignored"})
	written, _ := logger.Stats()
	if written != 0 {
		t.Errorf("written = %d after close, want 0", written)
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.sclog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Log(Event{SessionID: "c", Frame: &FrameEvent{Size: j}})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	written, dropped := logger.Stats()
	if written != 400 || dropped != 0 {
		t.Errorf("Stats() = (%d, %d), want (400, 0)", written, dropped)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if n := len(readAll(t, r)); n != 400 {
		t.Errorf("read %d events, want 400", n)
	}
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, SessionID: "a", Direction: DirectionIn, Category: CategoryMessage},
		{Timestamp: base.Add(time.Second), SessionID: "a", Direction: DirectionOut, Category: CategoryMessage},
		{Timestamp: base.Add(2 * time.Second), SessionID: "b", Direction: DirectionIn, Category: CategoryError,
			Error: &ErrorEventData{Message: "x"}},
		{Timestamp: base.Add(3 * time.Second), SessionID: "b", LocalRole: RoleInitiator, Category: CategoryState},
	}
	path := writeTestLog(t, events)

	in := DirectionIn
	errCat := CategoryError
	initiator := RoleInitiator
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"session", Filter{SessionID: "a"}, 2},
		{"direction", Filter{Direction: &in}, 3},
		{"category", Filter{Category: &errCat}, 1},
		{"role", Filter{Role: &initiator}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"no match", Filter{SessionID: "zzz"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			if got := len(readAll(t, r)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderTruncatedFile(t *testing.T) {
	path := writeTestLog(t, []Event{{SessionID: "only", Frame: &FrameEvent{Size: 100, Data: make([]byte, 64)}}})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-10], 0644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_, err = r.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("expected a decode error for a truncated file, got %v", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "nope.sclog")); err == nil {
		t.Error("expected error for missing file")
	}
}
