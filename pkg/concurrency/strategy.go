// Package concurrency provides the scheduling strategies a session runs
// under. The protocol code is written once against Strategy; the strategy
// decides how connection handlers are started and where CPU-bound work
// (cipher and key exchange operations) runs.
//
// Cooperative starts lightweight goroutines and offloads CPU-bound work to
// a bounded worker pool, suspending the caller until the result is ready.
//
// ThreadPerConn pins each connection handler to its own OS thread and runs
// every operation inline, blocking that thread.
package concurrency

import (
	"context"
	"errors"
	"fmt"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// Strategy names.
const (
	NameCooperative   = "cooperative"
	NameThreadPerConn = "thread"
)

// ErrClosed is returned by Offload after Close.
var ErrClosed = errors.New("strategy closed")

// Strategy schedules connection handlers and CPU-bound work.
type Strategy interface {
	// Name returns the strategy name.
	Name() string

	// Go starts fn as an independent unit of execution and returns
	// immediately.
	Go(fn func())

	// Offload runs fn according to the strategy and returns its error once
	// it has finished. A canceled ctx returns ctx.Err() without waiting.
	Offload(ctx context.Context, fn func() error) error

	// Close rejects further offloads and waits for every unit started by Go
	// to return.
	Close() error
}

// New creates the strategy registered under name. workers bounds the
// cooperative offload pool (0 selects the default).
func New(name string, workers int) (Strategy, error) {
	switch name {
	case "", NameCooperative:
		return NewCooperative(workers), nil
	case NameThreadPerConn:
		return NewThreadPerConn(), nil
	default:
		return nil, errs.Configuration("concurrency", fmt.Errorf("unknown strategy %q", name))
	}
}
