package service

import (
	"errors"
	"time"
)

// Service errors.
var (
	ErrAlreadyStarted  = errors.New("service already started")
	ErrNotStarted      = errors.New("service not started")
	ErrNotConnected    = errors.New("not connected")
	ErrSessionNotFound = errors.New("session not found")
)

// ServiceState is the state of a Server.
type ServiceState uint8

const (
	// StateIdle - created but not started.
	StateIdle ServiceState = iota

	// StateStarting - opening the listener.
	StateStarting

	// StateRunning - accepting connections.
	StateRunning

	// StateStopping - disconnecting sessions.
	StateStopping

	// StateStopped - stopped; may be started again.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// RatePolicy decides what happens to a message over the rate limit.
type RatePolicy uint8

const (
	// RateDrop discards the message and replies with RateLimitNotice.
	RateDrop RatePolicy = iota

	// RateWait waits up to RateWait for a token, then drops.
	RateWait
)

// String returns the policy name.
func (p RatePolicy) String() string {
	switch p {
	case RateDrop:
		return "drop"
	case RateWait:
		return "wait"
	default:
		return "unknown"
	}
}

// ParseRatePolicy parses a policy name. The empty string selects RateDrop.
func ParseRatePolicy(s string) (RatePolicy, bool) {
	switch s {
	case "", "drop":
		return RateDrop, true
	case "wait":
		return RateWait, true
	default:
		return RateDrop, false
	}
}

// RateLimitNotice is sent to a peer whose message was dropped by the rate
// limiter.
var RateLimitNotice = []byte("rate limit exceeded, message dropped")

// Server defaults.
const (
	DefaultStaleTimeout  = 30 * time.Second
	DefaultSweepInterval = 5 * time.Second
	DefaultRateWait      = time.Second
)
