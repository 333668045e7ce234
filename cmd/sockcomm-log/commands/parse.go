// Package commands implements the sockcomm-log CLI commands.
package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/log"
)

// FilterOptions holds the textual filter flags shared by every command.
type FilterOptions struct {
	SessionID string
	Layer     string
	Direction string
	Category  string
	Role      string
	TimeStart string
	TimeEnd   string
}

// Build parses the options into a log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{SessionID: o.SessionID}

	if o.Layer != "" {
		l, err := parseLayer(o.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := parseDirection(o.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := parseCategory(o.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	if o.Role != "" {
		r, err := parseRole(o.Role)
		if err != nil {
			return filter, err
		}
		filter.Role = &r
	}
	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	return filter, nil
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "session":
		return log.LayerSession, nil
	case "service":
		return log.LayerService, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, session, or service)", s)
	}
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "handshake":
		return log.CategoryHandshake, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	case "auth":
		return log.CategoryAuth, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, handshake, state, error, or auth)", s)
	}
}

func parseRole(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "server", "responder":
		return log.RoleResponder, nil
	case "client", "initiator":
		return log.RoleInitiator, nil
	default:
		return 0, fmt.Errorf("invalid role: %s (must be server or client)", s)
	}
}

// shortID returns the first 8 characters of a session ID.
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
