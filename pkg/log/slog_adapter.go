package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger at Debug level,
// except error events which are written at Warn.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	level := slog.LevelDebug
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
		slog.String("role", event.LocalRole.String()),
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("block", event.Frame.Block),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.Int("msg_size", event.Message.Size),
			slog.String("cipher", event.Message.Cipher),
		)
		if event.Message.DecryptFallback {
			attrs = append(attrs, slog.Bool("decrypt_fallback", true))
		}
		if event.Message.EventsDispatched > 0 {
			attrs = append(attrs, slog.Int("events", event.Message.EventsDispatched))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Handshake != nil:
		attrs = append(attrs, slog.String("step", event.Handshake.Step.String()))
		if event.Handshake.Size > 0 {
			attrs = append(attrs, slog.Int("size", event.Handshake.Size))
		}
		if event.Handshake.Cipher != "" {
			attrs = append(attrs, slog.String("cipher", event.Handshake.Cipher))
		}
	case event.Auth != nil:
		attrs = append(attrs,
			slog.String("method", event.Auth.Method),
			slog.Bool("accepted", event.Auth.Accepted),
		)
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_kind", event.Error.Kind),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), level, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
