package session

import (
	"net"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/log"
)

// event builds a protocol event for this session and lets fill set the
// payload.
func (s *Session) event(layer log.Layer, category log.Category, fill func(*log.Event)) log.Event {
	e := log.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Layer:     layer,
		Category:  category,
		LocalRole: s.config.Role,
	}
	e.RemoteAddr = remoteString(s.RemoteAddr())
	fill(&e)
	return e
}

func (s *Session) notifyState(from, to State, reason string) {
	s.debugLog("state changed", "from", from, "to", to, "reason", reason)
	s.plog.Log(s.event(log.LayerSession, log.CategoryState, func(e *log.Event) {
		e.StateChange = &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		}
	}))
}

func (s *Session) logHandshake(step log.HandshakeStep, dir log.Direction, size int) {
	cipher := ""
	if s.cipher != nil {
		cipher = s.cipher.Name()
	}
	s.debugLog("handshake", "step", step, "size", size)
	s.plog.Log(s.event(log.LayerSession, log.CategoryHandshake, func(e *log.Event) {
		e.Direction = dir
		e.Handshake = &log.HandshakeEvent{Step: step, Size: size, Cipher: cipher}
	}))
}

func (s *Session) logAuth(accepted bool) {
	dir := log.DirectionIn
	if s.config.Role == log.RoleResponder {
		dir = log.DirectionOut
	}
	s.plog.Log(s.event(log.LayerSession, log.CategoryAuth, func(e *log.Event) {
		e.Direction = dir
		e.Auth = &log.AuthEvent{Method: s.config.Auth.Method(), Accepted: accepted}
	}))
}

func (s *Session) logMessage(dir log.Direction, size int, fallback bool, dispatched int) {
	s.plog.Log(s.event(log.LayerSession, log.CategoryMessage, func(e *log.Event) {
		e.Direction = dir
		e.Message = &log.MessageEvent{
			Size:             size,
			Cipher:           s.CipherName(),
			DecryptFallback:  fallback,
			EventsDispatched: dispatched,
		}
	}))
}

func (s *Session) logError(context string, err error) {
	kind := ""
	if k := errs.KindOf(err); k != 0 {
		kind = k.String()
	}
	s.plog.Log(s.event(log.LayerSession, log.CategoryError, func(e *log.Event) {
		e.Error = &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: err.Error(),
			Kind:    kind,
			Context: context,
		}
	}))
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Session) infoLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Session) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

// remoteString formats addr for log attributes.
func remoteString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
