package session

import (
	"context"
	"fmt"

	"github.com/sockcomm/sockcomm-go/pkg/auth"
	"github.com/sockcomm/sockcomm-go/pkg/errs"
	"github.com/sockcomm/sockcomm-go/pkg/log"
	"github.com/sockcomm/sockcomm-go/pkg/transport"
)

// Auth verdict bytes.
const (
	verdictRejected byte = 0x00
	verdictAccepted byte = 0x01
)

// authenticate runs the auth exchange: the initiator sends one token frame
// and the responder answers with one verdict frame.
func (s *Session) authenticate(ctx context.Context) error {
	release := bindDeadline(ctx, s.conn.SetDeadline)
	defer release()

	if s.config.Role == log.RoleInitiator {
		return s.presentToken(ctx)
	}
	return s.checkToken(ctx)
}

func (s *Session) presentToken(ctx context.Context) error {
	payload, err := s.seal(ctx, []byte(s.config.Auth.Token()))
	if err != nil {
		return err
	}

	s.stepDeadline(ctx)
	if err := s.framer.WriteFrame(payload, transport.ModeBlock); err != nil {
		return err
	}

	s.stepDeadline(ctx)
	verdict, err := s.framer.ReadFrame(transport.ModeBlock)
	if err != nil {
		return s.authReadError(ctx, "auth: read verdict", err)
	}

	accepted := len(verdict) == 1 && verdict[0] == verdictAccepted
	s.logAuth(accepted)
	if !accepted {
		return errs.Auth("auth", ErrAuthRejected)
	}
	s.debugLog("authenticated", "method", s.config.Auth.Method())
	return nil
}

func (s *Session) checkToken(ctx context.Context) error {
	s.stepDeadline(ctx)
	raw, err := s.framer.ReadFrame(transport.ModeBlock)
	if err != nil {
		return s.authReadError(ctx, "auth: read token", err)
	}

	token, _, err := s.open(ctx, raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.presentedToken = string(token)
	s.mu.Unlock()

	accepted := s.config.Auth.Validate(s)
	verdict := verdictRejected
	if accepted {
		verdict = verdictAccepted
	}

	s.stepDeadline(ctx)
	if err := s.framer.WriteFrame([]byte{verdict}, transport.ModeBlock); err != nil {
		return err
	}

	s.logAuth(accepted)
	if !accepted {
		s.infoLog("peer rejected", "method", s.config.Auth.Method(), "remote", remoteString(s.RemoteAddr()))
		return errs.Auth("auth", fmt.Errorf("peer %s: invalid credentials", remoteString(s.RemoteAddr())))
	}
	return nil
}

// authReadError maps a failed auth read. A timeout or a close before the
// frame is a transport error so the session closes.
func (s *Session) authReadError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errs.KindOf(err) == 0 {
		return errs.Transport(op, err)
	}
	return err
}

var _ auth.Peer = (*Session)(nil)
