package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/wire"
)

// matcher inspects a reply. It returns true once the awaited reply arrived
// and an error for an explicit rejection.
type matcher func(wire.Message) (bool, error)

func (s *Session) authenticate(ctx context.Context) error {
	cmd := s.nextCommandID()
	req := &wire.Login{SessionTicket: s.account.Ticket, PlayerID: s.account.PlayerID, CommandID: cmd}
	return s.handshake(ctx, metrics.PhaseAuth, s.cfg.AuthTimeout, req, func(msg wire.Message) (bool, error) {
		switch m := msg.(type) {
		case *wire.LoginSuccess:
			return sameCommand(m.CommandID, cmd), nil
		case *wire.LoginFailure:
			if !sameCommand(m.CommandID, cmd) {
				return false, nil
			}
			reason := m.Message
			if reason == "" {
				reason = "login rejected"
			}
			return false, &HandshakeError{Phase: metrics.PhaseAuth, Code: m.ErrorCode, Err: errors.New(reason)}
		}
		return false, nil
	})
}

func (s *Session) join(ctx context.Context) error {
	cmd := s.nextCommandID()
	req := &wire.EnterZone{ZoneID: s.cfg.ZoneID, CommandID: cmd}
	return s.handshake(ctx, metrics.PhaseJoin, s.cfg.JoinTimeout, req, func(msg wire.Message) (bool, error) {
		if m, ok := msg.(*wire.ZoneEntered); ok {
			return sameCommand(m.CommandID, cmd), nil
		}
		return false, nil
	})
}

// Servers that do not echo command ids reply with zero.
func sameCommand(got, want int64) bool {
	return got == want || got == 0
}

func (s *Session) handshake(ctx context.Context, phase string, timeout time.Duration, req wire.Message, match matcher) error {
	if err := s.send(req); err != nil {
		return &HandshakeError{Phase: phase, Err: err}
	}

	err := s.await(ctx, time.Now().Add(timeout), match)
	if err == nil {
		return nil
	}

	var hs *HandshakeError
	if errors.As(err, &hs) {
		return err
	}
	if s.cfg.BestEffortHandshake && ctx.Err() == nil && (errors.Is(err, ErrHandshakeTimeout) || wire.IsProtocol(err)) {
		s.bypass(phase, err)
		return nil
	}
	return &HandshakeError{Phase: phase, Err: err}
}

func (s *Session) bypass(phase string, cause error) {
	s.mu.Lock()
	s.bypassed = append(s.bypassed, phase)
	s.mu.Unlock()
	s.sink.Record(metrics.Event{Kind: metrics.EventHandshakeBypassed, Label: phase})
	s.log.Debug().Str("phase", phase).Err(cause).Msg("handshake reply missing, continuing in best-effort mode")
}

// await reads frames until match accepts one, the deadline passes or ctx
// ends. Unrelated frames are counted and skipped.
func (s *Session) await(ctx context.Context, deadline time.Time, match matcher) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now()
		if !now.Before(deadline) {
			return ErrHandshakeTimeout
		}
		readBy := now.Add(s.cfg.PollTimeout)
		if readBy.After(deadline) {
			readBy = deadline
		}
		if err := s.conn.SetReadDeadline(readBy); err != nil {
			return &ReceiveError{Err: err}
		}

		msg, size, err := s.reader.ReadMessage()
		if size > 0 {
			s.received(msg, size)
		}
		switch {
		case err == nil:
			done, merr := match(msg)
			if merr != nil {
				return merr
			}
			if done {
				return nil
			}
			s.observe(msg, time.Now())
		case isTimeout(err):
		case wire.IsProtocol(err):
			if derr := s.protocolError(now, err); derr != nil {
				return derr
			}
			if s.cfg.BestEffortHandshake {
				return err
			}
		case wire.IsFraming(err):
			return err
		default:
			return &ReceiveError{Err: err}
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
