package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/gamestorm/internal/wire"
)

// pump runs the outbound and inbound loops of an Active session.
type pump struct {
	s *Session

	halt     chan struct{}
	haltOnce sync.Once
	err      error

	// drainBy is the UnixNano drain deadline; zero while Active.
	drainBy atomic.Int64
}

// pump returns nil when the session drained normally and the first fatal
// error otherwise. Cancelling ctx stops the outbound loop and starts the
// drain; the inbound loop keeps reading until the drain deadline.
func (s *Session) pump(ctx context.Context) error {
	p := &pump{s: s, halt: make(chan struct{})}

	var wg sync.WaitGroup
	outDone := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(outDone)
		p.guard(func() error { return p.outbound(ctx) })
	}()
	go func() {
		defer wg.Done()
		p.guard(p.inbound)
	}()

	select {
	case <-p.halt:
	case <-outDone:
	}

	if p.fatal() == nil {
		if err := s.transition(Draining); err != nil {
			p.stop(err)
		} else {
			p.drainBy.Store(time.Now().Add(s.cfg.DrainTimeout).UnixNano())
		}
	}
	wg.Wait()
	return p.fatal()
}

// stop records the first fatal error and halts both loops.
func (p *pump) stop(err error) {
	p.haltOnce.Do(func() {
		p.err = err
		close(p.halt)
	})
}

func (p *pump) fatal() error {
	select {
	case <-p.halt:
		return p.err
	default:
		return nil
	}
}

func (p *pump) guard(loop func() error) {
	defer func() {
		if r := recover(); r != nil {
			p.stop(&PanicError{Value: r})
		}
	}()
	if err := loop(); err != nil {
		p.stop(err)
	}
}

// outbound sends inputs, chat and heartbeats on their schedules until ctx
// ends or the pump halts.
func (p *pump) outbound(ctx context.Context) error {
	s := p.s
	cfg := s.cfg
	start := time.Now()

	nextInput := start
	var nextChat, nextHeartbeat time.Time
	if cfg.ChatInterval > 0 {
		nextChat = start.Add(s.traffic.jitter(cfg.ChatInterval, cfg.SendJitter))
	}
	if cfg.HeartbeatInterval > 0 {
		nextHeartbeat = start.Add(cfg.HeartbeatInterval)
	}

	inputs := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		inputsDone := cfg.FramesLimit > 0 && inputs >= cfg.FramesLimit
		var due time.Time
		if !inputsDone {
			due = nextInput
		}
		if !inputsDone && !nextChat.IsZero() && nextChat.Before(due) {
			due = nextChat
		}
		if !inputsDone && !nextHeartbeat.IsZero() && nextHeartbeat.Before(due) {
			due = nextHeartbeat
		}

		if due.IsZero() {
			// Traffic budget spent; stay Active until the run ends.
			select {
			case <-ctx.Done():
			case <-p.halt:
			}
			return nil
		}

		timer.Reset(time.Until(due))
		select {
		case <-ctx.Done():
			return nil
		case <-p.halt:
			return nil
		case <-timer.C:
		}

		now := time.Now()
		if !now.Before(nextInput) {
			if err := s.send(s.buildInput(now)); err != nil {
				return err
			}
			inputs++
			nextInput = reschedule(nextInput, now, s.traffic.jitter(cfg.SendInterval, cfg.SendJitter))
		}
		if !nextChat.IsZero() && !now.Before(nextChat) {
			if err := s.send(&wire.Chat{Message: s.traffic.chat(), CommandID: s.nextCommandID()}); err != nil {
				return err
			}
			nextChat = reschedule(nextChat, now, s.traffic.jitter(cfg.ChatInterval, cfg.SendJitter))
		}
		if !nextHeartbeat.IsZero() && !now.Before(nextHeartbeat) {
			s.sequence++
			hb := &wire.Heartbeat{ClientTimeMicros: uint64(now.UnixMicro()), Sequence: s.sequence}
			if err := s.send(hb); err != nil {
				return err
			}
			nextHeartbeat = reschedule(nextHeartbeat, now, cfg.HeartbeatInterval)
		}
	}
}

// reschedule advances a fixed-rate schedule, skipping missed slots rather
// than bursting to catch up.
func reschedule(prev, now time.Time, interval time.Duration) time.Time {
	next := prev.Add(interval)
	if next.Before(now) {
		next = now.Add(interval)
	}
	return next
}

func (s *Session) buildInput(now time.Time) *wire.PlayerInput {
	s.sequence++
	return &wire.PlayerInput{
		Tick:             s.lastTick.Load(),
		ClientTimeMicros: uint64(now.UnixMicro()),
		InputFlags:       s.traffic.inputFlags(now),
		Mouse:            s.traffic.mouse(),
		Sequence:         s.sequence,
		CommandID:        s.nextCommandID(),
	}
}

// inbound reads with a short deadline so it observes halt and the drain
// deadline promptly.
func (p *pump) inbound() error {
	s := p.s
	for {
		select {
		case <-p.halt:
			return nil
		default:
		}

		now := time.Now()
		readBy := now.Add(s.cfg.PollTimeout)
		if d := p.drainBy.Load(); d != 0 {
			drainAt := time.Unix(0, d)
			if !now.Before(drainAt) {
				return nil
			}
			if drainAt.Before(readBy) {
				readBy = drainAt
			}
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
			s.observe(msg, time.Now())
		case isTimeout(err):
		case wire.IsProtocol(err):
			if derr := s.protocolError(now, err); derr != nil {
				return derr
			}
		case wire.IsFraming(err):
			return err
		case errors.Is(err, io.EOF) && p.drainBy.Load() != 0:
			// The server closed the socket during the drain.
			return nil
		default:
			return &ReceiveError{Err: err}
		}
	}
}
