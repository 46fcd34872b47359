// Package stubserver is a minimal game server that speaks the wire protocol.
// It backs local smoke runs and the session and runner tests, and can be told
// to misbehave in specific ways.
package stubserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/torosent/gamestorm/internal/wire"
)

// Mode selects how the server treats its clients.
type Mode string

const (
	// ModeNormal completes the handshake and acknowledges traffic.
	ModeNormal Mode = "normal"
	// ModeRejectLogin answers every Login with LoginFailure.
	ModeRejectLogin Mode = "reject-login"
	// ModeSilent reads frames and never answers.
	ModeSilent Mode = "silent"
	// ModeTruncate completes the handshake, then cuts the first reply to an
	// input off mid-frame and closes the socket.
	ModeTruncate Mode = "truncate"
	// ModeClose accepts and immediately closes each connection.
	ModeClose Mode = "close"
	// ModeGarbage completes the handshake, then answers every input with an
	// unparsable payload.
	ModeGarbage Mode = "garbage"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeNormal, ModeRejectLogin, ModeSilent, ModeTruncate, ModeClose, ModeGarbage}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeNormal, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown stub mode %q", s)
}

// LoginRejectedCode is the LoginFailure code sent in ModeRejectLogin.
const LoginRejectedCode int32 = 401

type Options struct {
	Mode       Mode
	MaxPayload int
	Logger     zerolog.Logger
}

// Stats counts what the server has seen.
type Stats struct {
	Accepted int64
	Logins   int64
	Joins    int64
	Inputs   int64
	Open     int64
}

type Server struct {
	ln   net.Listener
	opts Options
	log  zerolog.Logger

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	done  chan struct{}
	once  sync.Once

	tick     atomic.Uint64
	accepted atomic.Int64
	logins   atomic.Int64
	joins    atomic.Int64
	inputs   atomic.Int64
	open     atomic.Int64
}

// Listen binds addr and starts accepting connections.
func Listen(addr string, opts Options) (*Server, error) {
	if opts.Mode == "" {
		opts.Mode = ModeNormal
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = wire.DefaultMaxPayload
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stub listen %s: %w", addr, err)
	}
	s := &Server{
		ln:    ln,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "stub").Str("mode", string(opts.Mode)).Logger(),
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Mode() Mode { return s.opts.Mode }

func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Logins:   s.logins.Load(),
		Joins:    s.joins.Load(),
		Inputs:   s.inputs.Load(),
		Open:     s.open.Load(),
	}
}

// Wait blocks until ctx ends, then closes the server.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return s.Close()
}

// Close stops accepting, closes every open connection and waits for the
// handlers to return.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Error().Err(err).Msg("accept failed")
			}
			return
		}
		s.accepted.Add(1)
		if s.opts.Mode == ModeClose {
			conn.Close()
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.open.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.open.Add(-1)
	conn.Close()
}

// handle serves one client. Replies are written from this goroutine only.
func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	c := &client{srv: s, conn: conn, reader: wire.NewReader(conn, s.opts.MaxPayload)}
	for {
		msg, _, err := c.reader.ReadMessage()
		if err != nil {
			if wire.IsProtocol(err) {
				s.log.Debug().Err(err).Msg("client sent malformed frame")
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Msg("client read failed")
			}
			return
		}
		if err := c.dispatch(msg); err != nil {
			if !errors.Is(err, errHangUp) {
				s.log.Debug().Err(err).Msg("client write failed")
			}
			return
		}
	}
}

var errHangUp = errors.New("stub hang up")

type client struct {
	srv      *Server
	conn     net.Conn
	reader   *wire.Reader
	playerID uint64
}

func (c *client) dispatch(msg wire.Message) error {
	s := c.srv
	mode := s.opts.Mode
	if mode == ModeSilent {
		if _, ok := msg.(*wire.PlayerInput); ok {
			s.inputs.Add(1)
		}
		return nil
	}

	switch m := msg.(type) {
	case *wire.Login:
		s.logins.Add(1)
		if mode == ModeRejectLogin {
			return c.write(&wire.LoginFailure{ErrorCode: LoginRejectedCode, Message: "invalid session ticket", CommandID: m.CommandID})
		}
		c.playerID = m.PlayerID
		return c.write(&wire.LoginSuccess{PlayerID: m.PlayerID, CommandID: m.CommandID})
	case *wire.EnterZone:
		s.joins.Add(1)
		return c.write(&wire.ZoneEntered{ZoneID: m.ZoneID, CommandID: m.CommandID})
	case *wire.PlayerInput:
		s.inputs.Add(1)
		return c.snapshot(m)
	case *wire.Heartbeat:
		return c.write(&wire.HeartbeatAck{
			ClientTimeMicros: m.ClientTimeMicros,
			ServerTimeMicros: uint64(time.Now().UnixMicro()),
			Sequence:         m.Sequence,
		})
	case *wire.Chat:
		return c.write(&wire.ChatBroadcast{PlayerID: c.playerID, Message: m.Message})
	}
	return nil
}

func (c *client) snapshot(in *wire.PlayerInput) error {
	switch c.srv.opts.Mode {
	case ModeTruncate:
		frame, err := wire.Encode(c.worldSnapshot(in))
		if err != nil {
			return err
		}
		if _, err := c.conn.Write(frame[:len(frame)/2]); err != nil {
			return err
		}
		return errHangUp
	case ModeGarbage:
		// 0xff is a truncated varint tag, so Decode always rejects it.
		_, err := c.conn.Write(wire.AppendFrame(nil, []byte{0xff}))
		return err
	}
	return c.write(c.worldSnapshot(in))
}

func (c *client) worldSnapshot(in *wire.PlayerInput) *wire.WorldSnapshot {
	pos := wire.Vec3{X: in.Mouse.X, Z: in.Mouse.Z}
	return &wire.WorldSnapshot{
		Tick:                c.srv.tick.Add(1),
		ServerTimeMicros:    uint64(time.Now().UnixMicro()),
		AckSequence:         in.Sequence,
		AckClientTimeMicros: in.ClientTimeMicros,
		Players:             []wire.PlayerState{{PlayerID: c.playerID, Position: pos}},
	}
}

func (c *client) write(msg wire.Message) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(frame)
	return err
}
