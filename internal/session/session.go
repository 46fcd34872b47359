// Package session drives one simulated player through its connection
// lifecycle: connect, authenticate, join a zone, exchange steady traffic,
// drain and close. Each Session owns its socket exclusively; the only state
// it shares with other sessions is the metrics Sink.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/gamestorm/internal/clientmetrics"
	"github.com/torosent/gamestorm/internal/credentials"
	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/tracing"
	"github.com/torosent/gamestorm/internal/wire"
)

// Sink receives session events. *metrics.Aggregator implements it.
type Sink interface {
	Record(metrics.Event)
}

// Dialer opens the game connection. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option customises a Session.
type Option func(*Session)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Session) { s.tracer = t }
}

// WithSeed makes the synthesized traffic deterministic.
func WithSeed(seed uint64) Option {
	return func(s *Session) { s.rng = rand.New(rand.NewPCG(seed, uint64(s.id))) }
}

// Session is one simulated client.
type Session struct {
	id       int
	cfg      Config
	account  credentials.Account
	sink     Sink
	log      zerolog.Logger
	dialer   Dialer
	tracer   trace.Tracer
	span     trace.Span
	rng      *rand.Rand
	counters *clientmetrics.ClientMetrics
	traffic  *traffic
	desync   desyncGuard

	mu          sync.Mutex
	state       State
	entered     time.Time
	createdAt   time.Time
	transitions []Transition
	bypassed    []string
	conn        net.Conn
	closed      bool

	reader    *wire.Reader
	closeOnce sync.Once
	closeErr  error

	commandID int64
	sequence  uint32
	lastAcked uint32
	lastTick  atomic.Uint64

	runOnce sync.Once
	report  Report
}

// New creates a session in the Disconnected state.
func New(id int, cfg Config, account credentials.Account, sink Sink, opts ...Option) *Session {
	now := time.Now()
	s := &Session{
		id:        id,
		cfg:       cfg.withDefaults(),
		account:   account,
		sink:      sink,
		log:       zerolog.Nop(),
		dialer:    &net.Dialer{},
		counters:  clientmetrics.New(),
		state:     Disconnected,
		entered:   now,
		createdAt: now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("gamestorm")
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(uint64(now.UnixNano()), uint64(id)))
	}
	s.log = s.log.With().Int("session", id).Logger()
	s.traffic = newTraffic(s.rng)
	s.desync = desyncGuard{threshold: s.cfg.DesyncThreshold, window: s.cfg.DesyncWindow}
	return s
}

func (s *Session) ID() int { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the session until ctx ends or a fatal error occurs, then
// returns the terminal report. Cancelling ctx ends the Active phase and
// starts the drain. Run executes once; later calls return the same report.
func (s *Session) Run(ctx context.Context) Report {
	s.runOnce.Do(func() { s.report = s.run(ctx) })
	return s.report
}

// Close closes the socket. It is safe to call from any goroutine, any number
// of times; only the first call has an effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		s.closed = true
		s.mu.Unlock()
		if conn != nil {
			s.closeErr = conn.Close()
		}
	})
	return s.closeErr
}

func (s *Session) run(ctx context.Context) Report {
	ctx, span := tracing.StartSessionSpan(ctx, s.tracer, s.id, s.cfg.Target)
	s.span = span

	err := s.lifecycle(ctx)
	s.Close()
	if err != nil {
		s.fail(err)
	}

	rep := s.buildReport(err)
	tracing.EndSpan(span, err, tracing.SessionResultAttributes(rep.FinalState.String(), rep.Counters.FramesSent, rep.Counters.FramesReceived)...)
	return rep
}

func (s *Session) lifecycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	if err := s.transition(Connecting); err != nil {
		return err
	}
	if err := s.connect(ctx); err != nil {
		return err
	}
	if err := s.transition(Authenticating); err != nil {
		return err
	}
	if err := s.authenticate(ctx); err != nil {
		return err
	}
	if err := s.transition(Joining); err != nil {
		return err
	}
	if err := s.join(ctx); err != nil {
		return err
	}
	if err := s.transition(Active); err != nil {
		return err
	}
	s.counters.MarkActive(time.Now())

	if err := s.pump(ctx); err != nil {
		return err
	}
	return s.transition(Closed)
}

func (s *Session) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dialer.DialContext(dialCtx, "tcp", s.cfg.Target)
	if err != nil {
		return &ConnectError{Target: s.cfg.Target, Err: err}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(s.cfg.NoDelay)
		if s.cfg.ReadBufferSize > 0 {
			_ = tcp.SetReadBuffer(s.cfg.ReadBufferSize)
		}
		if s.cfg.WriteBufferSize > 0 {
			_ = tcp.SetWriteBuffer(s.cfg.WriteBufferSize)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return &ConnectError{Target: s.cfg.Target, Err: net.ErrClosed}
	}
	s.conn = conn
	s.mu.Unlock()

	var src io.Reader = conn
	if s.cfg.HangupWindow > 0 {
		br := bufio.NewReader(conn)
		if err := awaitHangup(conn, br, s.cfg.HangupWindow); err != nil {
			return &ConnectError{Target: s.cfg.Target, Err: err}
		}
		src = br
	}
	s.reader = wire.NewReader(src, s.cfg.MaxPayload)
	return nil
}

// awaitHangup peeks at a fresh connection for up to window. Silence or early
// server data means the peer is alive; the peeked bytes stay buffered in br.
// EOF or a reset means the server hung up right after accepting.
func awaitHangup(conn net.Conn, br *bufio.Reader, window time.Duration) error {
	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		return err
	}
	_, err := br.Peek(1)
	if derr := conn.SetReadDeadline(time.Time{}); derr != nil {
		return derr
	}
	if err == nil || isTimeout(err) {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return ErrClosedOnAccept
	}
	return err
}

// transition applies from -> to if the lifecycle allows it and publishes
// the timestamped event.
func (s *Session) transition(to State) error {
	now := time.Now()

	s.mu.Lock()
	from := s.state
	if !Can(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	spent := now.Sub(s.entered)
	s.state = to
	s.entered = now
	s.transitions = append(s.transitions, Transition{From: from, To: to, At: now})
	s.mu.Unlock()

	s.sink.Record(metrics.Event{
		Kind:  metrics.EventTransition,
		Label: to.String(),
		From:  from.String(),
		Value: int64(spent),
	})
	tracing.AddTransition(s.span, from.String(), to.String(), spent)
	s.log.Debug().
		Stringer("from", from).
		Stringer("to", to).
		Dur("spent", spent).
		Msg("session transition")
	return nil
}

// fail records err as the session's single failure and moves to Failed.
func (s *Session) fail(err error) {
	kind := ErrorKind(err)
	s.sink.Record(metrics.Event{Kind: metrics.EventError, Label: kind})
	if terr := s.transition(Failed); terr != nil && !errors.Is(terr, ErrInvalidTransition) {
		s.log.Error().Err(terr).Msg("session could not enter failed state")
	}
	s.log.Debug().Str("kind", kind).Err(err).Msg("session failed")
}

func (s *Session) nextCommandID() int64 {
	s.commandID++
	return s.commandID
}

// send encodes and writes one frame. Only one goroutine writes at a time:
// the handshake before the pump starts, then the outbound loop.
func (s *Session) send(msg wire.Message) error {
	var (
		frame []byte
		err   error
	)
	if in, ok := msg.(*wire.PlayerInput); ok && s.cfg.InputPayloadSize > 0 {
		frame, err = wire.EncodePaddedInput(in, s.cfg.InputPayloadSize)
	} else {
		frame, err = wire.Encode(msg)
	}
	if err != nil {
		return &SendError{Kind: msg.Kind(), Err: err}
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return &SendError{Kind: msg.Kind(), Err: err}
	}
	if _, err := s.conn.Write(frame); err != nil {
		return &SendError{Kind: msg.Kind(), Err: err}
	}

	s.counters.IncrementSent(len(frame))
	s.sink.Record(metrics.Event{Kind: metrics.EventFrameSent, Value: int64(len(frame)), Label: msg.Kind().String()})
	return nil
}

// received accounts for one consumed frame; msg is nil when it failed to
// decode.
func (s *Session) received(msg wire.Message, size int) {
	label := "malformed"
	if msg != nil {
		label = msg.Kind().String()
	}
	s.counters.IncrementReceived(size)
	s.sink.Record(metrics.Event{Kind: metrics.EventFrameReceived, Value: int64(size), Label: label})
}

// protocolError counts a malformed frame and reports a DesyncError once the
// guard trips.
func (s *Session) protocolError(now time.Time, err error) error {
	s.counters.IncrementProtocolErrors()
	s.sink.Record(metrics.Event{Kind: metrics.EventError, Label: metrics.ErrorProtocol})
	s.log.Debug().Err(err).Msg("discarded malformed frame")
	return s.desync.observe(now, err)
}

// observe extracts latency samples from server frames.
func (s *Session) observe(msg wire.Message, now time.Time) {
	switch m := msg.(type) {
	case *wire.WorldSnapshot:
		s.lastTick.Store(m.Tick)
		if m.AckSequence > s.lastAcked && m.AckClientTimeMicros != 0 {
			s.lastAcked = m.AckSequence
			if lat := now.Sub(time.UnixMicro(int64(m.AckClientTimeMicros))); lat >= 0 {
				s.counters.IncrementLatencySamples()
				s.sink.Record(metrics.Event{Kind: metrics.EventLatency, Value: int64(lat)})
			}
		}
		if m.ServerTimeMicros != 0 {
			lag := now.Sub(time.UnixMicro(int64(m.ServerTimeMicros)))
			if lag >= 0 && lag < maxTickLag {
				s.sink.Record(metrics.Event{Kind: metrics.EventTickLag, Value: int64(lag)})
			}
		}
	case *wire.HeartbeatAck:
		rtt := now.Sub(time.UnixMicro(int64(m.ClientTimeMicros)))
		if rtt > 0 && rtt < maxRTT {
			s.counters.IncrementRTTSamples()
			s.sink.Record(metrics.Event{Kind: metrics.EventRTT, Value: int64(rtt)})
		}
	}
}

const (
	maxRTT     = time.Second
	maxTickLag = 10 * time.Second
)

func (s *Session) buildReport(err error) Report {
	closedAt := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := Report{
		SessionID:   s.id,
		PlayerID:    s.account.PlayerID,
		Target:      s.cfg.Target,
		FinalState:  s.state,
		Transitions: append([]Transition(nil), s.transitions...),
		Bypassed:    append([]string(nil), s.bypassed...),
		Counters:    s.counters.Snapshot(closedAt),
		CreatedAt:   s.createdAt,
		ClosedAt:    closedAt,
		Err:         err,
	}
	for _, tr := range rep.Transitions {
		if tr.To == Active {
			rep.ReachedActive = true
		}
	}
	if err != nil {
		rep.ErrorKind = ErrorKind(err)
		rep.Error = err.Error()
	}
	return rep
}
