package metrics

import (
	"maps"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Error kinds recorded by sessions.
const (
	ErrorConnect   = "connect"
	ErrorHandshake = "handshake"
	ErrorFraming   = "framing"
	ErrorProtocol  = "protocol"
	ErrorDesync    = "desync"
	ErrorSend      = "send"
	ErrorReceive   = "receive"
	ErrorPanic     = "panic"
)

// Session state names as produced by session.State.String.
const (
	stateConnecting     = "connecting"
	stateAuthenticating = "authenticating"
	stateJoining        = "joining"
	stateActive         = "active"
	stateDraining       = "draining"
	stateClosed         = "closed"
	stateFailed         = "failed"
)

// Handshake phase names used in Snapshot.Handshake.
const (
	PhaseConnect = "connect"
	PhaseAuth    = "auth"
	PhaseJoin    = "join"
)

var phaseOf = map[string]string{
	stateConnecting:     PhaseConnect,
	stateAuthenticating: PhaseAuth,
	stateJoining:        PhaseJoin,
}

// EventKind selects how an Event is folded into the aggregate.
type EventKind uint8

const (
	// EventFrameSent: Value is the frame size in bytes, Label the message kind.
	EventFrameSent EventKind = iota + 1
	// EventFrameReceived: as EventFrameSent.
	EventFrameReceived
	// EventLatency: Value is nanoseconds.
	EventLatency
	// EventRTT: Value is nanoseconds.
	EventRTT
	// EventTickLag: Value is nanoseconds, derived from server ticks.
	EventTickLag
	// EventError: Label is the error kind.
	EventError
	// EventTransition: Label is the new state, From the previous one and
	// Value the nanoseconds spent in From.
	EventTransition
	// EventHandshakeBypassed: Label is the handshake phase.
	EventHandshakeBypassed
)

// Event is one immutable fact reported by a session.
type Event struct {
	Kind  EventKind
	Value int64
	Label string
	From  string
}

// Options sizes the sample rings.
type Options struct {
	LatencyCapacity int
	RTTCapacity     int
	TickLagCapacity int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		LatencyCapacity: 10_000,
		RTTCapacity:     1_000,
		TickLagCapacity: 1_000,
	}
}

// Aggregator is the process-wide sink for session events.
type Aggregator struct {
	mu  sync.Mutex
	now func() time.Time

	start time.Time

	bytesSent      uint64
	bytesReceived  uint64
	framesSent     uint64
	framesReceived uint64
	sentByKind     map[string]uint64
	receivedByKind map[string]uint64

	errors      map[string]uint64
	transitions map[string]uint64
	bypassed    map[string]uint64

	connected int64
	inZone    int64

	latency *Ring[time.Duration]
	rtt     *Ring[time.Duration]
	tickLag *Ring[time.Duration]

	phases map[string]*hdrhistogram.Histogram

	resources resourceTotals
}

// resourceTotals folds host resource samples into current, peak and mean.
type resourceTotals struct {
	samples          int
	cpu, mem         float64
	peakCPU, peakMem float64
	sumCPU, sumMem   float64
}

func (r *resourceTotals) add(cpu, mem float64) {
	r.samples++
	r.cpu, r.mem = cpu, mem
	r.peakCPU = max(r.peakCPU, cpu)
	r.peakMem = max(r.peakMem, mem)
	r.sumCPU += cpu
	r.sumMem += mem
}

func (r resourceTotals) stats() ResourceStats {
	if r.samples == 0 {
		return ResourceStats{}
	}
	n := float64(r.samples)
	return ResourceStats{
		Samples:           r.samples,
		CPUPercent:        r.cpu,
		MemoryPercent:     r.mem,
		PeakCPUPercent:    r.peakCPU,
		PeakMemoryPercent: r.peakMem,
		AvgCPUPercent:     r.sumCPU / n,
		AvgMemoryPercent:  r.sumMem / n,
	}
}

func NewAggregator(opts Options) *Aggregator {
	def := DefaultOptions()
	if opts.LatencyCapacity <= 0 {
		opts.LatencyCapacity = def.LatencyCapacity
	}
	if opts.RTTCapacity <= 0 {
		opts.RTTCapacity = def.RTTCapacity
	}
	if opts.TickLagCapacity <= 0 {
		opts.TickLagCapacity = def.TickLagCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	phases := make(map[string]*hdrhistogram.Histogram, len(phaseOf))
	for _, phase := range phaseOf {
		// Track handshake durations from 1µs up to 60s with 3 significant figures.
		phases[phase] = hdrhistogram.New(1, 60_000_000, 3)
	}

	return &Aggregator{
		now:            opts.Now,
		start:          opts.Now(),
		sentByKind:     make(map[string]uint64),
		receivedByKind: make(map[string]uint64),
		errors:         make(map[string]uint64),
		transitions:    make(map[string]uint64),
		bypassed:       make(map[string]uint64),
		latency:        NewRing[time.Duration](opts.LatencyCapacity),
		rtt:            NewRing[time.Duration](opts.RTTCapacity),
		tickLag:        NewRing[time.Duration](opts.TickLagCapacity),
		phases:         phases,
	}
}

// Start marks the beginning of the measured run.
func (a *Aggregator) Start() {
	a.mu.Lock()
	a.start = a.now()
	a.mu.Unlock()
}

// Record folds one event into the aggregate.
func (a *Aggregator) Record(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Kind {
	case EventFrameSent:
		a.framesSent++
		a.bytesSent += uint64(ev.Value)
		a.sentByKind[ev.Label]++
	case EventFrameReceived:
		a.framesReceived++
		a.bytesReceived += uint64(ev.Value)
		a.receivedByKind[ev.Label]++
	case EventLatency:
		a.latency.Push(time.Duration(ev.Value))
	case EventRTT:
		a.rtt.Push(time.Duration(ev.Value))
	case EventTickLag:
		a.tickLag.Push(time.Duration(ev.Value))
	case EventError:
		a.errors[ev.Label]++
	case EventTransition:
		a.recordTransition(ev)
	case EventHandshakeBypassed:
		a.bypassed[ev.Label]++
	}
}

func (a *Aggregator) recordTransition(ev Event) {
	a.transitions[ev.Label]++

	if phase, ok := phaseOf[ev.From]; ok && ev.Label != stateFailed && ev.Label != stateClosed {
		h := a.phases[phase]
		us := time.Duration(ev.Value).Microseconds()
		if us < h.LowestTrackableValue() {
			us = h.LowestTrackableValue()
		}
		if us > h.HighestTrackableValue() {
			us = h.HighestTrackableValue()
		}
		_ = h.RecordValue(us)
	}

	switch ev.Label {
	case stateAuthenticating:
		a.connected++
	case stateActive:
		a.inZone++
	case stateClosed, stateFailed:
		switch ev.From {
		case stateAuthenticating, stateJoining:
			a.connected--
		case stateActive, stateDraining:
			a.connected--
			a.inZone--
		}
	}
}

func (a *Aggregator) RecordSent(kind string, bytes int) {
	a.Record(Event{Kind: EventFrameSent, Value: int64(bytes), Label: kind})
}

func (a *Aggregator) RecordReceived(kind string, bytes int) {
	a.Record(Event{Kind: EventFrameReceived, Value: int64(bytes), Label: kind})
}

func (a *Aggregator) RecordLatency(d time.Duration) {
	a.Record(Event{Kind: EventLatency, Value: int64(d)})
}

func (a *Aggregator) RecordRTT(d time.Duration) {
	a.Record(Event{Kind: EventRTT, Value: int64(d)})
}

func (a *Aggregator) RecordTickLag(d time.Duration) {
	a.Record(Event{Kind: EventTickLag, Value: int64(d)})
}

func (a *Aggregator) RecordError(kind string) {
	a.Record(Event{Kind: EventError, Label: kind})
}

// RecordTransition records a state change after spent time in from.
func (a *Aggregator) RecordTransition(from, to string, spent time.Duration) {
	a.Record(Event{Kind: EventTransition, Label: to, From: from, Value: int64(spent)})
}

func (a *Aggregator) RecordBypass(phase string) {
	a.Record(Event{Kind: EventHandshakeBypassed, Label: phase})
}

// RecordResources folds one host resource sample, both values in percent.
func (a *Aggregator) RecordResources(cpu, mem float64) {
	a.mu.Lock()
	a.resources.add(cpu, mem)
	a.mu.Unlock()
}

// rawState is everything Snapshot copies while holding the lock.
type rawState struct {
	now, start                                                time.Time
	bytesSent, bytesReceived, framesSent, framesReceived      uint64
	sentByKind, receivedByKind, errors, transitions, bypassed map[string]uint64
	connected, inZone                                         int64
	latency, rtt, tickLag                                     []time.Duration
	phases                                                    map[string]*hdrhistogram.Snapshot
	resources                                                 ResourceStats
}

// Snapshot returns a point-in-time copy of the aggregate with derived
// statistics.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	raw := rawState{
		now:            a.now(),
		start:          a.start,
		bytesSent:      a.bytesSent,
		bytesReceived:  a.bytesReceived,
		framesSent:     a.framesSent,
		framesReceived: a.framesReceived,
		sentByKind:     maps.Clone(a.sentByKind),
		receivedByKind: maps.Clone(a.receivedByKind),
		errors:         maps.Clone(a.errors),
		transitions:    maps.Clone(a.transitions),
		bypassed:       maps.Clone(a.bypassed),
		connected:      a.connected,
		inZone:         a.inZone,
		latency:        a.latency.AppendTo(make([]time.Duration, 0, a.latency.Len())),
		rtt:            a.rtt.AppendTo(make([]time.Duration, 0, a.rtt.Len())),
		tickLag:        a.tickLag.AppendTo(make([]time.Duration, 0, a.tickLag.Len())),
		phases:         make(map[string]*hdrhistogram.Snapshot, len(a.phases)),
		resources:      a.resources.stats(),
	}
	for name, h := range a.phases {
		raw.phases[name] = h.Export()
	}
	a.mu.Unlock()

	return buildSnapshot(raw)
}
