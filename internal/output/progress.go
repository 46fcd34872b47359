package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/torosent/gamestorm/internal/metrics"
)

// SnapshotWriter consumes the periodic snapshots. CSVWriter and
// RedisPublisher implement it.
type SnapshotWriter interface {
	WriteSnapshot(metrics.Snapshot) error
}

// ProgressReporter polls the aggregator every interval, prints a one-line
// status and forwards the snapshot to its writers.
type ProgressReporter struct {
	source   metrics.SnapshotSource
	interval time.Duration
	writer   io.Writer
	sinks    []SnapshotWriter
	log      zerolog.Logger
	failed   []bool

	done     chan struct{}
	finished chan struct{}
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. A nil writer disables the status line but keeps the sinks.
func NewProgressReporter(source metrics.SnapshotSource, interval time.Duration, writer io.Writer, sinks ...SnapshotWriter) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ProgressReporter{
		source:   source,
		interval: interval,
		writer:   writer,
		sinks:    sinks,
		log:      zerolog.Nop(),
		failed:   make([]bool, len(sinks)),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// SetLogger sets where sink failures are reported.
func (p *ProgressReporter) SetLogger(log zerolog.Logger) {
	p.log = log
}

// Start begins reporting in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts reporting and emits one final snapshot so the last interval is
// never lost.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 2) {
		close(p.done)
		<-p.finished
		p.tick()
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.tick()
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) tick() {
	snap := p.source.Snapshot()
	fmt.Fprint(p.writer, "\r"+ProgressLine(snap))
	for i, sink := range p.sinks {
		if err := sink.WriteSnapshot(snap); err != nil {
			// Log each failing sink once; keep trying on later ticks.
			if !p.failed[i] {
				p.log.Warn().Err(err).Msgf("snapshot sink %T failed", sink)
				p.failed[i] = true
			}
		}
	}
}

// ProgressLine renders the one-line status shown during a run.
func ProgressLine(s metrics.Snapshot) string {
	return fmt.Sprintf("[%5.0fs] Connected: %d | In zone: %d | Sent: %d (%.1f/s) | Recv: %d | p95: %.1fms | RTT: %.1fms | Errors: %.2f%%",
		s.ElapsedSeconds,
		s.SessionsConnected,
		s.SessionsInZone,
		s.FramesSent,
		s.FramesSentPerSec,
		s.FramesReceived,
		s.Latency.P95Ms,
		s.RTT.MeanMs,
		s.ErrorRatePercent,
	)
}
