package clientmetrics

import (
	"sync"
	"time"
)

// ClientMetrics tracks one session's traffic. Both pump loops update it, so
// every accessor takes the lock.
type ClientMetrics struct {
	mu             sync.Mutex
	activeSince    time.Time
	framesSent     int64
	framesRecv     int64
	bytesSent      int64
	bytesRecv      int64
	protocolErrors int64
	latencySamples int64
	rttSamples     int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{}
}

// MarkActive records when steady-state traffic began.
func (m *ClientMetrics) MarkActive(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSince = at
}

// IncrementSent counts one frame of the given size.
func (m *ClientMetrics) IncrementSent(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesSent++
	m.bytesSent += int64(bytes)
}

// IncrementReceived counts one frame of the given size.
func (m *ClientMetrics) IncrementReceived(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesRecv++
	m.bytesRecv += int64(bytes)
}

func (m *ClientMetrics) IncrementProtocolErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protocolErrors++
}

func (m *ClientMetrics) IncrementLatencySamples() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySamples++
}

func (m *ClientMetrics) IncrementRTTSamples() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rttSamples++
}

// FramesSent returns the total frames sent.
func (m *ClientMetrics) FramesSent() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framesSent
}

// BytesSent returns the total bytes sent.
func (m *ClientMetrics) BytesSent() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesSent
}

// Snapshot is a point-in-time copy of a session's counters.
type Snapshot struct {
	ActiveDuration time.Duration `json:"-"`
	ActiveSeconds  float64       `json:"active_seconds"`
	FramesSent     int64         `json:"frames_sent"`
	FramesReceived int64         `json:"frames_received"`
	BytesSent      int64         `json:"bytes_sent"`
	BytesReceived  int64         `json:"bytes_received"`
	ProtocolErrors int64         `json:"protocol_errors"`
	LatencySamples int64         `json:"latency_samples"`
	RTTSamples     int64         `json:"rtt_samples"`
}

// Snapshot returns a consistent snapshot of all counters. now bounds the
// active duration; the zero time means time.Now.
func (m *ClientMetrics) Snapshot(now time.Time) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.IsZero() {
		now = time.Now()
	}
	var active time.Duration
	if !m.activeSince.IsZero() && now.After(m.activeSince) {
		active = now.Sub(m.activeSince)
	}

	return Snapshot{
		ActiveDuration: active,
		ActiveSeconds:  active.Seconds(),
		FramesSent:     m.framesSent,
		FramesReceived: m.framesRecv,
		BytesSent:      m.bytesSent,
		BytesReceived:  m.bytesRecv,
		ProtocolErrors: m.protocolErrors,
		LatencySamples: m.latencySamples,
		RTTSamples:     m.rttSamples,
	}
}
