package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// TickLagLabel marks distributions derived from server tick counters rather
// than a request/response timestamp pair.
const TickLagLabel = "estimated"

// Snapshot is an immutable point-in-time view of the aggregate.
type Snapshot struct {
	Timestamp      time.Time     `json:"timestamp"`
	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`

	BytesSent            uint64            `json:"bytes_sent"`
	BytesReceived        uint64            `json:"bytes_received"`
	FramesSent           uint64            `json:"frames_sent"`
	FramesReceived       uint64            `json:"frames_received"`
	FramesSentByKind     map[string]uint64 `json:"frames_sent_by_kind,omitempty"`
	FramesReceivedByKind map[string]uint64 `json:"frames_received_by_kind,omitempty"`

	ConnectionAttempts    uint64            `json:"connection_attempts"`
	ConnectionSuccesses   uint64            `json:"connection_successes"`
	SessionsReachedActive uint64            `json:"sessions_reached_active"`
	SessionsConnected     int64             `json:"sessions_connected"`
	SessionsInZone        int64             `json:"sessions_in_zone"`
	Transitions           map[string]uint64 `json:"transitions,omitempty"`
	HandshakeBypassed     map[string]uint64 `json:"handshake_bypassed,omitempty"`

	Errors             map[string]uint64 `json:"errors,omitempty"`
	ConnectionFailures uint64            `json:"connection_failures"`
	HandshakeFailures  uint64            `json:"handshake_failures"`
	SendErrors         uint64            `json:"send_errors"`
	ReceiveErrors      uint64            `json:"receive_errors"`
	ProtocolErrors     uint64            `json:"protocol_errors"`
	FramingErrors      uint64            `json:"framing_errors"`
	ErrorRatePercent   float64           `json:"error_rate_percent"`

	FramesSentPerSec     float64 `json:"frames_sent_per_sec"`
	FramesReceivedPerSec float64 `json:"frames_received_per_sec"`
	BytesSentPerSec      float64 `json:"bytes_sent_per_sec"`
	BytesReceivedPerSec  float64 `json:"bytes_received_per_sec"`
	MbpsSent             float64 `json:"mbps_sent"`
	MbpsReceived         float64 `json:"mbps_received"`

	Latency          Distribution          `json:"latency"`
	RTT              Distribution          `json:"rtt"`
	TickLagEstimated Distribution          `json:"tick_lag_estimated"`
	Handshake        map[string]PhaseStats `json:"handshake,omitempty"`

	Resources ResourceStats `json:"resources"`
}

// ResourceStats summarises the host CPU and memory samples taken during the
// run. All values are percentages; Samples is zero when sampling was off.
type ResourceStats struct {
	Samples           int     `json:"samples"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
	PeakCPUPercent    float64 `json:"peak_cpu_percent"`
	PeakMemoryPercent float64 `json:"peak_memory_percent"`
	AvgCPUPercent     float64 `json:"avg_cpu_percent"`
	AvgMemoryPercent  float64 `json:"avg_memory_percent"`
}

// PhaseStats summarises one handshake phase from its histogram.
type PhaseStats struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

func buildSnapshot(raw rawState) Snapshot {
	elapsed := raw.now.Sub(raw.start)
	if elapsed < 0 {
		elapsed = 0
	}

	s := Snapshot{
		Timestamp:             raw.now,
		Elapsed:               elapsed,
		ElapsedSeconds:        elapsed.Seconds(),
		BytesSent:             raw.bytesSent,
		BytesReceived:         raw.bytesReceived,
		FramesSent:            raw.framesSent,
		FramesReceived:        raw.framesReceived,
		FramesSentByKind:      raw.sentByKind,
		FramesReceivedByKind:  raw.receivedByKind,
		ConnectionAttempts:    raw.transitions[stateConnecting],
		ConnectionSuccesses:   raw.transitions[stateAuthenticating],
		SessionsReachedActive: raw.transitions[stateActive],
		SessionsConnected:     raw.connected,
		SessionsInZone:        raw.inZone,
		Transitions:           raw.transitions,
		HandshakeBypassed:     raw.bypassed,
		Errors:                raw.errors,
		ConnectionFailures:    raw.errors[ErrorConnect],
		HandshakeFailures:     raw.errors[ErrorHandshake],
		SendErrors:            raw.errors[ErrorSend],
		ReceiveErrors:         raw.errors[ErrorReceive],
		ProtocolErrors:        raw.errors[ErrorProtocol],
		FramingErrors:         raw.errors[ErrorFraming],
		Resources:             raw.resources,
	}

	if frames := s.FramesSent + s.FramesReceived; frames > 0 {
		s.ErrorRatePercent = float64(s.SendErrors+s.ReceiveErrors) / float64(frames) * 100
	}

	if secs := elapsed.Seconds(); secs > 0 {
		s.FramesSentPerSec = float64(s.FramesSent) / secs
		s.FramesReceivedPerSec = float64(s.FramesReceived) / secs
		s.BytesSentPerSec = float64(s.BytesSent) / secs
		s.BytesReceivedPerSec = float64(s.BytesReceived) / secs
		s.MbpsSent = s.BytesSentPerSec * 8 / 1_000_000
		s.MbpsReceived = s.BytesReceivedPerSec * 8 / 1_000_000
	}

	s.Latency = Summarize(raw.latency)
	s.RTT = Summarize(raw.rtt)
	s.TickLagEstimated = Summarize(raw.tickLag)
	s.TickLagEstimated.Label = TickLagLabel

	for name, exported := range raw.phases {
		h := hdrhistogram.Import(exported)
		if h.TotalCount() == 0 {
			continue
		}
		if s.Handshake == nil {
			s.Handshake = make(map[string]PhaseStats, len(raw.phases))
		}
		s.Handshake[name] = PhaseStats{
			Count:  h.TotalCount(),
			MeanMs: h.Mean() / 1000,
			P50Ms:  float64(h.ValueAtQuantile(50)) / 1000,
			P95Ms:  float64(h.ValueAtQuantile(95)) / 1000,
			P99Ms:  float64(h.ValueAtQuantile(99)) / 1000,
			MaxMs:  float64(h.Max()) / 1000,
		}
	}

	return s
}
