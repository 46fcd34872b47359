package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gamestorm"

// SnapshotSource is anything that can produce a Snapshot on demand.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// PrometheusCollector exposes an aggregate as Prometheus metrics. Each scrape
// takes one snapshot, so values are mutually consistent within a scrape.
type PrometheusCollector struct {
	src SnapshotSource

	bytes       *prometheus.Desc
	frames      *prometheus.Desc
	errors      *prometheus.Desc
	transitions *prometheus.Desc
	sessions    *prometheus.Desc
	quantiles   *prometheus.Desc
	handshake   *prometheus.Desc
	host        *prometheus.Desc
}

func NewPrometheusCollector(src SnapshotSource) *PrometheusCollector {
	return &PrometheusCollector{
		src: src,
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "wire", "bytes_total"),
			"Bytes moved over game connections, including length prefixes.",
			[]string{"direction"}, nil,
		),
		frames: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "wire", "frames_total"),
			"Frames moved over game connections by message kind.",
			[]string{"direction", "kind"}, nil,
		),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "errors_total"),
			"Session errors by kind.",
			[]string{"kind"}, nil,
		),
		transitions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "transitions_total"),
			"Session state transitions by target state.",
			[]string{"state"}, nil,
		),
		sessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "current"),
			"Sessions currently connected or in zone.",
			[]string{"stage"}, nil,
		),
		quantiles: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "latency_seconds"),
			"Recent latency sample quantiles by source.",
			[]string{"source", "quantile"}, nil,
		),
		handshake: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "handshake", "duration_seconds"),
			"Handshake phase duration quantiles.",
			[]string{"phase", "quantile"}, nil,
		),
		host: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "usage_percent"),
			"Latest host resource sample.",
			[]string{"resource"}, nil,
		),
	}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytes
	ch <- c.frames
	ch <- c.errors
	ch <- c.transitions
	ch <- c.sessions
	ch <- c.quantiles
	ch <- c.handshake
	ch <- c.host
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.BytesSent), "sent")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.BytesReceived), "received")
	for kind, n := range s.FramesSentByKind {
		ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(n), "sent", kind)
	}
	for kind, n := range s.FramesReceivedByKind {
		ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(n), "received", kind)
	}
	for kind, n := range s.Errors {
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(n), kind)
	}
	for state, n := range s.Transitions {
		ch <- prometheus.MustNewConstMetric(c.transitions, prometheus.CounterValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(s.SessionsConnected), "connected")
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(s.SessionsInZone), "in_zone")

	for source, d := range map[string]Distribution{"latency": s.Latency, "rtt": s.RTT, "tick_lag_estimated": s.TickLagEstimated} {
		if d.Count == 0 {
			continue
		}
		for q, v := range map[string]float64{"0.5": d.P50Ms, "0.95": d.P95Ms, "0.99": d.P99Ms} {
			ch <- prometheus.MustNewConstMetric(c.quantiles, prometheus.GaugeValue, v/1000, source, q)
		}
	}
	for phase, p := range s.Handshake {
		for q, v := range map[string]float64{"0.5": p.P50Ms, "0.95": p.P95Ms, "0.99": p.P99Ms} {
			ch <- prometheus.MustNewConstMetric(c.handshake, prometheus.GaugeValue, v/1000, phase, q)
		}
	}
	if s.Resources.Samples > 0 {
		ch <- prometheus.MustNewConstMetric(c.host, prometheus.GaugeValue, s.Resources.CPUPercent, "cpu")
		ch <- prometheus.MustNewConstMetric(c.host, prometheus.GaugeValue, s.Resources.MemoryPercent, "memory")
	}
}
