package output

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"

	"github.com/torosent/gamestorm/internal/metrics"
)

// CSVHeader lists the periodic metrics columns in file order.
var CSVHeader = []string{
	"elapsed_time",
	"clients_connected",
	"clients_in_zone",
	"packets_sent_total",
	"packets_per_sec",
	"mbps_sent",
	"mbps_received",
	"avg_latency_ms",
	"p95_latency_ms",
	"avg_rtt_ms",
	"error_rate_percent",
	"send_errors",
	"receive_errors",
	"connection_failures",
	"cpu_usage",
	"memory_usage",
}

// CSVWriter appends one row per snapshot. The header is written before the
// first row.
type CSVWriter struct {
	mu     sync.Mutex
	w      *csv.Writer
	header bool
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

func (c *CSVWriter) WriteSnapshot(s metrics.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.header {
		if err := c.w.Write(CSVHeader); err != nil {
			return err
		}
		c.header = true
	}
	if err := c.w.Write(CSVRow(s)); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// CSVRow formats a snapshot in CSVHeader order.
func CSVRow(s metrics.Snapshot) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return []string{
		f(s.ElapsedSeconds),
		strconv.FormatInt(s.SessionsConnected, 10),
		strconv.FormatInt(s.SessionsInZone, 10),
		u(s.FramesSent),
		f(s.FramesSentPerSec),
		strconv.FormatFloat(s.MbpsSent, 'f', 4, 64),
		strconv.FormatFloat(s.MbpsReceived, 'f', 4, 64),
		f(s.Latency.MeanMs),
		f(s.Latency.P95Ms),
		f(s.RTT.MeanMs),
		f(s.ErrorRatePercent),
		u(s.SendErrors),
		u(s.ReceiveErrors),
		u(s.ConnectionFailures),
		f(s.Resources.CPUPercent),
		f(s.Resources.MemoryPercent),
	}
}
