package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/torosent/gamestorm/internal/config"
	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/runner"
	"github.com/torosent/gamestorm/internal/threshold"
)

// RunReport is the terminal record of one run.
type RunReport struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	Config     config.Config      `json:"config"`
	Snapshot   metrics.Snapshot   `json:"snapshot"`
	Summary    runner.Summary     `json:"summary"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r RunReport) error {
	return encodeJSON(w, r)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteJSONReport writes the report to path through a temporary file so a
// reader never sees a partial document.
func WriteJSONReport(path string, r RunReport) error {
	return writeJSONFile(path, r)
}

func writeJSONFile(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.json")
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := encodeJSON(tmp, v); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r RunReport) {
	sum := r.Summary
	snap := r.Snapshot

	fmt.Fprintln(w, "\n--- Game Load Test Results ---")
	if r.RunID != "" {
		fmt.Fprintf(w, "Run:               %s\n", r.RunID)
	}
	if r.Config.Scenario != "" {
		fmt.Fprintf(w, "Scenario:          %s\n", r.Config.Scenario)
	}
	fmt.Fprintf(w, "Target:            %s\n", sum.Target)
	fmt.Fprintf(w, "Duration:          %s\n", time.Duration(sum.DurationSeconds*float64(time.Second)).Round(time.Millisecond))
	fmt.Fprintf(w, "Sessions:          %d target, %d reported, %d hung\n", sum.TargetSessions, sum.Reports, sum.Hung)
	fmt.Fprintf(w, "Connected:         %d (%.1f%%)\n", sum.Connected, sum.ConnectionSuccessRate)
	fmt.Fprintf(w, "Reached Active:    %d\n", sum.ReachedActive)
	fmt.Fprintf(w, "Handshake Failed:  %d\n", sum.HandshakeFailures)
	if sum.HandshakeBypassed > 0 {
		fmt.Fprintf(w, "Handshake Bypassed: %d (best effort)\n", sum.HandshakeBypassed)
	}

	fmt.Fprintln(w, "\nTraffic:")
	fmt.Fprintf(w, "  Frames Sent:     %d (%.1f/s, %.3f Mbps)\n", snap.FramesSent, snap.FramesSentPerSec, snap.MbpsSent)
	fmt.Fprintf(w, "  Frames Received: %d (%.1f/s, %.3f Mbps)\n", snap.FramesReceived, snap.FramesReceivedPerSec, snap.MbpsReceived)
	writeKindRows(w, "  Sent by kind:", snap.FramesSentByKind)
	writeKindRows(w, "  Received by kind:", snap.FramesReceivedByKind)

	writeDistribution(w, "Latency", snap.Latency)
	writeDistribution(w, "RTT", snap.RTT)
	writeDistribution(w, "Tick Lag", snap.TickLagEstimated)

	if len(snap.Handshake) > 0 {
		fmt.Fprintln(w, "\nHandshake Phases:")
		for _, phase := range []string{metrics.PhaseConnect, metrics.PhaseAuth, metrics.PhaseJoin} {
			st, ok := snap.Handshake[phase]
			if !ok || st.Count == 0 {
				continue
			}
			fmt.Fprintf(w, "  %-8s n=%d mean=%.1fms p95=%.1fms max=%.1fms\n", phase, st.Count, st.MeanMs, st.P95Ms, st.MaxMs)
		}
	}

	fmt.Fprintln(w, "\nErrors:")
	rows := metrics.FlattenCounts(snap.Errors)
	if len(rows) == 0 {
		fmt.Fprintln(w, "  None")
	}
	for _, row := range rows {
		fmt.Fprintf(w, "  %s: %d\n", metrics.FriendlyErrorName(row.Name), row.Count)
	}
	fmt.Fprintf(w, "  Error Rate:      %.2f%%\n", snap.ErrorRatePercent)

	if res := snap.Resources; res.Samples > 0 {
		fmt.Fprintf(w, "\nHost Resources (%d samples):\n", res.Samples)
		fmt.Fprintf(w, "  CPU:             peak %.1f%%, avg %.1f%%\n", res.PeakCPUPercent, res.AvgCPUPercent)
		fmt.Fprintf(w, "  Memory:          peak %.1f%%, avg %.1f%%\n", res.PeakMemoryPercent, res.AvgMemoryPercent)
	}

	if len(sum.FinalStates) > 0 {
		states := make([]string, 0, len(sum.FinalStates))
		for state := range sum.FinalStates {
			states = append(states, state)
		}
		sort.Strings(states)
		parts := make([]string, len(states))
		for i, state := range states {
			parts[i] = fmt.Sprintf("%s=%d", state, sum.FinalStates[state])
		}
		fmt.Fprintf(w, "\nFinal States:      %s\n", strings.Join(parts, " "))
	}

	fmt.Fprintln(w, "\nScore:")
	fmt.Fprintf(w, "  Connection:      %.1f\n", sum.Score.Connection)
	fmt.Fprintf(w, "  Throughput:      %.1f\n", sum.Score.Throughput)
	fmt.Fprintf(w, "  Latency:         %.1f\n", sum.Score.Latency)
	fmt.Fprintf(w, "  Stability:       %.1f\n", sum.Score.Stability)
	if sum.Inconclusive {
		fmt.Fprintln(w, "  Overall:         INCONCLUSIVE (no session reached Active)")
	} else {
		fmt.Fprintf(w, "  Overall:         %.1f (grade %s)\n", sum.Score.Overall, sum.Grade)
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res.Message)
		}
	}
}

func writeDistribution(w io.Writer, name string, d metrics.Distribution) {
	title := name
	if d.Label != "" {
		title = fmt.Sprintf("%s (%s)", name, d.Label)
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	if d.Count == 0 {
		fmt.Fprintln(w, "  No samples")
		return
	}
	fmt.Fprintf(w, "  Samples:         %d\n", d.Count)
	fmt.Fprintf(w, "  Min:             %.2fms\n", d.MinMs)
	fmt.Fprintf(w, "  Mean:            %.2fms\n", d.MeanMs)
	fmt.Fprintf(w, "  P50:             %.2fms\n", d.P50Ms)
	fmt.Fprintf(w, "  P95:             %.2fms\n", d.P95Ms)
	fmt.Fprintf(w, "  P99:             %.2fms\n", d.P99Ms)
	fmt.Fprintf(w, "  Max:             %.2fms\n", d.MaxMs)
}

func writeKindRows(w io.Writer, title string, counts map[string]uint64) {
	rows := metrics.FlattenCounts(counts)
	if len(rows) == 0 {
		return
	}
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = fmt.Sprintf("%s=%d", row.Name, row.Count)
	}
	fmt.Fprintf(w, "%s %s\n", title, strings.Join(parts, " "))
}
