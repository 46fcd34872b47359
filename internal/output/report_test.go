package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/torosent/gamestorm/internal/config"
	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/runner"
	"github.com/torosent/gamestorm/internal/threshold"
)

func sampleReport() RunReport {
	cfg := config.Default()
	cfg.Scenario = "basic"
	return RunReport{
		RunID:  "01J0000000000000000000TEST",
		Config: cfg,
		Snapshot: metrics.Snapshot{
			FramesSent:       500,
			FramesReceived:   480,
			FramesSentByKind: map[string]uint64{"player_input": 450, "heartbeat": 50},
			Errors:           map[string]uint64{metrics.ErrorConnect: 2, metrics.ErrorDesync: 1},
			ErrorRatePercent: 0.3,
			Latency:          metrics.Distribution{Count: 10, MeanMs: 20, P95Ms: 35},
			TickLagEstimated: metrics.Distribution{Count: 4, MeanMs: 8, Label: metrics.TickLagLabel},
			Handshake:        map[string]metrics.PhaseStats{metrics.PhaseJoin: {Count: 8, MeanMs: 3.5, P95Ms: 6}},
			Resources:        metrics.ResourceStats{Samples: 30, PeakCPUPercent: 88.5, AvgCPUPercent: 41.3, PeakMemoryPercent: 70, AvgMemoryPercent: 65},
		},
		Summary: runner.Summary{
			Target:                "127.0.0.1:7777",
			TargetSessions:        10,
			Reports:               10,
			Connected:             8,
			ReachedActive:         8,
			ConnectionSuccessRate: 80,
			HandshakeBypassed:     2,
			FinalStates:           map[string]int{"Closed": 8, "Failed": 2},
			Score:                 runner.Score{Connection: 80, Throughput: 90, Latency: 82.5, Stability: 97, Overall: 86.7},
			Grade:                 "A",
		},
		Thresholds: []threshold.Result{{Pass: true, Message: "✓ latency:p95 < 100ms: 35.00 < 100.00"}},
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())
	out := buf.String()

	for _, want := range []string{
		"Scenario:          basic",
		"Connected:         8 (80.0%)",
		"Handshake Bypassed: 2 (best effort)",
		"Sent by kind: player_input=450 heartbeat=50",
		"Tick Lag (estimated):",
		"RTT:\n  No samples",
		"join     n=8",
		"Connection failed: 2",
		"Stream desynchronised: 1",
		"Host Resources (30 samples):",
		"CPU:             peak 88.5%, avg 41.3%",
		"Memory:          peak 70.0%, avg 65.0%",
		"Final States:      Closed=8 Failed=2",
		"Overall:         86.7 (grade A)",
		"latency:p95 < 100ms",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestPrintReportInconclusive(t *testing.T) {
	r := sampleReport()
	r.Summary.Inconclusive = true
	r.Snapshot.Errors = nil
	var buf bytes.Buffer
	PrintReport(&buf, r)
	out := buf.String()
	if !strings.Contains(out, "INCONCLUSIVE") || strings.Contains(out, "grade") {
		t.Errorf("inconclusive run should not be graded:\n%s", out)
	}
	if !strings.Contains(out, "Errors:\n  None") {
		t.Errorf("expected empty error section:\n%s", out)
	}

	r.Snapshot.Resources = metrics.ResourceStats{}
	buf.Reset()
	PrintReport(&buf, r)
	if strings.Contains(buf.String(), "Host Resources") {
		t.Errorf("resource section printed without samples:\n%s", buf.String())
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_report.json")
	if err := WriteJSONReport(path, sampleReport()); err != nil {
		t.Fatalf("WriteJSONReport() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"run_id", "config", "snapshot", "summary", "thresholds"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("report missing %q", key)
		}
	}
	var summary runner.Summary
	if err := json.Unmarshal(decoded["summary"], &summary); err != nil || summary.Grade != "A" {
		t.Errorf("summary = %+v, %v", summary, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary file left behind: %v", entries)
	}
}
