// Package threshold evaluates pass/fail assertions such as
// "latency:p95 < 100ms" against a metrics snapshot. Results are reported
// alongside the summary; they never change the process exit status.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/torosent/gamestorm/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  `json:"metric"`    // e.g. "latency", "errors", "frames_sent"
	Aggregate string  `json:"aggregate"` // e.g. "p95", "avg", "rate", "count"
	Operator  string  `json:"operator"`  // "<", "<=", ">", ">=", "=="
	Value     float64 `json:"value"`     // milliseconds for durations
	Raw       string  `json:"raw"`
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"threshold"`
	Actual    float64   `json:"actual"`
	Pass      bool      `json:"pass"`
	Message   string    `json:"message"`
}

// Evaluator evaluates thresholds against a snapshot.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the snapshot.
func (e *Evaluator) Evaluate(snap metrics.Snapshot) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, snap))
	}
	return results
}

// AllPassed reports whether every result passed. No results counts as passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, snap metrics.Snapshot) Result {
	actual, err := extractMetricValue(t, snap)
	if err != nil {
		return Result{
			Threshold: t,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

var pattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)\s*(ms|s|%)?$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
//   - "latency:p95 < 100ms"         (acknowledged input latency)
//   - "rtt:avg < 50"                (heartbeat round trip, ms)
//   - "tick_lag:p99 < 2s"           (estimated from server timestamps)
//   - "connect:p95 < 500ms"         (also auth and join)
//   - "errors:rate < 1%"            (error rate percent)
//   - "errors:count == 0"
//   - "frames_sent:rate > 1000"     (frames per second; also frames_received)
//   - "sessions:active >= 100"      (sessions that reached Active)
//   - "connections:rate > 99"       (connection success percent)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:aggregate operator value, e.g. 'latency:p95 < 100ms')", s)
	}

	metric, aggregate, operator, valueStr, unit := matches[1], matches[2], matches[3], matches[4], matches[5]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}
	if unit == "s" {
		value *= 1000
	}

	aggregates, ok := supported[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(metricNames(), ", "))
	}
	if !slices.Contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !slices.Contains(operators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}

	return result, nil
}

var (
	distributionAggregates = []string{"p50", "p95", "p99", "avg", "min", "max", "count"}
	phaseAggregates        = []string{"p50", "p95", "p99", "avg", "max", "count"}
	operators              = []string{"<", "<=", ">", ">=", "=="}

	supported = map[string][]string{
		"latency":            distributionAggregates,
		"rtt":                distributionAggregates,
		"tick_lag":           distributionAggregates,
		metrics.PhaseConnect: phaseAggregates,
		metrics.PhaseAuth:    phaseAggregates,
		metrics.PhaseJoin:    phaseAggregates,
		"errors":             {"rate", "count"},
		"frames_sent":        {"rate", "count"},
		"frames_received":    {"rate", "count"},
		"sessions":           {"active", "connected", "in_zone"},
		"connections":        {"rate", "failures"},
	}
)

func metricNames() []string {
	names := make([]string, 0, len(supported))
	for name := range supported {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func extractMetricValue(t Threshold, snap metrics.Snapshot) (float64, error) {
	switch t.Metric {
	case "latency":
		return distributionValue(t.Aggregate, snap.Latency)
	case "rtt":
		return distributionValue(t.Aggregate, snap.RTT)
	case "tick_lag":
		return distributionValue(t.Aggregate, snap.TickLagEstimated)
	case metrics.PhaseConnect, metrics.PhaseAuth, metrics.PhaseJoin:
		return phaseValue(t.Aggregate, snap.Handshake[t.Metric])
	case "errors":
		if t.Aggregate == "rate" {
			return snap.ErrorRatePercent, nil
		}
		var total uint64
		for _, n := range snap.Errors {
			total += n
		}
		return float64(total), nil
	case "frames_sent":
		if t.Aggregate == "rate" {
			return snap.FramesSentPerSec, nil
		}
		return float64(snap.FramesSent), nil
	case "frames_received":
		if t.Aggregate == "rate" {
			return snap.FramesReceivedPerSec, nil
		}
		return float64(snap.FramesReceived), nil
	case "sessions":
		switch t.Aggregate {
		case "active":
			return float64(snap.SessionsReachedActive), nil
		case "connected":
			return float64(snap.SessionsConnected), nil
		default:
			return float64(snap.SessionsInZone), nil
		}
	case "connections":
		if t.Aggregate == "failures" {
			return float64(snap.ConnectionFailures), nil
		}
		if snap.ConnectionAttempts == 0 {
			return 0, nil
		}
		return float64(snap.ConnectionSuccesses) / float64(snap.ConnectionAttempts) * 100, nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func distributionValue(aggregate string, d metrics.Distribution) (float64, error) {
	switch aggregate {
	case "p50":
		return d.P50Ms, nil
	case "p95":
		return d.P95Ms, nil
	case "p99":
		return d.P99Ms, nil
	case "avg":
		return d.MeanMs, nil
	case "min":
		return d.MinMs, nil
	case "max":
		return d.MaxMs, nil
	case "count":
		return float64(d.Count), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q", aggregate)
	}
}

func phaseValue(aggregate string, p metrics.PhaseStats) (float64, error) {
	switch aggregate {
	case "p50":
		return p.P50Ms, nil
	case "p95":
		return p.P95Ms, nil
	case "p99":
		return p.P99Ms, nil
	case "avg":
		return p.MeanMs, nil
	case "max":
		return p.MaxMs, nil
	case "count":
		return float64(p.Count), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
