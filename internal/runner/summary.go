package runner

import (
	"math"
	"time"

	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/session"
	"github.com/torosent/gamestorm/internal/wire"
)

// Score is the composite run score, each component in [0, 100].
type Score struct {
	Connection float64 `json:"connection"`
	Throughput float64 `json:"throughput"`
	Latency    float64 `json:"latency"`
	Stability  float64 `json:"stability"`
	Overall    float64 `json:"overall"`
}

// Summary is derived purely from the reports and the final snapshot.
type Summary struct {
	Target                string         `json:"target"`
	TargetSessions        int            `json:"target_sessions"`
	Reports               int            `json:"reports"`
	Hung                  int            `json:"hung"`
	Connected             int            `json:"connected"`
	ReachedActive         int            `json:"reached_active"`
	ConnectionSuccessRate float64        `json:"connection_success_rate"`
	HandshakeFailures     int            `json:"handshake_failures"`
	HandshakeBypassed     int            `json:"handshake_bypassed"`
	FinalStates           map[string]int `json:"final_states"`
	ErrorKinds            map[string]int `json:"error_kinds,omitempty"`
	Score                 Score          `json:"score"`
	Grade                 string         `json:"grade"`
	Inconclusive          bool           `json:"inconclusive"`
	DurationSeconds       float64        `json:"duration_seconds"`
}

// SummaryInput names what Summarize needs beyond the reports.
type SummaryInput struct {
	Target         string
	TargetSessions int
	SendInterval   time.Duration
	// RunDuration is the configured traffic window. Throughput is scored
	// against it rather than the wall time, which also covers draining and
	// waiting for stragglers. A run cancelled early is scored against the
	// shorter wall time.
	RunDuration time.Duration
	Snapshot    metrics.Snapshot
}

// Summarize folds a run result into its summary and score.
func Summarize(res Result, in SummaryInput) Summary {
	sum := Summary{
		Target:          in.Target,
		TargetSessions:  in.TargetSessions,
		Reports:         len(res.Reports),
		Hung:            res.Hung,
		FinalStates:     make(map[string]int),
		DurationSeconds: res.Duration.Seconds(),
	}

	for _, rep := range res.Reports {
		sum.FinalStates[rep.FinalState.String()]++
		if connected(rep) {
			sum.Connected++
		}
		if rep.ReachedActive {
			sum.ReachedActive++
		}
		if rep.ErrorKind == metrics.ErrorHandshake {
			sum.HandshakeFailures++
		}
		sum.HandshakeBypassed += len(rep.Bypassed)
		if rep.ErrorKind != "" {
			if sum.ErrorKinds == nil {
				sum.ErrorKinds = make(map[string]int)
			}
			sum.ErrorKinds[rep.ErrorKind]++
		}
	}
	if in.TargetSessions > 0 {
		sum.ConnectionSuccessRate = float64(sum.Connected) / float64(in.TargetSessions) * 100
	}

	sum.Inconclusive = sum.ReachedActive == 0
	sum.Score = computeScore(sum, scoredWindow(res.Duration, in.RunDuration), in)
	sum.Grade = Grade(sum.Score.Overall)
	return sum
}

// connected reports whether the TCP connect succeeded.
func connected(rep session.Report) bool {
	for _, tr := range rep.Transitions {
		if tr.To == session.Authenticating {
			return true
		}
	}
	return false
}

func scoredWindow(wall, configured time.Duration) time.Duration {
	if configured > 0 && (wall <= 0 || configured < wall) {
		return configured
	}
	return wall
}

func computeScore(sum Summary, elapsed time.Duration, in SummaryInput) Score {
	var sc Score

	if in.TargetSessions > 0 {
		sc.Connection = math.Min(100, float64(sum.Connected)/float64(in.TargetSessions)*100)
	}

	inputs := float64(in.Snapshot.FramesSentByKind[wire.KindPlayerInput.String()])
	if sum.ReachedActive > 0 && in.SendInterval > 0 && elapsed > 0 {
		expected := float64(sum.ReachedActive) * elapsed.Seconds() / in.SendInterval.Seconds()
		if expected > 0 {
			sc.Throughput = math.Min(100, inputs/expected*100)
		}
	}

	if in.Snapshot.Latency.Count == 0 {
		sc.Latency = 50
	} else {
		sc.Latency = clamp((200-in.Snapshot.Latency.P95Ms)/2, 0, 100)
	}

	sc.Stability = math.Max(0, 100-in.Snapshot.ErrorRatePercent*10)

	sc.Overall = 0.25*sc.Connection + 0.35*sc.Throughput + 0.25*sc.Latency + 0.15*sc.Stability
	return sc
}

// Grade maps an overall score to a letter.
func Grade(overall float64) string {
	switch {
	case overall >= 90:
		return "S"
	case overall >= 80:
		return "A"
	case overall >= 70:
		return "B"
	case overall >= 60:
		return "C"
	default:
		return "D"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
