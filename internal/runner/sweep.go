package runner

import (
	"time"

	"github.com/torosent/gamestorm/internal/metrics"
)

// SweepStep is one run of a scalability sweep. Offset is when the step
// starts relative to the sweep, counting the cooldowns before it.
type SweepStep struct {
	Index    int           `json:"index"`
	Clients  int           `json:"clients"`
	Offset   time.Duration `json:"-"`
	Duration time.Duration `json:"-"`
	// Cooldown is the pause before this step; the first step has none.
	Cooldown time.Duration `json:"-"`
}

// SweepPlan is the ordered list of steps for a sweep.
type SweepPlan struct {
	steps      []SweepStep
	duration   time.Duration
	maxClients int
}

// CompileSweepPlan lays out one step per positive client count, in the given
// order. It returns nil when nothing is left to run.
func CompileSweepPlan(clients []int, stepDuration, cooldown time.Duration) *SweepPlan {
	if len(clients) == 0 || stepDuration <= 0 {
		return nil
	}
	if cooldown < 0 {
		cooldown = 0
	}

	plan := &SweepPlan{}
	var offset time.Duration
	for _, n := range clients {
		if n <= 0 {
			continue
		}
		step := SweepStep{
			Index:    len(plan.steps),
			Clients:  n,
			Duration: stepDuration,
		}
		if step.Index > 0 {
			step.Cooldown = cooldown
			offset += cooldown
		}
		step.Offset = offset
		plan.appendStep(step)
		offset += stepDuration
	}

	if len(plan.steps) == 0 {
		return nil
	}
	plan.duration = offset
	return plan
}

func (p *SweepPlan) appendStep(step SweepStep) {
	p.steps = append(p.steps, step)
	p.maxClients = max(p.maxClients, step.Clients)
}

// Steps returns a copy of the steps in run order.
func (p *SweepPlan) Steps() []SweepStep {
	if p == nil {
		return nil
	}
	return append([]SweepStep(nil), p.steps...)
}

func (p *SweepPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.steps)
}

// TotalDuration is the planned traffic time plus cooldowns. Drain and join
// time of each step come on top.
func (p *SweepPlan) TotalDuration() time.Duration {
	if p == nil {
		return 0
	}
	return p.duration
}

func (p *SweepPlan) MaxClients() int {
	if p == nil {
		return 0
	}
	return p.maxClients
}

// StableConnectionRate is the connection success rate a passed step needs to
// count towards MaxStableClients.
const StableConnectionRate = 95.0

// SweepRow condenses one step's outcome for side-by-side comparison.
type SweepRow struct {
	Step                  int     `json:"step"`
	Clients               int     `json:"clients"`
	RunID                 string  `json:"run_id,omitempty"`
	DurationSeconds       float64 `json:"duration_seconds"`
	Connected             int     `json:"connected"`
	ReachedActive         int     `json:"reached_active"`
	ConnectionSuccessRate float64 `json:"connection_success_rate"`
	FramesSentPerSec      float64 `json:"frames_sent_per_sec"`
	FramesReceivedPerSec  float64 `json:"frames_received_per_sec"`
	LatencyP95Ms          float64 `json:"latency_p95_ms"`
	RTTMeanMs             float64 `json:"rtt_mean_ms"`
	ErrorRatePercent      float64 `json:"error_rate_percent"`
	PeakCPUPercent        float64 `json:"peak_cpu_percent"`
	PeakMemoryPercent     float64 `json:"peak_memory_percent"`
	Score                 float64 `json:"score"`
	Grade                 string  `json:"grade"`
	Inconclusive          bool    `json:"inconclusive"`
	ThresholdsPassed      bool    `json:"thresholds_passed"`
	Passed                bool    `json:"passed"`
	Error                 string  `json:"error,omitempty"`
}

// NewSweepRow builds the row for a finished step. A step passes when it ran,
// reached Active at least once and met every threshold. runErr is set when
// the step could not run at all.
func NewSweepRow(step SweepStep, runID string, sum Summary, snap metrics.Snapshot, thresholdsPassed bool, runErr error) SweepRow {
	row := SweepRow{
		Step:    step.Index,
		Clients: step.Clients,
		RunID:   runID,
	}
	if runErr != nil {
		row.Error = runErr.Error()
		row.Inconclusive = true
		return row
	}
	row.DurationSeconds = sum.DurationSeconds
	row.Connected = sum.Connected
	row.ReachedActive = sum.ReachedActive
	row.ConnectionSuccessRate = sum.ConnectionSuccessRate
	row.FramesSentPerSec = snap.FramesSentPerSec
	row.FramesReceivedPerSec = snap.FramesReceivedPerSec
	row.LatencyP95Ms = snap.Latency.P95Ms
	row.RTTMeanMs = snap.RTT.MeanMs
	row.ErrorRatePercent = snap.ErrorRatePercent
	row.PeakCPUPercent = snap.Resources.PeakCPUPercent
	row.PeakMemoryPercent = snap.Resources.PeakMemoryPercent
	row.Score = sum.Score.Overall
	row.Grade = sum.Grade
	row.Inconclusive = sum.Inconclusive
	row.ThresholdsPassed = thresholdsPassed
	row.Passed = !sum.Inconclusive && thresholdsPassed
	return row
}

// SweepSummary compares the steps of a sweep.
type SweepSummary struct {
	Rows        []SweepRow `json:"rows"`
	Total       int        `json:"total"`
	Passed      int        `json:"passed"`
	Failed      int        `json:"failed"`
	SuccessRate float64    `json:"success_rate"`
	// MaxStableClients is the largest client count whose step passed with a
	// connection success rate of at least StableConnectionRate.
	MaxStableClients int `json:"max_stable_clients"`
	// BestStep indexes Rows for the highest scoring passed step, or -1.
	BestStep int `json:"best_step"`
	// ScoreDrop is the largest fall in overall score between consecutive
	// conclusive steps, and DropAtClients the client count where it happened.
	ScoreDrop     float64 `json:"score_drop"`
	DropAtClients int     `json:"drop_at_clients,omitempty"`
}

// SummarizeSweep compares the rows in run order.
func SummarizeSweep(rows []SweepRow) SweepSummary {
	sum := SweepSummary{Rows: rows, Total: len(rows), BestStep: -1}

	prev := -1
	for i, row := range rows {
		if row.Passed {
			sum.Passed++
			if sum.BestStep < 0 || row.Score > rows[sum.BestStep].Score {
				sum.BestStep = i
			}
			if row.ConnectionSuccessRate >= StableConnectionRate && row.Clients > sum.MaxStableClients {
				sum.MaxStableClients = row.Clients
			}
		} else {
			sum.Failed++
		}

		if row.Inconclusive {
			continue
		}
		if prev >= 0 {
			if drop := rows[prev].Score - row.Score; drop > sum.ScoreDrop {
				sum.ScoreDrop = drop
				sum.DropAtClients = row.Clients
			}
		}
		prev = i
	}

	if sum.Total > 0 {
		sum.SuccessRate = float64(sum.Passed) / float64(sum.Total) * 100
	}
	return sum
}
