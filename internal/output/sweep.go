package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/torosent/gamestorm/internal/config"
	"github.com/torosent/gamestorm/internal/runner"
)

// SweepReport is the terminal record of a scalability sweep. Each step also
// leaves its own run report under its RunID.
type SweepReport struct {
	SweepID    string              `json:"sweep_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Cancelled  bool                `json:"cancelled,omitempty"`
	Config     config.Config       `json:"config"`
	Summary    runner.SweepSummary `json:"summary"`
}

func PrintJSONSweep(w io.Writer, r SweepReport) error {
	return encodeJSON(w, r)
}

// WriteSweepReport writes the sweep report atomically, like WriteJSONReport.
func WriteSweepReport(path string, r SweepReport) error {
	return writeJSONFile(path, r)
}

// PrintSweep renders the step comparison table and the verdict lines.
func PrintSweep(w io.Writer, r SweepReport) {
	sum := r.Summary

	fmt.Fprintln(w, "\n--- Scalability Sweep Results ---")
	fmt.Fprintf(w, "Sweep:             %s\n", r.SweepID)
	if r.Config.Scenario != "" {
		fmt.Fprintf(w, "Scenario:          %s\n", r.Config.Scenario)
	}
	fmt.Fprintf(w, "Target:            %s\n", r.Config.Target)
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Elapsed:           %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	if r.Cancelled {
		fmt.Fprintln(w, "Status:            cancelled before all steps ran")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENTS\tCONNECTED\tACTIVE\tSENT/S\tP95 MS\tERR %\tPEAK CPU %\tSCORE\tRESULT")
	for _, row := range sum.Rows {
		score := fmt.Sprintf("%.1f %s", row.Score, row.Grade)
		if row.Inconclusive {
			score = "-"
		}
		fmt.Fprintf(tw, "%d\t%.1f%%\t%d\t%.1f\t%.1f\t%.2f\t%.1f\t%s\t%s\n",
			row.Clients,
			row.ConnectionSuccessRate,
			row.ReachedActive,
			row.FramesSentPerSec,
			row.LatencyP95Ms,
			row.ErrorRatePercent,
			row.PeakCPUPercent,
			score,
			sweepVerdict(row),
		)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nSteps:             %d run, %d passed, %d failed (%.1f%%)\n", sum.Total, sum.Passed, sum.Failed, sum.SuccessRate)
	if sum.MaxStableClients > 0 {
		fmt.Fprintf(w, "Max Stable:        %d clients\n", sum.MaxStableClients)
	} else {
		fmt.Fprintln(w, "Max Stable:        none")
	}
	if sum.BestStep >= 0 && sum.BestStep < len(sum.Rows) {
		best := sum.Rows[sum.BestStep]
		fmt.Fprintf(w, "Best Score:        %.1f at %d clients\n", best.Score, best.Clients)
	}
	if sum.ScoreDrop > 0 {
		fmt.Fprintf(w, "Largest Drop:      %.1f points at %d clients\n", sum.ScoreDrop, sum.DropAtClients)
	}
}

func sweepVerdict(row runner.SweepRow) string {
	switch {
	case row.Error != "":
		return "ERROR: " + row.Error
	case row.Passed:
		return "pass"
	case row.Inconclusive:
		return "FAIL (inconclusive)"
	case !row.ThresholdsPassed:
		return "FAIL (thresholds)"
	default:
		return "FAIL"
	}
}
