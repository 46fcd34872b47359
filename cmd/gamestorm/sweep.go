package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/gamestorm/internal/config"
	"github.com/torosent/gamestorm/internal/logging"
	"github.com/torosent/gamestorm/internal/output"
	"github.com/torosent/gamestorm/internal/runner"
	"github.com/torosent/gamestorm/internal/threshold"
)

// errEmptySweep means no positive client count was left to run.
var errEmptySweep = errors.New("sweep: no client counts to run")

func newSweepCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep [scenario]",
		Short: "Run a scenario at several client counts and compare the results",
		Long: "Runs the same scenario once per client count in --steps, pausing " +
			"--cooldown between steps, then prints a comparison table. Every " +
			"step writes its own run artifacts; the comparison is saved as " +
			"<sweep id>_sweep.json.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario := ""
			if len(args) == 1 {
				scenario = args[0]
			}
			cfg, err := config.NewLoader().Load(scenario, cmd.Flags())
			if err != nil {
				return err
			}
			return executeSweep(cmd.Context(), cfg, stdout, stderr)
		},
	}
	config.RegisterSweepFlags(cmd)
	return cmd
}

// executeSweep runs every step of the sweep in order. A step that fails to
// start is recorded and the sweep moves on unless stop_on_failure is set;
// only configuration problems and writing the sweep report fail the command.
func executeSweep(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := threshold.ParseMultiple(cfg.Thresholds); err != nil {
		return err
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: stderr})
	if err != nil {
		return err
	}

	stepDuration := cfg.Sweep.StepDuration
	if stepDuration <= 0 {
		stepDuration = cfg.Duration
	}
	plan := runner.CompileSweepPlan(cfg.Sweep.Clients, stepDuration, cfg.Sweep.Cooldown)
	if plan == nil {
		return errEmptySweep
	}

	sweep := output.SweepReport{
		SweepID:   output.NewRunID(),
		StartedAt: time.Now(),
		Config:    *cfg,
	}
	log = log.With().Str("sweep", sweep.SweepID).Logger()
	log.Info().
		Int("steps", plan.Len()).
		Int("max_clients", plan.MaxClients()).
		Dur("planned", plan.TotalDuration()).
		Msg("sweep starting")

	var rows []runner.SweepRow
	for _, step := range plan.Steps() {
		if step.Cooldown > 0 && !sleepCtx(ctx, step.Cooldown) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		stepCfg := *cfg
		stepCfg.Clients = step.Clients
		stepCfg.Duration = step.Duration
		if cfg.Output.JSONOutput {
			stepCfg.Output.Quiet = true
		}
		if !stepCfg.Output.Quiet && !stepCfg.Output.Dashboard {
			fmt.Fprintf(stdout, "\n[%d/%d] %d clients for %s\n", step.Index+1, plan.Len(), step.Clients, step.Duration)
		}

		report, runErr := runOnce(ctx, &stepCfg, stepOutput(cfg, stdout), stderr)
		row := runner.NewSweepRow(step, report.RunID, report.Summary, report.Snapshot, threshold.AllPassed(report.Thresholds), runErr)
		rows = append(rows, row)

		ev := log.Info()
		if !row.Passed {
			ev = log.Warn()
		}
		if runErr != nil {
			ev = ev.Err(runErr)
		}
		ev.Int("step", step.Index).
			Int("clients", step.Clients).
			Float64("score", row.Score).
			Bool("passed", row.Passed).
			Msg("sweep step finished")

		if !row.Passed && cfg.Sweep.StopOnFailure {
			log.Warn().Int("clients", step.Clients).Msg("stopping sweep after failed step")
			break
		}
	}

	sweep.FinishedAt = time.Now()
	sweep.Cancelled = ctx.Err() != nil && len(rows) < plan.Len()
	sweep.Summary = runner.SummarizeSweep(rows)

	if cfg.Output.JSONReport {
		dir, err := output.OpenRunDir(cfg.Output.Dir, sweep.SweepID)
		if err != nil {
			return err
		}
		defer dir.Close()
		if err := output.WriteSweepReport(dir.SweepPath(), sweep); err != nil {
			return err
		}
		log.Info().Str("path", dir.SweepPath()).Msg("sweep report written")
	}
	if cfg.Output.JSONOutput {
		return output.PrintJSONSweep(stdout, sweep)
	}
	output.PrintSweep(stdout, sweep)
	return nil
}

// stepOutput is where a step's progress lines go. Per-step reports are not
// printed; the comparison table replaces them.
func stepOutput(cfg *config.Config, stdout io.Writer) io.Writer {
	if cfg.Output.JSONOutput {
		return io.Discard
	}
	return stdout
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
