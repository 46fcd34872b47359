package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/torosent/gamestorm/internal/config"
	"github.com/torosent/gamestorm/internal/credentials"
	"github.com/torosent/gamestorm/internal/dashboard"
	"github.com/torosent/gamestorm/internal/logging"
	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/monitor"
	"github.com/torosent/gamestorm/internal/output"
	"github.com/torosent/gamestorm/internal/runner"
	"github.com/torosent/gamestorm/internal/session"
	"github.com/torosent/gamestorm/internal/sysmon"
	"github.com/torosent/gamestorm/internal/threshold"
	"github.com/torosent/gamestorm/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

// execute runs one load test and prints its report. Errors returned here
// mean the run could not start or its artifacts could not be written;
// session failures only show up in the summary.
func execute(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	report, err := runOnce(ctx, cfg, stdout, stderr)
	if err != nil {
		return err
	}
	if cfg.Output.JSONOutput {
		return output.PrintJSONReport(stdout, report)
	}
	output.PrintReport(stdout, report)
	return nil
}

// runOnce performs one validated run and writes its artifacts.
func runOnce(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (output.RunReport, error) {
	var report output.RunReport
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return report, err
	}

	logOut := stderr
	if cfg.Output.Dashboard {
		// termui owns the terminal.
		logOut = io.Discard
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: logOut})
	if err != nil {
		return report, err
	}

	creds, err := credentials.Open(cfg.CredentialsSource())
	if err != nil {
		return report, fmt.Errorf("credentials: %w", err)
	}
	defer creds.Close()

	runID := output.NewRunID()
	startedAt := time.Now()
	log = log.With().Str("run", runID).Logger()

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.RunAttributes(runID, cfg.Target, cfg.Scenario)...)
	if err != nil {
		return report, err
	}
	defer shutdownWithTimeout(log, "tracing", tp.Shutdown)

	var runDir *output.RunDir
	if cfg.Output.CSV || cfg.Output.JSONReport {
		runDir, err = output.OpenRunDir(cfg.Output.Dir, runID)
		if err != nil {
			return report, err
		}
		defer runDir.Close()
	}

	agg := metrics.NewAggregator(metrics.DefaultOptions())

	var resources *sysmon.Monitor
	if cfg.Resources.Interval > 0 {
		sampler, err := sysmon.NewHostSampler(ctx, int32(cfg.Resources.ServerPID))
		if err != nil {
			return report, err
		}
		resources = sysmon.New(sampler, agg, cfg.Resources.Interval, log)
	}

	var sinks []output.SnapshotWriter
	if cfg.Output.CSV {
		f, err := os.Create(runDir.MetricsPath())
		if err != nil {
			return report, fmt.Errorf("create metrics csv: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, output.NewCSVWriter(f))
	}
	if cfg.Redis.URL != "" {
		pub, err := output.DialRedis(ctx, cfg.Redis.URL, cfg.Redis.Channel)
		if err != nil {
			return report, err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}
	if cfg.Monitor.Addr != "" {
		mon, err := monitor.Listen(cfg.Monitor.Addr, agg, monitor.Options{Interval: cfg.Output.ReportInterval, Logger: log})
		if err != nil {
			return report, err
		}
		defer shutdownWithTimeout(log, "monitor", mon.Shutdown)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	sessionCfg := cfg.SessionOptions()
	sessionOpts := []session.Option{
		session.WithLogger(log),
		session.WithTracer(tp.Tracer()),
	}
	if cfg.Seed != 0 {
		sessionOpts = append(sessionOpts, session.WithSeed(uint64(cfg.Seed)))
	}
	launcher := runner.LauncherFunc(func(index int) (*session.Session, error) {
		acct, err := creds.For(index)
		if err != nil {
			return nil, err
		}
		return session.New(index, sessionCfg, acct, agg, sessionOpts...), nil
	})

	r := runner.New(runner.Options{
		Sessions:       cfg.Clients,
		MaxConcurrency: cfg.MaxConcurrency,
		BatchSize:      cfg.BatchSize,
		BatchDelay:     cfg.BatchDelay,
		ArrivalModel:   toRunnerArrivalModel(cfg.Arrival.Model),
		RandomSeed:     cfg.Seed,
		Duration:       cfg.Duration,
		JoinTimeout:    cfg.JoinTimeout,
		Launcher:       launcher,
		Sink:           agg,
		Logger:         log,
	})

	var dash *dashboard.Dashboard
	if cfg.Output.Dashboard {
		dash, err = dashboard.New(agg, dashboard.RunInfo{
			Target:       cfg.Target,
			Scenario:     cfg.Scenario,
			Clients:      cfg.Clients,
			Duration:     cfg.Duration,
			SendInterval: cfg.Session.SendInterval,
			Arrival:      string(cfg.Arrival.Model),
			BestEffort:   cfg.Session.BestEffortHandshake,
			ConfigFile:   cfg.ConfigFile,
		}, stop)
		if err != nil {
			return report, err
		}
		dash.Start()
	}

	var statusOut io.Writer = stdout
	if cfg.Output.Quiet || cfg.Output.JSONOutput || cfg.Output.Dashboard {
		statusOut = nil
	}
	progress := output.NewProgressReporter(agg, cfg.Output.ReportInterval, statusOut, sinks...)
	progress.SetLogger(log)

	log.Info().
		Str("target", cfg.Target).
		Str("scenario", cfg.Scenario).
		Int("clients", cfg.Clients).
		Dur("duration", cfg.Duration).
		Msg("run starting")

	agg.Start()
	if resources != nil {
		resources.Start(runCtx)
	}
	progress.Start()
	res := r.Run(runCtx)
	resources.Stop()
	progress.Stop()
	if dash != nil {
		dash.Stop()
	}

	if res.Err != nil {
		log.Error().Err(res.Err).Int("admitted", res.Admitted).Msg("admission stopped early")
	}

	snap := agg.Snapshot()
	summary := runner.Summarize(res, runner.SummaryInput{
		Target:         cfg.Target,
		TargetSessions: cfg.Clients,
		SendInterval:   cfg.Session.SendInterval,
		RunDuration:    cfg.Duration,
		Snapshot:       snap,
	})
	report = output.RunReport{
		RunID:      runID,
		StartedAt:  startedAt,
		Config:     *cfg,
		Snapshot:   snap,
		Summary:    summary,
		Thresholds: threshold.NewEvaluator(thresholds).Evaluate(snap),
	}

	logSummary(log, summary)

	if cfg.Output.JSONReport {
		if err := output.WriteJSONReport(runDir.ReportPath(), report); err != nil {
			return report, err
		}
		log.Info().Str("path", runDir.ReportPath()).Msg("report written")
	}
	return report, nil
}

func toRunnerArrivalModel(m config.ArrivalModel) runner.ArrivalModel {
	if m == config.ArrivalModelPoisson {
		return runner.ArrivalModelPoisson
	}
	return runner.ArrivalModelUniform
}

func logSummary(log zerolog.Logger, s runner.Summary) {
	ev := log.Info()
	if s.Inconclusive {
		ev = log.Warn()
	}
	ev.Int("reached_active", s.ReachedActive).
		Int("target", s.TargetSessions).
		Int("hung", s.Hung).
		Float64("connection_rate", s.ConnectionSuccessRate).
		Float64("score", s.Score.Overall).
		Str("grade", s.Grade).
		Bool("inconclusive", s.Inconclusive).
		Msg("run finished")
}

func shutdownWithTimeout(log zerolog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("component", name).Msg("shutdown failed")
	}
}
