package config

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers the run flags on a cobra command. Subcommands that
// start a run share the same set through PersistentFlags.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.PersistentFlags())
}

// configureFlags sets up all CLI flags on the provided flag set. Defaults
// shown in help mirror Default(); only flags the user changed override the
// scenario and config file.
func configureFlags(flags *pflag.FlagSet) {
	def := Default()

	// Run shape
	flags.String("target", def.Target, "Game server address (host:port)")
	flags.Int("zone-id", def.ZoneID, "Zone to join after login")
	flags.IntP("clients", "c", def.Clients, "Number of simulated players")
	flags.Int("max-concurrency", 0, "Maximum sessions alive at once (0 = clients)")
	flags.DurationP("duration", "d", def.Duration, "How long the run lasts (e.g. 30s, 2m)")
	flags.Int("batch-size", 0, "Sessions admitted per ramp batch (0 = automatic)")
	flags.Duration("batch-delay", 0, "Delay between ramp batches (0 = 200ms)")
	flags.Duration("join-timeout", def.JoinTimeout, "Grace period for sessions to report after the run ends")
	flags.String("arrival-model", string(ArrivalModelUniform), "Session arrival model (uniform or poisson)")
	flags.Int64("seed", 0, "Seed for synthesized traffic (0 = random)")

	// Session timing
	flags.Duration("connect-timeout", def.Session.ConnectTimeout, "TCP connect timeout")
	flags.Duration("hangup-window", def.Session.HangupWindow, "Watch a new connection this long for an immediate server close (0 = off)")
	flags.Duration("auth-timeout", def.Session.AuthTimeout, "Login reply timeout")
	flags.Duration("zone-join-timeout", def.Session.JoinTimeout, "Zone join reply timeout")
	flags.Duration("poll-timeout", def.Session.PollTimeout, "Inbound read poll interval")
	flags.Duration("write-timeout", def.Session.WriteTimeout, "Per-frame write timeout")
	flags.Duration("drain-timeout", def.Session.DrainTimeout, "How long to keep reading after the run ends")

	// Traffic shape
	flags.Duration("send-interval", def.Session.SendInterval, "Interval between player inputs")
	flags.Duration("send-jitter", 0, "Random jitter added to each send interval")
	flags.Duration("chat-interval", def.Session.ChatInterval, "Interval between chat messages (0 disables chat)")
	flags.Duration("heartbeat-interval", def.Session.HeartbeatInterval, "Interval between heartbeats (0 disables them)")
	flags.Int("input-payload-size", 0, "Pad every player input payload to this many bytes")
	flags.Int("frames-limit", 0, "Stop sending inputs after this many frames per session (0 = unlimited)")
	flags.Bool("best-effort-handshake", false, "Advance past missing or malformed login/join replies")
	flags.Int("desync-threshold", def.Session.DesyncThreshold, "Malformed frames tolerated per window (0 disables the guard)")
	flags.Duration("desync-window", def.Session.DesyncWindow, "Window for the desync guard")
	flags.Int("max-payload", def.Session.MaxPayload, "Largest accepted frame payload in bytes")
	flags.Bool("no-delay", def.Session.NoDelay, "Disable Nagle's algorithm on game sockets")

	// Credentials
	flags.String("credentials-file", "", "JSON or CSV file with player accounts")
	flags.String("credentials-format", "", "Credentials file format: 'json' or 'csv' (default from extension)")
	flags.String("ticket-template", "", "Ticket template for generated accounts, e.g. 'tk-{{player_id}}'")
	flags.Uint64("base-player-id", 0, "First generated player id")

	// Output
	flags.String("output-dir", def.Output.Dir, "Directory for run artifacts")
	flags.Duration("report-interval", def.Output.ReportInterval, "Interval between progress reports")
	flags.Bool("csv", def.Output.CSV, "Write the periodic CSV metrics file")
	flags.Bool("json-report", def.Output.JSONReport, "Write the final JSON report")
	flags.Bool("json-output", false, "Print the final summary as JSON")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.Bool("quiet", false, "Suppress progress lines")

	// Observability
	flags.String("monitor-addr", "", "Serve live metrics on this address (e.g. :9100)")
	flags.Duration("resource-interval", def.Resources.Interval, "Host CPU and memory sampling interval (0 = off)")
	flags.Int("server-pid", 0, "Also sample this game server process; usage is the higher of host and server")
	flags.String("redis-url", "", "Publish snapshots to this Redis URL")
	flags.String("redis-channel", "", "Redis channel for snapshots (default "+DefaultRedisChannel+")")
	flags.String("log-level", def.Log.Level, "Log level (trace, debug, info, warn, error, disabled)")
	flags.String("log-format", def.Log.Format, "Log format: 'console' or 'json'")
	flags.String("tracing-endpoint", "", "OTLP endpoint; enables tracing")
	flags.String("tracing-protocol", "", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 0, "Trace sampling ratio between 0.0 and 1.0")

	// Thresholds and files
	flags.StringArray("threshold", nil, "Threshold assertion, e.g. 'latency:p95 < 100ms' (repeatable)")
	flags.String("scenarios-file", "", "YAML file with additional scenarios")
	flags.String("config", "", "Path to configuration file (JSON, YAML or TOML)")
}

// RegisterSweepFlags registers the flags only the sweep command accepts.
func RegisterSweepFlags(cmd *cobra.Command) {
	configureSweepFlags(cmd.Flags())
}

func configureSweepFlags(flags *pflag.FlagSet) {
	def := Default()
	flags.IntSlice("steps", def.Sweep.Clients, "Client counts to run, in order")
	flags.Duration("step-duration", 0, "Duration of each step (0 = --duration)")
	flags.Duration("cooldown", def.Sweep.Cooldown, "Pause between steps so the server settles")
	flags.Bool("stop-on-failure", false, "Stop the sweep at the first failed step")
}

// overrides applies changed flags in order and keeps the first error.
type overrides struct {
	fs  *pflag.FlagSet
	err error
}

func (o *overrides) str(name string, dst *string) {
	if o.err != nil || !o.fs.Changed(name) {
		return
	}
	val, err := o.fs.GetString(name)
	if err != nil {
		o.err = err
		return
	}
	*dst = strings.TrimSpace(val)
}

func (o *overrides) num(name string, dst *int) {
	if o.err != nil || !o.fs.Changed(name) {
		return
	}
	val, err := o.fs.GetInt(name)
	if err != nil {
		o.err = err
		return
	}
	*dst = val
}

func (o *overrides) num64(name string, dst *int64) {
	if o.err != nil || !o.fs.Changed(name) {
		return
	}
	val, err := o.fs.GetInt64(name)
	if err != nil {
		o.err = err
		return
	}
	*dst = val
}

func (o *overrides) unsigned(name string, dst *uint64) {
	if o.err != nil || !o.fs.Changed(name) {
		return
	}
	val, err := o.fs.GetUint64(name)
	if err != nil {
		o.err = err
		return
	}
	*dst = val
}

func (o *overrides) float(name string, dst *float64) {
	if o.err != nil || !o.fs.Changed(name) {
		return
	}
	val, err := o.fs.GetFloat64(name)
	if err != nil {
		o.err = err
		return
	}
	*dst = val
}

func (o *overrides) flag(name string, dst *bool) {
	if o.err != nil || !o.fs.Changed(name) {
		return
	}
	val, err := o.fs.GetBool(name)
	if err != nil {
		o.err = err
		return
	}
	*dst = val
}

func (o *overrides) ints(name string, dst *[]int) {
	if o.err != nil || !o.fs.Changed(name) {
		return
	}
	val, err := o.fs.GetIntSlice(name)
	if err != nil {
		o.err = err
		return
	}
	*dst = append([]int(nil), val...)
}

func (o *overrides) duration(name string, dst *time.Duration) {
	if o.err != nil || !o.fs.Changed(name) {
		return
	}
	val, err := o.fs.GetDuration(name)
	if err != nil {
		o.err = err
		return
	}
	*dst = val
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the scenario and config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	o := &overrides{fs: fs}

	o.str("target", &cfg.Target)
	o.num("zone-id", &cfg.ZoneID)
	o.num("clients", &cfg.Clients)
	o.num("max-concurrency", &cfg.MaxConcurrency)
	o.duration("duration", &cfg.Duration)
	o.num("batch-size", &cfg.BatchSize)
	o.duration("batch-delay", &cfg.BatchDelay)
	o.duration("join-timeout", &cfg.JoinTimeout)
	o.num64("seed", &cfg.Seed)
	var model string
	o.str("arrival-model", &model)
	if model != "" {
		cfg.Arrival.Model = ArrivalModel(strings.ToLower(model))
	}

	s := &cfg.Session
	o.duration("connect-timeout", &s.ConnectTimeout)
	o.duration("hangup-window", &s.HangupWindow)
	o.duration("auth-timeout", &s.AuthTimeout)
	o.duration("zone-join-timeout", &s.JoinTimeout)
	o.duration("poll-timeout", &s.PollTimeout)
	o.duration("write-timeout", &s.WriteTimeout)
	o.duration("drain-timeout", &s.DrainTimeout)
	o.duration("send-interval", &s.SendInterval)
	o.duration("send-jitter", &s.SendJitter)
	o.duration("chat-interval", &s.ChatInterval)
	o.duration("heartbeat-interval", &s.HeartbeatInterval)
	o.num("input-payload-size", &s.InputPayloadSize)
	o.num("frames-limit", &s.FramesLimit)
	o.flag("best-effort-handshake", &s.BestEffortHandshake)
	o.num("desync-threshold", &s.DesyncThreshold)
	o.duration("desync-window", &s.DesyncWindow)
	o.num("max-payload", &s.MaxPayload)
	o.flag("no-delay", &s.NoDelay)

	c := &cfg.Credentials
	o.str("credentials-file", &c.File)
	o.str("credentials-format", &c.Format)
	o.str("ticket-template", &c.TicketTemplate)
	o.unsigned("base-player-id", &c.BasePlayerID)

	out := &cfg.Output
	o.str("output-dir", &out.Dir)
	o.duration("report-interval", &out.ReportInterval)
	o.flag("csv", &out.CSV)
	o.flag("json-report", &out.JSONReport)
	o.flag("json-output", &out.JSONOutput)
	o.flag("dashboard", &out.Dashboard)
	o.flag("quiet", &out.Quiet)

	o.str("monitor-addr", &cfg.Monitor.Addr)
	o.duration("resource-interval", &cfg.Resources.Interval)
	o.num("server-pid", &cfg.Resources.ServerPID)

	sw := &cfg.Sweep
	o.ints("steps", &sw.Clients)
	o.duration("step-duration", &sw.StepDuration)
	o.duration("cooldown", &sw.Cooldown)
	o.flag("stop-on-failure", &sw.StopOnFailure)

	o.str("redis-url", &cfg.Redis.URL)
	o.str("redis-channel", &cfg.Redis.Channel)
	o.str("log-level", &cfg.Log.Level)
	o.str("log-format", &cfg.Log.Format)

	t := &cfg.Tracing
	o.str("tracing-endpoint", &t.Endpoint)
	o.str("tracing-protocol", &t.Protocol)
	o.flag("tracing-insecure", &t.Insecure)
	o.float("tracing-sample-rate", &t.SampleRate)

	if o.err == nil && fs.Changed("threshold") {
		vals, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = append([]string(nil), vals...)
	}
	return o.err
}
