package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/torosent/gamestorm/internal/credentials"
	"github.com/torosent/gamestorm/internal/session"
	"github.com/torosent/gamestorm/internal/tracing"
	"github.com/torosent/gamestorm/internal/wire"
)

// Config is the typed, validated record for one run.
type Config struct {
	Scenario       string        `mapstructure:"scenario" json:"scenario,omitempty"`
	Target         string        `mapstructure:"target" json:"target"`
	ZoneID         int           `mapstructure:"zone_id" json:"zone_id"`
	Clients        int           `mapstructure:"clients" json:"clients"`
	MaxConcurrency int           `mapstructure:"max_concurrency" json:"max_concurrency,omitempty"`
	Duration       time.Duration `mapstructure:"duration" json:"duration"`
	BatchSize      int           `mapstructure:"batch_size" json:"batch_size,omitempty"`
	BatchDelay     time.Duration `mapstructure:"batch_delay" json:"batch_delay,omitempty"`
	JoinTimeout    time.Duration `mapstructure:"join_timeout" json:"join_timeout"`
	Seed           int64         `mapstructure:"seed" json:"seed,omitempty"`
	Arrival        ArrivalConfig `mapstructure:"arrival" json:"arrival"`

	Session     SessionConfig     `mapstructure:"session" json:"session"`
	Credentials CredentialsConfig `mapstructure:"credentials" json:"credentials"`
	Output      OutputConfig      `mapstructure:"output" json:"output"`
	Monitor     MonitorConfig     `mapstructure:"monitor" json:"monitor"`
	Resources   ResourcesConfig   `mapstructure:"resources" json:"resources"`
	Sweep       SweepConfig       `mapstructure:"sweep" json:"sweep"`
	Redis       RedisConfig       `mapstructure:"redis" json:"redis"`
	Log         LogConfig         `mapstructure:"log" json:"log"`
	Tracing     tracing.Config    `mapstructure:"tracing" json:"tracing"`

	Thresholds    []string `mapstructure:"thresholds" json:"thresholds,omitempty"`
	ScenariosFile string   `mapstructure:"scenarios_file" json:"scenarios_file,omitempty"`
	ConfigFile    string   `mapstructure:"-" json:"-"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model" json:"model"`
}

// SessionConfig holds the per-session timeouts and traffic shape.
type SessionConfig struct {
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	HangupWindow        time.Duration `mapstructure:"hangup_window" json:"hangup_window"`
	AuthTimeout         time.Duration `mapstructure:"auth_timeout" json:"auth_timeout"`
	JoinTimeout         time.Duration `mapstructure:"join_timeout" json:"join_timeout"`
	PollTimeout         time.Duration `mapstructure:"poll_timeout" json:"poll_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout" json:"drain_timeout"`
	SendInterval        time.Duration `mapstructure:"send_interval" json:"send_interval"`
	SendJitter          time.Duration `mapstructure:"send_jitter" json:"send_jitter,omitempty"`
	ChatInterval        time.Duration `mapstructure:"chat_interval" json:"chat_interval"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	InputPayloadSize    int           `mapstructure:"input_payload_size" json:"input_payload_size,omitempty"`
	FramesLimit         int           `mapstructure:"frames_limit" json:"frames_limit,omitempty"`
	BestEffortHandshake bool          `mapstructure:"best_effort_handshake" json:"best_effort_handshake"`
	DesyncThreshold     int           `mapstructure:"desync_threshold" json:"desync_threshold"`
	DesyncWindow        time.Duration `mapstructure:"desync_window" json:"desync_window"`
	MaxPayload          int           `mapstructure:"max_payload" json:"max_payload"`
	ReadBufferSize      int           `mapstructure:"read_buffer" json:"read_buffer,omitempty"`
	WriteBufferSize     int           `mapstructure:"write_buffer" json:"write_buffer,omitempty"`
	NoDelay             bool          `mapstructure:"no_delay" json:"no_delay"`
}

type CredentialsConfig struct {
	File           string `mapstructure:"file" json:"file,omitempty"`
	Format         string `mapstructure:"format" json:"format,omitempty"` // "json" or "csv"
	AccountsPath   string `mapstructure:"accounts_path" json:"accounts_path,omitempty"`
	PlayerIDField  string `mapstructure:"player_id_field" json:"player_id_field,omitempty"`
	TicketField    string `mapstructure:"ticket_field" json:"ticket_field,omitempty"`
	UsernameField  string `mapstructure:"username_field" json:"username_field,omitempty"`
	TicketTemplate string `mapstructure:"ticket_template" json:"ticket_template,omitempty"`
	BasePlayerID   uint64 `mapstructure:"base_player_id" json:"base_player_id,omitempty"`
}

type OutputConfig struct {
	Dir            string        `mapstructure:"dir" json:"dir"`
	ReportInterval time.Duration `mapstructure:"report_interval" json:"report_interval"`
	CSV            bool          `mapstructure:"csv" json:"csv"`
	JSONReport     bool          `mapstructure:"json_report" json:"json_report"`
	JSONOutput     bool          `mapstructure:"json_output" json:"json_output"`
	Dashboard      bool          `mapstructure:"dashboard" json:"dashboard"`
	Quiet          bool          `mapstructure:"quiet" json:"quiet"`
}

type MonitorConfig struct {
	Addr string `mapstructure:"addr" json:"addr,omitempty"`
}

// ResourcesConfig controls host CPU and memory sampling. A zero interval
// turns sampling off.
type ResourcesConfig struct {
	Interval  time.Duration `mapstructure:"interval" json:"interval"`
	ServerPID int           `mapstructure:"server_pid" json:"server_pid,omitempty"`
}

// SweepConfig describes a scalability sweep: the same scenario run once per
// client count with a cooldown in between.
type SweepConfig struct {
	Clients       []int         `mapstructure:"clients" json:"clients,omitempty"`
	StepDuration  time.Duration `mapstructure:"step_duration" json:"step_duration,omitempty"`
	Cooldown      time.Duration `mapstructure:"cooldown" json:"cooldown"`
	StopOnFailure bool          `mapstructure:"stop_on_failure" json:"stop_on_failure,omitempty"`
}

// DefaultSweepClients are the client counts swept when none are configured.
var DefaultSweepClients = []int{10, 25, 50, 100, 200, 300, 500}

type RedisConfig struct {
	URL     string `mapstructure:"url" json:"url,omitempty"`
	Channel string `mapstructure:"channel" json:"channel,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level,omitempty"`
	Format string `mapstructure:"format" json:"format,omitempty"` // "console" or "json"
}

// DefaultRedisChannel is used when redis.url is set without a channel.
const DefaultRedisChannel = "gamestorm:snapshots"

// Default returns the configuration before any scenario, file or flag is
// applied. It matches the basic scenario.
func Default() Config {
	return Config{
		Target:      "127.0.0.1:7777",
		ZoneID:      1,
		Clients:     50,
		Duration:    120 * time.Second,
		JoinTimeout: 10 * time.Second,
		Arrival:     ArrivalConfig{Model: ArrivalModelUniform},
		Session: SessionConfig{
			ConnectTimeout:    10 * time.Second,
			HangupWindow:      25 * time.Millisecond,
			AuthTimeout:       10 * time.Second,
			JoinTimeout:       10 * time.Second,
			PollTimeout:       100 * time.Millisecond,
			WriteTimeout:      5 * time.Second,
			DrainTimeout:      time.Second,
			SendInterval:      50 * time.Millisecond,
			ChatInterval:      10 * time.Second,
			HeartbeatInterval: time.Second,
			DesyncThreshold:   50,
			DesyncWindow:      10 * time.Second,
			MaxPayload:        wire.DefaultMaxPayload,
			NoDelay:           true,
		},
		Output: OutputConfig{
			Dir:            "results",
			ReportInterval: 5 * time.Second,
			CSV:            true,
			JSONReport:     true,
		},
		Resources: ResourcesConfig{Interval: 2 * time.Second},
		Sweep: SweepConfig{
			Clients:  append([]int(nil), DefaultSweepClients...),
			Cooldown: 30 * time.Second,
		},
		Log:     LogConfig{Level: "info", Format: "console"},
		Tracing: tracing.Config{SampleRate: 1},
	}
}

// SessionOptions converts the session section for the session package.
func (c *Config) SessionOptions() session.Config {
	s := c.Session
	return session.Config{
		Target:              c.Target,
		ZoneID:              int32(c.ZoneID),
		ConnectTimeout:      s.ConnectTimeout,
		HangupWindow:        s.HangupWindow,
		AuthTimeout:         s.AuthTimeout,
		JoinTimeout:         s.JoinTimeout,
		PollTimeout:         s.PollTimeout,
		WriteTimeout:        s.WriteTimeout,
		DrainTimeout:        s.DrainTimeout,
		SendInterval:        s.SendInterval,
		SendJitter:          s.SendJitter,
		ChatInterval:        s.ChatInterval,
		HeartbeatInterval:   s.HeartbeatInterval,
		InputPayloadSize:    s.InputPayloadSize,
		FramesLimit:         s.FramesLimit,
		BestEffortHandshake: s.BestEffortHandshake,
		DesyncThreshold:     s.DesyncThreshold,
		DesyncWindow:        s.DesyncWindow,
		MaxPayload:          s.MaxPayload,
		ReadBufferSize:      s.ReadBufferSize,
		WriteBufferSize:     s.WriteBufferSize,
		NoDelay:             s.NoDelay,
	}
}

// CredentialsSource converts the credentials section.
func (c *Config) CredentialsSource() credentials.Source {
	cc := c.Credentials
	return credentials.Source{
		File:   cc.File,
		Format: cc.Format,
		Fields: credentials.Fields{
			Accounts: cc.AccountsPath,
			PlayerID: cc.PlayerIDField,
			Ticket:   cc.TicketField,
			Username: cc.UsernameField,
		},
		TicketTemplate: cc.TicketTemplate,
		BasePlayerID:   cc.BasePlayerID,
	}
}

// ValidationError collects every problem found in a Config.
type ValidationError struct {
	issues []string
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(v.issues, "; "))
}

func (v ValidationError) Issues() []string {
	out := make([]string, len(v.issues))
	copy(out, v.issues)
	return out
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Target) == "" {
		issues = append(issues, "target is required")
	} else if _, _, err := net.SplitHostPort(c.Target); err != nil {
		issues = append(issues, fmt.Sprintf("target must be host:port: %v", err))
	}
	if c.Clients <= 0 {
		issues = append(issues, "clients must be > 0")
	}
	if c.MaxConcurrency < 0 {
		issues = append(issues, "max_concurrency must be >= 0")
	}
	if c.Duration <= 0 {
		issues = append(issues, "duration must be > 0")
	}
	if c.BatchSize < 0 {
		issues = append(issues, "batch_size must be >= 0")
	}
	if c.BatchDelay < 0 {
		issues = append(issues, "batch_delay must be >= 0")
	}
	if c.JoinTimeout < 0 {
		issues = append(issues, "join_timeout must be >= 0")
	}
	if c.ZoneID < 0 || c.ZoneID > 1<<31-1 {
		issues = append(issues, "zone_id must fit in int32 and be >= 0")
	}

	issues = append(issues, validateArrivalConfig(c.Arrival)...)
	issues = append(issues, validateSessionConfig(c.Session)...)
	issues = append(issues, validateCredentialsConfig(c.Credentials)...)
	issues = append(issues, validateOutputConfig(c.Output)...)
	issues = append(issues, validateLogConfig(c.Log)...)
	issues = append(issues, validateResourcesConfig(c.Resources)...)
	issues = append(issues, validateSweepConfig(c.Sweep)...)

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0.0 and 1.0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateResourcesConfig(r ResourcesConfig) []string {
	var issues []string
	if r.Interval < 0 {
		issues = append(issues, "resources: interval must be >= 0")
	}
	if r.ServerPID < 0 || r.ServerPID > 1<<31-1 {
		issues = append(issues, "resources: server_pid must fit in int32 and be >= 0")
	}
	return issues
}

func validateSweepConfig(s SweepConfig) []string {
	var issues []string
	for i, n := range s.Clients {
		if n <= 0 {
			issues = append(issues, fmt.Sprintf("sweep: clients[%d] must be > 0, got %d", i, n))
		}
	}
	if s.StepDuration < 0 {
		issues = append(issues, "sweep: step_duration must be >= 0")
	}
	if s.Cooldown < 0 {
		issues = append(issues, "sweep: cooldown must be >= 0")
	}
	return issues
}

func validateArrivalConfig(arr ArrivalConfig) []string {
	model := arr.Model
	if model == "" {
		model = ArrivalModelUniform
	}
	switch model {
	case ArrivalModelUniform, ArrivalModelPoisson:
		return nil
	default:
		return []string{fmt.Sprintf("arrival model %q is not supported", model)}
	}
}

func validateSessionConfig(s SessionConfig) []string {
	var issues []string
	positive := []struct {
		name string
		val  time.Duration
	}{
		{"connect_timeout", s.ConnectTimeout},
		{"auth_timeout", s.AuthTimeout},
		{"join_timeout", s.JoinTimeout},
		{"poll_timeout", s.PollTimeout},
		{"send_interval", s.SendInterval},
	}
	for _, p := range positive {
		if p.val <= 0 {
			issues = append(issues, fmt.Sprintf("session: %s must be > 0", p.name))
		}
	}
	nonNegative := []struct {
		name string
		val  time.Duration
	}{
		{"hangup_window", s.HangupWindow},
		{"write_timeout", s.WriteTimeout},
		{"drain_timeout", s.DrainTimeout},
		{"send_jitter", s.SendJitter},
		{"chat_interval", s.ChatInterval},
		{"heartbeat_interval", s.HeartbeatInterval},
		{"desync_window", s.DesyncWindow},
	}
	for _, n := range nonNegative {
		if n.val < 0 {
			issues = append(issues, fmt.Sprintf("session: %s must be >= 0", n.name))
		}
	}
	if s.SendJitter >= s.SendInterval && s.SendInterval > 0 {
		issues = append(issues, "session: send_jitter must be smaller than send_interval")
	}
	if s.PollTimeout > s.AuthTimeout && s.AuthTimeout > 0 {
		issues = append(issues, "session: poll_timeout must not exceed auth_timeout")
	}
	if s.InputPayloadSize < 0 {
		issues = append(issues, "session: input_payload_size must be >= 0")
	}
	if s.InputPayloadSize > 0 && s.MaxPayload > 0 && s.InputPayloadSize > s.MaxPayload {
		issues = append(issues, "session: input_payload_size exceeds max_payload")
	}
	if s.FramesLimit < 0 {
		issues = append(issues, "session: frames_limit must be >= 0")
	}
	if s.DesyncThreshold < 0 {
		issues = append(issues, "session: desync_threshold must be >= 0")
	}
	if s.MaxPayload < 0 {
		issues = append(issues, "session: max_payload must be >= 0")
	}
	return issues
}

func validateCredentialsConfig(c CredentialsConfig) []string {
	if strings.TrimSpace(c.File) == "" {
		return nil
	}
	switch c.Format {
	case "", "json", "csv":
		return nil
	default:
		return []string{fmt.Sprintf("credentials: format must be 'json' or 'csv', got %q", c.Format)}
	}
}

func validateOutputConfig(o OutputConfig) []string {
	var issues []string
	if o.ReportInterval <= 0 {
		issues = append(issues, "output: report_interval must be > 0")
	}
	if (o.CSV || o.JSONReport) && strings.TrimSpace(o.Dir) == "" {
		issues = append(issues, "output: dir is required when csv or json_report is enabled")
	}
	if o.Dashboard && o.JSONOutput {
		issues = append(issues, "output: dashboard and json_output are mutually exclusive")
	}
	return issues
}

func validateLogConfig(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Level) {
	case "", "trace", "debug", "info", "warn", "error", "disabled":
	default:
		issues = append(issues, fmt.Sprintf("log: unsupported level %q", l.Level))
	}
	switch l.Format {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log: format must be 'console' or 'json', got %q", l.Format))
	}
	return issues
}
