package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/torosent/gamestorm/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	cmd := &cobra.Command{Use: "gamestorm"}
	config.RegisterFlags(cmd)
	fs := cmd.PersistentFlags()
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.NewLoader().Load("", newFlags(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Target != "127.0.0.1:7777" {
		t.Errorf("Target = %q", cfg.Target)
	}
	if cfg.Clients != 50 || cfg.Duration != 120*time.Second {
		t.Errorf("Clients/Duration = %d/%s, want 50/2m0s", cfg.Clients, cfg.Duration)
	}
	if cfg.Session.SendInterval != 50*time.Millisecond {
		t.Errorf("SendInterval = %s", cfg.Session.SendInterval)
	}
	if cfg.Arrival.Model != config.ArrivalModelUniform {
		t.Errorf("Arrival.Model = %q", cfg.Arrival.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestScenarioPresets(t *testing.T) {
	tests := []struct {
		name     string
		clients  int
		duration time.Duration
		send     time.Duration
		chat     time.Duration
	}{
		{"basic", 50, 120 * time.Second, 50 * time.Millisecond, 10 * time.Second},
		{"stress", 200, 300 * time.Second, 33 * time.Millisecond, 5 * time.Second},
		{"extreme", 500, 600 * time.Second, 16 * time.Millisecond, 3 * time.Second},
		{"massive", 800, 300 * time.Second, 33 * time.Millisecond, 10 * time.Second},
		{"optimized", 600, 600 * time.Second, 33 * time.Millisecond, 8 * time.Second},
		{"movement", 1000, 600 * time.Second, 33 * time.Millisecond, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.NewLoader().Load(tt.name, nil)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Scenario != tt.name {
				t.Errorf("Scenario = %q", cfg.Scenario)
			}
			if cfg.Clients != tt.clients || cfg.Duration != tt.duration {
				t.Errorf("clients/duration = %d/%s", cfg.Clients, cfg.Duration)
			}
			if cfg.Session.SendInterval != tt.send || cfg.Session.ChatInterval != tt.chat {
				t.Errorf("send/chat = %s/%s", cfg.Session.SendInterval, cfg.Session.ChatInterval)
			}
		})
	}
}

func TestUnknownScenario(t *testing.T) {
	_, err := config.NewLoader().Load("nope", nil)
	if !errors.Is(err, config.ErrUnknownScenario) {
		t.Fatalf("expected ErrUnknownScenario, got %v", err)
	}
}

func TestPrecedenceScenarioFileFlags(t *testing.T) {
	path := writeFile(t, "run.yaml", `
scenario: stress
target: game.internal:9000
clients: 300
session:
  chat_interval: 2s
  best_effort_handshake: true
output:
  dir: out
`)
	fs := newFlags(t, "--config", path, "--clients", "25", "--send-interval", "20ms")

	cfg, err := config.NewLoader().Load("", fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scenario != "stress" {
		t.Errorf("Scenario = %q, want stress from file", cfg.Scenario)
	}
	if cfg.Duration != 300*time.Second {
		t.Errorf("Duration = %s, want scenario value", cfg.Duration)
	}
	if cfg.Target != "game.internal:9000" {
		t.Errorf("Target = %q, want file value", cfg.Target)
	}
	if cfg.Clients != 25 {
		t.Errorf("Clients = %d, want flag value", cfg.Clients)
	}
	if cfg.Session.ChatInterval != 2*time.Second {
		t.Errorf("ChatInterval = %s, want file over scenario", cfg.Session.ChatInterval)
	}
	if cfg.Session.SendInterval != 20*time.Millisecond {
		t.Errorf("SendInterval = %s, want flag", cfg.Session.SendInterval)
	}
	if !cfg.Session.BestEffortHandshake {
		t.Error("BestEffortHandshake should come from file")
	}
	if cfg.Output.Dir != "out" || cfg.ConfigFile != path {
		t.Errorf("Output.Dir = %q ConfigFile = %q", cfg.Output.Dir, cfg.ConfigFile)
	}
}

func TestSubcommandScenarioBeatsFile(t *testing.T) {
	path := writeFile(t, "run.json", `{"scenario": "stress"}`)
	cfg, err := config.NewLoader().Load("movement", newFlags(t, "--config", path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scenario != "movement" || cfg.Clients != 1000 {
		t.Fatalf("scenario = %q clients = %d", cfg.Scenario, cfg.Clients)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	path := writeFile(t, "run.json", `{
		"target": "10.0.0.5:7777",
		"zone_id": 3,
		"clients": 10,
		"max_concurrency": 4,
		"duration": "45s",
		"batch_size": 2,
		"batch_delay": "100ms",
		"join_timeout": "3s",
		"seed": 42,
		"arrival": {"model": "Poisson"},
		"thresholds": ["latency:p95 < 100ms"],
		"session": {
			"connect_timeout": "2s",
			"hangup_window": "40ms",
			"heartbeat_interval": 0,
			"input_payload_size": 64,
			"frames_limit": 20,
			"desync_threshold": 5,
			"no_delay": false
		},
		"credentials": {"ticket_template": "tk-{{player_id}}", "base_player_id": 500},
		"redis": {"url": "redis://localhost:6379/0"},
		"log": {"level": "DEBUG", "format": "json"},
		"tracing": {"endpoint": "localhost:4317", "sample_rate": 0.5}
	}`)

	cfg, err := config.NewLoader().Load("", newFlags(t, "--config", path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Target != "10.0.0.5:7777" || cfg.ZoneID != 3 {
		t.Errorf("target/zone = %q/%d", cfg.Target, cfg.ZoneID)
	}
	if cfg.Clients != 10 || cfg.MaxConcurrency != 4 || cfg.Duration != 45*time.Second {
		t.Errorf("clients/max/duration = %d/%d/%s", cfg.Clients, cfg.MaxConcurrency, cfg.Duration)
	}
	if cfg.BatchSize != 2 || cfg.BatchDelay != 100*time.Millisecond || cfg.JoinTimeout != 3*time.Second {
		t.Errorf("batch = %d/%s join = %s", cfg.BatchSize, cfg.BatchDelay, cfg.JoinTimeout)
	}
	if cfg.Seed != 42 || cfg.Arrival.Model != config.ArrivalModelPoisson {
		t.Errorf("seed = %d model = %q", cfg.Seed, cfg.Arrival.Model)
	}
	if len(cfg.Thresholds) != 1 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	s := cfg.Session
	if s.ConnectTimeout != 2*time.Second || s.HeartbeatInterval != 0 || s.InputPayloadSize != 64 || s.FramesLimit != 20 || s.DesyncThreshold != 5 || s.NoDelay {
		t.Errorf("session = %+v", s)
	}
	if s.AuthTimeout != 10*time.Second {
		t.Errorf("unset AuthTimeout should keep default, got %s", s.AuthTimeout)
	}
	if s.HangupWindow != 40*time.Millisecond || cfg.SessionOptions().HangupWindow != 40*time.Millisecond {
		t.Errorf("HangupWindow = %s, want 40ms", s.HangupWindow)
	}
	if cfg.Credentials.BasePlayerID != 500 || cfg.Credentials.TicketTemplate != "tk-{{player_id}}" {
		t.Errorf("credentials = %+v", cfg.Credentials)
	}
	if cfg.Redis.Channel != config.DefaultRedisChannel {
		t.Errorf("Redis.Channel = %q, want default", cfg.Redis.Channel)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if !cfg.Tracing.On() || cfg.Tracing.SampleRate != 0.5 {
		t.Errorf("tracing = %+v", cfg.Tracing)
	}

	opts := cfg.SessionOptions()
	if opts.Target != cfg.Target || opts.ZoneID != 3 || opts.InputPayloadSize != 64 {
		t.Errorf("SessionOptions() = %+v", opts)
	}
	src := cfg.CredentialsSource()
	if src.BasePlayerID != 500 || src.File != "" {
		t.Errorf("CredentialsSource() = %+v", src)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	bad := writeFile(t, "bad.yaml", "clients: lots\n")
	_, err := config.NewLoader().Load("", newFlags(t, "--config", bad))
	if err == nil || !strings.Contains(err.Error(), "clients") {
		t.Fatalf("expected clients conversion error, got %v", err)
	}

	nested := writeFile(t, "nested.yaml", "session:\n  send_interval: soon\n")
	_, err = config.NewLoader().Load("", newFlags(t, "--config", nested))
	if err == nil || !strings.Contains(err.Error(), "session.send_interval") {
		t.Fatalf("expected key path in error, got %v", err)
	}

	_, err = config.NewLoader().Load("", newFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	if err == nil {
		t.Fatal("expected missing file error")
	}
}

func TestScenariosFile(t *testing.T) {
	catalog := writeFile(t, "scenarios.yaml", `
scenarios:
  - name: soak
    description: Overnight soak
    clients: 40
    duration: 8h
    send_interval: 100ms
    disable_chat: true
  - name: basic
    clients: 7
    duration: 30
`)
	cfg, err := config.NewLoader().Load("soak", newFlags(t, "--scenarios-file", catalog))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Clients != 40 || cfg.Duration != 8*time.Hour || cfg.Session.ChatInterval != 0 {
		t.Errorf("soak = clients %d duration %s chat %s", cfg.Clients, cfg.Duration, cfg.Session.ChatInterval)
	}

	c, err := config.LoadCatalog(catalog)
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	basic, ok := c.Lookup("BASIC")
	if !ok || basic.Clients != 7 || basic.Duration != 30*time.Second || basic.Builtin {
		t.Errorf("override basic = %+v", basic)
	}
	if len(c.All()) != 7 {
		t.Errorf("All() len = %d, want 6 built-ins plus soak", len(c.All()))
	}

	noName := writeFile(t, "bad.yaml", "scenarios:\n  - clients: 3\n")
	if _, err := config.LoadCatalog(noName); err == nil {
		t.Fatal("expected missing name error")
	}
}

func TestConfigValidationErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Target = "no-port"
	cfg.Clients = 0
	cfg.Duration = 0
	cfg.Arrival.Model = "burst"
	cfg.Session.SendInterval = 10 * time.Millisecond
	cfg.Session.SendJitter = 20 * time.Millisecond
	cfg.Session.InputPayloadSize = 2 << 20
	cfg.Session.HangupWindow = -time.Millisecond
	cfg.Credentials.File = "accounts.txt"
	cfg.Credentials.Format = "xml"
	cfg.Output.Dashboard = true
	cfg.Output.JSONOutput = true
	cfg.Log.Level = "loud"
	cfg.Tracing.SampleRate = 2
	cfg.Resources.Interval = -time.Second
	cfg.Sweep.Clients = []int{10, 0}
	cfg.Sweep.Cooldown = -time.Second

	err := cfg.Validate()
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{
		"target must be host:port",
		"clients must be > 0",
		"duration must be > 0",
		`arrival model "burst"`,
		"send_jitter must be smaller",
		"input_payload_size exceeds max_payload",
		"hangup_window must be >= 0",
		"credentials: format",
		"mutually exclusive",
		"log: unsupported level",
		"sample_rate",
		"resources: interval must be >= 0",
		"sweep: clients[1] must be > 0",
		"sweep: cooldown must be >= 0",
	}
	issues := strings.Join(verr.Issues(), "\n")
	for _, w := range want {
		if !strings.Contains(issues, w) {
			t.Errorf("missing issue %q in:\n%s", w, issues)
		}
	}
}
