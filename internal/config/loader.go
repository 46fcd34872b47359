package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader builds a Config from defaults, a scenario preset, a config file and
// flags, each layer overriding the previous one.
type Loader struct{}

// ErrUnknownScenario is returned when a scenario name is not in the catalog.
var ErrUnknownScenario = errors.New("unknown scenario")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load resolves the configuration. scenario names the preset selected by the
// subcommand; when empty, the config file's scenario key is used. fs may be
// nil.
func (Loader) Load(scenario string, fs *pflag.FlagSet) (*Config, error) {
	configPath := flagString(fs, "config")

	settings := map[string]interface{}{}
	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		settings = v.AllSettings()
	}
	root := newSection(settings, "")

	scenariosFile := ""
	root.str(&scenariosFile, "scenarios_file")
	if fs != nil && fs.Changed("scenarios-file") {
		scenariosFile = flagString(fs, "scenarios-file")
	}
	if scenario == "" {
		root.str(&scenario, "scenario")
	}
	if root.err != nil {
		return nil, root.err
	}

	cfg := Default()
	cfg.ConfigFile = configPath
	cfg.ScenariosFile = scenariosFile

	if scenario != "" {
		catalog, err := LoadCatalog(scenariosFile)
		if err != nil {
			return nil, err
		}
		preset, ok := catalog.Lookup(scenario)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownScenario, scenario)
		}
		preset.apply(&cfg)
	}

	if err := applyConfigSettings(&cfg, root); err != nil {
		return nil, err
	}
	if fs != nil {
		if err := applyFlagOverrides(&cfg, fs); err != nil {
			return nil, err
		}
	}

	cfg.normalize()
	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, root *section) error {
	root.str(&cfg.Target, "target")
	root.num(&cfg.ZoneID, "zone_id", "zone")
	root.num(&cfg.Clients, "clients")
	root.num(&cfg.MaxConcurrency, "max_concurrency")
	root.duration(&cfg.Duration, "duration")
	root.num(&cfg.BatchSize, "batch_size")
	root.duration(&cfg.BatchDelay, "batch_delay")
	root.duration(&cfg.JoinTimeout, "join_timeout")
	root.num64(&cfg.Seed, "seed")
	root.list(&cfg.Thresholds, "thresholds")

	if arr := root.sub("arrival"); arr != nil {
		var model string
		arr.str(&model, "model")
		if model != "" {
			cfg.Arrival.Model = ArrivalModel(strings.ToLower(model))
		}
		if arr.err != nil {
			return arr.err
		}
	}

	if s := root.sub("session"); s != nil {
		applySessionSettings(&cfg.Session, s)
		if s.err != nil {
			return s.err
		}
	}

	if c := root.sub("credentials"); c != nil {
		cc := &cfg.Credentials
		c.str(&cc.File, "file")
		c.str(&cc.Format, "format")
		c.str(&cc.AccountsPath, "accounts_path")
		c.str(&cc.PlayerIDField, "player_id_field")
		c.str(&cc.TicketField, "ticket_field")
		c.str(&cc.UsernameField, "username_field")
		c.str(&cc.TicketTemplate, "ticket_template")
		c.unsigned(&cc.BasePlayerID, "base_player_id")
		if c.err != nil {
			return c.err
		}
	}

	if o := root.sub("output"); o != nil {
		out := &cfg.Output
		o.str(&out.Dir, "dir")
		o.duration(&out.ReportInterval, "report_interval")
		o.flag(&out.CSV, "csv")
		o.flag(&out.JSONReport, "json_report")
		o.flag(&out.JSONOutput, "json_output")
		o.flag(&out.Dashboard, "dashboard")
		o.flag(&out.Quiet, "quiet")
		if o.err != nil {
			return o.err
		}
	}

	if m := root.sub("monitor"); m != nil {
		m.str(&cfg.Monitor.Addr, "addr")
		if m.err != nil {
			return m.err
		}
	}

	if r := root.sub("resources"); r != nil {
		r.duration(&cfg.Resources.Interval, "interval")
		r.num(&cfg.Resources.ServerPID, "server_pid")
		if r.err != nil {
			return r.err
		}
	}

	if sw := root.sub("sweep"); sw != nil {
		sc := &cfg.Sweep
		sw.ints(&sc.Clients, "clients")
		sw.duration(&sc.StepDuration, "step_duration")
		sw.duration(&sc.Cooldown, "cooldown")
		sw.flag(&sc.StopOnFailure, "stop_on_failure")
		if sw.err != nil {
			return sw.err
		}
	}

	if r := root.sub("redis"); r != nil {
		r.str(&cfg.Redis.URL, "url")
		r.str(&cfg.Redis.Channel, "channel")
		if r.err != nil {
			return r.err
		}
	}

	if l := root.sub("log"); l != nil {
		l.str(&cfg.Log.Level, "level")
		l.str(&cfg.Log.Format, "format")
		if l.err != nil {
			return l.err
		}
	}

	if t := root.sub("tracing"); t != nil {
		tc := &cfg.Tracing
		t.flag(&tc.Enabled, "enabled")
		t.str(&tc.Endpoint, "endpoint")
		t.str(&tc.Protocol, "protocol")
		t.str(&tc.ServiceName, "service_name")
		t.float(&tc.SampleRate, "sample_rate")
		t.flag(&tc.Insecure, "insecure")
		if t.err != nil {
			return t.err
		}
	}

	return root.err
}

func applySessionSettings(sc *SessionConfig, s *section) {
	s.duration(&sc.ConnectTimeout, "connect_timeout")
	s.duration(&sc.HangupWindow, "hangup_window")
	s.duration(&sc.AuthTimeout, "auth_timeout")
	s.duration(&sc.JoinTimeout, "join_timeout")
	s.duration(&sc.PollTimeout, "poll_timeout")
	s.duration(&sc.WriteTimeout, "write_timeout")
	s.duration(&sc.DrainTimeout, "drain_timeout")
	s.duration(&sc.SendInterval, "send_interval")
	s.duration(&sc.SendJitter, "send_jitter")
	s.duration(&sc.ChatInterval, "chat_interval")
	s.duration(&sc.HeartbeatInterval, "heartbeat_interval")
	s.num(&sc.InputPayloadSize, "input_payload_size", "input_payload_padding")
	s.num(&sc.FramesLimit, "frames_limit")
	s.flag(&sc.BestEffortHandshake, "best_effort_handshake")
	s.num(&sc.DesyncThreshold, "desync_threshold")
	s.duration(&sc.DesyncWindow, "desync_window")
	s.num(&sc.MaxPayload, "max_payload")
	s.num(&sc.ReadBufferSize, "read_buffer")
	s.num(&sc.WriteBufferSize, "write_buffer")
	s.flag(&sc.NoDelay, "no_delay")
}

func (c *Config) normalize() {
	c.Target = strings.TrimSpace(c.Target)
	if c.Arrival.Model == "" {
		c.Arrival.Model = ArrivalModelUniform
	}
	if c.Redis.URL != "" && c.Redis.Channel == "" {
		c.Redis.Channel = DefaultRedisChannel
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
}

func flagString(fs *pflag.FlagSet, name string) string {
	if fs == nil || fs.Lookup(name) == nil {
		return ""
	}
	val, err := fs.GetString(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(val)
}
