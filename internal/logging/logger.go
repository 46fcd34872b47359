// Package logging builds the zerolog logger shared by the CLI, the
// orchestrator and every session.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	App = "gamestorm"

	// EnvLogLevel overrides the configured level when set.
	EnvLogLevel = "GAMESTORM_LOG_LEVEL"
)

type Options struct {
	Level  string
	Format string // "console" or "json"
	Out    io.Writer
}

// New returns a timestamped logger tagged with app=gamestorm and installs it
// as the zerolog global logger.
func New(opts Options) (zerolog.Logger, error) {
	raw := opts.Level
	if env := strings.TrimSpace(os.Getenv(EnvLogLevel)); env != "" {
		raw = env
	}
	level, err := ParseLevel(raw)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q", opts.Format)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", App).Logger()
	log.Logger = logger
	return logger, nil
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off", "none":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unsupported log level %q", raw)
	}
}
