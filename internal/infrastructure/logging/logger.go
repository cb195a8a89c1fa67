package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
)

const serviceName = "ledlocator"

// Logger is a *slog.Logger whose records carry service and version.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg, writing to stderr when cfg.Output says so
// and to stdout otherwise.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New writing to w. cfg.Output is not consulted.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level: level,
		// File and line are only worth their bytes when debugging.
		AddSource: level <= slog.LevelDebug,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h).With("service", serviceName, "version", version)
	return &Logger{Logger: l}
}

// parseLevel accepts anything slog.Level understands ("info", "WARN",
// "debug-2") plus "warning". Everything else is info.
func parseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags records with the emitting subsystem, e.g. "wled".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the pre-configuration logger: JSON, info, stdout.
func Default() *Logger {
	return New(config.LoggingConfig{}, "dev")
}
