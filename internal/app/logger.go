package app

import (
	"io"
	"log/slog"
)

// newLogger creates the logger of one App instance. It does not set the
// global logger, allowing for isolated logger instances.
func newLogger(cfg *Config, runID string, outW io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}

	return slog.New(handler).With("run", runID, "command", string(cfg.Command))
}
