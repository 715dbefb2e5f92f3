// Package logging builds the process-wide slog logger from the
// server's logging configuration. Query handling, the runner, and the
// introspection API all log through the logger constructed here.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Config selects the handler, level, and fixed attributes for the
// process logger.
type Config struct {
	Level      string // DEBUG, INFO, WARN, ERROR (case-insensitive)
	JSON       bool   // emit JSON records instead of key=value text
	IncludePID bool   // attach the process id to every record
}

// New returns a logger writing to stderr and installs it as the slog
// default so library code logging through the slog package-level
// functions lands in the same sink.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level(cfg.Level)}

	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	if cfg.IncludePID {
		h = h.WithAttrs([]slog.Attr{slog.Int("pid", os.Getpid())})
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// Level maps a configured level string onto slog's levels. Unknown or
// empty strings fall back to Info rather than failing startup.
func Level(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
