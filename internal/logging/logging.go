// Package logging builds the slog loggers shared by the scheduler, the store
// and the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a configured slog.Logger writing to stderr.
//
// level: slog level (DEBUG, INFO, WARN, ERROR)
// format: "text" (human-readable) or "json" (structured)
//
// Stdout is left to run summaries and table output.
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to the given writer.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything. Handy in tests and for
// callers that pass a nil logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component derives a child logger tagged with the component name.
// A nil parent yields a discarding logger.
func Component(parent *slog.Logger, name string) *slog.Logger {
	if parent == nil {
		parent = Discard()
	}
	return parent.With("component", name)
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
