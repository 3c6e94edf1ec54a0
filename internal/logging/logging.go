package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger initialises an slog.Logger writing to stdout with the provided level string.
func NewLogger(levelStr string) *slog.Logger {
	return New(os.Stdout, levelStr, "text")
}

// New builds a logger for w. format selects "json" output, anything else is text.
func New(w io.Writer, levelStr, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(levelStr)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(levelStr string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
