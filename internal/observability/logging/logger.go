package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

func NewJSONLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level, "json")
}

// New builds a service logger. format "text" selects the human-readable handler;
// anything else logs JSON.
func New(w io.Writer, service, level, format string) *slog.Logger {
	return slog.New(newHandler(w, level, format)).With("service", service)
}

// NewWithFile logs to w and, when path is set, also appends JSON records to path.
// The returned cleanup closes the file.
func NewWithFile(w io.Writer, service, level, format, path string) (*slog.Logger, func() error, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return New(w, service, level, format), func() error { return nil }, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return NewFanout(w, file, service, level, format), file.Close, nil
}

// NewFanout writes every record to primary in the given format and to secondary as JSON.
func NewFanout(primary, secondary io.Writer, service, level, format string) *slog.Logger {
	handler := slogmulti.Fanout(
		newHandler(primary, level, format),
		newHandler(secondary, level, "json"),
	)
	return slog.New(handler).With("service", service)
}

func newHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
