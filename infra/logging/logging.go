// Package logging builds the process slog.Logger and adapts it to the
// logger interfaces of embedded libraries (pebble).
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a logger writing to w. format is "json" or "text".
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(h), nil
}

// ParseLevel maps a config string onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Component tags every record emitted through the returned logger.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", name))
}

// Discard is a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// PebbleLogger satisfies pebble.Logger on top of slog.
type PebbleLogger struct {
	L *slog.Logger
}

func (p PebbleLogger) Infof(format string, args ...interface{}) {
	p.L.Info(fmt.Sprintf(format, args...))
}

func (p PebbleLogger) Errorf(format string, args ...interface{}) {
	p.L.Error(fmt.Sprintf(format, args...))
}

func (p PebbleLogger) Fatalf(format string, args ...interface{}) {
	p.L.Error(fmt.Sprintf(format, args...), slog.Bool("fatal", true))
	os.Exit(1)
}
