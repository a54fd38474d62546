// Package logging builds the service's structured logger: JSON records fanned
// out to stdout and to per-level files rotated by lumberjack.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the log sinks. Each file receives every record at or above
// its level, so error.log is a subset of warn.log, which is a subset of info.log.
type Config struct {
	Dir            string
	Level          string // debug, info, warn, error
	StandardOutput bool
	InfoFile       string
	WarnFile       string
	ErrorFile      string
	MaxSizeMB      int
	MaxBackups     int
	MaxAgeDays     int

	// Stdout replaces os.Stdout in tests
	Stdout io.Writer
}

// Logger is a slog.Logger whose file sinks can be closed
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

// Close flushes and closes the rotated files
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// New creates a logger from cfg. An empty Dir disables the file sinks.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var handlers []slog.Handler
	var closers []io.Closer

	if cfg.StandardOutput {
		out := cfg.Stdout
		if out == nil {
			out = os.Stdout
		}
		handlers = append(handlers, slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %s: %w", cfg.Dir, err)
		}
		files := []struct {
			name  string
			level slog.Level
		}{
			{orDefault(cfg.InfoFile, "info.log"), max(level, slog.LevelDebug)},
			{orDefault(cfg.WarnFile, "warn.log"), max(level, slog.LevelWarn)},
			{orDefault(cfg.ErrorFile, "error.log"), max(level, slog.LevelError)},
		}
		for _, f := range files {
			w := &lumberjack.Logger{
				Filename:   filepath.Join(cfg.Dir, f.name),
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   true,
			}
			closers = append(closers, w)
			handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: f.level}))
		}
	}

	return &Logger{Logger: slog.New(fanout(handlers)), closers: closers}, nil
}

// ParseLevel accepts debug, info, warn and error in any case. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// fanoutHandler sends each record to every handler that accepts its level
type fanoutHandler []slog.Handler

func fanout(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return fanoutHandler(handlers)
}

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sub := range h {
		if sub.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, sub := range h {
		if sub.Enabled(ctx, r.Level) {
			errs = append(errs, sub.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, sub := range h {
		out[i] = sub.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, sub := range h {
		out[i] = sub.WithGroup(name)
	}
	return out
}
