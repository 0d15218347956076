// Package logging provides the glog.Logger used across the service, backed
// by log/slog handlers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const levelTrace = slog.Level(-8)

type Logger struct {
	base *slog.Logger
	ctx  context.Context
	exit func(int)
}

var _ glog.Logger = (*Logger)(nil)

// New builds a logger writing to w. format is "json" or "text"; level is one
// of trace, debug, info, warn, error.
func New(w io.Writer, format, level string) *Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{base: slog.New(handler), exit: os.Exit}
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(name string) *Logger {
	child := *l
	child.base = l.base.With("component", name)
	return &child
}

func (l *Logger) Trace(msg string, args ...any) { l.log(levelTrace, msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) Fatal(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
	l.exit(1)
}

func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	child := *l
	child.ctx = ctx
	return &child
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	l.base.Log(ctx, level, msg, args...)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return levelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Ensure falls back to a no-op logger.
func Ensure(logger glog.Logger) glog.Logger {
	if logger == nil {
		return glog.Nop()
	}
	return logger
}
