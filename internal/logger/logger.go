// Package logger wraps log/slog with the five named severities the
// fleet's servers log at (TRACE/DEBUG/INFO/WARNING/ERROR), in either
// text or JSON form, matching the severity-field convention the
// teacher's logging package tests exercise.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Severity levels below slog.LevelDebug (TRACE) and mapped onto the
// standard four otherwise, so a single numeric ordering holds across
// both scales.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var levelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

// ParseLevel maps a config string ("trace", "debug", "info", "warn",
// "error") onto a slog.Level, defaulting to Info on an unrecognized name.
func ParseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the severity-leveled logger every server component holds a
// reference to.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing to w. format is "text" or "json"; level
// sets the minimum severity emitted.
func New(w io.Writer, format string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl, _ := a.Value.Any().(slog.Level)
				if name, ok := levelNames[lvl]; ok {
					a.Value = slog.StringValue(name)
				}
				a.Key = "severity"
			}
			return a
		},
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h)}
}

// Default returns a text logger at INFO level writing to stderr, used
// by components (and tests) that don't thread a configured logger
// through explicitly.
func Default() *Logger {
	return New(os.Stderr, "text", LevelInfo)
}

func (l *Logger) Tracef(format string, args ...any) {
	l.Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Log(context.Background(), LevelDebug, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.Log(context.Background(), LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.Log(context.Background(), LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.Log(context.Background(), LevelError, fmt.Sprintf(format, args...))
}
