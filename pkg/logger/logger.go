// Package logger provides component-scoped structured logging for the
// assistant core. All packages log through InfoCF/WarnCF/ErrorCF with a
// short component name so log lines stay greppable per subsystem.
package logger

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var (
	mu   sync.RWMutex
	base = newDefaultLogger("info", "")
)

// Setup installs the process-wide logger. format is "json", "text" or ""
// (auto: colorized terminal output on a TTY, JSON otherwise).
func Setup(level, format string) {
	mu.Lock()
	defer mu.Unlock()
	base = newDefaultLogger(level, format)
}

func newDefaultLogger(level, format string) *slog.Logger {
	lvl := toLevel(level)
	var handler slog.Handler
	switch {
	case format == "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	case format == "text" || isatty.IsTerminal(os.Stderr.Fd()):
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
	default:
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	return slog.New(handler)
}

func toLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func fieldsToAttrs(component string, fields map[string]interface{}) []any {
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "component", component)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// DebugCF logs a debug message for a component with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	current().Debug(msg, fieldsToAttrs(component, fields)...)
}

// InfoCF logs an info message for a component with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	current().Info(msg, fieldsToAttrs(component, fields)...)
}

// WarnCF logs a warning for a component with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	current().Warn(msg, fieldsToAttrs(component, fields)...)
}

// ErrorCF logs an error for a component with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	current().Error(msg, fieldsToAttrs(component, fields)...)
}
