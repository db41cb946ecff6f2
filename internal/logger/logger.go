// Package logger wraps log/slog the way the rest of the codebase expects:
// a process-global logger, a runtime-adjustable level, and free functions
// for the common levels. Extended from the single-process original with
// a masq-based redaction filter and per-component/per-worker context.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/masq"
)

// Log is the global logger instance.
var Log *slog.Logger

// level is the dynamic log level, changeable at runtime via SetLevel.
// Uses slog.LevelVar which is backed by atomic.Int64 — safe for concurrent use.
var level slog.LevelVar

// redactedFields never reach a log line in cleartext: lease tokens and
// upload IDs are bearer-token-shaped and config secrets are, well, secrets.
var redactedFields = []string{"lease_token", "upload_id", "secret", "token", "api_key"}

// Init initializes the global logger with the specified level.
func Init(levelStr string) {
	SetLevel(levelStr)
	opts := make([]masq.Option, 0, len(redactedFields))
	for _, f := range redactedFields {
		opts = append(opts, masq.WithContain(f))
	}
	filter := masq.New(opts...)
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       &level,
		ReplaceAttr: filter,
	}))
}

// SetLevel changes the log level at runtime. Valid values: debug, info, warn, error.
// Invalid values fall back to info.
func SetLevel(levelStr string) {
	var lvl slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	level.Set(lvl)
}

// Component returns a logger scoped to a coordinator subsystem (store,
// scheduler, registry, lifecycle, transfer, eventbus, ...).
func Component(name string) *slog.Logger {
	if Log == nil {
		return slog.Default()
	}
	return Log.With("component", name)
}

// ForWorker returns a logger scoped to a single worker ID, for use on the
// worker side of the process boundary.
func ForWorker(workerID string) *slog.Logger {
	if Log == nil {
		return slog.Default()
	}
	return Log.With("worker_id", workerID)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	if Log != nil {
		Log.Debug(msg, args...)
	}
}

// Info logs an info message.
func Info(msg string, args ...any) {
	if Log != nil {
		Log.Info(msg, args...)
	}
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	if Log != nil {
		Log.Warn(msg, args...)
	}
}

// Error logs an error message.
func Error(msg string, args ...any) {
	if Log != nil {
		Log.Error(msg, args...)
	}
}
