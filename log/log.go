// Package log provides structured logging for the reputation miner. It wraps
// Go's log/slog with per-module child loggers and a dedicated level for
// disagreements between local and on-chain state.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelDesync sits between WARN and ERROR. It is reserved for the local
// reputation state disagreeing with the state the verifier last accepted.
const LevelDesync = slog.Level(6)

// defaultLogger is the process-wide logger used by the package-level
// convenience functions.
var defaultLogger *Logger

func init() {
	defaultLogger = New(slog.LevelInfo)
}

// Logger wraps slog.Logger with miner-specific context.
type Logger struct {
	inner *slog.Logger
}

// New creates a Logger that writes JSON to stderr at the given level.
func New(level slog.Level) *Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter creates a JSON Logger writing to w.
func NewWithWriter(w io.Writer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	})
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler creates a Logger backed by the supplied slog.Handler. This
// is useful for testing or for writing to a custom destination.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// replaceLevel renders LevelDesync as "DESYNC" instead of "WARN+2".
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelDesync {
		a.Value = slog.StringValue("DESYNC")
	}
	return a
}

// ParseLevel maps a config string to a level. Unknown strings give INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "desync":
		return LevelDesync
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// Module returns a child logger with an additional "module" attribute.
// Subsystems (miner, dispute, chain, ...) obtain their own logger this way.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// Desync logs at LevelDesync.
func (l *Logger) Desync(msg string, args ...any) {
	l.inner.Log(context.Background(), LevelDesync, msg, args...)
}

// ---------------------------------------------------------------------------
// Package-level convenience functions -- delegate to defaultLogger.
// ---------------------------------------------------------------------------

// Debug logs at LevelDebug using the default logger.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs at LevelInfo using the default logger.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs at LevelWarn using the default logger.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs at LevelError using the default logger.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }
