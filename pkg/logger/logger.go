// Package logger provides the process-wide structured logger used by every
// ActingWeb component. It wraps a zap.SugaredLogger behind a package-level
// singleton so components can log without threading a logger through every
// constructor, mirroring the teacher's pkg/logger call shape.
package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	singleton.Store(newDefault())
}

func newDefault() *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if os.Getenv("ACTINGWEB_DEBUG") == "true" {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a bare logger rather than panicking at import time.
		l = zap.NewExample()
	}
	return l.Sugar()
}

// SetLogger replaces the package singleton. Intended for tests and for
// hosts embedding the module that want to route logs elsewhere.
func SetLogger(l *zap.SugaredLogger) {
	singleton.Store(l)
}

// L returns the current singleton logger.
func L() *zap.SugaredLogger {
	return singleton.Load()
}

// Debug logs at debug level.
func Debug(args ...any) { L().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { L().Debugf(format, args...) }

// Debugw logs a message with structured key/value pairs at debug level.
func Debugw(msg string, kv ...any) { L().Debugw(msg, kv...) }

// Info logs at info level.
func Info(args ...any) { L().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { L().Infof(format, args...) }

// Infow logs a message with structured key/value pairs at info level.
func Infow(msg string, kv ...any) { L().Infow(msg, kv...) }

// Warn logs at warn level.
func Warn(args ...any) { L().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { L().Warnf(format, args...) }

// Warnw logs a message with structured key/value pairs at warn level.
func Warnw(msg string, kv ...any) { L().Warnw(msg, kv...) }

// Error logs at error level.
func Error(args ...any) { L().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { L().Errorf(format, args...) }

// Errorw logs a message with structured key/value pairs at error level.
func Errorw(msg string, kv ...any) { L().Errorw(msg, kv...) }

// Audit logs an access-control decision for audit trails only — callers
// MUST NOT also return this detail to the peer (spec §7: "includes which
// category/pattern failed in audit log only").
func Audit(msg string, kv ...any) {
	L().Warnw(msg, append([]any{"audit", true}, kv...)...)
}

// MaskToken returns a redacted preview of a secret/token suitable for INFO+
// logging: first 8 characters followed by an ellipsis, matching the
// security-sensitive logging rule in spec §7.
func MaskToken(token string) string {
	const prefixLen = 8
	if len(token) <= prefixLen {
		return "***"
	}
	return token[:prefixLen] + "..."
}
