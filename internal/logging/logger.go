package logging

import (
	"go.uber.org/zap"
)

// Logger provides structured logging for the worker, backed by zap's
// sugared logger. The call-site shape (Info/Warn/Error/Debug with trailing
// key-value pairs) matches the prior plain-log implementation so callers
// throughout the codebase are unaffected by the backing swap.
type Logger struct {
	prefix string
	sugar  *zap.SugaredLogger
}

// NewLogger creates a new logger with a prefix.
func NewLogger(prefix string) *Logger {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return &Logger{
		prefix: prefix,
		sugar:  zl.Sugar().With("component", prefix),
	}
}

// Info logs an informational message with key-value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs an error message with key-value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
