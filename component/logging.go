package component

import (
	"context"
	"log/slog"
)

// Logger provides structured logging for components. It wraps a standard
// slog.Logger and stamps every entry with the component name so logs from
// all components can be filtered in one stream.
type Logger struct {
	componentName string
	logger        *slog.Logger
}

// NewLogger creates a new component logger. A nil logger falls back to
// slog.Default().
func NewLogger(componentName string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		componentName: componentName,
		logger:        logger.With("component", componentName),
	}
}

// Debug logs a debug-level message
func (cl *Logger) Debug(msg string, args ...any) {
	cl.logger.Debug(msg, args...)
}

// Info logs an info-level message
func (cl *Logger) Info(msg string, args ...any) {
	cl.logger.Info(msg, args...)
}

// Warn logs a warning-level message
func (cl *Logger) Warn(msg string, args ...any) {
	cl.logger.Warn(msg, args...)
}

// Error logs an error-level message with optional error details
func (cl *Logger) Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err)
	}
	cl.logger.Error(msg, args...)
}

// DebugContext logs a debug-level message with context
func (cl *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	cl.logger.DebugContext(ctx, msg, args...)
}

// InfoContext logs an info-level message with context
func (cl *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	cl.logger.InfoContext(ctx, msg, args...)
}
