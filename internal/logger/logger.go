// Package logger provides the leveled logging interface used across
// graph-snippets and its log/slog implementation.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger is implemented by every logger the SDK and the CLI accept. The
// plain variants take slog-style key/value attributes; the f variants take
// printf arguments.
type Logger interface {
	Debug(msg string, args ...any)
	Debugf(format string, args ...any)

	Info(msg string, args ...any)
	Infof(format string, args ...any)

	Warn(msg string, args ...any)
	Warnf(format string, args ...any)

	Error(msg string, args ...any)
	Errorf(format string, args ...any)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (l NoopLogger) Debug(msg string, args ...any)     {}
func (l NoopLogger) Debugf(format string, args ...any) {}
func (l NoopLogger) Info(msg string, args ...any)      {}
func (l NoopLogger) Infof(format string, args ...any)  {}
func (l NoopLogger) Warn(msg string, args ...any)      {}
func (l NoopLogger) Warnf(format string, args ...any)  {}
func (l NoopLogger) Error(msg string, args ...any)     {}
func (l NoopLogger) Errorf(format string, args ...any) {}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger returns a text logger writing to stderr at level.
func NewSlogLogger(level slog.Level) *SlogLogger {
	return NewSlogLoggerWithWriter(os.Stderr, level)
}

// NewSlogLoggerWithWriter returns a text logger writing to w at level.
func NewSlogLoggerWithWriter(w io.Writer, level slog.Level) *SlogLogger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &SlogLogger{logger: slog.New(handler)}
}

// NewDefaultLogger logs at debug level when debug is set and at warn level
// otherwise, so that normal CLI output is not interleaved with log lines.
func NewDefaultLogger(debug bool) Logger {
	if debug {
		return NewSlogLogger(slog.LevelDebug)
	}
	return NewSlogLogger(slog.LevelWarn)
}

// With returns a logger that adds attrs to every record, e.g. the upload URL
// of a running transfer.
func (l *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

func (l *SlogLogger) Debugf(format string, args ...any) { l.logger.Debug(sprintf(format, args...)) }

func (l *SlogLogger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

func (l *SlogLogger) Infof(format string, args ...any) { l.logger.Info(sprintf(format, args...)) }

func (l *SlogLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

func (l *SlogLogger) Warnf(format string, args ...any) { l.logger.Warn(sprintf(format, args...)) }

func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *SlogLogger) Errorf(format string, args ...any) { l.logger.Error(sprintf(format, args...)) }

// sprintf leaves format untouched when there are no arguments, so that a
// literal '%' in a message is not mangled.
func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
