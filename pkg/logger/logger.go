package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines structured logging interface
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
	With(args ...any) Logger
}

// ZeroLogger implements Logger on top of zerolog. Arguments are alternating
// key/value pairs, the same convention log/slog uses.
type ZeroLogger struct {
	logger zerolog.Logger
}

// New creates a new structured logger with the specified level and format
// ("json" or "console")
func New(level, format string) Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, level, format string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &ZeroLogger{logger: zl}
}

// Info logs an informational message
func (l *ZeroLogger) Info(msg string, args ...any) {
	l.logger.Info().Fields(args).Msg(msg)
}

// Error logs an error message
func (l *ZeroLogger) Error(msg string, args ...any) {
	l.logger.Error().Fields(args).Msg(msg)
}

// Warn logs a warning message
func (l *ZeroLogger) Warn(msg string, args ...any) {
	l.logger.Warn().Fields(args).Msg(msg)
}

// Debug logs a debug message
func (l *ZeroLogger) Debug(msg string, args ...any) {
	l.logger.Debug().Fields(args).Msg(msg)
}

// With returns a new logger with the specified attributes
func (l *ZeroLogger) With(args ...any) Logger {
	return &ZeroLogger{logger: l.logger.With().Fields(args).Logger()}
}

// Default returns a default logger instance
func Default() Logger {
	return New("info", "json")
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return &ZeroLogger{logger: zerolog.Nop()}
}
