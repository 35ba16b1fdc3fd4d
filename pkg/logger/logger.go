package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// LogLevel represents the available log levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger is the structured logger handed to every component.
type Logger struct {
	*slog.Logger
}

// NewLoggerWithConsoleWriter builds a logger that writes plain lines to the
// console writer and timestamped text lines to the log file.
func NewLoggerWithConsoleWriter(level LogLevel, consoleWriter io.Writer) *Logger {
	slogLevel := level.slogLevel()
	if consoleWriter == nil {
		consoleWriter = os.Stderr
	}
	handler := newMultiHandler(
		newPlainHandler(consoleWriter, slogLevel),
		newFileTextHandler(slogLevel),
	)
	return &Logger{Logger: slog.New(handler)}
}

// NewDiscardLogger returns a logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent creates a logger with a component context for better tracing
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithMessage binds a stored message id to every line.
func (l *Logger) WithMessage(id uint64) *Logger {
	return &Logger{Logger: l.With("message_id", id)}
}

// LogWithIntention logs at the given level and attaches the intention as the
// structured key "intention". The console handler renders it as an icon.
func (l *Logger) LogWithIntention(level slog.Level, intention Intention, msg string, args ...any) {
	kv := append([]any{"intention", string(intention)}, args...)
	l.Log(context.Background(), level, msg, kv...)
}

func (l *Logger) InfoWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelInfo, intention, msg, args...)
}

func (l *Logger) DebugWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelDebug, intention, msg, args...)
}

// newFileTextHandler appends to ~/.nexus-guard/logs/nexus-guard.log, falling
// back to stderr when the file cannot be opened.
func newFileTextHandler(level slog.Level) slog.Handler {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".nexus-guard", "logs")
	_ = os.MkdirAll(base, 0o755)
	path := filepath.Join(base, "nexus-guard.log")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{Key: "time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
			}
			return a
		},
	}
	return slog.NewTextHandler(f, opts)
}
