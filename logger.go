package blockcache

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with blockcache-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogEviction logs an eviction decision.
func (l *Logger) LogEviction(victims []uint32, flushed int) {
	l.Debug("evicted blocks",
		"victims", len(victims),
		"flushed", flushed,
	)
}

// LogSync logs a write-back pass.
func (l *Logger) LogSync(runs, blocks int, err error) {
	if err != nil {
		l.Error("sync failed",
			"runs", runs,
			"blocks", blocks,
			"error", err,
		)
	} else {
		l.Debug("sync completed",
			"runs", runs,
			"blocks", blocks,
		)
	}
}

// LogReadAhead logs a read-ahead admission.
func (l *Logger) LogReadAhead(start uint32, count int) {
	l.Debug("read ahead",
		"start", start,
		"count", count,
	)
}
