package idb

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with idb-specific context.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithID adds an ID field to the logger.
func (l *Logger) WithID(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("id", id),
	}
}

// WithPath adds the database path to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// Component returns a logger for an internal component.
func (l *Logger) Component(name string) *slog.Logger {
	return l.Logger.With("component", name)
}

// LogPut logs a put operation.
func (l *Logger) LogPut(id uint64, size int, err error) {
	if err != nil {
		l.Error("put failed",
			"id", id,
			"size", size,
			"error", err,
		)
	} else {
		l.Debug("put completed",
			"id", id,
			"size", size,
		)
	}
}

// LogOut logs a delete operation.
func (l *Logger) LogOut(id uint64, err error) {
	if err != nil {
		l.Debug("out failed",
			"id", id,
			"error", err,
		)
	} else {
		l.Debug("out completed",
			"id", id,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(mode SearchMode, exprLen, results int, err error) {
	if err != nil {
		l.Warn("search failed",
			"mode", mode.String(),
			"expr_len", exprLen,
			"error", err,
		)
	} else {
		l.Debug("search completed",
			"mode", mode.String(),
			"expr_len", exprLen,
			"results", results,
		)
	}
}

// LogRecovery logs a journal replay.
func (l *Logger) LogRecovery(replayed int, truncated int64, err error) {
	if err != nil {
		l.Error("journal recovery failed",
			"entries_replayed", replayed,
			"error", err,
		)
		return
	}
	if truncated > 0 {
		l.Warn("journal recovery dropped a torn tail",
			"entries_replayed", replayed,
			"truncated_bytes", truncated,
		)
		return
	}
	l.Info("journal recovery completed",
		"entries_replayed", replayed,
	)
}

// LogCheckpoint logs a checkpoint.
func (l *Logger) LogCheckpoint(lsn, records uint64, d time.Duration, err error) {
	if err != nil {
		l.Error("checkpoint failed",
			"lsn", lsn,
			"error", err,
		)
	} else {
		l.Info("checkpoint saved",
			"lsn", lsn,
			"records", records,
			"duration", d,
		)
	}
}
