package streamclust

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with streamclust-specific context.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
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

// WithClusterID adds a cluster ID field to the logger.
func (l *Logger) WithClusterID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("cluster_id", id),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// WithProducer adds a producer index field to the logger.
func (l *Logger) WithProducer(producer int) *Logger {
	return &Logger{
		Logger: l.Logger.With("producer", producer),
	}
}

// LogGroup logs the reduction of one temporal group.
func (l *Logger) LogGroup(ctx context.Context, points, clusters int) {
	l.DebugContext(ctx, "group reduced",
		"points", points,
		"clusters", clusters,
	)
}

// LogInsert logs an index insert decision.
func (l *Logger) LogInsert(ctx context.Context, id string, absorbed bool, evicted int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"cluster_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"cluster_id", id,
			"absorbed", absorbed,
			"evicted", evicted,
		)
	}
}

// LogSweep logs one background sweep cycle.
func (l *Logger) LogSweep(ctx context.Context, evicted int) {
	l.DebugContext(ctx, "sweep completed",
		"evicted", evicted,
	)
}

// LogAggregate logs one batch aggregation run.
func (l *Logger) LogAggregate(ctx context.Context, merges, deleted int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "aggregation failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "aggregation completed",
			"merges", merges,
			"deleted", deleted,
		)
	}
}
