package hooks

import (
	"context"
	"log/slog"
	"time"
)

// LoggerHook implements connection action logging
type LoggerHook struct {
	logger        *slog.Logger
	logAll        bool
	slowThreshold time.Duration
}

// NewLoggerHook creates a new logger hook
func NewLoggerHook(logger *slog.Logger, logAll bool, slowThreshold time.Duration) *LoggerHook {
	return &LoggerHook{
		logger:        logger,
		logAll:        logAll,
		slowThreshold: slowThreshold,
	}
}

// ConnectionAction logs a completed connection action
func (h *LoggerHook) ConnectionAction(ctx context.Context, event Event) {
	// Skip if not logging all and not slow
	if !h.logAll && (h.slowThreshold == 0 || event.Duration < h.slowThreshold) && event.Err == nil {
		return
	}

	attrs := []slog.Attr{
		slog.Int64("conn_id", event.ConnectionID),
		slog.String("op", event.Op),
		slog.Duration("duration", event.Duration),
	}
	if event.Query != "" {
		attrs = append(attrs, slog.String("query", truncateQuery(event.Query)))
	}

	switch {
	case event.Err != nil:
		attrs = append(attrs, slog.String("error", event.Err.Error()))
		h.logger.LogAttrs(ctx, slog.LevelError, "connection action failed", attrs...)
	case h.slowThreshold > 0 && event.Duration >= h.slowThreshold:
		h.logger.LogAttrs(ctx, slog.LevelWarn, "slow connection action", attrs...)
	case h.logAll:
		h.logger.LogAttrs(ctx, slog.LevelDebug, "connection action", attrs...)
	}
}
