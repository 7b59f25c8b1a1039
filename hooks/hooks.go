// Package hooks provides observability hooks for connkit
package hooks

import (
	"context"
	"time"
)

// Event describes one completed connection action: a lifecycle transition
// (open, close, begin, commit, ...) or a query execution.
type Event struct {
	ConnectionID int64
	Op           string
	Query        string // SQL text when the action carries one
	StartedAt    time.Time
	Duration     time.Duration
	Err          error
}

// Hook receives connection action events. Hooks are fire-and-forget: their
// return is ignored and they must not block the connection for long.
type Hook interface {
	ConnectionAction(ctx context.Context, event Event)
}

// truncateQuery limits SQL text carried into logs and spans
func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}
