// Package worker runs background maintenance for the chatbot server.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPruneInterval is used when the configured interval is not positive.
const DefaultPruneInterval = 15 * time.Minute

// SessionPruner drops sessions that are too old to be reused.
type SessionPruner interface {
	PruneStale(ctx context.Context, now time.Time) int
}

// StartSessionPruner runs a background goroutine that periodically removes
// stale chatbot sessions until ctx is done.
func StartSessionPruner(ctx context.Context, pruner SessionPruner, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session pruner started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				PruneOnce(ctx, pruner, time.Now())
			case <-ctx.Done():
				slog.Info("Session pruner shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// PruneOnce runs a single sweep and returns how many sessions were removed.
func PruneOnce(ctx context.Context, pruner SessionPruner, now time.Time) int {
	removed := pruner.PruneStale(ctx, now)
	if removed > 0 {
		slog.Info("Session pruner removed stale sessions", "count", removed)
	}
	return removed
}
