package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

const ttlWorkerInterval = time.Minute

// CleanupCallback is called after the TTL worker removed a workspace.
type CleanupCallback func(userID string)

// StartTTLWorker runs a background goroutine that periodically tears down
// workspaces that have not been used for ttl.
func StartTTLWorker(ctx context.Context, r *Registry, ttl time.Duration, onCleanup CleanupCallback) {
	if ttl <= 0 {
		return
	}
	interval := ttlWorkerInterval
	if ttl < interval {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupIdleWorkspaces(r, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupIdleWorkspaces(r *Registry, ttl time.Duration, onCleanup CleanupCallback) int {
	idle := r.Idle(ttl)
	if len(idle) == 0 {
		return 0
	}

	slog.Info("TTL worker found idle workspaces", "count", len(idle))
	for _, userID := range idle {
		r.Remove(userID)
		if onCleanup != nil {
			onCleanup(userID)
		}
	}
	slog.Info("TTL worker cleanup completed", "cleaned", len(idle))
	return len(idle)
}
