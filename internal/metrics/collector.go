package metrics

import (
	"context"
	"log/slog"
	"time"
)

// SyncStateCounter reports how many users are in each bulk sync status
type SyncStateCounter interface {
	CountSyncStatesByStatus(ctx context.Context) (map[string]int, error)
}

// StartSyncStateCollector periodically publishes the per-status user counts
// until ctx is cancelled
func StartSyncStateCollector(ctx context.Context, db SyncStateCounter, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	CollectSyncStates(ctx, db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Sync state collector stopping")
			return
		case <-ticker.C:
			CollectSyncStates(ctx, db, logger)
		}
	}
}

// CollectSyncStates refreshes the BulkSyncStates gauge once
func CollectSyncStates(ctx context.Context, db SyncStateCounter, logger *slog.Logger) {
	counts, err := db.CountSyncStatesByStatus(ctx)
	if err != nil {
		logger.Error("Failed to count sync states", "error", err)
		return
	}

	// Statuses nobody is in any more must drop to zero
	BulkSyncStates.Reset()
	for status, n := range counts {
		BulkSyncStates.WithLabelValues(status).Set(float64(n))
	}
}
