package database

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lifestream-ingest/internal/metrics"
	"lifestream-ingest/internal/strava"
)

// SaveQuotaWindows persists the tracker windows, replacing previous values
func (d *DB) SaveQuotaWindows(ctx context.Context, windows []strava.Window) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSaveQuotaWindows))
	defer timer.ObserveDuration()

	if len(windows) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSaveQuotaWindows).Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, w := range windows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quota_windows (category, granularity, quota_limit, quota_used, next_reset_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(category, granularity) DO UPDATE SET
				quota_limit = excluded.quota_limit,
				quota_used = excluded.quota_used,
				next_reset_at = excluded.next_reset_at,
				updated_at = excluded.updated_at
		`, w.Category, w.Granularity, w.Limit, w.Used, w.NextResetAt.Unix(), now)
		if err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSaveQuotaWindows).Inc()
			return fmt.Errorf("failed to save quota window %s/%s: %w", w.Category, w.Granularity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSaveQuotaWindows).Inc()
		return fmt.Errorf("failed to commit quota windows: %w", err)
	}
	return nil
}

// LoadQuotaWindows returns the last persisted tracker windows
func (d *DB) LoadQuotaWindows(ctx context.Context) ([]strava.Window, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpLoadQuotaWindows))
	defer timer.ObserveDuration()

	rows, err := d.db.QueryContext(ctx, `
		SELECT category, granularity, quota_limit, quota_used, next_reset_at
		FROM quota_windows
		ORDER BY category, granularity
	`)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpLoadQuotaWindows).Inc()
		return nil, fmt.Errorf("failed to load quota windows: %w", err)
	}
	defer rows.Close()

	var windows []strava.Window
	for rows.Next() {
		var w strava.Window
		var nextResetAt int64
		if err := rows.Scan(&w.Category, &w.Granularity, &w.Limit, &w.Used, &nextResetAt); err != nil {
			return nil, fmt.Errorf("failed to scan quota window: %w", err)
		}
		w.NextResetAt = time.Unix(nextResetAt, 0).UTC()
		windows = append(windows, w)
	}

	return windows, rows.Err()
}

// RestoreQuotaTracker loads persisted windows into tracker
func (d *DB) RestoreQuotaTracker(ctx context.Context, tracker *strava.QuotaTracker, now time.Time) error {
	windows, err := d.LoadQuotaWindows(ctx)
	if err != nil {
		return err
	}
	tracker.Restore(windows, now)
	return nil
}
