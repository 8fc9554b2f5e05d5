package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lifestream-ingest/internal/metrics"
)

// StagedSummary is an activity summary awaiting its detail fetch
type StagedSummary struct {
	ActivityID int64
	Payload    json.RawMessage
}

// UpsertStagedSummaries stores one page of summaries for a user. Existing
// rows for the same activity are overwritten.
func (d *DB) UpsertStagedSummaries(ctx context.Context, userID string, summaries []StagedSummary) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertStagedSummaries))
	defer timer.ObserveDuration()

	if len(summaries) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertStagedSummaries).Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO staged_summaries (user_id, activity_id, summary_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, activity_id) DO UPDATE SET
			summary_json = excluded.summary_json,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertStagedSummaries).Inc()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, s := range summaries {
		if _, err := stmt.ExecContext(ctx, userID, s.ActivityID, string(s.Payload), now, now); err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertStagedSummaries).Inc()
			return fmt.Errorf("failed to stage summary %d: %w", s.ActivityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertStagedSummaries).Inc()
		return fmt.Errorf("failed to commit staged summaries: %w", err)
	}
	return nil
}

// CountStagedSummaries returns the number of distinct activities staged for a user
func (d *DB) CountStagedSummaries(ctx context.Context, userID string) (int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCountStagedSummaries))
	defer timer.ObserveDuration()

	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM staged_summaries WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCountStagedSummaries).Inc()
		return 0, fmt.Errorf("failed to count staged summaries: %w", err)
	}
	return count, nil
}

// ListStagedSummaryIDs returns every staged activity ID for a user
func (d *DB) ListStagedSummaryIDs(ctx context.Context, userID string) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT activity_id FROM staged_summaries
		WHERE user_id = ?
		ORDER BY activity_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged summaries: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}
