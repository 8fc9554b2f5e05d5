package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lifestream-ingest/internal/metrics"
)

// Bulk sync phases
const (
	PhaseSummaryFetch = "summary_fetch"
	PhaseDetailFetch  = "detail_fetch"
	PhaseComplete     = "complete"
	PhaseError        = "error"
)

// Bulk sync statuses
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusPaused   = "paused"
	StatusComplete = "complete"
	StatusError    = "error"
)

// DateLayout is the format of SyncState.LastResetDate
const DateLayout = "2006-01-02"

// SyncState is the persisted progress of one user's bulk sync
type SyncState struct {
	UserID              string
	Phase               string
	Status              string
	TotalActivities     int
	ProcessedActivities int
	SkippedActivities   int
	ProcessedSummaries  int
	RequestsUsedToday   int
	LastResetDate       string
	CurrentPage         int
	StartDate           time.Time
	CompletedAt         *time.Time
	ErrorMessage        *string
	LeaseExpiresAt      *time.Time
	UpdatedAt           time.Time
}

// SyncStateUpdate is a partial update: nil fields are left untouched
type SyncStateUpdate struct {
	Phase              *string
	Status             *string
	TotalActivities    *int
	ProcessedSummaries *int
	RequestsUsedToday  *int
	LastResetDate      *string
	CurrentPage        *int
	CompletedAt        *time.Time
	ErrorMessage       *string
	ClearError         bool
	LeaseExpiresAt     *time.Time
	ClearLease         bool
}

const syncStateColumns = `
	user_id, phase, status, total_activities, processed_activities,
	skipped_activities, processed_summaries, requests_used_today, last_reset_date, current_page,
	start_date, completed_at, error_message, lease_expires_at, updated_at
`

func scanSyncState(row interface{ Scan(...any) error }) (*SyncState, error) {
	var s SyncState
	var startDate, updatedAt int64
	var completedAt, leaseExpiresAt *int64

	err := row.Scan(
		&s.UserID, &s.Phase, &s.Status, &s.TotalActivities, &s.ProcessedActivities,
		&s.SkippedActivities, &s.ProcessedSummaries, &s.RequestsUsedToday, &s.LastResetDate, &s.CurrentPage,
		&startDate, &completedAt, &s.ErrorMessage, &leaseExpiresAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.StartDate = time.Unix(startDate, 0).UTC()
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	s.CompletedAt = timePtr(completedAt)
	s.LeaseExpiresAt = timePtr(leaseExpiresAt)

	return &s, nil
}

// GetOrCreateSyncState returns the user's sync state, creating a pending
// summary_fetch state on first touch.
func (d *DB) GetOrCreateSyncState(ctx context.Context, userID string, now time.Time) (*SyncState, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetOrCreateSyncState))
	defer timer.ObserveDuration()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_state (
			user_id, phase, status, last_reset_date, current_page, start_date, updated_at
		) VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, PhaseSummaryFetch, StatusPending, now.UTC().Format(DateLayout), now.Unix(), now.Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetOrCreateSyncState).Inc()
		return nil, fmt.Errorf("failed to create sync state: %w", err)
	}

	state, err := scanSyncState(d.db.QueryRowContext(ctx,
		`SELECT `+syncStateColumns+` FROM sync_state WHERE user_id = ?`, userID))
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetOrCreateSyncState).Inc()
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	return state, nil
}

// GetSyncState returns the user's sync state, or nil, nil if none exists
func (d *DB) GetSyncState(ctx context.Context, userID string) (*SyncState, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetSyncState))
	defer timer.ObserveDuration()

	state, err := scanSyncState(d.db.QueryRowContext(ctx,
		`SELECT `+syncStateColumns+` FROM sync_state WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetSyncState).Inc()
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return state, nil
}

// UpdateSyncState applies a partial update to the user's sync state
func (d *DB) UpdateSyncState(ctx context.Context, userID string, upd SyncStateUpdate, now time.Time) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpdateSyncState))
	defer timer.ObserveDuration()

	var sets []string
	var args []any
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if upd.Phase != nil {
		set("phase", *upd.Phase)
	}
	if upd.Status != nil {
		set("status", *upd.Status)
	}
	if upd.TotalActivities != nil {
		set("total_activities", *upd.TotalActivities)
	}
	if upd.ProcessedSummaries != nil {
		set("processed_summaries", *upd.ProcessedSummaries)
	}
	if upd.RequestsUsedToday != nil {
		set("requests_used_today", *upd.RequestsUsedToday)
	}
	if upd.LastResetDate != nil {
		set("last_reset_date", *upd.LastResetDate)
	}
	if upd.CurrentPage != nil {
		set("current_page", *upd.CurrentPage)
	}
	if upd.CompletedAt != nil {
		set("completed_at", upd.CompletedAt.Unix())
	}
	switch {
	case upd.ClearError:
		set("error_message", nil)
	case upd.ErrorMessage != nil:
		set("error_message", *upd.ErrorMessage)
	}
	switch {
	case upd.ClearLease:
		set("lease_expires_at", nil)
	case upd.LeaseExpiresAt != nil:
		set("lease_expires_at", upd.LeaseExpiresAt.Unix())
	}
	set("updated_at", now.Unix())

	args = append(args, userID)
	query := `UPDATE sync_state SET ` + strings.Join(sets, ", ") + ` WHERE user_id = ?`

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpdateSyncState).Inc()
		return fmt.Errorf("failed to update sync state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("sync state for user %s not found", userID)
	}

	return nil
}

// ClaimSyncState atomically marks the user's sync as running with a lease.
// It returns false if another worker holds an unexpired lease.
func (d *DB) ClaimSyncState(ctx context.Context, userID string, now time.Time, lease time.Duration) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpClaimSyncState))
	defer timer.ObserveDuration()

	result, err := d.db.ExecContext(ctx, `
		UPDATE sync_state
		SET status = ?, lease_expires_at = ?, updated_at = ?
		WHERE user_id = ?
		  AND (status != ? OR lease_expires_at IS NULL OR lease_expires_at < ?)
	`, StatusRunning, now.Add(lease).Unix(), now.Unix(), userID, StatusRunning, now.Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpClaimSyncState).Inc()
		return false, fmt.Errorf("failed to claim sync state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// ResetSyncState deletes the user's sync state, processed and skipped sets
// and staged summaries. Canonical and raw activities are kept.
func (d *DB) ResetSyncState(ctx context.Context, userID string) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpResetSyncState))
	defer timer.ObserveDuration()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpResetSyncState).Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM sync_processed_activities WHERE user_id = ?`,
		`DELETE FROM sync_skipped_activities WHERE user_id = ?`,
		`DELETE FROM staged_summaries WHERE user_id = ?`,
		`DELETE FROM sync_state WHERE user_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, userID); err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpResetSyncState).Inc()
			return fmt.Errorf("failed to reset sync state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpResetSyncState).Inc()
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	return nil
}

// MarkActivitiesProcessed adds ids to the user's processed set and refreshes
// processed_activities in the same transaction. IDs that were never staged
// for the user are ignored. It returns the new processed count.
func (d *DB) MarkActivitiesProcessed(ctx context.Context, userID string, ids []int64, now time.Time) (int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpMarkProcessed))
	defer timer.ObserveDuration()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkProcessed).Inc()
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO sync_processed_activities (user_id, activity_id, processed_at)
		SELECT user_id, activity_id, ?
		FROM staged_summaries
		WHERE user_id = ? AND activity_id = ?
	`)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkProcessed).Inc()
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now.Unix(), userID, id); err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkProcessed).Inc()
			return 0, fmt.Errorf("failed to mark activity %d processed: %w", id, err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_processed_activities WHERE user_id = ?`, userID,
	).Scan(&count); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkProcessed).Inc()
		return 0, fmt.Errorf("failed to count processed activities: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sync_state SET processed_activities = ?, updated_at = ? WHERE user_id = ?`,
		count, now.Unix(), userID,
	); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkProcessed).Inc()
		return 0, fmt.Errorf("failed to update processed count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkProcessed).Inc()
		return 0, fmt.Errorf("failed to commit processed activities: %w", err)
	}

	return count, nil
}

// Reasons an activity is skipped rather than processed
const (
	SkipNotFound       = "not_found"
	SkipInvalidPayload = "invalid_payload"
)

// SkippedActivity is a staged activity the detail phase will not retry
type SkippedActivity struct {
	ActivityID int64
	Reason     string
}

// MarkActivitiesSkipped adds activities to the user's skipped set and
// refreshes skipped_activities in the same transaction. IDs that were never
// staged or are already processed are ignored. It returns the new skipped
// count.
func (d *DB) MarkActivitiesSkipped(ctx context.Context, userID string, skipped []SkippedActivity, now time.Time) (int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpMarkSkipped))
	defer timer.ObserveDuration()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkSkipped).Inc()
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO sync_skipped_activities (user_id, activity_id, reason, skipped_at)
		SELECT s.user_id, s.activity_id, ?, ?
		FROM staged_summaries s
		WHERE s.user_id = ? AND s.activity_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM sync_processed_activities p
			WHERE p.user_id = s.user_id AND p.activity_id = s.activity_id
		  )
	`)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkSkipped).Inc()
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range skipped {
		if _, err := stmt.ExecContext(ctx, s.Reason, now.Unix(), userID, s.ActivityID); err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkSkipped).Inc()
			return 0, fmt.Errorf("failed to mark activity %d skipped: %w", s.ActivityID, err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_skipped_activities WHERE user_id = ?`, userID,
	).Scan(&count); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkSkipped).Inc()
		return 0, fmt.Errorf("failed to count skipped activities: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sync_state SET skipped_activities = ?, updated_at = ? WHERE user_id = ?`,
		count, now.Unix(), userID,
	); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkSkipped).Inc()
		return 0, fmt.Errorf("failed to update skipped count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkSkipped).Inc()
		return 0, fmt.Errorf("failed to commit skipped activities: %w", err)
	}

	return count, nil
}

// ListUnprocessedActivityIDs returns staged activity IDs in neither the
// user's processed set nor the skipped set, in ascending order.
func (d *DB) ListUnprocessedActivityIDs(ctx context.Context, userID string) ([]int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListUnprocessed))
	defer timer.ObserveDuration()

	rows, err := d.db.QueryContext(ctx, `
		SELECT s.activity_id
		FROM staged_summaries s
		LEFT JOIN sync_processed_activities p
		  ON p.user_id = s.user_id AND p.activity_id = s.activity_id
		LEFT JOIN sync_skipped_activities k
		  ON k.user_id = s.user_id AND k.activity_id = s.activity_id
		WHERE s.user_id = ? AND p.activity_id IS NULL AND k.activity_id IS NULL
		ORDER BY s.activity_id ASC
	`, userID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListUnprocessed).Inc()
		return nil, fmt.Errorf("failed to list unprocessed activities: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ListProcessedActivityIDs returns the user's processed set in ascending order
func (d *DB) ListProcessedActivityIDs(ctx context.Context, userID string) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT activity_id FROM sync_processed_activities
		WHERE user_id = ?
		ORDER BY activity_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed activities: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ListSkippedActivities returns the user's skipped set in ascending order
func (d *DB) ListSkippedActivities(ctx context.Context, userID string) ([]SkippedActivity, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT activity_id, reason FROM sync_skipped_activities
		WHERE user_id = ?
		ORDER BY activity_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list skipped activities: %w", err)
	}
	defer rows.Close()

	var skipped []SkippedActivity
	for rows.Next() {
		var s SkippedActivity
		if err := rows.Scan(&s.ActivityID, &s.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan skipped activity: %w", err)
		}
		skipped = append(skipped, s)
	}
	return skipped, rows.Err()
}

// ListResumableUsers returns users whose sync is pending or paused, or
// running under an expired lease.
func (d *DB) ListResumableUsers(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id FROM sync_state
		WHERE status IN (?, ?)
		   OR (status = ? AND (lease_expires_at IS NULL OR lease_expires_at < ?))
		ORDER BY updated_at ASC
	`, StatusPending, StatusPaused, StatusRunning, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list resumable users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

// CountSyncStatesByStatus returns the number of users in each status
func (d *DB) CountSyncStatesByStatus(ctx context.Context) (map[string]int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCountSyncStatesByStatus))
	defer timer.ObserveDuration()

	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_state GROUP BY status`)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCountSyncStatesByStatus).Inc()
		return nil, fmt.Errorf("failed to count sync states: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan sync state count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan activity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity ids: %w", err)
	}
	return ids, nil
}
