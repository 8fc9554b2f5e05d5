package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lifestream-ingest/internal/metrics"
)

// User is an upstream account whose activity history is ingested
type User struct {
	UserID       string
	AthleteID    int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	CreatedAt    int64
	UpdatedAt    int64

	// LastSyncAt is when the last complete incremental ingest ran
	LastSyncAt *time.Time
}

// UpsertUser inserts a user or replaces their athlete ID and tokens
func (d *DB) UpsertUser(ctx context.Context, u *User) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertUser))
	defer timer.ObserveDuration()

	now := time.Now().Unix()
	if u.CreatedAt == 0 {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (
			user_id, athlete_id, access_token, refresh_token, expires_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			athlete_id = excluded.athlete_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, u.UserID, u.AthleteID, u.AccessToken, u.RefreshToken, u.ExpiresAt, u.CreatedAt, u.UpdatedAt)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertUser).Inc()
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID. It returns nil, nil when the user does not
// exist.
func (d *DB) GetUser(ctx context.Context, userID string) (*User, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetUser))
	defer timer.ObserveDuration()

	var u User
	var lastSyncAt *int64
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, athlete_id, access_token, refresh_token, expires_at,
		       created_at, updated_at, last_sync_at
		FROM users WHERE user_id = ?
	`, userID).Scan(
		&u.UserID, &u.AthleteID, &u.AccessToken, &u.RefreshToken, &u.ExpiresAt,
		&u.CreatedAt, &u.UpdatedAt, &lastSyncAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetUser).Inc()
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.LastSyncAt = timePtr(lastSyncAt)
	return &u, nil
}

// UpdateLastSyncAt records a complete incremental ingest
func (d *DB) UpdateLastSyncAt(ctx context.Context, userID string, at time.Time) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpdateLastSyncAt))
	defer timer.ObserveDuration()

	result, err := d.db.ExecContext(ctx,
		`UPDATE users SET last_sync_at = ?, updated_at = ? WHERE user_id = ?`,
		at.Unix(), time.Now().Unix(), userID,
	)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpdateLastSyncAt).Inc()
		return fmt.Errorf("failed to update last sync time: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}

// UpdateUserTokens stores a refreshed token set
func (d *DB) UpdateUserTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpdateUserTokens))
	defer timer.ObserveDuration()

	result, err := d.db.ExecContext(ctx, `
		UPDATE users
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ?
	`, accessToken, refreshToken, expiresAt, time.Now().Unix(), userID)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpdateUserTokens).Inc()
		return fmt.Errorf("failed to update user tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s not found", userID)
	}

	return nil
}
