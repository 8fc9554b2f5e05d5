package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lifestream-ingest/internal/metrics"
	"lifestream-ingest/internal/transform"
)

// RawActivity is an archived upstream payload
type RawActivity struct {
	ActivityID int64
	AthleteID  int64
	RawJSON    json.RawMessage
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StoreActivity upserts the canonical record and its raw archive in one
// transaction.
func (d *DB) StoreActivity(ctx context.Context, a *transform.Activity, raw *transform.RawRecord) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpStoreActivity))
	defer timer.ObserveDuration()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpStoreActivity).Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	if err := upsertActivity(ctx, tx, a, now); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpStoreActivity).Inc()
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO raw_activities (activity_id, raw_json, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(activity_id) DO UPDATE SET
			raw_json = excluded.raw_json,
			updated_at = excluded.updated_at
	`, raw.ActivityID, string(raw.Payload), now, now)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpStoreActivity).Inc()
		return fmt.Errorf("failed to upsert raw activity %d: %w", raw.ActivityID, err)
	}

	if err := tx.Commit(); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpStoreActivity).Inc()
		return fmt.Errorf("failed to commit activity %d: %w", a.ID, err)
	}
	return nil
}

// UpsertActivity overwrites the canonical record only, leaving the raw
// archive untouched.
func (d *DB) UpsertActivity(ctx context.Context, a *transform.Activity) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpStoreActivity))
	defer timer.ObserveDuration()

	if err := upsertActivity(ctx, d.db, a, time.Now().Unix()); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpStoreActivity).Inc()
		return err
	}
	return nil
}

func upsertActivity(ctx context.Context, ex execer, a *transform.Activity, now int64) error {
	efforts, err := a.SegmentEffortsJSON()
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO activities (
			id, athlete_id, name, activity_type, start_date,
			distance_miles, moving_time, elapsed_time,
			total_elevation_gain_feet, elevation_high_feet, elevation_low_feet,
			average_speed_mph, max_speed_mph, average_cadence, average_temperature_f,
			average_watts, max_watts, weighted_average_watts, kilojoules, device_watts,
			average_heartrate, max_heartrate, suffer_score,
			achievement_count, pr_count, trainer, commute, gear_id,
			kom_count, best_kom_rank, best_pr_rank, segment_efforts,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			athlete_id = excluded.athlete_id,
			name = excluded.name,
			activity_type = excluded.activity_type,
			start_date = excluded.start_date,
			distance_miles = excluded.distance_miles,
			moving_time = excluded.moving_time,
			elapsed_time = excluded.elapsed_time,
			total_elevation_gain_feet = excluded.total_elevation_gain_feet,
			elevation_high_feet = excluded.elevation_high_feet,
			elevation_low_feet = excluded.elevation_low_feet,
			average_speed_mph = excluded.average_speed_mph,
			max_speed_mph = excluded.max_speed_mph,
			average_cadence = excluded.average_cadence,
			average_temperature_f = excluded.average_temperature_f,
			average_watts = excluded.average_watts,
			max_watts = excluded.max_watts,
			weighted_average_watts = excluded.weighted_average_watts,
			kilojoules = excluded.kilojoules,
			device_watts = excluded.device_watts,
			average_heartrate = excluded.average_heartrate,
			max_heartrate = excluded.max_heartrate,
			suffer_score = excluded.suffer_score,
			achievement_count = excluded.achievement_count,
			pr_count = excluded.pr_count,
			trainer = excluded.trainer,
			commute = excluded.commute,
			gear_id = excluded.gear_id,
			kom_count = excluded.kom_count,
			best_kom_rank = excluded.best_kom_rank,
			best_pr_rank = excluded.best_pr_rank,
			segment_efforts = excluded.segment_efforts,
			updated_at = excluded.updated_at
	`,
		a.ID, a.AthleteID, a.Name, a.ActivityType, unixPtr(a.StartDate),
		a.DistanceMiles, a.MovingTime, a.ElapsedTime,
		a.TotalElevationGainFeet, a.ElevationHighFeet, a.ElevationLowFeet,
		a.AverageSpeedMPH, a.MaxSpeedMPH, a.AverageCadence, a.AverageTemperatureF,
		a.AverageWatts, a.MaxWatts, a.WeightedAverageWatts, a.Kilojoules, a.DeviceWatts,
		a.AverageHeartRate, a.MaxHeartRate, a.SufferScore,
		a.AchievementCount, a.PRCount, a.Trainer, a.Commute, a.GearID,
		a.KOMCount, a.BestKOMRank, a.BestPRRank, efforts,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert activity %d: %w", a.ID, err)
	}
	return nil
}

// GetActivity retrieves a canonical activity by ID. It returns nil, nil when
// the activity does not exist.
func (d *DB) GetActivity(ctx context.Context, activityID int64) (*transform.Activity, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetActivity))
	defer timer.ObserveDuration()

	var a transform.Activity
	var activityType *string
	var startDate *int64
	var efforts string

	err := d.db.QueryRowContext(ctx, `
		SELECT id, athlete_id, name, activity_type, start_date,
		       distance_miles, moving_time, elapsed_time,
		       total_elevation_gain_feet, elevation_high_feet, elevation_low_feet,
		       average_speed_mph, max_speed_mph, average_cadence, average_temperature_f,
		       average_watts, max_watts, weighted_average_watts, kilojoules, device_watts,
		       average_heartrate, max_heartrate, suffer_score,
		       achievement_count, pr_count, trainer, commute, gear_id,
		       kom_count, best_kom_rank, best_pr_rank, segment_efforts
		FROM activities WHERE id = ?
	`, activityID).Scan(
		&a.ID, &a.AthleteID, &a.Name, &activityType, &startDate,
		&a.DistanceMiles, &a.MovingTime, &a.ElapsedTime,
		&a.TotalElevationGainFeet, &a.ElevationHighFeet, &a.ElevationLowFeet,
		&a.AverageSpeedMPH, &a.MaxSpeedMPH, &a.AverageCadence, &a.AverageTemperatureF,
		&a.AverageWatts, &a.MaxWatts, &a.WeightedAverageWatts, &a.Kilojoules, &a.DeviceWatts,
		&a.AverageHeartRate, &a.MaxHeartRate, &a.SufferScore,
		&a.AchievementCount, &a.PRCount, &a.Trainer, &a.Commute, &a.GearID,
		&a.KOMCount, &a.BestKOMRank, &a.BestPRRank, &efforts,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetActivity).Inc()
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}

	if activityType != nil {
		a.ActivityType = *activityType
	}
	a.StartDate = timePtr(startDate)
	if err := json.Unmarshal([]byte(efforts), &a.SegmentEfforts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segment efforts of activity %d: %w", activityID, err)
	}

	return &a, nil
}

// GetRawActivity returns the archived payload for an activity, or nil, nil
func (d *DB) GetRawActivity(ctx context.Context, activityID int64) (json.RawMessage, error) {
	var raw string
	err := d.db.QueryRowContext(ctx,
		`SELECT raw_json FROM raw_activities WHERE activity_id = ?`, activityID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw activity: %w", err)
	}
	return json.RawMessage(raw), nil
}

// ListRawActivities returns archived payloads ordered by activity ID,
// optionally restricted to one athlete. limit <= 0 returns everything.
func (d *DB) ListRawActivities(ctx context.Context, athleteID *int64, offset, limit int) ([]RawActivity, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListRawActivities))
	defer timer.ObserveDuration()

	query := `
		SELECT r.activity_id, a.athlete_id, r.raw_json
		FROM raw_activities r
		JOIN activities a ON a.id = r.activity_id
	`
	var args []any
	if athleteID != nil {
		query += " WHERE a.athlete_id = ?"
		args = append(args, *athleteID)
	}
	query += " ORDER BY r.activity_id ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListRawActivities).Inc()
		return nil, fmt.Errorf("failed to list raw activities: %w", err)
	}
	defer rows.Close()

	var out []RawActivity
	for rows.Next() {
		var r RawActivity
		var raw string
		if err := rows.Scan(&r.ActivityID, &r.AthleteID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan raw activity: %w", err)
		}
		r.RawJSON = json.RawMessage(raw)
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw activities: %w", err)
	}

	return out, nil
}

// ExistingActivityIDs reports which of ids already have a canonical record
func (d *DB) ExistingActivityIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetActivity))
	defer timer.ObserveDuration()

	existing := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id FROM activities WHERE id IN (`+placeholders[:len(placeholders)-1]+`)`, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetActivity).Inc()
		return nil, fmt.Errorf("failed to look up activities: %w", err)
	}
	defer rows.Close()

	found, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// CountActivities returns the number of canonical activities
func (d *DB) CountActivities(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return count, nil
}
