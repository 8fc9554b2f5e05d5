package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lifestream-ingest/internal/metrics"
	"lifestream-ingest/internal/strava"
)

// RateLimitSummary aggregates the telemetry log over a time range
type RateLimitSummary struct {
	Since          time.Time
	Calls          int
	RateLimited    int
	AverageDelayMs float64
	MaxUtilization float64
}

// RecordCall implements strava.Telemetry: it appends the call to the
// rate limit log and persists the tracker windows so a restart resumes from
// the last known quota.
func (d *DB) RecordCall(ctx context.Context, rec strava.CallRecord) error {
	if err := d.InsertRateLimitLog(ctx, rec); err != nil {
		return err
	}
	return d.SaveQuotaWindows(ctx, rec.Windows)
}

// InsertRateLimitLog appends one upstream call to the telemetry log
func (d *DB) InsertRateLimitLog(ctx context.Context, rec strava.CallRecord) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpInsertRateLimitLog))
	defer timer.ObserveDuration()

	var w [4]strava.Window
	for _, win := range rec.Windows {
		switch {
		case win.Category == strava.CategoryOverall && win.Granularity == strava.Granularity15Min:
			w[0] = win
		case win.Category == strava.CategoryOverall && win.Granularity == strava.GranularityDaily:
			w[1] = win
		case win.Category == strava.CategoryRead && win.Granularity == strava.Granularity15Min:
			w[2] = win
		case win.Category == strava.CategoryRead && win.Granularity == strava.GranularityDaily:
			w[3] = win
		}
	}

	var retryAfterMs *int64
	if rec.RateLimited {
		ms := rec.RetryAfter.Milliseconds()
		retryAfterMs = &ms
	}

	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO rate_limit_log (
			endpoint, status_code,
			overall_limit_15min, overall_limit_daily, overall_usage_15min, overall_usage_daily,
			read_limit_15min, read_limit_daily, read_usage_15min, read_usage_daily,
			max_utilization_percent, delay_applied_ms, was_rate_limited, retry_after_ms,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Endpoint, rec.StatusCode,
		w[0].Limit, w[1].Limit, w[0].Used, w[1].Used,
		w[2].Limit, w[3].Limit, w[2].Used, w[3].Used,
		math.Round(rec.Utilization*100)/100, rec.Delay.Milliseconds(), rec.RateLimited, retryAfterMs,
		at.Unix(),
	)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpInsertRateLimitLog).Inc()
		return fmt.Errorf("failed to insert rate limit log: %w", err)
	}
	return nil
}

// SummarizeRateLimitLog aggregates calls logged at or after since
func (d *DB) SummarizeRateLimitLog(ctx context.Context, since time.Time) (*RateLimitSummary, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSummarizeRateLimitLog))
	defer timer.ObserveDuration()

	summary := &RateLimitSummary{Since: since}
	var avgDelay, maxUtil *float64

	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(was_rate_limited), 0),
		       AVG(delay_applied_ms),
		       MAX(max_utilization_percent)
		FROM rate_limit_log
		WHERE created_at >= ?
	`, since.Unix()).Scan(&summary.Calls, &summary.RateLimited, &avgDelay, &maxUtil)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSummarizeRateLimitLog).Inc()
		return nil, fmt.Errorf("failed to summarize rate limit log: %w", err)
	}

	if avgDelay != nil {
		summary.AverageDelayMs = *avgDelay
	}
	if maxUtil != nil {
		summary.MaxUtilization = *maxUtil
	}

	return summary, nil
}
