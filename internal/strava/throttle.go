package strava

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lifestream-ingest/internal/metrics"
)

// DefaultRetryAfter is used when a 429 response carries no Retry-After hint
const DefaultRetryAfter = 60 * time.Second

// DelayFor maps quota utilization (percent) to the delay applied before the
// next upstream call.
func DelayFor(utilization float64) time.Duration {
	switch {
	case utilization >= 90:
		return 10 * time.Second
	case utilization >= 80:
		return 5 * time.Second
	case utilization >= 70:
		return 2 * time.Second
	case utilization >= 50:
		return 1 * time.Second
	default:
		return 0
	}
}

// RetryAfter extracts the retry delay from a Retry-After header
func RetryAfter(h http.Header) time.Duration {
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return DefaultRetryAfter
	}

	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return DefaultRetryAfter
	}

	return time.Duration(seconds) * time.Second
}

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Throttle delays upstream calls according to tracker utilization
type Throttle struct {
	tracker *QuotaTracker
	sleep   SleepFunc
	now     func() time.Time
}

// NewThrottle creates a throttle over tracker
func NewThrottle(tracker *QuotaTracker) *Throttle {
	return &Throttle{
		tracker: tracker,
		sleep:   Sleep,
		now:     time.Now,
	}
}

// Wait rolls expired windows over, then sleeps for the delay matching the
// current utilization. It returns the delay applied.
func (t *Throttle) Wait(ctx context.Context) (time.Duration, error) {
	t.tracker.RolloverIfDue(t.now())

	delay := DelayFor(t.tracker.Utilization())
	metrics.ThrottleDelaySeconds.Observe(delay.Seconds())
	if delay == 0 {
		return 0, ctx.Err()
	}

	return delay, t.sleep(ctx, delay)
}

// Backoff sleeps for a server supplied retry hint
func (t *Throttle) Backoff(ctx context.Context, d time.Duration) error {
	return t.sleep(ctx, d)
}
