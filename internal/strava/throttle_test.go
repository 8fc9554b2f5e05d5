package strava

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestDelayFor(t *testing.T) {
	tests := []struct {
		utilization float64
		want        time.Duration
	}{
		{utilization: 0, want: 0},
		{utilization: 10, want: 0},
		{utilization: 49.99, want: 0},
		{utilization: 50, want: 1 * time.Second},
		{utilization: 55, want: 1 * time.Second},
		{utilization: 70, want: 2 * time.Second},
		{utilization: 79.9, want: 2 * time.Second},
		{utilization: 80, want: 5 * time.Second},
		{utilization: 90, want: 10 * time.Second},
		{utilization: 95, want: 10 * time.Second},
		{utilization: 150, want: 10 * time.Second},
	}

	for _, tt := range tests {
		if got := DelayFor(tt.utilization); got != tt.want {
			t.Errorf("DelayFor(%v) = %v, want %v", tt.utilization, got, tt.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "seconds", header: "30", want: 30 * time.Second},
		{name: "absent", header: "", want: DefaultRetryAfter},
		{name: "http date", header: "Wed, 21 Oct 2015 07:28:00 GMT", want: DefaultRetryAfter},
		{name: "negative", header: "-5", want: DefaultRetryAfter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			if got := RetryAfter(h); got != tt.want {
				t.Errorf("RetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestThrottleWait(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 7, 0, 0, time.UTC)
	qt := NewQuotaTracker(now)
	qt.Record(Metadata{
		HasRead:   true,
		ReadLimit: Pair{Short: 100, Daily: 1000},
		ReadUsage: Pair{Short: 55, Daily: 100},
	}, now)

	var slept []time.Duration
	th := NewThrottle(qt)
	th.now = func() time.Time { return now }
	th.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	delay, err := th.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if delay != time.Second {
		t.Errorf("Expected 1s delay at 55%%, got %v", delay)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Errorf("Expected one 1s sleep, got %v", slept)
	}

	// After the quarter hour the short window rolls over and no delay applies
	th.now = func() time.Time { return now.Add(10 * time.Minute) }
	delay, err = th.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if delay != 0 {
		t.Errorf("Expected no delay after rollover, got %v", delay)
	}
	if len(slept) != 1 {
		t.Errorf("Expected no additional sleep, got %v", slept)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
