package strava

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"lifestream-ingest/internal/metrics"
)

// Quota categories reported by Strava on every response
const (
	CategoryOverall = "overall"
	CategoryRead    = "read"
)

// Quota granularities
const (
	Granularity15Min = "15min"
	GranularityDaily = "daily"
)

// Default Strava limits, used until the first response reports real ones
const (
	defaultOverall15MinLimit = 200
	defaultOverallDailyLimit = 2000
	defaultRead15MinLimit    = 100
	defaultReadDailyLimit    = 1000
)

// Window is one quota counter: a category over a granularity
type Window struct {
	Category    string
	Granularity string
	Limit       int
	Used        int
	NextResetAt time.Time
}

// Utilization returns usage as a percentage of the limit.
// A window with no known limit reports zero.
func (w Window) Utilization() float64 {
	if w.Limit <= 0 {
		return 0
	}
	return float64(w.Used) / float64(w.Limit) * 100
}

// Remaining returns the calls left in the window, never negative
func (w Window) Remaining() int {
	return max(w.Limit-w.Used, 0)
}

// Pair is a "<15min>,<daily>" header value
type Pair struct {
	Short int
	Daily int
}

// Metadata is the quota information carried by one upstream response
type Metadata struct {
	HasOverall   bool
	OverallLimit Pair
	OverallUsage Pair
	HasRead      bool
	ReadLimit    Pair
	ReadUsage    Pair
}

// ParseMetadata extracts quota metadata from response headers.
// The second return value is false when no category could be parsed.
func ParseMetadata(h http.Header) (Metadata, bool) {
	var m Metadata

	limit, okLimit := parsePair(h.Get("X-RateLimit-Limit"))
	usage, okUsage := parsePair(h.Get("X-RateLimit-Usage"))
	if okLimit && okUsage {
		m.HasOverall = true
		m.OverallLimit = limit
		m.OverallUsage = usage
	}

	limit, okLimit = parsePair(h.Get("X-ReadRateLimit-Limit"))
	usage, okUsage = parsePair(h.Get("X-ReadRateLimit-Usage"))
	if okLimit && okUsage {
		m.HasRead = true
		m.ReadLimit = limit
		m.ReadUsage = usage
	}

	return m, m.HasOverall || m.HasRead
}

func parsePair(value string) (Pair, bool) {
	if value == "" {
		return Pair{}, false
	}
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return Pair{}, false
	}
	short, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Pair{}, false
	}
	daily, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Pair{}, false
	}
	return Pair{Short: short, Daily: daily}, true
}

// QuotaTracker tracks Strava quota usage across the overall and read-only
// categories, each over a 15 minute and a daily window. It is advisory only:
// the upstream headers are authoritative and overwrite local state.
type QuotaTracker struct {
	mu          sync.RWMutex
	windows     [4]Window
	lastUpdated time.Time
}

const (
	idxOverall15Min = iota
	idxOverallDaily
	idxRead15Min
	idxReadDaily
)

// NewQuotaTracker creates a tracker holding Strava's default limits
func NewQuotaTracker(now time.Time) *QuotaTracker {
	qt := &QuotaTracker{}
	qt.windows[idxOverall15Min] = Window{Category: CategoryOverall, Granularity: Granularity15Min, Limit: defaultOverall15MinLimit}
	qt.windows[idxOverallDaily] = Window{Category: CategoryOverall, Granularity: GranularityDaily, Limit: defaultOverallDailyLimit}
	qt.windows[idxRead15Min] = Window{Category: CategoryRead, Granularity: Granularity15Min, Limit: defaultRead15MinLimit}
	qt.windows[idxReadDaily] = Window{Category: CategoryRead, Granularity: GranularityDaily, Limit: defaultReadDailyLimit}
	for i := range qt.windows {
		qt.windows[i].NextResetAt = nextReset(qt.windows[i].Granularity, now)
	}
	return qt
}

// Record overwrites the counters for every category present in m
func (qt *QuotaTracker) Record(m Metadata, now time.Time) {
	qt.mu.Lock()
	defer qt.mu.Unlock()

	if m.HasOverall {
		qt.set(idxOverall15Min, m.OverallLimit.Short, m.OverallUsage.Short, now)
		qt.set(idxOverallDaily, m.OverallLimit.Daily, m.OverallUsage.Daily, now)
	}
	if m.HasRead {
		qt.set(idxRead15Min, m.ReadLimit.Short, m.ReadUsage.Short, now)
		qt.set(idxReadDaily, m.ReadLimit.Daily, m.ReadUsage.Daily, now)
	}
	if m.HasOverall || m.HasRead {
		qt.lastUpdated = now
	}

	qt.exportLocked()
}

func (qt *QuotaTracker) set(idx, limit, used int, now time.Time) {
	w := &qt.windows[idx]
	w.Limit = limit
	w.Used = used
	w.NextResetAt = nextReset(w.Granularity, now)
}

// RolloverIfDue zeroes every window whose reset boundary has passed
func (qt *QuotaTracker) RolloverIfDue(now time.Time) {
	qt.mu.Lock()
	defer qt.mu.Unlock()

	changed := false
	for i := range qt.windows {
		w := &qt.windows[i]
		if now.Before(w.NextResetAt) {
			continue
		}
		w.Used = 0
		w.NextResetAt = nextReset(w.Granularity, now)
		changed = true
	}
	if changed {
		qt.exportLocked()
	}
}

// Utilization returns the highest usage/limit percentage across all windows
func (qt *QuotaTracker) Utilization() float64 {
	qt.mu.RLock()
	defer qt.mu.RUnlock()
	return qt.utilizationLocked()
}

func (qt *QuotaTracker) utilizationLocked() float64 {
	highest := 0.0
	for _, w := range qt.windows {
		highest = math.Max(highest, w.Utilization())
	}
	return highest
}

// RemainingDaily returns the smallest number of calls left today in any
// category.
func (qt *QuotaTracker) RemainingDaily() int {
	qt.mu.RLock()
	defer qt.mu.RUnlock()
	return min(qt.windows[idxOverallDaily].Remaining(), qt.windows[idxReadDaily].Remaining())
}

// Snapshot returns a copy of all four windows
func (qt *QuotaTracker) Snapshot() []Window {
	qt.mu.RLock()
	defer qt.mu.RUnlock()
	out := make([]Window, len(qt.windows))
	copy(out, qt.windows[:])
	return out
}

// LastUpdated returns when upstream metadata was last recorded
func (qt *QuotaTracker) LastUpdated() time.Time {
	qt.mu.RLock()
	defer qt.mu.RUnlock()
	return qt.lastUpdated
}

// Restore loads previously persisted windows, ignoring unknown ones, then
// rolls over anything that expired while the process was down.
func (qt *QuotaTracker) Restore(windows []Window, now time.Time) {
	qt.mu.Lock()
	for _, saved := range windows {
		for i := range qt.windows {
			w := &qt.windows[i]
			if w.Category == saved.Category && w.Granularity == saved.Granularity {
				w.Limit = saved.Limit
				w.Used = saved.Used
				w.NextResetAt = saved.NextResetAt
			}
		}
	}
	qt.mu.Unlock()

	qt.RolloverIfDue(now)
}

// exportLocked publishes the windows as Prometheus gauges
func (qt *QuotaTracker) exportLocked() {
	labels := [4]string{
		metrics.RateLimitOverall15Min,
		metrics.RateLimitOverallDaily,
		metrics.RateLimitRead15Min,
		metrics.RateLimitReadDaily,
	}
	for i, w := range qt.windows {
		metrics.StravaRateLimitUsage.WithLabelValues(labels[i], metrics.BucketLimit).Set(float64(w.Limit))
		metrics.StravaRateLimitUsage.WithLabelValues(labels[i], metrics.BucketUsage).Set(float64(w.Used))
	}
	metrics.StravaQuotaUtilization.Set(qt.utilizationLocked())
}

// nextReset returns the next boundary after now: the next quarter hour for
// 15 minute windows, the next UTC midnight for daily ones.
func nextReset(granularity string, now time.Time) time.Time {
	now = now.UTC()
	if granularity == GranularityDaily {
		y, m, d := now.Date()
		return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	}
	return now.Truncate(15 * time.Minute).Add(15 * time.Minute)
}
