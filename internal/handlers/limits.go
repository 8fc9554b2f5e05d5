package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"lifestream-ingest/internal/database"
	"lifestream-ingest/internal/strava"
)

// DefaultLimitsWindow is how far back the telemetry summary looks by default
const DefaultLimitsWindow = time.Hour

// RateLimitSummarizer aggregates the rate limit telemetry log
type RateLimitSummarizer interface {
	SummarizeRateLimitLog(ctx context.Context, since time.Time) (*database.RateLimitSummary, error)
}

// LimitsHandler reports the quota tracker state and recent telemetry
type LimitsHandler struct {
	tracker *strava.QuotaTracker
	log     RateLimitSummarizer
	logger  *slog.Logger
	now     func() time.Time
}

// NewLimitsHandler creates a new limits handler
func NewLimitsHandler(tracker *strava.QuotaTracker, log RateLimitSummarizer) *LimitsHandler {
	return &LimitsHandler{
		tracker: tracker,
		log:     log,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WindowView is the JSON form of one quota window
type WindowView struct {
	Category       string    `json:"category"`
	Granularity    string    `json:"granularity"`
	Limit          int       `json:"limit"`
	Used           int       `json:"used"`
	Remaining      int       `json:"remaining"`
	UtilizationPct float64   `json:"utilizationPct"`
	NextResetAt    time.Time `json:"nextResetAt"`
}

// LimitsReport is the body of GET /v1/limits
type LimitsReport struct {
	Windows        []WindowView    `json:"windows"`
	UtilizationPct float64         `json:"utilizationPct"`
	RemainingDaily int             `json:"remainingDaily"`
	ThrottleDelay  string          `json:"throttleDelay"`
	LastUpdated    *time.Time      `json:"lastUpdated"`
	Recent         RecentTelemetry `json:"recent"`
}

// RecentTelemetry summarizes the calls logged in the report window
type RecentTelemetry struct {
	Since             time.Time `json:"since"`
	Calls             int       `json:"calls"`
	RateLimited       int       `json:"rateLimited"`
	AverageDelayMs    float64   `json:"averageDelayMs"`
	MaxUtilizationPct float64   `json:"maxUtilizationPct"`
}

// BuildLimitsReport snapshots tracker and summarizes the telemetry logged
// since the given time
func BuildLimitsReport(ctx context.Context, tracker *strava.QuotaTracker, log RateLimitSummarizer, since time.Time) (*LimitsReport, error) {
	summary, err := log.SummarizeRateLimitLog(ctx, since)
	if err != nil {
		return nil, err
	}

	report := &LimitsReport{
		UtilizationPct: tracker.Utilization(),
		RemainingDaily: tracker.RemainingDaily(),
		ThrottleDelay:  strava.DelayFor(tracker.Utilization()).String(),
		Recent: RecentTelemetry{
			Since:             summary.Since,
			Calls:             summary.Calls,
			RateLimited:       summary.RateLimited,
			AverageDelayMs:    summary.AverageDelayMs,
			MaxUtilizationPct: summary.MaxUtilization,
		},
	}
	if updated := tracker.LastUpdated(); !updated.IsZero() {
		report.LastUpdated = &updated
	}
	for _, w := range tracker.Snapshot() {
		report.Windows = append(report.Windows, WindowView{
			Category:       w.Category,
			Granularity:    w.Granularity,
			Limit:          w.Limit,
			Used:           w.Used,
			Remaining:      w.Remaining(),
			UtilizationPct: w.Utilization(),
			NextResetAt:    w.NextResetAt,
		})
	}

	return report, nil
}

// HandleLimits handles GET /v1/limits?since=<duration>
func (h *LimitsHandler) HandleLimits(w http.ResponseWriter, r *http.Request) {
	window := DefaultLimitsWindow
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
		window = d
	}

	h.tracker.RolloverIfDue(h.now())

	report, err := BuildLimitsReport(r.Context(), h.tracker, h.log, h.now().Add(-window))
	if err != nil {
		h.logger.Error("Failed to build limits report", "error", err)
		http.Error(w, "Failed to build limits report", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
