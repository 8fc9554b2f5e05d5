package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Bulk sync phases
	PhaseSummaryFetch = "summary_fetch"
	PhaseDetailFetch  = "detail_fetch"
	PhaseIngest       = "ingest"

	// Run outcomes
	OutcomeComplete        = "complete"
	OutcomePaused          = "paused"
	OutcomeError           = "error"
	OutcomeAlreadyComplete = "already_complete"
	OutcomeAlreadyRunning  = "already_running"

	// Worker outcomes
	OutcomeResumed = "resumed"
	OutcomeIdle    = "idle"
	OutcomeFailed  = "failed"

	// Detail results
	ResultStored          = "stored"
	ResultFetchFailed     = "fetch_failed"
	ResultTransformFailed = "transform_failed"
	ResultSkipped         = "skipped"

	// HTTP endpoints
	EndpointBulkSyncStart  = "bulksync_start"
	EndpointBulkSyncResume = "bulksync_resume"
	EndpointBulkSyncStatus = "bulksync_status"
	EndpointBulkSyncReset  = "bulksync_reset"
	EndpointLimits         = "limits"
	EndpointRetransform    = "retransform"
	EndpointIngest         = "ingest"
	EndpointHealth         = "health"

	// Strava API operations
	OpRefreshToken   = "refresh_token"
	OpGetActivity    = "get_activity"
	OpListActivities = "list_activities"

	// Rate limit types
	RateLimitOverall15Min = "overall_15min"
	RateLimitOverallDaily = "overall_daily"
	RateLimitRead15Min    = "read_15min"
	RateLimitReadDaily    = "read_daily"

	// Rate limit buckets
	BucketLimit = "limit"
	BucketUsage = "usage"

	// Database operations
	DBOpGetUser                 = "get_user"
	DBOpUpsertUser              = "upsert_user"
	DBOpUpdateUserTokens        = "update_user_tokens"
	DBOpUpdateLastSyncAt        = "update_last_sync_at"
	DBOpGetOrCreateSyncState    = "get_or_create_sync_state"
	DBOpGetSyncState            = "get_sync_state"
	DBOpUpdateSyncState         = "update_sync_state"
	DBOpClaimSyncState          = "claim_sync_state"
	DBOpResetSyncState          = "reset_sync_state"
	DBOpUpsertStagedSummaries   = "upsert_staged_summaries"
	DBOpCountStagedSummaries    = "count_staged_summaries"
	DBOpListUnprocessed         = "list_unprocessed_activity_ids"
	DBOpMarkProcessed           = "mark_activities_processed"
	DBOpMarkSkipped             = "mark_activities_skipped"
	DBOpStoreActivity           = "store_activity"
	DBOpGetActivity             = "get_activity"
	DBOpListRawActivities       = "list_raw_activities"
	DBOpInsertRateLimitLog      = "insert_rate_limit_log"
	DBOpSummarizeRateLimitLog   = "summarize_rate_limit_log"
	DBOpSaveQuotaWindows        = "save_quota_windows"
	DBOpLoadQuotaWindows        = "load_quota_windows"
	DBOpCountSyncStatesByStatus = "count_sync_states_by_status"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Worker Metrics
var (
	WorkerPollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_poll_cycles_total",
			Help: "Total number of resumer poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the resumer is currently active (1) or not (0)",
		},
	)
)

// Strava API Metrics
var (
	StravaAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_api_requests_total",
			Help: "Total number of Strava API requests",
		},
		[]string{"operation", "status_code"},
	)

	StravaAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strava_api_request_duration_seconds",
			Help:    "Strava API request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)

	StravaRateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strava_rate_limit_usage",
			Help: "Strava API rate limit usage",
		},
		[]string{"limit_type", "bucket"},
	)

	StravaQuotaUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strava_quota_utilization_percent",
			Help: "Highest usage/limit ratio across all quota windows",
		},
	)

	ThrottleDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strava_throttle_delay_seconds",
			Help:    "Delay applied before upstream calls by the adaptive throttle",
			Buckets: []float64{0, 1, 2, 5, 10},
		},
	)

	StravaRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_rate_limited_total",
			Help: "Total number of 429 responses, by whether the single retry succeeded",
		},
		[]string{"retried"},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)

// Bulk Sync Metrics
var (
	BulkSyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_sync_runs_total",
			Help: "Total number of bulk sync resume invocations by outcome",
		},
		[]string{"outcome"},
	)

	BulkSyncRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_sync_requests_total",
			Help: "Upstream quota units spent by bulk sync and ingest, by phase",
		},
		[]string{"phase"},
	)

	BulkSyncSummariesStaged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulk_sync_summaries_staged_total",
			Help: "Total number of activity summaries staged",
		},
	)

	BulkSyncActivitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_sync_activities_total",
			Help: "Activities handled in the detail phase by result",
		},
		[]string{"result"},
	)

	BulkSyncBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_sync_batch_duration_seconds",
			Help:    "Time spent fetching, transforming and storing one detail batch",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	BulkSyncStates = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bulk_sync_states",
			Help: "Number of users per bulk sync status",
		},
		[]string{"status"},
	)

	IngestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_runs_total",
			Help: "Total number of incremental ingest runs by outcome",
		},
		[]string{"outcome"},
	)

	IngestActivitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_activities_total",
			Help: "Activities handled by incremental ingest by result",
		},
		[]string{"result"},
	)

	RetransformedActivitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retransformed_activities_total",
			Help: "Activities re-derived from their raw archive, by result",
		},
		[]string{"result"},
	)
)
