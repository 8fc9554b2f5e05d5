package bulksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"lifestream-ingest/internal/config"
	"lifestream-ingest/internal/database"
	"lifestream-ingest/internal/metrics"
	"lifestream-ingest/internal/strava"
	"lifestream-ingest/internal/transform"
)

// Store is the persistence the runner needs. *database.DB implements it.
type Store interface {
	GetOrCreateSyncState(ctx context.Context, userID string, now time.Time) (*database.SyncState, error)
	UpdateSyncState(ctx context.Context, userID string, upd database.SyncStateUpdate, now time.Time) error
	ClaimSyncState(ctx context.Context, userID string, now time.Time, lease time.Duration) (bool, error)
	ResetSyncState(ctx context.Context, userID string) error
	UpsertStagedSummaries(ctx context.Context, userID string, summaries []database.StagedSummary) error
	CountStagedSummaries(ctx context.Context, userID string) (int, error)
	ListUnprocessedActivityIDs(ctx context.Context, userID string) ([]int64, error)
	MarkActivitiesProcessed(ctx context.Context, userID string, ids []int64, now time.Time) (int, error)
	MarkActivitiesSkipped(ctx context.Context, userID string, skipped []database.SkippedActivity, now time.Time) (int, error)
	StoreActivity(ctx context.Context, a *transform.Activity, raw *transform.RawRecord) error
	ExistingActivityIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	GetUser(ctx context.Context, userID string) (*database.User, error)
	UpdateLastSyncAt(ctx context.Context, userID string, at time.Time) error
}

// Upstream is the activity API. *strava.Client implements it.
type Upstream interface {
	ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]strava.ActivitySummary, error)
	ListActivitiesAfter(ctx context.Context, accessToken string, after time.Time, page, perPage int) ([]strava.ActivitySummary, error)
	GetActivity(ctx context.Context, accessToken string, activityID int64) (json.RawMessage, error)
	Tracker() *strava.QuotaTracker
}

// TokenSource hands out access tokens. *oauth.Manager implements it.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
	ForceRefresh(ctx context.Context, userID string) (string, error)
}

// Options tunes a Runner
type Options struct {
	// DailyLimit is the configured daily request budget; the safety limit
	// still applies on top of it
	DailyLimit  int
	PageSize    int
	BatchSize   int
	Concurrency int
	BatchDelay  time.Duration
	PageDelay   time.Duration
	LeaseTTL    time.Duration
}

// OptionsFromConfig converts the bulk sync configuration
func OptionsFromConfig(cfg config.BulkSyncConfig) Options {
	return Options{
		DailyLimit:  cfg.DailyLimit,
		PageSize:    cfg.PageSize,
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		BatchDelay:  cfg.BatchDelay,
		PageDelay:   cfg.PageDelay,
		LeaseTTL:    cfg.LeaseTTL,
	}
}

// Result describes the outcome of one Resume call
type Result struct {
	RunID               string    `json:"runId,omitempty"`
	AlreadyComplete     bool      `json:"alreadyComplete"`
	AlreadyRunning      bool      `json:"alreadyRunning"`
	IsComplete          bool      `json:"isComplete"`
	Paused              bool      `json:"paused"`
	RequestsUsed        int       `json:"requestsUsed"`
	ActivitiesProcessed int       `json:"activitiesProcessed"`
	Progress            *Progress `json:"progress"`
}

// Runner drives the two-phase bulk sync of a user's activity history:
// summary discovery page by page, then detail fetches in batches, pausing
// whenever the daily request budget runs out.
type Runner struct {
	store    Store
	upstream Upstream
	tokens   TokenSource
	fetcher  *Fetcher
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	sleep    strava.SleepFunc
}

// NewRunner creates a runner. Zero options fall back to the defaults.
func NewRunner(store Store, upstream Upstream, tokens TokenSource, opts Options) *Runner {
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = config.SafetyDailyLimit
	}
	if opts.PageSize <= 0 || opts.PageSize > strava.MaxPageSize {
		opts.PageSize = strava.MaxPageSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Minute
	}

	return &Runner{
		store:    store,
		upstream: upstream,
		tokens:   tokens,
		fetcher:  NewFetcher(opts.Concurrency),
		opts:     opts,
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    strava.Sleep,
	}
}

// DailyLimit returns the effective daily request budget
func (r *Runner) DailyLimit() int {
	return min(r.opts.DailyLimit, config.SafetyDailyLimit)
}

// Resume continues the user's bulk sync from its persisted state until the
// work is done or the day's budget is exhausted.
func (r *Runner) Resume(ctx context.Context, userID string) (*Result, error) {
	now := r.now()

	state, err := r.store.GetOrCreateSyncState(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	if state.Phase == database.PhaseComplete || state.Status == database.StatusComplete {
		metrics.BulkSyncRunsTotal.WithLabelValues(metrics.OutcomeAlreadyComplete).Inc()
		return &Result{AlreadyComplete: true, IsComplete: true, Progress: r.progress(state, now)}, nil
	}

	claimed, err := r.store.ClaimSyncState(ctx, userID, now, r.opts.LeaseTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		metrics.BulkSyncRunsTotal.WithLabelValues(metrics.OutcomeAlreadyRunning).Inc()
		return &Result{AlreadyRunning: true, Progress: r.progress(state, now)}, nil
	}

	state.Status = database.StatusRunning

	// Retries spend quota too, so the counter itself refuses calls past the
	// day's remaining budget
	used := state.RequestsUsedToday
	if state.LastResetDate != now.UTC().Format(database.DateLayout) {
		used = 0
	}

	rn := &run{
		Runner:  r,
		userID:  userID,
		runID:   ulid.Make().String(),
		state:   state,
		counter: strava.NewRequestCounter(r.DailyLimit() - used),
	}
	rn.logger = r.logger.With("user_id", userID, "run_id", rn.runID)
	rn.logger.Info("Resuming bulk sync",
		"phase", state.Phase,
		"status", state.Status,
		"processed", state.ProcessedActivities,
		"skipped", state.SkippedActivities,
		"total", state.TotalActivities,
	)

	return rn.execute(strava.WithRequestCounter(ctx, rn.counter))
}

// Status returns the user's progress report, creating a pending state on
// first touch
func (r *Runner) Status(ctx context.Context, userID string) (*Progress, error) {
	now := r.now()
	state, err := r.store.GetOrCreateSyncState(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return r.progress(state, now), nil
}

// Reset forgets all bulk sync progress for the user. Stored activities are kept.
func (r *Runner) Reset(ctx context.Context, userID string) error {
	if err := r.store.ResetSyncState(ctx, userID); err != nil {
		return err
	}
	r.logger.Info("Reset bulk sync", "user_id", userID)
	return nil
}

// run is the mutable context of one Resume invocation
type run struct {
	*Runner
	userID  string
	runID   string
	state   *database.SyncState
	counter *strava.RequestCounter
	logger  *slog.Logger

	// requests already added to state.RequestsUsedToday
	accounted int
	processed int

	session *session
}

func (rn *run) execute(ctx context.Context) (*Result, error) {
	now := rn.now()
	today := now.UTC().Format(database.DateLayout)
	if rn.state.LastResetDate != today {
		rn.logger.Info("New day, resetting request counter", "last_reset_date", rn.state.LastResetDate)
		rn.state.RequestsUsedToday = 0
		rn.state.LastResetDate = today
		zero := 0
		err := rn.store.UpdateSyncState(ctx, rn.userID, database.SyncStateUpdate{
			RequestsUsedToday: &zero,
			LastResetDate:     &today,
		}, now)
		if err != nil {
			return rn.fail(ctx, err)
		}
	}

	token, err := rn.tokens.AccessToken(ctx, rn.userID)
	if err != nil {
		return rn.fail(ctx, fmt.Errorf("failed to get access token: %w", err))
	}
	rn.session = &session{tokens: rn.tokens, userID: rn.userID, token: token}

	if rn.state.Phase == database.PhaseSummaryFetch {
		paused, err := rn.summaryPhase(ctx)
		if err != nil {
			return rn.fail(ctx, err)
		}
		if paused {
			return rn.pause(ctx)
		}
	}

	if rn.state.Phase != database.PhaseDetailFetch {
		return rn.fail(ctx, fmt.Errorf("unknown phase: %s", rn.state.Phase))
	}

	paused, err := rn.detailPhase(ctx)
	if err != nil {
		return rn.fail(ctx, err)
	}
	if paused {
		return rn.pause(ctx)
	}
	return rn.complete(ctx)
}

// summaryPhase stages activity summaries page by page. It reports paused
// when the budget runs out before the listing is exhausted.
func (rn *run) summaryPhase(ctx context.Context) (bool, error) {
	for {
		if rn.available() < 1 {
			rn.logger.Info("Daily request budget exhausted during summary fetch", "page", rn.state.CurrentPage)
			return true, nil
		}

		page := rn.state.CurrentPage
		var summaries []strava.ActivitySummary
		err := rn.session.call(ctx, func(token string) error {
			var err error
			summaries, err = rn.upstream.ListActivities(ctx, token, page, rn.opts.PageSize)
			return err
		})
		rn.account(metrics.PhaseSummaryFetch)
		if errors.Is(err, strava.ErrBudgetExhausted) {
			rn.logger.Info("Daily request budget exhausted during summary fetch", "page", page)
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to fetch summaries page %d: %w", page, err)
		}

		if len(summaries) > 0 {
			staged := make([]database.StagedSummary, len(summaries))
			for i, s := range summaries {
				staged[i] = database.StagedSummary{ActivityID: s.ID, Payload: s.Raw}
			}
			if err := rn.store.UpsertStagedSummaries(ctx, rn.userID, staged); err != nil {
				return false, err
			}
			metrics.BulkSyncSummariesStaged.Add(float64(len(staged)))
		}

		total, err := rn.store.CountStagedSummaries(ctx, rn.userID)
		if err != nil {
			return false, err
		}

		rn.state.CurrentPage = page + 1
		rn.state.ProcessedSummaries += len(summaries)
		rn.state.TotalActivities = total

		lastPage := len(summaries) < rn.opts.PageSize
		if lastPage {
			rn.state.Phase = database.PhaseDetailFetch
		}

		now := rn.now()
		lease := now.Add(rn.opts.LeaseTTL)
		err = rn.store.UpdateSyncState(ctx, rn.userID, database.SyncStateUpdate{
			Phase:              &rn.state.Phase,
			CurrentPage:        &rn.state.CurrentPage,
			ProcessedSummaries: &rn.state.ProcessedSummaries,
			TotalActivities:    &rn.state.TotalActivities,
			RequestsUsedToday:  &rn.state.RequestsUsedToday,
			LeaseExpiresAt:     &lease,
		}, now)
		if err != nil {
			return false, err
		}

		rn.logger.Info("Staged summaries page",
			"page", page,
			"count", len(summaries),
			"total", total,
			"requests_used_today", rn.state.RequestsUsedToday,
		)

		if lastPage {
			rn.logger.Info("Summary fetch complete", "total", total)
			return false, nil
		}

		if err := rn.sleep(ctx, rn.opts.PageDelay); err != nil {
			return false, err
		}
	}
}

// detailPhase fetches, transforms and stores every staged activity not yet
// processed. It reports paused when work remains after the pass.
func (rn *run) detailPhase(ctx context.Context) (bool, error) {
	remaining, err := rn.store.ListUnprocessedActivityIDs(ctx, rn.userID)
	if err != nil {
		return false, err
	}
	rn.logger.Info("Starting detail fetch", "remaining", len(remaining), "total", rn.state.TotalActivities)

	for len(remaining) > 0 {
		available := rn.available()
		if available < 1 {
			rn.logger.Info("Daily request budget exhausted during detail fetch",
				"remaining", len(remaining),
				"processed", rn.state.ProcessedActivities,
			)
			return true, nil
		}

		n := min(rn.opts.BatchSize, available, len(remaining))
		batch := remaining[:n]
		remaining = remaining[n:]

		if err := rn.processBatch(ctx, batch); err != nil {
			return false, err
		}

		if len(remaining) > 0 && rn.available() > 0 {
			if err := rn.sleep(ctx, rn.opts.BatchDelay); err != nil {
				return false, err
			}
		}
	}

	// Fetches that failed transiently in this pass are retried by the next
	// resume; skipped activities are settled
	return rn.state.ProcessedActivities+rn.state.SkippedActivities < rn.state.TotalActivities, nil
}

func (rn *run) processBatch(ctx context.Context, batch []int64) error {
	timer := prometheus.NewTimer(metrics.BulkSyncBatchDuration)
	defer timer.ObserveDuration()

	fetched, failed := rn.fetcher.Fetch(ctx, batch, func(ctx context.Context, id int64) (json.RawMessage, error) {
		var payload json.RawMessage
		err := rn.session.call(ctx, func(token string) error {
			var err error
			payload, err = rn.upstream.GetActivity(ctx, token, id)
			return err
		})
		return payload, err
	})
	rn.account(metrics.PhaseDetailFetch)

	var skipped []database.SkippedActivity
	for _, f := range failed {
		if strava.IsNotFound(f.Err) {
			// Deleted or made private upstream
			rn.logger.Warn("Activity no longer available upstream, skipping", "activity_id", f.ID)
			skipped = append(skipped, database.SkippedActivity{ActivityID: f.ID, Reason: database.SkipNotFound})
		}
	}
	metrics.BulkSyncActivitiesTotal.WithLabelValues(metrics.ResultFetchFailed).Add(float64(len(failed) - len(skipped)))

	// A cancelled context surfaces as fetch failures; stop here rather than
	// record a batch that was never really attempted
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]int64, 0, len(fetched))
	for _, item := range fetched {
		activity, raw, err := transform.Transform(item.Payload)
		if err != nil {
			metrics.BulkSyncActivitiesTotal.WithLabelValues(metrics.ResultTransformFailed).Inc()
			if errors.Is(err, transform.ErrInvalidPayload) {
				// Refetching returns the same payload
				rn.logger.Warn("Invalid activity payload, skipping", "activity_id", item.ID, "error", err)
				skipped = append(skipped, database.SkippedActivity{ActivityID: item.ID, Reason: database.SkipInvalidPayload})
				continue
			}
			rn.logger.Warn("Failed to transform activity", "activity_id", item.ID, "error", err)
			continue
		}
		if err := rn.store.StoreActivity(ctx, activity, raw); err != nil {
			return err
		}
		stored = append(stored, item.ID)
	}
	metrics.BulkSyncActivitiesTotal.WithLabelValues(metrics.ResultStored).Add(float64(len(stored)))

	now := rn.now()
	if len(stored) > 0 {
		count, err := rn.store.MarkActivitiesProcessed(ctx, rn.userID, stored, now)
		if err != nil {
			return err
		}
		rn.state.ProcessedActivities = count
		rn.processed += len(stored)
	}
	if len(skipped) > 0 {
		count, err := rn.store.MarkActivitiesSkipped(ctx, rn.userID, skipped, now)
		if err != nil {
			return err
		}
		rn.state.SkippedActivities = count
		metrics.BulkSyncActivitiesTotal.WithLabelValues(metrics.ResultSkipped).Add(float64(len(skipped)))
	}

	lease := now.Add(rn.opts.LeaseTTL)
	err := rn.store.UpdateSyncState(ctx, rn.userID, database.SyncStateUpdate{
		RequestsUsedToday: &rn.state.RequestsUsedToday,
		LeaseExpiresAt:    &lease,
	}, now)
	if err != nil {
		return err
	}

	rn.logger.Info("Processed detail batch",
		"batch_size", len(batch),
		"stored", len(stored),
		"failed", len(failed),
		"skipped", len(skipped),
		"processed", rn.state.ProcessedActivities,
		"total", rn.state.TotalActivities,
		"requests_used_today", rn.state.RequestsUsedToday,
	)
	return nil
}

// available is the number of requests the run may still spend today
func (rn *run) available() int {
	budget := rn.DailyLimit() - rn.state.RequestsUsedToday
	tracker := rn.upstream.Tracker()
	tracker.RolloverIfDue(rn.now())
	return max(0, min(budget, tracker.RemainingDaily()))
}

// account adds requests made since the last call to the day's counter
func (rn *run) account(phase string) {
	used := rn.counter.Load() - rn.accounted
	rn.accounted += used
	rn.state.RequestsUsedToday += used
	metrics.BulkSyncRequestsTotal.WithLabelValues(phase).Add(float64(used))
}

func (rn *run) pause(ctx context.Context) (*Result, error) {
	now := rn.now()
	status := database.StatusPaused
	err := rn.store.UpdateSyncState(ctx, rn.userID, database.SyncStateUpdate{
		Status:            &status,
		RequestsUsedToday: &rn.state.RequestsUsedToday,
		ClearError:        true,
		ClearLease:        true,
	}, now)
	if err != nil {
		return rn.fail(ctx, err)
	}
	rn.state.Status = status
	rn.state.ErrorMessage = nil

	metrics.BulkSyncRunsTotal.WithLabelValues(metrics.OutcomePaused).Inc()
	rn.logger.Info("Bulk sync paused",
		"phase", rn.state.Phase,
		"processed", rn.state.ProcessedActivities,
		"total", rn.state.TotalActivities,
		"requests_used", rn.counter.Load(),
	)

	result := rn.result()
	result.Paused = true
	return result, nil
}

func (rn *run) complete(ctx context.Context) (*Result, error) {
	now := rn.now()
	phase := database.PhaseComplete
	status := database.StatusComplete
	err := rn.store.UpdateSyncState(ctx, rn.userID, database.SyncStateUpdate{
		Phase:             &phase,
		Status:            &status,
		RequestsUsedToday: &rn.state.RequestsUsedToday,
		CompletedAt:       &now,
		ClearError:        true,
		ClearLease:        true,
	}, now)
	if err != nil {
		return rn.fail(ctx, err)
	}
	rn.state.Phase = phase
	rn.state.Status = status
	rn.state.CompletedAt = &now
	rn.state.ErrorMessage = nil

	metrics.BulkSyncRunsTotal.WithLabelValues(metrics.OutcomeComplete).Inc()
	rn.logger.Info("Bulk sync complete",
		"processed", rn.state.ProcessedActivities,
		"skipped", rn.state.SkippedActivities,
		"requests_used", rn.counter.Load(),
	)

	result := rn.result()
	result.IsComplete = true
	return result, nil
}

// fail records err on the state and returns it. Counters and phase are kept
// so the next resume continues where this one stopped. A cancelled context
// pauses instead.
func (rn *run) fail(ctx context.Context, cause error) (*Result, error) {
	rn.account(rn.state.Phase)
	now := rn.now()

	// The caller's context may be the reason we are here
	writeCtx := context.WithoutCancel(ctx)

	upd := database.SyncStateUpdate{
		RequestsUsedToday: &rn.state.RequestsUsedToday,
		ClearLease:        true,
	}
	cancelled := ctx.Err() != nil || errors.Is(cause, context.Canceled)
	if cancelled {
		status := database.StatusPaused
		upd.Status = &status
		rn.state.Status = status
	} else {
		status := database.StatusError
		msg := cause.Error()
		upd.Status = &status
		upd.ErrorMessage = &msg
		rn.state.Status = status
		rn.state.ErrorMessage = &msg
	}

	if err := rn.store.UpdateSyncState(writeCtx, rn.userID, upd, now); err != nil {
		rn.logger.Error("Failed to record bulk sync failure", "error", err, "cause", cause)
	}

	if cancelled {
		metrics.BulkSyncRunsTotal.WithLabelValues(metrics.OutcomePaused).Inc()
		rn.logger.Warn("Bulk sync interrupted", "error", cause)
		result := rn.result()
		result.Paused = true
		return result, cause
	}

	metrics.BulkSyncRunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
	rn.logger.Error("Bulk sync failed", "phase", rn.state.Phase, "error", cause)
	return rn.result(), fmt.Errorf("bulk sync for user %s failed: %w", rn.userID, cause)
}

func (rn *run) result() *Result {
	return &Result{
		RunID:               rn.runID,
		RequestsUsed:        rn.counter.Load(),
		ActivitiesProcessed: rn.processed,
		Progress:            rn.progress(rn.state, rn.now()),
	}
}

// session holds the access token of one run. A 401 triggers a single forced
// refresh per run; callers racing on the same stale token share it.
type session struct {
	tokens TokenSource
	userID string

	mu        sync.Mutex
	token     string
	refreshed bool
}

func (s *session) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *session) call(ctx context.Context, fn func(token string) error) error {
	token := s.current()
	err := fn(token)
	if !strava.IsUnauthorized(err) {
		return err
	}

	token, refreshErr := s.refresh(ctx, token)
	if refreshErr != nil {
		return fmt.Errorf("%w (refresh failed: %v)", err, refreshErr)
	}
	return fn(token)
}

func (s *session) refresh(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != stale {
		return s.token, nil
	}
	if s.refreshed {
		return "", errors.New("token already refreshed during this run")
	}

	token, err := s.tokens.ForceRefresh(ctx, s.userID)
	s.refreshed = true
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

// Progress is the externally visible report of a user's bulk sync
type Progress struct {
	UserID     string         `json:"userId"`
	Status     string         `json:"status"`
	Phase      string         `json:"phase"`
	Progress   ProgressCounts `json:"progress"`
	RateLimits ProgressLimits `json:"rateLimits"`
	Timing     ProgressTiming `json:"timing"`
	Error      *string        `json:"error"`
}

// ProgressCounts are the discovery and processing counters
type ProgressCounts struct {
	TotalActivities     int `json:"totalActivities"`
	ProcessedActivities int `json:"processedActivities"`
	SkippedActivities   int `json:"skippedActivities"`
	ProcessedSummaries  int `json:"processedSummaries"`
	CurrentPage         int `json:"currentPage"`
	Percentage          int `json:"percentage"`
}

// ProgressLimits is the day's request budget
type ProgressLimits struct {
	RequestsUsedToday int `json:"requestsUsedToday"`
	RemainingToday    int `json:"remainingToday"`
	DailyLimit        int `json:"dailyLimit"`
}

// ProgressTiming holds the run's timestamps
type ProgressTiming struct {
	StartDate      time.Time  `json:"startDate"`
	LastUpdate     time.Time  `json:"lastUpdate"`
	CompletedAt    *time.Time `json:"completedAt"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
}

// HoldsLease reports whether a run is live at now. A running status without
// an unexpired lease belongs to a crashed run and may be taken over.
func (p *Progress) HoldsLease(now time.Time) bool {
	if p.Status != database.StatusRunning || p.Timing.LeaseExpiresAt == nil {
		return false
	}
	return !p.Timing.LeaseExpiresAt.Before(now)
}

func (r *Runner) progress(state *database.SyncState, now time.Time) *Progress {
	limit := r.DailyLimit()
	remaining := limit
	if state.LastResetDate == now.UTC().Format(database.DateLayout) {
		remaining = max(0, limit-state.RequestsUsedToday)
	}

	// Skipped activities are settled, so a complete sync reads 100
	percentage := 0
	if state.TotalActivities > 0 {
		settled := state.ProcessedActivities + state.SkippedActivities
		percentage = int(math.Round(float64(settled) / float64(state.TotalActivities) * 100))
	}

	return &Progress{
		UserID: state.UserID,
		Status: state.Status,
		Phase:  state.Phase,
		Progress: ProgressCounts{
			TotalActivities:     state.TotalActivities,
			ProcessedActivities: state.ProcessedActivities,
			SkippedActivities:   state.SkippedActivities,
			ProcessedSummaries:  state.ProcessedSummaries,
			CurrentPage:         state.CurrentPage,
			Percentage:          percentage,
		},
		RateLimits: ProgressLimits{
			RequestsUsedToday: state.RequestsUsedToday,
			RemainingToday:    remaining,
			DailyLimit:        limit,
		},
		Timing: ProgressTiming{
			StartDate:      state.StartDate,
			LastUpdate:     state.UpdatedAt,
			CompletedAt:    state.CompletedAt,
			LeaseExpiresAt: state.LeaseExpiresAt,
		},
		Error: state.ErrorMessage,
	}
}
