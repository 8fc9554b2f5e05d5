package bulksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"lifestream-ingest/internal/metrics"
	"lifestream-ingest/internal/strava"
	"lifestream-ingest/internal/transform"
)

// IngestOverlap is how far before the last ingest the next one starts
// listing, so late uploads and edits are picked up
const IngestOverlap = 7 * 24 * time.Hour

// ErrUnknownUser is returned when ingesting for a user that is not registered
var ErrUnknownUser = errors.New("unknown user")

// IngestResult describes one incremental ingest
type IngestResult struct {
	RunID        string     `json:"runId"`
	Since        *time.Time `json:"since"`
	Listed       int        `json:"listed"`
	Added        int        `json:"added"`
	Updated      int        `json:"updated"`
	Skipped      int        `json:"skipped"`
	Failed       int        `json:"failed"`
	RequestsUsed int        `json:"requestsUsed"`
	Complete     bool       `json:"complete"`
	LastSyncAt   *time.Time `json:"lastSyncAt"`
}

// Ingest stores the user's activities that started after their last
// complete ingest, less IngestOverlap. A user never ingested gets the most
// recent page only; older history is the bulk sync's job.
//
// The last sync time advances only when every listed activity was stored or
// skipped, so failures are retried by the next ingest.
func (r *Runner) Ingest(ctx context.Context, userID string) (*IngestResult, error) {
	now := r.now()

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	result := &IngestResult{RunID: ulid.Make().String(), LastSyncAt: user.LastSyncAt}
	var after time.Time
	if user.LastSyncAt != nil {
		after = user.LastSyncAt.Add(-IngestOverlap)
		result.Since = &after
	}

	logger := r.logger.With("user_id", userID, "run_id", result.RunID)
	logger.Info("Starting incremental ingest", "since", result.Since)

	tracker := r.upstream.Tracker()
	tracker.RolloverIfDue(now)
	counter := strava.NewRequestCounter(min(r.DailyLimit(), tracker.RemainingDaily()))
	ctx = strava.WithRequestCounter(ctx, counter)
	defer func() {
		metrics.BulkSyncRequestsTotal.WithLabelValues(metrics.PhaseIngest).Add(float64(counter.Load()))
	}()

	token, err := r.tokens.AccessToken(ctx, userID)
	if err != nil {
		metrics.IngestRunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	sess := &session{tokens: r.tokens, userID: userID, token: token}

	ids, listed, err := r.listSince(ctx, sess, after)
	result.RequestsUsed = counter.Load()
	if err != nil {
		metrics.IngestRunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		logger.Error("Incremental ingest failed", "error", err)
		return result, err
	}
	result.Listed = len(ids)

	if len(ids) > 0 {
		if err := r.ingestDetails(ctx, sess, ids, result); err != nil {
			result.RequestsUsed = counter.Load()
			metrics.IngestRunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			logger.Error("Incremental ingest failed", "error", err)
			return result, err
		}
	}
	result.RequestsUsed = counter.Load()

	result.Complete = listed && result.Failed == 0
	if !result.Complete {
		metrics.IngestRunsTotal.WithLabelValues(metrics.OutcomePaused).Inc()
		logger.Warn("Incremental ingest incomplete, last sync time kept",
			"listed", result.Listed,
			"failed", result.Failed,
			"requests_used", result.RequestsUsed,
		)
		return result, nil
	}

	if err := r.store.UpdateLastSyncAt(ctx, userID, now); err != nil {
		metrics.IngestRunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return result, err
	}
	result.LastSyncAt = &now

	metrics.IngestRunsTotal.WithLabelValues(metrics.OutcomeComplete).Inc()
	logger.Info("Incremental ingest complete",
		"listed", result.Listed,
		"added", result.Added,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"requests_used", result.RequestsUsed,
	)
	return result, nil
}

// listSince collects the IDs of activities that started after the given
// time. It reports false when the budget ran out before the listing ended.
func (r *Runner) listSince(ctx context.Context, sess *session, after time.Time) ([]int64, bool, error) {
	var ids []int64
	for page := 1; ; page++ {
		var summaries []strava.ActivitySummary
		err := sess.call(ctx, func(token string) error {
			var err error
			summaries, err = r.upstream.ListActivitiesAfter(ctx, token, after, page, r.opts.PageSize)
			return err
		})
		if errors.Is(err, strava.ErrBudgetExhausted) {
			return ids, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to list activities page %d: %w", page, err)
		}

		for _, s := range summaries {
			ids = append(ids, s.ID)
		}

		if len(summaries) < r.opts.PageSize || after.IsZero() {
			return ids, true, nil
		}
		if err := r.sleep(ctx, r.opts.PageDelay); err != nil {
			return nil, false, err
		}
	}
}

func (r *Runner) ingestDetails(ctx context.Context, sess *session, ids []int64, result *IngestResult) error {
	existing, err := r.store.ExistingActivityIDs(ctx, ids)
	if err != nil {
		return err
	}

	fetched, failed := r.fetcher.Fetch(ctx, ids, func(ctx context.Context, id int64) (json.RawMessage, error) {
		var payload json.RawMessage
		err := sess.call(ctx, func(token string) error {
			var err error
			payload, err = r.upstream.GetActivity(ctx, token, id)
			return err
		})
		return payload, err
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, f := range failed {
		if strava.IsNotFound(f.Err) {
			result.Skipped++
			continue
		}
		result.Failed++
	}
	metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultFetchFailed).Add(float64(result.Failed))

	for _, item := range fetched {
		activity, raw, err := transform.Transform(item.Payload)
		if err != nil {
			r.logger.Warn("Invalid activity payload, skipping", "activity_id", item.ID, "error", err)
			metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultTransformFailed).Inc()
			result.Skipped++
			continue
		}
		if err := r.store.StoreActivity(ctx, activity, raw); err != nil {
			return err
		}
		if existing[item.ID] {
			result.Updated++
		} else {
			result.Added++
		}
	}
	metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultStored).Add(float64(result.Added + result.Updated))
	metrics.IngestActivitiesTotal.WithLabelValues(metrics.ResultSkipped).Add(float64(result.Skipped))

	return nil
}
