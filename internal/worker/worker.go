package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"lifestream-ingest/internal/bulksync"
	"lifestream-ingest/internal/database"
	"lifestream-ingest/internal/metrics"
)

// Resumer continues one user's bulk sync. *bulksync.Runner implements it.
type Resumer interface {
	Resume(ctx context.Context, userID string) (*bulksync.Result, error)
}

// Worker periodically resumes every bulk sync that is pending, paused or
// abandoned by a crashed process
type Worker struct {
	db           *database.DB
	runner       Resumer
	logger       *slog.Logger
	pollInterval time.Duration
	concurrency  int
	now          func() time.Time
}

// NewWorker creates a new background resumer
func NewWorker(db *database.DB, runner Resumer, pollInterval time.Duration, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		db:           db,
		runner:       runner,
		logger:       slog.Default(),
		pollInterval: pollInterval,
		concurrency:  concurrency,
		now:          time.Now,
	}
}

// Start polls until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting bulk sync resumer", "interval", w.pollInterval, "concurrency", w.concurrency)
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Failed to list resumable users", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Stopping bulk sync resumer")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce resumes every resumable user, several users at a time, and
// returns how many were attempted. Per-user failures are logged; they are
// already recorded on the user's sync state.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	users, err := w.db.ListResumableUsers(ctx, w.now())
	if err != nil {
		return 0, err
	}

	if len(users) == 0 {
		metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeIdle).Inc()
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(w.concurrency)

	for _, userID := range users {
		g.Go(func() error {
			result, err := w.runner.Resume(ctx, userID)
			if err != nil {
				metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
				w.logger.Error("Background resume failed", "user_id", userID, "error", err)
				return nil
			}

			metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeResumed).Inc()
			w.logger.Info("Background resume finished",
				"user_id", userID,
				"complete", result.IsComplete,
				"paused", result.Paused,
				"already_running", result.AlreadyRunning,
				"requests_used", result.RequestsUsed,
				"activities_processed", result.ActivitiesProcessed,
			)
			return nil
		})
	}
	_ = g.Wait()

	return len(users), nil
}
