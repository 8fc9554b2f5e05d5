package retransform

import (
	"context"
	"log/slog"

	"lifestream-ingest/internal/database"
	"lifestream-ingest/internal/metrics"
	"lifestream-ingest/internal/transform"
)

// BatchSize is the number of raw payloads loaded per query
const BatchSize = 100

// Result counts the outcome of a re-transformation pass
type Result struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Retransformer re-derives canonical activities from their raw archive, for
// use after the conversion rules change
type Retransformer struct {
	db     *database.DB
	logger *slog.Logger
}

// New creates a new Retransformer
func New(db *database.DB) *Retransformer {
	return &Retransformer{
		db:     db,
		logger: slog.Default(),
	}
}

// Run re-transforms every archived activity, or only those of athleteID when
// it is non-nil. Rows that fail to transform or store are counted and
// skipped; only a failure to read the archive aborts the pass.
func (r *Retransformer) Run(ctx context.Context, athleteID *int64) (*Result, error) {
	result := &Result{}

	r.logger.Info("Starting re-transformation", "athlete_id", athleteID)

	for offset := 0; ; offset += BatchSize {
		batch, err := r.db.ListRawActivities(ctx, athleteID, offset, BatchSize)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		for _, raw := range batch {
			if err := r.retransformOne(ctx, raw); err != nil {
				r.logger.Warn("Failed to re-transform activity", "activity_id", raw.ActivityID, "error", err)
				metrics.RetransformedActivitiesTotal.WithLabelValues(metrics.OutcomeError).Inc()
				result.Errors++
				continue
			}
			metrics.RetransformedActivitiesTotal.WithLabelValues(metrics.ResultStored).Inc()
			result.Processed++
		}

		r.logger.Info("Re-transformed batch", "offset", offset, "size", len(batch))

		if len(batch) < BatchSize {
			break
		}
	}

	r.logger.Info("Re-transformation complete", "processed", result.Processed, "errors", result.Errors)
	return result, nil
}

func (r *Retransformer) retransformOne(ctx context.Context, raw database.RawActivity) error {
	activity, _, err := transform.Transform(raw.RawJSON)
	if err != nil {
		return err
	}
	return r.db.UpsertActivity(ctx, activity)
}
