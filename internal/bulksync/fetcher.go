package bulksync

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"lifestream-ingest/internal/strava"
)

// DefaultConcurrency is the number of detail fetches in flight at once
const DefaultConcurrency = 5

// FetchFunc retrieves the full payload of one activity
type FetchFunc func(ctx context.Context, id int64) (json.RawMessage, error)

// Fetched is a successfully retrieved activity payload
type Fetched struct {
	ID      int64
	Payload json.RawMessage
}

// Failed is an activity whose fetch returned an error
type Failed struct {
	ID  int64
	Err error
}

// Fetcher retrieves a batch of activities with bounded concurrency
type Fetcher struct {
	concurrency int
	logger      *slog.Logger
}

// NewFetcher creates a fetcher running at most concurrency fetches at a time
func NewFetcher(concurrency int) *Fetcher {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Fetcher{
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// Fetch retrieves every id in ids. Failed fetches are logged and left out of
// the successes; both slices keep the order of ids.
func (f *Fetcher) Fetch(ctx context.Context, ids []int64, fetch FetchFunc) ([]Fetched, []Failed) {
	payloads := make([]json.RawMessage, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(f.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			payload, err := fetch(ctx, id)
			if err != nil {
				f.logger.Warn("Failed to fetch activity", "activity_id", id, "retryable", strava.IsTransient(err), "error", err)
				errs[i] = err
				return nil
			}
			payloads[i] = payload
			return nil
		})
	}
	// Individual failures never abort the batch, so Wait has nothing to report
	_ = g.Wait()

	var fetched []Fetched
	var failed []Failed
	for i, id := range ids {
		if errs[i] != nil {
			failed = append(failed, Failed{ID: id, Err: errs[i]})
			continue
		}
		fetched = append(fetched, Fetched{ID: id, Payload: payloads[i]})
	}

	return fetched, failed
}
