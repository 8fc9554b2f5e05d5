package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"lifestream-ingest/internal/metrics"
)

// MaxPageSize is the largest page Strava serves for activity listings
const MaxPageSize = 200

// ActivitySummary is one entry of an activity listing. Raw holds the
// summary exactly as Strava returned it.
type ActivitySummary struct {
	ID  int64
	Raw json.RawMessage
}

// GetActivity fetches the full activity payload, including all segment
// efforts.
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (json.RawMessage, error) {
	path := fmt.Sprintf("/activities/%d?include_all_efforts=true", activityID)

	respBody, err := c.doRequest(ctx, metrics.OpGetActivity, path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %d: %w", activityID, err)
	}

	return json.RawMessage(respBody), nil
}

// ListActivities fetches one page of the athlete's activity summaries
func (c *Client) ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]ActivitySummary, error) {
	return c.listActivities(ctx, accessToken, time.Time{}, page, perPage)
}

// ListActivitiesAfter fetches one page of the summaries of activities that
// started after the given time
func (c *Client) ListActivitiesAfter(ctx context.Context, accessToken string, after time.Time, page, perPage int) ([]ActivitySummary, error) {
	return c.listActivities(ctx, accessToken, after, page, perPage)
}

func (c *Client) listActivities(ctx context.Context, accessToken string, after time.Time, page, perPage int) ([]ActivitySummary, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPageSize {
		perPage = MaxPageSize
	}

	params := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.Unix(), 10))
	}

	path := "/athlete/activities?" + params.Encode()

	respBody, err := c.doRequest(ctx, metrics.OpListActivities, path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities page %d: %w", page, err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(respBody, &raws); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activities: %w", err)
	}

	summaries := make([]ActivitySummary, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity summary: %w", err)
		}
		summaries = append(summaries, ActivitySummary{ID: head.ID, Raw: raw})
	}

	return summaries, nil
}
