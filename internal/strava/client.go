package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"lifestream-ingest/internal/metrics"
)

const (
	defaultBaseURL  = "https://www.strava.com/api/v3"
	defaultTokenURL = "https://www.strava.com/oauth/token"
)

var (
	// ErrUnauthorized is returned when Strava rejects the access token
	ErrUnauthorized = errors.New("strava: unauthorized")
	// ErrNotFound is returned for unknown activities
	ErrNotFound = errors.New("strava: not found")
	// ErrRateLimited is returned when a request is rejected twice with 429
	ErrRateLimited = errors.New("strava: rate limited")
	// ErrTransient marks network faults and server errors
	ErrTransient = errors.New("strava: transient failure")
	// ErrBudgetExhausted is returned, without calling Strava, once the
	// context's RequestCounter has reached its limit
	ErrBudgetExhausted = errors.New("strava: request budget exhausted")
)

// HTTPError is a non-2xx response from Strava
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("strava returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps the status code to the matching sentinel error
func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrTransient
	}
	return nil
}

// IsNotFound reports whether err is a 404 from Strava
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized reports whether err is a 401 from Strava
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTransient reports whether a later retry of the same call may succeed
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// CallRecord describes one upstream call for the telemetry sink
type CallRecord struct {
	Endpoint    string
	StatusCode  int
	Windows     []Window
	Utilization float64
	Delay       time.Duration
	RateLimited bool
	RetryAfter  time.Duration
	At          time.Time
}

// Telemetry receives a record of every upstream call. It is observability
// only; errors are logged and otherwise ignored.
type Telemetry interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

// RequestCounter counts quota-consuming calls made under a context. The
// zero value is unbounded.
type RequestCounter struct {
	n       atomic.Int64
	limit   int64
	bounded bool
}

// NewRequestCounter returns a counter that refuses calls once limit calls
// have been made
func NewRequestCounter(limit int) *RequestCounter {
	return &RequestCounter{limit: int64(max(limit, 0)), bounded: true}
}

// Load returns the number of calls counted so far
func (c *RequestCounter) Load() int {
	return int(c.n.Load())
}

func (c *RequestCounter) reserve() bool {
	for {
		n := c.n.Load()
		if c.bounded && n >= c.limit {
			return false
		}
		if c.n.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

type counterKey struct{}

// WithRequestCounter returns a context whose API calls are counted by c
func WithRequestCounter(ctx context.Context, c *RequestCounter) context.Context {
	return context.WithValue(ctx, counterKey{}, c)
}

// reserveRequest counts one call against the context's counter. It reports
// false when the counter's limit has been reached.
func reserveRequest(ctx context.Context) bool {
	if c, ok := ctx.Value(counterKey{}).(*RequestCounter); ok {
		return c.reserve()
	}
	return true
}

// Client is a Strava API client. Every API call passes through the adaptive
// throttle and feeds the quota tracker.
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	baseURL      string
	tokenURL     string
	tracker      *QuotaTracker
	throttle     *Throttle
	telemetry    Telemetry
	logger       *slog.Logger
	now          func() time.Time
}

// NewClient creates a new Strava API client
func NewClient(clientID, clientSecret string, tracker *QuotaTracker) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
		tracker:      tracker,
		throttle:     NewThrottle(tracker),
		logger:       slog.Default(),
		now:          time.Now,
	}
}

// SetBaseURL sets the API base URL (for testing)
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// SetTokenURL sets the token endpoint URL (for testing)
func (c *Client) SetTokenURL(url string) {
	c.tokenURL = url
}

// SetSleep replaces the function used for throttle and retry waits
func (c *Client) SetSleep(sleep SleepFunc) {
	c.throttle.sleep = sleep
}

// SetTelemetry attaches a telemetry sink
func (c *Client) SetTelemetry(t Telemetry) {
	c.telemetry = t
}

// Tracker returns the quota tracker fed by this client
func (c *Client) Tracker() *QuotaTracker {
	return c.tracker
}

// TokenResponse represents the response from a token refresh
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int    `json:"expires_in"`
}

// RefreshToken exchanges a refresh token for a new token set. The token
// endpoint is outside the API quota and is not throttled.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observe(metrics.OpRefreshToken, start, 0)
		c.logger.Error("token refresh failed", "error", err)
		return nil, fmt.Errorf("%w: token refresh: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	observe(metrics.OpRefreshToken, start, resp.StatusCode)

	c.logger.Info("token_refresh", "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token refresh failed: %w", &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)})
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &tokenResp, nil
}

// doRequest performs an authenticated GET against the API. A 429 is waited
// out using the server's hint and retried exactly once.
func (c *Client) doRequest(ctx context.Context, op, path, accessToken string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		delay, err := c.throttle.Wait(ctx)
		if err != nil {
			return nil, err
		}

		if !reserveRequest(ctx) {
			c.logger.Debug("request budget exhausted", "path", path, "attempt", attempt)
			return nil, ErrBudgetExhausted
		}

		status, header, body, err := c.send(ctx, op, path, accessToken)
		if err != nil {
			c.logger.Error("request failed", "path", path, "error", err, "attempt", attempt)
			return nil, fmt.Errorf("%w: %s: %v", ErrTransient, path, err)
		}

		if meta, ok := ParseMetadata(header); ok {
			c.tracker.Record(meta, c.now())
		}

		rec := CallRecord{
			Endpoint:    path,
			StatusCode:  status,
			Windows:     c.tracker.Snapshot(),
			Utilization: c.tracker.Utilization(),
			Delay:       delay,
			At:          c.now(),
		}

		if status == http.StatusTooManyRequests {
			rec.RateLimited = true
			rec.RetryAfter = RetryAfter(header)
		}
		c.record(ctx, rec)

		c.logger.Debug("strava_api_request",
			"path", path,
			"status", status,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"utilization_pct", rec.Utilization,
		)

		switch {
		case status == http.StatusOK:
			return body, nil
		case status == http.StatusTooManyRequests && attempt == 0:
			metrics.StravaRateLimitedTotal.WithLabelValues("true").Inc()
			c.logger.Warn("rate limited, retrying once", "path", path, "retry_after_ms", rec.RetryAfter.Milliseconds())
			if err := c.throttle.Backoff(ctx, rec.RetryAfter); err != nil {
				return nil, err
			}
			continue
		case status == http.StatusTooManyRequests:
			metrics.StravaRateLimitedTotal.WithLabelValues("false").Inc()
			return nil, &HTTPError{StatusCode: status, Body: string(body)}
		default:
			return nil, &HTTPError{StatusCode: status, Body: string(body)}
		}
	}
}

func (c *Client) send(ctx context.Context, op, path, accessToken string) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observe(op, start, 0)
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	observe(op, start, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read body: %w", err)
	}

	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) record(ctx context.Context, rec CallRecord) {
	if c.telemetry == nil {
		return
	}
	if err := c.telemetry.RecordCall(ctx, rec); err != nil {
		c.logger.Warn("failed to record rate limit telemetry", "endpoint", rec.Endpoint, "error", err)
	}
}

func observe(op string, start time.Time, status int) {
	label := statusLabel(status)
	metrics.StravaAPIRequestsTotal.WithLabelValues(op, label).Inc()
	metrics.StravaAPIRequestDuration.WithLabelValues(op, label).Observe(time.Since(start).Seconds())
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
