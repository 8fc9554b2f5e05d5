package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lifestream-ingest/internal/database"
	"lifestream-ingest/internal/strava"
)

// ErrUnknownUser is returned when tokens are requested for a user that was
// never registered
var ErrUnknownUser = errors.New("unknown user")

// Manager hands out valid Strava access tokens, refreshing and persisting
// them when they expire
type Manager struct {
	db           *database.DB
	stravaClient *strava.Client
	logger       *slog.Logger
	now          func() time.Time

	// Serializes refreshes so concurrent callers don't burn the same
	// refresh token twice
	mu sync.Mutex
}

// NewManager creates a new token manager
func NewManager(db *database.DB, stravaClient *strava.Client) *Manager {
	return &Manager{
		db:           db,
		stravaClient: stravaClient,
		logger:       slog.Default(),
		now:          time.Now,
	}
}

// IsExpired reports whether a token expiring at expiresAt (unix seconds) is
// no longer usable
func (m *Manager) IsExpired(expiresAt int64) bool {
	return m.now().Unix() >= expiresAt
}

// Refresh exchanges a refresh token for a new token set
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*strava.TokenResponse, error) {
	return m.stravaClient.RefreshToken(ctx, refreshToken)
}

// AccessToken returns a usable access token for the user, refreshing it
// first if it has expired
func (m *Manager) AccessToken(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if !m.IsExpired(user.ExpiresAt) {
		return user.AccessToken, nil
	}

	m.logger.Info("Access token expired, refreshing", "user_id", userID, "expires_at", user.ExpiresAt)
	return m.refreshLocked(ctx, user)
}

// ForceRefresh refreshes the user's tokens regardless of their expiry. Used
// after Strava rejected a token it should still have accepted.
func (m *Manager) ForceRefresh(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}

	m.logger.Info("Forcing token refresh", "user_id", userID)
	return m.refreshLocked(ctx, user)
}

func (m *Manager) loadUser(ctx context.Context, userID string) (*database.User, error) {
	user, err := m.db.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return user, nil
}

func (m *Manager) refreshLocked(ctx context.Context, user *database.User) (string, error) {
	tokenResp, err := m.Refresh(ctx, user.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := m.db.UpdateUserTokens(ctx, user.UserID, tokenResp.AccessToken, tokenResp.RefreshToken, tokenResp.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	m.logger.Info("Refreshed access token", "user_id", user.UserID, "expires_at", tokenResp.ExpiresAt)
	return tokenResp.AccessToken, nil
}
