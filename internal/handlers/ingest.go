package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"lifestream-ingest/internal/bulksync"
)

// Ingester runs an incremental ingest. *bulksync.Runner implements it.
type Ingester interface {
	Ingest(ctx context.Context, userID string) (*bulksync.IngestResult, error)
}

// IngestHandler handles GET /v1/ingest/{userID}
type IngestHandler struct {
	ingester Ingester
	users    UserLookup
	logger   *slog.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingester Ingester, users UserLookup) *IngestHandler {
	return &IngestHandler{
		ingester: ingester,
		users:    users,
		logger:   slog.Default(),
	}
}

// HandleIngest fetches and stores the user's recent activities within the
// request. An ingest cut short by failures or the daily budget still
// answers 200 with complete=false.
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	userID, ok := lookupUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	result, err := h.ingester.Ingest(r.Context(), userID)
	if errors.Is(err, bulksync.ErrUnknownUser) {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Incremental ingest failed", "user_id", userID, "error", err)
		http.Error(w, "Incremental ingest failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*bulksync.IngestResult
	}{true, result})
}
