package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"lifestream-ingest/internal/bulksync"
	"lifestream-ingest/internal/database"
)

// BulkSyncRunner is the bulk sync engine as seen by the HTTP layer
type BulkSyncRunner interface {
	Resume(ctx context.Context, userID string) (*bulksync.Result, error)
	Status(ctx context.Context, userID string) (*bulksync.Progress, error)
	Reset(ctx context.Context, userID string) error
}

// UserLookup finds registered users
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*database.User, error)
}

// BulkSyncHandler handles the bulk sync endpoints
type BulkSyncHandler struct {
	runner BulkSyncRunner
	users  UserLookup
	logger *slog.Logger
	now    func() time.Time

	// Background runs outlive the request; they stop when runCtx is cancelled
	runCtx context.Context
	wg     sync.WaitGroup
}

// NewBulkSyncHandler creates a new bulk sync handler. Runs started through
// it are cancelled with ctx.
func NewBulkSyncHandler(ctx context.Context, runner BulkSyncRunner, users UserLookup) *BulkSyncHandler {
	return &BulkSyncHandler{
		runner: runner,
		users:  users,
		logger: slog.Default(),
		now:    time.Now,
		runCtx: ctx,
	}
}

// HandleResume handles POST /v1/bulksync/{userID}/start and /resume.
// Finished syncs and syncs under a live lease answer 200; otherwise a
// background run is started and the request answers 202 with the progress
// at that moment. A running state whose lease has expired is taken over.
func (h *BulkSyncHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	progress, err := h.runner.Status(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get bulk sync status", "user_id", userID, "error", err)
		http.Error(w, "Failed to get bulk sync status", http.StatusInternalServerError)
		return
	}

	switch {
	case progress.Status == database.StatusComplete:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"message":         "Bulk sync already complete",
			"alreadyComplete": true,
			"progress":        progress,
		})
		return
	case progress.HoldsLease(h.now()):
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"message":        "Bulk sync already running",
			"alreadyRunning": true,
			"progress":       progress,
		})
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		result, err := h.runner.Resume(h.runCtx, userID)
		if err != nil {
			h.logger.Error("Bulk sync run failed", "user_id", userID, "error", err)
			return
		}
		h.logger.Info("Bulk sync run finished",
			"user_id", userID,
			"run_id", result.RunID,
			"complete", result.IsComplete,
			"paused", result.Paused,
			"already_running", result.AlreadyRunning,
			"requests_used", result.RequestsUsed,
		)
	}()

	h.logger.Info("Started bulk sync run", "user_id", userID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":  true,
		"message":  "Bulk sync started, it pauses when the daily limit is reached",
		"started":  true,
		"progress": progress,
	})
}

// HandleStatus handles GET /v1/bulksync/{userID}/status
func (h *BulkSyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	progress, err := h.runner.Status(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get bulk sync status", "user_id", userID, "error", err)
		http.Error(w, "Failed to get bulk sync status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"progress": progress,
	})
}

// HandleReset handles DELETE /v1/bulksync/{userID}
func (h *BulkSyncHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.runner.Reset(r.Context(), userID); err != nil {
		h.logger.Error("Failed to reset bulk sync", "user_id", userID, "error", err)
		http.Error(w, "Failed to reset bulk sync", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Bulk sync state reset",
	})
}

// Wait blocks until every background run has returned
func (h *BulkSyncHandler) Wait() {
	h.wg.Wait()
}

func (h *BulkSyncHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	return lookupUser(w, r, h.users, h.logger)
}

// lookupUser resolves the {userID} route parameter, answering 404 for
// unregistered users
func lookupUser(w http.ResponseWriter, r *http.Request, users UserLookup, logger *slog.Logger) (string, bool) {
	userID := chi.URLParam(r, "userID")

	user, err := users.GetUser(r.Context(), userID)
	if err != nil {
		logger.Error("Failed to get user", "user_id", userID, "error", err)
		http.Error(w, "Failed to get user", http.StatusInternalServerError)
		return "", false
	}
	if user == nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return "", false
	}

	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
