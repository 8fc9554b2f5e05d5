package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"lifestream-ingest/internal/retransform"
)

// Retransformer re-derives canonical activities from the raw archive
type Retransformer interface {
	Run(ctx context.Context, athleteID *int64) (*retransform.Result, error)
}

// RetransformHandler handles POST /v1/retransform
type RetransformHandler struct {
	retransformer Retransformer
	logger        *slog.Logger
}

// NewRetransformHandler creates a new retransform handler
func NewRetransformHandler(retransformer Retransformer) *RetransformHandler {
	return &RetransformHandler{
		retransformer: retransformer,
		logger:        slog.Default(),
	}
}

// HandleRetransform re-transforms all activities, or those of athlete_id
func (h *RetransformHandler) HandleRetransform(w http.ResponseWriter, r *http.Request) {
	var athleteID *int64
	if s := r.URL.Query().Get("athlete_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, "Invalid athlete_id parameter", http.StatusBadRequest)
			return
		}
		athleteID = &id
	}

	result, err := h.retransformer.Run(r.Context(), athleteID)
	if err != nil {
		h.logger.Error("Re-transformation failed", "error", err)
		http.Error(w, "Re-transformation failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processed": result.Processed,
		"errors":    result.Errors,
	})
}
