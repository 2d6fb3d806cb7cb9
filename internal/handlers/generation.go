package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/little-loop/tales/internal/database"
	"github.com/little-loop/tales/internal/models"
	"github.com/little-loop/tales/internal/services"
	"github.com/rs/zerolog/log"
)

// dispatchService is the subset of DispatchService used by the generation
// handlers (for testability).
type dispatchService interface {
	CreateStoryScript(ctx context.Context, req *models.StoryScriptRequest) (*models.StoryScriptResponse, error)
}

// Handler contains the dispatch API HTTP handlers.
type Handler struct {
	dispatch dispatchService
	db       *database.DB
}

// NewHandler creates a new handler. db may be nil in tests; it is only used
// by the health endpoint.
func NewHandler(dispatch dispatchService, db *database.DB) *Handler {
	return &Handler{dispatch: dispatch, db: db}
}

// CreateStoryScript handles POST /generation/story-script.
func (h *Handler) CreateStoryScript(w http.ResponseWriter, r *http.Request) {
	var req models.StoryScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.dispatch.CreateStoryScript(r.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrMissingTheme) {
			writeJSONError(w, http.StatusBadRequest, "missing theme")
			return
		}
		log.Error().Err(err).Msg("Failed to create story script job")
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health with a database ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.db != nil {
		if err := h.db.Health(); err != nil {
			log.Error().Err(err).Msg("Database health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unhealthy","error":"database"}`)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}
