package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trekmate/internal/core"
	"trekmate/internal/types"
)

// ProfileSource defines the service contract for the profile handler.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)
}

// ProfileHandler serves user profiles with emergency contacts. The sentinel
// agent fetches these to refresh its local contact cache.
type ProfileHandler struct {
	profiles ProfileSource
	logger   *slog.Logger
}

// NewProfileHandler creates a new ProfileHandler with the provided
// dependencies.
func NewProfileHandler(profiles ProfileSource, logger *slog.Logger) *ProfileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileHandler{profiles: profiles, logger: logger}
}

// RegisterRoutes mounts the profile endpoints onto the mux.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/users/{userId}/profile", h.HandleGetProfile)
}

// HandleGetProfile handles GET /v1/users/{userId}/profile.
func (h *ProfileHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: profile})
}
