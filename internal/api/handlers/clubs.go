package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trekmate/internal/club"
	"trekmate/internal/core"
	"trekmate/internal/types"
)

// ClubAnalyzerInterface defines the service contract for the club handler.
type ClubAnalyzerInterface interface {
	Analyze(ctx context.Context, clubID, callerID string) (*club.Analysis, error)
	ActiveTrek(ctx context.Context, clubID string) (*club.TrekStatus, error)
}

// ClubHandler maps HTTP requests to the club trek analyzer.
type ClubHandler struct {
	analyzer ClubAnalyzerInterface
	logger   *slog.Logger
}

// NewClubHandler creates a new ClubHandler with the provided dependencies.
func NewClubHandler(analyzer ClubAnalyzerInterface, logger *slog.Logger) *ClubHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClubHandler{analyzer: analyzer, logger: logger}
}

// RegisterRoutes mounts the club endpoints onto the mux.
func (h *ClubHandler) RegisterRoutes(r chi.Router) {
	r.Route("/clubs/{clubId}", func(r chi.Router) {
		r.Post("/analyze", h.HandleAnalyze)
		r.Get("/active-trek", h.HandleActiveTrek)
	})
}

// analyzeResponse is the response body for POST /v1/clubs/{clubId}/analyze.
// Success reports that the analysis ran; IsActive inside the embedded
// Analysis says whether there was a trek to analyze.
type analyzeResponse struct {
	Success bool `json:"success"`
	*club.Analysis
}

// HandleAnalyze handles POST /v1/clubs/{clubId}/analyze. The caller's
// identity comes from the X-User-ID header resolved by the identity
// middleware; only the club leader is permitted.
func (h *ClubHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	clubID := chi.URLParam(r, "clubId")

	callerID := types.GetUserID(r.Context())
	if callerID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthIdentityMissing,
			"X-User-ID header is required",
			nil,
		))
		return
	}

	analysis, err := h.analyzer.Analyze(r.Context(), clubID, callerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: analyzeResponse{Success: true, Analysis: analysis}})
}

// HandleActiveTrek handles GET /v1/clubs/{clubId}/active-trek, the
// lightweight probe any member can call.
func (h *ClubHandler) HandleActiveTrek(w http.ResponseWriter, r *http.Request) {
	clubID := chi.URLParam(r, "clubId")

	status, err := h.analyzer.ActiveTrek(r.Context(), clubID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: status})
}
