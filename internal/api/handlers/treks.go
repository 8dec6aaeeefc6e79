package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trekmate/internal/core"
	"trekmate/internal/types"
)

// maxLocationBatch caps the fixes accepted per upload request. Devices chunk
// larger batches client-side.
const maxLocationBatch = 500

// LocationRecorder defines the persistence contract for the trek handler.
// Matches the db.TrekRepository method but is defined locally to avoid tight
// coupling per the handler injection pattern.
type LocationRecorder interface {
	RecordLocation(ctx context.Context, trekID string, p types.LocationPoint) error
}

// TrekHandler maps HTTP requests to trek persistence.
type TrekHandler struct {
	recorder LocationRecorder
	logger   *slog.Logger
}

// NewTrekHandler creates a new TrekHandler with the provided dependencies.
func NewTrekHandler(recorder LocationRecorder, logger *slog.Logger) *TrekHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrekHandler{recorder: recorder, logger: logger}
}

// RegisterRoutes mounts the trek endpoints onto the mux.
func (h *TrekHandler) RegisterRoutes(r chi.Router) {
	r.Route("/treks/{trekId}", func(r chi.Router) {
		r.Post("/locations", h.HandleRecordLocations)
	})
}

// locationBatchRequest is the request body for
// POST /v1/treks/{trekId}/locations. The batch ID correlates the chunks of
// one device-side flush in the logs.
type locationBatchRequest struct {
	BatchID string                `json:"batchId,omitempty"`
	Points  []types.LocationPoint `json:"points"`
}

// HandleRecordLocations accepts a batch of location fixes for an active trek.
// Fixes are persisted in order; the first failure aborts the batch so the
// device can re-send the unaccepted remainder.
func (h *TrekHandler) HandleRecordLocations(w http.ResponseWriter, r *http.Request) {
	trekID := chi.URLParam(r, "trekId")

	var body locationBatchRequest
	if err := core.DecodeJSON(w, r, &body); err != nil {
		core.Error(w, r, err)
		return
	}

	if len(body.Points) == 0 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"points must contain at least one fix",
			nil,
		))
		return
	}
	if len(body.Points) > maxLocationBatch {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			fmt.Sprintf("points must contain at most %d fixes", maxLocationBatch),
			nil,
		))
		return
	}
	for i, p := range body.Points {
		if p.Latitude < -90 || p.Latitude > 90 {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidLat,
				"latitude must be between -90 and 90",
				nil,
				map[string]any{"index": i},
			))
			return
		}
		if p.Longitude < -180 || p.Longitude > 180 {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidLon,
				"longitude must be between -180 and 180",
				nil,
				map[string]any{"index": i},
			))
			return
		}
		if p.Timestamp.IsZero() {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationMissingField,
				"each fix requires a timestamp",
				nil,
				map[string]any{"index": i},
			))
			return
		}
	}

	accepted := 0
	for _, p := range body.Points {
		if err := h.recorder.RecordLocation(r.Context(), trekID, p); err != nil {
			h.logger.Warn("location batch aborted",
				"trek_id", trekID,
				"batch_id", body.BatchID,
				"accepted", accepted,
				"error", err,
			)
			core.Error(w, r, err)
			return
		}
		accepted++
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"accepted": accepted,
	}})
}
