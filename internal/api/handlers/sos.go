// Package handlers contains the HTTP handler implementations for the
// TrekMate API: the SOS fan-out endpoints and the club analysis endpoints.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"trekmate/internal/core"
	"trekmate/internal/nearby"
	"trekmate/internal/types"
)

// NearbyNotifierInterface defines the service contract for the SOS handler.
// Matches the nearby.Notifier methods but is defined locally to avoid tight
// coupling per the handler injection pattern.
type NearbyNotifierInterface interface {
	Notify(ctx context.Context, req nearby.Request) (nearby.Result, error)
	Check(ctx context.Context, lat, lon, radiusMeters float64, excludeUserID string) ([]nearby.NearbyUser, error)
}

// SOSHandler maps HTTP requests to the nearby-trekker notifier.
type SOSHandler struct {
	notifier NearbyNotifierInterface
	logger   *slog.Logger
}

// NewSOSHandler creates a new SOSHandler with the provided dependencies.
func NewSOSHandler(notifier NearbyNotifierInterface, logger *slog.Logger) *SOSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SOSHandler{notifier: notifier, logger: logger}
}

// RegisterRoutes mounts the SOS endpoints onto the mux.
func (h *SOSHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sos", func(r chi.Router) {
		r.Post("/nearby", h.HandleNotifyNearby)
		r.Get("/nearby/check", h.HandleCheckNearby)
	})
}

// notifyNearbyRequest is the request body for POST /v1/sos/nearby.
// Timestamp is optional and defaults to the server's current time; with it,
// device retries of the same episode carry the same timestamp and dedupe.
type notifyNearbyRequest struct {
	SOSUserID string  `json:"sosUserId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// notifyNearbyResponse is the response body for POST /v1/sos/nearby. Success
// reports that the fan-out ran, independent of how many sends went through.
type notifyNearbyResponse struct {
	Success bool `json:"success"`
	nearby.Result
}

// HandleNotifyNearby handles POST /v1/sos/nearby. It validates the payload,
// runs the proximity fan-out, and returns the dispatch counts. Retried
// requests for an already-processed episode return the original counts.
func (h *SOSHandler) HandleNotifyNearby(w http.ResponseWriter, r *http.Request) {
	var body notifyNearbyRequest
	if err := core.DecodeJSON(w, r, &body); err != nil {
		core.Error(w, r, err)
		return
	}

	if body.SOSUserID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"sosUserId is required",
			nil,
		))
		return
	}
	if body.Latitude < -90 || body.Latitude > 90 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidLat,
			"latitude must be between -90 and 90",
			nil,
		))
		return
	}
	if body.Longitude < -180 || body.Longitude > 180 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidLon,
			"longitude must be between -180 and 180",
			nil,
		))
		return
	}

	reason := types.ReasonManual
	if body.Reason != "" {
		reason = types.TrekReason(body.Reason)
		if !reason.Valid() {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidReason,
				"reason must be \"fall\" or \"manual\"",
				nil,
			))
			return
		}
	}

	ts := time.Now().UTC()
	if body.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, body.Timestamp)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidBody,
				"timestamp must be RFC3339",
				nil,
			))
			return
		}
		ts = parsed
	}

	result, err := h.notifier.Notify(r.Context(), nearby.Request{
		SOSUserID: body.SOSUserID,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
		Timestamp: ts,
		Reason:    reason,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: notifyNearbyResponse{Success: true, Result: result}})
}

// HandleCheckNearby handles GET /v1/sos/nearby/check. It runs the proximity
// query without dispatching anything; the device uses it to show "N trekkers
// nearby" before an SOS is ever raised.
//
// Query parameters: latitude and longitude (required; lat and lon are
// accepted as short aliases), radius in meters (optional, defaults to the
// configured SOS radius), userId (optional, excluded from the results).
func (h *SOSHandler) HandleCheckNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := parseCoord(queryAlias(q, "latitude", "lat"), "latitude", -90, 90, types.ErrCodeValidationInvalidLat)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	lon, err := parseCoord(queryAlias(q, "longitude", "lon"), "longitude", -180, 180, types.ErrCodeValidationInvalidLon)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var radius float64
	if radiusStr := q.Get("radius"); radiusStr != "" {
		radius, err = strconv.ParseFloat(radiusStr, 64)
		if err != nil || radius <= 0 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidBody,
				"radius must be a positive number of meters",
				nil,
			))
			return
		}
	}

	users, err := h.notifier.Check(r.Context(), lat, lon, radius, q.Get("userId"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"count":    len(users),
		"trekkers": users,
	}})
}

// queryAlias returns the first non-empty value among the named query
// parameters.
func queryAlias(q url.Values, names ...string) string {
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// parseCoord parses a required coordinate query parameter and range-checks
// it.
func parseCoord(raw, name string, min, max float64, code types.ErrorCode) (float64, error) {
	if raw == "" {
		return 0, types.NewAppError(
			types.ErrCodeValidationMissingField,
			name+" query parameter is required",
			nil,
		)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < min || v > max {
		return 0, types.NewAppError(code, name+" must be a number between "+
			strconv.FormatFloat(min, 'f', -1, 64)+" and "+
			strconv.FormatFloat(max, 'f', -1, 64), nil)
	}
	return v, nil
}
