package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trekmate/internal/types"
)

// APIClient is the device-side client for the TrekMate API. The sentinel
// agent uses it to trigger the server-side nearby-trekker fan-out after a
// successful SOS and to fetch the live profile with emergency contacts.
type APIClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewAPIClient creates an APIClient against the given base URL (scheme and
// host, no trailing slash required).
func NewAPIClient(httpClient *http.Client, baseURL string, logger *slog.Logger, opts ...BaseClientOption) *APIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{
		base:    NewBaseClient(httpClient, "trekmate-api", DefaultRetryPolicy(), "TrekMateSentinel/1.0", opts...),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// nearbyAlertPayload mirrors the POST /v1/sos/nearby request body.
type nearbyAlertPayload struct {
	SOSUserID string  `json:"sosUserId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
	Reason    string  `json:"reason"`
}

// AlertNearby triggers the server-side proximity fan-out for an SOS episode.
// The timestamp identifies the episode, so a device retry after a network
// blip dedupes on the server instead of notifying everyone twice.
func (c *APIClient) AlertNearby(ctx context.Context, userID string, loc types.LocationPoint, at time.Time, reason types.TrekReason) error {
	payload := nearbyAlertPayload{
		SOSUserID: userID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Timestamp: at.UTC().Format(time.RFC3339),
		Reason:    string(reason),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode nearby alert", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/sos/nearby", bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build nearby alert request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("nearby alert rejected with status %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	}

	var envelope struct {
		Data struct {
			NotifiedCount    int `json:"notifiedCount"`
			NearbyUsersFound int `json:"nearbyUsersFound"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		// The fan-out already happened server-side; a malformed body is
		// only a logging loss.
		c.logger.Warn("nearby alert response undecodable", slog.String("error", err.Error()))
		return nil
	}

	c.logger.Info("nearby trekkers alerted",
		slog.Int("found", envelope.Data.NearbyUsersFound),
		slog.Int("notified", envelope.Data.NotifiedCount))
	return nil
}

// locationBatchPayload mirrors the POST /v1/treks/{trekId}/locations body.
type locationBatchPayload struct {
	BatchID string                `json:"batchId"`
	Points  []types.LocationPoint `json:"points"`
}

// UploadLocations pushes a batch of location fixes for the active trek.
// A 404 means the trek is no longer active; the caller should stop tracking
// rather than retry.
func (c *APIClient) UploadLocations(ctx context.Context, trekID string, batchID string, points []types.LocationPoint) error {
	payload := locationBatchPayload{BatchID: batchID, Points: points}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode location batch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/treks/"+url.PathEscape(trekID)+"/locations", bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build location batch request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return types.NewAppError(types.ErrCodeNotFoundActivity, "no active trek for location batch", nil)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("location batch rejected with status %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	}
}

// LiveProfile fetches the user's profile with emergency contacts from the
// API. The sentinel pairs this with a locally cached copy so an SOS can
// still dispatch offline.
func (c *APIClient) LiveProfile(ctx context.Context, userID string) (*types.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/users/"+url.PathEscape(userID)+"/profile", nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build profile request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	default:
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("profile fetch rejected with status %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	}

	var envelope struct {
		Data types.Profile `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamGateway, "profile response undecodable", err)
	}
	return &envelope.Data, nil
}
