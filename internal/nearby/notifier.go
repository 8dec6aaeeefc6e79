// Package nearby implements the server-side proximity search that alerts
// other active trekkers when an SOS fires: staleness filtering, inclusive
// radius search, per-episode deduplication, and per-recipient isolated
// dispatch.
package nearby

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"trekmate/internal/config"
	"trekmate/internal/geo"
	"trekmate/internal/notify"
	"trekmate/internal/telemetry"
	"trekmate/internal/types"
)

// TrekkerStore lists currently-active trekkers with their latest location,
// rebuilt fresh on every call.
type TrekkerStore interface {
	// ActiveTrekkers returns all active trekkers except excludeUserID.
	ActiveTrekkers(ctx context.Context, excludeUserID string) ([]types.ActiveMember, error)
}

// PhoneDirectory resolves a user's phone number. An empty string means the
// user has no number on file.
type PhoneDirectory interface {
	PhoneNumber(ctx context.Context, userID string) (string, error)
}

// Request is one SOS event to fan out.
type Request struct {
	SOSUserID string
	Latitude  float64
	Longitude float64
	Timestamp time.Time
	Reason    types.TrekReason
}

// Result summarizes one fan-out.
type Result struct {
	NotifiedCount    int      `json:"notifiedCount"`
	FailedCount      int      `json:"failedCount"`
	NearbyUsersFound int      `json:"nearbyUsersFound"`
	NotifiedUserIDs  []string `json:"notifiedUserIds,omitempty"`
}

// NearbyUser is one row of the debug proximity query.
type NearbyUser struct {
	UserID            string  `json:"userId"`
	Name              string  `json:"name"`
	DistanceMeters    float64 `json:"distanceMeters"`
	FormattedDistance string  `json:"formattedDistance"`
}

// dedupEntry caches the outcome of one processed SOS episode.
type dedupEntry struct {
	result  Result
	firedAt time.Time
}

// Notifier fans an SOS event out to nearby trekkers. Safe for concurrent use;
// the dedup cache is the only shared mutable state.
type Notifier struct {
	cfg     config.NearbyConfig
	store   TrekkerStore
	phones  PhoneDirectory
	gateway notify.Gateway
	metrics telemetry.Collector
	clock   types.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	dedup map[string]dedupEntry
}

// NotifierConfig bundles the Notifier dependencies.
type NotifierConfig struct {
	Nearby  config.NearbyConfig
	Store   TrekkerStore
	Phones  PhoneDirectory
	Gateway notify.Gateway
	Metrics telemetry.Collector
	Clock   types.Clock
	Logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.Noop{}
	}
	return &Notifier{
		cfg:     cfg.Nearby,
		store:   cfg.Store,
		phones:  cfg.Phones,
		gateway: cfg.Gateway,
		metrics: metrics,
		clock:   clock,
		logger:  logger,
		dedup:   make(map[string]dedupEntry),
	}
}

// Notify processes one SOS event. Re-deliveries of the same episode (same
// sender and timestamp) within the cooldown window return the previously
// computed result without re-dispatching.
func (n *Notifier) Notify(ctx context.Context, req Request) (Result, error) {
	if req.SOSUserID == "" {
		return Result{}, types.NewAppError(types.ErrCodeValidationMissingField,
			"sosUserId is required", nil)
	}

	key := dedupKey(req.SOSUserID, req.Timestamp)
	if cached, ok := n.checkDedup(key); ok {
		n.logger.Info("sos already processed, returning cached result",
			"sos_user", req.SOSUserID, "notified", cached.NotifiedCount)
		return cached, nil
	}

	members, err := n.store.ActiveTrekkers(ctx, req.SOSUserID)
	if err != nil {
		return Result{}, types.NewAppError(types.ErrCodeInternalDB,
			"loading active trekkers", err)
	}

	now := n.clock.Now()
	candidates := n.filterNearby(members, req, now)

	result := n.dispatch(ctx, req, candidates)
	result.NearbyUsersFound = len(candidates)

	n.recordDedup(key, result, now)

	n.metrics.Count(ctx, telemetry.MetricNearbyNotified, float64(result.NotifiedCount),
		map[string]string{telemetry.DimReason: string(req.Reason)})
	if result.FailedCount > 0 {
		n.metrics.Count(ctx, telemetry.MetricNearbyFailed, float64(result.FailedCount),
			map[string]string{telemetry.DimReason: string(req.Reason)})
	}

	n.logger.Info("nearby fan-out complete",
		"sos_user", req.SOSUserID,
		"found", result.NearbyUsersFound,
		"notified", result.NotifiedCount,
		"failed", result.FailedCount,
	)
	return result, nil
}

// candidate is one trekker who passed the staleness and radius filters.
type candidate struct {
	member   types.ActiveMember
	distance float64
}

// filterNearby keeps members with a fresh fix inside the inclusive radius.
func (n *Notifier) filterNearby(members []types.ActiveMember, req Request, now time.Time) []candidate {
	var out []candidate
	for _, m := range members {
		if m.LastLocation == nil {
			continue
		}
		if m.LastLocation.Age(now) > n.cfg.LocationMaxAge {
			continue
		}
		d := geo.DistanceMeters(req.Latitude, req.Longitude,
			m.LastLocation.Latitude, m.LastLocation.Longitude)
		if d > n.cfg.RadiusMeters {
			continue
		}
		out = append(out, candidate{member: m, distance: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].distance < out[j].distance })
	return out
}

// dispatch sends the alert to every candidate. Each recipient is attempted
// independently with bounded concurrency; one failure never aborts the rest.
func (n *Notifier) dispatch(ctx context.Context, req Request, candidates []candidate) Result {
	var notified, failed int64
	var idsMu sync.Mutex
	var notifiedIDs []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency(n.cfg.MaxConcurrentSends))

	for _, c := range candidates {
		c := c
		g.Go(func() error {
			phone, err := n.phones.PhoneNumber(gctx, c.member.UserID)
			if err != nil || phone == "" {
				atomic.AddInt64(&failed, 1)
				if err != nil {
					n.logger.Warn("phone lookup failed", "user", c.member.UserID, "error", err)
				}
				return nil // failures are counted, never propagated
			}

			msg := composeAlert(req, c.distance)
			contact := []types.EmergencyContact{{Name: c.member.Name, Phone: phone}}
			if err := n.gateway.Send(gctx, contact, msg); err != nil {
				atomic.AddInt64(&failed, 1)
				n.logger.Warn("nearby alert delivery failed", "user", c.member.UserID, "error", err)
				return nil
			}

			atomic.AddInt64(&notified, 1)
			idsMu.Lock()
			notifiedIDs = append(notifiedIDs, c.member.UserID)
			idsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	return Result{
		NotifiedCount:   int(notified),
		FailedCount:     int(failed),
		NotifiedUserIDs: notifiedIDs,
	}
}

// Check runs the same staleness/distance logic as Notify without dispatching
// anything. Used by the debug proximity endpoint.
func (n *Notifier) Check(ctx context.Context, lat, lon, radiusMeters float64, excludeUserID string) ([]NearbyUser, error) {
	if radiusMeters <= 0 {
		radiusMeters = n.cfg.RadiusMeters
	}

	members, err := n.store.ActiveTrekkers(ctx, excludeUserID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "loading active trekkers", err)
	}

	now := n.clock.Now()
	var out []NearbyUser
	for _, m := range members {
		if m.LastLocation == nil || m.LastLocation.Age(now) > n.cfg.LocationMaxAge {
			continue
		}
		d := geo.DistanceMeters(lat, lon, m.LastLocation.Latitude, m.LastLocation.Longitude)
		if d > radiusMeters {
			continue
		}
		out = append(out, NearbyUser{
			UserID:            m.UserID,
			Name:              m.Name,
			DistanceMeters:    d,
			FormattedDistance: geo.FormatDistance(d),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out, nil
}

// checkDedup returns the cached result for a processed episode, sweeping
// expired entries opportunistically.
func (n *Notifier) checkDedup(key string) (Result, bool) {
	now := n.clock.Now()

	n.mu.Lock()
	defer n.mu.Unlock()

	for k, e := range n.dedup {
		if now.Sub(e.firedAt) >= n.cfg.Cooldown {
			delete(n.dedup, k)
		}
	}

	e, ok := n.dedup[key]
	if !ok {
		return Result{}, false
	}
	return e.result, true
}

func (n *Notifier) recordDedup(key string, result Result, at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dedup[key] = dedupEntry{result: result, firedAt: at}
}

func dedupKey(userID string, ts time.Time) string {
	return fmt.Sprintf("%s|%s", userID, ts.UTC().Format(time.RFC3339))
}

func maxConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// composeAlert builds the text sent to a nearby trekker.
func composeAlert(req Request, distance float64) string {
	return fmt.Sprintf("SOS ALERT: %s ~%s from you.\nLocation: %s\nTime: %s",
		req.Reason.Label(),
		geo.FormatDistance(distance),
		geo.MapsLink(req.Latitude, req.Longitude),
		req.Timestamp.Local().Format("Jan 2, 2006 3:04 PM"),
	)
}
