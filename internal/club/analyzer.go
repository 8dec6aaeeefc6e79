// Package club analyzes the pacing of an in-progress club trek. The analysis
// is computed on demand from the freshest location data available; nothing
// about a trek is cached between requests. Alerts pass through a cooldown
// store so a member who stays behind for ten minutes produces one LAGGING
// alert per cooldown window, not one per poll.
package club

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"trekmate/internal/config"
	"trekmate/internal/geo"
	"trekmate/internal/telemetry"
	"trekmate/internal/throttle"
	"trekmate/internal/types"
)

// Store provides club membership and live trek data. Implementations load
// from the primary database.
type Store interface {
	// GetClub returns the club or a not_found_club AppError.
	GetClub(ctx context.Context, clubID string) (*types.Club, error)

	// ActiveMembers returns the club members with an in-progress trek,
	// regardless of location freshness. Freshness filtering is the
	// analyzer's job.
	ActiveMembers(ctx context.Context, clubID string) ([]types.ActiveMember, error)
}

// Analysis is the full result of one analysis pass.
type Analysis struct {
	ClubID      string                   `json:"clubId"`
	IsActive    bool                     `json:"isActive"`
	Detail      string                   `json:"detail,omitempty"`
	Metrics     types.GroupMetrics       `json:"groupMetrics"`
	Summary     types.ClassSummary       `json:"summary"`
	Members     []types.MemberAssessment `json:"members"`
	Alerts      []types.AlertEvent       `json:"alerts"`
	Suggestions []types.Suggestion       `json:"suggestions"`
	AnalyzedAt  time.Time                `json:"timestamp"`
}

// TrekStatus is the lightweight active-trek probe result. Unlike Analyze it
// carries no per-member assessment and requires no leader permission.
type TrekStatus struct {
	ClubID      string    `json:"clubId"`
	IsActive    bool      `json:"isActive"`
	LeaderName  string    `json:"leaderName,omitempty"`
	MemberCount int       `json:"memberCount"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
}

// Analyzer computes group pacing metrics, classifications, throttled alerts
// and unthrottled suggestions for a club trek.
type Analyzer struct {
	cfg      config.ClubConfig
	store    Store
	throttle throttle.Store
	metrics  telemetry.Collector
	clock    types.Clock
	logger   *slog.Logger
}

// NewAnalyzer wires an Analyzer. metrics may be nil, in which case telemetry
// is discarded.
func NewAnalyzer(cfg config.ClubConfig, store Store, thr throttle.Store, metrics telemetry.Collector, clock types.Clock, logger *slog.Logger) *Analyzer {
	if metrics == nil {
		metrics = telemetry.Noop{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Analyzer{
		cfg:      cfg,
		store:    store,
		throttle: thr,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
	}
}

// Analyze runs one full analysis pass for the club. Only the club leader may
// analyze; callers pass the authenticated caller's user id.
//
// Member classification is relative to both the leader's position and the
// group centroid, and every non-leader member receives exactly one label:
// TIRED takes precedence over LAGGING, which takes precedence over AHEAD.
func (a *Analyzer) Analyze(ctx context.Context, clubID, callerID string) (*Analysis, error) {
	club, err := a.store.GetClub(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if callerID != club.LeaderID {
		return nil, types.NewAppError(types.ErrCodePermissionNotLeader,
			"only the club leader may run a trek analysis", nil)
	}

	members, err := a.store.ActiveMembers(ctx, clubID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	out := &Analysis{
		ClubID:      clubID,
		Members:     []types.MemberAssessment{},
		Alerts:      []types.AlertEvent{},
		Suggestions: []types.Suggestion{},
		AnalyzedAt:  now,
	}

	if len(members) == 0 {
		out.Detail = "no active trek"
		return out, nil
	}

	fresh := a.filterFresh(members, now)
	leader := findLeader(fresh)
	if leader == nil {
		// The leader exists but has no fresh fix, or is not trekking.
		// Classifying members against a stale anchor would mislabel the
		// whole group, so report and stop.
		out.IsActive = true
		out.Detail = "leader not active"
		return out, nil
	}

	out.IsActive = true
	out.Metrics = computeMetrics(fresh)

	laggingIDs := []string{}
	for i := range fresh {
		m := &fresh[i]
		if m.IsLeader {
			continue
		}
		as := a.classify(m, leader, &out.Metrics, now)
		out.Members = append(out.Members, as)
		switch as.Classification {
		case types.ClassAhead:
			out.Summary.Ahead++
		case types.ClassLagging:
			out.Summary.Lagging++
			laggingIDs = append(laggingIDs, m.UserID)
		case types.ClassTired:
			out.Summary.Tired++
		default:
			out.Summary.OnPace++
		}
	}
	sort.Slice(out.Members, func(i, j int) bool {
		return out.Members[i].UserID < out.Members[j].UserID
	})

	out.Alerts = a.buildAlerts(ctx, clubID, out)
	out.Suggestions = buildSuggestions(a.cfg, out, leader)

	a.logger.Info("club analysis complete",
		slog.String("club_id", clubID),
		slog.Int("fresh_members", out.Metrics.FreshMembers),
		slog.Int("lagging", out.Summary.Lagging),
		slog.Int("alerts", len(out.Alerts)))
	return out, nil
}

// ActiveTrek is the lightweight probe behind the active-trek endpoint. Any
// club member may call it.
func (a *Analyzer) ActiveTrek(ctx context.Context, clubID string) (*TrekStatus, error) {
	if _, err := a.store.GetClub(ctx, clubID); err != nil {
		return nil, err
	}
	members, err := a.store.ActiveMembers(ctx, clubID)
	if err != nil {
		return nil, err
	}
	st := &TrekStatus{ClubID: clubID, MemberCount: len(members)}
	if len(members) == 0 {
		return st, nil
	}
	st.IsActive = true
	st.StartedAt = members[0].StartTime
	for _, m := range members {
		if m.StartTime.Before(st.StartedAt) {
			st.StartedAt = m.StartTime
		}
		if m.IsLeader {
			st.LeaderName = m.Name
		}
	}
	return st, nil
}

// filterFresh drops members with no fix or a fix older than LocationMaxAge.
func (a *Analyzer) filterFresh(members []types.ActiveMember, now time.Time) []types.ActiveMember {
	fresh := make([]types.ActiveMember, 0, len(members))
	for _, m := range members {
		if m.LastLocation == nil {
			continue
		}
		if m.LastLocation.Age(now) > a.cfg.LocationMaxAge {
			continue
		}
		fresh = append(fresh, m)
	}
	return fresh
}

func findLeader(fresh []types.ActiveMember) *types.ActiveMember {
	for i := range fresh {
		if fresh[i].IsLeader {
			return &fresh[i]
		}
	}
	return nil
}

// computeMetrics aggregates speed and position over the fresh members,
// leader included. SpeedStdDev is the population standard deviation.
func computeMetrics(fresh []types.ActiveMember) types.GroupMetrics {
	gm := types.GroupMetrics{FreshMembers: len(fresh)}
	if len(fresh) == 0 {
		return gm
	}
	var sumSpeed, sumLat, sumLon float64
	for _, m := range fresh {
		sumSpeed += m.AvgSpeedMPS
		sumLat += m.LastLocation.Latitude
		sumLon += m.LastLocation.Longitude
	}
	n := float64(len(fresh))
	gm.AvgSpeedMPS = sumSpeed / n
	gm.CentroidLat = sumLat / n
	gm.CentroidLon = sumLon / n

	var sumSq float64
	for _, m := range fresh {
		d := m.AvgSpeedMPS - gm.AvgSpeedMPS
		sumSq += d * d
	}
	gm.SpeedStdDev = math.Sqrt(sumSq / n)
	return gm
}

// classify assigns exactly one label to a non-leader member. A member must
// be away from BOTH the leader and the centroid to count as AHEAD or
// LAGGING; being far from just one of them usually means the group itself
// is spread out, not that this member broke away.
func (a *Analyzer) classify(m, leader *types.ActiveMember, gm *types.GroupMetrics, now time.Time) types.MemberAssessment {
	as := types.MemberAssessment{
		UserID:         m.UserID,
		Name:           m.Name,
		Classification: types.ClassOnPace,
	}
	as.DistanceFromLeaderM = geo.DistanceMeters(
		m.LastLocation.Latitude, m.LastLocation.Longitude,
		leader.LastLocation.Latitude, leader.LastLocation.Longitude)
	as.DistanceFromCentroidM = geo.DistanceMeters(
		m.LastLocation.Latitude, m.LastLocation.Longitude,
		gm.CentroidLat, gm.CentroidLon)
	as.SpeedDiffMPS = m.AvgSpeedMPS - gm.AvgSpeedMPS

	if as.DistanceFromLeaderM > a.cfg.AheadThresholdMeters &&
		as.DistanceFromCentroidM > a.cfg.AheadThresholdMeters {
		as.Classification = types.ClassAhead
	}
	if as.DistanceFromLeaderM > a.cfg.LaggingThresholdMeters &&
		as.DistanceFromCentroidM > a.cfg.LaggingThresholdMeters {
		as.Classification = types.ClassLagging
	}
	tiredCutoff := gm.AvgSpeedMPS * (1 - a.cfg.TiredSpeedThresholdPercent/100)
	if m.AvgSpeedMPS < tiredCutoff && m.TrackingDuration(now) > a.cfg.TiredDuration {
		as.Classification = types.ClassTired
	}
	return as
}

// buildAlerts evaluates the alert conditions and gates each candidate
// through the cooldown store. A store error on one key is logged and treated
// as "do not fire"; losing one alert beats spamming the leader when the
// store misbehaves.
func (a *Analyzer) buildAlerts(ctx context.Context, clubID string, an *Analysis) []types.AlertEvent {
	// Opportunistic cleanup keeps the in-memory store bounded.
	if err := a.throttle.Sweep(ctx); err != nil {
		a.logger.Warn("alert throttle sweep failed", slog.String("error", err.Error()))
	}

	alerts := []types.AlertEvent{}
	fire := func(key throttle.Key, ev types.AlertEvent) {
		ok, err := a.throttle.ShouldFire(ctx, key, a.cfg.AlertCooldown)
		if err != nil {
			a.logger.Warn("alert throttle check failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
			return
		}
		if !ok {
			return
		}
		alerts = append(alerts, ev)
		a.metrics.Count(ctx, telemetry.MetricClubAlert, 1, map[string]string{
			telemetry.DimClubID:    clubID,
			telemetry.DimAlertType: string(ev.Type),
		})
	}

	laggingCount := 0
	for _, m := range an.Members {
		switch m.Classification {
		case types.ClassLagging:
			laggingCount++
			fire(throttle.Key{Scope: clubID, Type: string(types.AlertLagging), Subject: m.UserID},
				types.AlertEvent{
					Type:      types.AlertLagging,
					SubjectID: m.UserID,
					Severity:  types.SeverityWarning,
					Message: fmt.Sprintf("%s is %s behind the leader", m.Name,
						geo.FormatDistance(m.DistanceFromLeaderM)),
				})
		case types.ClassTired:
			fire(throttle.Key{Scope: clubID, Type: string(types.AlertTired), Subject: m.UserID},
				types.AlertEvent{
					Type:      types.AlertTired,
					SubjectID: m.UserID,
					Severity:  types.SeverityWarning,
					Message: fmt.Sprintf("%s is moving %.1f m/s slower than the group average",
						m.Name, -m.SpeedDiffMPS),
				})
		}
	}

	if laggingCount >= 2 {
		fire(throttle.Key{Scope: clubID, Type: string(types.AlertMultipleLagging)},
			types.AlertEvent{
				Type:     types.AlertMultipleLagging,
				Severity: types.SeverityCritical,
				Message:  fmt.Sprintf("%d members are lagging behind the group", laggingCount),
			})
	}
	if an.Metrics.SpeedStdDev > a.cfg.PaceVarianceThreshold {
		fire(throttle.Key{Scope: clubID, Type: string(types.AlertPaceMismatch)},
			types.AlertEvent{
				Type:     types.AlertPaceMismatch,
				Severity: types.SeverityInfo,
				Message: fmt.Sprintf("group pace varies widely (std dev %.2f m/s)",
					an.Metrics.SpeedStdDev),
			})
	}
	return alerts
}

// buildSuggestions derives leader recommendations from the current summary.
// Suggestions are advisory and never throttled; the leader sees the current
// state on every poll. Lower Priority sorts first.
func buildSuggestions(cfg config.ClubConfig, an *Analysis, leader *types.ActiveMember) []types.Suggestion {
	sugs := []types.Suggestion{}

	switch {
	case an.Summary.Lagging >= 3:
		sugs = append(sugs, types.Suggestion{
			Type:     types.SuggestSplitGroup,
			Message:  "Several members are far behind. Consider splitting into two groups with a co-leader.",
			Priority: 1,
		})
	case an.Summary.Lagging >= 1:
		sugs = append(sugs, types.Suggestion{
			Type:     types.SuggestRegroup,
			Message:  "Some members are falling behind. Consider a short stop to regroup.",
			Priority: 1,
		})
	}

	if an.Metrics.SpeedStdDev > cfg.PaceVarianceThreshold {
		sugs = append(sugs, types.Suggestion{
			Type:     types.SuggestAdjustPace,
			Message:  "The group's pace is uneven. Setting a steadier pace may help members stay together.",
			Priority: 2,
		})
	}

	leaderFromCentroid := geo.DistanceMeters(
		leader.LastLocation.Latitude, leader.LastLocation.Longitude,
		an.Metrics.CentroidLat, an.Metrics.CentroidLon)
	if leaderFromCentroid > 1.5*cfg.AheadThresholdMeters {
		sugs = append(sugs, types.Suggestion{
			Type:     types.SuggestLeaderSlowDown,
			Message:  fmt.Sprintf("You are %s ahead of the group's center. Consider slowing down.", geo.FormatDistance(leaderFromCentroid)),
			Priority: 3,
		})
	}

	sort.Slice(sugs, func(i, j int) bool { return sugs[i].Priority < sugs[j].Priority })
	return sugs
}
