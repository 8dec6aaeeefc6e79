// Package types defines the shared domain model for the TrekMate
// safety-and-coordination pipeline: location and motion samples, trek
// membership, pacing classifications, alerts, and the application error
// taxonomy. All packages depend on types; types depends on nothing internal.
package types

import (
	"math"
	"time"
)

// TrekReason identifies what triggered an SOS episode.
type TrekReason string

const (
	ReasonFall   TrekReason = "fall"
	ReasonManual TrekReason = "manual"
)

// Label returns the human-readable trigger description used in outbound
// SOS and nearby-trekker messages.
func (r TrekReason) Label() string {
	switch r {
	case ReasonFall:
		return "Possible fall detected"
	case ReasonManual:
		return "Manual SOS triggered"
	default:
		return "SOS triggered"
	}
}

// Valid reports whether the reason is one of the known trigger types.
func (r TrekReason) Valid() bool {
	return r == ReasonFall || r == ReasonManual
}

// LocationPoint is a single position fix from the upstream location feed.
// Optional fields are pointers so that "not reported" is distinguishable
// from zero.
type LocationPoint struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	AltitudeM  *float64   `json:"altitude_m,omitempty"`
	AccuracyM  *float64   `json:"accuracy_m,omitempty"`
	SpeedMPS   *float64   `json:"speed_mps,omitempty"`
	HeadingDeg *float64   `json:"heading_deg,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Age returns how old the fix is relative to now. Negative ages (clock skew,
// future timestamps) are clamped to zero so skewed fixes are treated as fresh.
func (p LocationPoint) Age(now time.Time) time.Duration {
	age := now.Sub(p.Timestamp)
	if age < 0 {
		return 0
	}
	return age
}

// MotionSample is one tick from a motion sensor (accelerometer or gyroscope).
// Magnitude is the Euclidean norm of the three axes, precomputed at ingestion
// so the rolling-window math never recomputes it.
type MotionSample struct {
	X         float64
	Y         float64
	Z         float64
	Magnitude float64
	Timestamp time.Time
}

// NewMotionSample builds a sample from raw axis readings, computing the
// magnitude.
func NewMotionSample(x, y, z float64, ts time.Time) MotionSample {
	return MotionSample{
		X:         x,
		Y:         y,
		Z:         z,
		Magnitude: math.Sqrt(x*x + y*y + z*z),
		Timestamp: ts,
	}
}

// EmergencyContact is a person to notify when an SOS fires.
type EmergencyContact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone"`
}

// Usable reports whether the contact can actually receive a message.
func (c EmergencyContact) Usable() bool {
	return c.Phone != ""
}

// Profile is the subset of a user profile the safety pipeline needs:
// identity plus the emergency contact list.
type Profile struct {
	UserID            string             `json:"user_id"`
	Name              string             `json:"name"`
	Phone             string             `json:"phone,omitempty"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts"`
}

// UsableContacts returns the contacts with a non-empty phone number.
func (p *Profile) UsableContacts() []EmergencyContact {
	out := make([]EmergencyContact, 0, len(p.EmergencyContacts))
	for _, c := range p.EmergencyContacts {
		if c.Usable() {
			out = append(out, c)
		}
	}
	return out
}

// ActiveMember is a trekker with an in-progress trek, rebuilt fresh from the
// activity store on every analysis or notify request. Never cached across
// requests.
type ActiveMember struct {
	UserID            string         `json:"user_id"`
	Name              string         `json:"name"`
	LastLocation      *LocationPoint `json:"last_location,omitempty"`
	DistanceTraveledM float64        `json:"distance_traveled_m"`
	AvgSpeedMPS       float64        `json:"avg_speed_mps"`
	IsLeader          bool           `json:"is_leader"`
	StartTime         time.Time      `json:"start_time"`
}

// TrackingDuration returns how long the member has been tracking.
func (m *ActiveMember) TrackingDuration(now time.Time) time.Duration {
	return now.Sub(m.StartTime)
}

// Club is a trekking club with one designated leader.
type Club struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LeaderID string `json:"leader_id"`
}

// Classification labels a club member's pacing relative to the leader and
// the group centroid. Every non-leader member receives exactly one label.
type Classification string

const (
	ClassLeader  Classification = "LEADER"
	ClassOnPace  Classification = "ON_PACE"
	ClassAhead   Classification = "AHEAD"
	ClassLagging Classification = "LAGGING"
	ClassTired   Classification = "TIRED"
)

// MemberAssessment is the per-member output of a club analysis.
type MemberAssessment struct {
	UserID                string         `json:"userId"`
	Name                  string         `json:"name"`
	Classification        Classification `json:"classification"`
	DistanceFromLeaderM   float64        `json:"distanceFromLeader"`
	DistanceFromCentroidM float64        `json:"distanceFromCentroid"`
	SpeedDiffMPS          float64        `json:"speedDiffFromGroup"`
}

// GroupMetrics aggregates the fresh members of a club trek.
type GroupMetrics struct {
	AvgSpeedMPS  float64 `json:"avgSpeed"`
	SpeedStdDev  float64 `json:"speedStdDev"`
	CentroidLat  float64 `json:"centroidLat"`
	CentroidLon  float64 `json:"centroidLon"`
	FreshMembers int     `json:"freshMembers"`
}

// ClassSummary counts members per classification.
type ClassSummary struct {
	OnPace  int `json:"onPace"`
	Ahead   int `json:"ahead"`
	Lagging int `json:"lagging"`
	Tired   int `json:"tired"`
}

// AlertType identifies the class of a generated alert.
type AlertType string

const (
	AlertLagging         AlertType = "LAGGING"
	AlertTired           AlertType = "TIRED"
	AlertMultipleLagging AlertType = "MULTIPLE_LAGGING"
	AlertPaceMismatch    AlertType = "PACE_MISMATCH"
	AlertSOSNearby       AlertType = "SOS_NEARBY"
)

// AlertSeverity orders alerts for the leader dashboard.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertEvent is an ephemeral alert generated during one analysis or notify
// call. Alerts pass through throttling before being returned.
type AlertEvent struct {
	Type      AlertType     `json:"type"`
	SubjectID string        `json:"subjectId,omitempty"`
	Message   string        `json:"message"`
	Severity  AlertSeverity `json:"severity"`
}

// SuggestionType identifies a recommended leader action.
type SuggestionType string

const (
	SuggestRegroup        SuggestionType = "REGROUP"
	SuggestSplitGroup     SuggestionType = "SPLIT_GROUP"
	SuggestAdjustPace     SuggestionType = "ADJUST_PACE"
	SuggestLeaderSlowDown SuggestionType = "LEADER_SLOW_DOWN"
)

// Suggestion is an unthrottled, prioritized recommendation for the trek
// leader. Lower Priority sorts first.
type Suggestion struct {
	Type     SuggestionType `json:"type"`
	Message  string         `json:"message"`
	Priority int            `json:"priority"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }
