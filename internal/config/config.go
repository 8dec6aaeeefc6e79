// Package config defines the global configuration structure for the TrekMate
// services. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup.
package config

import "time"

// Config is the top-level configuration struct for the TrekMate services.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"trekmate"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	SMS      SMSConfig
	Fall     FallConfig
	SOS      SOSConfig
	Nearby   NearbyConfig
	Club     ClubConfig
	Metrics  MetricsConfig
	Sentinel SentinelConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters. URL
// may be empty for processes that never touch the database (the sentinel);
// the API server enforces its presence at startup.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig holds the optional shared throttle store settings. When Addr
// is empty the services fall back to the in-memory throttle store, which is
// process-local and resets on restart.
type RedisConfig struct {
	Addr      string `envconfig:"REDIS_ADDR"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"trekmate:throttle"`
}

// SMSConfig holds the outbound text-message gateway credentials and limits.
type SMSConfig struct {
	AccountSID  string        `envconfig:"SMS_ACCOUNT_SID" validate:"required"`
	AuthToken   string        `envconfig:"SMS_AUTH_TOKEN" validate:"required"`
	FromNumber  string        `envconfig:"SMS_FROM_NUMBER" validate:"required"`
	APIBaseURL  string        `envconfig:"SMS_API_BASE_URL" default:"https://api.twilio.com"`
	SendTimeout time.Duration `envconfig:"SMS_SEND_TIMEOUT" default:"10s"`
}

// FallConfig holds the on-device fall detection tunables.
type FallConfig struct {
	// AccelerationThreshold is the rolling-average accelerometer magnitude
	// (m/s^2) above which an impact is suspected.
	AccelerationThreshold float64 `envconfig:"FALL_ACCELERATION_THRESHOLD" default:"25.0" validate:"gt=0"`
	// GyroRotationThreshold is the rolling-average rotation rate (rad/s)
	// above which an impact is suspected.
	GyroRotationThreshold float64 `envconfig:"GYRO_ROTATION_THRESHOLD" default:"6.0" validate:"gt=0"`
	// PostFallMotionThreshold is the magnitude below which the wearer is
	// considered immobile after a suspected impact.
	PostFallMotionThreshold float64 `envconfig:"POST_FALL_MOTION_THRESHOLD" default:"11.0" validate:"gt=0"`
	// PostFallCheckDuration is the delay between a suspected impact and the
	// immobility check.
	PostFallCheckDuration time.Duration `envconfig:"POST_FALL_CHECK_DURATION" default:"800ms" validate:"gt=0"`
	// Cooldown suppresses duplicate fall confirmations within the window.
	Cooldown time.Duration `envconfig:"FALL_COOLDOWN" default:"10s" validate:"gt=0"`
	// MinDetectionSamples is the number of samples required before the
	// detector reacts at all.
	MinDetectionSamples int `envconfig:"MIN_DETECTION_SAMPLES" default:"3" validate:"min=1"`
	// SampleInterval is the fixed sensor sampling cadence.
	SampleInterval time.Duration `envconfig:"SAMPLE_INTERVAL" default:"100ms" validate:"gt=0"`
	// WindowSize is the rolling-average window length in samples.
	WindowSize int `envconfig:"DETECTION_WINDOW_SIZE" default:"5" validate:"min=1"`
}

// SOSConfig holds the escalation countdown tunables.
type SOSConfig struct {
	// CountdownSeconds is how long the user has to cancel before the SOS
	// message is dispatched.
	CountdownSeconds int `envconfig:"SOS_COUNTDOWN_SECONDS" default:"10" validate:"min=1"`
}

// NearbyConfig holds the server-side proximity notification tunables.
type NearbyConfig struct {
	// LocationMaxAge excludes trekkers whose last fix is older than this.
	LocationMaxAge time.Duration `envconfig:"SOS_LOCATION_MAX_AGE" default:"30s" validate:"gt=0"`
	// RadiusMeters is the inclusive search radius around the SOS location.
	RadiusMeters float64 `envconfig:"RADIUS_METERS" default:"1000" validate:"gt=0"`
	// Cooldown is the dedup window for repeated deliveries of the same SOS.
	Cooldown time.Duration `envconfig:"SOS_COOLDOWN" default:"5m" validate:"gt=0"`
	// MaxConcurrentSends bounds the parallel per-recipient dispatch fan-out.
	MaxConcurrentSends int `envconfig:"SOS_MAX_CONCURRENT_SENDS" default:"8" validate:"min=1"`
}

// ClubConfig holds the group-pacing analysis tunables. Group monitoring
// tolerates staler data than the SOS path, so its LocationMaxAge is longer.
type ClubConfig struct {
	LocationMaxAge time.Duration `envconfig:"CLUB_LOCATION_MAX_AGE" default:"300s" validate:"gt=0"`
	// AheadThresholdMeters: beyond this distance from both leader and
	// centroid a member is AHEAD.
	AheadThresholdMeters float64 `envconfig:"AHEAD_THRESHOLD_M" default:"10" validate:"gt=0"`
	// LaggingThresholdMeters: beyond this distance from both leader and
	// centroid a member is LAGGING. Must be >= AheadThresholdMeters; the
	// loader rejects misordered values so the classification branches stay
	// mutually exclusive.
	LaggingThresholdMeters float64 `envconfig:"LAGGING_THRESHOLD_M" default:"30" validate:"gt=0"`
	// TiredSpeedThresholdPercent: a member slower than the group average by
	// this percentage is TIRED, once tracking longer than TiredDuration.
	TiredSpeedThresholdPercent float64 `envconfig:"TIRED_SPEED_THRESHOLD_PERCENT" default:"15" validate:"gt=0,lt=100"`
	TiredDuration              time.Duration `envconfig:"TIRED_DURATION" default:"5m" validate:"gt=0"`
	// AlertCooldown gates per-member and group alerts.
	AlertCooldown time.Duration `envconfig:"ALERT_COOLDOWN" default:"1m" validate:"gt=0"`
	// PaceVarianceThreshold: a speed standard deviation above this fires a
	// PACE_MISMATCH alert (m/s).
	PaceVarianceThreshold float64 `envconfig:"PACE_VARIANCE_THRESHOLD" default:"0.8" validate:"gt=0"`
}

// SentinelConfig holds the device-side agent settings. UserID and UserName
// identify the wearer; they are validated by the sentinel binary rather than
// here so the API server can run without them.
type SentinelConfig struct {
	// APIBaseURL is the TrekMate API the agent calls for live profiles and
	// nearby alerts.
	APIBaseURL string `envconfig:"SENTINEL_API_URL" default:"http://localhost:8080"`
	UserID     string `envconfig:"SENTINEL_USER_ID"`
	UserName   string `envconfig:"SENTINEL_USER_NAME"`
	// ProfileCachePath is where the last successfully fetched profile is
	// persisted for offline SOS dispatch.
	ProfileCachePath string `envconfig:"SENTINEL_PROFILE_CACHE" default:"profile-cache.json"`
	// APITimeout bounds each call to the TrekMate API.
	APITimeout time.Duration `envconfig:"SENTINEL_API_TIMEOUT" default:"15s"`
	// TrekID enables batched location uploads for the named trek. Empty
	// disables tracking; fall detection and SOS still run.
	TrekID string `envconfig:"SENTINEL_TREK_ID"`
	// UploadFlushSize triggers an immediate upload once this many fixes are
	// buffered.
	UploadFlushSize int `envconfig:"SENTINEL_UPLOAD_FLUSH_SIZE" default:"25" validate:"min=1"`
	// UploadFlushInterval is the periodic upload cadence.
	UploadFlushInterval time.Duration `envconfig:"SENTINEL_UPLOAD_FLUSH_INTERVAL" default:"30s" validate:"gt=0"`
}

// MetricsConfig holds telemetry publication settings.
type MetricsConfig struct {
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"TrekMate"`
	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1"`
}
