package config

import (
	"errors"
	"testing"
	"time"
)

// validConfig returns a minimal configuration that passes all checks.
func validConfig() *Config {
	return &Config{
		Environment: "local",
		Database:    DatabaseConfig{URL: "postgres://localhost:5432/trekmate"},
		SMS: SMSConfig{
			AccountSID:  "AC123",
			AuthToken:   "token",
			FromNumber:  "+15550001111",
			SendTimeout: 10 * time.Second,
		},
		Fall: FallConfig{
			AccelerationThreshold:   25,
			GyroRotationThreshold:   6,
			PostFallMotionThreshold: 11,
			PostFallCheckDuration:   800 * time.Millisecond,
			Cooldown:                10 * time.Second,
			MinDetectionSamples:     3,
			SampleInterval:          100 * time.Millisecond,
			WindowSize:              5,
		},
		SOS: SOSConfig{CountdownSeconds: 10},
		Nearby: NearbyConfig{
			LocationMaxAge:     30 * time.Second,
			RadiusMeters:       1000,
			Cooldown:           5 * time.Minute,
			MaxConcurrentSends: 8,
		},
		Club: ClubConfig{
			LocationMaxAge:             300 * time.Second,
			AheadThresholdMeters:       10,
			LaggingThresholdMeters:     30,
			TiredSpeedThresholdPercent: 15,
			TiredDuration:              5 * time.Minute,
			AlertCooldown:              time.Minute,
			PaceVarianceThreshold:      0.8,
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate(valid) = %v, want nil", err)
	}
}

func TestValidate_RejectsMisorderedThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Club.AheadThresholdMeters = 50
	cfg.Club.LaggingThresholdMeters = 10

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for LAGGING < AHEAD, got nil")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if cfgErr.Stage != "validate" {
		t.Errorf("Stage = %q, want %q", cfgErr.Stage, "validate")
	}
}

func TestValidate_EqualThresholdsAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Club.AheadThresholdMeters = 20
	cfg.Club.LaggingThresholdMeters = 20
	if err := Validate(cfg); err != nil {
		t.Fatalf("equal thresholds should be accepted: %v", err)
	}
}

func TestValidate_RejectsMalformedDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "not a url"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for malformed DATABASE_URL")
	}
}

func TestValidate_EmptyDatabaseURLAllowed(t *testing.T) {
	// The sentinel runs without a database; URL presence is enforced by the
	// API binary, not here.
	cfg := validConfig()
	cfg.Database.URL = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("empty DATABASE_URL should be accepted: %v", err)
	}
}

func TestValidate_RejectsBadEnvironment(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = "production" // must be one of local/dev/staging/prod
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown APP_ENV value")
	}
}

func TestLoadConfig_PopulatesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/trekmate")
	t.Setenv("SMS_ACCOUNT_SID", "AC123")
	t.Setenv("SMS_AUTH_TOKEN", "token")
	t.Setenv("SMS_FROM_NUMBER", "+15550001111")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() = %v", err)
	}

	if cfg.SOS.CountdownSeconds != 10 {
		t.Errorf("CountdownSeconds = %d, want 10", cfg.SOS.CountdownSeconds)
	}
	if cfg.Nearby.RadiusMeters != 1000 {
		t.Errorf("RadiusMeters = %v, want 1000", cfg.Nearby.RadiusMeters)
	}
	if cfg.Nearby.LocationMaxAge != 30*time.Second {
		t.Errorf("Nearby.LocationMaxAge = %v, want 30s", cfg.Nearby.LocationMaxAge)
	}
	if cfg.Club.LocationMaxAge != 300*time.Second {
		t.Errorf("Club.LocationMaxAge = %v, want 300s", cfg.Club.LocationMaxAge)
	}
	if cfg.Fall.MinDetectionSamples != 3 {
		t.Errorf("MinDetectionSamples = %d, want 3", cfg.Fall.MinDetectionSamples)
	}
	if cfg.Fall.PostFallCheckDuration != 800*time.Millisecond {
		t.Errorf("PostFallCheckDuration = %v, want 800ms", cfg.Fall.PostFallCheckDuration)
	}
}
