// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Load .env file via godotenv (non-fatal if absent).
//  2. Use envconfig to process struct tags and populate the Config struct.
//  3. Validate the struct using go-playground/validator.
//  4. Apply cross-field checks that tags cannot express (threshold ordering).
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads, populates, and validates the full configuration.
// It is intended to be called exactly once at process startup.
func LoadConfig() (*Config, error) {
	// Best-effort dotenv load; the file is optional outside local dev.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Stage: "populate", Message: "processing environment", Err: err}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct-tag validation plus the cross-field invariants.
// Exposed separately so tests can validate hand-built configs.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return &ConfigError{Stage: "validate", Message: "invalid configuration", Err: err}
	}

	// The LAGGING branch must dominate the AHEAD branch: a member past the
	// lagging thresholds is by construction also past the ahead thresholds.
	// Misordered values would leave members matching both branches with
	// undefined precedence, so they are rejected outright.
	if cfg.Club.LaggingThresholdMeters < cfg.Club.AheadThresholdMeters {
		return &ConfigError{
			Stage: "validate",
			Message: fmt.Sprintf("LAGGING_THRESHOLD_M (%v) must be >= AHEAD_THRESHOLD_M (%v)",
				cfg.Club.LaggingThresholdMeters, cfg.Club.AheadThresholdMeters),
		}
	}

	return nil
}
