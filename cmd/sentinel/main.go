// Package main is the entry point for the TrekMate sentinel, the device-side
// agent. It feeds motion sensor readings into the fall detector, runs the SOS
// escalation coordinator, and keeps a local copy of the wearer's emergency
// contacts so an SOS can be dispatched without network coverage.
//
// Sensor input arrives as newline-delimited JSON on stdin. Each line is one
// event:
//
//	{"sensor":"accel","x":0.1,"y":9.8,"z":0.3,"at":"2026-08-28T10:00:00Z"}
//	{"sensor":"gyro","x":0.0,"y":0.1,"z":0.0,"at":"2026-08-28T10:00:00Z"}
//	{"sensor":"location","latitude":46.5,"longitude":8.0,"at":"..."}
//	{"sensor":"sos"}
//	{"sensor":"cancel"}
//
// The feed closing (EOF) or SIGINT/SIGTERM stops the agent.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trekmate/internal/config"
	"trekmate/internal/external"
	"trekmate/internal/fall"
	"trekmate/internal/notify"
	"trekmate/internal/sos"
	"trekmate/internal/tracker"
	"trekmate/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Sentinel.UserID == "" {
		return fmt.Errorf("SENTINEL_USER_ID is required")
	}

	logger := newLogger(cfg)
	logger.Info("trekmate sentinel starting",
		"user_id", cfg.Sentinel.UserID,
		"api", cfg.Sentinel.APIBaseURL,
	)

	apiClient := external.NewAPIClient(
		&http.Client{Timeout: cfg.Sentinel.APITimeout},
		cfg.Sentinel.APIBaseURL,
		logger,
	)
	gateway := notify.NewTwilioGateway(cfg.SMS, nil, logger)

	location := newFeedLocation()
	contacts := &profileSource{
		api:       apiClient,
		userID:    cfg.Sentinel.UserID,
		cachePath: cfg.Sentinel.ProfileCachePath,
		logger:    logger,
	}

	coordinator := sos.NewCoordinator(sos.CoordinatorConfig{
		SOS:      cfg.SOS,
		UserID:   cfg.Sentinel.UserID,
		UserName: cfg.Sentinel.UserName,
		Location: location,
		Contacts: contacts,
		Gateway:  gateway,
		Nearby:   apiClient,
		Logger:   logger,
		OnTick: func(secondsLeft int) {
			logger.Info("sos countdown", "seconds_left", secondsLeft)
		},
	})

	detector := fall.NewDetector(cfg.Fall, func(at time.Time) {
		logger.Warn("fall confirmed", "at", at)
		coordinator.StartTimer()
	}, logger)
	detector.Start()
	defer detector.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var uploader *tracker.Uploader
	if cfg.Sentinel.TrekID != "" {
		uploader = tracker.NewUploader(tracker.UploaderConfig{
			TrekID:        cfg.Sentinel.TrekID,
			FlushSize:     cfg.Sentinel.UploadFlushSize,
			FlushInterval: cfg.Sentinel.UploadFlushInterval,
			Sink:          apiClient,
			Logger:        logger,
		})
		uploader.Start(ctx)
		defer uploader.Stop()
		logger.Info("location tracking enabled", "trek_id", cfg.Sentinel.TrekID)
	}

	feedDone := make(chan error, 1)
	go func() {
		feedDone <- runFeed(ctx, os.Stdin, detector, coordinator, location, uploader, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-feedDone:
		if err != nil {
			return fmt.Errorf("sensor feed: %w", err)
		}
		logger.Info("sensor feed closed")
	}

	// An in-flight nearby alert finishes before the process exits.
	coordinator.WaitNearby()
	logger.Info("sentinel stopped cleanly")
	return nil
}

// sensorEvent is one line of the stdin feed. Fields beyond the ones relevant
// to the named sensor are ignored.
type sensorEvent struct {
	Sensor    string    `json:"sensor"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

// runFeed consumes the NDJSON sensor stream until EOF or ctx cancellation.
// Malformed lines are logged and skipped so one bad reading never kills the
// agent.
func runFeed(ctx context.Context, in *os.File, detector *fall.Detector, coordinator *sos.Coordinator, location *feedLocation, uploader *tracker.Uploader, logger *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev sensorEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("skipping malformed feed line", "error", err)
			continue
		}
		if ev.At.IsZero() {
			ev.At = time.Now().UTC()
		}

		switch ev.Sensor {
		case "accel":
			detector.IngestAccel(types.NewMotionSample(ev.X, ev.Y, ev.Z, ev.At))
		case "gyro":
			detector.IngestGyro(types.NewMotionSample(ev.X, ev.Y, ev.Z, ev.At))
		case "location":
			p := types.LocationPoint{
				Latitude:  ev.Latitude,
				Longitude: ev.Longitude,
				Timestamp: ev.At,
			}
			location.Update(p)
			if uploader != nil {
				uploader.Record(p)
			}
		case "sos":
			if err := coordinator.TriggerManual(ctx); err != nil {
				logger.Error("manual sos failed", "error", err)
			}
		case "cancel":
			coordinator.CancelTimer()
		default:
			logger.Warn("unknown sensor kind", "sensor", ev.Sensor)
		}
	}
	return scanner.Err()
}

// feedLocation serves the coordinator's location needs from the most recent
// fix seen on the feed. The sentinel has no direct GPS access, so RequestFix
// returns the same value as LastKnown.
type feedLocation struct {
	mu   sync.Mutex
	last *types.LocationPoint
}

func newFeedLocation() *feedLocation {
	return &feedLocation{}
}

func (f *feedLocation) Update(p types.LocationPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &p
}

func (f *feedLocation) LastKnown(ctx context.Context) (*types.LocationPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundActivity, "no location fix received yet", nil)
	}
	p := *f.last
	return &p, nil
}

func (f *feedLocation) RequestFix(ctx context.Context) (*types.LocationPoint, error) {
	return f.LastKnown(ctx)
}

// profileSource resolves emergency contacts through the TrekMate API and
// mirrors every successful fetch to a local cache file, which becomes the
// offline fallback.
type profileSource struct {
	api       *external.APIClient
	userID    string
	cachePath string
	logger    *slog.Logger
}

func (s *profileSource) LiveProfile(ctx context.Context) (*types.Profile, error) {
	p, err := s.api.LiveProfile(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	s.writeCache(p)
	return p, nil
}

func (s *profileSource) CachedProfile(ctx context.Context) (*types.Profile, error) {
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no cached profile available", err)
	}
	var p types.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "corrupt profile cache", err)
	}
	return &p, nil
}

func (s *profileSource) writeCache(p *types.Profile) {
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Warn("profile cache encode failed", "error", err)
		return
	}
	if err := os.WriteFile(s.cachePath, data, 0o600); err != nil {
		s.logger.Warn("profile cache write failed", "path", s.cachePath, "error", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("service", "sentinel")
}
