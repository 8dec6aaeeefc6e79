// Package sos implements the cancellable emergency-escalation pipeline: a
// countdown started by the fall detector (or bypassed by a manual trigger),
// emergency-contact resolution with cached fallback, at-most-once message
// dispatch through the notification gateway, and a best-effort nearby-trekker
// alert that can never fail the primary flow.
//
// The episode lifecycle is an explicit state machine driven by a single tick
// function:
//
//	Idle -> CountingDown -> Dispatching -> (Sent | Idle on failure)
//	        CountingDown -> Cancelled
//
// The at-most-once send guarantee is structural: only the transition into
// Dispatching permits a send, and that transition happens under the mutex
// before any I/O, so a timer expiry and a concurrent manual trigger cannot
// both pass.
package sos

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trekmate/internal/config"
	"trekmate/internal/notify"
	"trekmate/internal/types"
)

// Phase is the escalation episode state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseCountingDown Phase = "counting_down"
	PhaseDispatching  Phase = "dispatching"
	PhaseSent         Phase = "sent"
	PhaseCancelled    Phase = "cancelled"
)

// nearbyAlertTimeout bounds the detached nearby-trekker call so a hung
// server cannot leak goroutines indefinitely.
const nearbyAlertTimeout = 15 * time.Second

// LocationProvider resolves the user's current position. LastKnown returns
// the most recent tracked point, or nil when tracking has produced nothing
// yet; RequestFix performs a one-shot location request.
type LocationProvider interface {
	LastKnown(ctx context.Context) (*types.LocationPoint, error)
	RequestFix(ctx context.Context) (*types.LocationPoint, error)
}

// ContactSource resolves the user's profile. Live is preferred; Cached is
// the fallback when the network is unavailable.
type ContactSource interface {
	LiveProfile(ctx context.Context) (*types.Profile, error)
	CachedProfile(ctx context.Context) (*types.Profile, error)
}

// NearbyAlerter triggers the server-side nearby-trekker notification after a
// successful SOS. Its failures are logged and never surfaced.
type NearbyAlerter interface {
	AlertNearby(ctx context.Context, userID string, loc types.LocationPoint, at time.Time, reason types.TrekReason) error
}

// Coordinator owns one user's escalation episodes.
type Coordinator struct {
	cfg      config.SOSConfig
	userID   string
	userName string

	location LocationProvider
	contacts ContactSource
	gateway  notify.Gateway
	nearby   NearbyAlerter
	clock    types.Clock
	logger   *slog.Logger

	// tickInterval is one countdown second in real time. Injectable for tests.
	tickInterval time.Duration

	// onTick, when set, receives the remaining seconds after every tick.
	// Used by the device UI to render the countdown.
	onTick func(secondsLeft int)

	mu          sync.Mutex
	phase       Phase
	secondsLeft int
	stopTimer   chan struct{}
	lastSentAt  time.Time

	// nearbyWG lets tests wait for the detached nearby alert to finish.
	nearbyWG sync.WaitGroup
}

// CoordinatorConfig bundles the Coordinator dependencies.
type CoordinatorConfig struct {
	SOS      config.SOSConfig
	UserID   string
	UserName string
	Location LocationProvider
	Contacts ContactSource
	Gateway  notify.Gateway
	Nearby   NearbyAlerter
	Clock    types.Clock
	Logger   *slog.Logger
	OnTick   func(secondsLeft int)

	// TickInterval overrides the one-second countdown tick. Zero means 1s.
	TickInterval time.Duration
}

// NewCoordinator creates a Coordinator in the Idle phase.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.TickInterval
	if interval == 0 {
		interval = time.Second
	}
	return &Coordinator{
		cfg:          cfg.SOS,
		userID:       cfg.UserID,
		userName:     cfg.UserName,
		location:     cfg.Location,
		contacts:     cfg.Contacts,
		gateway:      cfg.Gateway,
		nearby:       cfg.Nearby,
		clock:        clock,
		logger:       logger,
		tickInterval: interval,
		onTick:       cfg.OnTick,
		phase:        PhaseIdle,
	}
}

// Phase returns the current episode phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SecondsLeft returns the remaining countdown seconds (0 outside a countdown).
func (c *Coordinator) SecondsLeft() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secondsLeft
}

// LastSentAt returns when the last SOS was successfully sent (zero if never).
func (c *Coordinator) LastSentAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSentAt
}

// StartTimer begins a new countdown episode. It is ignored when a countdown
// is already running or a dispatch is in flight; a finished episode (Sent,
// Cancelled, Idle) starts fresh. Returns whether a countdown was started.
func (c *Coordinator) StartTimer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseCountingDown, PhaseDispatching:
		return false
	}

	c.phase = PhaseCountingDown
	c.secondsLeft = c.cfg.CountdownSeconds
	c.stopTimer = make(chan struct{})
	go c.runCountdown(c.stopTimer)

	c.logger.Warn("sos countdown started", "seconds", c.secondsLeft)
	return true
}

// CancelTimer aborts a running countdown and fully resets the episode.
// Cancellation always succeeds; cancelling when no countdown is running is a
// no-op. A cancelled episode sends nothing.
func (c *Coordinator) CancelTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseCountingDown {
		return
	}
	close(c.stopTimer)
	c.stopTimer = nil
	c.secondsLeft = 0
	c.phase = PhaseCancelled
	c.logger.Info("sos countdown cancelled")
}

// TriggerManual dispatches an SOS immediately, bypassing the countdown. A
// running countdown is absorbed into the manual episode. When a dispatch is
// already in flight the trigger is ignored: the episode's message is already
// on its way.
func (c *Coordinator) TriggerManual(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == PhaseDispatching {
		c.mu.Unlock()
		c.logger.Info("manual sos ignored, dispatch already in flight")
		return nil
	}
	if c.phase == PhaseCountingDown {
		close(c.stopTimer)
		c.stopTimer = nil
		c.secondsLeft = 0
	}
	c.phase = PhaseDispatching
	c.mu.Unlock()

	return c.dispatch(ctx, types.ReasonManual)
}

// runCountdown drives the ticking for one episode. It exits when the episode
// is cancelled or the countdown reaches zero.
func (c *Coordinator) runCountdown(stop <-chan struct{}) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if done := c.tick(); done {
				return
			}
		}
	}
}

// tick advances the countdown by one second. On expiry it transitions the
// episode into Dispatching (the structural send guard) and performs the
// dispatch. Returns true when the countdown is finished.
func (c *Coordinator) tick() bool {
	c.mu.Lock()
	if c.phase != PhaseCountingDown {
		// Cancelled or absorbed by a manual trigger between ticks.
		c.mu.Unlock()
		return true
	}
	c.secondsLeft--
	left := c.secondsLeft
	expired := left <= 0
	if expired {
		c.phase = PhaseDispatching
		c.stopTimer = nil
	}
	cb := c.onTick
	c.mu.Unlock()

	if cb != nil {
		cb(left)
	}
	if !expired {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := c.dispatch(ctx, types.ReasonFall); err != nil {
		c.logger.Error("sos dispatch after countdown failed", "error", err)
	}
	return true
}

// dispatch performs the actual escalation. The caller must have already
// transitioned the episode into Dispatching. On any failure the episode
// returns to Idle so the user can retry; after a confirmed successful send
// the episode is Sent and is never rolled back.
func (c *Coordinator) dispatch(ctx context.Context, reason types.TrekReason) error {
	loc, err := c.resolveLocation(ctx)
	if err != nil {
		c.failEpisode()
		return err
	}

	contacts, err := c.resolveContacts(ctx)
	if err != nil {
		c.failEpisode()
		return err
	}

	now := c.clock.Now()
	message := ComposeSOS(c.userName, *loc, now, reason)

	if err := c.gateway.Send(ctx, contacts, message); err != nil {
		c.failEpisode()
		c.logger.Error("sos send failed", "reason", reason, "error", err)
		return err
	}

	c.mu.Lock()
	c.lastSentAt = now
	c.phase = PhaseSent
	c.secondsLeft = 0
	c.mu.Unlock()
	c.logger.Warn("sos sent", "reason", reason, "contacts", len(contacts))

	c.alertNearbyDetached(*loc, now, reason)
	return nil
}

// failEpisode resets a failed dispatch so a future episode can fire.
func (c *Coordinator) failEpisode() {
	c.mu.Lock()
	c.phase = PhaseIdle
	c.secondsLeft = 0
	c.mu.Unlock()
}

// resolveLocation prefers the last known tracked point and falls back to a
// one-shot fix. The dispatch fails when neither is available.
func (c *Coordinator) resolveLocation(ctx context.Context) (*types.LocationPoint, error) {
	loc, err := c.location.LastKnown(ctx)
	if err == nil && loc != nil {
		return loc, nil
	}
	if err != nil {
		c.logger.Warn("last known location unavailable", "error", err)
	}

	loc, err = c.location.RequestFix(ctx)
	if err != nil || loc == nil {
		return nil, types.NewAppError(types.ErrCodeResourceNoLocation,
			"current location unavailable", err)
	}
	return loc, nil
}

// resolveContacts prefers the live profile and falls back to the cached
// copy. The dispatch fails when no contact has a usable phone number.
func (c *Coordinator) resolveContacts(ctx context.Context) ([]types.EmergencyContact, error) {
	profile, err := c.contacts.LiveProfile(ctx)
	if err != nil || profile == nil {
		if err != nil {
			c.logger.Warn("live profile unavailable, using cache", "error", err)
		}
		profile, err = c.contacts.CachedProfile(ctx)
		if err != nil || profile == nil {
			return nil, types.NewAppError(types.ErrCodeResourceNoContact,
				"emergency contacts unavailable", err)
		}
	}

	usable := profile.UsableContacts()
	if len(usable) == 0 {
		return nil, types.NewAppError(types.ErrCodeResourceNoContact,
			"no emergency contact has a phone number", nil)
	}
	return usable, nil
}

// alertNearbyDetached fires the nearby-trekker notification in its own
// goroutine with its own context and error boundary. A slow or failing (or
// panicking) nearby call can neither delay nor fail the already-completed
// primary dispatch.
func (c *Coordinator) alertNearbyDetached(loc types.LocationPoint, at time.Time, reason types.TrekReason) {
	if c.nearby == nil {
		return
	}
	c.nearbyWG.Add(1)
	go func() {
		defer c.nearbyWG.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("nearby alert panicked", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), nearbyAlertTimeout)
		defer cancel()
		if err := c.nearby.AlertNearby(ctx, c.userID, loc, at, reason); err != nil {
			c.logger.Error("nearby alert failed", "error", err)
		}
	}()
}

// WaitNearby blocks until all detached nearby alerts have finished. Intended
// for tests and graceful shutdown.
func (c *Coordinator) WaitNearby() {
	c.nearbyWG.Wait()
}
