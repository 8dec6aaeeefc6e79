// Package throttle implements the keyed alert rate limiter shared by the
// club analyzer and the nearby-trekker notifier: "has event type X for
// subject Y fired within window W?".
//
// The Store interface is injectable so call sites can run against the
// in-memory map in tests and single-instance deployments, or against Redis
// when multiple API instances must share cooldown state. The in-memory store
// resets on process restart and accepts races under concurrent load; it is a
// best-effort rate limiter, not a correctness guarantee.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trekmate/internal/types"
)

// Key identifies one throttled event stream. Scope is the owning entity
// (e.g. a club id), Type the event type, Subject the affected member.
type Key struct {
	Scope   string
	Type    string
	Subject string
}

// String renders the key in its canonical "scope:type:subject" form.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Scope, k.Type, k.Subject)
}

// Store answers whether an event should fire now, recording the firing when
// it does. Implementations must treat a missing or expired entry as "fire".
type Store interface {
	// ShouldFire returns true and records now if no prior record exists for
	// key, or the prior record is older than window. Returns false otherwise.
	ShouldFire(ctx context.Context, key Key, window time.Duration) (bool, error)

	// Sweep removes expired entries. Implementations backed by stores with
	// native TTL may treat this as a no-op.
	Sweep(ctx context.Context) error
}

// entry is one recorded firing in the in-memory store.
type entry struct {
	firedAt time.Time
	window  time.Duration
}

// MemoryStore is the process-local Store. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   types.Clock
}

// NewMemoryStore creates an in-memory Store. A nil clock defaults to the
// real system clock.
func NewMemoryStore(clock types.Clock) *MemoryStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryStore{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// ShouldFire implements Store.
func (s *MemoryStore) ShouldFire(_ context.Context, key Key, window time.Duration) (bool, error) {
	now := s.clock.Now()
	k := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[k]; ok && now.Sub(e.firedAt) < window {
		return false, nil
	}
	s.entries[k] = entry{firedAt: now, window: window}
	return true, nil
}

// Sweep removes all entries older than their recorded window.
func (s *MemoryStore) Sweep(_ context.Context) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		if now.Sub(e.firedAt) >= e.window {
			delete(s.entries, k)
		}
	}
	return nil
}

// Len returns the number of live entries. Intended for tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
