package throttle

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for throttle tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_ShouldFire_OncePerWindow(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()
	key := Key{Scope: "club_1", Type: "LAGGING", Subject: "user_9"}
	window := 60 * time.Second

	fired, err := store.ShouldFire(ctx, key, window)
	if err != nil || !fired {
		t.Fatalf("first call = (%v, %v), want (true, nil)", fired, err)
	}

	// Same key 10ms later must be suppressed.
	clock.Advance(10 * time.Millisecond)
	fired, err = store.ShouldFire(ctx, key, window)
	if err != nil || fired {
		t.Fatalf("second call within window = (%v, %v), want (false, nil)", fired, err)
	}

	// After the window elapses it fires again.
	clock.Advance(61 * time.Second)
	fired, err = store.ShouldFire(ctx, key, window)
	if err != nil || !fired {
		t.Fatalf("call after window = (%v, %v), want (true, nil)", fired, err)
	}
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	store := NewMemoryStore(newFakeClock())
	ctx := context.Background()
	window := time.Minute

	a := Key{Scope: "club_1", Type: "LAGGING", Subject: "user_1"}
	b := Key{Scope: "club_1", Type: "LAGGING", Subject: "user_2"}
	c := Key{Scope: "club_1", Type: "TIRED", Subject: "user_1"}

	for _, k := range []Key{a, b, c} {
		fired, err := store.ShouldFire(ctx, k, window)
		if err != nil || !fired {
			t.Fatalf("key %v first fire = (%v, %v), want (true, nil)", k, fired, err)
		}
	}
	for _, k := range []Key{a, b, c} {
		fired, _ := store.ShouldFire(ctx, k, window)
		if fired {
			t.Fatalf("key %v fired twice within window", k)
		}
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()

	short := Key{Scope: "club_1", Type: "LAGGING", Subject: "a"}
	long := Key{Scope: "club_1", Type: "TIRED", Subject: "b"}
	if _, err := store.ShouldFire(ctx, short, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ShouldFire(ctx, long, time.Hour); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Minute)
	if err := store.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if got := store.Len(); got != 1 {
		t.Fatalf("after sweep Len() = %d, want 1 (only hour-window entry)", got)
	}

	// The swept key fires again immediately.
	fired, _ := store.ShouldFire(ctx, short, time.Minute)
	if !fired {
		t.Fatal("swept key did not fire")
	}
}

func TestKeyString(t *testing.T) {
	k := Key{Scope: "club_7", Type: "PACE_MISMATCH", Subject: ""}
	if got := k.String(); got != "club_7:PACE_MISMATCH:" {
		t.Fatalf("String() = %q", got)
	}
}
