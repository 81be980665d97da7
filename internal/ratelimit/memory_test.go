package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const (
	testMax    = 3
	testWindow = 60 * time.Second
)

func TestAllow_FourthCallDenied(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	expected := []bool{true, true, true, false}
	for i, want := range expected {
		if got := store.Allow("1.2.3.4", testMax, testWindow); got != want {
			t.Errorf("Call %d: expected %v, got %v", i+1, want, got)
		}
	}
}

func TestAllow_WindowResetWithoutBlock(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	for i := 0; i < testMax; i++ {
		if !store.Allow("id", testMax, testWindow) {
			t.Fatalf("Call %d unexpectedly denied", i+1)
		}
	}

	clock.Advance(testWindow + time.Millisecond)
	if !store.Allow("id", testMax, testWindow) {
		t.Error("Expected call after window to be allowed")
	}

	rec, ok := store.Get("id")
	if !ok {
		t.Fatal("Expected record to exist")
	}
	if rec.Count != 1 {
		t.Errorf("Expected count reset to 1, got %d", rec.Count)
	}
}

func TestAllow_ExactWindowBoundaryDoesNotReset(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	for i := 0; i < testMax; i++ {
		store.Allow("id", testMax, testWindow)
	}
	clock.Advance(testWindow)
	if store.Allow("id", testMax, testWindow) {
		t.Error("Expected call at exactly windowStart+window to count in the same window")
	}
}

func TestAllow_BlockPersists(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	for i := 0; i < testMax+1; i++ {
		store.Allow("id", testMax, testWindow)
	}

	if store.Allow("id", testMax, testWindow) {
		t.Error("Expected 5th call immediately after block to be denied")
	}

	clock.Advance(testWindow - time.Second)
	if store.Allow("id", testMax, testWindow) {
		t.Error("Expected block to hold for the rest of the window")
	}
}

func TestAllow_WindowResetClearsBlock(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	for i := 0; i < testMax; i++ {
		if !store.Allow("id", testMax, testWindow) {
			t.Fatalf("Call %d unexpectedly denied", i+1)
		}
	}

	clock.Advance(50 * time.Second)
	if store.Allow("id", testMax, testWindow) {
		t.Fatal("Expected 4th call inside the window to be denied")
	}

	clock.Advance(11 * time.Second)
	if !store.Allow("id", testMax, testWindow) {
		t.Error("Expected call after the window elapsed to be allowed")
	}

	rec, _ := store.Get("id")
	if rec.Blocked || !rec.BlockedUntil.IsZero() {
		t.Errorf("Expected block cleared on window reset, got %+v", rec)
	}
	if rec.Count != 1 {
		t.Errorf("Expected fresh window count 1, got %d", rec.Count)
	}
}

func TestStep_BlockTimerClears(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	// A block left over from a longer window expires on its own timer
	rec := &Record{Count: 4, WindowStart: start, Blocked: true, BlockedUntil: start.Add(30 * time.Second)}

	if d := step(rec, start.Add(20*time.Second), testMax, testWindow); d.Allowed {
		t.Error("Expected call before the block timer to be denied")
	} else if d.RetryAfter != 10*time.Second {
		t.Errorf("Expected RetryAfter 10s, got %v", d.RetryAfter)
	}

	if d := step(rec, start.Add(31*time.Second), testMax, testWindow); !d.Allowed {
		t.Error("Expected call after the block timer to be allowed")
	}
}

func TestCheck_RetryAfter(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < testMax; i++ {
		d, err := store.Check(ctx, "id", testMax, testWindow)
		if err != nil || !d.Allowed || d.RetryAfter != 0 {
			t.Fatalf("Unexpected decision %+v err %v", d, err)
		}
	}

	d, _ := store.Check(ctx, "id", testMax, testWindow)
	if d.Allowed {
		t.Fatal("Expected denial")
	}
	want := testWindow + time.Millisecond
	if d.RetryAfter != want {
		t.Errorf("Expected RetryAfter %v, got %v", want, d.RetryAfter)
	}

	clock.Advance(30 * time.Second)
	d, _ = store.Check(ctx, "id", testMax, testWindow)
	if d.RetryAfter != want-30*time.Second {
		t.Errorf("Expected time left in the window, got %v", d.RetryAfter)
	}
}

func TestAllow_IdentitiesIndependent(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < testMax+1; i++ {
		store.Allow("a", testMax, testWindow)
	}
	if !store.Allow("b", testMax, testWindow) {
		t.Error("Expected a different identity to be unaffected")
	}
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now), WithRetention(time.Hour))

	store.Allow("old", testMax, testWindow)
	// Long block that is still active at sweep time
	for i := 0; i < 3; i++ {
		store.Allow("blocked", 1, 2*time.Hour)
	}

	clock.Advance(2 * time.Hour)
	store.Allow("fresh", testMax, testWindow)
	clock.Advance(30 * time.Minute)

	if n := store.Sweep(); n != 1 {
		t.Errorf("Expected 1 record purged, got %d", n)
	}
	if _, ok := store.Get("old"); ok {
		t.Error("Expected stale record to be purged")
	}
	if _, ok := store.Get("fresh"); !ok {
		t.Error("Expected recent record to survive")
	}
	if _, ok := store.Get("blocked"); !ok {
		t.Error("Expected actively blocked record to survive")
	}
}

func TestStartJanitor(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now), WithRetention(time.Minute))
	store.Allow("id", testMax, testWindow)
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartJanitor(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Janitor did not purge the stale record")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAllow_ConcurrentExactlyMaxPass(t *testing.T) {
	store := NewMemoryStore()
	const goroutines = 50

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Allow("shared", testMax, time.Hour) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != testMax {
		t.Errorf("Expected exactly %d concurrent requests allowed, got %d", testMax, got)
	}
}

// Property: within one window at most max calls are allowed, and every call
// after the first denial is denied until the window resets. Gaps keep every
// call inside the first window.
func TestProperty_WindowBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRequests := rapid.IntRange(1, 10).Draw(t, "max")
		calls := rapid.IntRange(1, 30).Draw(t, "calls")

		clock := newFakeClock()
		store := NewMemoryStore(WithClock(clock.Now))

		allowed := 0
		denied := false
		for i := 0; i < calls; i++ {
			ok := store.Allow("id", maxRequests, testWindow)
			if ok {
				if denied {
					t.Fatalf("call %d allowed after a denial inside the block", i+1)
				}
				allowed++
			} else {
				denied = true
			}
			clock.Advance(time.Duration(rapid.IntRange(0, 1000).Draw(t, "gap")) * time.Millisecond)
		}
		if allowed > maxRequests {
			t.Fatalf("allowed %d calls with max %d", allowed, maxRequests)
		}
	})
}
