package lifecycle

import (
	"sync"
	"time"
)

// replayTracker suppresses exact webhook redeliveries. The provider offers
// no exactly-once guarantee, so an identical (payment_ref, outcome) pair
// arriving again within the window is treated as a duplicate and must not
// extend the expiry a second time. Only applied events are tracked: Mark is
// called after the state transition commits, so a failed apply leaves the
// pair unrecorded and a redelivery gets a fresh attempt. The tracker is
// in-process and capacity-bounded; it intentionally does not survive
// restarts.
type replayTracker struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	seen     map[string]time.Time
	order    []replayEntry
	now      func() time.Time
}

type replayEntry struct {
	key string
	at  time.Time
}

func newReplayTracker(window time.Duration, capacity int) *replayTracker {
	return &replayTracker{
		window:   window,
		capacity: capacity,
		seen:     make(map[string]time.Time, capacity),
		now:      time.Now,
	}
}

// Seen reports whether the key was marked within the window.
func (t *replayTracker) Seen(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.seen[key]
	return ok && t.now().Sub(at) < t.window
}

// Mark records the key as applied now. Oldest entries are evicted once
// capacity is exceeded.
func (t *replayTracker) Mark(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.seen[key] = now
	t.order = append(t.order, replayEntry{key: key, at: now})

	for len(t.order) > t.capacity {
		oldest := t.order[0]
		t.order = t.order[1:]
		// A re-marked key appears twice in order; only drop the map entry
		// the evicted slot actually refers to.
		if at, ok := t.seen[oldest.key]; ok && at.Equal(oldest.at) {
			delete(t.seen, oldest.key)
		}
	}
}
