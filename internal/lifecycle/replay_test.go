package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplayTracker(t *testing.T) {
	t.Parallel()

	t.Run("unmarked key is not a replay", func(t *testing.T) {
		t.Parallel()

		tr := newReplayTracker(5*time.Minute, 16)
		assert.False(t, tr.Seen("a|succeeded"))
		tr.Mark("a|succeeded")
		assert.True(t, tr.Seen("a|succeeded"))
	})

	t.Run("checking never records", func(t *testing.T) {
		t.Parallel()

		tr := newReplayTracker(5*time.Minute, 16)
		assert.False(t, tr.Seen("a|succeeded"))
		// A check without a mark, as happens when the apply fails, leaves
		// the key free for the redelivery.
		assert.False(t, tr.Seen("a|succeeded"))
	})

	t.Run("distinct outcomes tracked independently", func(t *testing.T) {
		t.Parallel()

		tr := newReplayTracker(5*time.Minute, 16)
		tr.Mark("a|succeeded")
		assert.True(t, tr.Seen("a|succeeded"))
		assert.False(t, tr.Seen("a|failed"))
	})

	t.Run("entry expires after the window", func(t *testing.T) {
		t.Parallel()

		current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		tr := newReplayTracker(5*time.Minute, 16)
		tr.now = func() time.Time { return current }

		tr.Mark("a|succeeded")

		current = current.Add(4 * time.Minute)
		assert.True(t, tr.Seen("a|succeeded"), "inside the window")

		current = current.Add(10 * time.Minute)
		assert.False(t, tr.Seen("a|succeeded"), "past the window")
	})

	t.Run("capacity evicts oldest first", func(t *testing.T) {
		t.Parallel()

		tr := newReplayTracker(time.Hour, 2)
		tr.Mark("a")
		tr.Mark("b")
		tr.Mark("c") // evicts a

		assert.False(t, tr.Seen("a"), "evicted entry forgotten")
		assert.True(t, tr.Seen("b"))
		assert.True(t, tr.Seen("c"))
	})

	t.Run("re-mark survives eviction of the stale slot", func(t *testing.T) {
		t.Parallel()

		tr := newReplayTracker(time.Hour, 4)
		tr.Mark("a")
		// Re-marked: "a" now has a stale queue slot and a fresh one.
		// Evicting the stale slot must not forget the fresh mark.
		tr.Mark("a")
		tr.Mark("b")
		tr.Mark("c")
		tr.Mark("d") // exceeds capacity, evicts the stale "a" slot

		assert.True(t, tr.Seen("a"), "fresh mark must survive")
	})
}
