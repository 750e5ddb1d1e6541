package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelgate/channelgate/internal/lifecycle"
	"github.com/channelgate/channelgate/internal/sweeper"
)

type stubCoordinator struct {
	mu      sync.Mutex
	calls   []time.Time
	effects []lifecycle.Effect
	err     error
}

func (s *stubCoordinator) SweepExpired(_ context.Context, now time.Time) ([]lifecycle.Effect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, now)
	return s.effects, s.err
}

func (s *stubCoordinator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingExecutor struct {
	mu       sync.Mutex
	executed []lifecycle.Effect
	failFor  map[int64]error
}

func (e *recordingExecutor) Execute(_ context.Context, effects []lifecycle.Effect) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, effects...)
	for _, effect := range effects {
		if err, ok := e.failFor[effect.UserID]; ok {
			return err
		}
	}
	return nil
}

func (e *recordingExecutor) executedEffects() []lifecycle.Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]lifecycle.Effect(nil), e.executed...)
}

func TestSweeperRun(t *testing.T) {
	t.Parallel()

	t.Run("sweeps immediately on start", func(t *testing.T) {
		t.Parallel()

		coord := &stubCoordinator{}
		sw := sweeper.New(coord, &recordingExecutor{}, sweeper.WithInterval(time.Hour))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sw.Run(ctx) }()

		require.Eventually(t, func() bool { return coord.callCount() >= 1 },
			time.Second, 10*time.Millisecond)
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("sweeps on every tick", func(t *testing.T) {
		t.Parallel()

		coord := &stubCoordinator{}
		sw := sweeper.New(coord, &recordingExecutor{}, sweeper.WithInterval(20*time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sw.Run(ctx) }()

		require.Eventually(t, func() bool { return coord.callCount() >= 3 },
			time.Second, 5*time.Millisecond)
		cancel()
		<-done
	})

	t.Run("executes effects per user and survives failures", func(t *testing.T) {
		t.Parallel()

		coord := &stubCoordinator{effects: []lifecycle.Effect{
			{Kind: lifecycle.EffectRevokeAccess, UserID: 1},
			{Kind: lifecycle.EffectNotify, UserID: 1, Message: "expired"},
			{Kind: lifecycle.EffectRevokeAccess, UserID: 2},
			{Kind: lifecycle.EffectNotify, UserID: 2, Message: "expired"},
		}}
		exec := &recordingExecutor{failFor: map[int64]error{1: errors.New("transport down")}}
		sw := sweeper.New(coord, exec, sweeper.WithInterval(time.Hour))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sw.Run(ctx) }()

		// A failure for user 1 must not stop user 2 from being processed.
		require.Eventually(t, func() bool { return len(exec.executedEffects()) == 4 },
			time.Second, 10*time.Millisecond)
		cancel()
		<-done
	})

	t.Run("coordinator failure keeps the loop alive", func(t *testing.T) {
		t.Parallel()

		coord := &stubCoordinator{err: errors.New("store down")}
		sw := sweeper.New(coord, &recordingExecutor{}, sweeper.WithInterval(20*time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sw.Run(ctx) }()

		require.Eventually(t, func() bool { return coord.callCount() >= 2 },
			time.Second, 5*time.Millisecond)
		cancel()
		<-done
	})

	t.Run("passes the configured clock's time", func(t *testing.T) {
		t.Parallel()

		fixed := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		coord := &stubCoordinator{}
		sw := sweeper.New(coord, &recordingExecutor{},
			sweeper.WithInterval(time.Hour),
			sweeper.WithClock(func() time.Time { return fixed }))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sw.Run(ctx) }()

		require.Eventually(t, func() bool { return coord.callCount() >= 1 },
			time.Second, 10*time.Millisecond)
		cancel()
		<-done

		coord.mu.Lock()
		defer coord.mu.Unlock()
		assert.Equal(t, fixed, coord.calls[0])
	})
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { sweeper.New(nil, &recordingExecutor{}) })
	assert.Panics(t, func() { sweeper.New(&stubCoordinator{}, nil) })
}
