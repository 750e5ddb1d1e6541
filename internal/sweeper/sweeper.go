package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/channelgate/channelgate/internal/lifecycle"
	"github.com/channelgate/channelgate/pkg/logger"
)

// Coordinator is the slice of the lifecycle coordinator the sweeper drives.
type Coordinator interface {
	SweepExpired(ctx context.Context, now time.Time) ([]lifecycle.Effect, error)
}

// Executor carries out the revoke and notify instructions a sweep produced.
type Executor interface {
	Execute(ctx context.Context, effects []lifecycle.Effect) error
}

// Sweeper periodically expires overdue subscriptions and revokes access.
type Sweeper struct {
	coord    Coordinator
	exec     Executor
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

const defaultInterval = 24 * time.Hour

// Option configures optional Sweeper settings.
type Option func(*Sweeper)

// WithInterval overrides the sweep interval.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger supplies the sweeper's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a Sweeper. Panics if coord or exec is nil to fail fast
// during initialization.
func New(coord Coordinator, exec Executor, opts ...Option) *Sweeper {
	if coord == nil {
		panic("sweeper: coordinator is required")
	}
	if exec == nil {
		panic("sweeper: effect executor is required")
	}

	s := &Sweeper{
		coord:    coord,
		exec:     exec,
		interval: defaultInterval,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then on every tick until the context is
// canceled. Sweep or executor failures are logged and the loop continues;
// the next tick retries naturally.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one expiry pass. Effects are executed per user; a transport
// failure for one user never aborts the rest of the batch.
func (s *Sweeper) sweep(ctx context.Context) {
	now := s.now().UTC()

	effects, err := s.coord.SweepExpired(ctx, now)
	if err != nil {
		s.log.ErrorContext(ctx, "expiry sweep failed", logger.Error(err))
		return
	}
	if len(effects) == 0 {
		return
	}

	var errs []error
	for _, effect := range effects {
		if err := s.exec.Execute(ctx, []lifecycle.Effect{effect}); err != nil {
			errs = append(errs, err)
			s.log.ErrorContext(ctx, "failed to execute sweep effect",
				logger.UserID(effect.UserID), slog.String("kind", string(effect.Kind)),
				logger.Error(err))
		}
	}

	s.log.InfoContext(ctx, "expiry sweep finished",
		slog.Int("effects", len(effects)), slog.Int("failed", len(errs)))
	if len(errs) > 0 {
		s.log.WarnContext(ctx, "expiry sweep completed with errors", logger.Error(errors.Join(errs...)))
	}
}
