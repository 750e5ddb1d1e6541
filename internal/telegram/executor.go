package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/channelgate/channelgate/internal/lifecycle"
	"github.com/channelgate/channelgate/pkg/backoff"
	"github.com/channelgate/channelgate/pkg/logger"
)

// transport is the slice of the Bot API client the executor uses.
type transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	CreateInviteLink(ctx context.Context, userID int64) (string, error)
	KickMember(ctx context.Context, userID int64) error
}

// Executor turns lifecycle effect instructions into Bot API calls.
type Executor struct {
	tr       transport
	retry    backoff.Strategy
	attempts int
	log      *slog.Logger
}

const defaultAttempts = 3

// ExecutorOption configures optional Executor settings.
type ExecutorOption func(*Executor)

// WithRetry overrides the retry strategy and attempt count for outbound
// delivery.
func WithRetry(strategy backoff.Strategy, attempts int) ExecutorOption {
	return func(e *Executor) {
		if strategy != nil && attempts > 0 {
			e.retry = strategy
			e.attempts = attempts
		}
	}
}

// WithExecutorLogger supplies the executor's logger.
func WithExecutorLogger(log *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// NewExecutor creates an effect executor over the given transport. Panics
// if tr is nil to fail fast during initialization.
func NewExecutor(tr transport, opts ...ExecutorOption) *Executor {
	if tr == nil {
		panic("telegram: transport is required")
	}

	e := &Executor{
		tr:       tr,
		retry:    backoff.Default(),
		attempts: defaultAttempts,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies each effect in order, continuing past individual
// failures and returning them joined. Partial delivery is acceptable; the
// lifecycle state is already committed and a lost notification must not
// undo it.
func (e *Executor) Execute(ctx context.Context, effects []lifecycle.Effect) error {
	var errs []error
	for _, effect := range effects {
		var err error
		switch effect.Kind {
		case lifecycle.EffectGrantAccess:
			err = e.grant(ctx, effect)
		case lifecycle.EffectRevokeAccess:
			err = e.revoke(ctx, effect)
		case lifecycle.EffectNotify:
			err = e.notify(ctx, effect.UserID, effect.Message)
		default:
			err = fmt.Errorf("unrecognized effect kind %q", effect.Kind)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("effect %s for user %d: %w", effect.Kind, effect.UserID, err))
		}
	}
	return errors.Join(errs...)
}

// grant creates a fresh single-use invite link and delivers it together
// with the confirmation message.
func (e *Executor) grant(ctx context.Context, effect lifecycle.Effect) error {
	link, err := e.withRetry(ctx, func() (string, error) {
		return e.tr.CreateInviteLink(ctx, effect.UserID)
	})
	if err != nil {
		return fmt.Errorf("create invite link: %w", err)
	}

	text := effect.Message
	if text != "" {
		text += "\n\n"
	}
	text += "Your invite link to the channel: " + link

	if err := e.notify(ctx, effect.UserID, text); err != nil {
		return fmt.Errorf("deliver invite link: %w", err)
	}

	e.log.InfoContext(ctx, "access granted", logger.UserID(effect.UserID))
	return nil
}

func (e *Executor) revoke(ctx context.Context, effect lifecycle.Effect) error {
	_, err := e.withRetry(ctx, func() (string, error) {
		return "", e.tr.KickMember(ctx, effect.UserID)
	})
	if err != nil {
		return fmt.Errorf("kick member: %w", err)
	}
	e.log.InfoContext(ctx, "access revoked", logger.UserID(effect.UserID))
	return nil
}

func (e *Executor) notify(ctx context.Context, userID int64, text string) error {
	if text == "" {
		return nil
	}
	_, err := e.withRetry(ctx, func() (string, error) {
		return "", e.tr.SendMessage(ctx, userID, text)
	})
	return err
}

func (e *Executor) withRetry(ctx context.Context, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == e.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", errors.Join(lastErr, ctx.Err())
		case <-time.After(e.retry.NextInterval(attempt)):
		}
	}
	return "", lastErr
}
