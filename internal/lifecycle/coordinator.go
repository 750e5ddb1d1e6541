package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/channelgate/channelgate/internal/gateway"
	"github.com/channelgate/channelgate/internal/offer"
	"github.com/channelgate/channelgate/internal/subscriber"
	"github.com/channelgate/channelgate/pkg/logger"
)

// Outcome is the normalized result of a payment attempt as reported by the
// provider webhook.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Checkout is what the purchase requester gets back: the hosted payment page
// and the reference under which the provider will later report the outcome.
type Checkout struct {
	URL        string
	PaymentRef string
}

// Option configures optional coordinator settings.
type Option func(*Coordinator)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
			c.replay.now = now
		}
	}
}

// WithLogger supplies the coordinator's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithReplayWindow overrides the duplicate-webhook suppression window and
// tracker capacity.
func WithReplayWindow(window time.Duration, capacity int) Option {
	return func(c *Coordinator) {
		if window > 0 && capacity > 0 {
			c.replay = newReplayTracker(window, capacity)
			c.replay.now = c.now
		}
	}
}

// Coordinator reconciles the three asynchronous signals — purchase requests,
// provider webhook events, and the periodic expiry sweep — into one
// consistent membership decision per user. It owns all state transitions;
// side effects are returned as instructions, never executed here.
type Coordinator struct {
	store  subscriber.Store
	gw     gateway.Gateway
	offer  offer.Offer
	replay *replayTracker
	now    func() time.Time
	log    *slog.Logger

	// Per-user mutation lock: a webhook and a purchase request for the same
	// user must not interleave their read-modify-write cycles.
	locksMu sync.Mutex
	locks   map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// defaultReplayWindow bounds how long an exact (payment_ref, outcome) repeat
// is treated as a redelivery rather than a genuine renewal.
const (
	defaultReplayWindow   = 5 * time.Minute
	defaultReplayCapacity = 512
)

// New creates a Coordinator. Panics if store or gw is nil to fail fast
// during initialization.
func New(store subscriber.Store, gw gateway.Gateway, off offer.Offer, opts ...Option) *Coordinator {
	if store == nil {
		panic("lifecycle: subscriber store is required")
	}
	if gw == nil {
		panic("lifecycle: payment gateway is required")
	}

	c := &Coordinator{
		store:  store,
		gw:     gw,
		offer:  off,
		replay: newReplayTracker(defaultReplayWindow, defaultReplayCapacity),
		now:    time.Now,
		log:    slog.Default(),
		locks:  make(map[int64]*userLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestPurchase creates a payment invoice for the user and records the
// pending attempt. A new request replaces any prior payment reference for
// the user (latest attempt wins); the record is left untouched when the
// gateway call fails, so no pending state ever exists without a valid
// reference.
func (c *Coordinator) RequestPurchase(ctx context.Context, userID int64, username string) (*Checkout, error) {
	unlock := c.lockUser(userID)
	defer unlock()

	inv, err := c.gw.CreateInvoice(ctx, gateway.InvoiceRequest{
		OrderID:     uuid.New(),
		UserID:      userID,
		OfferID:     c.offer.OfferID,
		Currency:    c.offer.Currency,
		Amount:      c.offer.Price,
		Periodicity: c.offer.PeriodDays,
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice for user %d: %w", userID, err)
	}

	rec, err := c.store.Get(ctx, userID)
	switch {
	case errors.Is(err, subscriber.ErrNotFound):
		rec = &subscriber.Record{UserID: userID}
	case err != nil:
		return nil, fmt.Errorf("load subscriber %d: %w", userID, err)
	}

	if username != "" {
		rec.Username = username
	}
	rec.PaymentRef = inv.PaymentRef
	// An early renewal keeps access intact; everyone else enters pending.
	if rec.Status != subscriber.StatusActive {
		rec.Status = subscriber.StatusPending
		rec.ExpiryAt = nil
	}

	if err := c.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("record pending purchase for user %d: %w", userID, err)
	}

	c.log.InfoContext(ctx, "purchase requested",
		logger.UserID(userID), logger.PaymentRef(inv.PaymentRef))

	return &Checkout{URL: inv.PaymentURL, PaymentRef: inv.PaymentRef}, nil
}

// ApplyPaymentEvent applies a provider-reported payment outcome to the
// subscriber identified by the payment reference and returns the side
// effects to execute. An exact redelivery within the replay window is a
// no-op. periodDays <= 0 falls back to the configured offer period.
func (c *Coordinator) ApplyPaymentEvent(ctx context.Context, ref string, outcome Outcome, periodDays int) ([]Effect, error) {
	probe, err := c.store.GetByPaymentRef(ctx, ref)
	if err != nil {
		if errors.Is(err, subscriber.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPaymentRef, ref)
		}
		return nil, fmt.Errorf("lookup payment ref %s: %w", ref, err)
	}

	unlock := c.lockUser(probe.UserID)
	defer unlock()

	// Re-read under the lock: a concurrent purchase request may have
	// replaced the reference while we waited.
	rec, err := c.store.GetByPaymentRef(ctx, ref)
	if err != nil {
		if errors.Is(err, subscriber.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPaymentRef, ref)
		}
		return nil, fmt.Errorf("lookup payment ref %s: %w", ref, err)
	}

	replayKey := ref + "|" + string(outcome)
	if c.replay.Seen(replayKey) {
		c.log.InfoContext(ctx, "duplicate payment event suppressed",
			logger.UserID(rec.UserID), logger.PaymentRef(ref),
			slog.String("outcome", string(outcome)))
		return nil, nil
	}

	if periodDays <= 0 {
		periodDays = c.offer.PeriodDays
	}

	var effects []Effect
	switch outcome {
	case OutcomeSucceeded:
		effects, err = c.applySucceeded(ctx, rec, periodDays)
	case OutcomeFailed:
		effects, err = c.applyFailed(ctx, rec)
	default:
		c.log.WarnContext(ctx, "unrecognized payment outcome ignored",
			logger.PaymentRef(ref), slog.String("outcome", string(outcome)))
		return nil, nil
	}
	if err != nil {
		// Nothing committed, so nothing is marked: a provider redelivery
		// must get a fresh attempt rather than a duplicate suppression.
		return nil, err
	}

	c.replay.Mark(replayKey)
	return effects, nil
}

func (c *Coordinator) applySucceeded(ctx context.Context, rec *subscriber.Record, periodDays int) ([]Effect, error) {
	wasActive := rec.Status == subscriber.StatusActive

	now := c.now().UTC()
	expiry := now.AddDate(0, 0, periodDays)
	rec.Status = subscriber.StatusActive
	rec.ExpiryAt = &expiry

	if err := c.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("activate subscriber %d: %w", rec.UserID, err)
	}

	c.log.InfoContext(ctx, "payment succeeded",
		logger.UserID(rec.UserID), logger.PaymentRef(rec.PaymentRef),
		slog.Time("expiry_at", expiry), slog.Bool("renewal", wasActive))

	if wasActive {
		return []Effect{
			{Kind: EffectNotify, UserID: rec.UserID, Message: msgRenewalConfirmed(expiry)},
		}, nil
	}
	return []Effect{
		{Kind: EffectGrantAccess, UserID: rec.UserID, Message: msgPaymentConfirmed(expiry)},
	}, nil
}

func (c *Coordinator) applyFailed(ctx context.Context, rec *subscriber.Record) ([]Effect, error) {
	switch rec.Status {
	case subscriber.StatusActive:
		// Renewal failure: access was held and must be withdrawn.
		rec.Status = subscriber.StatusExpired
		if err := c.store.Upsert(ctx, rec); err != nil {
			return nil, fmt.Errorf("expire subscriber %d: %w", rec.UserID, err)
		}
		c.log.InfoContext(ctx, "renewal payment failed",
			logger.UserID(rec.UserID), logger.PaymentRef(rec.PaymentRef))
		return []Effect{
			{Kind: EffectRevokeAccess, UserID: rec.UserID},
			{Kind: EffectNotify, UserID: rec.UserID, Message: msgRenewalFailed},
		}, nil

	case subscriber.StatusPending:
		// Initial purchase failure: access was never granted.
		rec.Status = subscriber.StatusCanceled
		if err := c.store.Upsert(ctx, rec); err != nil {
			return nil, fmt.Errorf("cancel subscriber %d: %w", rec.UserID, err)
		}
		c.log.InfoContext(ctx, "initial payment failed",
			logger.UserID(rec.UserID), logger.PaymentRef(rec.PaymentRef))
		return []Effect{
			{Kind: EffectNotify, UserID: rec.UserID, Message: msgPaymentFailed},
		}, nil

	default:
		// Terminal already; acknowledge without touching the record.
		c.log.InfoContext(ctx, "payment failure for terminal record ignored",
			logger.UserID(rec.UserID), logger.PaymentRef(rec.PaymentRef),
			slog.String("status", string(rec.Status)))
		return nil, nil
	}
}

// SweepExpired transitions every active subscription past its expiry to
// expired and returns the revoke and notify instructions for the affected
// users. The store performs the condition and the update as one atomic
// operation, so a renewal applied concurrently is never clobbered back.
// Each user is re-read under their lock before the revoke is emitted: a
// renewal that landed between the flip and this check re-activated the
// record, and kicking that user now would punish a paid subscriber.
func (c *Coordinator) SweepExpired(ctx context.Context, now time.Time) ([]Effect, error) {
	ids, err := c.store.ExpireDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("expire due subscriptions: %w", err)
	}

	effects := make([]Effect, 0, len(ids)*2)
	for _, id := range ids {
		if c.regainedAccess(ctx, id) {
			c.log.InfoContext(ctx, "revocation skipped, renewal landed during sweep",
				logger.UserID(id))
			continue
		}
		effects = append(effects,
			Effect{Kind: EffectRevokeAccess, UserID: id},
			Effect{Kind: EffectNotify, UserID: id, Message: msgExpired},
		)
	}

	if len(ids) > 0 {
		c.log.InfoContext(ctx, "expiry sweep completed",
			slog.Int("expired", len(ids)), slog.Time("cutoff", now))
	}
	return effects, nil
}

// regainedAccess reports whether the user's record is active again after
// the sweep flipped it. Taking the user lock waits out any in-flight
// payment event for the same user.
func (c *Coordinator) regainedAccess(ctx context.Context, userID int64) bool {
	unlock := c.lockUser(userID)
	defer unlock()

	rec, err := c.store.Get(ctx, userID)
	if err != nil {
		// The flip committed; on a read failure proceed with the revoke.
		c.log.ErrorContext(ctx, "failed to re-check swept subscriber",
			logger.UserID(userID), logger.Error(err))
		return false
	}
	return rec.HasAccess()
}

// lockUser serializes mutations for one user. Lock entries are refcounted
// and dropped from the map once the last holder releases, keeping the map
// proportional to in-flight work rather than to every user ever seen.
func (c *Coordinator) lockUser(userID int64) func() {
	c.locksMu.Lock()
	l, ok := c.locks[userID]
	if !ok {
		l = &userLock{}
		c.locks[userID] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, userID)
		}
		c.locksMu.Unlock()
	}
}
