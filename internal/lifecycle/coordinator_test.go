package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/channelgate/channelgate/internal/gateway"
	"github.com/channelgate/channelgate/internal/lifecycle"
	"github.com/channelgate/channelgate/internal/offer"
	"github.com/channelgate/channelgate/internal/subscriber"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Invoice), args.Error(1)
}

func testOffer() offer.Offer {
	return offer.Offer{
		OfferID:     "off-1",
		Title:       "Channel access",
		Description: "30 days",
		Currency:    "RUB",
		Price:       99000,
		PeriodDays:  30,
	}
}

func newCoordinator(t *testing.T, store subscriber.Store, gw gateway.Gateway, opts ...lifecycle.Option) *lifecycle.Coordinator {
	t.Helper()
	return lifecycle.New(store, gw, testOffer(), opts...)
}

func grantCount(effects []lifecycle.Effect) int {
	n := 0
	for _, e := range effects {
		if e.Kind == lifecycle.EffectGrantAccess {
			n++
		}
	}
	return n
}

func TestRequestPurchase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates pending record with new reference", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		gw := new(mockGateway)
		gw.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(req gateway.InvoiceRequest) bool {
			return req.UserID == 100 && req.Currency == "RUB" && req.Amount == 99000 && req.Periodicity == 30
		})).Return(&gateway.Invoice{PaymentURL: "https://pay/1", PaymentRef: "R1"}, nil)

		coord := newCoordinator(t, store, gw)
		checkout, err := coord.RequestPurchase(ctx, 100, "alice")
		require.NoError(t, err)
		assert.Equal(t, "https://pay/1", checkout.URL)
		assert.Equal(t, "R1", checkout.PaymentRef)

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusPending, rec.Status)
		assert.Equal(t, "R1", rec.PaymentRef)
		assert.Equal(t, "alice", rec.Username)
		gw.AssertExpectations(t)
	})

	t.Run("gateway failure leaves record unchanged", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		gw := new(mockGateway)
		gw.On("CreateInvoice", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("boom: %w", gateway.ErrGateway))

		coord := newCoordinator(t, store, gw)
		_, err := coord.RequestPurchase(ctx, 100, "alice")
		require.ErrorIs(t, err, gateway.ErrGateway)

		_, err = store.Get(ctx, 100)
		require.ErrorIs(t, err, subscriber.ErrNotFound)
	})

	t.Run("repeat purchase replaces payment reference", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		gw := new(mockGateway)
		gw.On("CreateInvoice", mock.Anything, mock.Anything).
			Return(&gateway.Invoice{PaymentURL: "https://pay/1", PaymentRef: "R1"}, nil).Once()
		gw.On("CreateInvoice", mock.Anything, mock.Anything).
			Return(&gateway.Invoice{PaymentURL: "https://pay/2", PaymentRef: "R2"}, nil).Once()

		coord := newCoordinator(t, store, gw)
		_, err := coord.RequestPurchase(ctx, 100, "alice")
		require.NoError(t, err)
		_, err = coord.RequestPurchase(ctx, 100, "alice")
		require.NoError(t, err)

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, "R2", rec.PaymentRef)
		assert.Equal(t, subscriber.StatusPending, rec.Status)

		// The stale reference no longer resolves.
		_, err = store.GetByPaymentRef(ctx, "R1")
		require.ErrorIs(t, err, subscriber.ErrNotFound)
	})

	t.Run("early renewal keeps access while pending", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		expiry := time.Now().Add(10 * 24 * time.Hour)
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R1", Status: subscriber.StatusActive, ExpiryAt: &expiry,
		}))

		gw := new(mockGateway)
		gw.On("CreateInvoice", mock.Anything, mock.Anything).
			Return(&gateway.Invoice{PaymentURL: "https://pay/2", PaymentRef: "R2"}, nil)

		coord := newCoordinator(t, store, gw)
		_, err := coord.RequestPurchase(ctx, 100, "alice")
		require.NoError(t, err)

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusActive, rec.Status)
		assert.Equal(t, "R2", rec.PaymentRef)
		require.NotNil(t, rec.ExpiryAt)
	})

	t.Run("re-purchase after cancellation re-enters pending", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R1", Status: subscriber.StatusCanceled,
		}))

		gw := new(mockGateway)
		gw.On("CreateInvoice", mock.Anything, mock.Anything).
			Return(&gateway.Invoice{PaymentURL: "https://pay/2", PaymentRef: "R2"}, nil)

		coord := newCoordinator(t, store, gw)
		_, err := coord.RequestPurchase(ctx, 100, "alice")
		require.NoError(t, err)

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusPending, rec.Status)
	})
}

func TestApplyPaymentEventSucceeded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("first purchase activates and grants once", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R1", Status: subscriber.StatusPending,
		}))

		now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		coord := newCoordinator(t, store, new(mockGateway),
			lifecycle.WithClock(func() time.Time { return now }))

		effects, err := coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeSucceeded, 30)
		require.NoError(t, err)
		require.Len(t, effects, 1)
		assert.Equal(t, lifecycle.EffectGrantAccess, effects[0].Kind)
		assert.EqualValues(t, 100, effects[0].UserID)
		assert.NotEmpty(t, effects[0].Message)
		assert.Equal(t, 1, grantCount(effects))

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusActive, rec.Status)
		require.NotNil(t, rec.ExpiryAt)
		assert.Equal(t, now.AddDate(0, 0, 30), *rec.ExpiryAt)
	})

	t.Run("renewal extends without second grant", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		oldExpiry := time.Now().UTC().Add(24 * time.Hour)
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R2", Status: subscriber.StatusActive, ExpiryAt: &oldExpiry,
		}))

		now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		coord := newCoordinator(t, store, new(mockGateway),
			lifecycle.WithClock(func() time.Time { return now }))

		effects, err := coord.ApplyPaymentEvent(ctx, "R2", lifecycle.OutcomeSucceeded, 30)
		require.NoError(t, err)
		require.Len(t, effects, 1)
		assert.Equal(t, lifecycle.EffectNotify, effects[0].Kind)
		assert.Zero(t, grantCount(effects))

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		require.NotNil(t, rec.ExpiryAt)
		assert.Equal(t, now.AddDate(0, 0, 30), *rec.ExpiryAt)
	})

	t.Run("unknown reference reported", func(t *testing.T) {
		t.Parallel()

		coord := newCoordinator(t, subscriber.NewMemoryStore(), new(mockGateway))
		_, err := coord.ApplyPaymentEvent(ctx, "R9", lifecycle.OutcomeSucceeded, 30)
		require.ErrorIs(t, err, lifecycle.ErrUnknownPaymentRef)
	})

	t.Run("exact replay extends expiry only once", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R1", Status: subscriber.StatusPending,
		}))

		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		current := base
		coord := newCoordinator(t, store, new(mockGateway),
			lifecycle.WithClock(func() time.Time { return current }))

		effects, err := coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeSucceeded, 30)
		require.NoError(t, err)
		require.Len(t, effects, 1)

		// Redelivery one minute later: no effects, expiry unchanged.
		current = base.Add(time.Minute)
		effects, err = coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeSucceeded, 30)
		require.NoError(t, err)
		assert.Empty(t, effects)

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		require.NotNil(t, rec.ExpiryAt)
		assert.Equal(t, base.AddDate(0, 0, 30), *rec.ExpiryAt)
	})

	t.Run("genuine renewal after replay window extends again", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R1", Status: subscriber.StatusPending,
		}))

		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		current := base
		coord := newCoordinator(t, store, new(mockGateway),
			lifecycle.WithClock(func() time.Time { return current }),
			lifecycle.WithReplayWindow(5*time.Minute, 16))

		_, err := coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeSucceeded, 30)
		require.NoError(t, err)

		current = base.Add(10 * time.Minute)
		effects, err := coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeSucceeded, 30)
		require.NoError(t, err)
		require.Len(t, effects, 1)

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, current.AddDate(0, 0, 30), *rec.ExpiryAt)
	})

	t.Run("zero period falls back to offer period", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R1", Status: subscriber.StatusPending,
		}))

		now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		coord := newCoordinator(t, store, new(mockGateway),
			lifecycle.WithClock(func() time.Time { return now }))

		_, err := coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeSucceeded, 0)
		require.NoError(t, err)

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, 30), *rec.ExpiryAt)
	})
}

func TestApplyPaymentEventFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("pending becomes canceled, never expired", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R1", Status: subscriber.StatusPending,
		}))

		coord := newCoordinator(t, store, new(mockGateway))
		effects, err := coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeFailed, 0)
		require.NoError(t, err)
		require.Len(t, effects, 1)
		assert.Equal(t, lifecycle.EffectNotify, effects[0].Kind)
		assert.Empty(t, lifecycle.RevokedUsers(effects))

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusCanceled, rec.Status)
	})

	t.Run("active becomes expired with revocation, never canceled", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		expiry := time.Now().UTC().Add(10 * 24 * time.Hour)
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R2", Status: subscriber.StatusActive, ExpiryAt: &expiry,
		}))

		coord := newCoordinator(t, store, new(mockGateway))
		effects, err := coord.ApplyPaymentEvent(ctx, "R2", lifecycle.OutcomeFailed, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{100}, lifecycle.RevokedUsers(effects))

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusExpired, rec.Status)
	})

	t.Run("terminal record is acknowledged without change", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 100, PaymentRef: "R3", Status: subscriber.StatusCanceled,
		}))

		coord := newCoordinator(t, store, new(mockGateway))
		effects, err := coord.ApplyPaymentEvent(ctx, "R3", lifecycle.OutcomeFailed, 0)
		require.NoError(t, err)
		assert.Empty(t, effects)

		rec, err := store.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusCanceled, rec.Status)
	})
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("expires only overdue active records", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		now := time.Now().UTC()
		past := now.Add(-time.Hour)
		future := now.Add(time.Hour)
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 1, PaymentRef: "r1", Status: subscriber.StatusActive, ExpiryAt: &past,
		}))
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 2, PaymentRef: "r2", Status: subscriber.StatusActive, ExpiryAt: &future,
		}))
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 3, PaymentRef: "r3", Status: subscriber.StatusCanceled,
		}))

		coord := newCoordinator(t, store, new(mockGateway))
		effects, err := coord.SweepExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, lifecycle.RevokedUsers(effects))

		rec, err := store.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusExpired, rec.Status)
		rec, err = store.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusActive, rec.Status)
	})

	t.Run("revoke skipped when a renewal lands during the sweep", func(t *testing.T) {
		t.Parallel()

		now := time.Now().UTC()
		past := now.Add(-time.Hour)
		future := now.Add(30 * 24 * time.Hour)
		store := &renewDuringSweepStore{
			MemoryStore: subscriber.NewMemoryStore(),
			renewTo:     future,
		}
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 1, PaymentRef: "r1", Status: subscriber.StatusActive, ExpiryAt: &past,
		}))

		coord := newCoordinator(t, store, new(mockGateway))
		effects, err := coord.SweepExpired(ctx, now)
		require.NoError(t, err)

		// The sweep flipped the record, but the renewal re-activated it
		// before the revoke went out; kicking the user now would punish a
		// paid subscriber.
		assert.Empty(t, effects)

		rec, err := store.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusActive, rec.Status)
	})

	t.Run("second sweep finds nothing", func(t *testing.T) {
		t.Parallel()

		store := subscriber.NewMemoryStore()
		now := time.Now().UTC()
		past := now.Add(-time.Hour)
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 1, PaymentRef: "r1", Status: subscriber.StatusActive, ExpiryAt: &past,
		}))

		coord := newCoordinator(t, store, new(mockGateway))
		_, err := coord.SweepExpired(ctx, now)
		require.NoError(t, err)

		effects, err := coord.SweepExpired(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, effects)
	})
}

// A renewal arriving while the sweep runs must never be clobbered back to
// expired: whichever operation commits first, the record ends active when
// the payment event's clock is past the sweep cutoff.
func TestConcurrentRenewalAndSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for range 50 {
		store := subscriber.NewMemoryStore()
		cutoff := time.Now().UTC()
		past := cutoff.Add(-time.Hour)
		require.NoError(t, store.Upsert(ctx, &subscriber.Record{
			UserID: 1, PaymentRef: "r1", Status: subscriber.StatusActive, ExpiryAt: &past,
		}))

		eventTime := cutoff.Add(time.Second)
		coord := newCoordinator(t, store, new(mockGateway),
			lifecycle.WithClock(func() time.Time { return eventTime }))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = coord.SweepExpired(ctx, cutoff)
		}()
		go func() {
			defer wg.Done()
			_, err := coord.ApplyPaymentEvent(ctx, "r1", lifecycle.OutcomeSucceeded, 30)
			if err != nil {
				require.ErrorIs(t, err, lifecycle.ErrUnknownPaymentRef)
			}
		}()
		wg.Wait()

		rec, err := store.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, subscriber.StatusActive, rec.Status,
			"renewal later than the sweep cutoff must leave the record active")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { lifecycle.New(nil, new(mockGateway), testOffer()) })
	assert.Panics(t, func() { lifecycle.New(subscriber.NewMemoryStore(), nil, testOffer()) })
}

// renewDuringSweepStore squeezes a renewal into the gap between the sweep's
// conditional flip and the coordinator's re-read, the narrowest interleaving
// a live renewal webhook can hit.
type renewDuringSweepStore struct {
	*subscriber.MemoryStore
	renewTo time.Time
}

func (s *renewDuringSweepStore) ExpireDue(ctx context.Context, now time.Time) ([]int64, error) {
	ids, err := s.MemoryStore.ExpireDue(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		rec, err := s.MemoryStore.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		expiry := s.renewTo
		rec.Status = subscriber.StatusActive
		rec.ExpiryAt = &expiry
		if err := s.MemoryStore.Upsert(ctx, rec); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// failingStore wraps MemoryStore to simulate persistence outages: the first
// failUpserts calls to Upsert fail, later ones go through.
type failingStore struct {
	*subscriber.MemoryStore
	failUpserts int
}

func (s *failingStore) Upsert(ctx context.Context, rec *subscriber.Record) error {
	if s.failUpserts > 0 {
		s.failUpserts--
		return errors.Join(subscriber.ErrStore, errors.New("connection refused"))
	}
	return s.MemoryStore.Upsert(ctx, rec)
}

func TestStoreFailureSurfaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := subscriber.NewMemoryStore()
	require.NoError(t, mem.Upsert(ctx, &subscriber.Record{
		UserID: 1, PaymentRef: "r1", Status: subscriber.StatusPending,
	}))
	store := &failingStore{MemoryStore: mem, failUpserts: 1}

	coord := lifecycle.New(store, new(mockGateway), testOffer())
	_, err := coord.ApplyPaymentEvent(ctx, "r1", lifecycle.OutcomeSucceeded, 30)
	require.ErrorIs(t, err, subscriber.ErrStore)
}

// A transient store outage during apply must not poison the replay
// tracker: the provider's redelivery is the retry mechanism, and
// suppressing it would strand a paid user in pending.
func TestRedeliveryAfterStoreFailureIsApplied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := subscriber.NewMemoryStore()
	require.NoError(t, mem.Upsert(ctx, &subscriber.Record{
		UserID: 100, PaymentRef: "R1", Status: subscriber.StatusPending,
	}))
	store := &failingStore{MemoryStore: mem, failUpserts: 1}

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	coord := lifecycle.New(store, new(mockGateway), testOffer(),
		lifecycle.WithClock(func() time.Time { return now }))

	_, err := coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeSucceeded, 30)
	require.ErrorIs(t, err, subscriber.ErrStore)

	// The provider redelivers; the store has recovered.
	effects, err := coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeSucceeded, 30)
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, lifecycle.EffectGrantAccess, effects[0].Kind)

	rec, err := store.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, subscriber.StatusActive, rec.Status)
	require.NotNil(t, rec.ExpiryAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *rec.ExpiryAt)

	// And a third, genuine duplicate is still suppressed.
	effects, err = coord.ApplyPaymentEvent(ctx, "R1", lifecycle.OutcomeSucceeded, 30)
	require.NoError(t, err)
	assert.Empty(t, effects)
}
