package subscriber

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store. Used in tests and for
// ephemeral runs where persistence across restarts is not required.
type MemoryStore struct {
	mu      sync.RWMutex
	byUser  map[int64]*Record
	byRef   map[string]int64
	nowFunc func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser:  make(map[int64]*Record),
		byRef:   make(map[string]int64),
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, userID int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) GetByPaymentRef(ctx context.Context, ref string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := s.byUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UTC()
	stored := cloneRecord(rec)
	stored.UpdatedAt = now

	if prev, ok := s.byUser[rec.UserID]; ok {
		stored.CreatedAt = prev.CreatedAt
		// A new purchase attempt replaces the previous reference; drop the
		// stale index entry so webhook lookups can't resolve to it.
		if prev.PaymentRef != "" && prev.PaymentRef != stored.PaymentRef {
			delete(s.byRef, prev.PaymentRef)
		}
	} else {
		stored.CreatedAt = now
	}

	s.byUser[rec.UserID] = stored
	if stored.PaymentRef != "" {
		s.byRef[stored.PaymentRef] = stored.UserID
	}
	return nil
}

func (s *MemoryStore) SelectExpired(ctx context.Context, now time.Time) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.byUser {
		if rec.Status == StatusActive && rec.ExpiryAt != nil && rec.ExpiryAt.Before(now) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (s *MemoryStore) ExpireDue(ctx context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []int64
	for _, rec := range s.byUser {
		if rec.Status == StatusActive && rec.ExpiryAt != nil && rec.ExpiryAt.Before(now) {
			rec.Status = StatusExpired
			rec.UpdatedAt = s.nowFunc().UTC()
			expired = append(expired, rec.UserID)
		}
	}
	return expired, nil
}

func cloneRecord(rec *Record) *Record {
	c := *rec
	if rec.ExpiryAt != nil {
		t := *rec.ExpiryAt
		c.ExpiryAt = &t
	}
	return &c
}
