package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrInFlight = errors.New("request with this idempotency key is still in flight")

const pending = "pending"

// Store tracks which client keys already produced an order.
//
// Claim returns ("", nil) when the caller now owns the key and must either
// Complete or Release it. It returns the stored order id when the key was
// already completed, and ErrInFlight while another request owns it.
type Store interface {
	Claim(ctx context.Context, key string) (string, error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

func OrderCreateKey(key string) string {
	return fmt.Sprintf("idem:order:create:%s", key)
}

type entry struct {
	value   string
	expires time.Time
}

// MemoryStore is the single-process Store used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.value == pending {
			return "", ErrInFlight
		}
		return e.value, nil
	}
	s.entries[key] = entry{value: pending, expires: now.Add(s.ttl)}
	return "", nil
}

func (s *MemoryStore) Complete(_ context.Context, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: orderID, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
