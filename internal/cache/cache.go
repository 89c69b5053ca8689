package cache

import (
	"context"
	"sync"
	"time"

	"caixapos/backend/internal/domain"
)

// HeldSaleStore keeps parked carts for a bounded time. Get does not consume
// the entry; repeated reads return the same snapshot until it expires or is
// deleted.
type HeldSaleStore interface {
	Put(ctx context.Context, held domain.HeldSale, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.HeldSale, bool, error)
	Delete(ctx context.Context, id string) error
}

type MemoryHeldSaleStore struct {
	mu      sync.Mutex
	entries map[string]domain.HeldSale
	now     func() time.Time
}

func NewMemoryHeldSaleStore() *MemoryHeldSaleStore {
	return &MemoryHeldSaleStore{
		entries: make(map[string]domain.HeldSale),
		now:     time.Now,
	}
}

func (s *MemoryHeldSaleStore) Put(_ context.Context, held domain.HeldSale, ttl time.Duration) error {
	if held.CreatedAt.IsZero() {
		held.CreatedAt = s.now().UTC()
	}
	if ttl > 0 {
		held.ExpiresAt = held.CreatedAt.Add(ttl)
	}

	s.mu.Lock()
	s.entries[held.ID] = cloneHeldSale(held)
	s.mu.Unlock()
	return nil
}

func (s *MemoryHeldSaleStore) Get(_ context.Context, id string) (*domain.HeldSale, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.entries[id]
	if !ok {
		return nil, false, nil
	}
	if s.expired(held) {
		delete(s.entries, id)
		return nil, false, nil
	}
	out := cloneHeldSale(held)
	return &out, true, nil
}

func (s *MemoryHeldSaleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryHeldSaleStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, held := range s.entries {
		if s.expired(held) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len counts entries, expired ones included until the next sweep.
func (s *MemoryHeldSaleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunJanitor sweeps every interval until ctx is done.
func (s *MemoryHeldSaleStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *MemoryHeldSaleStore) expired(held domain.HeldSale) bool {
	return !held.ExpiresAt.IsZero() && !s.now().Before(held.ExpiresAt)
}

func cloneHeldSale(src domain.HeldSale) domain.HeldSale {
	dst := src
	if src.Payload != nil {
		dst.Payload = append([]byte(nil), src.Payload...)
	}
	return dst
}
