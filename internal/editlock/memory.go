package editlock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps locks in process memory. It suits a single API instance
// and tests; locks vanish on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	locks map[Key]Lock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[Key]Lock)}
}

func (s *MemoryStore) FindActive(_ context.Context, key Key, cutoff time.Time) (*Lock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lock, ok := s.locks[key]
	if !ok || !lock.RenewedAt.After(cutoff) {
		return nil, nil
	}
	return &lock, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, key Key, cutoff time.Time) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok || lock.RenewedAt.After(cutoff) {
		return nil, nil
	}
	delete(s.locks, key)
	return &lock, nil
}

func (s *MemoryStore) Claim(_ context.Context, lock Lock, cutoff time.Time) (Lock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lock.Key()
	if existing, ok := s.locks[key]; ok && existing.RenewedAt.After(cutoff) {
		if existing.HolderUserID != lock.HolderUserID {
			return existing, false, nil
		}
		existing.RenewedAt = lock.RenewedAt
		s.locks[key] = existing
		return existing, true, nil
	}
	s.locks[key] = lock
	return lock, true, nil
}

func (s *MemoryStore) Renew(_ context.Context, key Key, holderUserID string, now, cutoff time.Time) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok || lock.HolderUserID != holderUserID || !lock.RenewedAt.After(cutoff) {
		return nil, nil
	}
	lock.RenewedAt = now
	s.locks[key] = lock
	return &lock, nil
}

func (s *MemoryStore) Release(_ context.Context, key Key, holderUserID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok || lock.HolderUserID != holderUserID {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

func (s *MemoryStore) ForceRelease(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locks[key]; !ok {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

func (s *MemoryStore) ListActive(_ context.Context, organizationID string, cutoff time.Time) ([]Lock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]Lock, 0)
	for key, lock := range s.locks {
		if key.OrganizationID != organizationID || !lock.RenewedAt.After(cutoff) {
			continue
		}
		items = append(items, lock)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].RenewedAt.After(items[j].RenewedAt)
	})
	return items, nil
}

func (s *MemoryStore) SweepExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, lock := range s.locks {
		if !lock.RenewedAt.After(cutoff) {
			delete(s.locks, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many rows are stored, active or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}
