// Package correlate converts anomalies into deduplicated alerts, applying
// per-rule/per-source cooldown suppression and a bounded alert list.
package correlate

import (
	"context"
	"sync"
	"time"
)

// SuppressionStore is the cooldown backing store. Acquire atomically checks
// whether the key fired inside the cooldown window and, if not, marks it as
// fired now. Keeping this a first-class component makes the expiry policy
// independently testable and allows a shared store across instances.
type SuppressionStore interface {
	// Acquire returns true if the key was free and has now been claimed for
	// the cooldown duration, false if the key is still inside its window.
	Acquire(ctx context.Context, key string, cooldown time.Duration) (bool, error)
}

// sweepInterval bounds how many acquires happen between lazy evictions of
// expired entries in the in-memory store.
const sweepInterval = 256

// MemoryStore is the default in-process suppression store.
type MemoryStore struct {
	mu       sync.Mutex
	lastFire map[string]time.Time
	ops      int
}

// NewMemoryStore creates an in-memory suppression store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lastFire: make(map[string]time.Time),
	}
}

// Acquire implements SuppressionStore.
func (s *MemoryStore) Acquire(_ context.Context, key string, cooldown time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastFire[key]; ok {
		if now.Sub(last) < cooldown {
			return false, nil
		}
	}
	s.lastFire[key] = now

	s.ops++
	if s.ops >= sweepInterval {
		s.ops = 0
		for k, t := range s.lastFire {
			if now.Sub(t) >= cooldown {
				delete(s.lastFire, k)
			}
		}
		// The key just claimed was swept too; restore it.
		s.lastFire[key] = now
	}

	return true, nil
}

// Len returns the number of live suppression entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastFire)
}
