package store

import (
	"context"
	"path"
	"sync"
	"time"
)

// entry holds a stored value together with its expiry deadline.
// A zero deadline means the entry never expires.
type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-memory Store implementation with lazy TTL
// expiry. It is used by tests and by single-process deployments that
// do not need durability across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry

	// now is overridable in tests to control expiry.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the value stored under key, or ErrNotFound if the key
// does not exist or has expired.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return nil, ErrNotFound
	}

	// Return a copy so callers cannot mutate stored state.
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, nil
}

// Set stores value under key with the given ttl.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry{value: stored, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// Delete removes the entry stored under key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// ScanKeys returns all live keys matching the glob-style pattern.
// Expired entries are removed as a side effect of the scan.
func (s *MemoryStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Len returns the number of live entries. Intended for tests.
func (s *MemoryStore) Len() int {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			count++
		}
	}
	return count
}
