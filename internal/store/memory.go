package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"vexgate/internal/types"
)

// MemoryStore implements types.KeyValueStore in process memory.
// Intended for tests and single-node development; expired entries are
// dropped lazily on access.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	clock   clock.Clock
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an in-memory store using the wall clock
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(clock.New())
}

// NewMemoryWithClock creates an in-memory store with an injected clock
func NewMemoryWithClock(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		clock:   clk,
	}
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// get returns the live entry for a key, pruning it if expired.
// Callers must hold the write lock.
func (s *MemoryStore) get(key string) (*memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(s.clock.Now()) {
		delete(s.entries, key)
		return nil, false
	}
	return entry, true
}

// Get returns the value for a key
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		return "", types.ErrKeyNotFound
	}
	return entry.value, nil
}

// Set stores a value with a TTL; ttl <= 0 stores without expiry
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// Delete removes a key
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Incr increments a counter, creating it at 1
func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		s.entries[key] = &memoryEntry{value: "1"}
		return 1, nil
	}

	n, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, types.ErrStoreUnavailable
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	return n, nil
}

// TTL returns the remaining lifetime of a key
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		return 0, types.ErrKeyNotFound
	}
	if entry.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return entry.expiresAt.Sub(s.clock.Now()), nil
}

// Expire sets the TTL on an existing key
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		return types.ErrKeyNotFound
	}
	if ttl <= 0 {
		entry.expiresAt = time.Time{}
		return nil
	}
	entry.expiresAt = s.clock.Now().Add(ttl)
	return nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*memoryEntry)
	return nil
}
