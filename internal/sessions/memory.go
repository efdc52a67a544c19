package sessions

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests. Entries honor TTLs so
// expiry-driven behavior can be exercised without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	counter   int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// SetClock overrides the time source, letting tests advance past TTLs.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) live(k string) (memoryEntry, bool) {
	e, ok := s.entries[k]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, k)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Put(ctx context.Context, actor, purpose string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(actor, purpose)] = memoryEntry{data: data, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, actor, purpose string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key(actor, purpose))
	if !ok || e.data == nil {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, actor, purpose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key(actor, purpose))
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, actor, purpose string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(actor, purpose)
	e, ok := s.live(k)
	if !ok {
		e = memoryEntry{expiresAt: s.expiry(ttl)}
	}
	e.counter++
	s.entries[k] = e
	return e.counter, nil
}

func (s *MemoryStore) Acquire(ctx context.Context, actor, purpose string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(actor, purpose)
	if _, held := s.live(k); held {
		return false, nil
	}
	s.entries[k] = memoryEntry{data: []byte("1"), expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, actor, purpose string) error {
	return s.Delete(ctx, actor, purpose)
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
