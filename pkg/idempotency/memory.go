package idempotency

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value   string
	expires time.Time
}

// MemoryStore is the single-process counterpart of Store, used when no
// Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memEntry)}
}

func (s *MemoryStore) Key(topic string, partition int, offset int64) string {
	return MessageKey(topic, partition, offset)
}

func (s *MemoryStore) get(key string) (memEntry, bool) {
	e, ok := s.entries[key]
	if ok && s.now().After(e.expires) {
		delete(s.entries, key)
		return memEntry{}, false
	}
	return e, ok
}

func (s *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	_, already, err := s.claim(key, "1")
	return !already, err
}

func (s *MemoryStore) Claim(ctx context.Context, key string) (string, bool, error) {
	return s.claim(key, InFlight)
}

func (s *MemoryStore) claim(key, value string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.get(key); ok {
		return e.value, false, nil
	}
	s.entries[key] = memEntry{value: value, expires: s.now().Add(s.ttl)}
	return "", true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{value: result, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
