package contentstore

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// CachedStore keeps recently read or written payloads in memory in front of
// a slower Store. Identifiers are content-derived, so entries never go stale;
// the TTL only bounds memory.
type CachedStore struct {
	next    Store
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

// NewCachedStore wraps next with a cache whose entries live for ttl.
func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:    next,
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Put implements Store. The payload is cached under the returned identifier.
func (s *CachedStore) Put(ctx context.Context, data []byte) (string, error) {
	id, err := s.next.Put(ctx, data)
	if err != nil {
		return "", err
	}
	s.set(id, data)
	return id, nil
}

// Get implements Store.
func (s *CachedStore) Get(ctx context.Context, id string) ([]byte, error) {
	if data, ok := s.get(id); ok {
		return data, nil
	}
	data, err := s.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(id, data)
	return data, nil
}

func (s *CachedStore) get(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

func (s *CachedStore) set(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &cacheEntry{
		data:      append([]byte(nil), data...),
		expiresAt: time.Now().Add(s.ttl),
	}
}

// Evict removes all expired entries and returns how many were removed.
func (s *CachedStore) Evict() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries, including expired ones.
func (s *CachedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RunEviction calls Evict every interval until ctx is done.
func (s *CachedStore) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Evict()
		case <-ctx.Done():
			return
		}
	}
}
