package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

// Constants for in-memory store configuration
const (
	defaultCleanupInterval = 30 * time.Second
)

// MemoryStore implements Store in process memory. It backs tests and
// single-process development; production uses RedisStore.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     map[string]memoryEntry
	tags        map[string]map[string]struct{}
	subscribers map[string][]chan []byte

	stopCh   chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// NewMemoryStore creates a new in-memory store with background cleanup
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries:     make(map[string]memoryEntry),
		tags:        make(map[string]map[string]struct{}),
		subscribers: make(map[string][]chan []byte),
		stopCh:      make(chan struct{}),
	}
	go s.cleanupExpired()
	return s
}

// Get returns the value for key, or ErrCacheMiss
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.expired() {
		return nil, ErrCacheMiss
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set stores a value with the given TTL; a zero TTL never expires
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes the given keys
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	return nil
}

// DeletePattern removes all keys matching a glob pattern
func (s *MemoryStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key := range s.entries {
		if ok, _ := matchKey(pattern, key); ok {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

// matchKey matches a key against a glob pattern using the same semantics
// Redis glob patterns have for the subset the key builder produces
func matchKey(pattern, key string) (bool, error) {
	return path.Match(pattern, key)
}

// AddToTag registers keys under a tag
func (s *MemoryStore) AddToTag(_ context.Context, tag string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.tags[tag]
	if !ok {
		set = make(map[string]struct{})
		s.tags[tag] = set
	}
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return nil
}

// DeleteByTag removes every key registered under tag plus the tag itself
func (s *MemoryStore) DeleteByTag(_ context.Context, tag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.tags[tag]
	for key := range set {
		delete(s.entries, key)
	}
	delete(s.tags, tag)
	return len(set), nil
}

// Publish delivers the payload to current subscribers of channel
func (s *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	msg := make([]byte, len(payload))
	copy(msg, payload)

	s.mu.RLock()
	subs := append([]chan []byte(nil), s.subscribers[channel]...)
	s.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// Slow subscribers drop messages rather than block publishers.
		}
	}
	return nil
}

// Subscribe invokes handler for each payload published on channel
func (s *MemoryStore) Subscribe(_ context.Context, channel string, handler func(payload []byte)) (func() error, error) {
	ch := make(chan []byte, 64)

	s.mu.Lock()
	s.subscribers[channel] = append(s.subscribers[channel], ch)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case payload := <-ch:
				handler(payload)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() error {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			subs := s.subscribers[channel]
			for i, sub := range subs {
				if sub == ch {
					s.subscribers[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
		})
		return nil
	}
	return stop, nil
}

// Close stops the cleanup goroutine
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// cleanupExpired periodically drops expired entries
func (s *MemoryStore) cleanupExpired() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.entries {
				if entry.expired() {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
