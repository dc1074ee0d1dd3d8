package storage

import (
	"maps"
	"sync"
)

// Store defines the interface for key-value storage.
type Store interface {
	// Create stores value under key. Fails if the key is present.
	Create(key, value string) bool
	// Read returns the value of key and whether it exists.
	Read(key string) (string, bool)
	// Update replaces the value of an existing key.
	Update(key, value string) bool
	// Delete removes an existing key.
	Delete(key string) bool
	// Snapshot returns a copy of every entry.
	Snapshot() map[string]string
	// Len returns the number of entries.
	Len() int
}

// InMemoryStore is an in-memory implementation of Store.
// It's thread-safe.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]string)}
}

// Create stores value under key if the key is absent.
func (s *InMemoryStore) Create(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return false
	}
	s.data[key] = value
	return true
}

// Read retrieves a value by key.
func (s *InMemoryStore) Read(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.data[key]
	return v, exists
}

// Update replaces the value of key if it is present.
func (s *InMemoryStore) Update(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		return false
	}
	s.data[key] = value
	return true
}

// Delete removes key if it is present.
func (s *InMemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		return false
	}
	delete(s.data, key)
	return true
}

// Snapshot returns a copy of the map.
func (s *InMemoryStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data)
}

// Len returns the number of keys.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
