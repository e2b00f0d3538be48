package request

import (
	"sync"
	"time"

	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

// InMemoryRequestStore stores pending SAML request IDs for replay
// protection. Request IDs are single-use and expire after the caller's
// chosen deadline.
type InMemoryRequestStore struct {
	mu      sync.Mutex
	entries map[string]time.Time

	stopCh chan struct{}
	once   sync.Once
}

// NewInMemoryRequestStore creates a new in-memory request ID store.
func NewInMemoryRequestStore() *InMemoryRequestStore {
	return &InMemoryRequestStore{
		entries: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// NewInMemoryRequestStoreWithCleanup creates a store and starts a
// background goroutine that drops expired IDs at the given interval.
// Call Stop to terminate it.
func NewInMemoryRequestStoreWithCleanup(interval time.Duration) *InMemoryRequestStore {
	s := NewInMemoryRequestStore()
	go s.cleanupLoop(interval)
	return s
}

// Store adds a request ID with the given expiry time.
func (s *InMemoryRequestStore) Store(requestID string, expiry time.Time) error {
	s.mu.Lock()
	s.entries[requestID] = expiry
	s.mu.Unlock()
	return nil
}

// Valid checks if a request ID exists and is not expired.
// If valid, the ID is removed (single-use) and returns true.
// Returns false for unknown or expired IDs.
func (s *InMemoryRequestStore) Valid(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.entries[requestID]
	if !exists {
		return false
	}

	if time.Now().After(expiry) {
		delete(s.entries, requestID)
		return false
	}

	// Single-use: remove after validation
	delete(s.entries, requestID)
	return true
}

// GetAll returns all non-expired request IDs.
func (s *InMemoryRequestStore) GetAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var ids []string
	for id, expiry := range s.entries {
		if now.Before(expiry) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of entries, expired or not.
func (s *InMemoryRequestStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop terminates the background cleanup goroutine, if one was started.
func (s *InMemoryRequestStore) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
	})
}

func (s *InMemoryRequestStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

func (s *InMemoryRequestStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, id)
		}
	}
}

// Ensure InMemoryRequestStore implements ports.RequestStore
var _ ports.RequestStore = (*InMemoryRequestStore)(nil)
