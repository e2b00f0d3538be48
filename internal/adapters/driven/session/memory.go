package session

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kstyle2198/saml-sso/internal/core/domain"
	"github.com/kstyle2198/saml-sso/internal/core/ports"
)

// tokenBytes is the entropy of a session token. 32 bytes is double the
// 128-bit floor required for unguessable capability tokens.
const tokenBytes = 32

// MemoryStore implements SessionStore with an in-process map keyed by
// opaque random tokens. Expired entries are dropped lazily on Get and by
// SweepExpired, which an optional background sweeper calls periodically.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	duration time.Duration

	logger *zap.Logger
	stopCh chan struct{}
	once   sync.Once
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithLogger attaches a logger for sweep events.
func WithLogger(logger *zap.Logger) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates a session store whose sessions expire after the
// given duration.
func NewMemoryStore(duration time.Duration, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*domain.Session),
		duration: duration,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemoryStoreWithSweeper creates a session store and starts a
// background goroutine that sweeps expired sessions at the given
// interval. Call Stop to terminate it.
func NewMemoryStoreWithSweeper(duration, interval time.Duration, opts ...MemoryStoreOption) *MemoryStore {
	s := NewMemoryStore(duration, opts...)
	go s.sweepLoop(interval)
	return s
}

// Create stores the session under a fresh random token and returns the
// token. The session's IssuedAt/ExpiresAt are stamped here so callers
// cannot extend lifetimes by accident.
func (s *MemoryStore) Create(session *domain.Session) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", &domain.AppError{
			Code:    domain.ErrCodeTokenGeneration,
			Message: "session token generation failed",
			Cause:   err,
		}
	}

	now := time.Now()
	stored := *session
	stored.IssuedAt = now
	stored.ExpiresAt = now.Add(s.duration)

	s.mu.Lock()
	s.sessions[token] = &stored
	s.mu.Unlock()

	return token, nil
}

// Get returns the session for the token, or ErrSessionNotFound if the
// token is unknown or expired. An expired entry is destroyed on the way
// out.
func (s *MemoryStore) Get(token string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	if sess.Expired(time.Now()) {
		delete(s.sessions, token)
		return nil, ports.ErrSessionNotFound
	}

	// Copy so callers cannot mutate stored state.
	out := *sess
	return &out, nil
}

// Delete removes the session for the token. Unknown tokens are ignored.
func (s *MemoryStore) Delete(token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// SweepExpired removes sessions expired at the given time.
func (s *MemoryStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop terminates the background sweeper, if one was started.
func (s *MemoryStore) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
	})
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.SweepExpired(time.Now()); n > 0 && s.logger != nil {
				s.logger.Debug("swept expired sessions", zap.Int("count", n))
			}
		case <-s.stopCh:
			return
		}
	}
}

// generateToken returns an unguessable URL-safe token. An error here
// means the process randomness source is broken; callers must treat it
// as fatal rather than fall back to a weaker token.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Ensure MemoryStore implements ports.SessionStore
var _ ports.SessionStore = (*MemoryStore)(nil)
