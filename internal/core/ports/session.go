package ports

import (
	"errors"
	"time"

	"github.com/kstyle2198/saml-sso/internal/core/domain"
)

// SessionStore is the port interface for session management.
// Implementations must be safe for concurrent use; a lookup racing a
// destroy observes either the pre- or post-destroy state, never a
// partially removed entry.
type SessionStore interface {
	// Create stores a new session and returns its opaque token. The
	// token is server-generated from a cryptographically secure random
	// source, never derived from caller-supplied data.
	Create(session *domain.Session) (string, error)

	// Get retrieves a session by token. Returns ErrSessionNotFound if
	// the token is unknown or expired; expired entries are removed as a
	// side effect.
	Get(token string) (*domain.Session, error)

	// Delete removes a session. Deleting an unknown token is not an
	// error.
	Delete(token string) error

	// SweepExpired removes all sessions expired at the given time and
	// reports how many were removed.
	SweepExpired(now time.Time) int
}

// ErrSessionNotFound is returned when a session cannot be found or is
// invalid. Callers never learn whether the token once existed.
var ErrSessionNotFound = errors.New("session not found")
