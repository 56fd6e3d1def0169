// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/fingro/fingro-bot/internal/domain"
)

// Repository defines the interface for persisting conversation sessions.
type Repository interface {
	// LoadSession retrieves the current session for a phone number.
	// Returns (nil, nil) when no session exists.
	LoadSession(ctx context.Context, phone string) (*domain.Session, error)

	// SaveSession persists a session using optimistic locking on its
	// version. Returns domain.ErrConflict when the stored version no
	// longer matches; the caller must reload and reapply.
	SaveSession(ctx context.Context, session *domain.Session) error

	// ArchiveSession copies a session generation into the archive table.
	// Archiving the same (phone, generation) twice is a no-op.
	ArchiveSession(ctx context.Context, session *domain.Session) error

	// GetIdleSessions retrieves non-terminal sessions that have not been
	// updated within the TTL window.
	GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.Session, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
