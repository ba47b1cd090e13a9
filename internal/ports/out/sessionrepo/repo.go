package sessionrepo

import (
	"context"
	"errors"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

var ErrNotFound = errors.New("session not found")

// Repository persists login sessions.
type Repository interface {
	Create(ctx context.Context, s domain.Session) error
	Get(ctx context.Context, id domain.SessionID) (domain.Session, error)

	// Touch records activity on an active session. It returns ErrNotFound for unknown or inactive sessions.
	Touch(ctx context.Context, id domain.SessionID, at time.Time) error
	Deactivate(ctx context.Context, id domain.SessionID) error
	DeactivateAll(ctx context.Context, personaID domain.PersonaID) (int, error)

	// ListActive returns the active sessions of a persona, least recently used first.
	ListActive(ctx context.Context, personaID domain.PersonaID) ([]domain.Session, error)
}
