package droidrepo

import (
	"context"
	"errors"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

var (
	ErrNotFound      = errors.New("orga token not found")
	ErrAlreadyExists = errors.New("orga token already exists")
	ErrInUse         = errors.New("orga token has been used")
)

// OrgaToken is a dynamic API credential bound to one event.
type OrgaToken struct {
	ID      domain.OrgaTokenID
	EventID domain.EventID
	Title   string
	Notes   string

	// SecretHash is the hex SHA-256 of the secret; the secret itself is never stored.
	SecretHash string

	CreatedBy  domain.PersonaID
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	LastAccess *time.Time
}

type Repository interface {
	Create(ctx context.Context, t OrgaToken) error
	Get(ctx context.Context, id domain.OrgaTokenID) (OrgaToken, error)
	// Revoke sets the revocation time unless the token is already revoked and
	// returns the stored token.
	Revoke(ctx context.Context, id domain.OrgaTokenID, at time.Time) (OrgaToken, error)
	// TouchLastAccess records an access of a token that is not revoked. It
	// returns ErrNotFound when no such token exists.
	TouchLastAccess(ctx context.Context, id domain.OrgaTokenID, at time.Time) error
	// DeleteUnused removes a token that was never accessed; ErrInUse otherwise.
	DeleteUnused(ctx context.Context, id domain.OrgaTokenID) error

	// ListByEvent returns the tokens of an event ordered by creation time.
	ListByEvent(ctx context.Context, eventID domain.EventID) ([]OrgaToken, error)
}
