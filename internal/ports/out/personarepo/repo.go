package personarepo

import (
	"context"
	"errors"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

var (
	// ErrNotFound indicates the requested persona does not exist.
	ErrNotFound = errors.New("persona not found")

	// ErrAlreadyExists indicates a persona already exists with the provided ID.
	ErrAlreadyExists = errors.New("persona already exists")

	// ErrEmailTaken indicates another persona already uses the email address.
	ErrEmailTaken = errors.New("persona email already in use")
)

// Persona is the persistence shape used by the persona repository.
// It is an internal record, not an HTTP DTO.
type Persona struct {
	ID domain.PersonaID
	// Email is unique (case-insensitive) and doubles as the login name.
	Email string

	GivenNames  string
	FamilyName  string
	DisplayName string

	Realms      []domain.Realm
	AdminRealms []domain.AdminRealm

	// PasswordHash is a bcrypt hash; empty means no password has been set yet.
	PasswordHash string

	IsActive   bool
	IsArchived bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Domain converts the record to the domain persona (without password hash).
func (p Persona) Domain() domain.Persona {
	return domain.Persona{
		ID:          p.ID,
		Email:       p.Email,
		GivenNames:  p.GivenNames,
		FamilyName:  p.FamilyName,
		DisplayName: p.DisplayName,
		Realms:      append([]domain.Realm(nil), p.Realms...),
		AdminRealms: append([]domain.AdminRealm(nil), p.AdminRealms...),
		IsActive:    p.IsActive,
		IsArchived:  p.IsArchived,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// Repository provides access to persisted personas.
//
// Result ordering expectations:
// - List/Search return personas ordered by family name, then given names, then ID.
type Repository interface {
	Create(ctx context.Context, p Persona) error
	Update(ctx context.Context, p Persona) error

	GetByID(ctx context.Context, id domain.PersonaID) (Persona, error)
	GetByEmail(ctx context.Context, email string) (Persona, error)

	List(ctx context.Context, includeInactive bool) ([]Persona, error)
	ListByRealm(ctx context.Context, realm domain.Realm) ([]Persona, error)

	// Search matches all query tokens case-insensitively against the persona names and email.
	Search(ctx context.Context, query string, limit int) ([]Persona, error)
}
