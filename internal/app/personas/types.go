package personas

import (
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

// Optional is a tri-state field used to distinguish:
// - unspecified (omitted)
// - specified as null
// - specified with a value
type Optional[T any] struct {
	specified bool
	isNull    bool
	value     T
}

func Unspecified[T any]() Optional[T] { return Optional[T]{} }
func Null[T any]() Optional[T]        { return Optional[T]{specified: true, isNull: true} }
func Some[T any](v T) Optional[T]     { return Optional[T]{specified: true, value: v} }

func (o Optional[T]) IsSpecified() bool { return o.specified }
func (o Optional[T]) IsNull() bool      { return o.specified && o.isNull }
func (o Optional[T]) Value() T          { return o.value }

type CreatePersonaInput struct {
	Email       string
	GivenNames  string
	FamilyName  string
	DisplayName string
	Realms      []domain.Realm
	AdminRealms []domain.AdminRealm
	// Password is optional; without one the persona cannot log in yet.
	Password string
}

type UpdatePersonaInput struct {
	GivenNames  Optional[string]
	FamilyName  Optional[string]
	DisplayName Optional[string] // may be null

	// Admin only.
	Email    Optional[string]
	IsActive Optional[bool]
}

// LoginResult is returned by a successful login. Token is shown to the client once.
type LoginResult struct {
	Token   string
	Session domain.Session
	Persona domain.Persona
}
