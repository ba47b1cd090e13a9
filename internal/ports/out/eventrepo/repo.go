package eventrepo

import (
	"context"
	"errors"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

var (
	ErrNotFound      = errors.New("event not found")
	ErrAlreadyExists = errors.New("event already exists")

	ErrCourseNotFound       = errors.New("course not found")
	ErrLodgementNotFound    = errors.New("lodgement not found")
	ErrRegistrationNotFound = errors.New("registration not found")

	// ErrAlreadyRegistered indicates the persona already has a registration for the event.
	ErrAlreadyRegistered = errors.New("persona already registered")
)

// Repository provides access to events and their courses, lodgements and registrations.
//
// Result ordering expectations:
// - ListEvents orders by creation time, then ID.
// - ListCourses orders by Nr, then ID; ListLodgements by Title, then ID; ListRegistrations by ID.
type Repository interface {
	CreateEvent(ctx context.Context, e domain.Event) error
	SaveEvent(ctx context.Context, e domain.Event) error
	GetEvent(ctx context.Context, id domain.EventID) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	// DeleteEvent removes the event with its courses, lodgements and registrations.
	DeleteEvent(ctx context.Context, id domain.EventID) error

	// Atomically runs fn against a repository whose writes take effect
	// together when fn returns nil and not at all otherwise. Calls for the
	// same event are serialized. ErrNotFound if the event does not exist.
	Atomically(ctx context.Context, eventID domain.EventID, fn func(Repository) error) error

	SaveCourse(ctx context.Context, c domain.Course) error
	GetCourse(ctx context.Context, id domain.CourseID) (domain.Course, error)
	DeleteCourse(ctx context.Context, id domain.CourseID) error
	ListCourses(ctx context.Context, eventID domain.EventID) ([]domain.Course, error)

	SaveLodgement(ctx context.Context, l domain.Lodgement) error
	GetLodgement(ctx context.Context, id domain.LodgementID) (domain.Lodgement, error)
	DeleteLodgement(ctx context.Context, id domain.LodgementID) error
	ListLodgements(ctx context.Context, eventID domain.EventID) ([]domain.Lodgement, error)

	CreateRegistration(ctx context.Context, r domain.Registration) error
	SaveRegistration(ctx context.Context, r domain.Registration) error
	GetRegistration(ctx context.Context, id domain.RegistrationID) (domain.Registration, error)
	GetRegistrationByPersona(ctx context.Context, eventID domain.EventID, personaID domain.PersonaID) (domain.Registration, error)
	DeleteRegistration(ctx context.Context, id domain.RegistrationID) error
	ListRegistrations(ctx context.Context, eventID domain.EventID) ([]domain.Registration, error)
}
