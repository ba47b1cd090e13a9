// Package events implements event organisation: events, courses, lodgements,
// registrations and the partial export/import used for offline work.
package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	clockport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/clock"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

// Notifier is told about events whose exported state changed, naming the
// persona responsible.
type Notifier interface {
	Created(eventID domain.EventID, by domain.Persona)
	Changed(eventID domain.EventID, by domain.Persona)
	Deleted(eventID domain.EventID)
}

type Service struct {
	repo     eventrepo.Repository
	personas personarepo.Repository
	clk      clockport.Clock
	log      *zap.Logger
	notifier Notifier

	newID func() string
}

func NewService(repo eventrepo.Repository, personas personarepo.Repository, clk clockport.Clock, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		personas: personas,
		clk:      clk,
		log:      log,
		newID:    uuid.NewString,
	}
}

// SetNotifier registers the receiver of change notifications (the EventKeeper worker).
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) changed(eventID domain.EventID, by domain.Persona) {
	if s.notifier != nil {
		s.notifier.Changed(eventID, by)
	}
}

func eventNotFound() *apperr.Error {
	return apperr.NotFound("EVENT_NOT_FOUND", "Event not found.")
}

type PartInput struct {
	Shortname     string
	Title         string
	Begin         time.Time
	End           time.Time
	WaitlistField string
}

type TrackInput struct {
	Shortname  string
	Title      string
	NumChoices int
}

type CreateEventInput struct {
	Shortname   string
	Title       string
	Description string
	Orgas       []domain.PersonaID
	Parts       []PartInput
}

type UpdateEventInput struct {
	Title            *string
	Description      *string
	Orgas            *[]domain.PersonaID
	RegistrationOpen *bool
}

// CreateEvent is reserved to event admins.
func (s *Service) CreateEvent(ctx context.Context, actor domain.Persona, in CreateEventInput) (domain.Event, error) {
	if !actor.IsAdmin(domain.AdminEvent) && !actor.IsAdmin(domain.AdminCore) {
		return domain.Event{}, apperr.Forbidden("Only event admins may create events.")
	}
	shortname := strings.TrimSpace(in.Shortname)
	if shortname == "" {
		return domain.Event{}, apperr.Validation("shortname", "must be non-empty")
	}
	title := domain.NormalizeHumanName(in.Title)
	if title == "" {
		return domain.Event{}, apperr.Validation("title", "must be non-empty")
	}
	orgas, err := s.checkOrgas(ctx, in.Orgas)
	if err != nil {
		return domain.Event{}, err
	}

	now := s.clk.Now()
	ev := domain.Event{
		ID:          domain.EventID(s.newID()),
		Shortname:   shortname,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Orgas:       orgas,
		Parts:       []domain.EventPart{},
		Tracks:      []domain.CourseTrack{},
		Fields:      []domain.FieldDefinition{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, p := range in.Parts {
		part, err := s.buildPart(ev, p)
		if err != nil {
			return domain.Event{}, err
		}
		ev.Parts = append(ev.Parts, part)
	}
	if err := s.repo.CreateEvent(ctx, ev); err != nil {
		return domain.Event{}, err
	}
	if s.notifier != nil {
		s.notifier.Created(ev.ID, actor)
	}
	return ev, nil
}

// DeleteEvent removes an event with its courses, lodgements and
// registrations, and drops its snapshot history. Reserved to event admins.
func (s *Service) DeleteEvent(ctx context.Context, actor domain.Persona, id domain.EventID) error {
	if !actor.IsAdmin(domain.AdminEvent) && !actor.IsAdmin(domain.AdminCore) {
		return apperr.Forbidden("Only event admins may delete events.")
	}
	if err := s.repo.DeleteEvent(ctx, id); err != nil {
		if errors.Is(err, eventrepo.ErrNotFound) {
			return eventNotFound()
		}
		return err
	}
	s.log.Info("event deleted", zap.String("event_id", string(id)), zap.String("actor", string(actor.ID)))
	if s.notifier != nil {
		s.notifier.Deleted(id)
	}
	return nil
}

func (s *Service) GetEvent(ctx context.Context, id domain.EventID) (domain.Event, error) {
	ev, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, eventrepo.ErrNotFound) {
			return domain.Event{}, eventNotFound()
		}
		return domain.Event{}, err
	}
	return ev, nil
}

func (s *Service) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.repo.ListEvents(ctx)
}

func (s *Service) UpdateEvent(ctx context.Context, actor domain.Persona, id domain.EventID, in UpdateEventInput) (domain.Event, error) {
	ev, err := s.orgaEvent(ctx, actor, id)
	if err != nil {
		return domain.Event{}, err
	}
	if in.Title != nil {
		title := domain.NormalizeHumanName(*in.Title)
		if title == "" {
			return domain.Event{}, apperr.Validation("title", "must be non-empty")
		}
		ev.Title = title
	}
	if in.Description != nil {
		ev.Description = strings.TrimSpace(*in.Description)
	}
	if in.Orgas != nil {
		orgas, err := s.checkOrgas(ctx, *in.Orgas)
		if err != nil {
			return domain.Event{}, err
		}
		ev.Orgas = orgas
	}
	if in.RegistrationOpen != nil {
		ev.RegistrationOpen = *in.RegistrationOpen
	}
	return s.saveEvent(ctx, actor, ev)
}

func (s *Service) AddPart(ctx context.Context, actor domain.Persona, id domain.EventID, in PartInput) (domain.Event, error) {
	ev, err := s.orgaEvent(ctx, actor, id)
	if err != nil {
		return domain.Event{}, err
	}
	part, err := s.buildPart(ev, in)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Parts = append(ev.Parts, part)
	return s.saveEvent(ctx, actor, ev)
}

// SetWaitlistField sets (or with an empty name clears) the field ranking a part's waitlist.
func (s *Service) SetWaitlistField(ctx context.Context, actor domain.Persona, id domain.EventID, partID domain.PartID, field string) (domain.Event, error) {
	ev, err := s.orgaEvent(ctx, actor, id)
	if err != nil {
		return domain.Event{}, err
	}
	if err := checkWaitlistField(ev, field); err != nil {
		return domain.Event{}, err
	}
	found := false
	for i := range ev.Parts {
		if ev.Parts[i].ID == partID {
			ev.Parts[i].WaitlistField = field
			found = true
		}
	}
	if !found {
		return domain.Event{}, apperr.NotFound("PART_NOT_FOUND", "Event part not found.")
	}
	return s.saveEvent(ctx, actor, ev)
}

func (s *Service) AddTrack(ctx context.Context, actor domain.Persona, id domain.EventID, partID domain.PartID, in TrackInput) (domain.Event, error) {
	ev, err := s.orgaEvent(ctx, actor, id)
	if err != nil {
		return domain.Event{}, err
	}
	if _, ok := ev.Part(partID); !ok {
		return domain.Event{}, apperr.NotFound("PART_NOT_FOUND", "Event part not found.")
	}
	shortname := strings.TrimSpace(in.Shortname)
	if shortname == "" {
		return domain.Event{}, apperr.Validation("shortname", "must be non-empty")
	}
	for _, t := range ev.Tracks {
		if t.Shortname == shortname {
			return domain.Event{}, apperr.Validation("shortname", "already used by another track")
		}
	}
	if in.NumChoices < 0 {
		return domain.Event{}, apperr.Validation("numChoices", "must not be negative")
	}
	title := domain.NormalizeHumanName(in.Title)
	if title == "" {
		title = shortname
	}
	ev.Tracks = append(ev.Tracks, domain.CourseTrack{
		ID:         domain.TrackID(s.newID()),
		PartID:     partID,
		Shortname:  shortname,
		Title:      title,
		NumChoices: in.NumChoices,
	})
	return s.saveEvent(ctx, actor, ev)
}

func (s *Service) buildPart(ev domain.Event, in PartInput) (domain.EventPart, error) {
	shortname := strings.TrimSpace(in.Shortname)
	if shortname == "" {
		return domain.EventPart{}, apperr.Validation("shortname", "must be non-empty")
	}
	for _, p := range ev.Parts {
		if p.Shortname == shortname {
			return domain.EventPart{}, apperr.Validation("shortname", "already used by another part")
		}
	}
	if in.Begin.IsZero() || in.End.IsZero() || in.End.Before(in.Begin) {
		return domain.EventPart{}, apperr.Validation("end", "must not be before begin")
	}
	if err := checkWaitlistField(ev, in.WaitlistField); err != nil {
		return domain.EventPart{}, err
	}
	title := domain.NormalizeHumanName(in.Title)
	if title == "" {
		title = shortname
	}
	return domain.EventPart{
		ID:            domain.PartID(s.newID()),
		Shortname:     shortname,
		Title:         title,
		Begin:         dateOnly(in.Begin),
		End:           dateOnly(in.End),
		WaitlistField: in.WaitlistField,
	}, nil
}

func checkWaitlistField(ev domain.Event, name string) error {
	if name == "" {
		return nil
	}
	f, ok := ev.Field(name)
	if !ok {
		return apperr.Validation("waitlistField", "unknown field")
	}
	if f.Association != domain.FieldForRegistration || (f.Kind != domain.FieldKindInt && f.Kind != domain.FieldKindFloat) {
		return apperr.Validation("waitlistField", "must be a numeric registration field")
	}
	return nil
}

func (s *Service) checkOrgas(ctx context.Context, ids []domain.PersonaID) ([]domain.PersonaID, error) {
	out := make([]domain.PersonaID, 0, len(ids))
	seen := make(map[domain.PersonaID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, err := s.personas.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, personarepo.ErrNotFound) {
				return nil, apperr.Validation("orgas", "unknown persona "+string(id))
			}
			return nil, err
		}
		if !p.IsActive || !hasRealm(p.Realms, domain.RealmEvent) {
			return nil, apperr.Validation("orgas", "persona "+string(id)+" is not an active event user")
		}
		out = append(out, id)
	}
	return out, nil
}

// orgaEvent loads an event the actor organises (event admins pass as well).
func (s *Service) orgaEvent(ctx context.Context, actor domain.Persona, id domain.EventID) (domain.Event, error) {
	ev, err := s.GetEvent(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}
	if !isOrga(actor, ev) {
		return domain.Event{}, apperr.Forbidden("Only orgas may do this.")
	}
	return ev, nil
}

func (s *Service) saveEvent(ctx context.Context, actor domain.Persona, ev domain.Event) (domain.Event, error) {
	ev.UpdatedAt = s.clk.Now()
	if err := s.repo.SaveEvent(ctx, ev); err != nil {
		if errors.Is(err, eventrepo.ErrNotFound) {
			return domain.Event{}, eventNotFound()
		}
		return domain.Event{}, err
	}
	s.changed(ev.ID, actor)
	return ev, nil
}

func isOrga(actor domain.Persona, ev domain.Event) bool {
	return ev.IsOrga(actor.ID) || actor.IsAdmin(domain.AdminEvent) || actor.IsAdmin(domain.AdminCore)
}

func hasRealm(rs []domain.Realm, r domain.Realm) bool {
	for _, have := range rs {
		if have == r {
			return true
		}
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fieldError(err error) error {
	var fe *domain.FieldError
	if errors.As(err, &fe) {
		return &apperr.Error{
			Status:  422,
			Code:    "VALIDATION_ERROR",
			Message: "invalid fields",
			Details: map[string]any{"fields." + fe.Field: fe.Reason},
		}
	}
	return err
}

// RequireOrga fails unless actor may organise the event.
func (s *Service) RequireOrga(ctx context.Context, actor domain.Persona, id domain.EventID) error {
	_, err := s.orgaEvent(ctx, actor, id)
	return err
}
