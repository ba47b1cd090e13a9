package events

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

type RegisterInput struct {
	Parts   []domain.PartID
	Choices map[domain.TrackID][]domain.CourseID
	Fields  map[string]any
	Notes   string
}

// UpdateRegistrationInput changes a registration as orga. Field values are
// merged; a nil value clears the field.
type UpdateRegistrationInput struct {
	Status  map[domain.PartID]domain.RegistrationPartStatus
	Choices map[domain.TrackID][]domain.CourseID
	Fields  map[string]any
	Notes   *string
}

func registrationNotFound() *apperr.Error {
	return apperr.NotFound("REGISTRATION_NOT_FOUND", "Registration not found.")
}

// Register applies the actor for the given parts of an open event.
func (s *Service) Register(ctx context.Context, actor domain.Persona, eventID domain.EventID, in RegisterInput) (domain.Registration, error) {
	if !actor.HasRealm(domain.RealmEvent) {
		return domain.Registration{}, apperr.Forbidden("Only event users may register.")
	}
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Registration{}, err
	}
	if !ev.RegistrationOpen {
		return domain.Registration{}, apperr.Conflict("REGISTRATION_CLOSED", "Registration for this event is not open.")
	}
	if len(in.Parts) == 0 {
		return domain.Registration{}, apperr.Validation("parts", "must apply for at least one part")
	}

	reg := domain.Registration{
		ID:        domain.RegistrationID(s.newID()),
		EventID:   eventID,
		PersonaID: actor.ID,
		Parts:     make(map[domain.PartID]domain.RegistrationPart, len(ev.Parts)),
		Tracks:    make(map[domain.TrackID]domain.RegistrationTrack, len(ev.Tracks)),
		Notes:     strings.TrimSpace(in.Notes),
	}
	for _, p := range ev.Parts {
		reg.Parts[p.ID] = domain.RegistrationPart{Status: domain.RegNotApplied}
	}
	for _, pid := range in.Parts {
		if _, ok := ev.Part(pid); !ok {
			return domain.Registration{}, apperr.Validation("parts", "unknown part "+string(pid))
		}
		reg.Parts[pid] = domain.RegistrationPart{Status: domain.RegApplied}
	}
	for _, t := range ev.Tracks {
		reg.Tracks[t.ID] = domain.RegistrationTrack{CourseChoices: []domain.CourseID{}}
	}
	if err := s.applyChoices(ctx, ev, &reg, in.Choices); err != nil {
		return domain.Registration{}, err
	}
	fields, err := domain.NormalizeFieldValues(ev.Fields, domain.FieldForRegistration, in.Fields)
	if err != nil {
		return domain.Registration{}, fieldError(err)
	}
	reg.Fields = fields

	now := s.clk.Now()
	reg.CreatedAt = now
	reg.UpdatedAt = now
	if err := s.repo.CreateRegistration(ctx, reg); err != nil {
		switch {
		case errors.Is(err, eventrepo.ErrAlreadyRegistered):
			return domain.Registration{}, apperr.Conflict("ALREADY_REGISTERED", "You are already registered for this event.")
		case errors.Is(err, eventrepo.ErrNotFound):
			return domain.Registration{}, eventNotFound()
		}
		return domain.Registration{}, err
	}
	s.changed(eventID, actor)
	return reg, nil
}

// GetMyRegistration returns the actor's own registration for an event.
func (s *Service) GetMyRegistration(ctx context.Context, actor domain.Persona, eventID domain.EventID) (domain.Registration, error) {
	reg, err := s.repo.GetRegistrationByPersona(ctx, eventID, actor.ID)
	if err != nil {
		if errors.Is(err, eventrepo.ErrRegistrationNotFound) {
			return domain.Registration{}, registrationNotFound()
		}
		return domain.Registration{}, err
	}
	return reg, nil
}

func (s *Service) GetRegistration(ctx context.Context, actor domain.Persona, id domain.RegistrationID) (domain.Registration, error) {
	reg, _, err := s.orgaRegistration(ctx, actor, id)
	return reg, err
}

func (s *Service) ListRegistrations(ctx context.Context, actor domain.Persona, eventID domain.EventID) ([]domain.Registration, error) {
	if _, err := s.orgaEvent(ctx, actor, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListRegistrations(ctx, eventID)
}

func (s *Service) UpdateRegistration(ctx context.Context, actor domain.Persona, id domain.RegistrationID, in UpdateRegistrationInput) (domain.Registration, error) {
	reg, ev, err := s.orgaRegistration(ctx, actor, id)
	if err != nil {
		return domain.Registration{}, err
	}
	for pid, st := range in.Status {
		if _, ok := ev.Part(pid); !ok {
			return domain.Registration{}, apperr.Validation("status", "unknown part "+string(pid))
		}
		if _, ok := domain.ParseRegistrationPartStatus(string(st)); !ok {
			return domain.Registration{}, apperr.Validation("status", "unknown status "+string(st))
		}
		rp := reg.Parts[pid]
		rp.Status = st
		reg.Parts[pid] = rp
	}
	if err := s.applyChoices(ctx, ev, &reg, in.Choices); err != nil {
		return domain.Registration{}, err
	}
	if len(in.Fields) > 0 {
		fields, err := domain.NormalizeFieldValues(ev.Fields, domain.FieldForRegistration, in.Fields)
		if err != nil {
			return domain.Registration{}, fieldError(err)
		}
		if reg.Fields == nil {
			reg.Fields = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			if v == nil {
				delete(reg.Fields, k)
				continue
			}
			reg.Fields[k] = v
		}
	}
	if in.Notes != nil {
		reg.Notes = strings.TrimSpace(*in.Notes)
	}
	return s.saveRegistration(ctx, actor, reg)
}

// AssignCourse sets (or with a nil course clears) the course of a registration in a track.
func (s *Service) AssignCourse(ctx context.Context, actor domain.Persona, id domain.RegistrationID, trackID domain.TrackID, courseID *domain.CourseID) (domain.Registration, error) {
	reg, ev, err := s.orgaRegistration(ctx, actor, id)
	if err != nil {
		return domain.Registration{}, err
	}
	if _, ok := ev.Track(trackID); !ok {
		return domain.Registration{}, apperr.NotFound("TRACK_NOT_FOUND", "Course track not found.")
	}
	rt := reg.Tracks[trackID]
	if courseID == nil {
		rt.CourseID = nil
	} else {
		c, err := s.loadCourse(ctx, *courseID)
		if err != nil {
			return domain.Registration{}, err
		}
		if c.EventID != ev.ID {
			return domain.Registration{}, apperr.NotFound("COURSE_NOT_FOUND", "Course not found.")
		}
		if !c.Offers(trackID) {
			return domain.Registration{}, apperr.Validation("courseId", "course is not offered in this track")
		}
		cid := c.ID
		rt.CourseID = &cid
	}
	if reg.Tracks == nil {
		reg.Tracks = make(map[domain.TrackID]domain.RegistrationTrack)
	}
	reg.Tracks[trackID] = rt
	return s.saveRegistration(ctx, actor, reg)
}

// AssignLodgement sets (or with a nil lodgement clears) the lodgement of a registration in a part.
func (s *Service) AssignLodgement(ctx context.Context, actor domain.Persona, id domain.RegistrationID, partID domain.PartID, lodgementID *domain.LodgementID) (domain.Registration, error) {
	reg, ev, err := s.orgaRegistration(ctx, actor, id)
	if err != nil {
		return domain.Registration{}, err
	}
	if _, ok := ev.Part(partID); !ok {
		return domain.Registration{}, apperr.NotFound("PART_NOT_FOUND", "Event part not found.")
	}
	rp := reg.Parts[partID]
	if lodgementID == nil {
		rp.LodgementID = nil
	} else {
		l, err := s.loadLodgement(ctx, *lodgementID)
		if err != nil {
			return domain.Registration{}, err
		}
		if l.EventID != ev.ID {
			return domain.Registration{}, apperr.NotFound("LODGEMENT_NOT_FOUND", "Lodgement not found.")
		}
		lid := l.ID
		rp.LodgementID = &lid
	}
	if reg.Parts == nil {
		reg.Parts = make(map[domain.PartID]domain.RegistrationPart)
	}
	reg.Parts[partID] = rp
	return s.saveRegistration(ctx, actor, reg)
}

// WaitlistEntry is the 1-indexed waitlist rank of a registration.
type WaitlistEntry struct {
	RegistrationID domain.RegistrationID
	PersonaID      domain.PersonaID
	Position       int
}

// WaitlistPositions ranks the waitlisted registrations of a part by the part's
// waitlist field, ascending. Missing values rank last; ties break on
// registration id. Without a waitlist field the registration id decides.
func (s *Service) WaitlistPositions(ctx context.Context, actor domain.Persona, eventID domain.EventID, partID domain.PartID) ([]WaitlistEntry, error) {
	ev, err := s.orgaEvent(ctx, actor, eventID)
	if err != nil {
		return nil, err
	}
	part, ok := ev.Part(partID)
	if !ok {
		return nil, apperr.NotFound("PART_NOT_FOUND", "Event part not found.")
	}
	regs, err := s.repo.ListRegistrations(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return rankWaitlist(regs, partID, part.WaitlistField), nil
}

type waitlistCandidate struct {
	reg      domain.Registration
	value    float64
	hasValue bool
}

func rankWaitlist(regs []domain.Registration, partID domain.PartID, field string) []WaitlistEntry {
	cands := make([]waitlistCandidate, 0)
	for _, r := range regs {
		if r.Parts[partID].Status != domain.RegWaitlist {
			continue
		}
		c := waitlistCandidate{reg: r}
		if field != "" {
			if v, ok := r.Fields[field]; ok && v != nil {
				c.value, c.hasValue = domain.NumericValue(v)
			}
		}
		cands = append(cands, c)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.hasValue != b.hasValue {
			return a.hasValue
		}
		if a.hasValue && a.value != b.value {
			return a.value < b.value
		}
		return a.reg.ID < b.reg.ID
	})
	out := make([]WaitlistEntry, 0, len(cands))
	for i, c := range cands {
		out = append(out, WaitlistEntry{RegistrationID: c.reg.ID, PersonaID: c.reg.PersonaID, Position: i + 1})
	}
	return out
}

func (s *Service) applyChoices(ctx context.Context, ev domain.Event, reg *domain.Registration, choices map[domain.TrackID][]domain.CourseID) error {
	for tid, courses := range choices {
		track, ok := ev.Track(tid)
		if !ok {
			return apperr.Validation("choices", "unknown track "+string(tid))
		}
		if st := reg.Parts[track.PartID].Status; st == domain.RegNotApplied || st == "" {
			return apperr.Validation("choices", "track "+track.Shortname+" belongs to a part not applied for")
		}
		if len(courses) > track.NumChoices {
			return apperr.Validation("choices", "too many choices for track "+track.Shortname)
		}
		seen := make(map[domain.CourseID]bool, len(courses))
		for _, cid := range courses {
			if seen[cid] {
				return apperr.Validation("choices", "course chosen twice in track "+track.Shortname)
			}
			seen[cid] = true
			c, err := s.repo.GetCourse(ctx, cid)
			if err != nil {
				if errors.Is(err, eventrepo.ErrCourseNotFound) {
					return apperr.Validation("choices", "unknown course "+string(cid))
				}
				return err
			}
			if c.EventID != ev.ID || !c.Offers(tid) {
				return apperr.Validation("choices", "course "+c.Nr+" is not offered in track "+track.Shortname)
			}
		}
		rt := reg.Tracks[tid]
		rt.CourseChoices = append([]domain.CourseID{}, courses...)
		reg.Tracks[tid] = rt
	}
	return nil
}

func (s *Service) orgaRegistration(ctx context.Context, actor domain.Persona, id domain.RegistrationID) (domain.Registration, domain.Event, error) {
	reg, err := s.repo.GetRegistration(ctx, id)
	if err != nil {
		if errors.Is(err, eventrepo.ErrRegistrationNotFound) {
			return domain.Registration{}, domain.Event{}, registrationNotFound()
		}
		return domain.Registration{}, domain.Event{}, err
	}
	ev, err := s.orgaEvent(ctx, actor, reg.EventID)
	if err != nil {
		return domain.Registration{}, domain.Event{}, err
	}
	if reg.Parts == nil {
		reg.Parts = make(map[domain.PartID]domain.RegistrationPart)
	}
	if reg.Tracks == nil {
		reg.Tracks = make(map[domain.TrackID]domain.RegistrationTrack)
	}
	return reg, ev, nil
}

func (s *Service) saveRegistration(ctx context.Context, actor domain.Persona, reg domain.Registration) (domain.Registration, error) {
	reg.UpdatedAt = s.clk.Now()
	if err := s.repo.SaveRegistration(ctx, reg); err != nil {
		if errors.Is(err, eventrepo.ErrRegistrationNotFound) {
			return domain.Registration{}, registrationNotFound()
		}
		return domain.Registration{}, err
	}
	s.changed(reg.EventID, actor)
	return reg, nil
}

// registrantPersonas loads the personas referenced by registrations.
func (s *Service) registrantPersonas(ctx context.Context, regs []domain.Registration) (map[domain.PersonaID]personarepo.Persona, error) {
	out := make(map[domain.PersonaID]personarepo.Persona, len(regs))
	for _, r := range regs {
		if _, ok := out[r.PersonaID]; ok {
			continue
		}
		p, err := s.personas.GetByID(ctx, r.PersonaID)
		if err != nil {
			if errors.Is(err, personarepo.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[r.PersonaID] = p
	}
	return out, nil
}
