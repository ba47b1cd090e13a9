package events

import (
	"context"
	"errors"
	"strings"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
)

type CourseInput struct {
	Nr      string
	Title   string
	Tracks  []domain.TrackID
	MinSize *int
	MaxSize *int
	Fields  map[string]any
}

type LodgementInput struct {
	Title              string
	RegularCapacity    int
	CampingMatCapacity int
	Fields             map[string]any
}

func (s *Service) CreateCourse(ctx context.Context, actor domain.Persona, eventID domain.EventID, in CourseInput) (domain.Course, error) {
	ev, err := s.orgaEvent(ctx, actor, eventID)
	if err != nil {
		return domain.Course{}, err
	}
	c, err := buildCourse(ev, in)
	if err != nil {
		return domain.Course{}, err
	}
	c.ID = domain.CourseID(s.newID())
	if err := s.repo.SaveCourse(ctx, c); err != nil {
		return domain.Course{}, err
	}
	s.changed(eventID, actor)
	return c, nil
}

func (s *Service) ListCourses(ctx context.Context, eventID domain.EventID) ([]domain.Course, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListCourses(ctx, eventID)
}

func (s *Service) CreateLodgement(ctx context.Context, actor domain.Persona, eventID domain.EventID, in LodgementInput) (domain.Lodgement, error) {
	ev, err := s.orgaEvent(ctx, actor, eventID)
	if err != nil {
		return domain.Lodgement{}, err
	}
	l, err := buildLodgement(ev, in)
	if err != nil {
		return domain.Lodgement{}, err
	}
	l.ID = domain.LodgementID(s.newID())
	if err := s.repo.SaveLodgement(ctx, l); err != nil {
		return domain.Lodgement{}, err
	}
	s.changed(eventID, actor)
	return l, nil
}

func (s *Service) ListLodgements(ctx context.Context, actor domain.Persona, eventID domain.EventID) ([]domain.Lodgement, error) {
	if _, err := s.orgaEvent(ctx, actor, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListLodgements(ctx, eventID)
}

func (s *Service) loadCourse(ctx context.Context, id domain.CourseID) (domain.Course, error) {
	c, err := s.repo.GetCourse(ctx, id)
	if err != nil {
		if errors.Is(err, eventrepo.ErrCourseNotFound) {
			return domain.Course{}, apperr.NotFound("COURSE_NOT_FOUND", "Course not found.")
		}
		return domain.Course{}, err
	}
	return c, nil
}

func (s *Service) loadLodgement(ctx context.Context, id domain.LodgementID) (domain.Lodgement, error) {
	l, err := s.repo.GetLodgement(ctx, id)
	if err != nil {
		if errors.Is(err, eventrepo.ErrLodgementNotFound) {
			return domain.Lodgement{}, apperr.NotFound("LODGEMENT_NOT_FOUND", "Lodgement not found.")
		}
		return domain.Lodgement{}, err
	}
	return l, nil
}

func buildCourse(ev domain.Event, in CourseInput) (domain.Course, error) {
	nr := strings.TrimSpace(in.Nr)
	if nr == "" {
		return domain.Course{}, apperr.Validation("nr", "must be non-empty")
	}
	title := domain.NormalizeHumanName(in.Title)
	if title == "" {
		return domain.Course{}, apperr.Validation("title", "must be non-empty")
	}
	tracks := make([]domain.TrackID, 0, len(in.Tracks))
	seen := make(map[domain.TrackID]bool, len(in.Tracks))
	for _, t := range in.Tracks {
		if _, ok := ev.Track(t); !ok {
			return domain.Course{}, apperr.Validation("tracks", "unknown track "+string(t))
		}
		if !seen[t] {
			seen[t] = true
			tracks = append(tracks, t)
		}
	}
	if in.MinSize != nil && *in.MinSize < 0 {
		return domain.Course{}, apperr.Validation("minSize", "must not be negative")
	}
	if in.MaxSize != nil && *in.MaxSize < 0 {
		return domain.Course{}, apperr.Validation("maxSize", "must not be negative")
	}
	if in.MinSize != nil && in.MaxSize != nil && *in.MinSize > *in.MaxSize {
		return domain.Course{}, apperr.Validation("maxSize", "must not be below minSize")
	}
	fields, err := domain.NormalizeFieldValues(ev.Fields, domain.FieldForCourse, in.Fields)
	if err != nil {
		return domain.Course{}, fieldError(err)
	}
	return domain.Course{
		EventID: ev.ID,
		Nr:      nr,
		Title:   title,
		Tracks:  tracks,
		MinSize: in.MinSize,
		MaxSize: in.MaxSize,
		Fields:  fields,
	}, nil
}

func buildLodgement(ev domain.Event, in LodgementInput) (domain.Lodgement, error) {
	title := domain.NormalizeHumanName(in.Title)
	if title == "" {
		return domain.Lodgement{}, apperr.Validation("title", "must be non-empty")
	}
	if in.RegularCapacity < 0 {
		return domain.Lodgement{}, apperr.Validation("regularCapacity", "must not be negative")
	}
	if in.CampingMatCapacity < 0 {
		return domain.Lodgement{}, apperr.Validation("campingMatCapacity", "must not be negative")
	}
	fields, err := domain.NormalizeFieldValues(ev.Fields, domain.FieldForLodgement, in.Fields)
	if err != nil {
		return domain.Lodgement{}, fieldError(err)
	}
	return domain.Lodgement{
		EventID:            ev.ID,
		Title:              title,
		RegularCapacity:    in.RegularCapacity,
		CampingMatCapacity: in.CampingMatCapacity,
		Fields:             fields,
	}, nil
}
