package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
)

// EventSchemaVersion is the version of the partial export format.
var EventSchemaVersion = [2]int{16, 0}

const exportKindPartial = "partial"

// PartialExport is the JSON snapshot of an event used for offline work,
// the EventKeeper history and partial import. Maps are keyed by id, so the
// encoding is deterministic.
type PartialExport struct {
	Kind          string                                       `json:"kind"`
	SchemaVersion [2]int                                       `json:"EVENT_SCHEMA_VERSION"`
	Timestamp     time.Time                                    `json:"timestamp"`
	ID            domain.EventID                               `json:"id"`
	Event         ExportEvent                                  `json:"event"`
	Courses       map[domain.CourseID]ExportCourse             `json:"courses"`
	Lodgements    map[domain.LodgementID]ExportLodgement       `json:"lodgements"`
	Registrations map[domain.RegistrationID]ExportRegistration `json:"registrations"`
	Personas      map[domain.PersonaID]ExportPersona           `json:"personas"`
}

type ExportEvent struct {
	Shortname        string                         `json:"shortname"`
	Title            string                         `json:"title"`
	Description      string                         `json:"description"`
	Orgas            []domain.PersonaID             `json:"orgas"`
	RegistrationOpen bool                           `json:"registration_open"`
	Parts            map[domain.PartID]ExportPart   `json:"parts"`
	Tracks           map[domain.TrackID]ExportTrack `json:"tracks"`
	Fields           map[string]ExportField         `json:"fields"`
}

type ExportPart struct {
	Shortname     string  `json:"shortname"`
	Title         string  `json:"title"`
	PartBegin     string  `json:"part_begin"`
	PartEnd       string  `json:"part_end"`
	WaitlistField *string `json:"waitlist_field"`
}

type ExportTrack struct {
	PartID     domain.PartID `json:"part_id"`
	Shortname  string        `json:"shortname"`
	Title      string        `json:"title"`
	NumChoices int           `json:"num_choices"`
}

type ExportField struct {
	Kind        domain.FieldKind        `json:"kind"`
	Association domain.FieldAssociation `json:"association"`
	Title       string                  `json:"title"`
	Entries     [][2]string             `json:"entries"`
}

type ExportCourse struct {
	Nr       string           `json:"nr"`
	Title    string           `json:"title"`
	Segments []domain.TrackID `json:"segments"`
	MinSize  *int             `json:"min_size"`
	MaxSize  *int             `json:"max_size"`
	Fields   map[string]any   `json:"fields"`
}

type ExportLodgement struct {
	Title              string         `json:"title"`
	RegularCapacity    int            `json:"regular_capacity"`
	CampingMatCapacity int            `json:"camping_mat_capacity"`
	Fields             map[string]any `json:"fields"`
}

type ExportRegistration struct {
	PersonaID domain.PersonaID                           `json:"persona_id"`
	Notes     string                                     `json:"notes"`
	Parts     map[domain.PartID]ExportRegistrationPart   `json:"parts"`
	Tracks    map[domain.TrackID]ExportRegistrationTrack `json:"tracks"`
	Fields    map[string]any                             `json:"fields"`
}

type ExportRegistrationPart struct {
	Status      domain.RegistrationPartStatus `json:"status"`
	LodgementID *domain.LodgementID           `json:"lodgement_id"`
}

type ExportRegistrationTrack struct {
	Choices  []domain.CourseID `json:"choices"`
	CourseID *domain.CourseID  `json:"course_id"`
}

type ExportPersona struct {
	GivenNames  string `json:"given_names"`
	FamilyName  string `json:"family_name"`
	DisplayName string `json:"display_name"`
	Email       string `json:"username"`
}

// PartialExport snapshots an event. Authorisation is up to the caller
// (orgas, event admins and permitted droids).
func (s *Service) PartialExport(ctx context.Context, eventID domain.EventID) (PartialExport, error) {
	return s.partialExport(ctx, s.repo, eventID)
}

func (s *Service) partialExport(ctx context.Context, repo eventrepo.Repository, eventID domain.EventID) (PartialExport, error) {
	ev, err := repo.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, eventrepo.ErrNotFound) {
			return PartialExport{}, eventNotFound()
		}
		return PartialExport{}, err
	}
	courses, err := repo.ListCourses(ctx, eventID)
	if err != nil {
		return PartialExport{}, err
	}
	lodgements, err := repo.ListLodgements(ctx, eventID)
	if err != nil {
		return PartialExport{}, err
	}
	regs, err := repo.ListRegistrations(ctx, eventID)
	if err != nil {
		return PartialExport{}, err
	}
	personas, err := s.registrantPersonas(ctx, regs)
	if err != nil {
		return PartialExport{}, err
	}

	out := PartialExport{
		Kind:          exportKindPartial,
		SchemaVersion: EventSchemaVersion,
		Timestamp:     s.clk.Now().UTC(),
		ID:            ev.ID,
		Event:         exportEvent(ev),
		Courses:       make(map[domain.CourseID]ExportCourse, len(courses)),
		Lodgements:    make(map[domain.LodgementID]ExportLodgement, len(lodgements)),
		Registrations: make(map[domain.RegistrationID]ExportRegistration, len(regs)),
		Personas:      make(map[domain.PersonaID]ExportPersona, len(personas)),
	}
	for _, c := range courses {
		out.Courses[c.ID] = exportCourse(c)
	}
	for _, l := range lodgements {
		out.Lodgements[l.ID] = exportLodgement(l)
	}
	for _, r := range regs {
		out.Registrations[r.ID] = exportRegistration(ev, r)
	}
	for id, p := range personas {
		out.Personas[id] = ExportPersona{
			GivenNames:  p.GivenNames,
			FamilyName:  p.FamilyName,
			DisplayName: p.DisplayName,
			Email:       p.Email,
		}
	}
	return out, nil
}

// MarshalPartialExport encodes an export with stable indentation, as stored by the EventKeeper.
func MarshalPartialExport(e PartialExport) ([]byte, error) {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func exportEvent(ev domain.Event) ExportEvent {
	out := ExportEvent{
		Shortname:        ev.Shortname,
		Title:            ev.Title,
		Description:      ev.Description,
		Orgas:            append([]domain.PersonaID{}, ev.Orgas...),
		RegistrationOpen: ev.RegistrationOpen,
		Parts:            make(map[domain.PartID]ExportPart, len(ev.Parts)),
		Tracks:           make(map[domain.TrackID]ExportTrack, len(ev.Tracks)),
		Fields:           make(map[string]ExportField, len(ev.Fields)),
	}
	for _, p := range ev.Parts {
		ep := ExportPart{
			Shortname: p.Shortname,
			Title:     p.Title,
			PartBegin: p.Begin.Format(time.DateOnly),
			PartEnd:   p.End.Format(time.DateOnly),
		}
		if p.WaitlistField != "" {
			wf := p.WaitlistField
			ep.WaitlistField = &wf
		}
		out.Parts[p.ID] = ep
	}
	for _, t := range ev.Tracks {
		out.Tracks[t.ID] = ExportTrack{PartID: t.PartID, Shortname: t.Shortname, Title: t.Title, NumChoices: t.NumChoices}
	}
	for _, f := range ev.Fields {
		ef := ExportField{Kind: f.Kind, Association: f.Association, Title: f.Title}
		if f.Entries != nil {
			ef.Entries = make([][2]string, 0, len(f.Entries))
			for _, e := range f.Entries {
				ef.Entries = append(ef.Entries, [2]string{e.Value, e.Label})
			}
		}
		out.Fields[f.Name] = ef
	}
	return out
}

func exportCourse(c domain.Course) ExportCourse {
	return ExportCourse{
		Nr:       c.Nr,
		Title:    c.Title,
		Segments: append([]domain.TrackID{}, c.Tracks...),
		MinSize:  c.MinSize,
		MaxSize:  c.MaxSize,
		Fields:   nonNilFields(c.Fields),
	}
}

func exportLodgement(l domain.Lodgement) ExportLodgement {
	return ExportLodgement{
		Title:              l.Title,
		RegularCapacity:    l.RegularCapacity,
		CampingMatCapacity: l.CampingMatCapacity,
		Fields:             nonNilFields(l.Fields),
	}
}

// exportRegistration lists every part and track of the event, so absent
// entries show up with their zero state.
func exportRegistration(ev domain.Event, r domain.Registration) ExportRegistration {
	out := ExportRegistration{
		PersonaID: r.PersonaID,
		Notes:     r.Notes,
		Parts:     make(map[domain.PartID]ExportRegistrationPart, len(ev.Parts)),
		Tracks:    make(map[domain.TrackID]ExportRegistrationTrack, len(ev.Tracks)),
		Fields:    nonNilFields(r.Fields),
	}
	for _, p := range ev.Parts {
		rp, ok := r.Parts[p.ID]
		if !ok || rp.Status == "" {
			rp.Status = domain.RegNotApplied
		}
		out.Parts[p.ID] = ExportRegistrationPart{Status: rp.Status, LodgementID: rp.LodgementID}
	}
	for _, t := range ev.Tracks {
		rt := r.Tracks[t.ID]
		choices := append([]domain.CourseID{}, rt.CourseChoices...)
		out.Tracks[t.ID] = ExportRegistrationTrack{Choices: choices, CourseID: rt.CourseID}
	}
	return out
}

func nonNilFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// EventIDs lists all events, for the EventKeeper.
func (s *Service) EventIDs(ctx context.Context) ([]domain.EventID, error) {
	evs, err := s.repo.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.EventID, 0, len(evs))
	for _, ev := range evs {
		ids = append(ids, ev.ID)
	}
	return ids, nil
}

// Snapshot is the partial export committed by the EventKeeper. It carries a
// zero timestamp so an unchanged event yields identical bytes.
func (s *Service) Snapshot(ctx context.Context, id domain.EventID) ([]byte, error) {
	exp, err := s.PartialExport(ctx, id)
	if err != nil {
		return nil, err
	}
	exp.Timestamp = time.Time{}
	return MarshalPartialExport(exp)
}
