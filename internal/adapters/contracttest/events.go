package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	eventrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
)

type EventRepoFactory func(t *testing.T) (eventrepoport.Repository, CleanupFunc)

// RunEventRepo exercises the event aggregate: event, courses, lodgements and registrations.
func RunEventRepo(t *testing.T, newRepo EventRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(3000, 0).UTC()
	orga := domain.PersonaID(uuid.NewString())
	partID := domain.PartID(uuid.NewString())
	trackID := domain.TrackID(uuid.NewString())
	ev := domain.Event{
		ID:        domain.EventID(uuid.NewString()),
		Shortname: "pa26",
		Title:     "PfingstAkademie 2026",
		Orgas:     []domain.PersonaID{orga},
		Parts: []domain.EventPart{{
			ID:            partID,
			Shortname:     "main",
			Title:         "Hauptteil",
			Begin:         time.Date(2026, 5, 23, 0, 0, 0, 0, time.UTC),
			End:           time.Date(2026, 5, 27, 0, 0, 0, 0, time.UTC),
			WaitlistField: "waitlist_rank",
		}},
		Tracks: []domain.CourseTrack{{
			ID:         trackID,
			PartID:     partID,
			Shortname:  "k1",
			Title:      "Kursschiene",
			NumChoices: 3,
		}},
		Fields: []domain.FieldDefinition{{
			Name:        "waitlist_rank",
			Kind:        domain.FieldKindInt,
			Association: domain.FieldForRegistration,
		}, {
			Name:        "diet",
			Kind:        domain.FieldKindStr,
			Association: domain.FieldForRegistration,
			Entries:     []domain.FieldEntry{{Value: "veg", Label: "Vegetarisch"}, {Value: "all", Label: "Alles"}},
		}},
		Questionnaire: []domain.QuestionnaireRow{
			{Title: "Anreise"},
			{FieldName: "diet", Title: "Ernährung", DefaultValue: "all"},
		},
		RegistrationOpen: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if err := repo.CreateEvent(ctx, ev); !errors.Is(err, eventrepoport.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	got, err := repo.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if len(got.Parts) != 1 || got.Parts[0].WaitlistField != "waitlist_rank" || len(got.Tracks) != 1 || got.Tracks[0].NumChoices != 3 {
		t.Fatalf("unexpected event structure: %#v", got)
	}
	if len(got.Fields) != 2 || got.Fields[1].Name != "diet" || len(got.Fields[1].Entries) != 2 {
		t.Fatalf("fields not persisted in order: %#v", got.Fields)
	}
	if len(got.Questionnaire) != 2 || got.Questionnaire[1] != ev.Questionnaire[1] {
		t.Fatalf("questionnaire not persisted in order: %#v", got.Questionnaire)
	}
	if !got.IsOrga(orga) {
		t.Fatalf("orga not persisted")
	}
	if _, err := repo.GetEvent(ctx, domain.EventID(uuid.NewString())); !errors.Is(err, eventrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got.Title = "PA 2026"
	got.RegistrationOpen = false
	if err := repo.SaveEvent(ctx, got); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	events, err := repo.ListEvents(ctx)
	if err != nil || len(events) != 1 || events[0].Title != "PA 2026" || events[0].RegistrationOpen {
		t.Fatalf("ListEvents: %#v err=%v", events, err)
	}

	// Courses ordered by Nr.
	maxSize := 12
	c2 := domain.Course{ID: domain.CourseID(uuid.NewString()), EventID: ev.ID, Nr: "2", Title: "Kosmologie", Tracks: []domain.TrackID{trackID}}
	c1 := domain.Course{ID: domain.CourseID(uuid.NewString()), EventID: ev.ID, Nr: "1", Title: "Akrobatik", Tracks: []domain.TrackID{trackID}, MaxSize: &maxSize}
	for _, c := range []domain.Course{c2, c1} {
		if err := repo.SaveCourse(ctx, c); err != nil {
			t.Fatalf("SaveCourse %s: %v", c.Nr, err)
		}
	}
	courses, err := repo.ListCourses(ctx, ev.ID)
	if err != nil {
		t.Fatalf("ListCourses: %v", err)
	}
	if len(courses) != 2 || courses[0].ID != c1.ID || courses[0].MaxSize == nil || *courses[0].MaxSize != 12 {
		t.Fatalf("unexpected courses: %#v", courses)
	}
	orphan := c1
	orphan.ID = domain.CourseID(uuid.NewString())
	orphan.EventID = domain.EventID(uuid.NewString())
	if err := repo.SaveCourse(ctx, orphan); !errors.Is(err, eventrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for course of unknown event, got %v", err)
	}
	if err := repo.DeleteCourse(ctx, c2.ID); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}
	if _, err := repo.GetCourse(ctx, c2.ID); !errors.Is(err, eventrepoport.ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound, got %v", err)
	}

	lodge := domain.Lodgement{
		ID:                 domain.LodgementID(uuid.NewString()),
		EventID:            ev.ID,
		Title:              "Haupthaus",
		RegularCapacity:    20,
		CampingMatCapacity: 2,
		Fields:             map[string]any{},
	}
	if err := repo.SaveLodgement(ctx, lodge); err != nil {
		t.Fatalf("SaveLodgement: %v", err)
	}
	lodges, err := repo.ListLodgements(ctx, ev.ID)
	if err != nil || len(lodges) != 1 || lodges[0].RegularCapacity != 20 {
		t.Fatalf("ListLodgements: %#v err=%v", lodges, err)
	}

	// Registrations: one per persona and event.
	persona := domain.PersonaID(uuid.NewString())
	reg := domain.Registration{
		ID:        domain.RegistrationID(uuid.NewString()),
		EventID:   ev.ID,
		PersonaID: persona,
		Parts: map[domain.PartID]domain.RegistrationPart{
			partID: {Status: domain.RegApplied},
		},
		Tracks: map[domain.TrackID]domain.RegistrationTrack{
			trackID: {CourseChoices: []domain.CourseID{c1.ID}},
		},
		Fields:    map[string]any{"diet": "veg"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateRegistration(ctx, reg); err != nil {
		t.Fatalf("CreateRegistration: %v", err)
	}
	dup := reg
	dup.ID = domain.RegistrationID(uuid.NewString())
	if err := repo.CreateRegistration(ctx, dup); !errors.Is(err, eventrepoport.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	byPersona, err := repo.GetRegistrationByPersona(ctx, ev.ID, persona)
	if err != nil || byPersona.ID != reg.ID {
		t.Fatalf("GetRegistrationByPersona: %#v err=%v", byPersona, err)
	}
	if byPersona.Fields["diet"] != "veg" || len(byPersona.Tracks[trackID].CourseChoices) != 1 {
		t.Fatalf("registration payload not persisted: %#v", byPersona)
	}

	// EventID and PersonaID cannot be changed by SaveRegistration.
	lodgeID := lodge.ID
	courseID := c1.ID
	byPersona.PersonaID = domain.PersonaID(uuid.NewString())
	byPersona.Parts[partID] = domain.RegistrationPart{Status: domain.RegParticipant, LodgementID: &lodgeID}
	byPersona.Tracks[trackID] = domain.RegistrationTrack{CourseChoices: []domain.CourseID{c1.ID}, CourseID: &courseID}
	if err := repo.SaveRegistration(ctx, byPersona); err != nil {
		t.Fatalf("SaveRegistration: %v", err)
	}
	saved, err := repo.GetRegistration(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetRegistration: %v", err)
	}
	if saved.PersonaID != persona {
		t.Fatalf("persona binding changed: %s", saved.PersonaID)
	}
	if p := saved.Parts[partID]; p.Status != domain.RegParticipant || p.LodgementID == nil || *p.LodgementID != lodge.ID {
		t.Fatalf("part not saved: %#v", p)
	}
	if tr := saved.Tracks[trackID]; tr.CourseID == nil || *tr.CourseID != c1.ID {
		t.Fatalf("track not saved: %#v", tr)
	}

	regs, err := repo.ListRegistrations(ctx, ev.ID)
	if err != nil || len(regs) != 1 {
		t.Fatalf("ListRegistrations: n=%d err=%v", len(regs), err)
	}
	if err := repo.DeleteRegistration(ctx, reg.ID); err != nil {
		t.Fatalf("DeleteRegistration: %v", err)
	}
	if _, err := repo.GetRegistrationByPersona(ctx, ev.ID, persona); !errors.Is(err, eventrepoport.ErrRegistrationNotFound) {
		t.Fatalf("expected ErrRegistrationNotFound, got %v", err)
	}
	// The persona may register again after deletion.
	if err := repo.CreateRegistration(ctx, dup); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if err := repo.DeleteLodgement(ctx, lodge.ID); err != nil {
		t.Fatalf("DeleteLodgement: %v", err)
	}
	if _, err := repo.GetLodgement(ctx, lodge.ID); !errors.Is(err, eventrepoport.ErrLodgementNotFound) {
		t.Fatalf("expected ErrLodgementNotFound, got %v", err)
	}

	// Atomically: a failing unit of work leaves nothing behind.
	errAbort := errors.New("abort")
	c3 := domain.Course{ID: domain.CourseID(uuid.NewString()), EventID: ev.ID, Nr: "3", Title: "Chor", Tracks: []domain.TrackID{trackID}}
	err = repo.Atomically(ctx, ev.ID, func(tx eventrepoport.Repository) error {
		if err := tx.SaveCourse(ctx, c3); err != nil {
			return err
		}
		if _, err := tx.GetCourse(ctx, c3.ID); err != nil {
			t.Errorf("course not visible inside unit of work: %v", err)
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("Atomically err=%v, want %v", err, errAbort)
	}
	if _, err := repo.GetCourse(ctx, c3.ID); !errors.Is(err, eventrepoport.ErrCourseNotFound) {
		t.Fatalf("aborted course persisted: %v", err)
	}
	err = repo.Atomically(ctx, ev.ID, func(tx eventrepoport.Repository) error {
		return tx.SaveCourse(ctx, c3)
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
	if _, err := repo.GetCourse(ctx, c3.ID); err != nil {
		t.Fatalf("committed course missing: %v", err)
	}
	err = repo.Atomically(ctx, domain.EventID(uuid.NewString()), func(eventrepoport.Repository) error { return nil })
	if !errors.Is(err, eventrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown event, got %v", err)
	}

	// DeleteEvent takes the event's courses and registrations along.
	if err := repo.DeleteEvent(ctx, ev.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if _, err := repo.GetEvent(ctx, ev.ID); !errors.Is(err, eventrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := repo.GetCourse(ctx, c3.ID); !errors.Is(err, eventrepoport.ErrCourseNotFound) {
		t.Fatalf("course survived event deletion: %v", err)
	}
	if _, err := repo.GetRegistrationByPersona(ctx, ev.ID, persona); !errors.Is(err, eventrepoport.ErrRegistrationNotFound) {
		t.Fatalf("registration survived event deletion: %v", err)
	}
	if err := repo.DeleteEvent(ctx, ev.ID); !errors.Is(err, eventrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
