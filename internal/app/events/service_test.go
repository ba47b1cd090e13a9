package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	memclock "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/clock"
	memeventrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/eventrepo"
	mempersonarepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/personarepo"
	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

var (
	eventAdmin = domain.Persona{ID: "admin", Realms: []domain.Realm{domain.RealmEvent}, AdminRealms: []domain.AdminRealm{domain.AdminEvent}}
	orga       = domain.Persona{ID: "orga", Realms: []domain.Realm{domain.RealmEvent}}
	alice      = domain.Persona{ID: "alice", Realms: []domain.Realm{domain.RealmEvent}}
	bob        = domain.Persona{ID: "bob", Realms: []domain.Realm{domain.RealmEvent}}
	carol      = domain.Persona{ID: "carol", Realms: []domain.Realm{domain.RealmEvent}}
	mlOnly     = domain.Persona{ID: "ml", Realms: []domain.Realm{domain.RealmML}}
)

type notice struct {
	Kind    string
	EventID domain.EventID
	By      domain.PersonaID
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) record(kind string, id domain.EventID, by domain.PersonaID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{Kind: kind, EventID: id, By: by})
}

func (n *recordingNotifier) Created(id domain.EventID, by domain.Persona) {
	n.record("created", id, by.ID)
}

func (n *recordingNotifier) Changed(id domain.EventID, by domain.Persona) {
	n.record("changed", id, by.ID)
}

func (n *recordingNotifier) Deleted(id domain.EventID) {
	n.record("deleted", id, "")
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func (n *recordingNotifier) last() notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return notice{}
	}
	return n.notices[len(n.notices)-1]
}

type fixture struct {
	svc      *Service
	clk      *memclock.ManualClock
	notifier *recordingNotifier

	event domain.Event
	part  domain.PartID
	track domain.TrackID
}

func newTestService(t *testing.T) (*Service, *memclock.ManualClock) {
	t.Helper()
	clk := memclock.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	personas := mempersonarepo.NewRepo()
	for _, p := range []domain.Persona{eventAdmin, orga, alice, bob, carol, mlOnly} {
		err := personas.Create(context.Background(), personarepo.Persona{
			ID:         p.ID,
			Email:      string(p.ID) + "@example.com",
			GivenNames: string(p.ID),
			FamilyName: "Tester",
			Realms:     p.Realms,
			IsActive:   true,
		})
		if err != nil {
			t.Fatalf("seed persona %s: %v", p.ID, err)
		}
	}
	svc := NewService(memeventrepo.NewRepo(), personas, clk, zap.NewNop())
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	return svc, clk
}

// newFixture creates an open event with one part, one track offering two
// choices and an int registration field "prio".
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	svc, clk := newTestService(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)

	ev, err := svc.CreateEvent(ctx, eventAdmin, CreateEventInput{
		Shortname: "pa26",
		Title:     "PfingstAkademie 2026",
		Orgas:     []domain.PersonaID{orga.ID},
		Parts: []PartInput{{
			Shortname: "main",
			Title:     "Hauptteil",
			Begin:     time.Date(2026, 5, 23, 0, 0, 0, 0, time.UTC),
			End:       time.Date(2026, 5, 26, 0, 0, 0, 0, time.UTC),
		}},
	})
	if err != nil {
		t.Fatalf("CreateEvent err=%v", err)
	}
	part := ev.Parts[0].ID
	ev, err = svc.AddTrack(ctx, orga, ev.ID, part, TrackInput{Shortname: "kurs", Title: "Kursschiene", NumChoices: 2})
	if err != nil {
		t.Fatalf("AddTrack err=%v", err)
	}
	if _, err := svc.ImportQuestionnaire(ctx, orga, ev.ID, []byte(`{"fields": {"prio": {"kind": 2, "association": 1}}}`)); err != nil {
		t.Fatalf("ImportQuestionnaire err=%v", err)
	}
	open := true
	ev, err = svc.UpdateEvent(ctx, orga, ev.ID, UpdateEventInput{RegistrationOpen: &open})
	if err != nil {
		t.Fatalf("UpdateEvent err=%v", err)
	}
	return fixture{svc: svc, clk: clk, notifier: notifier, event: ev, part: part, track: ev.Tracks[0].ID}
}

func wantAppErr(t *testing.T, err error, status int, code string) {
	t.Helper()
	ae, ok := apperr.As(err)
	if !ok || ae.Status != status || ae.Code != code {
		t.Fatalf("err=%v (type=%T), want %s %d", err, err, code, status)
	}
}

func (f fixture) register(t *testing.T, p domain.Persona) domain.Registration {
	t.Helper()
	reg, err := f.svc.Register(context.Background(), p, f.event.ID, RegisterInput{Parts: []domain.PartID{f.part}})
	if err != nil {
		t.Fatalf("Register(%s) err=%v", p.ID, err)
	}
	return reg
}

func TestService_CreateEvent_Permissions(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, orga, CreateEventInput{Shortname: "x", Title: "X"})
	wantAppErr(t, err, 403, "FORBIDDEN")

	_, err = svc.CreateEvent(ctx, eventAdmin, CreateEventInput{Shortname: "x", Title: "X", Orgas: []domain.PersonaID{"nobody"}})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	_, err = svc.CreateEvent(ctx, eventAdmin, CreateEventInput{Shortname: "x", Title: "X", Orgas: []domain.PersonaID{mlOnly.ID}})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	_, err = svc.CreateEvent(ctx, eventAdmin, CreateEventInput{Shortname: " ", Title: "X"})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	ev, err := svc.CreateEvent(ctx, eventAdmin, CreateEventInput{Shortname: "x", Title: "  X  ", Orgas: []domain.PersonaID{orga.ID, orga.ID}})
	if err != nil {
		t.Fatalf("CreateEvent err=%v", err)
	}
	if ev.Title != "X" || len(ev.Orgas) != 1 || ev.RegistrationOpen {
		t.Fatalf("event=%+v", ev)
	}

	title := "Y"
	_, err = svc.UpdateEvent(ctx, alice, ev.ID, UpdateEventInput{Title: &title})
	wantAppErr(t, err, 403, "FORBIDDEN")
	_, err = svc.UpdateEvent(ctx, orga, "missing", UpdateEventInput{Title: &title})
	wantAppErr(t, err, 404, "EVENT_NOT_FOUND")
}

func TestService_ImportQuestionnaire(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	doc := `{
		"fields": {
			"shirt": {"kind": 1, "kind_name": "str", "association": "registration", "title": "T-Shirt", "entries": [["s", "S"], ["m", "M"]]},
			"arrival": {"kind": "FieldDatatypes.date", "association": 1}
		},
		"questionnaire": [
			{"title": "Allgemeines", "info": "Bitte ausfüllen"},
			{"field_name": "shirt", "title": "Größe", "default_value": "m"},
			{"field_name": "arrival", "title": "Anreise", "readonly": true}
		]
	}`
	res, err := f.svc.ImportQuestionnaire(ctx, orga, f.event.ID, []byte(doc))
	if err != nil {
		t.Fatalf("ImportQuestionnaire err=%v", err)
	}
	if diff := cmp.Diff(ImportResult{FieldsAdded: []string{"arrival", "shirt"}, QuestionnaireRows: 3}, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	ev, err := f.svc.GetEvent(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("GetEvent err=%v", err)
	}
	shirt, ok := ev.Field("shirt")
	if !ok || shirt.Kind != domain.FieldKindStr || len(shirt.Entries) != 2 || shirt.Title != "T-Shirt" {
		t.Fatalf("shirt=%+v ok=%v", shirt, ok)
	}
	wantRows := []domain.QuestionnaireRow{
		{Title: "Allgemeines", Info: "Bitte ausfüllen"},
		{FieldName: "shirt", Title: "Größe", DefaultValue: "m"},
		{FieldName: "arrival", Title: "Anreise", ReadOnly: true},
	}
	if diff := cmp.Diff(wantRows, ev.Questionnaire); diff != "" {
		t.Fatalf("questionnaire mismatch (-want +got):\n%s", diff)
	}

	cases := []struct {
		name   string
		doc    string
		status int
		code   string
	}{
		{"kind and name disagree", `{"fields": {"a": {"kind": 2, "kind_name": "str", "association": 1}}}`, 422, "VALIDATION_ERROR"},
		{"unknown kind", `{"fields": {"a": {"kind": 99, "association": 1}}}`, 422, "VALIDATION_ERROR"},
		{"duplicate in document", `{"fields": {"a": {"kind": 1, "association": 1}, "a": {"kind": 2, "association": 1}}}`, 409, "DUPLICATE_FIELD"},
		{"existing field", `{"fields": {"prio": {"kind": 2, "association": 1}}}`, 409, "DUPLICATE_FIELD"},
		{"bad entry", `{"fields": {"a": {"kind": 2, "association": 1, "entries": [["x", "X"]]}}}`, 422, "VALIDATION_ERROR"},
		{"unknown key", `{"fields": {}, "extra": 1}`, 422, "VALIDATION_ERROR"},
		{"row for unknown field", `{"questionnaire": [{"field_name": "nope", "title": "?"}]}`, 422, "VALIDATION_ERROR"},
		{"bad default", `{"questionnaire": [{"field_name": "prio", "title": "Prio", "default_value": "high"}]}`, 422, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.ImportQuestionnaire(ctx, orga, f.event.ID, []byte(tc.doc))
			wantAppErr(t, err, tc.status, tc.code)
		})
	}

	after, _ := f.svc.GetEvent(ctx, f.event.ID)
	if len(after.Fields) != 3 || len(after.Questionnaire) != 3 {
		t.Fatalf("failed imports must not change the event: fields=%d rows=%d", len(after.Fields), len(after.Questionnaire))
	}
}

func TestService_CreateEventNotifiesCreator(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.notifier.mu.Lock()
	first := f.notifier.notices[0]
	f.notifier.mu.Unlock()
	if want := (notice{Kind: "created", EventID: f.event.ID, By: eventAdmin.ID}); first != want {
		t.Fatalf("first notice=%+v, want %+v", first, want)
	}
	if got := f.notifier.last(); got.Kind != "changed" || got.By != orga.ID {
		t.Fatalf("last notice=%+v, want a change by the orga", got)
	}
}

func TestService_DeleteEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice)

	err := f.svc.DeleteEvent(ctx, orga, f.event.ID)
	wantAppErr(t, err, 403, "FORBIDDEN")

	if err := f.svc.DeleteEvent(ctx, eventAdmin, f.event.ID); err != nil {
		t.Fatalf("DeleteEvent err=%v", err)
	}
	if got, want := f.notifier.last(), (notice{Kind: "deleted", EventID: f.event.ID}); got != want {
		t.Fatalf("last notice=%+v, want %+v", got, want)
	}
	_, err = f.svc.GetEvent(ctx, f.event.ID)
	wantAppErr(t, err, 404, "EVENT_NOT_FOUND")
	_, err = f.svc.GetMyRegistration(ctx, alice, f.event.ID)
	wantAppErr(t, err, 404, "REGISTRATION_NOT_FOUND")

	err = f.svc.DeleteEvent(ctx, eventAdmin, f.event.ID)
	wantAppErr(t, err, 404, "EVENT_NOT_FOUND")
}

func TestService_Register(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	before := f.notifier.count()

	_, err := f.svc.Register(ctx, mlOnly, f.event.ID, RegisterInput{Parts: []domain.PartID{f.part}})
	wantAppErr(t, err, 403, "FORBIDDEN")

	_, err = f.svc.Register(ctx, alice, f.event.ID, RegisterInput{})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	_, err = f.svc.Register(ctx, alice, f.event.ID, RegisterInput{
		Parts:  []domain.PartID{f.part},
		Fields: map[string]any{"prio": "high"},
	})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	reg, err := f.svc.Register(ctx, alice, f.event.ID, RegisterInput{
		Parts:  []domain.PartID{f.part},
		Fields: map[string]any{"prio": json.Number("3")},
		Notes:  "  vegetarisch ",
	})
	if err != nil {
		t.Fatalf("Register err=%v", err)
	}
	if reg.Parts[f.part].Status != domain.RegApplied || reg.Notes != "vegetarisch" || reg.Fields["prio"] != int64(3) {
		t.Fatalf("registration=%+v", reg)
	}
	if f.notifier.count() != before+1 {
		t.Fatalf("notifications=%d, want %d", f.notifier.count(), before+1)
	}
	if got, want := f.notifier.last(), (notice{Kind: "changed", EventID: f.event.ID, By: alice.ID}); got != want {
		t.Fatalf("last notice=%+v, want %+v", got, want)
	}

	_, err = f.svc.Register(ctx, alice, f.event.ID, RegisterInput{Parts: []domain.PartID{f.part}})
	wantAppErr(t, err, 409, "ALREADY_REGISTERED")

	mine, err := f.svc.GetMyRegistration(ctx, alice, f.event.ID)
	if err != nil || mine.ID != reg.ID {
		t.Fatalf("GetMyRegistration=%+v err=%v", mine, err)
	}
	_, err = f.svc.GetMyRegistration(ctx, bob, f.event.ID)
	wantAppErr(t, err, 404, "REGISTRATION_NOT_FOUND")

	_, err = f.svc.GetRegistration(ctx, bob, reg.ID)
	wantAppErr(t, err, 403, "FORBIDDEN")

	closed := false
	if _, err := f.svc.UpdateEvent(ctx, orga, f.event.ID, UpdateEventInput{RegistrationOpen: &closed}); err != nil {
		t.Fatalf("UpdateEvent err=%v", err)
	}
	_, err = f.svc.Register(ctx, bob, f.event.ID, RegisterInput{Parts: []domain.PartID{f.part}})
	wantAppErr(t, err, 409, "REGISTRATION_CLOSED")
}

func TestService_CourseChoicesAndAssignment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	offered, err := f.svc.CreateCourse(ctx, orga, f.event.ID, CourseInput{Nr: "1", Title: "Astronomie", Tracks: []domain.TrackID{f.track}})
	if err != nil {
		t.Fatalf("CreateCourse err=%v", err)
	}
	notOffered, err := f.svc.CreateCourse(ctx, orga, f.event.ID, CourseInput{Nr: "2", Title: "Bienen"})
	if err != nil {
		t.Fatalf("CreateCourse err=%v", err)
	}
	_, err = f.svc.CreateCourse(ctx, alice, f.event.ID, CourseInput{Nr: "3", Title: "Chemie"})
	wantAppErr(t, err, 403, "FORBIDDEN")

	_, err = f.svc.Register(ctx, alice, f.event.ID, RegisterInput{
		Parts:   []domain.PartID{f.part},
		Choices: map[domain.TrackID][]domain.CourseID{f.track: {notOffered.ID}},
	})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	_, err = f.svc.Register(ctx, alice, f.event.ID, RegisterInput{
		Parts:   []domain.PartID{f.part},
		Choices: map[domain.TrackID][]domain.CourseID{f.track: {offered.ID, offered.ID}},
	})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	reg, err := f.svc.Register(ctx, alice, f.event.ID, RegisterInput{
		Parts:   []domain.PartID{f.part},
		Choices: map[domain.TrackID][]domain.CourseID{f.track: {offered.ID}},
	})
	if err != nil {
		t.Fatalf("Register err=%v", err)
	}

	_, err = f.svc.AssignCourse(ctx, orga, reg.ID, f.track, &notOffered.ID)
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	reg, err = f.svc.AssignCourse(ctx, orga, reg.ID, f.track, &offered.ID)
	if err != nil {
		t.Fatalf("AssignCourse err=%v", err)
	}
	if got := reg.Tracks[f.track].CourseID; got == nil || *got != offered.ID {
		t.Fatalf("course=%v", got)
	}

	lodgement, err := f.svc.CreateLodgement(ctx, orga, f.event.ID, LodgementInput{Title: "Haus A", RegularCapacity: 10})
	if err != nil {
		t.Fatalf("CreateLodgement err=%v", err)
	}
	reg, err = f.svc.AssignLodgement(ctx, orga, reg.ID, f.part, &lodgement.ID)
	if err != nil {
		t.Fatalf("AssignLodgement err=%v", err)
	}
	if got := reg.Parts[f.part].LodgementID; got == nil || *got != lodgement.ID {
		t.Fatalf("lodgement=%v", got)
	}
	reg, err = f.svc.AssignLodgement(ctx, orga, reg.ID, f.part, nil)
	if err != nil || reg.Parts[f.part].LodgementID != nil {
		t.Fatalf("clear lodgement: reg=%+v err=%v", reg, err)
	}
	missing := domain.LodgementID("missing")
	_, err = f.svc.AssignLodgement(ctx, orga, reg.ID, f.part, &missing)
	wantAppErr(t, err, 404, "LODGEMENT_NOT_FOUND")
}

func TestService_WaitlistPositions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.SetWaitlistField(ctx, orga, f.event.ID, f.part, "prio"); err != nil {
		t.Fatalf("SetWaitlistField err=%v", err)
	}
	_, err := f.svc.SetWaitlistField(ctx, orga, f.event.ID, f.part, "nope")
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	prios := map[domain.PersonaID]any{alice.ID: int64(5), bob.ID: nil, carol.ID: int64(2)}
	for _, p := range []domain.Persona{alice, bob, carol} {
		reg := f.register(t, p)
		_, err := f.svc.UpdateRegistration(ctx, orga, reg.ID, UpdateRegistrationInput{
			Status: map[domain.PartID]domain.RegistrationPartStatus{f.part: domain.RegWaitlist},
			Fields: map[string]any{"prio": prios[p.ID]},
		})
		if err != nil {
			t.Fatalf("UpdateRegistration err=%v", err)
		}
	}

	got, err := f.svc.WaitlistPositions(ctx, orga, f.event.ID, f.part)
	if err != nil {
		t.Fatalf("WaitlistPositions err=%v", err)
	}
	var order []domain.PersonaID
	for i, e := range got {
		if e.Position != i+1 {
			t.Fatalf("entry %d position=%d", i, e.Position)
		}
		order = append(order, e.PersonaID)
	}
	if diff := cmp.Diff([]domain.PersonaID{carol.ID, alice.ID, bob.ID}, order); diff != "" {
		t.Fatalf("waitlist order mismatch (-want +got):\n%s", diff)
	}
}

func TestRankWaitlist_TiesBreakOnID(t *testing.T) {
	t.Parallel()

	part := domain.PartID("p")
	wl := map[domain.PartID]domain.RegistrationPart{part: {Status: domain.RegWaitlist}}
	regs := []domain.Registration{
		{ID: "r3", PersonaID: "c", Parts: wl, Fields: map[string]any{"w": 1.0}},
		{ID: "r1", PersonaID: "a", Parts: wl, Fields: map[string]any{"w": int64(1)}},
		{ID: "r2", PersonaID: "b", Parts: map[domain.PartID]domain.RegistrationPart{part: {Status: domain.RegParticipant}}},
		{ID: "r0", PersonaID: "z", Parts: wl},
	}
	got := rankWaitlist(regs, part, "w")
	want := []WaitlistEntry{
		{RegistrationID: "r1", PersonaID: "a", Position: 1},
		{RegistrationID: "r3", PersonaID: "c", Position: 2},
		{RegistrationID: "r0", PersonaID: "z", Position: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rank mismatch (-want +got):\n%s", diff)
	}
}

func TestService_PartialExport_Shape(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, alice)

	exp, err := f.svc.PartialExport(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("PartialExport err=%v", err)
	}
	raw, err := MarshalPartialExport(exp)
	if err != nil {
		t.Fatalf("MarshalPartialExport err=%v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["kind"] != "partial" || doc["id"] != string(f.event.ID) {
		t.Fatalf("header kind=%v id=%v", doc["kind"], doc["id"])
	}
	if diff := cmp.Diff([]any{16.0, 0.0}, doc["EVENT_SCHEMA_VERSION"]); diff != "" {
		t.Fatalf("schema version mismatch (-want +got):\n%s", diff)
	}
	part := doc["event"].(map[string]any)["parts"].(map[string]any)[string(f.part)].(map[string]any)
	if part["part_begin"] != "2026-05-23" || part["part_end"] != "2026-05-26" {
		t.Fatalf("part=%v", part)
	}
	regs := doc["registrations"].(map[string]any)
	r := regs[string(reg.ID)].(map[string]any)
	if r["persona_id"] != string(alice.ID) {
		t.Fatalf("registration=%v", r)
	}
	if _, ok := r["tracks"].(map[string]any)[string(f.track)]; !ok {
		t.Fatalf("registration must list every track: %v", r["tracks"])
	}
	persona := doc["personas"].(map[string]any)[string(alice.ID)].(map[string]any)
	if persona["username"] != "alice@example.com" {
		t.Fatalf("persona=%v", persona)
	}
	if raw[len(raw)-1] != '\n' {
		t.Fatalf("export must end with a newline")
	}
}

func TestService_PartialImport_DryRunApplyConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, alice)

	exp, err := f.svc.PartialExport(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("PartialExport err=%v", err)
	}
	exp.Courses["new-course"] = ExportCourse{Nr: "7", Title: "Neuer Kurs", Segments: []domain.TrackID{f.track}}
	changed := exp.Registrations[reg.ID]
	changed.Notes = "kommt später"
	changed.Tracks = map[domain.TrackID]ExportRegistrationTrack{f.track: {Choices: []domain.CourseID{"new-course"}}}
	exp.Registrations[reg.ID] = changed
	exp.Registrations["new-reg"] = ExportRegistration{
		PersonaID: bob.ID,
		Parts:     map[domain.PartID]ExportRegistrationPart{f.part: {Status: domain.RegParticipant}},
		Fields:    map[string]any{"prio": 1},
	}
	raw, err := MarshalPartialExport(exp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	dry, err := f.svc.PartialImport(ctx, orga, f.event.ID, raw, "", true)
	if err != nil {
		t.Fatalf("dry run err=%v", err)
	}
	wantChanges := []Change{
		{Entity: "course", ID: "new-course", Op: OpCreate},
		{Entity: "registration", ID: string(reg.ID), Op: OpChange},
		{Entity: "registration", ID: "new-reg", Op: OpCreate},
	}
	if diff := cmp.Diff(wantChanges, dry.Changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
	if dry.Applied || dry.Token == "" {
		t.Fatalf("dry run result=%+v", dry)
	}
	courses, _ := f.svc.ListCourses(ctx, f.event.ID)
	if len(courses) != 0 {
		t.Fatalf("dry run must not write, courses=%v", courses)
	}

	_, err = f.svc.PartialImport(ctx, orga, f.event.ID, raw, "", false)
	wantAppErr(t, err, 422, "VALIDATION_ERROR")
	_, err = f.svc.PartialImport(ctx, orga, f.event.ID, raw, "stale", false)
	wantAppErr(t, err, 409, "PARTIAL_IMPORT_CONFLICT")
	_, err = f.svc.PartialImport(ctx, alice, f.event.ID, raw, dry.Token, false)
	wantAppErr(t, err, 403, "FORBIDDEN")

	f.clk.Set(f.clk.Now().Add(time.Hour))
	applied, err := f.svc.PartialImport(ctx, orga, f.event.ID, raw, dry.Token, false)
	if err != nil {
		t.Fatalf("apply err=%v", err)
	}
	if !applied.Applied || applied.Token != dry.Token {
		t.Fatalf("apply result=%+v", applied)
	}

	courses, _ = f.svc.ListCourses(ctx, f.event.ID)
	if len(courses) != 1 || courses[0].ID == "new-course" || courses[0].Nr != "7" {
		t.Fatalf("courses=%+v", courses)
	}
	got, err := f.svc.GetRegistration(ctx, orga, reg.ID)
	if err != nil {
		t.Fatalf("GetRegistration err=%v", err)
	}
	if diff := cmp.Diff([]domain.CourseID{courses[0].ID}, got.Tracks[f.track].CourseChoices); diff != "" {
		t.Fatalf("choices must point to the stored course (-want +got):\n%s", diff)
	}
	if got.Notes != "kommt später" {
		t.Fatalf("notes=%q", got.Notes)
	}
	bobs, err := f.svc.GetMyRegistration(ctx, bob, f.event.ID)
	if err != nil || bobs.ID == "new-reg" || bobs.Parts[f.part].Status != domain.RegParticipant || bobs.Fields["prio"] != int64(1) {
		t.Fatalf("bob registration=%+v err=%v", bobs, err)
	}

	// Re-submitting the current state is a no-op.
	now, _ := f.svc.PartialExport(ctx, f.event.ID)
	raw, _ = MarshalPartialExport(now)
	again, err := f.svc.PartialImport(ctx, orga, f.event.ID, raw, "", true)
	if err != nil || len(again.Changes) != 0 {
		t.Fatalf("no-op dry run changes=%v err=%v", again.Changes, err)
	}

	// A token goes stale when the event changes in between.
	now.Lodgements["l"] = ExportLodgement{Title: "Zelt"}
	raw, _ = MarshalPartialExport(now)
	dry, err = f.svc.PartialImport(ctx, orga, f.event.ID, raw, "", true)
	if err != nil {
		t.Fatalf("dry run err=%v", err)
	}
	notes := "geändert"
	if _, err := f.svc.UpdateRegistration(ctx, orga, reg.ID, UpdateRegistrationInput{Notes: &notes}); err != nil {
		t.Fatalf("UpdateRegistration err=%v", err)
	}
	_, err = f.svc.PartialImport(ctx, orga, f.event.ID, raw, dry.Token, false)
	wantAppErr(t, err, 409, "PARTIAL_IMPORT_CONFLICT")
}

var errDiskFull = errors.New("disk full")

// failingRegistrations fails every registration insert made inside a unit
// of work.
type failingRegistrations struct{ eventrepo.Repository }

func (f failingRegistrations) CreateRegistration(context.Context, domain.Registration) error {
	return errDiskFull
}

func (f failingRegistrations) Atomically(ctx context.Context, id domain.EventID, fn func(eventrepo.Repository) error) error {
	return f.Repository.Atomically(ctx, id, func(tx eventrepo.Repository) error {
		return fn(failingRegistrations{tx})
	})
}

func TestService_PartialImport_FailedApplyWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, alice)
	f.svc.repo = failingRegistrations{f.svc.repo}

	exp, err := f.svc.PartialExport(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("PartialExport err=%v", err)
	}
	exp.Courses["new-course"] = ExportCourse{Nr: "7", Title: "Neuer Kurs", Segments: []domain.TrackID{f.track}}
	exp.Lodgements["new-lodge"] = ExportLodgement{Title: "Zelt"}
	changed := exp.Registrations[reg.ID]
	changed.Notes = "kommt später"
	exp.Registrations[reg.ID] = changed
	exp.Registrations["new-reg"] = ExportRegistration{
		PersonaID: bob.ID,
		Parts:     map[domain.PartID]ExportRegistrationPart{f.part: {Status: domain.RegParticipant}},
		Fields:    map[string]any{"prio": 1},
	}
	raw, err := MarshalPartialExport(exp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	dry, err := f.svc.PartialImport(ctx, orga, f.event.ID, raw, "", true)
	if err != nil {
		t.Fatalf("dry run err=%v", err)
	}

	_, err = f.svc.PartialImport(ctx, orga, f.event.ID, raw, dry.Token, false)
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("apply err=%v, want %v", err, errDiskFull)
	}

	courses, _ := f.svc.ListCourses(ctx, f.event.ID)
	lodgements, _ := f.svc.ListLodgements(ctx, orga, f.event.ID)
	if len(courses) != 0 || len(lodgements) != 0 {
		t.Fatalf("failed import left courses=%v lodgements=%v", courses, lodgements)
	}
	got, err := f.svc.GetRegistration(ctx, orga, reg.ID)
	if err != nil {
		t.Fatalf("GetRegistration err=%v", err)
	}
	if got.Notes != "" {
		t.Fatalf("notes=%q, want unchanged", got.Notes)
	}

	// The same token still applies once the store recovers.
	f.svc.repo = f.svc.repo.(failingRegistrations).Repository
	if _, err := f.svc.PartialImport(ctx, orga, f.event.ID, raw, dry.Token, false); err != nil {
		t.Fatalf("retry err=%v", err)
	}
	courses, _ = f.svc.ListCourses(ctx, f.event.ID)
	if len(courses) != 1 {
		t.Fatalf("courses after retry=%v", courses)
	}
}

func TestService_PartialImport_Rejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, alice)
	base, err := f.svc.PartialExport(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("PartialExport err=%v", err)
	}

	clone := func() PartialExport {
		raw, _ := json.Marshal(base)
		var out PartialExport
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("clone: %v", err)
		}
		return out
	}

	cases := []struct {
		name   string
		mutate func(*PartialExport)
	}{
		{"wrong kind", func(e *PartialExport) { e.Kind = "full" }},
		{"wrong major version", func(e *PartialExport) { e.SchemaVersion = [2]int{15, 3} }},
		{"other event", func(e *PartialExport) { e.ID = "other" }},
		{"persona changed", func(e *PartialExport) {
			r := e.Registrations[reg.ID]
			r.PersonaID = bob.ID
			e.Registrations[reg.ID] = r
		}},
		{"unknown persona", func(e *PartialExport) {
			e.Registrations["x"] = ExportRegistration{PersonaID: "ghost"}
		}},
		{"persona registered twice", func(e *PartialExport) {
			e.Registrations["x"] = ExportRegistration{PersonaID: alice.ID}
		}},
		{"unknown course choice", func(e *PartialExport) {
			r := e.Registrations[reg.ID]
			r.Tracks = map[domain.TrackID]ExportRegistrationTrack{f.track: {Choices: []domain.CourseID{"nope"}}}
			e.Registrations[reg.ID] = r
		}},
		{"bad field value", func(e *PartialExport) {
			r := e.Registrations[reg.ID]
			r.Fields = map[string]any{"prio": "high"}
			e.Registrations[reg.ID] = r
		}},
		{"course with unknown track", func(e *PartialExport) {
			e.Courses["c"] = ExportCourse{Nr: "1", Title: "T", Segments: []domain.TrackID{"nope"}}
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			e := clone()
			tc.mutate(&e)
			raw, err := MarshalPartialExport(e)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			_, err = f.svc.PartialImport(ctx, orga, f.event.ID, raw, "", true)
			wantAppErr(t, err, 422, "VALIDATION_ERROR")
		})
	}

	_, err = f.svc.PartialImport(ctx, orga, f.event.ID, []byte("{"), "", true)
	wantAppErr(t, err, 422, "VALIDATION_ERROR")
}
