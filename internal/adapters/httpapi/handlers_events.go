package httpapi

import (
	"errors"
	"net/http"

	"github.com/oapi-codegen/nullable"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/cde-ev/cdedb2-sub001/internal/app/events"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/eventkeeper"
)

type partRequest struct {
	Shortname     string             `json:"shortname"`
	Title         string             `json:"title"`
	Begin         openapi_types.Date `json:"begin"`
	End           openapi_types.Date `json:"end"`
	WaitlistField string             `json:"waitlistField"`
}

func (p partRequest) input() events.PartInput {
	return events.PartInput{
		Shortname:     p.Shortname,
		Title:         p.Title,
		Begin:         p.Begin.Time,
		End:           p.End.Time,
		WaitlistField: p.WaitlistField,
	}
}

type createEventRequest struct {
	Shortname   string             `json:"shortname"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Orgas       []domain.PersonaID `json:"orgas"`
	Parts       []partRequest      `json:"parts"`
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.principal(w, r); !ok {
		return
	}
	evs, err := s.Events.ListEvents(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]eventDTO, 0, len(evs))
	for _, ev := range evs {
		out = append(out, eventFromDomain(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req createEventRequest
	if !bind(w, r, &req) {
		return
	}
	in := events.CreateEventInput{
		Shortname:   req.Shortname,
		Title:       req.Title,
		Description: req.Description,
		Orgas:       req.Orgas,
	}
	for _, p := range req.Parts {
		in.Parts = append(in.Parts, p.input())
	}
	ev, err := s.Events.CreateEvent(r.Context(), actor, in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event": eventFromDomain(ev)})
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.principal(w, r); !ok {
		return
	}
	ev, err := s.Events.GetEvent(r.Context(), urlParam[domain.EventID](r, "eventId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": eventFromDomain(ev)})
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	if err := s.Events.DeleteEvent(r.Context(), actor, urlParam[domain.EventID](r, "eventId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	noContent(w)
}

type updateEventRequest struct {
	Title            *string             `json:"title"`
	Description      *string             `json:"description"`
	Orgas            *[]domain.PersonaID `json:"orgas"`
	RegistrationOpen *bool               `json:"registrationOpen"`
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req updateEventRequest
	if !bind(w, r, &req) {
		return
	}
	ev, err := s.Events.UpdateEvent(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), events.UpdateEventInput{
		Title:            req.Title,
		Description:      req.Description,
		Orgas:            req.Orgas,
		RegistrationOpen: req.RegistrationOpen,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": eventFromDomain(ev)})
}

func (s *Server) addPart(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req partRequest
	if !bind(w, r, &req) {
		return
	}
	ev, err := s.Events.AddPart(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), req.input())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event": eventFromDomain(ev)})
}

type waitlistFieldRequest struct {
	Field string `json:"field"`
}

func (s *Server) setWaitlistField(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req waitlistFieldRequest
	if !bind(w, r, &req) {
		return
	}
	ev, err := s.Events.SetWaitlistField(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), urlParam[domain.PartID](r, "partId"), req.Field)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": eventFromDomain(ev)})
}

type trackRequest struct {
	Shortname  string `json:"shortname"`
	Title      string `json:"title"`
	NumChoices int    `json:"numChoices"`
}

func (s *Server) addTrack(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req trackRequest
	if !bind(w, r, &req) {
		return
	}
	ev, err := s.Events.AddTrack(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), urlParam[domain.PartID](r, "partId"), events.TrackInput{
		Shortname:  req.Shortname,
		Title:      req.Title,
		NumChoices: req.NumChoices,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event": eventFromDomain(ev)})
}

// importQuestionnaire takes the questionnaire document as the raw body.
func (s *Server) importQuestionnaire(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	raw, ok := readRaw(w, r, maxBodyBytes)
	if !ok {
		return
	}
	res, err := s.Events.ImportQuestionnaire(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), raw)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fieldsAdded":       nonNil(res.FieldsAdded),
		"questionnaireRows": res.QuestionnaireRows,
	})
}

type courseRequest struct {
	Nr      string           `json:"nr"`
	Title   string           `json:"title"`
	Tracks  []domain.TrackID `json:"tracks"`
	MinSize *int             `json:"minSize"`
	MaxSize *int             `json:"maxSize"`
	Fields  map[string]any   `json:"fields"`
}

func (s *Server) listCourses(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.principal(w, r); !ok {
		return
	}
	cs, err := s.Events.ListCourses(r.Context(), urlParam[domain.EventID](r, "eventId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]courseDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, courseFromDomain(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": out})
}

func (s *Server) createCourse(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req courseRequest
	if !bind(w, r, &req) {
		return
	}
	c, err := s.Events.CreateCourse(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), events.CourseInput{
		Nr:      req.Nr,
		Title:   req.Title,
		Tracks:  req.Tracks,
		MinSize: req.MinSize,
		MaxSize: req.MaxSize,
		Fields:  req.Fields,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"course": courseFromDomain(c)})
}

type lodgementRequest struct {
	Title              string         `json:"title"`
	RegularCapacity    int            `json:"regularCapacity"`
	CampingMatCapacity int            `json:"campingMatCapacity"`
	Fields             map[string]any `json:"fields"`
}

func (s *Server) listLodgements(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	ls, err := s.Events.ListLodgements(r.Context(), actor, urlParam[domain.EventID](r, "eventId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]lodgementDTO, 0, len(ls))
	for _, l := range ls {
		out = append(out, lodgementFromDomain(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"lodgements": out})
}

func (s *Server) createLodgement(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req lodgementRequest
	if !bind(w, r, &req) {
		return
	}
	l, err := s.Events.CreateLodgement(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), events.LodgementInput{
		Title:              req.Title,
		RegularCapacity:    req.RegularCapacity,
		CampingMatCapacity: req.CampingMatCapacity,
		Fields:             req.Fields,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"lodgement": lodgementFromDomain(l)})
}

type registerRequest struct {
	Parts   []domain.PartID                      `json:"parts"`
	Choices map[domain.TrackID][]domain.CourseID `json:"choices"`
	Fields  map[string]any                       `json:"fields"`
	Notes   string                               `json:"notes"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if !bind(w, r, &req) {
		return
	}
	reg, err := s.Events.Register(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), events.RegisterInput{
		Parts:   req.Parts,
		Choices: req.Choices,
		Fields:  req.Fields,
		Notes:   req.Notes,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"registration": registrationFromDomain(reg)})
}

func (s *Server) getMyRegistration(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	reg, err := s.Events.GetMyRegistration(r.Context(), actor, urlParam[domain.EventID](r, "eventId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registration": registrationFromDomain(reg)})
}

func (s *Server) listRegistrations(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	regs, err := s.Events.ListRegistrations(r.Context(), actor, urlParam[domain.EventID](r, "eventId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]registrationDTO, 0, len(regs))
	for _, reg := range regs {
		out = append(out, registrationFromDomain(reg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": out})
}

func (s *Server) getRegistration(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	reg, err := s.Events.GetRegistration(r.Context(), actor, urlParam[domain.RegistrationID](r, "registrationId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registration": registrationFromDomain(reg)})
}

type updateRegistrationRequest struct {
	Status  map[domain.PartID]domain.RegistrationPartStatus `json:"status,omitempty"`
	Choices map[domain.TrackID][]domain.CourseID            `json:"choices,omitempty"`
	// Fields are merged; a null value clears the field.
	Fields map[string]any            `json:"fields,omitempty"`
	Notes  nullable.Nullable[string] `json:"notes,omitempty"`
}

func (s *Server) updateRegistration(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req updateRegistrationRequest
	if !bind(w, r, &req) {
		return
	}
	in := events.UpdateRegistrationInput{
		Status:  req.Status,
		Choices: req.Choices,
		Fields:  req.Fields,
	}
	if req.Notes.IsSpecified() {
		notes := ""
		if !req.Notes.IsNull() {
			notes, _ = req.Notes.Get()
		}
		in.Notes = &notes
	}
	reg, err := s.Events.UpdateRegistration(r.Context(), actor, urlParam[domain.RegistrationID](r, "registrationId"), in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registration": registrationFromDomain(reg)})
}

type assignCourseRequest struct {
	CourseID nullable.Nullable[domain.CourseID] `json:"courseId"`
}

// assignCourse sets or, with "courseId": null, clears a course assignment.
func (s *Server) assignCourse(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req assignCourseRequest
	if !bind(w, r, &req) {
		return
	}
	id, ok := requiredNullable(w, r, req.CourseID, "courseId")
	if !ok {
		return
	}
	reg, err := s.Events.AssignCourse(r.Context(), actor, urlParam[domain.RegistrationID](r, "registrationId"), urlParam[domain.TrackID](r, "trackId"), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registration": registrationFromDomain(reg)})
}

type assignLodgementRequest struct {
	LodgementID nullable.Nullable[domain.LodgementID] `json:"lodgementId"`
}

func (s *Server) assignLodgement(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req assignLodgementRequest
	if !bind(w, r, &req) {
		return
	}
	id, ok := requiredNullable(w, r, req.LodgementID, "lodgementId")
	if !ok {
		return
	}
	reg, err := s.Events.AssignLodgement(r.Context(), actor, urlParam[domain.RegistrationID](r, "registrationId"), urlParam[domain.PartID](r, "partId"), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registration": registrationFromDomain(reg)})
}

// requiredNullable demands the field be present; null maps to a nil pointer.
func requiredNullable[T any](w http.ResponseWriter, r *http.Request, n nullable.Nullable[T], field string) (*T, bool) {
	if !n.IsSpecified() {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid "+field, map[string]any{field: "is required (use null to clear)"})
		return nil, false
	}
	if n.IsNull() {
		return nil, true
	}
	v, err := n.Get()
	if err != nil {
		return nil, true
	}
	return &v, true
}

type waitlistEntryDTO struct {
	RegistrationID string `json:"registrationId"`
	PersonaID      string `json:"personaId"`
	Position       int    `json:"position"`
}

func (s *Server) waitlist(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	entries, err := s.Events.WaitlistPositions(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), urlParam[domain.PartID](r, "partId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]waitlistEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, waitlistEntryDTO{RegistrationID: string(e.RegistrationID), PersonaID: string(e.PersonaID), Position: e.Position})
	}
	writeJSON(w, http.StatusOK, map[string]any{"waitlist": out})
}

// partialExport serves orgas and droids allowed to export the event.
func (s *Server) partialExport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	id := urlParam[domain.EventID](r, "eventId")
	switch {
	case p.Droid != nil:
		if !p.Droid.MayExportEvent(id) {
			writeError(w, r, http.StatusForbidden, "FORBIDDEN", "this droid may not export the event", nil)
			return
		}
	default:
		if err := s.Events.RequireOrga(r.Context(), *p.Persona, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	export, err := s.Events.PartialExport(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	body, err := events.MarshalPartialExport(export)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type changeDTO struct {
	Entity string          `json:"entity"`
	ID     string          `json:"id"`
	Op     events.ChangeOp `json:"op"`
}

type partialImportResponse struct {
	Delta   events.Delta `json:"delta"`
	Changes []changeDTO  `json:"changes"`
	Token   string       `json:"token"`
	Applied bool         `json:"applied"`
}

// partialImport takes the modified export as the raw body. ?dryRun=true
// only computes the delta; a real import needs ?token= from the dry run.
func (s *Server) partialImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	raw, ok := readRaw(w, r, maxImportBytes)
	if !ok {
		return
	}
	q := r.URL.Query()
	res, err := s.Events.PartialImport(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), raw, q.Get("token"), queryBool(r, "dryRun"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := partialImportResponse{
		Delta:   res.Delta,
		Changes: make([]changeDTO, 0, len(res.Changes)),
		Token:   res.Token,
		Applied: res.Applied,
	}
	for _, c := range res.Changes {
		out.Changes = append(out.Changes, changeDTO{Entity: c.Entity, ID: c.ID, Op: c.Op})
	}
	writeJSON(w, http.StatusOK, out)
}

type commitDTO struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Time    string `json:"time"`
	Message string `json:"message"`
}

func (s *Server) eventHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	id := urlParam[domain.EventID](r, "eventId")
	if err := s.Events.RequireOrga(r.Context(), actor, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if s.History == nil {
		writeError(w, r, http.StatusNotFound, "HISTORY_DISABLED", "event history is not configured", nil)
		return
	}
	commits, err := s.History.Log(r.Context(), string(id))
	if err != nil {
		if errors.Is(err, eventkeeper.ErrInvalidEventID) {
			writeError(w, r, http.StatusNotFound, "EVENT_NOT_FOUND", "Event not found.", nil)
			return
		}
		s.writeAppError(w, r, err)
		return
	}
	out := make([]commitDTO, 0, len(commits))
	for _, c := range commits {
		out = append(out, commitDTO{Hash: c.Hash, Author: c.Author, Time: c.Time.UTC().Format("2006-01-02T15:04:05Z"), Message: c.Message})
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": out})
}
