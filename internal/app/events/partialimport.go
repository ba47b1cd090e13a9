package events

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

// Delta lists the entities a partial import creates or changes with their
// new state; a nil entry marks a deletion. Keys of created entities are the
// client's keys; the stored entities get fresh ids.
type Delta struct {
	Courses       map[domain.CourseID]*ExportCourse             `json:"courses"`
	Lodgements    map[domain.LodgementID]*ExportLodgement       `json:"lodgements"`
	Registrations map[domain.RegistrationID]*ExportRegistration `json:"registrations"`
}

type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpChange ChangeOp = "change"
	OpDelete ChangeOp = "delete"
)

// Change is one line of the human-readable delta summary.
type Change struct {
	Entity string
	ID     string
	Op     ChangeOp
}

type PartialImportResult struct {
	Delta   Delta
	Changes []Change
	// Token binds the delta to the event state it was computed against.
	Token   string
	Applied bool
}

func importConflict() *apperr.Error {
	return apperr.Conflict("PARTIAL_IMPORT_CONFLICT", "The event changed since the dry run; compute the delta again.")
}

// PartialImport compares a modified partial export with the current state.
// With dryRun it only reports the delta and its token; otherwise the token
// of a previous dry run must be supplied and the delta is applied.
func (s *Service) PartialImport(ctx context.Context, actor domain.Persona, eventID domain.EventID, raw []byte, token string, dryRun bool) (PartialImportResult, error) {
	ev, err := s.orgaEvent(ctx, actor, eventID)
	if err != nil {
		return PartialImportResult{}, err
	}

	var sub PartialExport
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&sub); err != nil {
		return PartialImportResult{}, apperr.Validation("body", "malformed partial export: "+err.Error())
	}
	if sub.Kind != exportKindPartial {
		return PartialImportResult{}, apperr.Validation("kind", "must be \"partial\"")
	}
	if sub.SchemaVersion[0] != EventSchemaVersion[0] {
		return PartialImportResult{}, apperr.Validation("EVENT_SCHEMA_VERSION", fmt.Sprintf("major version must be %d", EventSchemaVersion[0]))
	}
	if sub.ID != eventID {
		return PartialImportResult{}, apperr.Validation("id", "export belongs to another event")
	}

	current, err := s.PartialExport(ctx, eventID)
	if err != nil {
		return PartialImportResult{}, err
	}
	target, err := s.normalizeSubmitted(ctx, ev, current, sub)
	if err != nil {
		return PartialImportResult{}, err
	}
	delta, changes, err := computeDelta(current, target)
	if err != nil {
		return PartialImportResult{}, err
	}
	tok, err := deltaToken(current, delta)
	if err != nil {
		return PartialImportResult{}, err
	}
	res := PartialImportResult{Delta: delta, Changes: changes, Token: tok}
	if dryRun {
		return res, nil
	}
	if strings.TrimSpace(token) == "" {
		return PartialImportResult{}, apperr.Validation("token", "a token from a dry run is required")
	}
	if token != tok {
		return PartialImportResult{}, importConflict()
	}
	err = s.repo.Atomically(ctx, eventID, func(tx eventrepo.Repository) error {
		// Check the token again under the lock; a change since the first
		// read invalidates it.
		locked, err := s.partialExport(ctx, tx, eventID)
		if err != nil {
			return err
		}
		again, err := deltaToken(locked, delta)
		if err != nil {
			return err
		}
		if again != token {
			return importConflict()
		}
		return s.applyDelta(ctx, tx, ev, delta)
	})
	if errors.Is(err, eventrepo.ErrNotFound) {
		return PartialImportResult{}, eventNotFound()
	}
	if err != nil {
		return PartialImportResult{}, err
	}
	res.Applied = true
	s.log.Info("partial import applied",
		zap.String("event_id", string(eventID)),
		zap.String("actor", string(actor.ID)),
		zap.Int("changes", len(changes)),
	)
	if len(changes) > 0 {
		s.changed(eventID, actor)
	}
	return res, nil
}

// normalizeSubmitted validates the submitted entities and returns them in canonical export form.
func (s *Service) normalizeSubmitted(ctx context.Context, ev domain.Event, current, sub PartialExport) (PartialExport, error) {
	out := PartialExport{
		Courses:       make(map[domain.CourseID]ExportCourse, len(sub.Courses)),
		Lodgements:    make(map[domain.LodgementID]ExportLodgement, len(sub.Lodgements)),
		Registrations: make(map[domain.RegistrationID]ExportRegistration, len(sub.Registrations)),
	}
	for id, c := range sub.Courses {
		if id == "" {
			return PartialExport{}, apperr.Validation("courses", "empty course key")
		}
		course, err := buildCourse(ev, CourseInput{
			Nr: c.Nr, Title: c.Title, Tracks: c.Segments, MinSize: c.MinSize, MaxSize: c.MaxSize, Fields: c.Fields,
		})
		if err != nil {
			return PartialExport{}, prefixErr("courses."+string(id), err)
		}
		out.Courses[id] = exportCourse(course)
	}
	for id, l := range sub.Lodgements {
		if id == "" {
			return PartialExport{}, apperr.Validation("lodgements", "empty lodgement key")
		}
		lodgement, err := buildLodgement(ev, LodgementInput{
			Title: l.Title, RegularCapacity: l.RegularCapacity, CampingMatCapacity: l.CampingMatCapacity, Fields: l.Fields,
		})
		if err != nil {
			return PartialExport{}, prefixErr("lodgements."+string(id), err)
		}
		out.Lodgements[id] = exportLodgement(lodgement)
	}

	personas := make(map[domain.PersonaID]domain.RegistrationID, len(sub.Registrations))
	for id, r := range sub.Registrations {
		field := "registrations." + string(id)
		if id == "" {
			return PartialExport{}, apperr.Validation("registrations", "empty registration key")
		}
		if existing, ok := current.Registrations[id]; ok {
			if r.PersonaID != existing.PersonaID {
				return PartialExport{}, apperr.Validation(field+".persona_id", "cannot be changed")
			}
		} else if err := s.checkNewRegistrant(ctx, r.PersonaID); err != nil {
			return PartialExport{}, prefixErr(field, err)
		}
		if other, dup := personas[r.PersonaID]; dup {
			return PartialExport{}, apperr.Validation(field+".persona_id", "persona also registered as "+string(other))
		}
		personas[r.PersonaID] = id

		reg := domain.Registration{
			ID:        id,
			EventID:   ev.ID,
			PersonaID: r.PersonaID,
			Notes:     strings.TrimSpace(r.Notes),
			Parts:     make(map[domain.PartID]domain.RegistrationPart, len(r.Parts)),
			Tracks:    make(map[domain.TrackID]domain.RegistrationTrack, len(r.Tracks)),
		}
		for pid, p := range r.Parts {
			if _, ok := ev.Part(pid); !ok {
				return PartialExport{}, apperr.Validation(field+".parts", "unknown part "+string(pid))
			}
			if _, ok := domain.ParseRegistrationPartStatus(string(p.Status)); !ok {
				return PartialExport{}, apperr.Validation(field+".parts", "unknown status "+string(p.Status))
			}
			if p.LodgementID != nil {
				if _, ok := out.Lodgements[*p.LodgementID]; !ok {
					return PartialExport{}, apperr.Validation(field+".parts", "unknown lodgement "+string(*p.LodgementID))
				}
			}
			reg.Parts[pid] = domain.RegistrationPart{Status: p.Status, LodgementID: p.LodgementID}
		}
		for tid, t := range r.Tracks {
			track, ok := ev.Track(tid)
			if !ok {
				return PartialExport{}, apperr.Validation(field+".tracks", "unknown track "+string(tid))
			}
			if len(t.Choices) > track.NumChoices {
				return PartialExport{}, apperr.Validation(field+".tracks", "too many choices for track "+track.Shortname)
			}
			offered := func(cid domain.CourseID) error {
				c, ok := out.Courses[cid]
				if !ok {
					return apperr.Validation(field+".tracks", "unknown course "+string(cid))
				}
				for _, seg := range c.Segments {
					if seg == tid {
						return nil
					}
				}
				return apperr.Validation(field+".tracks", "course "+c.Nr+" is not offered in track "+string(tid))
			}
			for _, cid := range t.Choices {
				if err := offered(cid); err != nil {
					return PartialExport{}, err
				}
			}
			if t.CourseID != nil {
				if err := offered(*t.CourseID); err != nil {
					return PartialExport{}, err
				}
			}
			reg.Tracks[tid] = domain.RegistrationTrack{CourseChoices: t.Choices, CourseID: t.CourseID}
		}
		fields, err := domain.NormalizeFieldValues(ev.Fields, domain.FieldForRegistration, r.Fields)
		if err != nil {
			return PartialExport{}, prefixErr(field, fieldError(err))
		}
		reg.Fields = fields
		out.Registrations[id] = exportRegistration(ev, reg)
	}
	return out, nil
}

func (s *Service) checkNewRegistrant(ctx context.Context, id domain.PersonaID) error {
	p, err := s.personas.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, personarepo.ErrNotFound) {
			return apperr.Validation("persona_id", "unknown persona")
		}
		return err
	}
	if !hasRealm(p.Realms, domain.RealmEvent) {
		return apperr.Validation("persona_id", "persona is not an event user")
	}
	return nil
}

func computeDelta(current, target PartialExport) (Delta, []Change, error) {
	d := Delta{
		Courses:       map[domain.CourseID]*ExportCourse{},
		Lodgements:    map[domain.LodgementID]*ExportLodgement{},
		Registrations: map[domain.RegistrationID]*ExportRegistration{},
	}
	var changes []Change
	note := func(entity, id string, op ChangeOp) {
		changes = append(changes, Change{Entity: entity, ID: id, Op: op})
	}

	for id, c := range target.Courses {
		c := c
		old, ok := current.Courses[id]
		same, err := sameJSON(old, c)
		if err != nil {
			return Delta{}, nil, err
		}
		switch {
		case !ok:
			d.Courses[id] = &c
			note("course", string(id), OpCreate)
		case !same:
			d.Courses[id] = &c
			note("course", string(id), OpChange)
		}
	}
	for id := range current.Courses {
		if _, ok := target.Courses[id]; !ok {
			d.Courses[id] = nil
			note("course", string(id), OpDelete)
		}
	}

	for id, l := range target.Lodgements {
		l := l
		old, ok := current.Lodgements[id]
		same, err := sameJSON(old, l)
		if err != nil {
			return Delta{}, nil, err
		}
		switch {
		case !ok:
			d.Lodgements[id] = &l
			note("lodgement", string(id), OpCreate)
		case !same:
			d.Lodgements[id] = &l
			note("lodgement", string(id), OpChange)
		}
	}
	for id := range current.Lodgements {
		if _, ok := target.Lodgements[id]; !ok {
			d.Lodgements[id] = nil
			note("lodgement", string(id), OpDelete)
		}
	}

	for id, r := range target.Registrations {
		r := r
		old, ok := current.Registrations[id]
		same, err := sameJSON(old, r)
		if err != nil {
			return Delta{}, nil, err
		}
		switch {
		case !ok:
			d.Registrations[id] = &r
			note("registration", string(id), OpCreate)
		case !same:
			d.Registrations[id] = &r
			note("registration", string(id), OpChange)
		}
	}
	for id := range current.Registrations {
		if _, ok := target.Registrations[id]; !ok {
			d.Registrations[id] = nil
			note("registration", string(id), OpDelete)
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Entity != changes[j].Entity {
			return changes[i].Entity < changes[j].Entity
		}
		return changes[i].ID < changes[j].ID
	})
	return d, changes, nil
}

func sameJSON(a, b any) (bool, error) {
	ab, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

// deltaToken hashes the current state (without its timestamp) together with the delta.
func deltaToken(current PartialExport, d Delta) (string, error) {
	current.Timestamp = time.Time{}
	cb, err := json.Marshal(current)
	if err != nil {
		return "", err
	}
	db, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(cb)
	h.Write([]byte{0})
	h.Write(db)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Service) applyDelta(ctx context.Context, repo eventrepo.Repository, ev domain.Event, d Delta) error {
	courseIDs := make(map[domain.CourseID]domain.CourseID)
	lodgementIDs := make(map[domain.LodgementID]domain.LodgementID)

	for _, key := range sortedKeys(d.Courses) {
		if d.Courses[key] == nil {
			continue
		}
		id := key
		existing, err := repo.GetCourse(ctx, key)
		switch {
		case errors.Is(err, eventrepo.ErrCourseNotFound), err == nil && existing.EventID != ev.ID:
			id = domain.CourseID(s.newID())
		case err != nil:
			return err
		}
		courseIDs[key] = id
	}
	for _, key := range sortedKeys(d.Lodgements) {
		if d.Lodgements[key] == nil {
			continue
		}
		id := key
		existing, err := repo.GetLodgement(ctx, key)
		switch {
		case errors.Is(err, eventrepo.ErrLodgementNotFound), err == nil && existing.EventID != ev.ID:
			id = domain.LodgementID(s.newID())
		case err != nil:
			return err
		}
		lodgementIDs[key] = id
	}
	mapCourse := func(id domain.CourseID) domain.CourseID {
		if v, ok := courseIDs[id]; ok {
			return v
		}
		return id
	}
	mapLodgement := func(id domain.LodgementID) domain.LodgementID {
		if v, ok := lodgementIDs[id]; ok {
			return v
		}
		return id
	}

	for _, key := range sortedKeys(d.Courses) {
		c := d.Courses[key]
		if c == nil {
			continue
		}
		if err := repo.SaveCourse(ctx, domain.Course{
			ID:      courseIDs[key],
			EventID: ev.ID,
			Nr:      c.Nr,
			Title:   c.Title,
			Tracks:  c.Segments,
			MinSize: c.MinSize,
			MaxSize: c.MaxSize,
			Fields:  c.Fields,
		}); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(d.Lodgements) {
		l := d.Lodgements[key]
		if l == nil {
			continue
		}
		if err := repo.SaveLodgement(ctx, domain.Lodgement{
			ID:                 lodgementIDs[key],
			EventID:            ev.ID,
			Title:              l.Title,
			RegularCapacity:    l.RegularCapacity,
			CampingMatCapacity: l.CampingMatCapacity,
			Fields:             l.Fields,
		}); err != nil {
			return err
		}
	}

	now := s.clk.Now()
	for _, key := range sortedKeys(d.Registrations) {
		if d.Registrations[key] != nil {
			continue
		}
		if err := repo.DeleteRegistration(ctx, key); err != nil && !errors.Is(err, eventrepo.ErrRegistrationNotFound) {
			return err
		}
	}
	for _, key := range sortedKeys(d.Registrations) {
		r := d.Registrations[key]
		if r == nil {
			continue
		}
		reg := domain.Registration{
			ID:        key,
			EventID:   ev.ID,
			PersonaID: r.PersonaID,
			Notes:     r.Notes,
			Parts:     make(map[domain.PartID]domain.RegistrationPart, len(r.Parts)),
			Tracks:    make(map[domain.TrackID]domain.RegistrationTrack, len(r.Tracks)),
			Fields:    r.Fields,
			UpdatedAt: now,
		}
		for pid, p := range r.Parts {
			rp := domain.RegistrationPart{Status: p.Status}
			if p.LodgementID != nil {
				lid := mapLodgement(*p.LodgementID)
				rp.LodgementID = &lid
			}
			reg.Parts[pid] = rp
		}
		for tid, t := range r.Tracks {
			rt := domain.RegistrationTrack{CourseChoices: make([]domain.CourseID, 0, len(t.Choices))}
			for _, cid := range t.Choices {
				rt.CourseChoices = append(rt.CourseChoices, mapCourse(cid))
			}
			if t.CourseID != nil {
				cid := mapCourse(*t.CourseID)
				rt.CourseID = &cid
			}
			reg.Tracks[tid] = rt
		}

		existing, err := repo.GetRegistration(ctx, key)
		switch {
		case err == nil && existing.EventID == ev.ID:
			reg.CreatedAt = existing.CreatedAt
			if err := repo.SaveRegistration(ctx, reg); err != nil {
				return err
			}
		case err == nil || errors.Is(err, eventrepo.ErrRegistrationNotFound):
			reg.ID = domain.RegistrationID(s.newID())
			reg.CreatedAt = now
			if err := repo.CreateRegistration(ctx, reg); err != nil {
				if errors.Is(err, eventrepo.ErrAlreadyRegistered) {
					return importConflict()
				}
				return err
			}
		default:
			return err
		}
	}

	for _, key := range sortedKeys(d.Courses) {
		if d.Courses[key] != nil {
			continue
		}
		if err := repo.DeleteCourse(ctx, key); err != nil && !errors.Is(err, eventrepo.ErrCourseNotFound) {
			return err
		}
	}
	for _, key := range sortedKeys(d.Lodgements) {
		if d.Lodgements[key] != nil {
			continue
		}
		if err := repo.DeleteLodgement(ctx, key); err != nil && !errors.Is(err, eventrepo.ErrLodgementNotFound) {
			return err
		}
	}
	return nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func prefixErr(prefix string, err error) error {
	ae, ok := apperr.As(err)
	if !ok || ae.Details == nil {
		return err
	}
	details := make(map[string]any, len(ae.Details))
	for k, v := range ae.Details {
		details[prefix+"."+k] = v
	}
	return &apperr.Error{Status: ae.Status, Code: ae.Code, Message: ae.Message, Details: details}
}
