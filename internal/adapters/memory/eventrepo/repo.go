package eventrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
)

type regKey struct {
	eventID   domain.EventID
	personaID domain.PersonaID
}

// Repo is an in-memory implementation of eventrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	events        map[domain.EventID]domain.Event
	courses       map[domain.CourseID]domain.Course
	lodgements    map[domain.LodgementID]domain.Lodgement
	registrations map[domain.RegistrationID]domain.Registration
	regByPersona  map[regKey]domain.RegistrationID
}

func NewRepo() *Repo {
	return &Repo{
		events:        make(map[domain.EventID]domain.Event),
		courses:       make(map[domain.CourseID]domain.Course),
		lodgements:    make(map[domain.LodgementID]domain.Lodgement),
		registrations: make(map[domain.RegistrationID]domain.Registration),
		regByPersona:  make(map[regKey]domain.RegistrationID),
	}
}

func (r *Repo) CreateEvent(ctx context.Context, e domain.Event) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ID]; ok {
		return eventrepo.ErrAlreadyExists
	}
	r.events[e.ID] = cloneEvent(e)
	return nil
}

func (r *Repo) SaveEvent(ctx context.Context, e domain.Event) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ID]; !ok {
		return eventrepo.ErrNotFound
	}
	r.events[e.ID] = cloneEvent(e)
	return nil
}

func (r *Repo) GetEvent(ctx context.Context, id domain.EventID) (domain.Event, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return domain.Event{}, eventrepo.ErrNotFound
	}
	return cloneEvent(e), nil
}

func (r *Repo) ListEvents(ctx context.Context) ([]domain.Event, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, cloneEvent(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repo) SaveCourse(ctx context.Context, c domain.Course) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[c.EventID]; !ok {
		return eventrepo.ErrNotFound
	}
	r.courses[c.ID] = cloneCourse(c)
	return nil
}

func (r *Repo) GetCourse(ctx context.Context, id domain.CourseID) (domain.Course, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.courses[id]
	if !ok {
		return domain.Course{}, eventrepo.ErrCourseNotFound
	}
	return cloneCourse(c), nil
}

func (r *Repo) DeleteCourse(ctx context.Context, id domain.CourseID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.courses[id]; !ok {
		return eventrepo.ErrCourseNotFound
	}
	delete(r.courses, id)
	return nil
}

func (r *Repo) ListCourses(ctx context.Context, eventID domain.EventID) ([]domain.Course, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Course, 0)
	for _, c := range r.courses {
		if c.EventID == eventID {
			out = append(out, cloneCourse(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Nr == out[j].Nr {
			return out[i].ID < out[j].ID
		}
		return out[i].Nr < out[j].Nr
	})
	return out, nil
}

func (r *Repo) SaveLodgement(ctx context.Context, l domain.Lodgement) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[l.EventID]; !ok {
		return eventrepo.ErrNotFound
	}
	r.lodgements[l.ID] = cloneLodgement(l)
	return nil
}

func (r *Repo) GetLodgement(ctx context.Context, id domain.LodgementID) (domain.Lodgement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lodgements[id]
	if !ok {
		return domain.Lodgement{}, eventrepo.ErrLodgementNotFound
	}
	return cloneLodgement(l), nil
}

func (r *Repo) DeleteLodgement(ctx context.Context, id domain.LodgementID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lodgements[id]; !ok {
		return eventrepo.ErrLodgementNotFound
	}
	delete(r.lodgements, id)
	return nil
}

func (r *Repo) ListLodgements(ctx context.Context, eventID domain.EventID) ([]domain.Lodgement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Lodgement, 0)
	for _, l := range r.lodgements {
		if l.EventID == eventID {
			out = append(out, cloneLodgement(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].ID < out[j].ID
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (r *Repo) CreateRegistration(ctx context.Context, reg domain.Registration) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[reg.EventID]; !ok {
		return eventrepo.ErrNotFound
	}
	k := regKey{eventID: reg.EventID, personaID: reg.PersonaID}
	if _, ok := r.regByPersona[k]; ok {
		return eventrepo.ErrAlreadyRegistered
	}
	if _, ok := r.registrations[reg.ID]; ok {
		return eventrepo.ErrAlreadyRegistered
	}
	r.registrations[reg.ID] = cloneRegistration(reg)
	r.regByPersona[k] = reg.ID
	return nil
}

func (r *Repo) SaveRegistration(ctx context.Context, reg domain.Registration) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.registrations[reg.ID]
	if !ok {
		return eventrepo.ErrRegistrationNotFound
	}
	// Event and persona binding is immutable.
	reg.EventID = existing.EventID
	reg.PersonaID = existing.PersonaID
	r.registrations[reg.ID] = cloneRegistration(reg)
	return nil
}

func (r *Repo) GetRegistration(ctx context.Context, id domain.RegistrationID) (domain.Registration, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[id]
	if !ok {
		return domain.Registration{}, eventrepo.ErrRegistrationNotFound
	}
	return cloneRegistration(reg), nil
}

func (r *Repo) GetRegistrationByPersona(ctx context.Context, eventID domain.EventID, personaID domain.PersonaID) (domain.Registration, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.regByPersona[regKey{eventID: eventID, personaID: personaID}]
	if !ok {
		return domain.Registration{}, eventrepo.ErrRegistrationNotFound
	}
	return cloneRegistration(r.registrations[id]), nil
}

func (r *Repo) DeleteRegistration(ctx context.Context, id domain.RegistrationID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[id]
	if !ok {
		return eventrepo.ErrRegistrationNotFound
	}
	delete(r.registrations, id)
	delete(r.regByPersona, regKey{eventID: reg.EventID, personaID: reg.PersonaID})
	return nil
}

func (r *Repo) ListRegistrations(ctx context.Context, eventID domain.EventID) ([]domain.Registration, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Registration, 0)
	for _, reg := range r.registrations {
		if reg.EventID == eventID {
			out = append(out, cloneRegistration(reg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteEvent removes an event with its courses, lodgements and registrations.
func (r *Repo) DeleteEvent(ctx context.Context, id domain.EventID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[id]; !ok {
		return eventrepo.ErrNotFound
	}
	delete(r.events, id)
	for cid, c := range r.courses {
		if c.EventID == id {
			delete(r.courses, cid)
		}
	}
	for lid, l := range r.lodgements {
		if l.EventID == id {
			delete(r.lodgements, lid)
		}
	}
	for rid, reg := range r.registrations {
		if reg.EventID == id {
			delete(r.registrations, rid)
			delete(r.regByPersona, regKey{eventID: id, personaID: reg.PersonaID})
		}
	}
	return nil
}

// Atomically runs fn against a copy of the repository and adopts the copy
// only when fn succeeds. Other calls wait until fn returns.
func (r *Repo) Atomically(ctx context.Context, eventID domain.EventID, fn func(eventrepo.Repository) error) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[eventID]; !ok {
		return eventrepo.ErrNotFound
	}
	work := r.copyLocked()
	if err := fn(work); err != nil {
		return err
	}
	r.events = work.events
	r.courses = work.courses
	r.lodgements = work.lodgements
	r.registrations = work.registrations
	r.regByPersona = work.regByPersona
	return nil
}

func (r *Repo) copyLocked() *Repo {
	c := NewRepo()
	for k, v := range r.events {
		c.events[k] = cloneEvent(v)
	}
	for k, v := range r.courses {
		c.courses[k] = cloneCourse(v)
	}
	for k, v := range r.lodgements {
		c.lodgements[k] = cloneLodgement(v)
	}
	for k, v := range r.registrations {
		c.registrations[k] = cloneRegistration(v)
	}
	for k, v := range r.regByPersona {
		c.regByPersona[k] = v
	}
	return c
}
