package sessionrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/sessionrepo"
)

// Repo is an in-memory implementation of sessionrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex
	m  map[domain.SessionID]domain.Session
}

func NewRepo() *Repo {
	return &Repo{m: make(map[domain.SessionID]domain.Session)}
}

func (r *Repo) Create(ctx context.Context, s domain.Session) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.ID] = s
	return nil
}

func (r *Repo) Get(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[id]
	if !ok {
		return domain.Session{}, sessionrepo.ErrNotFound
	}
	return s, nil
}

func (r *Repo) Touch(ctx context.Context, id domain.SessionID, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok || !s.IsActive {
		return sessionrepo.ErrNotFound
	}
	if at.After(s.LastSeen) {
		s.LastSeen = at
	}
	r.m[id] = s
	return nil
}

func (r *Repo) Deactivate(ctx context.Context, id domain.SessionID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return sessionrepo.ErrNotFound
	}
	s.IsActive = false
	r.m[id] = s
	return nil
}

func (r *Repo) DeactivateAll(ctx context.Context, personaID domain.PersonaID) (int, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.m {
		if s.PersonaID == personaID && s.IsActive {
			s.IsActive = false
			r.m[id] = s
			n++
		}
	}
	return n, nil
}

func (r *Repo) ListActive(ctx context.Context, personaID domain.PersonaID) ([]domain.Session, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Session, 0)
	for _, s := range r.m {
		if s.PersonaID == personaID && s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastSeen.Before(out[j].LastSeen)
	})
	return out, nil
}
