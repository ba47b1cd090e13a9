package droidrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/droidrepo"
)

// Repo is an in-memory implementation of droidrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex
	m  map[domain.OrgaTokenID]droidrepo.OrgaToken
}

func NewRepo() *Repo {
	return &Repo{m: make(map[domain.OrgaTokenID]droidrepo.OrgaToken)}
}

func (r *Repo) Create(ctx context.Context, t droidrepo.OrgaToken) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[t.ID]; ok {
		return droidrepo.ErrAlreadyExists
	}
	r.m[t.ID] = cloneToken(t)
	return nil
}

func (r *Repo) Get(ctx context.Context, id domain.OrgaTokenID) (droidrepo.OrgaToken, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.m[id]
	if !ok {
		return droidrepo.OrgaToken{}, droidrepo.ErrNotFound
	}
	return cloneToken(t), nil
}

func (r *Repo) Revoke(ctx context.Context, id domain.OrgaTokenID, at time.Time) (droidrepo.OrgaToken, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.m[id]
	if !ok {
		return droidrepo.OrgaToken{}, droidrepo.ErrNotFound
	}
	if t.RevokedAt == nil {
		at = at.UTC()
		t.RevokedAt = &at
		r.m[id] = t
	}
	return cloneToken(t), nil
}

func (r *Repo) TouchLastAccess(ctx context.Context, id domain.OrgaTokenID, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.m[id]
	if !ok || t.RevokedAt != nil {
		return droidrepo.ErrNotFound
	}
	at = at.UTC()
	t.LastAccess = &at
	r.m[id] = t
	return nil
}

func (r *Repo) DeleteUnused(ctx context.Context, id domain.OrgaTokenID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.m[id]
	if !ok {
		return droidrepo.ErrNotFound
	}
	if t.LastAccess != nil {
		return droidrepo.ErrInUse
	}
	delete(r.m, id)
	return nil
}

func (r *Repo) ListByEvent(ctx context.Context, eventID domain.EventID) ([]droidrepo.OrgaToken, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]droidrepo.OrgaToken, 0)
	for _, t := range r.m {
		if t.EventID == eventID {
			out = append(out, cloneToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneToken(t droidrepo.OrgaToken) droidrepo.OrgaToken {
	out := t
	out.RevokedAt = cloneTime(t.RevokedAt)
	out.LastAccess = cloneTime(t.LastAccess)
	return out
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
