package genesisrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/genesisrepo"
)

// Repo is an in-memory implementation of genesisrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex
	m  map[domain.GenesisCaseID]domain.GenesisCase
}

func NewRepo() *Repo {
	return &Repo{m: make(map[domain.GenesisCaseID]domain.GenesisCase)}
}

func (r *Repo) Create(ctx context.Context, c domain.GenesisCase) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[c.ID]; ok {
		return genesisrepo.ErrAlreadyExists
	}
	r.m[c.ID] = cloneCase(c)
	return nil
}

func (r *Repo) Update(ctx context.Context, c domain.GenesisCase) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[c.ID]; !ok {
		return genesisrepo.ErrNotFound
	}
	r.m[c.ID] = cloneCase(c)
	return nil
}

func (r *Repo) Get(ctx context.Context, id domain.GenesisCaseID) (domain.GenesisCase, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[id]
	if !ok {
		return domain.GenesisCase{}, genesisrepo.ErrNotFound
	}
	return cloneCase(c), nil
}

func (r *Repo) List(ctx context.Context, states ...domain.GenesisState) ([]domain.GenesisCase, error) {
	_ = ctx
	want := make(map[domain.GenesisState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.GenesisCase, 0)
	for _, c := range r.m {
		if len(want) > 0 && !want[c.State] {
			continue
		}
		out = append(out, cloneCase(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repo) FindOpenByEmail(ctx context.Context, email string) (domain.GenesisCase, error) {
	_ = ctx
	key := domain.NormalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.m {
		if c.State.IsOpen() && domain.NormalizeEmail(c.Email) == key {
			return cloneCase(c), nil
		}
	}
	return domain.GenesisCase{}, genesisrepo.ErrNotFound
}

func (r *Repo) DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.m {
		if c.State == domain.GenesisUnconfirmed && c.CreatedAt.Before(cutoff) {
			delete(r.m, id)
			n++
		}
	}
	return n, nil
}

func cloneCase(c domain.GenesisCase) domain.GenesisCase {
	out := c
	if c.Reviewer != nil {
		v := *c.Reviewer
		out.Reviewer = &v
	}
	if c.PersonaID != nil {
		v := *c.PersonaID
		out.PersonaID = &v
	}
	return out
}
