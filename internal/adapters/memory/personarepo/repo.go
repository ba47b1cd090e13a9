package personarepo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

// Repo is an in-memory implementation of personarepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	byID      map[domain.PersonaID]personarepo.Persona
	idByEmail map[string]domain.PersonaID
}

func NewRepo() *Repo {
	return &Repo{
		byID:      make(map[domain.PersonaID]personarepo.Persona),
		idByEmail: make(map[string]domain.PersonaID),
	}
}

func (r *Repo) Create(ctx context.Context, p personarepo.Persona) error {
	_ = ctx
	if p.ID == "" {
		return personarepo.ErrAlreadyExists
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[p.ID]; ok {
		return personarepo.ErrAlreadyExists
	}
	key := domain.NormalizeEmail(p.Email)
	if _, ok := r.idByEmail[key]; ok {
		return personarepo.ErrEmailTaken
	}

	r.byID[p.ID] = clonePersona(p)
	r.idByEmail[key] = p.ID
	return nil
}

func (r *Repo) Update(ctx context.Context, p personarepo.Persona) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[p.ID]
	if !ok {
		return personarepo.ErrNotFound
	}
	oldKey := domain.NormalizeEmail(existing.Email)
	newKey := domain.NormalizeEmail(p.Email)
	if oldKey != newKey {
		if _, taken := r.idByEmail[newKey]; taken {
			return personarepo.ErrEmailTaken
		}
		delete(r.idByEmail, oldKey)
		r.idByEmail[newKey] = p.ID
	}

	r.byID[p.ID] = clonePersona(p)
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.PersonaID) (personarepo.Persona, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return personarepo.Persona{}, personarepo.ErrNotFound
	}
	return clonePersona(p), nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (personarepo.Persona, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.idByEmail[domain.NormalizeEmail(email)]
	if !ok {
		return personarepo.Persona{}, personarepo.ErrNotFound
	}
	return clonePersona(r.byID[id]), nil
}

func (r *Repo) List(ctx context.Context, includeInactive bool) ([]personarepo.Persona, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]personarepo.Persona, 0, len(r.byID))
	for _, p := range r.byID {
		if !includeInactive && (!p.IsActive || p.IsArchived) {
			continue
		}
		out = append(out, clonePersona(p))
	}
	sortPersonas(out)
	return out, nil
}

func (r *Repo) ListByRealm(ctx context.Context, realm domain.Realm) ([]personarepo.Persona, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]personarepo.Persona, 0)
	for _, p := range r.byID {
		if !p.IsActive || p.IsArchived || !hasRealm(p.Realms, realm) {
			continue
		}
		out = append(out, clonePersona(p))
	}
	sortPersonas(out)
	return out, nil
}

func (r *Repo) Search(ctx context.Context, query string, limit int) ([]personarepo.Persona, error) {
	_ = ctx

	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return []personarepo.Persona{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]personarepo.Persona, 0)
	for _, p := range r.byID {
		if p.IsArchived {
			continue
		}
		hay := strings.Join([]string{p.GivenNames, p.FamilyName, p.DisplayName, p.Email}, " ")
		if matchesAllTokens(hay, qTokens) {
			out = append(out, clonePersona(p))
		}
	}
	sortPersonas(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePersona(p personarepo.Persona) personarepo.Persona {
	out := p
	out.Realms = append([]domain.Realm(nil), p.Realms...)
	out.AdminRealms = append([]domain.AdminRealm(nil), p.AdminRealms...)
	return out
}

func hasRealm(rs []domain.Realm, r domain.Realm) bool {
	for _, have := range rs {
		if have == r {
			return true
		}
	}
	return false
}

func sortPersonas(ps []personarepo.Persona) {
	sort.Slice(ps, func(i, j int) bool {
		fi, fj := domain.FoldForSearch(ps[i].FamilyName), domain.FoldForSearch(ps[j].FamilyName)
		if fi != fj {
			return fi < fj
		}
		gi, gj := domain.FoldForSearch(ps[i].GivenNames), domain.FoldForSearch(ps[j].GivenNames)
		if gi != gj {
			return gi < gj
		}
		return ps[i].ID < ps[j].ID
	})
}

func tokenize(s string) []string {
	s = domain.FoldForSearch(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func matchesAllTokens(hay string, tokens []string) bool {
	hay = domain.FoldForSearch(hay)
	for _, t := range tokens {
		if !strings.Contains(hay, t) {
			return false
		}
	}
	return true
}
