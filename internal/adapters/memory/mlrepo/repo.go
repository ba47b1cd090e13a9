package mlrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/mlrepo"
)

type subKey struct {
	mlID      domain.MailinglistID
	personaID domain.PersonaID
}

// Repo is an in-memory implementation of mlrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	lists map[domain.MailinglistID]domain.Mailinglist
	subs  map[subKey]domain.Subscription
}

func NewRepo() *Repo {
	return &Repo{
		lists: make(map[domain.MailinglistID]domain.Mailinglist),
		subs:  make(map[subKey]domain.Subscription),
	}
}

func (r *Repo) Create(ctx context.Context, ml domain.Mailinglist) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addressTaken(ml) {
		return mlrepo.ErrAddressTaken
	}
	r.lists[ml.ID] = cloneML(ml)
	return nil
}

func (r *Repo) Save(ctx context.Context, ml domain.Mailinglist) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lists[ml.ID]; !ok {
		return mlrepo.ErrNotFound
	}
	if r.addressTaken(ml) {
		return mlrepo.ErrAddressTaken
	}
	r.lists[ml.ID] = cloneML(ml)
	return nil
}

// addressTaken must be called with r.mu held.
func (r *Repo) addressTaken(ml domain.Mailinglist) bool {
	addr := domain.NormalizeEmail(ml.Address())
	for id, other := range r.lists {
		if id != ml.ID && domain.NormalizeEmail(other.Address()) == addr {
			return true
		}
	}
	return false
}

func (r *Repo) Get(ctx context.Context, id domain.MailinglistID) (domain.Mailinglist, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	ml, ok := r.lists[id]
	if !ok {
		return domain.Mailinglist{}, mlrepo.ErrNotFound
	}
	return cloneML(ml), nil
}

func (r *Repo) List(ctx context.Context) ([]domain.Mailinglist, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Mailinglist, 0, len(r.lists))
	for _, ml := range r.lists {
		out = append(out, cloneML(ml))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out, nil
}

func (r *Repo) GetSubscription(ctx context.Context, mlID domain.MailinglistID, personaID domain.PersonaID) (domain.Subscription, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[subKey{mlID: mlID, personaID: personaID}]
	if !ok {
		return domain.Subscription{}, mlrepo.ErrSubscriptionNotFound
	}
	return s, nil
}

func (r *Repo) SetSubscription(ctx context.Context, s domain.Subscription) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lists[s.MailinglistID]; !ok {
		return mlrepo.ErrNotFound
	}
	r.subs[subKey{mlID: s.MailinglistID, personaID: s.PersonaID}] = s
	return nil
}

func (r *Repo) DeleteSubscription(ctx context.Context, mlID domain.MailinglistID, personaID domain.PersonaID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	k := subKey{mlID: mlID, personaID: personaID}
	if _, ok := r.subs[k]; !ok {
		return mlrepo.ErrSubscriptionNotFound
	}
	delete(r.subs, k)
	return nil
}

func (r *Repo) ListSubscriptions(ctx context.Context, mlID domain.MailinglistID) ([]domain.Subscription, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Subscription, 0)
	for k, s := range r.subs {
		if k.mlID == mlID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonaID < out[j].PersonaID })
	return out, nil
}

func cloneML(ml domain.Mailinglist) domain.Mailinglist {
	out := ml
	out.Moderators = append([]domain.PersonaID(nil), ml.Moderators...)
	out.RegistrationStati = append([]domain.RegistrationPartStatus(nil), ml.RegistrationStati...)
	if ml.EventID != nil {
		v := *ml.EventID
		out.EventID = &v
	}
	if ml.AssemblyID != nil {
		v := *ml.AssemblyID
		out.AssemblyID = &v
	}
	return out
}
