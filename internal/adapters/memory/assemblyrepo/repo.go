package assemblyrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
)

type attendeeKey struct {
	assemblyID domain.AssemblyID
	personaID  domain.PersonaID
}

type voterKey struct {
	ballotID  domain.BallotID
	personaID domain.PersonaID
}

// Repo is an in-memory implementation of assemblyrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	assemblies map[domain.AssemblyID]domain.Assembly
	attendees  map[attendeeKey]domain.Attendee
	ballots    map[domain.BallotID]domain.Ballot
	// votes is keyed by ballot, then by hash.
	votes  map[domain.BallotID]map[string]domain.VoteRecord
	voters map[voterKey]bool
}

func NewRepo() *Repo {
	return &Repo{
		assemblies: make(map[domain.AssemblyID]domain.Assembly),
		attendees:  make(map[attendeeKey]domain.Attendee),
		ballots:    make(map[domain.BallotID]domain.Ballot),
		votes:      make(map[domain.BallotID]map[string]domain.VoteRecord),
		voters:     make(map[voterKey]bool),
	}
}

func (r *Repo) CreateAssembly(ctx context.Context, a domain.Assembly) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assemblies[a.ID] = cloneAssembly(a)
	return nil
}

func (r *Repo) SaveAssembly(ctx context.Context, a domain.Assembly) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assemblies[a.ID]; !ok {
		return assemblyrepo.ErrNotFound
	}
	r.assemblies[a.ID] = cloneAssembly(a)
	return nil
}

func (r *Repo) GetAssembly(ctx context.Context, id domain.AssemblyID) (domain.Assembly, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assemblies[id]
	if !ok {
		return domain.Assembly{}, assemblyrepo.ErrNotFound
	}
	return cloneAssembly(a), nil
}

func (r *Repo) ListAssemblies(ctx context.Context) ([]domain.Assembly, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Assembly, 0, len(r.assemblies))
	for _, a := range r.assemblies {
		out = append(out, cloneAssembly(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repo) AddAttendee(ctx context.Context, a domain.Attendee) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assemblies[a.AssemblyID]; !ok {
		return assemblyrepo.ErrNotFound
	}
	k := attendeeKey{assemblyID: a.AssemblyID, personaID: a.PersonaID}
	if _, ok := r.attendees[k]; ok {
		return assemblyrepo.ErrAlreadyAttending
	}
	r.attendees[k] = cloneAttendee(a)
	return nil
}

func (r *Repo) GetAttendee(ctx context.Context, assemblyID domain.AssemblyID, personaID domain.PersonaID) (domain.Attendee, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attendees[attendeeKey{assemblyID: assemblyID, personaID: personaID}]
	if !ok {
		return domain.Attendee{}, assemblyrepo.ErrAttendeeNotFound
	}
	return cloneAttendee(a), nil
}

func (r *Repo) ListAttendees(ctx context.Context, assemblyID domain.AssemblyID) ([]domain.Attendee, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Attendee, 0)
	for k, a := range r.attendees {
		if k.assemblyID == assemblyID {
			out = append(out, cloneAttendee(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonaID < out[j].PersonaID })
	return out, nil
}

func (r *Repo) WipeSecrets(ctx context.Context, assemblyID domain.AssemblyID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, a := range r.attendees {
		if k.assemblyID == assemblyID {
			a.Secret = nil
			r.attendees[k] = a
		}
	}
	return nil
}

func (r *Repo) CreateBallot(ctx context.Context, b domain.Ballot) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assemblies[b.AssemblyID]; !ok {
		return assemblyrepo.ErrNotFound
	}
	r.ballots[b.ID] = cloneBallot(b)
	return nil
}

func (r *Repo) SaveBallot(ctx context.Context, b domain.Ballot) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ballots[b.ID]; !ok {
		return assemblyrepo.ErrBallotNotFound
	}
	r.ballots[b.ID] = cloneBallot(b)
	return nil
}

func (r *Repo) GetBallot(ctx context.Context, id domain.BallotID) (domain.Ballot, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.ballots[id]
	if !ok {
		return domain.Ballot{}, assemblyrepo.ErrBallotNotFound
	}
	return cloneBallot(b), nil
}

func (r *Repo) DeleteBallot(ctx context.Context, id domain.BallotID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ballots[id]; !ok {
		return assemblyrepo.ErrBallotNotFound
	}
	delete(r.ballots, id)
	delete(r.votes, id)
	for k := range r.voters {
		if k.ballotID == id {
			delete(r.voters, k)
		}
	}
	return nil
}

func (r *Repo) ListBallots(ctx context.Context, assemblyID domain.AssemblyID) ([]domain.Ballot, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Ballot, 0)
	for _, b := range r.ballots {
		if b.AssemblyID == assemblyID {
			out = append(out, cloneBallot(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VoteBegin.Equal(out[j].VoteBegin) {
			return out[i].ID < out[j].ID
		}
		return out[i].VoteBegin.Before(out[j].VoteBegin)
	})
	return out, nil
}

func (r *Repo) CastVote(ctx context.Context, personaID domain.PersonaID, rec domain.VoteRecord, own assemblyrepo.VoteMatcher) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ballots[rec.BallotID]; !ok {
		return false, assemblyrepo.ErrBallotNotFound
	}
	byHash := r.votes[rec.BallotID]
	if byHash == nil {
		byHash = make(map[string]domain.VoteRecord)
		r.votes[rec.BallotID] = byHash
	}
	replaced := false
	if own != nil {
		for h, v := range byHash {
			if own(v) {
				delete(byHash, h)
				replaced = true
				break
			}
		}
	}
	byHash[rec.Hash] = rec
	r.voters[voterKey{ballotID: rec.BallotID, personaID: personaID}] = true
	return replaced, nil
}

func (r *Repo) ListVotes(ctx context.Context, ballotID domain.BallotID) ([]domain.VoteRecord, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.VoteRecord, 0, len(r.votes[ballotID]))
	for _, v := range r.votes[ballotID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

func (r *Repo) ListVoters(ctx context.Context, ballotID domain.BallotID) ([]assemblyrepo.Voter, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]assemblyrepo.Voter, 0)
	for k, voted := range r.voters {
		if k.ballotID == ballotID {
			out = append(out, assemblyrepo.Voter{BallotID: ballotID, PersonaID: k.personaID, HasVoted: voted})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonaID < out[j].PersonaID })
	return out, nil
}

func (r *Repo) HasVoted(ctx context.Context, ballotID domain.BallotID, personaID domain.PersonaID) (bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.voters[voterKey{ballotID: ballotID, personaID: personaID}], nil
}

func cloneAssembly(a domain.Assembly) domain.Assembly {
	out := a
	out.Presiders = append([]domain.PersonaID(nil), a.Presiders...)
	return out
}

func cloneAttendee(a domain.Attendee) domain.Attendee {
	out := a
	if a.Secret != nil {
		v := *a.Secret
		out.Secret = &v
	}
	return out
}

func cloneBallot(b domain.Ballot) domain.Ballot {
	out := b
	out.Candidates = append([]domain.Candidate(nil), b.Candidates...)
	if b.VoteExtensionEnd != nil {
		v := *b.VoteExtensionEnd
		out.VoteExtensionEnd = &v
	}
	if b.Votes != nil {
		v := *b.Votes
		out.Votes = &v
	}
	if b.Extended != nil {
		v := *b.Extended
		out.Extended = &v
	}
	out.ResultFile = append([]byte(nil), b.ResultFile...)
	return out
}

