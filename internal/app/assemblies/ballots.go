package assemblies

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
)

type BallotInput struct {
	Title            string
	Candidates       []domain.Candidate
	VoteBegin        time.Time
	VoteEnd          time.Time
	VoteExtensionEnd *time.Time
	AbsQuorum        int
	// Votes makes the ballot classical with up to Votes choices.
	Votes  *int
	UseBar bool
}

// BallotView is a ballot with its phase at the time of reading.
type BallotView struct {
	domain.Ballot
	Phase domain.BallotPhase
}

func ballotNotFound() *apperr.Error {
	return apperr.NotFound("BALLOT_NOT_FOUND", "Ballot not found.")
}

func ballotLocked() *apperr.Error {
	return apperr.Conflict("BALLOT_LOCKED", "Voting has begun; the ballot can no longer be changed.")
}

func (s *Service) presidedAssembly(ctx context.Context, actor domain.Persona, id domain.AssemblyID) (domain.Assembly, error) {
	a, err := s.GetAssembly(ctx, id)
	if err != nil {
		return domain.Assembly{}, err
	}
	if !mayPreside(actor, a) {
		return domain.Assembly{}, apperr.Forbidden("Only presiders may manage ballots.")
	}
	if !a.IsActive {
		return domain.Assembly{}, apperr.Conflict("ASSEMBLY_CONCLUDED", "The assembly has been concluded.")
	}
	return a, nil
}

func (s *Service) CreateBallot(ctx context.Context, actor domain.Persona, assemblyID domain.AssemblyID, in BallotInput) (domain.Ballot, error) {
	if _, err := s.presidedAssembly(ctx, actor, assemblyID); err != nil {
		return domain.Ballot{}, err
	}
	now := s.clk.Now()
	b := domain.Ballot{
		ID:         domain.BallotID(s.newID()),
		AssemblyID: assemblyID,
		CreatedAt:  now,
	}
	if err := applyBallotInput(&b, in, now); err != nil {
		return domain.Ballot{}, err
	}
	if err := s.repo.CreateBallot(ctx, b); err != nil {
		if errors.Is(err, assemblyrepo.ErrNotFound) {
			return domain.Ballot{}, assemblyNotFound()
		}
		return domain.Ballot{}, err
	}
	return b, nil
}

// UpdateBallot replaces the definition of a ballot that has not begun.
func (s *Service) UpdateBallot(ctx context.Context, actor domain.Persona, id domain.BallotID, in BallotInput) (domain.Ballot, error) {
	b, err := s.editableBallot(ctx, actor, id)
	if err != nil {
		return domain.Ballot{}, err
	}
	if err := applyBallotInput(&b, in, s.clk.Now()); err != nil {
		return domain.Ballot{}, err
	}
	if err := s.repo.SaveBallot(ctx, b); err != nil {
		return domain.Ballot{}, err
	}
	return b, nil
}

func (s *Service) DeleteBallot(ctx context.Context, actor domain.Persona, id domain.BallotID) error {
	if _, err := s.editableBallot(ctx, actor, id); err != nil {
		return err
	}
	return s.repo.DeleteBallot(ctx, id)
}

func (s *Service) editableBallot(ctx context.Context, actor domain.Persona, id domain.BallotID) (domain.Ballot, error) {
	b, err := s.loadBallot(ctx, id)
	if err != nil {
		return domain.Ballot{}, err
	}
	if _, err := s.presidedAssembly(ctx, actor, b.AssemblyID); err != nil {
		return domain.Ballot{}, err
	}
	if !s.clk.Now().Before(b.VoteBegin) {
		return domain.Ballot{}, ballotLocked()
	}
	return b, nil
}

func applyBallotInput(b *domain.Ballot, in BallotInput, now time.Time) error {
	title := domain.NormalizeHumanName(in.Title)
	if title == "" {
		return apperr.Validation("title", "must be non-empty")
	}
	if len(in.Candidates) == 0 {
		return apperr.Validation("candidates", "at least one candidate is required")
	}
	candidates := make([]domain.Candidate, 0, len(in.Candidates))
	seen := map[string]bool{}
	for _, c := range in.Candidates {
		short := strings.TrimSpace(c.Shortname)
		if !domain.ValidCandidateShortname(short) {
			return apperr.Validation("candidates", "invalid shortname "+c.Shortname)
		}
		if seen[short] {
			return apperr.Validation("candidates", "duplicate shortname "+short)
		}
		seen[short] = true
		title := domain.NormalizeHumanName(c.Title)
		if title == "" {
			title = short
		}
		candidates = append(candidates, domain.Candidate{Shortname: short, Title: title})
	}
	if !in.VoteBegin.After(now) {
		return apperr.Validation("voteBegin", "must be in the future")
	}
	if !in.VoteEnd.After(in.VoteBegin) {
		return apperr.Validation("voteEnd", "must be after voteBegin")
	}
	if in.VoteExtensionEnd != nil {
		if !in.VoteExtensionEnd.After(in.VoteEnd) {
			return apperr.Validation("voteExtensionEnd", "must be after voteEnd")
		}
		if in.AbsQuorum <= 0 {
			return apperr.Validation("absQuorum", "an extension needs a positive quorum")
		}
	}
	if in.AbsQuorum < 0 {
		return apperr.Validation("absQuorum", "must not be negative")
	}
	if in.Votes != nil && (*in.Votes < 1 || *in.Votes > len(candidates)) {
		return apperr.Validation("votes", "must be between 1 and the number of candidates")
	}

	b.Title = title
	b.Candidates = candidates
	b.VoteBegin = in.VoteBegin.UTC()
	b.VoteEnd = in.VoteEnd.UTC()
	b.VoteExtensionEnd = nil
	if in.VoteExtensionEnd != nil {
		ext := in.VoteExtensionEnd.UTC()
		b.VoteExtensionEnd = &ext
	}
	b.AbsQuorum = in.AbsQuorum
	b.Votes = nil
	if in.Votes != nil {
		n := *in.Votes
		b.Votes = &n
	}
	b.UseBar = in.UseBar
	b.UpdatedAt = now
	return nil
}

func (s *Service) loadBallot(ctx context.Context, id domain.BallotID) (domain.Ballot, error) {
	b, err := s.repo.GetBallot(ctx, id)
	if err != nil {
		if errors.Is(err, assemblyrepo.ErrBallotNotFound) {
			return domain.Ballot{}, ballotNotFound()
		}
		return domain.Ballot{}, err
	}
	return b, nil
}

// phase derives the ballot phase and records the extension decision the
// first time it is read after the regular end.
func (s *Service) phase(ctx context.Context, b *domain.Ballot) (domain.BallotPhase, error) {
	now := s.clk.Now()
	if b.IsTallied || now.Before(b.VoteEnd) || b.Extended != nil {
		return b.Phase(now, 0), nil
	}
	votes, err := s.repo.ListVotes(ctx, b.ID)
	if err != nil {
		return "", err
	}
	extended := b.VoteExtensionEnd != nil && len(votes) < b.AbsQuorum
	b.Extended = &extended
	b.UpdatedAt = now
	if err := s.repo.SaveBallot(ctx, *b); err != nil {
		return "", err
	}
	return b.Phase(now, len(votes)), nil
}

func (s *Service) GetBallot(ctx context.Context, actor domain.Persona, id domain.BallotID) (BallotView, error) {
	if !actor.HasRealm(domain.RealmAssembly) && !isAssemblyAdmin(actor) {
		return BallotView{}, apperr.Forbidden("Only assembly users may view ballots.")
	}
	b, err := s.loadBallot(ctx, id)
	if err != nil {
		return BallotView{}, err
	}
	ph, err := s.phase(ctx, &b)
	if err != nil {
		return BallotView{}, err
	}
	return BallotView{Ballot: b, Phase: ph}, nil
}

func (s *Service) ListBallots(ctx context.Context, actor domain.Persona, assemblyID domain.AssemblyID) ([]BallotView, error) {
	if !actor.HasRealm(domain.RealmAssembly) && !isAssemblyAdmin(actor) {
		return nil, apperr.Forbidden("Only assembly users may view ballots.")
	}
	if _, err := s.GetAssembly(ctx, assemblyID); err != nil {
		return nil, err
	}
	ballots, err := s.repo.ListBallots(ctx, assemblyID)
	if err != nil {
		return nil, err
	}
	out := make([]BallotView, 0, len(ballots))
	for i := range ballots {
		ph, err := s.phase(ctx, &ballots[i])
		if err != nil {
			return nil, err
		}
		out = append(out, BallotView{Ballot: ballots[i], Phase: ph})
	}
	return out, nil
}
