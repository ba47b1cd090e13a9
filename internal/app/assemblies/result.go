package assemblies

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/schulze"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

const ResultVersion = 1

type CastVote struct {
	Vote string `json:"vote"`
	Salt string `json:"salt"`
	Hash string `json:"hash"`
}

// ResultFile is the published, self-contained outcome of a ballot. It holds
// every cast vote so that anyone can recount and every voter can find
// their own vote.
type ResultFile struct {
	ResultVersion    int                       `json:"result_version"`
	Assembly         string                    `json:"assembly"`
	Ballot           string                    `json:"ballot"`
	Candidates       map[string]string         `json:"candidates"`
	UseBar           bool                      `json:"use_bar"`
	Votes            *int                      `json:"votes"`
	Voters           []string                  `json:"voters"`
	VoteBegin        time.Time                 `json:"vote_begin"`
	VoteEnd          time.Time                 `json:"vote_end"`
	VoteExtensionEnd *time.Time                `json:"vote_extension_end"`
	AbsQuorum        int                       `json:"abs_quorum"`
	VotesCast        []CastVote                `json:"votes_cast"`
	Result           string                    `json:"result"`
	ResultTiers      [][]string                `json:"result_tiers"`
	Pairwise         map[string]map[string]int `json:"pairwise"`
}

// shortnames returns the sorted candidate shortnames plus the bar.
func (f ResultFile) shortnames() []string {
	out := make([]string, 0, len(f.Candidates)+1)
	for s := range f.Candidates {
		out = append(out, s)
	}
	sort.Strings(out)
	if f.UseBar {
		out = append(out, domain.BarShortname)
	}
	return out
}

// Tally computes the result of a closed ballot and stores the result file.
func (s *Service) Tally(ctx context.Context, actor domain.Persona, id domain.BallotID) (domain.Ballot, error) {
	b, err := s.loadBallot(ctx, id)
	if err != nil {
		return domain.Ballot{}, err
	}
	a, err := s.GetAssembly(ctx, b.AssemblyID)
	if err != nil {
		return domain.Ballot{}, err
	}
	if !mayPreside(actor, a) {
		return domain.Ballot{}, apperr.Forbidden("Only presiders may tally ballots.")
	}
	ph, err := s.phase(ctx, &b)
	if err != nil {
		return domain.Ballot{}, err
	}
	switch ph {
	case domain.BallotTallied:
		return domain.Ballot{}, apperr.Conflict("ALREADY_TALLIED", "The ballot has already been tallied.")
	case domain.BallotClosed:
	default:
		return domain.Ballot{}, apperr.Conflict("BALLOT_NOT_CLOSED", "Voting on the ballot has not ended.")
	}

	votes, err := s.repo.ListVotes(ctx, b.ID)
	if err != nil {
		return domain.Ballot{}, err
	}
	voters, err := s.repo.ListVoters(ctx, b.ID)
	if err != nil {
		return domain.Ballot{}, err
	}
	names := make([]string, 0, len(voters))
	for _, v := range voters {
		if !v.HasVoted {
			continue
		}
		p, err := s.personas.GetByID(ctx, v.PersonaID)
		if err != nil {
			if errors.Is(err, personarepo.ErrNotFound) {
				continue
			}
			return domain.Ballot{}, err
		}
		names = append(names, voterName(p.Domain()))
	}
	sort.Strings(names)

	f := ResultFile{
		ResultVersion:    ResultVersion,
		Assembly:         a.Title,
		Ballot:           b.Title,
		Candidates:       make(map[string]string, len(b.Candidates)),
		UseBar:           b.UseBar,
		Votes:            b.Votes,
		Voters:           names,
		VoteBegin:        b.VoteBegin,
		VoteEnd:          b.VoteEnd,
		VoteExtensionEnd: b.VoteExtensionEnd,
		AbsQuorum:        b.AbsQuorum,
		VotesCast:        make([]CastVote, 0, len(votes)),
	}
	for _, c := range b.Candidates {
		f.Candidates[c.Shortname] = c.Title
	}
	raw := make([]string, 0, len(votes))
	for _, v := range votes {
		f.VotesCast = append(f.VotesCast, CastVote{Vote: v.Vote, Salt: v.Salt, Hash: v.Hash})
		raw = append(raw, v.Vote)
	}
	sort.Slice(f.VotesCast, func(i, j int) bool { return f.VotesCast[i].Hash < f.VotesCast[j].Hash })

	res, err := schulze.Tally(f.shortnames(), raw)
	if err != nil {
		return domain.Ballot{}, fmt.Errorf("tally ballot %s: %w", b.ID, err)
	}
	f.Result = res.String()
	f.ResultTiers = res.Tiers
	f.Pairwise = res.Pairwise

	file, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return domain.Ballot{}, err
	}
	sum := sha256.Sum256(file)
	b.ResultFile = file
	b.ResultHash = hex.EncodeToString(sum[:])
	b.IsTallied = true
	b.UpdatedAt = s.clk.Now()
	if err := s.repo.SaveBallot(ctx, b); err != nil {
		return domain.Ballot{}, err
	}
	s.log.Info("ballot tallied",
		zap.String("ballot_id", string(b.ID)),
		zap.String("assembly_id", string(a.ID)),
		zap.Int("votes", len(votes)),
		zap.String("result", f.Result),
		zap.String("result_hash", b.ResultHash),
	)
	return b, nil
}

// Result returns the result file of a tallied ballot.
func (s *Service) Result(ctx context.Context, actor domain.Persona, id domain.BallotID) ([]byte, error) {
	if !actor.HasRealm(domain.RealmAssembly) && !isAssemblyAdmin(actor) {
		return nil, apperr.Forbidden("Only assembly users may view results.")
	}
	b, err := s.loadBallot(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsTallied {
		return nil, apperr.NotFound("RESULT_NOT_AVAILABLE", "The ballot has not been tallied yet.")
	}
	return b.ResultFile, nil
}

// Verification is the outcome of checking a result file.
type Verification struct {
	// Recomputed is the result of recounting the votes in the file.
	Recomputed string
	// Matches reports whether Recomputed equals the stated result.
	Matches bool
	// Problems lists inconsistencies found in the file.
	Problems []string
	// OwnVote is the vote belonging to the given secret, if found.
	OwnVote *string
}

// voterName is the display name, or the full name when none is set.
func voterName(p domain.Persona) string {
	if n := domain.NormalizeHumanName(p.DisplayName); n != "" {
		return n
	}
	return p.FullName()
}

// VerifyResult recounts a result file. With a non-empty secret it also
// locates the vote cast with that secret.
func VerifyResult(file []byte, secret string) (Verification, error) {
	var f ResultFile
	if err := json.Unmarshal(file, &f); err != nil {
		return Verification{}, fmt.Errorf("decode result file: %w", err)
	}
	if f.ResultVersion != ResultVersion {
		return Verification{}, fmt.Errorf("unsupported result version %d", f.ResultVersion)
	}

	var v Verification
	raw := make([]string, 0, len(f.VotesCast))
	seen := make(map[string]bool, len(f.VotesCast))
	for i, c := range f.VotesCast {
		raw = append(raw, c.Vote)
		if seen[c.Hash] {
			v.Problems = append(v.Problems, fmt.Sprintf("duplicate vote hash %s", c.Hash))
		}
		seen[c.Hash] = true
		if i > 0 && f.VotesCast[i-1].Hash > c.Hash {
			v.Problems = append(v.Problems, "votes are not sorted by hash")
		}
		if secret != "" && v.OwnVote == nil && VoteHash(c.Salt, secret, c.Vote) == c.Hash {
			own := c.Vote
			v.OwnVote = &own
		}
	}
	if len(f.Voters) != len(f.VotesCast) {
		v.Problems = append(v.Problems, fmt.Sprintf("%d voters but %d votes", len(f.Voters), len(f.VotesCast)))
	}

	res, err := schulze.Tally(f.shortnames(), raw)
	if err != nil {
		return Verification{}, fmt.Errorf("recount: %w", err)
	}
	v.Recomputed = res.String()
	v.Matches = v.Recomputed == f.Result
	if !v.Matches {
		v.Problems = append(v.Problems, fmt.Sprintf("stated result %q differs from recount %q", f.Result, v.Recomputed))
	}
	return v, nil
}
