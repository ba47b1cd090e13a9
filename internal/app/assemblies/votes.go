package assemblies

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/schulze"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
)

// VoteInput carries either a preferential vote string or, for classical
// ballots, the list of chosen shortnames.
type VoteInput struct {
	Vote    string
	Choices []string
}

// VoteHash is the hex sha512 digest over salt, secret and vote.
func VoteHash(salt, secret, vote string) string {
	sum := sha512.Sum512([]byte(salt + ":" + secret + ":" + vote))
	return hex.EncodeToString(sum[:])
}

// NormalizeVote validates a vote string against the ballot and returns it
// with every tier sorted by shortname.
func NormalizeVote(b domain.Ballot, vote string) (string, error) {
	tiers, err := schulze.ParseVote(strings.TrimSpace(vote), b.Shortnames())
	if err != nil {
		return "", err
	}
	for _, t := range tiers {
		sort.Strings(t)
	}
	return schulze.FormatVote(tiers), nil
}

// ClassicalVote converts the choices of a classical ballot into a vote
// string ranking the chosen candidates above all others. A lone bar rejects
// every candidate; no choices at all is an abstention.
func ClassicalVote(b domain.Ballot, choices []string) (string, error) {
	if b.Votes == nil {
		return "", errors.New("ballot is not classical")
	}
	known := map[string]bool{}
	for _, s := range b.Shortnames() {
		known[s] = true
	}
	chosen := map[string]bool{}
	for _, c := range choices {
		if !known[c] {
			return "", &schulze.VoteError{Vote: strings.Join(choices, ","), Reason: "unknown candidate " + c}
		}
		if chosen[c] {
			return "", &schulze.VoteError{Vote: strings.Join(choices, ","), Reason: "candidate " + c + " chosen twice"}
		}
		chosen[c] = true
	}
	if chosen[domain.BarShortname] && len(chosen) > 1 {
		return "", &schulze.VoteError{Vote: strings.Join(choices, ","), Reason: "the bar must be chosen alone"}
	}
	if !chosen[domain.BarShortname] && len(chosen) > *b.Votes {
		return "", &schulze.VoteError{Vote: strings.Join(choices, ","), Reason: "too many choices"}
	}

	var top, rest []string
	for _, s := range b.Shortnames() {
		if chosen[s] {
			top = append(top, s)
		} else {
			rest = append(rest, s)
		}
	}
	sort.Strings(top)
	sort.Strings(rest)
	var tiers [][]string
	for _, t := range [][]string{top, rest} {
		if len(t) > 0 {
			tiers = append(tiers, t)
		}
	}
	return schulze.FormatVote(tiers), nil
}

// classicalChoices recovers the choices from a vote string on a classical
// ballot. Only the two-tier shape "chosen>rest" and the single-tier
// abstention are accepted.
func classicalChoices(b domain.Ballot, vote string) ([]string, error) {
	tiers, err := schulze.ParseVote(strings.TrimSpace(vote), b.Shortnames())
	if err != nil {
		return nil, err
	}
	switch len(tiers) {
	case 1:
		return nil, nil
	case 2:
		return tiers[0], nil
	default:
		return nil, &schulze.VoteError{Vote: vote, Reason: "classical ballots take a single preference level"}
	}
}

func (s *Service) attendance(ctx context.Context, actor domain.Persona, b domain.Ballot) (string, error) {
	at, err := s.repo.GetAttendee(ctx, b.AssemblyID, actor.ID)
	if err != nil {
		if errors.Is(err, assemblyrepo.ErrAttendeeNotFound) {
			return "", apperr.Forbidden("Only attendees may vote.")
		}
		return "", err
	}
	if at.Secret == nil {
		return "", apperr.Conflict("SECRET_WIPED", "The vote secrets of this assembly have been wiped.")
	}
	return *at.Secret, nil
}

// ownedBy matches the vote cast with secret.
func ownedBy(secret string) assemblyrepo.VoteMatcher {
	return func(v domain.VoteRecord) bool { return VoteHash(v.Salt, secret, v.Vote) == v.Hash }
}

// findOwnVote returns the vote whose hash matches secret, if any.
func findOwnVote(votes []domain.VoteRecord, secret string) (domain.VoteRecord, bool) {
	own := ownedBy(secret)
	for _, v := range votes {
		if own(v) {
			return v, true
		}
	}
	return domain.VoteRecord{}, false
}

// Vote casts or replaces the actor's vote and returns the stored vote string.
func (s *Service) Vote(ctx context.Context, actor domain.Persona, id domain.BallotID, in VoteInput) (string, error) {
	b, err := s.loadBallot(ctx, id)
	if err != nil {
		return "", err
	}
	secret, err := s.attendance(ctx, actor, b)
	if err != nil {
		return "", err
	}
	ph, err := s.phase(ctx, &b)
	if err != nil {
		return "", err
	}
	if !ph.AcceptsVotes() {
		return "", &apperr.Error{
			Status:  http.StatusConflict,
			Code:    "BALLOT_NOT_RUNNING",
			Message: "The ballot does not accept votes.",
			Details: map[string]any{"phase": string(ph)},
		}
	}

	var vote string
	if b.Votes != nil {
		choices := in.Choices
		if in.Vote != "" {
			if len(in.Choices) > 0 {
				return "", apperr.Validation("vote", "give either a vote string or choices")
			}
			choices, err = classicalChoices(b, in.Vote)
		}
		if err == nil {
			vote, err = ClassicalVote(b, choices)
		}
	} else {
		if len(in.Choices) > 0 {
			return "", apperr.Validation("choices", "only classical ballots accept choices")
		}
		vote, err = NormalizeVote(b, in.Vote)
	}
	if err != nil {
		var ve *schulze.VoteError
		if errors.As(err, &ve) {
			return "", apperr.Validation("vote", ve.Reason)
		}
		return "", err
	}

	salt, err := s.random()
	if err != nil {
		return "", err
	}
	rec := domain.VoteRecord{
		BallotID: b.ID,
		Vote:     vote,
		Salt:     salt,
		Hash:     VoteHash(salt, secret, vote),
	}
	if _, err := s.repo.CastVote(ctx, actor.ID, rec, ownedBy(secret)); err != nil {
		return "", err
	}
	return vote, nil
}

// MyVote recovers the actor's vote using their secret.
func (s *Service) MyVote(ctx context.Context, actor domain.Persona, id domain.BallotID) (string, error) {
	b, err := s.loadBallot(ctx, id)
	if err != nil {
		return "", err
	}
	secret, err := s.attendance(ctx, actor, b)
	if err != nil {
		return "", err
	}
	votes, err := s.repo.ListVotes(ctx, b.ID)
	if err != nil {
		return "", err
	}
	rec, ok := findOwnVote(votes, secret)
	if !ok {
		return "", apperr.NotFound("VOTE_NOT_FOUND", "You have not voted on this ballot.")
	}
	return rec.Vote, nil
}
