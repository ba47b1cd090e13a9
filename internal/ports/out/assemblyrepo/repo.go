package assemblyrepo

import (
	"context"
	"errors"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

var (
	ErrNotFound         = errors.New("assembly not found")
	ErrBallotNotFound   = errors.New("ballot not found")
	ErrAttendeeNotFound = errors.New("attendee not found")
	ErrAlreadyAttending = errors.New("persona already attends assembly")
)

// Voter records that a persona may vote on a ballot and whether they did.
// It deliberately carries no link to the VoteRecord.
type Voter struct {
	BallotID  domain.BallotID
	PersonaID domain.PersonaID
	HasVoted  bool
}

// VoteMatcher reports whether a stored vote belongs to the caller.
type VoteMatcher func(domain.VoteRecord) bool

// Repository persists assemblies, attendees, ballots and votes.
type Repository interface {
	CreateAssembly(ctx context.Context, a domain.Assembly) error
	SaveAssembly(ctx context.Context, a domain.Assembly) error
	GetAssembly(ctx context.Context, id domain.AssemblyID) (domain.Assembly, error)
	ListAssemblies(ctx context.Context) ([]domain.Assembly, error)

	AddAttendee(ctx context.Context, a domain.Attendee) error
	GetAttendee(ctx context.Context, assemblyID domain.AssemblyID, personaID domain.PersonaID) (domain.Attendee, error)
	// ListAttendees returns attendees ordered by persona ID.
	ListAttendees(ctx context.Context, assemblyID domain.AssemblyID) ([]domain.Attendee, error)
	// WipeSecrets clears the vote secrets of all attendees of an assembly.
	WipeSecrets(ctx context.Context, assemblyID domain.AssemblyID) error

	CreateBallot(ctx context.Context, b domain.Ballot) error
	SaveBallot(ctx context.Context, b domain.Ballot) error
	GetBallot(ctx context.Context, id domain.BallotID) (domain.Ballot, error)
	DeleteBallot(ctx context.Context, id domain.BallotID) error
	// ListBallots returns the ballots of an assembly ordered by vote begin, then ID.
	ListBallots(ctx context.Context, assemblyID domain.AssemblyID) ([]domain.Ballot, error)

	// CastVote stores rec and marks the persona as having voted. Under the same
	// lock it removes the first stored vote of the ballot accepted by own (if
	// own is non-nil) and reports whether one was replaced. Casts by the same
	// persona on the same ballot are serialized.
	CastVote(ctx context.Context, personaID domain.PersonaID, rec domain.VoteRecord, own VoteMatcher) (replaced bool, err error)
	// ListVotes returns all votes of a ballot ordered by hash.
	ListVotes(ctx context.Context, ballotID domain.BallotID) ([]domain.VoteRecord, error)
	// ListVoters returns the voter records of a ballot ordered by persona ID.
	ListVoters(ctx context.Context, ballotID domain.BallotID) ([]Voter, error)
	HasVoted(ctx context.Context, ballotID domain.BallotID, personaID domain.PersonaID) (bool, error)
}
