package domain

import (
	"regexp"
	"time"
)

// BarShortname is the pseudo-candidate expressing rejection of all options ranked below it.
const BarShortname = "_bar_"

var candidateShortnamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidCandidateShortname reports whether s may name a ballot candidate.
func ValidCandidateShortname(s string) bool {
	return s != BarShortname && candidateShortnamePattern.MatchString(s)
}

type Assembly struct {
	ID          AssemblyID
	Shortname   string
	Title       string
	Description string
	SignupEnd   time.Time
	Presiders   []PersonaID

	// IsActive is false once the assembly has been concluded.
	IsActive bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Assembly) IsPresider(p PersonaID) bool {
	for _, id := range a.Presiders {
		if id == p {
			return true
		}
	}
	return false
}

// Attendee links a persona to an assembly. Secret is the per-attendee vote secret;
// it is wiped when the assembly is concluded.
type Attendee struct {
	AssemblyID AssemblyID
	PersonaID  PersonaID
	Secret     *string
	CreatedAt  time.Time
}

type Candidate struct {
	Shortname string
	Title     string
}

type BallotPhase string

const (
	BallotUpcoming BallotPhase = "upcoming"
	BallotRunning  BallotPhase = "running"
	BallotExtended BallotPhase = "extended"
	BallotClosed   BallotPhase = "closed"
	BallotTallied  BallotPhase = "tallied"
)

// AcceptsVotes reports whether votes may be cast in this phase.
func (p BallotPhase) AcceptsVotes() bool {
	return p == BallotRunning || p == BallotExtended
}

type Ballot struct {
	ID         BallotID
	AssemblyID AssemblyID
	Title      string
	Candidates []Candidate

	VoteBegin        time.Time
	VoteEnd          time.Time
	VoteExtensionEnd *time.Time
	AbsQuorum        int

	// Votes is the number of choices of a classical ballot; nil means preferential voting.
	Votes  *int
	UseBar bool

	// Extended is decided once at VoteEnd: nil means not yet decided.
	Extended  *bool
	IsTallied bool

	ResultFile []byte
	ResultHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Shortnames returns the candidate shortnames plus the bar, if in use.
func (b Ballot) Shortnames() []string {
	out := make([]string, 0, len(b.Candidates)+1)
	for _, c := range b.Candidates {
		out = append(out, c.Shortname)
	}
	if b.UseBar {
		out = append(out, BarShortname)
	}
	return out
}

// FinalEnd is the end of voting, taking an extension into account.
func (b Ballot) FinalEnd() time.Time {
	if b.Extended != nil && *b.Extended && b.VoteExtensionEnd != nil {
		return *b.VoteExtensionEnd
	}
	return b.VoteEnd
}

// Phase derives the ballot phase at now. castVotes is needed to decide
// an extension when the extension has not been recorded yet.
func (b Ballot) Phase(now time.Time, castVotes int) BallotPhase {
	if b.IsTallied {
		return BallotTallied
	}
	if now.Before(b.VoteBegin) {
		return BallotUpcoming
	}
	if now.Before(b.VoteEnd) {
		return BallotRunning
	}
	extended := false
	if b.Extended != nil {
		extended = *b.Extended
	} else {
		extended = b.VoteExtensionEnd != nil && castVotes < b.AbsQuorum
	}
	if extended && b.VoteExtensionEnd != nil && now.Before(*b.VoteExtensionEnd) {
		return BallotExtended
	}
	return BallotClosed
}

// VoteRecord is a stored vote. It carries no reference to the voter: Hash can
// only be recomputed by someone knowing the voter's secret.
type VoteRecord struct {
	BallotID BallotID
	Vote     string
	Salt     string
	Hash     string
}
