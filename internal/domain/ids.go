package domain

// PersonaID is an internal identifier for a persona (human account).
type PersonaID string

// SessionID identifies a login session of a persona.
type SessionID string

// GenesisCaseID identifies an account request.
type GenesisCaseID string

// OrgaTokenID identifies a dynamic orga droid credential.
type OrgaTokenID string

type (
	EventID        string
	PartID         string
	TrackID        string
	CourseID       string
	LodgementID    string
	RegistrationID string
)

// MailinglistID is an internal identifier for a mailing list.
type MailinglistID string

type (
	AssemblyID string
	BallotID   string
)
