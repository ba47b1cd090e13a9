package domain

import "time"

type GenesisState string

const (
	GenesisUnconfirmed     GenesisState = "unconfirmed"
	GenesisToReview        GenesisState = "to_review"
	GenesisApproved        GenesisState = "approved"
	GenesisSuccessful      GenesisState = "successful"
	GenesisExistingUpdated GenesisState = "existing_updated"
	GenesisRejected        GenesisState = "rejected"
)

// IsOpen reports whether the case still awaits a decision.
func (s GenesisState) IsOpen() bool {
	return s == GenesisUnconfirmed || s == GenesisToReview || s == GenesisApproved
}

// GenesisCase is an unprivileged account-creation request.
type GenesisCase struct {
	ID         GenesisCaseID
	Email      string
	GivenNames string
	FamilyName string
	Realm      Realm
	Notes      string

	State     GenesisState
	Reviewer  *PersonaID
	PersonaID *PersonaID

	CreatedAt time.Time
	UpdatedAt time.Time
}
