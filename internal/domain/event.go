package domain

import "time"

// Event is an organized event with parts, course tracks and custom fields.
type Event struct {
	ID          EventID
	Shortname   string
	Title       string
	Description string

	Orgas  []PersonaID
	Parts  []EventPart
	Tracks []CourseTrack
	Fields []FieldDefinition

	// Questionnaire is shown to registered participants, in order.
	Questionnaire []QuestionnaireRow

	RegistrationOpen bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventPart is a (usually multi-day) section of an event.
type EventPart struct {
	ID        PartID
	Shortname string
	Title     string
	Begin     time.Time // date-only semantics at the edges
	End       time.Time // date-only semantics at the edges
	// WaitlistField names a registration field of numeric kind used to rank the waitlist; empty means none.
	WaitlistField string
}

// QuestionnaireRow is one entry of the participant questionnaire. A row
// without FieldName is plain text.
type QuestionnaireRow struct {
	FieldName    string
	Title        string
	Info         string
	ReadOnly     bool
	DefaultValue string
}

// CourseTrack is a slot during a part in which every participant takes one course.
type CourseTrack struct {
	ID         TrackID
	PartID     PartID
	Shortname  string
	Title      string
	NumChoices int
}

func (e Event) IsOrga(p PersonaID) bool {
	for _, o := range e.Orgas {
		if o == p {
			return true
		}
	}
	return false
}

func (e Event) Part(id PartID) (EventPart, bool) {
	for _, p := range e.Parts {
		if p.ID == id {
			return p, true
		}
	}
	return EventPart{}, false
}

func (e Event) Track(id TrackID) (CourseTrack, bool) {
	for _, t := range e.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return CourseTrack{}, false
}

func (e Event) Field(name string) (FieldDefinition, bool) {
	return findField(e.Fields, name)
}

type Course struct {
	ID      CourseID
	EventID EventID
	Nr      string
	Title   string
	Tracks  []TrackID
	MinSize *int
	MaxSize *int
	Fields  map[string]any
}

func (c Course) Offers(t TrackID) bool {
	for _, have := range c.Tracks {
		if have == t {
			return true
		}
	}
	return false
}

type Lodgement struct {
	ID                 LodgementID
	EventID            EventID
	Title              string
	RegularCapacity    int
	CampingMatCapacity int
	Fields             map[string]any
}

type RegistrationPartStatus string

const (
	RegNotApplied  RegistrationPartStatus = "not_applied"
	RegApplied     RegistrationPartStatus = "applied"
	RegParticipant RegistrationPartStatus = "participant"
	RegWaitlist    RegistrationPartStatus = "waitlist"
	RegGuest       RegistrationPartStatus = "guest"
	RegCancelled   RegistrationPartStatus = "cancelled"
	RegRejected    RegistrationPartStatus = "rejected"
)

func ParseRegistrationPartStatus(s string) (RegistrationPartStatus, bool) {
	switch st := RegistrationPartStatus(s); st {
	case RegNotApplied, RegApplied, RegParticipant, RegWaitlist, RegGuest, RegCancelled, RegRejected:
		return st, true
	}
	return "", false
}

// IsPresent reports whether a registration with this status attends the part.
func (s RegistrationPartStatus) IsPresent() bool {
	return s == RegParticipant || s == RegGuest
}

type RegistrationPart struct {
	Status      RegistrationPartStatus
	LodgementID *LodgementID
}

type RegistrationTrack struct {
	CourseChoices []CourseID
	CourseID      *CourseID
}

// Registration is a persona's application to an event.
type Registration struct {
	ID        RegistrationID
	EventID   EventID
	PersonaID PersonaID

	Parts  map[PartID]RegistrationPart
	Tracks map[TrackID]RegistrationTrack
	Fields map[string]any

	Notes string

	CreatedAt time.Time
	UpdatedAt time.Time
}
