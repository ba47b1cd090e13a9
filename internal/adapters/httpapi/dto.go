package httpapi

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/cde-ev/cdedb2-sub001/internal/app/assemblies"
	"github.com/cde-ev/cdedb2-sub001/internal/app/mailinglists"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/droidrepo"
)

type personaDTO struct {
	PersonaID   string              `json:"personaId"`
	Email       openapi_types.Email `json:"email"`
	GivenNames  string              `json:"givenNames"`
	FamilyName  string              `json:"familyName"`
	DisplayName string              `json:"displayName,omitempty"`
	FullName    string              `json:"fullName"`
	Realms      []domain.Realm      `json:"realms"`
	AdminRealms []domain.AdminRealm `json:"adminRealms"`
	IsActive    bool                `json:"isActive"`
	IsArchived  bool                `json:"isArchived"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

func personaFromDomain(p domain.Persona) personaDTO {
	return personaDTO{
		PersonaID:   string(p.ID),
		Email:       openapi_types.Email(p.Email),
		GivenNames:  p.GivenNames,
		FamilyName:  p.FamilyName,
		DisplayName: p.DisplayName,
		FullName:    p.FullName(),
		Realms:      nonNil(p.Realms),
		AdminRealms: nonNil(p.AdminRealms),
		IsActive:    p.IsActive,
		IsArchived:  p.IsArchived,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type sessionDTO struct {
	SessionID string    `json:"sessionId"`
	IP        string    `json:"ip,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

func sessionFromDomain(s domain.Session) sessionDTO {
	return sessionDTO{
		SessionID: string(s.ID),
		IP:        s.IP,
		IsActive:  s.IsActive,
		CreatedAt: s.CreatedAt,
		LastSeen:  s.LastSeen,
	}
}

type genesisCaseDTO struct {
	CaseID     string              `json:"caseId"`
	Email      openapi_types.Email `json:"email"`
	GivenNames string              `json:"givenNames"`
	FamilyName string              `json:"familyName"`
	Realm      domain.Realm        `json:"realm"`
	Notes      string              `json:"notes,omitempty"`
	State      domain.GenesisState `json:"state"`
	Reviewer   *domain.PersonaID   `json:"reviewer,omitempty"`
	PersonaID  *domain.PersonaID   `json:"personaId,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

func genesisCaseFromDomain(c domain.GenesisCase) genesisCaseDTO {
	return genesisCaseDTO{
		CaseID:     string(c.ID),
		Email:      openapi_types.Email(c.Email),
		GivenNames: c.GivenNames,
		FamilyName: c.FamilyName,
		Realm:      c.Realm,
		Notes:      c.Notes,
		State:      c.State,
		Reviewer:   c.Reviewer,
		PersonaID:  c.PersonaID,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

type orgaTokenDTO struct {
	TokenID    string     `json:"tokenId"`
	EventID    string     `json:"eventId"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes,omitempty"`
	CreatedBy  string     `json:"createdBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	LastAccess *time.Time `json:"lastAccess,omitempty"`
}

func orgaTokenFromRepo(t droidrepo.OrgaToken) orgaTokenDTO {
	return orgaTokenDTO{
		TokenID:    string(t.ID),
		EventID:    string(t.EventID),
		Title:      t.Title,
		Notes:      t.Notes,
		CreatedBy:  string(t.CreatedBy),
		CreatedAt:  t.CreatedAt,
		ExpiresAt:  t.ExpiresAt,
		RevokedAt:  t.RevokedAt,
		LastAccess: t.LastAccess,
	}
}

type partDTO struct {
	PartID        string             `json:"partId"`
	Shortname     string             `json:"shortname"`
	Title         string             `json:"title"`
	Begin         openapi_types.Date `json:"begin"`
	End           openapi_types.Date `json:"end"`
	WaitlistField string             `json:"waitlistField,omitempty"`
}

type trackDTO struct {
	TrackID    string `json:"trackId"`
	PartID     string `json:"partId"`
	Shortname  string `json:"shortname"`
	Title      string `json:"title"`
	NumChoices int    `json:"numChoices"`
}

type fieldEntryDTO struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type fieldDTO struct {
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Association string          `json:"association"`
	Title       string          `json:"title"`
	Entries     []fieldEntryDTO `json:"entries,omitempty"`
}

type questionnaireRowDTO struct {
	FieldName    string `json:"fieldName,omitempty"`
	Title        string `json:"title,omitempty"`
	Info         string `json:"info,omitempty"`
	ReadOnly     bool   `json:"readOnly"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

type eventDTO struct {
	EventID          string                `json:"eventId"`
	Shortname        string                `json:"shortname"`
	Title            string                `json:"title"`
	Description      string                `json:"description,omitempty"`
	Orgas            []domain.PersonaID    `json:"orgas"`
	Parts            []partDTO             `json:"parts"`
	Tracks           []trackDTO            `json:"tracks"`
	Fields           []fieldDTO            `json:"fields"`
	Questionnaire    []questionnaireRowDTO `json:"questionnaire"`
	RegistrationOpen bool                  `json:"registrationOpen"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

func eventFromDomain(e domain.Event) eventDTO {
	out := eventDTO{
		EventID:          string(e.ID),
		Shortname:        e.Shortname,
		Title:            e.Title,
		Description:      e.Description,
		Orgas:            nonNil(e.Orgas),
		Parts:            make([]partDTO, 0, len(e.Parts)),
		Tracks:           make([]trackDTO, 0, len(e.Tracks)),
		Fields:           make([]fieldDTO, 0, len(e.Fields)),
		Questionnaire:    make([]questionnaireRowDTO, 0, len(e.Questionnaire)),
		RegistrationOpen: e.RegistrationOpen,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
	for _, p := range e.Parts {
		out.Parts = append(out.Parts, partDTO{
			PartID:        string(p.ID),
			Shortname:     p.Shortname,
			Title:         p.Title,
			Begin:         openapi_types.Date{Time: p.Begin},
			End:           openapi_types.Date{Time: p.End},
			WaitlistField: p.WaitlistField,
		})
	}
	for _, t := range e.Tracks {
		out.Tracks = append(out.Tracks, trackDTO{
			TrackID:    string(t.ID),
			PartID:     string(t.PartID),
			Shortname:  t.Shortname,
			Title:      t.Title,
			NumChoices: t.NumChoices,
		})
	}
	for _, f := range e.Fields {
		fd := fieldDTO{
			Name:        f.Name,
			Kind:        f.Kind.String(),
			Association: f.Association.String(),
			Title:       f.Title,
		}
		for _, en := range f.Entries {
			fd.Entries = append(fd.Entries, fieldEntryDTO{Value: en.Value, Label: en.Label})
		}
		out.Fields = append(out.Fields, fd)
	}
	for _, q := range e.Questionnaire {
		out.Questionnaire = append(out.Questionnaire, questionnaireRowDTO{
			FieldName:    q.FieldName,
			Title:        q.Title,
			Info:         q.Info,
			ReadOnly:     q.ReadOnly,
			DefaultValue: q.DefaultValue,
		})
	}
	return out
}

type courseDTO struct {
	CourseID string           `json:"courseId"`
	Nr       string           `json:"nr"`
	Title    string           `json:"title"`
	Tracks   []domain.TrackID `json:"tracks"`
	MinSize  *int             `json:"minSize,omitempty"`
	MaxSize  *int             `json:"maxSize,omitempty"`
	Fields   map[string]any   `json:"fields"`
}

func courseFromDomain(c domain.Course) courseDTO {
	return courseDTO{
		CourseID: string(c.ID),
		Nr:       c.Nr,
		Title:    c.Title,
		Tracks:   nonNil(c.Tracks),
		MinSize:  c.MinSize,
		MaxSize:  c.MaxSize,
		Fields:   nonNilMap(c.Fields),
	}
}

type lodgementDTO struct {
	LodgementID        string         `json:"lodgementId"`
	Title              string         `json:"title"`
	RegularCapacity    int            `json:"regularCapacity"`
	CampingMatCapacity int            `json:"campingMatCapacity"`
	Fields             map[string]any `json:"fields"`
}

func lodgementFromDomain(l domain.Lodgement) lodgementDTO {
	return lodgementDTO{
		LodgementID:        string(l.ID),
		Title:              l.Title,
		RegularCapacity:    l.RegularCapacity,
		CampingMatCapacity: l.CampingMatCapacity,
		Fields:             nonNilMap(l.Fields),
	}
}

type registrationPartDTO struct {
	Status      domain.RegistrationPartStatus `json:"status"`
	LodgementID *domain.LodgementID           `json:"lodgementId"`
}

type registrationTrackDTO struct {
	CourseChoices []domain.CourseID `json:"courseChoices"`
	CourseID      *domain.CourseID  `json:"courseId"`
}

type registrationDTO struct {
	RegistrationID string                                  `json:"registrationId"`
	EventID        string                                  `json:"eventId"`
	PersonaID      string                                  `json:"personaId"`
	Parts          map[domain.PartID]registrationPartDTO   `json:"parts"`
	Tracks         map[domain.TrackID]registrationTrackDTO `json:"tracks"`
	Fields         map[string]any                          `json:"fields"`
	Notes          string                                  `json:"notes,omitempty"`
	CreatedAt      time.Time                               `json:"createdAt"`
	UpdatedAt      time.Time                               `json:"updatedAt"`
}

func registrationFromDomain(r domain.Registration) registrationDTO {
	out := registrationDTO{
		RegistrationID: string(r.ID),
		EventID:        string(r.EventID),
		PersonaID:      string(r.PersonaID),
		Parts:          make(map[domain.PartID]registrationPartDTO, len(r.Parts)),
		Tracks:         make(map[domain.TrackID]registrationTrackDTO, len(r.Tracks)),
		Fields:         nonNilMap(r.Fields),
		Notes:          r.Notes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	for id, p := range r.Parts {
		out.Parts[id] = registrationPartDTO{Status: p.Status, LodgementID: p.LodgementID}
	}
	for id, t := range r.Tracks {
		out.Tracks[id] = registrationTrackDTO{CourseChoices: nonNil(t.CourseChoices), CourseID: t.CourseID}
	}
	return out
}

type mailinglistDTO struct {
	MailinglistID     string                          `json:"mailinglistId"`
	Title             string                          `json:"title"`
	Address           openapi_types.Email             `json:"address"`
	Type              domain.MailinglistType          `json:"type"`
	IsActive          bool                            `json:"isActive"`
	Moderators        []domain.PersonaID              `json:"moderators"`
	EventID           *domain.EventID                 `json:"eventId,omitempty"`
	RegistrationStati []domain.RegistrationPartStatus `json:"registrationStati,omitempty"`
	AssemblyID        *domain.AssemblyID              `json:"assemblyId,omitempty"`
	CreatedAt         time.Time                       `json:"createdAt"`
	UpdatedAt         time.Time                       `json:"updatedAt"`
}

func mailinglistFromDomain(m domain.Mailinglist) mailinglistDTO {
	return mailinglistDTO{
		MailinglistID:     string(m.ID),
		Title:             m.Title,
		Address:           openapi_types.Email(m.Address()),
		Type:              m.Type,
		IsActive:          m.IsActive,
		Moderators:        nonNil(m.Moderators),
		EventID:           m.EventID,
		RegistrationStati: m.RegistrationStati,
		AssemblyID:        m.AssemblyID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

type mailinglistStatusDTO struct {
	Mailinglist mailinglistDTO            `json:"mailinglist"`
	Policy      domain.SubscriptionPolicy `json:"policy"`
	State       domain.SubscriptionState  `json:"state,omitempty"`
}

func statusFromApp(st mailinglists.Status) mailinglistStatusDTO {
	return mailinglistStatusDTO{
		Mailinglist: mailinglistFromDomain(st.Mailinglist),
		Policy:      st.Policy,
		State:       st.State,
	}
}

type subscriptionDTO struct {
	PersonaID string                   `json:"personaId"`
	State     domain.SubscriptionState `json:"state"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

type assemblyDTO struct {
	AssemblyID  string             `json:"assemblyId"`
	Shortname   string             `json:"shortname"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	SignupEnd   time.Time          `json:"signupEnd"`
	Presiders   []domain.PersonaID `json:"presiders"`
	IsActive    bool               `json:"isActive"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

func assemblyFromDomain(a domain.Assembly) assemblyDTO {
	return assemblyDTO{
		AssemblyID:  string(a.ID),
		Shortname:   a.Shortname,
		Title:       a.Title,
		Description: a.Description,
		SignupEnd:   a.SignupEnd,
		Presiders:   nonNil(a.Presiders),
		IsActive:    a.IsActive,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

type candidateDTO struct {
	Shortname string `json:"shortname"`
	Title     string `json:"title"`
}

type ballotDTO struct {
	BallotID         string             `json:"ballotId"`
	AssemblyID       string             `json:"assemblyId"`
	Title            string             `json:"title"`
	Candidates       []candidateDTO     `json:"candidates"`
	VoteBegin        time.Time          `json:"voteBegin"`
	VoteEnd          time.Time          `json:"voteEnd"`
	VoteExtensionEnd *time.Time         `json:"voteExtensionEnd,omitempty"`
	AbsQuorum        int                `json:"absQuorum"`
	Votes            *int               `json:"votes,omitempty"`
	UseBar           bool               `json:"useBar"`
	Extended         *bool              `json:"extended,omitempty"`
	Phase            domain.BallotPhase `json:"phase,omitempty"`
	ResultHash       string             `json:"resultHash,omitempty"`
}

func ballotFromDomain(b domain.Ballot, phase domain.BallotPhase) ballotDTO {
	out := ballotDTO{
		BallotID:         string(b.ID),
		AssemblyID:       string(b.AssemblyID),
		Title:            b.Title,
		Candidates:       make([]candidateDTO, 0, len(b.Candidates)),
		VoteBegin:        b.VoteBegin,
		VoteEnd:          b.VoteEnd,
		VoteExtensionEnd: b.VoteExtensionEnd,
		AbsQuorum:        b.AbsQuorum,
		Votes:            b.Votes,
		UseBar:           b.UseBar,
		Extended:         b.Extended,
		Phase:            phase,
		ResultHash:       b.ResultHash,
	}
	for _, c := range b.Candidates {
		out.Candidates = append(out.Candidates, candidateDTO{Shortname: c.Shortname, Title: c.Title})
	}
	return out
}

func ballotFromView(v assemblies.BallotView) ballotDTO {
	return ballotFromDomain(v.Ballot, v.Phase)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
