package domain

import "time"

// MailinglistType determines who may (or must) be subscribed to a list.
type MailinglistType string

const (
	MLMemberMandatory       MailinglistType = "member_mandatory"
	MLMemberOptOut          MailinglistType = "member_opt_out"
	MLMemberOptIn           MailinglistType = "member_opt_in"
	MLMemberModeratedOptIn  MailinglistType = "member_moderated_opt_in"
	MLEventAssociated       MailinglistType = "event_associated"
	MLEventOrga             MailinglistType = "event_orga"
	MLAssemblyAssociated    MailinglistType = "assembly_associated"
	MLAssemblyOptIn         MailinglistType = "assembly_opt_in"
	MLGeneralOptIn          MailinglistType = "general_opt_in"
	MLGeneralModeratedOptIn MailinglistType = "general_moderated_opt_in"
	MLSemiPublic            MailinglistType = "semi_public"
	MLPublic                MailinglistType = "public"
)

func ParseMailinglistType(s string) (MailinglistType, bool) {
	switch t := MailinglistType(s); t {
	case MLMemberMandatory, MLMemberOptOut, MLMemberOptIn, MLMemberModeratedOptIn,
		MLEventAssociated, MLEventOrga, MLAssemblyAssociated, MLAssemblyOptIn,
		MLGeneralOptIn, MLGeneralModeratedOptIn, MLSemiPublic, MLPublic:
		return t, true
	}
	return "", false
}

// IsEventType reports whether lists of this type are bound to an event.
func (t MailinglistType) IsEventType() bool {
	return t == MLEventAssociated || t == MLEventOrga
}

// IsAssemblyType reports whether lists of this type are bound to an assembly.
func (t MailinglistType) IsAssemblyType() bool {
	return t == MLAssemblyAssociated || t == MLAssemblyOptIn
}

// SubscriptionPolicy is what a persona may do with respect to a list.
type SubscriptionPolicy string

const (
	PolicyMandatory      SubscriptionPolicy = "mandatory"
	PolicyOptOut         SubscriptionPolicy = "opt_out"
	PolicyOptIn          SubscriptionPolicy = "opt_in"
	PolicyModeratedOptIn SubscriptionPolicy = "moderated_opt_in"
	PolicyImplicitsOnly  SubscriptionPolicy = "implicits_only"
	PolicyNone           SubscriptionPolicy = "none"
)

// IsImplicit reports whether eligible personas are subscribed without asking.
func (p SubscriptionPolicy) IsImplicit() bool {
	return p == PolicyMandatory || p == PolicyOptOut
}

// MayUnsubscribe reports whether a subscriber may leave on their own.
func (p SubscriptionPolicy) MayUnsubscribe() bool {
	return p != PolicyMandatory
}

// RealmPolicy returns the realm-based policy of a list type for persona p.
// Event and assembly membership is resolved by the caller, which passes
// the result via associated (registration with a matching status, orga, attendee).
func RealmPolicy(t MailinglistType, p Persona, associated bool) SubscriptionPolicy {
	switch t {
	case MLMemberMandatory:
		if p.HasRealm(RealmCde) {
			return PolicyMandatory
		}
	case MLMemberOptOut:
		if p.HasRealm(RealmCde) {
			return PolicyOptOut
		}
	case MLMemberOptIn:
		if p.HasRealm(RealmCde) {
			return PolicyOptIn
		}
	case MLMemberModeratedOptIn:
		if p.HasRealm(RealmCde) {
			return PolicyModeratedOptIn
		}
	case MLEventAssociated:
		if associated {
			return PolicyOptOut
		}
		if p.HasRealm(RealmEvent) {
			return PolicyModeratedOptIn
		}
	case MLEventOrga:
		if associated {
			return PolicyImplicitsOnly
		}
	case MLAssemblyAssociated:
		if associated {
			return PolicyOptOut
		}
		if p.HasRealm(RealmAssembly) {
			return PolicyModeratedOptIn
		}
	case MLAssemblyOptIn:
		if p.HasRealm(RealmAssembly) {
			return PolicyOptIn
		}
	case MLGeneralOptIn:
		if p.HasRealm(RealmML) {
			return PolicyOptIn
		}
	case MLGeneralModeratedOptIn:
		if p.HasRealm(RealmML) {
			return PolicyModeratedOptIn
		}
	case MLSemiPublic:
		if p.HasRealm(RealmCde) {
			return PolicyOptIn
		}
		if p.HasRealm(RealmML) {
			return PolicyModeratedOptIn
		}
	case MLPublic:
		if p.HasRealm(RealmML) {
			return PolicyOptIn
		}
	}
	return PolicyNone
}

type SubscriptionState string

const (
	SubSubscribed             SubscriptionState = "subscribed"
	SubUnsubscribed           SubscriptionState = "unsubscribed"
	SubSubscriptionOverride   SubscriptionState = "subscription_override"
	SubUnsubscriptionOverride SubscriptionState = "unsubscription_override"
	SubPending                SubscriptionState = "pending"
	SubImplicit               SubscriptionState = "implicit"
)

// IsSubscribed reports whether mail is delivered to a persona in this state.
func (s SubscriptionState) IsSubscribed() bool {
	return s == SubSubscribed || s == SubSubscriptionOverride || s == SubImplicit
}

// IsOverride reports whether the state was set by a moderator and survives implicit syncs.
func (s SubscriptionState) IsOverride() bool {
	return s == SubSubscriptionOverride || s == SubUnsubscriptionOverride
}

type Mailinglist struct {
	ID        MailinglistID
	Title     string
	LocalPart string
	Domain    string
	Type      MailinglistType

	IsActive   bool
	Moderators []PersonaID

	EventID           *EventID
	RegistrationStati []RegistrationPartStatus
	AssemblyID        *AssemblyID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address is the list's full email address.
func (m Mailinglist) Address() string {
	return m.LocalPart + "@" + m.Domain
}

func (m Mailinglist) IsModerator(p PersonaID) bool {
	for _, id := range m.Moderators {
		if id == p {
			return true
		}
	}
	return false
}

type Subscription struct {
	MailinglistID MailinglistID
	PersonaID     PersonaID
	State         SubscriptionState
	UpdatedAt     time.Time
}
