package domain

import (
	"sort"
	"time"
)

// Realm is a functional partition of the system a persona may be part of.
type Realm string

const (
	RealmCde      Realm = "cde"
	RealmEvent    Realm = "event"
	RealmML       Realm = "ml"
	RealmAssembly Realm = "assembly"
)

var realmImplications = map[Realm][]Realm{
	RealmCde:      {RealmEvent, RealmAssembly, RealmML},
	RealmEvent:    {RealmML},
	RealmAssembly: {RealmML},
}

// ParseRealm returns the realm named by s.
func ParseRealm(s string) (Realm, bool) {
	switch r := Realm(s); r {
	case RealmCde, RealmEvent, RealmML, RealmAssembly:
		return r, true
	}
	return "", false
}

// CloseRealms returns rs closed under realm implication, deduplicated and sorted.
func CloseRealms(rs []Realm) []Realm {
	seen := make(map[Realm]bool, len(rs))
	var visit func(r Realm)
	visit = func(r Realm) {
		if seen[r] {
			return
		}
		seen[r] = true
		for _, implied := range realmImplications[r] {
			visit(implied)
		}
	}
	for _, r := range rs {
		visit(r)
	}
	out := make([]Realm, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AdminRealm names an administrative privilege.
type AdminRealm string

const (
	AdminCore     AdminRealm = "core"
	AdminCde      AdminRealm = "cde"
	AdminEvent    AdminRealm = "event"
	AdminML       AdminRealm = "ml"
	AdminAssembly AdminRealm = "assembly"
	AdminMeta     AdminRealm = "meta"
)

func ParseAdminRealm(s string) (AdminRealm, bool) {
	switch a := AdminRealm(s); a {
	case AdminCore, AdminCde, AdminEvent, AdminML, AdminAssembly, AdminMeta:
		return a, true
	}
	return "", false
}

// AdminRealmFor maps a realm to the admin privilege governing it.
func AdminRealmFor(r Realm) AdminRealm {
	return AdminRealm(r)
}

// Persona is a human user account.
type Persona struct {
	ID    PersonaID
	Email string

	GivenNames  string
	FamilyName  string
	DisplayName string

	// Realms is always closed under implication (see CloseRealms).
	Realms      []Realm
	AdminRealms []AdminRealm

	IsActive   bool
	IsArchived bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Persona) HasRealm(r Realm) bool {
	for _, have := range p.Realms {
		if have == r {
			return true
		}
	}
	return false
}

func (p Persona) IsAdmin(a AdminRealm) bool {
	for _, have := range p.AdminRealms {
		if have == a {
			return true
		}
	}
	return false
}

// CanManageRealm reports whether p may administrate personas of realm r.
// Core admins may manage every realm.
func (p Persona) CanManageRealm(r Realm) bool {
	return p.IsAdmin(AdminCore) || p.IsAdmin(AdminRealmFor(r))
}

// FullName is the name shown in lists and result files.
func (p Persona) FullName() string {
	given := p.GivenNames
	if p.DisplayName != "" {
		given = p.DisplayName
	}
	return NormalizeHumanName(given + " " + p.FamilyName)
}

// Session is a login session; at most a configured number are active per persona.
type Session struct {
	ID        SessionID
	PersonaID PersonaID
	IP        string
	IsActive  bool
	CreatedAt time.Time
	LastSeen  time.Time
}
