// Package personas implements persona management and login sessions.
package personas

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	clockport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/clock"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/sessionrepo"
)

const minPasswordLen = 8

// TokenCodec mints and parses signed session tokens.
type TokenCodec interface {
	Mint(personaID domain.PersonaID, sessionID domain.SessionID, issuedAt time.Time) (string, error)
	Parse(token string, now time.Time) (domain.PersonaID, domain.SessionID, error)
}

type Service struct {
	repo     personarepo.Repository
	sessions sessionrepo.Repository
	tokens   TokenCodec
	clk      clockport.Clock

	newPersonaID func() domain.PersonaID
	newSessionID func() domain.SessionID

	// MaxSessions bounds the number of active sessions per persona.
	MaxSessions int
	// SearchLimit bounds search result size.
	SearchLimit int
	// BcryptCost is the cost used for new password hashes.
	BcryptCost int

	// dummyHash is compared against on unknown logins to even out timing.
	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(repo personarepo.Repository, sessions sessionrepo.Repository, tokens TokenCodec, clk clockport.Clock) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		tokens:   tokens,
		clk:      clk,
		newPersonaID: func() domain.PersonaID {
			return domain.PersonaID(uuid.NewString())
		},
		newSessionID: func() domain.SessionID {
			return domain.SessionID(uuid.NewString())
		},
		MaxSessions: 5,
		SearchLimit: 50,
		BcryptCost:  bcrypt.DefaultCost,
	}
}

var errPersonaNotFound = apperr.NotFound("PERSONA_NOT_FOUND", "Persona not found.")

func (s *Service) CreatePersona(ctx context.Context, actor domain.Persona, in CreatePersonaInput) (domain.Persona, error) {
	if len(in.Realms) == 0 {
		return domain.Persona{}, apperr.Validation("realms", "must name at least one realm")
	}
	for _, r := range in.Realms {
		if _, ok := domain.ParseRealm(string(r)); !ok {
			return domain.Persona{}, apperr.Validation("realms", "unknown realm "+string(r))
		}
		if !actor.CanManageRealm(r) {
			return domain.Persona{}, apperr.Forbidden("Not allowed to create personas in realm " + string(r) + ".")
		}
	}
	for _, a := range in.AdminRealms {
		if _, ok := domain.ParseAdminRealm(string(a)); !ok {
			return domain.Persona{}, apperr.Validation("adminRealms", "unknown admin realm "+string(a))
		}
	}
	if len(in.AdminRealms) > 0 && !actor.IsAdmin(domain.AdminMeta) && !actor.IsAdmin(domain.AdminCore) {
		return domain.Persona{}, apperr.Forbidden("Only meta admins may grant admin privileges.")
	}

	p := personarepo.Persona{
		ID:          s.newPersonaID(),
		Realms:      domain.CloseRealms(in.Realms),
		AdminRealms: dedupeAdminRealms(in.AdminRealms),
		IsActive:    true,
	}
	if err := s.applyNames(&p, in.GivenNames, in.FamilyName, in.DisplayName); err != nil {
		return domain.Persona{}, err
	}
	email := strings.TrimSpace(in.Email)
	if err := validateEmail(email); err != nil {
		return domain.Persona{}, apperr.Validation("email", err.Error())
	}
	p.Email = email
	if in.Password != "" {
		hash, err := s.hashPassword(in.Password)
		if err != nil {
			return domain.Persona{}, err
		}
		p.PasswordHash = hash
	}

	now := s.clk.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, personarepo.ErrEmailTaken) {
			return domain.Persona{}, emailInUse()
		}
		return domain.Persona{}, err
	}
	return toDomain(p), nil
}

// Bootstrap creates a core admin when no persona exists yet. It reports whether one was created.
func (s *Service) Bootstrap(ctx context.Context, email, password string) (bool, error) {
	existing, err := s.repo.List(ctx, true)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	root := domain.Persona{AdminRealms: []domain.AdminRealm{domain.AdminCore, domain.AdminMeta}}
	_, err = s.CreatePersona(ctx, root, CreatePersonaInput{
		Email:       email,
		GivenNames:  "Admin",
		FamilyName:  "Admin",
		Realms:      []domain.Realm{domain.RealmCde},
		AdminRealms: []domain.AdminRealm{domain.AdminCore, domain.AdminMeta},
		Password:    password,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) GetMe(ctx context.Context, actor domain.Persona) (domain.Persona, error) {
	p, err := s.repo.GetByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, personarepo.ErrNotFound) {
			return domain.Persona{}, errPersonaNotFound
		}
		return domain.Persona{}, err
	}
	return toDomain(p), nil
}

// GetPersona returns a persona to itself or to an admin of one of its realms.
func (s *Service) GetPersona(ctx context.Context, actor domain.Persona, id domain.PersonaID) (domain.Persona, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return domain.Persona{}, err
	}
	if actor.ID != id && !canManagePersona(actor, p) {
		return domain.Persona{}, apperr.Forbidden("Not allowed to view this persona.")
	}
	return toDomain(p), nil
}

// Lookup returns an active, non-archived persona without access checks.
// It backs authentication and internal callers.
func (s *Service) Lookup(ctx context.Context, id domain.PersonaID) (domain.Persona, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, personarepo.ErrNotFound) {
			return domain.Persona{}, apperr.Unauthorized("UNAUTHENTICATED", "Unknown persona.")
		}
		return domain.Persona{}, err
	}
	if !p.IsActive || p.IsArchived {
		return domain.Persona{}, apperr.Unauthorized("PERSONA_INACTIVE", "Persona is not active.")
	}
	return toDomain(p), nil
}

func (s *Service) UpdatePersona(ctx context.Context, actor domain.Persona, id domain.PersonaID, in UpdatePersonaInput) (domain.Persona, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return domain.Persona{}, err
	}
	admin := canManagePersona(actor, p)
	if actor.ID != id && !admin {
		return domain.Persona{}, apperr.Forbidden("Not allowed to change this persona.")
	}
	if (in.Email.IsSpecified() || in.IsActive.IsSpecified()) && !admin {
		return domain.Persona{}, apperr.Forbidden("Only admins may change email or activity.")
	}

	given, family, display := p.GivenNames, p.FamilyName, p.DisplayName
	if in.GivenNames.IsSpecified() {
		if in.GivenNames.IsNull() {
			return domain.Persona{}, apperr.Validation("givenNames", "cannot be null")
		}
		given = in.GivenNames.Value()
	}
	if in.FamilyName.IsSpecified() {
		if in.FamilyName.IsNull() {
			return domain.Persona{}, apperr.Validation("familyName", "cannot be null")
		}
		family = in.FamilyName.Value()
	}
	if in.DisplayName.IsSpecified() {
		display = ""
		if !in.DisplayName.IsNull() {
			display = in.DisplayName.Value()
		}
	}
	if err := s.applyNames(&p, given, family, display); err != nil {
		return domain.Persona{}, err
	}

	if in.Email.IsSpecified() {
		if in.Email.IsNull() {
			return domain.Persona{}, apperr.Validation("email", "cannot be null")
		}
		email := strings.TrimSpace(in.Email.Value())
		if err := validateEmail(email); err != nil {
			return domain.Persona{}, apperr.Validation("email", err.Error())
		}
		p.Email = email
	}
	deactivated := false
	if in.IsActive.IsSpecified() {
		if in.IsActive.IsNull() {
			return domain.Persona{}, apperr.Validation("isActive", "cannot be null")
		}
		deactivated = p.IsActive && !in.IsActive.Value()
		p.IsActive = in.IsActive.Value()
	}

	p.UpdatedAt = s.clk.Now()
	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, personarepo.ErrEmailTaken) {
			return domain.Persona{}, emailInUse()
		}
		return domain.Persona{}, err
	}
	if deactivated {
		if _, err := s.sessions.DeactivateAll(ctx, p.ID); err != nil {
			return domain.Persona{}, err
		}
	}
	return toDomain(p), nil
}

// SetRealms extends the realms of a persona. Realms can only be added.
func (s *Service) SetRealms(ctx context.Context, actor domain.Persona, id domain.PersonaID, realms []domain.Realm) (domain.Persona, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return domain.Persona{}, err
	}
	for _, r := range realms {
		if _, ok := domain.ParseRealm(string(r)); !ok {
			return domain.Persona{}, apperr.Validation("realms", "unknown realm "+string(r))
		}
	}
	next := domain.CloseRealms(realms)
	for _, have := range p.Realms {
		if !containsRealm(next, have) {
			return domain.Persona{}, apperr.Validation("realms", "realm demotion is not supported (missing "+string(have)+")")
		}
	}
	for _, r := range next {
		if !containsRealm(p.Realms, r) && !actor.CanManageRealm(r) {
			return domain.Persona{}, apperr.Forbidden("Not allowed to grant realm " + string(r) + ".")
		}
	}
	p.Realms = next
	p.UpdatedAt = s.clk.Now()
	if err := s.repo.Update(ctx, p); err != nil {
		return domain.Persona{}, err
	}
	return toDomain(p), nil
}

// ChangePassword replaces the caller's password and ends all their sessions.
func (s *Service) ChangePassword(ctx context.Context, actor domain.Persona, oldPassword, newPassword string) error {
	p, err := s.load(ctx, actor.ID)
	if err != nil {
		return err
	}
	if p.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(oldPassword)) != nil {
			return apperr.Unauthorized("INVALID_CREDENTIALS", "Old password is wrong.")
		}
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	p.UpdatedAt = s.clk.Now()
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	_, err = s.sessions.DeactivateAll(ctx, p.ID)
	return err
}

func (s *Service) SearchPersonas(ctx context.Context, actor domain.Persona, query string) ([]domain.Persona, error) {
	if len(actor.AdminRealms) == 0 {
		return nil, apperr.Forbidden("Only admins may search personas.")
	}
	q := strings.TrimSpace(query)
	if len([]rune(q)) < 3 {
		return nil, apperr.Validation("q", "must be at least 3 characters")
	}
	ps, err := s.repo.Search(ctx, q, s.SearchLimit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Persona, 0, len(ps))
	for _, p := range ps {
		out = append(out, toDomain(p))
	}
	return out, nil
}

// Archive hides a persona from searches and blocks login. Core admins only.
func (s *Service) Archive(ctx context.Context, actor domain.Persona, id domain.PersonaID) (domain.Persona, error) {
	if !actor.IsAdmin(domain.AdminCore) {
		return domain.Persona{}, apperr.Forbidden("Only core admins may archive personas.")
	}
	if actor.ID == id {
		return domain.Persona{}, apperr.Conflict("CANNOT_ARCHIVE_SELF", "You cannot archive yourself.")
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return domain.Persona{}, err
	}
	if p.IsArchived {
		return toDomain(p), nil
	}
	p.IsArchived = true
	p.IsActive = false
	p.UpdatedAt = s.clk.Now()
	if err := s.repo.Update(ctx, p); err != nil {
		return domain.Persona{}, err
	}
	if _, err := s.sessions.DeactivateAll(ctx, p.ID); err != nil {
		return domain.Persona{}, err
	}
	return toDomain(p), nil
}

// ResolveEmails looks up active personas by email for the resolve droid.
// Unknown addresses are omitted.
func (s *Service) ResolveEmails(ctx context.Context, emails []string) ([]domain.Persona, error) {
	out := make([]domain.Persona, 0, len(emails))
	seen := make(map[domain.PersonaID]bool, len(emails))
	for _, e := range emails {
		p, err := s.repo.GetByEmail(ctx, strings.TrimSpace(e))
		if err != nil {
			if errors.Is(err, personarepo.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !p.IsActive || p.IsArchived || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, toDomain(p))
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id domain.PersonaID) (personarepo.Persona, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, personarepo.ErrNotFound) {
			return personarepo.Persona{}, errPersonaNotFound
		}
		return personarepo.Persona{}, err
	}
	return p, nil
}

func (s *Service) applyNames(p *personarepo.Persona, given, family, display string) error {
	given = domain.NormalizeHumanName(given)
	if given == "" {
		return apperr.Validation("givenNames", "must be non-empty")
	}
	family = domain.NormalizeHumanName(family)
	if family == "" {
		return apperr.Validation("familyName", "must be non-empty")
	}
	p.GivenNames = given
	p.FamilyName = family
	p.DisplayName = domain.NormalizeHumanName(display)
	return nil
}

func (s *Service) hashPassword(pw string) (string, error) {
	if len([]rune(pw)) < minPasswordLen {
		return "", apperr.Validation("password", "must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), s.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperr.Validation("password", "must be at most 72 bytes")
		}
		return "", err
	}
	return string(hash), nil
}

func canManagePersona(actor domain.Persona, p personarepo.Persona) bool {
	if actor.IsAdmin(domain.AdminCore) {
		return true
	}
	for _, r := range p.Realms {
		if actor.CanManageRealm(r) {
			return true
		}
	}
	return false
}

func emailInUse() *apperr.Error {
	return apperr.Conflict("EMAIL_ALREADY_IN_USE", "The email address is already in use.")
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("must be non-empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return errors.New("must be a valid email address")
	}
	// Reject "Name <email>" forms; only accept bare addresses.
	if addr.Address != email {
		return errors.New("must be a valid email address")
	}
	return nil
}

func containsRealm(rs []domain.Realm, r domain.Realm) bool {
	for _, have := range rs {
		if have == r {
			return true
		}
	}
	return false
}

func dedupeAdminRealms(as []domain.AdminRealm) []domain.AdminRealm {
	out := make([]domain.AdminRealm, 0, len(as))
	seen := make(map[domain.AdminRealm]bool, len(as))
	for _, a := range as {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func toDomain(p personarepo.Persona) domain.Persona {
	return p.Domain()
}
