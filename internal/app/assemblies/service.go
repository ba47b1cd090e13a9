// Package assemblies implements general assemblies and their ballots.
//
// Votes are unlinkable: a stored vote carries only a salted hash over the
// voter's secret, and the secrets are wiped when the assembly concludes.
package assemblies

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
	clockport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/clock"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

type Service struct {
	repo     assemblyrepo.Repository
	personas personarepo.Repository
	clk      clockport.Clock
	log      *zap.Logger

	newID func() string
	// random returns a random url-safe token; secrets and salts use it.
	random func() (string, error)
}

func NewService(repo assemblyrepo.Repository, personas personarepo.Repository, clk clockport.Clock, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		personas: personas,
		clk:      clk,
		log:      log,
		newID:    uuid.NewString,
		random:   randomToken,
	}
}

// randomToken returns 12 url-safe characters (72 bits).
func randomToken() (string, error) {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type CreateAssemblyInput struct {
	Shortname   string
	Title       string
	Description string
	SignupEnd   time.Time
	Presiders   []domain.PersonaID
}

func assemblyNotFound() *apperr.Error {
	return apperr.NotFound("ASSEMBLY_NOT_FOUND", "Assembly not found.")
}

func isAssemblyAdmin(p domain.Persona) bool {
	return p.IsAdmin(domain.AdminAssembly) || p.IsAdmin(domain.AdminCore)
}

func mayPreside(p domain.Persona, a domain.Assembly) bool {
	return a.IsPresider(p.ID) || isAssemblyAdmin(p)
}

// CreateAssembly is reserved to assembly admins.
func (s *Service) CreateAssembly(ctx context.Context, actor domain.Persona, in CreateAssemblyInput) (domain.Assembly, error) {
	if !isAssemblyAdmin(actor) {
		return domain.Assembly{}, apperr.Forbidden("Only assembly admins may create assemblies.")
	}
	shortname := strings.TrimSpace(in.Shortname)
	if shortname == "" {
		return domain.Assembly{}, apperr.Validation("shortname", "must be non-empty")
	}
	title := domain.NormalizeHumanName(in.Title)
	if title == "" {
		return domain.Assembly{}, apperr.Validation("title", "must be non-empty")
	}
	if in.SignupEnd.IsZero() {
		return domain.Assembly{}, apperr.Validation("signupEnd", "is required")
	}
	presiders := make([]domain.PersonaID, 0, len(in.Presiders))
	seen := map[domain.PersonaID]bool{}
	for _, id := range in.Presiders {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.personas.GetByID(ctx, id); err != nil {
			if errors.Is(err, personarepo.ErrNotFound) {
				return domain.Assembly{}, apperr.Validation("presiders", "unknown persona "+string(id))
			}
			return domain.Assembly{}, err
		}
		presiders = append(presiders, id)
	}

	now := s.clk.Now()
	a := domain.Assembly{
		ID:          domain.AssemblyID(s.newID()),
		Shortname:   shortname,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		SignupEnd:   in.SignupEnd.UTC(),
		Presiders:   presiders,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateAssembly(ctx, a); err != nil {
		return domain.Assembly{}, err
	}
	return a, nil
}

func (s *Service) GetAssembly(ctx context.Context, id domain.AssemblyID) (domain.Assembly, error) {
	a, err := s.repo.GetAssembly(ctx, id)
	if err != nil {
		if errors.Is(err, assemblyrepo.ErrNotFound) {
			return domain.Assembly{}, assemblyNotFound()
		}
		return domain.Assembly{}, err
	}
	return a, nil
}

func (s *Service) ListAssemblies(ctx context.Context) ([]domain.Assembly, error) {
	return s.repo.ListAssemblies(ctx)
}

// Signup makes the actor an attendee and returns their vote secret. The
// secret is shown only this once.
func (s *Service) Signup(ctx context.Context, actor domain.Persona, id domain.AssemblyID) (string, error) {
	if !actor.HasRealm(domain.RealmAssembly) {
		return "", apperr.Forbidden("Only assembly users may attend.")
	}
	a, err := s.GetAssembly(ctx, id)
	if err != nil {
		return "", err
	}
	if !a.IsActive {
		return "", apperr.Conflict("ASSEMBLY_CONCLUDED", "The assembly has been concluded.")
	}
	now := s.clk.Now()
	if !now.Before(a.SignupEnd) {
		return "", apperr.Conflict("SIGNUP_CLOSED", "Signup for this assembly has ended.")
	}
	secret, err := s.random()
	if err != nil {
		return "", err
	}
	if err := s.repo.AddAttendee(ctx, domain.Attendee{
		AssemblyID: id,
		PersonaID:  actor.ID,
		Secret:     &secret,
		CreatedAt:  now,
	}); err != nil {
		if errors.Is(err, assemblyrepo.ErrAlreadyAttending) {
			return "", apperr.Conflict("ALREADY_ATTENDING", "You already attend this assembly.")
		}
		return "", err
	}
	return secret, nil
}

// IsAttendee reports whether the actor attends the assembly.
func (s *Service) IsAttendee(ctx context.Context, actor domain.Persona, id domain.AssemblyID) (bool, error) {
	_, err := s.repo.GetAttendee(ctx, id, actor.ID)
	if errors.Is(err, assemblyrepo.ErrAttendeeNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListAttendees returns the attendees' persona ids; secrets are never exposed.
func (s *Service) ListAttendees(ctx context.Context, actor domain.Persona, id domain.AssemblyID) ([]domain.PersonaID, error) {
	a, err := s.GetAssembly(ctx, id)
	if err != nil {
		return nil, err
	}
	if !mayPreside(actor, a) {
		return nil, apperr.Forbidden("Only presiders may list attendees.")
	}
	attendees, err := s.repo.ListAttendees(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PersonaID, 0, len(attendees))
	for _, at := range attendees {
		out = append(out, at.PersonaID)
	}
	return out, nil
}

// Conclude wipes the vote secrets and deactivates the assembly. Every
// ballot must be tallied first.
func (s *Service) Conclude(ctx context.Context, actor domain.Persona, id domain.AssemblyID) (domain.Assembly, error) {
	a, err := s.GetAssembly(ctx, id)
	if err != nil {
		return domain.Assembly{}, err
	}
	if !mayPreside(actor, a) {
		return domain.Assembly{}, apperr.Forbidden("Only presiders may conclude the assembly.")
	}
	if !a.IsActive {
		return domain.Assembly{}, apperr.Conflict("ASSEMBLY_CONCLUDED", "The assembly has already been concluded.")
	}
	ballots, err := s.repo.ListBallots(ctx, id)
	if err != nil {
		return domain.Assembly{}, err
	}
	for _, b := range ballots {
		if !b.IsTallied {
			return domain.Assembly{}, &apperr.Error{
				Status:  http.StatusConflict,
				Code:    "BALLOTS_NOT_TALLIED",
				Message: "All ballots must be tallied before concluding.",
				Details: map[string]any{"ballotId": string(b.ID)},
			}
		}
	}
	if err := s.repo.WipeSecrets(ctx, id); err != nil {
		return domain.Assembly{}, err
	}
	a.IsActive = false
	a.UpdatedAt = s.clk.Now()
	if err := s.repo.SaveAssembly(ctx, a); err != nil {
		return domain.Assembly{}, err
	}
	s.log.Info("assembly concluded",
		zap.String("assembly_id", string(a.ID)),
		zap.String("actor", string(actor.ID)),
		zap.Int("ballots", len(ballots)),
	)
	return a, nil
}
