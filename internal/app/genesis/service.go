// Package genesis implements the account request workflow.
package genesis

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	clockport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/clock"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/genesisrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

type Service struct {
	repo     genesisrepo.Repository
	personas personarepo.Repository
	clk      clockport.Clock
	log      *zap.Logger
	secret   []byte

	newCaseID    func() domain.GenesisCaseID
	newPersonaID func() domain.PersonaID

	// UnconfirmedTTL is how long a request may stay unconfirmed before cleanup.
	UnconfirmedTTL time.Duration
}

func NewService(repo genesisrepo.Repository, personas personarepo.Repository, clk clockport.Clock, secret []byte, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		personas: personas,
		clk:      clk,
		log:      log,
		secret:   append([]byte(nil), secret...),
		newCaseID: func() domain.GenesisCaseID {
			return domain.GenesisCaseID(uuid.NewString())
		},
		newPersonaID: func() domain.PersonaID {
			return domain.PersonaID(uuid.NewString())
		},
		UnconfirmedTTL: 48 * time.Hour,
	}
}

type RequestInput struct {
	Email      string
	GivenNames string
	FamilyName string
	Realm      domain.Realm
	Notes      string
}

func caseNotFound() *apperr.Error {
	return apperr.NotFound("GENESIS_CASE_NOT_FOUND", "Account request not found.")
}

func wrongState(c domain.GenesisCase) *apperr.Error {
	return &apperr.Error{
		Status:  409,
		Code:    "GENESIS_CASE_WRONG_STATE",
		Message: "The account request is not in a state allowing this action.",
		Details: map[string]any{"state": string(c.State)},
	}
}

// Request opens an unconfirmed case and returns the confirmation token to be mailed out.
func (s *Service) Request(ctx context.Context, in RequestInput) (domain.GenesisCase, string, error) {
	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return domain.GenesisCase{}, "", apperr.Validation("email", "must be a valid email address")
	}
	given := domain.NormalizeHumanName(in.GivenNames)
	if given == "" {
		return domain.GenesisCase{}, "", apperr.Validation("givenNames", "must be non-empty")
	}
	family := domain.NormalizeHumanName(in.FamilyName)
	if family == "" {
		return domain.GenesisCase{}, "", apperr.Validation("familyName", "must be non-empty")
	}
	if _, ok := domain.ParseRealm(string(in.Realm)); !ok {
		return domain.GenesisCase{}, "", apperr.Validation("realm", "unknown realm")
	}

	if _, err := s.personas.GetByEmail(ctx, email); err == nil {
		return domain.GenesisCase{}, "", apperr.Conflict("EMAIL_ALREADY_IN_USE", "An account with this email address already exists.")
	} else if !errors.Is(err, personarepo.ErrNotFound) {
		return domain.GenesisCase{}, "", err
	}
	if _, err := s.repo.FindOpenByEmail(ctx, email); err == nil {
		return domain.GenesisCase{}, "", apperr.Conflict("GENESIS_CASE_EXISTS", "An open account request for this email address exists.")
	} else if !errors.Is(err, genesisrepo.ErrNotFound) {
		return domain.GenesisCase{}, "", err
	}

	now := s.clk.Now()
	c := domain.GenesisCase{
		ID:         s.newCaseID(),
		Email:      email,
		GivenNames: given,
		FamilyName: family,
		Realm:      in.Realm,
		Notes:      strings.TrimSpace(in.Notes),
		State:      domain.GenesisUnconfirmed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return domain.GenesisCase{}, "", err
	}
	return c, s.ConfirmToken(c.ID), nil
}

// ConfirmToken is the case id followed by its HMAC.
func (s *Service) ConfirmToken(id domain.GenesisCaseID) string {
	return string(id) + "." + s.mac(id)
}

func (s *Service) mac(id domain.GenesisCaseID) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte("genesis-confirm:"))
	m.Write([]byte(id))
	return hex.EncodeToString(m.Sum(nil))
}

// Confirm moves an unconfirmed case to review.
func (s *Service) Confirm(ctx context.Context, token string) (domain.GenesisCase, error) {
	id, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || id == "" || !hmac.Equal([]byte(sig), []byte(s.mac(domain.GenesisCaseID(id)))) {
		return domain.GenesisCase{}, apperr.Validation("token", "invalid confirmation token")
	}
	c, err := s.load(ctx, domain.GenesisCaseID(id))
	if err != nil {
		return domain.GenesisCase{}, err
	}
	if c.State != domain.GenesisUnconfirmed {
		return domain.GenesisCase{}, wrongState(c)
	}
	c.State = domain.GenesisToReview
	c.UpdatedAt = s.clk.Now()
	if err := s.repo.Update(ctx, c); err != nil {
		return domain.GenesisCase{}, err
	}
	return c, nil
}

// List returns cases the reviewer may decide on, optionally filtered by state.
func (s *Service) List(ctx context.Context, reviewer domain.Persona, states ...domain.GenesisState) ([]domain.GenesisCase, error) {
	cs, err := s.repo.List(ctx, states...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.GenesisCase, 0, len(cs))
	for _, c := range cs {
		if reviewer.CanManageRealm(c.Realm) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, reviewer domain.Persona, id domain.GenesisCaseID) (domain.GenesisCase, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return domain.GenesisCase{}, err
	}
	if !reviewer.CanManageRealm(c.Realm) {
		return domain.GenesisCase{}, apperr.Forbidden("Not allowed to review requests of realm " + string(c.Realm) + ".")
	}
	return c, nil
}

// Approve creates the persona for a reviewed case. When a persona with the
// case email appeared in the meantime, its realms are extended instead.
func (s *Service) Approve(ctx context.Context, reviewer domain.Persona, id domain.GenesisCaseID) (domain.GenesisCase, error) {
	c, err := s.Get(ctx, reviewer, id)
	if err != nil {
		return domain.GenesisCase{}, err
	}
	if c.State != domain.GenesisToReview {
		return domain.GenesisCase{}, wrongState(c)
	}

	// The case stays in review until the persona exists, so a failed
	// approval can be retried.
	now := s.clk.Now()
	c.Reviewer = &reviewer.ID
	c.UpdatedAt = now

	existing, err := s.personas.GetByEmail(ctx, c.Email)
	switch {
	case err == nil:
		existing.Realms = domain.CloseRealms(append(existing.Realms, c.Realm))
		existing.UpdatedAt = now
		if err := s.personas.Update(ctx, existing); err != nil {
			return domain.GenesisCase{}, err
		}
		c.State = domain.GenesisExistingUpdated
		c.PersonaID = &existing.ID
	case errors.Is(err, personarepo.ErrNotFound):
		p := personarepo.Persona{
			ID:         s.newPersonaID(),
			Email:      c.Email,
			GivenNames: c.GivenNames,
			FamilyName: c.FamilyName,
			Realms:     domain.CloseRealms([]domain.Realm{c.Realm}),
			IsActive:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.personas.Create(ctx, p); err != nil {
			return domain.GenesisCase{}, err
		}
		c.State = domain.GenesisSuccessful
		c.PersonaID = &p.ID
	default:
		return domain.GenesisCase{}, err
	}

	if err := s.repo.Update(ctx, c); err != nil {
		return domain.GenesisCase{}, err
	}
	s.log.Info("genesis case approved",
		zap.String("case_id", string(c.ID)),
		zap.String("reviewer", string(reviewer.ID)),
		zap.String("state", string(c.State)),
		zap.String("persona_id", string(*c.PersonaID)),
	)
	return c, nil
}

func (s *Service) Reject(ctx context.Context, reviewer domain.Persona, id domain.GenesisCaseID) (domain.GenesisCase, error) {
	c, err := s.Get(ctx, reviewer, id)
	if err != nil {
		return domain.GenesisCase{}, err
	}
	if c.State != domain.GenesisToReview {
		return domain.GenesisCase{}, wrongState(c)
	}
	c.State = domain.GenesisRejected
	c.Reviewer = &reviewer.ID
	c.UpdatedAt = s.clk.Now()
	if err := s.repo.Update(ctx, c); err != nil {
		return domain.GenesisCase{}, err
	}
	s.log.Info("genesis case rejected", zap.String("case_id", string(c.ID)), zap.String("reviewer", string(reviewer.ID)))
	return c, nil
}

// CleanupUnconfirmed deletes unconfirmed cases older than UnconfirmedTTL.
func (s *Service) CleanupUnconfirmed(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteUnconfirmedBefore(ctx, s.clk.Now().Add(-s.UnconfirmedTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("removed unconfirmed genesis cases", zap.Int("count", n))
	}
	return n, nil
}

func (s *Service) load(ctx context.Context, id domain.GenesisCaseID) (domain.GenesisCase, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, genesisrepo.ErrNotFound) {
			return domain.GenesisCase{}, caseNotFound()
		}
		return domain.GenesisCase{}, err
	}
	return c, nil
}
