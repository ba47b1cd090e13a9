// Package droids authenticates API droids and manages per-event orga tokens.
package droids

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	clockport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/clock"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/droidrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
)

type Service struct {
	repo   droidrepo.Repository
	events eventrepo.Repository
	clk    clockport.Clock

	// static maps droid names to secret hashes.
	static map[string]string

	newTokenID func() domain.OrgaTokenID
	newSecret  func() (string, error)
}

func NewService(repo droidrepo.Repository, events eventrepo.Repository, clk clockport.Clock, static map[string]string) *Service {
	hashed := make(map[string]string, len(static))
	for name, secret := range static {
		hashed[name] = hashSecret(secret)
	}
	return &Service{
		repo:   repo,
		events: events,
		clk:    clk,
		static: hashed,
		newTokenID: func() domain.OrgaTokenID {
			return domain.OrgaTokenID(uuid.NewString())
		},
		newSecret: newSecret,
	}
}

func unauthenticated() *apperr.Error {
	return apperr.Unauthorized("INVALID_API_TOKEN", "Invalid, expired or revoked API token.")
}

// Authenticate validates a droid header value. Orga tokens record their last access.
func (s *Service) Authenticate(ctx context.Context, raw string) (Identity, error) {
	kind, name, secret, err := ParseToken(raw)
	if err != nil {
		return Identity{}, unauthenticated()
	}
	switch kind {
	case KindStatic:
		want, ok := s.static[name]
		if !ok || !hashesEqual(want, hashSecret(secret)) {
			return Identity{}, unauthenticated()
		}
		return Identity{Kind: KindStatic, Name: name}, nil
	case KindOrga:
		tok, err := s.repo.Get(ctx, domain.OrgaTokenID(name))
		if err != nil {
			if errors.Is(err, droidrepo.ErrNotFound) {
				return Identity{}, unauthenticated()
			}
			return Identity{}, err
		}
		if !hashesEqual(tok.SecretHash, hashSecret(secret)) {
			return Identity{}, unauthenticated()
		}
		now := s.clk.Now()
		if tok.RevokedAt != nil || !now.Before(tok.ExpiresAt) {
			return Identity{}, unauthenticated()
		}
		if err := s.repo.TouchLastAccess(ctx, tok.ID, now); err != nil {
			if errors.Is(err, droidrepo.ErrNotFound) {
				return Identity{}, unauthenticated()
			}
			return Identity{}, err
		}
		return Identity{Kind: KindOrga, Name: name, EventID: tok.EventID}, nil
	}
	return Identity{}, unauthenticated()
}

// MayResolve reports whether the droid may look up personas by email.
func (i Identity) MayResolve() bool {
	return i.Kind == KindStatic && i.Name == StaticResolve
}

// MayExportEvent reports whether the droid may read the partial export of eventID.
func (i Identity) MayExportEvent(eventID domain.EventID) bool {
	switch i.Kind {
	case KindStatic:
		return i.Name == StaticQuickPartialExport
	case KindOrga:
		return i.EventID == eventID
	}
	return false
}

type CreateOrgaTokenInput struct {
	Title     string
	Notes     string
	ExpiresAt time.Time
}

// CreatedOrgaToken carries the one-time header value of a new token.
type CreatedOrgaToken struct {
	Token  droidrepo.OrgaToken
	Header string
}

func (s *Service) CreateOrgaToken(ctx context.Context, actor domain.Persona, eventID domain.EventID, in CreateOrgaTokenInput) (CreatedOrgaToken, error) {
	if err := s.requireOrga(ctx, actor, eventID); err != nil {
		return CreatedOrgaToken{}, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return CreatedOrgaToken{}, apperr.Validation("title", "must be non-empty")
	}
	now := s.clk.Now()
	if !in.ExpiresAt.After(now) {
		return CreatedOrgaToken{}, apperr.Validation("expiresAt", "must be in the future")
	}
	secret, err := s.newSecret()
	if err != nil {
		return CreatedOrgaToken{}, err
	}
	tok := droidrepo.OrgaToken{
		ID:         s.newTokenID(),
		EventID:    eventID,
		Title:      title,
		Notes:      strings.TrimSpace(in.Notes),
		SecretHash: hashSecret(secret),
		CreatedBy:  actor.ID,
		CreatedAt:  now,
		ExpiresAt:  in.ExpiresAt.UTC(),
	}
	if err := s.repo.Create(ctx, tok); err != nil {
		return CreatedOrgaToken{}, err
	}
	return CreatedOrgaToken{Token: tok, Header: FormatToken(KindOrga, string(tok.ID), secret)}, nil
}

func (s *Service) ListOrgaTokens(ctx context.Context, actor domain.Persona, eventID domain.EventID) ([]droidrepo.OrgaToken, error) {
	if err := s.requireOrga(ctx, actor, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListByEvent(ctx, eventID)
}

// RevokeOrgaToken disables a token permanently. Revoking twice is a no-op.
func (s *Service) RevokeOrgaToken(ctx context.Context, actor domain.Persona, id domain.OrgaTokenID) (droidrepo.OrgaToken, error) {
	tok, err := s.loadForOrga(ctx, actor, id)
	if err != nil {
		return droidrepo.OrgaToken{}, err
	}
	if tok.RevokedAt != nil {
		return tok, nil
	}
	return s.repo.Revoke(ctx, tok.ID, s.clk.Now())
}

// DeleteOrgaToken removes a token that was never used; used tokens can only be revoked.
func (s *Service) DeleteOrgaToken(ctx context.Context, actor domain.Persona, id domain.OrgaTokenID) error {
	if _, err := s.loadForOrga(ctx, actor, id); err != nil {
		return err
	}
	switch err := s.repo.DeleteUnused(ctx, id); {
	case errors.Is(err, droidrepo.ErrInUse):
		return apperr.Conflict("ORGA_TOKEN_IN_USE", "The token has been used and can only be revoked.")
	case errors.Is(err, droidrepo.ErrNotFound):
		return apperr.NotFound("ORGA_TOKEN_NOT_FOUND", "Orga token not found.")
	default:
		return err
	}
}

func (s *Service) loadForOrga(ctx context.Context, actor domain.Persona, id domain.OrgaTokenID) (droidrepo.OrgaToken, error) {
	tok, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, droidrepo.ErrNotFound) {
			return droidrepo.OrgaToken{}, apperr.NotFound("ORGA_TOKEN_NOT_FOUND", "Orga token not found.")
		}
		return droidrepo.OrgaToken{}, err
	}
	if err := s.requireOrga(ctx, actor, tok.EventID); err != nil {
		return droidrepo.OrgaToken{}, err
	}
	return tok, nil
}

func (s *Service) requireOrga(ctx context.Context, actor domain.Persona, eventID domain.EventID) error {
	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, eventrepo.ErrNotFound) {
			return apperr.NotFound("EVENT_NOT_FOUND", "Event not found.")
		}
		return err
	}
	if !ev.IsOrga(actor.ID) && !actor.IsAdmin(domain.AdminEvent) {
		return apperr.Forbidden("Only orgas may manage API tokens of this event.")
	}
	return nil
}
