package personas

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/sessionrepo"
)

func invalidCredentials() *apperr.Error {
	return apperr.Unauthorized("INVALID_CREDENTIALS", "Unknown email or wrong password.")
}

// Login checks the credentials, opens a session and returns its signed token.
// When the persona already has MaxSessions active sessions, the least recently
// used ones are deactivated.
func (s *Service) Login(ctx context.Context, email, password, ip string) (LoginResult, error) {
	p, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, personarepo.ErrNotFound) {
			s.burnCompare(password)
			return LoginResult{}, invalidCredentials()
		}
		return LoginResult{}, err
	}
	if p.PasswordHash == "" {
		s.burnCompare(password)
		return LoginResult{}, invalidCredentials()
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return LoginResult{}, invalidCredentials()
	}
	if !p.IsActive || p.IsArchived {
		return LoginResult{}, apperr.Unauthorized("PERSONA_INACTIVE", "Persona is not active.")
	}

	active, err := s.sessions.ListActive(ctx, p.ID)
	if err != nil {
		return LoginResult{}, err
	}
	limit := s.MaxSessions
	if limit < 1 {
		limit = 1
	}
	for i := 0; len(active)-i >= limit; i++ {
		if err := s.sessions.Deactivate(ctx, active[i].ID); err != nil && !errors.Is(err, sessionrepo.ErrNotFound) {
			return LoginResult{}, err
		}
	}

	now := s.clk.Now()
	sess := domain.Session{
		ID:        s.newSessionID(),
		PersonaID: p.ID,
		IP:        strings.TrimSpace(ip),
		IsActive:  true,
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return LoginResult{}, err
	}
	token, err := s.tokens.Mint(p.ID, sess.ID, now)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, Session: sess, Persona: toDomain(p)}, nil
}

// Authenticate resolves a session token to its persona and records activity.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.Persona, domain.SessionID, error) {
	now := s.clk.Now()
	personaID, sessionID, err := s.tokens.Parse(token, now)
	if err != nil {
		return domain.Persona{}, "", apperr.Unauthorized("UNAUTHENTICATED", "Invalid or expired session token.")
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessionrepo.ErrNotFound) {
			return domain.Persona{}, "", apperr.Unauthorized("SESSION_INACTIVE", "Session is no longer active.")
		}
		return domain.Persona{}, "", err
	}
	if !sess.IsActive || sess.PersonaID != personaID {
		return domain.Persona{}, "", apperr.Unauthorized("SESSION_INACTIVE", "Session is no longer active.")
	}
	p, err := s.Lookup(ctx, personaID)
	if err != nil {
		return domain.Persona{}, "", err
	}
	if err := s.sessions.Touch(ctx, sessionID, now); err != nil {
		if errors.Is(err, sessionrepo.ErrNotFound) {
			return domain.Persona{}, "", apperr.Unauthorized("SESSION_INACTIVE", "Session is no longer active.")
		}
		return domain.Persona{}, "", err
	}
	return p, sessionID, nil
}

func (s *Service) Logout(ctx context.Context, sessionID domain.SessionID) error {
	if err := s.sessions.Deactivate(ctx, sessionID); err != nil && !errors.Is(err, sessionrepo.ErrNotFound) {
		return err
	}
	return nil
}

// LogoutAll ends every session of the persona and reports how many were active.
func (s *Service) LogoutAll(ctx context.Context, personaID domain.PersonaID) (int, error) {
	return s.sessions.DeactivateAll(ctx, personaID)
}

// ListSessions returns the caller's active sessions, least recently used first.
func (s *Service) ListSessions(ctx context.Context, personaID domain.PersonaID) ([]domain.Session, error) {
	return s.sessions.ListActive(ctx, personaID)
}

func (s *Service) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.BcryptCost)
	})
	if s.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
	}
}
