package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/app/droids"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

// DebugPersonaHeader selects the acting persona in dev auth mode.
const DebugPersonaHeader = "X-Debug-Persona"

type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Persona, domain.SessionID, error)
}

type DroidAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (droids.Identity, error)
}

type PersonaLookup interface {
	Lookup(ctx context.Context, id domain.PersonaID) (domain.Persona, error)
}

// NewAuthMiddleware resolves the caller from Authorization: Bearer <session
// token> or the droid header and stores it in the request context.
//
// Requests without credentials pass through anonymously; handlers decide
// whether they need a principal. Invalid credentials are always rejected.
func NewAuthMiddleware(sessions SessionAuthenticator, droidAuth DroidAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			droidHeader := r.Header.Get(droids.HeaderName)
			switch {
			case authz != "" && droidHeader != "":
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "send either a session token or a droid token, not both", nil)
			case authz != "":
				const prefix = "Bearer "
				if !strings.HasPrefix(authz, prefix) {
					writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed Authorization header", nil)
					return
				}
				raw := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
				if raw == "" {
					writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
					return
				}
				p, sid, err := sessions.Authenticate(r.Context(), raw)
				if err != nil {
					writeAuthError(w, r, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{Persona: &p, SessionID: sid})))
			case droidHeader != "":
				serveDroid(w, r, next, droidAuth, droidHeader)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// NewDevAuthMiddleware is a local/dev-only auth shim.
//
// It accepts the acting persona id via X-Debug-Persona, falling back to
// defaultPersona when set. Session and droid credentials are still verified
// when present.
// Do NOT use this in production deployments.
func NewDevAuthMiddleware(lookup PersonaLookup, sessions SessionAuthenticator, droidAuth DroidAuthenticator, defaultPersona string) func(http.Handler) http.Handler {
	regular := NewAuthMiddleware(sessions, droidAuth)
	return func(next http.Handler) http.Handler {
		verified := regular(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(DebugPersonaHeader))
			if id == "" && (r.Header.Get("Authorization") != "" || r.Header.Get(droids.HeaderName) != "") {
				verified.ServeHTTP(w, r)
				return
			}
			if id == "" {
				id = strings.TrimSpace(defaultPersona)
			}
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			p, err := lookup.Lookup(r.Context(), domain.PersonaID(id))
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{Persona: &p})))
		})
	}
}

func serveDroid(w http.ResponseWriter, r *http.Request, next http.Handler, droidAuth DroidAuthenticator, raw string) {
	id, err := droidAuth.Authenticate(r.Context(), raw)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{Droid: &id})))
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := apperr.As(err); ok && ae.Status == http.StatusUnauthorized {
		writeError(w, r, ae.Status, ae.Code, ae.Message, ae.Details)
		return
	}
	writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
}
