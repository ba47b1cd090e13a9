package httpapi

import (
	"context"

	"github.com/cde-ev/cdedb2-sub001/internal/app/droids"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

// Principal is the authenticated caller. Exactly one of Persona and Droid is set.
type Principal struct {
	Persona   *domain.Persona
	SessionID domain.SessionID
	Droid     *droids.Identity
}

// Name identifies the principal in idempotency records and logs.
func (p Principal) Name() string {
	switch {
	case p.Persona != nil:
		return string(p.Persona.ID)
	case p.Droid != nil:
		return p.Droid.Principal()
	}
	return ""
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Name() != ""
}
