package mlrepo

import (
	"context"
	"errors"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

var (
	ErrNotFound             = errors.New("mailinglist not found")
	ErrAddressTaken         = errors.New("mailinglist address already in use")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Repository persists mailing lists and subscription states.
type Repository interface {
	Create(ctx context.Context, ml domain.Mailinglist) error
	Save(ctx context.Context, ml domain.Mailinglist) error
	Get(ctx context.Context, id domain.MailinglistID) (domain.Mailinglist, error)
	// List returns lists ordered by address.
	List(ctx context.Context) ([]domain.Mailinglist, error)

	GetSubscription(ctx context.Context, mlID domain.MailinglistID, personaID domain.PersonaID) (domain.Subscription, error)
	SetSubscription(ctx context.Context, s domain.Subscription) error
	DeleteSubscription(ctx context.Context, mlID domain.MailinglistID, personaID domain.PersonaID) error
	// ListSubscriptions returns all subscription records of a list ordered by persona ID.
	ListSubscriptions(ctx context.Context, mlID domain.MailinglistID) ([]domain.Subscription, error)
}
