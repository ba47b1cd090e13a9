package genesisrepo

import (
	"context"
	"errors"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

var (
	ErrNotFound      = errors.New("genesis case not found")
	ErrAlreadyExists = errors.New("genesis case already exists")
)

type Repository interface {
	Create(ctx context.Context, c domain.GenesisCase) error
	Update(ctx context.Context, c domain.GenesisCase) error
	Get(ctx context.Context, id domain.GenesisCaseID) (domain.GenesisCase, error)

	// List returns cases in any of the given states (all states if none given), oldest first.
	List(ctx context.Context, states ...domain.GenesisState) ([]domain.GenesisCase, error)

	// FindOpenByEmail returns the open case for an email address, if any.
	FindOpenByEmail(ctx context.Context, email string) (domain.GenesisCase, error)

	// DeleteUnconfirmedBefore removes unconfirmed cases created before cutoff and reports how many were removed.
	DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
