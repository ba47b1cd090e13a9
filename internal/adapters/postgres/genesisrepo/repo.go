package genesisrepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/genesisrepo"
)

// Repo is a Postgres implementation of genesisrepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const selectColumns = `
	id, email, given_names, family_name, realm, notes, state, reviewer, persona_id, created_at, updated_at
`

func (r *Repo) Create(ctx context.Context, c domain.GenesisCase) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO genesis_cases (
			id, email, email_normalized, given_names, family_name, realm, notes,
			state, reviewer, persona_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		string(c.ID),
		c.Email,
		domain.NormalizeEmail(c.Email),
		c.GivenNames,
		c.FamilyName,
		string(c.Realm),
		c.Notes,
		string(c.State),
		personaPtr(c.Reviewer),
		personaPtr(c.PersonaID),
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
	)
	if postgres.IsUniqueViolation(err, "genesis_cases_pkey") {
		return genesisrepo.ErrAlreadyExists
	}
	return err
}

func (r *Repo) Update(ctx context.Context, c domain.GenesisCase) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE genesis_cases
		SET email = $2,
		    email_normalized = $3,
		    given_names = $4,
		    family_name = $5,
		    realm = $6,
		    notes = $7,
		    state = $8,
		    reviewer = $9,
		    persona_id = $10,
		    updated_at = $11
		WHERE id = $1
	`,
		string(c.ID),
		c.Email,
		domain.NormalizeEmail(c.Email),
		c.GivenNames,
		c.FamilyName,
		string(c.Realm),
		c.Notes,
		string(c.State),
		personaPtr(c.Reviewer),
		personaPtr(c.PersonaID),
		c.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return genesisrepo.ErrNotFound
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id domain.GenesisCaseID) (domain.GenesisCase, error) {
	if r.pool == nil {
		return domain.GenesisCase{}, postgres.ErrNilPool
	}
	c, err := scanCase(r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM genesis_cases WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GenesisCase{}, genesisrepo.ErrNotFound
	}
	return c, err
}

func (r *Repo) List(ctx context.Context, states ...domain.GenesisState) ([]domain.GenesisCase, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	want := make([]string, 0, len(states))
	for _, s := range states {
		want = append(want, string(s))
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM genesis_cases
		WHERE cardinality($1::text[]) = 0 OR state = ANY($1)
		ORDER BY created_at, id
	`, want)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.GenesisCase, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) FindOpenByEmail(ctx context.Context, email string) (domain.GenesisCase, error) {
	if r.pool == nil {
		return domain.GenesisCase{}, postgres.ErrNilPool
	}
	c, err := scanCase(r.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM genesis_cases
		WHERE email_normalized = $1 AND state = ANY($2)
		ORDER BY created_at
		LIMIT 1
	`, domain.NormalizeEmail(email), []string{
		string(domain.GenesisUnconfirmed),
		string(domain.GenesisToReview),
		string(domain.GenesisApproved),
	}))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GenesisCase{}, genesisrepo.ErrNotFound
	}
	return c, err
}

func (r *Repo) DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if r.pool == nil {
		return 0, postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM genesis_cases WHERE state = $1 AND created_at < $2
	`, string(domain.GenesisUnconfirmed), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func scanCase(row pgx.Row) (domain.GenesisCase, error) {
	var (
		c                   domain.GenesisCase
		id, realm, state    string
		reviewer, personaID *string
	)
	if err := row.Scan(
		&id,
		&c.Email,
		&c.GivenNames,
		&c.FamilyName,
		&realm,
		&c.Notes,
		&state,
		&reviewer,
		&personaID,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return domain.GenesisCase{}, err
	}
	c.ID = domain.GenesisCaseID(id)
	c.Realm = domain.Realm(realm)
	c.State = domain.GenesisState(state)
	if reviewer != nil {
		v := domain.PersonaID(*reviewer)
		c.Reviewer = &v
	}
	if personaID != nil {
		v := domain.PersonaID(*personaID)
		c.PersonaID = &v
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func personaPtr(p *domain.PersonaID) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
}
