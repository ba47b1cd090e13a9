package personarepo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

// Repo is a Postgres implementation of personarepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const selectColumns = `
	id, email, given_names, family_name, display_name, realms, admin_realms,
	password_hash, is_active, is_archived, created_at, updated_at
`

// Ordering matches the memory adapter: family name, given names, ID (case-insensitive).
const orderBy = ` ORDER BY lower(family_name), lower(given_names), id`

func (r *Repo) Create(ctx context.Context, p personarepo.Persona) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO personas (
			id, email, email_normalized, given_names, family_name, display_name,
			realms, admin_realms, password_hash, is_active, is_archived,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		string(p.ID),
		p.Email,
		domain.NormalizeEmail(p.Email),
		p.GivenNames,
		p.FamilyName,
		p.DisplayName,
		realmStrings(p.Realms),
		adminRealmStrings(p.AdminRealms),
		p.PasswordHash,
		p.IsActive,
		p.IsArchived,
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		switch {
		case postgres.IsUniqueViolation(err, "personas_pkey"):
			return personarepo.ErrAlreadyExists
		case postgres.IsUniqueViolation(err, "personas_email_unique"):
			return personarepo.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (r *Repo) Update(ctx context.Context, p personarepo.Persona) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE personas
		SET email = $2,
		    email_normalized = $3,
		    given_names = $4,
		    family_name = $5,
		    display_name = $6,
		    realms = $7,
		    admin_realms = $8,
		    password_hash = $9,
		    is_active = $10,
		    is_archived = $11,
		    updated_at = $12
		WHERE id = $1
	`,
		string(p.ID),
		p.Email,
		domain.NormalizeEmail(p.Email),
		p.GivenNames,
		p.FamilyName,
		p.DisplayName,
		realmStrings(p.Realms),
		adminRealmStrings(p.AdminRealms),
		p.PasswordHash,
		p.IsActive,
		p.IsArchived,
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "personas_email_unique") {
			return personarepo.ErrEmailTaken
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		return personarepo.ErrNotFound
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.PersonaID) (personarepo.Persona, error) {
	if r.pool == nil {
		return personarepo.Persona{}, postgres.ErrNilPool
	}
	return scanOne(r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM personas WHERE id = $1`, string(id)))
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (personarepo.Persona, error) {
	if r.pool == nil {
		return personarepo.Persona{}, postgres.ErrNilPool
	}
	return scanOne(r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM personas WHERE email_normalized = $1`, domain.NormalizeEmail(email)))
}

func (r *Repo) List(ctx context.Context, includeInactive bool) ([]personarepo.Persona, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM personas
		WHERE $1 OR (is_active AND NOT is_archived)
	`+orderBy, includeInactive)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func (r *Repo) ListByRealm(ctx context.Context, realm domain.Realm) ([]personarepo.Persona, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM personas
		WHERE is_active AND NOT is_archived AND $1 = ANY(realms)
	`+orderBy, string(realm))
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func (r *Repo) Search(ctx context.Context, query string, limit int) ([]personarepo.Persona, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	tokens := strings.Fields(domain.FoldForSearch(strings.TrimSpace(query)))
	if len(tokens) == 0 {
		return []personarepo.Persona{}, nil
	}
	patterns := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		patterns = append(patterns, "%"+escapeLike(tok)+"%")
	}
	// LIMIT NULL means no limit.
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM personas
		WHERE NOT is_archived
		  AND lower(given_names || ' ' || family_name || ' ' || display_name || ' ' || email) LIKE ALL($1)
	`+orderBy+` LIMIT $2`, patterns, lim)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func scanOne(row pgx.Row) (personarepo.Persona, error) {
	p, err := scanPersona(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return personarepo.Persona{}, personarepo.ErrNotFound
		}
		return personarepo.Persona{}, err
	}
	return p, nil
}

func scanAll(rows pgx.Rows) ([]personarepo.Persona, error) {
	defer rows.Close()
	out := make([]personarepo.Persona, 0)
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPersona(row pgx.Row) (personarepo.Persona, error) {
	var (
		p           personarepo.Persona
		id          string
		realms      []string
		adminRealms []string
	)
	if err := row.Scan(
		&id,
		&p.Email,
		&p.GivenNames,
		&p.FamilyName,
		&p.DisplayName,
		&realms,
		&adminRealms,
		&p.PasswordHash,
		&p.IsActive,
		&p.IsArchived,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return personarepo.Persona{}, err
	}
	p.ID = domain.PersonaID(id)
	for _, s := range realms {
		p.Realms = append(p.Realms, domain.Realm(s))
	}
	for _, s := range adminRealms {
		p.AdminRealms = append(p.AdminRealms, domain.AdminRealm(s))
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func realmStrings(rs []domain.Realm) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, string(r))
	}
	return out
}

func adminRealmStrings(rs []domain.AdminRealm) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, string(r))
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
