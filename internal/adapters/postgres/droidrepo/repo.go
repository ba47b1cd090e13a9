package droidrepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/droidrepo"
)

// Repo is a Postgres implementation of droidrepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const selectColumns = `
	id, event_id, title, notes, secret_hash, created_by, created_at, expires_at, revoked_at, last_access
`

func (r *Repo) Create(ctx context.Context, t droidrepo.OrgaToken) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orga_tokens (`+selectColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		string(t.ID),
		string(t.EventID),
		t.Title,
		t.Notes,
		t.SecretHash,
		string(t.CreatedBy),
		t.CreatedAt.UTC(),
		t.ExpiresAt.UTC(),
		utcPtr(t.RevokedAt),
		utcPtr(t.LastAccess),
	)
	if postgres.IsUniqueViolation(err, "orga_tokens_pkey") {
		return droidrepo.ErrAlreadyExists
	}
	return err
}

func (r *Repo) Get(ctx context.Context, id domain.OrgaTokenID) (droidrepo.OrgaToken, error) {
	if r.pool == nil {
		return droidrepo.OrgaToken{}, postgres.ErrNilPool
	}
	t, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM orga_tokens WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return droidrepo.OrgaToken{}, droidrepo.ErrNotFound
	}
	return t, err
}

func (r *Repo) Revoke(ctx context.Context, id domain.OrgaTokenID, at time.Time) (droidrepo.OrgaToken, error) {
	if r.pool == nil {
		return droidrepo.OrgaToken{}, postgres.ErrNilPool
	}
	t, err := scanToken(r.pool.QueryRow(ctx, `
		UPDATE orga_tokens SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
		RETURNING `+selectColumns, string(id), at.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return droidrepo.OrgaToken{}, droidrepo.ErrNotFound
	}
	return t, err
}

func (r *Repo) TouchLastAccess(ctx context.Context, id domain.OrgaTokenID, at time.Time) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE orga_tokens SET last_access = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, string(id), at.UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return droidrepo.ErrNotFound
	}
	return nil
}

// DeleteUnused deletes in one statement so a concurrent first access either
// lands before (ErrInUse) or finds no row.
func (r *Repo) DeleteUnused(ctx context.Context, id domain.OrgaTokenID) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `DELETE FROM orga_tokens WHERE id = $1 AND last_access IS NULL`, string(id))
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orga_tokens WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return droidrepo.ErrInUse
	}
	return droidrepo.ErrNotFound
}

func (r *Repo) ListByEvent(ctx context.Context, eventID domain.EventID) ([]droidrepo.OrgaToken, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM orga_tokens
		WHERE event_id = $1
		ORDER BY created_at, id
	`, string(eventID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]droidrepo.OrgaToken, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanToken(row pgx.Row) (droidrepo.OrgaToken, error) {
	var (
		t                      droidrepo.OrgaToken
		id, eventID, createdBy string
	)
	if err := row.Scan(
		&id,
		&eventID,
		&t.Title,
		&t.Notes,
		&t.SecretHash,
		&createdBy,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.LastAccess,
	); err != nil {
		return droidrepo.OrgaToken{}, err
	}
	t.ID = domain.OrgaTokenID(id)
	t.EventID = domain.EventID(eventID)
	t.CreatedBy = domain.PersonaID(createdBy)
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.RevokedAt = utcPtr(t.RevokedAt)
	t.LastAccess = utcPtr(t.LastAccess)
	return t, nil
}

func utcPtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := p.UTC()
	return &v
}
