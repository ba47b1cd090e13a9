package sessionrepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/sessionrepo"
)

// Repo is a Postgres implementation of sessionrepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Create(ctx context.Context, s domain.Session) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, persona_id, ip, is_active, created_at, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, string(s.ID), string(s.PersonaID), s.IP, s.IsActive, s.CreatedAt.UTC(), s.LastSeen.UTC())
	return err
}

func (r *Repo) Get(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	if r.pool == nil {
		return domain.Session{}, postgres.ErrNilPool
	}
	s, err := scanSession(r.pool.QueryRow(ctx, `
		SELECT id, persona_id, ip, is_active, created_at, last_seen
		FROM sessions WHERE id = $1
	`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, sessionrepo.ErrNotFound
	}
	return s, err
}

func (r *Repo) Touch(ctx context.Context, id domain.SessionID, at time.Time) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE sessions SET last_seen = GREATEST(last_seen, $2)
		WHERE id = $1 AND is_active
	`, string(id), at.UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return sessionrepo.ErrNotFound
	}
	return nil
}

func (r *Repo) Deactivate(ctx context.Context, id domain.SessionID) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `UPDATE sessions SET is_active = FALSE WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return sessionrepo.ErrNotFound
	}
	return nil
}

func (r *Repo) DeactivateAll(ctx context.Context, personaID domain.PersonaID) (int, error) {
	if r.pool == nil {
		return 0, postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE WHERE persona_id = $1 AND is_active
	`, string(personaID))
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (r *Repo) ListActive(ctx context.Context, personaID domain.PersonaID) ([]domain.Session, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, persona_id, ip, is_active, created_at, last_seen
		FROM sessions
		WHERE persona_id = $1 AND is_active
		ORDER BY last_seen, id
	`, string(personaID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		s         domain.Session
		id        string
		personaID string
	)
	if err := row.Scan(&id, &personaID, &s.IP, &s.IsActive, &s.CreatedAt, &s.LastSeen); err != nil {
		return domain.Session{}, err
	}
	s.ID = domain.SessionID(id)
	s.PersonaID = domain.PersonaID(personaID)
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastSeen = s.LastSeen.UTC()
	return s, nil
}
