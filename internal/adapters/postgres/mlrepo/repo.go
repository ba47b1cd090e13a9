package mlrepo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/mlrepo"
)

// Repo is a Postgres implementation of mlrepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const selectColumns = `
	id, title, local_part, domain, ml_type, is_active, moderators, event_id,
	registration_stati, assembly_id, created_at, updated_at
`

func (r *Repo) Create(ctx context.Context, ml domain.Mailinglist) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mailinglists (
			id, title, local_part, domain, address_normalized, ml_type, is_active,
			moderators, event_id, registration_stati, assembly_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		string(ml.ID),
		ml.Title,
		ml.LocalPart,
		ml.Domain,
		domain.NormalizeEmail(ml.Address()),
		string(ml.Type),
		ml.IsActive,
		moderatorStrings(ml.Moderators),
		eventPtr(ml.EventID),
		statusStrings(ml.RegistrationStati),
		assemblyPtr(ml.AssemblyID),
		ml.CreatedAt.UTC(),
		ml.UpdatedAt.UTC(),
	)
	if postgres.IsUniqueViolation(err, "mailinglists_address_unique") {
		return mlrepo.ErrAddressTaken
	}
	return err
}

func (r *Repo) Save(ctx context.Context, ml domain.Mailinglist) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE mailinglists
		SET title = $2,
		    local_part = $3,
		    domain = $4,
		    address_normalized = $5,
		    ml_type = $6,
		    is_active = $7,
		    moderators = $8,
		    event_id = $9,
		    registration_stati = $10,
		    assembly_id = $11,
		    updated_at = $12
		WHERE id = $1
	`,
		string(ml.ID),
		ml.Title,
		ml.LocalPart,
		ml.Domain,
		domain.NormalizeEmail(ml.Address()),
		string(ml.Type),
		ml.IsActive,
		moderatorStrings(ml.Moderators),
		eventPtr(ml.EventID),
		statusStrings(ml.RegistrationStati),
		assemblyPtr(ml.AssemblyID),
		ml.UpdatedAt.UTC(),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "mailinglists_address_unique") {
			return mlrepo.ErrAddressTaken
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		return mlrepo.ErrNotFound
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id domain.MailinglistID) (domain.Mailinglist, error) {
	if r.pool == nil {
		return domain.Mailinglist{}, postgres.ErrNilPool
	}
	ml, err := scanML(r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM mailinglists WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Mailinglist{}, mlrepo.ErrNotFound
	}
	return ml, err
}

func (r *Repo) List(ctx context.Context) ([]domain.Mailinglist, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+` FROM mailinglists ORDER BY (local_part || '@' || domain) COLLATE "C"
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Mailinglist, 0)
	for rows.Next() {
		ml, err := scanML(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ml)
	}
	return out, rows.Err()
}

func (r *Repo) GetSubscription(ctx context.Context, mlID domain.MailinglistID, personaID domain.PersonaID) (domain.Subscription, error) {
	if r.pool == nil {
		return domain.Subscription{}, postgres.ErrNilPool
	}
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		SELECT mailinglist_id, persona_id, state, updated_at
		FROM subscriptions
		WHERE mailinglist_id = $1 AND persona_id = $2
	`, string(mlID), string(personaID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, mlrepo.ErrSubscriptionNotFound
	}
	return s, err
}

func (r *Repo) SetSubscription(ctx context.Context, s domain.Subscription) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subscriptions (mailinglist_id, persona_id, state, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (mailinglist_id, persona_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, string(s.MailinglistID), string(s.PersonaID), string(s.State), s.UpdatedAt.UTC())
	if postgres.IsForeignKeyViolation(err) {
		return mlrepo.ErrNotFound
	}
	return err
}

func (r *Repo) DeleteSubscription(ctx context.Context, mlID domain.MailinglistID, personaID domain.PersonaID) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM subscriptions WHERE mailinglist_id = $1 AND persona_id = $2
	`, string(mlID), string(personaID))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return mlrepo.ErrSubscriptionNotFound
	}
	return nil
}

func (r *Repo) ListSubscriptions(ctx context.Context, mlID domain.MailinglistID) ([]domain.Subscription, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT mailinglist_id, persona_id, state, updated_at
		FROM subscriptions
		WHERE mailinglist_id = $1
		ORDER BY persona_id COLLATE "C"
	`, string(mlID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanML(row pgx.Row) (domain.Mailinglist, error) {
	var (
		ml                  domain.Mailinglist
		id, mlType          string
		moderators, stati   []string
		eventID, assemblyID *string
	)
	if err := row.Scan(
		&id,
		&ml.Title,
		&ml.LocalPart,
		&ml.Domain,
		&mlType,
		&ml.IsActive,
		&moderators,
		&eventID,
		&stati,
		&assemblyID,
		&ml.CreatedAt,
		&ml.UpdatedAt,
	); err != nil {
		return domain.Mailinglist{}, err
	}
	ml.ID = domain.MailinglistID(id)
	ml.Type = domain.MailinglistType(mlType)
	for _, m := range moderators {
		ml.Moderators = append(ml.Moderators, domain.PersonaID(m))
	}
	for _, s := range stati {
		ml.RegistrationStati = append(ml.RegistrationStati, domain.RegistrationPartStatus(s))
	}
	if eventID != nil {
		v := domain.EventID(*eventID)
		ml.EventID = &v
	}
	if assemblyID != nil {
		v := domain.AssemblyID(*assemblyID)
		ml.AssemblyID = &v
	}
	ml.CreatedAt = ml.CreatedAt.UTC()
	ml.UpdatedAt = ml.UpdatedAt.UTC()
	return ml, nil
}

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var (
		s                      domain.Subscription
		mlID, personaID, state string
	)
	if err := row.Scan(&mlID, &personaID, &state, &s.UpdatedAt); err != nil {
		return domain.Subscription{}, err
	}
	s.MailinglistID = domain.MailinglistID(mlID)
	s.PersonaID = domain.PersonaID(personaID)
	s.State = domain.SubscriptionState(state)
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func moderatorStrings(ids []domain.PersonaID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func statusStrings(ss []domain.RegistrationPartStatus) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, string(s))
	}
	return out
}

func eventPtr(p *domain.EventID) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
}

func assemblyPtr(p *domain.AssemblyID) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
}
