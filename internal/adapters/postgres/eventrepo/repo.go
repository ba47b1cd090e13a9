package eventrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
)

// Repo is a Postgres implementation of eventrepo.Repository.
// A Repo handed to an Atomically callback runs on the transaction.
type Repo struct {
	pool *pgxpool.Pool
	db   postgres.Querier
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	r := &Repo{pool: pool}
	if pool != nil {
		r.db = pool
	}
	return r
}

// Atomically runs fn in one transaction holding a row lock on the event.
// Inside a transaction it runs fn directly.
func (r *Repo) Atomically(ctx context.Context, eventID domain.EventID, fn func(eventrepo.Repository) error) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, string(eventID)).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return eventrepo.ErrNotFound
		}
		if err != nil {
			return err
		}
		return fn(&Repo{db: tx})
	})
}

const eventColumns = `
	id, shortname, title, description, orgas, parts, tracks, fields, questionnaire, registration_open, created_at, updated_at
`

func (r *Repo) CreateEvent(ctx context.Context, e domain.Event) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	docs, err := encodeEventDocs(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		string(e.ID),
		e.Shortname,
		e.Title,
		e.Description,
		personaStrings(e.Orgas),
		docs.parts,
		docs.tracks,
		docs.fields,
		docs.questionnaire,
		e.RegistrationOpen,
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
	)
	if postgres.IsUniqueViolation(err, "events_pkey") {
		return eventrepo.ErrAlreadyExists
	}
	return err
}

func (r *Repo) SaveEvent(ctx context.Context, e domain.Event) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	docs, err := encodeEventDocs(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ct, err := r.db.Exec(ctx, `
		UPDATE events
		SET shortname = $2,
		    title = $3,
		    description = $4,
		    orgas = $5,
		    parts = $6,
		    tracks = $7,
		    fields = $8,
		    questionnaire = $9,
		    registration_open = $10,
		    updated_at = $11
		WHERE id = $1
	`,
		string(e.ID),
		e.Shortname,
		e.Title,
		e.Description,
		personaStrings(e.Orgas),
		docs.parts,
		docs.tracks,
		docs.fields,
		docs.questionnaire,
		e.RegistrationOpen,
		e.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return eventrepo.ErrNotFound
	}
	return nil
}

func (r *Repo) GetEvent(ctx context.Context, id domain.EventID) (domain.Event, error) {
	if r.db == nil {
		return domain.Event{}, postgres.ErrNilPool
	}
	e, err := scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, eventrepo.ErrNotFound
	}
	return e, err
}

func (r *Repo) ListEvents(ctx context.Context) ([]domain.Event, error) {
	if r.db == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		e     domain.Event
		id    string
		orgas []string
		docs  eventDocs
	)
	if err := row.Scan(
		&id,
		&e.Shortname,
		&e.Title,
		&e.Description,
		&orgas,
		&docs.parts,
		&docs.tracks,
		&docs.fields,
		&docs.questionnaire,
		&e.RegistrationOpen,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return domain.Event{}, err
	}
	e.ID = domain.EventID(id)
	for _, o := range orgas {
		e.Orgas = append(e.Orgas, domain.PersonaID(o))
	}
	if err := decodeEventDocs(&e, docs); err != nil {
		return domain.Event{}, fmt.Errorf("decode event %s: %w", id, err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

const courseColumns = `id, event_id, nr, title, tracks, min_size, max_size, fields`

func (r *Repo) SaveCourse(ctx context.Context, c domain.Course) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return fmt.Errorf("encode course fields: %w", err)
	}
	tracks := make([]string, 0, len(c.Tracks))
	for _, t := range c.Tracks {
		tracks = append(tracks, string(t))
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO courses (`+courseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			nr = EXCLUDED.nr,
			title = EXCLUDED.title,
			tracks = EXCLUDED.tracks,
			min_size = EXCLUDED.min_size,
			max_size = EXCLUDED.max_size,
			fields = EXCLUDED.fields
	`,
		string(c.ID),
		string(c.EventID),
		c.Nr,
		c.Title,
		tracks,
		c.MinSize,
		c.MaxSize,
		fields,
	)
	if postgres.IsForeignKeyViolation(err) {
		return eventrepo.ErrNotFound
	}
	return err
}

func (r *Repo) GetCourse(ctx context.Context, id domain.CourseID) (domain.Course, error) {
	if r.db == nil {
		return domain.Course{}, postgres.ErrNilPool
	}
	c, err := scanCourse(r.db.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Course{}, eventrepo.ErrCourseNotFound
	}
	return c, err
}

func (r *Repo) DeleteCourse(ctx context.Context, id domain.CourseID) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.db.Exec(ctx, `DELETE FROM courses WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return eventrepo.ErrCourseNotFound
	}
	return nil
}

func (r *Repo) ListCourses(ctx context.Context, eventID domain.EventID) ([]domain.Course, error) {
	if r.db == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+courseColumns+` FROM courses WHERE event_id = $1 ORDER BY nr, id
	`, string(eventID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Course, 0)
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCourse(row pgx.Row) (domain.Course, error) {
	var (
		c           domain.Course
		id, eventID string
		tracks      []string
		fields      []byte
	)
	if err := row.Scan(&id, &eventID, &c.Nr, &c.Title, &tracks, &c.MinSize, &c.MaxSize, &fields); err != nil {
		return domain.Course{}, err
	}
	c.ID = domain.CourseID(id)
	c.EventID = domain.EventID(eventID)
	for _, t := range tracks {
		c.Tracks = append(c.Tracks, domain.TrackID(t))
	}
	var err error
	if c.Fields, err = decodeFields(fields); err != nil {
		return domain.Course{}, fmt.Errorf("decode course %s fields: %w", id, err)
	}
	return c, nil
}

const lodgementColumns = `id, event_id, title, regular_capacity, camping_mat_capacity, fields`

func (r *Repo) SaveLodgement(ctx context.Context, l domain.Lodgement) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	fields, err := encodeFields(l.Fields)
	if err != nil {
		return fmt.Errorf("encode lodgement fields: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO lodgements (`+lodgementColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			regular_capacity = EXCLUDED.regular_capacity,
			camping_mat_capacity = EXCLUDED.camping_mat_capacity,
			fields = EXCLUDED.fields
	`,
		string(l.ID),
		string(l.EventID),
		l.Title,
		l.RegularCapacity,
		l.CampingMatCapacity,
		fields,
	)
	if postgres.IsForeignKeyViolation(err) {
		return eventrepo.ErrNotFound
	}
	return err
}

func (r *Repo) GetLodgement(ctx context.Context, id domain.LodgementID) (domain.Lodgement, error) {
	if r.db == nil {
		return domain.Lodgement{}, postgres.ErrNilPool
	}
	l, err := scanLodgement(r.db.QueryRow(ctx, `SELECT `+lodgementColumns+` FROM lodgements WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lodgement{}, eventrepo.ErrLodgementNotFound
	}
	return l, err
}

func (r *Repo) DeleteLodgement(ctx context.Context, id domain.LodgementID) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.db.Exec(ctx, `DELETE FROM lodgements WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return eventrepo.ErrLodgementNotFound
	}
	return nil
}

func (r *Repo) ListLodgements(ctx context.Context, eventID domain.EventID) ([]domain.Lodgement, error) {
	if r.db == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+lodgementColumns+` FROM lodgements WHERE event_id = $1 ORDER BY title, id
	`, string(eventID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Lodgement, 0)
	for rows.Next() {
		l, err := scanLodgement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLodgement(row pgx.Row) (domain.Lodgement, error) {
	var (
		l           domain.Lodgement
		id, eventID string
		fields      []byte
	)
	if err := row.Scan(&id, &eventID, &l.Title, &l.RegularCapacity, &l.CampingMatCapacity, &fields); err != nil {
		return domain.Lodgement{}, err
	}
	l.ID = domain.LodgementID(id)
	l.EventID = domain.EventID(eventID)
	var err error
	if l.Fields, err = decodeFields(fields); err != nil {
		return domain.Lodgement{}, fmt.Errorf("decode lodgement %s fields: %w", id, err)
	}
	return l, nil
}

const registrationColumns = `id, event_id, persona_id, parts, tracks, fields, notes, created_at, updated_at`

func (r *Repo) CreateRegistration(ctx context.Context, reg domain.Registration) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	parts, tracks, err := encodeRegistrationDocs(reg)
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	fields, err := encodeFields(reg.Fields)
	if err != nil {
		return fmt.Errorf("encode registration fields: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO registrations (`+registrationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		string(reg.ID),
		string(reg.EventID),
		string(reg.PersonaID),
		parts,
		tracks,
		fields,
		reg.Notes,
		reg.CreatedAt.UTC(),
		reg.UpdatedAt.UTC(),
	)
	switch {
	case err == nil:
		return nil
	case postgres.IsForeignKeyViolation(err):
		return eventrepo.ErrNotFound
	case postgres.IsUniqueViolation(err, ""):
		return eventrepo.ErrAlreadyRegistered
	}
	return err
}

func (r *Repo) SaveRegistration(ctx context.Context, reg domain.Registration) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	parts, tracks, err := encodeRegistrationDocs(reg)
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	fields, err := encodeFields(reg.Fields)
	if err != nil {
		return fmt.Errorf("encode registration fields: %w", err)
	}
	// Event and persona binding is immutable.
	ct, err := r.db.Exec(ctx, `
		UPDATE registrations
		SET parts = $2,
		    tracks = $3,
		    fields = $4,
		    notes = $5,
		    updated_at = $6
		WHERE id = $1
	`,
		string(reg.ID),
		parts,
		tracks,
		fields,
		reg.Notes,
		reg.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return eventrepo.ErrRegistrationNotFound
	}
	return nil
}

func (r *Repo) GetRegistration(ctx context.Context, id domain.RegistrationID) (domain.Registration, error) {
	if r.db == nil {
		return domain.Registration{}, postgres.ErrNilPool
	}
	reg, err := scanRegistration(r.db.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE id = $1
	`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Registration{}, eventrepo.ErrRegistrationNotFound
	}
	return reg, err
}

func (r *Repo) GetRegistrationByPersona(ctx context.Context, eventID domain.EventID, personaID domain.PersonaID) (domain.Registration, error) {
	if r.db == nil {
		return domain.Registration{}, postgres.ErrNilPool
	}
	reg, err := scanRegistration(r.db.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 AND persona_id = $2
	`, string(eventID), string(personaID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Registration{}, eventrepo.ErrRegistrationNotFound
	}
	return reg, err
}

func (r *Repo) DeleteRegistration(ctx context.Context, id domain.RegistrationID) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.db.Exec(ctx, `DELETE FROM registrations WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return eventrepo.ErrRegistrationNotFound
	}
	return nil
}

func (r *Repo) ListRegistrations(ctx context.Context, eventID domain.EventID) ([]domain.Registration, error) {
	if r.db == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 ORDER BY id COLLATE "C"
	`, string(eventID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Registration, 0)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func scanRegistration(row pgx.Row) (domain.Registration, error) {
	var (
		reg                   domain.Registration
		id, eventID, persona  string
		parts, tracks, fields []byte
	)
	if err := row.Scan(
		&id,
		&eventID,
		&persona,
		&parts,
		&tracks,
		&fields,
		&reg.Notes,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	); err != nil {
		return domain.Registration{}, err
	}
	reg.ID = domain.RegistrationID(id)
	reg.EventID = domain.EventID(eventID)
	reg.PersonaID = domain.PersonaID(persona)
	if err := decodeRegistrationDocs(&reg, parts, tracks); err != nil {
		return domain.Registration{}, fmt.Errorf("decode registration %s: %w", id, err)
	}
	var err error
	if reg.Fields, err = decodeFields(fields); err != nil {
		return domain.Registration{}, fmt.Errorf("decode registration %s fields: %w", id, err)
	}
	reg.CreatedAt = reg.CreatedAt.UTC()
	reg.UpdatedAt = reg.UpdatedAt.UTC()
	return reg, nil
}

func personaStrings(ids []domain.PersonaID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

// DeleteEvent removes an event; courses, lodgements and registrations
// follow through ON DELETE CASCADE.
func (r *Repo) DeleteEvent(ctx context.Context, id domain.EventID) error {
	if r.db == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return eventrepo.ErrNotFound
	}
	return nil
}
