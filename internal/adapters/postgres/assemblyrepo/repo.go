package assemblyrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
)

// Repo is a Postgres implementation of assemblyrepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const assemblyColumns = `id, shortname, title, description, signup_end, presiders, is_active, created_at, updated_at`

func (r *Repo) CreateAssembly(ctx context.Context, a domain.Assembly) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assemblies (`+assemblyColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		string(a.ID),
		a.Shortname,
		a.Title,
		a.Description,
		a.SignupEnd.UTC(),
		personaStrings(a.Presiders),
		a.IsActive,
		a.CreatedAt.UTC(),
		a.UpdatedAt.UTC(),
	)
	return err
}

func (r *Repo) SaveAssembly(ctx context.Context, a domain.Assembly) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE assemblies
		SET shortname = $2,
		    title = $3,
		    description = $4,
		    signup_end = $5,
		    presiders = $6,
		    is_active = $7,
		    updated_at = $8
		WHERE id = $1
	`,
		string(a.ID),
		a.Shortname,
		a.Title,
		a.Description,
		a.SignupEnd.UTC(),
		personaStrings(a.Presiders),
		a.IsActive,
		a.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return assemblyrepo.ErrNotFound
	}
	return nil
}

func (r *Repo) GetAssembly(ctx context.Context, id domain.AssemblyID) (domain.Assembly, error) {
	if r.pool == nil {
		return domain.Assembly{}, postgres.ErrNilPool
	}
	a, err := scanAssembly(r.pool.QueryRow(ctx, `SELECT `+assemblyColumns+` FROM assemblies WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Assembly{}, assemblyrepo.ErrNotFound
	}
	return a, err
}

func (r *Repo) ListAssemblies(ctx context.Context) ([]domain.Assembly, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `SELECT `+assemblyColumns+` FROM assemblies ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Assembly, 0)
	for rows.Next() {
		a, err := scanAssembly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssembly(row pgx.Row) (domain.Assembly, error) {
	var (
		a         domain.Assembly
		id        string
		presiders []string
	)
	if err := row.Scan(&id, &a.Shortname, &a.Title, &a.Description, &a.SignupEnd, &presiders, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.Assembly{}, err
	}
	a.ID = domain.AssemblyID(id)
	for _, p := range presiders {
		a.Presiders = append(a.Presiders, domain.PersonaID(p))
	}
	a.SignupEnd = a.SignupEnd.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func (r *Repo) AddAttendee(ctx context.Context, a domain.Attendee) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attendees (assembly_id, persona_id, secret, created_at)
		VALUES ($1,$2,$3,$4)
	`, string(a.AssemblyID), string(a.PersonaID), a.Secret, a.CreatedAt.UTC())
	switch {
	case err == nil:
		return nil
	case postgres.IsForeignKeyViolation(err):
		return assemblyrepo.ErrNotFound
	case postgres.IsUniqueViolation(err, "attendees_pkey"):
		return assemblyrepo.ErrAlreadyAttending
	}
	return err
}

func (r *Repo) GetAttendee(ctx context.Context, assemblyID domain.AssemblyID, personaID domain.PersonaID) (domain.Attendee, error) {
	if r.pool == nil {
		return domain.Attendee{}, postgres.ErrNilPool
	}
	a, err := scanAttendee(r.pool.QueryRow(ctx, `
		SELECT assembly_id, persona_id, secret, created_at
		FROM attendees
		WHERE assembly_id = $1 AND persona_id = $2
	`, string(assemblyID), string(personaID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attendee{}, assemblyrepo.ErrAttendeeNotFound
	}
	return a, err
}

func (r *Repo) ListAttendees(ctx context.Context, assemblyID domain.AssemblyID) ([]domain.Attendee, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT assembly_id, persona_id, secret, created_at
		FROM attendees
		WHERE assembly_id = $1
		ORDER BY persona_id COLLATE "C"
	`, string(assemblyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Attendee, 0)
	for rows.Next() {
		a, err := scanAttendee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repo) WipeSecrets(ctx context.Context, assemblyID domain.AssemblyID) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	_, err := r.pool.Exec(ctx, `UPDATE attendees SET secret = NULL WHERE assembly_id = $1`, string(assemblyID))
	return err
}

func scanAttendee(row pgx.Row) (domain.Attendee, error) {
	var (
		a                     domain.Attendee
		assemblyID, personaID string
	)
	if err := row.Scan(&assemblyID, &personaID, &a.Secret, &a.CreatedAt); err != nil {
		return domain.Attendee{}, err
	}
	a.AssemblyID = domain.AssemblyID(assemblyID)
	a.PersonaID = domain.PersonaID(personaID)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

const ballotColumns = `
	id, assembly_id, title, candidates, vote_begin, vote_end, vote_extension_end,
	abs_quorum, votes, use_bar, extended, is_tallied, result_file, result_hash,
	created_at, updated_at
`

type candidateDoc struct {
	Shortname string `json:"shortname"`
	Title     string `json:"title"`
}

func (r *Repo) CreateBallot(ctx context.Context, b domain.Ballot) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	candidates, err := encodeCandidates(b.Candidates)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO ballots (`+ballotColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		string(b.ID),
		string(b.AssemblyID),
		b.Title,
		candidates,
		b.VoteBegin.UTC(),
		b.VoteEnd.UTC(),
		utcPtr(b.VoteExtensionEnd),
		b.AbsQuorum,
		b.Votes,
		b.UseBar,
		b.Extended,
		b.IsTallied,
		b.ResultFile,
		b.ResultHash,
		b.CreatedAt.UTC(),
		b.UpdatedAt.UTC(),
	)
	if postgres.IsForeignKeyViolation(err) {
		return assemblyrepo.ErrNotFound
	}
	return err
}

func (r *Repo) SaveBallot(ctx context.Context, b domain.Ballot) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	candidates, err := encodeCandidates(b.Candidates)
	if err != nil {
		return err
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE ballots
		SET title = $2,
		    candidates = $3,
		    vote_begin = $4,
		    vote_end = $5,
		    vote_extension_end = $6,
		    abs_quorum = $7,
		    votes = $8,
		    use_bar = $9,
		    extended = $10,
		    is_tallied = $11,
		    result_file = $12,
		    result_hash = $13,
		    updated_at = $14
		WHERE id = $1
	`,
		string(b.ID),
		b.Title,
		candidates,
		b.VoteBegin.UTC(),
		b.VoteEnd.UTC(),
		utcPtr(b.VoteExtensionEnd),
		b.AbsQuorum,
		b.Votes,
		b.UseBar,
		b.Extended,
		b.IsTallied,
		b.ResultFile,
		b.ResultHash,
		b.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return assemblyrepo.ErrBallotNotFound
	}
	return nil
}

func (r *Repo) GetBallot(ctx context.Context, id domain.BallotID) (domain.Ballot, error) {
	if r.pool == nil {
		return domain.Ballot{}, postgres.ErrNilPool
	}
	b, err := scanBallot(r.pool.QueryRow(ctx, `SELECT `+ballotColumns+` FROM ballots WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Ballot{}, assemblyrepo.ErrBallotNotFound
	}
	return b, err
}

func (r *Repo) DeleteBallot(ctx context.Context, id domain.BallotID) error {
	if r.pool == nil {
		return postgres.ErrNilPool
	}
	ct, err := r.pool.Exec(ctx, `DELETE FROM ballots WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return assemblyrepo.ErrBallotNotFound
	}
	return nil
}

func (r *Repo) ListBallots(ctx context.Context, assemblyID domain.AssemblyID) ([]domain.Ballot, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+ballotColumns+` FROM ballots WHERE assembly_id = $1 ORDER BY vote_begin, id
	`, string(assemblyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Ballot, 0)
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBallot(row pgx.Row) (domain.Ballot, error) {
	var (
		b              domain.Ballot
		id, assemblyID string
		candidates     []byte
	)
	if err := row.Scan(
		&id,
		&assemblyID,
		&b.Title,
		&candidates,
		&b.VoteBegin,
		&b.VoteEnd,
		&b.VoteExtensionEnd,
		&b.AbsQuorum,
		&b.Votes,
		&b.UseBar,
		&b.Extended,
		&b.IsTallied,
		&b.ResultFile,
		&b.ResultHash,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return domain.Ballot{}, err
	}
	b.ID = domain.BallotID(id)
	b.AssemblyID = domain.AssemblyID(assemblyID)
	var docs []candidateDoc
	if err := json.Unmarshal(candidates, &docs); err != nil {
		return domain.Ballot{}, fmt.Errorf("decode ballot %s candidates: %w", id, err)
	}
	for _, d := range docs {
		b.Candidates = append(b.Candidates, domain.Candidate{Shortname: d.Shortname, Title: d.Title})
	}
	b.VoteBegin = b.VoteBegin.UTC()
	b.VoteEnd = b.VoteEnd.UTC()
	b.VoteExtensionEnd = utcPtr(b.VoteExtensionEnd)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

// CastVote stores the vote record and the voter flag in one transaction.
// The two rows share no key, so the vote cannot be traced back to the voter.
// Upserting the voter row first locks it, which serializes concurrent casts
// of one persona before the previous vote is looked up.
func (r *Repo) CastVote(ctx context.Context, personaID domain.PersonaID, rec domain.VoteRecord, own assemblyrepo.VoteMatcher) (bool, error) {
	if r.pool == nil {
		return false, postgres.ErrNilPool
	}
	replaced := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		replaced = false
		_, err := tx.Exec(ctx, `
			INSERT INTO voters (ballot_id, persona_id, has_voted) VALUES ($1,$2,TRUE)
			ON CONFLICT (ballot_id, persona_id) DO UPDATE SET has_voted = TRUE
		`, string(rec.BallotID), string(personaID))
		if err != nil {
			if postgres.IsForeignKeyViolation(err) {
				return assemblyrepo.ErrBallotNotFound
			}
			return err
		}
		if own != nil {
			rows, err := tx.Query(ctx, `SELECT hash, vote, salt FROM votes WHERE ballot_id = $1`, string(rec.BallotID))
			if err != nil {
				return err
			}
			prev, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.VoteRecord, error) {
				v := domain.VoteRecord{BallotID: rec.BallotID}
				err := row.Scan(&v.Hash, &v.Vote, &v.Salt)
				return v, err
			})
			if err != nil {
				return err
			}
			for _, v := range prev {
				if !own(v) {
					continue
				}
				if _, err := tx.Exec(ctx, `DELETE FROM votes WHERE ballot_id = $1 AND hash = $2`, string(rec.BallotID), v.Hash); err != nil {
					return err
				}
				replaced = true
				break
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO votes (ballot_id, hash, vote, salt) VALUES ($1,$2,$3,$4)
		`, string(rec.BallotID), rec.Hash, rec.Vote, rec.Salt)
		if err != nil && postgres.IsForeignKeyViolation(err) {
			return assemblyrepo.ErrBallotNotFound
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return replaced, nil
}

func (r *Repo) ListVotes(ctx context.Context, ballotID domain.BallotID) ([]domain.VoteRecord, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT hash, vote, salt FROM votes WHERE ballot_id = $1 ORDER BY hash COLLATE "C"
	`, string(ballotID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.VoteRecord, 0)
	for rows.Next() {
		rec := domain.VoteRecord{BallotID: ballotID}
		if err := rows.Scan(&rec.Hash, &rec.Vote, &rec.Salt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repo) ListVoters(ctx context.Context, ballotID domain.BallotID) ([]assemblyrepo.Voter, error) {
	if r.pool == nil {
		return nil, postgres.ErrNilPool
	}
	rows, err := r.pool.Query(ctx, `
		SELECT persona_id, has_voted FROM voters WHERE ballot_id = $1 ORDER BY persona_id COLLATE "C"
	`, string(ballotID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]assemblyrepo.Voter, 0)
	for rows.Next() {
		var personaID string
		v := assemblyrepo.Voter{BallotID: ballotID}
		if err := rows.Scan(&personaID, &v.HasVoted); err != nil {
			return nil, err
		}
		v.PersonaID = domain.PersonaID(personaID)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repo) HasVoted(ctx context.Context, ballotID domain.BallotID, personaID domain.PersonaID) (bool, error) {
	if r.pool == nil {
		return false, postgres.ErrNilPool
	}
	var voted bool
	err := r.pool.QueryRow(ctx, `
		SELECT has_voted FROM voters WHERE ballot_id = $1 AND persona_id = $2
	`, string(ballotID), string(personaID)).Scan(&voted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return voted, err
}

func encodeCandidates(cs []domain.Candidate) ([]byte, error) {
	docs := make([]candidateDoc, 0, len(cs))
	for _, c := range cs {
		docs = append(docs, candidateDoc{Shortname: c.Shortname, Title: c.Title})
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}
	return b, nil
}

func personaStrings(ids []domain.PersonaID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func utcPtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := p.UTC()
	return &v
}
