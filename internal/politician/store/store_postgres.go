package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"politikcred/internal/domain"
	"politikcred/pkg/platform/sentinel"
	"politikcred/pkg/platform/tx"
)

const politicianColumns = `id, name, first_name, last_name, party, position, orientation,
	source_ids, credibility_score, credibility_label, scored_at, created_at`

const promiseColumns = `id, politician_id, content, keywords, status, created_at`

// PostgresStore persists politicians and promises in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed politician store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *domain.Politician) error {
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO politicians (`+politicianColumns+`, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`,
		uuid.UUID(p.ID), p.Name, p.FirstName, p.LastName, p.Party, p.Position, string(p.Orientation),
		textArray(p.SourceIDs), p.CredibilityScore, string(p.CredibilityLabel), nullTime(p.ScoredAt), p.CreatedAt,
		p.DedupeKey(),
	)
	if err != nil {
		return fmt.Errorf("create politician: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create politician rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.PoliticianID) (*domain.Politician, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+politicianColumns+` FROM politicians WHERE id = $1`, uuid.UUID(id))
	p, err := scanPolitician(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get politician: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*domain.Politician, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT `+politicianColumns+` FROM politicians ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list politicians: %w", err)
	}
	defer rows.Close()
	var out []*domain.Politician
	for rows.Next() {
		p, err := scanPolitician(rows)
		if err != nil {
			return nil, fmt.Errorf("scan politician: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate politicians: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DedupeKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, `SELECT dedupe_key FROM politicians`)
	if err != nil {
		return nil, fmt.Errorf("list dedupe keys: %w", err)
	}
	defer rows.Close()
	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan dedupe key: %w", err)
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateScore(ctx context.Context, id domain.PoliticianID, score int, label domain.CredibilityLabel, at time.Time) error {
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE politicians
		SET credibility_score = $2, credibility_label = $3, scored_at = $4
		WHERE id = $1`,
		uuid.UUID(id), score, string(label), at)
	if err != nil {
		return fmt.Errorf("update politician score: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) CreatePromise(ctx context.Context, p *domain.Promise) error {
	_, err := tx.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO promises (`+promiseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(p.ID), uuid.UUID(p.PoliticianID), p.Content, textArray(p.Keywords), string(p.Status), p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create promise: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPromise(ctx context.Context, id domain.PromiseID) (*domain.Promise, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+promiseColumns+` FROM promises WHERE id = $1`, uuid.UUID(id))
	p, err := scanPromise(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get promise: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPromises(ctx context.Context, politicianID domain.PoliticianID) ([]*domain.Promise, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT `+promiseColumns+` FROM promises WHERE politician_id = $1 ORDER BY created_at, id`,
		uuid.UUID(politicianID))
	if err != nil {
		return nil, fmt.Errorf("list promises: %w", err)
	}
	defer rows.Close()
	var out []*domain.Promise
	for rows.Next() {
		p, err := scanPromise(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promise: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promises: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdatePromiseStatus(ctx context.Context, id domain.PromiseID, status domain.PromiseStatus) error {
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx,
		`UPDATE promises SET status = $2, updated_at = now() WHERE id = $1`,
		uuid.UUID(id), string(status))
	if err != nil {
		return fmt.Errorf("update promise status: %w", err)
	}
	return requireRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolitician(row scanner) (*domain.Politician, error) {
	var (
		p           domain.Politician
		id          uuid.UUID
		orientation string
		label       string
		sources     pq.StringArray
		scoredAt    sql.NullTime
	)
	if err := row.Scan(&id, &p.Name, &p.FirstName, &p.LastName, &p.Party, &p.Position, &orientation,
		&sources, &p.CredibilityScore, &label, &scoredAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = domain.PoliticianID(id)
	p.Orientation = domain.Orientation(orientation)
	p.CredibilityLabel = domain.CredibilityLabel(label)
	p.SourceIDs = []string(sources)
	if scoredAt.Valid {
		t := scoredAt.Time
		p.ScoredAt = &t
	}
	return &p, nil
}

func scanPromise(row scanner) (*domain.Promise, error) {
	var (
		p         domain.Promise
		id, polID uuid.UUID
		keywords  pq.StringArray
		status    string
	)
	if err := row.Scan(&id, &polID, &p.Content, &keywords, &status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = domain.PromiseID(id)
	p.PoliticianID = domain.PoliticianID(polID)
	p.Keywords = []string(keywords)
	p.Status = domain.PromiseStatus(status)
	return &p, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// textArray encodes nil as an empty array; the columns are NOT NULL.
func textArray(v []string) any {
	if v == nil {
		v = []string{}
	}
	return pq.Array(v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
