package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"politikcred/internal/domain"
	"politikcred/pkg/platform/sentinel"
	"politikcred/pkg/platform/tx"
)

const actionColumns = `id, source, external_id, kind, politician_id, position, title, content,
	occurred_at, ingested_at, processed_at`

// PostgresStore persists actions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveIfAbsent inserts the action unless its ID exists. The primary key is
// the authority for dedup.
func (s *PostgresStore) SaveIfAbsent(ctx context.Context, a *domain.Action) (bool, error) {
	var polID uuid.NullUUID
	if a.PoliticianID != nil {
		polID = uuid.NullUUID{UUID: uuid.UUID(*a.PoliticianID), Valid: true}
	}
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO actions (`+actionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)
		ON CONFLICT (id) DO NOTHING`,
		string(a.ID), a.Source, a.ExternalID, string(a.Kind), polID, string(a.Position),
		a.Title, a.Content, a.OccurredAt, a.IngestedAt,
	)
	if err != nil {
		return false, fmt.Errorf("save action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save action rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.ActionID) (*domain.Action, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = $1`, string(id))
	a, err := scanAction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListUnprocessed(ctx context.Context) ([]*domain.Action, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE processed_at IS NULL ORDER BY occurred_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed actions: %w", err)
	}
	defer rows.Close()
	var out []*domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, ids []domain.ActionID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	_, err := tx.Executor(ctx, s.db).ExecContext(ctx,
		`UPDATE actions SET processed_at = $2 WHERE id = ANY($1) AND processed_at IS NULL`,
		pq.Array(keys), at)
	if err != nil {
		return fmt.Errorf("mark actions processed: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAction(row scanner) (*domain.Action, error) {
	var (
		a                  domain.Action
		id, kind, position string
		polID              uuid.NullUUID
		processedAt        sql.NullTime
	)
	if err := row.Scan(&id, &a.Source, &a.ExternalID, &kind, &polID, &position, &a.Title, &a.Content,
		&a.OccurredAt, &a.IngestedAt, &processedAt); err != nil {
		return nil, err
	}
	a.ID = domain.ActionID(id)
	a.Kind = domain.ActionKind(kind)
	a.Position = domain.VotePosition(position)
	if polID.Valid {
		pid := domain.PoliticianID(polID.UUID)
		a.PoliticianID = &pid
	}
	if processedAt.Valid {
		t := processedAt.Time
		a.ProcessedAt = &t
	}
	return &a, nil
}
