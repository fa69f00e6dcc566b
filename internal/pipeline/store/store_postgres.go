package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"politikcred/internal/domain"
	"politikcred/internal/pipeline/models"
	"politikcred/pkg/platform/sentinel"
	"politikcred/pkg/platform/tx"
)

const runStateColumns = `run_id, status, started_at, finished_at, watermark, moderation_cursor, summary`

// PostgresStore keeps RunState in a single-row table. Claim is one
// conditional UPDATE, so concurrent processes cannot both win it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (domain.RunState, error) {
	var (
		st                        domain.RunState
		runID                     uuid.NullUUID
		status                    string
		started, finished, cursor sql.NullTime
		summary                   []byte
	)
	if err := row.Scan(&runID, &status, &started, &finished, &st.Watermark, &cursor, &summary); err != nil {
		return domain.RunState{}, err
	}
	if runID.Valid {
		st.RunID = domain.RunID(runID.UUID)
	}
	st.Status = domain.RunStatus(status)
	st.StartedAt = timePtr(started)
	st.FinishedAt = timePtr(finished)
	st.ModerationCursor = timePtr(cursor)
	st.Summary = summary
	st.Watermark = st.Watermark.UTC()
	return st, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func (s *PostgresStore) Get(ctx context.Context) (domain.RunState, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+runStateColumns+` FROM run_state WHERE singleton`)
	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdleRunState(), nil
		}
		return domain.RunState{}, fmt.Errorf("read run state: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) Claim(ctx context.Context, runID domain.RunID, now time.Time, staleAfter time.Duration) (models.ClaimResult, error) {
	// A zero staleAfter never reclaims; the cutoff then lies before any start.
	cutoff := time.Time{}
	if staleAfter > 0 {
		cutoff = now.Add(-staleAfter)
	}
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, `
		UPDATE run_state SET
			run_id = $1, status = 'Running', started_at = $2, finished_at = NULL
		WHERE singleton AND (status <> 'Running' OR started_at IS NULL OR started_at < $3)
		RETURNING `+runStateColumns, uuid.UUID(runID), now, cutoff)
	st, err := scanState(row)
	if err == nil {
		return models.ClaimResult{Claimed: true, ActiveRunID: runID, State: st}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.ClaimResult{}, fmt.Errorf("claim run: %w", err)
	}
	current, err := s.Get(ctx)
	if err != nil {
		return models.ClaimResult{}, err
	}
	return models.ClaimResult{ActiveRunID: current.RunID, State: current}, nil
}

func (s *PostgresStore) Complete(ctx context.Context, c models.Completion) (domain.RunState, error) {
	var cursor sql.NullTime
	if c.ModerationCursor != nil {
		cursor = sql.NullTime{Time: *c.ModerationCursor, Valid: true}
	}
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, `
		UPDATE run_state SET
			status = $2, finished_at = $3, watermark = $4,
			moderation_cursor = COALESCE($5, moderation_cursor), summary = $6
		WHERE singleton AND run_id = $1 AND status = 'Running'
		RETURNING `+runStateColumns,
		uuid.UUID(c.RunID), string(c.Status), c.FinishedAt, c.Watermark, cursor, nullJSON(c.Summary))
	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RunState{}, fmt.Errorf("complete run %s: %w", c.RunID, sentinel.ErrConflict)
		}
		return domain.RunState{}, fmt.Errorf("complete run: %w", err)
	}
	return st, nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
