package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"politikcred/internal/domain"
	"politikcred/pkg/platform/sentinel"
	"politikcred/pkg/platform/tx"
)

const verificationColumns = `id, promise_id, action_id, politician_id, match_type, confidence, method,
	verified_at, is_disputed, dispute_reason, disputed_at, resolution, resolved_at, moderated_at,
	version, created_at, updated_at`

// PostgresStore persists verifications in PostgreSQL. Verdict updates are
// conditional on the version read beforehand.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerification(row scanner) (*domain.Verification, error) {
	var (
		v                         domain.Verification
		id, promiseID, politician uuid.UUID
		actionID                  string
		match, method             string
		resolution                sql.NullString
		disputedAt, resolvedAt    sql.NullTime
		moderatedAt               sql.NullTime
	)
	if err := row.Scan(&id, &promiseID, &actionID, &politician, &match, &v.Confidence, &method,
		&v.VerifiedAt, &v.IsDisputed, &v.DisputeReason, &disputedAt, &resolution, &resolvedAt,
		&moderatedAt, &v.Version, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.ID = domain.VerificationID(id)
	v.PromiseID = domain.PromiseID(promiseID)
	v.ActionID = domain.ActionID(actionID)
	v.PoliticianID = domain.PoliticianID(politician)
	v.MatchType = domain.MatchType(match)
	v.Method = domain.Method(method)
	if resolution.Valid {
		r := domain.MatchType(resolution.String)
		v.Resolution = &r
	}
	v.DisputedAt = timePtr(disputedAt)
	v.ResolvedAt = timePtr(resolvedAt)
	v.ModeratedAt = timePtr(moderatedAt)
	return &v, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (s *PostgresStore) getByPair(ctx context.Context, key domain.PairKey) (*domain.Verification, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE promise_id = $1 AND action_id = $2`,
		uuid.UUID(key.PromiseID), string(key.ActionID))
	v, err := scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// Upsert reads the current row, then writes with a version guard:
// the INSERT ... ON CONFLICT DO UPDATE only applies while the stored version
// is the one read. A concurrent writer makes the statement return no row,
// which surfaces as sentinel.ErrConflict.
func (s *PostgresStore) Upsert(ctx context.Context, d domain.VerdictDraft) (UpsertOutcome, error) {
	if err := validateDraft(d); err != nil {
		return UpsertOutcome{}, err
	}
	current, err := s.getByPair(ctx, d.Key())
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("read verification: %w", err)
	}
	if current != nil && current.SameVerdict(d) {
		return UpsertOutcome{Verification: current}, nil
	}

	var expected int64
	if current != nil {
		expected = current.Version
	}
	now := s.now()
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO verifications (id, promise_id, action_id, politician_id, match_type, confidence,
			method, verified_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
		ON CONFLICT (promise_id, action_id) DO UPDATE SET
			match_type  = EXCLUDED.match_type,
			confidence  = EXCLUDED.confidence,
			method      = EXCLUDED.method,
			verified_at = EXCLUDED.verified_at,
			version     = verifications.version + 1,
			updated_at  = EXCLUDED.updated_at
		WHERE verifications.version = $10
		RETURNING `+verificationColumns,
		uuid.New(), uuid.UUID(d.PromiseID), string(d.ActionID), uuid.UUID(d.PoliticianID),
		string(d.MatchType), d.Confidence, string(d.Method), d.VerifiedAt, now, expected,
	)
	v, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UpsertOutcome{}, fmt.Errorf("upsert verification %s/%s: %w", d.PromiseID, d.ActionID, sentinel.ErrConflict)
		}
		return UpsertOutcome{}, fmt.Errorf("upsert verification: %w", err)
	}
	return UpsertOutcome{Verification: v, Created: current == nil, Changed: true}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.VerificationID) (*domain.Verification, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE id = $1`, uuid.UUID(id))
	v, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get verification: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListByPromise(ctx context.Context, id domain.PromiseID) ([]*domain.Verification, error) {
	return s.list(ctx, `WHERE promise_id = $1`, uuid.UUID(id))
}

func (s *PostgresStore) ListByPolitician(ctx context.Context, id domain.PoliticianID) ([]*domain.Verification, error) {
	return s.list(ctx, `WHERE politician_id = $1`, uuid.UUID(id))
}

func (s *PostgresStore) list(ctx context.Context, where string, args ...any) ([]*domain.Verification, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications `+where+` ORDER BY promise_id, action_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()
	var out []*domain.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Dispute(ctx context.Context, id domain.VerificationID, reason string, at time.Time) (*domain.Verification, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, `
		UPDATE verifications SET
			is_disputed = true, dispute_reason = $2, disputed_at = $3,
			resolution = NULL, resolved_at = NULL, moderated_at = $3,
			updated_at = $3, version = version + 1
		WHERE id = $1
		RETURNING `+verificationColumns, uuid.UUID(id), reason, at)
	v, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("dispute verification: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, id domain.VerificationID, outcome domain.MatchType, at time.Time) (*domain.Verification, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, `
		UPDATE verifications SET
			is_disputed = false, resolution = $2, resolved_at = $3, moderated_at = $3,
			updated_at = $3, version = version + 1
		WHERE id = $1 AND is_disputed
		RETURNING `+verificationColumns, uuid.UUID(id), string(outcome), at)
	v, err := scanVerification(row)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resolve verification: %w", err)
	}
	if _, getErr := s.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, sentinel.ErrInvalidState
}

func (s *PostgresStore) PoliticiansModeratedSince(ctx context.Context, t time.Time) ([]domain.PoliticianID, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT DISTINCT politician_id FROM verifications
		WHERE moderated_at IS NOT NULL AND moderated_at >= $1
		ORDER BY politician_id`, t)
	if err != nil {
		return nil, fmt.Errorf("list moderated politicians: %w", err)
	}
	defer rows.Close()
	var out []domain.PoliticianID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan politician id: %w", err)
		}
		out = append(out, domain.PoliticianID(id))
	}
	return out, rows.Err()
}
