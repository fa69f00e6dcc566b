// Package service exposes moderation of verifications: disputing a verdict
// and resolving the dispute.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"politikcred/internal/domain"
	"politikcred/internal/verification/metrics"
	dErrors "politikcred/pkg/domain-errors"
	"politikcred/pkg/platform/sentinel"
	"politikcred/pkg/requestcontext"
)

const maxReasonLength = 1000

// Store is the verification persistence the moderation flow needs.
type Store interface {
	ListByPromise(ctx context.Context, id domain.PromiseID) ([]*domain.Verification, error)
	Dispute(ctx context.Context, id domain.VerificationID, reason string, at time.Time) (*domain.Verification, error)
	Resolve(ctx context.Context, id domain.VerificationID, outcome domain.MatchType, at time.Time) (*domain.Verification, error)
}

// PromiseStatusWriter stores the derived status of a promise.
type PromiseStatusWriter interface {
	UpdatePromiseStatus(ctx context.Context, id domain.PromiseID, status domain.PromiseStatus) error
}

// Moderation applies moderator decisions and refreshes the affected
// promise's status. Scores are recomputed by the next pipeline run.
type Moderation struct {
	store    Store
	promises PromiseStatusWriter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Moderation)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Moderation) {
		m.logger = logger
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Moderation) {
		m.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Moderation) {
		m.now = now
	}
}

func New(store Store, promises PromiseStatusWriter, opts ...Option) (*Moderation, error) {
	if store == nil {
		return nil, errors.New("verification store is required")
	}
	if promises == nil {
		return nil, errors.New("promise status writer is required")
	}
	m := &Moderation{
		store:    store,
		promises: promises,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dispute flags a verification so status and scoring ignore it until it is
// resolved.
func (m *Moderation) Dispute(ctx context.Context, id domain.VerificationID, reason string) (*domain.Verification, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(reason) > maxReasonLength {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("reason exceeds %d characters", maxReasonLength))
	}

	v, err := m.store.Dispute(ctx, id, reason, m.now())
	if err != nil {
		return nil, m.translate(err, "dispute")
	}
	m.metrics.IncrementModeration("dispute", "flagged")
	m.logger.InfoContext(ctx, "verification disputed",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", v.ID.String(),
		"promise_id", v.PromiseID.String(),
		"politician_id", v.PoliticianID.String(),
		"reason", reason,
	)
	m.refreshStatus(ctx, v.PromiseID)
	return v, nil
}

// Resolve closes a dispute. Fulfilled, Broken or Partial replace the
// original verdict; Unrelated dismisses the link altogether.
func (m *Moderation) Resolve(ctx context.Context, id domain.VerificationID, outcome domain.MatchType) (*domain.Verification, error) {
	if !outcome.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "outcome must be one of Fulfilled, Broken, Partial, Unrelated")
	}

	v, err := m.store.Resolve(ctx, id, outcome, m.now())
	if err != nil {
		return nil, m.translate(err, "resolve")
	}
	m.metrics.IncrementModeration("resolve", string(outcome))
	m.logger.InfoContext(ctx, "verification dispute resolved",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", v.ID.String(),
		"promise_id", v.PromiseID.String(),
		"politician_id", v.PoliticianID.String(),
		"outcome", string(outcome),
	)
	m.refreshStatus(ctx, v.PromiseID)
	return v, nil
}

func (m *Moderation) translate(err error, op string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "verification not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeConflict, "verification is not disputed")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+op+" verification")
	}
}

// refreshStatus re-derives the promise status. A failure here is logged
// only: the moderation itself is stored and the next run re-derives it.
func (m *Moderation) refreshStatus(ctx context.Context, id domain.PromiseID) {
	vs, err := m.store.ListByPromise(ctx, id)
	if err == nil {
		list := make([]domain.Verification, 0, len(vs))
		for _, v := range vs {
			list = append(list, *v)
		}
		err = m.promises.UpdatePromiseStatus(ctx, id, domain.DeriveStatus(list))
	}
	if err != nil {
		m.logger.WarnContext(ctx, "failed to refresh promise status after moderation",
			"promise_id", id.String(),
			"error", err,
		)
	}
}
