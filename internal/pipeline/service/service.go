// Package service runs the end-to-end pipeline: ingest, match, persist,
// derive status, rescore and publish.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"politikcred/internal/domain"
	ingest "politikcred/internal/ingest/service"
	"politikcred/internal/matching"
	"politikcred/internal/pipeline/events"
	"politikcred/internal/pipeline/metrics"
	"politikcred/internal/pipeline/models"
	"politikcred/internal/scoring"
	verificationstore "politikcred/internal/verification/store"
	dErrors "politikcred/pkg/domain-errors"
	"politikcred/pkg/platform/sentinel"
	"politikcred/pkg/requestcontext"
)

const (
	defaultWorkers    = 4
	defaultStaleAfter = 6 * time.Hour
)

type RunStore interface {
	Get(ctx context.Context) (domain.RunState, error)
	Claim(ctx context.Context, runID domain.RunID, now time.Time, staleAfter time.Duration) (models.ClaimResult, error)
	Complete(ctx context.Context, c models.Completion) (domain.RunState, error)
}

type Ingestor interface {
	Ingest(ctx context.Context, since time.Time) (*ingest.Result, error)
}

type ActionStore interface {
	MarkProcessed(ctx context.Context, ids []domain.ActionID, at time.Time) error
}

type PoliticianStore interface {
	List(ctx context.Context) ([]*domain.Politician, error)
	ListPromises(ctx context.Context, politicianID domain.PoliticianID) ([]*domain.Promise, error)
	UpdatePromiseStatus(ctx context.Context, id domain.PromiseID, status domain.PromiseStatus) error
}

type Matcher interface {
	Match(ctx context.Context, promise *domain.Promise, politician *domain.Politician, actions []domain.Action) ([]domain.VerdictDraft, []matching.MatchFailure)
}

type VerificationStore interface {
	Upsert(ctx context.Context, d domain.VerdictDraft) (verificationstore.UpsertOutcome, error)
	ListByPromise(ctx context.Context, id domain.PromiseID) ([]*domain.Verification, error)
	PoliticiansModeratedSince(ctx context.Context, t time.Time) ([]domain.PoliticianID, error)
}

type ScoreEngine interface {
	Recompute(ctx context.Context, politicianID domain.PoliticianID) (scoring.Result, error)
}

type EventPublisher interface {
	Emit(ctx context.Context, e events.Event) error
}

// Dependencies are the collaborators a run needs. All are required except
// Events.
type Dependencies struct {
	Runs          RunStore
	Ingestor      Ingestor
	Actions       ActionStore
	Politicians   PoliticianStore
	Matcher       Matcher
	Verifications VerificationStore
	Scores        ScoreEngine
	Events        EventPublisher
}

// Service orchestrates pipeline runs. At most one run is active across
// processes; the claim lives in the RunStore.
type Service struct {
	deps       Dependencies
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	workers    int
	staleAfter time.Duration
	runTimeout time.Duration
	now        func() time.Time

	mu      sync.Mutex
	cancels map[domain.RunID]func()
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithStaleAfter sets how long a Running claim blocks new runs.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) { s.staleAfter = d }
}

// WithRunTimeout bounds a run. Expiry stops new batches like a cancel.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) { s.runTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(deps Dependencies, opts ...Option) (*Service, error) {
	if deps.Runs == nil || deps.Ingestor == nil || deps.Actions == nil || deps.Politicians == nil ||
		deps.Matcher == nil || deps.Verifications == nil || deps.Scores == nil {
		return nil, errors.New("runs, ingestor, actions, politicians, matcher, verifications and scores are required")
	}
	s := &Service{
		deps:       deps,
		logger:     slog.Default(),
		tracer:     otel.Tracer("politikcred/pipeline"),
		workers:    defaultWorkers,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
		cancels:    make(map[domain.RunID]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Current returns the stored run state.
func (s *Service) Current(ctx context.Context) (domain.RunState, error) {
	st, err := s.deps.Runs.Get(ctx)
	if err != nil {
		return domain.RunState{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "run state unavailable")
	}
	return st, nil
}

// Cancel asks a run in this process to stop before its next batch.
func (s *Service) Cancel(runID domain.RunID) error {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "no active run with this id in this process")
	}
	cancel()
	return nil
}

func (s *Service) register(runID domain.RunID, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[runID] = cancel
}

func (s *Service) unregister(runID domain.RunID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, runID)
}

// Run executes one pipeline pass. The returned error is set only when the
// run could not start; every later failure is reported in the summary.
func (s *Service) Run(ctx context.Context, trigger models.Trigger) (*models.Summary, error) {
	runID := domain.NewRunID()
	started := s.now()

	claim, err := s.deps.Runs.Claim(ctx, runID, started, s.staleAfter)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to claim run", "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "run state unavailable")
	}
	if !claim.Claimed {
		s.logger.InfoContext(ctx, "run already active",
			"active_run_id", claim.ActiveRunID.String(),
			"origin", trigger.Origin,
		)
		return &models.Summary{
			RunID:          claim.ActiveRunID,
			Status:         domain.RunRunning,
			StartedAt:      derefTime(claim.State.StartedAt),
			AlreadyRunning: true,
			Watermark:      claim.State.Watermark,
		}, nil
	}

	// Stop signals are only observed between batches. Work that has started
	// runs on a context that outlives them so it can commit.
	stop, stopRun := context.WithCancel(ctx)
	if s.runTimeout > 0 {
		var cancelTimeout context.CancelFunc
		stop, cancelTimeout = context.WithTimeout(stop, s.runTimeout)
		defer cancelTimeout()
	}
	defer stopRun()
	s.register(runID, stopRun)
	defer s.unregister(runID)

	work := context.WithoutCancel(ctx)
	work, span := s.tracer.Start(work, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", runID.String()),
		attribute.String("origin", trigger.Origin),
	))
	defer span.End()

	logger := s.logger.With("run_id", runID.String())
	logger.InfoContext(work, "run started",
		"origin", trigger.Origin,
		"subject", trigger.Subject,
		"request_id", requestcontext.RequestID(ctx),
		"watermark", claim.State.Watermark,
	)

	r := &run{
		svc:     s,
		id:      runID,
		logger:  logger,
		started: started,
		prior:   claim.State,
		summary: &models.Summary{RunID: runID, StartedAt: started, Watermark: claim.State.Watermark},
	}
	r.execute(stop, work)

	summary := r.summary
	summary.FinishedAt = s.now()
	if summary.Status == domain.RunFailed {
		span.SetStatus(codes.Error, "run failed")
	}
	span.SetAttributes(
		attribute.String("status", string(summary.Status)),
		attribute.Int("verifications.new", summary.NewVerifications),
		attribute.Int("verifications.updated", summary.UpdatedVerifications),
	)
	s.finish(work, r)
	return summary, nil
}

func (s *Service) finish(ctx context.Context, r *run) {
	summary := r.summary
	encoded, err := json.Marshal(summary)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to encode run summary", "error", err)
	}
	var cursor *time.Time
	if r.cursorAdvances() {
		c := r.started
		cursor = &c
	}
	if _, err := s.deps.Runs.Complete(ctx, models.Completion{
		RunID:            r.id,
		Status:           summary.Status,
		FinishedAt:       summary.FinishedAt,
		Watermark:        summary.Watermark,
		ModerationCursor: cursor,
		Summary:          encoded,
	}); err != nil {
		// The claim was lost, usually to a stale reclaim. Nothing committed
		// by this run is undone; unprocessed work is retried next time.
		summary.Warnings = append(summary.Warnings, "run state not updated: "+err.Error())
		r.logger.ErrorContext(ctx, "failed to complete run", "error", err)
	} else {
		s.metrics.SetWatermark(summary.Watermark)
	}

	if s.deps.Events != nil {
		if err := s.deps.Events.Emit(ctx, events.RunCompleted(r.id, summary.Status, summary.Watermark, summary.FinishedAt)); err != nil {
			summary.Warnings = append(summary.Warnings, "run_completed event not published")
			r.logger.WarnContext(ctx, "failed to publish run event", "error", err)
		}
	}

	s.metrics.ObserveRun(string(summary.Status), summary.FinishedAt.Sub(summary.StartedAt))
	r.logger.InfoContext(ctx, "run finished",
		"status", string(summary.Status),
		"ingested_actions", summary.IngestedActions,
		"pending_actions", summary.PendingActions,
		"new_verifications", summary.NewVerifications,
		"updated_verifications", summary.UpdatedVerifications,
		"rescored_politicians", summary.RescoredPoliticians,
		"match_errors", len(summary.MatchErrors),
		"batch_failures", len(summary.BatchFailures),
		"scoring_failures", len(summary.ScoringFailures),
		"cancelled", summary.Cancelled,
		"watermark", summary.Watermark,
	)
}

// upsert writes one draft, retrying once when a concurrent writer won.
func (s *Service) upsert(ctx context.Context, d domain.VerdictDraft) (verificationstore.UpsertOutcome, error) {
	out, err := s.deps.Verifications.Upsert(ctx, d)
	if errors.Is(err, sentinel.ErrConflict) {
		out, err = s.deps.Verifications.Upsert(ctx, d)
	}
	return out, err
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (s *Service) recordFailure(f models.Failure) {
	s.metrics.IncrementFailure(string(f.Kind))
}
