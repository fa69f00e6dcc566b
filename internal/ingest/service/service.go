package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"politikcred/internal/domain"
	"politikcred/internal/ingest/seen"
	"politikcred/internal/ingest/sources"
	dErrors "politikcred/pkg/domain-errors"
)

const defaultFetchConcurrency = 4

// ErrIngestUnavailable means every configured source failed.
var ErrIngestUnavailable = errors.New("ingest_unavailable")

// ActionStore is the persisted action table.
type ActionStore interface {
	SaveIfAbsent(ctx context.Context, a *domain.Action) (bool, error)
	ListUnprocessed(ctx context.Context) ([]*domain.Action, error)
}

// SourceFailure records one source that did not complete.
type SourceFailure struct {
	SourceID  string `json:"source_id"`
	Category  string `json:"category"`
	Transient bool   `json:"transient"`
	Message   string `json:"message"`
}

// Result is the outcome of one ingest pass.
type Result struct {
	// Actions were persisted by this pass.
	Actions []*domain.Action
	// Pending were persisted earlier but never fully processed.
	Pending []*domain.Action
	// NextWatermark is the latest durably persisted timestamp, held back
	// before any failed persist and held at since after a transient source
	// failure.
	NextWatermark  time.Time
	SourceFailures []SourceFailure
	Rejected       int
	Duplicates     int
}

// Service pulls actions from the configured sources.
type Service struct {
	sources     []sources.Source
	store       ActionStore
	seen        seen.Cache
	logger      *slog.Logger
	tracer      trace.Tracer
	concurrency int
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithSeenCache sets the cross-run pre-check cache.
func WithSeenCache(c seen.Cache) Option {
	return func(s *Service) { s.seen = c }
}

func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store ActionStore, srcs []sources.Source, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("action store is required")
	}
	s := &Service{
		sources:     srcs,
		store:       store,
		logger:      slog.Default(),
		tracer:      otel.Tracer("politikcred/ingest"),
		concurrency: defaultFetchConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// sourceOutcome is what one source contributed.
type sourceOutcome struct {
	created      []*domain.Action
	maxPersisted time.Time
	firstFailed  time.Time
	rejected     int
	duplicates   int
	err          error
}

// Ingest fetches every source concurrently. A failing source is recorded
// and the others continue; only when all fail is ErrIngestUnavailable
// returned, together with whatever was persisted before the failures.
func (s *Service) Ingest(ctx context.Context, since time.Time) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "ingest", trace.WithAttributes(
		attribute.String("since", since.UTC().Format(time.RFC3339)),
		attribute.Int("sources", len(s.sources)),
	))
	defer span.End()

	runSeen := &runSeenSet{ids: make(map[domain.ActionID]struct{})}
	outcomes := make([]sourceOutcome, len(s.sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, src := range s.sources {
		g.Go(func() error {
			outcomes[i] = s.ingestSource(gctx, src, since, runSeen)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{NextWatermark: since}
	var (
		maxPersisted    time.Time
		earliestFailure time.Time
		holdAtSince     bool
	)
	for i, o := range outcomes {
		res.Actions = append(res.Actions, o.created...)
		res.Rejected += o.rejected
		res.Duplicates += o.duplicates
		if o.maxPersisted.After(maxPersisted) {
			maxPersisted = o.maxPersisted
		}
		if !o.firstFailed.IsZero() && (earliestFailure.IsZero() || o.firstFailed.Before(earliestFailure)) {
			earliestFailure = o.firstFailed
		}
		if o.err != nil {
			failure := SourceFailure{
				SourceID:  s.sources[i].ID(),
				Category:  string(sources.GetCategory(o.err)),
				Transient: sources.IsRetryable(o.err),
				Message:   o.err.Error(),
			}
			res.SourceFailures = append(res.SourceFailures, failure)
			if failure.Transient {
				holdAtSince = true
			}
			s.logger.WarnContext(ctx, "source failed",
				"source", failure.SourceID,
				"category", failure.Category,
				"transient", failure.Transient,
				"error", o.err,
			)
		}
	}
	sortActions(res.Actions)

	if maxPersisted.After(since) {
		res.NextWatermark = maxPersisted
	}
	if !earliestFailure.IsZero() {
		capAt := earliestFailure.Add(-time.Nanosecond)
		if capAt.Before(res.NextWatermark) {
			res.NextWatermark = capAt
		}
	}
	if holdAtSince || res.NextWatermark.Before(since) {
		res.NextWatermark = since
	}

	if len(s.sources) > 0 && len(res.SourceFailures) == len(s.sources) {
		err := dErrors.Wrap(ErrIngestUnavailable, dErrors.CodeUnavailable, "all sources failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "all sources failed")
		return res, err
	}

	pending, err := s.pending(ctx, res.Actions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list pending actions")
		return res, err
	}
	res.Pending = pending

	span.SetAttributes(
		attribute.Int("actions.new", len(res.Actions)),
		attribute.Int("actions.pending", len(res.Pending)),
		attribute.Int("sources.failed", len(res.SourceFailures)),
	)
	s.logger.InfoContext(ctx, "ingest completed",
		"new_actions", len(res.Actions),
		"pending_actions", len(res.Pending),
		"duplicates", res.Duplicates,
		"rejected", res.Rejected,
		"source_failures", len(res.SourceFailures),
		"next_watermark", res.NextWatermark,
	)
	return res, nil
}

func (s *Service) ingestSource(ctx context.Context, src sources.Source, since time.Time, runSeen *runSeenSet) sourceOutcome {
	var out sourceOutcome
	sourceID := src.ID()
	var marked []domain.ActionID

	for raw, err := range src.FetchSince(ctx, since) {
		if err != nil {
			out.err = err
			break
		}
		action, err := toAction(sourceID, raw, s.now())
		if err != nil {
			out.rejected++
			s.logger.WarnContext(ctx, "rejected malformed action",
				"source", sourceID,
				"external_id", raw.ExternalID,
				"error", err,
			)
			continue
		}
		if !runSeen.add(action.ID) {
			out.duplicates++
			continue
		}
		if s.seenBefore(ctx, action.ID) {
			out.duplicates++
			out.observePersisted(action.OccurredAt)
			continue
		}
		created, err := s.store.SaveIfAbsent(ctx, action)
		if err != nil {
			if out.firstFailed.IsZero() || action.OccurredAt.Before(out.firstFailed) {
				out.firstFailed = action.OccurredAt
			}
			s.logger.ErrorContext(ctx, "failed to persist action",
				"source", sourceID,
				"action_id", string(action.ID),
				"error", err,
			)
			if ctx.Err() != nil {
				out.err = ctx.Err()
				break
			}
			continue
		}
		out.observePersisted(action.OccurredAt)
		marked = append(marked, action.ID)
		if created {
			out.created = append(out.created, action)
		} else {
			out.duplicates++
		}
	}

	if s.seen != nil && len(marked) > 0 {
		if err := s.seen.Mark(ctx, marked...); err != nil {
			s.logger.WarnContext(ctx, "failed to update seen cache",
				"source", sourceID,
				"error", err,
			)
		}
	}
	return out
}

func (o *sourceOutcome) observePersisted(at time.Time) {
	if at.After(o.maxPersisted) {
		o.maxPersisted = at
	}
}

// seenBefore consults the cross-run cache. Cache errors fall through to the
// action table.
func (s *Service) seenBefore(ctx context.Context, id domain.ActionID) bool {
	if s.seen == nil {
		return false
	}
	ok, err := s.seen.Seen(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "seen cache lookup failed", "action_id", string(id), "error", err)
		return false
	}
	return ok
}

func (s *Service) pending(ctx context.Context, created []*domain.Action) ([]*domain.Action, error) {
	unprocessed, err := s.store.ListUnprocessed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed actions: %w", err)
	}
	fresh := make(map[domain.ActionID]struct{}, len(created))
	for _, a := range created {
		fresh[a.ID] = struct{}{}
	}
	var out []*domain.Action
	for _, a := range unprocessed {
		if _, ok := fresh[a.ID]; !ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func toAction(sourceID string, raw sources.RawAction, now time.Time) (*domain.Action, error) {
	var politician *domain.PoliticianID
	if raw.PoliticianID != "" {
		id, err := domain.ParsePoliticianID(raw.PoliticianID)
		if err != nil {
			return nil, err
		}
		politician = &id
	}
	return domain.NewAction(sourceID, raw.ExternalID, domain.ActionKind(raw.Kind), politician,
		domain.VotePosition(raw.Position), raw.Title, raw.Content, raw.OccurredAt, now)
}

type runSeenSet struct {
	mu  sync.Mutex
	ids map[domain.ActionID]struct{}
}

// add reports whether id was not yet seen in this run.
func (r *runSeenSet) add(id domain.ActionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

func sortActions(actions []*domain.Action) {
	sort.Slice(actions, func(i, j int) bool {
		if !actions[i].OccurredAt.Equal(actions[j].OccurredAt) {
			return actions[i].OccurredAt.Before(actions[j].OccurredAt)
		}
		return actions[i].ID < actions[j].ID
	})
}
