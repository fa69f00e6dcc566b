package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"politikcred/internal/domain"
	ingest "politikcred/internal/ingest/service"
	"politikcred/internal/pipeline/events"
	"politikcred/internal/pipeline/models"
	"politikcred/internal/scoring"
	"politikcred/pkg/platform/sentinel"
)

// run is the state of one claimed pipeline pass.
type run struct {
	svc     *Service
	id      domain.RunID
	logger  *slog.Logger
	started time.Time
	prior   domain.RunState

	mu      sync.Mutex
	summary *models.Summary

	moderationComplete bool
}

// batch is the unit of work for one politician.
type batch struct {
	politician *domain.Politician
	actions    []domain.Action
	// rescore forces a recompute even when no verification changes, for
	// moderated politicians and for retried actions.
	rescore   bool
	moderated bool
	earliest  time.Time
}

type batchResult struct {
	started   bool
	committed bool
}

func (r *run) execute(stop, ctx context.Context) {
	s := r.svc
	res, err := s.deps.Ingestor.Ingest(stop, r.prior.Watermark)
	if res != nil {
		r.summary.IngestedActions = len(res.Actions)
		r.summary.PendingActions = len(res.Pending)
		s.metrics.AddIngested(len(res.Actions))
		for _, f := range res.SourceFailures {
			r.addSourceFailure(f)
		}
	}
	if err != nil {
		r.fail(ctx, models.Failure{Kind: models.FailureIngestUnavailable, Message: err.Error()})
		return
	}
	for _, f := range res.SourceFailures {
		r.summary.Warnings = append(r.summary.Warnings, "source "+f.SourceID+" failed: "+f.Message)
	}

	// Without politicians no batch can be planned. Ingested actions stay
	// unprocessed and are fed back as pending next run, so the watermark
	// still advances.
	politicians, err := s.deps.Politicians.List(ctx)
	if err != nil {
		r.addBatchFailure(models.Failure{Kind: models.FailureBatch, Message: "list politicians: " + err.Error()})
		r.logger.ErrorContext(ctx, "failed to list politicians", "error", err)
		r.summary.Watermark = nextWatermark(r.prior.Watermark, res.NextWatermark, nil)
		r.summary.Status = r.outcome()
		return
	}

	var cursor time.Time
	if r.prior.ModerationCursor != nil {
		cursor = *r.prior.ModerationCursor
	}
	moderated, err := s.deps.Verifications.PoliticiansModeratedSince(ctx, cursor)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to list moderated politicians", "error", err)
		r.summary.Warnings = append(r.summary.Warnings, "moderated politicians not listed")
	}

	batches, orphans := plan(politicians, res.Actions, res.Pending, moderated)
	r.moderationComplete = err == nil
	r.logger.InfoContext(ctx, "batches planned",
		"batches", len(batches),
		"moderated_politicians", len(moderated),
		"unmatched_actions", len(orphans),
	)

	results := make([]batchResult, len(batches))
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i, b := range batches {
		g.Go(func() error {
			if stop.Err() != nil {
				return nil
			}
			results[i].started = true
			results[i].committed = r.processBatch(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	var unstarted []*batch
	for i, b := range batches {
		if !results[i].started {
			unstarted = append(unstarted, b)
		}
		if b.moderated && !results[i].committed {
			r.moderationComplete = false
		}
	}
	if len(unstarted) > 0 {
		r.summary.Cancelled = true
		r.logger.WarnContext(ctx, "run stopped before all batches started",
			"unstarted_batches", len(unstarted),
			"reason", context.Cause(stop),
		)
	}

	r.markProcessed(ctx, batches, results, orphans)
	r.summary.Watermark = nextWatermark(r.prior.Watermark, res.NextWatermark, unstarted)
	r.summary.Status = r.outcome()
}

// plan groups actions into one batch per relevant politician. Actions that
// concern no known politician are returned separately.
func plan(politicians []*domain.Politician, fresh, pending []*domain.Action, moderated []domain.PoliticianID) ([]*batch, []domain.ActionID) {
	byID := make(map[domain.PoliticianID]*batch, len(politicians))
	ordered := make([]*batch, 0)
	get := func(p *domain.Politician) *batch {
		b, ok := byID[p.ID]
		if !ok {
			b = &batch{politician: p}
			byID[p.ID] = b
			ordered = append(ordered, b)
		}
		return b
	}

	var orphans []domain.ActionID
	add := func(a *domain.Action, retried bool) {
		matched := false
		for _, p := range politicians {
			if !a.RelevantTo(p) {
				continue
			}
			matched = true
			b := get(p)
			b.actions = append(b.actions, *a)
			b.rescore = b.rescore || retried
			if !retried && (b.earliest.IsZero() || a.OccurredAt.Before(b.earliest)) {
				b.earliest = a.OccurredAt
			}
		}
		if !matched {
			orphans = append(orphans, a.ID)
		}
	}
	for _, a := range fresh {
		add(a, false)
	}
	for _, a := range pending {
		add(a, true)
	}

	known := make(map[domain.PoliticianID]*domain.Politician, len(politicians))
	for _, p := range politicians {
		known[p.ID] = p
	}
	for _, id := range moderated {
		if p, ok := known[id]; ok {
			b := get(p)
			b.rescore = true
			b.moderated = true
		}
	}

	// Batches holding the oldest new actions go first so a stopped run
	// leaves the latest work for the next one.
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.earliest.IsZero() != b.earliest.IsZero() {
			return !a.earliest.IsZero()
		}
		if !a.earliest.Equal(b.earliest) {
			return a.earliest.Before(b.earliest)
		}
		return a.politician.ID.String() < b.politician.ID.String()
	})
	return ordered, orphans
}

// processBatch matches, persists and rescores one politician. It reports
// whether everything it wrote committed.
func (r *run) processBatch(ctx context.Context, b *batch) bool {
	s := r.svc
	politicianID := b.politician.ID
	ctx, span := s.tracer.Start(ctx, "pipeline.batch", trace.WithAttributes(
		attribute.String("politician_id", politicianID.String()),
		attribute.Int("actions", len(b.actions)),
	))
	defer span.End()
	begin := s.now()
	defer func() { s.metrics.ObserveBatch(s.now().Sub(begin)) }()

	fail := func(kind models.FailureKind, promiseID *domain.PromiseID, actionID domain.ActionID, err error) bool {
		f := models.Failure{Kind: kind, PoliticianID: politicianID.String(), ActionID: string(actionID), Message: err.Error()}
		if promiseID != nil {
			f.PromiseID = promiseID.String()
		}
		r.addBatchFailure(f)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		r.logger.ErrorContext(ctx, "batch failed",
			"politician_id", politicianID.String(),
			"kind", string(kind),
			"error", err,
		)
		return false
	}

	promises, err := s.deps.Politicians.ListPromises(ctx, politicianID)
	if err != nil {
		return fail(models.FailureBatch, nil, "", err)
	}

	var created, updated int
	changed := b.rescore
	if len(b.actions) > 0 {
		for _, p := range promises {
			if !p.IsMatchable() {
				continue
			}
			drafts, failures := s.deps.Matcher.Match(ctx, p, b.politician, b.actions)
			for _, mf := range failures {
				r.addMatchError(models.Failure{
					Kind:         models.FailureMatch,
					PoliticianID: politicianID.String(),
					PromiseID:    mf.PromiseID.String(),
					ActionID:     string(mf.ActionID),
					Message:      mf.Err.Error(),
				})
			}

			promiseChanged := false
			for _, d := range drafts {
				out, err := s.upsert(ctx, d)
				if err != nil {
					kind := models.FailureBatch
					if errors.Is(err, sentinel.ErrConflict) {
						kind = models.FailurePersistConflict
					}
					r.addCounts(created, updated)
					return fail(kind, &p.ID, d.ActionID, err)
				}
				if !out.Changed {
					continue
				}
				promiseChanged = true
				if out.Created {
					created++
				} else {
					updated++
				}
			}
			if !promiseChanged && !b.rescore {
				continue
			}
			changed = changed || promiseChanged
			if err := r.refreshStatus(ctx, p); err != nil {
				r.addCounts(created, updated)
				return fail(models.FailureBatch, &p.ID, "", err)
			}
		}
	}
	r.addCounts(created, updated)
	if !changed {
		return true
	}

	res, err := s.deps.Scores.Recompute(ctx, politicianID)
	if err != nil {
		if errors.Is(err, scoring.ErrScoring) {
			// Retrying cannot fix malformed data; the batch's writes stand.
			r.addScoringFailure(models.Failure{Kind: models.FailureScoring, PoliticianID: politicianID.String(), Message: err.Error()})
			return true
		}
		return fail(models.FailureBatch, nil, "", err)
	}
	r.addRescored()

	if s.deps.Events != nil && (res.Score != b.politician.CredibilityScore || res.Label != b.politician.CredibilityLabel) {
		if err := s.deps.Events.Emit(ctx, events.ScoreChanged(r.id, politicianID, res.Score, res.Label, s.now())); err != nil {
			r.addWarning("score_changed event not published for " + politicianID.String())
			r.logger.WarnContext(ctx, "failed to publish score event",
				"politician_id", politicianID.String(),
				"error", err,
			)
		}
	}
	return true
}

func (r *run) refreshStatus(ctx context.Context, p *domain.Promise) error {
	list, err := r.svc.deps.Verifications.ListByPromise(ctx, p.ID)
	if err != nil {
		return err
	}
	vs := make([]domain.Verification, 0, len(list))
	for _, v := range list {
		vs = append(vs, *v)
	}
	status := domain.DeriveStatus(vs)
	if status == p.Status {
		return nil
	}
	return r.svc.deps.Politicians.UpdatePromiseStatus(ctx, p.ID, status)
}

// markProcessed records actions whose every referencing batch committed.
// Actions no politician claims have nothing left to do.
func (r *run) markProcessed(ctx context.Context, batches []*batch, results []batchResult, orphans []domain.ActionID) {
	done := make(map[domain.ActionID]bool)
	for i, b := range batches {
		for _, a := range b.actions {
			ok, seen := done[a.ID]
			done[a.ID] = results[i].committed && (!seen || ok)
		}
	}
	ids := append([]domain.ActionID(nil), orphans...)
	for id, ok := range done {
		if ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if err := r.svc.deps.Actions.MarkProcessed(ctx, ids, r.svc.now()); err != nil {
		r.addBatchFailure(models.Failure{Kind: models.FailureBatch, Message: "mark actions processed: " + err.Error()})
		r.logger.ErrorContext(ctx, "failed to mark actions processed", "error", err)
	}
}

// nextWatermark advances to what ingest durably persisted, but never past
// a new action whose batch never started.
func nextWatermark(prior, next time.Time, unstarted []*batch) time.Time {
	for _, b := range unstarted {
		if b.earliest.IsZero() {
			continue
		}
		if capAt := b.earliest.Add(-time.Nanosecond); capAt.Before(next) {
			next = capAt
		}
	}
	if next.Before(prior) {
		return prior
	}
	return next
}

func (r *run) outcome() domain.RunStatus {
	if len(r.summary.BatchFailures) > 0 || len(r.summary.ScoringFailures) > 0 || r.summary.Cancelled {
		return domain.RunPartiallyFailed
	}
	return domain.RunSucceeded
}

// cursorAdvances reports whether every politician moderated before the run
// started was rescored.
func (r *run) cursorAdvances() bool {
	return r.summary.Status != domain.RunFailed && r.moderationComplete
}

func (r *run) fail(ctx context.Context, f models.Failure) {
	r.svc.recordFailure(f)
	if f.Kind == models.FailureIngestUnavailable {
		r.summary.SourceFailures = append(r.summary.SourceFailures, f)
	} else {
		r.summary.BatchFailures = append(r.summary.BatchFailures, f)
	}
	r.summary.Status = domain.RunFailed
	r.summary.Watermark = r.prior.Watermark
	r.logger.ErrorContext(ctx, "run failed", "kind", string(f.Kind), "error", f.Message)
}

func (r *run) addSourceFailure(f ingest.SourceFailure) {
	failure := models.Failure{
		Kind:      models.FailureSourcePartial,
		SourceID:  f.SourceID,
		Transient: f.Transient,
		Message:   f.Message,
	}
	r.svc.recordFailure(failure)
	r.summary.SourceFailures = append(r.summary.SourceFailures, failure)
}

func (r *run) addMatchError(f models.Failure) {
	r.svc.recordFailure(f)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.MatchErrors = append(r.summary.MatchErrors, f)
}

func (r *run) addBatchFailure(f models.Failure) {
	r.svc.recordFailure(f)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.BatchFailures = append(r.summary.BatchFailures, f)
}

func (r *run) addScoringFailure(f models.Failure) {
	r.svc.recordFailure(f)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.ScoringFailures = append(r.summary.ScoringFailures, f)
}

func (r *run) addCounts(created, updated int) {
	r.svc.metrics.AddVerifications(created, updated)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.NewVerifications += created
	r.summary.UpdatedVerifications += updated
}

func (r *run) addRescored() {
	r.svc.metrics.IncrementRescored()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.RescoredPoliticians++
}

func (r *run) addWarning(w string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Warnings = append(r.summary.Warnings, w)
}
