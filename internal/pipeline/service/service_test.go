package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"politikcred/internal/domain"
	ingest "politikcred/internal/ingest/service"
	"politikcred/internal/ingest/sources"
	actionstore "politikcred/internal/ingest/store"
	"politikcred/internal/matching"
	matchingmocks "politikcred/internal/matching/mocks"
	"politikcred/internal/pipeline/events"
	"politikcred/internal/pipeline/models"
	runstore "politikcred/internal/pipeline/store"
	"politikcred/internal/platform/logger"
	politicianstore "politikcred/internal/politician/store"
	"politikcred/internal/scoring"
	verificationstore "politikcred/internal/verification/store"
	"politikcred/pkg/platform/sentinel"
)

// =============================================================================
// Pipeline Orchestrator Test Suite
// =============================================================================
// Justification: the run outcome, the watermark and the processed markers
// together decide whether work is ever lost or repeated. They depend on the
// combination of ingest, batch and moderation outcomes.

type PipelineSuite struct {
	suite.Suite
	ctx           context.Context
	now           time.Time
	politicians   *politicianstore.InMemoryStore
	actions       *actionstore.InMemoryStore
	verifications *verificationstore.InMemoryStore
	runs          *runstore.InMemoryStore
	sink          *events.MemorySink

	politician *domain.Politician
	promise    *domain.Promise
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	s.politicians = politicianstore.NewInMemoryStore()
	s.actions = actionstore.NewInMemoryStore()
	s.verifications = verificationstore.NewInMemoryStore()
	s.runs = runstore.NewInMemoryStore()
	s.sink = events.NewMemorySink()
	s.politician, s.promise = s.addPolitician("Jeanne", "Martin", "an")
}

func (s *PipelineSuite) addPolitician(first, last string, follows ...string) (*domain.Politician, *domain.Promise) {
	p := &domain.Politician{
		ID: domain.NewPoliticianID(), Name: first + " " + last, FirstName: first, LastName: last,
		Position: "Députée", Orientation: domain.OrientationCenter, SourceIDs: follows,
		CredibilityScore: domain.NeutralScore, CredibilityLabel: domain.LabelMixed,
		CreatedAt: s.now.AddDate(-1, 0, 0),
	}
	s.Require().NoError(s.politicians.Create(s.ctx, p))
	promise := &domain.Promise{
		ID: domain.NewPromiseID(), PoliticianID: p.ID,
		Content:   "Rénover toutes les écoles publiques",
		Keywords:  []string{"écoles", "rénovation"},
		Status:    domain.PromiseOpen,
		CreatedAt: s.now.AddDate(0, -1, 0),
	}
	s.Require().NoError(s.politicians.CreatePromise(s.ctx, promise))
	return p, promise
}

func (s *PipelineSuite) vote(id string, politician domain.PoliticianID, position domain.VotePosition, offset time.Duration) sources.RawAction {
	return sources.RawAction{
		ExternalID:   id,
		Kind:         string(domain.ActionVote),
		PoliticianID: politician.String(),
		Position:     string(position),
		Title:        "Rénovation des écoles",
		Content:      "Vote sur la rénovation des écoles publiques",
		OccurredAt:   s.now.Add(offset),
	}
}

type harness struct {
	politicians PoliticianStore
	matcher     Matcher
	scores  ScoreEngine
	store   VerificationStore
	workers int
}

func (s *PipelineSuite) newService(h harness, srcs ...sources.Source) *Service {
	clock := func() time.Time { return s.now }
	ingestor, err := ingest.New(s.actions, srcs, ingest.WithLogger(logger.Discard()), ingest.WithClock(clock))
	s.Require().NoError(err)

	if h.matcher == nil {
		m, err := matching.New(matching.NewKeywordScorer(), matching.DefaultConfig(), matching.WithLogger(logger.Discard()))
		s.Require().NoError(err)
		h.matcher = m
	}
	if h.store == nil {
		h.store = s.verifications
	}
	if h.politicians == nil {
		h.politicians = s.politicians
	}
	if h.scores == nil {
		cfg := scoring.DefaultConfig()
		cfg.HalfLife = 0
		engine, err := scoring.New(s.politicians, s.verifications, s.politicians, cfg,
			scoring.WithLogger(logger.Discard()), scoring.WithClock(clock))
		s.Require().NoError(err)
		h.scores = engine
	}
	if h.workers == 0 {
		h.workers = 2
	}

	svc, err := New(Dependencies{
		Runs:          s.runs,
		Ingestor:      ingestor,
		Actions:       s.actions,
		Politicians:   h.politicians,
		Matcher:       h.matcher,
		Verifications: h.store,
		Scores:        h.scores,
		Events:        events.NewPublisher(s.sink),
	},
		WithLogger(logger.Discard()),
		WithWorkers(h.workers),
		WithStaleAfter(time.Hour),
		WithClock(clock),
	)
	s.Require().NoError(err)
	return svc
}

func (s *PipelineSuite) run(svc *Service) *models.Summary {
	summary, err := svc.Run(s.ctx, models.Trigger{Origin: "test"})
	s.Require().NoError(err)
	s.Require().NotNil(summary)
	return summary
}

func (s *PipelineSuite) unprocessed() []*domain.Action {
	list, err := s.actions.ListUnprocessed(s.ctx)
	s.Require().NoError(err)
	return list
}

func (s *PipelineSuite) score(id domain.PoliticianID) *domain.Politician {
	p, err := s.politicians.Get(s.ctx, id)
	s.Require().NoError(err)
	return p
}

func (s *PipelineSuite) TestEmptyIngestSucceedsWithoutChanges() {
	svc := s.newService(harness{}, sources.NewStaticSource("an"))

	summary := s.run(svc)
	s.Equal(domain.RunSucceeded, summary.Status)
	s.Zero(summary.IngestedActions)
	s.Zero(summary.NewVerifications)
	s.Zero(summary.RescoredPoliticians)
	s.True(summary.Watermark.IsZero())

	st, err := svc.Current(s.ctx)
	s.Require().NoError(err)
	s.Equal(domain.RunSucceeded, st.Status)
	s.Equal(summary.RunID, st.RunID)
	s.Equal(domain.NeutralScore, s.score(s.politician.ID).CredibilityScore)
}

func (s *PipelineSuite) TestRunMatchesPersistsAndRescores() {
	other, _ := s.addPolitician("Paul", "Durand")
	src := sources.NewStaticSource("an",
		s.vote("1", s.politician.ID, domain.PositionFor, -48*time.Hour),
		// Source-wide record: only followers of "an" receive it.
		sources.RawAction{ExternalID: "2", Kind: string(domain.ActionRecord), Title: "Loi de finances", Content: "Budget général", OccurredAt: s.now.Add(-24 * time.Hour)},
	)
	svc := s.newService(harness{}, src)

	summary := s.run(svc)
	s.Equal(domain.RunSucceeded, summary.Status)
	s.Equal(2, summary.IngestedActions)
	s.Equal(1, summary.NewVerifications)
	s.Equal(1, summary.RescoredPoliticians)
	s.Equal(s.now.Add(-24*time.Hour), summary.Watermark)
	s.Empty(s.unprocessed())

	promise, err := s.politicians.GetPromise(s.ctx, s.promise.ID)
	s.Require().NoError(err)
	s.Equal(domain.PromiseFulfilled, promise.Status)

	scored := s.score(s.politician.ID)
	s.Greater(scored.CredibilityScore, domain.NeutralScore)
	s.NotNil(scored.ScoredAt)
	s.Nil(s.score(other.ID).ScoredAt, "a politician without relevant actions is not rescored")

	published, err := s.sink.Events()
	s.Require().NoError(err)
	s.Require().Len(published, 2)
	s.Equal(events.KindScoreChanged, published[0].Type)
	s.Equal(events.KindRunCompleted, published[1].Type)
	s.Equal(domain.RunSucceeded, published[1].Status)
}

func (s *PipelineSuite) TestRerunWithoutNewDataIsNoOp() {
	src := sources.NewStaticSource("an", s.vote("1", s.politician.ID, domain.PositionFor, -time.Hour))
	svc := s.newService(harness{}, src)

	first := s.run(svc)
	s.Equal(1, first.NewVerifications)
	scoreAfterFirst := s.score(s.politician.ID).CredibilityScore

	s.now = s.now.Add(time.Hour)
	second := s.run(svc)
	s.Equal(domain.RunSucceeded, second.Status)
	s.Zero(second.IngestedActions)
	s.Zero(second.NewVerifications)
	s.Zero(second.UpdatedVerifications)
	s.Zero(second.RescoredPoliticians)
	s.Equal(first.Watermark, second.Watermark)
	s.Equal(scoreAfterFirst, s.score(s.politician.ID).CredibilityScore)

	list, err := s.verifications.ListByPromise(s.ctx, s.promise.ID)
	s.Require().NoError(err)
	s.Len(list, 1)
	s.Equal(int64(1), list[0].Version)
}

func (s *PipelineSuite) TestPartialSourceFailureSucceedsWithWarnings() {
	healthy := sources.NewStaticSource("an", s.vote("1", s.politician.ID, domain.PositionFor, -time.Hour))
	down := &sources.StaticSource{
		SourceID: "senat",
		Err:      sources.NewSourceError(sources.ErrorOutage, "senat", "503 from upstream", nil),
	}
	svc := s.newService(harness{}, healthy, down)

	summary := s.run(svc)
	s.Equal(domain.RunSucceeded, summary.Status)
	s.Require().Len(summary.SourceFailures, 1)
	s.Equal(models.FailureSourcePartial, summary.SourceFailures[0].Kind)
	s.Equal("senat", summary.SourceFailures[0].SourceID)
	s.True(summary.SourceFailures[0].Transient)
	s.NotEmpty(summary.Warnings)
	s.Equal(1, summary.NewVerifications)
	s.True(summary.Watermark.IsZero(), "a transient failure holds the watermark")
}

func (s *PipelineSuite) TestIngestUnavailableFailsAndFreezesWatermark() {
	down := &sources.StaticSource{
		SourceID: "an",
		Err:      sources.NewSourceError(sources.ErrorTimeout, "an", "deadline", nil),
	}
	svc := s.newService(harness{}, down)

	summary := s.run(svc)
	s.Equal(domain.RunFailed, summary.Status)
	s.True(summary.Watermark.IsZero())
	kinds := make([]models.FailureKind, 0, len(summary.SourceFailures))
	for _, f := range summary.SourceFailures {
		kinds = append(kinds, f.Kind)
	}
	s.Contains(kinds, models.FailureIngestUnavailable)

	st, err := s.runs.Get(s.ctx)
	s.Require().NoError(err)
	s.Equal(domain.RunFailed, st.Status)
	s.Nil(st.ModerationCursor)
}

func (s *PipelineSuite) TestSecondTriggerWhileRunningReportsActiveRun() {
	active := domain.NewRunID()
	_, err := s.runs.Claim(s.ctx, active, s.now.Add(-time.Minute), time.Hour)
	s.Require().NoError(err)
	svc := s.newService(harness{}, sources.NewStaticSource("an"))

	summary := s.run(svc)
	s.True(summary.AlreadyRunning)
	s.Equal(active, summary.RunID)
	s.Equal(domain.RunRunning, summary.Status)

	st, err := s.runs.Get(s.ctx)
	s.Require().NoError(err)
	s.Equal(active, st.RunID)
}

func (s *PipelineSuite) TestClaimFailureIsReturned() {
	svc := s.newService(harness{}, sources.NewStaticSource("an"))
	svc.deps.Runs = failingRuns{runstore.NewInMemoryStore()}

	summary, err := svc.Run(s.ctx, models.Trigger{Origin: "test"})
	s.Error(err)
	s.Nil(summary)
}

func (s *PipelineSuite) TestResolvedDisputeIsRescoredOnNextRun() {
	src := sources.NewStaticSource("an", s.vote("1", s.politician.ID, domain.PositionAgainst, -time.Hour))
	svc := s.newService(harness{}, src)

	first := s.run(svc)
	s.Equal(1, first.NewVerifications)
	s.Equal(38, s.score(s.politician.ID).CredibilityScore)
	s.Equal(domain.LabelNotCredible, s.score(s.politician.ID).CredibilityLabel)

	list, err := s.verifications.ListByPromise(s.ctx, s.promise.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	_, err = s.verifications.Dispute(s.ctx, list[0].ID, "vote mal attribué", s.now.Add(time.Hour))
	s.Require().NoError(err)
	_, err = s.verifications.Resolve(s.ctx, list[0].ID, domain.MatchFulfilled, s.now.Add(time.Hour))
	s.Require().NoError(err)

	s.now = s.now.Add(2 * time.Hour)
	second := s.run(svc)
	s.Equal(domain.RunSucceeded, second.Status)
	s.Zero(second.NewVerifications)
	s.Equal(1, second.RescoredPoliticians)
	s.Equal(73, s.score(s.politician.ID).CredibilityScore)

	st, err := s.runs.Get(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(st.ModerationCursor)
	s.Equal(second.StartedAt, *st.ModerationCursor)

	s.now = s.now.Add(time.Hour)
	third := s.run(svc)
	s.Zero(third.RescoredPoliticians, "moderation already accounted for")
}

func (s *PipelineSuite) TestConflictIsRetriedOnce() {
	store := &conflictingStore{VerificationStore: s.verifications, conflicts: 1}
	src := sources.NewStaticSource("an", s.vote("1", s.politician.ID, domain.PositionFor, -time.Hour))
	svc := s.newService(harness{store: store}, src)

	summary := s.run(svc)
	s.Equal(domain.RunSucceeded, summary.Status)
	s.Equal(1, summary.NewVerifications)
	s.Equal(2, store.calls)
}

func (s *PipelineSuite) TestRepeatedConflictFailsBatchAndKeepsActionPending() {
	store := &conflictingStore{VerificationStore: s.verifications, conflicts: 2}
	src := sources.NewStaticSource("an", s.vote("1", s.politician.ID, domain.PositionFor, -time.Hour))
	svc := s.newService(harness{store: store}, src)

	summary := s.run(svc)
	s.Equal(domain.RunPartiallyFailed, summary.Status)
	s.Require().Len(summary.BatchFailures, 1)
	s.Equal(models.FailurePersistConflict, summary.BatchFailures[0].Kind)
	s.Equal(s.promise.ID.String(), summary.BatchFailures[0].PromiseID)
	s.Len(s.unprocessed(), 1)
	s.Equal(s.now.Add(-time.Hour), summary.Watermark)

	// The pending action is picked up again and the politician rescored.
	s.now = s.now.Add(time.Hour)
	retry := s.run(svc)
	s.Equal(domain.RunSucceeded, retry.Status)
	s.Equal(1, retry.PendingActions)
	s.Equal(1, retry.NewVerifications)
	s.Equal(1, retry.RescoredPoliticians)
	s.Empty(s.unprocessed())
}

func (s *PipelineSuite) TestScorerErrorSkipsPairOnly() {
	ctrl := gomock.NewController(s.T())
	scorer := matchingmocks.NewMockScorer(ctrl)
	scorer.EXPECT().Method().Return(domain.MethodAIAssisted).AnyTimes()
	scorer.EXPECT().Assess(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *domain.Promise, a *domain.Action) (matching.Assessment, error) {
			if a.ExternalID == "1" {
				return matching.Assessment{}, errors.New("model unavailable")
			}
			return matching.Assessment{MatchType: domain.MatchFulfilled, Confidence: 0.9, Method: domain.MethodAIAssisted}, nil
		}).Times(2)
	m, err := matching.New(scorer, matching.DefaultConfig(), matching.WithLogger(logger.Discard()))
	s.Require().NoError(err)

	src := sources.NewStaticSource("an",
		s.vote("1", s.politician.ID, domain.PositionFor, -2*time.Hour),
		s.vote("2", s.politician.ID, domain.PositionFor, -time.Hour),
	)
	svc := s.newService(harness{matcher: m}, src)

	summary := s.run(svc)
	s.Equal(domain.RunSucceeded, summary.Status)
	s.Require().Len(summary.MatchErrors, 1)
	s.Equal(models.FailureMatch, summary.MatchErrors[0].Kind)
	s.Equal("an:1", summary.MatchErrors[0].ActionID)
	s.Equal(1, summary.NewVerifications)

	// The skipped pair's action was marked processed; the scorer is not
	// called again.
	s.now = s.now.Add(time.Hour)
	again := s.run(svc)
	s.Equal(domain.RunSucceeded, again.Status)
	s.Empty(again.MatchErrors)
	s.Zero(again.PendingActions)
}

func (s *PipelineSuite) TestScoringErrorLeavesScoreAndMarksRun() {
	src := sources.NewStaticSource("an", s.vote("1", s.politician.ID, domain.PositionFor, -time.Hour))
	svc := s.newService(harness{scores: brokenScores{}}, src)

	summary := s.run(svc)
	s.Equal(domain.RunPartiallyFailed, summary.Status)
	s.Require().Len(summary.ScoringFailures, 1)
	s.Equal(models.FailureScoring, summary.ScoringFailures[0].Kind)
	s.Zero(summary.RescoredPoliticians)
	s.Equal(domain.NeutralScore, s.score(s.politician.ID).CredibilityScore)
	s.Empty(s.unprocessed(), "verifications committed; retrying cannot fix the data")
}

func (s *PipelineSuite) TestPoliticianListFailureKeepsActionsPending() {
	src := sources.NewStaticSource("an", s.vote("1", s.politician.ID, domain.PositionFor, -time.Hour))
	broken := s.newService(harness{politicians: unlistablePoliticians{s.politicians}}, src)

	summary := s.run(broken)
	s.Equal(domain.RunPartiallyFailed, summary.Status)
	s.Require().Len(summary.BatchFailures, 1)
	s.Equal(models.FailureBatch, summary.BatchFailures[0].Kind)
	s.Equal(1, summary.IngestedActions)
	s.Equal(s.now.Add(-time.Hour), summary.Watermark)
	s.Len(s.unprocessed(), 1)

	s.now = s.now.Add(time.Hour)
	next := s.run(s.newService(harness{}, src))
	s.Equal(domain.RunSucceeded, next.Status)
	s.Equal(1, next.PendingActions)
	s.Equal(1, next.NewVerifications)
	s.Empty(s.unprocessed())
}

func (s *PipelineSuite) TestCancelStopsBeforeNextBatch() {
	second, _ := s.addPolitician("Paul", "Durand")
	src := sources.NewStaticSource("an",
		s.vote("1", s.politician.ID, domain.PositionFor, -3*time.Hour),
		s.vote("2", second.ID, domain.PositionFor, -time.Hour),
	)

	inner, err := matching.New(matching.NewKeywordScorer(), matching.DefaultConfig(), matching.WithLogger(logger.Discard()))
	s.Require().NoError(err)
	cancelling := &cancellingMatcher{inner: inner}
	svc := s.newService(harness{matcher: cancelling, workers: 1}, src)
	cancelling.cancel = func() {
		st, err := svc.Current(s.ctx)
		s.Require().NoError(err)
		s.Require().NoError(svc.Cancel(st.RunID))
	}

	summary := s.run(svc)
	s.True(summary.Cancelled)
	s.Equal(domain.RunPartiallyFailed, summary.Status)
	s.Equal(1, summary.NewVerifications, "the started batch finished")
	s.Equal(s.now.Add(-time.Hour-time.Nanosecond), summary.Watermark)

	pending := s.unprocessed()
	s.Require().Len(pending, 1)
	s.Equal(domain.ActionID("an:2"), pending[0].ID)

	s.ErrorContains(svc.Cancel(summary.RunID), "no active run")
}

type unlistablePoliticians struct{ PoliticianStore }

func (unlistablePoliticians) List(context.Context) ([]*domain.Politician, error) {
	return nil, sentinel.ErrUnavailable
}

type failingRuns struct{ *runstore.InMemoryStore }

func (failingRuns) Claim(context.Context, domain.RunID, time.Time, time.Duration) (models.ClaimResult, error) {
	return models.ClaimResult{}, sentinel.ErrUnavailable
}

// conflictingStore loses the first conflicts upserts to a phantom writer.
type conflictingStore struct {
	VerificationStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (c *conflictingStore) Upsert(ctx context.Context, d domain.VerdictDraft) (verificationstore.UpsertOutcome, error) {
	c.mu.Lock()
	c.calls++
	lose := c.calls <= c.conflicts
	c.mu.Unlock()
	if lose {
		return verificationstore.UpsertOutcome{}, sentinel.ErrConflict
	}
	return c.VerificationStore.Upsert(ctx, d)
}

type brokenScores struct{}

func (brokenScores) Recompute(context.Context, domain.PoliticianID) (scoring.Result, error) {
	return scoring.Result{}, scoring.ErrScoring
}

// cancellingMatcher cancels the run the first time it is used.
type cancellingMatcher struct {
	inner  Matcher
	once   sync.Once
	cancel func()
}

func (c *cancellingMatcher) Match(ctx context.Context, promise *domain.Promise, politician *domain.Politician, actions []domain.Action) ([]domain.VerdictDraft, []matching.MatchFailure) {
	c.once.Do(c.cancel)
	return c.inner.Match(ctx, promise, politician, actions)
}
