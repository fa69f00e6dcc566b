package service

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"politikcred/internal/domain"
	"politikcred/internal/ingest/seen"
	"politikcred/internal/ingest/sources"
	"politikcred/internal/ingest/sources/mocks"
	"politikcred/internal/ingest/store"
	"politikcred/internal/platform/logger"
	dErrors "politikcred/pkg/domain-errors"
)

// =============================================================================
// Ingestor Test Suite
// =============================================================================
// Justification: the watermark and dedup rules decide whether data is ever
// skipped or re-read, and depend on the combination of source outcomes.

type IngestSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	store *store.InMemoryStore
	seen  *seen.MemoryCache
	since time.Time
	now   time.Time
}

func TestIngestSuite(t *testing.T) {
	suite.Run(t, new(IngestSuite))
}

func (s *IngestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemoryStore()
	s.seen = seen.NewMemoryCache(time.Hour)
	s.since = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
}

func (s *IngestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *IngestSuite) newService(st ActionStore, srcs ...sources.Source) *Service {
	svc, err := New(st, srcs,
		WithLogger(logger.Discard()),
		WithSeenCache(s.seen),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	return svc
}

func (s *IngestSuite) raw(id string, offset time.Duration) sources.RawAction {
	return sources.RawAction{
		ExternalID: id,
		Kind:       "statement",
		Title:      "Déclaration " + id,
		Content:    "contenu",
		OccurredAt: s.since.Add(offset),
	}
}

func failingSource(ctrl *gomock.Controller, id string, err error, before ...sources.RawAction) *mocks.MockSource {
	m := mocks.NewMockSource(ctrl)
	m.EXPECT().ID().Return(id).AnyTimes()
	m.EXPECT().FetchSince(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, time.Time) iter.Seq2[sources.RawAction, error] {
			return func(yield func(sources.RawAction, error) bool) {
				for _, a := range before {
					if !yield(a, nil) {
						return
					}
				}
				yield(sources.RawAction{}, err)
			}
		})
	return m
}

func (s *IngestSuite) TestNew() {
	_, err := New(nil, nil)
	s.Error(err)
}

func (s *IngestSuite) TestDedupAndWatermark() {
	ctx := context.Background()
	an := sources.NewStaticSource("an", s.raw("1", time.Hour), s.raw("1", time.Hour), s.raw("2", 3*time.Hour))
	senat := sources.NewStaticSource("senat", s.raw("1", 2*time.Hour))
	svc := s.newService(s.store, an, senat)

	res, err := svc.Ingest(ctx, s.since)
	s.Require().NoError(err)
	s.Len(res.Actions, 3)
	s.Equal(1, res.Duplicates)
	s.Empty(res.Pending)
	s.Equal(s.since.Add(3*time.Hour), res.NextWatermark)
	s.Equal(domain.ActionID("an:1"), res.Actions[0].ID)

	seenIt, _ := s.seen.Seen(ctx, "senat:1")
	s.True(seenIt)

	s.Run("re-ingesting the same records is a no-op", func() {
		again, err := svc.Ingest(ctx, res.NextWatermark)
		s.Require().NoError(err)
		s.Empty(again.Actions)
		s.Equal(res.NextWatermark, again.NextWatermark)
		s.Len(again.Pending, 3)
	})
}

func (s *IngestSuite) TestDedupWithoutCacheUsesStore() {
	ctx := context.Background()
	src := sources.NewStaticSource("an", s.raw("1", time.Hour))
	svc, err := New(s.store, []sources.Source{src}, WithLogger(logger.Discard()))
	s.Require().NoError(err)

	_, err = svc.Ingest(ctx, s.since)
	s.Require().NoError(err)
	res, err := svc.Ingest(ctx, s.since)
	s.Require().NoError(err)
	s.Empty(res.Actions)
	s.Equal(1, res.Duplicates)
}

func (s *IngestSuite) TestNoNewActionsKeepsWatermark() {
	svc := s.newService(s.store, sources.NewStaticSource("an"))
	res, err := svc.Ingest(context.Background(), s.since)
	s.Require().NoError(err)
	s.Empty(res.Actions)
	s.Equal(s.since, res.NextWatermark)
}

func (s *IngestSuite) TestTransientFailureHoldsWatermark() {
	ok := sources.NewStaticSource("an", s.raw("1", time.Hour))
	down := failingSource(s.ctrl, "senat", sources.NewSourceError(sources.ErrorOutage, "senat", "503", nil),
		s.raw("9", 30*time.Minute))
	svc := s.newService(s.store, ok, down)

	res, err := svc.Ingest(context.Background(), s.since)
	s.Require().NoError(err)
	s.Len(res.Actions, 2)
	s.Require().Len(res.SourceFailures, 1)
	s.Equal("senat", res.SourceFailures[0].SourceID)
	s.True(res.SourceFailures[0].Transient)
	s.Equal(string(sources.ErrorOutage), res.SourceFailures[0].Category)
	s.Equal(s.since, res.NextWatermark)
}

func (s *IngestSuite) TestTerminalFailureDoesNotHoldWatermark() {
	ok := sources.NewStaticSource("an", s.raw("1", time.Hour))
	broken := failingSource(s.ctrl, "senat", sources.NewSourceError(sources.ErrorAuthentication, "senat", "401", nil))
	svc := s.newService(s.store, ok, broken)

	res, err := svc.Ingest(context.Background(), s.since)
	s.Require().NoError(err)
	s.Require().Len(res.SourceFailures, 1)
	s.False(res.SourceFailures[0].Transient)
	s.Equal(s.since.Add(time.Hour), res.NextWatermark)
}

func (s *IngestSuite) TestAllSourcesFailing() {
	a := failingSource(s.ctrl, "an", errors.New("connection reset"))
	b := failingSource(s.ctrl, "senat", sources.NewSourceError(sources.ErrorTimeout, "senat", "slow", nil))
	svc := s.newService(s.store, a, b)

	res, err := svc.Ingest(context.Background(), s.since)
	s.Require().Error(err)
	s.ErrorIs(err, ErrIngestUnavailable)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Len(res.SourceFailures, 2)
	s.Equal(s.since, res.NextWatermark)
}

type flakyStore struct {
	*store.InMemoryStore
	fail domain.ActionID
}

func (f flakyStore) SaveIfAbsent(ctx context.Context, a *domain.Action) (bool, error) {
	if a.ID == f.fail {
		return false, errors.New("disk full")
	}
	return f.InMemoryStore.SaveIfAbsent(ctx, a)
}

func (s *IngestSuite) TestFailedPersistCapsWatermark() {
	src := sources.NewStaticSource("an", s.raw("1", time.Hour), s.raw("2", 2*time.Hour), s.raw("3", 3*time.Hour))
	svc := s.newService(flakyStore{InMemoryStore: s.store, fail: "an:2"}, src)

	res, err := svc.Ingest(context.Background(), s.since)
	s.Require().NoError(err)
	s.Len(res.Actions, 2)
	s.True(res.NextWatermark.Before(s.since.Add(2*time.Hour)))
	s.False(res.NextWatermark.Before(s.since.Add(time.Hour)))

	seenFailed, _ := s.seen.Seen(context.Background(), "an:2")
	s.False(seenFailed)
}

func (s *IngestSuite) TestMalformedActionsAreRejected() {
	bad := s.raw("x", time.Hour)
	bad.Kind = "tweet"
	badPolitician := s.raw("y", time.Hour)
	badPolitician.PoliticianID = "not-a-uuid"
	src := sources.NewStaticSource("an", bad, badPolitician, s.raw("ok", 2*time.Hour))
	svc := s.newService(s.store, src)

	res, err := svc.Ingest(context.Background(), s.since)
	s.Require().NoError(err)
	s.Equal(2, res.Rejected)
	s.Len(res.Actions, 1)
}

func (s *IngestSuite) TestPendingExcludesFreshActions() {
	ctx := context.Background()
	old, err := domain.NewAction("an", "old", domain.ActionVote, nil, domain.PositionFor, "Scrutin", "", s.since.Add(-time.Hour), s.now)
	s.Require().NoError(err)
	_, err = s.store.SaveIfAbsent(ctx, old)
	s.Require().NoError(err)

	svc := s.newService(s.store, sources.NewStaticSource("an", s.raw("new", time.Hour)))
	res, err := svc.Ingest(ctx, s.since)
	s.Require().NoError(err)
	s.Require().Len(res.Actions, 1)
	s.Require().Len(res.Pending, 1)
	s.Equal(old.ID, res.Pending[0].ID)
}
