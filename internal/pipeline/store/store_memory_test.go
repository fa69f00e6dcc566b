package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"politikcred/internal/domain"
	"politikcred/internal/pipeline/models"
	"politikcred/pkg/platform/sentinel"
)

// =============================================================================
// Run State Store Test Suite
// =============================================================================
// Justification: the claim is the only guard against overlapping runs, and
// a run that lost its claim must not overwrite the watermark.

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.now = time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) TestInitialStateIsIdle() {
	st, err := s.store.Get(s.ctx)
	s.Require().NoError(err)
	s.Equal(domain.RunIdle, st.Status)
	s.True(st.Watermark.IsZero())
}

func (s *InMemoryStoreSuite) TestClaimBlocksSecondRun() {
	first := domain.NewRunID()
	res, err := s.store.Claim(s.ctx, first, s.now, time.Hour)
	s.Require().NoError(err)
	s.True(res.Claimed)

	res, err = s.store.Claim(s.ctx, domain.NewRunID(), s.now.Add(time.Minute), time.Hour)
	s.Require().NoError(err)
	s.False(res.Claimed)
	s.Equal(first, res.ActiveRunID)
}

func (s *InMemoryStoreSuite) TestStaleRunIsReclaimed() {
	stale := domain.NewRunID()
	_, err := s.store.Claim(s.ctx, stale, s.now, time.Hour)
	s.Require().NoError(err)

	// Exactly staleAfter old still holds the claim.
	boundary, err := s.store.Claim(s.ctx, domain.NewRunID(), s.now.Add(time.Hour), time.Hour)
	s.Require().NoError(err)
	s.False(boundary.Claimed)

	next := domain.NewRunID()
	res, err := s.store.Claim(s.ctx, next, s.now.Add(time.Hour+time.Microsecond), time.Hour)
	s.Require().NoError(err)
	s.True(res.Claimed)

	_, err = s.store.Complete(s.ctx, models.Completion{RunID: stale, Status: domain.RunSucceeded, FinishedAt: s.now})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *InMemoryStoreSuite) TestCompleteStoresWatermarkAndCursor() {
	id := domain.NewRunID()
	_, err := s.store.Claim(s.ctx, id, s.now, time.Hour)
	s.Require().NoError(err)

	watermark := s.now.Add(-time.Hour)
	st, err := s.store.Complete(s.ctx, models.Completion{
		RunID: id, Status: domain.RunSucceeded, FinishedAt: s.now.Add(time.Minute),
		Watermark: watermark, ModerationCursor: &s.now, Summary: []byte(`{}`),
	})
	s.Require().NoError(err)
	s.Equal(domain.RunSucceeded, st.Status)
	s.Equal(watermark, st.Watermark)
	s.Require().NotNil(st.ModerationCursor)
	s.Equal(s.now, *st.ModerationCursor)

	// A later run that does not advance the cursor keeps the old one.
	next := domain.NewRunID()
	_, err = s.store.Claim(s.ctx, next, s.now.Add(time.Hour), time.Hour)
	s.Require().NoError(err)
	st, err = s.store.Complete(s.ctx, models.Completion{RunID: next, Status: domain.RunPartiallyFailed, FinishedAt: s.now.Add(time.Hour), Watermark: watermark})
	s.Require().NoError(err)
	s.Equal(s.now, *st.ModerationCursor)

	_, err = s.store.Complete(s.ctx, models.Completion{RunID: next, Status: domain.RunSucceeded})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *InMemoryStoreSuite) TestConcurrentClaimsHaveOneWinner() {
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Claim(s.ctx, domain.NewRunID(), s.now, time.Hour)
			s.NoError(err)
			if res.Claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}
