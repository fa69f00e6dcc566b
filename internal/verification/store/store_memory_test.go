package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"politikcred/internal/domain"
	"politikcred/pkg/platform/sentinel"
)

// =============================================================================
// Verification Store Test Suite
// =============================================================================
// Justification: upsert must be idempotent and must never undo moderation,
// which the pipeline relies on when it re-matches on every run.

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	draft domain.VerdictDraft
	at    time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.at = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.draft = domain.VerdictDraft{
		PromiseID:    domain.NewPromiseID(),
		ActionID:     "an:1",
		PoliticianID: domain.NewPoliticianID(),
		MatchType:    domain.MatchFulfilled,
		Confidence:   0.8,
		Method:       domain.MethodAutomated,
		VerifiedAt:   s.at,
	}
}

func (s *InMemoryStoreSuite) TestUpsertIsIdempotent() {
	first, err := s.store.Upsert(s.ctx, s.draft)
	s.Require().NoError(err)
	s.True(first.Created)
	s.True(first.Changed)
	s.Equal(int64(1), first.Verification.Version)

	second, err := s.store.Upsert(s.ctx, s.draft)
	s.Require().NoError(err)
	s.False(second.Created)
	s.False(second.Changed)
	s.Equal(first.Verification, second.Verification)

	list, err := s.store.ListByPromise(s.ctx, s.draft.PromiseID)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *InMemoryStoreSuite) TestUpsertOverwritesVerdictButKeepsDispute() {
	out, err := s.store.Upsert(s.ctx, s.draft)
	s.Require().NoError(err)
	_, err = s.store.Dispute(s.ctx, out.Verification.ID, "wrong vote", s.at)
	s.Require().NoError(err)

	changed := s.draft
	changed.MatchType = domain.MatchBroken
	changed.Confidence = 0.9
	again, err := s.store.Upsert(s.ctx, changed)
	s.Require().NoError(err)
	s.True(again.Changed)
	s.False(again.Created)

	v := again.Verification
	s.Equal(out.Verification.ID, v.ID)
	s.Equal(domain.MatchBroken, v.MatchType)
	s.Equal(0.9, v.Confidence)
	s.True(v.IsDisputed)
	s.Equal("wrong vote", v.DisputeReason)
	s.Equal(int64(3), v.Version)
}

func (s *InMemoryStoreSuite) TestUpsertKeepsResolution() {
	out, err := s.store.Upsert(s.ctx, s.draft)
	s.Require().NoError(err)
	_, err = s.store.Dispute(s.ctx, out.Verification.ID, "context", s.at)
	s.Require().NoError(err)
	_, err = s.store.Resolve(s.ctx, out.Verification.ID, domain.MatchPartial, s.at)
	s.Require().NoError(err)

	changed := s.draft
	changed.Confidence = 0.5
	again, err := s.store.Upsert(s.ctx, changed)
	s.Require().NoError(err)
	s.Require().NotNil(again.Verification.Resolution)
	s.Equal(domain.MatchPartial, *again.Verification.Resolution)
	s.False(again.Verification.IsDisputed)
}

func (s *InMemoryStoreSuite) TestUpsertRejectsUnpersistableDrafts() {
	bad := s.draft
	bad.MatchType = domain.MatchUnrelated
	_, err := s.store.Upsert(s.ctx, bad)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	bad = s.draft
	bad.Confidence = 1.2
	_, err = s.store.Upsert(s.ctx, bad)
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *InMemoryStoreSuite) TestResolveRequiresDispute() {
	out, err := s.store.Upsert(s.ctx, s.draft)
	s.Require().NoError(err)

	_, err = s.store.Resolve(s.ctx, out.Verification.ID, domain.MatchFulfilled, s.at)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	_, err = s.store.Resolve(s.ctx, domain.NewVerificationID(), domain.MatchFulfilled, s.at)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Dispute(s.ctx, domain.NewVerificationID(), "x", s.at)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestPoliticiansModeratedSince() {
	out, err := s.store.Upsert(s.ctx, s.draft)
	s.Require().NoError(err)

	other := s.draft
	other.ActionID = "an:2"
	other.PoliticianID = domain.NewPoliticianID()
	_, err = s.store.Upsert(s.ctx, other)
	s.Require().NoError(err)

	ids, err := s.store.PoliticiansModeratedSince(s.ctx, s.at)
	s.Require().NoError(err)
	s.Empty(ids)

	_, err = s.store.Dispute(s.ctx, out.Verification.ID, "check", s.at.Add(time.Hour))
	s.Require().NoError(err)

	ids, err = s.store.PoliticiansModeratedSince(s.ctx, s.at)
	s.Require().NoError(err)
	s.Equal([]domain.PoliticianID{s.draft.PoliticianID}, ids)

	ids, err = s.store.PoliticiansModeratedSince(s.ctx, s.at.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *InMemoryStoreSuite) TestConcurrentUpsertsKeepOneRow() {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := s.draft
			d.Confidence = float64(i%4) / 4
			_, err := s.store.Upsert(s.ctx, d)
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	list, err := s.store.ListByPromise(s.ctx, s.draft.PromiseID)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *InMemoryStoreSuite) TestGetReturnsCopy() {
	out, err := s.store.Upsert(s.ctx, s.draft)
	s.Require().NoError(err)
	out.Verification.Confidence = 0.1

	got, err := s.store.Get(s.ctx, out.Verification.ID)
	s.Require().NoError(err)
	s.Equal(0.8, got.Confidence)
}
