package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"politikcred/internal/domain"
	"politikcred/internal/platform/logger"
	politicianstore "politikcred/internal/politician/store"
	"politikcred/internal/verification/metrics"
	"politikcred/internal/verification/store"
	dErrors "politikcred/pkg/domain-errors"
)

// =============================================================================
// Moderation Service Test Suite
// =============================================================================
// Justification: moderation changes which verdict decides a promise status,
// so each transition must leave the stored status consistent.

type ModerationSuite struct {
	suite.Suite
	ctx         context.Context
	store       *store.InMemoryStore
	politicians *politicianstore.InMemoryStore
	metrics     *metrics.Metrics
	service     *Moderation
	promise     *domain.Promise
	winner      *domain.Verification
	runnerUp    *domain.Verification
}

func TestModerationSuite(t *testing.T) {
	suite.Run(t, new(ModerationSuite))
}

func (s *ModerationSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemoryStore()
	s.politicians = politicianstore.NewInMemoryStore()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	pol := &domain.Politician{ID: domain.NewPoliticianID(), Name: "Paul Bernard", FirstName: "Paul", LastName: "Bernard", Position: "Maire"}
	s.Require().NoError(s.politicians.Create(s.ctx, pol))
	s.promise = &domain.Promise{ID: domain.NewPromiseID(), PoliticianID: pol.ID, Content: "Piétonniser le centre", Status: domain.PromiseFulfilled, CreatedAt: now}
	s.Require().NoError(s.politicians.CreatePromise(s.ctx, s.promise))

	draft := domain.VerdictDraft{
		PromiseID: s.promise.ID, ActionID: "mairie:1", PoliticianID: pol.ID,
		MatchType: domain.MatchFulfilled, Confidence: 0.9, Method: domain.MethodAutomated, VerifiedAt: now,
	}
	out, err := s.store.Upsert(s.ctx, draft)
	s.Require().NoError(err)
	s.winner = out.Verification

	draft.ActionID = "mairie:2"
	draft.MatchType = domain.MatchBroken
	draft.Confidence = 0.6
	out, err = s.store.Upsert(s.ctx, draft)
	s.Require().NoError(err)
	s.runnerUp = out.Verification

	s.service, err = New(s.store, s.politicians,
		WithLogger(logger.Discard()),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return now.Add(time.Hour) }),
	)
	s.Require().NoError(err)
}

func (s *ModerationSuite) promiseStatus() domain.PromiseStatus {
	p, err := s.politicians.GetPromise(s.ctx, s.promise.ID)
	s.Require().NoError(err)
	return p.Status
}

func (s *ModerationSuite) TestNewRequiresDependencies() {
	_, err := New(nil, s.politicians)
	s.Error(err)
	_, err = New(s.store, nil)
	s.Error(err)
}

func (s *ModerationSuite) TestDisputeRederivesStatus() {
	v, err := s.service.Dispute(s.ctx, s.winner.ID, "  wrong vote  ")
	s.Require().NoError(err)
	s.True(v.IsDisputed)
	s.Equal("wrong vote", v.DisputeReason)
	s.Equal(domain.PromiseBroken, s.promiseStatus())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Moderations.WithLabelValues("dispute", "flagged")))
}

func (s *ModerationSuite) TestResolveAsFulfilled() {
	_, err := s.service.Dispute(s.ctx, s.runnerUp.ID, "misread")
	s.Require().NoError(err)
	_, err = s.service.Dispute(s.ctx, s.winner.ID, "check")
	s.Require().NoError(err)
	s.Equal(domain.PromiseOpen, s.promiseStatus())

	v, err := s.service.Resolve(s.ctx, s.runnerUp.ID, domain.MatchFulfilled)
	s.Require().NoError(err)
	s.False(v.IsDisputed)
	s.Equal(domain.PromiseFulfilled, s.promiseStatus())
}

func (s *ModerationSuite) TestValidation() {
	_, err := s.service.Dispute(s.ctx, s.winner.ID, "   ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.Resolve(s.ctx, s.winner.ID, "Maybe")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.Resolve(s.ctx, s.winner.ID, domain.MatchBroken)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.service.Dispute(s.ctx, domain.NewVerificationID(), "reason")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
