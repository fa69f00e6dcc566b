// Package store persists verifications, one per (promise, action) pair.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"politikcred/internal/domain"
	"politikcred/pkg/platform/sentinel"
)

// UpsertOutcome reports what an upsert did. Changed is false when the stored
// verdict already matched the draft; nothing is written in that case.
type UpsertOutcome struct {
	Verification *domain.Verification
	Created      bool
	Changed      bool
}

// InMemoryStore keeps verifications in maps guarded by a mutex.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[domain.VerificationID]domain.Verification
	byPair map[domain.PairKey]domain.VerificationID
	now    func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[domain.VerificationID]domain.Verification),
		byPair: make(map[domain.PairKey]domain.VerificationID),
		now:    time.Now,
	}
}

func clone(v domain.Verification) *domain.Verification {
	if v.Resolution != nil {
		r := *v.Resolution
		v.Resolution = &r
	}
	v.DisputedAt = cloneTime(v.DisputedAt)
	v.ResolvedAt = cloneTime(v.ResolvedAt)
	v.ModeratedAt = cloneTime(v.ModeratedAt)
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func validateDraft(d domain.VerdictDraft) error {
	if d.MatchType == domain.MatchUnrelated || !d.MatchType.IsValid() {
		return fmt.Errorf("%w: match type %q cannot be persisted", sentinel.ErrInvalidState, d.MatchType)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", sentinel.ErrInvalidState, d.Confidence)
	}
	if !d.Method.IsValid() {
		return fmt.Errorf("%w: method %q", sentinel.ErrInvalidState, d.Method)
	}
	return nil
}

// Upsert inserts the draft or overwrites the verdict of the existing pair,
// leaving dispute and resolution state as it was.
func (s *InMemoryStore) Upsert(_ context.Context, d domain.VerdictDraft) (UpsertOutcome, error) {
	if err := validateDraft(d); err != nil {
		return UpsertOutcome{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	id, exists := s.byPair[d.Key()]
	if !exists {
		v := domain.NewVerification(d, now)
		s.byID[v.ID] = *v
		s.byPair[d.Key()] = v.ID
		return UpsertOutcome{Verification: clone(*v), Created: true, Changed: true}, nil
	}

	v := s.byID[id]
	if v.SameVerdict(d) {
		return UpsertOutcome{Verification: clone(v)}, nil
	}
	v.ApplyDraft(d, now)
	s.byID[id] = v
	return UpsertOutcome{Verification: clone(v), Changed: true}, nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.VerificationID) (*domain.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(v), nil
}

func (s *InMemoryStore) ListByPromise(_ context.Context, id domain.PromiseID) ([]*domain.Verification, error) {
	return s.list(func(v *domain.Verification) bool { return v.PromiseID == id }), nil
}

func (s *InMemoryStore) ListByPolitician(_ context.Context, id domain.PoliticianID) ([]*domain.Verification, error) {
	return s.list(func(v *domain.Verification) bool { return v.PoliticianID == id }), nil
}

func (s *InMemoryStore) list(keep func(*domain.Verification) bool) []*domain.Verification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Verification
	for _, v := range s.byID {
		if keep(&v) {
			out = append(out, clone(v))
		}
	}
	sortVerifications(out)
	return out
}

func sortVerifications(vs []*domain.Verification) {
	sort.Slice(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.PromiseID != b.PromiseID {
			return a.PromiseID.String() < b.PromiseID.String()
		}
		return a.ActionID < b.ActionID
	})
}

// Dispute flags a verification. Disputing again replaces the reason and
// clears any earlier resolution.
func (s *InMemoryStore) Dispute(_ context.Context, id domain.VerificationID, reason string, at time.Time) (*domain.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	v.ApplyDispute(reason, at)
	s.byID[id] = v
	return clone(v), nil
}

// Resolve records the moderator outcome of an open dispute.
func (s *InMemoryStore) Resolve(_ context.Context, id domain.VerificationID, outcome domain.MatchType, at time.Time) (*domain.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !v.IsDisputed {
		return nil, sentinel.ErrInvalidState
	}
	v.ApplyResolution(outcome, at)
	s.byID[id] = v
	return clone(v), nil
}

// PoliticiansModeratedSince lists politicians with a dispute or resolution
// at or after t.
func (s *InMemoryStore) PoliticiansModeratedSince(_ context.Context, t time.Time) ([]domain.PoliticianID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[domain.PoliticianID]struct{})
	for _, v := range s.byID {
		if v.ModeratedAt != nil && !v.ModeratedAt.Before(t) {
			set[v.PoliticianID] = struct{}{}
		}
	}
	out := make([]domain.PoliticianID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
