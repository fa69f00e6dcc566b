// Package store persists the single pipeline RunState record.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"politikcred/internal/domain"
	"politikcred/internal/pipeline/models"
	"politikcred/pkg/platform/sentinel"
)

// InMemoryStore keeps the run state behind a mutex. The claim is a
// compare-and-set under the lock, so it is safe across goroutines of one
// process only.
type InMemoryStore struct {
	mu    sync.Mutex
	state domain.RunState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: domain.IdleRunState()}
}

func cloneState(s domain.RunState) domain.RunState {
	s.StartedAt = cloneTime(s.StartedAt)
	s.FinishedAt = cloneTime(s.FinishedAt)
	s.ModerationCursor = cloneTime(s.ModerationCursor)
	if s.Summary != nil {
		s.Summary = append([]byte(nil), s.Summary...)
	}
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (s *InMemoryStore) Get(_ context.Context) (domain.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state), nil
}

// Claim takes the run slot unless a fresh run holds it.
func (s *InMemoryStore) Claim(_ context.Context, runID domain.RunID, now time.Time, staleAfter time.Duration) (models.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsActive(now, staleAfter) {
		return models.ClaimResult{ActiveRunID: s.state.RunID, State: cloneState(s.state)}, nil
	}
	started := now
	s.state.RunID = runID
	s.state.Status = domain.RunRunning
	s.state.StartedAt = &started
	s.state.FinishedAt = nil
	return models.ClaimResult{Claimed: true, ActiveRunID: runID, State: cloneState(s.state)}, nil
}

// Complete records the final status. It fails with ErrConflict when the
// run no longer holds the claim, e.g. after a stale reclaim.
func (s *InMemoryStore) Complete(_ context.Context, c models.Completion) (domain.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.RunID != c.RunID || s.state.Status != domain.RunRunning {
		return domain.RunState{}, fmt.Errorf("complete run %s: %w", c.RunID, sentinel.ErrConflict)
	}
	finished := c.FinishedAt
	s.state.Status = c.Status
	s.state.FinishedAt = &finished
	s.state.Watermark = c.Watermark
	if c.ModerationCursor != nil {
		s.state.ModerationCursor = cloneTime(c.ModerationCursor)
	}
	s.state.Summary = append([]byte(nil), c.Summary...)
	return cloneState(s.state), nil
}
