package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"politikcred/internal/domain"
	"politikcred/pkg/platform/sentinel"
)

// InMemoryStore is an action table for tests and local runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	actions map[domain.ActionID]domain.Action
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{actions: make(map[domain.ActionID]domain.Action)}
}

func cloneAction(a domain.Action) *domain.Action {
	if a.PoliticianID != nil {
		id := *a.PoliticianID
		a.PoliticianID = &id
	}
	if a.ProcessedAt != nil {
		t := *a.ProcessedAt
		a.ProcessedAt = &t
	}
	return &a
}

func (s *InMemoryStore) SaveIfAbsent(_ context.Context, a *domain.Action) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[a.ID]; exists {
		return false, nil
	}
	s.actions[a.ID] = *cloneAction(*a)
	return true, nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.ActionID) (*domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAction(a), nil
}

func (s *InMemoryStore) ListUnprocessed(_ context.Context) ([]*domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Action
	for _, a := range s.actions {
		if a.ProcessedAt == nil {
			out = append(out, cloneAction(a))
		}
	}
	sortActions(out)
	return out, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, ids []domain.ActionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		a, ok := s.actions[id]
		if !ok || a.ProcessedAt != nil {
			continue
		}
		t := at
		a.ProcessedAt = &t
		s.actions[id] = a
	}
	return nil
}

func sortActions(actions []*domain.Action) {
	sort.Slice(actions, func(i, j int) bool {
		if !actions[i].OccurredAt.Equal(actions[j].OccurredAt) {
			return actions[i].OccurredAt.Before(actions[j].OccurredAt)
		}
		return actions[i].ID < actions[j].ID
	})
}
