package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"politikcred/internal/domain"
	"politikcred/pkg/platform/sentinel"
)

// InMemoryStore keeps politicians and promises in maps guarded by a mutex.
// Reads return copies so callers cannot mutate stored state.
type InMemoryStore struct {
	mu          sync.RWMutex
	politicians map[domain.PoliticianID]domain.Politician
	dedupe      map[string]domain.PoliticianID
	promises    map[domain.PromiseID]domain.Promise
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		politicians: make(map[domain.PoliticianID]domain.Politician),
		dedupe:      make(map[string]domain.PoliticianID),
		promises:    make(map[domain.PromiseID]domain.Promise),
	}
}

func clonePolitician(p domain.Politician) *domain.Politician {
	p.SourceIDs = slices.Clone(p.SourceIDs)
	if p.ScoredAt != nil {
		t := *p.ScoredAt
		p.ScoredAt = &t
	}
	return &p
}

func clonePromise(p domain.Promise) *domain.Promise {
	p.Keywords = slices.Clone(p.Keywords)
	return &p
}

func (s *InMemoryStore) Create(_ context.Context, p *domain.Politician) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.DedupeKey()
	if _, exists := s.dedupe[key]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if _, exists := s.politicians[p.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.politicians[p.ID] = *clonePolitician(*p)
	s.dedupe[key] = p.ID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.PoliticianID) (*domain.Politician, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.politicians[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clonePolitician(p), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*domain.Politician, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Politician, 0, len(s.politicians))
	for _, p := range s.politicians {
		out = append(out, clonePolitician(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) DedupeKeys(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(map[string]struct{}, len(s.dedupe))
	for k := range s.dedupe {
		keys[k] = struct{}{}
	}
	return keys, nil
}

func (s *InMemoryStore) UpdateScore(_ context.Context, id domain.PoliticianID, score int, label domain.CredibilityLabel, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.politicians[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.CredibilityScore = score
	p.CredibilityLabel = label
	p.ScoredAt = &at
	s.politicians[id] = p
	return nil
}

func (s *InMemoryStore) CreatePromise(_ context.Context, p *domain.Promise) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.politicians[p.PoliticianID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, exists := s.promises[p.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.promises[p.ID] = *clonePromise(*p)
	return nil
}

func (s *InMemoryStore) GetPromise(_ context.Context, id domain.PromiseID) (*domain.Promise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.promises[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clonePromise(p), nil
}

func (s *InMemoryStore) ListPromises(_ context.Context, politicianID domain.PoliticianID) ([]*domain.Promise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Promise
	for _, p := range s.promises {
		if p.PoliticianID == politicianID {
			out = append(out, clonePromise(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *InMemoryStore) UpdatePromiseStatus(_ context.Context, id domain.PromiseID, status domain.PromiseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promises[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.Status = status
	s.promises[id] = p
	return nil
}
