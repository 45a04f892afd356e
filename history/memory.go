package history

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/scrawlsbenches/rollout/deploy"
)

// MemoryStore keeps deployment records in process memory. It is the
// default store and suits single-node runs where history does not need to
// survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	deps map[uuid.UUID]*deploy.Deployment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deps: make(map[uuid.UUID]*deploy.Deployment)}
}

func (s *MemoryStore) Save(_ context.Context, d *deploy.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deps[d.ID]; ok {
		return fmt.Errorf("deployment %s already saved: %w", d.ID, deploy.ErrValidation)
	}
	s.deps[d.ID] = d.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, d *deploy.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deps[d.ID]; !ok {
		return fmt.Errorf("deployment %s: %w", d.ID, deploy.ErrNotFound)
	}
	s.deps[d.ID] = d.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*deploy.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deps[id]
	if !ok {
		return nil, fmt.Errorf("deployment %s: %w", id, deploy.ErrNotFound)
	}
	return d.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*deploy.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*deploy.Deployment, 0, len(s.deps))
	for _, d := range s.deps {
		out = append(out, d.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status deploy.Status) ([]*deploy.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*deploy.Deployment
	for _, d := range s.deps {
		if d.Status == status {
			out = append(out, d.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortNewestFirst(deps []*deploy.Deployment) {
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].CreatedAt.Equal(deps[j].CreatedAt) {
			return deps[i].ID.String() > deps[j].ID.String()
		}
		return deps[i].CreatedAt.After(deps[j].CreatedAt)
	})
}
