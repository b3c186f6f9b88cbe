package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// WorkerStore implements domain.WorkerStore in memory.
type WorkerStore struct {
	mu      sync.RWMutex
	workers map[string]domain.WorkerHeartbeat
}

// NewWorkerStore creates an empty WorkerStore.
func NewWorkerStore() *WorkerStore {
	return &WorkerStore{workers: make(map[string]domain.WorkerHeartbeat)}
}

// Upsert records a heartbeat.
func (s *WorkerStore) Upsert(_ context.Context, hb domain.WorkerHeartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[hb.Name] = hb
	return nil
}

// Get returns the last heartbeat of a worker.
func (s *WorkerStore) Get(_ context.Context, name string) (domain.WorkerHeartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hb, ok := s.workers[name]
	if !ok {
		return domain.WorkerHeartbeat{}, domain.ErrNotFound
	}
	return hb, nil
}

// List returns all workers sorted by name.
func (s *WorkerStore) List(_ context.Context) ([]domain.WorkerHeartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.WorkerHeartbeat, 0, len(s.workers))
	for _, hb := range s.workers {
		out = append(out, hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
