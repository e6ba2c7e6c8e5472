package jobs

import (
	"context"
	"strings"
	"sync"

	"scenecast/internal/domain"
)

// DefaultRetention bounds the number of jobs kept by MemoryStore.
const DefaultRetention = 500

// MemoryStore is an in-process Store. Once more than retention jobs are held
// the oldest ones are evicted.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]domain.GenerationJob
	order     []string
	retention int
}

func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		jobs:      make(map[string]domain.GenerationJob),
		retention: retention,
	}
}

func (s *MemoryStore) Save(ctx context.Context, job domain.GenerationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(job.ID)
	if id == "" {
		return domain.InvalidInput("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[id]; ok {
		if existing.Stage.Terminal() {
			return domain.ErrJobFinalized
		}
	} else {
		s.order = append(s.order, id)
	}
	s.jobs[id] = job
	s.evictLocked()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.GenerationJob{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return domain.GenerationJob{}, domain.ErrNotFound
	}
	return job, nil
}

// Len reports how many jobs are currently retained.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *MemoryStore) evictLocked() {
	for len(s.order) > s.retention {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.jobs, oldest)
	}
}

var _ Store = (*MemoryStore)(nil)
