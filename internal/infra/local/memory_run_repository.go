// internal/infra/local/memory_run_repository.go
package local

import (
	"context"
	"sort"
	"sync"

	"update-runner/internal/domain"
)

// memoryRunRepository implements domain.RunRepository in memory. Used by the
// one-shot binary, where history only needs to outlive the run itself.
type memoryRunRepository struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
}

// NewMemoryRunRepository creates an in-memory run repository.
func NewMemoryRunRepository() domain.RunRepository {
	return &memoryRunRepository{runs: make(map[string]domain.Run)}
}

func (r *memoryRunRepository) Save(_ context.Context, run *domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *memoryRunRepository) Get(_ context.Context, id string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return &run, nil
}

func (r *memoryRunRepository) ListRecent(_ context.Context, page, pageSize int) ([]*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.Run, 0, len(r.runs))
	for id := range r.runs {
		run := r.runs[id]
		all = append(all, &run)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartTime.After(all[j].StartTime)
	})

	startIdx := (page - 1) * pageSize
	if startIdx >= len(all) {
		return nil, nil
	}
	endIdx := startIdx + pageSize
	if endIdx > len(all) {
		endIdx = len(all)
	}
	return all[startIdx:endIdx], nil
}
