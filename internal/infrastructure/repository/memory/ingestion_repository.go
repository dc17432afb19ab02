package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// IngestionRepository keeps ingestion history in process memory. It is used
// when no Postgres DSN is configured.
type IngestionRepository struct {
	mu   sync.RWMutex
	runs map[string]domain.IngestionRun
}

func NewIngestionRepository() *IngestionRepository {
	return &IngestionRepository{runs: make(map[string]domain.IngestionRun)}
}

func (r *IngestionRepository) Create(_ context.Context, run *domain.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *IngestionRepository) Finish(_ context.Context, run *domain.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return domain.WrapError(domain.ErrNotFound, "finish ingestion run", fmt.Errorf("run %s", run.ID))
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *IngestionRepository) GetByID(_ context.Context, id string) (*domain.IngestionRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get ingestion run", fmt.Errorf("run %s", id))
	}
	return &run, nil
}
