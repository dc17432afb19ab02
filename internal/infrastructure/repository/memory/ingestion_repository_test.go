package memory

import (
	"context"
	"testing"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func TestIngestionRepositoryLifecycle(t *testing.T) {
	repo := NewIngestionRepository()
	ctx := context.Background()

	run := &domain.IngestionRun{ID: "run-1", Source: "sample.pdf", Status: domain.IngestionRunning}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	run.Status = domain.IngestionCompleted
	run.Chunks = 7
	if err := repo.Finish(ctx, run); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.IngestionCompleted || got.Chunks != 7 {
		t.Fatalf("unexpected run %+v", got)
	}

	if _, err := repo.GetByID(ctx, "missing"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Finish(ctx, &domain.IngestionRun{ID: "missing"}); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
