package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func TestSessionSnapshotBeforeIngest(t *testing.T) {
	_, err := NewSession().Snapshot()
	if !errors.Is(err, domain.ErrNotIngested) {
		t.Fatalf("expected ErrNotIngested, got %v", err)
	}
}

func TestSessionRebuildFailureKeepsPrevious(t *testing.T) {
	first := testSnapshot(t, []domain.Chunk{chunk("one", "a.pdf", 1)}, nil, &llmFake{})
	s := sessionWith(t, first)

	_, err := s.Rebuild(context.Background(), func(context.Context) (*Snapshot, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected rebuild error")
	}
	got, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got != first {
		t.Fatalf("expected previous snapshot to stay current")
	}
}

func TestSessionClearAnswerCache(t *testing.T) {
	NewSession().ClearAnswerCache()

	llm := &llmFake{answer: "A."}
	snap := testSnapshot(t, []domain.Chunk{chunk("one", "a.pdf", 1)}, nil, llm)
	s := sessionWith(t, snap)
	if _, err := snap.Answers.Generate(context.Background(), "q", "ctx"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	s.ClearAnswerCache()
	if snap.Answers.Len() != 0 {
		t.Fatalf("expected cleared cache, got %d", snap.Answers.Len())
	}
}

func TestDocumentStoreRejectsMissingSource(t *testing.T) {
	_, err := NewDocumentStore([]domain.Chunk{{Content: "x"}})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
