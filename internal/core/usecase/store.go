package usecase

import (
	"fmt"
	"time"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

// DocumentStore is the ordered, read-only chunk collection of one ingestion.
type DocumentStore struct {
	chunks []domain.Chunk
}

func NewDocumentStore(chunks []domain.Chunk) (*DocumentStore, error) {
	for i, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, fmt.Sprintf("chunk %d", i), err)
		}
	}
	owned := make([]domain.Chunk, len(chunks))
	copy(owned, chunks)
	return &DocumentStore{chunks: owned}, nil
}

func (s *DocumentStore) Len() int {
	return len(s.chunks)
}

func (s *DocumentStore) At(i int) domain.Chunk {
	return s.chunks[i]
}

// Contents returns chunk texts in store order.
func (s *DocumentStore) Contents() []string {
	out := make([]string, len(s.chunks))
	for i, chunk := range s.chunks {
		out[i] = chunk.Content
	}
	return out
}

// Chunks returns a copy of the stored chunks in store order.
func (s *DocumentStore) Chunks() []domain.Chunk {
	out := make([]domain.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Snapshot is everything a query reads. It is immutable once published.
type Snapshot struct {
	IngestionID string
	Source      string
	Store       *DocumentStore
	Lexical     *LexicalScorer
	Semantic    ports.SemanticIndex
	Answers     *AnswerGenerator
	BuiltAt     time.Time
}
