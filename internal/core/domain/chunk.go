package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ChunkMetadata is the provenance of a chunk. Page is nil for sources
// without pagination.
type ChunkMetadata struct {
	Source string `json:"source"`
	Page   *int   `json:"page"`
}

// Chunk is the atomic retrieval unit. Chunks are created once during
// ingestion and never mutated afterwards.
type Chunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

func (c Chunk) Validate() error {
	if strings.TrimSpace(c.Metadata.Source) == "" {
		return errors.New("chunk metadata source is required")
	}
	if c.Metadata.Page != nil && *c.Metadata.Page < 0 {
		return fmt.Errorf("chunk page must be non-negative, got %d", *c.Metadata.Page)
	}
	return nil
}

func PageRef(page int) *int {
	return &page
}

type CandidateSource string

const (
	CandidateLexical  CandidateSource = "lexical"
	CandidateSemantic CandidateSource = "semantic"
)

// ScoredCandidate is produced per query and discarded after ranking.
type ScoredCandidate struct {
	Chunk  Chunk           `json:"chunk"`
	Score  float64         `json:"score"`
	Source CandidateSource `json:"source"`
}

// Page is a loaded source page before chunking.
type Page struct {
	Source string
	Number *int
	Text   string
}
