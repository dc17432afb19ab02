package usecase

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const defaultHybridK = 10

// HybridMerger unions lexical and semantic candidates for the reranker.
type HybridMerger struct {
	k int
}

func NewHybridMerger(k int) *HybridMerger {
	if k <= 0 {
		k = defaultHybridK
	}
	return &HybridMerger{k: k}
}

// Merge returns at most 2k candidates with unique content, lexical first.
// A semantic index failure degrades to lexical-only results and is reported
// through the second return value, never as an error.
func (m *HybridMerger) Merge(ctx context.Context, snap *Snapshot, query string) ([]domain.ScoredCandidate, bool) {
	var lexical, semantic []domain.ScoredCandidate

	// Lexical scoring cannot fail, so the group error is always the
	// semantic index's.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical = m.lexicalCandidates(snap, query)
		return nil
	})
	g.Go(func() error {
		var err error
		semantic, err = m.semanticCandidates(gctx, snap, query)
		return err
	})

	degraded := false
	if err := g.Wait(); err != nil {
		degraded = true
		slog.Warn("semantic_search_degraded",
			"ingestion_id", snap.IngestionID,
			"k", m.k,
			"error", err,
		)
		semantic = nil
	}

	return dedupeByContent(append(lexical, semantic...)), degraded
}

func (m *HybridMerger) lexicalCandidates(snap *Snapshot, query string) []domain.ScoredCandidate {
	if snap.Lexical == nil || snap.Store == nil {
		return nil
	}
	hits := snap.Lexical.TopK(query, m.k)
	out := make([]domain.ScoredCandidate, 0, len(hits))
	for _, hit := range hits {
		out = append(out, domain.ScoredCandidate{
			Chunk:  snap.Store.At(hit.Index),
			Score:  hit.Score,
			Source: domain.CandidateLexical,
		})
	}
	return out
}

func (m *HybridMerger) semanticCandidates(ctx context.Context, snap *Snapshot, query string) ([]domain.ScoredCandidate, error) {
	if snap.Semantic == nil {
		return nil, nil
	}
	chunks, err := snap.Semantic.Search(ctx, query, m.k)
	if err != nil {
		return nil, err
	}
	if len(chunks) > m.k {
		chunks = chunks[:m.k]
	}
	out := make([]domain.ScoredCandidate, 0, len(chunks))
	for rank, chunk := range chunks {
		out = append(out, domain.ScoredCandidate{
			Chunk:  chunk,
			Score:  1.0 / float64(rank+1),
			Source: domain.CandidateSemantic,
		})
	}
	return out, nil
}

// dedupeByContent keeps the first candidate seen for each exact content string.
func dedupeByContent(candidates []domain.ScoredCandidate) []domain.ScoredCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]domain.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Chunk.Content]; ok {
			continue
		}
		seen[c.Chunk.Content] = struct{}{}
		out = append(out, c)
	}
	return out
}
