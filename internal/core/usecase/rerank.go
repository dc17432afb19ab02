package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const defaultRerankTopK = 5

// Reranker orders merged candidates by pairwise relevance. Its output order
// is the order used for generation context and citation numbering.
type Reranker struct {
	scorer ports.PairScorer
}

func NewReranker(scorer ports.PairScorer) *Reranker {
	return &Reranker{scorer: scorer}
}

func (r *Reranker) Rerank(
	ctx context.Context,
	query string,
	candidates []domain.ScoredCandidate,
	topK int,
) ([]domain.ScoredCandidate, error) {
	if len(candidates) == 0 {
		return []domain.ScoredCandidate{}, nil
	}
	if topK <= 0 {
		topK = defaultRerankTopK
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Chunk.Content
	}
	scores, err := r.scorer.ScorePairs(ctx, query, documents)
	if err != nil {
		return nil, fmt.Errorf("score pairs: %w", err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("score pairs: scores/candidates mismatch: %d/%d", len(scores), len(candidates))
	}

	out := make([]domain.ScoredCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		// NaN compares false both ways and would break the stable order.
		if math.IsNaN(scores[i]) {
			out[i].Score = math.Inf(-1)
			continue
		}
		out[i].Score = scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	return trimCandidates(out, topK), nil
}

func trimCandidates(candidates []domain.ScoredCandidate, limit int) []domain.ScoredCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

// OverlapScorer is a local pairwise scorer used when no cross-encoder service
// is configured: the share of query tokens present in the document.
type OverlapScorer struct{}

func (OverlapScorer) ScorePairs(_ context.Context, query string, documents []string) ([]float64, error) {
	queryTokens := toTokenSet(query)
	scores := make([]float64, len(documents))
	for i, doc := range documents {
		scores[i] = tokenOverlap(queryTokens, toTokenSet(doc))
	}
	return scores, nil
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
