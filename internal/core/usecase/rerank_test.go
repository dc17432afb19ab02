package usecase

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func candidates(contents ...string) []domain.ScoredCandidate {
	out := make([]domain.ScoredCandidate, len(contents))
	for i, c := range contents {
		out[i] = domain.ScoredCandidate{Chunk: chunk(c, "sample.pdf", i+1), Source: domain.CandidateLexical}
	}
	return out
}

func TestRerankOrdersByScoreAndTruncates(t *testing.T) {
	scorer := &scorerFake{scores: []float64{0.1, 0.9, 0.5, 0.7}}
	r := NewReranker(scorer)

	got, err := r.Rerank(context.Background(), "q", candidates("a", "b", "c", "d"), 3)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	want := []string{"b", "d", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Chunk.Content != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, got[i].Chunk.Content)
		}
	}
}

func TestRerankStableOnTies(t *testing.T) {
	scorer := &scorerFake{scores: []float64{0.5, 0.5, 0.5}}
	got, err := NewReranker(scorer).Rerank(context.Background(), "q", candidates("a", "b", "c"), 5)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	for i, w := range []string{"a", "b", "c"} {
		if got[i].Chunk.Content != w {
			t.Fatalf("expected original order on ties, got %s at %d", got[i].Chunk.Content, i)
		}
	}
}

func TestRerankEmptyInputSkipsScorer(t *testing.T) {
	scorer := &scorerFake{}
	got, err := NewReranker(scorer).Rerank(context.Background(), "q", nil, 5)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty output, got %d", len(got))
	}
	if scorer.calls != 0 {
		t.Fatalf("expected no scorer call, got %d", scorer.calls)
	}
}

func TestRerankDefaultTopK(t *testing.T) {
	got, err := NewReranker(&scorerFake{}).Rerank(context.Background(), "q", candidates("a", "b", "c", "d", "e", "f", "g"), 0)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected default top_k=5, got %d", len(got))
	}
}

func TestRerankScorerErrors(t *testing.T) {
	if _, err := NewReranker(&scorerFake{err: errors.New("down")}).Rerank(context.Background(), "q", candidates("a"), 5); err == nil {
		t.Fatalf("expected scorer error")
	}
	if _, err := NewReranker(&scorerFake{scores: []float64{1}}).Rerank(context.Background(), "q", candidates("a", "b"), 5); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestRerankDoesNotMutateInput(t *testing.T) {
	in := candidates("a", "b")
	in[0].Score = 42
	_, err := NewReranker(&scorerFake{scores: []float64{0.1, 0.2}}).Rerank(context.Background(), "q", in, 5)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if in[0].Score != 42 || in[0].Chunk.Content != "a" {
		t.Fatalf("expected input untouched, got %+v", in[0])
	}
}

func TestOverlapScorer(t *testing.T) {
	scores, err := OverlapScorer{}.ScorePairs(context.Background(), "Capital of France?", []string{
		"Paris is the capital of France.",
		"Bananas are yellow.",
	})
	if err != nil {
		t.Fatalf("ScorePairs() error = %v", err)
	}
	if scores[0] != 1 {
		t.Fatalf("expected full overlap, got %f", scores[0])
	}
	if scores[1] != 0 {
		t.Fatalf("expected no overlap, got %f", scores[1])
	}
}

func TestRerankSinksNaNScoresKeepingOrder(t *testing.T) {
	nan := math.NaN()
	scorer := &scorerFake{scores: []float64{nan, 0.2, nan, 0.9, 0.2}}
	got, err := NewReranker(scorer).Rerank(context.Background(), "q", candidates("a", "b", "c", "d", "e"), 5)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	want := []string{"d", "b", "e", "a", "c"}
	for i, w := range want {
		if got[i].Chunk.Content != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, got[i].Chunk.Content)
		}
	}
	if !math.IsInf(got[4].Score, -1) {
		t.Fatalf("expected NaN score mapped to -Inf, got %v", got[4].Score)
	}
}
