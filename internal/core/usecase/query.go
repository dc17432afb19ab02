package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

type QueryOptions struct {
	HybridK    int
	RerankTopK int
	Timeout    time.Duration
}

type QueryUseCase struct {
	session   *Session
	merger    *HybridMerger
	reranker  *Reranker
	guards    Guardrails
	citations CitationAttacher
	opts      QueryOptions
}

func NewQueryUseCase(
	session *Session,
	reranker *Reranker,
	guards Guardrails,
	citations CitationAttacher,
	opts QueryOptions,
) *QueryUseCase {
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = defaultRerankTopK
	}
	return &QueryUseCase{
		session:   session,
		merger:    NewHybridMerger(opts.HybridK),
		reranker:  reranker,
		guards:    guards,
		citations: citations,
		opts:      opts,
	}
}

func (uc *QueryUseCase) Answer(ctx context.Context, question string) (*domain.QueryResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is required"))
	}
	snap, err := uc.session.Snapshot()
	if err != nil {
		return nil, err
	}

	parent := ctx
	if uc.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	var timings domain.QueryTimings

	candidates, degraded := uc.merger.Merge(ctx, snap, question)
	timings.Retrieval = time.Since(start)

	rerankStart := time.Now()
	ranked, err := uc.reranker.Rerank(ctx, question, candidates, uc.opts.RerankTopK)
	if err != nil {
		if deadlineExpired(parent, ctx) {
			return uc.refuse(question, domain.RefusalTimeout, "query deadline exceeded during rerank", start, timings), nil
		}
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		slog.Warn("rerank_degraded", "ingestion_id", snap.IngestionID, "candidates", len(candidates), "error", err)
		degraded = true
		ranked = trimCandidates(candidates, uc.opts.RerankTopK)
	}
	timings.Rerank = time.Since(rerankStart)

	docs := make([]domain.Chunk, len(ranked))
	for i, c := range ranked {
		docs[i] = c.Chunk
	}

	contextText, refusal := uc.guards.CheckRetrieval(docs)
	if refusal != nil {
		result := uc.refuse(question, refusal.Reason, refusal.Detail, start, timings)
		result.Sources = docs
		result.Degraded = degraded
		return result, nil
	}

	genStart := time.Now()
	answer, err := snap.Answers.Generate(ctx, question, contextText)
	timings.Generation = time.Since(genStart)
	if err != nil {
		if deadlineExpired(parent, ctx) {
			return uc.refuse(question, domain.RefusalTimeout, "query deadline exceeded during generation", start, timings), nil
		}
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		return nil, domain.WrapError(domain.ErrGeneration, "generate answer", err)
	}

	if refusal := uc.guards.CheckAnswer(answer, contextText); refusal != nil {
		result := uc.refuse(question, refusal.Reason, refusal.Detail, start, timings)
		result.Sources = docs
		result.Context = contextText
		result.RawAnswer = answer
		result.Degraded = degraded
		return result, nil
	}

	annotated, citations := uc.citations.Attach(answer, docs)
	timings.Total = time.Since(start)
	return &domain.QueryResult{
		Question:  question,
		Answer:    annotated,
		RawAnswer: answer,
		Citations: citations,
		Sources:   docs,
		Context:   contextText,
		Degraded:  degraded,
		Timings:   timings,
	}, nil
}

func (uc *QueryUseCase) refuse(
	question string,
	reason domain.RefusalReason,
	detail string,
	start time.Time,
	timings domain.QueryTimings,
) *domain.QueryResult {
	slog.Info("guardrail_refusal", "reason", string(reason), "detail", detail)
	result := domain.NewRefusalResult(question, reason, detail)
	timings.Total = time.Since(start)
	result.Timings = timings
	return result
}

// deadlineExpired reports whether the per-query deadline, not the caller,
// ended the request.
func deadlineExpired(parent, ctx context.Context) bool {
	return parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
}

