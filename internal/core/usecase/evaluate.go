package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

type EvaluateUseCase struct {
	queries ports.QueryService
}

func NewEvaluateUseCase(queries ports.QueryService) *EvaluateUseCase {
	return &EvaluateUseCase{queries: queries}
}

// Run answers every case in order. A per-question failure is recorded on the
// result; a missing document store aborts the run.
func (uc *EvaluateUseCase) Run(ctx context.Context, cases []domain.EvalCase) (*domain.EvalReport, error) {
	if len(cases) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run evaluation", errors.New("no questions supplied"))
	}

	report := &domain.EvalReport{Results: make([]domain.EvalResult, 0, len(cases))}
	var (
		relevancySum, coverageSum  float64
		answered, covered, refused int
	)

	for _, tc := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := domain.EvalResult{Question: tc.Question, Contexts: []string{}}

		result, err := uc.queries.Answer(ctx, tc.Question)
		if err != nil {
			if errors.Is(err, domain.ErrNotIngested) || ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("evaluation_question_failed", "question", tc.Question, "error", err)
			item.Error = err.Error()
			report.Results = append(report.Results, item)
			continue
		}

		item.Answer = result.Answer
		for _, src := range result.Sources {
			item.Contexts = append(item.Contexts, src.Content)
		}
		if result.Refused() {
			refused++
			item.Refused = true
			item.RefusalReason = result.Refusal.Reason
			report.Results = append(report.Results, item)
			continue
		}

		raw := result.RawAnswer
		if raw == "" {
			raw = result.Answer
		}
		contextText := result.Context
		if contextText == "" {
			contextText = strings.Join(item.Contexts, "\n")
		}
		item.AnswerRelevancy = AnswerRelevancy(raw, contextText)
		relevancySum += item.AnswerRelevancy
		answered++

		if len(tc.Expected) > 0 {
			item.ExpectedCoverage = ExpectedCoverage(raw, tc.Expected)
			coverageSum += item.ExpectedCoverage
			covered++
		}
		report.Results = append(report.Results, item)
	}

	if answered > 0 {
		report.MeanRelevancy = relevancySum / float64(answered)
	}
	if covered > 0 {
		report.MeanExpectedCoverage = coverageSum / float64(covered)
	}
	report.RefusalRate = float64(refused) / float64(len(cases))
	return report, nil
}

// AnswerRelevancy is the share of distinct lowercase answer words that also
// occur as words of the context.
func AnswerRelevancy(answer, contextText string) float64 {
	answerWords := wordSet(answer)
	if len(answerWords) == 0 {
		return 0
	}
	contextWords := wordSet(contextText)
	shared := 0
	for w := range answerWords {
		if _, ok := contextWords[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(answerWords))
}

// ExpectedCoverage is the share of expected phrases found in the answer,
// compared case-insensitively.
func ExpectedCoverage(answer string, expected []string) float64 {
	if len(expected) == 0 {
		return 0
	}
	lower := strings.ToLower(answer)
	hits := 0
	for _, phrase := range expected {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase != "" && strings.Contains(lower, phrase) {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}

func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}
