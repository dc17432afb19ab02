package usecase

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const truncationMarker = "\n...[context truncated]"

type GuardrailConfig struct {
	MinDocs                  int
	MinContextChars          int
	MaxContextLength         int
	UnsupportedWordThreshold int
	// TrimPunctuation strips leading and trailing punctuation from answer
	// tokens before the containment check.
	TrimPunctuation bool
}

func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		MinDocs:                  1,
		MinContextChars:          200,
		MaxContextLength:         1000,
		UnsupportedWordThreshold: 15,
	}
}

// Guardrails is the fixed-order refusal gate around generation.
type Guardrails struct {
	cfg GuardrailConfig
}

func NewGuardrails(cfg GuardrailConfig) Guardrails {
	return Guardrails{cfg: cfg}
}

// CheckRetrieval runs the pre-generation checks in order: document count,
// then context length. On success it returns the context to generate from,
// truncated to MaxContextLength characters.
func (g Guardrails) CheckRetrieval(docs []domain.Chunk) (string, *domain.Refusal) {
	if len(docs) < g.cfg.MinDocs || len(docs) == 0 {
		return "", &domain.Refusal{
			Reason: domain.RefusalNoResults,
			Detail: fmt.Sprintf("retrieved %d documents, need %d", len(docs), g.cfg.MinDocs),
		}
	}

	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = doc.Content
	}
	context := strings.Join(parts, "\n")

	length := utf8.RuneCountInString(context)
	if length < g.cfg.MinContextChars {
		return "", &domain.Refusal{
			Reason: domain.RefusalWeakContext,
			Detail: fmt.Sprintf("context has %d characters, need %d", length, g.cfg.MinContextChars),
		}
	}

	return truncateContext(context, g.cfg.MaxContextLength), nil
}

// CheckAnswer is the post-generation hallucination check.
func (g Guardrails) CheckAnswer(answer, context string) *domain.Refusal {
	unsupported := UnsupportedTokens(answer, context, g.cfg.TrimPunctuation)
	if len(unsupported) > g.cfg.UnsupportedWordThreshold {
		return &domain.Refusal{
			Reason: domain.RefusalHallucination,
			Detail: fmt.Sprintf("%d answer tokens not found in context, threshold %d", len(unsupported), g.cfg.UnsupportedWordThreshold),
		}
	}
	return nil
}

// UnsupportedTokens lists lowercased answer tokens that do not occur
// anywhere in the lowercased context, as substrings. A truncation marker
// appended by CheckRetrieval is not evidence and is ignored.
func UnsupportedTokens(answer, context string, trimPunctuation bool) []string {
	haystack := strings.ToLower(strings.TrimSuffix(context, truncationMarker))
	out := make([]string, 0)
	for _, token := range strings.Fields(strings.ToLower(answer)) {
		if trimPunctuation {
			token = strings.TrimFunc(token, unicode.IsPunct)
			if token == "" {
				continue
			}
		}
		if !strings.Contains(haystack, token) {
			out = append(out, token)
		}
	}
	return out
}

func truncateContext(context string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(context) <= limit {
		return context
	}
	runes := []rune(context)
	return string(runes[:limit]) + truncationMarker
}
