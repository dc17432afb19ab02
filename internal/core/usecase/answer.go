package usecase

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const (
	defaultAnswerKeyPrefix  = 100
	defaultInferenceTimeout = 2 * time.Minute
)

type answerKey struct {
	question string
	prefix   string
}

// AnswerGenerator produces grounded answers and memoizes them by
// (question, first N characters of context). Entries never expire; Clear
// drops them all.
type AnswerGenerator struct {
	llm          ports.LanguageModel
	keyPrefix    int
	inferTimeout time.Duration

	mu      sync.Mutex
	entries map[answerKey]string
	epoch   uint64
	flights singleflight.Group
}

// NewAnswerGenerator bounds each shared inference by inferTimeout. Callers
// waiting on it are bounded by their own contexts.
func NewAnswerGenerator(llm ports.LanguageModel, keyPrefix int, inferTimeout time.Duration) *AnswerGenerator {
	if keyPrefix <= 0 {
		keyPrefix = defaultAnswerKeyPrefix
	}
	if inferTimeout <= 0 {
		inferTimeout = defaultInferenceTimeout
	}
	return &AnswerGenerator{
		llm:          llm,
		keyPrefix:    keyPrefix,
		inferTimeout: inferTimeout,
		entries:      make(map[answerKey]string),
	}
}

func (g *AnswerGenerator) Generate(ctx context.Context, question, contextText string) (string, error) {
	key := answerKey{question: question, prefix: runePrefix(contextText, g.keyPrefix)}

	g.mu.Lock()
	if answer, ok := g.entries[key]; ok {
		g.mu.Unlock()
		return answer, nil
	}
	epoch := g.epoch
	g.mu.Unlock()

	flightKey := strconv.FormatUint(epoch, 10) + "\x00" + key.question + "\x00" + key.prefix
	// Shared by every caller on this key; detached from the starter's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	results := g.flights.DoChan(flightKey, func() (any, error) {
		inferCtx, cancel := context.WithTimeout(flightCtx, g.inferTimeout)
		defer cancel()
		answer, err := g.llm.Infer(inferCtx, BuildAnswerPrompt(question, contextText))
		if err != nil {
			return "", err
		}

		g.mu.Lock()
		// A Clear during inference invalidates this result for the cache.
		if g.epoch == epoch {
			g.entries[key] = answer
		}
		g.mu.Unlock()
		return answer, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (g *AnswerGenerator) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = make(map[answerKey]string)
	g.epoch++
}

func (g *AnswerGenerator) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func BuildAnswerPrompt(question, contextText string) string {
	return fmt.Sprintf(`You are a helpful assistant.
Answer ONLY using the provided context.
If the answer is not in the context, say "I don't know".

Context:
%s

Question:
%s

Answer:
`, contextText, question)
}

func runePrefix(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
