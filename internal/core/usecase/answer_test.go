package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAnswerGeneratorMemoizes(t *testing.T) {
	llm := &llmFake{answer: "Paris."}
	g := NewAnswerGenerator(llm, 0, time.Second)

	first, err := g.Generate(context.Background(), "capital?", "France context")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	second, err := g.Generate(context.Background(), "capital?", "France context")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if first != second {
		t.Fatalf("expected identical answers, got %q and %q", first, second)
	}
	if got := llm.calls.Load(); got != 1 {
		t.Fatalf("expected one inference call, got %d", got)
	}
}

func TestAnswerGeneratorKeysOnContextPrefix(t *testing.T) {
	llm := &llmFake{answer: "A."}
	g := NewAnswerGenerator(llm, 100, time.Second)
	prefix := strings.Repeat("p", 100)

	if _, err := g.Generate(context.Background(), "q", prefix+"tail one"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := g.Generate(context.Background(), "q", prefix+"a different tail"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := llm.calls.Load(); got != 1 {
		t.Fatalf("expected shared-prefix contexts to hit cache, got %d calls", got)
	}

	if _, err := g.Generate(context.Background(), "other question", prefix); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := llm.calls.Load(); got != 2 {
		t.Fatalf("expected new question to miss cache, got %d calls", got)
	}
}

func TestAnswerGeneratorDoesNotCacheErrors(t *testing.T) {
	llm := &llmFake{err: errors.New("model down")}
	g := NewAnswerGenerator(llm, 0, time.Second)
	if _, err := g.Generate(context.Background(), "q", "ctx"); err == nil {
		t.Fatalf("expected error")
	}
	if g.Len() != 0 {
		t.Fatalf("expected empty cache after failure, got %d", g.Len())
	}
}

func TestAnswerGeneratorClear(t *testing.T) {
	llm := &llmFake{answer: "A."}
	g := NewAnswerGenerator(llm, 0, time.Second)
	_, _ = g.Generate(context.Background(), "q", "ctx")
	g.Clear()
	if g.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", g.Len())
	}
	_, _ = g.Generate(context.Background(), "q", "ctx")
	if got := llm.calls.Load(); got != 2 {
		t.Fatalf("expected inference after clear, got %d calls", got)
	}
}

func TestAnswerGeneratorClearDuringInference(t *testing.T) {
	llm := &llmFake{answer: "A.", release: make(chan struct{})}
	g := NewAnswerGenerator(llm, 0, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := g.Generate(context.Background(), "q", "ctx")
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for llm.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("inference never started")
		}
		time.Sleep(time.Millisecond)
	}
	g.Clear()
	close(llm.release)

	if err := <-done; err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if g.Len() != 0 {
		t.Fatalf("expected in-flight result dropped after clear, got %d entries", g.Len())
	}
}

func TestBuildAnswerPromptContainsInputs(t *testing.T) {
	prompt := BuildAnswerPrompt("What is X?", "X is Y.")
	if !strings.Contains(prompt, "What is X?") || !strings.Contains(prompt, "X is Y.") {
		t.Fatalf("prompt missing inputs: %q", prompt)
	}
	if !strings.Contains(prompt, "ONLY") {
		t.Fatalf("prompt missing grounding instruction: %q", prompt)
	}
}

func TestRunePrefix(t *testing.T) {
	if got := runePrefix("héllo", 2); got != "hé" {
		t.Fatalf("expected rune-safe prefix, got %q", got)
	}
	if got := runePrefix("hi", 10); got != "hi" {
		t.Fatalf("expected whole string, got %q", got)
	}
}

func TestAnswerGeneratorSharedInferenceSurvivesLeaderCancel(t *testing.T) {
	llm := &llmFake{answer: "Paris.", release: make(chan struct{})}
	g := NewAnswerGenerator(llm, 0, 5*time.Second)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := g.Generate(leaderCtx, "capital?", "France context")
		leaderDone <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for llm.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("inference never started")
		}
		time.Sleep(time.Millisecond)
	}

	type outcome struct {
		answer string
		err    error
	}
	followerDone := make(chan outcome, 1)
	go func() {
		answer, err := g.Generate(context.Background(), "capital?", "France context")
		followerDone <- outcome{answer, err}
	}()

	cancelLeader()
	if err := <-leaderDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected leader to see its own cancellation, got %v", err)
	}

	close(llm.release)
	got := <-followerDone
	if got.err != nil {
		t.Fatalf("expected follower to get the shared answer, got error %v", got.err)
	}
	if got.answer != "Paris." {
		t.Fatalf("expected Paris., got %q", got.answer)
	}
	if calls := llm.calls.Load(); calls != 1 {
		t.Fatalf("expected one shared inference, got %d", calls)
	}
	if g.Len() != 1 {
		t.Fatalf("expected shared answer cached, got %d entries", g.Len())
	}
}

func TestAnswerGeneratorCallerDeadlineReturnsPromptly(t *testing.T) {
	llm := &llmFake{answer: "late", release: make(chan struct{})}
	defer close(llm.release)
	g := NewAnswerGenerator(llm, 0, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := g.Generate(ctx, "q", "ctx")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected prompt return, took %s", elapsed)
	}
}
