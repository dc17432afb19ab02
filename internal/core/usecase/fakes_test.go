package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

type llmFake struct {
	answer  string
	err     error
	release chan struct{}
	calls   atomic.Int32
	prompt  atomic.Value
}

func (f *llmFake) Infer(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	f.prompt.Store(prompt)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type semanticFake struct {
	results []domain.Chunk
	err     error
	lastK   int
}

func (f *semanticFake) Search(_ context.Context, _ string, k int) ([]domain.Chunk, error) {
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type indexBuilderFake struct {
	built [][]domain.Chunk
	err   error
}

func (f *indexBuilderFake) Build(_ context.Context, chunks []domain.Chunk) (ports.SemanticIndex, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.built = append(f.built, chunks)
	return &semanticFake{}, nil
}

type scorerFake struct {
	scores []float64
	err    error
	calls  int
}

func (f *scorerFake) ScorePairs(_ context.Context, _ string, documents []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.scores != nil {
		return f.scores, nil
	}
	out := make([]float64, len(documents))
	for i := range documents {
		out[i] = float64(len(documents) - i)
	}
	return out, nil
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func newStorageFake(names ...string) *storageFake {
	s := &storageFake{objects: make(map[string][]byte)}
	for _, n := range names {
		s.objects[n] = []byte("content of " + n)
	}
	return s
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = b
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *storageFake) Stat(_ context.Context, key string) (*domain.StoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "stat", errors.New(key))
	}
	return &domain.StoredDocument{Name: key, SizeBytes: int64(len(b)), UpdatedAt: time.Unix(0, 0).UTC()}, nil
}

func (f *storageFake) List(context.Context) ([]domain.StoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StoredDocument, 0, len(f.objects))
	for name, b := range f.objects {
		out = append(out, domain.StoredDocument{Name: name, SizeBytes: int64(len(b))})
	}
	return out, nil
}

func (f *storageFake) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return domain.WrapError(domain.ErrNotFound, "remove", errors.New(key))
	}
	delete(f.objects, key)
	return nil
}

type loaderFake struct {
	pages []domain.Page
	err   error
}

func (f *loaderFake) Load(_ context.Context, source string) ([]domain.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Page, len(f.pages))
	for i, p := range f.pages {
		p.Source = source
		out[i] = p
	}
	return out, nil
}

// paragraphChunker splits on blank lines.
type paragraphChunker struct{}

func (paragraphChunker) Split(text string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(text, "\n\n") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type runRepoFake struct {
	mu        sync.Mutex
	runs      map[string]domain.IngestionRun
	createErr error
}

func newRunRepoFake() *runRepoFake {
	return &runRepoFake{runs: make(map[string]domain.IngestionRun)}
}

func (f *runRepoFake) Create(_ context.Context, run *domain.IngestionRun) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = *run
	return nil
}

func (f *runRepoFake) Finish(_ context.Context, run *domain.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = *run
	return nil
}

func (f *runRepoFake) GetByID(_ context.Context, id string) (*domain.IngestionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

type publisherFake struct {
	published []string
	err       error
}

func (f *publisherFake) PublishIngestionCompleted(_ context.Context, run *domain.IngestionRun) error {
	f.published = append(f.published, run.ID)
	return f.err
}

func chunk(content, source string, page int) domain.Chunk {
	return domain.Chunk{Content: content, Metadata: domain.ChunkMetadata{Source: source, Page: domain.PageRef(page)}}
}

func testSnapshot(t *testing.T, chunks []domain.Chunk, semantic ports.SemanticIndex, llm ports.LanguageModel) *Snapshot {
	t.Helper()
	store, err := NewDocumentStore(chunks)
	if err != nil {
		t.Fatalf("NewDocumentStore() error = %v", err)
	}
	return &Snapshot{
		IngestionID: "ing-test",
		Source:      "sample.pdf",
		Store:       store,
		Lexical:     NewLexicalScorer(store.Contents()),
		Semantic:    semantic,
		Answers:     NewAnswerGenerator(llm, 0, time.Second),
		BuiltAt:     time.Now(),
	}
}

func sessionWith(t *testing.T, snap *Snapshot) *Session {
	t.Helper()
	s := NewSession()
	if _, err := s.Rebuild(context.Background(), func(context.Context) (*Snapshot, error) { return snap, nil }); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	return s
}
