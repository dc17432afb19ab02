package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

type IngestOptions struct {
	DefaultSource    string
	AnswerCacheKey   int
	InferenceTimeout time.Duration
}

type IngestUseCase struct {
	session *Session
	storage ports.ObjectStorage
	loader  ports.PageLoader
	chunker ports.Chunker
	indexer ports.SemanticIndexBuilder
	llm     ports.LanguageModel
	runs    ports.IngestionRepository
	events  ports.EventPublisher
	opts    IngestOptions
}

func NewIngestUseCase(
	session *Session,
	storage ports.ObjectStorage,
	loader ports.PageLoader,
	chunker ports.Chunker,
	indexer ports.SemanticIndexBuilder,
	llm ports.LanguageModel,
	runs ports.IngestionRepository,
	events ports.EventPublisher,
	opts IngestOptions,
) *IngestUseCase {
	return &IngestUseCase{
		session: session,
		storage: storage,
		loader:  loader,
		chunker: chunker,
		indexer: indexer,
		llm:     llm,
		runs:    runs,
		events:  events,
		opts:    opts,
	}
}

// Ingest rebuilds the document store, lexical scorer, semantic index and
// answer cache from one source document and publishes them atomically.
func (uc *IngestUseCase) Ingest(ctx context.Context, source string) (*domain.IngestionRun, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		source = uc.opts.DefaultSource
	}
	if err := validateSourceName(source); err != nil {
		return nil, err
	}

	if _, err := uc.storage.Stat(ctx, source); err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, domain.WrapError(domain.ErrSourceMissing, "ingest", err)
		}
		return nil, fmt.Errorf("stat source document: %w", err)
	}

	start := time.Now().UTC()
	run := &domain.IngestionRun{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    domain.IngestionRunning,
		StartedAt: start,
	}
	if err := uc.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create ingestion run: %w", err)
	}

	snap, buildErr := uc.session.Rebuild(ctx, func(ctx context.Context) (*Snapshot, error) {
		return uc.buildSnapshot(ctx, run.ID, source)
	})

	run.FinishedAt = time.Now().UTC()
	run.Duration = run.FinishedAt.Sub(start)
	if buildErr != nil {
		run.Status = domain.IngestionFailed
		run.Error = buildErr.Error()
		if err := uc.runs.Finish(ctx, run); err != nil {
			slog.Error("ingestion_run_finish_failed", "ingestion_id", run.ID, "error", err)
		}
		return nil, domain.WrapError(domain.ErrIngestion, "ingest "+source, buildErr)
	}

	run.Status = domain.IngestionCompleted
	run.Chunks = snap.Store.Len()
	if err := uc.runs.Finish(ctx, run); err != nil {
		return nil, fmt.Errorf("finish ingestion run: %w", err)
	}

	slog.Info("ingestion_completed",
		"ingestion_id", run.ID,
		"source", source,
		"chunks", run.Chunks,
		"duration_ms", float64(run.Duration.Microseconds())/1000.0,
	)

	if uc.events != nil {
		if err := uc.events.PublishIngestionCompleted(ctx, run); err != nil {
			slog.Warn("ingestion_event_publish_failed", "ingestion_id", run.ID, "error", err)
		}
	}
	return run, nil
}

func (uc *IngestUseCase) buildSnapshot(ctx context.Context, ingestionID, source string) (*Snapshot, error) {
	pages, err := uc.loader.Load(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}

	chunks := uc.chunkPages(pages)
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	store, err := NewDocumentStore(chunks)
	if err != nil {
		return nil, err
	}

	semantic, err := uc.indexer.Build(ctx, store.Chunks())
	if err != nil {
		return nil, fmt.Errorf("build semantic index: %w", err)
	}

	return &Snapshot{
		IngestionID: ingestionID,
		Source:      source,
		Store:       store,
		Lexical:     NewLexicalScorer(store.Contents()),
		Semantic:    semantic,
		Answers:     NewAnswerGenerator(uc.llm, uc.opts.AnswerCacheKey, uc.opts.InferenceTimeout),
		BuiltAt:     time.Now().UTC(),
	}, nil
}

func (uc *IngestUseCase) chunkPages(pages []domain.Page) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(pages))
	for _, page := range pages {
		for _, text := range uc.chunker.Split(page.Text) {
			out = append(out, domain.Chunk{
				Content: text,
				Metadata: domain.ChunkMetadata{
					Source: page.Source,
					Page:   page.Number,
				},
			})
		}
	}
	return out
}

func validateSourceName(source string) error {
	if source == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate source", errors.New("source is required"))
	}
	if filepath.IsAbs(source) || strings.ContainsAny(source, `/\`) || source == ".." || source == "." {
		return domain.WrapError(domain.ErrInvalidInput, "validate source", fmt.Errorf("source must be a plain file name, got %q", source))
	}
	return nil
}
