package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/grounded-qa/internal/config"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
	"github.com/kirillkom/grounded-qa/internal/core/usecase"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/chunking"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/crossencoder"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/loader"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/repository/memory"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/vector/hnswindex"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/grounded-qa/internal/observability/metrics"
)

const (
	backendHNSW   = "hnsw"
	backendQdrant = "qdrant"
)

type App struct {
	Config  config.Config
	Service string

	Session    *usecase.Session
	IngestUC   *usecase.IngestUseCase
	QueryUC    *usecase.QueryUseCase
	DocumentUC *usecase.DocumentsUseCase
	EvalUC     *usecase.EvaluateUseCase
	Runs       ports.IngestionReader

	Metrics       *metrics.HTTPServerMetrics
	IngestMetrics *metrics.IngestionMetrics

	queue   *nats.Queue
	closeFn func()
}

// New wires the application for the named service (api, ragctl).
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	httpMetrics := metrics.NewHTTPServerMetrics(service)
	ingestMetrics := metrics.NewIngestionMetrics(httpMetrics.Registerer(), service)
	executor := resilience.NewExecutor(resilienceConfig(cfg, httpMetrics.RecordBreakerState(service)))

	storage, err := localfs.New(cfg.DocumentsPath)
	if err != nil {
		return nil, fmt.Errorf("init document storage: %w", err)
	}

	runs, db, err := newIngestionRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closers := []func(){}
	if db != nil {
		closers = append(closers, func() { _ = db.Close() })
	}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		queue  *nats.Queue
		events ports.EventPublisher
	)
	if cfg.NATSEnabled {
		queue, err = nats.New(cfg.NATSURL, cfg.NATSSubject, cfg.NATSEventsSubject, nats.Options{
			ClientName:         "grounded-qa-" + service,
			ResilienceExecutor: executor,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		events = queue
		closers = append(closers, queue.Close)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, ollama.Options{
		GenModel:      cfg.OllamaGenModel,
		EmbedModel:    cfg.OllamaEmbedModel,
		MaxTokens:     cfg.LLMMaxTokens,
		ContextWindow: cfg.LLMContextWindow,
		Timeout:       cfg.LLMTimeout(),
		Executor:      executor,
	})
	embedder, err := ollama.NewCachedEmbedder(ollama.NewEmbedder(ollamaClient), cfg.EmbedCacheSize)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}

	indexer, err := newSemanticIndexBuilder(cfg, embedder, executor)
	if err != nil {
		closeAll()
		return nil, err
	}

	citationPolicy, err := usecase.ParseCitationPolicy(cfg.CitationPolicy)
	if err != nil {
		closeAll()
		return nil, err
	}

	session := usecase.NewSession()
	ingestUC := usecase.NewIngestUseCase(
		session,
		storage,
		loader.New(storage),
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		indexer,
		ollama.NewGenerator(ollamaClient),
		runs,
		events,
		usecase.IngestOptions{
			DefaultSource:    cfg.DefaultSource,
			AnswerCacheKey:   cfg.AnswerCacheKeyPrefix,
			InferenceTimeout: cfg.LLMTimeout(),
		},
	)
	queryUC := usecase.NewQueryUseCase(
		session,
		usecase.NewReranker(newPairScorer(cfg, executor)),
		usecase.NewGuardrails(usecase.GuardrailConfig{
			MinDocs:                  cfg.GuardMinDocs,
			MinContextChars:          cfg.GuardMinContextChars,
			MaxContextLength:         cfg.GuardMaxContextLength,
			UnsupportedWordThreshold: cfg.GuardUnsupportedThreshold,
			TrimPunctuation:          cfg.GuardTrimPunctuation,
		}),
		usecase.NewCitationAttacher(citationPolicy),
		usecase.QueryOptions{
			HybridK:    cfg.RAGHybridK,
			RerankTopK: cfg.RAGRerankTopK,
			Timeout:    cfg.QueryTimeout(),
		},
	)

	slog.Info("bootstrap_ready",
		"semantic_backend", cfg.SemanticBackend,
		"reranker", rerankerName(cfg),
		"ingestion_store", repositoryName(cfg),
		"nats_enabled", cfg.NATSEnabled,
		"citation_policy", string(citationPolicy),
	)

	return &App{
		Config:  cfg,
		Service: service,

		Session:    session,
		IngestUC:   ingestUC,
		QueryUC:    queryUC,
		DocumentUC: usecase.NewDocumentsUseCase(storage),
		EvalUC:     usecase.NewEvaluateUseCase(queryUC),
		Runs:       runs,

		Metrics:       httpMetrics,
		IngestMetrics: ingestMetrics,

		queue:   queue,
		closeFn: closeAll,
	}, nil
}

// SubscribeIngestRequests runs ingestion for every request received on the
// message bus. It is a no-op when NATS is disabled.
func (a *App) SubscribeIngestRequests(ctx context.Context) error {
	if a.queue == nil {
		return nil
	}
	return a.queue.SubscribeIngestRequests(ctx, func(ctx context.Context, source string) error {
		a.IngestMetrics.StartRun()
		start := time.Now()
		run, err := a.IngestUC.Ingest(ctx, source)
		chunks := 0
		if run != nil {
			chunks = run.Chunks
		}
		a.IngestMetrics.FinishRun(a.Service, "nats", chunks, time.Since(start), err)
		return err
	})
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newIngestionRepository(ctx context.Context, cfg config.Config) (ports.IngestionRepository, *sql.DB, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return memory.NewIngestionRepository(), nil, nil
	}
	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewIngestionRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, db, nil
}

func newSemanticIndexBuilder(cfg config.Config, embedder ports.Embedder, executor *resilience.Executor) (ports.SemanticIndexBuilder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SemanticBackend)) {
	case "", backendHNSW:
		return hnswindex.NewBuilder(embedder, hnswindex.Options{BatchSize: cfg.EmbedBatchSize}), nil
	case backendQdrant:
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor)
		return qdrant.NewBuilder(client, embedder, cfg.EmbedBatchSize), nil
	default:
		return nil, fmt.Errorf("unsupported SEMANTIC_BACKEND %q (expected %s or %s)", cfg.SemanticBackend, backendHNSW, backendQdrant)
	}
}

func newPairScorer(cfg config.Config, executor *resilience.Executor) ports.PairScorer {
	if strings.TrimSpace(cfg.RerankerURL) == "" {
		return usecase.OverlapScorer{}
	}
	return crossencoder.New(cfg.RerankerURL, cfg.LLMTimeout(), executor)
}

func rerankerName(cfg config.Config) string {
	if strings.TrimSpace(cfg.RerankerURL) == "" {
		return "overlap"
	}
	return "cross-encoder"
}

func repositoryName(cfg config.Config) string {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return "memory"
	}
	return "postgres"
}

func resilienceConfig(cfg config.Config, onStateChange func(operation, state string)) resilience.Config {
	return resilience.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
		},
		Breaker: resilience.BreakerPolicy{
			Enabled:          cfg.BreakerEnabled,
			MinRequests:      uint32(max(cfg.BreakerMinRequests, 0)),
			FailureRatio:     cfg.BreakerFailureRatio,
			OpenTimeout:      time.Duration(cfg.BreakerOpenTimeoutSecs) * time.Second,
			HalfOpenMaxCalls: uint32(max(cfg.BreakerHalfOpenMaxCalls, 0)),
		},
		OnStateChange: onStateChange,
	}
}
