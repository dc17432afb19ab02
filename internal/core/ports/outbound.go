package ports

import (
	"context"
	"io"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (*domain.StoredDocument, error)
	List(ctx context.Context) ([]domain.StoredDocument, error)
	Remove(ctx context.Context, key string) error
}

// PageLoader extracts ordered pages from a stored source document.
type PageLoader interface {
	Load(ctx context.Context, source string) ([]domain.Page, error)
}

// Chunker splits text into semantically usable chunks.
type Chunker interface {
	Split(text string) []string
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SemanticIndex returns the chunks most similar to a query. Returned chunks
// must carry their original metadata.
type SemanticIndex interface {
	Search(ctx context.Context, query string, k int) ([]domain.Chunk, error)
}

// SemanticIndexBuilder builds a fresh index over an ingestion's chunks.
type SemanticIndexBuilder interface {
	Build(ctx context.Context, chunks []domain.Chunk) (SemanticIndex, error)
}

// PairScorer scores (query, document) pairs. Scores are returned in input order.
type PairScorer interface {
	ScorePairs(ctx context.Context, query string, documents []string) ([]float64, error)
}

// LanguageModel runs a single deterministic completion.
type LanguageModel interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

// IngestionRepository persists ingestion history.
type IngestionRepository interface {
	Create(ctx context.Context, run *domain.IngestionRun) error
	Finish(ctx context.Context, run *domain.IngestionRun) error
	GetByID(ctx context.Context, id string) (*domain.IngestionRun, error)
}

// EventPublisher announces completed ingestions.
type EventPublisher interface {
	PublishIngestionCompleted(ctx context.Context, run *domain.IngestionRun) error
}

// IngestRequestSubscriber delivers ingestion requests from the message bus.
type IngestRequestSubscriber interface {
	SubscribeIngestRequests(ctx context.Context, handler func(context.Context, string) error) error
}

// ReportWriter renders an evaluation report.
type ReportWriter interface {
	Write(report *domain.EvalReport, w io.Writer) error
}
