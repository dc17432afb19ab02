package ports

import (
	"context"
	"io"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// Ingestor rebuilds the document store from a source document.
type Ingestor interface {
	Ingest(ctx context.Context, source string) (*domain.IngestionRun, error)
}

// QueryService answers questions against the current document store.
type QueryService interface {
	Answer(ctx context.Context, question string) (*domain.QueryResult, error)
}

// AnswerCacheClearer drops all memoized answers.
type AnswerCacheClearer interface {
	ClearAnswerCache()
}

// IngestionReader is the read model for ingestion history.
type IngestionReader interface {
	GetByID(ctx context.Context, id string) (*domain.IngestionRun, error)
}

// DocumentLibrary manages the source files available for ingestion.
type DocumentLibrary interface {
	List(ctx context.Context) ([]domain.StoredDocument, error)
	Add(ctx context.Context, name string, body io.Reader) (*domain.StoredDocument, error)
	Remove(ctx context.Context, name string) error
}

// Evaluator runs a batch of questions through the pipeline and scores them.
type Evaluator interface {
	Run(ctx context.Context, cases []domain.EvalCase) (*domain.EvalReport, error)
}
