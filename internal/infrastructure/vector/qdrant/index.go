package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const defaultBatchSize = 32

// Builder indexes an ingestion's chunks into a Qdrant collection. Each build
// is tagged with its own id so searches never see another ingestion's points.
type Builder struct {
	client    *Client
	embedder  ports.Embedder
	batchSize int
}

func NewBuilder(client *Client, embedder ports.Embedder, batchSize int) *Builder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Builder{client: client, embedder: embedder, batchSize: batchSize}
}

func (b *Builder) Build(ctx context.Context, chunks []domain.Chunk) (ports.SemanticIndex, error) {
	buildID := uuid.NewString()
	for start := 0; start < len(chunks); start += b.batchSize {
		end := min(start+b.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		vectors, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end, len(vectors))
		}
		if err := b.client.ensureCollection(ctx, len(vectors[0])); err != nil {
			return nil, err
		}

		points := make([]point, 0, len(vectors))
		for i, vec := range vectors {
			c := chunks[start+i]
			payload := map[string]any{
				"build_id":    buildID,
				"chunk_index": start + i,
				"source":      c.Metadata.Source,
				"text":        c.Content,
			}
			if c.Metadata.Page != nil {
				payload["page"] = *c.Metadata.Page
			}
			points = append(points, point{ID: newPointID(), Vector: vec, Payload: payload})
		}
		if err := b.client.upsert(ctx, points); err != nil {
			return nil, err
		}
	}

	if err := b.client.deleteOtherBuilds(ctx, buildID); err != nil {
		slog.Warn("qdrant_stale_points_cleanup_failed", "build_id", buildID, "error", err)
	}

	owned := make([]domain.Chunk, len(chunks))
	copy(owned, chunks)
	return &Index{client: b.client, embedder: b.embedder, buildID: buildID, chunks: owned}, nil
}

type Index struct {
	client   *Client
	embedder ports.Embedder
	buildID  string
	chunks   []domain.Chunk
}

// Search maps hits back to the in-memory chunks by chunk_index so metadata
// is exactly what was ingested.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]domain.Chunk, error) {
	if k <= 0 || len(idx.chunks) == 0 {
		return []domain.Chunk{}, nil
	}
	vec, err := idx.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := idx.client.search(ctx, vec, k, idx.buildID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Chunk, 0, len(hits))
	for _, hit := range hits {
		i, ok := payloadInt(hit.Payload, "chunk_index")
		if !ok || i < 0 || i >= len(idx.chunks) {
			continue
		}
		out = append(out, idx.chunks[i])
	}
	return out, nil
}

func payloadInt(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
