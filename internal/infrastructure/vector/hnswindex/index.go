package hnswindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/coder/hnsw"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const (
	defaultBatchSize = 32
	defaultM         = 16
	defaultEfSearch  = 64
)

type Options struct {
	BatchSize int
	M         int
	EfSearch  int
}

// Builder embeds an ingestion's chunks and indexes them in an in-memory
// HNSW graph keyed by store position.
type Builder struct {
	embedder ports.Embedder
	opts     Options
}

func NewBuilder(embedder ports.Embedder, opts Options) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.M <= 0 {
		opts.M = defaultM
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = defaultEfSearch
	}
	return &Builder{embedder: embedder, opts: opts}
}

func (b *Builder) Build(ctx context.Context, chunks []domain.Chunk) (ports.SemanticIndex, error) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = b.opts.M
	graph.EfSearch = b.opts.EfSearch

	dims := 0
	for start := 0; start < len(chunks); start += b.opts.BatchSize {
		end := min(start+b.opts.BatchSize, len(chunks))
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
		for i, vec := range vectors {
			if dims == 0 {
				dims = len(vec)
			}
			if len(vec) != dims || dims == 0 {
				return nil, fmt.Errorf("embed chunk %d: dimension %d, want %d", start+i, len(vec), dims)
			}
			graph.Add(hnsw.MakeNode(uint64(start+i), vec))
		}
	}

	owned := make([]domain.Chunk, len(chunks))
	copy(owned, chunks)
	return &Index{graph: graph, chunks: owned, dims: dims, embedder: b.embedder}, nil
}

// Index is read-only once built.
type Index struct {
	graph    *hnsw.Graph[uint64]
	chunks   []domain.Chunk
	dims     int
	embedder ports.Embedder
}

func (idx *Index) Search(ctx context.Context, query string, k int) ([]domain.Chunk, error) {
	if k <= 0 || idx.graph.Len() == 0 {
		return []domain.Chunk{}, nil
	}
	vec, err := idx.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != idx.dims {
		return nil, fmt.Errorf("query dimension %d, index dimension %d", len(vec), idx.dims)
	}

	nodes := idx.graph.Search(vec, k)
	type hit struct {
		key      uint64
		distance float32
	}
	hits := make([]hit, 0, len(nodes))
	for _, node := range nodes {
		if node.Key >= uint64(len(idx.chunks)) {
			continue
		}
		hits = append(hits, hit{key: node.Key, distance: idx.graph.Distance(vec, node.Value)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].key < hits[j].key
	})

	out := make([]domain.Chunk, len(hits))
	for i, h := range hits {
		out[i] = idx.chunks[h.key]
	}
	return out, nil
}

func (idx *Index) Len() int {
	return idx.graph.Len()
}
