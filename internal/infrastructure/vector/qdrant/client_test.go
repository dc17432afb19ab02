package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (staticEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{0, 1}, nil
}

type fakeQdrant struct {
	mu          sync.Mutex
	ensureCalls int32
	upserted    []point
	deletes     []map[string]any
	lastSearch  map[string]any
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			atomic.AddInt32(&f.ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			var body struct {
				Points []point `json:"points"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode upsert: %v", err)
			}
			f.upserted = append(f.upserted, body.Points...)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/delete":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.deletes = append(f.deletes, body)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/search":
			_ = json.NewDecoder(r.Body).Decode(&f.lastSearch)
			_, _ = w.Write([]byte(`{"result":[{"score":0.9,"payload":{"chunk_index":1}},{"score":0.5,"payload":{"chunk_index":7}},{"score":0.4,"payload":{"chunk_index":0}}]}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{Content: "alpha", Metadata: domain.ChunkMetadata{Source: "a.pdf", Page: domain.PageRef(1)}},
		{Content: "beta", Metadata: domain.ChunkMetadata{Source: "a.pdf", Page: domain.PageRef(2)}},
		{Content: "gamma", Metadata: domain.ChunkMetadata{Source: "notes.txt"}},
	}
}

func TestBuildAndSearch(t *testing.T) {
	fake := &fakeQdrant{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	builder := NewBuilder(New(server.URL, "docs", nil), staticEmbedder{}, 2)
	idx, err := builder.Build(context.Background(), testChunks())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := atomic.LoadInt32(&fake.ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection once, got %d", got)
	}
	if len(fake.upserted) != 3 {
		t.Fatalf("expected 3 points, got %d", len(fake.upserted))
	}
	if _, ok := fake.upserted[2].Payload["page"]; ok {
		t.Fatalf("expected no page payload for text chunk")
	}
	if len(fake.deletes) != 1 {
		t.Fatalf("expected stale build cleanup, got %d", len(fake.deletes))
	}

	got, err := idx.Search(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "beta" || got[1].Content != "alpha" {
		t.Fatalf("unexpected search result %+v", got)
	}
	filter, _ := json.Marshal(fake.lastSearch["filter"])
	if !strings.Contains(string(filter), "build_id") {
		t.Fatalf("expected build filter in search, got %s", filter)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/docs" {
			http.Error(w, "boom", http.StatusBadRequest)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewBuilder(New(server.URL, "docs", nil), staticEmbedder{}, 0).Build(context.Background(), testChunks())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestEnsureCollectionAcceptsConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/docs" {
			http.Error(w, "exists", http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	if _, err := NewBuilder(New(server.URL, "docs", nil), staticEmbedder{}, 0).Build(context.Background(), testChunks()); err != nil {
		t.Fatalf("expected conflict to be accepted, got %v", err)
	}
}
