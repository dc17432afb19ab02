package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/grounded-qa/internal/config"
	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/observability/metrics"
)

type ingestorFake struct {
	run    *domain.IngestionRun
	err    error
	source string
}

func (f *ingestorFake) Ingest(_ context.Context, source string) (*domain.IngestionRun, error) {
	f.source = source
	return f.run, f.err
}

type queriesFake struct {
	result   *domain.QueryResult
	err      error
	question string
}

func (f *queriesFake) Answer(_ context.Context, question string) (*domain.QueryResult, error) {
	f.question = question
	return f.result, f.err
}

type runsFake struct {
	runs map[string]*domain.IngestionRun
}

func (f runsFake) GetByID(_ context.Context, id string) (*domain.IngestionRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get ingestion run", errors.New("id="+id))
	}
	return run, nil
}

type documentsFake struct {
	docs    []domain.StoredDocument
	added   string
	body    string
	removed string
}

func (f *documentsFake) List(context.Context) ([]domain.StoredDocument, error) {
	return f.docs, nil
}

func (f *documentsFake) Add(_ context.Context, name string, body io.Reader) (*domain.StoredDocument, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(name, ".txt") {
		return nil, domain.WrapError(domain.ErrInvalidInput, "add document", errors.New("unsupported extension"))
	}
	f.added, f.body = name, string(raw)
	return &domain.StoredDocument{Name: name, SizeBytes: int64(len(raw))}, nil
}

func (f *documentsFake) Remove(_ context.Context, name string) error {
	if name == "missing.txt" {
		return domain.WrapError(domain.ErrNotFound, "remove document", errors.New(name))
	}
	f.removed = name
	return nil
}

type cacheFake struct{ cleared int }

func (f *cacheFake) ClearAnswerCache() { f.cleared++ }

type routerFixture struct {
	ingestor  *ingestorFake
	queries   *queriesFake
	documents *documentsFake
	cache     *cacheFake
	metrics   *metrics.HTTPServerMetrics
	handler   http.Handler
}

func newRouterFixture(t *testing.T, cfg config.Config) *routerFixture {
	t.Helper()
	page := 1
	f := &routerFixture{
		ingestor: &ingestorFake{run: &domain.IngestionRun{
			ID: "run-1", Source: "sample.pdf", Chunks: 12, Duration: 1500 * time.Millisecond, Status: domain.IngestionCompleted,
		}},
		queries: &queriesFake{result: &domain.QueryResult{
			Question:  "What is the capital of France?",
			Answer:    "Paris is the capital of France.",
			Citations: []domain.Citation{{ID: 1, Source: "sample.pdf", Page: &page}},
			Timings:   domain.QueryTimings{Retrieval: 2 * time.Millisecond, Total: 10 * time.Millisecond},
		}},
		documents: &documentsFake{docs: []domain.StoredDocument{{Name: "sample.pdf", SizeBytes: 10}}},
		cache:     &cacheFake{},
		metrics:   metrics.NewHTTPServerMetrics("test"),
	}
	rt := NewRouter(cfg, Services{
		Ingestor:  f.ingestor,
		Queries:   f.queries,
		Runs:      runsFake{runs: map[string]*domain.IngestionRun{"run-1": f.ingestor.run}},
		Documents: f.documents,
		Cache:     f.cache,
	}, WithMetrics(f.metrics, metrics.NewIngestionMetrics(f.metrics.Registerer(), "test")))
	handler, err := rt.Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	f.handler = handler
	return f
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func jsonRequest(method, path string, payload any) *http.Request {
	raw, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthzEndpoint(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})
	res := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestIngestReturnsChunkCountAndDuration(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})
	res := f.do(jsonRequest(http.MethodPost, "/v1/ingest", map[string]string{"source": "sample.pdf"}))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["chunks"] != float64(12) {
		t.Fatalf("expected 12 chunks, got %v", body["chunks"])
	}
	if body["duration_ms"] != float64(1500) {
		t.Fatalf("expected duration 1500ms, got %v", body["duration_ms"])
	}
	if f.ingestor.source != "sample.pdf" {
		t.Fatalf("expected source forwarded, got %q", f.ingestor.source)
	}
}

func TestIngestAcceptsEmptyBody(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})
	res := f.do(httptest.NewRequest(http.MethodPost, "/v1/ingest", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if f.ingestor.source != "" {
		t.Fatalf("expected empty source, got %q", f.ingestor.source)
	}
}

func TestIngestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"missing source", domain.WrapError(domain.ErrSourceMissing, "ingest", errors.New("nope.pdf")), http.StatusNotFound},
		{"build failure", domain.WrapError(domain.ErrIngestion, "ingest sample.pdf", domain.WrapError(domain.ErrTemporary, "embed", errors.New("down"))), http.StatusInternalServerError},
		{"bad name", domain.WrapError(domain.ErrInvalidInput, "validate source", errors.New("../x")), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRouterFixture(t, config.Config{})
			f.ingestor.err = tc.err
			res := f.do(jsonRequest(http.MethodPost, "/v1/ingest", map[string]string{}))
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestGetIngestionByID(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})
	if res := f.do(httptest.NewRequest(http.MethodGet, "/v1/ingestions/run-1", nil)); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res := f.do(httptest.NewRequest(http.MethodGet, "/v1/ingestions/unknown", nil)); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestQueryPostReturnsAnswerWithoutTimingsByDefault(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})
	res := f.do(jsonRequest(http.MethodPost, "/v1/query", map[string]any{"question": "What is the capital of France?"}))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["answer"] != "Paris is the capital of France." {
		t.Fatalf("unexpected answer: %v", body["answer"])
	}
	citations, ok := body["citations"].([]any)
	if !ok || len(citations) != 1 {
		t.Fatalf("expected one citation, got %v", body["citations"])
	}
	if _, ok := body["timings"]; ok {
		t.Fatalf("expected timings omitted, got %v", body["timings"])
	}
}

func TestQueryGetWithTimings(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})
	res := f.do(httptest.NewRequest(http.MethodGet, "/v1/query?q=capital&timings=true", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	timings, ok := body["timings"].(map[string]any)
	if !ok {
		t.Fatalf("expected timings object, got %v", body["timings"])
	}
	if timings["total_ms"] != float64(10) {
		t.Fatalf("expected total 10ms, got %v", timings["total_ms"])
	}
	if f.queries.question != "capital" {
		t.Fatalf("expected question forwarded, got %q", f.queries.question)
	}
}

func TestQueryRefusalIsSuccessfulResponse(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	f.queries.result = domain.NewRefusalResult("q", domain.RefusalWeakContext, "context too short")
	res := f.do(jsonRequest(http.MethodPost, "/v1/query", map[string]any{"question": "q"}))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["answer"] != domain.RefusalAnswer {
		t.Fatalf("expected canned refusal, got %v", body["answer"])
	}
	if citations, _ := body["citations"].([]any); len(citations) != 0 {
		t.Fatalf("expected empty citations, got %v", body["citations"])
	}
}

func TestQueryBeforeIngestionReturns400(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	f.queries.err = domain.WrapError(domain.ErrNotIngested, "answer", errors.New("no snapshot"))
	res := f.do(jsonRequest(http.MethodPost, "/v1/query", map[string]any{"question": "q"}))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if decodeBody(t, res)["request_id"] == "" {
		t.Fatalf("expected request id in error body")
	}
}

func TestOpenAPIValidationRejectsMissingQuestion(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})
	res := f.do(jsonRequest(http.MethodPost, "/v1/query", map[string]any{"timings": true}))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if f.queries.question != "" {
		t.Fatalf("expected handler not to run, got question %q", f.queries.question)
	}

	res = f.do(httptest.NewRequest(http.MethodGet, "/v1/query", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing q, got %d", res.Code)
	}
}

func TestQueryPostInvalidJSON(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	if res := f.do(req); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestClearCache(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})
	res := f.do(httptest.NewRequest(http.MethodPost, "/v1/cache/clear", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if f.cache.cleared != 1 {
		t.Fatalf("expected one clear, got %d", f.cache.cleared)
	}
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestDocumentsLifecycle(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})

	res := f.do(httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", res.Code)
	}
	if docs, _ := decodeBody(t, res)["documents"].([]any); len(docs) != 1 {
		t.Fatalf("list: expected one document, got %v", docs)
	}

	res = f.do(multipartUpload(t, "notes.txt", "hello"))
	if res.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if f.documents.added != "notes.txt" || f.documents.body != "hello" {
		t.Fatalf("upload: unexpected stored document %q %q", f.documents.added, f.documents.body)
	}

	res = f.do(multipartUpload(t, "image.png", "binary"))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("upload unsupported: expected 400, got %d", res.Code)
	}

	res = f.do(httptest.NewRequest(http.MethodDelete, "/v1/documents/notes.txt", nil))
	if res.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", res.Code)
	}
	if f.documents.removed != "notes.txt" {
		t.Fatalf("delete: expected notes.txt removed, got %q", f.documents.removed)
	}

	res = f.do(httptest.NewRequest(http.MethodDelete, "/v1/documents/missing.txt", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("delete missing: expected 404, got %d", res.Code)
	}
}

func TestUploadDocumentMissingMultipartField(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	if res := f.do(req); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestOpenAPIDocumentServed(t *testing.T) {
	f := newRouterFixture(t, config.Config{OpenAPIValidation: true})
	res := f.do(httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "/v1/query") {
		t.Fatalf("expected query path in document")
	}
}

func TestMetricsEndpointRecordsRefusals(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	f.queries.result = domain.NewRefusalResult("q", domain.RefusalNoResults, "")
	f.do(jsonRequest(http.MethodPost, "/v1/query", map[string]any{"question": "q"}))

	res := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `gqa_rag_refusals_total{reason="no_results",service="api"} 1`) {
		t.Fatalf("expected refusal counter, got:\n%s", res.Body.String())
	}
}

func TestRateLimitReturns429WithRetryAfter(t *testing.T) {
	f := newRouterFixture(t, config.Config{APIRateLimitRPS: 1, APIRateLimitBurst: 1})

	if res := f.do(httptest.NewRequest(http.MethodGet, "/v1/documents", nil)); res.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res.Code)
	}
	res := f.do(httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}

	if res := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); res.Code != http.StatusOK {
		t.Fatalf("expected health probe exempt from rate limit, got %d", res.Code)
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)
	rejected := make(chan string, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond, func(reason string) { rejected <- reason })

	go func() {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
		done <- res.Code
	}()

	<-started

	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}
	if reason := <-rejected; reason != "backpressure" {
		t.Fatalf("expected backpressure reject reason, got %q", reason)
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}
