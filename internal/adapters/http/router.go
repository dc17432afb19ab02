package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/grounded-qa/internal/config"
	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
	"github.com/kirillkom/grounded-qa/internal/observability/metrics"
)

const (
	serviceName       = "api"
	maxUploadBytes    = 32 << 20
	maxJSONBodyBytes  = 1 << 20
	multipartMemBytes = 8 << 20
)

// Services are the inbound ports served over HTTP.
type Services struct {
	Ingestor  ports.Ingestor
	Queries   ports.QueryService
	Runs      ports.IngestionReader
	Documents ports.DocumentLibrary
	Cache     ports.AnswerCacheClearer
}

type Router struct {
	cfg config.Config
	svc Services

	metrics       *metrics.HTTPServerMetrics
	ingestMetrics *metrics.IngestionMetrics
	mcp           http.Handler
}

type Option func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics, ingest *metrics.IngestionMetrics) Option {
	return func(rt *Router) {
		rt.metrics = m
		rt.ingestMetrics = ingest
	}
}

// WithMCPHandler mounts a streamable MCP endpoint at /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(rt *Router) {
		rt.mcp = h
	}
}

func NewRouter(cfg config.Config, svc Services, opts ...Option) *Router {
	rt := &Router{cfg: cfg, svc: svc}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openAPISpec)
	mux.HandleFunc("POST /v1/ingest", rt.ingest)
	mux.HandleFunc("GET /v1/ingestions/{id}", rt.getIngestion)
	mux.HandleFunc("GET /v1/query", rt.queryGet)
	mux.HandleFunc("POST /v1/query", rt.queryPost)
	mux.HandleFunc("POST /v1/cache/clear", rt.clearCache)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("POST /v1/documents", rt.addDocument)
	mux.HandleFunc("DELETE /v1/documents/{name}", rt.removeDocument)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	if rt.mcp != nil {
		mux.Handle("/mcp", rt.mcp)
	}

	var handler http.Handler = mux
	if rt.cfg.OpenAPIValidation {
		validator, err := newRequestValidator()
		if err != nil {
			return nil, err
		}
		handler = validator.middleware(handler)
	}
	handler = rt.trafficControl(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler), nil
}

// trafficControl applies backpressure and rate limiting to API routes only,
// leaving health and metrics probes untouched.
func (rt *Router) trafficControl(next http.Handler) http.Handler {
	var onReject func(string)
	if rt.metrics != nil {
		onReject = func(reason string) { rt.metrics.RecordRejected(serviceName, reason) }
	}
	limited := backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.BackpressureWait(), onReject)
	limited = rateLimitMiddleware(limited, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/mcp" {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	Source string `json:"source"`
}

type ingestionResponse struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Chunks     int     `json:"chunks"`
	DurationMS float64 `json:"duration_ms"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
}

func newIngestionResponse(run *domain.IngestionRun) ingestionResponse {
	return ingestionResponse{
		ID:         run.ID,
		Source:     run.Source,
		Chunks:     run.Chunks,
		DurationMS: millis(run.Duration),
		Status:     string(run.Status),
		Error:      run.Error,
	}
}

func (rt *Router) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if rt.ingestMetrics != nil {
		rt.ingestMetrics.StartRun()
	}
	start := time.Now()
	run, err := rt.svc.Ingestor.Ingest(r.Context(), req.Source)
	if rt.ingestMetrics != nil {
		chunks := 0
		if run != nil {
			chunks = run.Chunks
		}
		rt.ingestMetrics.FinishRun(serviceName, "http", chunks, time.Since(start), err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newIngestionResponse(run))
}

func (rt *Router) getIngestion(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "get ingestion", errors.New("id is required")))
		return
	}

	run, err := rt.svc.Runs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newIngestionResponse(run))
}

type queryRequest struct {
	Question string `json:"question"`
	Timings  bool   `json:"timings"`
}

type timingsResponse struct {
	RetrievalMS  float64 `json:"retrieval_ms"`
	RerankMS     float64 `json:"rerank_ms"`
	GenerationMS float64 `json:"generation_ms"`
	TotalMS      float64 `json:"total_ms"`
}

type queryResponse struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
	Refusal   *domain.Refusal   `json:"refusal,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
	Timings   *timingsResponse  `json:"timings,omitempty"`
}

func (rt *Router) queryGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	withTimings := false
	if raw := query.Get("timings"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "query", fmt.Errorf("timings must be a boolean, got %q", raw)))
			return
		}
		withTimings = parsed
	}
	rt.answer(w, r, queryRequest{Question: query.Get("q"), Timings: withTimings})
}

func (rt *Router) queryPost(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rt.answer(w, r, req)
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request, req queryRequest) {
	result, err := rt.svc.Queries.Answer(r.Context(), req.Question)
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordQueryError(serviceName)
		}
		writeError(w, r, err)
		return
	}
	rt.recordQuery(result)

	citations := result.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	resp := queryResponse{
		Question:  result.Question,
		Answer:    result.Answer,
		Citations: citations,
		Refusal:   result.Refusal,
		Degraded:  result.Degraded,
	}
	if req.Timings {
		resp.Timings = &timingsResponse{
			RetrievalMS:  millis(result.Timings.Retrieval),
			RerankMS:     millis(result.Timings.Rerank),
			GenerationMS: millis(result.Timings.Generation),
			TotalMS:      millis(result.Timings.Total),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) recordQuery(result *domain.QueryResult) {
	if rt.metrics == nil {
		return
	}
	obs := metrics.QueryObservation{
		Degraded:   result.Degraded,
		Citations:  len(result.Citations),
		Retrieval:  result.Timings.Retrieval,
		Rerank:     result.Timings.Rerank,
		Generation: result.Timings.Generation,
		Total:      result.Timings.Total,
	}
	if result.Refused() {
		obs.RefusalReason = string(result.Refusal.Reason)
	}
	rt.metrics.RecordQuery(serviceName, obs)
}

func (rt *Router) clearCache(w http.ResponseWriter, _ *http.Request) {
	rt.svc.Cache.ClearAnswerCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.svc.Documents.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.StoredDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) addDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemBytes); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload document", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("multipart field 'file' is required")))
		return
	}
	defer file.Close()

	doc, err := rt.svc.Documents.Add(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) removeDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.Documents.Remove(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	requestID := requestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestID, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

// decodeOptionalJSON accepts an empty body as the zero value.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
