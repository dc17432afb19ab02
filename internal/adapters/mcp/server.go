// Package mcpadapter exposes the question answering pipeline as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const (
	serverName    = "grounded-qa"
	serverVersion = "1.0.0"
)

type Server struct {
	mcp      *server.MCPServer
	ingestor ports.Ingestor
	queries  ports.QueryService
	cache    ports.AnswerCacheClearer
}

func New(ingestor ports.Ingestor, queries ports.QueryService, cache ports.AnswerCacheClearer) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false)),
		ingestor: ingestor,
		queries:  queries,
		cache:    cache,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Answer a question using only the ingested documents. Returns the answer with per-sentence citations, or a refusal when the documents do not support an answer."),
			mcp.WithString("question", mcp.Required(), mcp.Description("Natural-language question.")),
		),
		s.askDocuments,
	)
	s.mcp.AddTool(
		mcp.NewTool("ingest_documents",
			mcp.WithDescription("Rebuild the document index from a source file in the documents directory."),
			mcp.WithString("source", mcp.Description("File name inside the documents directory. Defaults to the configured source.")),
		),
		s.ingestDocuments,
	)
	s.mcp.AddTool(
		mcp.NewTool("clear_answer_cache",
			mcp.WithDescription("Drop all memoized answers."),
		),
		s.clearAnswerCache,
	)
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// ServeStdio blocks serving the stdio transport until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) askDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.queries.Answer(ctx, question)
	if err != nil {
		return toolError("ask_documents", err), nil
	}
	return jsonResult(askResult{
		Answer:    result.Answer,
		Citations: result.Citations,
		Refusal:   result.Refusal,
		Degraded:  result.Degraded,
	})
}

type askResult struct {
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
	Refusal   *domain.Refusal   `json:"refusal,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
}

func (s *Server) ingestDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := s.ingestor.Ingest(ctx, req.GetString("source", ""))
	if err != nil {
		return toolError("ingest_documents", err), nil
	}
	return jsonResult(map[string]any{
		"id":          run.ID,
		"source":      run.Source,
		"chunks":      run.Chunks,
		"duration_ms": run.Duration.Milliseconds(),
		"status":      run.Status,
	})
}

func (s *Server) clearAnswerCache(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.cache.ClearAnswerCache()
	return mcp.NewToolResultText("answer cache cleared"), nil
}

// toolError reports failures in-band so the client model can read them.
func toolError(tool string, err error) *mcp.CallToolResult {
	slog.Warn("mcp_tool_failed", "tool", tool, "error", err)
	switch {
	case domain.IsKind(err, domain.ErrNotIngested):
		return mcp.NewToolResultError("documents are not ingested yet; call ingest_documents first")
	case domain.IsKind(err, domain.ErrSourceMissing):
		return mcp.NewToolResultError(fmt.Sprintf("source document not found: %v", err))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
