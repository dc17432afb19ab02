package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-qa/internal/bootstrap"
	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

type askOptions struct {
	source  string
	timings bool
	format  string
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [source]",
		Short: "Ingest a document and report chunk count and timing",
		Long: `Ingest loads, chunks and indexes one document from DOCUMENTS_PATH.

The index lives in memory, so this command is mostly useful to check that a
document loads and to measure ingestion time.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := ""
			if len(args) == 1 {
				source = args[0]
			}
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			run, err := app.IngestUC.Ingest(cmd.Context(), source)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %s: %d chunks in %s (run %s)\n",
				run.Source, run.Chunks, run.Duration.Round(time.Millisecond), run.ID)
			return nil
		},
	}
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ingest a document and answer a question from it",
		Long: `Ask ingests the source document, then answers the question using only
the retrieved context. Unsupported questions get a refusal instead of a guess.

Examples:
  ragctl ask "What is the capital of France?"
  ragctl ask --source handbook.md --timings "How do I reset my password?"
  ragctl ask --format json "Who wrote the report?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "Document to ingest (defaults to DEFAULT_SOURCE)")
	cmd.Flags().BoolVar(&opts.timings, "timings", false, "Print the per-stage timing breakdown")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, question string, opts askOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unsupported format %q (expected text or json)", opts.format)
	}

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := ingestSource(ctx, app, opts.source); err != nil {
		return err
	}

	result, err := app.QueryUC.Answer(ctx, question)
	if err != nil {
		return err
	}
	if opts.format == "json" {
		return writeAnswerJSON(out, result, opts.timings)
	}
	writeAnswerText(out, result, opts.timings)
	return nil
}

func ingestSource(ctx context.Context, app *bootstrap.App, source string) error {
	if _, err := app.IngestUC.Ingest(ctx, source); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

func writeAnswerText(out io.Writer, result *domain.QueryResult, withTimings bool) {
	fmt.Fprintln(out, result.Answer)
	if result.Refused() {
		fmt.Fprintf(out, "\n(refused: %s)\n", result.Refusal.Reason)
	}
	if len(result.Citations) > 0 {
		fmt.Fprintln(out)
		for _, c := range result.Citations {
			fmt.Fprintf(out, "[%d] %s\n", c.ID, formatCitation(c))
		}
	}
	if result.Degraded {
		fmt.Fprintln(out, "\nnote: retrieval ran in degraded mode")
	}
	if withTimings {
		t := result.Timings
		fmt.Fprintf(out, "\nretrieval %s, rerank %s, generation %s, total %s\n",
			t.Retrieval.Round(time.Millisecond), t.Rerank.Round(time.Millisecond),
			t.Generation.Round(time.Millisecond), t.Total.Round(time.Millisecond))
	}
}

func formatCitation(c domain.Citation) string {
	if c.Page == nil {
		return c.Source
	}
	return fmt.Sprintf("%s, page %d", c.Source, *c.Page)
}

type answerJSON struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
	Refusal   *domain.Refusal   `json:"refusal,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
	Timings   map[string]int64  `json:"timings,omitempty"`
}

func writeAnswerJSON(out io.Writer, result *domain.QueryResult, withTimings bool) error {
	payload := answerJSON{
		Question:  result.Question,
		Answer:    result.Answer,
		Citations: result.Citations,
		Refusal:   result.Refusal,
		Degraded:  result.Degraded,
	}
	if payload.Citations == nil {
		payload.Citations = []domain.Citation{}
	}
	if withTimings {
		payload.Timings = map[string]int64{
			"retrieval_ms":  result.Timings.Retrieval.Milliseconds(),
			"rerank_ms":     result.Timings.Rerank.Milliseconds(),
			"generation_ms": result.Timings.Generation.Milliseconds(),
			"total_ms":      result.Timings.Total.Milliseconds(),
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
