package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/grounded-qa/internal/adapters/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		source string
		ingest bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve ask_documents, ingest_documents and clear_answer_cache over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if ingest {
				if err := ingestSource(ctx, app, source); err != nil {
					return err
				}
			}

			slog.Info("mcp_stdio_started", "preloaded", ingest)
			return mcpadapter.New(app.IngestUC, app.QueryUC, app.Session).ServeStdio()
		},
	}

	cmd.Flags().BoolVar(&ingest, "ingest", true, "Ingest the source document before serving")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Document to ingest (defaults to DEFAULT_SOURCE)")
	return cmd
}
