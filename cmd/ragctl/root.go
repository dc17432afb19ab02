package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-qa/internal/bootstrap"
	"github.com/kirillkom/grounded-qa/internal/config"
	"github.com/kirillkom/grounded-qa/internal/observability/logging"
)

const serviceName = "ragctl"

type rootOptions struct {
	envFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "ragctl",
		Short: "Ask grounded questions over a small document library",
		Long: `ragctl ingests documents from DOCUMENTS_PATH and answers questions
using hybrid lexical and semantic retrieval, reranking and guardrails.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if opts.envFile != "" {
				err = config.LoadDotEnv(opts.envFile)
			} else {
				err = config.LoadDotEnv()
			}
			if err != nil {
				return fmt.Errorf("load env file: %w", err)
			}

			level := config.Load().LogLevel
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			slog.SetDefault(logging.NewJSONLoggerTo(cmd.ErrOrStderr(), serviceName, level))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Path to a .env file (default .env when present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	cmd.AddCommand(
		newDocsCmd(),
		newIngestCmd(),
		newAskCmd(),
		newEvalCmd(),
		newMCPCmd(),
	)
	return cmd
}

func newApp(ctx context.Context) (*bootstrap.App, error) {
	app, err := bootstrap.New(ctx, config.Load(), serviceName)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return app, nil
}
