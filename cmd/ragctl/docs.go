package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage documents available for ingestion",
	}
	cmd.AddCommand(newDocsListCmd(), newDocsAddCmd(), newDocsRemoveCmd())
	return cmd
}

func newDocsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents in DOCUMENTS_PATH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDocsList(cmd.Context(), cmd)
		},
	}
}

func runDocsList(ctx context.Context, cmd *cobra.Command) error {
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	docs, err := app.DocumentUC.List(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no documents")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tUPDATED")
	for _, doc := range docs {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", doc.Name, doc.SizeBytes, doc.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func newDocsAddCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Copy a .pdf, .txt or .md file into DOCUMENTS_PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocsAdd(cmd.Context(), cmd, args[0], name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Stored file name (defaults to the base name of <file>)")
	return cmd
}

func runDocsAdd(ctx context.Context, cmd *cobra.Command, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if name == "" {
		name = filepath.Base(path)
	}

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	doc, err := app.DocumentUC.Add(ctx, name, file)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %s (%d bytes)\n", doc.Name, doc.SizeBytes)
	return nil
}

func newDocsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a document from DOCUMENTS_PATH",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.DocumentUC.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}
