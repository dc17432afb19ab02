package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/report/xlsx"
)

type evalOptions struct {
	questions string
	out       string
	source    string
}

func newEvalCmd() *cobra.Command {
	var opts evalOptions

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Answer a question set and write a scored XLSX report",
		Long: `Eval ingests the source document, answers every question from a YAML file
and scores answer relevancy against the retrieved context.

The questions file is either a list or a document with a questions key:

  questions:
    - question: What is the capital of France?
      expected: [Paris]
    - question: Who signed the treaty?`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEval(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.questions, "questions", "q", "", "YAML file with evaluation questions")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "report.xlsx", "Output XLSX report path")
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "Document to ingest (defaults to DEFAULT_SOURCE)")
	_ = cmd.MarkFlagRequired("questions")
	return cmd
}

func runEval(ctx context.Context, out io.Writer, opts evalOptions) error {
	cases, err := loadEvalCases(opts.questions)
	if err != nil {
		return err
	}

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := ingestSource(ctx, app, opts.source); err != nil {
		return err
	}

	report, err := app.EvalUC.Run(ctx, cases)
	if err != nil {
		return err
	}

	if err := writeReportFile(opts.out, report); err != nil {
		return err
	}

	fmt.Fprintf(out, "questions: %d\nmean relevancy: %.3f\nrefusal rate: %.3f\n",
		len(report.Results), report.MeanRelevancy, report.RefusalRate)
	if hasExpected(cases) {
		fmt.Fprintf(out, "mean expected coverage: %.3f\n", report.MeanExpectedCoverage)
	}
	fmt.Fprintf(out, "report written to %s\n", opts.out)
	return nil
}

type evalFile struct {
	Questions []domain.EvalCase `yaml:"questions"`
}

func loadEvalCases(path string) ([]domain.EvalCase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return parseEvalCases(raw)
}

func parseEvalCases(raw []byte) ([]domain.EvalCase, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, errors.New("questions file is empty")
	}

	var cases []domain.EvalCase
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&cases); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
	case yaml.MappingNode:
		var file evalFile
		if err := root.Decode(&file); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
		cases = file.Questions
	default:
		return nil, errors.New("questions file must be a list or contain a questions key")
	}

	out := cases[:0]
	for _, tc := range cases {
		tc.Question = strings.TrimSpace(tc.Question)
		if tc.Question == "" {
			continue
		}
		out = append(out, tc)
	}
	if len(out) == 0 {
		return nil, errors.New("questions file contains no questions")
	}
	return out, nil
}

func hasExpected(cases []domain.EvalCase) bool {
	for _, tc := range cases {
		if len(tc.Expected) > 0 {
			return true
		}
	}
	return false
}

func writeReportFile(path string, report *domain.EvalReport) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close report: %w", closeErr)
		}
	}()
	return xlsx.NewWriter().Write(report, file)
}
