package xlsx

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

var resultColumns = []string{
	"question",
	"answer",
	"refused",
	"refusal_reason",
	"answer_relevancy",
	"expected_coverage",
	"contexts",
	"error",
}

// Writer renders an evaluation report as a two-sheet workbook.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Write(report *domain.EvalReport, out io.Writer) error {
	if report == nil {
		return fmt.Errorf("write report: nil report")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for col, name := range resultColumns {
		if err := setCell(f, resultsSheet, col+1, 1, name); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(resultsSheet, "A1", "H1", header); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, r := range report.Results {
		row := i + 2
		values := []any{
			r.Question,
			r.Answer,
			r.Refused,
			string(r.RefusalReason),
			r.AnswerRelevancy,
			r.ExpectedCoverage,
			strings.Join(r.Contexts, "\n---\n"),
			r.Error,
		}
		for col, v := range values {
			if err := setCell(f, resultsSheet, col+1, row, v); err != nil {
				return err
			}
		}
	}
	_ = f.SetColWidth(resultsSheet, "A", "B", 60)
	_ = f.SetColWidth(resultsSheet, "G", "G", 80)

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	summary := [][2]any{
		{"questions", len(report.Results)},
		{"mean_relevancy", report.MeanRelevancy},
		{"mean_expected_coverage", report.MeanExpectedCoverage},
		{"refusal_rate", report.RefusalRate},
	}
	for i, kv := range summary {
		if err := setCell(f, summarySheet, 1, i+1, kv[0]); err != nil {
			return err
		}
		if err := setCell(f, summarySheet, 2, i+1, kv[1]); err != nil {
			return err
		}
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
	}
	return nil
}
