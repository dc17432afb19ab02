package loader

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func pdfPages(source string, raw []byte) (pages []domain.Page, err error) {
	// The pdf package panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parse pdf %s: %v", source, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", source, err)
	}

	total := reader.NumPage()
	pages = make([]domain.Page, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("pdf_page_text_failed", "source", source, "page", i, "error", err)
			continue
		}
		pages = append(pages, domain.Page{
			Source: source,
			Number: domain.PageRef(i),
			Text:   strings.TrimSpace(text),
		})
	}
	return pages, nil
}
