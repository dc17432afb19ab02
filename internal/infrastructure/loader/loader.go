package loader

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

// Loader reads a stored source document into ordered pages. PDFs yield one
// page per PDF page, numbered from 1; text and markdown files yield a single
// page without a number.
type Loader struct {
	storage ports.ObjectStorage
}

func New(storage ports.ObjectStorage) *Loader {
	return &Loader{storage: storage}
}

func (l *Loader) Load(ctx context.Context, source string) ([]domain.Page, error) {
	reader, err := l.storage.Open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".pdf":
		return pdfPages(source, raw)
	case ".txt", ".md":
		return textPages(source, raw)
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "load document", fmt.Errorf("unsupported format: %s", source))
	}
}
