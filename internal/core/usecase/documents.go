package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

var supportedExtensions = map[string]struct{}{
	".pdf": {},
	".txt": {},
	".md":  {},
}

type DocumentsUseCase struct {
	storage ports.ObjectStorage
}

func NewDocumentsUseCase(storage ports.ObjectStorage) *DocumentsUseCase {
	return &DocumentsUseCase{storage: storage}
}

func (uc *DocumentsUseCase) List(ctx context.Context) ([]domain.StoredDocument, error) {
	docs, err := uc.storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	filtered := make([]domain.StoredDocument, 0, len(docs))
	for _, doc := range docs {
		if IsSupportedDocument(doc.Name) {
			filtered = append(filtered, doc)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })
	return filtered, nil
}

func (uc *DocumentsUseCase) Add(ctx context.Context, name string, body io.Reader) (*domain.StoredDocument, error) {
	key := sanitizeFilename(name)
	if key == "" || key == "." || key == "_" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "add document", errors.New("file name is required"))
	}
	if !IsSupportedDocument(key) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "add document", fmt.Errorf("unsupported file type %q", filepath.Ext(key)))
	}
	if err := uc.storage.Save(ctx, key, body); err != nil {
		return nil, fmt.Errorf("save document %s: %w", key, err)
	}
	doc, err := uc.storage.Stat(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("stat document %s: %w", key, err)
	}
	return doc, nil
}

func (uc *DocumentsUseCase) Remove(ctx context.Context, name string) error {
	if err := validateSourceName(name); err != nil {
		return err
	}
	if err := uc.storage.Remove(ctx, name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WrapError(domain.ErrNotFound, "remove document", fmt.Errorf("%s does not exist", name))
		}
		return fmt.Errorf("remove document %s: %w", name, err)
	}
	return nil
}

// IsSupportedDocument reports whether name has an ingestible extension.
func IsSupportedDocument(name string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = strings.ReplaceAll(base, " ", "_")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
}
