package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotIngested   = errors.New("documents not ingested yet")
	ErrSourceMissing = errors.New("source document not found")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrTemporary     = errors.New("temporary failure")
	ErrGeneration    = errors.New("answer generation failed")
	ErrIngestion     = errors.New("ingestion failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
