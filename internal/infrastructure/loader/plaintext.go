package loader

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

func textPages(source string, raw []byte) ([]domain.Page, error) {
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load text", fmt.Errorf("%s is not valid UTF-8", source))
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return []domain.Page{}, nil
	}
	return []domain.Page{{Source: source, Text: text}}, nil
}
