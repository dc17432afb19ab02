package usecase

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

type CitationPolicy string

const (
	// CitationFirst attributes every sentence to the top-ranked document.
	CitationFirst CitationPolicy = "first"
	// CitationOverlap attributes each sentence to the ranked document sharing
	// the most tokens with it.
	CitationOverlap CitationPolicy = "overlap"
)

func ParseCitationPolicy(raw string) (CitationPolicy, error) {
	switch CitationPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CitationFirst:
		return CitationFirst, nil
	case CitationOverlap:
		return CitationOverlap, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "parse citation policy", fmt.Errorf("unknown policy %q", raw))
	}
}

type CitationAttacher struct {
	policy CitationPolicy
}

func NewCitationAttacher(policy CitationPolicy) CitationAttacher {
	if policy == "" {
		policy = CitationFirst
	}
	return CitationAttacher{policy: policy}
}

// Attach appends "[id]" to every sentence of answer and returns one citation
// per sentence, ids starting at 1 in sentence order.
func (a CitationAttacher) Attach(answer string, docs []domain.Chunk) (string, []domain.Citation) {
	sentences := SplitSentences(answer)
	citations := make([]domain.Citation, 0, len(sentences))
	if len(docs) == 0 {
		return strings.Join(sentences, " "), citations
	}

	var docTokens []map[string]struct{}
	if a.policy == CitationOverlap {
		docTokens = make([]map[string]struct{}, len(docs))
		for i, doc := range docs {
			docTokens[i] = toTokenSet(doc.Content)
		}
	}

	cited := make([]string, 0, len(sentences))
	for i, sentence := range sentences {
		id := i + 1
		doc := docs[0]
		if a.policy == CitationOverlap {
			doc = docs[bestOverlap(toTokenSet(sentence), docTokens)]
		}
		cited = append(cited, fmt.Sprintf("%s [%d]", sentence, id))
		citations = append(citations, domain.Citation{
			ID:     id,
			Source: doc.Metadata.Source,
			Page:   doc.Metadata.Page,
		})
	}
	return strings.Join(cited, " "), citations
}

// bestOverlap returns the index of the document sharing the most tokens with
// the sentence; ties and zero overlap fall back to the earlier document.
func bestOverlap(sentence map[string]struct{}, docs []map[string]struct{}) int {
	best, bestCount := 0, 0
	for i, doc := range docs {
		count := 0
		for token := range sentence {
			if _, ok := doc[token]; ok {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = i, count
		}
	}
	return best
}

// SplitSentences breaks text after '.', '!' or '?' when followed by
// whitespace. Abbreviations such as "Dr. Smith" are split too.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	out := make([]string, 0, 4)
	var b strings.Builder
	var prev rune
	inGap := false
	for _, r := range text {
		if unicode.IsSpace(r) && (inGap || isSentenceTerminal(prev)) {
			if !inGap && b.Len() > 0 {
				out = append(out, b.String())
				b.Reset()
			}
			inGap = true
			prev = r
			continue
		}
		inGap = false
		b.WriteRune(r)
		prev = r
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func isSentenceTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
