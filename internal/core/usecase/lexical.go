package usecase

import (
	"container/heap"
	"math"
	"sort"
	"strings"
)

const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

// LexicalScorer is an Okapi BM25 scorer over a fixed corpus. Position i in
// the corpus is position i in the document store it was built from.
type LexicalScorer struct {
	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	idf       map[string]float64
}

// NewLexicalScorer builds corpus statistics once. Tokens are whitespace
// separated and case-sensitive.
func NewLexicalScorer(documents []string) *LexicalScorer {
	s := &LexicalScorer{
		termFreqs: make([]map[string]int, len(documents)),
		docLens:   make([]int, len(documents)),
		idf:       make(map[string]float64),
	}

	docFreq := make(map[string]int)
	totalLen := 0
	for i, doc := range documents {
		tokens := strings.Fields(doc)
		freqs := make(map[string]int, len(tokens))
		for _, token := range tokens {
			freqs[token]++
		}
		for token := range freqs {
			docFreq[token]++
		}
		s.termFreqs[i] = freqs
		s.docLens[i] = len(tokens)
		totalLen += len(tokens)
	}
	if len(documents) > 0 {
		s.avgDocLen = float64(totalLen) / float64(len(documents))
	}

	// Terms present in more than half the corpus get a negative idf; those are
	// floored to a fraction of the average idf.
	n := float64(len(documents))
	idfSum := 0.0
	negative := make([]string, 0)
	for token, freq := range docFreq {
		idf := math.Log(n-float64(freq)+0.5) - math.Log(float64(freq)+0.5)
		s.idf[token] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, token)
		}
	}
	if len(docFreq) > 0 {
		floor := bm25Epsilon * idfSum / float64(len(docFreq))
		for _, token := range negative {
			s.idf[token] = floor
		}
	}
	return s
}

func (s *LexicalScorer) Len() int {
	return len(s.docLens)
}

// Scores returns one score per corpus document for the query.
func (s *LexicalScorer) Scores(query string) []float64 {
	scores := make([]float64, len(s.docLens))
	if len(scores) == 0 {
		return scores
	}
	for _, term := range strings.Fields(query) {
		idf, ok := s.idf[term]
		if !ok {
			continue
		}
		for i, freqs := range s.termFreqs {
			tf := float64(freqs[term])
			if tf == 0 {
				continue
			}
			norm := 1.0
			if s.avgDocLen > 0 {
				norm = 1 - bm25B + bm25B*float64(s.docLens[i])/s.avgDocLen
			}
			scores[i] += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*norm)
		}
	}
	return scores
}

// LexicalHit is a corpus position with its BM25 score.
type LexicalHit struct {
	Index int
	Score float64
}

// TopK returns the k best corpus positions, highest score first. Equal
// scores keep ascending corpus order.
func (s *LexicalScorer) TopK(query string, k int) []LexicalHit {
	scores := s.Scores(query)
	if k <= 0 || len(scores) == 0 {
		return nil
	}
	if k > len(scores) {
		k = len(scores)
	}

	h := make(worstFirstHeap, 0, k)
	for i, score := range scores {
		item := LexicalHit{Index: i, Score: score}
		if len(h) < k {
			heap.Push(&h, item)
			continue
		}
		if ranksBefore(item, h[0]) {
			h[0] = item
			heap.Fix(&h, 0)
		}
	}

	out := []LexicalHit(h)
	sort.Slice(out, func(i, j int) bool { return ranksBefore(out[i], out[j]) })
	return out
}

func ranksBefore(a, b LexicalHit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Index < b.Index
}

// worstFirstHeap keeps the weakest of the current top-k at the root.
type worstFirstHeap []LexicalHit

func (h worstFirstHeap) Len() int           { return len(h) }
func (h worstFirstHeap) Less(i, j int) bool { return ranksBefore(h[j], h[i]) }
func (h worstFirstHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *worstFirstHeap) Push(x any) {
	*h = append(*h, x.(LexicalHit))
}

func (h *worstFirstHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
