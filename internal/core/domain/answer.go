package domain

import "time"

// RefusalAnswer is returned verbatim whenever a guardrail trips.
const RefusalAnswer = "I don't know based on the provided documents."

type RefusalReason string

const (
	RefusalNoResults     RefusalReason = "no_results"
	RefusalWeakContext   RefusalReason = "weak_context"
	RefusalHallucination RefusalReason = "hallucination"
	RefusalTimeout       RefusalReason = "timeout"
)

// Refusal is a deliberate insufficient-evidence outcome. It is a value,
// not an error.
type Refusal struct {
	Reason RefusalReason `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

type Citation struct {
	ID     int    `json:"id"`
	Source string `json:"source"`
	Page   *int   `json:"page"`
}

type QueryTimings struct {
	Retrieval  time.Duration `json:"-"`
	Rerank     time.Duration `json:"-"`
	Generation time.Duration `json:"-"`
	Total      time.Duration `json:"-"`
}

type QueryResult struct {
	Question  string       `json:"question"`
	Answer    string       `json:"answer"`
	RawAnswer string       `json:"-"`
	Citations []Citation   `json:"citations"`
	Refusal   *Refusal     `json:"refusal,omitempty"`
	Sources   []Chunk      `json:"-"`
	Context   string       `json:"-"`
	Degraded  bool         `json:"degraded,omitempty"`
	Timings   QueryTimings `json:"-"`
}

func (r *QueryResult) Refused() bool {
	return r != nil && r.Refusal != nil
}

func NewRefusalResult(question string, reason RefusalReason, detail string) *QueryResult {
	return &QueryResult{
		Question:  question,
		Answer:    RefusalAnswer,
		Citations: []Citation{},
		Refusal:   &Refusal{Reason: reason, Detail: detail},
	}
}
