package domain

type EvalCase struct {
	Question string   `json:"question" yaml:"question"`
	Expected []string `json:"expected,omitempty" yaml:"expected,omitempty"`
}

type EvalResult struct {
	Question         string        `json:"question"`
	Answer           string        `json:"answer"`
	Refused          bool          `json:"refused"`
	RefusalReason    RefusalReason `json:"refusal_reason,omitempty"`
	Contexts         []string      `json:"contexts"`
	AnswerRelevancy  float64       `json:"answer_relevancy"`
	ExpectedCoverage float64       `json:"expected_coverage"`
	Error            string        `json:"error,omitempty"`
}

type EvalReport struct {
	Results              []EvalResult `json:"results"`
	MeanRelevancy        float64      `json:"mean_relevancy"`
	MeanExpectedCoverage float64      `json:"mean_expected_coverage"`
	RefusalRate          float64      `json:"refusal_rate"`
}
