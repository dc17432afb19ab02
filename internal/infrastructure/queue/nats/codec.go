package nats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

type ingestRequest struct {
	Source string `json:"source"`
}

type ingestionEvent struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Chunks     int       `json:"chunks"`
	DurationMS float64   `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// decodeIngestRequest accepts {"source": "..."} or a bare file name. An
// empty body selects the default source.
func decodeIngestRequest(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil
	}
	if data[0] != '{' {
		return string(data), nil
	}
	var req ingestRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", fmt.Errorf("decode ingest request: %w", err)
	}
	return req.Source, nil
}

func encodeIngestionEvent(run *domain.IngestionRun) ([]byte, error) {
	if run == nil {
		return nil, fmt.Errorf("encode ingestion event: nil run")
	}
	return json.Marshal(ingestionEvent{
		ID:         run.ID,
		Source:     run.Source,
		Status:     string(run.Status),
		Chunks:     run.Chunks,
		DurationMS: float64(run.Duration.Microseconds()) / 1000.0,
		FinishedAt: run.FinishedAt,
	})
}
