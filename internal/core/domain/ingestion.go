package domain

import "time"

type IngestionStatus string

const (
	IngestionRunning   IngestionStatus = "running"
	IngestionCompleted IngestionStatus = "completed"
	IngestionFailed    IngestionStatus = "failed"
)

type IngestionRun struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Chunks     int             `json:"chunks"`
	Duration   time.Duration   `json:"-"`
	Status     IngestionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// StoredDocument is a source file available for ingestion.
type StoredDocument struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}
