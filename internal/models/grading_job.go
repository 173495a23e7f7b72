package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Grading job status enums. complete and failed are terminal;
// completed_at is set iff the job is terminal.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

type GradingJob struct {
	ID              uuid.UUID       `json:"id"`
	SubmissionID    uuid.UUID       `json:"submission_id"`
	AccountID       uuid.UUID       `json:"account_id"`
	Status          string          `json:"status"`
	CostCredits     int             `json:"cost_credits"`
	QueuedAt        time.Time       `json:"queued_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	PercentageLower *float64        `json:"percentage_lower,omitempty"`
	PercentageUpper *float64        `json:"percentage_upper,omitempty"`
	Feedback        json.RawMessage `json:"feedback,omitempty"`
	ModelResults    json.RawMessage `json:"model_results,omitempty"`
	TotalCostUSD    *float64        `json:"total_cost_usd,omitempty"`
}

// ModelResult is one element of GradingJob.ModelResults: the raw outcome of
// a single provider run and whether consensus included it.
type ModelResult struct {
	ProviderID string  `json:"provider_id"`
	Percentage float64 `json:"percentage"`
	Included   bool    `json:"included"`
	CostUSD    float64 `json:"cost_usd"`
}
