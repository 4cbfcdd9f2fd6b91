package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/testpulse/admitflow/constants"
)

// Job represents one automation attempt for an Application, for data
// transfer between layers. At most one Job per application is non-terminal
// at any time.
type Job struct {
	ID            uuid.UUID           `json:"id"`
	ApplicationID string              `json:"application_id"`
	Status        constants.JobStatus `json:"status"`
	CurrentStage  string              `json:"current_stage"`
	StageMessage  string              `json:"stage_message"`
	RetryCount    int                 `json:"retry_count"`
	ErrorCount    int                 `json:"error_count"`
	LastError     string              `json:"last_error,omitempty"`
	Screenshots   []string            `json:"error_screenshots,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}
