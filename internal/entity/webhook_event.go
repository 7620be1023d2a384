package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the append-only audit record of one inbound callback.
type WebhookEvent struct {
	ID              uuid.UUID       `json:"id"`
	Provider        string          `json:"provider"`
	JobID           *uuid.UUID      `json:"job_id,omitempty"`
	TaskID          *string         `json:"task_id,omitempty"`
	ProviderPayload json.RawMessage `json:"provider_payload"`
	Processed       bool            `json:"processed"`
	ProcessingError *string         `json:"processing_error,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

// JobRef renders the owning job id, or "unknown" while unmatched.
func (e WebhookEvent) JobRef() string {
	if e.JobID == nil {
		return "unknown"
	}
	return e.JobID.String()
}
