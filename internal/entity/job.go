package entity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further processor attempts may touch the job.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Category is the kind of generation requested.
type Category string

const (
	CategoryTextToImage        Category = "TEXT_TO_IMAGE"
	CategoryImageToImage       Category = "IMAGE_TO_IMAGE"
	CategoryTextToVideo        Category = "TEXT_TO_VIDEO"
	CategoryImageToVideo       Category = "IMAGE_TO_VIDEO"
	CategoryAudioToVideo       Category = "AUDIO_TO_VIDEO"
	CategoryStoryboardToVideo  Category = "STORYBOARD_TO_VIDEO"
	CategoryTextToMusic        Category = "TEXT_TO_MUSIC"
	CategorySpeechToText       Category = "SPEECH_TO_TEXT"
	CategoryTextToSpeechSingle Category = "TEXT_TO_SPEECH_SINGLE"
	CategoryTextToSpeechMulti  Category = "TEXT_TO_SPEECH_MULTI"
)

var categories = []Category{
	CategoryTextToImage,
	CategoryImageToImage,
	CategoryTextToVideo,
	CategoryImageToVideo,
	CategoryAudioToVideo,
	CategoryStoryboardToVideo,
	CategoryTextToMusic,
	CategorySpeechToText,
	CategoryTextToSpeechSingle,
	CategoryTextToSpeechMulti,
}

// ParseCategory accepts both the enum form (TEXT_TO_IMAGE) and the route
// slug form (text-to-image).
func ParseCategory(s string) (Category, bool) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, c := range categories {
		if string(c) == norm {
			return c, true
		}
	}
	return "", false
}

// Slug returns the kebab-case form used in routes.
func (c Category) Slug() string {
	return strings.ToLower(strings.ReplaceAll(string(c), "_", "-"))
}

const DefaultMaxRetries = 3

type Job struct {
	ID               uuid.UUID       `json:"id"`
	ProviderID       uuid.UUID       `json:"provider_id"`
	ProviderSlug     string          `json:"provider"`
	ModelID          string          `json:"model_id"`
	Category         Category        `json:"category"`
	Priority         int             `json:"priority"`
	Status           JobStatus       `json:"status"`
	RequestData      json.RawMessage `json:"request_data"`
	ProviderRequest  json.RawMessage `json:"provider_request,omitempty"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	ResponseData     json.RawMessage `json:"response_data,omitempty"`
	ProviderTaskID   *string         `json:"provider_task_id,omitempty"`
	RetryCount       int             `json:"retry_count"`
	MaxRetries       int             `json:"max_retries"`
	APIKeyID         *uuid.UUID      `json:"api_key_id,omitempty"`
	ResultURL        *string         `json:"result_url,omitempty"`
	ThumbnailURL     *string         `json:"thumbnail_url,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	ErrorCode        *string         `json:"error_code,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewJob carries what the entry point knows when a job is created.
type NewJob struct {
	ProviderID  uuid.UUID
	ModelID     string
	Category    Category
	Priority    int
	RequestData json.RawMessage
	MaxRetries  int
}

// Submission is what a successful provider call leaves on the job.
type Submission struct {
	ProviderResponse json.RawMessage
	ResponseData     json.RawMessage
	TaskID           string
	Status           JobStatus
	ResultURL        string
	ThumbnailURL     string
}

// JobUpdate is a reconciled status change coming from a webhook or a poll.
type JobUpdate struct {
	Status       JobStatus
	ResponseData json.RawMessage
	ResultURL    string
	ThumbnailURL string
	ErrorMessage string
	ErrorCode    string
}

type JobFilter struct {
	Status   JobStatus
	Category Category
	Limit    int
}
