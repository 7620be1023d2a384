package entity

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerationResult is one generated output of a completed job. (JobID, URL)
// is unique, so re-applying a webhook never duplicates rows.
type GenerationResult struct {
	ID           uuid.UUID `json:"id"`
	JobID        uuid.UUID `json:"job_id"`
	URL          string    `json:"url"`
	ThumbnailURL *string   `json:"thumbnail_url,omitempty"`
	FileType     string    `json:"file_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// InferFileType classifies an output URL by its extension.
func InferFileType(rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return "unknown"
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".") {
	case "jpg", "jpeg", "png", "gif", "webp":
		return "image"
	case "mp4", "avi", "mov", "webm":
		return "video"
	case "mp3", "wav", "ogg":
		return "audio"
	}
	return "text"
}
