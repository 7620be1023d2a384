package geminigen

import (
	"strconv"
	"strings"

	"generation-gateway/internal/entity"
)

// MapStatus translates GeminiGen's numeric status (1 processing, 2 completed,
// 3 failed) and its textual equivalents. Anything else is PENDING.
func MapStatus(v string) entity.JobStatus {
	v = strings.TrimSpace(v)
	if code, err := strconv.Atoi(v); err == nil {
		switch code {
		case 1:
			return entity.StatusProcessing
		case 2:
			return entity.StatusCompleted
		case 3:
			return entity.StatusFailed
		}
		return entity.StatusPending
	}

	switch strings.ToLower(v) {
	case "processing", "running", "in_progress":
		return entity.StatusProcessing
	case "completed", "complete", "success", "succeeded":
		return entity.StatusCompleted
	case "failed", "failure", "error":
		return entity.StatusFailed
	}
	return entity.StatusPending
}

// progressOr prefers the provider's status_percentage when present.
func progressOr(raw string, s entity.JobStatus) int {
	if p, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && p >= 0 {
		if p > 100 {
			p = 100
		}
		return int(p)
	}
	switch s {
	case entity.StatusProcessing:
		return 50
	case entity.StatusCompleted:
		return 100
	}
	return 0
}
