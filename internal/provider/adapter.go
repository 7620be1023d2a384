package provider

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"generation-gateway/internal/entity"
)

// Adapter translates between the gateway's standardized job data and one
// provider's wire format. Implementations must keep MapRequest, MapResponse
// and MapWebhook free of side effects.
type Adapter interface {
	Slug() string
	MapRequest(category entity.Category, input Input) (json.RawMessage, error)
	SubmitGeneration(ctx context.Context, category entity.Category, payload json.RawMessage, credential string) (json.RawMessage, error)
	MapResponse(category entity.Category, raw json.RawMessage) (Update, error)
	MapWebhook(raw json.RawMessage) (Update, error)
	GetStatus(ctx context.Context, taskID, credential string) (json.RawMessage, error)
}

// Detector is implemented by adapters that can recognise their own webhook
// payload shape. Only used when a callback arrives without a provider id.
type Detector interface {
	LooksLike(payload map[string]any) bool
}

// Update is the normalized view of a provider reply or callback.
type Update struct {
	TaskID       string           `json:"task_id,omitempty"`
	Status       entity.JobStatus `json:"status"`
	Progress     int              `json:"status_percentage"`
	ResultURL    string           `json:"result_url,omitempty"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
}

// Input is the caller's standardized request document.
type Input map[string]any

func ParseInput(raw json.RawMessage) (Input, error) {
	in := Input{}
	if len(raw) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	if in == nil {
		in = Input{}
	}
	return in, nil
}

func (in Input) String(key string) string {
	switch v := in[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func (in Input) StringOr(key, def string) string {
	if v := in.String(key); v != "" {
		return v
	}
	return def
}

func (in Input) IntOr(key string, def int) int {
	switch v := in[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func (in Input) Strings(key string) []string {
	items, ok := in[key].([]any)
	if !ok {
		if s := in.String(key); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// Objects returns a list of nested objects (e.g. speakers).
func (in Input) Objects(key string) []Input {
	items, ok := in[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Input, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, Input(m))
		}
	}
	return out
}
