// Package geminigen adapts the GeminiGen.AI generation API.
package geminigen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/provider"
)

const (
	Slug           = "geminigen"
	DefaultBaseURL = "https://api.geminigen.ai/uapi/v1"
)

const (
	defaultVoiceName = "Gacrux"
	defaultVoiceID   = "GM013"
)

var errNotObject = errors.New("geminigen: payload is not a json object")

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Adapter struct {
	baseURL string
	client  *provider.Client
}

func New(opts Options) *Adapter {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		baseURL: baseURL,
		client:  provider.NewClient(Slug, opts.HTTPClient, opts.Timeout),
	}
}

func (a *Adapter) Slug() string { return Slug }

type imageRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model"`
	AspectRatio string   `json:"aspect_ratio"`
	Style       string   `json:"style"`
	ServiceMode string   `json:"service_mode"`
	Files       []string `json:"files,omitempty"`
}

type videoRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model"`
	Resolution  string   `json:"resolution"`
	Duration    int      `json:"duration"`
	AspectRatio string   `json:"aspect_ratio"`
	ServiceMode string   `json:"service_mode"`
	Files       []string `json:"files,omitempty"`
}

type voiceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type voice struct {
	Name  string   `json:"name"`
	Voice voiceRef `json:"voice"`
}

type speechRequest struct {
	Model        string  `json:"model"`
	Voices       []voice `json:"voices"`
	Speed        float64 `json:"speed"`
	Input        string  `json:"input"`
	OutputFormat string  `json:"output_format"`
}

func (a *Adapter) MapRequest(category entity.Category, in provider.Input) (json.RawMessage, error) {
	var payload any
	switch category {
	case entity.CategoryTextToImage, entity.CategoryImageToImage:
		req := imageRequest{
			Prompt:      in.String("prompt"),
			Model:       in.StringOr("model", "imagen-4"),
			AspectRatio: in.StringOr("aspectRatio", "1:1"),
			Style:       in.StringOr("style", "Photorealistic"),
			ServiceMode: "unstable",
		}
		if category == entity.CategoryImageToImage {
			req.Files = in.Strings("uploadedImages")
		}
		payload = req
	case entity.CategoryTextToVideo, entity.CategoryImageToVideo:
		req := videoRequest{
			Prompt:      in.String("prompt"),
			Model:       in.StringOr("model", "veo-2"),
			Resolution:  in.StringOr("resolution", "720p"),
			Duration:    in.IntOr("duration", 8),
			AspectRatio: in.StringOr("aspectRatio", "16:9"),
			ServiceMode: "unstable",
		}
		if category == entity.CategoryImageToVideo {
			req.Files = in.Strings("uploadedImages")
		}
		payload = req
	case entity.CategoryTextToSpeechSingle, entity.CategoryTextToSpeechMulti:
		payload = mapSpeech(in)
	default:
		return nil, provider.UnsupportedCategory(Slug, category)
	}
	return json.Marshal(payload)
}

func mapSpeech(in provider.Input) speechRequest {
	req := speechRequest{
		Model:        in.StringOr("model", "tts-flash"),
		Speed:        1,
		Input:        in.String("text"),
		OutputFormat: "mp3",
	}

	speakers := in.Objects("speakers")
	if len(speakers) == 0 {
		id := in.String("voiceId")
		req.Voices = []voice{{
			Name:  firstNonEmpty(id, defaultVoiceName),
			Voice: voiceRef{ID: firstNonEmpty(id, defaultVoiceID), Name: firstNonEmpty(id, defaultVoiceName)},
		}}
		return req
	}

	texts := make([]string, 0, len(speakers))
	for _, s := range speakers {
		id := s.String("voiceId")
		req.Voices = append(req.Voices, voice{Name: id, Voice: voiceRef{ID: id, Name: id}})
		if t := s.String("text"); t != "" {
			texts = append(texts, t)
		}
	}
	if req.Input == "" {
		req.Input = strings.Join(texts, " ")
	}
	return req
}

func (a *Adapter) endpoint(category entity.Category) (string, error) {
	switch category {
	case entity.CategoryTextToImage, entity.CategoryImageToImage:
		return a.baseURL + "/generate_image", nil
	case entity.CategoryTextToVideo, entity.CategoryImageToVideo:
		return a.baseURL + "/video-gen/veo", nil
	case entity.CategoryTextToSpeechSingle, entity.CategoryTextToSpeechMulti:
		return a.baseURL + "/text-to-speech", nil
	}
	return "", provider.UnsupportedCategory(Slug, category)
}

func headers(credential string) map[string]string {
	return map[string]string{"x-api-key": credential}
}

func (a *Adapter) SubmitGeneration(ctx context.Context, category entity.Category, payload json.RawMessage, credential string) (json.RawMessage, error) {
	endpoint, err := a.endpoint(category)
	if err != nil {
		return nil, err
	}
	return a.client.Do(ctx, http.MethodPost, endpoint, headers(credential), payload)
}

func (a *Adapter) GetStatus(ctx context.Context, taskID, credential string) (json.RawMessage, error) {
	return a.client.Do(ctx, http.MethodGet, a.baseURL+"/generation/"+url.PathEscape(taskID), headers(credential), nil)
}

func (a *Adapter) MapResponse(_ entity.Category, raw json.RawMessage) (provider.Update, error) {
	return a.mapDocument(raw)
}

func (a *Adapter) MapWebhook(raw json.RawMessage) (provider.Update, error) {
	return a.mapDocument(raw)
}

// mapDocument reads the generation record. Callbacks sometimes wrap it in
// {"event":..., "data":{...}}; the inner object wins when it carries an id.
func (a *Adapter) mapDocument(raw json.RawMessage) (provider.Update, error) {
	doc := provider.DecodeObject(raw)
	if doc == nil {
		return provider.Update{}, errNotObject
	}
	if inner := provider.Object(doc, "data"); inner != nil && provider.FirstOf(provider.Lookup(inner, "uuid"), provider.Lookup(inner, "id")) != "" {
		doc = inner
	}

	status := MapStatus(provider.Lookup(doc, "status"))
	return provider.Update{
		TaskID:       provider.FirstOf(provider.Lookup(doc, "uuid"), provider.Lookup(doc, "id")),
		Status:       status,
		Progress:     progressOr(provider.Lookup(doc, "status_percentage"), status),
		ResultURL:    provider.FirstOf(provider.Lookup(doc, "generate_result"), provider.Lookup(doc, "media_url")),
		ThumbnailURL: provider.FirstOf(provider.Lookup(doc, "thumbnail_small"), provider.Lookup(doc, "thumbnail_url")),
		ErrorMessage: provider.Lookup(doc, "error_message"),
		ErrorCode:    provider.Lookup(doc, "error_code"),
	}, nil
}

// LooksLike recognises a GeminiGen record: a uuid next to one of its
// characteristic fields.
func (a *Adapter) LooksLike(doc map[string]any) bool {
	if inner := provider.Object(doc, "data"); inner != nil {
		if _, ok := inner["uuid"]; ok {
			doc = inner
		}
	}
	if _, ok := doc["uuid"]; !ok {
		return false
	}
	for _, k := range []string{"status", "generate_result", "used_credit", "status_percentage"} {
		if _, ok := doc[k]; ok {
			return true
		}
	}
	return false
}

func firstNonEmpty(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

var (
	_ provider.Adapter  = (*Adapter)(nil)
	_ provider.Detector = (*Adapter)(nil)
)
