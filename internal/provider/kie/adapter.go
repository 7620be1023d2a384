// Package kie adapts the KIE.AI generation API.
package kie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/provider"
)

const (
	Slug              = "kie"
	DefaultBaseURL    = "https://api.kie.ai/api/v1"
	defaultImageModel = "flux-kontext-pro"
)

var errNotObject = errors.New("kie: payload is not a json object")

type Options struct {
	BaseURL     string
	CallbackURL string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

type Adapter struct {
	baseURL     string
	callbackURL string
	client      *provider.Client
}

func New(opts Options) *Adapter {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		baseURL:     baseURL,
		callbackURL: strings.TrimSpace(opts.CallbackURL),
		client:      provider.NewClient(Slug, opts.HTTPClient, opts.Timeout),
	}
}

func (a *Adapter) Slug() string { return Slug }

type imageRequest struct {
	Prompt            string `json:"prompt"`
	AspectRatio       string `json:"aspectRatio"`
	Model             string `json:"model"`
	EnableTranslation bool   `json:"enableTranslation"`
	OutputFormat      string `json:"outputFormat"`
	PromptUpsampling  bool   `json:"promptUpsampling"`
	SafetyTolerance   int    `json:"safetyTolerance"`
	InputImage        string `json:"inputImage,omitempty"`
	CallBackURL       string `json:"callBackUrl,omitempty"`
}

type videoRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
	Duration    int    `json:"duration"`
	Model       string `json:"model,omitempty"`
	InputImage  string `json:"inputImage,omitempty"`
	CallBackURL string `json:"callBackUrl,omitempty"`
}

func (a *Adapter) MapRequest(category entity.Category, in provider.Input) (json.RawMessage, error) {
	var payload any
	switch category {
	case entity.CategoryTextToImage, entity.CategoryImageToImage:
		req := imageRequest{
			Prompt:            in.String("prompt"),
			AspectRatio:       in.StringOr("aspectRatio", "16:9"),
			Model:             in.StringOr("model", defaultImageModel),
			EnableTranslation: true,
			OutputFormat:      in.StringOr("outputFormat", "jpeg"),
			SafetyTolerance:   2,
			CallBackURL:       a.callbackURL,
		}
		if category == entity.CategoryImageToImage {
			if imgs := in.Strings("uploadedImages"); len(imgs) > 0 {
				req.InputImage = imgs[0]
			}
		}
		payload = req
	case entity.CategoryTextToVideo, entity.CategoryImageToVideo:
		req := videoRequest{
			Prompt:      in.String("prompt"),
			AspectRatio: in.StringOr("aspectRatio", "16:9"),
			Duration:    in.IntOr("duration", 5),
			Model:       in.String("model"),
			CallBackURL: a.callbackURL,
		}
		if category == entity.CategoryImageToVideo {
			if imgs := in.Strings("uploadedImages"); len(imgs) > 0 {
				req.InputImage = imgs[0]
			}
		}
		payload = req
	default:
		return nil, provider.UnsupportedCategory(Slug, category)
	}
	return json.Marshal(payload)
}

func (a *Adapter) endpoint(category entity.Category) (string, error) {
	switch category {
	case entity.CategoryTextToImage, entity.CategoryImageToImage:
		return a.baseURL + "/flux/kontext/generate", nil
	case entity.CategoryTextToVideo, entity.CategoryImageToVideo:
		return a.baseURL + "/runway/generate", nil
	}
	return "", provider.UnsupportedCategory(Slug, category)
}

func headers(credential string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + credential}
}

func (a *Adapter) SubmitGeneration(ctx context.Context, category entity.Category, payload json.RawMessage, credential string) (json.RawMessage, error) {
	endpoint, err := a.endpoint(category)
	if err != nil {
		return nil, err
	}
	raw, err := a.client.Do(ctx, http.MethodPost, endpoint, headers(credential), payload)
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (a *Adapter) GetStatus(ctx context.Context, taskID, credential string) (json.RawMessage, error) {
	endpoint := a.baseURL + "/flux/kontext/record-info?taskId=" + url.QueryEscape(taskID)
	raw, err := a.client.Do(ctx, http.MethodGet, endpoint, headers(credential), nil)
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// checkEnvelope rejects a 2xx reply whose body carries a non-200 code; KIE
// reports quota and rate-limit problems that way.
func checkEnvelope(raw json.RawMessage) error {
	doc := provider.DecodeObject(raw)
	if doc == nil {
		return nil
	}
	code := provider.Lookup(doc, "code")
	if code == "" || code == "200" {
		return nil
	}
	status, err := strconv.Atoi(code)
	if err != nil {
		status = http.StatusBadGateway
	}
	return &provider.CallError{
		Provider:   Slug,
		StatusCode: status,
		Body:       provider.FirstOf(provider.Lookup(doc, "msg"), provider.Lookup(doc, "message"), string(raw)),
	}
}

func (a *Adapter) MapResponse(_ entity.Category, raw json.RawMessage) (provider.Update, error) {
	doc := provider.DecodeObject(raw)
	if doc == nil {
		return provider.Update{}, errNotObject
	}
	status := MapStatus(provider.FirstOf(
		provider.Lookup(doc, "data", "successFlag"),
		provider.Lookup(doc, "data", "status"),
		provider.Lookup(doc, "status"),
	))
	return provider.Update{
		TaskID:   provider.FirstOf(provider.Lookup(doc, "data", "taskId"), provider.Lookup(doc, "taskId")),
		Status:   status,
		Progress: progress(status),
		ResultURL: provider.FirstOf(
			provider.Lookup(doc, "data", "response", "resultImageUrl"),
			provider.Lookup(doc, "data", "response", "resultVideoUrl"),
			provider.Lookup(doc, "data", "response", "resultUrls"),
		),
		ThumbnailURL: provider.Lookup(doc, "data", "response", "thumbnailUrl"),
		ErrorMessage: provider.Lookup(doc, "data", "errorMessage"),
		ErrorCode:    provider.Lookup(doc, "data", "errorCode"),
	}, nil
}

// MapWebhook accepts both callback generations: {code,msg,data:{taskId,info:{successFlag,...}}}
// and the flatter {taskId,status,data:{...}} form.
func (a *Adapter) MapWebhook(raw json.RawMessage) (provider.Update, error) {
	doc := provider.DecodeObject(raw)
	if doc == nil {
		return provider.Update{}, errNotObject
	}
	status := MapStatus(provider.FirstOf(
		provider.Lookup(doc, "data", "info", "successFlag"),
		provider.Lookup(doc, "data", "successFlag"),
		provider.Lookup(doc, "data", "status"),
		provider.Lookup(doc, "status"),
		provider.Lookup(doc, "data", "state"),
	))
	errMsg := provider.FirstOf(
		provider.Lookup(doc, "data", "info", "errorMessage"),
		provider.Lookup(doc, "data", "errorMessage"),
		provider.Lookup(doc, "error"),
	)
	errCode := provider.FirstOf(
		provider.Lookup(doc, "data", "info", "errorCode"),
		provider.Lookup(doc, "data", "errorCode"),
	)
	if code := provider.Lookup(doc, "code"); code != "" && code != "200" {
		if !status.Terminal() {
			status = entity.StatusFailed
		}
		if status == entity.StatusFailed {
			errCode = provider.FirstOf(errCode, code)
			errMsg = provider.FirstOf(errMsg, provider.Lookup(doc, "msg"))
		}
	}
	return provider.Update{
		TaskID: provider.FirstOf(
			provider.Lookup(doc, "data", "taskId"),
			provider.Lookup(doc, "taskId"),
			provider.Lookup(doc, "task_id"),
		),
		Status:   status,
		Progress: progress(status),
		ResultURL: provider.FirstOf(
			provider.Lookup(doc, "data", "info", "resultImageUrl"),
			provider.Lookup(doc, "data", "info", "resultVideoUrl"),
			provider.Lookup(doc, "data", "info", "resultUrls"),
			provider.Lookup(doc, "data", "response", "resultImageUrl"),
			provider.Lookup(doc, "data", "response", "resultVideoUrl"),
			provider.Lookup(doc, "data", "imageUrls"),
			provider.Lookup(doc, "data", "videoUrls"),
			provider.Lookup(doc, "data", "audioUrls"),
		),
		ThumbnailURL: provider.FirstOf(
			provider.Lookup(doc, "data", "info", "thumbnailUrl"),
			provider.Lookup(doc, "data", "response", "thumbnailUrl"),
		),
		ErrorMessage: errMsg,
		ErrorCode:    errCode,
	}, nil
}

// LooksLike recognises KIE callbacks: a code envelope around data.taskId.
func (a *Adapter) LooksLike(doc map[string]any) bool {
	_, hasCode := doc["code"]
	_, hasMsg := doc["msg"]
	return (hasCode || hasMsg) && provider.Lookup(doc, "data", "taskId") != ""
}

func (a *Adapter) String() string {
	return fmt.Sprintf("kie(%s)", a.baseURL)
}

var (
	_ provider.Adapter  = (*Adapter)(nil)
	_ provider.Detector = (*Adapter)(nil)
)
