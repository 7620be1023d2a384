package kie_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/provider"
	"generation-gateway/internal/provider/kie"
)

func TestMapStatus_IsTotal(t *testing.T) {
	cases := map[string]entity.JobStatus{
		"0":                  entity.StatusProcessing,
		"1":                  entity.StatusCompleted,
		"2":                  entity.StatusFailed,
		"3":                  entity.StatusFailed,
		"7":                  entity.StatusPending,
		"-1":                 entity.StatusPending,
		"":                   entity.StatusPending,
		"garbage":            entity.StatusPending,
		"SUCCESS":            entity.StatusCompleted,
		"completed":          entity.StatusCompleted,
		"GENERATING":         entity.StatusProcessing,
		"processing":         entity.StatusProcessing,
		"CREATE_TASK_FAILED": entity.StatusFailed,
		"error":              entity.StatusFailed,
		"unsuccessful":       entity.StatusFailed,
		"GENERATE_FAILED":    entity.StatusFailed,
		"not_completed":      entity.StatusProcessing,
		"incomplete":         entity.StatusProcessing,
		"not_started":        entity.StatusPending,
		"GENERATE_SUCCESS":   entity.StatusCompleted,
	}
	for in, want := range cases {
		if got := kie.MapStatus(in); got != want {
			t.Fatalf("MapStatus(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestMapRequest_TextToImageDefaults(t *testing.T) {
	a := kie.New(kie.Options{CallbackURL: "https://gw.example/api/v1/webhooks/kie"})

	raw, err := a.MapRequest(entity.CategoryTextToImage, provider.Input{"prompt": "a red fox"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if got["prompt"] != "a red fox" {
		t.Fatalf("expected prompt, got %v", got["prompt"])
	}
	if got["aspectRatio"] != "16:9" {
		t.Fatalf("expected default aspectRatio 16:9, got %v", got["aspectRatio"])
	}
	if got["model"] != "flux-kontext-pro" {
		t.Fatalf("expected default model, got %v", got["model"])
	}
	if got["callBackUrl"] != "https://gw.example/api/v1/webhooks/kie" {
		t.Fatalf("expected callBackUrl, got %v", got["callBackUrl"])
	}
	if _, ok := got["inputImage"]; ok {
		t.Fatalf("expected no inputImage for text-to-image, got %v", got["inputImage"])
	}
}

func TestMapRequest_ImageToVideoUsesFirstUpload(t *testing.T) {
	a := kie.New(kie.Options{})

	raw, err := a.MapRequest(entity.CategoryImageToVideo, provider.Input{
		"prompt":         "pan left",
		"uploadedImages": []any{"https://cdn.example/1.png", "https://cdn.example/2.png"},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	var got map[string]any
	_ = json.Unmarshal(raw, &got)
	if got["inputImage"] != "https://cdn.example/1.png" {
		t.Fatalf("expected first uploaded image, got %v", got["inputImage"])
	}
	if got["duration"] != float64(5) {
		t.Fatalf("expected default duration 5, got %v", got["duration"])
	}
}

func TestMapRequest_UnsupportedCategory(t *testing.T) {
	a := kie.New(kie.Options{})

	_, err := a.MapRequest(entity.CategoryTextToSpeechSingle, provider.Input{})
	if !errors.Is(err, provider.ErrUnsupportedCategory) {
		t.Fatalf("expected ErrUnsupportedCategory, got %v", err)
	}
}

func TestSubmitGeneration_SendsBearerAndMapsTaskID(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"task-123"}}`))
	}))
	defer srv.Close()

	a := kie.New(kie.Options{BaseURL: srv.URL})
	payload, _ := a.MapRequest(entity.CategoryTextToImage, provider.Input{"prompt": "x"})

	raw, err := a.SubmitGeneration(context.Background(), entity.CategoryTextToImage, payload, "secret-key")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotPath != "/flux/kontext/generate" {
		t.Fatalf("expected image endpoint, got %s", gotPath)
	}
	if gotBody["prompt"] != "x" {
		t.Fatalf("expected payload forwarded, got %v", gotBody)
	}

	upd, err := a.MapResponse(entity.CategoryTextToImage, raw)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if upd.TaskID != "task-123" {
		t.Fatalf("expected task id task-123, got %q", upd.TaskID)
	}
	if upd.Status == entity.StatusCompleted {
		t.Fatalf("expected non-completed status for a fresh task, got %s", upd.Status)
	}
}

func TestSubmitGeneration_429IsRateLimitWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"msg":"too many requests"}`))
	}))
	defer srv.Close()

	a := kie.New(kie.Options{BaseURL: srv.URL})
	_, err := a.SubmitGeneration(context.Background(), entity.CategoryTextToVideo, json.RawMessage(`{}`), "k")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	var ce *provider.CallError
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected CallError 429, got %v", err)
	}
	if !provider.IsRateLimited(err) {
		t.Fatalf("expected rate limit signal")
	}
	if provider.RetryAfter(err) == nil {
		t.Fatalf("expected Retry-After to be parsed")
	}
}

func TestSubmitGeneration_EnvelopeErrorBecomesCallError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":429,"msg":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	a := kie.New(kie.Options{BaseURL: srv.URL})
	_, err := a.SubmitGeneration(context.Background(), entity.CategoryTextToImage, json.RawMessage(`{}`), "k")

	var ce *provider.CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if ce.StatusCode != 429 || !provider.IsRateLimited(err) {
		t.Fatalf("expected envelope 429 to be a rate limit, got %v", err)
	}
}

func TestMapWebhook_Completed(t *testing.T) {
	a := kie.New(kie.Options{})

	upd, err := a.MapWebhook(json.RawMessage(`{
		"code":200,"msg":"ok",
		"data":{"taskId":"abc","info":{"successFlag":1,"resultImageUrl":"https://cdn.example/out.png"}}
	}`))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if upd.TaskID != "abc" || upd.Status != entity.StatusCompleted {
		t.Fatalf("expected abc/COMPLETED, got %s/%s", upd.TaskID, upd.Status)
	}
	if upd.ResultURL != "https://cdn.example/out.png" {
		t.Fatalf("expected result url, got %q", upd.ResultURL)
	}
	if upd.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", upd.Progress)
	}
}

func TestMapWebhook_StringStatusAndUrlList(t *testing.T) {
	a := kie.New(kie.Options{})

	upd, err := a.MapWebhook(json.RawMessage(`{"taskId":"v2","status":"SUCCESS","data":{"videoUrls":["https://cdn.example/v.mp4"]}}`))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if upd.TaskID != "v2" || upd.Status != entity.StatusCompleted || upd.ResultURL != "https://cdn.example/v.mp4" {
		t.Fatalf("unexpected update %+v", upd)
	}
}

func TestMapWebhook_ErrorEnvelopeFails(t *testing.T) {
	a := kie.New(kie.Options{})

	upd, err := a.MapWebhook(json.RawMessage(`{"code":501,"msg":"content policy","data":{"taskId":"abc"}}`))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if upd.Status != entity.StatusFailed {
		t.Fatalf("expected FAILED, got %s", upd.Status)
	}
	if upd.ErrorMessage != "content policy" || upd.ErrorCode != "501" {
		t.Fatalf("expected error details from envelope, got %q/%q", upd.ErrorMessage, upd.ErrorCode)
	}
}

func TestMapWebhook_PartialPayloadIsTolerated(t *testing.T) {
	a := kie.New(kie.Options{})

	upd, err := a.MapWebhook(json.RawMessage(`{"data":{"taskId":"only-id"}}`))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if upd.TaskID != "only-id" || upd.Status != entity.StatusPending {
		t.Fatalf("expected only-id/PENDING, got %s/%s", upd.TaskID, upd.Status)
	}

	if _, err := a.MapWebhook(json.RawMessage(`not json`)); err == nil {
		t.Fatalf("expected error for non-json body")
	}
}

func TestLooksLike(t *testing.T) {
	a := kie.New(kie.Options{})

	if !a.LooksLike(map[string]any{"code": float64(200), "data": map[string]any{"taskId": "t"}}) {
		t.Fatalf("expected KIE envelope to be recognised")
	}
	if a.LooksLike(map[string]any{"uuid": "u", "status": float64(2)}) {
		t.Fatalf("expected GeminiGen record not to be recognised")
	}
}
