package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/keypool"
	"generation-gateway/internal/service"
	"generation-gateway/internal/webhook"
)

// Webhooks is implemented by webhook.Reconciler.
type Webhooks interface {
	Handle(ctx context.Context, providerSlug string, raw json.RawMessage) (*webhook.Result, error)
	ListEvents(ctx context.Context, jobID *uuid.UUID) ([]entity.WebhookEvent, error)
}

// Keys is implemented by service.KeyService.
type Keys interface {
	ListKeys(ctx context.Context, providerSlug string) ([]keypool.KeyView, error)
	ResetKey(ctx context.Context, keyID uuid.UUID) error
}

type Deps struct {
	Jobs          *service.JobService
	Webhooks      Webhooks
	Keys          Keys
	WebhookSecret string

	// Ready reports whether backing stores answer. Nil means always ready.
	Ready func(ctx context.Context) error
	Log   zerolog.Logger
}

type Handler struct {
	jobs          *service.JobService
	webhooks      Webhooks
	keys          Keys
	webhookSecret string
	ready         func(ctx context.Context) error
	log           zerolog.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		jobs:          d.Jobs,
		webhooks:      d.Webhooks,
		keys:          d.Keys,
		webhookSecret: d.WebhookSecret,
		ready:         d.Ready,
		log:           d.Log,
	}
}

type createJobDTO struct {
	ModelID     string          `json:"modelId"`
	Category    string          `json:"category"`
	Priority    *int            `json:"priority,omitempty"` // 0=low,1=normal,2=high
	RequestData json.RawMessage `json:"requestData" swaggertype:"object"`
}

type acceptedResp struct {
	ID       string           `json:"id"`
	Status   entity.JobStatus `json:"status"`
	Category entity.Category  `json:"category"`
	ModelID  string           `json:"modelId"`
}

func accepted(j *entity.Job) acceptedResp {
	return acceptedResp{ID: j.ID.String(), Status: j.Status, Category: j.Category, ModelID: j.ModelID}
}

// Health godoc
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready godoc
// @Summary Readiness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} apiError
// @Router /readyz [get]
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.log.Warn().Err(err).Msg("http: not ready")
			writeErr(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// CreateJob godoc
// @Summary Create a generation job
// @Description Stores a PENDING job and enqueues it for the workers.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "job payload (priority: 0=low,1=normal,2=high)"
// @Success 202 {object} acceptedResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 500 {object} apiError
// @Router /api/v1/jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	priority := service.PriorityNormal
	if dto.Priority != nil {
		priority = *dto.Priority
	}

	h.create(w, r, service.CreateJobRequest{
		ModelID:     dto.ModelID,
		Category:    dto.Category,
		Priority:    priority,
		RequestData: dto.RequestData,
	})
}

// Generate godoc
// @Summary Start a generation for a category
// @Description Body carries aiModelId plus the model's own fields, which are stored as the request data.
// @Tags generation
// @Accept json
// @Produce json
// @Param category path string true "category slug, e.g. text-to-image"
// @Param request body object true "{aiModelId, ...fields}"
// @Success 202 {object} acceptedResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/v1/generation/{category} [post]
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	category, ok := entity.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		writeErr(w, http.StatusBadRequest, "unknown category")
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	modelID, _ := body["aiModelId"].(string)
	delete(body, "aiModelId")

	data, err := json.Marshal(body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	h.create(w, r, service.CreateJobRequest{
		ModelID:     modelID,
		Category:    string(category),
		Priority:    service.PriorityNormal,
		RequestData: data,
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, req service.CreateJobRequest) {
	job, err := h.jobs.CreateJob(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, accepted(job))
	case errors.Is(err, service.ErrModelNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("model_id", req.ModelID).Msg("http: create job failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/v1/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	j, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.jobErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// ListJobs godoc
// @Summary List jobs
// @Tags jobs
// @Produce json
// @Param status query string false "PENDING, PROCESSING, COMPLETED or FAILED"
// @Param category query string false "category, enum or slug form"
// @Param limit query int false "max rows (default 100)"
// @Success 200 {array} entity.Job
// @Failure 400 {object} apiError
// @Router /api/v1/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f entity.JobFilter

	if s := q.Get("status"); s != "" {
		f.Status = entity.JobStatus(strings.ToUpper(s))
		if !f.Status.Valid() {
			writeErr(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	if c := q.Get("category"); c != "" {
		cat, ok := entity.ParseCategory(c)
		if !ok {
			writeErr(w, http.StatusBadRequest, "invalid category")
			return
		}
		f.Category = cat
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	jobs, err := h.jobs.ListJobs(r.Context(), f)
	if err != nil {
		h.jobErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []entity.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetJobResults godoc
// @Summary Generated outputs of a job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {array} entity.GenerationResult
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/v1/jobs/{id}/results [get]
func (h *Handler) GetJobResults(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	res, err := h.jobs.ListResults(r.Context(), id)
	if err != nil {
		h.jobErr(w, err)
		return
	}
	if res == nil {
		res = []entity.GenerationResult{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) jobErr(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrJobNotFound) {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	h.log.Error().Err(err).Msg("http: job query failed")
	writeErr(w, http.StatusInternalServerError, "internal error")
}
