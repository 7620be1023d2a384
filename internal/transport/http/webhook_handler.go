package httptransport

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/provider"
	"generation-gateway/internal/webhook"
)

const (
	providerHeader  = "X-Provider"
	maxWebhookBytes = 1 << 20
)

// ReceiveWebhook godoc
// @Summary Provider callback
// @Description Provider comes from the path, or on the generic route from the X-Provider header or the payload shape.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param provider path string false "provider slug"
// @Param X-Provider header string false "provider slug on the generic route"
// @Param X-Webhook-Signature header string false "hex HMAC-SHA256 of the body, required when a secret is configured"
// @Success 200 {object} webhookAck
// @Success 202 {object} webhookAck "stored but not applied, success is false"
// @Failure 400 {object} webhookAck
// @Failure 401 {object} webhookAck
// @Failure 404 {object} webhookAck
// @Failure 500 {object} webhookAck "event could not be stored"
// @Router /api/v1/webhooks/{provider} [post]
// @Router /api/v1/webhooks [post]
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookAck{Message: "unreadable body"})
		return
	}

	if h.webhookSecret != "" && !webhook.VerifySignature(h.webhookSecret, body, r.Header.Get(webhook.SignatureHeader)) {
		writeJSON(w, http.StatusUnauthorized, webhookAck{Message: "invalid signature"})
		return
	}

	slug := chi.URLParam(r, "provider")
	if slug == "" {
		slug = r.Header.Get(providerHeader)
	}
	slug = strings.ToLower(strings.TrimSpace(slug))

	res, err := h.webhooks.Handle(r.Context(), slug, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, webhookAck{Success: true, JobID: res.JobID.String()})
	case errors.Is(err, webhook.ErrNotApplied):
		// stored for audit, the poller settles the job; a 5xx would only trigger redelivery
		h.log.Warn().Err(err).Str("provider", slug).Msg("http: webhook stored, not applied")
		ack := webhookAck{Message: err.Error()}
		if res != nil && res.JobID != uuid.Nil {
			ack.JobID = res.JobID.String()
		}
		writeJSON(w, http.StatusAccepted, ack)
	case errors.Is(err, webhook.ErrJobNotMatched):
		writeJSON(w, http.StatusNotFound, webhookAck{Message: err.Error()})
	case errors.Is(err, webhook.ErrInvalidPayload), errors.Is(err, provider.ErrUnknownProvider):
		writeJSON(w, http.StatusBadRequest, webhookAck{Message: err.Error()})
	default:
		h.log.Error().Err(err).Str("provider", slug).Msg("http: webhook failed")
		writeJSON(w, http.StatusInternalServerError, webhookAck{Message: "internal error"})
	}
}

// ListWebhooks godoc
// @Summary Recent webhook events
// @Tags webhooks
// @Produce json
// @Param jobId query string false "only events of this job"
// @Success 200 {array} entity.WebhookEvent
// @Failure 400 {object} apiError
// @Router /api/v1/webhooks [get]
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	var jobID *uuid.UUID
	if s := r.URL.Query().Get("jobId"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid jobId")
			return
		}
		jobID = &id
	}

	events, err := h.webhooks.ListEvents(r.Context(), jobID)
	if err != nil {
		h.log.Error().Err(err).Msg("http: list webhooks failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []entity.WebhookEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
