// Package webhook reconciles provider callbacks onto jobs.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/metrics"
	"generation-gateway/internal/provider"
	"generation-gateway/internal/repository/postgresql"
)

var (
	ErrJobNotMatched  = errors.New("no job matches webhook")
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrNotApplied means the event was stored but could not be applied. The
	// status poller picks the job up later.
	ErrNotApplied = errors.New("webhook stored but not applied")
)

const unknownProvider = "unknown"

type EventStore interface {
	Create(ctx context.Context, e *entity.WebhookEvent) error
	MarkProcessed(ctx context.Context, id, jobID uuid.UUID, taskID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, jobID *uuid.UUID, taskID, message string) error
	List(ctx context.Context, jobID *uuid.UUID, limit int) ([]entity.WebhookEvent, error)
	ListUnmatched(ctx context.Context, provider, taskID string, limit int) ([]entity.WebhookEvent, error)
}

type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	FindByProviderTaskID(ctx context.Context, providerSlug, taskID string) (*entity.Job, error)
	ScanNonTerminal(ctx context.Context, providerSlug string, limit int) ([]entity.Job, error)
	BackfillProviderTaskID(ctx context.Context, id uuid.UUID, taskID string) error
	ApplyUpdate(ctx context.Context, id uuid.UUID, expected entity.JobStatus, u entity.JobUpdate) (bool, error)
}

type ResultRecorder interface {
	Add(ctx context.Context, r entity.GenerationResult) (bool, error)
}

type Adapters interface {
	Lookup(slug string) (provider.Adapter, error)
	Detect(raw json.RawMessage) (string, bool)
}

// Outcome says what applying an update did to the job.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeReopened  Outcome = "reopened"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	EventID uuid.UUID
	JobID   uuid.UUID
	Status  entity.JobStatus
	Outcome Outcome
}

type Reconciler struct {
	events    EventStore
	jobs      JobStore
	results   ResultRecorder
	adapters  Adapters
	log       zerolog.Logger
	scanLimit int
}

func NewReconciler(events EventStore, jobs JobStore, results ResultRecorder, adapters Adapters, log zerolog.Logger, scanLimit int) *Reconciler {
	if scanLimit <= 0 {
		scanLimit = 500
	}
	return &Reconciler{
		events:    events,
		jobs:      jobs,
		results:   results,
		adapters:  adapters,
		log:       log,
		scanLimit: scanLimit,
	}
}

// Handle records the callback and applies it to its job. An empty
// providerSlug falls back to payload shape detection.
func (r *Reconciler) Handle(ctx context.Context, providerSlug string, raw json.RawMessage) (*Result, error) {
	slug := providerSlug
	if slug == "" {
		if detected, ok := r.adapters.Detect(raw); ok {
			slug = detected
			r.log.Debug().Str("provider", slug).Msg("webhook: provider detected from payload")
		} else {
			slug = unknownProvider
		}
	}

	// aliases (kie.ai) are audited and matched under the canonical slug
	adapter, lookupErr := r.adapters.Lookup(slug)
	if lookupErr == nil {
		slug = adapter.Slug()
	}

	ev := &entity.WebhookEvent{Provider: slug, ProviderPayload: auditPayload(raw)}
	if err := r.events.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("store webhook event: %w", err)
	}
	res := &Result{EventID: ev.ID}

	if lookupErr != nil {
		r.fail(ctx, ev, slug, nil, "", lookupErr.Error(), "unknown_provider")
		return res, lookupErr
	}

	upd, err := adapter.MapWebhook(raw)
	if err != nil {
		r.fail(ctx, ev, slug, nil, "", err.Error(), "invalid")
		return res, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if upd.TaskID == "" {
		r.fail(ctx, ev, slug, nil, "", "payload carries no task id", "unmatched")
		return res, fmt.Errorf("%w: payload carries no task id", ErrJobNotMatched)
	}

	job, err := r.locate(ctx, slug, upd.TaskID)
	if err != nil {
		if errors.Is(err, ErrJobNotMatched) {
			r.log.Warn().Str("provider", slug).Str("task_id", upd.TaskID).Msg("webhook: no job for task id")
			r.fail(ctx, ev, slug, nil, upd.TaskID, err.Error(), "unmatched")
			return res, err
		}
		r.fail(ctx, ev, slug, nil, upd.TaskID, err.Error(), "error")
		return res, fmt.Errorf("%w: %v", ErrNotApplied, err)
	}
	res.JobID = job.ID

	outcome, err := r.Apply(ctx, job, upd)
	if err != nil {
		r.fail(ctx, ev, slug, &job.ID, upd.TaskID, err.Error(), "error")
		return res, fmt.Errorf("%w: %v", ErrNotApplied, err)
	}
	res.Outcome = outcome
	res.Status = upd.Status

	if err := r.events.MarkProcessed(ctx, ev.ID, job.ID, upd.TaskID); err != nil {
		r.log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("webhook: mark processed failed")
	}
	metrics.Webhooks.WithLabelValues(slug, string(outcome)).Inc()
	r.log.Info().
		Str("provider", slug).
		Str("job_id", job.ID.String()).
		Str("task_id", upd.TaskID).
		Str("status", string(upd.Status)).
		Str("outcome", string(outcome)).
		Msg("webhook: reconciled")
	return res, nil
}

func (r *Reconciler) fail(ctx context.Context, ev *entity.WebhookEvent, slug string, jobID *uuid.UUID, taskID, msg, outcome string) {
	if err := r.events.MarkFailed(ctx, ev.ID, jobID, taskID, msg); err != nil {
		r.log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("webhook: mark failed failed")
	}
	metrics.Webhooks.WithLabelValues(slug, outcome).Inc()
}

// auditPayload keeps bodies that are not JSON storable as a JSON string.
func auditPayload(raw json.RawMessage) json.RawMessage {
	if json.Valid(raw) {
		return raw
	}
	b, _ := json.Marshal(string(raw))
	return b
}

// locate finds the job by its stored task id, then by scanning recent
// unfinished jobs whose provider response carries the id.
func (r *Reconciler) locate(ctx context.Context, slug, taskID string) (*entity.Job, error) {
	job, err := r.jobs.FindByProviderTaskID(ctx, slug, taskID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, postgresql.ErrNotFound) {
		return nil, fmt.Errorf("find job by task id: %w", err)
	}

	candidates, err := r.jobs.ScanNonTerminal(ctx, slug, r.scanLimit)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		c := &candidates[i]
		if !responseMentions(c.ProviderResponse, taskID) {
			continue
		}
		if err := r.jobs.BackfillProviderTaskID(ctx, c.ID, taskID); err != nil {
			r.log.Warn().Err(err).Str("job_id", c.ID.String()).Msg("webhook: backfill task id failed")
		} else {
			c.ProviderTaskID = &taskID
		}
		r.log.Info().Str("job_id", c.ID.String()).Str("task_id", taskID).Msg("webhook: matched by fallback scan")
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s task %s", ErrJobNotMatched, slug, taskID)
}

func responseMentions(raw json.RawMessage, taskID string) bool {
	doc := provider.DecodeObject(raw)
	if doc == nil {
		return false
	}
	for _, path := range [][]string{{"data", "taskId"}, {"taskId"}, {"uuid"}, {"id"}, {"data", "uuid"}} {
		if provider.Lookup(doc, path...) == taskID {
			return true
		}
	}
	return false
}

// Apply writes a normalized update onto a job. COMPLETED is final, FAILED
// may be reopened by a later COMPLETED, and nothing regresses a finished job.
func (r *Reconciler) Apply(ctx context.Context, job *entity.Job, upd provider.Update) (Outcome, error) {
	data, err := json.Marshal(upd)
	if err != nil {
		return "", err
	}

	// the row may move between read and write; re-read and decide again
	for range 3 {
		target, outcome := decide(job.Status, upd.Status)
		switch outcome {
		case OutcomeIgnored:
			r.log.Debug().
				Str("job_id", job.ID.String()).
				Str("current", string(job.Status)).
				Str("incoming", string(upd.Status)).
				Msg("webhook: update ignored for finished job")
			return outcome, nil
		case OutcomeDuplicate:
			return outcome, r.recordResult(ctx, job.ID, upd)
		}

		ok, err := r.jobs.ApplyUpdate(ctx, job.ID, job.Status, entity.JobUpdate{
			Status:       target,
			ResponseData: data,
			ResultURL:    upd.ResultURL,
			ThumbnailURL: upd.ThumbnailURL,
			ErrorMessage: upd.ErrorMessage,
			ErrorCode:    upd.ErrorCode,
		})
		if err != nil {
			return "", err
		}
		if !ok {
			if job, err = r.jobs.GetByID(ctx, job.ID); err != nil {
				return "", err
			}
			continue
		}

		if outcome == OutcomeReopened {
			r.log.Warn().Str("job_id", job.ID.String()).Msg("webhook: failed job reopened by completion")
		}
		if target.Terminal() && target != job.Status {
			metrics.JobsFinished.WithLabelValues(job.ProviderSlug, string(target)).Inc()
		}
		if target == entity.StatusCompleted {
			if err := r.recordResult(ctx, job.ID, upd); err != nil {
				return "", err
			}
		}
		return outcome, nil
	}
	return "", fmt.Errorf("job %s kept changing while applying update", job.ID)
}

func decide(current, incoming entity.JobStatus) (entity.JobStatus, Outcome) {
	switch {
	case current == entity.StatusCompleted && incoming == entity.StatusCompleted:
		return current, OutcomeDuplicate
	case current == entity.StatusFailed && incoming == entity.StatusCompleted:
		return incoming, OutcomeReopened
	case current.Terminal():
		return current, OutcomeIgnored
	case incoming.Terminal():
		return incoming, OutcomeApplied
	case incoming == entity.StatusProcessing || current == entity.StatusProcessing:
		return entity.StatusProcessing, OutcomeApplied
	}
	return entity.StatusPending, OutcomeApplied
}

func (r *Reconciler) recordResult(ctx context.Context, jobID uuid.UUID, upd provider.Update) error {
	if upd.ResultURL == "" {
		return nil
	}
	res := entity.GenerationResult{
		JobID:    jobID,
		URL:      upd.ResultURL,
		FileType: entity.InferFileType(upd.ResultURL),
	}
	if upd.ThumbnailURL != "" {
		res.ThumbnailURL = &upd.ThumbnailURL
	}
	if _, err := r.results.Add(ctx, res); err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// ReplayUnmatched applies callbacks that arrived before the task id was
// stored on the job.
func (r *Reconciler) ReplayUnmatched(ctx context.Context, providerSlug, taskID string) (int, error) {
	adapter, err := r.adapters.Lookup(providerSlug)
	if err != nil {
		return 0, err
	}
	providerSlug = adapter.Slug()

	events, err := r.events.ListUnmatched(ctx, providerSlug, taskID, 20)
	if err != nil || len(events) == 0 {
		return 0, err
	}

	applied := 0
	for _, ev := range events {
		upd, err := adapter.MapWebhook(ev.ProviderPayload)
		if err != nil || upd.TaskID != taskID {
			continue
		}
		job, err := r.jobs.FindByProviderTaskID(ctx, providerSlug, taskID)
		if err != nil {
			return applied, err
		}
		if _, err := r.Apply(ctx, job, upd); err != nil {
			return applied, err
		}
		if err := r.events.MarkProcessed(ctx, ev.ID, job.ID, taskID); err != nil {
			return applied, err
		}
		applied++
	}
	if applied > 0 {
		r.log.Info().Str("provider", providerSlug).Str("task_id", taskID).Int("events", applied).Msg("webhook: replayed early callbacks")
	}
	return applied, nil
}

func (r *Reconciler) ListEvents(ctx context.Context, jobID *uuid.UUID) ([]entity.WebhookEvent, error) {
	return r.events.List(ctx, jobID, 100)
}
