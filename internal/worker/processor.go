package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/keypool"
	"generation-gateway/internal/metrics"
	"generation-gateway/internal/provider"
	"generation-gateway/internal/repository/postgresql"
)

type JobRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkProcessing(ctx context.Context, id, keyID uuid.UUID) error
	SaveProviderRequest(ctx context.Context, id uuid.UUID, payload json.RawMessage) error
	SaveSubmission(ctx context.Context, id uuid.UUID, s entity.Submission) error
	RecordAttemptFailure(ctx context.Context, id uuid.UUID, message, code string) (*entity.Job, error)
}

type ModelLookup interface {
	ResolveModel(ctx context.Context, modelID string) (*entity.ModelBinding, error)
}

// KeyPool is implemented by keypool.Pool.
type KeyPool interface {
	Select(ctx context.Context, providerID uuid.UUID) (*entity.APIKey, error)
	ReportSuccess(ctx context.Context, keyID uuid.UUID) error
	ReportError(ctx context.Context, keyID uuid.UUID, message string) error
	ReportRateLimited(ctx context.Context, keyID uuid.UUID, resetAt *time.Time) error
}

type AdapterLookup interface {
	Lookup(slug string) (provider.Adapter, error)
}

type ResultRecorder interface {
	Add(ctx context.Context, r entity.GenerationResult) (bool, error)
}

// Replayer applies callbacks that arrived before the task id was stored.
type Replayer interface {
	ReplayUnmatched(ctx context.Context, providerSlug, taskID string) (int, error)
}

var (
	// errSettled means the job finished elsewhere (usually a webhook) mid-attempt.
	errSettled = errors.New("job settled concurrently")
	// errUnpersisted means the provider accepted the job but the submission
	// could not be stored. Retrying would submit it twice.
	errUnpersisted = errors.New("provider accepted job, submission not stored")
)

const (
	persistTries   = 3
	persistBackoff = 200 * time.Millisecond
)

type Processor struct {
	repo        JobRepo
	models      ModelLookup
	keys        KeyPool
	adapters    AdapterLookup
	results     ResultRecorder
	replayer    Replayer
	log         zerolog.Logger
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewProcessor(repo JobRepo, models ModelLookup, keys KeyPool, adapters AdapterLookup, results ResultRecorder, replayer Replayer, log zerolog.Logger, backoffBase time.Duration) *Processor {
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &Processor{
		repo:        repo,
		models:      models,
		keys:        keys,
		adapters:    adapters,
		results:     results,
		replayer:    replayer,
		log:         log,
		backoffBase: backoffBase,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Process runs the attempt loop for one job. Attempt failures end up on the
// job; the returned error is for infrastructure problems only.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		p.log.Error().Str("job_id", jobID).Err(err).Msg("worker: bad job id")
		return err
	}

	job, err := p.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			p.log.Warn().Str("job_id", jobID).Msg("worker: job vanished, dropping")
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		p.log.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("worker: job already finished")
		return nil
	}

	log := p.log.With().
		Str("job_id", jobID).
		Str("model_id", job.ModelID).
		Str("category", string(job.Category)).
		Logger()

	binding, adapter, resolveErr := p.resolve(ctx, job)
	slug := job.ProviderSlug
	if binding != nil {
		slug = binding.ProviderSlug
	}

	for job.RetryCount < job.MaxRetries {
		attempt := job.RetryCount + 1
		attemptErr := resolveErr
		if attemptErr == nil {
			attemptErr = p.attempt(ctx, job, binding, adapter, log)
		}
		if errors.Is(attemptErr, errSettled) {
			log.Info().Int("attempt", attempt).Msg("worker: job finished elsewhere, stopping")
			return nil
		}
		if errors.Is(attemptErr, errUnpersisted) {
			log.Error().Err(attemptErr).Int("attempt", attempt).Msg("worker: submission lost, not retrying")
			return attemptErr
		}
		if attemptErr == nil {
			log.Info().Int("attempt", attempt).Dur("took", time.Since(start)).Msg("worker: job submitted")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.JobAttempts.WithLabelValues(slug, attemptOutcome(attemptErr)).Inc()
		log.Warn().Err(attemptErr).Int("attempt", attempt).Int("max_retries", job.MaxRetries).Msg("worker: attempt failed")

		updated, err := p.repo.RecordAttemptFailure(ctx, job.ID, attemptErr.Error(), provider.ErrorCode(attemptErr))
		if err != nil {
			if errors.Is(err, postgresql.ErrInvalidStateTransition) {
				log.Info().Msg("worker: job finished elsewhere, stopping")
				return nil
			}
			return fmt.Errorf("record attempt failure: %w", err)
		}
		job = updated

		if job.Status == entity.StatusFailed {
			metrics.JobsFinished.WithLabelValues(slug, string(entity.StatusFailed)).Inc()
			log.Error().
				Int("retry_count", job.RetryCount).
				Dur("took", time.Since(start)).
				Str("error", attemptErr.Error()).
				Msg("worker: job failed, retries exhausted")
			return nil
		}

		if err := p.sleep(ctx, p.backoffBase*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) resolve(ctx context.Context, job *entity.Job) (*entity.ModelBinding, provider.Adapter, error) {
	binding, err := p.models.ResolveModel(ctx, job.ModelID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve model %s: %w", job.ModelID, err)
	}
	adapter, err := p.adapters.Lookup(binding.ProviderSlug)
	if err != nil {
		return binding, nil, err
	}
	return binding, adapter, nil
}

// attempt runs one select-submit round. It reports key health itself.
func (p *Processor) attempt(ctx context.Context, job *entity.Job, b *entity.ModelBinding, adapter provider.Adapter, log zerolog.Logger) error {
	key, err := p.keys.Select(ctx, b.ProviderID)
	if err != nil {
		return err
	}
	if err := p.repo.MarkProcessing(ctx, job.ID, key.ID); err != nil {
		return settledOr(err)
	}

	in, err := provider.ParseInput(job.RequestData)
	if err != nil {
		return fmt.Errorf("request data: %w", err)
	}
	if b.ExternalModel != "" && in.String("model") == "" {
		in["model"] = b.ExternalModel
	}
	payload, err := adapter.MapRequest(job.Category, in)
	if err != nil {
		return err
	}
	if err := p.repo.SaveProviderRequest(ctx, job.ID, payload); err != nil {
		return settledOr(err)
	}

	callStart := time.Now()
	raw, err := adapter.SubmitGeneration(ctx, job.Category, payload, key.Key)
	metrics.ProviderLatency.WithLabelValues(adapter.Slug(), "submit").Observe(time.Since(callStart).Seconds())
	if err != nil {
		p.reportKey(ctx, key, err, log)
		return err
	}

	upd, err := adapter.MapResponse(job.Category, raw)
	if err != nil {
		p.reportKey(ctx, key, err, log)
		return fmt.Errorf("map provider response: %w", err)
	}
	if upd.Status == entity.StatusFailed {
		// the credential worked; the generation did not
		return &provider.GenerationError{Provider: adapter.Slug(), Message: upd.ErrorMessage, Code: upd.ErrorCode}
	}

	if rerr := p.keys.ReportSuccess(ctx, key.ID); rerr != nil {
		log.Warn().Err(rerr).Str("key_id", key.ID.String()).Msg("worker: report key success failed")
	}
	if err := p.persistSubmission(ctx, job.ID, raw, upd); err != nil {
		return settledOr(err)
	}
	metrics.JobAttempts.WithLabelValues(adapter.Slug(), "success").Inc()

	if upd.Status == entity.StatusCompleted {
		metrics.JobsFinished.WithLabelValues(adapter.Slug(), string(entity.StatusCompleted)).Inc()
		p.recordResult(ctx, job.ID, upd, log)
	} else if upd.TaskID != "" && p.replayer != nil {
		if _, err := p.replayer.ReplayUnmatched(ctx, adapter.Slug(), upd.TaskID); err != nil {
			log.Warn().Err(err).Str("task_id", upd.TaskID).Msg("worker: replay of early callbacks failed")
		}
	}
	log.Debug().
		Str("key_id", key.ID.String()).
		Str("task_id", upd.TaskID).
		Str("status", string(upd.Status)).
		Msg("worker: provider accepted job")
	return nil
}

// persistSubmission stores an accepted submission, retrying briefly. Once the
// provider holds the task the attempt must not be charged or resubmitted.
func (p *Processor) persistSubmission(ctx context.Context, jobID uuid.UUID, raw json.RawMessage, upd provider.Update) error {
	data, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("%w: task %s: encode update: %v", errUnpersisted, upd.TaskID, err)
	}
	sub := entity.Submission{
		ProviderResponse: raw,
		ResponseData:     data,
		TaskID:           upd.TaskID,
		Status:           upd.Status,
		ResultURL:        upd.ResultURL,
		ThumbnailURL:     upd.ThumbnailURL,
	}

	for i := 1; ; i++ {
		err = p.repo.SaveSubmission(ctx, jobID, sub)
		if err == nil || errors.Is(err, postgresql.ErrInvalidStateTransition) {
			return err
		}
		if i == persistTries {
			break
		}
		p.log.Warn().Err(err).Str("job_id", jobID.String()).Str("task_id", upd.TaskID).Int("try", i).Msg("worker: save submission failed, retrying")
		if serr := p.sleep(ctx, persistBackoff*time.Duration(i)); serr != nil {
			break
		}
	}
	return fmt.Errorf("%w: task %s: %v", errUnpersisted, upd.TaskID, err)
}

func settledOr(err error) error {
	if errors.Is(err, postgresql.ErrInvalidStateTransition) {
		return errSettled
	}
	return err
}

func (p *Processor) reportKey(ctx context.Context, key *entity.APIKey, callErr error, log zerolog.Logger) {
	var err error
	switch {
	case errors.Is(callErr, provider.ErrUnsupportedCategory):
		return
	case provider.IsRateLimited(callErr):
		err = p.keys.ReportRateLimited(ctx, key.ID, provider.RetryAfter(callErr))
	default:
		err = p.keys.ReportError(ctx, key.ID, callErr.Error())
	}
	if err != nil {
		log.Warn().Err(err).Str("key_id", key.ID.String()).Msg("worker: report key outcome failed")
	}
}

func (p *Processor) recordResult(ctx context.Context, jobID uuid.UUID, upd provider.Update, log zerolog.Logger) {
	if upd.ResultURL == "" || p.results == nil {
		return
	}
	res := entity.GenerationResult{JobID: jobID, URL: upd.ResultURL, FileType: entity.InferFileType(upd.ResultURL)}
	if upd.ThumbnailURL != "" {
		res.ThumbnailURL = &upd.ThumbnailURL
	}
	if _, err := p.results.Add(ctx, res); err != nil {
		log.Warn().Err(err).Msg("worker: record result failed")
	}
}

func attemptOutcome(err error) string {
	switch {
	case errors.Is(err, keypool.ErrNoActiveKey):
		return "no_key"
	case errors.Is(err, provider.ErrUnsupportedCategory):
		return "unsupported"
	case provider.IsRateLimited(err):
		return "rate_limited"
	}
	return "error"
}
