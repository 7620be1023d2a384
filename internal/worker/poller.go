package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/metrics"
	"generation-gateway/internal/provider"
	"generation-gateway/internal/webhook"
)

type StaleJobRepo interface {
	ListStale(ctx context.Context, status entity.JobStatus, before time.Time, limit int) ([]entity.Job, error)
	Touch(ctx context.Context, id uuid.UUID) error
}

type PendingQueue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
	Queued(ctx context.Context, jobID string) (bool, error)
}

// UpdateApplier is implemented by webhook.Reconciler.
type UpdateApplier interface {
	Apply(ctx context.Context, job *entity.Job, upd provider.Update) (webhook.Outcome, error)
}

type PollerConfig struct {
	Interval        time.Duration
	ProcessingAfter time.Duration
	PendingAfter    time.Duration
	Batch           int
}

// Poller covers for lost queue entries and missed callbacks: it re-enqueues
// PENDING jobs the queue no longer holds and asks providers for the status of
// PROCESSING jobs that went quiet.
type Poller struct {
	jobs     StaleJobRepo
	queue    PendingQueue
	keys     KeyPool
	adapters AdapterLookup
	applier  UpdateApplier
	cfg      PollerConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewPoller(jobs StaleJobRepo, queue PendingQueue, keys KeyPool, adapters AdapterLookup, applier UpdateApplier, cfg PollerConfig, log zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProcessingAfter <= 0 {
		cfg.ProcessingAfter = 5 * time.Minute
	}
	if cfg.PendingAfter <= 0 {
		cfg.PendingAfter = 2 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	return &Poller{
		jobs:     jobs,
		queue:    queue,
		keys:     keys,
		adapters: adapters,
		applier:  applier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one pass over both stale sets.
func (p *Poller) Tick(ctx context.Context) {
	if n, err := p.requeuePending(ctx); err != nil {
		p.log.Error().Err(err).Msg("poller: requeue pending failed")
	} else if n > 0 {
		p.log.Info().Int("jobs", n).Msg("poller: re-enqueued pending jobs")
	}
	if err := p.pollProcessing(ctx); err != nil {
		p.log.Error().Err(err).Msg("poller: status poll failed")
	}
}

func (p *Poller) requeuePending(ctx context.Context) (int, error) {
	jobs, err := p.jobs.ListStale(ctx, entity.StatusPending, p.now().Add(-p.cfg.PendingAfter), p.cfg.Batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		id := j.ID.String()
		queued, err := p.queue.Queued(ctx, id)
		if err != nil {
			return n, err
		}
		if !queued {
			if err := p.queue.Enqueue(ctx, id, j.Priority); err != nil {
				return n, err
			}
			metrics.QueueRequeued.Inc()
			n++
		}
		if err := p.jobs.Touch(ctx, j.ID); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (p *Poller) pollProcessing(ctx context.Context) error {
	jobs, err := p.jobs.ListStale(ctx, entity.StatusProcessing, p.now().Add(-p.cfg.ProcessingAfter), p.cfg.Batch)
	if err != nil {
		return err
	}
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.pollOne(ctx, &jobs[i])
	}
	return nil
}

func (p *Poller) pollOne(ctx context.Context, job *entity.Job) {
	log := p.log.With().Str("job_id", job.ID.String()).Str("provider", job.ProviderSlug).Logger()

	// touched whatever happens so one bad job does not hog every tick
	defer func() {
		if err := p.jobs.Touch(ctx, job.ID); err != nil {
			log.Warn().Err(err).Msg("poller: touch failed")
		}
	}()

	if job.ProviderTaskID == nil {
		return
	}
	adapter, err := p.adapters.Lookup(job.ProviderSlug)
	if err != nil {
		log.Warn().Err(err).Msg("poller: no adapter")
		return
	}
	key, err := p.keys.Select(ctx, job.ProviderID)
	if err != nil {
		log.Debug().Err(err).Msg("poller: no key to poll with")
		return
	}

	start := time.Now()
	raw, err := adapter.GetStatus(ctx, *job.ProviderTaskID, key.Key)
	metrics.ProviderLatency.WithLabelValues(adapter.Slug(), "status").Observe(time.Since(start).Seconds())
	if err != nil {
		if provider.IsRateLimited(err) {
			if rerr := p.keys.ReportRateLimited(ctx, key.ID, provider.RetryAfter(err)); rerr != nil {
				log.Warn().Err(rerr).Str("key_id", key.ID.String()).Msg("poller: report rate limit failed")
			}
		}
		var ce *provider.CallError
		if errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound {
			log.Warn().Msg("poller: provider does not know the task")
			return
		}
		log.Warn().Err(err).Msg("poller: status call failed")
		return
	}

	upd, err := adapter.MapWebhook(raw)
	if err != nil {
		log.Warn().Err(err).Msg("poller: unreadable status")
		return
	}
	if upd.TaskID == "" {
		upd.TaskID = *job.ProviderTaskID
	}
	if !upd.Status.Terminal() {
		log.Debug().Int("progress", upd.Progress).Msg("poller: still running")
		return
	}
	outcome, err := p.applier.Apply(ctx, job, upd)
	if err != nil {
		log.Error().Err(err).Msg("poller: apply status failed")
		return
	}
	log.Info().Str("status", string(upd.Status)).Str("outcome", string(outcome)).Msg("poller: status reconciled")
}
