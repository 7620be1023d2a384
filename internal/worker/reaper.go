package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"generation-gateway/internal/metrics"
)

type Requeuer interface {
	RequeueStale(ctx context.Context, olderThan time.Duration, maxPerLane int64) (int64, error)
}

// claimSlack covers the store and key pool calls around each attempt.
const claimSlack = time.Minute

// AttemptBudget is the longest Process can hold a claim for a job allowed
// maxRetries attempts: each attempt may wait out the provider timeout and the
// submission persist retries, with the backoff between attempts on top.
func AttemptBudget(maxRetries int, providerTimeout, backoffBase time.Duration) time.Duration {
	var persist time.Duration
	for i := 1; i < persistTries; i++ {
		persist += persistBackoff * time.Duration(i)
	}
	d := claimSlack
	for i := 1; i <= maxRetries; i++ {
		d += providerTimeout + persist
		if i < maxRetries {
			d += backoffBase * time.Duration(i)
		}
	}
	return d
}

// ClaimTTL never lets the reaper age out a claim that a live attempt loop
// may still hold.
func ClaimTTL(configured, budget time.Duration) time.Duration {
	if configured < budget {
		return budget
	}
	return configured
}

// Reaper hands ids stuck in the processing lists back to their queues. The
// first pass after start takes everything, since no worker of this process
// can still hold a claim. olderThan must exceed AttemptBudget or a job still
// being worked is handed out twice.
type Reaper struct {
	queue     Requeuer
	interval  time.Duration
	olderThan time.Duration
	batch     int64
	log       zerolog.Logger
}

func NewReaper(queue Requeuer, interval, olderThan time.Duration, log zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if olderThan <= 0 {
		olderThan = 10 * time.Minute
	}
	return &Reaper{queue: queue, interval: interval, olderThan: olderThan, batch: 100, log: log}
}

func (r *Reaper) Run(ctx context.Context) {
	r.sweep(ctx, 0)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx, r.olderThan)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context, olderThan time.Duration) {
	n, err := r.queue.RequeueStale(ctx, olderThan, r.batch)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error().Err(err).Msg("worker: requeue stale failed")
		}
		return
	}
	if n > 0 {
		metrics.QueueRequeued.Add(float64(n))
		r.log.Warn().Int64("count", n).Msg("worker: requeued stale claims")
	}
}
