package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"generation-gateway/internal/service"
)

// JobHandler is implemented by Processor.
type JobHandler interface {
	Process(ctx context.Context, jobID string) error
}

type Pool struct {
	queue      service.Queue
	processor  JobHandler
	workers    int
	claimDelay time.Duration
	log        zerolog.Logger
}

func NewPool(queue service.Queue, processor JobHandler, workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		log:        log,
	}
}

// Run claims ids until ctx is cancelled, then waits for in-flight jobs.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("worker: pool started")

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				err := p.processor.Process(ctx, jobID)
				if err != nil {
					p.log.Error().Err(err).Int("worker", n).Str("job_id", jobID).Msg("worker: process failed")
				}
				if ctx.Err() != nil {
					// leave it in processing; the reaper hands it out again
					continue
				}
				// Ack regardless: the outcome is on the job. An infrastructure error
				// leaves the job non-terminal and the poller picks it up.
				if ackErr := p.queue.Ack(ctx, jobID); ackErr != nil {
					p.log.Error().Err(ackErr).Int("worker", n).Str("job_id", jobID).Msg("worker: ack failed")
				}
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		p.log.Info().Msg("worker: pool stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					p.log.Error().Err(err).Msg("worker: claim failed")
					_ = sleepCtx(ctx, time.Second)
				}
				continue
			}
			select {
			case jobCh <- jobID:
			case <-ctx.Done():
				return
			}
		}
	}
}
