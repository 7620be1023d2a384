package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Queue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, olderThan time.Duration, maxPerLane int64) (int64, error)
	Queued(ctx context.Context, jobID string) (bool, error)
}

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// LanesFor derives the low/normal/high lanes from the base keys.
func LanesFor(queueKey, processingKey string) []Lane {
	names := []string{"low", "normal", "high"}
	lanes := make([]Lane, len(names))
	for i, n := range names {
		lanes[i] = Lane{QueueKey: queueKey + ":" + n, ProcessingKey: processingKey + ":" + n}
	}
	return lanes
}

// redisPriorityQueue implements a reliable queue with priorities using Redis lists.
// lanes[i] serves priority i; claims try the highest lane first.
// Claim: BRPOPLPUSH lane.queue -> lane.processing
// Ack:   LREM from the processing list recorded in processingMapKey
type redisPriorityQueue struct {
	rdb              *redis.Client
	processingMapKey string
	lanes            []Lane
	now              func() time.Time
}

func NewRedisPriorityQueue(rdb *redis.Client, processingMapKey string, lanes ...Lane) Queue {
	return &redisPriorityQueue{
		rdb:              rdb,
		processingMapKey: processingMapKey,
		lanes:            lanes,
		now:              time.Now,
	}
}

func clampPriority(p, lanes int) int {
	if p < 0 {
		return 0
	}
	if p > lanes-1 {
		return lanes - 1
	}
	return p
}

func (q *redisPriorityQueue) laneByPriority(p int) Lane {
	return q.lanes[clampPriority(p, len(q.lanes))]
}

// byPriority lists lanes highest first.
func (q *redisPriorityQueue) byPriority() []Lane {
	out := make([]Lane, 0, len(q.lanes))
	for i := len(q.lanes) - 1; i >= 0; i-- {
		out = append(out, q.lanes[i])
	}
	return out
}

func (q *redisPriorityQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	ln := q.laneByPriority(priority)
	return q.rdb.LPush(ctx, ln.QueueKey, jobID).Err()
}

// claim values are "<processing key>|<unix seconds>".
func encodeClaim(processingKey string, at time.Time) string {
	return processingKey + "|" + strconv.FormatInt(at.Unix(), 10)
}

func decodeClaim(v string) (string, time.Time, bool) {
	i := strings.LastIndexByte(v, '|')
	if i < 0 {
		return v, time.Time{}, false
	}
	sec, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return v, time.Time{}, false
	}
	return v[:i], time.Unix(sec, 0), true
}

// ClaimBlocking tries lanes from high to low with small blocking slots,
// so it is "mostly blocking" but still respects priority.
func (q *redisPriorityQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	// if timeout <= 0, loop forever (like a worker daemon)
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := 1 * time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !forever && time.Now().After(deadline) {
			return "", redis.Nil
		}

		for _, ln := range q.byPriority() {
			wait := slot
			if !forever {
				remain := time.Until(deadline)
				if remain <= 0 {
					return "", redis.Nil
				}
				if remain < wait {
					wait = remain
				}
			}

			id, err := q.rdb.BRPopLPush(ctx, ln.QueueKey, ln.ProcessingKey, wait).Result()
			if err == nil {
				// remember which processing list holds this id (for Ack) and since when
				if hErr := q.rdb.HSet(ctx, q.processingMapKey, id, encodeClaim(ln.ProcessingKey, q.now())).Err(); hErr != nil {
					return "", hErr
				}
				return id, nil
			}

			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", err
		}
	}
}

func (q *redisPriorityQueue) Ack(ctx context.Context, jobID string) error {
	claim, err := q.rdb.HGet(ctx, q.processingMapKey, jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// no mapping: remove the id from every processing list
			for _, ln := range q.lanes {
				_ = q.rdb.LRem(ctx, ln.ProcessingKey, 1, jobID).Err()
			}
			return nil
		}
		return err
	}

	processingKey, _, _ := decodeClaim(claim)
	if err := q.rdb.LRem(ctx, processingKey, 1, jobID).Err(); err != nil {
		return err
	}
	_ = q.rdb.HDel(ctx, q.processingMapKey, jobID).Err()
	return nil
}

// RequeueStale moves ids claimed longer than olderThan ago from processing
// back to their queue. olderThan <= 0 sweeps everything, including ids that
// never got a claim record; run it that way only when no worker is live.
func (q *redisPriorityQueue) RequeueStale(ctx context.Context, olderThan time.Duration, maxPerLane int64) (int64, error) {
	var moved int64
	cutoff := q.now().Add(-olderThan)

	for _, ln := range q.byPriority() {
		ids, err := q.rdb.LRange(ctx, ln.ProcessingKey, 0, maxPerLane-1).Result()
		if err != nil {
			return moved, err
		}
		for _, id := range ids {
			if olderThan > 0 {
				claim, err := q.rdb.HGet(ctx, q.processingMapKey, id).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					return moved, err
				}
				if _, at, ok := decodeClaim(claim); ok && at.After(cutoff) {
					continue
				}
			}

			removed, err := q.rdb.LRem(ctx, ln.ProcessingKey, 1, id).Result()
			if err != nil {
				return moved, err
			}
			if removed == 0 {
				// acked meanwhile
				continue
			}
			pipe := q.rdb.TxPipeline()
			pipe.LPush(ctx, ln.QueueKey, id)
			pipe.HDel(ctx, q.processingMapKey, id)
			if _, err := pipe.Exec(ctx); err != nil {
				return moved, err
			}
			moved++
		}
	}

	return moved, nil
}

// Queued reports whether the id waits in a lane or is claimed by a worker.
func (q *redisPriorityQueue) Queued(ctx context.Context, jobID string) (bool, error) {
	claimed, err := q.rdb.HExists(ctx, q.processingMapKey, jobID).Result()
	if err != nil || claimed {
		return claimed, err
	}
	for _, ln := range q.lanes {
		_, err := q.rdb.LPos(ctx, ln.QueueKey, jobID, redis.LPosArgs{}).Result()
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, redis.Nil) {
			return false, err
		}
	}
	return false, nil
}
