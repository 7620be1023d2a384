package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type chanQueue struct {
	ids   chan string
	mu    sync.Mutex
	acked []string
}

func (q *chanQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.ids <- jobID
	return nil
}

func (q *chanQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case id := <-q.ids:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", redis.Nil
	}
}

func (q *chanQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, jobID)
	return nil
}

func (q *chanQueue) RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error) {
	return 0, nil
}

func (q *chanQueue) Queued(ctx context.Context, jobID string) (bool, error) { return false, nil }

func (q *chanQueue) ackedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

type countingHandler struct {
	mu   sync.Mutex
	seen map[string]int
	err  error
}

func (h *countingHandler) Process(ctx context.Context, jobID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = map[string]int{}
	}
	h.seen[jobID]++
	return h.err
}

func TestPool_ProcessesAndAcksEveryJob(t *testing.T) {
	q := &chanQueue{ids: make(chan string, 10)}
	h := &countingHandler{err: errors.New("boom")}
	p := NewPool(q, h, 3, zerolog.Nop())
	p.claimDelay = 20 * time.Millisecond

	for _, id := range []string{"a", "b", "c", "d"} {
		_ = q.Enqueue(context.Background(), id, 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(q.ackedIDs()) < 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := len(q.ackedIDs()); got != 4 {
		t.Fatalf("expected 4 acks, got %d", got)
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if h.seen[id] != 1 {
			t.Fatalf("expected %s processed once, got %d", id, h.seen[id])
		}
	}
}
