package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type sweepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sweepRecorder) RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, olderThan)
	return 1, nil
}

func (s *sweepRecorder) seen() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

func TestReaper_FullSweepThenAgeThreshold(t *testing.T) {
	rec := &sweepRecorder{}
	r := NewReaper(rec, 10*time.Millisecond, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.seen()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	calls := rec.seen()
	if len(calls) < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", len(calls))
	}
	if calls[0] != 0 {
		t.Fatalf("expected startup sweep without age limit, got %v", calls[0])
	}
	if calls[1] != time.Minute {
		t.Fatalf("expected periodic sweep with 1m threshold, got %v", calls[1])
	}
}

func TestAttemptBudget_CoversTimeoutsAndBackoff(t *testing.T) {
	// 1m slack + 3 * (60s + 600ms persist) + 1s + 2s backoff
	want := time.Minute + 3*(60*time.Second+600*time.Millisecond) + 3*time.Second
	if got := AttemptBudget(3, 60*time.Second, time.Second); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got := AttemptBudget(1, 10*time.Second, time.Hour); got != time.Minute+10*time.Second+600*time.Millisecond {
		t.Fatalf("expected no backoff after the last attempt, got %s", got)
	}
}

func TestClaimTTL_NeverBelowBudget(t *testing.T) {
	budget := AttemptBudget(5, 2*time.Minute, 10*time.Second)
	if got := ClaimTTL(5*time.Minute, budget); got != budget {
		t.Fatalf("expected ttl raised to %s, got %s", budget, got)
	}
	if got := ClaimTTL(time.Hour, budget); got != time.Hour {
		t.Fatalf("expected configured ttl kept, got %s", got)
	}
}
