package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/keypool"
	"generation-gateway/internal/provider"
	"generation-gateway/internal/webhook"
)

type staleRepo struct {
	byStatus map[entity.JobStatus][]entity.Job
	touched  []uuid.UUID
}

func (r *staleRepo) ListStale(ctx context.Context, status entity.JobStatus, before time.Time, limit int) ([]entity.Job, error) {
	return r.byStatus[status], nil
}

func (r *staleRepo) Touch(ctx context.Context, id uuid.UUID) error {
	r.touched = append(r.touched, id)
	return nil
}

type setQueue struct {
	queued   map[string]bool
	enqueued []string
}

func (q *setQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

func (q *setQueue) Queued(ctx context.Context, jobID string) (bool, error) {
	return q.queued[jobID], nil
}

type recordingApplier struct {
	updates []provider.Update
}

func (a *recordingApplier) Apply(ctx context.Context, job *entity.Job, upd provider.Update) (webhook.Outcome, error) {
	a.updates = append(a.updates, upd)
	return webhook.OutcomeApplied, nil
}

func newTestPoller(repo *staleRepo, q *setQueue, adapter *scriptedAdapter, applier *recordingApplier, providerID uuid.UUID) *Poller {
	keys := keypool.NewPool(keypool.NewMemoryStore(entity.APIKey{ProviderID: providerID, Key: "poll-key"}), zerolog.Nop())
	return NewPoller(repo, q, keys, adapterSet{"fake": adapter}, applier, PollerConfig{}, zerolog.Nop())
}

func TestPoller_RequeuesLostPendingJobsOnly(t *testing.T) {
	lost, queued := entity.Job{ID: uuid.New(), Priority: 2}, entity.Job{ID: uuid.New()}
	repo := &staleRepo{byStatus: map[entity.JobStatus][]entity.Job{entity.StatusPending: {lost, queued}}}
	q := &setQueue{queued: map[string]bool{queued.ID.String(): true}}
	p := newTestPoller(repo, q, &scriptedAdapter{}, &recordingApplier{}, uuid.New())

	p.Tick(context.Background())

	if len(q.enqueued) != 1 || q.enqueued[0] != lost.ID.String() {
		t.Fatalf("expected only the lost job re-enqueued, got %v", q.enqueued)
	}
	if len(repo.touched) != 2 {
		t.Fatalf("expected both jobs touched, got %d", len(repo.touched))
	}
}

func TestPoller_AppliesTerminalStatus(t *testing.T) {
	pid := uuid.New()
	task := "T9"
	job := entity.Job{ID: uuid.New(), ProviderID: pid, ProviderSlug: "fake", Status: entity.StatusProcessing, ProviderTaskID: &task}
	repo := &staleRepo{byStatus: map[entity.JobStatus][]entity.Job{entity.StatusProcessing: {job}}}
	adapter := &scriptedAdapter{replies: []reply{{raw: `{"status":"COMPLETED","url":"https://cdn.example/v.mp4"}`}}}
	applier := &recordingApplier{}
	p := newTestPoller(repo, &setQueue{}, adapter, applier, pid)

	p.Tick(context.Background())

	if len(applier.updates) != 1 {
		t.Fatalf("expected one applied update, got %d", len(applier.updates))
	}
	if u := applier.updates[0]; u.TaskID != "T9" || u.Status != entity.StatusCompleted {
		t.Fatalf("unexpected update %+v", u)
	}
	if len(adapter.creds) != 1 || adapter.creds[0] != "poll-key" {
		t.Fatalf("expected status call with pooled key, got %v", adapter.creds)
	}
	if len(repo.touched) != 1 {
		t.Fatalf("expected polled job touched")
	}
}

func TestPoller_LeavesRunningJobs(t *testing.T) {
	pid := uuid.New()
	task := "T10"
	job := entity.Job{ID: uuid.New(), ProviderID: pid, ProviderSlug: "fake", Status: entity.StatusProcessing, ProviderTaskID: &task}
	repo := &staleRepo{byStatus: map[entity.JobStatus][]entity.Job{entity.StatusProcessing: {job}}}
	adapter := &scriptedAdapter{replies: []reply{{raw: `{"taskId":"T10","status":"PROCESSING"}`}}}
	applier := &recordingApplier{}
	p := newTestPoller(repo, &setQueue{}, adapter, applier, pid)

	p.Tick(context.Background())

	if len(applier.updates) != 0 {
		t.Fatalf("expected no update for a running job, got %v", applier.updates)
	}
	if len(repo.touched) != 1 {
		t.Fatalf("expected running job touched")
	}
}

func TestPoller_RateLimitedStatusCallParksKey(t *testing.T) {
	pid := uuid.New()
	task := "T11"
	job := entity.Job{ID: uuid.New(), ProviderID: pid, ProviderSlug: "fake", Status: entity.StatusProcessing, ProviderTaskID: &task}
	repo := &staleRepo{byStatus: map[entity.JobStatus][]entity.Job{entity.StatusProcessing: {job}}}
	adapter := &scriptedAdapter{replies: []reply{{err: &provider.CallError{Provider: "fake", StatusCode: 429}}}}
	store := keypool.NewMemoryStore(entity.APIKey{ProviderID: pid, Key: "poll-key"})
	p := NewPoller(repo, &setQueue{}, keypool.NewPool(store, zerolog.Nop()), adapterSet{"fake": adapter}, &recordingApplier{}, PollerConfig{}, zerolog.Nop())

	p.Tick(context.Background())

	keys, _ := store.ListByProvider(context.Background(), pid)
	if len(keys) != 1 || keys[0].Status != entity.KeyRateLimited {
		t.Fatalf("expected key parked as rate limited, got %+v", keys)
	}
	if len(repo.touched) != 1 {
		t.Fatalf("expected polled job touched")
	}
}
