package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/repository/postgresql"
	"generation-gateway/internal/service"
)

type fakeRepo struct {
	createCalled int
	last         entity.NewJob

	createID  uuid.UUID
	createErr error
	jobs      map[uuid.UUID]*entity.Job
	lastList  entity.JobFilter
}

func (r *fakeRepo) Create(ctx context.Context, in entity.NewJob) (*entity.Job, error) {
	r.createCalled++
	r.last = in
	if r.createErr != nil {
		return nil, r.createErr
	}
	now := time.Now().UTC()
	return &entity.Job{
		ID:          r.createID,
		ProviderID:  in.ProviderID,
		ModelID:     in.ModelID,
		Category:    in.Category,
		Priority:    in.Priority,
		Status:      entity.StatusPending,
		RequestData: in.RequestData,
		MaxRetries:  in.MaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	if j, ok := r.jobs[id]; ok {
		return j, nil
	}
	return nil, fmt.Errorf("job: %w", postgresql.ErrNotFound)
}

func (r *fakeRepo) List(ctx context.Context, f entity.JobFilter) ([]entity.Job, error) {
	r.lastList = f
	return nil, nil
}

type fakeModels map[string]entity.ModelBinding

func (m fakeModels) ResolveModel(ctx context.Context, id string) (*entity.ModelBinding, error) {
	b, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("model %s: %w", id, postgresql.ErrNotFound)
	}
	return &b, nil
}

type fakeResults struct{}

func (fakeResults) ListByJob(ctx context.Context, id uuid.UUID) ([]entity.GenerationResult, error) {
	return []entity.GenerationResult{{JobID: id, URL: "https://cdn.example/a.png", FileType: "image"}}, nil
}

type fakeQueue struct {
	enqueuedIDs        []string
	enqueuedPriorities []int
	enqueueErr         error
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.enqueuedIDs = append(q.enqueuedIDs, jobID)
	q.enqueuedPriorities = append(q.enqueuedPriorities, priority)
	return q.enqueueErr
}

var providerID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func models() fakeModels {
	five := 5
	return fakeModels{
		"flux-kontext-pro": {ModelID: "flux-kontext-pro", ProviderID: providerID, ProviderSlug: "kie", Category: entity.CategoryTextToImage},
		"veo-2":            {ModelID: "veo-2", ProviderID: providerID, ProviderSlug: "geminigen", Category: entity.CategoryTextToVideo, MaxRetries: &five},
	}
}

func newService(repo *fakeRepo, queue *fakeQueue) *service.JobService {
	return service.NewJobService(repo, models(), fakeResults{}, queue, zerolog.Nop(), 3)
}

func TestJobService_CreateJob_PriorityPropagates(t *testing.T) {
	ctx := context.Background()
	id := uuid.MustParse("66666666-6666-6666-6666-666666666666")

	repo := &fakeRepo{createID: id}
	queue := &fakeQueue{}
	svc := newService(repo, queue)

	job, err := svc.CreateJob(ctx, service.CreateJobRequest{
		ModelID:     "flux-kontext-pro",
		Priority:    2,
		RequestData: json.RawMessage(`{"prompt":"a cat"}`),
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if job.Status != entity.StatusPending {
		t.Fatalf("expected PENDING, got %s", job.Status)
	}
	if repo.last.Priority != 2 {
		t.Fatalf("expected repo priority=2, got %d", repo.last.Priority)
	}
	if len(queue.enqueuedPriorities) != 1 || queue.enqueuedPriorities[0] != 2 {
		t.Fatalf("expected enqueue priority=2, got %#v", queue.enqueuedPriorities)
	}
	if queue.enqueuedIDs[0] != id.String() {
		t.Fatalf("expected enqueue id=%s, got %s", id, queue.enqueuedIDs[0])
	}
}

func TestJobService_CreateJob_PriorityClampedToNormal(t *testing.T) {
	repo := &fakeRepo{createID: uuid.New()}
	queue := &fakeQueue{}
	svc := newService(repo, queue)

	_, err := svc.CreateJob(context.Background(), service.CreateJobRequest{
		ModelID:  "flux-kontext-pro",
		Priority: 999, // invalid
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.last.Priority != 1 {
		t.Fatalf("expected repo priority=1 (clamped), got %d", repo.last.Priority)
	}
	if len(queue.enqueuedPriorities) != 1 || queue.enqueuedPriorities[0] != 1 {
		t.Fatalf("expected enqueue priority=1 (clamped), got %#v", queue.enqueuedPriorities)
	}
	if string(repo.last.RequestData) != `{}` {
		t.Fatalf("expected empty request data to default to {}, got %s", repo.last.RequestData)
	}
}

func TestJobService_CreateJob_CategoryAndRetryBudget(t *testing.T) {
	repo := &fakeRepo{createID: uuid.New()}
	svc := newService(repo, &fakeQueue{})

	if _, err := svc.CreateJob(context.Background(), service.CreateJobRequest{ModelID: "flux-kontext-pro"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.last.Category != entity.CategoryTextToImage || repo.last.MaxRetries != 3 {
		t.Fatalf("expected model category and default budget, got %s/%d", repo.last.Category, repo.last.MaxRetries)
	}

	if _, err := svc.CreateJob(context.Background(), service.CreateJobRequest{ModelID: "veo-2", Category: "image-to-video"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.last.Category != entity.CategoryImageToVideo {
		t.Fatalf("expected requested category, got %s", repo.last.Category)
	}
	if repo.last.MaxRetries != 5 {
		t.Fatalf("expected model max_retries override 5, got %d", repo.last.MaxRetries)
	}
}

func TestJobService_CreateJob_ModelNotFound(t *testing.T) {
	repo := &fakeRepo{createID: uuid.New()}
	queue := &fakeQueue{}
	svc := newService(repo, queue)

	_, err := svc.CreateJob(context.Background(), service.CreateJobRequest{ModelID: "nope"})
	if !errors.Is(err, service.ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if repo.createCalled != 0 || len(queue.enqueuedIDs) != 0 {
		t.Fatalf("expected no job to be created")
	}
}

func TestJobService_CreateJob_InvalidRequests(t *testing.T) {
	svc := newService(&fakeRepo{createID: uuid.New()}, &fakeQueue{})

	cases := []service.CreateJobRequest{
		{},
		{ModelID: "flux-kontext-pro", RequestData: json.RawMessage(`[1,2]`)},
		{ModelID: "flux-kontext-pro", RequestData: json.RawMessage(`{bad`)},
		{ModelID: "flux-kontext-pro", Category: "text-to-hologram"},
	}
	for i, req := range cases {
		if _, err := svc.CreateJob(context.Background(), req); !errors.Is(err, service.ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestJobService_CreateJob_EnqueueFailureStillAccepts(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepo{createID: id}
	svc := newService(repo, &fakeQueue{enqueueErr: errors.New("redis down")})

	job, err := svc.CreateJob(context.Background(), service.CreateJobRequest{ModelID: "flux-kontext-pro"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if job.ID != id {
		t.Fatalf("expected job %s, got %s", id, job.ID)
	}
}

func TestJobService_GetJob_NotFound(t *testing.T) {
	svc := newService(&fakeRepo{}, &fakeQueue{})

	if _, err := svc.GetJob(context.Background(), uuid.New()); !errors.Is(err, service.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := svc.ListResults(context.Background(), uuid.New()); !errors.Is(err, service.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for results, got %v", err)
	}
}

func TestJobService_ListJobs_DefaultLimit(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo, &fakeQueue{})

	if _, err := svc.ListJobs(context.Background(), entity.JobFilter{Status: entity.StatusFailed}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.lastList.Limit != 100 || repo.lastList.Status != entity.StatusFailed {
		t.Fatalf("expected limit 100 with status filter, got %+v", repo.lastList)
	}
}
