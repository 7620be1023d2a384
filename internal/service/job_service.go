package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/repository/postgresql"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrModelNotFound  = errors.New("model not found")
	ErrJobNotFound    = errors.New("job not found")
)

// JobRepository is implemented by postgresql.JobRepository.
type JobRepository interface {
	Create(ctx context.Context, in entity.NewJob) (*entity.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	List(ctx context.Context, f entity.JobFilter) ([]entity.Job, error)
}

type ModelLookup interface {
	ResolveModel(ctx context.Context, modelID string) (*entity.ModelBinding, error)
}

type ResultLister interface {
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]entity.GenerationResult, error)
}

// JobQueue is the enqueue-only side of Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
}

type JobService struct {
	repo       JobRepository
	models     ModelLookup
	results    ResultLister
	queue      JobQueue
	log        zerolog.Logger
	maxRetries int
}

func NewJobService(repo JobRepository, models ModelLookup, results ResultLister, queue JobQueue, log zerolog.Logger, maxRetries int) *JobService {
	if maxRetries <= 0 {
		maxRetries = entity.DefaultMaxRetries
	}
	return &JobService{
		repo:       repo,
		models:     models,
		results:    results,
		queue:      queue,
		log:        log,
		maxRetries: maxRetries,
	}
}

type CreateJobRequest struct {
	ModelID     string
	Category    string
	Priority    int
	RequestData json.RawMessage
}

// CreateJob stores a PENDING job and hands its id to the workers. Only
// request and model problems are returned; everything after the insert is
// recorded on the job.
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*entity.Job, error) {
	if req.ModelID == "" {
		return nil, fmt.Errorf("%w: model id is required", ErrInvalidRequest)
	}
	if len(req.RequestData) == 0 {
		req.RequestData = json.RawMessage(`{}`)
	}
	var probe map[string]any
	if err := json.Unmarshal(req.RequestData, &probe); err != nil || probe == nil {
		return nil, fmt.Errorf("%w: request data must be a JSON object", ErrInvalidRequest)
	}

	binding, err := s.models.ResolveModel(ctx, req.ModelID)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, req.ModelID)
		}
		return nil, fmt.Errorf("resolve model: %w", err)
	}

	category := binding.Category
	if req.Category != "" {
		c, ok := entity.ParseCategory(req.Category)
		if !ok {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, req.Category)
		}
		category = c
	}

	priority := req.Priority
	if priority < PriorityLow || priority > PriorityHigh {
		priority = PriorityNormal
	}

	job, err := s.repo.Create(ctx, entity.NewJob{
		ProviderID:  binding.ProviderID,
		ModelID:     binding.ModelID,
		Category:    category,
		Priority:    priority,
		RequestData: req.RequestData,
		MaxRetries:  binding.RetryBudget(s.maxRetries),
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	// the poller re-enqueues PENDING jobs the queue lost
	if err := s.queue.Enqueue(ctx, job.ID.String(), priority); err != nil {
		s.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("api: enqueue failed, left for poller")
	}

	s.log.Info().
		Str("job_id", job.ID.String()).
		Str("model_id", job.ModelID).
		Str("category", string(job.Category)).
		Int("priority", priority).
		Msg("api: job created")
	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *JobService) ListJobs(ctx context.Context, f entity.JobFilter) ([]entity.Job, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	return s.repo.List(ctx, f)
}

func (s *JobService) ListResults(ctx context.Context, jobID uuid.UUID) ([]entity.GenerationResult, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.results.ListByJob(ctx, jobID)
}
