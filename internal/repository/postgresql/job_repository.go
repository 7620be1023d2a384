package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"generation-gateway/internal/entity"
)

const jobColumns = `
j.id, j.provider_id, p.slug, j.model_id, j.category, j.priority, j.status,
j.request_data, j.provider_request, j.provider_response, j.response_data,
j.provider_task_id, j.retry_count, j.max_retries, j.api_key_id,
j.result_url, j.thumbnail_url, j.error_message, j.error_code,
j.created_at, j.started_at, j.completed_at, j.updated_at`

const jobFrom = `FROM jobs j JOIN providers p ON p.id = j.provider_id`

// Updates issued by the attempt loop never touch a job a webhook already
// finished.
const nonTerminal = `status NOT IN ('COMPLETED', 'FAILED')`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job                                  entity.Job
		category, status                     string
		request, provReq, provResp, response []byte
	)
	if err := row.Scan(
		&job.ID, &job.ProviderID, &job.ProviderSlug, &job.ModelID, &category, &job.Priority, &status,
		&request, &provReq, &provResp, &response,
		&job.ProviderTaskID, &job.RetryCount, &job.MaxRetries, &job.APIKeyID,
		&job.ResultURL, &job.ThumbnailURL, &job.ErrorMessage, &job.ErrorCode,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Category = entity.Category(category)
	job.Status = entity.JobStatus(status)
	job.RequestData = rawOrNil(request)
	job.ProviderRequest = rawOrNil(provReq)
	job.ProviderResponse = rawOrNil(provResp)
	job.ResponseData = rawOrNil(response)
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]entity.Job, error) {
	defer rows.Close()
	out := []entity.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (r *JobRepository) Create(ctx context.Context, in entity.NewJob) (*entity.Job, error) {
	if len(in.RequestData) == 0 {
		in.RequestData = json.RawMessage(`{}`)
	}
	if in.MaxRetries <= 0 {
		in.MaxRetries = entity.DefaultMaxRetries
	}

	const q = `
INSERT INTO jobs (provider_id, model_id, category, priority, status, request_data, max_retries)
VALUES ($1, $2, $3, $4, 'PENDING', $5, $6)
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q,
		in.ProviderID, in.ModelID, string(in.Category), in.Priority, []byte(in.RequestData), in.MaxRetries,
	).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` ` + jobFrom + ` WHERE j.id = $1`
	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "job")
	}
	return job, nil
}

func (r *JobRepository) List(ctx context.Context, f entity.JobFilter) ([]entity.Job, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	q := `SELECT ` + jobColumns + ` ` + jobFrom + `
WHERE ($1 = '' OR j.status = $1)
  AND ($2 = '' OR j.category = $2)
ORDER BY j.created_at DESC
LIMIT $3`
	rows, err := r.pool.Query(ctx, q, string(f.Status), string(f.Category), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// transitionMiss explains why a guarded update touched no row.
func (r *JobRepository) transitionMiss(ctx context.Context, id uuid.UUID) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return notFound(err, "job")
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidStateTransition, id, status)
}

func (r *JobRepository) execGuarded(ctx context.Context, id uuid.UUID, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionMiss(ctx, id)
	}
	return nil
}

// MarkProcessing starts an attempt with the claimed key. started_at keeps the
// first attempt's time.
func (r *JobRepository) MarkProcessing(ctx context.Context, id, keyID uuid.UUID) error {
	q := `
UPDATE jobs
SET status = 'PROCESSING', api_key_id = $2, started_at = COALESCE(started_at, now()), updated_at = now()
WHERE id = $1 AND ` + nonTerminal
	return r.execGuarded(ctx, id, q, keyID)
}

func (r *JobRepository) SaveProviderRequest(ctx context.Context, id uuid.UUID, payload json.RawMessage) error {
	q := `UPDATE jobs SET provider_request = $2, updated_at = now() WHERE id = $1 AND ` + nonTerminal
	return r.execGuarded(ctx, id, q, nullableJSON(payload))
}

func (r *JobRepository) SaveSubmission(ctx context.Context, id uuid.UUID, s entity.Submission) error {
	status := s.Status
	if status != entity.StatusCompleted {
		status = entity.StatusProcessing
	}
	q := `
UPDATE jobs
SET provider_response = $2,
    response_data     = $3,
    provider_task_id  = COALESCE($4, provider_task_id),
    status            = $5,
    result_url        = COALESCE($6, result_url),
    thumbnail_url     = COALESCE($7, thumbnail_url),
    error_message     = NULL,
    error_code        = NULL,
    completed_at      = CASE WHEN $5 = 'COMPLETED' THEN now() ELSE completed_at END,
    updated_at        = now()
WHERE id = $1 AND ` + nonTerminal
	return r.execGuarded(ctx, id, q,
		nullableJSON(s.ProviderResponse), nullableJSON(s.ResponseData), nullableString(s.TaskID),
		string(status), nullableString(s.ResultURL), nullableString(s.ThumbnailURL),
	)
}

// RecordAttemptFailure counts a failed attempt. The job turns FAILED in the
// same statement once the retry budget is spent.
func (r *JobRepository) RecordAttemptFailure(ctx context.Context, id uuid.UUID, message, code string) (*entity.Job, error) {
	q := `
UPDATE jobs
SET retry_count   = retry_count + 1,
    error_message = $2,
    error_code    = $3,
    status        = CASE WHEN retry_count + 1 >= max_retries THEN 'FAILED' ELSE status END,
    completed_at  = CASE WHEN retry_count + 1 >= max_retries THEN now() ELSE completed_at END,
    updated_at    = now()
WHERE id = $1 AND retry_count < max_retries AND ` + nonTerminal + `
RETURNING id`
	var got uuid.UUID
	if err := r.pool.QueryRow(ctx, q, id, message, nullableString(code)).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.transitionMiss(ctx, id)
		}
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *JobRepository) FindByProviderTaskID(ctx context.Context, providerSlug, taskID string) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` ` + jobFrom + ` WHERE p.slug = $1 AND j.provider_task_id = $2`
	job, err := scanJob(r.pool.QueryRow(ctx, q, providerSlug, taskID))
	if err != nil {
		return nil, notFound(err, "job by task id")
	}
	return job, nil
}

// ScanNonTerminal returns the newest unfinished jobs of a provider that have a
// stored provider response, for matching callbacks that beat the task id
// write.
func (r *JobRepository) ScanNonTerminal(ctx context.Context, providerSlug string, limit int) ([]entity.Job, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + jobColumns + ` ` + jobFrom + `
WHERE p.slug = $1 AND j.status IN ('PENDING', 'PROCESSING') AND j.provider_response IS NOT NULL
ORDER BY j.created_at DESC
LIMIT $2`
	rows, err := r.pool.Query(ctx, q, providerSlug, limit)
	if err != nil {
		return nil, fmt.Errorf("scan non-terminal jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *JobRepository) BackfillProviderTaskID(ctx context.Context, id uuid.UUID, taskID string) error {
	const q = `UPDATE jobs SET provider_task_id = $2, updated_at = now() WHERE id = $1 AND provider_task_id IS NULL`
	if _, err := r.pool.Exec(ctx, q, id, taskID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task id %s already bound to another job: %w", taskID, ErrInvalidStateTransition)
		}
		return err
	}
	return nil
}

// ApplyUpdate writes a reconciled status only if the job still has the status
// the caller decided on. It reports false when the row moved underneath.
func (r *JobRepository) ApplyUpdate(ctx context.Context, id uuid.UUID, expected entity.JobStatus, u entity.JobUpdate) (bool, error) {
	const q = `
UPDATE jobs
SET status        = $3,
    response_data = COALESCE($4, response_data),
    result_url    = COALESCE($5, result_url),
    thumbnail_url = COALESCE($6, thumbnail_url),
    error_message = CASE WHEN $3 = 'COMPLETED' THEN NULL ELSE COALESCE($7, error_message) END,
    error_code    = CASE WHEN $3 = 'COMPLETED' THEN NULL ELSE COALESCE($8, error_code) END,
    completed_at  = CASE WHEN $3 IN ('COMPLETED', 'FAILED') THEN now() ELSE completed_at END,
    updated_at    = now()
WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, q, id, string(expected), string(u.Status),
		nullableJSON(u.ResponseData), nullableString(u.ResultURL), nullableString(u.ThumbnailURL),
		nullableString(u.ErrorMessage), nullableString(u.ErrorCode),
	)
	if err != nil {
		return false, fmt.Errorf("apply job update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStale returns jobs of the given status untouched since before.
// PROCESSING jobs are only returned once they carry a provider task id.
func (r *JobRepository) ListStale(ctx context.Context, status entity.JobStatus, before time.Time, limit int) ([]entity.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobColumns + ` ` + jobFrom + `
WHERE j.status = $1 AND j.updated_at < $2
  AND ($1 <> 'PROCESSING' OR j.provider_task_id IS NOT NULL)
ORDER BY j.updated_at ASC
LIMIT $3`
	rows, err := r.pool.Query(ctx, q, string(status), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// Touch bumps updated_at so a poller does not pick the same job every tick.
func (r *JobRepository) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET updated_at = now() WHERE id = $1`, id)
	return err
}
