package postgresql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"generation-gateway/internal/entity"
)

const eventColumns = `id, provider, job_id, task_id, provider_payload, processed, processing_error, received_at, processed_at`

type WebhookRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func scanEvent(row pgx.Row) (*entity.WebhookEvent, error) {
	var (
		e       entity.WebhookEvent
		payload []byte
	)
	if err := row.Scan(&e.ID, &e.Provider, &e.JobID, &e.TaskID, &payload, &e.Processed,
		&e.ProcessingError, &e.ReceivedAt, &e.ProcessedAt); err != nil {
		return nil, err
	}
	e.ProviderPayload = rawOrNil(payload)
	return &e, nil
}

// Create stores the raw callback before anything else touches it.
func (r *WebhookRepository) Create(ctx context.Context, e *entity.WebhookEvent) error {
	const q = `
INSERT INTO webhook_events (provider, task_id, provider_payload, processing_error)
VALUES ($1, $2, $3, $4)
RETURNING id, received_at`
	var taskID any
	if e.TaskID != nil {
		taskID = *e.TaskID
	}
	var procErr any
	if e.ProcessingError != nil {
		procErr = *e.ProcessingError
	}
	if err := r.pool.QueryRow(ctx, q, e.Provider, taskID, []byte(e.ProviderPayload), procErr).Scan(&e.ID, &e.ReceivedAt); err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

func (r *WebhookRepository) MarkProcessed(ctx context.Context, id, jobID uuid.UUID, taskID string) error {
	const q = `
UPDATE webhook_events
SET processed = true, job_id = $2, task_id = COALESCE($3, task_id), processing_error = NULL, processed_at = now()
WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, jobID, nullableString(taskID))
	return err
}

func (r *WebhookRepository) MarkFailed(ctx context.Context, id uuid.UUID, jobID *uuid.UUID, taskID, message string) error {
	const q = `
UPDATE webhook_events
SET processed = false, job_id = COALESCE($2, job_id), task_id = COALESCE($3, task_id), processing_error = $4, processed_at = now()
WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, jobID, nullableString(taskID), message)
	return err
}

// List returns the newest events, optionally for one job.
func (r *WebhookRepository) List(ctx context.Context, jobID *uuid.UUID, limit int) ([]entity.WebhookEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+eventColumns+` FROM webhook_events
WHERE ($1::uuid IS NULL OR job_id = $1)
ORDER BY received_at DESC
LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	return collectEvents(rows)
}

// ListUnmatched returns callbacks for a task that arrived before any job
// could be matched to them, oldest first.
func (r *WebhookRepository) ListUnmatched(ctx context.Context, provider, taskID string, limit int) ([]entity.WebhookEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+eventColumns+` FROM webhook_events
WHERE provider = $1 AND task_id = $2 AND job_id IS NULL
ORDER BY received_at ASC
LIMIT $3`, provider, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unmatched webhook events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]entity.WebhookEvent, error) {
	defer rows.Close()
	out := []entity.WebhookEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
