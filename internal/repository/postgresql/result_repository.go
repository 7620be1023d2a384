package postgresql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"generation-gateway/internal/entity"
)

type ResultRepository struct {
	pool *pgxpool.Pool
}

func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Add stores a result once per (job, url). It reports whether a row was
// inserted.
func (r *ResultRepository) Add(ctx context.Context, res entity.GenerationResult) (bool, error) {
	const q = `
INSERT INTO generation_results (job_id, url, thumbnail_url, file_type)
VALUES ($1, $2, $3, $4)
ON CONFLICT (job_id, url) DO NOTHING`
	var thumb any
	if res.ThumbnailURL != nil {
		thumb = *res.ThumbnailURL
	}
	tag, err := r.pool.Exec(ctx, q, res.JobID, res.URL, thumb, res.FileType)
	if err != nil {
		return false, fmt.Errorf("insert generation result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ResultRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]entity.GenerationResult, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, job_id, url, thumbnail_url, file_type, created_at
FROM generation_results WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list generation results: %w", err)
	}
	defer rows.Close()

	out := []entity.GenerationResult{}
	for rows.Next() {
		var g entity.GenerationResult
		if err := rows.Scan(&g.ID, &g.JobID, &g.URL, &g.ThumbnailURL, &g.FileType, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
