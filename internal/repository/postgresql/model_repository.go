package postgresql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"generation-gateway/internal/entity"
)

// ModelRepository resolves model ids to their provider and seeds the catalog.
type ModelRepository struct {
	pool *pgxpool.Pool
}

func NewModelRepository(pool *pgxpool.Pool) *ModelRepository {
	return &ModelRepository{pool: pool}
}

func (r *ModelRepository) ResolveModel(ctx context.Context, modelID string) (*entity.ModelBinding, error) {
	const q = `
SELECT m.id, m.provider_id, p.slug, m.category, COALESCE(m.external_model, ''), m.max_retries
FROM ai_models m JOIN providers p ON p.id = m.provider_id
WHERE m.id = $1`
	var (
		b        entity.ModelBinding
		category string
	)
	err := r.pool.QueryRow(ctx, q, modelID).Scan(&b.ModelID, &b.ProviderID, &b.ProviderSlug, &category, &b.ExternalModel, &b.MaxRetries)
	if err != nil {
		return nil, notFound(err, "model "+modelID)
	}
	b.Category = entity.Category(category)
	return &b, nil
}

func (r *ModelRepository) ProviderIDBySlug(ctx context.Context, slug string) (uuid.UUID, error) {
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, `SELECT id FROM providers WHERE slug = $1`, slug).Scan(&id); err != nil {
		return uuid.Nil, notFound(err, "provider "+slug)
	}
	return id, nil
}

func (r *ModelRepository) UpsertProvider(ctx context.Context, slug, name, baseURL string) (uuid.UUID, error) {
	const q = `
INSERT INTO providers (slug, name, base_url)
VALUES ($1, $2, $3)
ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, base_url = EXCLUDED.base_url
RETURNING id`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, slug, name, nullableString(baseURL)).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("upsert provider %s: %w", slug, err)
	}
	return id, nil
}

func (r *ModelRepository) UpsertModel(ctx context.Context, m entity.ModelBinding) error {
	const q = `
INSERT INTO ai_models (id, provider_id, category, external_model, max_retries)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET provider_id = EXCLUDED.provider_id, category = EXCLUDED.category,
    external_model = EXCLUDED.external_model, max_retries = EXCLUDED.max_retries`
	if _, err := r.pool.Exec(ctx, q, m.ModelID, m.ProviderID, string(m.Category), nullableString(m.ExternalModel), m.MaxRetries); err != nil {
		return fmt.Errorf("upsert model %s: %w", m.ModelID, err)
	}
	return nil
}
