package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"generation-gateway/internal/entity"
)

const keyColumns = `id, provider_id, key, priority, status, error_count, last_error, last_used_at, rate_limit_reset_at, created_at`

// APIKeyRepository is the Postgres store behind the key pool.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

func scanKey(row pgx.Row) (*entity.APIKey, error) {
	var (
		k      entity.APIKey
		status string
	)
	if err := row.Scan(&k.ID, &k.ProviderID, &k.Key, &k.Priority, &status, &k.ErrorCount,
		&k.LastError, &k.LastUsedAt, &k.RateLimitResetAt, &k.CreatedAt); err != nil {
		return nil, err
	}
	k.Status = entity.KeyStatus(status)
	return &k, nil
}

// claimKeySQL picks and stamps one key atomically. An expired RATE_LIMITED key
// is reinstated as part of the claim.
const claimKeySQL = `
UPDATE api_keys
SET last_used_at = $2, status = 'ACTIVE', rate_limit_reset_at = NULL, updated_at = now()
WHERE id = (
    SELECT id FROM api_keys
    WHERE provider_id = $1
      AND (status = 'ACTIVE' OR (status = 'RATE_LIMITED' AND rate_limit_reset_at <= $2))
      AND (rate_limit_reset_at IS NULL OR rate_limit_reset_at <= $2)
    ORDER BY priority DESC, last_used_at ASC NULLS FIRST
    LIMIT 1
    FOR UPDATE %s
)
RETURNING ` + keyColumns

// ClaimKey returns nil when the provider has no eligible key. Claims for one
// provider are serialized by a transaction advisory lock: a statement that
// started before another claim committed could otherwise stamp the same key.
// SKIP LOCKED keeps rows held by health updates from blocking; when every
// candidate is locked the claim is repeated with a plain lock so a busy
// single-key pool still serves.
func (r *APIKeyRepository) ClaimKey(ctx context.Context, providerID uuid.UUID, now time.Time) (*entity.APIKey, error) {
	var claimed *entity.APIKey
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, providerID.String()); err != nil {
			return fmt.Errorf("lock provider keys: %w", err)
		}
		for _, lock := range []string{"SKIP LOCKED", ""} {
			k, err := scanKey(tx.QueryRow(ctx, fmt.Sprintf(claimKeySQL, lock), providerID, now))
			if err == nil {
				claimed = k
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *APIKeyRepository) exec(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key: %w", ErrNotFound)
	}
	return nil
}

func (r *APIKeyRepository) MarkSuccess(ctx context.Context, keyID uuid.UUID) error {
	return r.exec(ctx, `
UPDATE api_keys
SET error_count = 0, status = 'ACTIVE', rate_limit_reset_at = NULL, updated_at = now()
WHERE id = $1`, keyID)
}

func (r *APIKeyRepository) IncrementErrors(ctx context.Context, keyID uuid.UUID, message string, threshold int) (*entity.APIKey, error) {
	q := `
UPDATE api_keys
SET error_count = error_count + 1,
    last_error  = $2,
    status      = CASE WHEN error_count + 1 >= $3 THEN 'ERROR' ELSE status END,
    updated_at  = now()
WHERE id = $1
RETURNING ` + keyColumns
	k, err := scanKey(r.pool.QueryRow(ctx, q, keyID, message, threshold))
	if err != nil {
		return nil, notFound(err, "api key")
	}
	return k, nil
}

func (r *APIKeyRepository) MarkRateLimited(ctx context.Context, keyID uuid.UUID, resetAt time.Time, message string) error {
	return r.exec(ctx, `
UPDATE api_keys
SET status = 'RATE_LIMITED', rate_limit_reset_at = $2, last_error = $3, updated_at = now()
WHERE id = $1`, keyID, resetAt, message)
}

func (r *APIKeyRepository) ResetKey(ctx context.Context, keyID uuid.UUID) error {
	return r.exec(ctx, `
UPDATE api_keys
SET status = 'ACTIVE', error_count = 0, rate_limit_reset_at = NULL, last_error = NULL, updated_at = now()
WHERE id = $1`, keyID)
}

func (r *APIKeyRepository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]entity.APIKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE provider_id = $1 ORDER BY priority DESC, created_at ASC`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	out := []entity.APIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// UpsertKey registers a credential; re-seeding only refreshes its priority.
func (r *APIKeyRepository) UpsertKey(ctx context.Context, providerID uuid.UUID, key string, priority int) error {
	const q = `
INSERT INTO api_keys (provider_id, key, priority)
VALUES ($1, $2, $3)
ON CONFLICT (provider_id, key) DO UPDATE SET priority = EXCLUDED.priority, updated_at = now()`
	_, err := r.pool.Exec(ctx, q, providerID, key, priority)
	return err
}
