// Package keypool rotates pooled provider credentials and tracks their health.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/metrics"
)

var ErrNoActiveKey = errors.New("no active api key")

// Store persists key health. ClaimKey must pick and stamp the key in one
// atomic step and return a nil key when none is eligible.
type Store interface {
	ClaimKey(ctx context.Context, providerID uuid.UUID, now time.Time) (*entity.APIKey, error)
	MarkSuccess(ctx context.Context, keyID uuid.UUID) error
	IncrementErrors(ctx context.Context, keyID uuid.UUID, message string, threshold int) (*entity.APIKey, error)
	MarkRateLimited(ctx context.Context, keyID uuid.UUID, resetAt time.Time, message string) error
	ResetKey(ctx context.Context, keyID uuid.UUID) error
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]entity.APIKey, error)
}

type Pool struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewPool(store Store, log zerolog.Logger) *Pool {
	return &Pool{store: store, log: log, now: time.Now}
}

// Select claims the next eligible key of a provider: highest priority first,
// least recently used within a priority.
func (p *Pool) Select(ctx context.Context, providerID uuid.UUID) (*entity.APIKey, error) {
	key, err := p.store.ClaimKey(ctx, providerID, p.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim key: %w", err)
	}
	if key == nil {
		metrics.KeyEvents.WithLabelValues("exhausted").Inc()
		return nil, fmt.Errorf("%w for provider %s", ErrNoActiveKey, providerID)
	}
	metrics.KeyEvents.WithLabelValues("selected").Inc()
	return key, nil
}

func (p *Pool) ReportSuccess(ctx context.Context, keyID uuid.UUID) error {
	if err := p.store.MarkSuccess(ctx, keyID); err != nil {
		return fmt.Errorf("mark key success: %w", err)
	}
	metrics.KeyEvents.WithLabelValues("success").Inc()
	return nil
}

// ReportError counts a failure against the key; the MaxKeyErrors-th
// consecutive failure disables it until a manual reset.
func (p *Pool) ReportError(ctx context.Context, keyID uuid.UUID, message string) error {
	key, err := p.store.IncrementErrors(ctx, keyID, message, entity.MaxKeyErrors)
	if err != nil {
		return fmt.Errorf("record key error: %w", err)
	}
	metrics.KeyEvents.WithLabelValues("error").Inc()
	if key != nil && key.Status == entity.KeyError {
		metrics.KeyEvents.WithLabelValues("disabled").Inc()
		p.log.Warn().
			Str("key_id", keyID.String()).
			Int("error_count", key.ErrorCount).
			Msg("keypool: key disabled after repeated errors")
	}
	return nil
}

// ReportRateLimited parks the key until resetAt, or for an hour when the
// provider gave no usable reset time.
func (p *Pool) ReportRateLimited(ctx context.Context, keyID uuid.UUID, resetAt *time.Time) error {
	now := p.now().UTC()
	until := now.Add(entity.DefaultRateLimitCooldown)
	if resetAt != nil && resetAt.After(now) {
		until = resetAt.UTC()
	}
	if err := p.store.MarkRateLimited(ctx, keyID, until, "rate limit exceeded"); err != nil {
		return fmt.Errorf("mark key rate limited: %w", err)
	}
	metrics.KeyEvents.WithLabelValues("rate_limited").Inc()
	p.log.Info().
		Str("key_id", keyID.String()).
		Time("reset_at", until).
		Msg("keypool: key rate limited")
	return nil
}

// Reset returns a key to ACTIVE with a clean error count.
func (p *Pool) Reset(ctx context.Context, keyID uuid.UUID) error {
	if err := p.store.ResetKey(ctx, keyID); err != nil {
		return fmt.Errorf("reset key: %w", err)
	}
	metrics.KeyEvents.WithLabelValues("reset").Inc()
	return nil
}

// KeyView is the health of one key with its secret masked.
type KeyView struct {
	entity.APIKey
	MaskedKey string `json:"key"`
	Eligible  bool   `json:"eligible"`
}

func (p *Pool) List(ctx context.Context, providerID uuid.UUID) ([]KeyView, error) {
	keys, err := p.store.ListByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	now := p.now()
	out := make([]KeyView, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyView{APIKey: k, MaskedKey: k.Masked(), Eligible: k.Eligible(now)})
	}
	return out, nil
}
