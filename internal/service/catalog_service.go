package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"generation-gateway/internal/config"
	"generation-gateway/internal/entity"
)

type CatalogStore interface {
	UpsertProvider(ctx context.Context, slug, name, baseURL string) (uuid.UUID, error)
	UpsertModel(ctx context.Context, m entity.ModelBinding) error
}

type KeyRegistrar interface {
	UpsertKey(ctx context.Context, providerID uuid.UUID, key string, priority int) error
}

// SeedCatalog writes providers, models and keys. Re-running it is safe.
func SeedCatalog(ctx context.Context, c *config.Catalog, store CatalogStore, keys KeyRegistrar, log zerolog.Logger) error {
	for _, p := range c.Providers {
		pid, err := store.UpsertProvider(ctx, p.Slug, p.Name, p.BaseURL)
		if err != nil {
			return fmt.Errorf("seed provider %s: %w", p.Slug, err)
		}
		for _, m := range p.Models {
			cat, _ := entity.ParseCategory(m.Category)
			err := store.UpsertModel(ctx, entity.ModelBinding{
				ModelID:       m.ID,
				ProviderID:    pid,
				ProviderSlug:  p.Slug,
				Category:      cat,
				ExternalModel: m.ExternalModel,
				MaxRetries:    m.MaxRetries,
			})
			if err != nil {
				return fmt.Errorf("seed model %s: %w", m.ID, err)
			}
		}
		for _, k := range p.Keys {
			if err := keys.UpsertKey(ctx, pid, k.Key, k.Priority); err != nil {
				return fmt.Errorf("seed key for %s: %w", p.Slug, err)
			}
		}
		log.Info().
			Str("provider", p.Slug).
			Int("models", len(p.Models)).
			Int("keys", len(p.Keys)).
			Msg("catalog: provider seeded")
	}
	return nil
}
