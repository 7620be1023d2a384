// Package app holds the wiring shared by the api and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"generation-gateway/internal/config"
	"generation-gateway/internal/provider"
	"generation-gateway/internal/provider/geminigen"
	"generation-gateway/internal/provider/kie"
	"generation-gateway/internal/repository/postgresql"
	"generation-gateway/internal/service"
)

type Stores struct {
	PG    *pgxpool.Pool
	Redis *redis.Client
	Queue service.Queue
}

// OpenStores connects Postgres and Redis and builds the priority queue.
func OpenStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Stores, error) {
	pg, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pg.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().
		Str("postgres_dsn", config.RedactDSN(cfg.PostgresDSN)).
		Str("redis_addr", cfg.RedisAddr).
		Str("queue_key", cfg.QueueKey).
		Str("processing_key", cfg.ProcessingKey).
		Msg("stores connected")

	queue := service.NewRedisPriorityQueue(rdb, cfg.ProcessingMapKey, service.LanesFor(cfg.QueueKey, cfg.ProcessingKey)...)
	return &Stores{PG: pg, Redis: rdb, Queue: queue}, nil
}

// Ping is the readiness check of both stores.
func (s *Stores) Ping(ctx context.Context) error {
	if err := s.PG.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (s *Stores) Close() {
	_ = s.Redis.Close()
	s.PG.Close()
}

// NewRegistry builds one adapter per supported provider. KIE gets the
// gateway's callback address so it reports back on its own.
func NewRegistry(cfg *config.Config) *provider.Registry {
	reg := provider.NewRegistry(
		kie.New(kie.Options{
			BaseURL:     cfg.KIE.BaseURL,
			CallbackURL: cfg.WebhookURL(kie.Slug),
			Timeout:     cfg.ProviderTimeout,
		}),
		geminigen.New(geminigen.Options{
			BaseURL: cfg.GeminiGen.BaseURL,
			Timeout: cfg.ProviderTimeout,
		}),
	)
	reg.Alias("kie.ai", kie.Slug)
	reg.Alias("geminigen.ai", geminigen.Slug)
	return reg
}
