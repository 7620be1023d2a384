package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"generation-gateway/internal/app"
	"generation-gateway/internal/config"
	"generation-gateway/internal/keypool"
	"generation-gateway/internal/logger"
	"generation-gateway/internal/repository/postgresql"
	"generation-gateway/internal/webhook"
	"generation-gateway/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("production", "worker")
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.AppEnv, "worker")

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("stores")
	}
	defer stores.Close()

	jobRepo := postgresql.NewJobRepository(stores.PG)
	modelRepo := postgresql.NewModelRepository(stores.PG)
	resultRepo := postgresql.NewResultRepository(stores.PG)
	webhookRepo := postgresql.NewWebhookRepository(stores.PG)

	registry := app.NewRegistry(cfg)
	keys := keypool.NewPool(postgresql.NewAPIKeyRepository(stores.PG), log)
	reconciler := webhook.NewReconciler(webhookRepo, jobRepo, resultRepo, registry, log, cfg.WebhookFallbackScanLimit)

	processor := worker.NewProcessor(jobRepo, modelRepo, keys, registry, resultRepo, reconciler, log, cfg.RetryBackoffBase)
	pool := worker.NewPool(stores.Queue, processor, cfg.Workers, log)
	budget := worker.AttemptBudget(cfg.JobMaxRetries, cfg.ProviderTimeout, cfg.RetryBackoffBase)
	claimTTL := worker.ClaimTTL(cfg.ReaperClaimTTL, budget)
	if claimTTL != cfg.ReaperClaimTTL {
		log.Warn().Dur("configured", cfg.ReaperClaimTTL).Dur("attempt_budget", budget).Msg("reaper claim ttl raised to the attempt budget")
	}
	reaper := worker.NewReaper(stores.Queue, cfg.PollInterval, claimTTL, log)
	poller := worker.NewPoller(jobRepo, stores.Queue, keys, registry, reconciler, worker.PollerConfig{
		Interval:        cfg.PollInterval,
		ProcessingAfter: cfg.PollStaleAfter,
		PendingAfter:    cfg.PendingStaleAfter,
	}, log)

	log.Info().
		Int("workers", cfg.Workers).
		Int("max_retries", cfg.JobMaxRetries).
		Dur("backoff_base", cfg.RetryBackoffBase).
		Dur("claim_ttl", claimTTL).
		Strs("providers", registry.Slugs()).
		Msg("worker started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { pool.Run(gctx); return nil })
	g.Go(func() error { reaper.Run(gctx); return nil })
	g.Go(func() error { poller.Run(gctx); return nil })
	_ = g.Wait()

	log.Info().Msg("worker stopped")
}
