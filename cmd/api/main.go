// @title Generation Gateway API
// @version 1.0
// @description Queues AI generation jobs across providers and reconciles their callbacks.
// @BasePath /
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "generation-gateway/docs"
	"generation-gateway/internal/app"
	"generation-gateway/internal/config"
	"generation-gateway/internal/keypool"
	"generation-gateway/internal/logger"
	"generation-gateway/internal/provider/geminigen"
	"generation-gateway/internal/provider/kie"
	"generation-gateway/internal/repository/postgresql"
	"generation-gateway/internal/service"
	httptransport "generation-gateway/internal/transport/http"
	"generation-gateway/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("production", "api")
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.AppEnv, "api")

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("stores")
	}
	defer stores.Close()

	if err := postgresql.Migrate(ctx, stores.PG); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	jobRepo := postgresql.NewJobRepository(stores.PG)
	keyRepo := postgresql.NewAPIKeyRepository(stores.PG)
	modelRepo := postgresql.NewModelRepository(stores.PG)
	webhookRepo := postgresql.NewWebhookRepository(stores.PG)
	resultRepo := postgresql.NewResultRepository(stores.PG)

	catalog, err := loadCatalog(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("catalog")
	}
	if err := service.SeedCatalog(ctx, catalog, modelRepo, keyRepo, log); err != nil {
		log.Fatal().Err(err).Msg("seed catalog")
	}

	registry := app.NewRegistry(cfg)
	keys := keypool.NewPool(keyRepo, log)

	jobs := service.NewJobService(jobRepo, modelRepo, resultRepo, stores.Queue, log, cfg.JobMaxRetries)
	reconciler := webhook.NewReconciler(webhookRepo, jobRepo, resultRepo, registry, log, cfg.WebhookFallbackScanLimit)

	h := httptransport.NewHandler(httptransport.Deps{
		Jobs:          jobs,
		Webhooks:      reconciler,
		Keys:          service.NewKeyService(modelRepo, keys),
		WebhookSecret: cfg.WebhookSecret,
		Ready:         stores.Ping,
		Log:           log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(h),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Strs("providers", registry.Slugs()).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("api stopped with error")
		return
	}
	log.Info().Msg("api stopped")
}

// loadCatalog reads the optional catalog file and adds the env-provided keys.
func loadCatalog(cfg *config.Config) (*config.Catalog, error) {
	catalog := &config.Catalog{}
	if cfg.CatalogPath != "" {
		c, err := config.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	catalog.AddKeys(kie.Slug, "KIE", cfg.KIE.Keys)
	catalog.AddKeys(geminigen.Slug, "GeminiGen", cfg.GeminiGen.Keys)
	return catalog, nil
}
