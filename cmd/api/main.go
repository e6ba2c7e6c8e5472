package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"scenecast/internal/credits"
	"scenecast/internal/http/handlers"
	httpapi "scenecast/internal/http/httpapi"
	"scenecast/internal/infra"
	"scenecast/internal/jobs"
	"scenecast/internal/pipeline"
	"scenecast/internal/providers/scene"
	"scenecast/internal/providers/video"
	"scenecast/internal/storage"
)

func main() {
	// Optional .env
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	ledgerStore, closer, err := newLedgerStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.LedgerBackend).Msg("failed to open credit ledger")
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	ledger := credits.NewLedger(ledgerStore, cfg.StartingCredits, infra.Component(&logger, "ledger"))
	if _, err := ledger.Load(ctx); err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.LedgerBackend).Msg("failed to load credit ledger")
	}

	jobStore, closer, err := newJobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.JobStore).Msg("failed to open job store")
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	artifacts, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare artifact storage")
	}

	sceneClient, err := scene.NewClient(scene.Options{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.SceneBaseURL,
		Model:          cfg.SceneModel,
		RequestTimeout: cfg.SceneRequestTimeout,
		RetryDelays:    cfg.RetryDelays,
		Ledger:         ledger,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build scene client")
	}
	videoClient, err := video.NewClient(video.Options{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.VideoBaseURL,
		Model:           cfg.VideoModel,
		RequestTimeout:  cfg.VideoRequestTimeout,
		RetryDelays:     cfg.RetryDelays,
		PollInterval:    cfg.VideoPollInterval,
		PollTimeout:     cfg.VideoPollTimeout,
		MaxPollFailures: cfg.VideoPollMaxFails,
		Ledger:          ledger,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build video client")
	}

	events := pipeline.NewBroadcaster()
	defer events.Close()
	progressLog := infra.Component(&logger, "progress")
	orchestrator, err := pipeline.NewOrchestrator(pipeline.Options{
		Scene:     sceneClient,
		Video:     videoClient,
		Jobs:      jobStore,
		Credits:   ledger,
		Artifacts: artifacts,
		Observer: pipeline.Fanout(events, pipeline.ObserverFunc(func(e pipeline.Event) {
			progressLog.Info().Str("job_id", e.JobID).Str("stage", string(e.Stage)).Msg(e.Message)
		})),
		EnforceCreditCap: cfg.EnforceCreditCap,
		Logger:           &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	// Runs outlive their HTTP request but stop with the process.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	app := handlers.NewApp(handlers.App{
		Generator:      orchestrator,
		Ledger:         ledger,
		Events:         events,
		Logger:         &logger,
		RunContext:     runCtx,
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedOrigins: cfg.CORSOrigins,
	})
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          &logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Static:          artifacts.Handler(),
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("ledger", cfg.LedgerBackend).
			Str("jobs", cfg.JobStore).
			Str("storage", artifacts.BasePath()).
			Str("scene_model", sceneClient.Model()).
			Str("video_model", videoClient.Model()).
			Int64("credits_remaining", ledger.Snapshot().Remaining).
			Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	cancelRuns()
	if err := orchestrator.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("background runs did not finish before shutdown")
	}
	logger.Info().Msg("server stopped")
}

func newLedgerStore(ctx context.Context, cfg *infra.Config) (credits.Store, io.Closer, error) {
	switch cfg.LedgerBackend {
	case infra.LedgerBackendSQLite:
		store, err := credits.NewSQLiteStore(cfg.LedgerSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case infra.LedgerBackendPostgres:
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := credits.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate ledger table: %w", err)
		}
		return store, closerFunc(pool.Close), nil
	default:
		store, err := credits.NewFileStore(cfg.LedgerPath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

func newJobStore(ctx context.Context, cfg *infra.Config) (jobs.Store, io.Closer, error) {
	if cfg.JobStore == infra.JobStoreRedis {
		store, err := jobs.NewRedisStore(ctx, cfg.RedisURL, cfg.JobTTL)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	return jobs.NewMemoryStore(cfg.JobRetention), nil, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
