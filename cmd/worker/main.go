package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/distriflow/distriflow/internal/app"
	"github.com/distriflow/distriflow/internal/bc"
	"github.com/distriflow/distriflow/internal/catalog"
	jobmetrics "github.com/distriflow/distriflow/internal/jobs"
	"github.com/distriflow/distriflow/internal/platform/db"
	"github.com/distriflow/distriflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	bcClient := bc.NewClient(bc.Config{
		BaseURL:        cfg.BCBaseURL,
		TokenURL:       cfg.BCTokenURL,
		TenantID:       cfg.BCTenantID,
		ClientID:       cfg.BCClientID,
		ClientSecret:   cfg.BCClientSecret,
		Environment:    cfg.BCEnvironment,
		Company:        cfg.BCCompany,
		HTTPTimeout:    cfg.BCHTTPTimeout,
		MaxRetries:     cfg.BCMaxRetries,
		RetryBaseDelay: cfg.BCRetryBaseDelay,
	}, logger)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, bcClient, logger, catalog.ServiceConfig{
		BatchSize:             cfg.SyncBatchSize,
		PriceFetchConcurrency: cfg.PriceFetchConcurrency,
		PriceFetchPause:       cfg.PriceFetchPause,
	})

	metrics := jobmetrics.NewMetrics(nil)
	catalogJobs := jobs.NewCatalogJobs(catalogService, metrics, logger)

	catalogTask, err := jobs.NewSyncCatalogTask(jobs.SyncPayload{TriggeredBy: "cron", ScheduledFor: time.Now().UTC()})
	if err != nil {
		logger.Error("build catalog task", slog.Any("error", err))
		os.Exit(1)
	}
	pricesTask, err := jobs.NewSyncPricesTask(jobs.SyncPayload{TriggeredBy: "cron", ScheduledFor: time.Now().UTC()})
	if err != nil {
		logger.Error("build prices task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  catalogJobs.Register(),
		Cron: []jobs.CronRegistration{
			{Spec: "0 5 * * *", Task: catalogTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 5 * * *", Task: pricesTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
