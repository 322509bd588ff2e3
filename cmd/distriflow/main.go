package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/distriflow/distriflow/internal/app"
	"github.com/distriflow/distriflow/internal/bc"
	"github.com/distriflow/distriflow/internal/catalog"
	"github.com/distriflow/distriflow/internal/documents"
	"github.com/distriflow/distriflow/internal/ledger"
	"github.com/distriflow/distriflow/internal/observability"
	"github.com/distriflow/distriflow/internal/platform/cache"
	"github.com/distriflow/distriflow/internal/platform/db"
	"github.com/distriflow/distriflow/internal/shared"
	"github.com/distriflow/distriflow/internal/stockview"
	"github.com/distriflow/distriflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	catalogRepo := catalog.NewRepository(dbpool)
	catalogService := catalog.NewService(catalogRepo, bcClient, logger, catalog.ServiceConfig{
		BatchSize:             cfg.SyncBatchSize,
		PriceFetchConcurrency: cfg.PriceFetchConcurrency,
		PriceFetchPause:       cfg.PriceFetchPause,
	})
	catalogHandler := catalog.NewHandler(logger, catalogService, catalogRepo)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, logger, ledger.ServiceConfig{
		AllowNegativeStock: cfg.StockAllowNegative,
	})
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	documentsRepo := documents.NewRepository(dbpool)
	documentsService := documents.NewService(documentsRepo, ledgerService, bcClient, auditLogger, logger)
	documentsHandler := documents.NewHandler(logger, documentsService)

	stockRepo := stockview.NewRepository(dbpool)
	stockService := stockview.NewService(stockRepo, ledgerService, redisClient, logger, stockview.ServiceConfig{
		CacheTTL: cfg.StockCacheTTL,
	})
	stockHandler := stockview.NewHandler(logger, stockService)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobInspector := asynq.NewInspector(redisOpts)
	jobHandler := jobs.NewHandler(jobInspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalogHandler,
		DocumentsHandler: documentsHandler,
		LedgerHandler:    ledgerHandler,
		StockViewHandler: stockHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
