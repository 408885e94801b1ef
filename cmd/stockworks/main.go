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

	"github.com/odyssey-erp/stockworks/internal/app"
	"github.com/odyssey-erp/stockworks/internal/inventory"
	"github.com/odyssey-erp/stockworks/internal/ledger"
	"github.com/odyssey-erp/stockworks/internal/observability"
	"github.com/odyssey-erp/stockworks/internal/platform/cache"
	"github.com/odyssey-erp/stockworks/internal/platform/db"
	"github.com/odyssey-erp/stockworks/internal/production"
	"github.com/odyssey-erp/stockworks/internal/sales"
	"github.com/odyssey-erp/stockworks/internal/shared"
	"github.com/odyssey-erp/stockworks/internal/tenants"
	"github.com/odyssey-erp/stockworks/jobs"
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

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("database migrations applied")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, 0)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var modeCache tenants.ModeCache
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("redis unavailable, tenant modes read from postgres", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		modeCache = tenants.NewFeatureCache(redisClient, cfg.FeatureCacheTTL)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	ledgerWriter := ledger.NewWriter(dbpool)

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	tenantService := tenants.NewService(tenants.NewRepository(dbpool), modeCache, logger)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, ledgerWriter, auditLogger, idempotencyStore, metrics, logger)

	productionService := production.NewService(
		production.NewRepository(dbpool),
		tenantService,
		production.ServiceConfig{LowStockBatches: float64(cfg.LowStockFactor)},
		jobClient,
		auditLogger,
		idempotencyStore,
		metrics,
		logger,
	)

	salesService := sales.NewService(inventoryRepo, ledgerWriter, auditLogger, idempotencyStore, metrics, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		TenantHandler:     tenants.NewHandler(logger, tenantService),
		InventoryHandler:  inventory.NewHandler(logger, inventoryService),
		ProductionHandler: production.NewHandler(logger, productionService),
		SalesHandler:      sales.NewHandler(logger, salesService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
		Database:          dbpool,
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
