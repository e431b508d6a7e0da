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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warden-authz/warden/internal/app"
	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/authz/memstore"
	"github.com/warden-authz/warden/internal/authz/pgstore"
	"github.com/warden-authz/warden/internal/engine"
	"github.com/warden-authz/warden/internal/groups"
	"github.com/warden-authz/warden/internal/observability"
	"github.com/warden-authz/warden/internal/platform/cache"
	"github.com/warden-authz/warden/internal/platform/db"
	"github.com/warden-authz/warden/internal/principals"
	"github.com/warden-authz/warden/internal/resources"
	"github.com/warden-authz/warden/internal/roles"
	"github.com/warden-authz/warden/internal/shared"
	"github.com/warden-authz/warden/jobs"
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

	var (
		stores authz.Stores
		pool   *pgxpool.Pool
	)
	switch cfg.StorageProvider {
	case app.StoragePostgres:
		pool, err = db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		stores = pgstore.New(pool).Stores()
	default:
		stores = memstore.New().Stores()
		logger.Info("using in-memory storage")
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, resolution cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	var resolveCache *engine.Cache
	if redisClient != nil {
		resolveCache = engine.NewCache(redisClient, cfg.ResolveCacheTTL)
	}

	resolver := engine.New(stores, engine.Options{
		MaxDepth:     cfg.ResolveMaxDepth,
		StoreTimeout: cfg.StoreTimeout,
		Cache:        resolveCache,
		Logger:       logger,
		Metrics:      metrics,
	})

	auditLogger := shared.NewAuditLogger(pool)

	resourcesService := resources.NewService(stores.Grains, stores.Resources, auditLogger, resolveCache, logger)
	rolesService := roles.NewService(stores.Roles, stores.Permissions, stores.Resources, auditLogger, resolveCache, logger)
	groupsService := groups.NewService(stores.Groups, stores.Roles, stores.Principals, auditLogger, resolveCache, logger)
	principalsService := principals.NewService(stores.Principals, stores.Roles, auditLogger, resolveCache, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		ResolveHandler:    engine.NewHandler(logger, resolver),
		ResourcesHandler:  resources.NewHandler(logger, resourcesService),
		RolesHandler:      roles.NewHandler(logger, rolesService),
		GroupsHandler:     groups.NewHandler(logger, groupsService),
		PrincipalsHandler: principals.NewHandler(logger, principalsService),
		JobsHandler:       jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
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
