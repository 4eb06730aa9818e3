package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/crm-identity/internal/api/http"
	"github.com/spec-kit/crm-identity/internal/api/http/handlers"
	"github.com/spec-kit/crm-identity/internal/auth"
	"github.com/spec-kit/crm-identity/internal/config"
	"github.com/spec-kit/crm-identity/internal/events"
	"github.com/spec-kit/crm-identity/internal/observability"
	"github.com/spec-kit/crm-identity/internal/persistence"
	"github.com/spec-kit/crm-identity/internal/rbac"
	"github.com/spec-kit/crm-identity/internal/repository"
	"github.com/spec-kit/crm-identity/internal/service"
	"github.com/spec-kit/crm-identity/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close() //nolint:errcheck

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	roleRepo := repository.NewRoleRepository(pool)
	permissionRepo := repository.NewPermissionRepository(pool)
	revocationRepo := repository.NewTokenRevocationRepository(redis.Client)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	resolver := rbac.NewResolver(permissionRepo, logger, metrics)

	broadcaster := rbac.NewRedisBroadcaster(redis.Client, cfg.Redis.InvalidationChannel, resolver.Cache(), logger)
	stopListening, err := broadcaster.Listen(ctx)
	if err != nil {
		logger.Warn("permission invalidations will not reach other instances", zap.Error(err))
	} else {
		defer stopListening()
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, logger, cfg.Notification), logger)

	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:       userRepo,
		RoleRepo:       roleRepo,
		RevocationRepo: revocationRepo,
		TokenManager:   tokens,
		Logger:         logger,
		BcryptCost:     cfg.Auth.BcryptCost,
	})
	activationService := service.NewActivationService(service.ActivationDependencies{
		UserRepo:     userRepo,
		RoleRepo:     roleRepo,
		TokenManager: tokens,
		Dispatcher:   dispatcher,
		Logger:       logger,
		BcryptCost:   cfg.Auth.BcryptCost,
		TokenTTL:     cfg.Auth.ActivationTokenTTL,
	})
	rbacService := service.NewRBACService(service.RBACDependencies{
		RoleRepo:       roleRepo,
		PermissionRepo: permissionRepo,
		UserRepo:       userRepo,
		Resolver:       resolver,
		Invalidator:    broadcaster,
		Dispatcher:     dispatcher,
		Logger:         logger,
	})
	userService := service.NewUserService(userRepo, roleRepo, logger, cfg.Auth.BcryptCost)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService, rbacService),
		Activation:     handlers.NewActivationHandler(activationService),
		RBAC:           handlers.NewRBACHandler(rbacService),
		Users:          handlers.NewUsersHandler(userService),
		Portal:         handlers.NewPortalHandler(authService),
		Gate:           auth.NewGate(tokens, resolver, logger, metrics),
		Metrics:        metrics,
		LoginRateLimit: cfg.Auth.LoginRateLimit,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.Shutdown(); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
