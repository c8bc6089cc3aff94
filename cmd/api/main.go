package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/quiz-service/internal/api/http"
	"github.com/spec-kit/quiz-service/internal/api/http/handlers"
	"github.com/spec-kit/quiz-service/internal/config"
	"github.com/spec-kit/quiz-service/internal/events"
	"github.com/spec-kit/quiz-service/internal/observability"
	"github.com/spec-kit/quiz-service/internal/persistence"
	"github.com/spec-kit/quiz-service/internal/ratelimit"
	"github.com/spec-kit/quiz-service/internal/repository"
	"github.com/spec-kit/quiz-service/internal/service"
	"github.com/spec-kit/quiz-service/internal/worker"
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

	fastStore := persistence.NewFastStore(cfg.Redis, logger)
	defer fastStore.Close()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	tokenRepo := repository.NewRefreshTokenRepository(pool)

	dispatcher := events.NewInMemoryDispatcher()
	securityService := service.NewSecurityService(dispatcher, logger)
	worker.StartAuditWorker(securityService)

	tokenService := service.NewTokenService(*cfg, service.TokenDependencies{
		UserRepo:   userRepo,
		TokenRepo:  tokenRepo,
		Cache:      fastStore,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	authMiddleware := httptransport.NewAuthMiddleware(tokenService)

	limiter := ratelimit.NewLimiter(fastStore, cfg.RateLimit, logger)
	metrics := observability.NewMetrics()

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, fastStore)
	authHandler := handlers.NewAuthHandler(tokenService)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Auth:           authHandler,
		AuthMiddleware: authMiddleware,
		RateLimiter:    limiter,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
