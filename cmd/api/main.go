package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/lms-api/internal/api/http"
	"github.com/spec-kit/lms-api/internal/api/http/handlers"
	"github.com/spec-kit/lms-api/internal/auth"
	"github.com/spec-kit/lms-api/internal/config"
	"github.com/spec-kit/lms-api/internal/events"
	"github.com/spec-kit/lms-api/internal/kafka"
	"github.com/spec-kit/lms-api/internal/observability"
	"github.com/spec-kit/lms-api/internal/persistence"
	"github.com/spec-kit/lms-api/internal/ratelimit"
	"github.com/spec-kit/lms-api/internal/repository"
	"github.com/spec-kit/lms-api/internal/service"
	"github.com/spec-kit/lms-api/internal/storage"
	"github.com/spec-kit/lms-api/internal/worker"
)

const migrationsDir = "migrations"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), migrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	dispatcher := events.NewInMemoryDispatcher()
	var sink service.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, logger)
		defer producer.Close()
		sink = producer
		logger.Info("forwarding audit events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.AuditTopic))
	}
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger, sink))

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	resetRepo := repository.NewPasswordResetRepository(pool)
	fileRepo := repository.NewFileRepository(pool)
	enrollmentRepo := repository.NewGuardedEnrollmentRepository(
		repository.NewEnrollmentRepository(pool),
		repository.BreakerSettings{
			ConsecutiveFailures: uint32(cfg.Enrollment.BreakerFailures),
			OpenTimeout:         time.Duration(cfg.Enrollment.BreakerOpenSeconds) * time.Second,
		},
		logger,
	)

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:          userRepo,
		PasswordResetRepo: resetRepo,
		Dispatcher:        dispatcher,
		Logger:            logger,
	})
	tokens := authService.TokenManager()

	var (
		limiterBackend ratelimit.Backend
		redemptions    auth.RedemptionStore
	)
	switch cfg.RateLimit.Backend {
	case "redis":
		limiterBackend = ratelimit.NewRedisBackend(redis.Client, "")
		redemptions = auth.NewRedisRedemptionStore(redis.Client, "")
	default:
		limiterBackend = ratelimit.MemoryBackend()
		redemptions = auth.NewMemoryRedemptionStore()
	}
	if !cfg.Auth.MaterialTokenSingleUse {
		redemptions = nil
	}

	policies := ratelimit.PoliciesFromConfig(cfg.App, cfg.RateLimit)
	newLimiter := func(p ratelimit.Policy) *ratelimit.Limiter {
		return ratelimit.New(p, limiterBackend, ratelimit.WithObserver(metrics), ratelimit.WithLogger(logger))
	}

	gateDeps := auth.ResourceGateDeps{
		Tokens:      tokens,
		Enrollments: enrollmentRepo,
		Redemptions: redemptions,
		Dispatcher:  dispatcher,
		Logger:      logger,
	}
	materialGate := auth.NewResourceGate(auth.ResourceGateConfig{
		Resource:        "course_material",
		LookupTimeout:   cfg.Enrollment.LookupTimeout(),
		AllowQueryToken: cfg.Auth.AllowQueryToken,
	}, gateDeps)
	sessionGate := auth.NewResourceGate(auth.ResourceGateConfig{
		Resource:      "course_material_token",
		LookupTimeout: cfg.Enrollment.LookupTimeout(),
		SessionOnly:   true,
	}, gateDeps)

	store, err := storage.NewLocalStore(cfg.Storage.UploadDir, cfg.Storage.MaterialsDir)
	if err != nil {
		logger.Fatal("failed to prepare storage", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ProxyHeader:  cfg.App.ProxyHeader,
		BodyLimit:    cfg.Storage.MaxUploadBytes() + 1<<20,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Auth:           handlers.NewAuthHandler(authService, !cfg.App.IsProduction()),
		Uploads:        handlers.NewUploadHandler(store, fileRepo, int64(cfg.Storage.MaxUploadBytes()), logger),
		Materials:      handlers.NewMaterialHandler(store, fileRepo, authService),
		Metrics:        observability.MetricsHandler(registry),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		MaterialGate:   materialGate,
		SessionGate:    sessionGate,
		AdminGate:      auth.NewAdminResourceGate(tokens, cfg.Auth.AllowQueryToken),
		APILimiter:     newLimiter(policies.API),
		AuthLimiter:    newLimiter(policies.Auth),
		ResetLimiter:   newLimiter(policies.PasswordReset),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
