package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/retention"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/storage"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

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

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, logger, cfg.Notification), logger)

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	attachmentRepo := repository.NewAttachmentRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)

	authService := service.NewAuthService(cfg.Auth, userRepo, logger.Named("auth"))
	if _, err := authService.BootstrapAdmin(ctx); err != nil {
		logger.Fatal("failed to bootstrap admin", zap.Error(err))
	}
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		UserRepo:    userRepo,
		HistoryRepo: historyRepo,
		Dispatcher:  dispatcher,
	})

	attachmentDeps := service.AttachmentDependencies{
		TicketRepo:     ticketRepo,
		AttachmentRepo: attachmentRepo,
		HistoryRepo:    historyRepo,
		Dispatcher:     dispatcher,
		Logger:         logger,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	}
	var retentionUseCases handlers.RetentionUseCases
	var retentionWorker *worker.RetentionWorker

	if cfg.Storage.Bucket == "" {
		logger.Warn("STORAGE_BUCKET not set, attachments and retention disabled")
	} else {
		blobs, err := storage.NewGCS(ctx, cfg.Storage, logger)
		if err != nil {
			logger.Fatal("failed to init storage", zap.Error(err))
		}
		defer blobs.Close() //nolint:errcheck
		attachmentDeps.Blobs = blobs

		engine := retention.NewEngine(attachmentRepo, ticketRepo, blobs, blobs.KeyFromURL, retention.Options{
			Parallelism: cfg.Retention.Parallelism,
			Logger:      logger.Named("retention"),
		})
		retentionService := service.NewRetentionService(service.RetentionDependencies{
			Engine:     engine,
			Locker:     redis.NewLock(cfg.Retention.LockKey, cfg.Retention.LockTTL),
			Window:     cfg.Retention.Window(),
			Dispatcher: dispatcher,
			Metrics:    metrics,
			Logger:     logger,
		})
		retentionUseCases = retentionService

		if cfg.Retention.Enabled {
			retentionWorker = worker.NewRetentionWorker(retentionService, cfg.Retention.Interval, logger)
			retentionWorker.Start(ctx)
		}
	}
	attachmentService := service.NewAttachmentService(attachmentDeps)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: int(cfg.Storage.MaxUploadBytes) + 1<<20,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Attachments:    handlers.NewAttachmentsHandler(attachmentService),
		Admin:          handlers.NewAdminHandler(retentionUseCases, authService),
		AuthMiddleware: authMiddleware.Handle,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if retentionWorker != nil {
		retentionWorker.Stop()
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
