package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/webhook-dispatcher/internal/alarm"
	"github.com/kursadbilgin/webhook-dispatcher/internal/config"
	"github.com/kursadbilgin/webhook-dispatcher/internal/handler"
	"github.com/kursadbilgin/webhook-dispatcher/internal/infra/postgresql"
	"github.com/kursadbilgin/webhook-dispatcher/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/webhook-dispatcher/internal/infra/redis"
	"github.com/kursadbilgin/webhook-dispatcher/internal/lock"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
	"github.com/kursadbilgin/webhook-dispatcher/internal/provider"
	"github.com/kursadbilgin/webhook-dispatcher/internal/queue"
	"github.com/kursadbilgin/webhook-dispatcher/internal/ratelimit"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"github.com/kursadbilgin/webhook-dispatcher/internal/service"
	"github.com/kursadbilgin/webhook-dispatcher/internal/signer"
	"github.com/kursadbilgin/webhook-dispatcher/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout    = 10 * time.Second
	memoryQueueBuffer  = 4096
	memoryRequeueDelay = time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger("webhook-dispatcher", cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("webhook-dispatcher stopped with error", zap.Error(err))
	}
	logger.Info("webhook-dispatcher stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()
	telemetry := observability.NewTelemetry(logger, metrics)

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	states, sqlDB, err := newStateRepository(cfg, rdb)
	if err != nil {
		return err
	}
	if sqlDB != nil {
		defer sqlDB.Close()
	}

	alarms, err := alarm.NewRedisScheduler(rdb, cfg.AlarmClaimLease())
	if err != nil {
		return fmt.Errorf("alarm scheduler initialization failed: %w", err)
	}

	locker, err := lock.NewRedisLocker(rdb, cfg.LockTTL(), logger)
	if err != nil {
		return fmt.Errorf("locker initialization failed: %w", err)
	}

	tokenSigner := signer.New(cfg.SigningKey, signer.Options{
		Issuer: cfg.TokenIssuer,
		TTL:    cfg.TokenTTL(),
	})
	if err := tokenSigner.Check(); err != nil {
		logger.Warn("signing key is unusable, every delivery attempt will fail", zap.Error(err))
	}

	executor, err := provider.NewHTTPExecutor(cfg.AttemptTimeout())
	if err != nil {
		return fmt.Errorf("delivery executor initialization failed: %w", err)
	}

	var limiter ratelimit.RateLimiter
	if cfg.DeliveryRateLimitPerSec > 0 {
		redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.DeliveryRateLimitPerSec)
		if err != nil {
			return fmt.Errorf("rate limiter initialization failed: %w", err)
		}
		limiter = redisLimiter
	}

	checks := []handler.ReadinessCheck{handler.RedisCheck(rdb)}
	if sqlDB != nil {
		checks = append(checks, handler.PostgresCheck(sqlDB))
	}

	publisher, consumer, brokerCheck, err := newAlarmQueue(cfg, logger)
	if err != nil {
		return err
	}
	if brokerCheck != nil {
		checks = append(checks, *brokerCheck)
	}
	defer publisher.Close()
	defer consumer.Close()

	dispatcher, err := service.NewDispatcherService(service.DispatcherDeps{
		States:      states,
		Alarms:      alarms,
		Locker:      locker,
		Signer:      tokenSigner,
		Executor:    executor,
		RateLimiter:      limiter,
		RateLimitMaxWait: cfg.RateLimitMaxWait(),
		Telemetry:        telemetry,
		Metrics:          metrics,
		Policy:           cfg.RetryPolicy(),
		Logger:           logger.Named("dispatcher"),
	})
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}

	poller, err := service.NewAlarmPoller(alarms, publisher, cfg.AlarmPollInterval(), cfg.AlarmBatchSize, logger.Named("poller"))
	if err != nil {
		return fmt.Errorf("alarm poller initialization failed: %w", err)
	}
	poller.SetMetrics(metrics)

	worker, err := service.NewWorkerService(
		dispatcher,
		alarms,
		consumer,
		cfg.WorkerConcurrency,
		cfg.InfraRetryDelay(),
		logger.Named("worker"),
	)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	worker.SetMetrics(metrics)

	app, err := newApp(dispatcher, tokenSigner, telemetry, metrics, checks, logger)
	if err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Start(groupCtx) })
	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("webhook-dispatcher api started",
			zap.String("addr", addr),
			zap.String("stateBackend", cfg.StateBackend),
			zap.Bool("rabbitmq", cfg.UsesRabbitMQ()),
		)
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newStateRepository(cfg *config.Config, rdb *goredis.Client) (repository.StateRepository, *sql.DB, error) {
	if cfg.StateBackend == config.StateBackendRedis {
		states, err := repository.NewRedisStateRepo(rdb)
		if err != nil {
			return nil, nil, fmt.Errorf("redis state store initialization failed: %w", err)
		}
		return states, nil, nil
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, nil, fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	return repository.NewGormStateRepo(db), sqlDB, nil
}

func newAlarmQueue(cfg *config.Config, logger *zap.Logger) (queue.Publisher, queue.Consumer, *handler.ReadinessCheck, error) {
	if !cfg.UsesRabbitMQ() {
		q := queue.NewMemoryQueue(memoryQueueBuffer, memoryRequeueDelay, logger.Named("queue"))
		return q, q, nil, nil
	}

	client, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger.Named("rabbitmq"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	check := &handler.ReadinessCheck{Name: "rabbitmq", Ping: client.Ping}
	return queue.NewRabbitMQPublisher(client),
		queue.NewRabbitMQConsumer(client, cfg.WorkerConcurrency, logger.Named("queue")),
		check,
		nil
}

func newApp(
	dispatcher handler.WebhookService,
	keys handler.KeySetSource,
	telemetry *observability.Telemetry,
	metrics *observability.Metrics,
	checks []handler.ReadinessCheck,
	logger *zap.Logger,
) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		AppName:               "webhook-dispatcher",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger.Named("http")),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, checks...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterJWKSRoute(app, keys); err != nil {
		return nil, err
	}
	if err := handler.RegisterWebhookRoutes(app, dispatcher, telemetry); err != nil {
		return nil, err
	}
	handler.RegisterFallback(app)

	return app, nil
}
