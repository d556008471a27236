package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/campaign-dispatch/internal/bootstrap"
	"github.com/kursadbilgin/campaign-dispatch/internal/config"
	"github.com/kursadbilgin/campaign-dispatch/internal/handler"
	"github.com/kursadbilgin/campaign-dispatch/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/campaign-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/campaign-dispatch/internal/jobrunner"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
	"github.com/kursadbilgin/campaign-dispatch/internal/provider"
	"github.com/kursadbilgin/campaign-dispatch/internal/queue"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"github.com/kursadbilgin/campaign-dispatch/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const pollBatchSize = 100

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	infra, err := bootstrap.OpenInfra(cfg, bootstrap.InfraOptions{
		Name: "campaign-dispatch-worker",
		Pool: postgresql.ServerPool,
	})
	if err != nil {
		logger.Fatal("infrastructure initialization failed", zap.Error(err))
	}
	defer infra.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()
	store := repository.NewGormStore(infra.DB)

	stack, err := bootstrap.NewCampaignStack(cfg, store, infra.Redis, metrics, logger)
	if err != nil {
		logger.Fatal("campaign services initialization failed", zap.Error(err))
	}

	mailer, err := provider.NewWebhookMailer(cfg.MailerWebhookURL)
	if err != nil {
		logger.Fatal("mailer initialization failed", zap.Error(err))
	}

	limiter, err := infraredis.NewRedisRateLimiter(infra.Redis, bootstrap.RedisKeyPrefix, cfg.SendRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger.Named("consumer"))
	delivery, err := service.NewDeliveryService(store, consumer, mailer, limiter, cfg.WorkerConcurrency, logger.Named("delivery"))
	if err != nil {
		logger.Fatal("delivery service initialization failed", zap.Error(err))
	}
	delivery.SetMetrics(metrics)

	reconciler, err := service.NewReconciler(store.SendJobs(), stack.Bridge, cfg.ReconcileSchedule, cfg.OrphanGrace, logger.Named("reconciler"))
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}
	reconciler.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return delivery.Start(groupCtx) })
	g.Go(func() error { return reconciler.Start(groupCtx) })

	// Due tasks only live in Redis when it is the job runner; a managed
	// runner delivers through the api callback instead.
	if source, ok := stack.Runner.(*infraredis.RedisJobRunner); ok {
		poller, err := jobrunner.NewDuePoller(source, queue.NewRabbitMQPublisher(rabbit), cfg.PollInterval, pollBatchSize, logger.Named("poller"))
		if err != nil {
			logger.Fatal("due poller initialization failed", zap.Error(err))
		}
		g.Go(func() error { return poller.Start(groupCtx) })
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(infra.SQL),
		handler.RedisCheck(infra.Redis),
		handler.DependencyCheck{Name: "rabbitmq", Ping: rabbit.Ping},
	)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.Shutdown()
	})

	logger.Info("campaign-dispatch worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("jobRunner", cfg.JobRunner),
		zap.Int("metricsPort", cfg.WorkerPort),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}
