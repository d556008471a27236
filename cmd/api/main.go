package main

import (
	"context"
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
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/campaign-dispatch/internal/bootstrap"
	"github.com/kursadbilgin/campaign-dispatch/internal/config"
	"github.com/kursadbilgin/campaign-dispatch/internal/handler"
	"github.com/kursadbilgin/campaign-dispatch/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/campaign-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
	"github.com/kursadbilgin/campaign-dispatch/internal/provider"
	"github.com/kursadbilgin/campaign-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"github.com/kursadbilgin/campaign-dispatch/internal/service"
	"github.com/kursadbilgin/campaign-dispatch/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	infra, err := bootstrap.OpenInfra(cfg, bootstrap.InfraOptions{
		Name:    "campaign-dispatch-api",
		Migrate: true,
		Pool:    postgresql.ServerPool,
	})
	if err != nil {
		logger.Fatal("infrastructure initialization failed", zap.Error(err))
	}
	defer infra.Close()

	metrics := observability.NewMetrics()
	store := repository.NewGormStore(infra.DB)

	stack, err := bootstrap.NewCampaignStack(cfg, store, infra.Redis, metrics, logger)
	if err != nil {
		logger.Fatal("campaign services initialization failed", zap.Error(err))
	}

	// A managed runner calls back when a send is due; the api performs it
	// against local job state. Outcome reports need no mailer.
	var (
		mailer  provider.Mailer
		limiter ratelimit.RateLimiter
	)
	if cfg.JobRunner == config.JobRunnerHTTP {
		mailer, err = provider.NewWebhookMailer(cfg.MailerWebhookURL)
		if err != nil {
			logger.Fatal("mailer initialization failed", zap.Error(err))
		}
		limiter, err = infraredis.NewRedisRateLimiter(infra.Redis, bootstrap.RedisKeyPrefix, cfg.SendRatePerSec)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
	}
	delivery, err := service.NewDeliveryService(store, nil, mailer, limiter, 1, logger.Named("delivery"))
	if err != nil {
		logger.Fatal("delivery service initialization failed", zap.Error(err))
	}
	delivery.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "campaign-dispatch",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware(transport.StatusFor))

	handler.RegisterHealthRoutes(app, handler.PostgresCheck(infra.SQL), handler.RedisCheck(infra.Redis))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := registerRoutes(app, stack, delivery); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("campaign-dispatch api started",
			zap.Int("port", cfg.APIPort),
			zap.String("jobRunner", cfg.JobRunner),
		)
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}
}

func registerRoutes(app *fiber.App, stack *bootstrap.CampaignStack, delivery *service.DeliveryService) error {
	if err := handler.RegisterCampaignRoutes(app, stack.Campaigns, stack.Schedules); err != nil {
		return err
	}
	if err := handler.RegisterScheduleConfigRoutes(app, stack.Configs); err != nil {
		return err
	}
	return handler.RegisterSendJobRoutes(app, delivery, delivery)
}
