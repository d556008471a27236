package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kursadbilgin/campaign-dispatch/internal/bootstrap"
	"github.com/kursadbilgin/campaign-dispatch/internal/cli"
	"github.com/kursadbilgin/campaign-dispatch/internal/config"
	"github.com/kursadbilgin/campaign-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
)

func main() {
	_ = godotenv.Load()

	var infra *bootstrap.Infra
	connect := func(ctx context.Context) (*cli.Services, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}

		logger, err := observability.NewLogger(cfg.LogLevel, "campaignctl")
		if err != nil {
			return nil, err
		}

		infra, err = bootstrap.OpenInfra(cfg, bootstrap.InfraOptions{
			Name: "campaignctl",
			Pool: postgresql.CommandPool,
		})
		if err != nil {
			return nil, err
		}

		stack, err := bootstrap.NewCampaignStack(cfg, repository.NewGormStore(infra.DB), infra.Redis, nil, logger)
		if err != nil {
			return nil, err
		}

		return &cli.Services{
			Campaigns: stack.Campaigns,
			Schedules: stack.Schedules,
			Configs:   stack.Configs,
		}, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand(connect).ExecuteContext(ctx)
	stop()
	if infra != nil {
		infra.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
