// Package bootstrap wires the shared infrastructure and services used by the
// api, worker and campaignctl binaries.
package bootstrap

import (
	"database/sql"
	"fmt"

	"github.com/kursadbilgin/campaign-dispatch/internal/config"
	"github.com/kursadbilgin/campaign-dispatch/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/campaign-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/campaign-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/campaign-dispatch/internal/jobrunner"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
	"github.com/kursadbilgin/campaign-dispatch/internal/quota"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"github.com/kursadbilgin/campaign-dispatch/internal/scheduling"
	"github.com/kursadbilgin/campaign-dispatch/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RedisKeyPrefix namespaces every key the Redis job runner writes.
const RedisKeyPrefix = "campaign-dispatch"

type Infra struct {
	DB    *gorm.DB
	SQL   *sql.DB
	Redis *goredis.Client
}

// InfraOptions differ per binary: only the api migrates, and campaignctl
// keeps a small pool.
type InfraOptions struct {
	Name    string
	Migrate bool
	Pool    postgresql.PoolConfig
}

func OpenInfra(cfg *config.Config, opts InfraOptions) (*Infra, error) {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, opts.Pool)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}

	if opts.Migrate {
		if err := migrations.Migrate(db); err != nil {
			return nil, fmt.Errorf("database migrations failed: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL, opts.Name)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}

	return &Infra{DB: db, SQL: sqlDB, Redis: rdb}, nil
}

func (i *Infra) Close() {
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.SQL != nil {
		_ = i.SQL.Close()
	}
}

// NewJobRunner returns the runner selected by JOB_RUNNER.
func NewJobRunner(cfg *config.Config, rdb *goredis.Client, logger *zap.Logger) (jobrunner.Runner, error) {
	switch cfg.JobRunner {
	case config.JobRunnerHTTP:
		return jobrunner.NewHTTPRunner(cfg.JobRunnerURL, cfg.JobRunnerAPIKey, cfg.JobRunnerTimeout)
	case config.JobRunnerRedis, "":
		return infraredis.NewRedisJobRunner(rdb, RedisKeyPrefix, logger)
	default:
		return nil, fmt.Errorf("unknown job runner %q", cfg.JobRunner)
	}
}

// CampaignStack is the scheduling side of the system: config, usage,
// dispatch bridge and the lifecycle and query services on top.
type CampaignStack struct {
	Store     repository.Store
	Runner    jobrunner.Runner
	Configs   *quota.ConfigStore
	Usage     *quota.UsageCounter
	Bridge    *dispatch.Bridge
	Campaigns *service.CampaignService
	Schedules *service.ScheduleQueryService
}

func NewCampaignStack(
	cfg *config.Config,
	store repository.Store,
	rdb *goredis.Client,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*CampaignStack, error) {
	runner, err := NewJobRunner(cfg, rdb, logger.Named("jobrunner"))
	if err != nil {
		return nil, err
	}

	bridge, err := dispatch.NewBridge(store, runner, cfg.JobRunnerTimeout, logger.Named("dispatch"))
	if err != nil {
		return nil, err
	}
	bridge.SetMetrics(metrics)

	locker, err := infraredis.NewRedisLocker(rdb, cfg.LockTTL)
	if err != nil {
		return nil, err
	}

	configs := quota.NewConfigStore(store.Configs(), logger.Named("quota"))
	usage := quota.NewUsageCounter(configs, store.SendJobs(), logger.Named("quota"))

	campaigns, err := service.NewCampaignService(
		store,
		configs,
		usage,
		scheduling.NewAllocator(nil),
		bridge,
		locker,
		logger.Named("campaigns"),
	)
	if err != nil {
		return nil, err
	}
	campaigns.SetMetrics(metrics)

	schedules, err := service.NewScheduleQueryService(store, logger.Named("schedules"))
	if err != nil {
		return nil, err
	}

	return &CampaignStack{
		Store:     store,
		Runner:    runner,
		Configs:   configs,
		Usage:     usage,
		Bridge:    bridge,
		Campaigns: campaigns,
		Schedules: schedules,
	}, nil
}
