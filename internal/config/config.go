package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	JobRunnerRedis = "redis"
	JobRunnerHTTP  = "http"
)

type Config struct {
	DatabaseDSN       string        `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string        `env:"RABBITMQ_URL,required=true"`
	RedisURL          string        `env:"REDIS_URL,required=true"`
	JobRunner         string        `env:"JOB_RUNNER,default=redis"`
	JobRunnerURL      string        `env:"JOB_RUNNER_URL"`
	JobRunnerAPIKey   string        `env:"JOB_RUNNER_API_KEY"`
	JobRunnerTimeout  time.Duration `env:"JOB_RUNNER_TIMEOUT,default=5s"`
	MailerWebhookURL  string        `env:"MAILER_WEBHOOK_URL"`
	SendRatePerSec    int           `env:"SEND_RATE_PER_SEC,default=10"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=4"`
	PollInterval      time.Duration `env:"POLL_INTERVAL,default=2s"`
	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE,default=@every 1m"`
	OrphanGrace       time.Duration `env:"ORPHAN_GRACE,default=2m"`
	LockTTL           time.Duration `env:"LOCK_TTL,default=30s"`
	APIPort           int           `env:"API_PORT,default=8080"`
	WorkerPort        int           `env:"WORKER_PORT,default=9091"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.JobRunner = strings.ToLower(strings.TrimSpace(c.JobRunner))
	switch c.JobRunner {
	case JobRunnerRedis:
	case JobRunnerHTTP:
		if strings.TrimSpace(c.JobRunnerURL) == "" {
			return fmt.Errorf("JOB_RUNNER_URL is required when JOB_RUNNER=http")
		}
		// The api sends on the runner's deliver callback.
		if strings.TrimSpace(c.MailerWebhookURL) == "" {
			return fmt.Errorf("MAILER_WEBHOOK_URL is required when JOB_RUNNER=http")
		}
	default:
		return fmt.Errorf("JOB_RUNNER must be %q or %q (got %q)", JobRunnerRedis, JobRunnerHTTP, c.JobRunner)
	}

	if c.JobRunnerTimeout <= 0 {
		return fmt.Errorf("JOB_RUNNER_TIMEOUT must be positive")
	}
	if c.SendRatePerSec <= 0 {
		return fmt.Errorf("SEND_RATE_PER_SEC must be positive")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	return nil
}
