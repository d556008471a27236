package quota

import (
	"context"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"github.com/kursadbilgin/campaign-dispatch/internal/scheduling"
	"go.uber.org/zap"
)

// Usage is the quota already consumed by an organization.
type Usage struct {
	Today int
	// ByDay covers today and every later day that has live jobs.
	ByDay map[string]int
}

// UsageCounter counts live send jobs (scheduled or completed) per local
// calendar day of the organization.
type UsageCounter struct {
	configs *ConfigStore
	jobs    repository.SendJobRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewUsageCounter(configs *ConfigStore, jobs repository.SendJobRepository, logger *zap.Logger) *UsageCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageCounter{
		configs: configs,
		jobs:    jobs,
		logger:  logger,
		now:     time.Now,
	}
}

// EmailsSentToday counts live jobs whose scheduled time falls in today's
// [start, end) in the organization's timezone.
func (u *UsageCounter) EmailsSentToday(ctx context.Context, organizationID string) (int, error) {
	cfg, err := u.configs.GetOrCreate(ctx, organizationID)
	if err != nil {
		return 0, err
	}
	return u.countDay(ctx, *cfg, u.now())
}

// UsageByDay groups live jobs scheduled at or after from by local day.
func (u *UsageCounter) UsageByDay(ctx context.Context, organizationID string, from time.Time) (map[string]int, error) {
	cfg, err := u.configs.GetOrCreate(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return u.byDay(ctx, *cfg, from)
}

// Load reads both counters for cfg's organization as of now.
func (u *UsageCounter) Load(ctx context.Context, cfg domain.ScheduleConfig, now time.Time) (Usage, error) {
	today, err := u.countDay(ctx, cfg, now)
	if err != nil {
		return Usage{}, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return Usage{}, err
	}
	byDay, err := u.byDay(ctx, cfg, scheduling.StartOfDay(now, loc))
	if err != nil {
		return Usage{}, err
	}

	return Usage{Today: today, ByDay: byDay}, nil
}

func (u *UsageCounter) countDay(ctx context.Context, cfg domain.ScheduleConfig, at time.Time) (int, error) {
	loc, err := cfg.Location()
	if err != nil {
		return 0, err
	}

	start, end := scheduling.DayBounds(at, loc)
	count, err := u.jobs.CountInRange(ctx, cfg.OrganizationID, start, end)
	if err != nil {
		u.logger.Error("usage count failed",
			zap.String("operation", "count jobs today"),
			zap.String("organizationId", cfg.OrganizationID),
			zap.Error(err),
		)
		return 0, domain.PersistenceFailure("count jobs today")
	}
	return int(count), nil
}

func (u *UsageCounter) byDay(ctx context.Context, cfg domain.ScheduleConfig, from time.Time) (map[string]int, error) {
	rows, err := u.jobs.CountByLocalDay(ctx, cfg.OrganizationID, cfg.Timezone, from)
	if err != nil {
		u.logger.Error("usage count failed",
			zap.String("operation", "count jobs by day"),
			zap.String("organizationId", cfg.OrganizationID),
			zap.Error(err),
		)
		return nil, domain.PersistenceFailure("count jobs by day")
	}

	usage := make(map[string]int, len(rows))
	for _, row := range rows {
		usage[row.Day] += row.Count
	}
	return usage, nil
}
