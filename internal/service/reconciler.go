package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultReconcileSchedule = "@every 1m"
	defaultOrphanGrace       = 2 * time.Minute
	defaultReconcileLimit    = 100

	orphanedReason = "job runner submission never completed"
)

// OrphanFailer fails a scheduled job that never got a runner handle.
type OrphanFailer interface {
	FailUnsubmitted(ctx context.Context, job domain.SendJob, reason string) error
}

// Reconciler sweeps send jobs left scheduled without a runner handle, which
// happens when a process dies between persisting a job and triggering it.
// Their emails go back to pending so a later schedule picks them up.
type Reconciler struct {
	jobs     repository.SendJobRepository
	failer   OrphanFailer
	schedule string
	grace    time.Duration
	limit    int
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewReconciler(
	jobs repository.SendJobRepository,
	failer OrphanFailer,
	schedule string,
	grace time.Duration,
	logger *zap.Logger,
) (*Reconciler, error) {
	if jobs == nil {
		return nil, fmt.Errorf("send job repository is required")
	}
	if failer == nil {
		return nil, fmt.Errorf("orphan failer is required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = defaultReconcileSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	if grace <= 0 {
		grace = defaultOrphanGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		jobs:     jobs,
		failer:   failer,
		schedule: schedule,
		grace:    grace,
		limit:    defaultReconcileLimit,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Start runs the sweep on the cron schedule until ctx is cancelled, then
// waits for a running sweep to finish.
func (r *Reconciler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconcile sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to register reconcile job: %w", err)
	}

	r.logger.Info("reconciler started", zap.String("schedule", r.schedule), zap.Duration("grace", r.grace))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reconciler stopped")
	return nil
}

// RunOnce fails every orphaned job older than the grace period and reports
// how many it handled.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.grace).UTC()

	orphans, err := r.jobs.ListOrphaned(ctx, cutoff, r.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned send jobs: %w", err)
	}

	failed := 0
	for _, job := range orphans {
		if err := r.failer.FailUnsubmitted(ctx, job, orphanedReason); err != nil {
			r.logger.Error("failed to release orphaned send job",
				zap.String("sendJobId", job.ID),
				zap.String("campaignId", job.SessionID),
				zap.String("organizationId", job.OrganizationID),
				zap.Error(err),
			)
			continue
		}
		failed++
	}

	if failed > 0 {
		r.metrics.AddOrphanedJobsFailed(failed)
		r.logger.Warn("orphaned send jobs released", zap.Int("count", failed))
	}
	return failed, nil
}
