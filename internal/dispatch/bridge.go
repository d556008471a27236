// Package dispatch turns allocated slots into send jobs at the job runner and
// takes them back again.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/jobrunner"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
	"github.com/kursadbilgin/campaign-dispatch/internal/queue"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	// SendEmailTask is the runner task that delivers one campaign email.
	SendEmailTask = queue.SendEmailQueue

	defaultRunnerTimeout = 5 * time.Second
)

// SendEmailPayload is the body of a SendEmailTask.
type SendEmailPayload struct {
	SendJobID      string `json:"sendJobId"`
	EmailID        string `json:"emailId"`
	SessionID      string `json:"sessionId"`
	OrganizationID string `json:"organizationId"`
}

// Bridge owns SendJob rows and the runner handles stored on them.
type Bridge struct {
	store   repository.Store
	runner  jobrunner.Runner
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
	newID   func() string
}

func NewBridge(store repository.Store, runner jobrunner.Runner, timeout time.Duration, logger *zap.Logger) (*Bridge, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	if timeout <= 0 {
		timeout = defaultRunnerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bridge{
		store:   store,
		runner:  runner,
		timeout: timeout,
		logger:  logger,
		newID:   uuid.NewString,
	}, nil
}

func (b *Bridge) SetMetrics(metrics *observability.Metrics) {
	if b == nil {
		return
	}
	b.metrics = metrics
}

// Submit persists a scheduled SendJob together with the email's
// pending→scheduled move, then triggers the send at the runner. When the
// runner refuses, the job is failed and the email returned to pending, and
// an ErrExternalDependency error is returned.
func (b *Bridge) Submit(ctx context.Context, email domain.EmailRecord, scheduledTime time.Time) (*domain.SendJob, error) {
	if strings.TrimSpace(email.ID) == "" || strings.TrimSpace(email.OrganizationID) == "" {
		return nil, fmt.Errorf("%w: email id and organization id are required", domain.ErrValidation)
	}
	if scheduledTime.IsZero() {
		return nil, fmt.Errorf("%w: scheduled time is required", domain.ErrValidation)
	}

	logger := observability.CampaignLogger(b.logger, ctx, email.SessionID, email.OrganizationID,
		zap.String("emailId", email.ID),
	)

	job := &domain.SendJob{
		ID:             b.newID(),
		EmailID:        email.ID,
		SessionID:      email.SessionID,
		OrganizationID: email.OrganizationID,
		ScheduledTime:  scheduledTime.UTC(),
		Status:         domain.JobStatusScheduled,
	}

	err := b.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.SendJobs().Create(ctx, job); err != nil {
			return err
		}
		changed, err := tx.Emails().TransitionStatus(ctx, email.ID, email.OrganizationID, domain.SendStatusPending, domain.SendStatusScheduled)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: email %s is no longer pending", domain.ErrConflict, email.ID)
		}
		return nil
	})
	if err != nil {
		if domain.IsKnown(err) {
			return nil, err
		}
		logger.Error("send job persistence failure", zap.String("operation", "create send job"), zap.Error(err))
		return nil, domain.PersistenceFailure("create send job")
	}

	logger = logger.With(zap.String("sendJobId", job.ID))

	payload := SendEmailPayload{
		SendJobID:      job.ID,
		EmailID:        job.EmailID,
		SessionID:      job.SessionID,
		OrganizationID: job.OrganizationID,
	}

	triggerCtx, cancel := context.WithTimeout(ctx, b.timeout)
	handle, triggerErr := b.runner.Trigger(triggerCtx, SendEmailTask, payload, jobrunner.TriggerOptions{RunAt: job.ScheduledTime})
	cancel()
	if triggerErr != nil {
		b.metrics.IncJobSubmitFailure()
		logger.Warn("job runner submission failed", zap.Error(triggerErr))
		if err := b.markSubmitFailed(ctx, job, triggerErr.Error()); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: job runner rejected send job %s: %v", domain.ErrExternalDependency, job.ID, triggerErr)
	}

	if err := b.store.SendJobs().SetExternalJobID(ctx, job.ID, handle); err != nil {
		logger.Error("send job persistence failure",
			zap.String("operation", "store external job id"),
			zap.String("externalJobId", handle),
			zap.Error(err),
		)
		b.cancelAtRunner(ctx, logger, handle)
		if markErr := b.markSubmitFailed(ctx, job, "external job id could not be stored"); markErr != nil {
			return nil, markErr
		}
		return nil, domain.PersistenceFailure("store external job id")
	}

	job.ExternalJobID = &handle
	return job, nil
}

// Cancel takes a scheduled job back: the job becomes cancelled and its email
// paused in one transaction, then the runner is asked to drop the task.
// Runner failures are logged only. It reports whether this call changed the
// job; a job that already left scheduled is left untouched.
func (b *Bridge) Cancel(ctx context.Context, job domain.SendJob) (bool, error) {
	logger := observability.CampaignLogger(b.logger, ctx, job.SessionID, job.OrganizationID,
		zap.String("sendJobId", job.ID),
	)

	changed := false
	err := b.store.WithinTx(ctx, func(tx repository.Store) error {
		ok, err := tx.SendJobs().TransitionStatus(ctx, job.ID, domain.JobStatusScheduled, domain.JobStatusCancelled, nil)
		if err != nil || !ok {
			return err
		}
		if _, err := tx.Emails().TransitionStatus(ctx, job.EmailID, job.OrganizationID, domain.SendStatusScheduled, domain.SendStatusPaused); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		logger.Error("send job persistence failure", zap.String("operation", "cancel send job"), zap.Error(err))
		return false, domain.PersistenceFailure("cancel send job")
	}
	if !changed {
		return false, nil
	}

	if job.ExternalJobID != nil && *job.ExternalJobID != "" {
		b.cancelAtRunner(ctx, logger, *job.ExternalJobID)
	}
	return true, nil
}

// FailUnsubmitted fails a scheduled job that never received a runner handle
// and returns its email to pending.
func (b *Bridge) FailUnsubmitted(ctx context.Context, job domain.SendJob, reason string) error {
	return b.markSubmitFailed(ctx, &job, reason)
}

func (b *Bridge) cancelAtRunner(ctx context.Context, logger *zap.Logger, handle string) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	err := b.runner.Cancel(cancelCtx, handle)
	switch {
	case err == nil:
	case errors.Is(err, jobrunner.ErrJobNotFound):
		logger.Debug("runner job already gone", zap.String("externalJobId", handle))
	default:
		logger.Warn("job runner cancel failed, local state is authoritative",
			zap.String("externalJobId", handle),
			zap.Error(err),
		)
	}
}

func (b *Bridge) markSubmitFailed(ctx context.Context, job *domain.SendJob, reason string) error {
	err := b.store.WithinTx(ctx, func(tx repository.Store) error {
		changed, err := tx.SendJobs().TransitionStatus(ctx, job.ID, domain.JobStatusScheduled, domain.JobStatusFailed, &reason)
		if err != nil || !changed {
			return err
		}
		_, err = tx.Emails().TransitionStatus(ctx, job.EmailID, job.OrganizationID, domain.SendStatusScheduled, domain.SendStatusPending)
		return err
	})
	if err != nil {
		b.logger.Error("send job persistence failure",
			zap.String("operation", "fail send job"),
			zap.String("campaignId", job.SessionID),
			zap.String("organizationId", job.OrganizationID),
			zap.String("sendJobId", job.ID),
			zap.Error(err),
		)
		return domain.PersistenceFailure("fail send job")
	}
	job.Status = domain.JobStatusFailed
	job.Error = &reason
	return nil
}
