package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
	"github.com/kursadbilgin/campaign-dispatch/internal/provider"
	"github.com/kursadbilgin/campaign-dispatch/internal/queue"
	"github.com/kursadbilgin/campaign-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// DeliveryService executes due send tasks. Local job state decides whether
// an email goes out: a job that is no longer scheduled is acknowledged and
// skipped. Failed sends are terminal; nothing is retried here.
type DeliveryService struct {
	store       repository.Store
	consumer    queue.Consumer
	mailer      provider.Mailer
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewDeliveryService(
	store repository.Store,
	consumer queue.Consumer,
	mailer provider.Mailer,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*DeliveryService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		store:       store,
		consumer:    consumer,
		mailer:      mailer,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (s *DeliveryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the send queue with the configured number of workers until
// context cancellation.
func (s *DeliveryService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.consumer == nil || s.mailer == nil || s.rateLimiter == nil {
		return fmt.Errorf("consumer, mailer and rate limiter are required to start delivery")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("delivery worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.SendEmailQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.SendEmailQueue, s.processMessage)
			if err != nil {
				s.logger.Error("delivery worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("delivery worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *DeliveryService) processMessage(ctx context.Context, msg queue.TaskMessage) error {
	if msg.Task != dispatch.SendEmailTask {
		return fmt.Errorf("%w: unexpected task %q", queue.ErrReject, msg.Task)
	}

	var payload dispatch.SendEmailPayload
	if err := msg.Decode(&payload); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrReject, err)
	}
	if strings.TrimSpace(payload.SendJobID) == "" {
		return fmt.Errorf("%w: send job id is missing", queue.ErrReject)
	}

	return s.Deliver(ctx, payload)
}

// DeliveryOutcome is what one delivery attempt did with its send job.
type DeliveryOutcome string

const (
	DeliverySent    DeliveryOutcome = "sent"
	DeliveryFailed  DeliveryOutcome = "failed"
	DeliverySkipped DeliveryOutcome = "skipped"
)

var errForeignSendJob = errors.New("send job belongs to another organization")

// Deliver sends the email of one send job and records the outcome.
func (s *DeliveryService) Deliver(ctx context.Context, payload dispatch.SendEmailPayload) error {
	_, err := s.deliver(ctx, payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		observability.WithContextLogger(s.logger, ctx).Warn("send job not found, skipping", zap.String("sendJobId", payload.SendJobID))
		return nil
	case errors.Is(err, errForeignSendJob):
		return fmt.Errorf("%w: %v", queue.ErrReject, err)
	default:
		return err
	}
}

// DeliverJob runs one delivery on behalf of a managed job runner when the
// task comes due. A job that is no longer scheduled is skipped, so pause and
// cancel hold even if the runner never saw the cancellation.
func (s *DeliveryService) DeliverJob(ctx context.Context, sendJobID, organizationID string) (DeliveryOutcome, error) {
	if strings.TrimSpace(sendJobID) == "" || strings.TrimSpace(organizationID) == "" {
		return "", fmt.Errorf("%w: send job id and organization id are required", domain.ErrValidation)
	}
	if s.mailer == nil || s.rateLimiter == nil {
		return "", fmt.Errorf("mailer and rate limiter are required to deliver")
	}

	outcome, err := s.deliver(ctx, dispatch.SendEmailPayload{SendJobID: sendJobID, OrganizationID: organizationID})
	if errors.Is(err, errForeignSendJob) {
		return "", fmt.Errorf("%w: send job %s not found", domain.ErrNotFound, sendJobID)
	}
	return outcome, err
}

func (s *DeliveryService) deliver(ctx context.Context, payload dispatch.SendEmailPayload) (DeliveryOutcome, error) {
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("sendJobId", payload.SendJobID),
		zap.String("organizationId", payload.OrganizationID),
	)

	job, err := s.store.SendJobs().GetByID(ctx, payload.SendJobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: send job %s not found", domain.ErrNotFound, payload.SendJobID)
		}
		return "", fmt.Errorf("failed to load send job: %w", err)
	}
	if job.OrganizationID != payload.OrganizationID {
		return "", fmt.Errorf("%w: %s", errForeignSendJob, job.ID)
	}
	if job.Status != domain.JobStatusScheduled {
		logger.Info("send job no longer scheduled, skipping", zap.String("status", job.Status.String()))
		return DeliverySkipped, nil
	}

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	if err := s.rateLimiter.Wait(ctx, job.OrganizationID); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var (
		sent    bool
		sendErr error
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		locked, err := tx.SendJobs().LockForDelivery(ctx, job.ID)
		if err != nil {
			return err
		}
		// Paused or cancelled while waiting for a send slot.
		if locked.Status != domain.JobStatusScheduled {
			return nil
		}

		email, err := tx.Emails().GetByID(ctx, locked.EmailID, locked.OrganizationID)
		if err != nil {
			return err
		}

		sendStart := s.now()
		var result *provider.SendResult
		result, sendErr = s.mailer.Send(ctx, *email)
		s.metrics.ObserveEmailSendDuration(s.now().Sub(sendStart))
		if sendErr == nil && result != nil && result.MessageID != "" {
			logger.Debug("mailer accepted email", zap.String("messageId", result.MessageID))
		}
		sent = true

		return s.recordOutcome(ctx, tx, locked, sendErr)
	})
	if err != nil {
		logger.Error("delivery persistence failure", zap.Error(err))
		return "", fmt.Errorf("failed to record delivery: %w", err)
	}
	if !sent {
		logger.Info("send job left scheduled state before delivery, skipping")
		return DeliverySkipped, nil
	}

	s.observeOutcome(sendErr)
	s.completeIfDone(ctx, job.SessionID, job.OrganizationID)
	if sendErr != nil {
		logger.Warn("email delivery failed", zap.Error(sendErr))
		return DeliveryFailed, nil
	}
	return DeliverySent, nil
}

// CompleteSend records the outcome reported by a job runner that performed
// the send itself. A nil sendErr marks the job completed and the email sent.
func (s *DeliveryService) CompleteSend(ctx context.Context, sendJobID, organizationID string, sendErr error) error {
	if strings.TrimSpace(sendJobID) == "" || strings.TrimSpace(organizationID) == "" {
		return fmt.Errorf("%w: send job id and organization id are required", domain.ErrValidation)
	}

	var job *domain.SendJob
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		locked, err := tx.SendJobs().LockForDelivery(ctx, sendJobID)
		if err != nil {
			return err
		}
		if locked.OrganizationID != organizationID {
			return domain.ErrNotFound
		}
		if locked.Status != domain.JobStatusScheduled {
			return fmt.Errorf("%w: send job %s is %s", domain.ErrConflict, sendJobID, locked.Status)
		}
		job = locked
		return s.recordOutcome(ctx, tx, locked, sendErr)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: send job %s not found", domain.ErrNotFound, sendJobID)
		}
		if domain.IsKnown(err) {
			return err
		}
		s.logger.Error("persistence failure",
			zap.String("operation", "complete send"),
			zap.String("sendJobId", sendJobID),
			zap.String("organizationId", organizationID),
			zap.Error(err),
		)
		return domain.PersistenceFailure("complete send")
	}

	s.observeOutcome(sendErr)
	s.completeIfDone(ctx, job.SessionID, job.OrganizationID)
	return nil
}

func (s *DeliveryService) recordOutcome(ctx context.Context, tx repository.Store, job *domain.SendJob, sendErr error) error {
	at := s.now().UTC()

	if sendErr == nil {
		if _, err := tx.SendJobs().Complete(ctx, job.ID, at); err != nil {
			return err
		}
		_, err := tx.Emails().MarkSent(ctx, job.EmailID, at)
		return err
	}

	reason := sendErr.Error()
	if _, err := tx.SendJobs().TransitionStatus(ctx, job.ID, domain.JobStatusScheduled, domain.JobStatusFailed, &reason); err != nil {
		return err
	}
	_, err := tx.Emails().TransitionStatus(ctx, job.EmailID, job.OrganizationID, domain.SendStatusScheduled, domain.SendStatusFailed)
	return err
}

func (s *DeliveryService) observeOutcome(sendErr error) {
	if sendErr == nil {
		s.metrics.IncEmailDelivered()
		return
	}
	s.metrics.IncEmailDeliveryFailed(provider.FailureReason(sendErr))
}

// completeIfDone moves the session to completed once it has no scheduled
// job and no email waiting to be sent. Errors are logged; the delivery
// itself is recorded.
func (s *DeliveryService) completeIfDone(ctx context.Context, campaignID, organizationID string) {
	scheduled, err := s.store.SendJobs().CountBySessionAndStatus(ctx, campaignID, organizationID, domain.JobStatusScheduled)
	if err != nil {
		_ = persistenceErr(s.logger, "count scheduled jobs", campaignID, organizationID, err)
		return
	}
	if scheduled > 0 {
		return
	}

	counts, err := s.store.Emails().CountBySessionGroupedByStatus(ctx, campaignID, organizationID)
	if err != nil {
		_ = persistenceErr(s.logger, "count emails by status", campaignID, organizationID, err)
		return
	}
	for _, c := range counts {
		switch domain.SendStatus(c.Status) {
		case domain.SendStatusPending, domain.SendStatusScheduled, domain.SendStatusPaused:
			if c.Count > 0 {
				return
			}
		}
	}

	session, err := loadCampaign(ctx, s.store.Campaigns(), s.logger, campaignID, organizationID)
	if err != nil {
		return
	}
	previous := session.Status
	if err := moveSession(ctx, s.store.Campaigns(), s.logger, session, domain.CampaignStatusCompleted); err != nil {
		return
	}
	if previous != session.Status {
		s.logger.Info("campaign completed",
			zap.String("campaignId", campaignID),
			zap.String("organizationId", organizationID),
		)
	}
}
