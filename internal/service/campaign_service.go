package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/lock"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
	"github.com/kursadbilgin/campaign-dispatch/internal/quota"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"github.com/kursadbilgin/campaign-dispatch/internal/scheduling"
	"go.uber.org/zap"
)

// Dispatcher submits and cancels individual send jobs.
type Dispatcher interface {
	Submit(ctx context.Context, email domain.EmailRecord, scheduledTime time.Time) (*domain.SendJob, error)
	Cancel(ctx context.Context, job domain.SendJob) (bool, error)
}

type ScheduleResult struct {
	Scheduled               int        `json:"scheduled"`
	ScheduledForToday       int        `json:"scheduledForToday"`
	ScheduledForLater       int        `json:"scheduledForLater"`
	Failed                  int        `json:"failed"`
	EstimatedCompletionTime *time.Time `json:"estimatedCompletionTime"`
}

type PauseResult struct {
	CancelledJobs int `json:"cancelledJobs"`
}

type ResumeResult struct {
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
}

type CancelResult struct {
	CancelledEmails int `json:"cancelledEmails"`
}

// CampaignService drives the campaign lifecycle: schedule, pause, resume and
// cancel. Calls for one campaign serialize on its lock; schedule and resume
// also hold the organization lock from usage read to the last submission.
type CampaignService struct {
	store      repository.Store
	configs    *quota.ConfigStore
	usage      *quota.UsageCounter
	allocator  *scheduling.Allocator
	dispatcher Dispatcher
	locker     lock.Locker
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewCampaignService(
	store repository.Store,
	configs *quota.ConfigStore,
	usage *quota.UsageCounter,
	allocator *scheduling.Allocator,
	dispatcher Dispatcher,
	locker lock.Locker,
	logger *zap.Logger,
) (*CampaignService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if configs == nil || usage == nil {
		return nil, fmt.Errorf("quota config store and usage counter are required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if allocator == nil {
		allocator = scheduling.NewAllocator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		store:      store,
		configs:    configs,
		usage:      usage,
		allocator:  allocator,
		dispatcher: dispatcher,
		locker:     locker,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Schedule plans every pending email of the campaign and submits one send
// job per email. Submission failures are counted per email and do not stop
// the batch.
func (s *CampaignService) Schedule(ctx context.Context, campaignID, organizationID, actorID string) (*ScheduleResult, error) {
	if err := requireIDs(campaignID, organizationID); err != nil {
		return nil, err
	}

	unlock, err := s.acquire(ctx, lock.CampaignKey(campaignID), lock.OrganizationKey(organizationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := loadCampaign(ctx, s.store.Campaigns(), s.logger, campaignID, organizationID)
	if err != nil {
		return nil, err
	}
	return s.scheduleLocked(ctx, session, actorID)
}

// Pause cancels every scheduled job of the campaign and parks its emails.
func (s *CampaignService) Pause(ctx context.Context, campaignID, organizationID string) (*PauseResult, error) {
	if err := requireIDs(campaignID, organizationID); err != nil {
		return nil, err
	}

	unlock, err := s.acquire(ctx, lock.CampaignKey(campaignID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := loadCampaign(ctx, s.store.Campaigns(), s.logger, campaignID, organizationID)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.pauseLocked(ctx, session)
	if err != nil {
		return nil, err
	}
	return &PauseResult{CancelledJobs: cancelled}, nil
}

// Resume returns paused emails to pending and schedules them with fresh
// quota data; no previous send time is reused.
func (s *CampaignService) Resume(ctx context.Context, campaignID, organizationID, actorID string) (*ResumeResult, error) {
	if err := requireIDs(campaignID, organizationID); err != nil {
		return nil, err
	}

	unlock, err := s.acquire(ctx, lock.CampaignKey(campaignID), lock.OrganizationKey(organizationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := loadCampaign(ctx, s.store.Campaigns(), s.logger, campaignID, organizationID)
	if err != nil {
		return nil, err
	}

	moved, err := s.store.Emails().TransitionSessionStatus(ctx, session.ID, organizationID,
		[]domain.SendStatus{domain.SendStatusPaused}, domain.SendStatusPending)
	if err != nil {
		return nil, persistenceErr(s.logger, "resume paused emails", campaignID, organizationID, err)
	}
	if moved == 0 {
		return nil, domain.ErrNothingToResume
	}

	s.logger.Info("paused emails returned to pending",
		zap.String("campaignId", campaignID),
		zap.String("organizationId", organizationID),
		zap.Int64("emails", moved),
	)

	result, err := s.scheduleLocked(ctx, session, actorID)
	if err != nil {
		return nil, err
	}
	return &ResumeResult{Rescheduled: result.Scheduled, Failed: result.Failed}, nil
}

// Cancel pauses the campaign and then cancels every email not yet sent,
// cancelled or failed. It reports how many emails were cancelled.
func (s *CampaignService) Cancel(ctx context.Context, campaignID, organizationID string) (*CancelResult, error) {
	if err := requireIDs(campaignID, organizationID); err != nil {
		return nil, err
	}

	unlock, err := s.acquire(ctx, lock.CampaignKey(campaignID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := loadCampaign(ctx, s.store.Campaigns(), s.logger, campaignID, organizationID)
	if err != nil {
		return nil, err
	}

	if _, err := s.pauseLocked(ctx, session); err != nil && !errors.Is(err, domain.ErrNothingToPause) {
		return nil, err
	}

	cancelled, err := s.store.Emails().TransitionSessionStatus(ctx, session.ID, organizationID,
		domain.NonTerminalSendStatuses(), domain.SendStatusCancelled)
	if err != nil {
		return nil, persistenceErr(s.logger, "cancel emails", campaignID, organizationID, err)
	}

	if err := moveSession(ctx, s.store.Campaigns(), s.logger, session, domain.CampaignStatusCancelled); err != nil {
		return nil, err
	}

	s.logger.Info("campaign cancelled",
		zap.String("campaignId", campaignID),
		zap.String("organizationId", organizationID),
		zap.Int64("cancelledEmails", cancelled),
	)
	return &CancelResult{CancelledEmails: int(cancelled)}, nil
}

func (s *CampaignService) scheduleLocked(ctx context.Context, session *domain.CampaignSession, actorID string) (*ScheduleResult, error) {
	campaignID, organizationID := session.ID, session.OrganizationID
	logger := observability.CampaignLogger(s.logger, ctx, campaignID, organizationID)

	if session.Status == domain.CampaignStatusCancelled {
		return nil, fmt.Errorf("%w: campaign %s is cancelled", domain.ErrPrecondition, campaignID)
	}

	pending, err := s.store.Emails().ListBySessionAndStatus(ctx, campaignID, organizationID, domain.SendStatusPending)
	if err != nil {
		return nil, persistenceErr(s.logger, "list pending emails", campaignID, organizationID, err)
	}
	if len(pending) == 0 {
		return nil, domain.ErrNoEmailsToSchedule
	}

	cfg, err := s.configs.GetOrCreate(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	usage, err := s.usage.Load(ctx, *cfg, now)
	if err != nil {
		return nil, err
	}

	live, err := s.store.SendJobs().ListBySessionAndStatus(ctx, campaignID, organizationID, domain.JobStatusScheduled)
	if err != nil {
		return nil, persistenceErr(s.logger, "list scheduled jobs", campaignID, organizationID, err)
	}
	var notBefore time.Time
	if len(live) > 0 {
		notBefore = live[len(live)-1].ScheduledTime
	}

	plan, err := s.allocator.Allocate(scheduling.Input{
		Emails:          pending,
		Config:          *cfg,
		EmailsSentToday: usage.Today,
		UsageByDay:      usage.ByDay,
		Now:             now,
		NotBefore:       notBefore,
	})
	if err != nil {
		return nil, err
	}

	if err := moveSession(ctx, s.store.Campaigns(), s.logger, session, domain.CampaignStatusScheduling); err != nil {
		return nil, err
	}

	result := &ScheduleResult{}
	var submitErr error
	for _, slot := range plan.Slots {
		if _, err := s.dispatcher.Submit(ctx, slot.Email, slot.ScheduledTime); err != nil {
			if !errors.Is(err, domain.ErrExternalDependency) && !errors.Is(err, domain.ErrConflict) {
				submitErr = err
				break
			}
			result.Failed++
			logger.Warn("email submission failed",
				zap.String("emailId", slot.Email.ID),
				zap.Time("scheduledTime", slot.ScheduledTime),
				zap.Error(err),
			)
			continue
		}

		result.Scheduled++
		if slot.ForToday {
			result.ScheduledForToday++
		} else {
			result.ScheduledForLater++
		}
		at := slot.ScheduledTime
		result.EstimatedCompletionTime = &at
	}

	s.metrics.AddEmailsScheduled(result.ScheduledForToday, result.ScheduledForLater)

	next := domain.CampaignStatusIdle
	if result.Scheduled > 0 {
		next = domain.CampaignStatusActive
		if err := s.store.Campaigns().MarkScheduled(ctx, campaignID, organizationID, actorID, now.UTC()); err != nil {
			return nil, persistenceErr(s.logger, "mark campaign scheduled", campaignID, organizationID, err)
		}
	}
	if err := moveSession(ctx, s.store.Campaigns(), s.logger, session, next); err != nil {
		return nil, err
	}

	if submitErr != nil {
		return nil, submitErr
	}
	if result.Scheduled == 0 {
		return nil, fmt.Errorf("%w: none of %d emails could be submitted", domain.ErrExternalDependency, result.Failed)
	}

	logger.Info("campaign scheduled",
		zap.String("actorId", actorID),
		zap.Int("scheduled", result.Scheduled),
		zap.Int("scheduledForToday", result.ScheduledForToday),
		zap.Int("scheduledForLater", result.ScheduledForLater),
		zap.Int("failed", result.Failed),
		zap.Timep("estimatedCompletionTime", result.EstimatedCompletionTime),
	)
	return result, nil
}

func (s *CampaignService) pauseLocked(ctx context.Context, session *domain.CampaignSession) (int, error) {
	campaignID, organizationID := session.ID, session.OrganizationID

	jobs, err := s.store.SendJobs().ListBySessionAndStatus(ctx, campaignID, organizationID, domain.JobStatusScheduled)
	if err != nil {
		return 0, persistenceErr(s.logger, "list scheduled jobs", campaignID, organizationID, err)
	}
	if len(jobs) == 0 {
		return 0, domain.ErrNothingToPause
	}

	cancelled := 0
	for _, job := range jobs {
		changed, err := s.dispatcher.Cancel(ctx, job)
		if err != nil {
			s.metrics.AddSendJobsCancelled(cancelled)
			return 0, err
		}
		if changed {
			cancelled++
		}
	}
	s.metrics.AddSendJobsCancelled(cancelled)

	if cancelled == 0 {
		return 0, domain.ErrNothingToPause
	}

	if err := moveSession(ctx, s.store.Campaigns(), s.logger, session, domain.CampaignStatusPaused); err != nil {
		return 0, err
	}

	s.logger.Info("campaign paused",
		zap.String("campaignId", campaignID),
		zap.String("organizationId", organizationID),
		zap.Int("cancelledJobs", cancelled),
	)
	return cancelled, nil
}

// acquire takes the locks in order and returns a func releasing all of them.
func (s *CampaignService) acquire(ctx context.Context, keys ...string) (func(), error) {
	releases := make([]func(), 0, len(keys))
	unlock := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range keys {
		lease, err := s.locker.Acquire(ctx, key)
		if err != nil {
			unlock()
			if errors.Is(err, lock.ErrNotAcquired) {
				return nil, fmt.Errorf("%w: %s is busy, retry later", domain.ErrConflict, key)
			}
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		releases = append(releases, lock.ReleaseFunc(ctx, lease))
	}
	return unlock, nil
}
