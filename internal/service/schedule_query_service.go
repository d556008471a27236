package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"go.uber.org/zap"
)

// ScheduleStats counts a campaign's emails by send status.
type ScheduleStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Scheduled int `json:"scheduled"`
	Sent      int `json:"sent"`
	Paused    int `json:"paused"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

func (s *ScheduleStats) add(status domain.SendStatus, n int) {
	s.Total += n
	switch status {
	case domain.SendStatusPending:
		s.Pending += n
	case domain.SendStatusScheduled:
		s.Scheduled += n
	case domain.SendStatusSent:
		s.Sent += n
	case domain.SendStatusPaused:
		s.Paused += n
	case domain.SendStatusCancelled:
		s.Cancelled += n
	case domain.SendStatusFailed:
		s.Failed += n
	}
}

// CampaignSchedule is the read model behind getSchedule.
type CampaignSchedule struct {
	Session         domain.CampaignSession
	Stats           ScheduleStats
	ScheduledEmails []repository.ScheduledEmailRow
}

type ScheduleQueryService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewScheduleQueryService(store repository.Store, logger *zap.Logger) (*ScheduleQueryService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleQueryService{store: store, logger: logger}, nil
}

// GetSchedule returns the session, its status breakdown and every email that
// has a send job, each joined with its latest job, in send order.
func (s *ScheduleQueryService) GetSchedule(ctx context.Context, campaignID, organizationID string) (*CampaignSchedule, error) {
	if err := requireIDs(campaignID, organizationID); err != nil {
		return nil, err
	}

	session, err := loadCampaign(ctx, s.store.Campaigns(), s.logger, campaignID, organizationID)
	if err != nil {
		return nil, err
	}

	counts, err := s.store.Emails().CountBySessionGroupedByStatus(ctx, campaignID, organizationID)
	if err != nil {
		return nil, persistenceErr(s.logger, "count emails by status", campaignID, organizationID, err)
	}

	var stats ScheduleStats
	for _, c := range counts {
		stats.add(domain.SendStatus(c.Status), c.Count)
	}

	rows, err := s.store.SendJobs().ListScheduleRows(ctx, campaignID, organizationID)
	if err != nil {
		return nil, persistenceErr(s.logger, "list scheduled emails", campaignID, organizationID, err)
	}

	return &CampaignSchedule{
		Session:         *session,
		Stats:           stats,
		ScheduledEmails: rows,
	}, nil
}
