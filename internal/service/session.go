package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"go.uber.org/zap"
)

func requireIDs(campaignID, organizationID string) error {
	if strings.TrimSpace(campaignID) == "" {
		return fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(organizationID) == "" {
		return fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}
	return nil
}

// persistenceErr logs a storage failure with its context and returns the
// detail-free error surfaced to callers. Errors that already carry a kind
// pass through unchanged.
func persistenceErr(logger *zap.Logger, op, campaignID, organizationID string, err error) error {
	if domain.IsKnown(err) {
		return err
	}
	logger.Error("persistence failure",
		zap.String("operation", op),
		zap.String("campaignId", campaignID),
		zap.String("organizationId", organizationID),
		zap.Error(err),
	)
	return domain.PersistenceFailure(op)
}

func loadCampaign(ctx context.Context, campaigns repository.CampaignRepository, logger *zap.Logger, campaignID, organizationID string) (*domain.CampaignSession, error) {
	session, err := campaigns.GetByID(ctx, campaignID, organizationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, persistenceErr(logger, "load campaign", campaignID, organizationID, err)
	}
	return session, nil
}

// moveSession applies next when the lifecycle allows it and is a no-op
// otherwise; the session row only mirrors email and job state.
func moveSession(ctx context.Context, campaigns repository.CampaignRepository, logger *zap.Logger, session *domain.CampaignSession, next domain.CampaignStatus) error {
	if session.Status == next {
		return nil
	}
	if !session.Status.CanTransitionTo(next) {
		logger.Debug("campaign status transition skipped",
			zap.String("campaignId", session.ID),
			zap.String("from", session.Status.String()),
			zap.String("to", next.String()),
		)
		return nil
	}

	if err := campaigns.UpdateStatus(ctx, session.ID, session.OrganizationID, next); err != nil {
		return persistenceErr(logger, "update campaign status", session.ID, session.OrganizationID, err)
	}
	session.Status = next
	return nil
}
