package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"gorm.io/gorm"
)

// GormCampaignRepo stores campaign sessions. Every lookup and update is
// scoped to the owning organization; a foreign session reads as missing.
type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) owned(ctx context.Context, id, organizationID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&CampaignSessionModel{}).
		Where("id = ? AND organization_id = ?", id, organizationID)
}

func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.CampaignSession) error {
	model := campaignModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *campaignModelToDomain(model)
	}
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id, organizationID string) (*domain.CampaignSession, error) {
	var model CampaignSessionModel
	switch err := r.owned(ctx, id, organizationID).First(&model).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, domain.ErrCampaignNotFound
	case err != nil:
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

func (r *GormCampaignRepo) UpdateStatus(ctx context.Context, id, organizationID string, status domain.CampaignStatus) error {
	return sessionUpdated(r.owned(ctx, id, organizationID).Update("status", status))
}

// MarkScheduled records who scheduled the session and when.
func (r *GormCampaignRepo) MarkScheduled(ctx context.Context, id, organizationID, actorID string, at time.Time) error {
	return sessionUpdated(r.owned(ctx, id, organizationID).Updates(map[string]any{
		"scheduled_by": actorID,
		"scheduled_at": at,
	}))
}

func sessionUpdated(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}
