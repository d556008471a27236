package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormScheduleConfigRepo struct {
	db *gorm.DB
}

func NewGormScheduleConfigRepo(db *gorm.DB) *GormScheduleConfigRepo {
	return &GormScheduleConfigRepo{db: db}
}

func (r *GormScheduleConfigRepo) GetByOrganization(ctx context.Context, organizationID string) (*domain.ScheduleConfig, error) {
	var model ScheduleConfigModel
	err := r.db.WithContext(ctx).First(&model, "organization_id = ?", organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return scheduleConfigModelToDomain(&model), nil
}

func (r *GormScheduleConfigRepo) CreateIfAbsent(ctx context.Context, cfg *domain.ScheduleConfig) error {
	model := scheduleConfigModelFromDomain(cfg)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}},
			DoNothing: true,
		}).
		Create(model).Error
}

func (r *GormScheduleConfigRepo) Save(ctx context.Context, cfg *domain.ScheduleConfig) error {
	model := scheduleConfigModelFromDomain(cfg)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"daily_limit", "min_gap_minutes", "max_gap_minutes", "timezone", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	if cfg != nil {
		*cfg = *scheduleConfigModelToDomain(model)
	}
	return nil
}
