package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"gorm.io/gorm"
)

type GormEmailRepo struct {
	db *gorm.DB
}

func NewGormEmailRepo(db *gorm.DB) *GormEmailRepo {
	return &GormEmailRepo{db: db}
}

func (r *GormEmailRepo) GetByID(ctx context.Context, id string, organizationID string) (*domain.EmailRecord, error) {
	var model EmailRecordModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", id, organizationID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return emailModelToDomain(&model), nil
}

func (r *GormEmailRepo) ListBySessionAndStatus(
	ctx context.Context,
	sessionID string,
	organizationID string,
	status domain.SendStatus,
) ([]domain.EmailRecord, error) {
	var models []EmailRecordModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND organization_id = ? AND send_status = ?", sessionID, organizationID, status).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	emails := make([]domain.EmailRecord, 0, len(models))
	for i := range models {
		emails = append(emails, *emailModelToDomain(&models[i]))
	}
	return emails, nil
}

func (r *GormEmailRepo) TransitionStatus(
	ctx context.Context,
	id string,
	organizationID string,
	from domain.SendStatus,
	to domain.SendStatus,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailRecordModel{}).
		Where("id = ? AND organization_id = ? AND send_status = ?", id, organizationID, from).
		Update("send_status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormEmailRepo) TransitionSessionStatus(
	ctx context.Context,
	sessionID string,
	organizationID string,
	from []domain.SendStatus,
	to domain.SendStatus,
) (int64, error) {
	if len(from) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Model(&EmailRecordModel{}).
		Where("session_id = ? AND organization_id = ? AND send_status IN ?", sessionID, organizationID, from).
		Update("send_status", to)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormEmailRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailRecordModel{}).
		Where("id = ? AND send_status = ?", id, domain.SendStatusScheduled).
		Updates(map[string]any{
			"send_status": domain.SendStatusSent,
			"sent_at":     sentAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormEmailRepo) CountBySessionGroupedByStatus(ctx context.Context, sessionID string, organizationID string) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&EmailRecordModel{}).
		Select("send_status AS status, COUNT(*) AS count").
		Where("session_id = ? AND organization_id = ?", sessionID, organizationID).
		Group("send_status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
