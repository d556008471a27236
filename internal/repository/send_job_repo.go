package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormSendJobRepo struct {
	db *gorm.DB
}

func NewGormSendJobRepo(db *gorm.DB) *GormSendJobRepo {
	return &GormSendJobRepo{db: db}
}

func (r *GormSendJobRepo) Create(ctx context.Context, job *domain.SendJob) error {
	model := sendJobModelFromDomain(job)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if job != nil {
		*job = *sendJobModelToDomain(model)
	}
	return nil
}

func (r *GormSendJobRepo) GetByID(ctx context.Context, id string) (*domain.SendJob, error) {
	var model SendJobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sendJobModelToDomain(&model), nil
}

func (r *GormSendJobRepo) ListBySessionAndStatus(
	ctx context.Context,
	sessionID string,
	organizationID string,
	status domain.JobStatus,
) ([]domain.SendJob, error) {
	var models []SendJobModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND organization_id = ? AND status = ?", sessionID, organizationID, status).
		Order("scheduled_time ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.SendJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *sendJobModelToDomain(&models[i]))
	}
	return jobs, nil
}

func (r *GormSendJobRepo) CountBySessionAndStatus(
	ctx context.Context,
	sessionID string,
	organizationID string,
	status domain.JobStatus,
) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SendJobModel{}).
		Where("session_id = ? AND organization_id = ? AND status = ?", sessionID, organizationID, status).
		Count(&count).Error
	return count, err
}

func (r *GormSendJobRepo) SetExternalJobID(ctx context.Context, id string, externalJobID string) error {
	result := r.db.WithContext(ctx).
		Model(&SendJobModel{}).
		Where("id = ?", id).
		Update("external_job_id", externalJobID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSendJobRepo) TransitionStatus(
	ctx context.Context,
	id string,
	from domain.JobStatus,
	to domain.JobStatus,
	errMsg *string,
) (bool, error) {
	updates := map[string]any{"status": to}
	if errMsg != nil {
		updates["error"] = *errMsg
	}

	result := r.db.WithContext(ctx).
		Model(&SendJobModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormSendJobRepo) Complete(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&SendJobModel{}).
		Where("id = ? AND status = ?", id, domain.JobStatusScheduled).
		Updates(map[string]any{
			"status":       domain.JobStatusCompleted,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormSendJobRepo) LockForDelivery(ctx context.Context, id string) (*domain.SendJob, error) {
	var model SendJobModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sendJobModelToDomain(&model), nil
}

func (r *GormSendJobRepo) CountInRange(ctx context.Context, organizationID string, from time.Time, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SendJobModel{}).
		Where("organization_id = ? AND status IN ? AND scheduled_time >= ? AND scheduled_time < ?",
			organizationID, domain.QuotaJobStatuses(), from, to).
		Count(&count).Error
	return count, err
}

func (r *GormSendJobRepo) CountByLocalDay(
	ctx context.Context,
	organizationID string,
	timezone string,
	from time.Time,
) ([]DayCount, error) {
	var counts []DayCount
	err := r.db.WithContext(ctx).
		Model(&SendJobModel{}).
		Select("to_char(scheduled_time AT TIME ZONE ?, 'YYYY-MM-DD') AS day, COUNT(*) AS count", timezone).
		Where("organization_id = ? AND status IN ? AND scheduled_time >= ?",
			organizationID, domain.QuotaJobStatuses(), from).
		Group("day").
		Order("day ASC").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormSendJobRepo) ListOrphaned(ctx context.Context, createdBefore time.Time, limit int) ([]domain.SendJob, error) {
	var models []SendJobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND external_job_id IS NULL AND created_at < ?", domain.JobStatusScheduled, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.SendJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *sendJobModelToDomain(&models[i]))
	}
	return jobs, nil
}

const scheduleRowsQuery = `
SELECT * FROM (
	SELECT DISTINCT ON (j.email_id)
		e.id AS email_id,
		e.donor_id,
		e.recipient,
		e.subject,
		e.send_status,
		j.id AS send_job_id,
		j.status AS job_status,
		j.scheduled_time,
		COALESCE(j.completed_at, e.sent_at) AS sent_at,
		j.error
	FROM send_jobs j
	JOIN campaign_emails e ON e.id = j.email_id AND e.organization_id = j.organization_id
	WHERE j.session_id = ? AND j.organization_id = ?
	ORDER BY j.email_id, j.created_at DESC
) latest
ORDER BY scheduled_time ASC, email_id ASC`

func (r *GormSendJobRepo) ListScheduleRows(ctx context.Context, sessionID string, organizationID string) ([]ScheduledEmailRow, error) {
	var rows []ScheduledEmailRow
	if err := r.db.WithContext(ctx).Raw(scheduleRowsQuery, sessionID, organizationID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
