package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
)

// StatusCount is one row of a GROUP BY status aggregate.
type StatusCount struct {
	Status string `gorm:"column:status"`
	Count  int    `gorm:"column:count"`
}

// DayCount is the number of quota-counted jobs on one local calendar day.
type DayCount struct {
	Day   string `gorm:"column:day"`
	Count int    `gorm:"column:count"`
}

// ScheduledEmailRow joins an email with its most recent send job.
type ScheduledEmailRow struct {
	EmailID       string            `gorm:"column:email_id"`
	DonorID       string            `gorm:"column:donor_id"`
	Recipient     string            `gorm:"column:recipient"`
	Subject       string            `gorm:"column:subject"`
	SendStatus    domain.SendStatus `gorm:"column:send_status"`
	SendJobID     string            `gorm:"column:send_job_id"`
	JobStatus     domain.JobStatus  `gorm:"column:job_status"`
	ScheduledTime time.Time         `gorm:"column:scheduled_time"`
	SentAt        *time.Time        `gorm:"column:sent_at"`
	Error         *string           `gorm:"column:error"`
}

type ScheduleConfigRepository interface {
	GetByOrganization(ctx context.Context, organizationID string) (*domain.ScheduleConfig, error)
	// CreateIfAbsent inserts cfg unless a row exists; it never fails on a concurrent insert.
	CreateIfAbsent(ctx context.Context, cfg *domain.ScheduleConfig) error
	Save(ctx context.Context, cfg *domain.ScheduleConfig) error
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.CampaignSession) error
	GetByID(ctx context.Context, id string, organizationID string) (*domain.CampaignSession, error)
	UpdateStatus(ctx context.Context, id string, organizationID string, status domain.CampaignStatus) error
	MarkScheduled(ctx context.Context, id string, organizationID string, actorID string, at time.Time) error
}

type EmailRepository interface {
	GetByID(ctx context.Context, id string, organizationID string) (*domain.EmailRecord, error)
	// ListBySessionAndStatus returns emails in stable scheduling order (created_at, id).
	ListBySessionAndStatus(ctx context.Context, sessionID string, organizationID string, status domain.SendStatus) ([]domain.EmailRecord, error)
	// TransitionStatus moves one email from -> to and reports whether a row changed.
	TransitionStatus(ctx context.Context, id string, organizationID string, from domain.SendStatus, to domain.SendStatus) (bool, error)
	TransitionSessionStatus(ctx context.Context, sessionID string, organizationID string, from []domain.SendStatus, to domain.SendStatus) (int64, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
	CountBySessionGroupedByStatus(ctx context.Context, sessionID string, organizationID string) ([]StatusCount, error)
}

type SendJobRepository interface {
	Create(ctx context.Context, job *domain.SendJob) error
	GetByID(ctx context.Context, id string) (*domain.SendJob, error)
	// ListBySessionAndStatus returns jobs ordered by scheduled time.
	ListBySessionAndStatus(ctx context.Context, sessionID string, organizationID string, status domain.JobStatus) ([]domain.SendJob, error)
	// CountBySessionAndStatus counts one campaign's jobs in status.
	CountBySessionAndStatus(ctx context.Context, sessionID string, organizationID string, status domain.JobStatus) (int64, error)
	SetExternalJobID(ctx context.Context, id string, externalJobID string) error
	// TransitionStatus moves one job from -> to and reports whether a row changed.
	TransitionStatus(ctx context.Context, id string, from domain.JobStatus, to domain.JobStatus, errMsg *string) (bool, error)
	Complete(ctx context.Context, id string, completedAt time.Time) (bool, error)
	// LockForDelivery row-locks the job; call it inside WithinTx.
	LockForDelivery(ctx context.Context, id string) (*domain.SendJob, error)
	// CountInRange counts quota-counted jobs of an organization with from <= scheduled_time < to.
	CountInRange(ctx context.Context, organizationID string, from time.Time, to time.Time) (int64, error)
	// CountByLocalDay groups quota-counted jobs at or after from by calendar day in timezone.
	CountByLocalDay(ctx context.Context, organizationID string, timezone string, from time.Time) ([]DayCount, error)
	// ListOrphaned returns scheduled jobs without an external handle created before the cutoff.
	ListOrphaned(ctx context.Context, createdBefore time.Time, limit int) ([]domain.SendJob, error)
	ListScheduleRows(ctx context.Context, sessionID string, organizationID string) ([]ScheduledEmailRow, error)
}

// Store bundles the repositories and runs units of work atomically.
type Store interface {
	Configs() ScheduleConfigRepository
	Campaigns() CampaignRepository
	Emails() EmailRepository
	SendJobs() SendJobRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
