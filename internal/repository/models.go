package repository

import (
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
)

// ScheduleConfigModel is the persistence model for schedule_configs.
type ScheduleConfigModel struct {
	OrganizationID string `gorm:"type:varchar(64);primaryKey"`
	DailyLimit     int    `gorm:"not null"`
	MinGapMinutes  int    `gorm:"not null"`
	MaxGapMinutes  int    `gorm:"not null"`
	Timezone       string `gorm:"type:varchar(64);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ScheduleConfigModel) TableName() string {
	return "schedule_configs"
}

// CampaignSessionModel is the persistence model for campaign_sessions.
type CampaignSessionModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	OrganizationID string                `gorm:"type:varchar(64);not null"`
	Name           string                `gorm:"type:varchar(255);not null"`
	Status         domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	CreatedBy      string                `gorm:"type:varchar(64);not null"`
	ScheduledBy    *string               `gorm:"type:varchar(64)"`
	ScheduledAt    *time.Time            `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CampaignSessionModel) TableName() string {
	return "campaign_sessions"
}

// EmailRecordModel is the persistence model for campaign_emails.
type EmailRecordModel struct {
	ID             string            `gorm:"type:uuid;primaryKey"`
	SessionID      string            `gorm:"type:uuid;not null"`
	OrganizationID string            `gorm:"type:varchar(64);not null"`
	DonorID        string            `gorm:"type:varchar(64);not null"`
	Recipient      string            `gorm:"type:varchar(255);not null"`
	Subject        string            `gorm:"type:text;not null"`
	SendStatus     domain.SendStatus `gorm:"type:varchar(20);not null"`
	SentAt         *time.Time        `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (EmailRecordModel) TableName() string {
	return "campaign_emails"
}

// SendJobModel is the persistence model for send_jobs.
type SendJobModel struct {
	ID             string           `gorm:"type:uuid;primaryKey"`
	EmailID        string           `gorm:"type:uuid;not null"`
	SessionID      string           `gorm:"type:uuid;not null"`
	OrganizationID string           `gorm:"type:varchar(64);not null"`
	ScheduledTime  time.Time        `gorm:"type:timestamptz;not null"`
	Status         domain.JobStatus `gorm:"type:varchar(20);not null"`
	ExternalJobID  *string          `gorm:"type:varchar(255)"`
	Error          *string          `gorm:"type:text"`
	CompletedAt    *time.Time       `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (SendJobModel) TableName() string {
	return "send_jobs"
}

func scheduleConfigModelFromDomain(c *domain.ScheduleConfig) *ScheduleConfigModel {
	if c == nil {
		return nil
	}

	return &ScheduleConfigModel{
		OrganizationID: c.OrganizationID,
		DailyLimit:     c.DailyLimit,
		MinGapMinutes:  c.MinGapMinutes,
		MaxGapMinutes:  c.MaxGapMinutes,
		Timezone:       c.Timezone,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func scheduleConfigModelToDomain(m *ScheduleConfigModel) *domain.ScheduleConfig {
	if m == nil {
		return nil
	}

	return &domain.ScheduleConfig{
		OrganizationID: m.OrganizationID,
		DailyLimit:     m.DailyLimit,
		MinGapMinutes:  m.MinGapMinutes,
		MaxGapMinutes:  m.MaxGapMinutes,
		Timezone:       m.Timezone,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func campaignModelFromDomain(c *domain.CampaignSession) *CampaignSessionModel {
	if c == nil {
		return nil
	}

	return &CampaignSessionModel{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		Name:           c.Name,
		Status:         c.Status,
		CreatedBy:      c.CreatedBy,
		ScheduledBy:    c.ScheduledBy,
		ScheduledAt:    c.ScheduledAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignSessionModel) *domain.CampaignSession {
	if m == nil {
		return nil
	}

	return &domain.CampaignSession{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Status:         m.Status,
		CreatedBy:      m.CreatedBy,
		ScheduledBy:    m.ScheduledBy,
		ScheduledAt:    m.ScheduledAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func emailModelToDomain(m *EmailRecordModel) *domain.EmailRecord {
	if m == nil {
		return nil
	}

	return &domain.EmailRecord{
		ID:             m.ID,
		SessionID:      m.SessionID,
		OrganizationID: m.OrganizationID,
		DonorID:        m.DonorID,
		Recipient:      m.Recipient,
		Subject:        m.Subject,
		SendStatus:     m.SendStatus,
		SentAt:         m.SentAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func sendJobModelFromDomain(j *domain.SendJob) *SendJobModel {
	if j == nil {
		return nil
	}

	return &SendJobModel{
		ID:             j.ID,
		EmailID:        j.EmailID,
		SessionID:      j.SessionID,
		OrganizationID: j.OrganizationID,
		ScheduledTime:  j.ScheduledTime,
		Status:         j.Status,
		ExternalJobID:  j.ExternalJobID,
		Error:          j.Error,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func sendJobModelToDomain(m *SendJobModel) *domain.SendJob {
	if m == nil {
		return nil
	}

	return &domain.SendJob{
		ID:             m.ID,
		EmailID:        m.EmailID,
		SessionID:      m.SessionID,
		OrganizationID: m.OrganizationID,
		ScheduledTime:  m.ScheduledTime,
		Status:         m.Status,
		ExternalJobID:  m.ExternalJobID,
		Error:          m.Error,
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
