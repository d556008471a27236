package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus mirrors the lifecycle of a campaign session.
type CampaignStatus string

const (
	CampaignStatusIdle       CampaignStatus = "idle"
	CampaignStatusScheduling CampaignStatus = "scheduling"
	CampaignStatusActive     CampaignStatus = "active"
	CampaignStatusPaused     CampaignStatus = "paused"
	CampaignStatusCancelled  CampaignStatus = "cancelled"
	CampaignStatusCompleted  CampaignStatus = "completed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusIdle, CampaignStatusScheduling, CampaignStatusActive,
		CampaignStatusPaused, CampaignStatusCancelled, CampaignStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignStatusIdle:
		return next == CampaignStatusScheduling || next == CampaignStatusCancelled
	case CampaignStatusScheduling:
		return next == CampaignStatusActive || next == CampaignStatusIdle ||
			next == CampaignStatusPaused || next == CampaignStatusCompleted
	case CampaignStatusActive:
		return next == CampaignStatusPaused || next == CampaignStatusCancelled ||
			next == CampaignStatusCompleted || next == CampaignStatusScheduling
	case CampaignStatusPaused:
		return next == CampaignStatusScheduling || next == CampaignStatusActive || next == CampaignStatusCancelled
	case CampaignStatusCompleted:
		// Emails added after completion can be scheduled again.
		return next == CampaignStatusScheduling
	}
	return false
}

func ParseCampaignStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

// CampaignSession is a batch of generated emails created for one outreach effort.
type CampaignSession struct {
	ID             string
	OrganizationID string
	Name           string
	Status         CampaignStatus
	CreatedBy      string
	ScheduledBy    *string
	ScheduledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
