package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the state of a scheduled send.
type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusScheduled, JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

// CountsTowardQuota reports whether a job occupies a slot of its day's limit.
func (s JobStatus) CountsTowardQuota() bool {
	return s == JobStatusScheduled || s == JobStatusCompleted
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// QuotaJobStatuses are the statuses counted by daily usage.
func QuotaJobStatuses() []JobStatus {
	return []JobStatus{JobStatusScheduled, JobStatusCompleted}
}

// SendJob is the scheduling record of one email. It is the only entity that
// knows the external runner's handle.
type SendJob struct {
	ID             string
	EmailID        string
	SessionID      string
	OrganizationID string
	ScheduledTime  time.Time
	Status         JobStatus
	ExternalJobID  *string
	Error          *string
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
