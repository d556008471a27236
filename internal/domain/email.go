package domain

import (
	"fmt"
	"strings"
	"time"
)

// SendStatus is the delivery state of a generated campaign email.
type SendStatus string

const (
	SendStatusPending   SendStatus = "pending"
	SendStatusScheduled SendStatus = "scheduled"
	SendStatusSent      SendStatus = "sent"
	SendStatusPaused    SendStatus = "paused"
	SendStatusCancelled SendStatus = "cancelled"
	SendStatusFailed    SendStatus = "failed"
)

func (s SendStatus) String() string { return string(s) }

func (s SendStatus) IsValid() bool {
	switch s {
	case SendStatusPending, SendStatusScheduled, SendStatusSent, SendStatusPaused, SendStatusCancelled, SendStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the email can no longer be scheduled.
func (s SendStatus) IsTerminal() bool {
	switch s {
	case SendStatusSent, SendStatusCancelled, SendStatusFailed:
		return true
	}
	return false
}

func ParseSendStatusFromString(s string) (SendStatus, error) {
	st := SendStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid send status %q", ErrValidation, s)
	}
	return st, nil
}

// NonTerminalSendStatuses lists the states a campaign cancel moves to cancelled.
func NonTerminalSendStatuses() []SendStatus {
	return []SendStatus{SendStatusPending, SendStatusScheduled, SendStatusPaused}
}

// EmailRecord is one generated email of a campaign session. The scheduler
// only ever changes SendStatus and SentAt.
type EmailRecord struct {
	ID             string
	SessionID      string
	OrganizationID string
	DonorID        string
	Recipient      string
	Subject        string
	SendStatus     SendStatus
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
