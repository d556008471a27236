package provider

import (
	"context"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
)

// Mailer is the outbound email transport. Content is owned upstream; the
// mailer only receives what it needs to address and identify the email.
type Mailer interface {
	Send(ctx context.Context, email domain.EmailRecord) (*SendResult, error)
}

// SendResult is what the transport reported on acceptance.
type SendResult struct {
	StatusCode int
	MessageID  string
}
