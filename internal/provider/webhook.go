package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxErrorBodyLen       = 256
	userAgent             = "campaign-dispatch-worker"
)

type webhookRequest struct {
	EmailID        string `json:"emailId"`
	SessionID      string `json:"sessionId"`
	OrganizationID string `json:"organizationId"`
	DonorID        string `json:"donorId,omitempty"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
}

type webhookAccepted struct {
	MessageID string `json:"messageId"`
}

// WebhookMailer posts emails to an HTTP mail gateway. Any 2xx is an
// acceptance; the email id doubles as the idempotency key.
type WebhookMailer struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookMailer(endpoint string) (*WebhookMailer, error) {
	return NewWebhookMailerWithClient(endpoint, resty.New().SetTimeout(defaultWebhookTimeout))
}

func NewWebhookMailerWithClient(endpoint string, client *resty.Client) (*WebhookMailer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0).
		SetHeader("User-Agent", userAgent).
		SetHeader("Content-Type", "application/json")

	return &WebhookMailer{client: client, endpoint: endpoint}, nil
}

func (m *WebhookMailer) Send(ctx context.Context, email domain.EmailRecord) (*SendResult, error) {
	if m == nil || m.client == nil {
		return nil, fmt.Errorf("mailer is not initialized")
	}
	if strings.TrimSpace(email.ID) == "" {
		return nil, rejected("email id is required")
	}
	if strings.TrimSpace(email.Recipient) == "" {
		return nil, rejected("email %s has no recipient", email.ID)
	}

	req := m.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", email.ID).
		SetBody(webhookRequest{
			EmailID:        email.ID,
			SessionID:      email.SessionID,
			OrganizationID: email.OrganizationID,
			DonorID:        email.DonorID,
			To:             email.Recipient,
			Subject:        email.Subject,
		}).
		SetResult(&webhookAccepted{})
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		req.SetHeader("X-Request-ID", correlationID)
	}

	resp, err := req.Post(m.endpoint)
	if err != nil {
		return nil, &MailerError{
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	status := resp.StatusCode()
	if !resp.IsSuccess() {
		return nil, &MailerError{
			StatusCode: status,
			Message:    truncate(strings.TrimSpace(resp.String()), maxErrorBodyLen),
			Transient:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
		}
	}

	result := &SendResult{StatusCode: status}
	if accepted, ok := resp.Result().(*webhookAccepted); ok && accepted.MessageID != "" {
		result.MessageID = accepted.MessageID
	} else {
		result.MessageID = resp.Header().Get("X-Message-ID")
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
