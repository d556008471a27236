package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Failure reasons reported on email_deliveries_failed_total.
const (
	ReasonTransient = "transient_error"
	ReasonPermanent = "permanent_error"
)

// MailerError is a failed mailer call. Sends are never retried; Transient
// only classifies the outcome (timeouts, 429, 5xx).
type MailerError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *MailerError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := "mailer error"
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MailerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// rejected builds a permanent error for an email the mailer refused locally.
func rejected(format string, args ...any) *MailerError {
	return &MailerError{Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err came from a condition that may clear on
// its own.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var mailerErr *MailerError
	if errors.As(err, &mailerErr) {
		return mailerErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// FailureReason maps a send error to its metrics label.
func FailureReason(err error) string {
	if IsTransient(err) {
		return ReasonTransient
	}
	return ReasonPermanent
}
