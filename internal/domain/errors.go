package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPrecondition       = errors.New("precondition failed")
	ErrExternalDependency = errors.New("external dependency error")
	ErrPersistence        = errors.New("persistence error")
)

// kindError is a named error that also matches its kind sentinel.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

var (
	ErrCampaignNotFound   error = &kindError{kind: ErrNotFound, msg: "campaign not found"}
	ErrNoEmailsToSchedule error = &kindError{kind: ErrPrecondition, msg: "no approved emails to schedule"}
	ErrNothingToPause     error = &kindError{kind: ErrPrecondition, msg: "no scheduled emails to pause"}
	ErrNothingToResume    error = &kindError{kind: ErrPrecondition, msg: "no paused emails to resume"}
	ErrNoPendingEmails    error = &kindError{kind: ErrPrecondition, msg: "no pending emails to allocate"}
)

// PersistenceFailure reports a failed storage operation without the driver detail.
func PersistenceFailure(op string) error {
	return fmt.Errorf("%w: %s failed", ErrPersistence, op)
}

// IsKnown reports whether err already carries one of the error kinds.
func IsKnown(err error) bool {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrPrecondition, ErrExternalDependency, ErrPersistence} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
