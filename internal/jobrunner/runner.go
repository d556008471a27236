// Package jobrunner is the delayed-task port used by the dispatch bridge:
// trigger a named task at or after a time, and cancel it by handle.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is returned by Cancel when the runner no longer knows the
// handle, typically because the task already ran.
var ErrJobNotFound = errors.New("job not found")

// TriggerOptions selects when a task runs. RunAt wins over Delay; with
// neither set the task is due immediately.
type TriggerOptions struct {
	RunAt time.Time
	Delay time.Duration
}

// ResolveRunAt returns the absolute due time relative to now.
func (o TriggerOptions) ResolveRunAt(now time.Time) (time.Time, error) {
	if !o.RunAt.IsZero() {
		return o.RunAt.UTC(), nil
	}
	if o.Delay < 0 {
		return time.Time{}, fmt.Errorf("delay must not be negative (got %s)", o.Delay)
	}
	return now.Add(o.Delay).UTC(), nil
}

// Runner triggers and cancels delayed tasks.
type Runner interface {
	Trigger(ctx context.Context, task string, payload any, opts TriggerOptions) (string, error)
	Cancel(ctx context.Context, handle string) error
}
