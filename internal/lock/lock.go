// Package lock serializes work on one campaign or organization across
// request handlers and processes.
package lock

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotAcquired is returned when the wait for a lock ends without owning it.
var ErrNotAcquired = errors.New("lock not acquired")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive leases by key. Acquire blocks until the lease is
// granted or ctx ends.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

func CampaignKey(campaignID string) string {
	return fmt.Sprintf("lock:campaign:%s", campaignID)
}

func OrganizationKey(organizationID string) string {
	return fmt.Sprintf("lock:org:%s", organizationID)
}

// ReleaseFunc releases a lease, ignoring errors; the holder logs if it cares.
func ReleaseFunc(ctx context.Context, lease Lease) func() {
	return func() {
		if lease != nil {
			_ = lease.Release(context.WithoutCancel(ctx))
		}
	}
}
