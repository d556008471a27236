package ratelimit

import "context"

// RateLimiter caps outbound sends per organization per second.
type RateLimiter interface {
	Allow(ctx context.Context, organizationID string) (bool, error)
	Wait(ctx context.Context, organizationID string) error
}
