// Package ratelimit throttles requests per client key. Two bindings exist:
// an in-process token bucket for single instances and a Redis fixed window
// shared across replicas. Both report enough state for the X-RateLimit
// response headers.
package ratelimit

import (
	"context"
	"time"
)

// Result describes one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long the client should wait, set when denied.
	RetryAfter time.Duration
	// Reset is when the current window ends.
	Reset time.Time
}

// Limiter admits or rejects one request for a client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	Close() error
}

// Key builds the limiter key for a tenant and client address.
func Key(tenant, addr string) string {
	return tenant + ":" + addr
}
