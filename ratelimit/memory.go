package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per client key. Buckets refill at
// limit/window and idle entries are pruned so the map stays bounded.
type MemoryLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	visitors    map[string]*visitor
	lastCleanup time.Time
}

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		limit:       limit,
		window:      window,
		visitors:    make(map[string]*visitor),
		lastCleanup: time.Now(),
	}
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.cleanup(now)

	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rate.Every(m.window/time.Duration(m.limit)), m.limit)}
		m.visitors[key] = v
	}
	v.lastSeen = now

	result := Result{Limit: m.limit}
	if v.lim.Allow() {
		result.Allowed = true
		result.Remaining = remainingTokens(v.lim)
		result.Reset = now.Add(m.window)
		return result, nil
	}

	// Peek at the next token without consuming it.
	r := v.lim.Reserve()
	result.RetryAfter = r.Delay()
	r.Cancel()
	result.Reset = now.Add(result.RetryAfter)
	return result, nil
}

func (m *MemoryLimiter) Close() error { return nil }

func remainingTokens(lim *rate.Limiter) int {
	tokens := int(lim.Tokens())
	if tokens < 0 {
		return 0
	}
	return tokens
}

// cleanup drops buckets idle for several windows. Runs at most once per
// window, under the lock.
func (m *MemoryLimiter) cleanup(now time.Time) {
	if now.Sub(m.lastCleanup) < m.window {
		return
	}
	m.lastCleanup = now
	idle := 3 * m.window
	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) > idle {
			delete(m.visitors, key)
		}
	}
}
