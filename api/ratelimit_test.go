package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dot-do/gateway/config"
	"github.com/dot-do/gateway/ratelimit"
)

func newLimitedGateway(t *testing.T, limit int) *testGateway {
	t.Helper()

	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{
		Enabled: true,
		Limit:   limit,
		Window:  time.Minute,
		Allow:   []string{"/health"},
	}
	return newTestGatewayWith(t, Options{
		Config:  cfg,
		Limiter: ratelimit.NewMemoryLimiter(limit, time.Minute),
	})
}

func TestRateLimitHeaders(t *testing.T) {
	tg := newLimitedGateway(t, 2)

	rec := tg.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	rec = tg.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitDenies(t *testing.T) {
	tg := newLimitedGateway(t, 2)

	tg.do(http.MethodGet, "/", "")
	tg.do(http.MethodGet, "/", "")

	rec := tg.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	body := decodeBody(t, rec)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))
	errObj := body["error"].(map[string]any)
	assert.Greater(t, errObj["retryAfter"].(float64), float64(0))
}

func TestRateLimitAllowsExemptPaths(t *testing.T) {
	tg := newLimitedGateway(t, 1)

	tg.do(http.MethodGet, "/", "")
	rec := tg.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = tg.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitKeysPerTenant(t *testing.T) {
	tg := newLimitedGateway(t, 1)

	tg.do(http.MethodGet, "/", "")
	rec := tg.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = tg.do(http.MethodGet, "/", "", "X-Tenant", "acme")
	assert.Equal(t, http.StatusOK, rec.Code)
}
