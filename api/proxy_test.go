package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dot-do/gateway/config"
)

// upstreamRecorder captures what the proxied service actually received.
type upstreamRecorder struct {
	mu    sync.Mutex
	path  string
	query url.Values
	auth  string
}

func (u *upstreamRecorder) record(r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.path = r.URL.Path
	u.query = r.URL.Query()
	u.auth = r.Header.Get("Authorization")
}

func (u *upstreamRecorder) last() (string, url.Values, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.path, u.query, u.auth
}

func newProxyGateway(t *testing.T, allow []string) (*testGateway, *upstreamRecorder) {
	t.Helper()

	rec := &upstreamRecorder{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		switch r.URL.Path {
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
		case "/garbled":
			_, _ = w.Write([]byte("pets: 3"))
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"path": r.URL.Path})
		}
	}))
	t.Cleanup(upstream.Close)

	tg := newTestGateway(t, func(cfg *config.GatewayConfig) {
		cfg.Proxies = []config.ProxyRoute{{
			Prefix:   "petstore",
			Upstream: upstream.URL,
			Token:    "s3cret",
			Allow:    allow,
		}}
	})
	return tg, rec
}

func TestProxyForwards(t *testing.T) {
	tg, upstream := newProxyGateway(t, nil)

	rec := tg.do(http.MethodGet, "/petstore/pets?status=available", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "/pets", body["data"].(map[string]any)["path"])

	path, query, auth := upstream.last()
	assert.Equal(t, "/pets", path)
	assert.Equal(t, "available", query.Get("status"))
	assert.Equal(t, "Bearer s3cret", auth)

	rec = tg.do(http.MethodGet, "/petstore", "")
	require.Equal(t, http.StatusOK, rec.Code)
	path, _, _ = upstream.last()
	assert.Equal(t, "/", path, "the bare prefix proxies the upstream root")

	rec = tg.do(http.MethodGet, "/petstore/pets/42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	path, _, _ = upstream.last()
	assert.Equal(t, "/pets/42", path)

	rec = tg.do(http.MethodPost, "/petstore/pets", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "proxies are read-only")
}

func TestProxyStripsModeParams(t *testing.T) {
	tg, upstream := newProxyGateway(t, nil)

	rec := tg.do(http.MethodGet, "/petstore/pets?debug&limit=2&status=sold", "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, query, _ := upstream.last()
	assert.Equal(t, "2", query.Get("limit"), "pagination forwards")
	assert.Equal(t, "sold", query.Get("status"))
	assert.False(t, query.Has("debug"), "response modes are local to the gateway")

	assert.Contains(t, decodeBody(t, rec), "debug", "the mode still shapes the gateway response")
}

func TestProxyPathValidation(t *testing.T) {
	tg, _ := newProxyGateway(t, nil)

	rec := tg.do(http.MethodGet, "/petstore/../etc/passwd", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "INVALID_PATH", errObj["code"])
	assert.Equal(t, "path traversal detected", errObj["message"])

	rec = tg.do(http.MethodGet, "/petstore/%2e%2e/etc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "path contains encoded traversal", decodeBody(t, rec)["error"].(map[string]any)["message"])
}

func TestProxyAllowList(t *testing.T) {
	tg, _ := newProxyGateway(t, []string{"/pets"})

	rec := tg.do(http.MethodGet, "/petstore/pets", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = tg.do(http.MethodGet, "/petstore/pets/42", "")
	assert.Equal(t, http.StatusOK, rec.Code, "children of an allowed path are allowed")

	rec = tg.do(http.MethodGet, "/petstore/admin", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "PATH_NOT_ALLOWED", errObj["code"])
	assert.Equal(t, "path /admin is not on the allow-list", errObj["message"])

	rec = tg.do(http.MethodGet, "/petstore/petstore-admin", "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "prefix matches are segment-wise, not string-wise")
}

func TestProxyUpstreamFailures(t *testing.T) {
	tg, _ := newProxyGateway(t, nil)

	rec := tg.do(http.MethodGet, "/petstore/teapot", "")
	require.Equal(t, http.StatusTeapot, rec.Code, "4xx upstream statuses carry through")
	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "PROXY_ERROR", errObj["code"])
	assert.Equal(t, "upstream returned 418", errObj["message"])

	rec = tg.do(http.MethodGet, "/petstore/boom", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "PROXY_ERROR", errorCode(t, rec))

	rec = tg.do(http.MethodGet, "/petstore/garbled", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	errObj = decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "UPSTREAM_INVALID_JSON", errObj["code"])
	assert.Equal(t, "upstream returned invalid JSON", errObj["message"])
}

func TestProxyOnLanding(t *testing.T) {
	tg, _ := newProxyGateway(t, nil)

	rec := tg.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	discover := decodeBody(t, rec)["discover"].(map[string]any)
	assert.Equal(t, "http://api.test/petstore", discover["petstore"])
}
