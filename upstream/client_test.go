package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dot-do/gateway/envelope"
)

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/1", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("view"))
		assert.Equal(t, "Bearer up-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 1, "name": "Ada"}`))
	}))
	defer server.Close()

	client := NewClient(0)
	query := url.Values{"view": []string{"full"}}
	result, err := client.GetJSON(context.Background(), server.URL, "/users/1", query, "up-token")
	require.NoError(t, err)

	doc, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", doc["name"])
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[1, 2, 3]`))
	}))
	defer server.Close()

	client := NewClient(time.Second)
	result, err := client.GetJSON(context.Background(), server.URL, "/list", nil, "")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, result)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetJSON_ClientErrorPreservesStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(time.Second)
	_, err := client.GetJSON(context.Background(), server.URL, "/users/999", nil, "")
	require.Error(t, err)

	typed := envelope.AsError(err)
	assert.Equal(t, envelope.CodeProxyError, typed.Code)
	assert.Equal(t, http.StatusNotFound, typed.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx answers are not retried")
}

func TestGetJSON_ExhaustedRetriesPreserveStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(time.Second)
	_, err := client.GetJSON(context.Background(), server.URL, "/flaky", nil, "")
	require.Error(t, err)

	typed := envelope.AsError(err)
	assert.Equal(t, envelope.CodeProxyError, typed.Code)
	assert.Equal(t, http.StatusBadGateway, typed.Status)
}

func TestGetJSON_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`<html>definitely not json</html>`))
	}))
	defer server.Close()

	client := NewClient(time.Second)
	_, err := client.GetJSON(context.Background(), server.URL, "/busted", nil, "")
	require.Error(t, err)

	typed := envelope.AsError(err)
	assert.Equal(t, envelope.CodeUpstreamInvalidJSON, typed.Code)
	assert.Equal(t, http.StatusBadGateway, typed.Status)
}

func TestGetJSON_TransportError(t *testing.T) {
	client := NewClient(200 * time.Millisecond)
	_, err := client.GetJSON(context.Background(), "http://127.0.0.1:1", "/", nil, "")
	require.Error(t, err)

	typed := envelope.AsError(err)
	assert.Equal(t, envelope.CodeProxyError, typed.Code)
}

func TestValidatePath(t *testing.T) {
	valid := []string{"", "/", "/users", "/users/1/repos", "/a.b/c-d_e"}
	for _, p := range valid {
		assert.NoError(t, ValidatePath(p), p)
	}

	invalid := []string{
		"/users/../admin",
		"/./secret",
		"/users/%2e%2e/admin",
		"/users/%2F../x",
		"/users\\admin",
		"/users/%5Cadmin",
	}
	for _, p := range invalid {
		err := ValidatePath(p)
		require.Error(t, err, p)
		assert.Equal(t, envelope.CodeInvalidPath, envelope.AsError(err).Code, p)
	}
}

func TestCheckAllowed(t *testing.T) {
	allow := []string{"/users", "/repos/"}

	assert.NoError(t, CheckAllowed("/users", allow))
	assert.NoError(t, CheckAllowed("/users/1", allow))
	assert.NoError(t, CheckAllowed("/repos/octocat", allow))

	err := CheckAllowed("/admin", allow)
	require.Error(t, err)
	assert.Equal(t, envelope.CodePathNotAllowed, envelope.AsError(err).Code)

	err = CheckAllowed("/usersextra", allow)
	require.Error(t, err, "prefix matches stop at segment boundaries")

	assert.NoError(t, CheckAllowed("/anything", nil), "empty allow-list allows everything")
}
