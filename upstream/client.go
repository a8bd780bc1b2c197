// Package upstream fetches JSON from the services behind proxy routes and
// mashup sources. Failures come back as typed gateway errors so handlers
// can hand them straight to the envelope.
package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dot-do/gateway/envelope"
)

const (
	// DefaultTimeout bounds one upstream request.
	DefaultTimeout = 5 * time.Second

	retryDelay = 200 * time.Millisecond
)

// Client fetches JSON documents from upstream services. Transport failures
// and 5xx responses are retried once; 4xx responses are returned as is.
type Client struct {
	client *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{client: &http.Client{Timeout: timeout}}
}

// GetJSON fetches base+path with the query attached and decodes the JSON
// body. A non-2xx upstream answer becomes a PROXY_ERROR carrying the
// upstream status; a 2xx answer that fails to parse becomes
// UPSTREAM_INVALID_JSON.
func (c *Client) GetJSON(ctx context.Context, base, path string, query url.Values, token string) (any, error) {
	target := strings.TrimSuffix(base, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, envelope.NewErrorf(envelope.CodeProxyError, "upstream request cancelled: %v", ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		status, body, err := c.getOnce(ctx, target, token)
		if err != nil {
			lastErr = envelope.NewErrorf(envelope.CodeProxyError, "upstream request failed: %v", err)
			continue
		}
		if status >= 500 {
			lastErr = envelope.NewErrorf(envelope.CodeProxyError, "upstream returned %d", status).WithStatus(status)
			continue
		}
		if status >= 400 {
			return nil, envelope.NewErrorf(envelope.CodeProxyError, "upstream returned %d", status).WithStatus(status)
		}

		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, envelope.NewError(envelope.CodeUpstreamInvalidJSON, "upstream returned invalid JSON")
		}
		return decoded, nil
	}
	return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, target, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
