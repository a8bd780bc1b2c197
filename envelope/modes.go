package envelope

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// redactedHeaders are never echoed into a debug block.
var redactedHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
}

// BuildDebug assembles the ?debug block from request facts. Headers are
// included when includeHeaders is set, with authorization and cookie values
// replaced by a redaction marker.
func BuildDebug(method, requestURL string, headers http.Header, includeHeaders bool, start time.Time) *DebugInfo {
	info := &DebugInfo{
		Timing: DebugTiming{
			Duration:  fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
			Timestamp: start.UTC().Format(time.RFC3339),
		},
		Request: DebugRequest{
			Method: method,
			URL:    requestURL,
		},
	}

	if includeHeaders && headers != nil {
		redacted := make(map[string]string, len(headers))
		for name, values := range headers {
			if len(values) == 0 {
				continue
			}
			if _, secret := redactedHeaders[strings.ToLower(name)]; secret {
				redacted[name] = "[redacted]"
				continue
			}
			redacted[name] = values[0]
		}
		info.Request.Headers = redacted
	}

	return info
}

// DomainRewriter implements the ?domains transform: path-style URLs
// (https://host/segment/...) become subdomain-style
// (https://segment.suffix/...). Tenant-prefixed paths are left alone.
type DomainRewriter struct {
	// Suffix is the base domain for rewritten hosts. When empty, the URL's
	// own host (ports stripped) is used.
	Suffix string

	// Overrides maps a path segment to a subdomain that differs from the
	// segment itself.
	Overrides map[string]string
}

// Apply rewrites every URL in the envelope's links, actions, and options.
func (r DomainRewriter) Apply(e *Envelope) {
	rewriteMap(e.Links, r)
	rewriteMap(e.Actions, r)
	rewriteMap(e.Options, r)
}

func rewriteMap(m map[string]string, r DomainRewriter) {
	for k, v := range m {
		m[k] = r.Rewrite(v)
	}
}

// Rewrite transforms one URL; non-URL values and tenant-prefixed paths
// pass through unchanged.
func (r DomainRewriter) Rewrite(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return raw
	}

	trimmed := strings.TrimPrefix(u.Path, "/")
	if trimmed == "" || strings.HasPrefix(trimmed, "~") {
		return raw
	}

	segment, rest, _ := strings.Cut(trimmed, "/")
	if segment == "" {
		return raw
	}

	sub := segment
	if override, ok := r.Overrides[segment]; ok {
		sub = override
	}

	suffix := r.Suffix
	if suffix == "" {
		suffix = stripHostPort(u.Host)
	}

	u.Host = sub + "." + suffix
	if rest == "" {
		u.Path = "/"
	} else {
		u.Path = "/" + rest
	}
	return u.String()
}

func stripHostPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		return host[:idx]
	}
	return host
}

// CollectionItem is the structured element of an ?array collection view.
// $id is the absolute entity URL; id is the typed identifier.
type CollectionItem struct {
	URL  string `json:"$id"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MapView renders collection items as the default displayName -> URL map.
func MapView(items []CollectionItem) map[string]string {
	m := make(map[string]string, len(items))
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ID
		}
		m[name] = item.URL
	}
	return m
}

// ViewOptions returns the options block advertising the opposite view:
// the map view links to ?array and the array view links back to the map.
func ViewOptions(selfURL string, arrayView bool) map[string]string {
	if arrayView {
		return map[string]string{"map": stripQueryFlag(selfURL, "array")}
	}
	return map[string]string{"array": appendQueryFlag(selfURL, "array")}
}

func appendQueryFlag(rawURL, flag string) string {
	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + flag
	}
	return rawURL + "?" + flag
}

func stripQueryFlag(rawURL, flag string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	values := u.Query()
	values.Del(flag)
	u.RawQuery = values.Encode()
	return u.String()
}
