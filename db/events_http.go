package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	eventsTimeout    = 5 * time.Second
	eventsRetryDelay = 200 * time.Millisecond
)

// HTTPEvents talks to an external events backend over four POST endpoints:
// {base}/search, {base}/facets, {base}/count and {base}/sql. Transport
// failures and 5xx responses are retried once; 4xx responses are not.
type HTTPEvents struct {
	base   string
	token  string
	client *http.Client
}

func NewHTTPEvents(base, token string) *HTTPEvents {
	return &HTTPEvents{
		base:   base,
		token:  token,
		client: &http.Client{Timeout: eventsTimeout},
	}
}

type eventFiltersJSON struct {
	Type     string `json:"type,omitempty"`
	Category string `json:"category,omitempty"`
	Source   string `json:"source,omitempty"`
	Since    string `json:"since,omitempty"`
	Until    string `json:"until,omitempty"`
	After    string `json:"after,omitempty"`
	Before   string `json:"before,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

func filtersJSON(filters EventFilters) eventFiltersJSON {
	out := eventFiltersJSON{
		Type:     filters.Type,
		Category: filters.Category,
		Source:   filters.Source,
		After:    filters.After,
		Before:   filters.Before,
		Limit:    filters.Limit,
		Offset:   filters.Offset,
	}
	if !filters.Since.IsZero() {
		out.Since = filters.Since.UTC().Format(time.RFC3339)
	}
	if !filters.Until.IsZero() {
		out.Until = filters.Until.UTC().Format(time.RFC3339)
	}
	return out
}

func (h *HTTPEvents) Search(ctx context.Context, filters EventFilters, scope string) (EventPage, error) {
	body := map[string]any{"filters": filtersJSON(filters)}
	if scope != "" {
		body["scope"] = scope
	}

	var out struct {
		Data    []map[string]any `json:"data"`
		Total   int              `json:"total"`
		Limit   int              `json:"limit"`
		Offset  int              `json:"offset"`
		HasMore bool             `json:"hasMore"`
	}
	if err := h.post(ctx, "/search", body, &out); err != nil {
		return EventPage{}, err
	}
	return EventPage{Data: out.Data, Total: out.Total, Limit: out.Limit, Offset: out.Offset, HasMore: out.HasMore}, nil
}

func (h *HTTPEvents) Facets(ctx context.Context, dimension string, filters EventFilters, scope string) (FacetPage, error) {
	if dimension == "" {
		dimension = "type"
	}
	body := map[string]any{"dimension": dimension, "filters": filtersJSON(filters)}
	if scope != "" {
		body["scope"] = scope
	}

	var out struct {
		Facets []Facet `json:"facets"`
		Total  int     `json:"total"`
	}
	if err := h.post(ctx, "/facets", body, &out); err != nil {
		return FacetPage{}, err
	}
	return FacetPage{Facets: out.Facets, Total: out.Total}, nil
}

func (h *HTTPEvents) Count(ctx context.Context, filters EventFilters, groupBy, scope string) (CountResult, error) {
	body := map[string]any{"filters": filtersJSON(filters)}
	if groupBy != "" {
		body["groupBy"] = groupBy
	}
	if scope != "" {
		body["scope"] = scope
	}

	var out struct {
		Count  int            `json:"count"`
		Groups map[string]int `json:"groups"`
	}
	if err := h.post(ctx, "/count", body, &out); err != nil {
		return CountResult{}, err
	}
	return CountResult{Count: out.Count, Groups: out.Groups}, nil
}

func (h *HTTPEvents) SQL(ctx context.Context, q string, params []any) (SQLResult, error) {
	body := map[string]any{"query": q}
	if len(params) > 0 {
		body["params"] = params
	}

	var out struct {
		Data    []map[string]any `json:"data"`
		Rows    int              `json:"rows"`
		Elapsed float64          `json:"elapsed"`
	}
	if err := h.post(ctx, "/sql", body, &out); err != nil {
		return SQLResult{}, err
	}
	return SQLResult{
		Data:    out.Data,
		Rows:    out.Rows,
		Elapsed: time.Duration(out.Elapsed * float64(time.Millisecond)),
	}, nil
}

// post sends one JSON request with a single retry on transport errors and
// 5xx responses.
func (h *HTTPEvents) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(eventsRetryDelay):
			}
		}

		status, data, err := h.postOnce(ctx, path, payload)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("events backend returned %d", status)
			continue
		}
		if status >= 400 {
			return fmt.Errorf("events backend returned %d: %s", status, string(data))
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode events response: %w", err)
		}
		return nil
	}
	return lastErr
}

func (h *HTTPEvents) postOnce(ctx context.Context, path string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}
