package db

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrSQLUnsupported is returned by bindings that cannot run raw queries.
var ErrSQLUnsupported = errors.New("sql queries are not supported by this events binding")

// EventFilters narrows an event query. Zero values mean "no constraint".
// After and Before are ts cursors, exclusive on both ends.
type EventFilters struct {
	Type     string
	Category string
	Source   string
	Since    time.Time
	Until    time.Time
	After    string
	Before   string
	Limit    int
	Offset   int
}

// EventPage is one page of events, newest first.
type EventPage struct {
	Data    []map[string]any
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// Facet is one value bucket of a facet count.
type Facet struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// FacetPage carries the buckets for one dimension plus the overall total.
type FacetPage struct {
	Facets []Facet
	Total  int
}

// CountResult is the result of Count, with per-group counts when a groupBy
// dimension was given.
type CountResult struct {
	Count  int
	Groups map[string]int
}

// SQLResult is the result of a raw query against the events backend.
type SQLResult struct {
	Data    []map[string]any
	Rows    int
	Elapsed time.Duration
}

// EventsBinding is the query contract of the events backend. An empty scope
// means the caller sees everything; a non-empty scope restricts results to
// events whose org field matches.
type EventsBinding interface {
	Search(ctx context.Context, filters EventFilters, scope string) (EventPage, error)
	Facets(ctx context.Context, dimension string, filters EventFilters, scope string) (FacetPage, error)
	Count(ctx context.Context, filters EventFilters, groupBy, scope string) (CountResult, error)
	SQL(ctx context.Context, q string, params []any) (SQLResult, error)
}

// EventRecorder is the write side. Mutations append change events here so
// the events surface shows live data without an external backend.
type EventRecorder interface {
	Append(event map[string]any)
}

const memoryEventsCap = 10000

// MemoryEvents is the in-process events binding. It keeps the newest
// events in a bounded slice and serves the full query contract except SQL.
type MemoryEvents struct {
	mu     sync.RWMutex
	events []map[string]any
}

func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{}
}

// Append records one event. A missing ts is stamped with the current time.
// The oldest events fall off once the buffer is full.
func (m *MemoryEvents) Append(event map[string]any) {
	doc := cloneEvent(event)
	if _, ok := doc["ts"].(string); !ok {
		doc["ts"] = time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, doc)
	if len(m.events) > memoryEventsCap {
		m.events = m.events[len(m.events)-memoryEventsCap:]
	}
}

func (m *MemoryEvents) Search(ctx context.Context, filters EventFilters, scope string) (EventPage, error) {
	matched := m.match(filters, scope)

	limit := ClampLimit(filters.Limit)
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return EventPage{
		Data:    matched[offset:end],
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: end < total,
	}, nil
}

func (m *MemoryEvents) Facets(ctx context.Context, dimension string, filters EventFilters, scope string) (FacetPage, error) {
	if dimension == "" {
		dimension = "type"
	}
	matched := m.match(filters, scope)

	counts := map[string]int{}
	for _, event := range matched {
		if value, ok := event[dimension].(string); ok && value != "" {
			counts[value]++
		}
	}

	facets := make([]Facet, 0, len(counts))
	for value, count := range counts {
		facets = append(facets, Facet{Value: value, Count: count})
	}
	sort.Slice(facets, func(i, j int) bool {
		if facets[i].Count != facets[j].Count {
			return facets[i].Count > facets[j].Count
		}
		return facets[i].Value < facets[j].Value
	})
	return FacetPage{Facets: facets, Total: len(matched)}, nil
}

func (m *MemoryEvents) Count(ctx context.Context, filters EventFilters, groupBy, scope string) (CountResult, error) {
	matched := m.match(filters, scope)
	result := CountResult{Count: len(matched)}
	if groupBy == "" {
		return result, nil
	}

	result.Groups = map[string]int{}
	for _, event := range matched {
		if value, ok := event[groupBy].(string); ok && value != "" {
			result.Groups[value]++
		}
	}
	return result, nil
}

func (m *MemoryEvents) SQL(ctx context.Context, q string, params []any) (SQLResult, error) {
	return SQLResult{}, ErrSQLUnsupported
}

// match returns the filtered events newest first.
func (m *MemoryEvents) match(filters EventFilters, scope string) []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var afterT, beforeT time.Time
	if filters.After != "" {
		afterT, _ = time.Parse(time.RFC3339Nano, filters.After)
	}
	if filters.Before != "" {
		beforeT, _ = time.Parse(time.RFC3339Nano, filters.Before)
	}

	matched := make([]map[string]any, 0, len(m.events))
	for _, event := range m.events {
		if scope != "" {
			if org, _ := event["org"].(string); org != scope {
				continue
			}
		}
		if filters.Type != "" && !matchesType(event, filters.Type) {
			continue
		}
		if filters.Category != "" {
			if category, _ := event["category"].(string); category != filters.Category {
				continue
			}
		}
		if filters.Source != "" {
			if source, _ := event["source"].(string); source != filters.Source {
				continue
			}
		}

		ts := eventTime(event)
		if !filters.Since.IsZero() && ts.Before(filters.Since) {
			continue
		}
		if !filters.Until.IsZero() && ts.After(filters.Until) {
			continue
		}
		if !afterT.IsZero() && !ts.Before(afterT) {
			continue
		}
		if !beforeT.IsZero() && !ts.After(beforeT) {
			continue
		}
		matched = append(matched, cloneEvent(event))
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return eventTime(matched[i]).After(eventTime(matched[j]))
	})
	return matched
}

// matchesType accepts exact matches and dotted prefixes, so type=webhook
// also matches webhook.received.
func matchesType(event map[string]any, want string) bool {
	got, _ := event["type"].(string)
	if got == want {
		return true
	}
	return strings.HasPrefix(got, want+".")
}

func eventTime(event map[string]any) time.Time {
	ts, _ := event["ts"].(string)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

func cloneEvent(event map[string]any) map[string]any {
	doc, err := cloneDoc(event)
	if err != nil {
		doc = make(map[string]any, len(event))
		for k, v := range event {
			doc[k] = v
		}
	}
	return doc
}
