package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dot-do/gateway/db"
	"github.com/dot-do/gateway/envelope"
)

// recentEventsLimit caps the recent list on the discovery view.
const recentEventsLimit = 10

// handleEvents serves both shapes of the events surface: faceted discovery
// when no filters were given, actual event data plus facets otherwise.
func (g *Gateway) handleEvents(c echo.Context) error {
	st := stateFrom(c)
	scope, err := g.eventScope(st)
	if err != nil {
		return err
	}

	filters, err := g.eventFiltersFrom(c)
	if err != nil {
		return err
	}
	if target := eventsTarget(st.Route.Raw); target != "" {
		filters.Type = target
	}

	if discoveryRequest(c, filters) {
		return g.eventsDiscovery(c, scope)
	}
	return g.eventsQuery(c, scope, filters, "events")
}

// handleCategory browses one curated category mounted at the top level.
func (g *Gateway) handleCategory(c echo.Context) error {
	st := stateFrom(c)
	scope, err := g.eventScope(st)
	if err != nil {
		return err
	}

	category, _ := splitHead(st.Route.Raw)
	filters, err := g.eventFiltersFrom(c)
	if err != nil {
		return err
	}
	filters.Category = category

	return g.eventsQuery(c, scope, filters, category)
}

// eventsDiscovery serves the type facets and a recent sample, via the
// forward cache keyed by scope and window.
func (g *Gateway) eventsDiscovery(c echo.Context, scope string) error {
	ctx := c.Request().Context()

	sinceRaw := c.QueryParam("since")
	if sinceRaw == "" {
		sinceRaw = g.cfg.Events.DefaultSince
	}

	key := db.DiscoveryKey(scope, sinceRaw)
	if cached, ok := g.cache.Get(ctx, key); ok {
		return g.respondDiscovery(c, cached, true)
	}

	filters := db.EventFilters{Limit: recentEventsLimit}
	if sinceRaw != "" {
		since, err := parseSince(sinceRaw, time.Now())
		if err != nil {
			return err
		}
		filters.Since = since
	}

	var facets db.FacetPage
	var recent db.EventPage
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		facets, err = g.events.Facets(gctx, "type", filters, scope)
		return err
	})
	eg.Go(func() error {
		var err error
		recent, err = g.events.Search(gctx, filters, scope)
		return err
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("failed to discover events: %w", err)
	}

	discover := make(map[string]string, len(facets.Facets))
	for _, f := range facets.Facets {
		discover[f.Value] = g.urlFor(c, "/events/"+f.Value)
	}

	payload := map[string]any{
		"discover": discover,
		"facets":   facetList(facets.Facets),
		"recent":   recent.Data,
		"total":    facets.Total,
	}
	g.cache.Set(ctx, key, payload)

	return g.respondDiscovery(c, payload, false)
}

// respondDiscovery writes a discovery payload, fresh or from the cache. The
// payload may have round-tripped through JSON, so values are read loosely.
func (g *Gateway) respondDiscovery(c echo.Context, payload map[string]any, cached bool) error {
	total := toInt64(payload["total"])
	opts := envelope.Options{
		Type: "events",
		ID:   g.urlFor(c, "/events"),
		Links: map[string]string{
			"events": g.urlFor(c, "/events"),
		},
		Key:      "facets",
		Data:     payload["facets"],
		HasData:  true,
		Discover: payload["discover"],
		Recent:   payload["recent"],
		Total:    &total,
	}
	if cached {
		opts.Meta = map[string]any{"cached": true}
	}
	return g.respond(c, http.StatusOK, opts)
}

// eventsQuery runs search and facets in parallel and pages by ts cursors.
func (g *Gateway) eventsQuery(c echo.Context, scope string, filters db.EventFilters, key string) error {
	var page db.EventPage
	var facets db.FacetPage
	eg, gctx := errgroup.WithContext(c.Request().Context())
	eg.Go(func() error {
		var err error
		page, err = g.events.Search(gctx, filters, scope)
		return err
	})
	eg.Go(func() error {
		var err error
		facets, err = g.events.Facets(gctx, "type", filters, scope)
		return err
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}

	discover := make(map[string]string, len(facets.Facets))
	for _, f := range facets.Facets {
		discover[f.Value] = g.urlFor(c, "/events/"+f.Value)
	}

	self := g.requestURL(c)
	links := map[string]string{
		"self":   self,
		"events": g.urlFor(c, "/events"),
	}
	if page.HasMore && len(page.Data) > 0 {
		if last, ok := page.Data[len(page.Data)-1]["ts"].(string); ok {
			links["next"] = withCursor(self, "after", last)
		}
	}
	if filters.After != "" && len(page.Data) > 0 {
		if first, ok := page.Data[0]["ts"].(string); ok {
			links["prev"] = withCursor(self, "before", first)
		}
	}

	total := int64(page.Total)
	limit := page.Limit
	offset := page.Offset
	hasMore := page.HasMore
	return g.respond(c, http.StatusOK, envelope.Options{
		Type:     "events",
		ID:       g.urlFor(c, "/events"),
		Links:    links,
		Key:      key,
		Data:     page.Data,
		HasData:  true,
		Discover: discover,
		Total:    &total,
		Limit:    &limit,
		Offset:   &offset,
		HasMore:  &hasMore,
	})
}

// eventScope resolves who may see what. A configured scope pins everything;
// platform operators see all orgs, authenticated callers their own, and
// anonymous callers are rejected when the surface requires auth.
func (g *Gateway) eventScope(st *requestState) (string, error) {
	if s := g.cfg.Events.Scope; s != "" {
		return s, nil
	}
	p := st.Principal
	if p.IsPlatform() {
		return "", nil
	}
	if p.Authenticated {
		return p.Org, nil
	}
	if g.cfg.Events.Auth {
		return "", envelope.NewError(envelope.CodeUnauthorized, "authentication is required for events")
	}
	return "", nil
}

func (g *Gateway) eventFiltersFrom(c echo.Context) (db.EventFilters, error) {
	qp := c.QueryParams()
	f := db.EventFilters{
		Type:     qp.Get("type"),
		Category: qp.Get("category"),
		Source:   qp.Get("source"),
		After:    qp.Get("after"),
		Before:   qp.Get("before"),
		Limit:    db.ClampLimit(intValue(qp.Get("limit"))),
		Offset:   intValue(qp.Get("offset")),
	}

	now := time.Now()
	if s := qp.Get("since"); s != "" {
		t, err := parseSince(s, now)
		if err != nil {
			return f, err
		}
		f.Since = t
	}
	if s := qp.Get("until"); s != "" {
		t, err := parseSince(s, now)
		if err != nil {
			return f, err
		}
		f.Until = t
	}
	return f, nil
}

// parseSince reads a window bound: a duration like "24h" counts back from
// now, anything else must be an RFC 3339 timestamp.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, envelope.NewErrorf(envelope.CodeBadRequest, "invalid time value %q, use a duration like 24h or an RFC 3339 timestamp", s)
}

// discoveryRequest reports whether the query carries no event filters, the
// shape that serves the cached discovery view. The since window alone stays
// discovery because the cache is keyed by it.
func discoveryRequest(c echo.Context, filters db.EventFilters) bool {
	if filters.Type != "" || filters.Category != "" || filters.Source != "" {
		return false
	}
	if filters.After != "" || filters.Before != "" || !filters.Until.IsZero() {
		return false
	}
	qp := c.QueryParams()
	return !qp.Has("limit") && !qp.Has("offset")
}

// eventsTarget extracts the drill-down type from "/events/{type}" paths.
func eventsTarget(raw string) string {
	rest := strings.TrimPrefix(raw, "/events")
	return unescape(strings.Trim(rest, "/"))
}

func facetList(facets []db.Facet) []map[string]any {
	out := make([]map[string]any, 0, len(facets))
	for _, f := range facets {
		out = append(out, map[string]any{"value": f.Value, "count": f.Count})
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
