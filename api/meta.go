package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/db"
	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/ids"
	"github.com/dot-do/gateway/query"
	"github.com/dot-do/gateway/schema"
)

// pageSizeChoices are the limits offered by the $pageSize meta-resource.
var pageSizeChoices = []int{10, 25, 50, 100, 250}

// maxPageLinks caps how many entries $pages enumerates.
const maxPageLinks = 100

func (g *Gateway) handleMeta(c echo.Context) error {
	if c.Request().Method != http.MethodGet {
		return errMethodNotAllowed(c.Request().Method)
	}

	meta := stateFrom(c).Route.Meta
	if meta.IsEntity() {
		model, ok := g.schema.Model(meta.Entity.Type)
		if !ok {
			return envelope.NewErrorf(envelope.CodeNotFound, "unknown type %q", meta.Entity.Type)
		}
		return g.entityMeta(c, model, meta.Entity, meta.Name)
	}
	if meta.Collection != "" {
		model, ok := g.schema.ModelForCollection(meta.Collection)
		if !ok {
			return envelope.NewErrorf(envelope.CodeNotFound, "unknown collection %q", meta.Collection)
		}
		return g.collectionMeta(c, model, meta.Name)
	}
	return envelope.NewErrorf(envelope.CodeNotFound, "meta-resource %s requires a collection or entity target", meta.Name)
}

func (g *Gateway) collectionMeta(c echo.Context, model *schema.Model, name string) error {
	switch name {
	case "$schema":
		return g.respondSchema(c, model)
	case "$count":
		return g.respondCount(c, model)
	case "$pageSize":
		return g.respondPageSizes(c, model)
	case "$sort":
		return g.respondSorts(c, model)
	case "$pages":
		return g.respondPages(c, model)
	case "$facets":
		return g.respondModelFacets(c, model)
	default:
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown meta-resource %s for %s", name, model.Collection())
	}
}

func (g *Gateway) entityMeta(c echo.Context, model *schema.Model, entity *ids.Identifier, name string) error {
	switch name {
	case "$schema":
		return g.respondSchema(c, model)
	case "$history":
		return g.respondHistory(c, model, entity)
	case "$events":
		return g.respondEntityEvents(c, model, entity)
	default:
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown meta-resource %s for %s", name, model.Name)
	}
}

func (g *Gateway) respondSchema(c echo.Context, model *schema.Model) error {
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: model.Name,
		ID:   g.urlFor(c, "/"+model.Collection()+"/$schema"),
		Links: map[string]string{
			"collection": g.urlFor(c, "/"+model.Collection()),
		},
		Key:     "schema",
		Data:    model.JSONSchema(),
		HasData: true,
	})
}

// respondCount counts documents matching the query's filters.
func (g *Gateway) respondCount(c echo.Context, model *schema.Model) error {
	st := stateFrom(c)
	n, err := g.store.Count(c.Request().Context(), st.Tenant.Tenant, model.Name, query.ParseFilters(c.QueryParams()))
	if err != nil {
		return fmt.Errorf("failed to count %s: %w", model.Collection(), err)
	}
	total := int64(n)
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: model.Collection(),
		Links: map[string]string{
			"collection": g.urlFor(c, "/"+model.Collection()),
		},
		Key:     "count",
		Data:    n,
		HasData: true,
		Total:   &total,
	})
}

func (g *Gateway) respondPageSizes(c echo.Context, model *schema.Model) error {
	collection := model.Collection()
	sizes := make(map[string]string, len(pageSizeChoices))
	for _, size := range pageSizeChoices {
		sizes[strconv.Itoa(size)] = g.urlFor(c, "/"+collection) + "?limit=" + strconv.Itoa(size)
	}
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: collection,
		Links: map[string]string{
			"collection": g.urlFor(c, "/"+collection),
		},
		Key:     "pageSizes",
		Data:    sizes,
		HasData: true,
	})
}

// respondSorts maps each sortable field to its ascending and descending
// list URL.
func (g *Gateway) respondSorts(c echo.Context, model *schema.Model) error {
	collection := model.Collection()
	base := g.urlFor(c, "/"+collection)
	sorts := map[string]string{}
	for _, field := range model.SortableFields() {
		sorts[field+".asc"] = base + "?sort=" + field + ".asc"
		sorts[field+".desc"] = base + "?sort=" + field + ".desc"
	}
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: collection,
		Links: map[string]string{
			"collection": base,
		},
		Key:     "sorts",
		Data:    sorts,
		HasData: true,
	})
}

// respondPages enumerates page URLs from the live count and the requested
// limit.
func (g *Gateway) respondPages(c echo.Context, model *schema.Model) error {
	st := stateFrom(c)
	collection := model.Collection()

	n, err := g.store.Count(c.Request().Context(), st.Tenant.Tenant, model.Name, query.ParseFilters(c.QueryParams()))
	if err != nil {
		return fmt.Errorf("failed to count %s: %w", collection, err)
	}

	limit := db.ClampLimit(intValue(c.QueryParam("limit")))
	pages := (n + limit - 1) / limit
	if pages < 1 {
		pages = 1
	}
	if pages > maxPageLinks {
		pages = maxPageLinks
	}

	base := g.urlFor(c, "/"+collection)
	index := make(map[string]string, pages)
	for p := 1; p <= pages; p++ {
		index[strconv.Itoa(p)] = fmt.Sprintf("%s?page=%d&limit=%d", base, p, limit)
	}

	total := int64(n)
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: collection,
		Links: map[string]string{
			"collection": base,
		},
		Key:     "pages",
		Data:    index,
		HasData: true,
		Total:   &total,
	})
}

// respondModelFacets serves facet counts for the model's events. The
// dimension defaults to the event type and can be overridden with ?by=.
func (g *Gateway) respondModelFacets(c echo.Context, model *schema.Model) error {
	st := stateFrom(c)
	scope, err := g.eventScope(st)
	if err != nil {
		return err
	}

	dimension := c.QueryParam("by")
	if dimension == "" {
		dimension = "type"
	}

	page, err := g.events.Facets(c.Request().Context(), dimension, db.EventFilters{Type: model.Name}, scope)
	if err != nil {
		return fmt.Errorf("failed to load facets for %s: %w", model.Collection(), err)
	}

	total := int64(page.Total)
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: model.Collection(),
		Links: map[string]string{
			"collection": g.urlFor(c, "/"+model.Collection()),
			"events":     g.urlFor(c, "/events"),
		},
		Key:     "facets",
		Data:    page.Facets,
		HasData: true,
		Total:   &total,
		Meta:    map[string]any{"dimension": dimension},
	})
}

// respondHistory lists the entity's stored version snapshots, oldest first.
func (g *Gateway) respondHistory(c echo.Context, model *schema.Model, entity *ids.Identifier) error {
	st := stateFrom(c)

	var versions []map[string]any
	if g.history != nil {
		var err error
		versions, err = g.history.History(c.Request().Context(), st.Tenant.Tenant, model.Name, entity.ID)
		if err != nil {
			return fmt.Errorf("failed to load history for %s: %w", entity.ID, err)
		}
	}

	total := int64(len(versions))
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: model.Name,
		ID:   g.urlFor(c, "/"+entity.ID),
		Links: map[string]string{
			"entity": g.urlFor(c, "/"+entity.ID),
		},
		Key:     "history",
		Data:    versions,
		HasData: true,
		Total:   &total,
		Actions: map[string]any{
			"revert": g.urlFor(c, "/"+entity.ID+"/revert"),
		},
	})
}

// respondEntityEvents lists events sourced from the entity, newest first.
func (g *Gateway) respondEntityEvents(c echo.Context, model *schema.Model, entity *ids.Identifier) error {
	st := stateFrom(c)
	scope, err := g.eventScope(st)
	if err != nil {
		return err
	}

	filters, err := g.eventFiltersFrom(c)
	if err != nil {
		return err
	}
	filters.Source = entity.ID

	page, err := g.events.Search(c.Request().Context(), filters, scope)
	if err != nil {
		return fmt.Errorf("failed to load events for %s: %w", entity.ID, err)
	}

	total := int64(page.Total)
	hasMore := page.HasMore
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: model.Name,
		ID:   g.urlFor(c, "/"+entity.ID),
		Links: map[string]string{
			"entity": g.urlFor(c, "/"+entity.ID),
			"events": g.urlFor(c, "/events"),
		},
		Key:     "events",
		Data:    page.Data,
		HasData: true,
		Total:   &total,
		HasMore: &hasMore,
	})
}
