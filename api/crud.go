package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dot-do/gateway/confirm"
	"github.com/dot-do/gateway/db"
	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/ids"
	"github.com/dot-do/gateway/query"
	"github.com/dot-do/gateway/queue"
	"github.com/dot-do/gateway/schema"
)

// searchFanoutLimit caps per-model results in the cross-collection search.
const searchFanoutLimit = 10

func (g *Gateway) handleCollection(c echo.Context) error {
	st := stateFrom(c)
	model, ok := g.schema.ModelForCollection(st.Route.Collection)
	if !ok {
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown collection %q", st.Route.Collection)
	}

	switch c.Request().Method {
	case http.MethodGet:
		return g.listCollection(c, model)
	case http.MethodPost:
		input, err := bindJSON(c)
		if err != nil {
			return err
		}
		doc, err := g.coreCreate(c.Request().Context(), st.Tenant.Tenant, st.Principal.ID, model, input)
		if err != nil {
			return err
		}
		return g.respondEntity(c, model, doc, model.Name, http.StatusCreated)
	default:
		return errMethodNotAllowed(c.Request().Method)
	}
}

// handleCollectionAction covers "/{plural}/{word}". The word is an entity id
// when it parses as one, a read alias, or the confirmation-gated create.
func (g *Gateway) handleCollectionAction(c echo.Context) error {
	st := stateFrom(c)
	model, ok := g.schema.ModelForCollection(st.Route.Collection)
	if !ok {
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown collection %q", st.Route.Collection)
	}

	if id, err := ids.Parse(st.Route.Action); err == nil {
		if id.Collection != model.Collection() {
			return envelope.NewErrorf(envelope.CodeNotFound, "%s does not belong to %s", id.ID, model.Collection())
		}
		return g.entityMethods(c, &id)
	}

	method := c.Request().Method
	if method == http.MethodPost && st.Route.Action == "create" {
		input, err := bindJSON(c)
		if err != nil {
			return err
		}
		doc, err := g.coreCreate(c.Request().Context(), st.Tenant.Tenant, st.Principal.ID, model, input)
		if err != nil {
			return err
		}
		return g.respondEntity(c, model, doc, model.Name, http.StatusCreated)
	}
	if method != http.MethodGet {
		return errMethodNotAllowed(method)
	}

	switch st.Route.Action {
	case "list":
		return g.listCollection(c, model)
	case "search", "find":
		return g.searchCollection(c, model)
	case "count":
		return g.respondCount(c, model)
	case "schema":
		return g.respondSchema(c, model)
	case "export":
		return g.exportCollection(c, model)
	case "create":
		return g.confirmGate(c, "create", model, "/"+model.Collection(), func(input map[string]any) error {
			doc, err := g.coreCreate(c.Request().Context(), st.Tenant.Tenant, st.Principal.ID, model, input)
			if err != nil {
				return err
			}
			return g.respondEntity(c, model, doc, model.Name, http.StatusCreated)
		})
	default:
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown action %q for %s", st.Route.Action, model.Collection())
	}
}

// entityMethods runs the REST verbs against one entity. GET verbs on the
// same entity arrive through handleEntityAction instead.
func (g *Gateway) entityMethods(c echo.Context, entity *ids.Identifier) error {
	st := stateFrom(c)
	model, ok := g.schema.Model(entity.Type)
	if !ok {
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown type %q", entity.Type)
	}

	ctx := c.Request().Context()
	tenant, actor := st.Tenant.Tenant, st.Principal.ID

	switch c.Request().Method {
	case http.MethodGet:
		doc, err := g.coreGet(ctx, tenant, model, entity.ID, false)
		if err != nil {
			return err
		}
		return g.respondEntity(c, model, doc, "data", http.StatusOK)
	case http.MethodPut:
		input, err := bindJSON(c)
		if err != nil {
			return err
		}
		doc, err := g.coreUpdate(ctx, tenant, actor, model, entity.ID, input, true)
		if err != nil {
			return err
		}
		return g.respondEntity(c, model, doc, model.Name, http.StatusOK)
	case http.MethodPatch:
		input, err := bindJSON(c)
		if err != nil {
			return err
		}
		doc, err := g.coreUpdate(ctx, tenant, actor, model, entity.ID, input, false)
		if err != nil {
			return err
		}
		return g.respondEntity(c, model, doc, model.Name, http.StatusOK)
	case http.MethodDelete:
		doc, err := g.coreDelete(ctx, tenant, actor, model, entity.ID)
		if err != nil {
			return err
		}
		return g.respondEntity(c, model, doc, model.Name, http.StatusOK)
	default:
		return errMethodNotAllowed(c.Request().Method)
	}
}

// handleEntityAction covers "/{id}/{word}": relation reads, GET mutations
// behind the confirmation gate, and direct POST verbs.
func (g *Gateway) handleEntityAction(c echo.Context) error {
	st := stateFrom(c)
	entity := st.Route.Entity
	action := st.Route.Action

	model, ok := g.schema.Model(entity.Type)
	if !ok {
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown type %q", entity.Type)
	}

	if rel, ok := model.Relations[action]; ok {
		if c.Request().Method != http.MethodGet {
			return errMethodNotAllowed(c.Request().Method)
		}
		return g.listRelation(c, model, entity, rel)
	}

	ctx := c.Request().Context()
	tenant, actor := st.Tenant.Tenant, st.Principal.ID

	switch c.Request().Method {
	case http.MethodGet:
		if action == "get" {
			doc, err := g.coreGet(ctx, tenant, model, entity.ID, false)
			if err != nil {
				return err
			}
			return g.respondEntity(c, model, doc, "data", http.StatusOK)
		}
		if !confirm.RequiresConfirmation(action, g.cfg.Mutation.Actions) {
			return envelope.NewErrorf(envelope.CodeNotFound, "unknown action %q for %s", action, model.Name)
		}
		return g.confirmGate(c, action, model, "/"+entity.ID, func(input map[string]any) error {
			doc, err := g.coreVerb(ctx, tenant, actor, model, entity.ID, action, input)
			if err != nil {
				return err
			}
			return g.respondEntity(c, model, doc, model.Name, http.StatusOK)
		})
	case http.MethodPost:
		if !confirm.RequiresConfirmation(action, g.cfg.Mutation.Actions) {
			return envelope.NewErrorf(envelope.CodeNotFound, "unknown action %q for %s", action, model.Name)
		}
		input, err := bindJSON(c)
		if err != nil {
			return err
		}
		doc, err := g.coreVerb(ctx, tenant, actor, model, entity.ID, action, input)
		if err != nil {
			return err
		}
		return g.respondEntity(c, model, doc, model.Name, http.StatusOK)
	default:
		return errMethodNotAllowed(c.Request().Method)
	}
}

func (g *Gateway) listCollection(c echo.Context, model *schema.Model) error {
	st := stateFrom(c)
	page, err := g.store.List(c.Request().Context(), st.Tenant.Tenant, model.Name, listOptionsFrom(c))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", model.Collection(), err)
	}
	return g.respondCollection(c, model, page, http.StatusOK)
}

func (g *Gateway) searchCollection(c echo.Context, model *schema.Model) error {
	st := stateFrom(c)
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return envelope.NewError(envelope.CodeBadRequest, "search requires a q parameter")
	}
	page, err := g.store.Search(c.Request().Context(), st.Tenant.Tenant, model.Name, q, model.SearchableFields(), listOptionsFrom(c))
	if err != nil {
		return fmt.Errorf("failed to search %s: %w", model.Collection(), err)
	}
	return g.respondCollection(c, model, page, http.StatusOK)
}

// exportCollection returns full documents instead of browse items, paged at
// the maximum limit.
func (g *Gateway) exportCollection(c echo.Context, model *schema.Model) error {
	st := stateFrom(c)
	opts := listOptionsFrom(c)
	if !c.QueryParams().Has("limit") {
		opts.Limit = db.MaxPageLimit
	}
	page, err := g.store.List(c.Request().Context(), st.Tenant.Tenant, model.Name, opts)
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", model.Collection(), err)
	}

	total := int64(page.Total)
	hasMore := page.HasMore
	return g.respond(c, http.StatusOK, envelope.Options{
		Type:    model.Collection(),
		ID:      g.urlFor(c, "/"+model.Collection()),
		Key:     model.Collection(),
		Data:    page.Data,
		HasData: true,
		Total:   &total,
		HasMore: &hasMore,
	})
}

func (g *Gateway) listRelation(c echo.Context, model *schema.Model, entity *ids.Identifier, rel schema.Relation) error {
	st := stateFrom(c)
	target, ok := g.schema.Model(rel.Model)
	if !ok {
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown type %q", rel.Model)
	}

	opts := listOptionsFrom(c)
	opts.Filter[rel.ForeignKey] = entity.ID

	page, err := g.store.List(c.Request().Context(), st.Tenant.Tenant, target.Name, opts)
	if err != nil {
		return fmt.Errorf("failed to list %s for %s: %w", target.Collection(), entity.ID, err)
	}
	return g.respondCollection(c, target, page, http.StatusOK)
}

// handleSearch fans ?q= out across every collection in parallel and groups
// hits by collection.
func (g *Gateway) handleSearch(c echo.Context) error {
	if c.Request().Method != http.MethodGet {
		return errMethodNotAllowed(c.Request().Method)
	}
	st := stateFrom(c)
	q := strings.TrimSpace(st.Route.Query)
	if q == "" {
		q = strings.TrimSpace(c.QueryParam("q"))
	}
	if q == "" {
		return envelope.NewError(envelope.CodeBadRequest, "search requires a q parameter")
	}

	collections := g.schema.Collections()
	type hit struct {
		collection string
		items      []envelope.CollectionItem
		total      int
	}
	hits := make([]hit, len(collections))

	eg, ctx := errgroup.WithContext(c.Request().Context())
	for i, collection := range collections {
		model, ok := g.schema.ModelForCollection(collection)
		if !ok {
			continue
		}
		eg.Go(func() error {
			page, err := g.store.Search(ctx, st.Tenant.Tenant, model.Name, q, model.SearchableFields(), db.ListOptions{Limit: searchFanoutLimit})
			if err != nil {
				return fmt.Errorf("failed to search %s: %w", collection, err)
			}
			hits[i] = hit{collection: collection, items: g.collectionItems(c, model, page.Data), total: page.Total}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	results := map[string]any{}
	var total int64
	for _, h := range hits {
		total += int64(h.total)
		if len(h.items) > 0 {
			results[h.collection] = h.items
		}
	}

	return g.respond(c, http.StatusOK, envelope.Options{
		Key:     "results",
		Data:    results,
		HasData: true,
		Total:   &total,
		Meta:    map[string]any{"q": q},
	})
}

// coreGet loads one live document. Soft-deleted documents read as absent
// unless includeDeleted is set, which the revert path uses.
func (g *Gateway) coreGet(ctx context.Context, tenant string, model *schema.Model, id string, includeDeleted bool) (map[string]any, error) {
	doc, err := g.store.Get(ctx, tenant, model.Name, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, envelope.NewErrorf(envelope.CodeNotFound, "%s %q not found", model.Name, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", model.Name, id, err)
	}
	if !includeDeleted && schema.IsDeleted(doc) {
		return nil, envelope.NewErrorf(envelope.CodeNotFound, "%s %q not found", model.Name, id)
	}
	return doc, nil
}

func (g *Gateway) coreCreate(ctx context.Context, tenant, actor string, model *schema.Model, input map[string]any) (map[string]any, error) {
	input = schema.StripMeta(input)
	if errs := model.Validate(input, true); len(errs) > 0 {
		return nil, envelope.NewError(envelope.CodeValidationError, "validation failed").WithFields(errs)
	}

	id, err := ids.Mint(g.types, g.codec, model.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to mint %s id: %w", model.Name, err)
	}

	doc := make(map[string]any, len(input)+8)
	for k, v := range input {
		doc[k] = v
	}
	doc["id"] = id
	schema.InjectCreateMeta(doc, actor, time.Now())

	if err := g.store.Create(ctx, tenant, model.Name, doc); err != nil {
		if errors.Is(err, db.ErrExists) {
			return nil, envelope.NewErrorf(envelope.CodeConflict, "%s %q already exists", model.Name, id)
		}
		return nil, fmt.Errorf("failed to create %s: %w", model.Name, err)
	}

	g.emitChange(ctx, tenant, actor, model.Name, id, "create", doc)
	return doc, nil
}

// coreUpdate applies input to a document. Replace (PUT) revalidates the full
// document and carries the creation stamps forward; merge (PATCH, verbs)
// validates only the supplied fields.
func (g *Gateway) coreUpdate(ctx context.Context, tenant, actor string, model *schema.Model, id string, input map[string]any, replace bool) (map[string]any, error) {
	existing, err := g.coreGet(ctx, tenant, model, id, false)
	if err != nil {
		return nil, err
	}

	input = schema.StripMeta(input)
	if errs := model.Validate(input, replace); len(errs) > 0 {
		return nil, envelope.NewError(envelope.CodeValidationError, "validation failed").WithFields(errs)
	}

	var doc map[string]any
	if replace {
		doc = make(map[string]any, len(input)+8)
		for k, v := range input {
			doc[k] = v
		}
		doc["id"] = id
		for _, k := range []string{schema.MetaVersion, schema.MetaCreatedAt, schema.MetaCreatedBy} {
			if v, ok := existing[k]; ok {
				doc[k] = v
			}
		}
	} else {
		doc = existing
		for k, v := range input {
			doc[k] = v
		}
	}

	g.snapshotBeforeWrite(ctx, tenant, model.Name, id, existing)
	schema.InjectUpdateMeta(doc, actor, time.Now())

	if err := g.store.Update(ctx, tenant, model.Name, id, doc); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, envelope.NewErrorf(envelope.CodeNotFound, "%s %q not found", model.Name, id)
		}
		return nil, fmt.Errorf("failed to update %s %s: %w", model.Name, id, err)
	}

	g.emitChange(ctx, tenant, actor, model.Name, id, "update", doc)
	return doc, nil
}

// coreDelete soft-deletes: the document stays in the store with deletion
// stamps set, and the response returns its final state.
func (g *Gateway) coreDelete(ctx context.Context, tenant, actor string, model *schema.Model, id string) (map[string]any, error) {
	existing, err := g.coreGet(ctx, tenant, model, id, false)
	if err != nil {
		return nil, err
	}

	g.snapshotBeforeWrite(ctx, tenant, model.Name, id, existing)
	schema.InjectDeleteMeta(existing, actor, time.Now())

	if err := g.store.Update(ctx, tenant, model.Name, id, existing); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, envelope.NewErrorf(envelope.CodeNotFound, "%s %q not found", model.Name, id)
		}
		return nil, fmt.Errorf("failed to delete %s %s: %w", model.Name, id, err)
	}

	g.emitChange(ctx, tenant, actor, model.Name, id, "delete", existing)
	return existing, nil
}

// coreRevert restores the most recent history snapshot, which is the state
// before the last mutation. Reverting a soft-delete resurrects the document.
func (g *Gateway) coreRevert(ctx context.Context, tenant, actor string, model *schema.Model, id string) (map[string]any, error) {
	if g.history == nil {
		return nil, envelope.NewError(envelope.CodeBadRequest, "history is not enabled on this store")
	}

	versions, err := g.history.History(ctx, tenant, model.Name, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s %s: %w", model.Name, id, err)
	}
	if len(versions) == 0 {
		return nil, envelope.NewErrorf(envelope.CodeBadRequest, "%s %q has no earlier version to revert to", model.Name, id)
	}

	current, err := g.coreGet(ctx, tenant, model, id, true)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]any, len(versions[len(versions)-1]))
	for k, v := range versions[len(versions)-1] {
		doc[k] = v
	}
	doc["id"] = id
	delete(doc, schema.MetaDeletedAt)
	delete(doc, schema.MetaDeletedBy)
	if v, ok := current[schema.MetaVersion]; ok {
		doc[schema.MetaVersion] = v
	}

	g.snapshotBeforeWrite(ctx, tenant, model.Name, id, current)
	schema.InjectUpdateMeta(doc, actor, time.Now())

	if err := g.store.Update(ctx, tenant, model.Name, id, doc); err != nil {
		return nil, fmt.Errorf("failed to revert %s %s: %w", model.Name, id, err)
	}

	g.emitChange(ctx, tenant, actor, model.Name, id, "revert", doc)
	return doc, nil
}

// coreVerb executes a mutating verb on an entity. The known verbs map to
// their core operations; any other verb merges input as an update recorded
// under the verb's own name.
func (g *Gateway) coreVerb(ctx context.Context, tenant, actor string, model *schema.Model, id, verb string, input map[string]any) (map[string]any, error) {
	switch verb {
	case "create":
		return nil, envelope.NewErrorf(envelope.CodeNotFound, "unknown action %q for %s", verb, model.Name)
	case "update":
		return g.coreUpdate(ctx, tenant, actor, model, id, input, false)
	case "delete":
		return g.coreDelete(ctx, tenant, actor, model, id)
	case "revert":
		return g.coreRevert(ctx, tenant, actor, model, id)
	}

	existing, err := g.coreGet(ctx, tenant, model, id, false)
	if err != nil {
		return nil, err
	}
	input = schema.StripMeta(input)
	if errs := model.Validate(input, false); len(errs) > 0 {
		return nil, envelope.NewError(envelope.CodeValidationError, "validation failed").WithFields(errs)
	}
	for k, v := range input {
		existing[k] = v
	}

	g.snapshotBeforeWrite(ctx, tenant, model.Name, id, existing)
	schema.InjectUpdateMeta(existing, actor, time.Now())

	if err := g.store.Update(ctx, tenant, model.Name, id, existing); err != nil {
		return nil, fmt.Errorf("failed to run %s on %s %s: %w", verb, model.Name, id, err)
	}

	g.emitChange(ctx, tenant, actor, model.Name, id, verb, existing)
	return existing, nil
}

// snapshotBeforeWrite records the pre-mutation state for $history. Failures
// are logged, never surfaced: losing a snapshot must not block the write.
func (g *Gateway) snapshotBeforeWrite(ctx context.Context, tenant, model, id string, doc map[string]any) {
	if g.history == nil {
		return
	}
	if err := g.history.Snapshot(ctx, tenant, model, id, doc); err != nil {
		g.logWarn(err, "failed to snapshot document history")
	}
}

// emitChange records a mutation on the change feed twice: as a cdc event on
// the events surface and as a message on the queue. Both are best effort.
func (g *Gateway) emitChange(ctx context.Context, tenant, actor, model, id, action string, doc map[string]any) {
	// Nanosecond precision keeps the ts cursor strict between back-to-back
	// mutations.
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	if g.recorder != nil {
		g.recorder.Append(map[string]any{
			"type":     model + "." + action,
			"category": "cdc",
			"source":   id,
			"org":      tenant,
			"actor":    actor,
			"ts":       ts,
			"data":     doc,
		})
	}

	if g.publisher != nil {
		err := g.publisher.Publish(queue.ChangeEvent{
			Model:  model,
			ID:     id,
			Action: action,
			Tenant: tenant,
			Actor:  actor,
			Ts:     ts,
			Data:   doc,
		})
		g.logWarn(err, "failed to publish change event")
	}
}

// bindJSON decodes an optional JSON object body. An empty body is an empty
// input; anything unparsable is an INVALID_JSON error.
func bindJSON(c echo.Context) (map[string]any, error) {
	var input map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&input); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, envelope.NewError(envelope.CodeInvalidJSON, "request body is not valid JSON")
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// listOptionsFrom reads filter, sort and pagination from the query string.
// "page" is sugar over offset and loses to an explicit offset.
func listOptionsFrom(c echo.Context) db.ListOptions {
	qp := c.QueryParams()

	limit := db.ClampLimit(intValue(qp.Get("limit")))
	offset := intValue(qp.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	if page := intValue(qp.Get("page")); page > 1 && !qp.Has("offset") {
		offset = (page - 1) * limit
	}

	return db.ListOptions{
		Filter: query.ParseFilters(qp),
		Sort:   query.ParseSort(qp.Get("sort")),
		Limit:  limit,
		Offset: offset,
	}
}

func intValue(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
