package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/db"
	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/ids"
	"github.com/dot-do/gateway/query"
	"github.com/dot-do/gateway/routing"
	"github.com/dot-do/gateway/schema"
)

// crudOps are the methods auto-derived for every collection.
var crudOps = []string{"create", "delete", "get", "list", "update"}

type rpcRequest struct {
	Path   []string       `json:"path"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// handleRPCList advertises every callable method: the registry entries plus
// the derived collection CRUD.
func (g *Gateway) handleRPCList(c echo.Context) error {
	methods := g.rpcMethods()
	total := int64(len(methods))
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: "rpc",
		ID:   g.urlFor(c, "/rpc"),
		Links: map[string]string{
			"mcp": g.urlFor(c, "/mcp"),
			"qa":  g.urlFor(c, "/qa"),
		},
		Key:     "methods",
		Data:    methods,
		HasData: true,
		Total:   &total,
	})
}

// handleRPCCall executes {"path": [...], "args": [...]} against the unified
// dispatch, so a method behaves identically here, as a URL and as an MCP
// tool.
func (g *Gateway) handleRPCCall(c echo.Context) error {
	var req rpcRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return envelope.NewError(envelope.CodeInvalidJSON, "request body is not valid JSON")
	}
	if len(req.Path) == 0 {
		return envelope.NewError(envelope.CodeInvalidRPCRequest, "path is required")
	}
	for _, seg := range req.Path {
		if seg == "" {
			return envelope.NewError(envelope.CodeInvalidRPCRequest, "path segments must be non-empty")
		}
	}

	st := stateFrom(c)
	name := strings.Join(req.Path, ".")
	result, err := g.callMethod(c.Request().Context(), st, name, req.Args, req.Kwargs)
	if err != nil {
		return err
	}

	return g.respond(c, http.StatusOK, envelope.Options{
		Data:    result,
		HasData: true,
		Meta:    map[string]any{"method": name},
	})
}

func (g *Gateway) rpcMethods() []string {
	methods := g.registry.Names()
	for _, collection := range g.schema.Collections() {
		for _, op := range crudOps {
			methods = append(methods, collection+"."+op)
		}
	}
	sort.Strings(methods)
	return methods
}

// callMethod is the transport-neutral dispatch: registry entries first, then
// the "{collection}.{op}" CRUD methods.
func (g *Gateway) callMethod(ctx context.Context, st *requestState, name string, args []any, kwargs map[string]any) (any, error) {
	if _, ok := g.registry.Get(name); ok {
		return g.registry.CallValues(ctx, name, args, kwargs)
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		collection, op := name[:idx], name[idx+1:]
		if model, ok := g.schema.ModelForCollection(collection); ok {
			return g.crudMethod(ctx, st, model, op, args, kwargs)
		}
	}
	return nil, envelope.NewErrorf(envelope.CodeFunctionNotFound, "method %q is not registered", name)
}

// crudMethod maps a derived method onto the document core. Arguments arrive
// positionally from RPC and as named values from MCP; both forms are read.
func (g *Gateway) crudMethod(ctx context.Context, st *requestState, model *schema.Model, op string, args []any, kwargs map[string]any) (any, error) {
	tenant, actor := st.Tenant.Tenant, st.Principal.ID

	switch op {
	case "list":
		opts := db.ListOptions{Limit: db.ClampLimit(toInt(kwargs["limit"]))}
		if offset := toInt(kwargs["offset"]); offset > 0 {
			opts.Offset = offset
		}
		if f, ok := objectValue(kwargs["filter"]); ok {
			opts.Filter = query.Filter(f)
		} else if f, ok := objectArg(args, 0); ok {
			opts.Filter = query.Filter(f)
		}
		page, err := g.store.List(ctx, tenant, model.Name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", model.Collection(), err)
		}
		return map[string]any{
			"data":    page.Data,
			"total":   page.Total,
			"limit":   page.Limit,
			"offset":  page.Offset,
			"hasMore": page.HasMore,
		}, nil

	case "get":
		id, err := idArgument(model, args, kwargs)
		if err != nil {
			return nil, err
		}
		return g.coreGet(ctx, tenant, model, id, false)

	case "create":
		input, ok := objectArg(args, 0)
		if !ok && len(kwargs) > 0 {
			input, ok = kwargsWithout(kwargs, "id"), true
		}
		if !ok {
			return nil, envelope.NewErrorf(envelope.CodeBadRequest, "%s.create expects a document object", model.Collection())
		}
		return g.coreCreate(ctx, tenant, actor, model, input)

	case "update":
		id, err := idArgument(model, args, kwargs)
		if err != nil {
			return nil, err
		}
		input, ok := objectArg(args, 1)
		if !ok {
			if d, dok := objectValue(kwargs["data"]); dok {
				input = d
			} else {
				input = kwargsWithout(kwargs, "id")
			}
		}
		return g.coreUpdate(ctx, tenant, actor, model, id, input, false)

	case "delete":
		id, err := idArgument(model, args, kwargs)
		if err != nil {
			return nil, err
		}
		return g.coreDelete(ctx, tenant, actor, model, id)

	default:
		return nil, envelope.NewErrorf(envelope.CodeFunctionNotFound, "method %q is not registered", model.Collection()+"."+op)
	}
}

// handleFunctionCall serves the browsable "/name(args)" transport over the
// same dispatch as RPC and MCP.
func (g *Gateway) handleFunctionCall(c echo.Context) error {
	if c.Request().Method != http.MethodGet {
		return errMethodNotAllowed(c.Request().Method)
	}

	st := stateFrom(c)
	call := st.Route.Call
	ctx := c.Request().Context()

	var result any
	var err error
	if _, ok := g.registry.Get(call.Name); ok {
		result, err = g.registry.Call(ctx, call)
	} else {
		result, err = g.callMethod(ctx, st, call.Name, argValues(call.Args), kwargValues(call.Kwargs))
	}
	if err != nil {
		return err
	}

	return g.respond(c, http.StatusOK, envelope.Options{
		Data:    result,
		HasData: true,
		Links: map[string]string{
			"rpc": g.urlFor(c, "/rpc"),
		},
		Meta: map[string]any{"function": call.Name},
	})
}

func argValues(args []routing.Arg) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = argValue(a)
	}
	return out
}

func kwargValues(kwargs map[string]routing.Arg) map[string]any {
	if len(kwargs) == 0 {
		return nil
	}
	out := make(map[string]any, len(kwargs))
	for k, a := range kwargs {
		out[k] = argValue(a)
	}
	return out
}

func argValue(a routing.Arg) any {
	if a.Kind == routing.ArgNumber {
		return a.Number
	}
	return a.Value
}

// idArgument extracts the target id from args[0] or kwargs.id and checks it
// belongs to the model. MCP commonly names it, RPC passes it positionally.
func idArgument(model *schema.Model, args []any, kwargs map[string]any) (string, error) {
	var id string
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			id = s
		}
	}
	if id == "" {
		if s, ok := kwargs["id"].(string); ok {
			id = s
		}
	}
	if id == "" {
		return "", envelope.NewErrorf(envelope.CodeBadRequest, "%s requires an id argument", model.Collection())
	}
	if parsed, err := ids.Parse(id); err == nil && parsed.Type != model.Name {
		return "", envelope.NewErrorf(envelope.CodeBadRequest, "%s does not name a %s", id, model.Name)
	}
	return id, nil
}

func objectArg(args []any, index int) (map[string]any, bool) {
	if index >= len(args) {
		return nil, false
	}
	return objectValue(args[index])
}

func objectValue(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func kwargsWithout(kwargs map[string]any, drop string) map[string]any {
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		if k == drop {
			continue
		}
		out[k] = v
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		return intValue(n)
	default:
		return 0
	}
}
