package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/db"
	"github.com/dot-do/gateway/routing"
	"github.com/dot-do/gateway/schema"
)

// mcpProtocolVersion is the MCP revision the initialize handshake reports.
const mcpProtocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes. MCP failures ride inside an HTTP 200; the HTTP
// status stays out of band.
const (
	mcpParseError     = -32700
	mcpInvalidRequest = -32600
	mcpMethodNotFound = -32601
	mcpInvalidParams  = -32602
	mcpInternalError  = -32603
)

type mcpRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type mcpCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type mcpReadParams struct {
	URI string `json:"uri"`
}

// handleMCP speaks MCP over JSON-RPC 2.0. Tool calls dispatch through the
// same callMethod as RPC and URLs, which is what keeps the transports
// equivalent.
func (g *Gateway) handleMCP(c echo.Context) error {
	var req mcpRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusOK, mcpError(nil, mcpParseError, "parse error"))
	}
	if req.Method == "" {
		return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidRequest, "method is required"))
	}

	switch req.Method {
	case "initialize":
		return c.JSON(http.StatusOK, mcpResult(req.ID, map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    g.cfg.Service.Name,
				"version": g.cfg.Service.Version,
			},
		}))
	case "ping":
		return c.JSON(http.StatusOK, mcpResult(req.ID, map[string]any{}))
	case "tools/list":
		return c.JSON(http.StatusOK, mcpResult(req.ID, map[string]any{"tools": g.mcpTools()}))
	case "tools/call":
		return g.mcpToolsCall(c, req)
	case "resources/list":
		return c.JSON(http.StatusOK, mcpResult(req.ID, map[string]any{"resources": g.mcpResources(c)}))
	case "resources/read":
		return g.mcpResourcesRead(c, req)
	default:
		return c.JSON(http.StatusOK, mcpError(req.ID, mcpMethodNotFound, fmt.Sprintf("method %q not found", req.Method)))
	}
}

func mcpResult(id, result any) map[string]any {
	return map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
}

func mcpError(id any, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	}
}

// mcpTools lists every dispatchable method as a tool: registry entries with
// their declared schemas, then the derived collection CRUD.
func (g *Gateway) mcpTools() []map[string]any {
	tools := []map[string]any{}
	for _, e := range g.registry.Entries() {
		tools = append(tools, map[string]any{
			"name":        e.Name,
			"description": e.Description,
			"inputSchema": e.Schema(),
		})
	}
	for _, collection := range g.schema.Collections() {
		model, ok := g.schema.ModelForCollection(collection)
		if !ok {
			continue
		}
		for _, op := range crudOps {
			tools = append(tools, map[string]any{
				"name":        collection + "." + op,
				"description": crudToolDescription(op, model),
				"inputSchema": crudToolSchema(op, model),
			})
		}
	}
	return tools
}

func crudToolDescription(op string, model *schema.Model) string {
	switch op {
	case "list":
		return "List " + model.Collection()
	case "get":
		return "Get one " + model.Name + " by id"
	case "create":
		return "Create a " + model.Name
	case "update":
		return "Update a " + model.Name
	case "delete":
		return "Delete a " + model.Name
	}
	return op + " " + model.Collection()
}

func crudToolSchema(op string, model *schema.Model) map[string]any {
	switch op {
	case "list":
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit":  map[string]any{"type": "number"},
				"offset": map[string]any{"type": "number"},
				"filter": map[string]any{"type": "object"},
			},
		}
	case "get", "delete":
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "string"},
			},
			"required": []string{"id"},
		}
	case "create":
		return model.JSONSchema()
	case "update":
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":   map[string]any{"type": "string"},
				"data": map[string]any{"type": "object"},
			},
			"required": []string{"id"},
		}
	}
	return map[string]any{"type": "object"}
}

// mcpToolsCall executes a tool. Dispatch failures come back as tool results
// with isError set, per MCP; only malformed requests become JSON-RPC errors.
func (g *Gateway) mcpToolsCall(c echo.Context, req mcpRequest) error {
	var params mcpCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidParams, "invalid params"))
		}
	}
	if params.Name == "" {
		return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidParams, "tool name is required"))
	}

	st := stateFrom(c)
	args, kwargs := mcpArguments(params.Arguments)
	result, err := g.callMethod(c.Request().Context(), st, params.Name, args, kwargs)
	if err != nil {
		typed := g.toTaxonomy(err)
		text, _ := json.Marshal(map[string]any{"code": typed.Code, "message": typed.Message})
		return c.JSON(http.StatusOK, mcpResult(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": string(text)}},
			"isError": true,
		}))
	}

	text, err := json.Marshal(result)
	if err != nil {
		return c.JSON(http.StatusOK, mcpError(req.ID, mcpInternalError, "failed to serialize result"))
	}
	return c.JSON(http.StatusOK, mcpResult(req.ID, map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(text)}},
	}))
}

// mcpArguments splits tool arguments into the unified dispatch forms: an
// "args" array carries positional arguments, everything else is named.
func mcpArguments(arguments map[string]any) ([]any, map[string]any) {
	if arguments == nil {
		return nil, nil
	}
	if raw, ok := arguments["args"].([]any); ok {
		return raw, kwargsWithout(arguments, "args")
	}
	return nil, arguments
}

// mcpResources advertises each collection as a readable resource.
func (g *Gateway) mcpResources(c echo.Context) []map[string]any {
	resources := []map[string]any{}
	for _, collection := range g.schema.Collections() {
		model, ok := g.schema.ModelForCollection(collection)
		if !ok {
			continue
		}
		resources = append(resources, map[string]any{
			"uri":         g.urlFor(c, "/"+collection),
			"name":        collection,
			"description": model.Description,
			"mimeType":    "application/json",
		})
	}
	return resources
}

// mcpResourcesRead resolves a resource URI back through the route
// classifier and returns the documents behind it.
func (g *Gateway) mcpResourcesRead(c echo.Context, req mcpRequest) error {
	var params mcpReadParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidParams, "invalid params"))
		}
	}
	if params.URI == "" {
		return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidParams, "uri is required"))
	}

	u, err := url.Parse(params.URI)
	if err != nil {
		return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidParams, "invalid uri"))
	}

	st := stateFrom(c)
	ctx := c.Request().Context()
	route := routing.Classify(u.EscapedPath(), nil)

	var payload any
	switch route.Kind {
	case routing.KindCollection:
		model, ok := g.schema.ModelForCollection(route.Collection)
		if !ok {
			return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidParams, fmt.Sprintf("unknown resource %q", params.URI)))
		}
		page, err := g.store.List(ctx, st.Tenant.Tenant, model.Name, db.ListOptions{})
		if err != nil {
			return c.JSON(http.StatusOK, mcpError(req.ID, mcpInternalError, "failed to read resource"))
		}
		payload = page.Data
	case routing.KindEntity:
		model, ok := g.schema.Model(route.Entity.Type)
		if !ok {
			return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidParams, fmt.Sprintf("unknown resource %q", params.URI)))
		}
		doc, err := g.coreGet(ctx, st.Tenant.Tenant, model, route.Entity.ID, false)
		if err != nil {
			typed := g.toTaxonomy(err)
			return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidParams, typed.Message))
		}
		payload = doc
	default:
		return c.JSON(http.StatusOK, mcpError(req.ID, mcpInvalidParams, fmt.Sprintf("unknown resource %q", params.URI)))
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return c.JSON(http.StatusOK, mcpError(req.ID, mcpInternalError, "failed to serialize resource"))
	}
	return c.JSON(http.StatusOK, mcpResult(req.ID, map[string]any{
		"contents": []map[string]any{{
			"uri":      params.URI,
			"mimeType": "application/json",
			"text":     string(text),
		}},
	}))
}
