package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/envelope"
)

// Scenario is one self-check the QA runner replays against the gateway's
// own router.
type Scenario struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Body        string `json:"body,omitempty"`
	WantStatus  int    `json:"wantStatus"`
}

type runResult struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Status   int    `json:"status"`
	Want     int    `json:"want"`
	Duration string `json:"duration"`
	Size     string `json:"size"`
	Excerpt  string `json:"excerpt,omitempty"`
}

const excerptLimit = 120

var qaMethods = []string{"examples/list", "schemas/list", "tests/list", "tests/run"}

// defaultScenarios exercises routes whose status does not depend on
// deployment configuration. Config-specific checks can be added through
// Options.
func defaultScenarios() []Scenario {
	return []Scenario{
		{Name: "landing", Description: "root discovery document", Method: http.MethodGet, Path: "/", WantStatus: http.StatusOK},
		{Name: "health", Description: "liveness endpoint", Method: http.MethodGet, Path: "/health", WantStatus: http.StatusOK},
		{Name: "me", Description: "caller identity", Method: http.MethodGet, Path: "/me", WantStatus: http.StatusOK},
		{Name: "contacts.list", Description: "collection listing", Method: http.MethodGet, Path: "/contacts", WantStatus: http.StatusOK},
		{Name: "contacts.schema", Description: "JSON Schema meta-resource", Method: http.MethodGet, Path: "/contacts/$schema", WantStatus: http.StatusOK},
		{Name: "contacts.count", Description: "count meta-resource", Method: http.MethodGet, Path: "/contacts/$count", WantStatus: http.StatusOK},
		{Name: "contacts.sort", Description: "sort permutations", Method: http.MethodGet, Path: "/contacts/$sort", WantStatus: http.StatusOK},
		{Name: "search", Description: "cross-collection search", Method: http.MethodGet, Path: "/search?q=probe", WantStatus: http.StatusOK},
		{Name: "rpc.methods", Description: "RPC method listing", Method: http.MethodGet, Path: "/rpc", WantStatus: http.StatusOK},
		{Name: "unknown.collection", Description: "missing collection is NOT_FOUND", Method: http.MethodGet, Path: "/widgets", WantStatus: http.StatusNotFound},
		{Name: "unknown.entity", Description: "missing document is NOT_FOUND", Method: http.MethodGet, Path: "/contacts/contact_zzzz", WantStatus: http.StatusNotFound},
		{Name: "unknown.meta", Description: "unknown meta-resource is NOT_FOUND", Method: http.MethodGet, Path: "/contacts/$nope", WantStatus: http.StatusNotFound},
	}
}

// handleQAList advertises the QA methods and the built-in scenarios.
func (g *Gateway) handleQAList(c echo.Context) error {
	names := make([]string, 0, len(g.scenarios))
	for _, s := range g.scenarios {
		names = append(names, s.Name)
	}
	return g.respond(c, http.StatusOK, envelope.Options{
		Key: "qa",
		Data: map[string]any{
			"methods":   qaMethods,
			"scenarios": names,
		},
		HasData: true,
		Links: map[string]string{
			"rpc": g.urlFor(c, "/rpc"),
		},
		Type: "qa",
		ID:   g.urlFor(c, "/qa"),
	})
}

// handleQACall routes a QA method. The body shape matches /rpc so the same
// clients can drive both.
func (g *Gateway) handleQACall(c echo.Context) error {
	var req rpcRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return envelope.NewError(envelope.CodeInvalidJSON, "request body is not valid JSON")
	}
	if len(req.Path) == 0 {
		return envelope.NewError(envelope.CodeInvalidRPCRequest, "path is required")
	}
	name := strings.Join(req.Path, "/")

	switch name {
	case "tests/list":
		total := int64(len(g.scenarios))
		return g.respond(c, http.StatusOK, envelope.Options{
			Key:     "tests",
			Data:    g.scenarios,
			HasData: true,
			Total:   &total,
			Meta:    map[string]any{"method": name},
		})
	case "examples/list":
		examples := []map[string]string{}
		for _, e := range g.registry.Entries() {
			if e.Example == "" {
				continue
			}
			examples = append(examples, map[string]string{
				"name":        e.Name,
				"description": e.Description,
				"example":     g.urlFor(c, "/"+e.Example),
			})
		}
		total := int64(len(examples))
		return g.respond(c, http.StatusOK, envelope.Options{
			Key:     "examples",
			Data:    examples,
			HasData: true,
			Total:   &total,
			Meta:    map[string]any{"method": name},
		})
	case "schemas/list":
		schemas := map[string]any{}
		for _, collection := range g.schema.Collections() {
			if model, ok := g.schema.ModelForCollection(collection); ok {
				schemas[collection] = model.JSONSchema()
			}
		}
		return g.respond(c, http.StatusOK, envelope.Options{
			Key:     "schemas",
			Data:    schemas,
			HasData: true,
			Meta:    map[string]any{"method": name},
		})
	case "tests/run":
		names := make([]string, 0, len(req.Args))
		for _, arg := range req.Args {
			if s, ok := arg.(string); ok && s != "" {
				names = append(names, s)
			}
		}
		result, err := g.runScenarios(c, names)
		if err != nil {
			return err
		}
		return g.respond(c, http.StatusOK, envelope.Options{
			Key:     "run",
			Data:    result,
			HasData: true,
			Meta:    map[string]any{"method": name},
		})
	default:
		return envelope.NewErrorf(envelope.CodeFunctionNotFound, "qa method %q is not registered", name)
	}
}

// runScenarios replays scenarios through the mounted router in process, a
// bounded number at a time. An empty names list runs everything.
func (g *Gateway) runScenarios(c echo.Context, names []string) (map[string]any, error) {
	if g.server == nil {
		return nil, envelope.NewError(envelope.CodeInternalError, "qa runner is not mounted")
	}

	selected := g.scenarios
	if len(names) > 0 {
		byName := make(map[string]Scenario, len(g.scenarios))
		for _, s := range g.scenarios {
			byName[s.Name] = s
		}
		selected = make([]Scenario, 0, len(names))
		for _, name := range names {
			s, ok := byName[name]
			if !ok {
				return nil, envelope.NewErrorf(envelope.CodeBadRequest, "unknown scenario %q", name)
			}
			selected = append(selected, s)
		}
	}

	results := make([]runResult, len(selected))
	start := time.Now()
	err := g.pool.Run(c.Request().Context(), len(selected), func(ctx context.Context, index int) error {
		results[index] = g.runScenario(selected[index])
		return nil
	})
	if err != nil {
		return nil, err
	}

	passed := 0
	for _, r := range results {
		if r.OK {
			passed++
		}
	}
	return map[string]any{
		"run":      uuid.NewString(),
		"total":    len(selected),
		"passed":   passed,
		"failed":   len(selected) - passed,
		"duration": time.Since(start).String(),
		"results":  results,
	}, nil
}

func (g *Gateway) runScenario(s Scenario) runResult {
	var body io.Reader
	if s.Body != "" {
		body = strings.NewReader(s.Body)
	}
	req := httptest.NewRequest(s.Method, s.Path, body)
	if s.Body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()

	start := time.Now()
	g.server.ServeHTTP(rec, req)

	return runResult{
		Name:     s.Name,
		OK:       rec.Code == s.WantStatus,
		Status:   rec.Code,
		Want:     s.WantStatus,
		Duration: time.Since(start).String(),
		Size:     humanize.Bytes(uint64(rec.Body.Len())),
		Excerpt:  excerpt(rec.Body.String()),
	}
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= excerptLimit {
		return s
	}
	return strings.ToValidUTF8(s[:excerptLimit], "") + "..."
}
