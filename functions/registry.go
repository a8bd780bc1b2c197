// Package functions holds the transport-neutral function registry. An entry
// registered once becomes reachable three ways at no extra cost: as a
// browsable /name(args) URL, as a POST /rpc method, and as an MCP tool. The
// HTTP layer owns the per-transport framing; dispatch always lands here, so
// the three transports cannot drift apart.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/routing"
)

// Handler executes one registry entry. Tenant and principal travel on the
// context, arguments on the parsed call.
type Handler func(ctx context.Context, call *routing.FunctionCall) (any, error)

// Entry describes one callable function.
type Entry struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Example     string         `json:"example,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Handler     Handler        `json:"-"`
}

// Schema returns the entry's input schema, or a generic positional-args
// object schema when none was declared.
func (e Entry) Schema() map[string]any {
	if e.InputSchema != nil {
		return e.InputSchema
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"args": map[string]any{
				"type":        "array",
				"description": "positional arguments",
			},
		},
	}
}

// Registry is a concurrency-safe name to entry map.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Register adds an entry. Names must be non-empty and unique; a nil handler
// is refused because every transport assumes dispatch can run.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" {
		return errors.New("function entry requires a name")
	}
	if e.Handler == nil {
		return fmt.Errorf("function %q requires a handler", e.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Name]; exists {
		return fmt.Errorf("function %q is already registered", e.Name)
	}
	r.entries[e.Name] = e
	return nil
}

// Get looks up an entry by name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Entries returns all entries sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Call dispatches a parsed call to its entry. Unknown names yield
// FUNCTION_NOT_FOUND; handler failures are wrapped as FUNCTION_ERROR unless
// the handler already returned a typed taxonomy error, which passes through
// so handlers can signal 404s and validation failures themselves.
func (r *Registry) Call(ctx context.Context, call *routing.FunctionCall) (any, error) {
	entry, ok := r.Get(call.Name)
	if !ok {
		return nil, envelope.NewErrorf(envelope.CodeFunctionNotFound, "function %q is not registered", call.Name)
	}

	out, err := entry.Handler(ctx, call)
	if err != nil {
		var typed *envelope.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, envelope.NewErrorf(envelope.CodeFunctionError, "%s failed: %v", call.Name, err)
	}
	return out, nil
}

// CallValues dispatches by name with decoded JSON arguments, the form the
// RPC and MCP transports receive. Values are converted through the same
// classifier the URL parser uses, so "contact_abc123" arrives as an entity
// argument regardless of transport.
func (r *Registry) CallValues(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	return r.Call(ctx, BuildCall(name, args, kwargs))
}

// BuildCall assembles a FunctionCall from decoded JSON values.
func BuildCall(name string, args []any, kwargs map[string]any) *routing.FunctionCall {
	call := &routing.FunctionCall{Name: name, Kwargs: map[string]routing.Arg{}}
	for _, v := range args {
		call.Args = append(call.Args, argFromValue(v))
	}
	for k, v := range kwargs {
		call.Kwargs[k] = argFromValue(v)
	}
	return call
}

// argFromValue converts one decoded JSON value into a classified argument.
// Strings run through the URL classifier; numbers keep their numeric kind;
// everything else is carried as its JSON text.
func argFromValue(v any) routing.Arg {
	switch t := v.(type) {
	case nil:
		return routing.Arg{Kind: routing.ArgString, Value: ""}
	case string:
		return routing.ClassifyArg(t)
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return routing.Arg{Kind: routing.ArgNumber, Value: s, Number: t}
	case int:
		return routing.Arg{Kind: routing.ArgNumber, Value: strconv.Itoa(t), Number: float64(t)}
	case bool:
		return routing.Arg{Kind: routing.ArgString, Value: strconv.FormatBool(t)}
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return routing.Arg{Kind: routing.ArgString, Value: fmt.Sprintf("%v", t)}
		}
		return routing.Arg{Kind: routing.ArgString, Value: string(b)}
	}
}
