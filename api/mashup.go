package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dot-do/gateway/config"
	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/functions"
	"github.com/dot-do/gateway/routing"
)

// registerMashups exposes each configured mashup as a registry function, so
// a mashup is callable through every transport and not only its own URL.
func (g *Gateway) registerMashups() error {
	for name, def := range g.mashups {
		entry := functions.Entry{
			Name:        name,
			Description: def.Description,
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Handler: func(ctx context.Context, call *routing.FunctionCall) (any, error) {
				results, failures, err := g.runMashup(ctx, def)
				if err != nil {
					return nil, err
				}
				if len(failures) > 0 {
					results["errors"] = failures
				}
				return results, nil
			},
		}
		if err := g.registry.Register(entry); err != nil {
			return fmt.Errorf("failed to register mashup %q: %w", name, err)
		}
	}
	return nil
}

// handleMashup serves a composite endpoint assembled from its sources.
func (g *Gateway) handleMashup(c echo.Context) error {
	if c.Request().Method != http.MethodGet {
		return errMethodNotAllowed(c.Request().Method)
	}

	st := stateFrom(c)
	head, _ := splitHead(st.Route.Raw)
	def, ok := g.mashups[head]
	if !ok {
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown mashup %q", head)
	}

	results, failures, err := g.runMashup(c.Request().Context(), def)
	if err != nil {
		return err
	}

	opts := envelope.Options{
		Key:     def.Name,
		Data:    results,
		HasData: true,
	}
	if len(failures) > 0 {
		opts.Meta = map[string]any{"errors": failures}
	}
	return g.respond(c, http.StatusOK, opts)
}

// runMashup resolves every source and keys results by source name. A failed
// required source aborts the whole run; optional failures are collected for
// meta.errors so a flaky side feed cannot take the endpoint down.
func (g *Gateway) runMashup(ctx context.Context, def config.MashupDef) (map[string]any, map[string]string, error) {
	results := make(map[string]any, len(def.Sources))
	failures := map[string]string{}

	if def.Mode == "sequential" {
		for _, source := range def.Sources {
			value, err := g.fetchSource(ctx, source)
			if err != nil {
				if source.Required {
					return nil, nil, requiredSourceError(source, err)
				}
				failures[source.Name] = err.Error()
				continue
			}
			results[source.Name] = value
		}
		return results, failures, nil
	}

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	for _, source := range def.Sources {
		eg.Go(func() error {
			value, err := g.fetchSource(ctx, source)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if source.Required {
					return requiredSourceError(source, err)
				}
				failures[source.Name] = err.Error()
				return nil
			}
			results[source.Name] = value
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return results, failures, nil
}

func (g *Gateway) fetchSource(ctx context.Context, source config.MashupSource) (any, error) {
	if source.URL != "" {
		return g.fetch.GetJSON(ctx, source.URL, "", nil, "")
	}
	expr := source.Function
	if !strings.Contains(expr, "(") {
		expr += "()"
	}
	call, err := routing.ParseCall(expr)
	if err != nil {
		return nil, envelope.NewErrorf(envelope.CodeFunctionError, "source %q has an invalid function expression: %v", source.Name, err)
	}
	return g.registry.Call(ctx, call)
}

func requiredSourceError(source config.MashupSource, err error) error {
	var typed *envelope.Error
	if errors.As(err, &typed) {
		return typed
	}
	return envelope.NewErrorf(envelope.CodeFunctionError, "required source %q failed: %v", source.Name, err)
}
