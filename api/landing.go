package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/version"
)

// handleLanding serves the root discovery document: every browsable surface
// under discover, the callable functions with example URLs, and the other
// transports under meta. The same payload answers "/" and "/~tenant".
func (g *Gateway) handleLanding(c echo.Context) error {
	discover := map[string]string{}
	for _, collection := range g.schema.Collections() {
		discover[collection] = g.urlFor(c, "/"+collection)
	}
	discover["events"] = g.urlFor(c, "/events")
	if g.cfg.Events.TopLevelRoutes {
		for category := range g.categories {
			discover[category] = g.urlFor(c, "/"+category)
		}
	}
	for name := range g.mashups {
		discover[name] = g.urlFor(c, "/"+name)
	}
	for prefix := range g.proxies {
		discover[prefix] = g.urlFor(c, "/"+prefix)
	}

	fns := map[string]string{}
	for _, e := range g.registry.Entries() {
		if e.Example != "" {
			fns[e.Name] = g.urlFor(c, "/"+e.Example)
		} else {
			fns[e.Name] = g.urlFor(c, "/"+e.Name+"()")
		}
	}

	build := version.GetBuildInfo()
	return g.respond(c, http.StatusOK, envelope.Options{
		Type: g.apiType,
		ID:   g.urlFor(c, "/"),
		Links: map[string]string{
			"rpc":    g.urlFor(c, "/rpc"),
			"mcp":    g.urlFor(c, "/mcp"),
			"events": g.urlFor(c, "/events"),
			"qa":     g.urlFor(c, "/qa"),
			"me":     g.urlFor(c, "/me"),
			"health": g.urlFor(c, "/health"),
			"search": g.urlFor(c, "/search"),
		},
		Key:      "functions",
		Data:     fns,
		HasData:  true,
		Discover: discover,
		Meta: map[string]any{
			"transports": map[string]string{
				"urls": g.urlFor(c, "/"),
				"rpc":  g.urlFor(c, "/rpc"),
				"mcp":  g.urlFor(c, "/mcp"),
			},
			"goVersion":   build.GoVersion,
			"mainVersion": build.MainVersion,
		},
	})
}

// handleHealth stays outside the envelope so load balancers and the auth
// skipper can probe it without credentials or content negotiation.
func (g *Gateway) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: g.cfg.Service.Name,
		Version: g.cfg.Service.Version,
	})
}

// handleMe reflects the resolved caller: principal claims plus how the
// tenant was derived.
func (g *Gateway) handleMe(c echo.Context) error {
	st := stateFrom(c)
	return g.respond(c, http.StatusOK, envelope.Options{
		Key:     "me",
		Data:    st.Principal.UserContext(),
		HasData: true,
		Type:    "me",
		ID:      g.urlFor(c, "/me"),
		Meta: map[string]any{
			"tenant": st.Tenant.Tenant,
			"source": st.Tenant.Source,
		},
	})
}
