package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/common"
	"github.com/dot-do/gateway/config"
	"github.com/dot-do/gateway/confirm"
	"github.com/dot-do/gateway/db"
	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/functions"
	"github.com/dot-do/gateway/ids"
	"github.com/dot-do/gateway/queue"
	"github.com/dot-do/gateway/ratelimit"
	"github.com/dot-do/gateway/routing"
	"github.com/dot-do/gateway/schema"
	"github.com/dot-do/gateway/security"
	"github.com/dot-do/gateway/upstream"
	"github.com/dot-do/gateway/worker"
)

const qaWorkers = 4

// Options carries the bindings a Gateway is assembled from. Config is
// required; every other field has a working in-process default so tests and
// single-binary deployments need no external services.
type Options struct {
	Config    *config.GatewayConfig
	Schema    *schema.Schema
	Store     db.DatabaseBinding
	Events    db.EventsBinding
	Recorder  db.EventRecorder
	Cache     db.DiscoveryCache
	Limiter   ratelimit.Limiter
	Publisher queue.Publisher
	Functions *functions.Registry

	// Scenarios appends deployment-specific checks to the built-in QA set.
	Scenarios []Scenario
}

// Gateway is the request brain behind every route. It owns the schema, the
// function registry and the storage bindings, and turns classified routes
// into enveloped responses.
type Gateway struct {
	cfg      *config.GatewayConfig
	schema   *schema.Schema
	types    *ids.TypeRegistry
	codec    *ids.Codec
	signer   *confirm.Signer
	registry *functions.Registry
	jwt      *security.JWTService

	store     db.DatabaseBinding
	history   db.HistoryProvider
	events    db.EventsBinding
	recorder  db.EventRecorder
	cache     db.DiscoveryCache
	limiter   ratelimit.Limiter
	publisher queue.Publisher

	proxies    map[string]*proxyTarget
	mashups    map[string]config.MashupDef
	categories map[string]bool

	apiType   string
	scenarios []Scenario
	pool      *worker.Pool
	fetch     *upstream.Client

	// server is the echo instance SetupRoutes mounted on; the QA runner
	// replays scenarios through it in process.
	server *echo.Echo
}

type proxyTarget struct {
	route  config.ProxyRoute
	client *upstream.Client
}

// New assembles a Gateway from the given options.
func New(opts Options) (*Gateway, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("gateway requires a config")
	}

	s := opts.Schema
	if s == nil {
		s = schema.Default()
	}

	types, err := ids.NewTypeRegistry(s.TypeNums())
	if err != nil {
		return nil, fmt.Errorf("failed to build type registry: %w", err)
	}
	codec, err := ids.NewCodec(0)
	if err != nil {
		return nil, fmt.Errorf("failed to build id codec: %w", err)
	}

	g := &Gateway{
		cfg:        cfg,
		schema:     s,
		types:      types,
		codec:      codec,
		registry:   opts.Functions,
		store:      opts.Store,
		events:     opts.Events,
		recorder:   opts.Recorder,
		cache:      opts.Cache,
		limiter:    opts.Limiter,
		publisher:  opts.Publisher,
		proxies:    map[string]*proxyTarget{},
		mashups:    map[string]config.MashupDef{},
		categories: map[string]bool{},
		pool:       worker.NewPool(qaWorkers),
		fetch:      upstream.NewClient(0),
		scenarios:  append(defaultScenarios(), opts.Scenarios...),
	}

	if g.registry == nil {
		g.registry = functions.NewRegistry()
	}
	if g.store == nil {
		g.store = db.NewMemoryStore()
	}
	if h, ok := g.store.(db.HistoryProvider); ok {
		g.history = h
	}
	if g.events == nil || g.recorder == nil {
		mem := db.NewMemoryEvents()
		if g.events == nil {
			g.events = mem
		}
		if g.recorder == nil {
			g.recorder = mem
		}
	}
	if g.cache == nil {
		g.cache = db.NewLRUCache(cfg.Events.CacheTTL)
	}
	if g.publisher == nil {
		g.publisher = queue.NopPublisher{}
	}

	if cfg.Mutation.Secret != "" {
		g.signer = confirm.NewSigner(cfg.Mutation.Secret, cfg.Mutation.TTL)
	}
	if cfg.Auth.Secret != "" {
		g.jwt = security.NewJWTService(cfg.Auth.Secret)
	}

	for _, p := range cfg.Proxies {
		prefix := strings.Trim(p.Prefix, "/")
		if prefix == "" || p.Upstream == "" {
			return nil, fmt.Errorf("proxy route %q requires a prefix and an upstream", p.Prefix)
		}
		if _, exists := g.proxies[prefix]; exists {
			return nil, fmt.Errorf("proxy prefix %q is declared twice", prefix)
		}
		g.proxies[prefix] = &proxyTarget{route: p, client: upstream.NewClient(p.Timeout)}
	}

	for _, m := range cfg.Mashups {
		if m.Name == "" || len(m.Sources) == 0 {
			return nil, fmt.Errorf("mashup %q requires a name and at least one source", m.Name)
		}
		if _, exists := g.mashups[m.Name]; exists {
			return nil, fmt.Errorf("mashup %q is declared twice", m.Name)
		}
		g.mashups[m.Name] = m
	}
	if err := g.registerMashups(); err != nil {
		return nil, err
	}

	for _, cat := range cfg.Events.Categories {
		g.categories[cat] = true
	}

	g.apiType = g.conventionType()
	return g, nil
}

// conventionType names the enabled conventions, sorted and joined with "+",
// so clients can discover what the deployment speaks from any response.
func (g *Gateway) conventionType() string {
	names := []string{"crud", "events", "functions"}
	if len(g.mashups) > 0 {
		names = append(names, "mashup")
	}
	if len(g.proxies) > 0 {
		names = append(names, "proxy")
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}

// Close releases the gateway's external connections.
func (g *Gateway) Close() error {
	var errs []error
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.publisher != nil {
		if err := g.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.limiter != nil {
		g.limiter.Close()
	}
	return errors.Join(errs...)
}

// SetupRoutes mounts every surface on the echo instance. Named surfaces get
// explicit mounts; everything else funnels through the catch-all dispatcher,
// which re-runs the same handlers for tenant-prefixed paths.
func (g *Gateway) SetupRoutes(e *echo.Echo) {
	g.server = e

	e.HTTPErrorHandler = g.HTTPErrorHandler

	if g.cfg.Auth.Required && g.jwt != nil {
		e.Use(g.requireAuth())
	}
	e.Use(g.requestState())
	if g.cfg.RateLimit.Enabled && g.limiter != nil {
		e.Use(g.rateLimit())
	}

	e.GET("/health", g.handleHealth)
	e.GET("/", g.handleLanding)
	e.GET("/me", g.handleMe)

	e.GET("/rpc", g.handleRPCList)
	e.POST("/rpc", g.handleRPCCall)
	e.POST("/mcp", g.handleMCP)

	e.GET("/qa", g.handleQAList)
	e.POST("/qa", g.handleQACall)

	e.GET("/events", g.handleEvents)
	e.GET("/events/:type", g.handleEvents)
	if g.cfg.Events.TopLevelRoutes {
		for _, cat := range g.cfg.Events.Categories {
			e.GET("/"+cat, g.handleCategory)
		}
	}

	for prefix := range g.proxies {
		e.GET("/"+prefix, g.handleProxy)
		e.GET("/"+prefix+"/*", g.handleProxy)
	}
	for name := range g.mashups {
		e.GET("/"+name, g.handleMashup)
	}

	e.Any("/*", g.dispatch)
}

// dispatch routes every request the explicit mounts did not claim: schema
// collections, entities, actions, meta-resources, function calls, and all of
// the above under a "/~tenant" prefix.
func (g *Gateway) dispatch(c echo.Context) error {
	st := stateFrom(c)
	method := c.Request().Method

	// Reserved surfaces win over schema collections, so a model named
	// "events" can never shadow the events feed.
	head, rest := splitHead(st.Route.Raw)
	switch {
	case head == "health" && rest == "":
		if method != http.MethodGet {
			return errMethodNotAllowed(method)
		}
		return g.handleHealth(c)
	case head == "me" && rest == "":
		if method != http.MethodGet {
			return errMethodNotAllowed(method)
		}
		return g.handleMe(c)
	case head == "rpc" && rest == "":
		switch method {
		case http.MethodGet:
			return g.handleRPCList(c)
		case http.MethodPost:
			return g.handleRPCCall(c)
		}
		return errMethodNotAllowed(method)
	case head == "mcp" && rest == "":
		if method != http.MethodPost {
			return errMethodNotAllowed(method)
		}
		return g.handleMCP(c)
	case head == "qa" && rest == "":
		switch method {
		case http.MethodGet:
			return g.handleQAList(c)
		case http.MethodPost:
			return g.handleQACall(c)
		}
		return errMethodNotAllowed(method)
	case head == "events":
		if method != http.MethodGet {
			return errMethodNotAllowed(method)
		}
		return g.handleEvents(c)
	case g.cfg.Events.TopLevelRoutes && g.categories[head] && rest == "":
		if method != http.MethodGet {
			return errMethodNotAllowed(method)
		}
		return g.handleCategory(c)
	case g.proxies[head] != nil:
		return g.handleProxy(c)
	case g.mashups[head].Name != "" && rest == "":
		if method != http.MethodGet {
			return errMethodNotAllowed(method)
		}
		return g.handleMashup(c)
	}

	switch st.Route.Kind {
	case routing.KindCollection:
		return g.handleCollection(c)
	case routing.KindEntity:
		return g.entityMethods(c, st.Route.Entity)
	case routing.KindEntityAction:
		return g.handleEntityAction(c)
	case routing.KindCollectionAction:
		return g.handleCollectionAction(c)
	case routing.KindMeta:
		return g.handleMeta(c)
	case routing.KindFunctionCall:
		return g.handleFunctionCall(c)
	case routing.KindSearch:
		return g.handleSearch(c)
	default:
		return g.handleUnknown(c)
	}
}

// handleUnknown covers the two path shapes the classifier cannot tag: the
// bare root (the landing page, also reachable as "/~tenant") and the three
// segment "/{plural}/{id}/{relation}" form.
func (g *Gateway) handleUnknown(c echo.Context) error {
	st := stateFrom(c)
	method := c.Request().Method

	trimmed := strings.Trim(st.Route.Path, "/")
	if trimmed == "" {
		if method != http.MethodGet {
			return errMethodNotAllowed(method)
		}
		return g.handleLanding(c)
	}

	segs := strings.Split(trimmed, "/")
	if len(segs) == 3 && method == http.MethodGet {
		collection := unescape(segs[0])
		if model, ok := g.schema.ModelForCollection(collection); ok {
			if id, err := ids.Parse(unescape(segs[1])); err == nil && id.Collection == model.Collection() {
				if rel, ok := model.Relations[unescape(segs[2])]; ok {
					return g.listRelation(c, model, &id, rel)
				}
			}
		}
	}

	return envelope.NewErrorf(envelope.CodeInvalidPath, "cannot route path %q", st.Route.Path)
}

func errMethodNotAllowed(method string) error {
	return envelope.NewErrorf(envelope.CodeMethodNotFound, "method %s is not supported on this path", method)
}

// splitHead returns the first path segment (decoded) and the escaped
// remainder after it. Proxy forwarding needs the remainder escaped.
func splitHead(raw string) (head, rest string) {
	trimmed := strings.TrimPrefix(raw, "/")
	if trimmed == "" {
		return "", ""
	}
	seg, remainder, _ := strings.Cut(trimmed, "/")
	return unescape(seg), remainder
}

func unescape(seg string) string {
	if u, err := url.PathUnescape(seg); err == nil {
		return u
	}
	return seg
}

func (g *Gateway) logWarn(err error, msg string) {
	if err != nil {
		common.Logger.WithError(err).Warn(msg)
	}
}
