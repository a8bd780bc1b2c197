package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/db"
	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/routing"
	"github.com/dot-do/gateway/schema"
	"github.com/dot-do/gateway/security"
)

const stateContextKey = "gateway.state"

// requestState is the per-request resolution the state middleware computes
// once: the classified route, the winning tenant, and the caller.
type requestState struct {
	Route     routing.ParsedRoute
	Tenant    routing.TenantResolution
	Principal security.Principal
	Start     time.Time
}

// stateFrom returns the request's resolved state. Handlers invoked outside
// the middleware chain, as in direct handler tests, get a state computed on
// the spot.
func stateFrom(c echo.Context) *requestState {
	if st, ok := c.Get(stateContextKey).(*requestState); ok {
		return st
	}
	st := &requestState{
		Route:     routing.Classify(c.Request().URL.EscapedPath(), c.QueryParams()),
		Tenant:    routing.TenantResolution{Tenant: routing.DefaultTenant, Source: routing.TenantSourceDefault},
		Principal: security.Anonymous,
		Start:     time.Now(),
	}
	c.Set(stateContextKey, st)
	return st
}

// baseURL is the absolute origin links are built against. A configured
// public URL wins so links survive reverse proxies; otherwise the request's
// own scheme and host are echoed back.
func (g *Gateway) baseURL(c echo.Context) string {
	if pub := g.cfg.Server.PublicURL; pub != "" {
		return strings.TrimRight(pub, "/")
	}
	host := c.Request().Host
	if host == "" {
		host = "localhost"
	}
	return c.Scheme() + "://" + host
}

// urlFor builds an absolute URL for a gateway path, carrying the resolved
// tenant as a "/~slug" prefix. Subdomain tenants skip the prefix because the
// host already scopes them.
func (g *Gateway) urlFor(c echo.Context, path string) string {
	st := stateFrom(c)
	prefix := ""
	if st.Tenant.Tenant != routing.DefaultTenant && st.Tenant.Source != routing.TenantSourceSubdomain {
		prefix = "/~" + st.Tenant.Tenant
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if path == "/" && prefix != "" {
		return g.baseURL(c) + prefix
	}
	return g.baseURL(c) + prefix + path
}

// requestURL reconstructs the absolute URL of the current request, query
// string included.
func (g *Gateway) requestURL(c echo.Context) string {
	return g.baseURL(c) + c.Request().URL.RequestURI()
}

// apiName derives the deployment name shown in every envelope: the
// registered subdomain when the host sits under a configured base domain,
// else the first host label, else the configured service name.
func (g *Gateway) apiName(c echo.Context) string {
	host := c.Request().Host
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host, "]") {
		host = host[:i]
	}
	for _, base := range g.cfg.Tenant.BaseDomains {
		if sub, ok := strings.CutSuffix(host, "."+base); ok && sub != "" && !strings.Contains(sub, ".") {
			return sub
		}
	}
	if host != "" {
		label, _, _ := strings.Cut(host, ".")
		if label != "" {
			return label
		}
	}
	return g.cfg.Service.Name
}

func (g *Gateway) apiInfo(c echo.Context) *envelope.APIInfo {
	return &envelope.APIInfo{
		Name:        g.apiName(c),
		Type:        g.apiType,
		Version:     g.cfg.Service.Version,
		Description: g.cfg.Service.Description,
	}
}

// respond fills the envelope's ambient fields and writes it in the
// requested presentation mode. Raw wins over every other mode; stream and
// markdown reshape the full envelope.
func (g *Gateway) respond(c echo.Context, status int, opts envelope.Options) error {
	st := stateFrom(c)

	if opts.API == nil {
		opts.API = g.apiInfo(c)
	}
	if opts.Links == nil {
		opts.Links = map[string]string{}
	}
	if _, ok := opts.Links["self"]; !ok {
		opts.Links["self"] = g.requestURL(c)
	}
	if _, ok := opts.Links["home"]; !ok {
		opts.Links["home"] = g.urlFor(c, "/")
	}
	if opts.User == nil {
		opts.User = st.Principal.UserContext()
	}
	if hasFlag(c, "debug") {
		opts.Debug = envelope.BuildDebug(c.Request().Method, g.requestURL(c), c.Request().Header, true, st.Start)
	}

	env := envelope.New(opts)

	if hasFlag(c, "domains") {
		rw := &envelope.DomainRewriter{
			Suffix:    g.cfg.Tenant.DomainSuffix,
			Overrides: g.cfg.Tenant.DomainMap,
		}
		rw.Apply(env)
	}

	switch {
	case hasFlag(c, "raw"):
		return c.JSON(status, env.RawPayload())
	case hasFlag(c, "stream"):
		return streamEnvelope(c, status, env)
	case c.QueryParam("format") == "md":
		return c.Blob(status, "text/markdown; charset=utf-8", []byte(renderMarkdown(env)))
	}
	return c.JSON(status, env)
}

func hasFlag(c echo.Context, name string) bool {
	return c.QueryParams().Has(name)
}

// collectionItems projects stored documents into browse items: an absolute
// URL, the raw id, and the model's display string.
func (g *Gateway) collectionItems(c echo.Context, model *schema.Model, docs []map[string]any) []envelope.CollectionItem {
	items := make([]envelope.CollectionItem, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc["id"].(string)
		items = append(items, envelope.CollectionItem{
			URL:  g.urlFor(c, "/"+id),
			ID:   id,
			Name: model.Display(doc),
		})
	}
	return items
}

// respondEntity writes a single-document envelope. Reads use the "data"
// key; mutation results use the model name so the action taken is visible in
// the payload shape.
func (g *Gateway) respondEntity(c echo.Context, model *schema.Model, doc map[string]any, key string, status int) error {
	id, _ := doc["id"].(string)
	collection := model.Collection()
	self := g.urlFor(c, "/"+id)

	links := map[string]string{
		"self":       self,
		"collection": g.urlFor(c, "/"+collection),
		"schema":     g.urlFor(c, "/"+collection+"/$schema"),
		"history":    g.urlFor(c, "/"+id+"/$history"),
		"events":     g.urlFor(c, "/"+id+"/$events"),
	}
	for name := range model.Relations {
		links[name] = g.urlFor(c, "/"+id+"/"+name)
	}
	actions := map[string]any{
		"update": g.urlFor(c, "/"+id+"/update"),
		"delete": g.urlFor(c, "/"+id+"/delete"),
	}

	return g.respond(c, status, envelope.Options{
		Type:    model.Name,
		ID:      self,
		Links:   links,
		Key:     key,
		Data:    doc,
		HasData: true,
		Actions: actions,
	})
}

// respondCollection writes a paginated collection envelope. The default view
// is the name-to-URL map; "?array" switches to full items, and the options
// block always links the other view.
func (g *Gateway) respondCollection(c echo.Context, model *schema.Model, page db.Page, status int) error {
	items := g.collectionItems(c, model, page.Data)

	arrayView := hasFlag(c, "array")
	var data any
	if arrayView {
		data = items
	} else {
		data = envelope.MapView(items)
	}

	collection := model.Collection()
	total := int64(page.Total)
	limit := page.Limit
	offset := page.Offset
	hasMore := page.HasMore
	pageNum := 1
	if limit > 0 {
		pageNum = offset/limit + 1
	}

	self := g.requestURL(c)
	links := map[string]string{
		"self":   self,
		"schema": g.urlFor(c, "/"+collection+"/$schema"),
		"count":  g.urlFor(c, "/"+collection+"/$count"),
	}
	if hasMore {
		links["next"] = withQueryParam(self, "offset", strconv.Itoa(offset+limit))
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		links["prev"] = withQueryParam(self, "offset", strconv.Itoa(prev))
	}

	return g.respond(c, status, envelope.Options{
		Type:    collection,
		ID:      g.urlFor(c, "/"+collection),
		Links:   links,
		Key:     collection,
		Data:    data,
		HasData: true,
		Total:   &total,
		Limit:   &limit,
		Offset:  &offset,
		Page:    &pageNum,
		HasMore: &hasMore,
		Actions: map[string]any{
			"create": g.urlFor(c, "/"+collection+"/create"),
		},
		Options: envelope.ViewOptions(self, arrayView),
	})
}

// withQueryParam returns the URL with one query parameter set, replacing any
// existing value.
func withQueryParam(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// withCursor swaps pagination state on a URL for cursor navigation: the
// given cursor is set and the competing cursor and offset are dropped.
func withCursor(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Del("after")
	q.Del("before")
	q.Del("offset")
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
