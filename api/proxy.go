package api

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/upstream"
)

// proxyModeParams are gateway concerns the upstream never sees. Pagination
// and filter parameters pass through untouched.
var proxyModeParams = []string{"raw", "debug", "stream", "domains", "format", "array", "confirm"}

// handleProxy forwards a read under a configured prefix to its upstream and
// wraps the JSON reply in the standard envelope. The suffix is validated in
// its raw escaped form so encoded traversal cannot sneak past the check.
func (g *Gateway) handleProxy(c echo.Context) error {
	if c.Request().Method != http.MethodGet {
		return errMethodNotAllowed(c.Request().Method)
	}

	st := stateFrom(c)
	head, rest := splitHead(st.Route.Raw)
	target := g.proxies[head]
	if target == nil {
		return envelope.NewErrorf(envelope.CodeNotFound, "unknown proxy %q", head)
	}

	suffix := "/"
	if rest != "" {
		suffix += rest
	}
	if err := upstream.ValidatePath(suffix); err != nil {
		return err
	}
	decoded := suffix
	if u, err := url.PathUnescape(suffix); err == nil {
		decoded = u
	}
	if err := upstream.CheckAllowed(decoded, target.route.Allow); err != nil {
		return err
	}

	payload, err := target.client.GetJSON(c.Request().Context(), target.route.Upstream, suffix, forwardQuery(c.QueryParams()), target.route.Token)
	if err != nil {
		return err
	}

	return g.respond(c, http.StatusOK, envelope.Options{
		Key:     "data",
		Data:    payload,
		HasData: true,
	})
}

func forwardQuery(qp url.Values) url.Values {
	if len(qp) == 0 {
		return nil
	}
	fq := url.Values{}
	for key, values := range qp {
		fq[key] = values
	}
	for _, key := range proxyModeParams {
		fq.Del(key)
	}
	if len(fq) == 0 {
		return nil
	}
	return fq
}
