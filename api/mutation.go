package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/confirm"
	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/query"
	"github.com/dot-do/gateway/schema"
)

// confirmGate runs the two-phase protocol for GET mutations. Without a
// confirm token the response is a signed preview; with a valid token the
// mutation executes against the query's data. The token binds action, type,
// data, tenant and caller, so a preview can never be replayed elsewhere.
func (g *Gateway) confirmGate(c echo.Context, action string, model *schema.Model, cancelPath string, run func(input map[string]any) error) error {
	if g.signer == nil {
		return envelope.NewError(envelope.CodeForbidden, "mutating actions are disabled: no mutation secret is configured")
	}

	st := stateFrom(c)
	qp := c.QueryParams()

	data := map[string]string{}
	for key, vals := range qp {
		if key == "confirm" || len(vals) == 0 {
			continue
		}
		data[key] = vals[0]
	}

	params := confirm.Params{
		Action: action,
		Type:   model.Name,
		Data:   data,
		Tenant: st.Tenant.Tenant,
		UserID: st.Principal.ID,
	}

	token := qp.Get("confirm")
	if token == "" {
		preview := g.signer.BuildPreview(params, g.requestURL(c), g.urlFor(c, cancelPath), time.Now())
		ttl := int(g.signer.TTL().Seconds())
		return g.respond(c, http.StatusOK, envelope.Options{
			Key:     "confirm",
			Data:    preview,
			HasData: true,
			Links: map[string]string{
				"execute": preview.Execute,
				"cancel":  preview.Cancel,
			},
			Meta: map[string]any{"expiresIn": ttl},
		})
	}

	if !g.signer.Validate(token, params, time.Now()) {
		return envelope.NewError(envelope.CodeBadRequest, "confirmation token is invalid or expired; repeat the request without confirm for a fresh preview")
	}

	return run(mutationInput(data))
}

// mutationInput converts the confirmed query data into a document input:
// reserved mode and pagination keys drop out, values coerce to their typed
// forms.
func mutationInput(data map[string]string) map[string]any {
	input := make(map[string]any, len(data))
	for key, val := range data {
		if query.IsReservedKey(key) {
			continue
		}
		input[key] = query.Coerce(val)
	}
	return input
}
