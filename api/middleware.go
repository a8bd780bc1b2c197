package api

import (
	"math"
	"strconv"
	"strings"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/common"
	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/otel"
	"github.com/dot-do/gateway/ratelimit"
	"github.com/dot-do/gateway/routing"
	"github.com/dot-do/gateway/security"
)

// tenantHeader names the header tenant override.
const tenantHeader = "X-Tenant"

// requestState classifies the path, resolves the caller and the tenant, and
// parks the result on the echo context for every handler downstream. The
// principal also rides the request context so storage and functions can read
// it without echo.
func (g *Gateway) requestState() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			principal, err := g.resolvePrincipal(c)
			if err != nil {
				return err
			}

			route := routing.Classify(c.Request().URL.EscapedPath(), c.QueryParams())
			resolved := routing.ResolveTenant(
				route.Tenant,
				c.Request().Header.Get(tenantHeader),
				c.Request().Host,
				principal.Org,
				routing.TenantConfig{
					BaseDomains:      g.cfg.Tenant.BaseDomains,
					SystemSubdomains: g.cfg.Tenant.SystemSubdomains,
				},
			)
			if err := g.checkTenant(resolved); err != nil {
				return err
			}

			c.Set(stateContextKey, &requestState{
				Route:     route,
				Tenant:    resolved,
				Principal: principal,
				Start:     start,
			})
			ctx := security.WithPrincipal(c.Request().Context(), principal)
			c.SetRequest(c.Request().WithContext(ctx))
			otel.AddRouteToBaggage(c, resolved.Tenant, string(route.Kind))

			return next(c)
		}
	}
}

// resolvePrincipal parses a presented bearer token. No token means an
// anonymous caller; a token that fails validation is a hard 401 rather than
// a silent downgrade.
func (g *Gateway) resolvePrincipal(c echo.Context) (security.Principal, error) {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if auth == "" || g.jwt == nil {
		return security.Anonymous, nil
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return security.Anonymous, nil
	}
	p, err := g.jwt.ParsePrincipal(strings.TrimSpace(token))
	if err != nil {
		return security.Anonymous, envelope.NewError(envelope.CodeUnauthorized, "invalid bearer token")
	}
	return p, nil
}

// checkTenant enforces the known-tenant allowlist for client-chosen sources.
// Subdomain and principal tenants are operator controlled and pass through.
func (g *Gateway) checkTenant(res routing.TenantResolution) error {
	if len(g.cfg.Tenant.Known) == 0 {
		return nil
	}
	if res.Source != routing.TenantSourcePath && res.Source != routing.TenantSourceHeader {
		return nil
	}
	for _, known := range g.cfg.Tenant.Known {
		if known == res.Tenant {
			return nil
		}
	}
	return envelope.NewErrorf(envelope.CodeNotFound, "unknown tenant %q", res.Tenant)
}

// rateLimit applies the per-tenant, per-address limit. The limiter failing
// is not the caller's problem: the request proceeds and the failure is
// logged.
func (g *Gateway) rateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, allowed := range g.cfg.RateLimit.Allow {
				if allowed != "" && strings.HasPrefix(path, allowed) {
					return next(c)
				}
			}

			st := stateFrom(c)
			key := ratelimit.Key(st.Tenant.Tenant, c.RealIP())
			res, err := g.limiter.Allow(c.Request().Context(), key)
			if err != nil {
				common.Logger.WithError(err).Warn("rate limiter unavailable, letting request through")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

			if !res.Allowed {
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				return envelope.NewError(envelope.CodeRateLimited, "rate limit exceeded").WithRetryAfter(retry)
			}
			return next(c)
		}
	}
}

// requireAuth rejects anonymous requests when auth.required is set. The
// health probe stays open so orchestrators can always reach it.
func (g *Gateway) requireAuth() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:  []byte(g.cfg.Auth.Secret),
		TokenLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return envelope.NewError(envelope.CodeUnauthorized, "authentication required")
		},
	})
}
