package otel

import (
	"github.com/labstack/echo/v4"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
)

// GetTraceID extracts the OpenTelemetry trace ID from the current request,
// empty when tracing is off.
func GetTraceID(c echo.Context) string {
	sc := trace.SpanFromContext(c.Request().Context()).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// GetSpanID extracts the OpenTelemetry span ID from the current request,
// empty when tracing is off.
func GetSpanID(c echo.Context) string {
	sc := trace.SpanFromContext(c.Request().Context()).SpanContext()
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

// AddRouteToBaggage records the resolved tenant and route kind in OTel
// baggage so spans created further down the request, including upstream
// proxy calls, carry the gateway's routing decision.
func AddRouteToBaggage(c echo.Context, tenant, kind string) {
	ctx := c.Request().Context()
	bag := baggage.FromContext(ctx)

	if tenant != "" {
		if member, err := baggage.NewMember("gateway.tenant", tenant); err == nil {
			bag, _ = bag.SetMember(member)
		}
	}
	if kind != "" {
		if member, err := baggage.NewMember("gateway.route_kind", kind); err == nil {
			bag, _ = bag.SetMember(member)
		}
	}

	c.SetRequest(c.Request().WithContext(baggage.ContextWithBaggage(ctx, bag)))
}

// GetRouteFromBaggage reads back the tenant and route kind recorded by
// AddRouteToBaggage.
func GetRouteFromBaggage(c echo.Context) (tenant, kind string) {
	bag := baggage.FromContext(c.Request().Context())
	return bag.Member("gateway.tenant").Value(), bag.Member("gateway.route_kind").Value()
}
