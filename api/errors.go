package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/dot-do/gateway/common"
	"github.com/dot-do/gateway/envelope"
	"github.com/dot-do/gateway/otel"
)

// HTTPErrorHandler folds every failure, typed taxonomy errors, echo's own
// HTTP errors and unexpected Go errors alike, into the uniform error
// envelope. Internal details never reach the wire; they go to the log.
func (g *Gateway) HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		common.Logger.WithError(err).Warn("error after response was committed")
		return
	}

	typed := g.toTaxonomy(err)
	if typed.Links == nil {
		typed.Links = map[string]string{}
	}
	if _, ok := typed.Links["home"]; !ok {
		typed.Links["home"] = g.urlFor(c, "/")
	}
	if _, ok := typed.Links["status"]; !ok {
		typed.Links["status"] = g.baseURL(c) + "/health"
	}

	if typed.RetryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(typed.RetryAfter))
	}

	entry := common.Logger.WithFields(logrus.Fields{
		"method":     c.Request().Method,
		"path":       c.Request().URL.Path,
		"code":       typed.Code,
		"status":     typed.Status,
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
	})
	if traceID := otel.GetTraceID(c); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if typed.Status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.Debug(typed.Message)
	}

	if werr := g.respond(c, typed.Status, envelope.Options{Error: typed}); werr != nil {
		common.Logger.WithError(werr).Error("failed to write error response")
	}
}

// toTaxonomy maps any error onto the response taxonomy. Echo's routing
// errors keep their status; everything untyped collapses to a generic 500 so
// wrapped driver errors never leak.
func (g *Gateway) toTaxonomy(err error) *envelope.Error {
	var typed *envelope.Error
	if errors.As(err, &typed) {
		return typed
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprintf("%v", he.Message)
		switch he.Code {
		case http.StatusNotFound:
			return envelope.NewError(envelope.CodeNotFound, "path not found")
		case http.StatusMethodNotAllowed:
			return envelope.NewErrorf(envelope.CodeMethodNotFound, "method is not supported on this path")
		case http.StatusUnauthorized:
			return envelope.NewError(envelope.CodeUnauthorized, msg)
		case http.StatusForbidden:
			return envelope.NewError(envelope.CodeForbidden, msg)
		case http.StatusTooManyRequests:
			return envelope.NewError(envelope.CodeRateLimited, msg)
		}
		if he.Code >= http.StatusInternalServerError {
			return envelope.NewError(envelope.CodeInternalError, "internal error")
		}
		return envelope.NewError(envelope.CodeBadRequest, msg).WithStatus(he.Code)
	}

	return envelope.AsError(err)
}
