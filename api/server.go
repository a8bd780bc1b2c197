// Package api assembles the gateway's HTTP surface: the echo server, the
// request pipeline (principal, tenant, rate limit, mutation confirmation),
// and the convention handlers that expose the same operations over browsable
// URLs, /rpc, /mcp, and CRUD REST paths.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/dot-do/gateway/common"
	"github.com/dot-do/gateway/config"
)

// NewEchoServer creates the echo instance with the standard middleware
// stack. Route registration happens separately in Gateway.SetupRoutes.
func NewEchoServer(cfg *config.GatewayConfig) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug

	// Logger middleware with standard format
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))

	// Recover middleware for panic recovery
	e.Use(middleware.Recover())

	// Body limit middleware
	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	// CORS middleware
	if len(cfg.CORS.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORS.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodPut,
				http.MethodDelete,
				http.MethodPatch,
				http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
				echo.HeaderAuthorization,
				"X-Tenant",
			},
		}))
	}

	// Request ID middleware
	e.Use(middleware.RequestID())

	e.Use(SecurityHeadersMiddleware())

	return e
}

// WithTracing attaches the otelecho middleware. Callers enable it only when
// the tracer provider was initialized.
func WithTracing(e *echo.Echo, serviceName string) {
	e.Use(otelecho.Middleware(serviceName))
}

// SecurityHeadersMiddleware adds security headers to responses
func SecurityHeadersMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")
			c.Response().Header().Set("X-XSS-Protection", "1; mode=block")

			return next(c)
		}
	}
}

// StartServer starts the echo server with the configured timeouts.
func StartServer(e *echo.Echo, cfg *config.GatewayConfig) error {
	s := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	common.Logger.Infof("Starting server on %s", s.Addr)
	return e.StartServer(s)
}

// GracefulShutdown performs a graceful shutdown of the Echo server
func GracefulShutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	common.Logger.Info("Shutting down server gracefully...")
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	common.Logger.Info("Server stopped")
	return nil
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service,omitempty"`
	Version string                 `json:"version,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}
