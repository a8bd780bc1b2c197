// Package cli wires the gateway binary: configuration loading, storage and
// queue bindings, the HTTP server lifecycle, and the auxiliary commands for
// tailing change events and printing build information.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags
//  2. Environment variables (GATEWAY_ prefix)
//  3. Configuration file values
//  4. Built-in defaults
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dot-do/gateway/api"
	"github.com/dot-do/gateway/common"
	"github.com/dot-do/gateway/config"
	"github.com/dot-do/gateway/db"
	"github.com/dot-do/gateway/otel"
	"github.com/dot-do/gateway/queue"
	"github.com/dot-do/gateway/ratelimit"
	"github.com/dot-do/gateway/schema"
	"github.com/dot-do/gateway/version"
)

// cfgFile holds the --config flag value. Empty means the loader searches the
// standard locations (., ./configs, $HOME/.gateway, /etc/gateway).
var cfgFile string

// loader is the shared configuration loader; flags registered in init bind
// into it so they participate in the precedence chain.
var loader = config.NewLoader("GATEWAY")

// RootCmd is the gateway server command.
var RootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "declarative API gateway serving every model over URLs, RPC, MCP and REST",
	Long: `Gateway serves a schema of models through four interchangeable
transports: browsable GET URLs with clickable links, a POST /rpc endpoint,
an MCP JSON-RPC endpoint for agents, and plain CRUD REST. Every response
uses the same ordered envelope, every mutation arriving over GET goes
through a signed confirmation round-trip, and every tenant sees only its
own slice of the data.

Configuration can be provided via command-line flags, environment
variables with the GATEWAY_ prefix, or a YAML configuration file.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, $HOME/.gateway, /etc/gateway)")

	flags := RootCmd.Flags()
	flags.String("host", "", "server bind address")
	flags.Int("port", 0, "server port")
	flags.String("public-url", "", "public base URL used in links")
	flags.String("database-driver", "", "entity store driver (bolt, postgres, memory)")
	flags.String("database-path", "", "bolt database file")
	flags.String("database-dsn", "", "postgres connection string")
	flags.String("mutation-secret", "", "HMAC secret for confirmation tokens")
	flags.String("auth-secret", "", "JWT signing secret")
	flags.String("queue-url", "", "AMQP broker URL for the change feed")

	bindings := map[string]string{
		"server.host":       "host",
		"server.port":       "port",
		"server.public_url": "public-url",
		"database.driver":   "database-driver",
		"database.path":     "database-path",
		"database.dsn":      "database-dsn",
		"mutation.secret":   "mutation-secret",
		"auth.secret":       "auth-secret",
		"queue.url":         "queue-url",
	}
	for key, name := range bindings {
		if err := loader.BindFlag(key, flags.Lookup(name)); err != nil {
			cobra.CheckErr(err)
		}
	}
}

// expandPath resolves a leading ~ in user-supplied paths.
func expandPath(path string) string {
	if path == "" {
		return ""
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

// runServer assembles the gateway from configuration and runs the HTTP
// server until SIGINT or SIGTERM.
func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loader.LoadGatewayConfig(expandPath(cfgFile))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Server.Debug {
		common.ConfigureLogging("debug", "text")
	} else {
		common.ConfigureLogging(cfg.Logging.Level, cfg.Logging.Format)
	}

	if cfg.Service.Version == "" {
		cfg.Service.Version = version.GetGatewayVersion()
	}

	common.Logger.WithFields(logrus.Fields{
		"service":         cfg.Service.Name,
		"version":         cfg.Service.Version,
		"database":        cfg.Database.Driver,
		"events":          cfg.Events.Binding,
		"mutation_secret": common.MaskSecret(cfg.Mutation.Secret),
		"auth_secret":     common.MaskSecret(cfg.Auth.Secret),
	}).Info("Gateway configuration loaded")

	s, err := loadSchema(cfg)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	store, err := db.Open(cfg.Database.Driver, expandPath(cfg.Database.Path), cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open entity store: %w", err)
	}

	events, recorder, err := buildEvents(cfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to build events binding: %w", err)
	}

	cache, err := buildCache(cfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to build discovery cache: %w", err)
	}

	limiter, err := buildLimiter(cfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to build rate limiter: %w", err)
	}

	publisher, err := buildPublisher(cfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to connect change publisher: %w", err)
	}

	g, err := api.New(api.Options{
		Config:    cfg,
		Schema:    s,
		Store:     store,
		Events:    events,
		Recorder:  recorder,
		Cache:     cache,
		Limiter:   limiter,
		Publisher: publisher,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to assemble gateway: %w", err)
	}
	defer g.Close()

	e := api.NewEchoServer(cfg)

	if provider := otel.Init(cfg.Service.Name, cfg.Service.Version); provider != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				common.Logger.WithError(err).Warn("Tracing shutdown failed")
			}
		}()
		api.WithTracing(e, cfg.Service.Name)
	}

	g.SetupRoutes(e)

	go func() {
		if err := api.StartServer(e, cfg); err != nil && err != http.ErrServerClosed {
			common.Logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	return api.GracefulShutdown(e, cfg.Server.ShutdownTimeout)
}

// loadSchema reads the configured models file, falling back to the built-in
// schema when none is set.
func loadSchema(cfg *config.GatewayConfig) (*schema.Schema, error) {
	if cfg.Database.Schema == "" {
		return schema.Default(), nil
	}
	return schema.Load(expandPath(cfg.Database.Schema))
}

// buildEvents resolves the events binding. The http binding is read-only
// upstream data, so mutations fall back to the in-process recorder that
// api.New provides when Recorder is nil.
func buildEvents(cfg *config.GatewayConfig) (db.EventsBinding, db.EventRecorder, error) {
	switch cfg.Events.Binding {
	case "", "memory":
		mem := db.NewMemoryEvents()
		return mem, mem, nil
	case "http":
		return db.NewHTTPEvents(cfg.Events.URL, cfg.Events.Token), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown events binding %q", cfg.Events.Binding)
	}
}

// buildCache resolves the discovery cache binding from the rate-limit
// section's redis URL when one is configured, in-process LRU otherwise.
func buildCache(cfg *config.GatewayConfig) (db.DiscoveryCache, error) {
	if cfg.RateLimit.Binding == "redis" && cfg.RateLimit.RedisURL != "" {
		return db.NewRedisCache(cfg.RateLimit.RedisURL, cfg.Events.CacheTTL)
	}
	return db.NewLRUCache(cfg.Events.CacheTTL), nil
}

// buildLimiter resolves the rate limiter, nil when limiting is disabled.
func buildLimiter(cfg *config.GatewayConfig) (ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	switch cfg.RateLimit.Binding {
	case "", "memory":
		return ratelimit.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window), nil
	case "redis":
		return ratelimit.NewRedisLimiter(cfg.RateLimit.RedisURL, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	default:
		return nil, fmt.Errorf("unknown rate limit binding %q", cfg.RateLimit.Binding)
	}
}

// buildPublisher resolves the change-feed publisher, a no-op when the queue
// is disabled.
func buildPublisher(cfg *config.GatewayConfig) (queue.Publisher, error) {
	if !cfg.Queue.Enabled {
		return queue.NopPublisher{}, nil
	}
	return queue.NewChangesPublisher(cfg.Queue.URL, cfg.Queue.Exchange)
}
