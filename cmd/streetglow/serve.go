package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/streetglow/pkg/monitoring"
	"github.com/NERVsystems/streetglow/pkg/pipeline"
	"github.com/NERVsystems/streetglow/pkg/registration"
	"github.com/NERVsystems/streetglow/pkg/server"
	"github.com/NERVsystems/streetglow/pkg/tools"
	"github.com/NERVsystems/streetglow/pkg/tracing"
	"github.com/NERVsystems/streetglow/pkg/version"
)

const (
	shutdownTimeout     = 30 * time.Second
	healthCheckInterval = 5 * time.Minute
)

type serveOptions struct {
	addr        string
	baseURL     string
	stdio       bool
	batch       int
	tick        time.Duration
	rateLimit   float64
	rateBurst   int
	registryURL string
	serviceURL  string
}

func newServeCmd(a *app) *cobra.Command {
	opts := serveOptions{
		addr:      a.cfg.HTTPAddr,
		batch:     a.cfg.BatchSize,
		tick:      a.cfg.TickRate,
		rateLimit: 2,
		rateBurst: 5,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve segment streams over websocket and the MCP tools over HTTP+SSE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", opts.addr, "HTTP listen address (env STREETGLOW_HTTP_ADDR)")
	flags.StringVar(&opts.baseURL, "base-url", "", "externally visible base URL, derived from the request when empty")
	flags.BoolVar(&opts.stdio, "stdio", false, "also serve the MCP tools over stdio")
	flags.IntVar(&opts.batch, "batch", opts.batch, "segments released per frame")
	flags.DurationVar(&opts.tick, "tick", opts.tick, "interval between frames")
	flags.Float64Var(&opts.rateLimit, "stream-rps", opts.rateLimit, "new streams per second per client, 0 disables limiting")
	flags.IntVar(&opts.rateBurst, "stream-burst", opts.rateBurst, "stream rate limit burst size")
	flags.StringVar(&opts.registryURL, "registry-url", "", "service registry URL, registration is off when empty")
	flags.StringVar(&opts.serviceURL, "service-url", "", "external URL announced to the registry")
	return cmd
}

func (a *app) serve(ctx context.Context, opts serveOptions) error {
	if opts.batch <= 0 {
		return fmt.Errorf("batch must be positive, got %d", opts.batch)
	}
	if opts.tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", opts.tick)
	}

	p := a.pipeline(pipeline.ModeExtractAndServe, nil)
	deps := tools.Deps{Resolver: a.resolver, Pipeline: p, Cache: a.cache, BatchSize: opts.batch}
	s := server.NewServer(a.logger, deps)

	health := monitoring.NewHealthChecker(monitoring.ServiceName, version.BuildVersion)
	defer health.Shutdown()
	monitors := []*monitoring.ConnectionMonitor{
		monitoring.NewConnectionMonitor(tracing.ServiceNominatim, health, a.client.CheckNominatimHealth, healthCheckInterval),
		monitoring.NewConnectionMonitor(tracing.ServiceOverpass, health, a.client.CheckOverpassHealth, healthCheckInterval),
	}
	for _, m := range monitors {
		m.Start()
		defer m.Stop()
	}

	cfg := server.DefaultHTTPTransportConfig()
	cfg.Addr = opts.addr
	cfg.BaseURL = opts.baseURL
	cfg.CacheDir = a.cache.Dir()
	cfg.BatchSize = opts.batch
	cfg.TickRate = opts.tick
	cfg.RateLimit = opts.rateLimit
	cfg.RateBurst = opts.rateBurst
	transport := server.NewHTTPTransport(s.MCPServer(), p, health, cfg, a.logger)

	errCh := make(chan error, 2)
	go func() {
		if err := transport.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http transport: %w", err)
		}
	}()

	if opts.stdio {
		go func() {
			a.logger.Info("transport_enabled", "type", "stdio", "mode", "background")
			if err := s.RunWithContext(ctx); err != nil {
				a.logger.Error("stdio transport error", "error", err)
			}
		}()
	}

	reg := registration.NewClient(a.registrationConfig(opts, deps), a.logger)
	reg.Start(ctx)
	defer reg.Stop()

	a.logger.Info("server_ready",
		"addr", opts.addr,
		"stdio", opts.stdio,
		"batch", opts.batch,
		"tick", opts.tick,
		"cache_dir", a.cache.Dir())

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := transport.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown HTTP transport", "error", err)
	}
	s.Shutdown()

	a.logger.Info("server stopped")
	return runErr
}

func (a *app) registrationConfig(opts serveOptions, deps tools.Deps) registration.Config {
	base := opts.serviceURL
	if base == "" {
		host := opts.addr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		base = "http://" + host
	}
	base = strings.TrimSuffix(base, "/")
	streamURL := "ws" + strings.TrimPrefix(base, "http") + server.DefaultHTTPTransportConfig().StreamEndpoint

	return registration.Config{
		RegistryURL:  opts.registryURL,
		ServiceName:  monitoring.ServiceName,
		ServiceURL:   base,
		HealthURL:    base + "/health",
		StreamURL:    streamURL,
		Version:      version.BuildVersion,
		Capabilities: []string{"geocoding", "road-graphs", "segment-streams"},
		Tools:        tools.NewRegistry(a.logger, deps).GetToolNames(),
		Metadata: map[string]any{
			"transport": map[string]bool{"stdio": opts.stdio, "http": true, "websocket": true},
		},
	}
}
