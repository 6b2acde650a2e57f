package main

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/streetglow/pkg/cache"
	"github.com/NERVsystems/streetglow/pkg/config"
	"github.com/NERVsystems/streetglow/pkg/monitoring"
	osmapi "github.com/NERVsystems/streetglow/pkg/osm"
	"github.com/NERVsystems/streetglow/pkg/pipeline"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
	"github.com/NERVsystems/streetglow/pkg/tracing"
	"github.com/NERVsystems/streetglow/pkg/version"
)

// app holds what every subcommand shares once flags are parsed
type app struct {
	cfg    config.Config
	logger *slog.Logger

	client   *osmapi.Client
	resolver *roadgraph.Resolver
	cache    *cache.GraphCache

	shutdownTracing func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}

	root := &cobra.Command{
		Use:   "streetglow",
		Short: "Fetch OpenStreetMap road networks and draw them progressively",
		Long: `streetglow resolves a place name to its administrative areas, fetches and
caches their drivable road networks from Overpass, projects them into screen
space, and releases the segments in bounded batches.

Examples:
  streetglow fetch Kyoto
  streetglow load --random
  streetglow serve --addr :7082
  streetglow render Kyoto --out kyoto.png`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			a.teardown(cmd.Context())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.CacheDir, "cache-dir", a.cfg.CacheDir, "directory holding cached road graphs (env STREETGLOW_CACHE_DIR)")
	flags.BoolVar(&a.cfg.Debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.cfg.UserAgent, "user-agent", a.cfg.UserAgent, "User-Agent sent to Nominatim and Overpass")
	flags.Float64Var(&a.cfg.NominatimRPS, "nominatim-rps", a.cfg.NominatimRPS, "Nominatim requests per second, 0 disables limiting")
	flags.IntVar(&a.cfg.NominatimBurst, "nominatim-burst", a.cfg.NominatimBurst, "Nominatim rate limit burst size")
	flags.Float64Var(&a.cfg.OverpassRPS, "overpass-rps", a.cfg.OverpassRPS, "Overpass requests per second, 0 disables limiting")
	flags.IntVar(&a.cfg.OverpassBurst, "overpass-burst", a.cfg.OverpassBurst, "Overpass rate limit burst size")
	flags.Float64Var(&a.cfg.TargetWidth, "width", a.cfg.TargetWidth, "projection frame width in pixels")
	flags.Float64Var(&a.cfg.Scale, "scale", a.cfg.Scale, "scale applied to projected coordinates")
	flags.IntVar(&a.cfg.FetchConcurrency, "fetch-concurrency", a.cfg.FetchConcurrency, "areas fetched at once (env STREETGLOW_FETCH_CONCURRENCY)")

	root.AddCommand(
		newFetchCmd(a),
		newLoadCmd(a),
		newServeCmd(a),
		newRenderCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.cfg.Debug {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	endpoint := config.OTLPEndpoint()
	shutdown, err := tracing.InitTracing(cmd.Context(), tracing.Options{
		Endpoint:    endpoint,
		Environment: config.Environment(),
		Version:     version.BuildVersion,
	})
	if err != nil {
		a.logger.Error("failed to initialize tracing", "error", err)
	} else {
		a.shutdownTracing = shutdown
		if endpoint != "" {
			a.logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	osmapi.SetMonitoringHooks(&osmapi.MonitoringHooks{
		OnRequest: func(service, operation string) {
			a.logger.Debug("collaborator request", "service", service, "operation", operation)
		},
		OnResponse:  monitoring.RecordExternalServiceRequest,
		OnRateLimit: monitoring.RecordRateLimitWait,
		OnError:     monitoring.RecordError,
	})

	a.client = osmapi.NewClient(osmapi.Options{
		UserAgent:      a.cfg.UserAgent,
		NominatimRPS:   a.cfg.NominatimRPS,
		NominatimBurst: a.cfg.NominatimBurst,
		OverpassRPS:    a.cfg.OverpassRPS,
		OverpassBurst:  a.cfg.OverpassBurst,
		Logger:         a.logger,
	})
	a.resolver = roadgraph.NewResolver(a.client.Nominatim(), a.logger)

	gc, err := cache.New(cache.Options{
		Dir:     a.cfg.CacheDir,
		Fetcher: a.client.Overpass(),
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}
	a.cache = gc

	a.logger.Debug("configured",
		"version", version.BuildVersion,
		"cache_dir", a.cfg.CacheDir,
		"user_agent", a.cfg.UserAgent,
		"nominatim_rps", a.cfg.NominatimRPS,
		"overpass_rps", a.cfg.OverpassRPS,
		"width", a.cfg.TargetWidth,
		"scale", a.cfg.Scale)
	return nil
}

func (a *app) teardown(ctx context.Context) {
	if a.shutdownTracing == nil {
		return
	}
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.Error("error shutting down tracing", "error", err)
	}
	a.shutdownTracing = nil
}

// pipeline builds a pipeline for mode; rng may be nil
func (a *app) pipeline(mode pipeline.Mode, rng *rand.Rand) *pipeline.Pipeline {
	return pipeline.New(a.resolver, a.cache, pipeline.Options{
		Mode:             mode,
		Width:            float32(a.cfg.TargetWidth),
		Scale:            float32(a.cfg.Scale),
		FetchConcurrency: a.cfg.FetchConcurrency,
		Rand:             rng,
		Logger:           a.logger,
	})
}
