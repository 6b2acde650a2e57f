// Package pipeline wires area resolution, the graph cache, extraction and
// scheduling into one configurable flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/streetglow/pkg/cache"
	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/geometry"
	"github.com/NERVsystems/streetglow/pkg/monitoring"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
	"github.com/NERVsystems/streetglow/pkg/schedule"
	"github.com/NERVsystems/streetglow/pkg/tracing"
)

// Mode selects what Run does
type Mode string

const (
	// ModeFetch resolves a place and fetches every matching area
	ModeFetch Mode = "fetch"
	// ModeLoadCached loads one cache file, or a random one, and extracts it
	ModeLoadCached Mode = "load-cached"
	// ModeExtractAndServe prepares a scene from a place or a file for a consumer
	ModeExtractAndServe Mode = "extract-and-serve"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeFetch, ModeLoadCached, ModeExtractAndServe:
		return m, nil
	}
	return "", core.Errorf(core.ErrCodeInvalidInput, "unknown mode %q", s).
		WithGuidance("Use one of: fetch, load-cached, extract-and-serve.")
}

// AreaResolver turns a place name into areas
type AreaResolver interface {
	Resolve(ctx context.Context, name string) ([]roadgraph.Area, error)
}

// GraphStore provides area graphs
type GraphStore interface {
	FetchOrLoad(ctx context.Context, area roadgraph.Area) (*roadgraph.Graph, error)
	Load(ctx context.Context, path string) (*roadgraph.Graph, error)
	RandomEntry(rng *rand.Rand) (cache.Entry, error)
}

// Options configures a Pipeline
type Options struct {
	Mode             Mode
	Width            float32
	Scale            float32
	FetchConcurrency int
	// Rand picks random cache entries; nil seeds one from the clock
	Rand   *rand.Rand
	Logger *slog.Logger
}

const (
	DefaultWidth            = 1920
	DefaultScale            = 0.5
	DefaultFetchConcurrency = 2
)

// Pipeline is the single entry point for every mode
type Pipeline struct {
	resolver AreaResolver
	store    GraphStore
	opts     Options
	rngMu    sync.Mutex // rand.Rand is not safe for concurrent use
	rng      *rand.Rand
	logger   *slog.Logger
}

// New creates a pipeline. resolver may be nil when only cached files are used.
func New(resolver AreaResolver, store GraphStore, opts Options) *Pipeline {
	if opts.Mode == "" {
		opts.Mode = ModeExtractAndServe
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Scale == 0 {
		opts.Scale = DefaultScale
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = DefaultFetchConcurrency
	}
	rng := opts.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		resolver: resolver,
		store:    store,
		opts:     opts,
		rng:      rng,
		logger:   logger.With("component", "pipeline"),
	}
}

// Mode returns the configured mode
func (p *Pipeline) Mode() Mode {
	return p.opts.Mode
}

// AreaResult is the outcome for one area of a multi-area fetch
type AreaResult struct {
	Area  roadgraph.Area
	Graph *roadgraph.Graph
	Err   error
}

// FetchAll resolves name and fetches or loads every area concurrently.
// A failing area does not stop the others; the error is non-nil only when
// resolution fails or every area failed.
func (p *Pipeline) FetchAll(ctx context.Context, name string) ([]AreaResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.fetch_all",
		trace.WithAttributes(attribute.String(tracing.AttrPlaceName, name)),
	)
	defer span.End()

	if p.resolver == nil {
		return nil, core.NewError(core.ErrCodeInternal, "pipeline has no area resolver")
	}
	areas, err := p.resolver.Resolve(ctx, name)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrAreaCount, len(areas)))

	results := make([]AreaResult, len(areas))
	var eg errgroup.Group
	eg.SetLimit(p.opts.FetchConcurrency)
	for i, area := range areas {
		results[i].Area = area
		eg.Go(func() error {
			g, err := p.store.FetchOrLoad(ctx, area)
			results[i].Graph, results[i].Err = g, err
			return nil
		})
	}
	_ = eg.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			p.logger.Error("area failed", "area_id", r.Area.AreaID, "name", r.Area.Name, "error", r.Err)
			monitoring.RecordError("pipeline", string(core.CodeOf(r.Err)))
			errs = append(errs, fmt.Errorf("area %d (%s): %w", r.Area.AreaID, r.Area.Name, r.Err))
		}
	}
	if len(results) > 0 && len(errs) == len(results) {
		err := fmt.Errorf("all %d areas for %q failed: %w", len(results), name, errors.Join(errs...))
		tracing.RecordError(ctx, err)
		return results, err
	}
	if len(errs) > 0 {
		p.logger.Warn("partial fetch", "name", name, "failed", len(errs), "total", len(results))
	}
	return results, nil
}

// LoadCached loads the cache file at path, or a random cache file when path
// is empty. It returns the path that was loaded.
func (p *Pipeline) LoadCached(ctx context.Context, path string) (string, *roadgraph.Graph, error) {
	if path == "" {
		p.rngMu.Lock()
		entry, err := p.store.RandomEntry(p.rng)
		p.rngMu.Unlock()
		if err != nil {
			return "", nil, err
		}
		path = entry.Path
		p.logger.Info("picked random cached graph", "path", path)
	}

	g, err := p.store.Load(ctx, path)
	if err != nil {
		return "", nil, err
	}
	return path, g, nil
}

// Extract projects g with the configured width and scale
func (p *Pipeline) Extract(ctx context.Context, g *roadgraph.Graph) (*geometry.Result, error) {
	res, err := geometry.Extract(ctx, g, p.opts.Width, p.opts.Scale)
	if err != nil {
		monitoring.RecordError("extract", string(core.CodeOf(err)))
		return nil, err
	}
	monitoring.RecordSegmentsExtracted(len(res.Segments))
	p.logger.Info("extracted segments",
		"segments", len(res.Segments),
		"width", res.Width,
		"height", res.Height,
	)
	return res, nil
}

// NewScheduler returns a scheduler over segments
func (p *Pipeline) NewScheduler(segments []geometry.Segment) *schedule.Scheduler {
	return schedule.New(segments)
}
