// Package cache persists area road graphs on disk so each area is fetched
// from Overpass at most once.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/monitoring"
	osmapi "github.com/NERVsystems/streetglow/pkg/osm"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
	"github.com/NERVsystems/streetglow/pkg/tracing"
)

const (
	// Default number of decoded graphs kept in memory
	DefaultMemoSize = 8

	fileExt = ".json"
)

// Fetcher runs an Overpass query
type Fetcher interface {
	Query(ctx context.Context, query string) (*osmapi.OverpassResponse, error)
}

// Entry describes one cache file
type Entry struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	AreaID  int64     `json:"area_id,omitempty"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"modified"`
}

// Options configures a GraphCache
type Options struct {
	Dir      string
	Fetcher  Fetcher
	MemoSize int
	Logger   *slog.Logger
}

// GraphCache maps an area to its road graph, fetching and persisting it on
// first use. Files are create-if-absent and never rewritten.
type GraphCache struct {
	dir     string
	fetcher Fetcher
	logger  *slog.Logger
	memo    *lru.Cache[string, *roadgraph.Graph]
	group   singleflight.Group
}

// New creates a graph cache rooted at opts.Dir.
// Fetcher may be nil when only cached files are loaded.
func New(opts Options) (*GraphCache, error) {
	if opts.Dir == "" {
		return nil, core.NewError(core.ErrCodeInvalidInput, "cache directory must not be empty")
	}
	if opts.MemoSize <= 0 {
		opts.MemoSize = DefaultMemoSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	memo, err := lru.New[string, *roadgraph.Graph](opts.MemoSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph memo: %w", err)
	}

	return &GraphCache{
		dir:     opts.Dir,
		fetcher: opts.Fetcher,
		logger:  logger.With("component", "graph_cache"),
		memo:    memo,
	}, nil
}

// Dir returns the cache directory
func (c *GraphCache) Dir() string {
	return c.dir
}

// PathFor returns the deterministic cache file path for an area
func (c *GraphCache) PathFor(area roadgraph.Area) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%d%s", Slug(area.Name), area.AreaID, fileExt))
}

// FetchOrLoad returns the area's graph from memory or disk, fetching and
// persisting it first when no cache file exists. Concurrent calls for the same
// area share one fetch. The shared fetch is detached from any single caller's
// cancellation; a cancelled caller returns early while the others keep waiting.
func (c *GraphCache) FetchOrLoad(ctx context.Context, area roadgraph.Area) (*roadgraph.Graph, error) {
	path := c.PathFor(area)

	ctx, span := tracing.StartSpan(ctx, "cache.fetch_or_load",
		trace.WithAttributes(tracing.AreaAttributes(area.AreaID, area.Name)...),
		trace.WithAttributes(attribute.String(tracing.AttrCachePath, path)),
	)
	defer span.End()

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(path, func() (any, error) {
		return c.fetchOrLoad(flightCtx, area, path)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		err := core.Wrap(core.ErrCodeFetchFailed, ctx.Err(), "graph request cancelled")
		tracing.RecordError(ctx, err)
		return nil, err
	case res = <-ch:
	}
	if res.Err != nil {
		tracing.RecordError(ctx, res.Err)
		return nil, res.Err
	}
	if res.Shared {
		c.logger.Debug("shared in-flight graph request", "path", path)
	}

	g := res.Val.(*roadgraph.Graph)
	span.SetAttributes(tracing.GraphAttributes(len(g.Nodes), len(g.Ways))...)
	return g, nil
}

func (c *GraphCache) fetchOrLoad(ctx context.Context, area roadgraph.Area, path string) (*roadgraph.Graph, error) {
	if g, ok := c.memo.Get(path); ok {
		monitoring.RecordCacheHit(monitoring.CacheLayerMemory)
		tracing.SetAttributes(ctx, tracing.CacheAttributes(monitoring.CacheLayerMemory, true, path)...)
		return g, nil
	}
	monitoring.RecordCacheMiss(monitoring.CacheLayerMemory)

	if _, err := os.Stat(path); err == nil {
		monitoring.RecordCacheHit(monitoring.CacheLayerDisk)
		tracing.SetAttributes(ctx, tracing.CacheAttributes(monitoring.CacheLayerDisk, true, path)...)
		c.logger.Info("loading cached graph", "area_id", area.AreaID, "path", path)
		return c.readFile(path)
	} else if !os.IsNotExist(err) {
		return nil, core.Wrap(core.ErrCodeInternal, err, "failed to stat cache file")
	}
	monitoring.RecordCacheMiss(monitoring.CacheLayerDisk)
	tracing.SetAttributes(ctx, tracing.CacheAttributes(monitoring.CacheLayerDisk, false, path)...)

	g, err := c.fetch(ctx, area)
	if err != nil {
		return nil, err
	}
	if err := c.persist(path, g); err != nil {
		return nil, err
	}
	c.memo.Add(path, g)
	return g, nil
}

func (c *GraphCache) fetch(ctx context.Context, area roadgraph.Area) (*roadgraph.Graph, error) {
	if c.fetcher == nil {
		return nil, core.Errorf(core.ErrCodeNotFound, "no cached graph for area %d and fetching is disabled", area.AreaID)
	}

	c.logger.Info("fetching road graph", "area_id", area.AreaID, "name", area.Name)
	start := time.Now()

	resp, err := c.fetcher.Query(ctx, core.RoadNetworkQuery(area.AreaID))
	if err != nil {
		monitoring.RecordGraphFetch(time.Since(start), false)
		monitoring.RecordError("cache", string(core.CodeOf(err)))
		return nil, fmt.Errorf("fetching area %d: %w", area.AreaID, err)
	}

	if resp == nil || resp.Elements == nil {
		monitoring.RecordGraphFetch(time.Since(start), false)
		monitoring.RecordError("cache", string(core.ErrCodeParseFailed))
		return nil, core.Errorf(core.ErrCodeParseFailed, "overpass returned no elements for area %d", area.AreaID)
	}
	g, err := roadgraph.FromElements(resp.Elements)
	if err != nil {
		monitoring.RecordGraphFetch(time.Since(start), false)
		monitoring.RecordError("cache", string(core.CodeOf(err)))
		return nil, fmt.Errorf("partitioning area %d: %w", area.AreaID, err)
	}

	monitoring.RecordGraphFetch(time.Since(start), true)
	monitoring.RecordGraphSize(len(g.Nodes), len(g.Ways))
	c.logger.Info("fetched road graph",
		"area_id", area.AreaID,
		"nodes", len(g.Nodes),
		"ways", len(g.Ways),
		"duration", time.Since(start),
	)
	return g, nil
}

func (c *GraphCache) persist(path string, g *roadgraph.Graph) error {
	var buf bytes.Buffer
	if err := roadgraph.Encode(&buf, g); err != nil {
		return err
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		monitoring.RecordError("cache", string(core.ErrCodeCacheWriteFailed))
		return core.Wrap(core.ErrCodeCacheWriteFailed, err, "failed to write "+path)
	}
	c.logger.Debug("persisted graph", "path", path, "bytes", buf.Len())
	return nil
}

func (c *GraphCache) readFile(path string) (*roadgraph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.Wrap(core.ErrCodeNotFound, err, "cache file does not exist")
		}
		return nil, core.Wrap(core.ErrCodeInternal, err, "failed to open cache file")
	}
	defer f.Close()

	g, err := roadgraph.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	monitoring.RecordGraphSize(len(g.Nodes), len(g.Ways))
	c.memo.Add(path, g)
	return g, nil
}

// Load reads a cache file directly, bypassing area resolution
func (c *GraphCache) Load(ctx context.Context, path string) (*roadgraph.Graph, error) {
	_, span := tracing.StartSpan(ctx, "cache.load",
		trace.WithAttributes(attribute.String(tracing.AttrCachePath, path)),
	)
	defer span.End()

	if g, ok := c.memo.Get(path); ok {
		monitoring.RecordCacheHit(monitoring.CacheLayerMemory)
		return g, nil
	}
	monitoring.RecordCacheMiss(monitoring.CacheLayerMemory)

	g, err := c.readFile(path)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	monitoring.RecordCacheHit(monitoring.CacheLayerDisk)
	return g, nil
}

// Entries lists cache files sorted by name. A missing directory has no entries.
func (c *GraphCache) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.Wrap(core.ErrCodeInternal, err, "failed to read cache directory")
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != fileExt {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, newEntry(filepath.Join(c.dir, de.Name()), info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func newEntry(path string, info os.FileInfo) Entry {
	stem := strings.TrimSuffix(filepath.Base(path), fileExt)
	e := Entry{Path: path, Name: stem, Size: info.Size(), ModTime: info.ModTime()}
	if i := strings.LastIndexByte(stem, '_'); i >= 0 {
		if id, err := strconv.ParseInt(stem[i+1:], 10, 64); err == nil {
			e.Name = stem[:i]
			e.AreaID = id
		}
	}
	return e
}

// RandomEntry picks one cache file using rng
func (c *GraphCache) RandomEntry(rng *rand.Rand) (Entry, error) {
	entries, err := c.Entries()
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, core.Errorf(core.ErrCodeNoCacheEntries, "no cached graphs in %s", c.dir).
			WithGuidance("Fetch a place first, for example: streetglow fetch Kyoto")
	}
	return entries[rng.IntN(len(entries))], nil
}
