package tools

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/streetglow/pkg/cache"
	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/geometry"
	"github.com/NERVsystems/streetglow/pkg/monitoring"
	"github.com/NERVsystems/streetglow/pkg/pipeline"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
	"github.com/NERVsystems/streetglow/pkg/schedule"
)

// PlaceInput names a place to resolve
type PlaceInput struct {
	Name string `json:"name"`
}

func (in PlaceInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return core.NewError(core.ErrCodeInvalidInput, "name is required")
	}
	return nil
}

// ResolveAreaTool returns the resolve_area tool definition
func ResolveAreaTool() mcp.Tool {
	return mcp.NewTool("resolve_area",
		mcp.WithDescription("Resolve a place name to the administrative areas (OSM relations) it matches"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Place name, for example 'Kyoto' or '京都'"),
		),
	)
}

// ResolveAreaOutput lists resolved areas
type ResolveAreaOutput struct {
	Areas []roadgraph.Area `json:"areas"`
}

func (r *Registry) handleResolveArea(ctx context.Context, input PlaceInput, logger *slog.Logger) (any, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	areas, err := r.deps.Resolver.Resolve(ctx, input.Name)
	if err != nil {
		return nil, err
	}
	logger.Info("resolved place", "name", input.Name, "areas", len(areas))
	return ResolveAreaOutput{Areas: areas}, nil
}

// FetchRoadGraphTool returns the fetch_road_graph tool definition
func FetchRoadGraphTool() mcp.Tool {
	return mcp.NewTool("fetch_road_graph",
		mcp.WithDescription("Fetch (or load from cache) the road network of every area matching a place name. Large cities can take minutes on first fetch."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Place name to resolve and fetch"),
		),
	)
}

// AreaGraphSummary reports the outcome for one area
type AreaGraphSummary struct {
	Area     roadgraph.Area `json:"area"`
	Path     string         `json:"path,omitempty"`
	Nodes    int            `json:"nodes,omitempty"`
	Ways     int            `json:"ways,omitempty"`
	Segments int            `json:"segments,omitempty"`
	Error    string         `json:"error,omitempty"`
	Code     core.ErrorCode `json:"code,omitempty"`
}

// FetchRoadGraphOutput lists per-area outcomes
type FetchRoadGraphOutput struct {
	Areas []AreaGraphSummary `json:"areas"`
}

func (r *Registry) handleFetchRoadGraph(ctx context.Context, input PlaceInput, logger *slog.Logger) (any, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	results, err := r.deps.Pipeline.FetchAll(ctx, input.Name)
	if err != nil {
		return nil, err
	}

	out := FetchRoadGraphOutput{Areas: make([]AreaGraphSummary, len(results))}
	for i, res := range results {
		summary := AreaGraphSummary{Area: res.Area}
		if r.deps.Cache != nil {
			summary.Path = r.deps.Cache.PathFor(res.Area)
		}
		if res.Err != nil {
			summary.Error = res.Err.Error()
			summary.Code = core.CodeOf(res.Err)
		} else {
			summary.Nodes = len(res.Graph.Nodes)
			summary.Ways = len(res.Graph.Ways)
			summary.Segments = res.Graph.SegmentCount()
		}
		out.Areas[i] = summary
	}
	logger.Info("fetched road graphs", "name", input.Name, "areas", len(results))
	return out, nil
}

// ListCachedGraphsTool returns the list_cached_graphs tool definition
func ListCachedGraphsTool() mcp.Tool {
	return mcp.NewTool("list_cached_graphs",
		mcp.WithDescription("List road graphs already stored in the local cache"),
	)
}

// ListCachedGraphsOutput lists cache entries
type ListCachedGraphsOutput struct {
	Dir     string        `json:"dir"`
	Entries []cache.Entry `json:"entries"`
}

func (r *Registry) handleListCachedGraphs(ctx context.Context, _ struct{}, logger *slog.Logger) (any, error) {
	if r.deps.Cache == nil {
		return nil, core.NewError(core.ErrCodeInternal, "no graph cache configured")
	}
	entries, err := r.deps.Cache.Entries()
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []cache.Entry{}
	}
	return ListCachedGraphsOutput{Dir: r.deps.Cache.Dir(), Entries: entries}, nil
}

// ExtractSegmentsInput selects the graph to extract
type ExtractSegmentsInput struct {
	Name string `json:"name,omitempty"`
	File string `json:"file,omitempty"`
}

// ExtractSegmentsTool returns the extract_segments tool definition
func ExtractSegmentsTool() mcp.Tool {
	return mcp.NewTool("extract_segments",
		mcp.WithDescription("Project a road graph into pixel space and open a draw session over its segments. Give a place name, a cache file, or neither for a random cached graph."),
		mcp.WithString("name",
			mcp.Description("Place name to resolve; the first area that loads is used"),
		),
		mcp.WithString("file",
			mcp.Description("Path of a cache file as returned by list_cached_graphs"),
		),
	)
}

// ExtractSegmentsOutput summarizes an extraction and its draw session
type ExtractSegmentsOutput struct {
	SessionID    string          `json:"session_id"`
	Source       string          `json:"source"`
	Bounds       geometry.Bounds `json:"bounds"`
	Width        float32         `json:"width"`
	Height       float32         `json:"height"`
	Scale        float32         `json:"scale"`
	SegmentCount int             `json:"segment_count"`
}

func (r *Registry) handleExtractSegments(ctx context.Context, input ExtractSegmentsInput, logger *slog.Logger) (any, error) {
	scene, err := r.deps.Pipeline.Prepare(ctx, pipeline.Target{Place: input.Name, File: input.File})
	if err != nil {
		return nil, err
	}

	res := scene.Extraction
	id := r.sessions.Open(scene.Source, res.Segments)
	logger.Info("opened draw session", "session_id", id, "source", scene.Source, "segments", len(res.Segments))

	return ExtractSegmentsOutput{
		SessionID:    id,
		Source:       scene.Source,
		Bounds:       res.Bounds,
		Width:        res.Width,
		Height:       res.Height,
		Scale:        res.Scale,
		SegmentCount: len(res.Segments),
	}, nil
}

// DrawNextBatchInput advances a draw session
type DrawNextBatchInput struct {
	SessionID string `json:"session_id"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// DrawNextBatchTool returns the draw_next_batch tool definition
func DrawNextBatchTool() mcp.Tool {
	return mcp.NewTool("draw_next_batch",
		mcp.WithDescription("Release the next batch of segments from a draw session. After completion each call advances the glow counter instead."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session id returned by extract_segments"),
		),
		mcp.WithNumber("batch_size",
			mcp.Description("Maximum segments to release (default 1000)"),
		),
	)
}

// DrawNextBatchOutput is one released batch
type DrawNextBatchOutput struct {
	Segments []geometry.Segment `json:"segments"`
	Progress schedule.Progress  `json:"progress"`
	Done     bool               `json:"done"`
	Glow     uint32             `json:"glow,omitempty"`
}

func (r *Registry) handleDrawNextBatch(ctx context.Context, input DrawNextBatchInput, logger *slog.Logger) (any, error) {
	if input.SessionID == "" {
		return nil, core.NewError(core.ErrCodeInvalidInput, "session_id is required")
	}
	batch := input.BatchSize
	if batch == 0 {
		batch = r.deps.BatchSize
	}

	sess, err := r.sessions.get(input.SessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := DrawNextBatchOutput{Segments: []geometry.Segment{}}
	if sess.sched.Done() {
		out.Glow = sess.glow.Tick()
	} else if segs := sess.sched.Advance(batch); len(segs) > 0 {
		out.Segments = segs
		monitoring.RecordDrawBatch("mcp")
	}
	out.Progress = sess.sched.Progress()
	out.Done = sess.sched.Done()
	return out, nil
}
