package tools

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/streetglow/pkg/cache"
	"github.com/NERVsystems/streetglow/pkg/core"
	osmapi "github.com/NERVsystems/streetglow/pkg/osm"
	"github.com/NERVsystems/streetglow/pkg/pipeline"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
)

type staticResolver struct {
	areas []roadgraph.Area
}

func (s staticResolver) Resolve(ctx context.Context, name string) ([]roadgraph.Area, error) {
	if !strings.EqualFold(name, "kyoto") {
		return nil, core.Errorf(core.ErrCodeNotFound, "no area for %q", name)
	}
	return s.areas, nil
}

type staticFetcher struct{}

func (staticFetcher) Query(ctx context.Context, query string) (*osmapi.OverpassResponse, error) {
	f := func(v float64) *float64 { return &v }
	return &osmapi.OverpassResponse{Elements: []osmapi.OverpassElement{
		{Type: "way", ID: 1, Nodes: []int64{1, 2, 3, 4, 1}},
		{Type: "node", ID: 1, Lat: f(0), Lon: f(0)},
		{Type: "node", ID: 2, Lat: f(0), Lon: f(2)},
		{Type: "node", ID: 3, Lat: f(1), Lon: f(2)},
		{Type: "node", ID: 4, Lat: f(1), Lon: f(0)},
	}}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gc, err := cache.New(cache.Options{Dir: t.TempDir(), Fetcher: staticFetcher{}, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	resolver := staticResolver{areas: []roadgraph.Area{roadgraph.NewArea("Kyoto", "Kyoto, Japan", "city", 1)}}
	p := pipeline.New(resolver, gc, pipeline.Options{Mode: pipeline.ModeExtractAndServe, Logger: logger})

	return NewRegistry(logger, Deps{Resolver: resolver, Pipeline: p, Cache: gc, BatchSize: 3})
}

func call(t *testing.T, r *Registry, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	for _, def := range r.GetToolDefinitions() {
		if def.Name != name {
			continue
		}
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args
		result, err := r.wrapWithTracing(name, def.Handler)(context.Background(), req)
		if err != nil {
			t.Fatalf("%s returned a Go error: %v", name, err)
		}
		return result
	}
	t.Fatalf("tool %s not registered", name)
	return nil
}

func TestToolNames(t *testing.T) {
	r := newTestRegistry(t)
	want := []string{"get_version", "resolve_area", "fetch_road_graph", "list_cached_graphs", "extract_segments", "draw_next_batch"}
	got := r.GetToolNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("tool names = %v, want %v", got, want)
	}
	for _, def := range r.GetToolDefinitions() {
		if def.Tool.Name != def.Name {
			t.Errorf("definition %s wraps tool %s", def.Name, def.Tool.Name)
		}
	}
}

func TestRegisterTools(t *testing.T) {
	r := newTestRegistry(t)
	s := server.NewMCPServer("streetglow-test", "0.0.0", server.WithToolCapabilities(true))
	r.RegisterTools(s)
}

func TestResolveAreaTool(t *testing.T) {
	r := newTestRegistry(t)

	result := call(t, r, "resolve_area", map[string]any{"name": "Kyoto"})
	AssertSuccessResult(t, result, "resolve_area failed")
	var out ResolveAreaOutput
	if err := ParseResultJSON(result, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Areas) != 1 || out.Areas[0].AreaID != 3600000001 {
		t.Errorf("areas = %+v", out.Areas)
	}

	AssertErrorResult(t, call(t, r, "resolve_area", map[string]any{}), "missing name should fail")

	notFound := call(t, r, "resolve_area", map[string]any{"name": "Atlantis"})
	AssertErrorResult(t, notFound, "unknown place should fail")
	if !strings.Contains(resultText(notFound), string(core.ErrCodeNotFound)) {
		t.Errorf("error result lacks code: %s", resultText(notFound))
	}
}

func TestFetchAndListTools(t *testing.T) {
	r := newTestRegistry(t)

	var listed ListCachedGraphsOutput
	if err := ParseResultJSON(call(t, r, "list_cached_graphs", nil), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Entries) != 0 {
		t.Fatalf("fresh cache lists %d entries", len(listed.Entries))
	}

	result := call(t, r, "fetch_road_graph", map[string]any{"name": "Kyoto"})
	AssertSuccessResult(t, result, "fetch_road_graph failed")
	var fetched FetchRoadGraphOutput
	if err := ParseResultJSON(result, &fetched); err != nil {
		t.Fatal(err)
	}
	if len(fetched.Areas) != 1 || fetched.Areas[0].Nodes != 4 || fetched.Areas[0].Segments != 4 {
		t.Errorf("fetch summary = %+v", fetched.Areas)
	}

	if err := ParseResultJSON(call(t, r, "list_cached_graphs", nil), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Entries) != 1 || listed.Entries[0].Path != fetched.Areas[0].Path {
		t.Errorf("entries = %+v", listed.Entries)
	}
}

func TestExtractAndDraw(t *testing.T) {
	r := newTestRegistry(t)

	result := call(t, r, "extract_segments", map[string]any{"name": "Kyoto"})
	AssertSuccessResult(t, result, "extract_segments failed")
	var extracted ExtractSegmentsOutput
	if err := ParseResultJSON(result, &extracted); err != nil {
		t.Fatal(err)
	}
	if extracted.SegmentCount != 4 || extracted.Height != 960 {
		t.Fatalf("extraction = %+v", extracted)
	}

	// batch size 3 from Deps: 3 + 1 segments, then glow ticks
	var batch DrawNextBatchOutput
	draw := func() {
		t.Helper()
		res := call(t, r, "draw_next_batch", map[string]any{"session_id": extracted.SessionID})
		AssertSuccessResult(t, res, "draw_next_batch failed")
		batch = DrawNextBatchOutput{}
		if err := ParseResultJSON(res, &batch); err != nil {
			t.Fatal(err)
		}
	}

	draw()
	if len(batch.Segments) != 3 || batch.Done {
		t.Errorf("first batch = %d segments, done=%v", len(batch.Segments), batch.Done)
	}
	draw()
	if len(batch.Segments) != 1 || !batch.Done || batch.Progress.Cursor != 4 {
		t.Errorf("second batch = %+v", batch)
	}
	draw()
	if len(batch.Segments) != 0 || batch.Glow != 1 {
		t.Errorf("post-completion call = %+v, want glow 1", batch)
	}

	AssertErrorResult(t, call(t, r, "draw_next_batch", map[string]any{"session_id": "draw-999"}), "unknown session should fail")
	AssertErrorResult(t, call(t, r, "draw_next_batch", map[string]any{}), "missing session should fail")
}

func TestExtractRandomCached(t *testing.T) {
	r := newTestRegistry(t)

	AssertErrorResult(t, call(t, r, "extract_segments", nil), "empty cache should fail")

	AssertSuccessResult(t, call(t, r, "fetch_road_graph", map[string]any{"name": "Kyoto"}), "fetch failed")
	result := call(t, r, "extract_segments", nil)
	AssertSuccessResult(t, result, "random extraction failed")
	var out ExtractSegmentsOutput
	if err := ParseResultJSON(result, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out.Source, "_3600000001.json") {
		t.Errorf("source = %q", out.Source)
	}
}

func TestSessionsEvict(t *testing.T) {
	s := NewSessions(2)
	first := s.Open("a", nil)
	s.Open("b", nil)
	s.Open("c", nil)
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if _, err := s.get(first); err == nil {
		t.Error("oldest session should have been evicted")
	}
}

func TestGetVersionTool(t *testing.T) {
	r := newTestRegistry(t)
	var info map[string]string
	if err := ParseResultJSON(call(t, r, "get_version", nil), &info); err != nil {
		t.Fatal(err)
	}
	if info["version"] == "" {
		t.Errorf("version info = %v", info)
	}
}
