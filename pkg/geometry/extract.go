package geometry

import (
	"context"
	"math"
	"runtime"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
	"github.com/NERVsystems/streetglow/pkg/tracing"
)

// Segment is one drawable straight piece of road in scaled pixel space
type Segment struct {
	StartX float32 `json:"start_x"`
	StartY float32 `json:"start_y"`
	EndX   float32 `json:"end_x"`
	EndY   float32 `json:"end_y"`
	Angle  float32 `json:"angle"`
	Length float32 `json:"length"`
}

// Result is the output of one extraction
type Result struct {
	Bounds   Bounds    `json:"bounds"`
	Width    float32   `json:"width"`
	Height   float32   `json:"height"`
	Scale    float32   `json:"scale"`
	Segments []Segment `json:"-"`
}

type point struct{ x, y float32 }

// Extract projects every way of g and emits one segment per consecutive node
// pair, in way order then node order. Scale applies to both endpoints before
// angle and length are derived.
func Extract(ctx context.Context, g *roadgraph.Graph, width, scale float32) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "geometry.extract",
		trace.WithAttributes(
			attribute.Float64(tracing.AttrTargetWidth, float64(width)),
			attribute.Float64(tracing.AttrTargetScale, float64(scale)),
		),
		trace.WithAttributes(tracing.GraphAttributes(len(g.Nodes), len(g.Ways))...),
	)
	defer span.End()

	bounds, err := ComputeBounds(g.Nodes)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	t, err := NewTransform(bounds, width)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	perWay := make([][]Segment, len(g.Ways))
	wayErrs := make([]error, len(g.Ways))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i := range g.Ways {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			perWay[i], wayErrs[i] = extractWay(g, i, t, scale)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	// Report the first failing way so the error is deterministic
	total := 0
	for i, err := range wayErrs {
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		total += len(perWay[i])
	}

	segments := make([]Segment, 0, total)
	for _, s := range perWay {
		segments = append(segments, s...)
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrSegmentCount, len(segments)),
		attribute.Float64(tracing.AttrTargetHeight, float64(t.Height())),
	)
	return &Result{
		Bounds:   bounds,
		Width:    t.Width(),
		Height:   t.Height(),
		Scale:    scale,
		Segments: segments,
	}, nil
}

func extractWay(g *roadgraph.Graph, index int, t *Transform, scale float32) ([]Segment, error) {
	way := g.Ways[index]
	points := make([]point, len(way.NodeIDs))
	for j, id := range way.NodeIDs {
		n, ok := g.Nodes[id]
		if !ok {
			return nil, core.Errorf(core.ErrCodeDanglingReference,
				"way %d (index %d) references missing node %d", way.ID, index, id)
		}
		x, y := t.Project(n.Lat, n.Lon)
		points[j] = point{x * scale, y * scale}
	}

	if len(points) < 2 {
		return nil, nil
	}
	segments := make([]Segment, len(points)-1)
	for j := 0; j < len(points)-1; j++ {
		a, b := points[j], points[j+1]
		dx, dy := float64(b.x-a.x), float64(b.y-a.y)
		segments[j] = Segment{
			StartX: a.x,
			StartY: a.y,
			EndX:   b.x,
			EndY:   b.y,
			Angle:  float32(math.Atan2(dy, dx)),
			Length: float32(math.Sqrt(dx*dx + dy*dy)),
		}
	}
	return segments, nil
}

// MeshKey rounds a segment length to one decimal, the granularity at which
// renderers share one quad mesh between segments.
func MeshKey(length float32) string {
	rounded := math.Round(float64(length)*10) / 10
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
