// Package geometry projects raw lat/lon road graphs into pixel space and
// derives drawable segments from them.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
)

// Bounds is the lat/lon bounding box of a node set
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// FromBound converts an orb bound (X is longitude, Y is latitude)
func FromBound(b orb.Bound) Bounds {
	return Bounds{MinLat: b.Min.Lat(), MinLon: b.Min.Lon(), MaxLat: b.Max.Lat(), MaxLon: b.Max.Lon()}
}

// Bound returns b as an orb bound
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

// ComputeBounds scans every node. An empty node set is EMPTY_GRAPH.
func ComputeBounds(nodes map[osm.NodeID]roadgraph.Node) (Bounds, error) {
	if len(nodes) == 0 {
		return Bounds{}, core.NewError(core.ErrCodeEmptyGraph, "graph has no nodes")
	}

	var bound orb.Bound
	first := true
	for _, n := range nodes {
		p := orb.Point{n.Lon, n.Lat}
		if first {
			bound = p.Bound()
			first = false
			continue
		}
		bound = bound.Extend(p)
	}
	return FromBound(bound), nil
}

// Transform maps lat/lon into a width x height pixel frame centered on the origin
type Transform struct {
	bounds Bounds
	width  float32
	height float32
}

// NewTransform derives the frame height from the bounds' aspect ratio
func NewTransform(bounds Bounds, width float32) (*Transform, error) {
	lonSpan := bounds.MaxLon - bounds.MinLon
	latSpan := bounds.MaxLat - bounds.MinLat
	if lonSpan == 0 || latSpan == 0 {
		return nil, core.Errorf(core.ErrCodeDegenerateBounds,
			"bounds span %g x %g degrees", lonSpan, latSpan).
			WithGuidance("The graph needs nodes spread over both latitude and longitude.")
	}
	if width <= 0 {
		return nil, core.Errorf(core.ErrCodeDegenerateBounds, "target width %g must be positive", width)
	}

	height := float32(math.Floor(latSpan / lonSpan * float64(width)))
	if height <= 0 {
		return nil, core.Errorf(core.ErrCodeDegenerateBounds, "target height %g must be positive", height)
	}

	return &Transform{bounds: bounds, width: width, height: height}, nil
}

func (t *Transform) Bounds() Bounds { return t.bounds }

func (t *Transform) Width() float32 { return t.width }

func (t *Transform) Height() float32 { return t.height }

func (t *Transform) fractions(lat, lon float64) (fx, fy float64) {
	fx = (lon - t.bounds.MinLon) / (t.bounds.MaxLon - t.bounds.MinLon)
	fy = (lat - t.bounds.MinLat) / (t.bounds.MaxLat - t.bounds.MinLat)
	return fx, fy
}

// Project maps a coordinate to centered pixel space with y growing northward.
// Both axes are floored to whole pixels before the integer half is subtracted.
func (t *Transform) Project(lat, lon float64) (x, y float32) {
	fx, fy := t.fractions(lat, lon)
	ix := int(math.Floor(fx*float64(t.width))) - int(t.width)/2
	iy := int(math.Floor(fy*float64(t.height))) - int(t.height)/2
	return float32(ix), float32(iy)
}

// ProjectRaster maps a coordinate to raster pixels with the origin at the
// top-left corner and y growing southward. Results are clamped to the frame.
func (t *Transform) ProjectRaster(lat, lon float64) (x, y int) {
	fx, fy := t.fractions(lat, lon)
	w, h := int(t.width), int(t.height)
	x = clamp(int(math.Floor(fx*float64(t.width))), 0, w-1)
	y = clamp(h-1-int(math.Floor(fy*float64(t.height))), 0, h-1)
	return x, y
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
