package preview

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
)

func testGraph() *roadgraph.Graph {
	g := roadgraph.NewGraph()
	for i, ll := range [][2]float64{{0, 0}, {0.5, 1}, {1, 2}} {
		id := osm.NodeID(i + 1)
		g.Nodes[id] = roadgraph.Node{ID: id, Lat: ll[0], Lon: ll[1]}
	}
	g.Ways = []roadgraph.Way{{ID: 7, NodeIDs: []osm.NodeID{1, 2, 3}}}
	return g
}

func sameColor(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

func TestRenderFrameAndStrokes(t *testing.T) {
	img, err := Render(context.Background(), testGraph(), Options{Width: 20})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Fatalf("image is %dx%d, want 20x10", b.Dx(), b.Dy())
	}

	// south-west node sits at the bottom-left pixel
	if sameColor(img.At(0, 9), DefaultBackground) {
		t.Error("start of the way was not drawn")
	}
	if sameColor(img.At(10, 4), DefaultBackground) {
		t.Error("middle node was not drawn")
	}
	for _, p := range [][2]int{{0, 0}, {19, 9}} {
		if !sameColor(img.At(p[0], p[1]), DefaultBackground) {
			t.Errorf("pixel %v away from the road is not background", p)
		}
	}
}

func TestRenderReversedDuplicateWayStillDrawn(t *testing.T) {
	g := testGraph()
	g.Ways = append(g.Ways, roadgraph.Way{ID: 8, NodeIDs: []osm.NodeID{3, 2, 1}})

	img, err := Render(context.Background(), g, Options{Width: 20})
	if err != nil {
		t.Fatal(err)
	}
	if sameColor(img.At(10, 4), DefaultBackground) {
		t.Error("overlapping opposite ways cancelled each other out")
	}
}

func TestRenderErrors(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		_, err := Render(context.Background(), roadgraph.NewGraph(), DefaultOptions())
		if !errors.Is(err, core.ErrEmptyGraph) {
			t.Errorf("err = %v, want EMPTY_GRAPH", err)
		}
	})

	t.Run("dangling node", func(t *testing.T) {
		g := testGraph()
		g.Ways = append(g.Ways, roadgraph.Way{ID: 9, NodeIDs: []osm.NodeID{1, 999}})
		_, err := Render(context.Background(), g, DefaultOptions())
		if !errors.Is(err, core.ErrDanglingReference) {
			t.Errorf("err = %v, want DANGLING_REFERENCE", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Render(ctx, testGraph(), DefaultOptions())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestRenderCaptionAndDownscale(t *testing.T) {
	img, err := Render(context.Background(), testGraph(), Options{Width: 400, Caption: "Kyoto", MaxWidth: 100})
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("downscaled image is %dx%d, want 100x50", b.Dx(), b.Dy())
	}
}

func TestEncodeAndWriteFile(t *testing.T) {
	img, err := Render(context.Background(), testGraph(), Options{Width: 20})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	decoded, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decoding png: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("decoded bounds %v, want %v", decoded.Bounds(), img.Bounds())
	}

	if err := WriteFile(filepath.Join(t.TempDir(), "out.png"), img); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(filepath.Join(t.TempDir(), "missing", "out.png"), img); err == nil {
		t.Error("expected an error writing into a missing directory")
	}
}
