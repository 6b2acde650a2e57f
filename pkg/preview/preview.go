// Package preview rasterizes a road graph into a still PNG image.
package preview

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/geometry"
	"github.com/NERVsystems/streetglow/pkg/roadgraph"
)

var (
	DefaultBackground = color.RGBA{0x0A, 0x0A, 0x12, 0xFF}
	DefaultStroke     = color.RGBA{0xFF, 0xC8, 0x6E, 0xFF}
)

// Options controls the rendered image
type Options struct {
	// Width of the frame in pixels; the height follows the graph's bounds
	Width      float32
	LineWidth  float32
	Background color.Color
	Stroke     color.Color
	// Caption is drawn in the bottom-left corner when set
	Caption string
	// MaxWidth downscales the result; 0 keeps the full frame
	MaxWidth int
}

// DefaultOptions returns a 1920 px wide frame with 1 px strokes
func DefaultOptions() Options {
	return Options{
		Width:      1920,
		LineWidth:  1,
		Background: DefaultBackground,
		Stroke:     DefaultStroke,
	}
}

const cancelCheckEvery = 1024

// Render draws every way of g as a polyline in raster space
func Render(ctx context.Context, g *roadgraph.Graph, opts Options) (*image.RGBA, error) {
	defaults := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = defaults.Width
	}
	if opts.LineWidth <= 0 {
		opts.LineWidth = defaults.LineWidth
	}
	if opts.Background == nil {
		opts.Background = defaults.Background
	}
	if opts.Stroke == nil {
		opts.Stroke = defaults.Stroke
	}

	bounds, err := geometry.ComputeBounds(g.Nodes)
	if err != nil {
		return nil, err
	}
	t, err := geometry.NewTransform(bounds, opts.Width)
	if err != nil {
		return nil, err
	}
	w, h := int(t.Width()), int(t.Height())

	z := vector.NewRasterizer(w, h)
	z.DrawOp = draw.Over
	half := opts.LineWidth / 2

	for i, way := range g.Ways {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var prevX, prevY float32
		for j, id := range way.NodeIDs {
			n, ok := g.Nodes[id]
			if !ok {
				return nil, core.Errorf(core.ErrCodeDanglingReference,
					"way %d (index %d) references missing node %d", way.ID, i, id)
			}
			px, py := t.ProjectRaster(n.Lat, n.Lon)
			x, y := float32(px)+0.5, float32(py)+0.5
			if j > 0 {
				stroke(z, prevX, prevY, x, y, half)
			}
			prevX, prevY = x, y
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
	z.Draw(img, img.Bounds(), image.NewUniform(opts.Stroke), image.Point{})

	if opts.Caption != "" {
		drawCaption(img, opts.Caption, opts.Stroke)
	}
	if opts.MaxWidth > 0 && w > opts.MaxWidth {
		img = downscale(img, opts.MaxWidth)
	}
	return img, nil
}

// stroke adds a quad of the given half width around a-b, extended by half at
// both ends. Every quad winds the same way so overlaps never cancel.
func stroke(z *vector.Rasterizer, ax, ay, bx, by, half float32) {
	dx, dy := bx-ax, by-ay
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		dx, dy, length = 1, 0, 1
	}
	ux, uy := dx/length*half, dy/length*half
	nx, ny := -uy, ux

	ax, ay = ax-ux, ay-uy
	bx, by = bx+ux, by+uy

	z.MoveTo(ax+nx, ay+ny)
	z.LineTo(bx+nx, by+ny)
	z.LineTo(bx-nx, by-ny)
	z.LineTo(ax-nx, ay-ny)
	z.ClosePath()
}

func drawCaption(img *image.RGBA, caption string, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(8, img.Bounds().Dy()-8),
	}
	d.DrawString(caption)
}

func downscale(src *image.RGBA, maxWidth int) *image.RGBA {
	b := src.Bounds()
	height := max(1, b.Dy()*maxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// Encode writes img as PNG
func Encode(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}

// WriteFile renders img to a PNG file at path
func WriteFile(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()
	return Encode(f, img)
}
