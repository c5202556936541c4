// Package render rasterises page regions at a fixed resolution. It covers the
// operators produced by typical text and vector documents: paths, text through
// glyph outlines, image and form XObjects. Clipping, shadings and transparency
// groups are ignored.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/semantic"
)

// DefaultDPI is the snapshot resolution.
const DefaultDPI = 150

var ErrEmptyRegion = errors.New("render region has no pixels")

type Options struct {
	DPI        float64
	Background color.Color
	// MaxFormDepth bounds nested form XObjects.
	MaxFormDepth int
}

type Renderer struct {
	opts Options
}

func New(opts Options) *Renderer {
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}
	if opts.Background == nil {
		opts.Background = color.White
	}
	if opts.MaxFormDepth <= 0 {
		opts.MaxFormDepth = 8
	}
	return &Renderer{opts: opts}
}

func (r *Renderer) DPI() float64 { return r.opts.DPI }

// Scale converts points to pixels.
func (r *Renderer) Scale() float64 { return r.opts.DPI / 72 }

// PixelSize is the raster size of a box in points at dpi.
func PixelSize(box coords.Rect, dpi float64) (int, int) {
	s := dpi / 72
	return int(math.Round(box.Width() * s)), int(math.Round(box.Height() * s))
}

// DeviceMatrix maps user space onto the pixel grid of box, given in top-left page
// coordinates of a page with the given MediaBox.
func DeviceMatrix(box, media coords.Rect, dpi float64) coords.Matrix {
	s := dpi / 72
	return coords.Matrix{s, 0, 0, -s, -(media.X0 + box.X0) * s, (media.Y1 - box.Y0) * s}
}

// RenderRegion rasterises box (top-left page coordinates) of page.
func (r *Renderer) RenderRegion(ctx context.Context, page *semantic.Page, box coords.Rect) (*image.NRGBA, error) {
	w, h := PixelSize(box, r.opts.DPI)
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyRegion
	}
	ops, err := page.Operations(ctx)
	if err != nil {
		return nil, err
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(r.opts.Background), image.Point{}, draw.Src)

	c := &canvas{
		ctx:      ctx,
		dst:      dst,
		doc:      page.Document(),
		maxDepth: r.opts.MaxFormDepth,
	}
	gs := contentstream.NewGraphicsState(DeviceMatrix(box, page.MediaBox, r.opts.DPI))
	if err := c.run(ops, page.Resources(), gs, 0); err != nil {
		return nil, fmt.Errorf("render page %d: %w", page.Number, err)
	}
	return dst, nil
}

// RenderPage rasterises the whole page.
func (r *Renderer) RenderPage(ctx context.Context, page *semantic.Page) (*image.NRGBA, error) {
	return r.RenderRegion(ctx, page, page.Bounds())
}

type canvas struct {
	ctx      context.Context
	dst      *image.NRGBA
	doc      *semantic.Document
	maxDepth int
	path     path
}

func (c *canvas) run(ops []contentstream.Operation, res *semantic.Resources, gs *contentstream.GraphicsState, depth int) error {
	for i, op := range ops {
		if i%256 == 0 {
			if err := c.ctx.Err(); err != nil {
				return err
			}
		}
		handled, err := gs.Apply(op, res)
		if err != nil {
			// Unbalanced Q is common in the wild; keep drawing.
			if errors.Is(err, contentstream.ErrStateStack) {
				continue
			}
			return err
		}
		if handled {
			continue
		}
		if run, ok := gs.ShowText(op); ok {
			if gs.Text.RenderMode.Visible() {
				c.fillText(run, gs)
			}
			continue
		}
		switch op.Operator {
		case "m":
			c.path.moveTo(gs.CTM.Transform(coords.Point{X: op.Number(0), Y: op.Number(1)}))
		case "l":
			c.path.lineTo(gs.CTM.Transform(coords.Point{X: op.Number(0), Y: op.Number(1)}))
		case "c":
			c.path.cubeTo(
				gs.CTM.Transform(coords.Point{X: op.Number(0), Y: op.Number(1)}),
				gs.CTM.Transform(coords.Point{X: op.Number(2), Y: op.Number(3)}),
				gs.CTM.Transform(coords.Point{X: op.Number(4), Y: op.Number(5)}))
		case "v":
			c.path.cubeTo(
				c.path.current(),
				gs.CTM.Transform(coords.Point{X: op.Number(0), Y: op.Number(1)}),
				gs.CTM.Transform(coords.Point{X: op.Number(2), Y: op.Number(3)}))
		case "y":
			end := gs.CTM.Transform(coords.Point{X: op.Number(2), Y: op.Number(3)})
			c.path.cubeTo(gs.CTM.Transform(coords.Point{X: op.Number(0), Y: op.Number(1)}), end, end)
		case "h":
			c.path.close()
		case "re":
			x, y, w, h := op.Number(0), op.Number(1), op.Number(2), op.Number(3)
			c.path.moveTo(gs.CTM.Transform(coords.Point{X: x, Y: y}))
			c.path.lineTo(gs.CTM.Transform(coords.Point{X: x + w, Y: y}))
			c.path.lineTo(gs.CTM.Transform(coords.Point{X: x + w, Y: y + h}))
			c.path.lineTo(gs.CTM.Transform(coords.Point{X: x, Y: y + h}))
			c.path.close()
		case "f", "F", "f*":
			c.fill(gs.FillColor)
		case "S":
			c.stroke(gs)
		case "s":
			c.path.close()
			c.stroke(gs)
		case "B", "B*":
			c.fillKeep(gs.FillColor)
			c.stroke(gs)
		case "b", "b*":
			c.path.close()
			c.fillKeep(gs.FillColor)
			c.stroke(gs)
		case "n":
			c.path.reset()
		case "Do":
			name, _ := op.Name(0)
			if err := c.doXObject(name, res, gs, depth); err != nil {
				return err
			}
		case "BI":
			if img, err := decodeInlineImage(op); err == nil {
				c.drawImage(img, gs.CTM)
			}
		}
	}
	return nil
}

func (c *canvas) doXObject(name string, res *semantic.Resources, gs *contentstream.GraphicsState, depth int) error {
	stream, subtype, ok := res.XObject(name)
	if !ok {
		return nil
	}
	switch subtype {
	case "Image":
		img, err := decodeImage(c.ctx, c.doc, stream)
		if err != nil {
			// A broken image should not stop the rest of the page from drawing.
			return nil
		}
		c.drawImage(img, gs.CTM)
	case "Form":
		if depth >= c.maxDepth {
			return nil
		}
		form, ok := res.Form(name)
		if !ok {
			return nil
		}
		inner := contentstream.NewGraphicsState(form.Matrix.Multiply(gs.CTM))
		inner.FillColor, inner.StrokeColor = gs.FillColor, gs.StrokeColor
		formRes, _ := form.Resources.(*semantic.Resources)
		if formRes == nil {
			formRes = res
		}
		saved := c.path
		c.path = path{}
		err := c.run(form.Operations, formRes, inner, depth+1)
		c.path = saved
		return err
	}
	return nil
}
