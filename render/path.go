package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/vector"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
)

type segOp uint8

const (
	segMove segOp = iota
	segLine
	segCube
	segClose
)

type segment struct {
	op  segOp
	pts [3]coords.Point
}

// path is the current path in device pixels.
type path struct {
	segs  []segment
	start coords.Point
	cur   coords.Point
}

func (p *path) moveTo(pt coords.Point) {
	p.segs = append(p.segs, segment{op: segMove, pts: [3]coords.Point{pt}})
	p.start, p.cur = pt, pt
}

func (p *path) lineTo(pt coords.Point) {
	if len(p.segs) == 0 {
		p.moveTo(pt)
		return
	}
	p.segs = append(p.segs, segment{op: segLine, pts: [3]coords.Point{pt}})
	p.cur = pt
}

func (p *path) cubeTo(c1, c2, end coords.Point) {
	if len(p.segs) == 0 {
		p.moveTo(c1)
	}
	p.segs = append(p.segs, segment{op: segCube, pts: [3]coords.Point{c1, c2, end}})
	p.cur = end
}

func (p *path) close() {
	if len(p.segs) == 0 {
		return
	}
	p.segs = append(p.segs, segment{op: segClose})
	p.cur = p.start
}

func (p *path) current() coords.Point { return p.cur }
func (p *path) reset()                { p.segs = p.segs[:0] }

const coordLimit = 1 << 20

func clampf(v float64) float32 {
	if math.IsNaN(v) {
		return 0
	}
	return float32(math.Max(-coordLimit, math.Min(coordLimit, v)))
}

func (c *canvas) rasterizer() *vector.Rasterizer {
	b := c.dst.Bounds()
	return vector.NewRasterizer(b.Dx(), b.Dy())
}

func (c *canvas) paint(z *vector.Rasterizer, col color.NRGBA) {
	z.Draw(c.dst, c.dst.Bounds(), image.NewUniform(col), image.Point{})
}

// fillKeep fills every subpath, closing open ones, and keeps the path for a stroke.
func (c *canvas) fillKeep(col color.NRGBA) {
	if len(c.path.segs) == 0 {
		return
	}
	z := c.rasterizer()
	open := false
	for _, s := range c.path.segs {
		switch s.op {
		case segMove:
			if open {
				z.ClosePath()
			}
			z.MoveTo(clampf(s.pts[0].X), clampf(s.pts[0].Y))
			open = true
		case segLine:
			z.LineTo(clampf(s.pts[0].X), clampf(s.pts[0].Y))
		case segCube:
			z.CubeTo(clampf(s.pts[0].X), clampf(s.pts[0].Y), clampf(s.pts[1].X), clampf(s.pts[1].Y), clampf(s.pts[2].X), clampf(s.pts[2].Y))
		case segClose:
			if open {
				z.ClosePath()
				open = false
			}
		}
	}
	if open {
		z.ClosePath()
	}
	c.paint(z, col)
}

func (c *canvas) fill(col color.NRGBA) {
	c.fillKeep(col)
	c.path.reset()
}

// stroke draws each flattened segment as a quad of the device line width.
func (c *canvas) stroke(gs *contentstream.GraphicsState) {
	defer c.path.reset()
	if len(c.path.segs) == 0 {
		return
	}
	m := gs.CTM
	width := gs.LineWidth * math.Sqrt(math.Abs(m[0]*m[3]-m[1]*m[2]))
	if width < 1 {
		width = 1
	}
	hw := width / 2
	z := c.rasterizer()
	var start, cur coords.Point
	line := func(a, b coords.Point) {
		dx, dy := b.X-a.X, b.Y-a.Y
		l := math.Hypot(dx, dy)
		if l == 0 {
			return
		}
		nx, ny := -dy/l*hw, dx/l*hw
		z.MoveTo(clampf(a.X+nx), clampf(a.Y+ny))
		z.LineTo(clampf(b.X+nx), clampf(b.Y+ny))
		z.LineTo(clampf(b.X-nx), clampf(b.Y-ny))
		z.LineTo(clampf(a.X-nx), clampf(a.Y-ny))
		z.ClosePath()
	}
	for _, s := range c.path.segs {
		switch s.op {
		case segMove:
			start, cur = s.pts[0], s.pts[0]
		case segLine:
			line(cur, s.pts[0])
			cur = s.pts[0]
		case segCube:
			const steps = 16
			p0 := cur
			for i := 1; i <= steps; i++ {
				t := float64(i) / steps
				next := cubicPoint(p0, s.pts[0], s.pts[1], s.pts[2], t)
				line(cur, next)
				cur = next
			}
		case segClose:
			line(cur, start)
			cur = start
		}
	}
	c.paint(z, gs.StrokeColor)
}

func cubicPoint(p0, p1, p2, p3 coords.Point, t float64) coords.Point {
	u := 1 - t
	a, b, cc, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return coords.Point{
		X: a*p0.X + b*p1.X + cc*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + cc*p2.Y + d*p3.Y,
	}
}

// fillText draws glyph outlines of a text run with the fill colour.
func (c *canvas) fillText(run contentstream.TextRun, gs *contentstream.GraphicsState) {
	if run.Font == nil || len(run.Glyphs) == 0 {
		return
	}
	z := c.rasterizer()
	drawn := false
	for _, pg := range run.Glyphs {
		outline, ok := run.Font.Outline(pg.Glyph)
		if !ok {
			continue
		}
		pt := func(i int, s sfnt.Segment) (float32, float32) {
			x, y := outline.Point(s.Args[i])
			p := pg.Matrix.Transform(coords.Point{X: x, Y: y})
			return clampf(p.X), clampf(p.Y)
		}
		open := false
		for _, s := range outline.Segments {
			switch s.Op {
			case sfnt.SegmentOpMoveTo:
				if open {
					z.ClosePath()
				}
				z.MoveTo(pt(0, s))
				open = true
			case sfnt.SegmentOpLineTo:
				z.LineTo(pt(0, s))
			case sfnt.SegmentOpQuadTo:
				x1, y1 := pt(0, s)
				x2, y2 := pt(1, s)
				z.QuadTo(x1, y1, x2, y2)
			case sfnt.SegmentOpCubeTo:
				x1, y1 := pt(0, s)
				x2, y2 := pt(1, s)
				x3, y3 := pt(2, s)
				z.CubeTo(x1, y1, x2, y2, x3, y3)
			}
		}
		if open {
			z.ClosePath()
		}
		drawn = true
	}
	if drawn {
		c.paint(z, gs.FillColor)
	}
}
