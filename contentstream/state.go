package contentstream

import (
	"errors"
	"image/color"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/fonts"
)

// GraphicsState is the subset of the PDF graphics state tracked while walking content.
type GraphicsState struct {
	CTM         coords.Matrix
	LineWidth   float64
	FillColor   color.NRGBA
	StrokeColor color.NRGBA
	Text        TextState
	stack       []GraphicsState
}

// NewGraphicsState returns the initial state for a page drawn with base as CTM.
func NewGraphicsState(base coords.Matrix) *GraphicsState {
	return &GraphicsState{
		CTM:         base,
		LineWidth:   1,
		FillColor:   color.NRGBA{A: 255},
		StrokeColor: color.NRGBA{A: 255},
		Text:        TextState{HScale: 1},
	}
}

func (gs *GraphicsState) Save() {
	clone := *gs
	clone.stack = nil
	gs.stack = append(gs.stack, clone)
}

var ErrStateStack = errors.New("state stack empty")

func (gs *GraphicsState) Restore() error {
	n := len(gs.stack)
	if n == 0 {
		return ErrStateStack
	}
	stack := gs.stack[:n-1]
	*gs = gs.stack[n-1]
	gs.stack = stack
	return nil
}

// Depth is the number of saved states.
func (gs *GraphicsState) Depth() int { return len(gs.stack) }

// TextState holds text parameters; the text and line matrices live only inside BT/ET.
type TextState struct {
	Font        *fonts.Font
	FontName    string
	FontSize    float64
	CharSpacing float64
	WordSpacing float64
	HScale      float64
	Leading     float64
	Rise        float64
	RenderMode  TextRenderMode

	TextMatrix     coords.Matrix
	TextLineMatrix coords.Matrix
}

func (ts *TextState) Begin() {
	ts.TextMatrix = coords.Identity()
	ts.TextLineMatrix = coords.Identity()
}

// MoveLine implements Td.
func (ts *TextState) MoveLine(tx, ty float64) {
	ts.TextLineMatrix = coords.Translate(tx, ty).Multiply(ts.TextLineMatrix)
	ts.TextMatrix = ts.TextLineMatrix
}

// NextLine implements T*.
func (ts *TextState) NextLine() { ts.MoveLine(0, -ts.Leading) }

func (ts *TextState) SetMatrix(m coords.Matrix) {
	ts.TextMatrix = m
	ts.TextLineMatrix = m
}

// PlacedGlyph is a glyph with the matrix mapping its em square into user space.
type PlacedGlyph struct {
	fonts.Glyph
	// Matrix maps glyph space (1 unit = 1 em) to user space.
	Matrix coords.Matrix
	// Advance is the horizontal advance in em units, already including spacing.
	Advance float64
}

// Show lays out glyphs starting at the current text matrix and advances it.
func (ts *TextState) Show(glyphs []fonts.Glyph, ctm coords.Matrix) []PlacedGlyph {
	out := make([]PlacedGlyph, 0, len(glyphs))
	for _, g := range glyphs {
		trm := coords.Matrix{ts.FontSize * ts.HScale, 0, 0, ts.FontSize, 0, ts.Rise}.
			Multiply(ts.TextMatrix).Multiply(ctm)
		tx := g.Width/1000*ts.FontSize + ts.CharSpacing
		if g.IsSpace() {
			tx += ts.WordSpacing
		}
		tx *= ts.HScale
		adv := 0.0
		if ts.FontSize != 0 {
			adv = tx / (ts.FontSize * ts.HScale)
		}
		out = append(out, PlacedGlyph{Glyph: g, Matrix: trm, Advance: adv})
		ts.TextMatrix = coords.Translate(tx, 0).Multiply(ts.TextMatrix)
	}
	return out
}

// Kern applies a TJ adjustment expressed in thousandths of an em.
func (ts *TextState) Kern(n float64) {
	tx := -n / 1000 * ts.FontSize * ts.HScale
	ts.TextMatrix = coords.Translate(tx, 0).Multiply(ts.TextMatrix)
}

// GlyphBox is the user space bounding box of a placed glyph, using the font's
// ascent and descent for the vertical extent.
func GlyphBox(pg PlacedGlyph, font *fonts.Font) coords.Rect {
	ascent, descent := 0.8, -0.2
	if font != nil {
		ascent, descent = font.Ascent, font.Descent
	}
	return pg.Matrix.TransformRect(coords.Rect{X0: 0, Y0: descent, X1: pg.Advance, Y1: ascent})
}
