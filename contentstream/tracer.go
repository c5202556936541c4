package contentstream

import (
	"fmt"
	"strings"

	"github.com/wudi/pdfredact/coords"
)

type BoxKind int

const (
	BoxText BoxKind = iota
	BoxPath
	BoxImage
)

func (k BoxKind) String() string {
	switch k {
	case BoxText:
		return "text"
	case BoxPath:
		return "path"
	case BoxImage:
		return "image"
	}
	return fmt.Sprintf("BoxKind(%d)", int(k))
}

// OpBBox is the user space bounding box of a painting operation. Operations inside
// form XObjects report the index of the Do that invoked the form.
type OpBBox struct {
	OpIndex int
	Kind    BoxKind
	Rect    coords.Rect
	// Text is the decoded text of text showing operators.
	Text string
}

// Tracer calculates the bounding boxes of operations in a content stream.
type Tracer struct {
	// MaxFormDepth bounds form XObject recursion.
	MaxFormDepth int
}

func NewTracer() *Tracer {
	return &Tracer{MaxFormDepth: 8}
}

// Trace executes the operations virtually, starting from base as the CTM.
func (t *Tracer) Trace(ops []Operation, res Resources, base coords.Matrix) ([]OpBBox, error) {
	var out []OpBBox
	gs := NewGraphicsState(base)
	err := t.trace(ops, res, gs, -1, 0, &out)
	return out, err
}

func (t *Tracer) trace(ops []Operation, res Resources, gs *GraphicsState, outer, depth int, out *[]OpBBox) error {
	var path []coords.Point
	for i, op := range ops {
		idx := i
		if outer >= 0 {
			idx = outer
		}
		handled, err := gs.Apply(op, res)
		if err != nil {
			return fmt.Errorf("op %d %s: %w", i, op.Operator, err)
		}
		if handled {
			continue
		}
		if run, ok := gs.ShowText(op); ok {
			if len(run.Glyphs) == 0 {
				continue
			}
			var rect coords.Rect
			var text strings.Builder
			for _, g := range run.Glyphs {
				rect = rect.Union(GlyphBox(g, run.Font))
				text.WriteString(g.Text)
			}
			*out = append(*out, OpBBox{OpIndex: idx, Kind: BoxText, Rect: rect, Text: text.String()})
			continue
		}

		switch op.Operator {
		case "m", "l":
			path = append(path, gs.CTM.Transform(coords.Point{X: op.Number(0), Y: op.Number(1)}))
		case "c":
			for j := 0; j < 6; j += 2 {
				path = append(path, gs.CTM.Transform(coords.Point{X: op.Number(j), Y: op.Number(j + 1)}))
			}
		case "v", "y":
			for j := 0; j < 4; j += 2 {
				path = append(path, gs.CTM.Transform(coords.Point{X: op.Number(j), Y: op.Number(j + 1)}))
			}
		case "re":
			x, y, w, h := op.Number(0), op.Number(1), op.Number(2), op.Number(3)
			r := gs.CTM.TransformRect(coords.Rect{X0: x, Y0: y, X1: x + w, Y1: y + h})
			path = append(path, coords.Point{X: r.X0, Y: r.Y0}, coords.Point{X: r.X1, Y: r.Y1})
		case "f", "F", "f*", "S", "s", "B", "B*", "b", "b*":
			if len(path) > 0 {
				*out = append(*out, OpBBox{OpIndex: idx, Kind: BoxPath, Rect: coords.Bounds(path...)})
			}
			path = path[:0]
		case "n":
			path = path[:0]
		case "BI":
			*out = append(*out, OpBBox{OpIndex: idx, Kind: BoxImage, Rect: gs.CTM.TransformRect(coords.Rect{X1: 1, Y1: 1})})
		case "Do":
			name, _ := op.Name(0)
			if res == nil {
				continue
			}
			form, ok := res.Form(name)
			if !ok {
				// Image XObjects are drawn in the unit square.
				*out = append(*out, OpBBox{OpIndex: idx, Kind: BoxImage, Rect: gs.CTM.TransformRect(coords.Rect{X1: 1, Y1: 1})})
				continue
			}
			if depth >= t.MaxFormDepth {
				continue
			}
			inner := NewGraphicsState(form.Matrix.Multiply(gs.CTM))
			inner.FillColor, inner.StrokeColor = gs.FillColor, gs.StrokeColor
			formRes := form.Resources
			if formRes == nil {
				formRes = res
			}
			if err := t.trace(form.Operations, formRes, inner, idx, depth+1, out); err != nil {
				return fmt.Errorf("form %s: %w", name, err)
			}
		}
	}
	return nil
}
