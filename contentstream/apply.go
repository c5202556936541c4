package contentstream

import (
	"image/color"
	"math"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/fonts"
	"github.com/wudi/pdfredact/ir/raw"
)

// Resources resolves the names operators refer to.
type Resources interface {
	Font(name string) *fonts.Font
	Form(name string) (*Form, bool)
}

// Form is a form XObject ready to be walked.
type Form struct {
	Operations []Operation
	Matrix     coords.Matrix
	BBox       coords.Rect
	Resources  Resources
}

// Apply updates gs for graphics and text state operators. It reports false for
// operators it does not handle (painting, XObjects, marked content).
func (gs *GraphicsState) Apply(op Operation, res Resources) (bool, error) {
	ts := &gs.Text
	switch op.Operator {
	case "q":
		gs.Save()
	case "Q":
		if err := gs.Restore(); err != nil {
			return true, err
		}
	case "cm":
		if len(op.Operands) == 6 {
			gs.CTM = operandMatrix(op).Multiply(gs.CTM)
		}
	case "w":
		gs.LineWidth = op.Number(0)

	case "g", "rg", "k", "sc", "scn":
		if c, ok := operandColor(op); ok {
			gs.FillColor = c
		}
	case "G", "RG", "K", "SC", "SCN":
		if c, ok := operandColor(op); ok {
			gs.StrokeColor = c
		}
	case "cs":
		gs.FillColor = color.NRGBA{A: 255}
	case "CS":
		gs.StrokeColor = color.NRGBA{A: 255}

	case "BT":
		ts.Begin()
	case "ET":
	case "Tf":
		name, _ := op.Name(0)
		ts.FontName = name
		ts.FontSize = op.Number(1)
		ts.Font = nil
		if res != nil {
			ts.Font = res.Font(name)
		}
		if ts.Font == nil {
			ts.Font = fonts.Default()
		}
	case "Tc":
		ts.CharSpacing = op.Number(0)
	case "Tw":
		ts.WordSpacing = op.Number(0)
	case "Tz":
		ts.HScale = op.Number(0) / 100
	case "TL":
		ts.Leading = op.Number(0)
	case "Ts":
		ts.Rise = op.Number(0)
	case "Tr":
		ts.RenderMode = TextRenderMode(op.Number(0))
	case "Td":
		ts.MoveLine(op.Number(0), op.Number(1))
	case "TD":
		ts.Leading = -op.Number(1)
		ts.MoveLine(op.Number(0), op.Number(1))
	case "Tm":
		if len(op.Operands) == 6 {
			ts.SetMatrix(operandMatrix(op))
		}
	case "T*":
		ts.NextLine()
	default:
		return false, nil
	}
	return true, nil
}

// TextRun is one text showing operator expanded into positioned glyphs.
type TextRun struct {
	Glyphs []PlacedGlyph
	Font   *fonts.Font
}

// ShowText handles Tj, TJ, ' and ". ok is false for other operators.
func (gs *GraphicsState) ShowText(op Operation) (TextRun, bool) {
	ts := &gs.Text
	if ts.Font == nil {
		ts.Font = fonts.Default()
	}
	run := TextRun{Font: ts.Font}
	show := func(b []byte) {
		run.Glyphs = append(run.Glyphs, ts.Show(ts.Font.Decode(b), gs.CTM)...)
	}
	switch op.Operator {
	case "Tj":
		if s, ok := stringOperand(op, 0); ok {
			show(s)
		}
	case "'":
		ts.NextLine()
		if s, ok := stringOperand(op, 0); ok {
			show(s)
		}
	case "\"":
		ts.WordSpacing = op.Number(0)
		ts.CharSpacing = op.Number(1)
		ts.NextLine()
		if s, ok := stringOperand(op, 2); ok {
			show(s)
		}
	case "TJ":
		arr, ok := operand(op, 0).(*raw.ArrayObj)
		if !ok {
			return run, true
		}
		for _, item := range arr.Items {
			switch v := item.(type) {
			case raw.StringObj:
				show(v.Bytes)
			case raw.NumberObj:
				ts.Kern(v.Float())
			}
		}
	default:
		return run, false
	}
	return run, true
}

func operand(op Operation, i int) raw.Object {
	if i < 0 || i >= len(op.Operands) {
		return nil
	}
	return op.Operands[i]
}

func stringOperand(op Operation, i int) ([]byte, bool) {
	s, ok := operand(op, i).(raw.StringObj)
	return s.Bytes, ok
}

func operandMatrix(op Operation) coords.Matrix {
	var m coords.Matrix
	for i := range m {
		m[i] = op.Number(i)
	}
	return m
}

func operandColor(op Operation) (color.NRGBA, bool) {
	var vals []float64
	for i := range op.Operands {
		if _, isName := op.Name(i); isName {
			continue // pattern name for scn
		}
		vals = append(vals, op.Number(i))
	}
	switch len(vals) {
	case 1:
		v := unit(vals[0])
		return color.NRGBA{R: v, G: v, B: v, A: 255}, true
	case 3:
		return color.NRGBA{R: unit(vals[0]), G: unit(vals[1]), B: unit(vals[2]), A: 255}, true
	case 4:
		c, m, y, k := vals[0], vals[1], vals[2], vals[3]
		return color.NRGBA{
			R: unit((1 - c) * (1 - k)),
			G: unit((1 - m) * (1 - k)),
			B: unit((1 - y) * (1 - k)),
			A: 255,
		}, true
	}
	return color.NRGBA{}, false
}

func unit(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
