package fonts

import (
	"sync"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

var (
	fallbackOnce sync.Once
	fallbackFace *sfnt.Font
)

// fallback is the face used for non-embedded fonts.
func fallback() *sfnt.Font {
	fallbackOnce.Do(func() {
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			panic("fonts: parse bundled goregular: " + err.Error())
		}
		fallbackFace = f
	})
	return fallbackFace
}

// fallbackWidth is the advance of r in the fallback face, in 1000 units per em.
func fallbackWidth(r rune) float64 {
	f := fallback()
	var buf sfnt.Buffer
	idx, err := f.GlyphIndex(&buf, r)
	if err != nil || idx == 0 {
		return 500
	}
	upem := int(f.UnitsPerEm())
	adv, err := f.GlyphAdvance(&buf, idx, fixed.I(upem), xfont.HintingNone)
	if err != nil {
		return 500
	}
	return float64(adv) / 64 / float64(upem) * 1000
}

// Outline is a glyph shape in em units with the y axis pointing up.
type Outline struct {
	Segments []sfnt.Segment
	// Scale converts segment coordinates (26.6 font units, y down) into ems.
	Scale float64
}

// Point converts a segment coordinate into em space.
func (o Outline) Point(p fixed.Point26_6) (x, y float64) {
	return float64(p.X) * o.Scale, -float64(p.Y) * o.Scale
}

// Outline returns the shape for g. Embedded programs are used when the glyph can be
// located in them, otherwise the fallback face draws the glyph's text.
func (f *Font) Outline(g Glyph) (Outline, bool) {
	if f.program != nil {
		if o, ok := outlineFor(f.program, f.glyphIndex(g)); ok {
			return o, true
		}
	}
	r := []rune(g.Text)
	if len(r) == 0 || r[0] == ' ' {
		return Outline{}, false
	}
	face := fallback()
	var buf sfnt.Buffer
	idx, err := face.GlyphIndex(&buf, r[0])
	if err != nil || idx == 0 {
		return Outline{}, false
	}
	return outlineFor(face, idx)
}

func (f *Font) glyphIndex(g Glyph) sfnt.GlyphIndex {
	if f.TwoByte {
		// Identity CIDToGIDMap.
		return sfnt.GlyphIndex(g.Code)
	}
	r := []rune(g.Text)
	if len(r) == 0 {
		return 0
	}
	var buf sfnt.Buffer
	idx, err := f.program.GlyphIndex(&buf, r[0])
	if err != nil {
		return 0
	}
	return idx
}

func outlineFor(face *sfnt.Font, idx sfnt.GlyphIndex) (Outline, bool) {
	if idx == 0 || int(idx) >= face.NumGlyphs() {
		return Outline{}, false
	}
	var buf sfnt.Buffer
	upem := int(face.UnitsPerEm())
	segs, err := face.LoadGlyph(&buf, idx, fixed.I(upem), nil)
	if err != nil || len(segs) == 0 {
		return Outline{}, false
	}
	// LoadGlyph reuses buf; keep our own copy.
	out := make([]sfnt.Segment, len(segs))
	copy(out, segs)
	return Outline{Segments: out, Scale: 1 / (64 * float64(upem))}, true
}
