package fonts

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
)

// Glyph is one decoded character code.
type Glyph struct {
	Code int
	// Bytes is the code length in the string (1 for simple fonts, 2 for Identity CID fonts).
	Bytes int
	// Width is the horizontal advance in glyph space (1000 units per em).
	Width float64
	Text  string
}

// Font carries what the renderer and the text extractor need from a PDF font
// dictionary: code widths, code to text mapping and, when embedded, the glyph program.
type Font struct {
	BaseFont string
	Subtype  string
	TwoByte  bool
	// Ascent and Descent are fractions of an em.
	Ascent, Descent float64

	firstChar    int
	widths       []float64
	missingWidth float64
	cidWidths    map[int]float64
	defaultWidth float64
	encoding     *charmap.Charmap
	differences  map[int]rune
	toUnicode    *CMap
	program      *sfnt.Font
}

// Default returns a Helvetica-like font whose metrics come from the fallback face.
func Default() *Font {
	return &Font{BaseFont: "Helvetica", Subtype: "Type1", Ascent: 0.8, Descent: -0.2, encoding: charmap.Windows1252}
}

// Load reads a font dictionary. Damaged entries degrade to defaults rather than failing.
func Load(doc *raw.Document, dict *raw.DictObj) *Font {
	f := Default()
	if dict == nil {
		return f
	}
	f.BaseFont, _ = raw.AsName(dict.Lookup("BaseFont"))
	f.Subtype, _ = raw.AsName(dict.Lookup("Subtype"))

	descriptorOwner := dict
	if f.Subtype == "Type0" {
		f.TwoByte = true
		f.defaultWidth = 1000
		if kids, ok := doc.Resolve(dict.Lookup("DescendantFonts")).(*raw.ArrayObj); ok && kids.Len() > 0 {
			if cid := doc.ResolveDict(kids.Items[0]); cid != nil {
				descriptorOwner = cid
				if dw, ok := raw.AsNumber(doc.Resolve(cid.Lookup("DW"))); ok {
					f.defaultWidth = dw
				}
				f.cidWidths = parseCIDWidths(doc, doc.Resolve(cid.Lookup("W")))
			}
		}
	} else {
		if fc, ok := raw.AsNumber(doc.Resolve(dict.Lookup("FirstChar"))); ok {
			f.firstChar = int(fc)
		}
		if ws, ok := raw.AsNumbers(doc.Resolve(dict.Lookup("Widths"))); ok {
			f.widths = ws
		}
		f.readEncoding(doc, doc.Resolve(dict.Lookup("Encoding")))
	}

	if desc := doc.ResolveDict(descriptorOwner.Lookup("FontDescriptor")); desc != nil {
		if v, ok := raw.AsNumber(doc.Resolve(desc.Lookup("MissingWidth"))); ok {
			f.missingWidth = v
		}
		if v, ok := raw.AsNumber(doc.Resolve(desc.Lookup("Ascent"))); ok && v > 0 {
			f.Ascent = v / 1000
		}
		if v, ok := raw.AsNumber(doc.Resolve(desc.Lookup("Descent"))); ok && v < 0 {
			f.Descent = v / 1000
		}
		for _, key := range []string{"FontFile2", "FontFile3"} {
			if stream, ok := doc.Resolve(desc.Lookup(key)).(*raw.StreamObj); ok {
				if data, err := decodeStream(stream); err == nil {
					if prog, err := opentype.Parse(data); err == nil {
						f.program = prog
						break
					}
				}
			}
		}
	}

	if stream, ok := doc.Resolve(dict.Lookup("ToUnicode")).(*raw.StreamObj); ok {
		if data, err := decodeStream(stream); err == nil {
			if cm, err := ParseCMap(data); err == nil {
				f.toUnicode = cm
			}
		}
	}
	return f
}

func (f *Font) readEncoding(doc *raw.Document, enc raw.Object) {
	switch v := enc.(type) {
	case raw.NameObj:
		f.encoding = namedEncoding(v.Val)
	case *raw.DictObj:
		if base, ok := raw.AsName(v.Lookup("BaseEncoding")); ok {
			f.encoding = namedEncoding(base)
		}
		diffs, ok := doc.Resolve(v.Lookup("Differences")).(*raw.ArrayObj)
		if !ok {
			return
		}
		f.differences = make(map[int]rune)
		code := 0
		for _, item := range diffs.Items {
			switch it := item.(type) {
			case raw.NumberObj:
				code = int(it.Int())
			case raw.NameObj:
				if r, ok := GlyphNameToRune(it.Val); ok {
					f.differences[code] = r
				}
				code++
			}
		}
	}
}

func namedEncoding(name string) *charmap.Charmap {
	if name == "MacRomanEncoding" {
		return charmap.Macintosh
	}
	return charmap.Windows1252
}

func parseCIDWidths(doc *raw.Document, obj raw.Object) map[int]float64 {
	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil
	}
	out := make(map[int]float64)
	items := arr.Items
	for i := 0; i < len(items); {
		first, ok := raw.AsNumber(items[i])
		if !ok || i+1 >= len(items) {
			break
		}
		if list, ok := doc.Resolve(items[i+1]).(*raw.ArrayObj); ok {
			ws, _ := raw.AsNumbers(list)
			for j, w := range ws {
				out[int(first)+j] = w
			}
			i += 2
			continue
		}
		if i+2 >= len(items) {
			break
		}
		last, _ := raw.AsNumber(items[i+1])
		w, _ := raw.AsNumber(items[i+2])
		for c := int(first); c <= int(last) && c-int(first) < 0xFFFF; c++ {
			out[c] = w
		}
		i += 3
	}
	return out
}

// Decode splits a shown string into glyphs.
func (f *Font) Decode(b []byte) []Glyph {
	if f.TwoByte {
		out := make([]Glyph, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			code := int(b[i])<<8 | int(b[i+1])
			g := Glyph{Code: code, Bytes: 2, Width: f.defaultWidth}
			if w, ok := f.cidWidths[code]; ok {
				g.Width = w
			}
			g.Text, _ = f.toUnicode.Lookup(code, 2)
			out = append(out, g)
		}
		return out
	}
	out := make([]Glyph, 0, len(b))
	for _, c := range b {
		code := int(c)
		g := Glyph{Code: code, Bytes: 1}
		if text, ok := f.toUnicode.Lookup(code, 1); ok {
			g.Text = text
		} else {
			g.Text = string(f.runeFor(code))
		}
		g.Width = f.width(code, g.Text)
		out = append(out, g)
	}
	return out
}

func (f *Font) runeFor(code int) rune {
	if r, ok := f.differences[code]; ok {
		return r
	}
	enc := f.encoding
	if enc == nil {
		enc = charmap.Windows1252
	}
	return enc.DecodeByte(byte(code))
}

func (f *Font) width(code int, text string) float64 {
	if idx := code - f.firstChar; idx >= 0 && idx < len(f.widths) {
		return f.widths[idx]
	}
	if f.missingWidth > 0 {
		return f.missingWidth
	}
	r := []rune(text)
	if len(r) == 0 {
		return 0
	}
	return fallbackWidth(r[0])
}

// IsSpace reports whether g is the single-byte space code that receives word spacing.
func (g Glyph) IsSpace() bool { return g.Bytes == 1 && g.Code == 32 }

func decodeStream(s *raw.StreamObj) ([]byte, error) {
	names, params := filters.ExtractFilters(s.Dict)
	return filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: 32 << 20}).Decode(context.Background(), s.Data, names, params)
}

var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#', "dollar": '$', "percent": '%',
	"ampersand": '&', "quotesingle": '\'', "parenleft": '(', "parenright": ')', "asterisk": '*',
	"plus": '+', "comma": ',', "hyphen": '-', "period": '.', "slash": '/', "colon": ':',
	"semicolon": ';', "less": '<', "equal": '=', "greater": '>', "question": '?', "at": '@',
	"bracketleft": '[', "backslash": '\\', "bracketright": ']', "underscore": '_', "bullet": '•',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"endash": '–', "emdash": '—', "quoteleft": '‘', "quoteright": '’',
}

// GlyphNameToRune maps an Adobe glyph name to a rune for the common Latin subset
// plus the uniXXXX and single letter forms.
func GlyphNameToRune(name string) (rune, bool) {
	if r, ok := glyphNames[name]; ok {
		return r, true
	}
	if len(name) == 1 {
		return rune(name[0]), true
	}
	if strings.HasPrefix(name, "uni") && len(name) == 7 {
		if v, err := strconv.ParseUint(name[3:], 16, 32); err == nil {
			return rune(v), true
		}
	}
	return 0, false
}
