// Package builder assembles small PDF documents from drawing calls. It backs the
// sample command and test fixtures, and encodes restored snapshots as images.
package builder

import (
	"fmt"
	"image"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/ir/raw"
)

// PDFBuilder provides a fluent API for PDF construction.
type PDFBuilder interface {
	NewPage(width, height float64) PageBuilder
	SetVersion(v string) PDFBuilder
	SetInfo(title, author string) PDFBuilder
	Build() (*raw.Document, error)
}

// PageBuilder provides a fluent API for page construction. Coordinates are PDF
// user space (origin bottom-left).
type PageBuilder interface {
	DrawText(text string, x, y float64, opts TextOptions) PageBuilder
	DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder
	DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder
	DrawImage(img image.Image, x, y, width, height float64) PageBuilder
	SetMediaBox(llx, lly, urx, ury float64) PageBuilder
	SetRotation(degrees int) PageBuilder
	Finish() PDFBuilder
}

// TextOptions configures text drawing.
type TextOptions struct {
	// Font is one of the standard 14 base fonts; Helvetica when empty.
	Font       string
	FontSize   float64
	Color      Color
	RenderMode contentstream.TextRenderMode
}

// RectOptions configures rectangle drawing (defaults to fill if neither fill nor stroke is set).
type RectOptions struct {
	FillColor   Color
	StrokeColor Color
	LineWidth   float64
	Fill        bool
	Stroke      bool
}

// LineOptions configures line drawing.
type LineOptions struct {
	StrokeColor Color
	LineWidth   float64
}

// Color is an RGB colour with components in [0,1].
type Color struct {
	R, G, B float64
}

type pageSpec struct {
	media    [4]float64
	rotate   int
	ops      []contentstream.Operation
	fonts    map[string]string // resource name -> base font
	images   []*raw.StreamObj
	imgNames []string
}

type builderImpl struct {
	version string
	title   string
	author  string
	pages   []*pageSpec
	err     error
}

type pageBuilderImpl struct {
	parent *builderImpl
	page   *pageSpec
}

const defaultBaseFont = "Helvetica"

// NewBuilder constructs a PDFBuilder producing PDF 1.7.
func NewBuilder() PDFBuilder { return &builderImpl{version: "1.7"} }

func (b *builderImpl) NewPage(w, h float64) PageBuilder {
	p := &pageSpec{media: [4]float64{0, 0, w, h}, fonts: make(map[string]string)}
	b.pages = append(b.pages, p)
	return &pageBuilderImpl{parent: b, page: p}
}

func (b *builderImpl) SetVersion(v string) PDFBuilder {
	b.version = v
	return b
}

func (b *builderImpl) SetInfo(title, author string) PDFBuilder {
	b.title, b.author = title, author
	return b
}

func (b *builderImpl) Build() (*raw.Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	doc := raw.NewDocument(b.version)
	pagesRef := raw.ObjectRef{Num: 1}
	doc.Objects[pagesRef] = raw.Dict()
	fontRefs := make(map[string]raw.RefObj)
	kids := raw.NewArray()
	for _, p := range b.pages {
		fontDict := raw.Dict()
		names := make([]string, 0, len(p.fonts))
		for name := range p.fonts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			base := p.fonts[name]
			ref, ok := fontRefs[base]
			if !ok {
				ref = doc.Add(raw.Dict().
					Put("Type", raw.NameLiteral("Font")).
					Put("Subtype", raw.NameLiteral("Type1")).
					Put("BaseFont", raw.NameLiteral(base)).
					Put("Encoding", raw.NameLiteral("WinAnsiEncoding")))
				fontRefs[base] = ref
			}
			fontDict.Put(name, ref)
		}
		res := raw.Dict()
		if fontDict.Len() > 0 {
			res.Put("Font", fontDict)
		}
		if len(p.images) > 0 {
			xobj := raw.Dict()
			for i, img := range p.images {
				xobj.Put(p.imgNames[i], doc.Add(img))
			}
			res.Put("XObject", xobj)
		}
		contents := doc.Add(raw.NewStream(raw.Dict(), contentstream.Serialize(p.ops)))
		page := raw.Dict().
			Put("Type", raw.NameLiteral("Page")).
			Put("Parent", raw.RefObj{R: pagesRef}).
			Put("MediaBox", raw.Rect(p.media[0], p.media[1], p.media[2], p.media[3])).
			Put("Resources", res).
			Put("Contents", contents)
		if p.rotate != 0 {
			page.Put("Rotate", raw.NumberInt(int64(p.rotate)))
		}
		kids.Append(doc.Add(page))
	}
	doc.Objects[pagesRef] = raw.Dict().
		Put("Type", raw.NameLiteral("Pages")).
		Put("Kids", kids).
		Put("Count", raw.NumberInt(int64(len(b.pages))))
	catalog := doc.Add(raw.Dict().Put("Type", raw.NameLiteral("Catalog")).Put("Pages", raw.RefObj{R: pagesRef}))
	doc.Trailer.Put("Root", catalog)
	if b.title != "" || b.author != "" {
		info := raw.Dict()
		if b.title != "" {
			info.Put("Title", raw.Str([]byte(b.title)))
		}
		if b.author != "" {
			info.Put("Author", raw.Str([]byte(b.author)))
		}
		doc.Trailer.Put("Info", doc.Add(info))
	}
	return doc, nil
}

func (p *pageBuilderImpl) DrawText(text string, x, y float64, opts TextOptions) PageBuilder {
	base := opts.Font
	if base == "" {
		base = defaultBaseFont
	}
	fontName := p.fontResource(base)
	size := opts.FontSize
	if size <= 0 {
		size = 12
	}
	encoded, err := charmap.Windows1252.NewEncoder().String(text)
	if err != nil {
		p.parent.err = fmt.Errorf("text %q: %w", text, err)
		return p
	}
	ops := []contentstream.Operation{
		contentstream.Op("BT"),
		contentstream.Op("Tf", raw.NameLiteral(fontName), raw.NumberOf(size)),
	}
	if opts.RenderMode != contentstream.TextFill {
		ops = append(ops, contentstream.Op("Tr", raw.NumberInt(int64(opts.RenderMode))))
	}
	ops = append(ops,
		contentstream.Op("Tm", contentstream.Nums(1, 0, 0, 1, x, y)...),
		contentstream.Op("rg", contentstream.Nums(opts.Color.R, opts.Color.G, opts.Color.B)...),
		contentstream.Op("Tj", raw.Str([]byte(encoded))),
		contentstream.Op("ET"),
	)
	p.page.ops = append(p.page.ops, ops...)
	return p
}

func (p *pageBuilderImpl) fontResource(base string) string {
	for name, b := range p.page.fonts {
		if b == base {
			return name
		}
	}
	name := fmt.Sprintf("F%d", len(p.page.fonts)+1)
	p.page.fonts[name] = base
	return name
}

func (p *pageBuilderImpl) DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder {
	if !opts.Fill && !opts.Stroke {
		opts.Fill = true
	}
	ops := []contentstream.Operation{contentstream.Op("q")}
	if opts.Fill {
		ops = append(ops, contentstream.Op("rg", contentstream.Nums(opts.FillColor.R, opts.FillColor.G, opts.FillColor.B)...))
	}
	if opts.Stroke {
		ops = append(ops, contentstream.Op("RG", contentstream.Nums(opts.StrokeColor.R, opts.StrokeColor.G, opts.StrokeColor.B)...))
		if opts.LineWidth > 0 {
			ops = append(ops, contentstream.Op("w", raw.NumberOf(opts.LineWidth)))
		}
	}
	ops = append(ops, contentstream.Op("re", contentstream.Nums(x, y, width, height)...))
	switch {
	case opts.Fill && opts.Stroke:
		ops = append(ops, contentstream.Op("B"))
	case opts.Fill:
		ops = append(ops, contentstream.Op("f"))
	default:
		ops = append(ops, contentstream.Op("S"))
	}
	p.page.ops = append(p.page.ops, append(ops, contentstream.Op("Q"))...)
	return p
}

func (p *pageBuilderImpl) DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder {
	width := opts.LineWidth
	if width <= 0 {
		width = 1
	}
	p.page.ops = append(p.page.ops,
		contentstream.Op("q"),
		contentstream.Op("RG", contentstream.Nums(opts.StrokeColor.R, opts.StrokeColor.G, opts.StrokeColor.B)...),
		contentstream.Op("w", raw.NumberOf(width)),
		contentstream.Op("m", contentstream.Nums(x1, y1)...),
		contentstream.Op("l", contentstream.Nums(x2, y2)...),
		contentstream.Op("S"),
		contentstream.Op("Q"),
	)
	return p
}

// DrawImage paints img stretched over the given rectangle.
func (p *pageBuilderImpl) DrawImage(img image.Image, x, y, width, height float64) PageBuilder {
	name := fmt.Sprintf("Im%d", len(p.page.images))
	p.page.images = append(p.page.images, ImageXObject(img))
	p.page.imgNames = append(p.page.imgNames, name)
	p.page.ops = append(p.page.ops,
		contentstream.Op("q"),
		contentstream.Op("cm", contentstream.Nums(width, 0, 0, height, x, y)...),
		contentstream.Op("Do", raw.NameLiteral(name)),
		contentstream.Op("Q"),
	)
	return p
}

func (p *pageBuilderImpl) SetMediaBox(llx, lly, urx, ury float64) PageBuilder {
	p.page.media = [4]float64{llx, lly, urx, ury}
	return p
}

func (p *pageBuilderImpl) SetRotation(degrees int) PageBuilder {
	p.page.rotate = ((degrees % 360) + 360) % 360
	return p
}

func (p *pageBuilderImpl) Finish() PDFBuilder { return p.parent }

// Encodable reports whether text can be drawn with the standard fonts.
func Encodable(text string) bool {
	_, err := charmap.Windows1252.NewEncoder().String(text)
	return err == nil && !strings.ContainsRune(text, 0)
}
