package redact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/ir/semantic"
)

// ErrUnsupported is returned by Finalizer.Supports when a strategy cannot serve a document.
var ErrUnsupported = errors.New("finalize strategy not supported")

// Finalizer turns a page's pending overlay annotations into page content.
type Finalizer interface {
	Name() string
	Supports(doc *semantic.Document) error
	// Finalize flattens every pending overlay on page and reports how many it flattened.
	Finalize(ctx context.Context, page *semantic.Page) (int, error)
}

// DefaultFinalizers lists strategies in preference order.
func DefaultFinalizers() []Finalizer {
	return []Finalizer{MarkedContent{}, FormXObject{}}
}

// SelectFinalizer returns the first candidate that supports doc. It runs once per
// document; the chosen strategy is then used for every page.
func SelectFinalizer(doc *semantic.Document, candidates ...Finalizer) (Finalizer, error) {
	if len(candidates) == 0 {
		candidates = DefaultFinalizers()
	}
	for _, f := range candidates {
		err := f.Supports(doc)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrUnsupported) {
			return nil, fmt.Errorf("check %s: %w", f.Name(), err)
		}
	}
	return nil, ErrUnsupported
}

type pendingOverlay struct {
	annot semantic.Annotation
	ext   Extension
	fill  color.NRGBA
	rect  coords.Rect // user space
}

// pendingOverlays returns redaction annotations carrying valid metadata, in /Annots order.
func pendingOverlays(page *semantic.Page) []pendingOverlay {
	var out []pendingOverlay
	for _, a := range page.Annotations() {
		if a.Subtype() != "Redact" || a.Ref == nil {
			continue
		}
		ext, err := ParseExtension(page.Document().Resolve(a.Dict.Lookup(ExtensionKey)))
		if err != nil {
			continue
		}
		fill, ok := colorFromArray(a.Dict.Lookup("IC"))
		if !ok {
			fill = DefaultFill
		}
		out = append(out, pendingOverlay{annot: a, ext: ext, fill: fill, rect: page.ToUser(ext.BBox)})
	}
	return out
}

func coverOps(o pendingOverlay) []contentstream.Operation {
	return []contentstream.Operation{
		contentstream.Op("q"),
		contentstream.Op("rg", fillOperands(o.fill)...),
		contentstream.Op("re", contentstream.Nums(o.rect.X0, o.rect.Y0, o.rect.Width(), o.rect.Height())...),
		contentstream.Op("f"),
		contentstream.Op("Q"),
	}
}

// flatten wraps the existing content in a balanced q/Q pair, appends tail and
// drops the annotations it replaced.
func flatten(ctx context.Context, page *semantic.Page, overlays []pendingOverlay, tail []contentstream.Operation) error {
	data, err := page.Contents(ctx)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("q\n")
	buf.Write(data)
	buf.WriteByte('\n')
	if ops, err := contentstream.Parse(data); err == nil {
		for i := openSaves(ops); i > 0; i-- {
			buf.WriteString("Q\n")
		}
	}
	buf.WriteString("Q\n")
	buf.Write(contentstream.Serialize(tail))
	page.SetContents(buf.Bytes())
	for _, o := range overlays {
		page.RemoveAnnotation(*o.annot.Ref)
	}
	return nil
}

func openSaves(ops []contentstream.Operation) int {
	depth := 0
	for _, op := range ops {
		switch op.Operator {
		case "q":
			depth++
		case "Q":
			if depth > 0 {
				depth--
			}
		}
	}
	return depth
}

// MarkedContent draws each cover inside a /Redacted marked-content sequence whose
// property list is the overlay metadata.
type MarkedContent struct {
	// MinVersion defaults to 1.2, the first version with marked content.
	MinVersion string
}

func (MarkedContent) Name() string { return "marked-content" }

func (m MarkedContent) Supports(doc *semantic.Document) error {
	minVersion := m.MinVersion
	if minVersion == "" {
		minVersion = "1.2"
	}
	if v := doc.Version(); v != "" && versionLess(v, minVersion) {
		return fmt.Errorf("%w: PDF %s predates marked content", ErrUnsupported, v)
	}
	return nil
}

func (MarkedContent) Finalize(ctx context.Context, page *semantic.Page) (int, error) {
	overlays := pendingOverlays(page)
	if len(overlays) == 0 {
		return 0, nil
	}
	var tail []contentstream.Operation
	for _, o := range overlays {
		tail = append(tail, contentstream.Op("BDC", raw.NameLiteral(MarkedContentTag), o.ext.Dict()))
		tail = append(tail, coverOps(o)...)
		tail = append(tail, contentstream.Op("EMC"))
	}
	if err := flatten(ctx, page, overlays, tail); err != nil {
		return 0, err
	}
	return len(overlays), nil
}

// FormXObject draws each cover through its own form XObject carrying the metadata.
type FormXObject struct{}

func (FormXObject) Name() string { return "form-xobject" }

func (FormXObject) Supports(*semantic.Document) error { return nil }

func (FormXObject) Finalize(ctx context.Context, page *semantic.Page) (int, error) {
	overlays := pendingOverlays(page)
	if len(overlays) == 0 {
		return 0, nil
	}
	var tail []contentstream.Operation
	for _, o := range overlays {
		form := raw.NewStream(raw.Dict().
			Put("Type", raw.NameLiteral("XObject")).
			Put("Subtype", raw.NameLiteral("Form")).
			Put("BBox", raw.Rect(o.rect.X0, o.rect.Y0, o.rect.X1, o.rect.Y1)).
			Put(ExtensionKey, o.ext.Dict()),
			contentstream.Serialize(coverOps(o)))
		name := page.AddXObject("RdX", form)
		tail = append(tail,
			contentstream.Op("q"),
			contentstream.Op("Do", raw.NameLiteral(name)),
			contentstream.Op("Q"))
	}
	if err := flatten(ctx, page, overlays, tail); err != nil {
		return 0, err
	}
	return len(overlays), nil
}

func versionLess(a, b string) bool {
	pa, pb := versionParts(a), versionParts(b)
	if pa[0] != pb[0] {
		return pa[0] < pb[0]
	}
	return pa[1] < pb[1]
}

func versionParts(v string) [2]int {
	major, minor, _ := strings.Cut(v, ".")
	x, _ := strconv.Atoi(major)
	y, _ := strconv.Atoi(minor)
	return [2]int{x, y}
}

// ErrUnflattened is returned when a cover of the current job reaches the writer
// still as an annotation.
var ErrUnflattened = errors.New("overlay left unflattened")

// flattenGuard fails the write of any pending overlay whose id belongs to ids.
type flattenGuard struct{ ids map[string]bool }

func (g flattenGuard) BeforeWrite(_ context.Context, ref raw.ObjectRef, obj raw.Object) error {
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return nil
	}
	if sub, _ := raw.AsName(d.Lookup("Subtype")); sub != "Redact" {
		return nil
	}
	ext, err := ParseExtension(d.Lookup(ExtensionKey))
	if err != nil || !g.ids[ext.ID] {
		return nil
	}
	return fmt.Errorf("object %s, overlay %s: %w", ref, ext.ID, ErrUnflattened)
}

func (flattenGuard) AfterWrite(context.Context, raw.ObjectRef, int64) error { return nil }
