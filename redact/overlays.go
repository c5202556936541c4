package redact

import (
	"context"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/ir/semantic"
)

// OverlayKind tells how an overlay is stored on the page.
type OverlayKind int

const (
	// OverlayPending is a redaction annotation that was never flattened.
	OverlayPending OverlayKind = iota
	// OverlayMarkedContent is a /Redacted marked-content sequence.
	OverlayMarkedContent
	// OverlayForm is a form XObject carrying the metadata.
	OverlayForm
)

func (k OverlayKind) String() string {
	switch k {
	case OverlayPending:
		return "annotation"
	case OverlayMarkedContent:
		return "marked-content"
	case OverlayForm:
		return "form"
	}
	return "unknown"
}

// FoundOverlay describes one overlay on a page. Err is set when the metadata is
// present but invalid.
type FoundOverlay struct {
	Kind OverlayKind
	Page int
	Ext  Extension
	Err  error
}

type overlaySite struct {
	FoundOverlay
	annot      semantic.Annotation
	start, end int // operation range, inclusive; unused for annotations
	drawOps    []contentstream.Operation
}

// scanPage locates every overlay on page. ops is nil when the content cannot be
// parsed; annotation overlays are still reported then.
func scanPage(ctx context.Context, page *semantic.Page) ([]overlaySite, []contentstream.Operation, error) {
	var sites []overlaySite
	doc := page.Document()
	for _, a := range page.Annotations() {
		if a.Subtype() != "Redact" || a.Ref == nil {
			continue
		}
		meta := doc.Resolve(a.Dict.Lookup(ExtensionKey))
		if meta == nil {
			continue
		}
		ext, err := ParseExtension(meta)
		sites = append(sites, overlaySite{
			FoundOverlay: FoundOverlay{Kind: OverlayPending, Page: page.Number, Ext: ext, Err: err},
			annot:        a,
			start:        -1,
			end:          -1,
		})
	}

	ops, err := page.Operations(ctx)
	if err != nil {
		return sites, nil, err
	}
	res := page.Resources()
	for i := 0; i < len(ops); i++ {
		op := ops[i]
		switch op.Operator {
		case "BDC":
			tag, _ := op.Name(0)
			if tag != MarkedContentTag || len(op.Operands) < 2 {
				continue
			}
			props := op.Operands[1]
			if name, ok := props.(raw.NameObj); ok {
				props = propertyList(doc, res, name.Val)
			}
			end := matchingEMC(ops, i)
			if end < 0 {
				continue
			}
			ext, perr := ParseExtension(props)
			sites = append(sites, overlaySite{
				FoundOverlay: FoundOverlay{Kind: OverlayMarkedContent, Page: page.Number, Ext: ext, Err: perr},
				start:        i,
				end:          end,
			})
			i = end
		case "Do":
			name, _ := op.Name(0)
			stream, subtype, ok := res.XObject(name)
			if !ok || subtype != "Form" {
				continue
			}
			meta := doc.Resolve(stream.Dict.Lookup(ExtensionKey))
			if meta == nil {
				continue
			}
			ext, perr := ParseExtension(meta)
			sites = append(sites, overlaySite{
				FoundOverlay: FoundOverlay{Kind: OverlayForm, Page: page.Number, Ext: ext, Err: perr},
				start:        i,
				end:          i,
			})
		}
	}
	return sites, ops, nil
}

func propertyList(doc *semantic.Document, res *semantic.Resources, name string) raw.Object {
	if res == nil || res.Dict() == nil {
		return nil
	}
	props, ok := doc.Resolve(res.Dict().Lookup("Properties")).(*raw.DictObj)
	if !ok {
		return nil
	}
	return doc.Resolve(props.Lookup(name))
}

// matchingEMC returns the index of the EMC closing the sequence opened at start.
func matchingEMC(ops []contentstream.Operation, start int) int {
	depth := 0
	for i := start; i < len(ops); i++ {
		switch ops[i].Operator {
		case "BDC", "BMC":
			depth++
		case "EMC":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// FindOverlays lists the overlays of every page in order.
func FindOverlays(ctx context.Context, doc *semantic.Document) ([]FoundOverlay, error) {
	var out []FoundOverlay
	for _, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sites, _, err := scanPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, s := range sites {
			out = append(out, s.FoundOverlay)
		}
	}
	return out, nil
}
