package semantic

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
)

type Page struct {
	// Number is 1-based.
	Number   int
	Ref      raw.ObjectRef
	Dict     *raw.DictObj
	MediaBox coords.Rect
	Rotate   int

	doc       *Document
	inherited raw.Object
}

func (p *Page) Document() *Document { return p.doc }

// Bounds is the page rectangle in top-left space: [0 0 width height] of the
// unrotated MediaBox.
func (p *Page) Bounds() coords.Rect {
	return coords.Rect{X1: p.MediaBox.Width(), Y1: p.MediaBox.Height()}
}

// ToUser converts a top-left box into PDF user space.
func (p *Page) ToUser(box coords.Rect) coords.Rect { return coords.FromTopLeft(box, p.MediaBox) }

// FromUser converts a user space rectangle into top-left page space.
func (p *Page) FromUser(r coords.Rect) coords.Rect { return coords.ToTopLeft(r, p.MediaBox) }

// ContentStreams lists the page's content streams in order.
func (p *Page) ContentStreams() []*raw.StreamObj {
	var out []*raw.StreamObj
	switch v := p.doc.Resolve(p.Dict.Lookup("Contents")).(type) {
	case *raw.StreamObj:
		out = append(out, v)
	case *raw.ArrayObj:
		for _, item := range v.Items {
			if s, ok := p.doc.Resolve(item).(*raw.StreamObj); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Contents returns the decoded, concatenated content streams.
func (p *Page) Contents(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	for i, s := range p.ContentStreams() {
		data, err := p.doc.StreamData(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("page %d content stream %d: %w", p.Number, i, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Operations parses the page contents.
func (p *Page) Operations(ctx context.Context) ([]contentstream.Operation, error) {
	data, err := p.Contents(ctx)
	if err != nil {
		return nil, err
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", p.Number, err)
	}
	return ops, nil
}

// SetContents replaces all content streams with a single new stream.
func (p *Page) SetContents(data []byte) {
	ref := p.doc.AddObject(raw.NewStream(raw.Dict(), data))
	p.Dict.Put("Contents", ref)
}

// AppendContents adds a stream after the existing ones.
func (p *Page) AppendContents(data []byte) {
	ref := p.doc.AddObject(raw.NewStream(raw.Dict(), data))
	arr := raw.NewArray()
	switch v := p.Dict.Lookup("Contents").(type) {
	case raw.RefObj:
		if items, ok := p.doc.Resolve(v).(*raw.ArrayObj); ok {
			arr.Items = append(arr.Items, items.Items...)
		} else {
			arr.Append(v)
		}
	case *raw.ArrayObj:
		arr.Items = append(arr.Items, v.Items...)
	}
	arr.Append(ref)
	p.Dict.Put("Contents", arr)
}

// Resources returns a read view over the effective resource dictionary.
func (p *Page) Resources() *Resources {
	res := p.Dict.Lookup("Resources")
	if res == nil {
		res = p.inherited
	}
	return newResources(p.doc, p.doc.resolveDict(res), nil)
}

// writableResources gives the page its own direct resource dictionary so additions
// never leak into pages sharing an inherited or indirect one.
func (p *Page) writableResources() *raw.DictObj {
	if dict, ok := p.Dict.Lookup("Resources").(*raw.DictObj); ok {
		return dict
	}
	src := p.Dict.Lookup("Resources")
	if src == nil {
		src = p.inherited
	}
	own := raw.Dict()
	if shared := p.doc.resolveDict(src); shared != nil {
		p.doc.mu.RLock()
		own = raw.Clone(shared).(*raw.DictObj)
		p.doc.mu.RUnlock()
	}
	p.Dict.Put("Resources", own)
	return own
}

// AddXObject registers s under a fresh name starting with prefix and returns the name.
func (p *Page) AddXObject(prefix string, s *raw.StreamObj) string {
	res := p.writableResources()
	xobjs, ok := res.Lookup("XObject").(*raw.DictObj)
	if !ok {
		xobjs = raw.Dict()
		if shared := p.doc.resolveDict(res.Lookup("XObject")); shared != nil {
			p.doc.mu.RLock()
			xobjs = raw.Clone(shared).(*raw.DictObj)
			p.doc.mu.RUnlock()
		}
		res.Put("XObject", xobjs)
	}
	name := prefix
	for i := 1; xobjs.Lookup(name) != nil; i++ {
		name = fmt.Sprintf("%s%d", prefix, i)
	}
	xobjs.Put(name, p.doc.AddObject(s))
	return name
}

// Annotation is an annotation dictionary with its object reference when indirect.
type Annotation struct {
	Ref  *raw.ObjectRef
	Dict *raw.DictObj
}

// Subtype returns the annotation subtype name.
func (a Annotation) Subtype() string {
	s, _ := raw.AsName(a.Dict.Lookup("Subtype"))
	return s
}

// Rect returns /Rect in user space.
func (a Annotation) Rect() (coords.Rect, bool) {
	return rectFromObj(a.Dict.Lookup("Rect"))
}

func (p *Page) Annotations() []Annotation {
	arr, ok := p.doc.Resolve(p.Dict.Lookup("Annots")).(*raw.ArrayObj)
	if !ok {
		return nil
	}
	out := make([]Annotation, 0, arr.Len())
	for _, item := range arr.Items {
		dict := p.doc.resolveDict(item)
		if dict == nil {
			continue
		}
		a := Annotation{Dict: dict}
		if r, ok := item.(raw.RefObj); ok {
			ref := r.R
			a.Ref = &ref
		}
		out = append(out, a)
	}
	return out
}

// AddAnnotation stores dict as an indirect object and appends it to /Annots.
func (p *Page) AddAnnotation(dict *raw.DictObj) raw.RefObj {
	if p.Ref.Num != 0 {
		dict.Put("P", raw.RefObj{R: p.Ref})
	}
	ref := p.doc.AddObject(dict)
	arr := p.ownAnnots()
	arr.Append(ref)
	return ref
}

// RemoveAnnotation drops the annotation object ref from the page and the document.
func (p *Page) RemoveAnnotation(ref raw.ObjectRef) bool {
	arr := p.ownAnnots()
	for i, item := range arr.Items {
		if r, ok := item.(raw.RefObj); ok && r.R == ref {
			arr.Items = append(arr.Items[:i], arr.Items[i+1:]...)
			p.doc.DeleteObject(ref)
			if arr.Len() == 0 {
				p.Dict.Delete("Annots")
			}
			return true
		}
	}
	return false
}

func (p *Page) ownAnnots() *raw.ArrayObj {
	if arr, ok := p.Dict.Lookup("Annots").(*raw.ArrayObj); ok {
		return arr
	}
	arr := raw.NewArray()
	if shared, ok := p.doc.Resolve(p.Dict.Lookup("Annots")).(*raw.ArrayObj); ok {
		arr.Items = append(arr.Items, shared.Items...)
	}
	p.Dict.Put("Annots", arr)
	return arr
}
