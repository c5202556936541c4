package semantic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
)

var (
	ErrNoCatalog = errors.New("document has no catalog")
	ErrPageRange = errors.New("page number out of range")
)

// Document is a page oriented view over a raw document. Mutations go straight to
// the underlying raw objects.
type Document struct {
	Raw   *raw.Document
	Pages []*Page

	filters *filters.Pipeline
	// mu guards the raw object table while pages are modified concurrently.
	mu sync.RWMutex
}

// NewDocument walks the page tree of r.
func NewDocument(r *raw.Document) (*Document, error) {
	doc := &Document{
		Raw:     r,
		filters: filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: 256 << 20}),
	}
	catalog := r.ResolveDict(r.Trailer.Lookup("Root"))
	if catalog == nil {
		return nil, ErrNoCatalog
	}
	visited := make(map[raw.ObjectRef]bool)
	if err := doc.parsePages(catalog.Lookup("Pages"), inheritedPageProps{}, visited); err != nil {
		return nil, err
	}
	return doc, nil
}

// Version is the PDF version of the underlying document.
func (d *Document) Version() string { return d.Raw.Version }

// Page returns the 1-based page n.
func (d *Document) Page(n int) (*Page, error) {
	if n < 1 || n > len(d.Pages) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageRange, n, len(d.Pages))
	}
	return d.Pages[n-1], nil
}

// Clone returns an independent working copy.
func (d *Document) Clone() (*Document, error) {
	d.mu.RLock()
	cp := d.Raw.Clone()
	d.mu.RUnlock()
	return NewDocument(cp)
}

// Resolve follows references under the document lock.
func (d *Document) Resolve(obj raw.Object) raw.Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Raw.Resolve(obj)
}

func (d *Document) resolveDict(obj raw.Object) *raw.DictObj {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Raw.ResolveDict(obj)
}

// AddObject stores obj as a new indirect object.
func (d *Document) AddObject(obj raw.Object) raw.RefObj {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Raw.Add(obj)
}

// ReplaceObject overwrites an existing indirect object.
func (d *Document) ReplaceObject(ref raw.ObjectRef, obj raw.Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Raw.Objects[ref] = obj
}

// DeleteObject removes an indirect object.
func (d *Document) DeleteObject(ref raw.ObjectRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Raw.Objects, ref)
}

// StreamData returns the decoded payload of s. Image codecs (DCT, JPX, ...) are left encoded.
func (d *Document) StreamData(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	names, params := filters.ExtractFilters(s.Dict)
	return d.filters.Decode(ctx, s.Data, names, params)
}

type inheritedPageProps struct {
	mediaBox  *coords.Rect
	rotate    int
	resources raw.Object
}

func (d *Document) parsePages(obj raw.Object, inherited inheritedPageProps, visited map[raw.ObjectRef]bool) error {
	var ref raw.ObjectRef
	if r, ok := obj.(raw.RefObj); ok {
		if visited[r.R] {
			return fmt.Errorf("page tree cycle at %s", r.R)
		}
		visited[r.R] = true
		ref = r.R
	}
	dict := d.Raw.ResolveDict(obj)
	if dict == nil {
		return errors.New("pages object is not a dictionary")
	}

	next := inherited
	if mb, ok := rectFromObj(d.Raw.Resolve(dict.Lookup("MediaBox"))); ok {
		next.mediaBox = &mb
	}
	if rot, ok := raw.AsNumber(d.Raw.Resolve(dict.Lookup("Rotate"))); ok {
		next.rotate = int(rot)
	}
	if res := dict.Lookup("Resources"); res != nil {
		next.resources = res
	}

	typ, _ := raw.AsName(dict.Lookup("Type"))
	kids, hasKids := d.Raw.Resolve(dict.Lookup("Kids")).(*raw.ArrayObj)
	if typ == "Page" || (typ == "" && !hasKids) {
		media := coords.Rect{X1: 612, Y1: 792}
		if next.mediaBox != nil {
			media = *next.mediaBox
		}
		d.Pages = append(d.Pages, &Page{
			Number:    len(d.Pages) + 1,
			Ref:       ref,
			Dict:      dict,
			MediaBox:  media,
			Rotate:    ((next.rotate % 360) + 360) % 360,
			doc:       d,
			inherited: next.resources,
		})
		return nil
	}
	if !hasKids {
		return errors.New("pages node missing Kids")
	}
	for _, kid := range kids.Items {
		if err := d.parsePages(kid, next, visited); err != nil {
			return err
		}
	}
	return nil
}

func rectFromObj(obj raw.Object) (coords.Rect, bool) {
	vals, ok := raw.AsNumbers(obj)
	if !ok || len(vals) != 4 {
		return coords.Rect{}, false
	}
	r := coords.Rect{X0: vals[0], Y0: vals[1], X1: vals[2], Y1: vals[3]}.Normalize()
	return r, !r.Empty()
}
