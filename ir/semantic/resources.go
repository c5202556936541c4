package semantic

import (
	"context"
	"sync"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/fonts"
	"github.com/wudi/pdfredact/ir/raw"
)

// Resources is a read view over a resource dictionary. It satisfies
// contentstream.Resources and caches loaded fonts and forms.
type Resources struct {
	doc  *Document
	dict *raw.DictObj
	// parent serves lookups for forms that carry no resources of their own.
	parent *Resources

	mu    sync.Mutex
	fonts map[string]*fonts.Font
	forms map[string]*contentstream.Form
}

func newResources(doc *Document, dict *raw.DictObj, parent *Resources) *Resources {
	return &Resources{doc: doc, dict: dict, parent: parent,
		fonts: make(map[string]*fonts.Font), forms: make(map[string]*contentstream.Form)}
}

// Dict is the underlying dictionary, possibly nil.
func (r *Resources) Dict() *raw.DictObj { return r.dict }

func (r *Resources) category(name string) *raw.DictObj {
	if r.dict == nil {
		return nil
	}
	return r.doc.resolveDict(r.dict.Lookup(name))
}

func (r *Resources) Font(name string) *fonts.Font {
	r.mu.Lock()
	f, ok := r.fonts[name]
	r.mu.Unlock()
	if ok {
		return f
	}
	f = r.loadFont(name)
	r.mu.Lock()
	r.fonts[name] = f
	r.mu.Unlock()
	return f
}

func (r *Resources) loadFont(name string) *fonts.Font {
	if dict := r.doc.resolveDict(r.category("Font").Lookup(name)); dict != nil {
		r.doc.mu.RLock()
		defer r.doc.mu.RUnlock()
		return fonts.Load(r.doc.Raw, dict)
	}
	if r.parent != nil {
		return r.parent.Font(name)
	}
	return fonts.Default()
}

// XObject returns the named XObject stream and its subtype.
func (r *Resources) XObject(name string) (*raw.StreamObj, string, bool) {
	if s, ok := r.doc.Resolve(r.category("XObject").Lookup(name)).(*raw.StreamObj); ok {
		sub, _ := raw.AsName(s.Dict.Lookup("Subtype"))
		return s, sub, true
	}
	if r.parent != nil {
		return r.parent.XObject(name)
	}
	return nil, "", false
}

// XObjectRef reports the indirect reference behind a named XObject.
func (r *Resources) XObjectRef(name string) (raw.ObjectRef, bool) {
	if ref, ok := r.category("XObject").Lookup(name).(raw.RefObj); ok {
		return ref.R, true
	}
	if r.parent != nil {
		return r.parent.XObjectRef(name)
	}
	return raw.ObjectRef{}, false
}

// Form loads a form XObject. Forms that fail to decode or parse are reported missing.
func (r *Resources) Form(name string) (*contentstream.Form, bool) {
	r.mu.Lock()
	if f, ok := r.forms[name]; ok {
		r.mu.Unlock()
		return f, f != nil
	}
	r.mu.Unlock()

	form := r.loadForm(name)
	r.mu.Lock()
	r.forms[name] = form
	r.mu.Unlock()
	return form, form != nil
}

func (r *Resources) loadForm(name string) *contentstream.Form {
	s, sub, ok := r.XObject(name)
	if !ok || sub != "Form" {
		return nil
	}
	data, err := r.doc.StreamData(context.Background(), s)
	if err != nil {
		return nil
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		return nil
	}
	form := &contentstream.Form{Operations: ops, Matrix: coords.Identity()}
	if m, ok := raw.AsNumbers(s.Dict.Lookup("Matrix")); ok && len(m) == 6 {
		copy(form.Matrix[:], m)
	}
	if bbox, ok := rectFromObj(r.doc.Resolve(s.Dict.Lookup("BBox"))); ok {
		form.BBox = bbox
	}
	if own := r.doc.resolveDict(s.Dict.Lookup("Resources")); own != nil {
		form.Resources = newResources(r.doc, own, r)
	} else {
		form.Resources = r
	}
	return form
}
