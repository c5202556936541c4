package semantic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
)

// twoPageDoc has an inherited MediaBox and a shared indirect resource dictionary.
func twoPageDoc() *raw.Document {
	doc := raw.NewDocument("1.7")
	font := doc.Add(raw.Dict().Put("Type", raw.NameLiteral("Font")).Put("Subtype", raw.NameLiteral("Type1")).Put("BaseFont", raw.NameLiteral("Helvetica")))
	formStream := raw.NewStream(raw.Dict().
		Put("Type", raw.NameLiteral("XObject")).
		Put("Subtype", raw.NameLiteral("Form")).
		Put("BBox", raw.Rect(0, 0, 10, 10)).
		Put("Matrix", raw.NewArray(raw.NumberInt(1), raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(1), raw.NumberInt(5), raw.NumberInt(5))),
		[]byte("0 0 10 10 re f"))
	form := doc.Add(formStream)
	res := doc.Add(raw.Dict().
		Put("Font", raw.Dict().Put("F1", font)).
		Put("XObject", raw.Dict().Put("Fm0", form)))
	c1 := doc.Add(raw.NewStream(raw.Dict(), []byte("BT /F1 12 Tf 72 700 Td (Hello) Tj ET")))
	c2a := doc.Add(raw.NewStream(raw.Dict(), []byte("q 1 0 0 rg")))
	c2b := doc.Add(raw.NewStream(raw.Dict(), []byte("0 0 5 5 re f Q")))
	pages := raw.ObjectRef{Num: doc.MaxObjectNum() + 1}
	doc.Objects[pages] = raw.Dict()
	p1 := doc.Add(raw.Dict().Put("Type", raw.NameLiteral("Page")).Put("Parent", raw.RefObj{R: pages}).Put("Contents", c1))
	p2 := doc.Add(raw.Dict().Put("Type", raw.NameLiteral("Page")).Put("Parent", raw.RefObj{R: pages}).
		Put("Contents", raw.NewArray(c2a, c2b)).
		Put("MediaBox", raw.Rect(0, 0, 300, 400)).
		Put("Rotate", raw.NumberInt(-90)))
	doc.Objects[pages] = raw.Dict().
		Put("Type", raw.NameLiteral("Pages")).
		Put("Kids", raw.NewArray(p1, p2)).
		Put("Count", raw.NumberInt(2)).
		Put("MediaBox", raw.Rect(0, 0, 612, 792)).
		Put("Resources", res)
	catalog := doc.Add(raw.Dict().Put("Type", raw.NameLiteral("Catalog")).Put("Pages", raw.RefObj{R: pages}))
	doc.Trailer.Put("Root", catalog)
	return doc
}

func TestPageTreeInheritance(t *testing.T) {
	doc, err := NewDocument(twoPageDoc())
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}
	p1, _ := doc.Page(1)
	if p1.MediaBox != (coords.Rect{X1: 612, Y1: 792}) {
		t.Fatalf("inherited media box wrong: %+v", p1.MediaBox)
	}
	p2, _ := doc.Page(2)
	if p2.Bounds() != (coords.Rect{X1: 300, Y1: 400}) || p2.Rotate != 270 {
		t.Fatalf("page 2 geometry wrong: %+v rotate %d", p2.Bounds(), p2.Rotate)
	}
	if _, err := doc.Page(3); !errors.Is(err, ErrPageRange) {
		t.Fatalf("expected ErrPageRange, got %v", err)
	}
	if p1.Resources().Font("F1").BaseFont != "Helvetica" {
		t.Fatalf("inherited font not resolved")
	}
}

func TestPageTreeCycle(t *testing.T) {
	rd := twoPageDoc()
	cat := rd.ResolveDict(rd.Trailer.Lookup("Root"))
	pagesRef := cat.Lookup("Pages")
	rd.ResolveDict(pagesRef).Put("Kids", raw.NewArray(pagesRef))
	if _, err := NewDocument(rd); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestContentsConcatenation(t *testing.T) {
	doc, _ := NewDocument(twoPageDoc())
	p2, _ := doc.Page(2)
	ops, err := p2.Operations(context.Background())
	if err != nil {
		t.Fatalf("operations: %v", err)
	}
	if len(ops) != 5 || ops[0].Operator != "q" || ops[4].Operator != "Q" {
		t.Fatalf("unexpected ops %+v", ops)
	}

	p2.AppendContents([]byte("0 g"))
	if n := len(p2.ContentStreams()); n != 3 {
		t.Fatalf("expected 3 streams after append, got %d", n)
	}
	p2.SetContents([]byte("Q"))
	if n := len(p2.ContentStreams()); n != 1 {
		t.Fatalf("expected single stream after set, got %d", n)
	}
}

func TestAddXObjectCopiesSharedResources(t *testing.T) {
	doc, _ := NewDocument(twoPageDoc())
	p1, _ := doc.Page(1)
	p2, _ := doc.Page(2)
	name := p1.AddXObject("Fm", raw.NewStream(raw.Dict().Put("Subtype", raw.NameLiteral("Form")), nil))
	if name != "Fm" {
		t.Fatalf("expected first free name Fm, got %s", name)
	}
	again := p1.AddXObject("Fm0", raw.NewStream(raw.Dict(), nil))
	if again != "Fm01" {
		t.Fatalf("expected collision suffix, got %s", again)
	}
	if _, _, ok := p2.Resources().XObject("Fm"); ok {
		t.Fatalf("xobject leaked into page sharing the resources")
	}
	if _, _, ok := p1.Resources().XObject("Fm0"); !ok {
		t.Fatalf("copied resources lost the existing form")
	}
}

func TestFormResources(t *testing.T) {
	doc, _ := NewDocument(twoPageDoc())
	p1, _ := doc.Page(1)
	form, ok := p1.Resources().Form("Fm0")
	if !ok {
		t.Fatalf("form not loaded")
	}
	if form.Matrix != (coords.Matrix{1, 0, 0, 1, 5, 5}) || form.BBox != (coords.Rect{X1: 10, Y1: 10}) {
		t.Fatalf("form geometry wrong: %+v %+v", form.Matrix, form.BBox)
	}
	if len(form.Operations) != 2 {
		t.Fatalf("form operations not parsed")
	}
	if form.Resources.Font("F1").BaseFont != "Helvetica" {
		t.Fatalf("form without resources should use the parent's")
	}
}

func TestAnnotations(t *testing.T) {
	doc, _ := NewDocument(twoPageDoc())
	p1, _ := doc.Page(1)
	ref := p1.AddAnnotation(raw.Dict().Put("Subtype", raw.NameLiteral("Redact")).Put("Rect", raw.Rect(10, 20, 30, 40)))
	annots := p1.Annotations()
	if len(annots) != 1 || annots[0].Subtype() != "Redact" || annots[0].Ref == nil || *annots[0].Ref != ref.R {
		t.Fatalf("unexpected annotations %+v", annots)
	}
	if r, ok := annots[0].Rect(); !ok || r != (coords.Rect{X0: 10, Y0: 20, X1: 30, Y1: 40}) {
		t.Fatalf("rect wrong: %+v", r)
	}
	if !p1.RemoveAnnotation(ref.R) {
		t.Fatalf("remove failed")
	}
	if _, ok := doc.Raw.Objects[ref.R]; ok {
		t.Fatalf("annotation object not deleted")
	}
	if p1.Dict.Lookup("Annots") != nil {
		t.Fatalf("empty /Annots should be dropped")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	src, _ := NewDocument(twoPageDoc())
	cp, err := src.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	p, _ := cp.Page(1)
	p.SetContents([]byte("0 g"))
	orig, _ := src.Page(1)
	data, _ := orig.Contents(context.Background())
	if !strings.Contains(string(data), "Hello") {
		t.Fatalf("source document mutated through clone")
	}
}
