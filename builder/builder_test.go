package builder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/ir/semantic"
	"github.com/wudi/pdfredact/parser"
	"github.com/wudi/pdfredact/writer"
)

func TestBuilderBasicDocument(t *testing.T) {
	doc, err := NewBuilder().
		SetVersion("1.4").
		NewPage(612, 792).
		DrawText("Contact: jane@example.com", 72, 700, TextOptions{FontSize: 12}).
		DrawRectangle(72, 600, 100, 50, RectOptions{FillColor: Color{R: 1}}).
		Finish().
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if doc.Version != "1.4" {
		t.Fatalf("version = %q", doc.Version)
	}
	sem, err := semantic.NewDocument(doc)
	if err != nil {
		t.Fatalf("semantic: %v", err)
	}
	if len(sem.Pages) != 1 {
		t.Fatalf("pages = %d", len(sem.Pages))
	}
	page := sem.Pages[0]
	if b := page.Bounds(); b.Width() != 612 || b.Height() != 792 {
		t.Fatalf("bounds = %+v", b)
	}
	ops, err := page.Operations(context.Background())
	if err != nil {
		t.Fatalf("operations: %v", err)
	}
	var shown string
	for _, op := range ops {
		if op.Operator == "Tj" {
			s, _ := op.Operands[0].(raw.StringObj)
			shown = string(s.Bytes)
		}
	}
	if shown != "Contact: jane@example.com" {
		t.Fatalf("shown text = %q", shown)
	}
	fonts := sem.Raw.ResolveDict(page.Resources().Dict().Lookup("Font"))
	if fonts == nil || fonts.Lookup("F1") == nil {
		t.Fatalf("font F1 missing")
	}
}

func TestBuilderSharesFonts(t *testing.T) {
	doc, err := NewBuilder().
		NewPage(200, 200).DrawText("a", 10, 10, TextOptions{}).DrawText("b", 10, 30, TextOptions{Font: "Courier"}).Finish().
		NewPage(200, 200).DrawText("c", 10, 10, TextOptions{}).Finish().
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	fonts := 0
	for _, obj := range doc.Objects {
		if d, ok := obj.(*raw.DictObj); ok {
			if typ, _ := raw.AsName(d.Lookup("Type")); typ == "Font" {
				fonts++
			}
		}
	}
	if fonts != 2 {
		t.Fatalf("font objects = %d, want 2", fonts)
	}
}

func TestBuilderRejectsUnencodableText(t *testing.T) {
	_, err := NewBuilder().NewPage(100, 100).DrawText("日本", 0, 0, TextOptions{}).Finish().Build()
	if err == nil {
		t.Fatalf("expected error for text outside WinAnsi")
	}
	if Encodable("日本") || !Encodable("café") {
		t.Fatalf("Encodable mismatch")
	}
}

func TestBuilderNoPages(t *testing.T) {
	if _, err := NewBuilder().Build(); err == nil {
		t.Fatalf("expected error for empty document")
	}
}

func TestBuilderRoundTripThroughWriter(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	doc, err := NewBuilder().
		NewPage(300, 300).
		SetRotation(-90).
		DrawImage(img, 10, 10, 40, 20).
		DrawLine(0, 0, 100, 100, LineOptions{LineWidth: 2}).
		DrawText("hidden", 20, 200, TextOptions{RenderMode: contentstream.TextInvisible}).
		Finish().
		SetInfo("Fixture", "QA").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	data, err := writer.Bytes(context.Background(), writer.New(), doc, writer.Config{Deterministic: true})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-1.7")) {
		t.Fatalf("header = %q", data[:8])
	}
	parsed, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sem, err := semantic.NewDocument(parsed)
	if err != nil {
		t.Fatalf("semantic: %v", err)
	}
	page := sem.Pages[0]
	if page.Rotate != 270 {
		t.Fatalf("rotate = %d", page.Rotate)
	}
	stream, _, ok := page.Resources().XObject("Im0")
	if !ok {
		t.Fatalf("image XObject missing")
	}
	data, err = sem.StreamData(context.Background(), stream)
	if err != nil {
		t.Fatalf("image data: %v", err)
	}
	if len(data) != 4*2*3 || data[0] != 10 || data[1] != 20 || data[2] != 30 || data[3] != 0xff {
		t.Fatalf("image samples = %v", data)
	}
}

func TestImageXObjectComposesOverWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	img.SetNRGBA(5, 5, color.NRGBA{R: 200, G: 10, B: 0, A: 255})
	img.SetNRGBA(6, 5, color.NRGBA{A: 0})

	stream := ImageXObject(img)
	if w, _ := raw.AsNumber(stream.Dict.Lookup("Width")); w != 2 {
		t.Fatalf("width = %v", w)
	}
	if h, _ := raw.AsNumber(stream.Dict.Lookup("Height")); h != 1 {
		t.Fatalf("height = %v", h)
	}
	want := []byte{200, 10, 0, 255, 255, 255}
	if !bytes.Equal(stream.Data, want) {
		t.Fatalf("samples = %v, want %v", stream.Data, want)
	}
}
