package redact

import (
	"context"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/semantic"
	"github.com/wudi/pdfredact/parser"
	"github.com/wudi/pdfredact/render"
	"github.com/wudi/pdfredact/snapshot"
)

// alignedBox maps onto whole pixels at 150 DPI: 270x30.
var alignedBox = coords.Rect{X0: 14.4, Y0: 14.4, X1: 144, Y1: 28.8}

// janeBox is the e-mail address line of the fixture page.
var janeBox = coords.Rect{X0: 10, Y0: 10, X1: 140, Y1: 24}

func fixtureDoc(t *testing.T, version string) *semantic.Document {
	t.Helper()
	doc, err := builder.NewBuilder().
		SetVersion(version).
		NewPage(612, 792).
		DrawRectangle(14.4, 763.2, 64.8, 14.4, builder.RectOptions{FillColor: builder.Color{R: 1}}).
		DrawText("jane@example.com", 12, 771, builder.TextOptions{FontSize: 12}).
		DrawRectangle(300, 400, 100, 100, builder.RectOptions{FillColor: builder.Color{G: 0.5, B: 1}}).
		Finish().
		NewPage(612, 792).
		DrawText("Call 555-867-5309", 72, 700, builder.TextOptions{FontSize: 14}).
		Finish().
		Build()
	if err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	sem, err := semantic.NewDocument(doc)
	if err != nil {
		t.Fatalf("semantic fixture: %v", err)
	}
	return sem
}

func correlate(t *testing.T, doc *semantic.Document, regions ...Region) []Record {
	t.Helper()
	records, rejected, err := Correlator{}.Correlate(regions, DocumentBounds(doc))
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections: %+v", rejected)
	}
	return records
}

func region(page int, box coords.Rect, label, text string) Region {
	return Region{Span: Span{Page: page, Text: text, BBox: box}, Label: label, Score: 0.97}
}

func openPDF(t *testing.T, path string) *semantic.Document {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	doc, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	sem, err := semantic.NewDocument(doc)
	if err != nil {
		t.Fatalf("semantic %s: %v", path, err)
	}
	return sem
}

func renderBox(t *testing.T, doc *semantic.Document, page int, box coords.Rect) *image.NRGBA {
	t.Helper()
	p, err := doc.Page(page)
	if err != nil {
		t.Fatalf("page %d: %v", page, err)
	}
	img, err := render.New(render.Options{}).RenderRegion(context.Background(), p, box)
	if err != nil {
		t.Fatalf("render page %d: %v", page, err)
	}
	return img
}

func redactTo(t *testing.T, src *semantic.Document, store snapshot.Store, records []Record, opts Options) (string, *Result) {
	t.Helper()
	r, err := NewRedactor(store, opts)
	if err != nil {
		t.Fatalf("new redactor: %v", err)
	}
	out := filepath.Join(t.TempDir(), "doc_redacted.pdf")
	res, err := r.Redact(context.Background(), Job{Document: "doc", Source: src, Records: records, Output: out})
	if err != nil {
		t.Fatalf("redact: %v", err)
	}
	return out, res
}

func restoreTo(t *testing.T, path string, store snapshot.Store, m *Manifest) (string, *RestoreResult) {
	t.Helper()
	r, err := NewRestorer(store, RestoreOptions{})
	if err != nil {
		t.Fatalf("new restorer: %v", err)
	}
	out := filepath.Join(filepath.Dir(path), "doc_restored.pdf")
	res, err := r.Restore(context.Background(), RestoreJob{
		Document:   "doc",
		Source:     openPDF(t, path),
		SourcePath: path,
		Manifest:   m,
		Output:     out,
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	return out, res
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// differingPixels counts pixels where any channel differs by more than tol.
func differingPixels(a, b *image.NRGBA, tol int) int {
	n := 0
	for i := 0; i+3 < len(a.Pix) && i+3 < len(b.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			if absDiff(a.Pix[i+c], b.Pix[i+c]) > tol {
				n++
				break
			}
		}
	}
	return n
}

func toNRGBA(img image.Image) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
