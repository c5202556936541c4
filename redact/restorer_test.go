package redact

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/semantic"
	"github.com/wudi/pdfredact/snapshot"
	"github.com/wudi/pdfredact/writer"
)

func TestRoundTripPixelAligned(t *testing.T) {
	for _, version := range []string{"1.7", "1.1"} {
		t.Run(version, func(t *testing.T) {
			src := fixtureDoc(t, version)
			before := renderBox(t, src, 1, alignedBox)
			elsewhere := coords.Rect{X0: 290, Y0: 280, X1: 420, Y1: 400}
			untouched := renderBox(t, src, 1, elsewhere)

			store := snapshot.NewMemoryStore()
			records := correlate(t, src, region(1, alignedBox, "EMAIL", "jane@example.com"))
			redacted, res := redactTo(t, src, store, records, Options{})
			restored, rres := restoreTo(t, redacted, store, NewManifest(res.Records))
			if len(rres.Restored) != 1 || rres.Restored[0] != records[0].ID || len(rres.Untouched) != 0 {
				t.Fatalf("restore result = %+v", rres)
			}

			doc := openPDF(t, restored)
			if n := differingPixels(renderBox(t, doc, 1, alignedBox), before, 2); n != 0 {
				t.Fatalf("%d pixels differ after round trip", n)
			}
			if n := differingPixels(renderBox(t, doc, 1, elsewhere), untouched, 2); n != 0 {
				t.Fatalf("%d pixels outside the region changed", n)
			}
			found, err := FindOverlays(context.Background(), doc)
			if err != nil || len(found) != 0 {
				t.Fatalf("overlays after restore = %+v, %v", found, err)
			}
		})
	}
}

func TestRoundTripJaneScenario(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	before := renderBox(t, src, 1, janeBox)

	store := snapshot.NewMemoryStore()
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	if records[0].BBox != janeBox || records[0].Label != "EMAIL" || records[0].Text != "jane@example.com" {
		t.Fatalf("record = %+v", records[0])
	}
	redacted, res := redactTo(t, src, store, records, Options{})

	covered := renderBox(t, openPDF(t, redacted), 1, janeBox)
	b := covered.Bounds()
	for y := 1; y < b.Dy()-1; y++ {
		for x := 1; x < b.Dx()-1; x++ {
			c := covered.NRGBAAt(x, y)
			if c.R > 2 || c.G > 2 || c.B > 2 {
				t.Fatalf("pixel (%d,%d) = %v, want black", x, y, c)
			}
		}
	}

	restored, rres := restoreTo(t, redacted, store, NewManifest(res.Records))
	if len(rres.Restored) != 1 {
		t.Fatalf("restore result = %+v", rres)
	}
	after := renderBox(t, openPDF(t, restored), 1, janeBox)
	total := len(after.Pix) / 4
	if n := differingPixels(after, before, 48); n*20 > total {
		t.Fatalf("%d of %d pixels differ beyond tolerance", n, total)
	}
}

func TestPartialRestore(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	store := snapshot.NewMemoryStore()
	records := correlate(t, src,
		region(1, janeBox, "EMAIL", "jane@example.com"),
		region(2, janeBox, "PHONE", "555-867-5309"),
		region(1, coords.Rect{X0: 312, Y0: 292, X1: 392, Y1: 392}, "LOGO", ""))
	redacted, res := redactTo(t, src, store, records, Options{})

	// The third snapshot is gone; the second is withheld from the manifest.
	if err := store.Delete(context.Background(), records[2].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	m := NewManifest(res.Records).Without(records[1].ID)
	_, rres := restoreTo(t, redacted, store, m)
	if len(rres.Restored) != 1 || rres.Restored[0] != records[0].ID {
		t.Fatalf("restored = %v", rres.Restored)
	}
	if len(rres.Untouched) != 2 {
		t.Fatalf("untouched = %v", rres.Untouched)
	}
	restoredDoc := openPDF(t, filepath.Join(filepath.Dir(redacted), "doc_restored.pdf"))
	found, err := FindOverlays(context.Background(), restoredDoc)
	if err != nil {
		t.Fatalf("find overlays: %v", err)
	}
	ids := map[string]bool{}
	for _, f := range found {
		ids[f.Ext.ID] = true
	}
	if len(found) != 2 || !ids[records[1].ID] || !ids[records[2].ID] {
		t.Fatalf("remaining overlays = %+v", found)
	}
}

// assertCovered fails unless every inner pixel of box on page is black.
func assertCovered(t *testing.T, doc *semantic.Document, page int, box coords.Rect) {
	t.Helper()
	img := renderBox(t, doc, page, box)
	b := img.Bounds()
	for y := 1; y < b.Dy()-1; y++ {
		for x := 1; x < b.Dx()-1; x++ {
			if c := img.NRGBAAt(x, y); c.R > 2 || c.G > 2 || c.B > 2 {
				t.Fatalf("pixel (%d,%d) = %v inside withheld box", x, y, c)
			}
		}
	}
}

func TestPartialRestoreOverlappingRegions(t *testing.T) {
	for _, fin := range DefaultFinalizers() {
		t.Run(fin.Name(), func(t *testing.T) {
			for run := 0; run < 8; run++ {
				src := fixtureDoc(t, "1.7")
				store := snapshot.NewMemoryStore()
				records := correlate(t, src,
					region(1, janeBox, "NAME", "jane"),
					region(1, janeBox, "EMAIL", "jane@example.com"))
				redacted, res := redactTo(t, src, store, records, Options{Finalizer: fin, Concurrency: 4})

				m := NewManifest(res.Records).Without(records[0].ID)
				restored, rres := restoreTo(t, redacted, store, m)
				if len(rres.Restored) != 1 || rres.Restored[0] != records[1].ID {
					t.Fatalf("run %d: restored = %v", run, rres.Restored)
				}
				assertCovered(t, openPDF(t, restored), 1, janeBox)
			}
		})
	}
}

func TestRestoreManifestFromJSON(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	dir := t.TempDir()
	store, err := snapshot.NewFileStore(filepath.Join(dir, "snapshots"))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	records := correlate(t, src, region(2, janeBox, "PHONE", "555-867-5309"))
	redacted, res := redactTo(t, src, store, records, Options{})

	var buf bytes.Buffer
	if err := NewManifest(res.Records).Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := ParseManifest(buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, rres := restoreTo(t, redacted, store, m)
	if len(rres.Restored) != 1 {
		t.Fatalf("restore result = %+v", rres)
	}
}

func TestRestorePageMismatchLeavesOverlay(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	store := snapshot.NewMemoryStore()
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	redacted, res := redactTo(t, src, store, records, Options{})
	tampered := append([]Record(nil), res.Records...)
	tampered[0].Page = 2
	_, rres := restoreTo(t, redacted, store, NewManifest(tampered))
	if len(rres.Restored) != 0 || len(rres.Untouched) != 1 {
		t.Fatalf("restore result = %+v", rres)
	}
}

type keepPending struct{}

func (keepPending) Name() string { return "none" }
func (keepPending) Supports(*semantic.Document) error { return nil }
func (keepPending) Finalize(context.Context, *semantic.Page) (int, error) {
	return 0, nil
}

func TestRestorePendingAnnotations(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	before := renderBox(t, src, 1, alignedBox)
	store := snapshot.NewMemoryStore()
	records := correlate(t, src, region(1, alignedBox, "EMAIL", "jane@example.com"))
	// The plain writer publishes unflattened covers, which the default one refuses.
	redacted, res := redactTo(t, src, store, records, Options{Finalizer: keepPending{}, Writer: writer.New()})

	found, err := FindOverlays(context.Background(), openPDF(t, redacted))
	if err != nil || len(found) != 1 || found[0].Kind != OverlayPending {
		t.Fatalf("overlays = %+v, %v", found, err)
	}
	restored, rres := restoreTo(t, redacted, store, NewManifest(res.Records))
	if len(rres.Restored) != 1 {
		t.Fatalf("restore result = %+v", rres)
	}
	doc := openPDF(t, restored)
	page, _ := doc.Page(1)
	if len(page.Annotations()) != 0 {
		t.Fatalf("annotation not removed")
	}
	if n := differingPixels(renderBox(t, doc, 1, alignedBox), before, 2); n != 0 {
		t.Fatalf("%d pixels differ", n)
	}
}

func TestRestoreInvalidManifest(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	store := snapshot.NewMemoryStore()
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	redacted, res := redactTo(t, src, store, records, Options{})

	dup := append(append([]Record(nil), res.Records...), res.Records[0])
	cases := map[string]*Manifest{
		"nil":       nil,
		"duplicate": NewManifest(dup),
		"bad id":    NewManifest([]Record{{ID: "../../etc/passwd", Page: 1, BBox: janeBox}}),
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			r, _ := NewRestorer(store, RestoreOptions{})
			out := filepath.Join(t.TempDir(), "doc_restored.pdf")
			_, err := r.Restore(context.Background(), RestoreJob{Document: "doc", Source: openPDF(t, redacted), Manifest: m, Output: out})
			if !errors.Is(err, ErrRestore) || !errors.Is(err, ErrInvalidManifest) {
				t.Fatalf("err = %v", err)
			}
			if fileExists(out) {
				t.Fatalf("output written for invalid manifest")
			}
		})
	}
}

func TestRestoreRefusesToOverwriteInput(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	store := snapshot.NewMemoryStore()
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	redacted, res := redactTo(t, src, store, records, Options{})
	r, _ := NewRestorer(store, RestoreOptions{})
	_, err := r.Restore(context.Background(), RestoreJob{
		Source:     openPDF(t, redacted),
		SourcePath: redacted,
		Manifest:   NewManifest(res.Records),
		Output:     redacted,
	})
	if !errors.Is(err, ErrRestore) {
		t.Fatalf("err = %v", err)
	}
}
