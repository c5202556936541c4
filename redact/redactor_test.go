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

func TestRedactCoversRegionAndStoresSnapshot(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	before := renderBox(t, src, 1, alignedBox)
	records := correlate(t, src, region(1, alignedBox, "EMAIL", "jane@example.com"))
	store := snapshot.NewMemoryStore()

	out, res := redactTo(t, src, store, records, Options{})
	if res.Finalizer != "marked-content" {
		t.Fatalf("finalizer = %s", res.Finalizer)
	}
	rec := res.Records[0]
	if rec.Snapshot == "" || !store.Has(rec.ID) {
		t.Fatalf("snapshot not stored: %+v", rec)
	}
	snap, err := store.Get(context.Background(), rec.Snapshot)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if b := snap.Bounds(); b.Dx() != 270 || b.Dy() != 30 {
		t.Fatalf("snapshot size = %v", b)
	}
	if differingPixels(toNRGBA(snap), before, 2) != 0 {
		t.Fatalf("snapshot differs from source render")
	}

	red := openPDF(t, out)
	img := renderBox(t, red, 1, alignedBox)
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] > 2 || img.Pix[i+1] > 2 || img.Pix[i+2] > 2 {
			t.Fatalf("pixel %d not covered: %v", i/4, img.Pix[i:i+4])
		}
	}
	page, _ := red.Page(1)
	for _, a := range page.Annotations() {
		if a.Subtype() == "Redact" {
			t.Fatalf("overlay annotation left unflattened")
		}
	}
	found, err := FindOverlays(context.Background(), red)
	if err != nil {
		t.Fatalf("find overlays: %v", err)
	}
	if len(found) != 1 || found[0].Kind != OverlayMarkedContent || found[0].Ext.ID != rec.ID || found[0].Ext.BBox != alignedBox {
		t.Fatalf("overlays = %+v", found)
	}
	if len(found[0].Ext.Audit) != 0 {
		t.Fatalf("audit text written in omit mode")
	}
}

func TestRedactLeavesSourceUntouched(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	page, _ := src.Page(1)
	contents, err := page.Contents(context.Background())
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	redactTo(t, src, snapshot.NewMemoryStore(), records, Options{})

	after, _ := page.Contents(context.Background())
	if !bytes.Equal(contents, after) {
		t.Fatalf("source contents changed")
	}
	if len(page.Annotations()) != 0 {
		t.Fatalf("source gained annotations")
	}
}

func TestRedactFormFallback(t *testing.T) {
	src := fixtureDoc(t, "1.1")
	records := correlate(t, src,
		region(1, janeBox, "EMAIL", "jane@example.com"),
		region(2, janeBox, "PHONE", "555-867-5309"))
	out, res := redactTo(t, src, snapshot.NewMemoryStore(), records, Options{})
	if res.Finalizer != "form-xobject" {
		t.Fatalf("finalizer = %s", res.Finalizer)
	}
	found, err := FindOverlays(context.Background(), openPDF(t, out))
	if err != nil {
		t.Fatalf("find overlays: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("overlays = %+v", found)
	}
	for i, f := range found {
		if f.Kind != OverlayForm || f.Page != i+1 || f.Ext.ID != records[i].ID {
			t.Fatalf("overlay %d = %+v", i, f)
		}
	}
}

func TestRedactSealedAudit(t *testing.T) {
	sealer, err := NewSealer([]byte("0123456789abcdef-secret"))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	src := fixtureDoc(t, "1.7")
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	out, _ := redactTo(t, src, snapshot.NewMemoryStore(), records, Options{Audit: AuditSealed, Sealer: sealer})

	found, err := FindOverlays(context.Background(), openPDF(t, out))
	if err != nil || len(found) != 1 {
		t.Fatalf("overlays = %+v, %v", found, err)
	}
	text, err := sealer.Open(found[0].Ext.ID, found[0].Ext.Audit)
	if err != nil || text != "jane@example.com" {
		t.Fatalf("open audit = %q, %v", text, err)
	}
}

func TestRedactOptionsValidation(t *testing.T) {
	store := snapshot.NewMemoryStore()
	if _, err := NewRedactor(nil, Options{}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewRedactor(store, Options{Audit: AuditSealed}); !errors.Is(err, ErrAuditKey) {
		t.Fatalf("sealed without sealer: %v", err)
	}
	if _, err := NewRedactor(store, Options{Audit: "plain"}); err == nil {
		t.Fatalf("expected error for unknown audit mode")
	}
}

func TestRedactPageOutOfRange(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	store := snapshot.NewMemoryStore()
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	records[0].Page = 7

	r, _ := NewRedactor(store, Options{})
	out := filepath.Join(t.TempDir(), "doc_redacted.pdf")
	_, err := r.Redact(context.Background(), Job{Document: "doc", Source: src, Records: records, Output: out})
	if !errors.Is(err, ErrRedaction) || !errors.Is(err, semantic.ErrPageRange) {
		t.Fatalf("err = %v", err)
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Document != "doc" || rerr.Region != records[0].ID {
		t.Fatalf("error fields = %+v", rerr)
	}
	if fileExists(out) || store.Len() != 0 {
		t.Fatalf("partial artifacts left behind")
	}
}

type failingFinalizer struct{}

func (failingFinalizer) Name() string { return "failing" }
func (failingFinalizer) Supports(*semantic.Document) error { return nil }
func (failingFinalizer) Finalize(context.Context, *semantic.Page) (int, error) {
	return 0, errors.New("flatten exploded")
}

func TestRedactRollsBackSnapshots(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	records := correlate(t, src,
		region(1, janeBox, "EMAIL", "jane@example.com"),
		region(2, janeBox, "PHONE", "555-867-5309"))

	cases := []struct {
		name string
		opts Options
		out  func(dir string) string
	}{
		{"finalize", Options{Finalizer: failingFinalizer{}}, func(dir string) string { return filepath.Join(dir, "doc_redacted.pdf") }},
		{"publish", Options{}, func(dir string) string { return filepath.Join(dir, "missing", "doc_redacted.pdf") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := snapshot.NewMemoryStore()
			r, err := NewRedactor(store, tc.opts)
			if err != nil {
				t.Fatalf("new redactor: %v", err)
			}
			out := tc.out(t.TempDir())
			_, err = r.Redact(context.Background(), Job{Document: "doc", Source: src, Records: records, Output: out})
			if !errors.Is(err, ErrRedaction) {
				t.Fatalf("err = %v", err)
			}
			if store.Len() != 0 {
				t.Fatalf("%d snapshots survived rollback", store.Len())
			}
			if fileExists(out) {
				t.Fatalf("output published")
			}
		})
	}
}

type skippingFinalizer struct{}

func (skippingFinalizer) Name() string                                          { return "skipping" }
func (skippingFinalizer) Supports(*semantic.Document) error                     { return nil }
func (skippingFinalizer) Finalize(context.Context, *semantic.Page) (int, error) { return 0, nil }

func TestRedactRefusesUnflattenedCovers(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	store := snapshot.NewMemoryStore()
	r, err := NewRedactor(store, Options{Finalizer: skippingFinalizer{}})
	if err != nil {
		t.Fatalf("new redactor: %v", err)
	}
	out := filepath.Join(t.TempDir(), "doc_redacted.pdf")
	_, err = r.Redact(context.Background(), Job{Document: "doc", Source: src, Records: records, Output: out})
	if !errors.Is(err, ErrRedaction) || !errors.Is(err, ErrUnflattened) {
		t.Fatalf("err = %v", err)
	}
	if fileExists(out) || store.Len() != 0 {
		t.Fatalf("artifacts left: output %v, %d snapshots", fileExists(out), store.Len())
	}
}

func TestRedactAddsOverlaysInRecordOrder(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	var regions []Region
	for i := 0; i < 12; i++ {
		x := float64(10 + 40*i)
		regions = append(regions, region(1, coords.Rect{X0: x, Y0: 100, X1: x + 30, Y1: 120}, "ID", ""))
	}
	records := correlate(t, src, regions...)
	out, _ := redactTo(t, src, snapshot.NewMemoryStore(), records, Options{Finalizer: keepPending{}, Writer: writer.New(), Concurrency: 6})

	found, err := FindOverlays(context.Background(), openPDF(t, out))
	if err != nil || len(found) != len(records) {
		t.Fatalf("overlays = %d, %v", len(found), err)
	}
	for i, f := range found {
		if f.Ext.ID != records[i].ID {
			t.Fatalf("overlay %d = %s, want %s", i, f.Ext.ID, records[i].ID)
		}
	}
}

func TestRedactRejectsBadJobs(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	dup := append(append([]Record(nil), records...), records[0])
	dir := t.TempDir()
	in := filepath.Join(dir, "doc.pdf")

	cases := []struct {
		name string
		job  Job
	}{
		{"no source", Job{Records: records, Output: filepath.Join(dir, "a.pdf")}},
		{"no output", Job{Source: src, Records: records}},
		{"overwrite source", Job{Source: src, SourcePath: in, Records: records, Output: in}},
		{"duplicate id", Job{Source: src, Records: dup, Output: filepath.Join(dir, "b.pdf")}},
		{"bad id", Job{Source: src, Records: []Record{{ID: "nope", Page: 1, BBox: janeBox}}, Output: filepath.Join(dir, "c.pdf")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := NewRedactor(snapshot.NewMemoryStore(), Options{})
			if _, err := r.Redact(context.Background(), tc.job); !errors.Is(err, ErrRedaction) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestRedactCancelled(t *testing.T) {
	src := fixtureDoc(t, "1.7")
	records := correlate(t, src, region(1, janeBox, "EMAIL", "jane@example.com"))
	store := snapshot.NewMemoryStore()
	r, _ := NewRedactor(store, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := filepath.Join(t.TempDir(), "doc_redacted.pdf")
	if _, err := r.Redact(ctx, Job{Source: src, Records: records, Output: out}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if fileExists(out) || store.Len() != 0 {
		t.Fatalf("artifacts left after cancellation")
	}
}
