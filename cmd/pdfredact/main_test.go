package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/pipeline"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/snapshot"
	"github.com/wudi/pdfredact/writer"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("%PDF-1.7\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "inbox/b.pdf", "inbox/deep/c.pdf", "inbox/b_redacted.pdf", "inbox/notes.txt"} {
		touch(t, filepath.Join(dir, name))
	}
	got, err := expandInputs([]string{
		filepath.Join(dir, "**", "*.pdf"),
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "literal.pdf"),
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "inbox", "b.pdf"),
		filepath.Join(dir, "inbox", "deep", "c.pdf"),
		filepath.Join(dir, "literal.pdf"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v\nwant %v", got, want)
	}
}

func TestWantsRedaction(t *testing.T) {
	cases := map[string]bool{
		"in/a.pdf":          true,
		"in/A.PDF":          true,
		"in/a_redacted.pdf": false,
		"in/a_restored.pdf": false,
		"in/.a.pdf.123.tmp": false,
		"in/.hidden.pdf":    false,
		"in/a.json":         false,
	}
	for path, want := range cases {
		if got := wantsRedaction(path); got != want {
			t.Errorf("wantsRedaction(%q) = %v", path, got)
		}
	}
}

func TestBuildReport(t *testing.T) {
	sealer, err := redact.NewSealer([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	const idA = "0123456789abcdef0123456789abcdef"
	const idB = "fedcba9876543210fedcba9876543210"
	sealed, err := sealer.Seal(idA, "jane@example.com")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	found := []redact.FoundOverlay{
		{Kind: redact.OverlayMarkedContent, Page: 1, Ext: redact.Extension{ID: idA, BBox: coords.Rect{X0: 10, Y0: 10, X1: 140, Y1: 24}, Audit: sealed}},
		{Kind: redact.OverlayForm, Page: 2, Ext: redact.Extension{ID: idB, BBox: coords.Rect{X0: 1, Y0: 2, X1: 3, Y1: 4}}},
		{Kind: redact.OverlayPending, Page: 2, Err: errors.New("bad /Rect")},
	}
	m := redact.NewManifest([]redact.Record{{ID: idA, Page: 1, BBox: coords.Rect{X0: 10, Y0: 10, X1: 140, Y1: 24}, Label: "EMAIL", Score: 0.95}})

	md := buildReport("doc_redacted.pdf", found, m, sealer)
	for _, want := range []string{
		"# Redaction report: doc_redacted.pdf",
		"| 1 | `" + idA + "` | marked-content | 10.0, 10.0, 140.0, 24.0 | EMAIL | yes | jane@example.com |",
		"| 2 | `" + idB + "` | form | 1.0, 2.0, 3.0, 4.0 | - | no | - |",
		"invalid: bad /Rect",
		"3 overlays, 1 restorable with the manifest.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report lacks %q:\n%s", want, md)
		}
	}

	md = buildReport("doc.pdf", found[:1], nil, nil)
	if !strings.Contains(md, "| - | - | sealed |") {
		t.Errorf("sealed text leaked without a key:\n%s", md)
	}

	html, err := renderReport(md, "html")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "<table>") || !strings.Contains(html, "<h1>Redaction report: doc.pdf</h1>") {
		t.Fatalf("unexpected html:\n%s", html)
	}
	if _, err := renderReport(md, "pdf"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestSampleDocument(t *testing.T) {
	doc, err := sampleDocument()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	path := filepath.Join(t.TempDir(), "sample.pdf")
	if err := writer.WriteFile(context.Background(), writer.New(), doc, path, writer.Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	sem, err := openDocument(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(sem.Pages) != 2 {
		t.Fatalf("got %d pages", len(sem.Pages))
	}
}

func TestReleaseManifests(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := snapshot.NewMemoryStore()
	id, err := redact.NewID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	h, err := store.Put(ctx, id, image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	rec := redact.Record{ID: id, Page: 1, BBox: coords.Rect{X0: 10, Y0: 10, X1: 140, Y1: 24}, Label: "EMAIL", Score: 0.9, Snapshot: h}
	var buf bytes.Buffer
	if err := redact.NewManifest([]redact.Record{rec}).Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	good := filepath.Join(dir, "doc_redacted.json")
	if err := os.WriteFile(good, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	huge := filepath.Join(dir, "huge.json")
	f, err := os.Create(huge)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.Truncate(pipeline.MaxManifestSize + 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	if err := releaseManifests(ctx, cmd, store, []string{huge}); !errors.Is(err, redact.ErrInvalidManifest) {
		t.Fatalf("oversized manifest: %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := releaseManifests(cancelled, cmd, store, []string{good}); !errors.Is(err, context.Canceled) || !store.Has(id) {
		t.Fatalf("cancelled release: %v", err)
	}
	if err := releaseManifests(ctx, cmd, store, []string{good}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.Has(id) {
		t.Fatalf("snapshot still stored")
	}
}
