package writer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/parser"
)

func sampleDoc() *raw.Document {
	doc := raw.NewDocument("1.4")
	content := raw.NewStream(raw.Dict(), []byte("0 0 1 rg 10 10 50 50 re f"))
	doc.Objects[raw.ObjectRef{Num: 4}] = content
	doc.Objects[raw.ObjectRef{Num: 3}] = raw.Dict().
		Put("Type", raw.NameLiteral("Page")).
		Put("Parent", raw.Ref(2, 0)).
		Put("MediaBox", raw.Rect(0, 0, 200, 100)).
		Put("Contents", raw.Ref(4, 0))
	doc.Objects[raw.ObjectRef{Num: 2}] = raw.Dict().
		Put("Type", raw.NameLiteral("Pages")).
		Put("Count", raw.NumberInt(1)).
		Put("Kids", raw.NewArray(raw.Ref(3, 0)))
	doc.Objects[raw.ObjectRef{Num: 1}] = raw.Dict().
		Put("Type", raw.NameLiteral("Catalog")).
		Put("Pages", raw.Ref(2, 0))
	doc.Trailer.Put("Root", raw.Ref(1, 0))
	return doc
}

func TestWriteRoundTrip(t *testing.T) {
	doc := sampleDoc()
	data, err := Bytes(context.Background(), New(), doc, Config{Compression: 6, Deterministic: true})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-1.4")) {
		t.Fatalf("unexpected header %q", data[:10])
	}

	parsed, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("parse written document: %v", err)
	}
	if parsed.Repaired {
		t.Fatalf("written xref should not need repair")
	}
	stream, ok := parsed.Objects[raw.ObjectRef{Num: 4}].(*raw.StreamObj)
	if !ok {
		t.Fatalf("content stream missing")
	}
	if name, _ := raw.AsName(stream.Dict.Lookup("Filter")); name != "FlateDecode" {
		t.Fatalf("expected compressed content, got filter %v", stream.Dict.Lookup("Filter"))
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 4}].(*raw.StreamObj).Dict.KV["Filter"]; ok {
		t.Fatalf("writer must not mutate the source document")
	}
}

func TestWriteDeterministic(t *testing.T) {
	a, err := Bytes(context.Background(), New(), sampleDoc(), Config{Deterministic: true})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	b, _ := Bytes(context.Background(), New(), sampleDoc(), Config{Deterministic: true})
	if !bytes.Equal(a, b) {
		t.Fatalf("deterministic output differs")
	}
}

func TestWriteKeepsFirstID(t *testing.T) {
	doc := sampleDoc()
	doc.Trailer.Put("ID", raw.NewArray(raw.HexStr([]byte{0xAB, 0xCD}), raw.HexStr([]byte{0x01})))
	data, err := Bytes(context.Background(), New(), doc, Config{})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Contains(data, []byte("/ID [<ABCD> <")) {
		t.Fatalf("original document id not preserved:\n%s", data[bytes.Index(data, []byte("trailer")):])
	}
}

func TestWriteRequiresRoot(t *testing.T) {
	doc := raw.NewDocument("1.7")
	if err := New().Write(context.Background(), doc, io.Discard, Config{}); !errors.Is(err, ErrNoRoot) {
		t.Fatalf("expected ErrNoRoot, got %v", err)
	}
}

func TestAppendObjectEscaping(t *testing.T) {
	cases := []struct {
		name string
		obj  raw.Object
		want string
	}{
		{"name", raw.NameLiteral("A B#"), "/A#20B#23"},
		{"string", raw.Str([]byte("a(b)\\\n")), `(a\(b\)\\\n)`},
		{"hex", raw.HexStr([]byte{0x0f, 0xa0}), "<0FA0>"},
		{"real", raw.NumberFloat(1.250000), "1.25"},
		{"negative zero", raw.NumberFloat(-0.000001), "0"},
		{"array", raw.NewArray(raw.NumberInt(1), raw.Ref(2, 0), raw.Bool(true)), "[1 2 0 R true]"},
		{"dict", raw.Dict().Put("B", raw.NumberInt(2)).Put("A", raw.NullObj{}), "<</A null/B 2>>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := string(AppendObject(nil, tc.obj)); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

type recordingInterceptor struct{ refs []int }

func (r *recordingInterceptor) BeforeWrite(_ context.Context, ref raw.ObjectRef, _ raw.Object) error {
	r.refs = append(r.refs, ref.Num)
	return nil
}

func (r *recordingInterceptor) AfterWrite(context.Context, raw.ObjectRef, int64) error { return nil }

func TestInterceptorSeesObjectsInOrder(t *testing.T) {
	rec := &recordingInterceptor{}
	w := (&WriterBuilder{}).WithInterceptor(rec).Build()
	if _, err := Bytes(context.Background(), w, sampleDoc(), Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := len(rec.refs); got != 4 || rec.refs[0] != 1 || rec.refs[3] != 4 {
		t.Fatalf("unexpected write order %v", rec.refs)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pdf")
	if err := WriteFile(context.Background(), New(), sampleDoc(), path, Config{}); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("published file missing: %v", err)
	}
	assertNoTemps(t, dir)
}

func TestPublishDiscardsOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pdf")
	boom := errors.New("boom")
	err := Publish(context.Background(), path, func(w io.Writer) error {
		w.Write([]byte("%PDF-1.7 partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fill error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("partial output must not be published")
	}
	assertNoTemps(t, dir)
}

func TestPublishHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WriteFile(ctx, New(), sampleDoc(), filepath.Join(dir, "out.pdf"), Config{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	assertNoTemps(t, dir)
}

func assertNoTemps(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temporary file left behind: %s", e.Name())
		}
	}
}
