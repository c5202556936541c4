package xref_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/wudi/pdfredact/xref"
)

// file assembles a PDF body and remembers where each object starts.
type file struct {
	bytes.Buffer
	at map[int]int
}

func newFile(version string) *file {
	f := &file{at: make(map[int]int)}
	f.WriteString("%PDF-" + version + "\n")
	return f
}

func (f *file) obj(num int, body string) int {
	f.at[num] = f.Len()
	fmt.Fprintf(f, "%d 0 obj\n%s\nendobj\n", num, body)
	return f.at[num]
}

// table writes a classic section covering nums and returns its offset.
func (f *file) table(trailer string, nums ...int) int {
	off := f.Len()
	f.WriteString("xref\n0 1\n0000000000 65535 f \n")
	for _, n := range nums {
		fmt.Fprintf(f, "%d 1\n%010d 00000 n \n", n, f.at[n])
	}
	fmt.Fprintf(f, "trailer\n%s\n", trailer)
	return off
}

func (f *file) end(startxref int) []byte {
	fmt.Fprintf(f, "startxref\n%d\n%%%%EOF\n", startxref)
	return f.Bytes()
}

// row is one xref stream entry with /W [1 4 1].
type row struct {
	typ    byte
	field2 uint32
	field3 byte
}

func rows(size int, set map[int]row) []byte {
	out := make([]byte, 6*size)
	for n, r := range set {
		out[6*n] = r.typ
		binary.BigEndian.PutUint32(out[6*n+1:], r.field2)
		out[6*n+5] = r.field3
	}
	return out
}

func (f *file) xrefStream(num, size int, extra string, set map[int]row) int {
	off := f.Len()
	set[num] = row{typ: 1, field2: uint32(off)}
	data := rows(size, set)
	fmt.Fprintf(f, "%d 0 obj\n<< /Type /XRef /Size %d /Root 1 0 R /W [1 4 1]%s /Length %d >>\nstream\n",
		num, size, extra, len(data))
	f.Write(data)
	f.WriteString("\nendstream\nendobj\n")
	return off
}

func resolve(t *testing.T, data []byte) xref.Table {
	t.Helper()
	table, err := xref.NewResolver(xref.ResolverConfig{DisableRepair: true}).Resolve(context.Background(), data)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return table
}

func TestClassicTable(t *testing.T) {
	f := newFile("1.7")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	table := resolve(t, f.end(f.table("<< /Size 3 /Root 1 0 R >>", 1, 2)))

	if table.Type() != "table" {
		t.Fatalf("type = %s", table.Type())
	}
	for _, n := range []int{1, 2} {
		e, ok := table.Lookup(n)
		if !ok || e.Kind != xref.EntryInUse || e.Offset != int64(f.at[n]) || e.Gen != 0 {
			t.Fatalf("object %d = %+v (want offset %d)", n, e, f.at[n])
		}
	}
	if _, ok := table.Lookup(0); ok {
		t.Fatalf("free head reported as an object")
	}
	if got := table.Objects(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("objects = %v", got)
	}
	if table.Trailer().Lookup("Root") == nil {
		t.Fatalf("trailer lost /Root")
	}
}

func TestXRefStreamWithCompressedObjects(t *testing.T) {
	f := newFile("1.7")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	payload := "4 0 5 13 << /Seq 1 >> 42"
	f.obj(3, fmt.Sprintf("<< /Type /ObjStm /N 2 /First 9 /Length %d >>\nstream\n%s\nendstream", len(payload), payload))
	off := f.xrefStream(6, 7, " /Index [0 7]", map[int]row{
		1: {typ: 1, field2: uint32(f.at[1])},
		2: {typ: 1, field2: uint32(f.at[2])},
		3: {typ: 1, field2: uint32(f.at[3])},
		4: {typ: 2, field2: 3, field3: 0},
		5: {typ: 2, field2: 3, field3: 1},
	})
	table := resolve(t, f.end(off))

	if table.Type() != "stream" {
		t.Fatalf("type = %s", table.Type())
	}
	cases := []struct {
		num  int
		want xref.Entry
	}{
		{1, xref.Entry{Kind: xref.EntryInUse, Offset: int64(f.at[1])}},
		{4, xref.Entry{Kind: xref.EntryCompressed, Stream: 3, Index: 0}},
		{5, xref.Entry{Kind: xref.EntryCompressed, Stream: 3, Index: 1}},
		{6, xref.Entry{Kind: xref.EntryInUse, Offset: int64(off)}},
	}
	for _, tc := range cases {
		if got, ok := table.Lookup(tc.num); !ok || got != tc.want {
			t.Errorf("object %d = %+v, want %+v", tc.num, got, tc.want)
		}
	}
}

func TestHybridFileMergesCompanionStream(t *testing.T) {
	f := newFile("1.7")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	streamOff := f.xrefStream(4, 6, "", map[int]row{
		1: {typ: 1, field2: uint32(f.at[1])},
		2: {typ: 1, field2: uint32(f.at[2])},
	})
	fmt.Fprintf(f, "startxref\n%d\n%%%%EOF\n", streamOff)

	f.obj(5, "<< /Producer (update) >>")
	tableOff := f.table(fmt.Sprintf("<< /Size 6 /Root 1 0 R /Prev %d /XRefStm %d >>", streamOff, streamOff), 5)
	table := resolve(t, f.end(tableOff))

	if table.Type() != "table" {
		t.Fatalf("newest section should set the type, got %s", table.Type())
	}
	for _, n := range []int{1, 2, 5} {
		if e, ok := table.Lookup(n); !ok || e.Offset != int64(f.at[n]) {
			t.Fatalf("object %d = %+v", n, e)
		}
	}
}

func TestIncrementalUpdateWins(t *testing.T) {
	f := newFile("1.4")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	oldPages := f.at[2]
	first := f.table("<< /Size 3 /Root 1 0 R >>", 1, 2)
	fmt.Fprintf(f, "startxref\n%d\n%%%%EOF\n", first)

	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 /Redacted true >>")
	second := f.table(fmt.Sprintf("<< /Size 3 /Root 1 0 R /Prev %d >>", first), 2)
	table := resolve(t, f.end(second))

	if e, _ := table.Lookup(2); e.Offset != int64(f.at[2]) || e.Offset == int64(oldPages) {
		t.Fatalf("object 2 offset = %d, want %d", e.Offset, f.at[2])
	}
	if e, _ := table.Lookup(1); e.Offset != int64(f.at[1]) {
		t.Fatalf("object 1 offset = %d from the older section", e.Offset)
	}
}

func TestResolveErrors(t *testing.T) {
	cases := map[string][]byte{
		"no startxref":   []byte("%PDF-1.7\n1 0 obj\n<< >>\nendobj\n"),
		"offset too big": []byte("%PDF-1.7\nstartxref\n9999\n%%EOF\n"),
		"no root":        newFile("1.7").end(9),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := xref.NewResolver(xref.ResolverConfig{DisableRepair: true}).Resolve(context.Background(), data); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
