package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/wudi/pdfredact/ir/raw"
)

func compress(t *testing.T, newWriter func(*bytes.Buffer) (io.WriteCloser, error), data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := newWriter(&buf)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func TestDecoders(t *testing.T) {
	zlibbed := compress(t, func(b *bytes.Buffer) (io.WriteCloser, error) { return zlib.NewWriter(b), nil }, []byte("jane@example.com"))
	deflated := compress(t, func(b *bytes.Buffer) (io.WriteCloser, error) { return flate.NewWriter(b, flate.BestSpeed) }, []byte("no zlib header"))
	lzwed := compress(t, func(b *bytes.Buffer) (io.WriteCloser, error) { return lzw.NewWriter(b, lzw.MSB, 8), nil }, []byte("555-0100 555-0100"))

	cases := []struct {
		filter string
		in     []byte
		want   string
	}{
		{"FlateDecode", zlibbed, "jane@example.com"},
		{"Fl", deflated, "no zlib header"},
		{"FlateDecode", zlibbed[:len(zlibbed)-4], "jane@example.com"},
		{"LZWDecode", lzwed, "555-0100 555-0100"},
		{"ASCII85Decode", []byte("<~87cURD_*#4DfTZ)+T~>"), "Hello, World!"},
		{"A85", []byte("87cURD_*#4DfTZ)+T~>"), "Hello, World!"},
		{"ASCIIHexDecode", []byte("6a 61\n6e65>"), "jane"},
		{"AHx", []byte("414>"), "A@"},
		{"RunLengthDecode", []byte{2, 'S', 'S', 'N', 253, '*', 128, 'x'}, "SSN****"},
	}
	p := NewDefaultPipeline(Limits{})
	for _, tc := range cases {
		out, err := p.Decode(context.Background(), tc.in, []string{tc.filter}, nil)
		if err != nil {
			t.Fatalf("%s: %v", tc.filter, err)
		}
		if string(out) != tc.want {
			t.Fatalf("%s = %q, want %q", tc.filter, out, tc.want)
		}
	}
}

func TestRunLengthTruncated(t *testing.T) {
	for _, in := range [][]byte{{5, 'a'}, {250}} {
		if _, err := unRunLength(in, nil); err == nil {
			t.Fatalf("%v: expected error", in)
		}
	}
}

func TestPNGPredictor(t *testing.T) {
	rowsIn := []byte{
		1, 10, 12, 20, // Sub
		2, 1, 1, 1, // Up
		0, 7, 8, 9, // None
	}
	packed, err := EncodeFlate(rowsIn, zlib.BestSpeed)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	params := raw.Dict()
	params.Set(raw.NameLiteral("Predictor"), raw.NumberInt(12))
	params.Set(raw.NameLiteral("Columns"), raw.NumberInt(3))

	out, err := inflate(packed, params)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	if want := []byte{10, 22, 42, 11, 23, 43, 7, 8, 9}; !bytes.Equal(out, want) {
		t.Fatalf("rows = %v, want %v", out, want)
	}
}

func TestPipelineChain(t *testing.T) {
	packed, err := EncodeFlate([]byte("chained"), zlib.BestCompression)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	in := append([]byte(hex.EncodeToString(packed)), '>')
	out, err := NewDefaultPipeline(Limits{}).Decode(context.Background(), in, []string{"ASCIIHexDecode", "FlateDecode"}, nil)
	if err != nil || string(out) != "chained" {
		t.Fatalf("chain = %q, %v", out, err)
	}
}

func TestPipelineImageCodecs(t *testing.T) {
	p := NewDefaultPipeline(Limits{})
	jpeg := []byte{0xff, 0xd8, 0xff}
	out, err := p.Decode(context.Background(), jpeg, []string{"DCTDecode"}, nil)
	if err != nil || !bytes.Equal(out, jpeg) {
		t.Fatalf("DCT payload changed: %v, %v", out, err)
	}
	if _, err := p.Decode(context.Background(), jpeg, []string{"DCTDecode", "FlateDecode"}, nil); err == nil {
		t.Fatalf("image codec before another filter accepted")
	}
}

func TestPipelineErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := NewPipeline(nil, Limits{}).Decode(ctx, []byte{0}, []string{"FlateDecode"}, nil); !errors.Is(err, ErrUnsupportedFilter) {
		t.Fatalf("err = %v, want ErrUnsupportedFilter", err)
	}
	bomb, _ := EncodeFlate(bytes.Repeat([]byte("a"), 4096), zlib.BestCompression)
	if _, err := NewDefaultPipeline(Limits{MaxDecompressedSize: 100}).Decode(ctx, bomb, []string{"FlateDecode"}, nil); !errors.Is(err, ErrSizeLimit) {
		t.Fatalf("err = %v, want ErrSizeLimit", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := NewDefaultPipeline(Limits{}).Decode(cancelled, []byte("41>"), []string{"AHx"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExtractFilters(t *testing.T) {
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Filter"), raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode")))
	parms := raw.Dict()
	parms.Set(raw.NameLiteral("Predictor"), raw.NumberInt(12))
	dict.Set(raw.NameLiteral("DecodeParms"), raw.NewArray(raw.NullObj{}, parms))

	names, params := ExtractFilters(dict)
	if len(names) != 2 || names[1] != "FlateDecode" {
		t.Fatalf("names = %v", names)
	}
	if len(params) != 2 || params[0] != nil || params[1] == nil {
		t.Fatalf("params = %v", params)
	}
}
