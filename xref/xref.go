package xref

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/scanner"
)

type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	// EntryCompressed objects live inside an object stream.
	EntryCompressed
)

// Entry locates one object. For EntryInUse, Offset is a byte offset; for
// EntryCompressed, Stream is the object stream number and Index the position in it.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table holds object locations resolved from the cross-reference data.
type Table interface {
	Lookup(objNum int) (Entry, bool)
	Objects() []int
	Trailer() *raw.DictObj
	Type() string
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, data []byte) (Table, error)
}

type ResolverConfig struct {
	MaxXRefDepth int
	Filters      *filters.Pipeline
	// DisableRepair makes Resolve fail instead of rebuilding a damaged table by scanning.
	DisableRepair bool
}

var ErrNoStartXRef = errors.New("startxref not found")

// NewResolver returns a resolver for classic tables, xref streams and hybrid files.
func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 64
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.NewDefaultPipeline(filters.Limits{})
	}
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg ResolverConfig
}

func (r *resolver) Resolve(ctx context.Context, data []byte) (Table, error) {
	t, err := r.resolveChain(ctx, data)
	if err == nil {
		return t, nil
	}
	if r.cfg.DisableRepair {
		return nil, err
	}
	repaired, rerr := Repair(ctx, data)
	if rerr != nil {
		return nil, fmt.Errorf("%v; repair: %w", err, rerr)
	}
	return repaired, nil
}

func (r *resolver) resolveChain(ctx context.Context, data []byte) (*table, error) {
	offset, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	out := &table{entries: make(map[int]Entry), kind: "table"}
	visited := make(map[int64]bool)
	for depth := 0; offset >= 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, errors.New("xref chain too deep")
		}
		if visited[offset] {
			break
		}
		visited[offset] = true

		section, trailer, kind, err := r.readSection(ctx, data, offset)
		if err != nil {
			return nil, fmt.Errorf("xref section at %d: %w", offset, err)
		}
		if out.trailer == nil {
			out.trailer = trailer
			out.kind = kind
		}
		merge(out.entries, section)
		// Hybrid files: the table's companion stream sits between this section and /Prev.
		if stm, ok := raw.AsNumber(trailer.Lookup("XRefStm")); ok && !visited[int64(stm)] {
			visited[int64(stm)] = true
			if extra, _, _, err := r.readSection(ctx, data, int64(stm)); err == nil {
				merge(out.entries, extra)
			}
		}

		prev, ok := raw.AsNumber(trailer.Lookup("Prev"))
		if !ok {
			break
		}
		offset = int64(prev)
	}
	if out.trailer == nil || out.trailer.Lookup("Root") == nil {
		return nil, errors.New("trailer has no /Root")
	}
	return out, nil
}

// merge copies entries not already present; newer sections are merged first.
func merge(dst, src map[int]Entry) {
	for num, e := range src {
		if _, ok := dst[num]; !ok {
			dst[num] = e
		}
	}
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	offset, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if offset <= 0 || offset >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", offset)
	}
	return offset, nil
}

func (r *resolver) readSection(ctx context.Context, data []byte, offset int64) (map[int]Entry, *raw.DictObj, string, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, nil, "", fmt.Errorf("offset %d out of range", offset)
	}
	s := scanner.New(data, scanner.Config{})
	if err := s.Seek(offset); err != nil {
		return nil, nil, "", err
	}
	tr := raw.NewTokenReader(s)
	tok, err := tr.Next()
	if err != nil {
		return nil, nil, "", err
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		entries, trailer, err := readTable(tr)
		return entries, trailer, "table", err
	}
	tr.Unread(tok)
	entries, trailer, err := r.readStream(ctx, tr)
	return entries, trailer, "stream", err
}

func readTable(tr *raw.TokenReader) (map[int]Entry, *raw.DictObj, error) {
	entries := make(map[int]Entry)
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		countTok, err := tr.Next()
		if err != nil {
			return nil, nil, err
		}
		if tok.Type != scanner.TokenNumber || countTok.Type != scanner.TokenNumber {
			return nil, nil, fmt.Errorf("invalid xref subsection header at %d", tok.Pos)
		}
		start, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := tr.Next()
			genTok, err2 := tr.Next()
			kindTok, err3 := tr.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, nil, fmt.Errorf("unexpected end of xref section: %w", err)
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, nil, fmt.Errorf("invalid xref entry at %d", offTok.Pos)
			}
			if kindTok.Str != "n" {
				continue // free entry
			}
			entries[start+i] = Entry{Kind: EntryInUse, Offset: offTok.Int, Gen: int(genTok.Int)}
		}
	}
	obj, err := raw.ReadObject(tr)
	if err != nil {
		return nil, nil, fmt.Errorf("trailer: %w", err)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, nil, errors.New("trailer is not a dictionary")
	}
	return entries, trailer, nil
}

func (r *resolver) readStream(ctx context.Context, tr *raw.TokenReader) (map[int]Entry, *raw.DictObj, error) {
	stream, err := ReadIndirectStream(tr)
	if err != nil {
		return nil, nil, err
	}
	dict := stream.Dict
	if name, _ := raw.AsName(dict.Lookup("Type")); name != "XRef" {
		return nil, nil, errors.New("not an xref stream")
	}
	names, params := filters.ExtractFilters(dict)
	payload, err := r.cfg.Filters.Decode(ctx, stream.Data, names, params)
	if err != nil {
		return nil, nil, fmt.Errorf("decode xref stream: %w", err)
	}
	widths, ok := raw.AsNumbers(dict.Lookup("W"))
	if !ok || len(widths) != 3 {
		return nil, nil, errors.New("xref stream /W must hold three widths")
	}
	w := [3]int{int(widths[0]), int(widths[1]), int(widths[2])}
	rowLen := w[0] + w[1] + w[2]
	if rowLen <= 0 {
		return nil, nil, errors.New("xref stream row width is zero")
	}
	size, _ := raw.AsNumber(dict.Lookup("Size"))
	index, ok := raw.AsNumbers(dict.Lookup("Index"))
	if !ok || len(index)%2 != 0 {
		index = []float64{0, size}
	}

	entries := make(map[int]Entry)
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+rowLen > len(payload) {
				return entries, dict, nil
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w[0] > 0 {
				typ = readField(row[:w[0]])
			}
			f2 := readField(row[w[0] : w[0]+w[1]])
			f3 := readField(row[w[0]+w[1]:])
			switch typ {
			case 1:
				entries[start+j] = Entry{Kind: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				entries[start+j] = Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)}
			}
		}
	}
	return entries, dict, nil
}

func readField(b []byte) int64 {
	var buf [8]byte
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	copy(buf[8-len(b):], b)
	return int64(binary.BigEndian.Uint64(buf[:]))
}

// ReadIndirectStream reads "N G obj << ... >> stream ... endstream" using a direct
// /Length when present.
func ReadIndirectStream(tr *raw.TokenReader) (*raw.StreamObj, error) {
	for _, want := range []scanner.TokenType{scanner.TokenNumber, scanner.TokenNumber} {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type != want {
			return nil, fmt.Errorf("expected object header at %d", tok.Pos)
		}
	}
	if tok, err := tr.Next(); err != nil || tok.Type != scanner.TokenKeyword || tok.Str != "obj" {
		return nil, errors.New("expected obj keyword")
	}
	obj, err := raw.ReadObject(tr)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("stream object without dictionary")
	}
	s := tr.Scanner()
	if n, ok := dict.Lookup("Length").(raw.NumberObj); ok {
		s.SetNextStreamLength(n.Int())
	}
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type != scanner.TokenStream {
		return nil, errors.New("expected stream keyword")
	}
	return raw.NewStream(dict, tok.Bytes), nil
}

type table struct {
	entries map[int]Entry
	trailer *raw.DictObj
	kind    string
}

func (t *table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (t *table) Trailer() *raw.DictObj { return t.trailer }
func (t *table) Type() string          { return t.kind }
