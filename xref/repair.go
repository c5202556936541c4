package xref

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/scanner"
)

var objHeader = regexp.MustCompile(`(\d{1,10})[ \t\r\n\f\x00]+(\d{1,5})[ \t\r\n\f\x00]+obj\b`)

// Repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and the last parsable "trailer" dictionary.
// Later definitions of the same object win, matching incremental update semantics.
func Repair(ctx context.Context, data []byte) (Table, error) {
	entries := make(map[int]Entry)
	for _, m := range objHeader.FindAllSubmatchIndex(data, -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := m[0]
		if start > 0 && !isBoundary(data[start-1]) {
			continue
		}
		num, err1 := strconv.Atoi(string(data[m[2]:m[3]]))
		gen, err2 := strconv.Atoi(string(data[m[4]:m[5]]))
		if err1 != nil || err2 != nil {
			continue
		}
		entries[num] = Entry{Kind: EntryInUse, Offset: int64(start), Gen: gen}
	}
	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}

	trailer := lastTrailer(data)
	if trailer == nil {
		trailer = raw.Dict()
	}
	trailer.Put("Size", raw.NumberInt(int64(maxKey(entries)+1)))
	trailer.Delete("Prev")
	trailer.Delete("XRefStm")
	return &table{entries: entries, trailer: trailer, kind: "repaired"}, nil
}

func lastTrailer(data []byte) *raw.DictObj {
	for end := len(data); end > 0; {
		idx := bytes.LastIndex(data[:end], []byte("trailer"))
		if idx < 0 {
			return nil
		}
		s := scanner.New(data, scanner.Config{})
		if err := s.Seek(int64(idx + len("trailer"))); err == nil {
			if obj, err := raw.ReadObject(raw.NewTokenReader(s)); err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					return dict
				}
			}
		}
		end = idx
	}
	return nil
}

func isBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '>', ']', ')':
		return true
	}
	return false
}

func maxKey(m map[int]Entry) int {
	top := 0
	for k := range m {
		if k > top {
			top = k
		}
	}
	return top
}
