package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/scanner"
	"github.com/wudi/pdfredact/xref"
)

// ObjectLoader loads indirect objects on demand.
type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

// Cache stores loaded objects keyed by reference.
type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable xref.Table
	filters   *filters.Pipeline
	scanCfg   scanner.Config
	maxDepth  int
	cache     Cache
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder { b.data = data; return b }
func (b *ObjectLoaderBuilder) WithFilters(p *filters.Pipeline) *ObjectLoaderBuilder {
	b.filters = p
	return b
}
func (b *ObjectLoaderBuilder) WithScanner(cfg scanner.Config) *ObjectLoaderBuilder {
	b.scanCfg = cfg
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.xrefTable == nil {
		return nil, errors.New("object loader needs an xref table")
	}
	if b.filters == nil {
		b.filters = filters.NewDefaultPipeline(filters.Limits{})
	}
	if b.maxDepth <= 0 {
		b.maxDepth = 32
	}
	cache := b.cache
	if cache == nil {
		cache = &mapCache{}
	}
	return &objectLoader{
		data:     b.data,
		table:    b.xrefTable,
		filters:  b.filters,
		scanCfg:  b.scanCfg,
		maxDepth: b.maxDepth,
		cache:    cache,
		objStms:  make(map[int]*objectStream),
	}, nil
}

type objectLoader struct {
	data     []byte
	table    xref.Table
	filters  *filters.Pipeline
	scanCfg  scanner.Config
	maxDepth int
	cache    Cache
	objStms  map[int]*objectStream
}

var ErrObjectMismatch = errors.New("object header does not match xref entry")

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	return o.load(ctx, ref, 0)
}

func (o *objectLoader) load(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if depth > o.maxDepth {
		return nil, fmt.Errorf("object %s: indirect depth exceeded", ref)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if obj, ok := o.cache.Get(ref); ok {
		return obj, nil
	}
	entry, ok := o.table.Lookup(ref.Num)
	if !ok {
		return nil, fmt.Errorf("object %s not in xref", ref)
	}
	var obj raw.Object
	var err error
	switch entry.Kind {
	case xref.EntryInUse:
		obj, err = o.loadAtOffset(ctx, ref, entry.Offset, depth)
	case xref.EntryCompressed:
		obj, err = o.loadFromObjectStream(ctx, entry.Stream, entry.Index, depth)
	default:
		return nil, fmt.Errorf("object %s is free", ref)
	}
	if err != nil {
		return nil, err
	}
	o.cache.Put(ref, obj)
	return obj, nil
}

func (o *objectLoader) loadAtOffset(ctx context.Context, ref raw.ObjectRef, offset int64, depth int) (raw.Object, error) {
	s := scanner.New(o.data, o.scanCfg)
	if err := s.Seek(offset); err != nil {
		return nil, fmt.Errorf("object %s: %w", ref, err)
	}
	tr := raw.NewTokenReader(s)
	numTok, err1 := tr.Next()
	genTok, err2 := tr.Next()
	objTok, err3 := tr.Next()
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("object %s header: %w", ref, err)
	}
	if numTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber ||
		objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" || int(numTok.Int) != ref.Num {
		return nil, fmt.Errorf("object %s at %d: %w", ref, offset, ErrObjectMismatch)
	}
	obj, err := raw.ReadObject(tr)
	if err != nil {
		return nil, fmt.Errorf("parse object %s: %w", ref, err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return obj, nil
	}
	s = tr.Scanner()
	pos := s.Position()
	if n, ok := o.streamLength(ctx, dict, depth); ok {
		s.SetNextStreamLength(n)
	}
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenStream {
		// plain dictionary; the trailing token belongs to "endobj"
		_ = s.Seek(pos)
		return dict, nil
	}
	return raw.NewStream(dict, append([]byte(nil), tok.Bytes...)), nil
}

func (o *objectLoader) streamLength(ctx context.Context, dict *raw.DictObj, depth int) (int64, bool) {
	switch v := dict.Lookup("Length").(type) {
	case raw.NumberObj:
		return v.Int(), true
	case raw.RefObj:
		obj, err := o.load(ctx, v.R, depth+1)
		if err != nil {
			return 0, false
		}
		if n, ok := obj.(raw.NumberObj); ok {
			// Store the direct value so the writer never sees a dangling length.
			dict.Put("Length", n)
			return n.Int(), true
		}
	}
	return 0, false
}

type objectStream struct {
	payload []byte
	first   int64
	offsets []int64
	nums    []int
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, streamNum, index, depth int) (raw.Object, error) {
	stm, err := o.objectStream(ctx, streamNum, depth)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(stm.offsets) {
		return nil, fmt.Errorf("object stream %d: index %d out of range", streamNum, index)
	}
	s := scanner.New(stm.payload, o.scanCfg)
	if err := s.Seek(stm.first + stm.offsets[index]); err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
	}
	return raw.ReadObject(raw.NewTokenReader(s))
}

func (o *objectLoader) objectStream(ctx context.Context, num, depth int) (*objectStream, error) {
	if stm, ok := o.objStms[num]; ok {
		return stm, nil
	}
	entry, ok := o.table.Lookup(num)
	if !ok || entry.Kind != xref.EntryInUse {
		return nil, fmt.Errorf("object stream %d not found", num)
	}
	obj, err := o.load(ctx, raw.ObjectRef{Num: num, Gen: entry.Gen}, depth+1)
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object %d is not an object stream", num)
	}
	names, params := filters.ExtractFilters(stream.Dict)
	payload, err := o.filters.Decode(ctx, stream.Data, names, params)
	if err != nil {
		return nil, fmt.Errorf("decode object stream %d: %w", num, err)
	}
	n, _ := raw.AsNumber(stream.Dict.Lookup("N"))
	first, _ := raw.AsNumber(stream.Dict.Lookup("First"))
	stm := &objectStream{payload: payload, first: int64(first)}
	s := scanner.New(payload, scanner.Config{DisableRefs: true})
	for i := 0; i < int(n); i++ {
		numTok, err1 := s.Next()
		offTok, err2 := s.Next()
		if err1 != nil || err2 != nil || numTok.Type != scanner.TokenNumber || offTok.Type != scanner.TokenNumber {
			break
		}
		stm.nums = append(stm.nums, int(numTok.Int))
		stm.offsets = append(stm.offsets, offTok.Int)
	}
	o.objStms[num] = stm
	return stm, nil
}

type mapCache struct {
	m map[raw.ObjectRef]raw.Object
}

func (c *mapCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	v, ok := c.m[ref]
	return v, ok
}

func (c *mapCache) Put(ref raw.ObjectRef, obj raw.Object) {
	if c.m == nil {
		c.m = make(map[raw.ObjectRef]raw.Object)
	}
	c.m[ref] = obj
}
