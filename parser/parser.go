package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/scanner"
	"github.com/wudi/pdfredact/xref"
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	XRef        xref.ResolverConfig
	Scanner     scanner.Config
	Limits      filters.Limits
	MaxIndirect int
	Cache       Cache
	// MaxFileSize rejects inputs larger than this many bytes when positive.
	MaxFileSize int64
}

var (
	// ErrNotPDF is returned when the input has no %PDF- header.
	ErrNotPDF = errors.New("not a PDF document")
	// ErrEncrypted is returned for documents carrying an /Encrypt dictionary.
	ErrEncrypted = errors.New("encrypted documents are not supported")
	ErrTooLarge  = errors.New("document exceeds size limit")
)

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.MaxIndirect == 0 {
		cfg.MaxIndirect = 32
	}
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	data, err := readAll(r, p.cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}
	return p.ParseBytes(ctx, data)
}

// ParseBytes parses an in-memory document. Objects whose xref entries are wrong
// trigger one rebuild of the table by scanning.
func (p *DocumentParser) ParseBytes(ctx context.Context, data []byte) (*raw.Document, error) {
	version := detectHeaderVersion(data)
	if version == "" {
		return nil, ErrNotPDF
	}
	fp := filters.NewDefaultPipeline(p.cfg.Limits)
	xcfg := p.cfg.XRef
	xcfg.Filters = fp
	table, err := xref.NewResolver(xcfg).Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	if table.Trailer().Lookup("Encrypt") != nil {
		return nil, ErrEncrypted
	}

	doc, err := p.loadAll(ctx, data, table, fp)
	if errors.Is(err, ErrObjectMismatch) && !xcfg.DisableRepair {
		table, err = xref.Repair(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("repair xref: %w", err)
		}
		doc, err = p.loadAll(ctx, data, table, fp)
	}
	if err != nil {
		return nil, err
	}
	doc.Version = version
	if catalog := doc.ResolveDict(doc.Trailer.Lookup("Root")); catalog != nil {
		if v, ok := raw.AsName(catalog.Lookup("Version")); ok && v > doc.Version {
			doc.Version = v
		}
	}
	return doc, nil
}

func (p *DocumentParser) loadAll(ctx context.Context, data []byte, table xref.Table, fp *filters.Pipeline) (*raw.Document, error) {
	loader, err := (&ObjectLoaderBuilder{maxDepth: p.cfg.MaxIndirect}).
		WithData(data).
		WithXRef(table).
		WithFilters(fp).
		WithScanner(p.cfg.Scanner).
		WithCache(p.cfg.Cache).
		Build()
	if err != nil {
		return nil, err
	}

	doc := raw.NewDocument("")
	doc.Repaired = table.Type() == "repaired"
	for _, objNum := range table.Objects() {
		if objNum == 0 {
			continue // free head entry
		}
		entry, _ := table.Lookup(objNum)
		ref := raw.ObjectRef{Num: objNum, Gen: entry.Gen}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			if errors.Is(err, ErrObjectMismatch) {
				return nil, err
			}
			if doc.Repaired {
				continue // best effort once the table is already rebuilt
			}
			return nil, fmt.Errorf("load object %d: %w", objNum, err)
		}
		if isStructural(obj) {
			continue
		}
		doc.Objects[ref] = obj
	}

	trailer := table.Trailer()
	for _, key := range []string{"Root", "Info", "ID"} {
		if v := trailer.Lookup(key); v != nil {
			doc.Trailer.Put(key, v)
		}
	}
	if doc.ResolveDict(doc.Trailer.Lookup("Root")) == nil {
		root, ok := findCatalog(doc)
		if !ok {
			return nil, errors.New("document catalog not found")
		}
		doc.Trailer.Put("Root", raw.RefObj{R: root})
	}
	return doc, nil
}

// isStructural reports xref and object streams, which are rebuilt on write.
func isStructural(obj raw.Object) bool {
	stream, ok := obj.(*raw.StreamObj)
	if !ok {
		return false
	}
	typ, _ := raw.AsName(stream.Dict.Lookup("Type"))
	return typ == "XRef" || typ == "ObjStm"
}

func findCatalog(doc *raw.Document) (raw.ObjectRef, bool) {
	for _, ref := range doc.SortedRefs() {
		dict, ok := doc.Objects[ref].(*raw.DictObj)
		if !ok {
			continue
		}
		if typ, _ := raw.AsName(dict.Lookup("Type")); typ == "Catalog" {
			return ref, true
		}
	}
	return raw.ObjectRef{}, false
}

var headerVersion = regexp.MustCompile(`%PDF-(\d\.\d)`)

func detectHeaderVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	m := headerVersion.FindSubmatch(head)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// IsPDF reports whether data starts with a PDF header within the first kilobyte.
func IsPDF(data []byte) bool { return detectHeaderVersion(data) != "" }

func readAll(r io.ReaderAt, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	const chunk = int64(64 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if limit > 0 && int64(buf.Len()) > limit {
			return nil, ErrTooLarge
		}
		if errors.Is(err, io.EOF) || (err == nil && int64(n) < chunk) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
	}
	return buf.Bytes(), nil
}
