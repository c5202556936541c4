package writer

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
)

var ErrNoRoot = errors.New("document has no /Root")

type impl struct{ interceptors []Interceptor }

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	if err := writeObject(&buf, obj); err != nil {
		return nil, fmt.Errorf("object %s: %w", ref, err)
	}
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

func (w *impl) Write(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) error {
	if doc.Trailer == nil || doc.Trailer.Lookup("Root") == nil {
		return ErrNoRoot
	}
	version := string(cfg.Version)
	if version == "" {
		version = doc.Version
	}
	if version == "" {
		version = string(PDF17)
	}

	bw := bufio.NewWriter(out)
	cw := &countingWriter{w: bw}
	fmt.Fprintf(cw, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)

	refs := doc.SortedRefs()
	offsets := make(map[int]int64, len(refs))
	gens := make(map[int]int, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj := doc.Objects[ref]
		if stream, ok := obj.(*raw.StreamObj); ok && cfg.Compression != 0 {
			compressed, err := compressStream(stream, cfg.Compression)
			if err != nil {
				return fmt.Errorf("compress object %s: %w", ref, err)
			}
			obj = compressed
		}
		for _, ic := range w.interceptors {
			if err := ic.BeforeWrite(ctx, ref, obj); err != nil {
				return err
			}
		}
		data, err := w.SerializeObject(ref, obj)
		if err != nil {
			return err
		}
		offsets[ref.Num] = cw.n
		gens[ref.Num] = ref.Gen
		if _, err := cw.Write(data); err != nil {
			return err
		}
		for _, ic := range w.interceptors {
			if err := ic.AfterWrite(ctx, ref, int64(len(data))); err != nil {
				return err
			}
		}
	}

	size := doc.MaxObjectNum() + 1
	xrefOffset := cw.n
	fmt.Fprintf(cw, "xref\n0 %d\n0000000000 65535 f \n", size)
	for i := 1; i < size; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(cw, "%010d %05d n \n", off, gens[i])
		} else {
			cw.WriteString("0000000000 65535 f \n")
		}
	}

	trailer := raw.Dict()
	trailer.Put("Size", raw.NumberInt(int64(size)))
	for _, key := range []string{"Root", "Info"} {
		if v := doc.Trailer.Lookup(key); v != nil {
			trailer.Put(key, v)
		}
	}
	trailer.Put("ID", fileID(doc, cfg))
	cw.WriteString("trailer\n")
	if err := writeObject(cw, trailer); err != nil {
		return err
	}
	fmt.Fprintf(cw, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	if cw.err != nil {
		return cw.err
	}
	return bw.Flush()
}

// compressStream flate-encodes streams that carry no filter yet. The document's
// own object is left untouched.
func compressStream(s *raw.StreamObj, level int) (*raw.StreamObj, error) {
	if s.Dict.Lookup("Filter") != nil {
		return s, nil
	}
	data, err := filters.EncodeFlate(s.Data, level)
	if err != nil {
		return nil, err
	}
	dict := raw.Clone(s.Dict).(*raw.DictObj)
	dict.Put("Filter", raw.NameLiteral("FlateDecode"))
	dict.Delete("DecodeParms")
	return raw.NewStream(dict, data), nil
}

// fileID keeps the first element of an existing /ID so the document identity survives
// rewriting; the second element changes with every revision.
func fileID(doc *raw.Document, cfg Config) *raw.ArrayObj {
	h := md5.New()
	for _, ref := range doc.SortedRefs() {
		fmt.Fprintf(h, "%d %d", ref.Num, ref.Gen)
		if s, ok := doc.Objects[ref].(*raw.StreamObj); ok {
			h.Write(s.Data)
		}
	}
	seed := h.Sum(nil)
	second := seed
	if !cfg.Deterministic {
		second = make([]byte, 16)
		if _, err := rand.Read(second); err != nil {
			second = seed
		}
	}
	first := seed
	if arr, ok := doc.Trailer.Lookup("ID").(*raw.ArrayObj); ok && arr.Len() == 2 {
		if s, ok := arr.Items[0].(raw.StringObj); ok && len(s.Bytes) > 0 {
			first = s.Bytes
		}
	}
	return raw.NewArray(raw.HexStr(first), raw.HexStr(second))
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

func (c *countingWriter) WriteString(s string) (int, error) { return c.Write([]byte(s)) }
