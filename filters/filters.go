// Package filters decodes PDF stream filters.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	"context"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfredact/ir/raw"
)

// DecodeFunc reverses one filter. params may be nil.
type DecodeFunc func(in []byte, params raw.Dictionary) ([]byte, error)

var (
	// ErrUnsupportedFilter is returned for filters with no decoder, such as JBIG2.
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrSizeLimit         = errors.New("decoded stream exceeds size limit")
)

type Limits struct {
	// MaxDecompressedSize caps the output of each filter stage when positive.
	MaxDecompressedSize int64
}

type Pipeline struct {
	decoders map[string]DecodeFunc
	limits   Limits
}

func NewPipeline(decoders map[string]DecodeFunc, limits Limits) *Pipeline {
	p := &Pipeline{decoders: make(map[string]DecodeFunc, len(decoders)), limits: limits}
	for name, fn := range decoders {
		p.decoders[name] = fn
	}
	return p
}

// NewDefaultPipeline knows every general-purpose filter, under both the full
// names and the abbreviations used by inline images.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline(map[string]DecodeFunc{
		"FlateDecode":     inflate,
		"Fl":              inflate,
		"LZWDecode":       unLZW,
		"LZW":             unLZW,
		"ASCII85Decode":   unASCII85,
		"A85":             unASCII85,
		"ASCIIHexDecode":  unHex,
		"AHx":             unHex,
		"RunLengthDecode": unRunLength,
		"RL":              unRunLength,
	}, limits)
}

// Decode runs the filters in order. An image codec must come last and leaves
// its payload encoded.
func (p *Pipeline) Decode(ctx context.Context, data []byte, names []string, params []raw.Dictionary) ([]byte, error) {
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if IsImageCodec(name) {
			if i < len(names)-1 {
				return nil, fmt.Errorf("%s must be the last filter", name)
			}
			break
		}
		fn, ok := p.decoders[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := fn(data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if limit := p.limits.MaxDecompressedSize; limit > 0 && int64(len(out)) > limit {
			return nil, fmt.Errorf("%s: %w", name, ErrSizeLimit)
		}
		data = out
	}
	return data, nil
}

// IsImageCodec reports filters whose output is an encoded image rather than samples.
func IsImageCodec(name string) bool {
	switch name {
	case "DCTDecode", "DCT", "JPXDecode", "JBIG2Decode", "CCITTFaxDecode", "CCF":
		return true
	}
	return false
}

// inflate accepts zlib streams, raw deflate streams, and truncated streams as
// long as something was recovered.
func inflate(in []byte, params raw.Dictionary) ([]byte, error) {
	var out bytes.Buffer
	err := drain(&out, func() (io.ReadCloser, error) { return zlib.NewReader(bytes.NewReader(in)) })
	if err != nil && out.Len() == 0 {
		if ferr := drain(&out, func() (io.ReadCloser, error) { return flate.NewReader(bytes.NewReader(in)), nil }); ferr != nil && out.Len() == 0 {
			return nil, err
		}
	}
	return applyPredictor(out.Bytes(), params)
}

func unLZW(in []byte, params raw.Dictionary) ([]byte, error) {
	var out bytes.Buffer
	err := drain(&out, func() (io.ReadCloser, error) { return lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8), nil })
	if err != nil && out.Len() == 0 {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

func drain(dst *bytes.Buffer, open func() (io.ReadCloser, error)) error {
	r, err := open()
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(dst, r)
	return err
}

func unASCII85(in []byte, _ raw.Dictionary) ([]byte, error) {
	body := bytes.TrimPrefix(bytes.TrimSpace(in), []byte("<~"))
	if end := bytes.Index(body, []byte("~>")); end >= 0 {
		body = body[:end]
	}
	out := make([]byte, 4*len(body)+4)
	n, _, err := ascii85.Decode(out, body, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func unHex(in []byte, _ raw.Dictionary) ([]byte, error) {
	digits := make([]byte, 0, len(in)+1)
	for _, c := range in {
		if c == '>' {
			break
		}
		if !isSpace(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	if _, err := hex.Decode(out, digits); err != nil {
		return nil, err
	}
	return out, nil
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\n', '\r', '\t', '\f', 0:
		return true
	}
	return false
}

// unRunLength: a length byte n < 128 copies n+1 literal bytes, n > 128 repeats
// the next byte 257-n times, and 128 ends the data.
func unRunLength(in []byte, _ raw.Dictionary) ([]byte, error) {
	out := make([]byte, 0, 2*len(in))
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			if i+n+1 > len(in) {
				return nil, io.ErrUnexpectedEOF
			}
			out = append(out, in[i:i+n+1]...)
			i += n + 1
		default:
			if i >= len(in) {
				return nil, io.ErrUnexpectedEOF
			}
			for k := 0; k < 257-n; k++ {
				out = append(out, in[i])
			}
			i++
		}
	}
	return out, nil
}

// EncodeFlate compresses data into a zlib stream for /FlateDecode.
func EncodeFlate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
