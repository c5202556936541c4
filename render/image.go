package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/ir/semantic"
)

var errImageFormat = errors.New("unsupported image format")

// maxImagePixels bounds decoded images.
const maxImagePixels = 64 << 20

var inlinePipeline = filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: 4 * maxImagePixels})

// drawImage maps the unit square of user space, scaled by ctm, onto the canvas.
func (c *canvas) drawImage(img image.Image, ctm coords.Matrix) {
	b := img.Bounds()
	if b.Empty() {
		return
	}
	w, h := float64(b.Dx()), float64(b.Dy())
	m := coords.Matrix{1 / w, 0, 0, -1 / h, 0, 1}.Multiply(ctm)
	// Source coordinates are offset by the image origin.
	m = coords.Translate(-float64(b.Min.X), -float64(b.Min.Y)).Multiply(m)
	if _, err := m.Inverse(); err != nil {
		return
	}
	s2d := f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
	var interp draw.Interpolator = draw.BiLinear
	if m[1] == 0 && m[2] == 0 && math.Abs(m[0]-1) < 1e-6 && math.Abs(m[3]-1) < 1e-6 {
		interp = draw.NearestNeighbor
	}
	interp.Transform(c.dst, s2d, img, b, draw.Over, nil)
}

func decodeImage(ctx context.Context, doc *semantic.Document, s *raw.StreamObj) (image.Image, error) {
	data, err := doc.StreamData(ctx, s)
	if err != nil {
		return nil, err
	}
	return buildImage(s.Dict, data, doc.Resolve)
}

var inlineKeys = map[string]string{
	"W": "Width", "H": "Height", "BPC": "BitsPerComponent", "CS": "ColorSpace",
	"F": "Filter", "DP": "DecodeParms", "IM": "ImageMask", "D": "Decode", "I": "Interpolate",
}

var inlineValues = map[string]string{
	"G": "DeviceGray", "RGB": "DeviceRGB", "CMYK": "DeviceCMYK", "I": "Indexed",
	"AHx": "ASCIIHexDecode", "A85": "ASCII85Decode", "LZW": "LZWDecode",
	"Fl": "FlateDecode", "RL": "RunLengthDecode", "DCT": "DCTDecode", "CCF": "CCITTFaxDecode",
}

func expandInline(obj raw.Object) raw.Object {
	switch v := obj.(type) {
	case raw.NameObj:
		if full, ok := inlineValues[v.Val]; ok {
			return raw.NameLiteral(full)
		}
	case *raw.ArrayObj:
		out := raw.NewArray()
		for _, item := range v.Items {
			out.Append(expandInline(item))
		}
		return out
	}
	return obj
}

func decodeInlineImage(op contentstream.Operation) (image.Image, error) {
	if len(op.Operands) == 0 {
		return nil, errImageFormat
	}
	src, ok := op.Operands[0].(*raw.DictObj)
	if !ok {
		return nil, errImageFormat
	}
	dict := raw.Dict()
	for _, k := range src.SortedKeys() {
		key := k
		if full, ok := inlineKeys[k]; ok {
			key = full
		}
		dict.Put(key, expandInline(src.Lookup(k)))
	}
	names, params := filters.ExtractFilters(dict)
	data, err := inlinePipeline.Decode(context.Background(), op.Data, names, params)
	if err != nil {
		return nil, err
	}
	return buildImage(dict, data, func(o raw.Object) raw.Object { return o })
}

type colorSpace struct {
	comps   int
	indexed bool
	base    *colorSpace
	hival   int
	lookup  []byte
}

func parseColorSpace(obj raw.Object, resolve func(raw.Object) raw.Object, depth int) (*colorSpace, error) {
	if depth > 4 {
		return nil, errImageFormat
	}
	obj = resolve(obj)
	if name, ok := raw.AsName(obj); ok {
		switch name {
		case "DeviceGray", "CalGray":
			return &colorSpace{comps: 1}, nil
		case "DeviceRGB", "CalRGB":
			return &colorSpace{comps: 3}, nil
		case "DeviceCMYK":
			return &colorSpace{comps: 4}, nil
		}
		return nil, fmt.Errorf("%w: colour space %s", errImageFormat, name)
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok || arr.Len() == 0 {
		return nil, errImageFormat
	}
	family, _ := raw.AsName(arr.Items[0])
	switch family {
	case "ICCBased":
		if arr.Len() < 2 {
			return nil, errImageFormat
		}
		if s, ok := resolve(arr.Items[1]).(*raw.StreamObj); ok {
			if n, ok := raw.AsNumber(s.Dict.Lookup("N")); ok && (n == 1 || n == 3 || n == 4) {
				return &colorSpace{comps: int(n)}, nil
			}
		}
		return nil, errImageFormat
	case "CalGray", "CalRGB", "DeviceGray", "DeviceRGB", "DeviceCMYK":
		return parseColorSpace(raw.NameLiteral(family), resolve, depth+1)
	case "Indexed", "I":
		if arr.Len() < 4 {
			return nil, errImageFormat
		}
		base, err := parseColorSpace(arr.Items[1], resolve, depth+1)
		if err != nil || base.indexed {
			return nil, errImageFormat
		}
		hival, _ := raw.AsNumber(arr.Items[2])
		var lookup []byte
		switch v := resolve(arr.Items[3]).(type) {
		case raw.StringObj:
			lookup = v.Bytes
		case *raw.StreamObj:
			names, params := filters.ExtractFilters(v.Dict)
			lookup, err = inlinePipeline.Decode(context.Background(), v.Data, names, params)
			if err != nil {
				return nil, err
			}
		}
		return &colorSpace{comps: 1, indexed: true, base: base, hival: int(hival), lookup: lookup}, nil
	}
	return nil, fmt.Errorf("%w: colour space %s", errImageFormat, family)
}

// buildImage converts decoded samples into an image. DCT payloads are decoded with image/jpeg.
func buildImage(dict *raw.DictObj, data []byte, resolve func(raw.Object) raw.Object) (image.Image, error) {
	names, _ := filters.ExtractFilters(dict)
	if n := len(names); n > 0 && (names[n-1] == "DCTDecode" || names[n-1] == "DCT") {
		return jpeg.Decode(bytes.NewReader(data))
	}
	if n := len(names); n > 0 && filters.IsImageCodec(names[n-1]) {
		return nil, fmt.Errorf("%w: %s", errImageFormat, names[n-1])
	}
	wf, _ := raw.AsNumber(resolve(dict.Lookup("Width")))
	hf, _ := raw.AsNumber(resolve(dict.Lookup("Height")))
	w, h := int(wf), int(hf)
	if w <= 0 || h <= 0 || w*h > maxImagePixels {
		return nil, fmt.Errorf("%w: size %dx%d", errImageFormat, w, h)
	}
	if mask, ok := dict.Lookup("ImageMask").(raw.BoolObj); ok && mask.V {
		return nil, fmt.Errorf("%w: stencil mask", errImageFormat)
	}
	bpc := 8
	if v, ok := raw.AsNumber(resolve(dict.Lookup("BitsPerComponent"))); ok {
		bpc = int(v)
	}
	if bpc != 1 && bpc != 2 && bpc != 4 && bpc != 8 {
		return nil, fmt.Errorf("%w: %d bits per component", errImageFormat, bpc)
	}
	csObj := dict.Lookup("ColorSpace")
	if csObj == nil {
		csObj = raw.NameLiteral("DeviceGray")
	}
	cs, err := parseColorSpace(csObj, resolve, 0)
	if err != nil {
		return nil, err
	}
	stride := (w*cs.comps*bpc + 7) / 8
	if len(data) < stride*h {
		return nil, fmt.Errorf("%w: short sample data", errImageFormat)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	maxv := float64(int(1)<<bpc - 1)
	comps := make([]float64, 4)
	for y := 0; y < h; y++ {
		row := data[y*stride : (y+1)*stride]
		for x := 0; x < w; x++ {
			for c := 0; c < cs.comps; c++ {
				comps[c] = float64(sample(row, x*cs.comps+c, bpc))
			}
			var col color.NRGBA
			if cs.indexed {
				col = cs.lookupColor(int(comps[0]))
			} else {
				for c := 0; c < cs.comps; c++ {
					comps[c] /= maxv
				}
				col = componentsColor(comps[:cs.comps])
			}
			img.SetNRGBA(x, y, col)
		}
	}
	return img, nil
}

func sample(row []byte, i, bpc int) int {
	switch bpc {
	case 8:
		return int(row[i])
	default:
		bit := i * bpc
		b := row[bit/8]
		shift := 8 - bpc - bit%8
		return int(b>>uint(shift)) & (1<<bpc - 1)
	}
}

func (cs *colorSpace) lookupColor(idx int) color.NRGBA {
	if idx > cs.hival {
		idx = cs.hival
	}
	n := cs.base.comps
	off := idx * n
	if off+n > len(cs.lookup) {
		return color.NRGBA{A: 255}
	}
	comps := make([]float64, n)
	for i := range comps {
		comps[i] = float64(cs.lookup[off+i]) / 255
	}
	return componentsColor(comps)
}

func componentsColor(c []float64) color.NRGBA {
	to8 := func(v float64) uint8 { return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255)) }
	switch len(c) {
	case 1:
		g := to8(c[0])
		return color.NRGBA{g, g, g, 255}
	case 3:
		return color.NRGBA{to8(c[0]), to8(c[1]), to8(c[2]), 255}
	case 4:
		k := c[3]
		return color.NRGBA{to8((1 - c[0]) * (1 - k)), to8((1 - c[1]) * (1 - k)), to8((1 - c[2]) * (1 - k)), 255}
	}
	return color.NRGBA{A: 255}
}
