package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// InputOption adjusts an Input built by PageInput.
type InputOption func(*Input)

func WithLanguages(langs ...string) InputOption {
	return func(in *Input) { in.Languages = append([]string(nil), langs...) }
}

// WithCrop restricts recognition to box; an empty box clears the crop.
func WithCrop(box Box) InputOption {
	return func(in *Input) {
		if box.Empty() {
			in.Crop = nil
			return
		}
		in.Crop = &box
	}
}

// PageInput encodes a rendered page as PNG under the id "page-N".
func PageInput(page int, img image.Image, dpi int, opts ...InputOption) (Input, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return Input{}, fmt.Errorf("encode page %d: %w", page, err)
	}
	in := Input{ID: fmt.Sprintf("page-%d", page), Page: page, Image: buf.Bytes(), DPI: dpi}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}
