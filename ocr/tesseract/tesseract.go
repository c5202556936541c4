// Package tesseract registers a gosseract-backed engine as ocr.DefaultEngine.
// Linking it requires libtesseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/wudi/pdfredact/ocr"
)

func init() {
	ocr.SetDefaultEngine(New())
}

// Engine runs each page on its own gosseract client so variables never carry
// over between pages.
type Engine struct {
	newClient func() *gosseract.Client
}

func New() *Engine { return &Engine{newClient: gosseract.NewClient} }

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	c := e.newClient()
	defer c.Close()

	img, origin, err := crop(in.Image, in.Crop)
	if err != nil {
		return ocr.Result{}, err
	}
	if err := configure(c, in, img); err != nil {
		return ocr.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("%s: recognize: %w", in.ID, err)
	}
	words, err := wordBoxes(c, origin)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("%s: %w", in.ID, err)
	}
	return ocr.Result{InputID: in.ID, Text: strings.TrimSpace(text), Words: words}, nil
}

func configure(c *gosseract.Client, in ocr.Input, img []byte) error {
	if err := c.SetImageFromBytes(img); err != nil {
		return fmt.Errorf("%s: load image: %w", in.ID, err)
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return fmt.Errorf("%s: languages %v: %w", in.ID, in.Languages, err)
		}
	}
	vars := make(map[string]string, len(in.Vars)+1)
	if in.DPI > 0 {
		vars["user_defined_dpi"] = strconv.Itoa(in.DPI)
	}
	for k, v := range in.Vars {
		vars[k] = v
	}
	for k, v := range vars {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return fmt.Errorf("%s: %s=%s: %w", in.ID, k, v, err)
		}
	}
	return nil
}

// wordBoxes converts Tesseract word boxes, shifting them by origin when the
// image was cropped. Tesseract reports confidence as a percentage.
func wordBoxes(c *gosseract.Client, origin image.Point) ([]ocr.Word, error) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("word boxes: %w", err)
	}
	out := make([]ocr.Word, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" || b.Box.Empty() {
			continue
		}
		r := b.Box.Add(origin)
		out = append(out, ocr.Word{
			Text: word,
			Bounds: ocr.Box{
				X: float64(r.Min.X), Y: float64(r.Min.Y),
				Width: float64(r.Dx()), Height: float64(r.Dy()),
			},
			Confidence: math.Max(0, math.Min(1, b.Confidence/100)),
		})
	}
	return out, nil
}

// crop re-encodes the cropped part of a PNG page and returns its top-left
// corner in the full image.
func crop(data []byte, box *ocr.Box) ([]byte, image.Point, error) {
	if box == nil || box.Empty() {
		return data, image.Point{}, nil
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("decode page for crop: %w", err)
	}
	rect := image.Rect(
		int(math.Round(box.X)), int(math.Round(box.Y)),
		int(math.Round(box.X+box.Width)), int(math.Round(box.Y+box.Height)),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, image.Point{}, fmt.Errorf("crop %+v outside page image", *box)
	}
	sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	})
	if !ok {
		return nil, image.Point{}, fmt.Errorf("cannot crop %T", img)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, sub.SubImage(rect)); err != nil {
		return nil, image.Point{}, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), rect.Min.Sub(img.Bounds().Min), nil
}
