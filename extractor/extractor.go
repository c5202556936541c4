// Package extractor finds positioned text on PDF pages. Text-showing operators
// become spans directly; pages without any text are rasterised and read by an
// OCR engine instead.
package extractor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/semantic"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/ocr"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/render"
)

// DefaultOCRDPI is the resolution image-only pages are rendered at for OCR.
const DefaultOCRDPI = 300

// Options configure an Extractor.
type Options struct {
	// Engine reads image-only pages; nil disables the OCR fallback.
	Engine ocr.Engine
	OCRDPI int
	// Languages are passed to the OCR engine.
	Languages []string
	// PageSegMode selects OCR page segmentation; zero keeps the engine default.
	PageSegMode ocr.PageSegMode
	// CharWhitelist limits recognised characters when set.
	CharWhitelist string
	// MinConfidence drops OCR words below this confidence in [0,1].
	MinConfidence float64
	Logger        observability.Logger
	Metrics       observability.Metrics
}

type Extractor struct {
	opts   Options
	tracer *contentstream.Tracer
}

func New(opts Options) *Extractor {
	if opts.OCRDPI <= 0 {
		opts.OCRDPI = DefaultOCRDPI
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics{}
	}
	return &Extractor{opts: opts, tracer: contentstream.NewTracer()}
}

// Extract returns the spans of every page in page order. Within a page, spans
// follow content stream order.
func (e *Extractor) Extract(ctx context.Context, doc *semantic.Document) ([]redact.Span, error) {
	start := time.Now()
	perPage := make([][]redact.Span, len(doc.Pages))
	var blank []*semantic.Page
	for i, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spans, err := e.PageSpans(ctx, page)
		if err != nil {
			return nil, err
		}
		perPage[i] = spans
		if len(spans) == 0 {
			blank = append(blank, page)
		}
	}
	if len(blank) > 0 && e.opts.Engine != nil {
		ocrSpans, err := e.recognize(ctx, blank)
		if err != nil {
			return nil, err
		}
		for n, spans := range ocrSpans {
			perPage[n-1] = spans
		}
	}

	var out []redact.Span
	for _, spans := range perPage {
		out = append(out, spans...)
	}
	e.opts.Metrics.ObserveDuration(observability.MetricStageDuration, time.Since(start), observability.StageExtract)
	e.opts.Logger.Debug("spans extracted",
		observability.Int("pages", len(doc.Pages)),
		observability.Int("ocr_pages", len(blank)),
		observability.Int("spans", len(out)))
	return out, nil
}

// PageSpans returns one span per text-showing operator on page. Blank runs are
// skipped and boxes are clipped to the page.
func (e *Extractor) PageSpans(ctx context.Context, page *semantic.Page) ([]redact.Span, error) {
	ops, err := page.Operations(ctx)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Number, err)
	}
	boxes, err := e.tracer.Trace(ops, page.Resources(), coords.Identity())
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Number, err)
	}
	bounds := page.Bounds()
	var spans []redact.Span
	for _, b := range boxes {
		if b.Kind != contentstream.BoxText || strings.TrimSpace(b.Text) == "" {
			continue
		}
		box := page.FromUser(b.Rect).Intersect(bounds)
		if box.Empty() {
			continue
		}
		spans = append(spans, redact.Span{Page: page.Number, Text: b.Text, BBox: box})
	}
	return spans, nil
}

// recognize renders pages and runs them through the OCR engine in one batch.
func (e *Extractor) recognize(ctx context.Context, pages []*semantic.Page) (map[int][]redact.Span, error) {
	renderer := render.New(render.Options{DPI: float64(e.opts.OCRDPI)})
	inputs := make([]ocr.Input, 0, len(pages))
	for _, page := range pages {
		img, err := renderer.RenderPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("rasterise page %d: %w", page.Number, err)
		}
		in, err := ocr.PageInput(page.Number, img, e.opts.OCRDPI,
			ocr.WithLanguages(e.opts.Languages...),
			ocr.WithPageSegMode(e.opts.PageSegMode),
			ocr.WithCharWhitelist(e.opts.CharWhitelist))
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	results, err := ocr.Recognize(ctx, e.opts.Engine, inputs)
	if err != nil {
		return nil, fmt.Errorf("ocr (%s): %w", e.opts.Engine.Name(), err)
	}
	if len(results) != len(inputs) {
		return nil, fmt.Errorf("ocr (%s): %d results for %d pages", e.opts.Engine.Name(), len(results), len(inputs))
	}

	out := make(map[int][]redact.Span, len(pages))
	scale := float64(e.opts.OCRDPI) / 72
	for i, res := range results {
		page := pages[i]
		out[page.Number] = e.wordSpans(page, res.Words, scale)
		e.opts.Logger.Debug("page read by ocr",
			observability.Int("page", page.Number),
			observability.Int("words", len(res.Words)))
	}
	return out, nil
}

// wordSpans converts OCR word boxes in pixels to spans in page points.
func (e *Extractor) wordSpans(page *semantic.Page, words []ocr.Word, scale float64) []redact.Span {
	bounds := page.Bounds()
	var spans []redact.Span
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" || w.Confidence < e.opts.MinConfidence {
			continue
		}
		box := coords.Rect{
			X0: w.Bounds.X / scale,
			Y0: w.Bounds.Y / scale,
			X1: (w.Bounds.X + w.Bounds.Width) / scale,
			Y1: (w.Bounds.Y + w.Bounds.Height) / scale,
		}
		box = roundRect(box).Intersect(bounds)
		if box.Empty() {
			continue
		}
		spans = append(spans, redact.Span{Page: page.Number, Text: text, BBox: box})
	}
	return spans
}

// roundRect trims float noise from pixel conversion to 1/1000 pt.
func roundRect(r coords.Rect) coords.Rect {
	q := func(v float64) float64 { return math.Round(v*1000) / 1000 }
	return coords.Rect{X0: q(r.X0), Y0: q(r.Y0), X1: q(r.X1), Y1: q(r.Y1)}
}
