// Package classify finds sensitive entities in extracted text. Classifiers are
// pluggable: compiled regular expression rules, a NER sidecar over HTTP, a
// JavaScript function, or any combination of them.
package classify

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/redact"
)

// Annotation is one entity found in a text. Start and End are rune offsets into
// the classified text; Text is the matched substring.
type Annotation struct {
	Label string
	Text  string
	Score float64
	Start int
	End   int
}

// Classifier detects sensitive entities. Implementations must be safe for
// concurrent use.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string) ([]Annotation, error)
}

// DetectOptions tune Detect.
type DetectOptions struct {
	// Threshold is the minimum score; zero means redact.DefaultThreshold.
	Threshold float64
	// Concurrency bounds simultaneous Classify calls.
	Concurrency int
	Logger      observability.Logger
}

// Detect classifies every non-blank span and turns annotations scoring at least
// the threshold into regions covering the span. Output follows span order, then
// annotation order.
func Detect(ctx context.Context, c Classifier, spans []redact.Span, opts DetectOptions) ([]redact.Region, error) {
	if opts.Threshold <= 0 {
		opts.Threshold = redact.DefaultThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}

	found := make([][]Annotation, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, span := range spans {
		if strings.TrimSpace(span.Text) == "" {
			continue
		}
		g.Go(func() error {
			anns, err := c.Classify(gctx, span.Text)
			if err != nil {
				return fmt.Errorf("classify span on page %d with %s: %w", span.Page, c.Name(), err)
			}
			found[i] = anns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var regions []redact.Region
	below := 0
	for i, anns := range found {
		seen := make(map[[2]string]bool)
		for _, a := range anns {
			if a.Score < opts.Threshold {
				below++
				continue
			}
			key := [2]string{a.Label, a.Text}
			if seen[key] {
				continue
			}
			seen[key] = true
			regions = append(regions, redact.Region{
				Span:  redact.Span{Page: spans[i].Page, Text: a.Text, BBox: spans[i].BBox},
				Label: a.Label,
				Score: a.Score,
			})
		}
	}
	opts.Logger.Debug("spans classified",
		observability.String("classifier", c.Name()),
		observability.Int("spans", len(spans)),
		observability.Int("regions", len(regions)),
		observability.Int("below_threshold", below))
	return regions, nil
}

// Func adapts a function to Classifier.
type Func struct {
	ID string
	Fn func(ctx context.Context, text string) ([]Annotation, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Classify(ctx context.Context, text string) ([]Annotation, error) {
	return f.Fn(ctx, text)
}
