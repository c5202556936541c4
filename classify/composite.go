package classify

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Composite runs several classifiers on the same text and merges their output.
// Identical annotations (label and offsets) keep the highest score.
type Composite []Classifier

func (c Composite) Name() string { return "composite" }

func (c Composite) Classify(ctx context.Context, text string) ([]Annotation, error) {
	results := make([][]Annotation, len(c))
	g, gctx := errgroup.WithContext(ctx)
	for i, cl := range c {
		g.Go(func() error {
			anns, err := cl.Classify(gctx, text)
			if err != nil {
				return fmt.Errorf("%s: %w", cl.Name(), err)
			}
			results[i] = anns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type key struct {
		label      string
		start, end int
		text       string
	}
	best := make(map[key]int)
	var out []Annotation
	for _, anns := range results {
		for _, a := range anns {
			k := key{a.Label, a.Start, a.End, a.Text}
			if idx, ok := best[k]; ok {
				if a.Score > out[idx].Score {
					out[idx].Score = a.Score
				}
				continue
			}
			best[k] = len(out)
			out = append(out, a)
		}
	}
	sortAnnotations(out)
	return out, nil
}

func sortAnnotations(anns []Annotation) {
	sort.SliceStable(anns, func(i, j int) bool {
		if anns[i].Start != anns[j].Start {
			return anns[i].Start < anns[j].Start
		}
		return anns[i].End < anns[j].End
	})
}
