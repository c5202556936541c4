// Package redact correlates sensitive regions to redaction records, covers them
// with flattened overlays and restores them from snapshots.
//
// Boxes are in PDF points with the origin at the top-left corner of the page's
// unrotated MediaBox and y growing downward.
package redact

import (
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/snapshot"
)

// DefaultThreshold is the minimum classifier score for a region.
const DefaultThreshold = 0.8

// Span is text found at a box on a 1-based page.
type Span struct {
	Page int
	Text string
	BBox coords.Rect
}

// Region is a span classified as sensitive.
type Region struct {
	Span
	Label string
	Score float64
}

// Record ties a region to its overlay and snapshot.
type Record struct {
	ID       string
	Page     int
	BBox     coords.Rect
	Label    string
	Text     string
	Score    float64
	Snapshot snapshot.Handle
}
