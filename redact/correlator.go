package redact

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/semantic"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/snapshot"
)

// ErrIDBudget means no unique id could be generated within the retry budget.
var ErrIDBudget = errors.New("could not generate a unique redaction id")

// NewID returns a random 128-bit id as 32 lowercase hex characters.
func NewID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(u[:]), nil
}

// PageBounds returns the top-left bounds of a 1-based page.
type PageBounds func(page int) (coords.Rect, bool)

// DocumentBounds reports the page bounds of doc.
func DocumentBounds(doc *semantic.Document) PageBounds {
	return func(n int) (coords.Rect, bool) {
		page, err := doc.Page(n)
		if err != nil {
			return coords.Rect{}, false
		}
		return page.Bounds(), true
	}
}

// Rejection is a region dropped before it became a record.
type Rejection struct {
	Index  int
	Region Region
	Reason string
}

const (
	RejectPage   = "page"
	RejectEmpty  = "empty"
	RejectBounds = "bounds"
)

// Correlator turns regions into records with fresh ids.
type Correlator struct {
	// NewID defaults to the package NewID.
	NewID func() (string, error)
	// Retries bounds regeneration when an id collides.
	Retries int
	// Taken reports ids already known to the snapshot store.
	Taken   func(id string) bool
	Logger  observability.Logger
	Metrics observability.Metrics
}

func (c *Correlator) defaults() {
	if c.NewID == nil {
		c.NewID = NewID
	}
	if c.Retries <= 0 {
		c.Retries = 8
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = observability.NopMetrics{}
	}
}

// Correlate keeps input order and drops regions with invalid geometry.
func (c Correlator) Correlate(regions []Region, bounds PageBounds) ([]Record, []Rejection, error) {
	c.defaults()
	seen := make(map[string]bool, len(regions))
	records := make([]Record, 0, len(regions))
	var rejected []Rejection
	for i, r := range regions {
		if reason := checkGeometry(r, bounds); reason != "" {
			rejected = append(rejected, Rejection{Index: i, Region: r, Reason: reason})
			c.Metrics.IncCounter(observability.MetricRegionsRejected, 1, reason)
			c.Logger.Warn("region rejected", observability.Int("index", i), observability.Int("page", r.Page), observability.String("reason", reason))
			continue
		}
		id, err := c.uniqueID(seen)
		if err != nil {
			return nil, rejected, err
		}
		seen[id] = true
		records = append(records, Record{
			ID:    id,
			Page:  r.Page,
			BBox:  r.BBox,
			Label: r.Label,
			Text:  r.Text,
			Score: r.Score,
		})
	}
	return records, rejected, nil
}

func (c Correlator) uniqueID(seen map[string]bool) (string, error) {
	for attempt := 0; attempt <= c.Retries; attempt++ {
		id, err := c.NewID()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrIDBudget, err)
		}
		if !snapshot.ValidID(id) || seen[id] || (c.Taken != nil && c.Taken(id)) {
			continue
		}
		return id, nil
	}
	return "", fmt.Errorf("%w after %d attempts", ErrIDBudget, c.Retries+1)
}

func checkGeometry(r Region, bounds PageBounds) string {
	page, ok := bounds(r.Page)
	if r.Page < 1 || !ok {
		return RejectPage
	}
	b := r.BBox
	for _, v := range b.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return RejectEmpty
		}
	}
	if b.Empty() {
		return RejectEmpty
	}
	if !page.Contains(b, 1e-6) {
		return RejectBounds
	}
	return ""
}
