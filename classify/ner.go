package classify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/wudi/pdfredact/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NERClient calls a token-classification sidecar. The sidecar receives
// {"inputs": text} and answers with the aggregated entity list of a
// HuggingFace ner pipeline: [{"entity_group","word","score","start","end"}].
type NERClient struct {
	url      string
	http     *http.Client
	failOpen bool
	log      observability.Logger
}

// NEROption configures NERClient.
type NEROption func(*NERClient)

// WithNERTimeout bounds each sidecar request.
func WithNERTimeout(d time.Duration) NEROption {
	return func(c *NERClient) { c.http.Timeout = d }
}

// WithHTTPClient replaces the transport.
func WithHTTPClient(h *http.Client) NEROption {
	return func(c *NERClient) { c.http = h }
}

// WithFailOpen makes an unreachable or failing sidecar yield no annotations
// with a warning instead of an error. Off by default: a missing detector
// would otherwise leave sensitive text unredacted without notice.
func WithFailOpen(l observability.Logger) NEROption {
	return func(c *NERClient) {
		c.failOpen = true
		if l != nil {
			c.log = l
		}
	}
}

// NewNERClient points at a sidecar base URL such as "http://ner:8001".
func NewNERClient(baseURL string, opts ...NEROption) *NERClient {
	c := &NERClient{
		url:  strings.TrimRight(baseURL, "/") + "/ner",
		http: &http.Client{Timeout: 10 * time.Second},
		log:  observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type nerRequest struct {
	Inputs string `json:"inputs"`
}

type nerEntity struct {
	EntityGroup string  `json:"entity_group"`
	Word        string  `json:"word"`
	Score       float64 `json:"score"`
	Start       *int    `json:"start"`
	End         *int    `json:"end"`
}

func (c *NERClient) Name() string { return "ner" }

func (c *NERClient) Classify(ctx context.Context, text string) ([]Annotation, error) {
	anns, err := c.classify(ctx, text)
	if err != nil && c.failOpen && ctx.Err() == nil {
		c.log.Warn("ner sidecar failed, skipping", observability.Error("error", err))
		return nil, nil
	}
	return anns, err
}

func (c *NERClient) classify(ctx context.Context, text string) ([]Annotation, error) {
	body, err := json.Marshal(nerRequest{Inputs: text})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ner: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var entities []nerEntity
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		return nil, fmt.Errorf("ner: decode: %w", err)
	}
	runes := []rune(text)
	out := make([]Annotation, 0, len(entities))
	for _, e := range entities {
		if e.EntityGroup == "" {
			continue
		}
		a := Annotation{Label: e.EntityGroup, Text: strings.TrimSpace(e.Word), Score: clampScore(e.Score)}
		if e.Start != nil && e.End != nil && *e.Start >= 0 && *e.Start <= *e.End && *e.End <= len(runes) {
			a.Start, a.End = *e.Start, *e.End
			a.Text = string(runes[a.Start:a.End])
		} else if idx := strings.Index(text, a.Text); idx >= 0 && a.Text != "" {
			a.Start = len([]rune(text[:idx]))
			a.End = a.Start + len([]rune(a.Text))
		}
		out = append(out, a)
	}
	sortAnnotations(out)
	return out, nil
}

func clampScore(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
