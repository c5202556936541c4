package classify

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/redact"
)

func fixed(anns map[string][]Annotation, calls *int32) Func {
	return Func{ID: "fixed", Fn: func(_ context.Context, text string) ([]Annotation, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return anns[text], nil
	}}
}

func TestDetectJaneScenario(t *testing.T) {
	box := coords.Rect{X0: 10, Y0: 10, X1: 140, Y1: 24}
	spans := []redact.Span{{Page: 1, Text: "jane@example.com", BBox: box}}
	c := fixed(map[string][]Annotation{
		"jane@example.com": {{Label: "EMAIL", Text: "jane@example.com", Score: 0.95, End: 16}},
	}, nil)
	regions, err := Detect(context.Background(), c, spans, DetectOptions{})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("got %d regions", len(regions))
	}
	r := regions[0]
	if r.Page != 1 || r.BBox != box || r.Label != "EMAIL" || r.Text != "jane@example.com" || r.Score != 0.95 {
		t.Fatalf("unexpected region %+v", r)
	}
}

func TestDetectThresholdAndBlankSpans(t *testing.T) {
	var calls int32
	c := fixed(map[string][]Annotation{
		"Jane Doe, 555-867-5309": {
			{Label: "NAME", Text: "Jane Doe", Score: 0.79},
			{Label: "PHONE", Text: "555-867-5309", Score: 0.8},
			{Label: "PHONE", Text: "555-867-5309", Score: 0.9},
		},
		"meeting notes": {{Label: "MISC", Text: "notes", Score: 0.99}},
	}, &calls)
	spans := []redact.Span{
		{Page: 2, Text: "   "},
		{Page: 2, Text: "Jane Doe, 555-867-5309", BBox: coords.Rect{X0: 1, Y0: 2, X1: 3, Y1: 4}},
		{Page: 3, Text: ""},
		{Page: 3, Text: "meeting notes", BBox: coords.Rect{X0: 5, Y0: 6, X1: 7, Y1: 8}},
	}
	regions, err := Detect(context.Background(), c, spans, DetectOptions{Concurrency: 1})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if calls != 2 {
		t.Fatalf("classifier called %d times", calls)
	}
	var got []string
	for _, r := range regions {
		got = append(got, r.Label+":"+r.Text)
	}
	if strings.Join(got, ",") != "PHONE:555-867-5309,MISC:notes" {
		t.Fatalf("regions %v", got)
	}
	if regions[1].Page != 3 || regions[1].BBox != spans[3].BBox {
		t.Fatalf("region not bound to its span: %+v", regions[1])
	}

	regions, err = Detect(context.Background(), c, spans, DetectOptions{Threshold: 0.95})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(regions) != 1 || regions[0].Label != "MISC" {
		t.Fatalf("threshold 0.95 kept %+v", regions)
	}
}

func TestDetectPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	c := Func{ID: "broken", Fn: func(context.Context, string) ([]Annotation, error) { return nil, boom }}
	_, err := Detect(context.Background(), c, []redact.Span{{Page: 1, Text: "x"}}, DetectOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestCompositeMerges(t *testing.T) {
	a := Func{ID: "a", Fn: func(context.Context, string) ([]Annotation, error) {
		return []Annotation{
			{Label: "EMAIL", Text: "jane@example.com", Score: 0.7, Start: 5, End: 21},
			{Label: "NAME", Text: "Jane", Score: 0.9, Start: 0, End: 4},
		}, nil
	}}
	b := Func{ID: "b", Fn: func(context.Context, string) ([]Annotation, error) {
		return []Annotation{{Label: "EMAIL", Text: "jane@example.com", Score: 1, Start: 5, End: 21}}, nil
	}}
	anns, err := Composite{a, b}.Classify(context.Background(), "Jane jane@example.com")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(anns) != 2 {
		t.Fatalf("got %+v", anns)
	}
	if anns[0].Label != "NAME" || anns[1].Label != "EMAIL" || anns[1].Score != 1 {
		t.Fatalf("unexpected merge %+v", anns)
	}
}

func TestCompositeFailsWhole(t *testing.T) {
	ok := Func{ID: "ok", Fn: func(context.Context, string) ([]Annotation, error) { return nil, nil }}
	bad := Func{ID: "bad", Fn: func(context.Context, string) ([]Annotation, error) { return nil, errors.New("down") }}
	_, err := Composite{ok, bad}.Classify(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "bad: down") {
		t.Fatalf("got %v", err)
	}
}
