package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"reflect"
	"testing"
)

func TestPageInput(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	crop := Box{Width: 1, Height: 1}

	in, err := PageInput(2, img, 300, WithLanguages("eng", "spa"), WithCrop(crop))
	if err != nil {
		t.Fatalf("PageInput() error = %v", err)
	}
	if in.Page != 2 || in.ID != "page-2" || in.DPI != 300 {
		t.Fatalf("unexpected input: %+v", in)
	}
	decoded, err := png.Decode(bytes.NewReader(in.Image))
	if err != nil || decoded.Bounds() != img.Bounds() {
		t.Fatalf("image not PNG encoded: %v", err)
	}
	if !reflect.DeepEqual(in.Languages, []string{"eng", "spa"}) {
		t.Fatalf("languages = %v", in.Languages)
	}
	if in.Crop == nil || *in.Crop != crop {
		t.Fatalf("crop = %#v", in.Crop)
	}
	WithCrop(Box{})(&in)
	if in.Crop != nil {
		t.Fatalf("empty box kept crop %#v", in.Crop)
	}
}

type countingEngine struct {
	calls int
	fail  string
}

func (e *countingEngine) Name() string { return "counting" }

func (e *countingEngine) Recognize(_ context.Context, in Input) (Result, error) {
	e.calls++
	if in.ID == e.fail {
		return Result{}, errors.New("unreadable")
	}
	return Result{InputID: in.ID, Text: in.ID}, nil
}

func TestRecognizeSequential(t *testing.T) {
	e := &countingEngine{}
	res, err := Recognize(context.Background(), e, []Input{{ID: "a"}, {ID: "b"}})
	if err != nil || len(res) != 2 || res[1].InputID != "b" || e.calls != 2 {
		t.Fatalf("results = %+v, %v", res, err)
	}
	e = &countingEngine{fail: "a"}
	if _, err := Recognize(context.Background(), e, []Input{{ID: "a"}, {ID: "b"}}); err == nil || e.calls != 1 {
		t.Fatalf("expected to stop at the failing input, err = %v calls = %d", err, e.calls)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Recognize(ctx, &countingEngine{}, []Input{{ID: "a"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestDefaultEngine(t *testing.T) {
	prev := DefaultEngine()
	defer SetDefaultEngine(prev)
	SetDefaultEngine(NopEngine{})
	res, err := DefaultEngine().Recognize(context.Background(), Input{ID: "x"})
	if err != nil || res.InputID != "x" || len(res.Words) != 0 {
		t.Fatalf("nop result = %+v, %v", res, err)
	}
}
