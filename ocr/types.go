package ocr

import "context"

// Box is a pixel rectangle with the origin at the top-left corner of the image.
type Box struct {
	X, Y          float64
	Width, Height float64
}

func (b Box) Empty() bool { return b.Width <= 0 || b.Height <= 0 }

// Input is one rasterised page.
type Input struct {
	// ID is echoed back in the Result.
	ID string
	// Page is the 1-based page the image was rendered from.
	Page int
	// Image holds PNG bytes.
	Image []byte
	// DPI is the render resolution; zero means unknown.
	DPI       int
	Languages []string
	// Crop limits recognition to part of the image. Word boxes stay relative to
	// the full image.
	Crop *Box
	// Vars are engine variables, e.g. tessedit_pageseg_mode.
	Vars map[string]string
}

// Word is a recognised token. Confidence is in [0,1].
type Word struct {
	Text       string
	Bounds     Box
	Confidence float64
}

type Result struct {
	InputID string
	Text    string
	// Words are in reading order.
	Words []Word
}

// Engine turns page images into words.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}
