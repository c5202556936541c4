package ocr

import "strconv"

// PageSegMode is a Tesseract page segmentation mode.
type PageSegMode int

const (
	// SegAuto lets the engine find columns and blocks.
	SegAuto PageSegMode = 3
	// SegBlock treats the image as one uniform block of text.
	SegBlock PageSegMode = 6
	// SegSparse finds as much text as possible in no particular order; suits
	// forms and scanned records.
	SegSparse PageSegMode = 11
)

const (
	varPageSegMode   = "tessedit_pageseg_mode"
	varCharWhitelist = "tessedit_char_whitelist"
)

func setVar(in *Input, key, value string) {
	if in.Vars == nil {
		in.Vars = make(map[string]string)
	}
	in.Vars[key] = value
}

// WithPageSegMode selects the segmentation mode. Zero leaves the engine default.
func WithPageSegMode(mode PageSegMode) InputOption {
	return func(in *Input) {
		if mode > 0 {
			setVar(in, varPageSegMode, strconv.Itoa(int(mode)))
		}
	}
}

// WithCharWhitelist restricts recognition to chars.
func WithCharWhitelist(chars string) InputOption {
	return func(in *Input) {
		if chars != "" {
			setVar(in, varCharWhitelist, chars)
		}
	}
}
