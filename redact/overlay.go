package redact

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/snapshot"
)

// Overlay metadata layout, version 1:
//
//	/RedactInfo << /V 1 /ID (32 hex) /Rect [x0 y0 x1 y1] /Audit <sealed> >>
//
// Rect is the top-left page box. The same dictionary is the property list of the
// /Redacted marked-content sequence and sits in form XObject overlays.
const (
	ExtensionKey     = "RedactInfo"
	ExtensionVersion = 1
	MarkedContentTag = "Redacted"
)

var (
	ErrNoExtension        = errors.New("overlay has no redaction metadata")
	ErrExtensionVersion   = errors.New("unsupported redaction metadata version")
	ErrMalformedExtension = errors.New("malformed redaction metadata")
)

// DefaultFill is the overlay colour.
var DefaultFill = color.NRGBA{A: 255}

// Extension is the metadata attached to every overlay.
type Extension struct {
	ID    string
	BBox  coords.Rect
	Audit []byte
}

func (e Extension) Dict() *raw.DictObj {
	d := raw.Dict().
		Put("V", raw.NumberInt(ExtensionVersion)).
		Put("ID", raw.Str([]byte(e.ID))).
		Put("Rect", raw.Rect(e.BBox.X0, e.BBox.Y0, e.BBox.X1, e.BBox.Y1))
	if len(e.Audit) > 0 {
		d.Put("Audit", raw.HexStr(append([]byte(nil), e.Audit...)))
	}
	return d
}

// ParseExtension validates a metadata dictionary.
func ParseExtension(obj raw.Object) (Extension, error) {
	d, ok := obj.(*raw.DictObj)
	if !ok || d == nil {
		return Extension{}, ErrNoExtension
	}
	v, ok := raw.AsNumber(d.Lookup("V"))
	if !ok {
		return Extension{}, fmt.Errorf("%w: missing /V", ErrMalformedExtension)
	}
	if int(v) != ExtensionVersion {
		return Extension{}, fmt.Errorf("%w: %v", ErrExtensionVersion, v)
	}
	id, ok := d.Lookup("ID").(raw.StringObj)
	if !ok || !snapshot.ValidID(string(id.Bytes)) {
		return Extension{}, fmt.Errorf("%w: bad /ID", ErrMalformedExtension)
	}
	nums, ok := raw.AsNumbers(d.Lookup("Rect"))
	if !ok || len(nums) != 4 {
		return Extension{}, fmt.Errorf("%w: bad /Rect", ErrMalformedExtension)
	}
	ext := Extension{ID: string(id.Bytes), BBox: coords.Rect{X0: nums[0], Y0: nums[1], X1: nums[2], Y1: nums[3]}}
	if ext.BBox.Empty() {
		return Extension{}, fmt.Errorf("%w: empty /Rect", ErrMalformedExtension)
	}
	if audit, ok := d.Lookup("Audit").(raw.StringObj); ok {
		ext.Audit = append([]byte(nil), audit.Bytes...)
	}
	return ext, nil
}

func fillOperands(c color.NRGBA) []raw.Object {
	return []raw.Object{
		raw.NumberOf(float64(c.R) / 255),
		raw.NumberOf(float64(c.G) / 255),
		raw.NumberOf(float64(c.B) / 255),
	}
}

func colorFromArray(obj raw.Object) (color.NRGBA, bool) {
	nums, ok := raw.AsNumbers(obj)
	if !ok || len(nums) != 3 {
		return color.NRGBA{}, false
	}
	to8 := func(v float64) uint8 {
		if v <= 0 {
			return 0
		}
		if v >= 1 {
			return 255
		}
		return uint8(v*255 + 0.5)
	}
	return color.NRGBA{to8(nums[0]), to8(nums[1]), to8(nums[2]), 255}, true
}
