package builder

import (
	"image"
	"image/color"

	"github.com/wudi/pdfredact/ir/raw"
)

// ImageXObject encodes img as an 8-bit DeviceRGB image XObject. Translucent
// pixels are composed over white since the stream carries no soft mask.
func ImageXObject(img image.Image) *raw.StreamObj {
	b := img.Bounds()
	samples := make([]byte, 0, 3*b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A != 0xff {
				c = overWhite(c)
			}
			samples = append(samples, c.R, c.G, c.B)
		}
	}
	dict := raw.Dict().
		Put("Type", raw.NameLiteral("XObject")).
		Put("Subtype", raw.NameLiteral("Image")).
		Put("Width", raw.NumberInt(int64(b.Dx()))).
		Put("Height", raw.NumberInt(int64(b.Dy()))).
		Put("ColorSpace", raw.NameLiteral("DeviceRGB")).
		Put("BitsPerComponent", raw.NumberInt(8))
	return raw.NewStream(dict, samples)
}

func overWhite(c color.NRGBA) color.NRGBA {
	a := uint32(c.A)
	mix := func(v uint8) uint8 { return uint8((uint32(v)*a + 0xff*(0xff-a) + 0x7f) / 0xff) }
	return color.NRGBA{R: mix(c.R), G: mix(c.G), B: mix(c.B), A: 0xff}
}
