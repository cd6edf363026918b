// Package grading implements the brightness/contrast/saturation transform
// applied to source rasters before compositing. The math runs on 8-bit
// channels with explicit rounding so results are identical on every
// platform.
package grading

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/nvcrop/internal/fault"
)

// Rec. 709 luma coefficients.
const (
	lumaR = 0.2126
	lumaG = 0.7152
	lumaB = 0.0722
)

var validate = validator.New()

// ColorGrading holds the three linear grading parameters. 1.0 is identity
// for each of them.
type ColorGrading struct {
	Brightness float64 `json:"brightness" validate:"gte=0.5,lte=1.5"`
	Contrast   float64 `json:"contrast" validate:"gte=0.5,lte=2"`
	Saturation float64 `json:"saturation" validate:"gte=0,lte=2"`
}

// IsIdentity returns true when applying g would not change any pixel.
func (g ColorGrading) IsIdentity() bool {
	return g.Brightness == 1 && g.Contrast == 1 && g.Saturation == 1
}

// Validate checks each parameter against its allowed range.
func (g ColorGrading) Validate() error {
	if err := validate.Struct(g); err != nil {
		return fault.Validation("color grading: %v", err)
	}
	return nil
}

// Apply returns a graded copy of img. The input is never modified. A nil or
// identity grading returns img itself.
func Apply(img image.Image, g *ColorGrading) image.Image {
	if g == nil || g.IsIdentity() {
		return img
	}
	grade := *g
	// adjust.Apply hands out premultiplied values; grading runs on straight ones.
	return adjust.Apply(img, func(c color.RGBA) color.RGBA {
		straight := color.NRGBAModel.Convert(c).(color.NRGBA)
		return color.RGBAModel.Convert(grade.Pixel(straight)).(color.RGBA)
	})
}

// Pixel grades a single unpremultiplied color. Alpha is passed through.
func (g ColorGrading) Pixel(c color.NRGBA) color.NRGBA {
	r := float64(c.R) * g.Brightness
	gr := float64(c.G) * g.Brightness
	b := float64(c.B) * g.Brightness

	r = (r-128)*g.Contrast + 128
	gr = (gr-128)*g.Contrast + 128
	b = (b-128)*g.Contrast + 128

	l := lumaR*r + lumaG*gr + lumaB*b
	r = l + g.Saturation*(r-l)
	gr = l + g.Saturation*(gr-l)
	b = l + g.Saturation*(b-l)

	return color.NRGBA{R: channel(r), G: channel(gr), B: channel(b), A: c.A}
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}
