package render

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/maauso/nvcrop/internal/geometry"
)

// Disc is a filled circle in canvas coordinates. It doubles as a clip mask:
// a pixel belongs to the disc when its center lies within Radius of Center.
type Disc struct {
	Center geometry.Point
	Radius float64
}

// Contains reports whether the pixel at (x, y) is inside the disc.
func (d Disc) Contains(x, y int) bool {
	dx := float64(x) + 0.5 - d.Center.X
	dy := float64(y) + 0.5 - d.Center.Y
	return dx*dx+dy*dy <= d.Radius*d.Radius
}

// ColorModel implements image.Image.
func (d Disc) ColorModel() color.Model { return color.AlphaModel }

// Bounds implements image.Image.
func (d Disc) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(d.Center.X-d.Radius)),
		int(math.Floor(d.Center.Y-d.Radius)),
		int(math.Ceil(d.Center.X+d.Radius)),
		int(math.Ceil(d.Center.Y+d.Radius)),
	)
}

// At implements image.Image.
func (d Disc) At(x, y int) color.Color {
	if d.Contains(x, y) {
		return color.Alpha{A: 0xff}
	}
	return color.Alpha{}
}

// BlendMode selects how a paint is combined with the pixels below it.
type BlendMode int

const (
	// SourceOver paints normally.
	SourceOver BlendMode = iota
	// Screen lightens: 1-(1-backdrop)(1-source).
	Screen
	// SourceAtop paints only where the backdrop already has coverage and
	// leaves the backdrop alpha unchanged.
	SourceAtop
)

// Op is one paint operation. Operations are applied in order by Paint.
type Op interface {
	paint(dst *image.RGBA)
}

// Paint applies ops to dst left to right.
func Paint(dst *image.RGBA, ops ...Op) {
	for _, op := range ops {
		op.paint(dst)
	}
}

// Fill covers the whole canvas with an opaque color.
type Fill struct {
	Color color.RGBA
}

func (f Fill) paint(dst *image.RGBA) {
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(f.Color), image.Point{}, xdraw.Src)
}

// Blit draws Src through an affine source-to-canvas transform, bilinearly
// resampled, restricted to Clip.
type Blit struct {
	Clip      Disc
	Src       image.Image
	Transform f64.Aff3
}

func (b Blit) paint(dst *image.RGBA) {
	box := b.Clip.Bounds().Intersect(dst.Bounds())
	if box.Empty() {
		return
	}

	scratch := image.NewRGBA(box)
	xdraw.BiLinear.Transform(scratch, b.Transform, b.Src, b.Src.Bounds(), xdraw.Src, nil)

	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			if !b.Clip.Contains(x, y) {
				continue
			}
			s := scratch.RGBAAt(x, y)
			if s.A == 0 {
				continue
			}
			if s.A == 0xff {
				dst.SetRGBA(x, y, s)
				continue
			}
			d := dst.RGBAAt(x, y)
			k := 255 - uint32(s.A)
			dst.SetRGBA(x, y, color.RGBA{
				R: uint8(uint32(s.R) + (uint32(d.R)*k+127)/255),
				G: uint8(uint32(s.G) + (uint32(d.G)*k+127)/255),
				B: uint8(uint32(s.B) + (uint32(d.B)*k+127)/255),
				A: uint8(uint32(s.A) + (uint32(d.A)*k+127)/255),
			})
		}
	}
}

// Stop is a gradient color stop. Color is not premultiplied.
type Stop struct {
	Offset float64
	Color  color.NRGBA
}

// RadialGradient is a two-circle concentric gradient. Offset 0 maps to
// Inner and offset 1 to Outer; distances outside that span take the color
// of the nearest end stop.
type RadialGradient struct {
	Center geometry.Point
	Inner  float64
	Outer  float64
	Stops  []Stop
}

// colorAt returns the premultiplied color at distance d from the center,
// each channel in [0,1].
func (g RadialGradient) colorAt(d float64) (r, gr, b, a float64) {
	if len(g.Stops) == 0 {
		return 0, 0, 0, 0
	}

	t := 0.0
	if span := g.Outer - g.Inner; span > 0 {
		t = (d - g.Inner) / span
	}
	t = math.Max(0, math.Min(1, t))

	first, last := g.Stops[0], g.Stops[len(g.Stops)-1]
	if t <= first.Offset {
		return premul(first.Color)
	}
	if t >= last.Offset {
		return premul(last.Color)
	}

	for i := 1; i < len(g.Stops); i++ {
		hi := g.Stops[i]
		if t > hi.Offset {
			continue
		}
		lo := g.Stops[i-1]
		f := 0.0
		if hi.Offset > lo.Offset {
			f = (t - lo.Offset) / (hi.Offset - lo.Offset)
		}
		r0, g0, b0, a0 := premul(lo.Color)
		r1, g1, b1, a1 := premul(hi.Color)
		return r0 + (r1-r0)*f, g0 + (g1-g0)*f, b0 + (b1-b0)*f, a0 + (a1-a0)*f
	}
	return premul(last.Color)
}

func premul(c color.NRGBA) (r, g, b, a float64) {
	a = float64(c.A) / 255
	return float64(c.R) / 255 * a, float64(c.G) / 255 * a, float64(c.B) / 255 * a, a
}

// GradientFill paints a radial gradient inside Clip using Mode.
type GradientFill struct {
	Clip     Disc
	Gradient RadialGradient
	Mode     BlendMode
}

func (f GradientFill) paint(dst *image.RGBA) {
	box := f.Clip.Bounds().Intersect(dst.Bounds())
	cx, cy := f.Gradient.Center.X, f.Gradient.Center.Y

	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			if !f.Clip.Contains(x, y) {
				continue
			}
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			sr, sg, sb, sa := f.Gradient.colorAt(d)
			if sa == 0 {
				continue
			}
			dst.SetRGBA(x, y, composite(f.Mode, dst.RGBAAt(x, y), sr, sg, sb, sa))
		}
	}
}

// composite combines a premultiplied source color with a backdrop pixel
// following the W3C compositing model.
func composite(mode BlendMode, d color.RGBA, sr, sg, sb, sa float64) color.RGBA {
	ab := float64(d.A) / 255
	var br, bg, bb float64
	if d.A > 0 {
		br = float64(d.R) / 255 / ab
		bg = float64(d.G) / 255 / ab
		bb = float64(d.B) / 255 / ab
	}
	// unpremultiplied source
	cr, cg, cb := sr/sa, sg/sa, sb/sa

	mix := func(cb, cs float64) float64 {
		if mode == Screen {
			return (1-ab)*cs + ab*(cb+cs-cb*cs)
		}
		return cs
	}
	mr, mg, mb := mix(br, cr), mix(bg, cg), mix(bb, cb)

	var or, og, ob, oa float64
	if mode == SourceAtop {
		or = sa*ab*mr + (1-sa)*ab*br
		og = sa*ab*mg + (1-sa)*ab*bg
		ob = sa*ab*mb + (1-sa)*ab*bb
		oa = ab
	} else {
		or = sa*mr + (1-sa)*ab*br
		og = sa*mg + (1-sa)*ab*bg
		ob = sa*mb + (1-sa)*ab*bb
		oa = sa + ab*(1-sa)
	}

	return color.RGBA{R: unit8(or), G: unit8(og), B: unit8(ob), A: unit8(oa)}
}

func unit8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
