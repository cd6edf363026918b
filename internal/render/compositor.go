// Package render composites circular selections of source rasters onto a
// fixed-size black canvas. Drawing is expressed as an ordered list of paint
// operations; each operation carries its own clip disc and blend mode.
package render

import (
	"image"
	"image/color"

	"golang.org/x/image/math/f64"

	"github.com/maauso/nvcrop/internal/fault"
	"github.com/maauso/nvcrop/internal/geometry"
	"github.com/maauso/nvcrop/internal/grading"
)

// FeatherPercent is the width of the glow ring relative to the output radius.
// The black fade covers half of it.
const FeatherPercent = 0.025

// EdgeStyle selects how the disc boundary is drawn.
type EdgeStyle string

const (
	EdgeHard      EdgeStyle = "hard"
	EdgeFeathered EdgeStyle = "feathered"
)

// IsValid returns true if the edge style is supported.
func (e EdgeStyle) IsValid() bool {
	return e == EdgeHard || e == EdgeFeathered
}

// Phosphor is the glow tint of a feathered edge.
type Phosphor string

const (
	PhosphorGreen Phosphor = "green"
	PhosphorWhite Phosphor = "white"
)

// IsValid returns true if the phosphor color is supported.
func (p Phosphor) IsValid() bool {
	return p == PhosphorGreen || p == PhosphorWhite
}

// glowStops returns the ring gradient for a phosphor. Unknown values fall
// back to green.
func (p Phosphor) glowStops() []Stop {
	if p == PhosphorWhite {
		return []Stop{
			{Offset: 0, Color: color.NRGBA{R: 255, G: 255, B: 255, A: 0}},
			{Offset: 0.3, Color: color.NRGBA{R: 255, G: 255, B: 255, A: alpha(0.06)}},
			{Offset: 0.7, Color: color.NRGBA{R: 240, G: 240, B: 230, A: alpha(0.12)}},
			{Offset: 1, Color: color.NRGBA{R: 220, G: 220, B: 210, A: alpha(0.04)}},
		}
	}
	return []Stop{
		{Offset: 0, Color: color.NRGBA{G: 255, A: 0}},
		{Offset: 0.3, Color: color.NRGBA{G: 255, A: alpha(0.08)}},
		{Offset: 0.7, Color: color.NRGBA{G: 200, A: alpha(0.15)}},
		{Offset: 1, Color: color.NRGBA{G: 150, A: alpha(0.05)}},
	}
}

func alpha(v float64) uint8 {
	return unit8(v)
}

// Subject is one source raster and its selection. The circle is expressed in
// the coordinates of the source after rotation.
type Subject struct {
	Source   image.Image
	Circle   geometry.Circle
	Rotation geometry.Rotation
}

// Options are the render settings shared by every subject of a composite.
type Options struct {
	Aspect   geometry.AspectRatio  `json:"aspectRatio"`
	Layout   geometry.Layout       `json:"layout"`
	Edge     EdgeStyle             `json:"edgeStyle"`
	Phosphor Phosphor              `json:"phosphorColor"`
	Grading  *grading.ColorGrading `json:"colorGrading,omitempty"`
}

// Validate checks the enums and the grading ranges.
func (o Options) Validate() error {
	if err := geometry.ValidateOutput(o.Aspect, o.Layout); err != nil {
		return err
	}
	if !o.Edge.IsValid() {
		return fault.Validation("unsupported edge style %q", o.Edge)
	}
	if o.Edge == EdgeFeathered && !o.Phosphor.IsValid() {
		return fault.Validation("unsupported phosphor color %q", o.Phosphor)
	}
	if o.Grading != nil {
		return o.Grading.Validate()
	}
	return nil
}

// ValidateSubject checks a subject's rotation and circle against a source of
// w×h pixels before rotation.
func ValidateSubject(c geometry.Circle, r geometry.Rotation, w, h int) error {
	if !r.IsValid() {
		return fault.Validation("rotation must be one of 0, 90, 180, 270, got %d", r)
	}
	rw, rh := geometry.RotatedDimensions(w, h, r)
	return c.Validate(rw, rh)
}

// Composite renders subjects onto a new canvas sized by opts.Aspect. The
// number of subjects must match opts.Layout. Sources are never modified.
func Composite(subjects []Subject, opts Options) (*image.RGBA, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if want := opts.Layout.Subjects(); len(subjects) != want {
		return nil, fault.Validation("layout %q needs %d source(s), got %d", opts.Layout, want, len(subjects))
	}
	for i, s := range subjects {
		if s.Source == nil {
			return nil, fault.Validation("source %d is missing", i+1)
		}
		b := s.Source.Bounds()
		if err := ValidateSubject(s.Circle, s.Rotation, b.Dx(), b.Dy()); err != nil {
			return nil, err
		}
	}

	w, h := opts.Aspect.Size()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	Paint(dst, Fill{Color: color.RGBA{A: 0xff}})

	slots := geometry.Slots(opts.Aspect, opts.Layout)
	for i, s := range subjects {
		Paint(dst, SubjectOps(s, slots[i], opts)...)
	}
	return dst, nil
}

// SubjectOps returns the paint operations that draw one subject into slot:
// the clipped blit, then for feathered edges the glow ring and black fade.
func SubjectOps(s Subject, slot geometry.Slot, opts Options) []Op {
	src := grading.Apply(s.Source, opts.Grading)
	if s.Rotation != geometry.Rotate0 {
		src = Rotate(src, s.Rotation)
	}

	// Rotated copies start at (0,0); unrotated sources keep their origin.
	origin := src.Bounds().Min
	cx := float64(origin.X) + s.Circle.X
	cy := float64(origin.Y) + s.Circle.Y

	scale := slot.Radius / s.Circle.Radius
	clip := Disc{Center: slot.Center, Radius: slot.Radius}

	ops := []Op{Blit{
		Clip: clip,
		Src:  src,
		Transform: f64.Aff3{
			scale, 0, slot.Center.X - scale*cx,
			0, scale, slot.Center.Y - scale*cy,
		},
	}}

	if opts.Edge == EdgeFeathered {
		ops = append(ops, FeatherOps(slot, opts.Phosphor)...)
	}
	return ops
}

// FeatherOps returns the glow ring followed by the black fade for a slot.
// The order is significant.
func FeatherOps(slot geometry.Slot, p Phosphor) []Op {
	clip := Disc{Center: slot.Center, Radius: slot.Radius}
	r := slot.Radius

	glow := GradientFill{
		Clip: clip,
		Mode: Screen,
		Gradient: RadialGradient{
			Center: slot.Center,
			Inner:  r * (1 - FeatherPercent),
			Outer:  r,
			Stops:  p.glowStops(),
		},
	}

	fade := GradientFill{
		Clip: clip,
		Mode: SourceAtop,
		Gradient: RadialGradient{
			Center: slot.Center,
			Inner:  r * (1 - FeatherPercent/2),
			Outer:  r,
			Stops: []Stop{
				{Offset: 0, Color: color.NRGBA{A: 0}},
				{Offset: 1, Color: color.NRGBA{A: alpha(0.7)}},
			},
		},
	}

	return []Op{glow, fade}
}
