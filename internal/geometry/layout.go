package geometry

import (
	"math"

	"github.com/maauso/nvcrop/internal/fault"
)

// AspectRatio selects the output canvas size.
type AspectRatio string

const (
	// AspectStory is a 1080×1920 portrait canvas.
	AspectStory AspectRatio = "9:16"
	// AspectSquare is a 1080×1080 canvas.
	AspectSquare AspectRatio = "1:1"
)

// IsValid returns true if the aspect ratio is supported.
func (a AspectRatio) IsValid() bool {
	return a == AspectStory || a == AspectSquare
}

// Size returns the canvas dimensions. Unknown values fall back to Story.
func (a AspectRatio) Size() (int, int) {
	if a == AspectSquare {
		return 1080, 1080
	}
	return 1080, 1920
}

// Layout selects how many subjects are placed on the canvas and where.
type Layout string

const (
	LayoutSingle         Layout = "single"
	LayoutDualVertical   Layout = "dual-vertical"
	LayoutDualHorizontal Layout = "dual-horizontal"
)

// IsValid returns true if the layout is supported.
func (l Layout) IsValid() bool {
	return l == LayoutSingle || l == LayoutDualVertical || l == LayoutDualHorizontal
}

// IsDual returns true for the two-subject layouts.
func (l Layout) IsDual() bool {
	return l == LayoutDualVertical || l == LayoutDualHorizontal
}

// Subjects returns the number of sources the layout composes.
func (l Layout) Subjects() int {
	if l.IsDual() {
		return 2
	}
	return 1
}

// DualGeometry is the placement of two discs sharing one radius.
type DualGeometry struct {
	Radius  float64
	Center1 Point
	Center2 Point
}

// DualLayoutGeometry places two discs on a w×h canvas. Vertical stacks them
// 15 units off the horizontal midline; horizontal puts them side by side 5
// units off the vertical midline.
func DualLayoutGeometry(w, h float64, layout Layout) DualGeometry {
	if layout == LayoutDualHorizontal {
		diameter := math.Min((w-40)/2, h*0.45)
		return DualGeometry{
			Radius:  diameter / 2,
			Center1: Point{X: w/4 + 5, Y: h / 2},
			Center2: Point{X: w*3/4 - 5, Y: h / 2},
		}
	}

	diameter := math.Min(w*0.85, (h-60)/2)
	return DualGeometry{
		Radius:  diameter / 2,
		Center1: Point{X: w / 2, Y: h/4 + 15},
		Center2: Point{X: w / 2, Y: h*3/4 - 15},
	}
}

// SingleRadius is the output disc radius for the single layout.
func SingleRadius(w, h float64) float64 {
	return math.Min(w, h) * MaxCirclePercent / 2
}

// Slot is one destination disc on the output canvas.
type Slot struct {
	Center Point
	Radius float64
}

// Slots returns the destination discs for an aspect ratio and layout, in
// subject order.
func Slots(aspect AspectRatio, layout Layout) []Slot {
	w, h := aspect.Size()
	fw, fh := float64(w), float64(h)

	if !layout.IsDual() {
		return []Slot{{
			Center: Point{X: fw / 2, Y: fh / 2},
			Radius: SingleRadius(fw, fh),
		}}
	}

	g := DualLayoutGeometry(fw, fh, layout)
	return []Slot{
		{Center: g.Center1, Radius: g.Radius},
		{Center: g.Center2, Radius: g.Radius},
	}
}

// ValidateOutput checks the aspect ratio and layout enums.
func ValidateOutput(aspect AspectRatio, layout Layout) error {
	if !aspect.IsValid() {
		return fault.Validation("unsupported aspect ratio %q", aspect)
	}
	if !layout.IsValid() {
		return fault.Validation("unsupported layout %q", layout)
	}
	return nil
}
