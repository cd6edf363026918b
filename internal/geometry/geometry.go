// Package geometry provides the circle, rotation and output layout math
// used to place a circular selection onto a fixed-size canvas.
// All functions are pure.
package geometry

import (
	"fmt"
	"math"

	"github.com/maauso/nvcrop/internal/fault"
)

// MinRadius is the smallest radius a selection may have, in source pixels.
const MinRadius = 50.0

// MaxCirclePercent is the diameter of a single output disc relative to the
// smaller canvas dimension.
const MaxCirclePercent = 0.9

// Circle is a circular selection in source raster coordinates.
type Circle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// Point is a position on the output canvas.
type Point struct {
	X float64
	Y float64
}

// ConstrainCircle clamps the radius to [MinRadius, min(w,h)/2] and then
// moves the center so the circle stays inside the bounds. When the bounds
// are smaller than the minimum diameter the maximum radius wins.
func ConstrainCircle(c Circle, w, h float64) Circle {
	maxRadius := math.Min(w, h) / 2

	r := math.Max(MinRadius, c.Radius)
	r = math.Min(maxRadius, r)

	x := math.Max(r, math.Min(w-r, c.X))
	y := math.Max(r, math.Min(h-r, c.Y))

	return Circle{X: x, Y: y, Radius: r}
}

// InitialCircle returns the selection shown when a source is first loaded.
func InitialCircle(w, h float64) Circle {
	return Circle{
		X:      w / 2,
		Y:      h / 2,
		Radius: math.Min(w, h) * 0.3,
	}
}

// Validate reports whether c satisfies the selection invariants for a
// source of the given size.
func (c Circle) Validate(w, h int) error {
	if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsNaN(c.Radius) ||
		math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) || math.IsInf(c.Radius, 0) {
		return fault.Validation("circle must have finite coordinates")
	}
	if c.Radius <= 0 {
		return fault.Validation("circle radius must be positive, got %.2f", c.Radius)
	}
	if w <= 0 || h <= 0 {
		return fault.Validation("source dimensions must be positive, got %dx%d", w, h)
	}

	const eps = 1e-6
	fixed := ConstrainCircle(c, float64(w), float64(h))
	if math.Abs(fixed.X-c.X) > eps || math.Abs(fixed.Y-c.Y) > eps || math.Abs(fixed.Radius-c.Radius) > eps {
		return fault.Validation("circle {x:%.1f y:%.1f r:%.1f} does not fit a %dx%d source", c.X, c.Y, c.Radius, w, h)
	}
	return nil
}

// Rotation is a clockwise rotation in 90 degree steps.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// IsValid returns true for the four supported rotations.
func (r Rotation) IsValid() bool {
	return r == Rotate0 || r == Rotate90 || r == Rotate180 || r == Rotate270
}

// ParseRotation converts user input into a Rotation.
func ParseRotation(deg int) (Rotation, error) {
	r := Rotation(deg)
	if !r.IsValid() {
		return 0, fault.Validation("rotation must be one of 0, 90, 180, 270, got %d", deg)
	}
	return r, nil
}

// RotatedDimensions returns the size of a w×h raster after rotation.
// It panics when r is not one of the supported values.
func RotatedDimensions(w, h int, r Rotation) (int, int) {
	switch r {
	case Rotate0, Rotate180:
		return w, h
	case Rotate90, Rotate270:
		return h, w
	default:
		panic(fmt.Sprintf("geometry: unsupported rotation %d", r))
	}
}
