package render

import (
	"image"

	"github.com/anthonynsimon/bild/clone"

	"github.com/maauso/nvcrop/internal/geometry"
)

// Rotate returns a copy of src turned clockwise by r. The result always has
// its origin at (0,0). Rotate0 still copies so callers may mutate the result.
func Rotate(src image.Image, r geometry.Rotation) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	rw, rh := geometry.RotatedDimensions(w, h, r)

	s := clone.AsShallowRGBA(src)
	dst := image.NewRGBA(image.Rect(0, 0, rw, rh))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch r {
			case geometry.Rotate90:
				dx, dy = h-1-y, x
			case geometry.Rotate180:
				dx, dy = w-1-x, h-1-y
			case geometry.Rotate270:
				dx, dy = y, w-1-x
			default:
				dx, dy = x, y
			}
			si := s.PixOffset(b.Min.X+x, b.Min.Y+y)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], s.Pix[si:si+4])
		}
	}
	return dst
}
