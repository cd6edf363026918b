package still

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/nvcrop/internal/fault"
	"github.com/maauso/nvcrop/internal/geometry"
	"github.com/maauso/nvcrop/internal/render"
)

func source(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 80, 40, 255
	}
	return img
}

func singleRequest() Request {
	return Request{
		BaseName: "/photos/IMG_0042.HEIC",
		Subjects: []render.Subject{{Source: source(400, 300), Circle: geometry.Circle{X: 200, Y: 150, Radius: 120}}},
		Options: render.Options{
			Aspect: geometry.AspectSquare,
			Layout: geometry.LayoutSingle,
			Edge:   render.EdgeHard,
		},
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "IMG_0042-nvcrop.png", Filename("IMG_0042", false, FormatPNG))
	assert.Equal(t, "IMG_0042-dual-nvcrop.png", Filename("IMG_0042", true, ""))
	assert.Equal(t, "trip-nvcrop.jpg", Filename("trip", false, FormatJPEG))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "IMG_0042", BaseName("/photos/IMG_0042.HEIC"))
	assert.Equal(t, "clip.final", BaseName("clip.final.mov"))
	assert.Equal(t, "noext", BaseName("noext"))
	assert.Equal(t, "export", BaseName(""))
}

func TestExport_PNG(t *testing.T) {
	res, err := NewExporter(nil).Export(context.Background(), singleRequest())
	require.NoError(t, err)

	assert.Equal(t, "IMG_0042-nvcrop.png", res.Filename)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, 1080, res.Width)
	assert.Equal(t, 1080, res.Height)

	img, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1080, 1080), img.Bounds())

	r, g, b, _ := img.At(540, 540).RGBA()
	assert.Equal(t, []uint32{200, 80, 40}, []uint32{r >> 8, g >> 8, b >> 8})
	r, g, b, _ = img.At(5, 5).RGBA()
	assert.Equal(t, []uint32{0, 0, 0}, []uint32{r, g, b})
}

func TestExport_JPEG(t *testing.T) {
	req := singleRequest()
	req.Format = FormatJPEG

	res, err := NewExporter(nil).Export(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "IMG_0042-nvcrop.jpg", res.Filename)
	assert.Equal(t, "image/jpeg", res.ContentType)

	_, err = jpeg.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
}

func TestExport_DualName(t *testing.T) {
	req := singleRequest()
	req.Options.Layout = geometry.LayoutDualHorizontal
	req.Subjects = append(req.Subjects, render.Subject{Source: source(300, 300), Circle: geometry.Circle{X: 150, Y: 150, Radius: 100}})

	res, err := NewExporter(nil).Export(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "IMG_0042-dual-nvcrop.png", res.Filename)
}

func TestExport_Validation(t *testing.T) {
	req := singleRequest()
	req.Format = "gif"
	_, err := NewExporter(nil).Export(context.Background(), req)
	assert.ErrorIs(t, err, fault.ErrValidation)

	req = singleRequest()
	req.Subjects[0].Circle.Radius = 10
	_, err = NewExporter(nil).Export(context.Background(), req)
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestExport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExporter(nil).Export(ctx, singleRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFrameEncoder_Lossless(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.SetRGBA(3, 4, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	var buf bytes.Buffer
	require.NoError(t, FrameEncoder(&buf, img))

	out, err := png.Decode(&buf)
	require.NoError(t, err)
	r, g, b, _ := out.At(3, 4).RGBA()
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{r >> 8, g >> 8, b >> 8})
}
