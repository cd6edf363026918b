// Package still renders a single composite and serializes it to an image
// file held in memory.
package still

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"

	"github.com/maauso/nvcrop/internal/fault"
	"github.com/maauso/nvcrop/internal/render"
)

// Suffix is appended to the base name of every exported file.
const Suffix = "-nvcrop"

// JPEGQuality is the quality used for JPEG stills.
const JPEGQuality = 92

// Format is the still container.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// IsValid returns true if the format is supported. The empty value means PNG.
func (f Format) IsValid() bool {
	return f == "" || f == FormatPNG || f == FormatJPEG
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return ".png"
}

// ContentType returns the MIME type.
func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Encoder returns the bild encoder for the format.
func (f Format) Encoder() imgio.Encoder {
	if f == FormatJPEG {
		return imgio.JPEGEncoder(JPEGQuality)
	}
	return imgio.PNGEncoder()
}

// FrameEncoder writes lossless intermediates for video frames. It trades
// file size for speed.
var FrameEncoder imgio.Encoder = func(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

// BaseName returns the file name without directory or extension.
func BaseName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return "export"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Filename builds "{base}{-dual}-nvcrop{ext}".
func Filename(base string, dual bool, f Format) string {
	if dual {
		base += "-dual"
	}
	return base + Suffix + f.Extension()
}

// Request describes one still export.
type Request struct {
	// BaseName is the original file name; directory and extension are dropped.
	BaseName string
	Subjects []render.Subject
	Options  render.Options
	Format   Format
}

// Result is an encoded still.
type Result struct {
	Filename    string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// Exporter renders and encodes stills.
type Exporter struct {
	logger *slog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// Export composites the request once and encodes the result. Failures are
// returned as a single error; nothing is retried.
func (e *Exporter) Export(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Format.IsValid() {
		return nil, fault.Validation("unsupported still format %q", req.Format)
	}

	img, err := render.Composite(req.Subjects, req.Options)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := req.Format.Encoder()(&buf, img); err != nil {
		return nil, fault.Encode(fmt.Sprintf("encoding %s", req.Format.Extension()), err)
	}

	name := Filename(BaseName(req.BaseName), req.Options.Layout.IsDual(), req.Format)
	e.logger.Info("still exported",
		slog.String("filename", name),
		slog.Int("bytes", buf.Len()),
	)

	b := img.Bounds()
	return &Result{
		Filename:    name,
		ContentType: req.Format.ContentType(),
		Data:        buf.Bytes(),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}
